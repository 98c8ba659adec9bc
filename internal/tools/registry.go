package tools

import (
	"context"
	"fmt"

	"autosint/internal/agentsession"
)

// Handler decodes its own arguments, performs its operation, and returns
// the tri-state executor result spec.md §4.2 describes. It never panics on
// a domain error — only a decode/unknown-tool failure is malformed.
type Handler func(ctx context.Context, hctx *Context, rawArgs []byte) agentsession.ExecutorResult

// Registry is a process-wide mutable map from tool name to handler.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Names returns every registered tool name, for building ToolSchema lists.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

// Executor binds hctx to every handler, producing the agentsession.ToolExecutor
// a session loop calls on each tool-use block.
func (r *Registry) Executor(hctx *Context) agentsession.ToolExecutor {
	return func(ctx context.Context, name string, args []byte) agentsession.ExecutorResult {
		h, ok := r.handlers[name]
		if !ok {
			return agentsession.ExecutorResult{
				IsMalformed: true,
				IsError:     true,
				Content:     fmt.Sprintf(`{"error":"unknown tool %q"}`, name),
			}
		}
		return h(ctx, hctx, args)
	}
}
