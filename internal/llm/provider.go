// Package llm defines the neutral chat interface shared by every AutOSINT
// agent session, plus the message/tool-call shapes that provider adapters
// translate to and from. The rest of the system (internal/agentsession,
// internal/tools, internal/orchestrator) only ever talks to Provider — it
// never learns which provider is active.
package llm

import "context"

// ContentBlockKind discriminates the polymorphic content carried by a Message.
type ContentBlockKind string

const (
	BlockText       ContentBlockKind = "text"
	BlockToolUse    ContentBlockKind = "tool_use"
	BlockToolResult ContentBlockKind = "tool_result"
)

// ToolCall is an LLM-issued request to invoke a named tool with arguments.
type ToolCall struct {
	ID   string
	Name string
	// Args holds the raw JSON object the model produced for this call. Tool
	// handlers decode it into a typed record; decode failure is malformed,
	// not a domain error.
	Args []byte
}

// ToolResult is a single tool's outcome, fed back to the model as part of
// the next user-turn message.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// ContentBlock is one piece of a Message. Only the fields matching Kind are
// populated.
type ContentBlock struct {
	Kind   ContentBlockKind
	Text   string
	Tool   ToolCall
	Result ToolResult
}

// Message is one turn in a conversation. Role is "user" or "assistant" —
// system prompts are passed separately to Chat and never appear here.
type Message struct {
	Role    string
	Content []ContentBlock
}

// TextMessage builds a single-block user/assistant message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Kind: BlockText, Text: text}}}
}

// ToolResultMessage builds a user-turn message carrying one or more tool
// results, per spec.md §4.1 step (g).
func ToolResultMessage(results []ToolResult) Message {
	blocks := make([]ContentBlock, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, ContentBlock{Kind: BlockToolResult, Result: r})
	}
	return Message{Role: "user", Content: blocks}
}

// ToolCalls extracts every tool-use block from a message.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Content {
		if b.Kind == BlockToolUse {
			calls = append(calls, b.Tool)
		}
	}
	return calls
}

// Text concatenates every text block in a message.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolSchema is a single tool definition handed to the model verbatim from
// the tools/<role>/<tool>.json tree (spec.md §6).
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage carries per-call token accounting (spec.md §6 Chat-API interface).
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StopReason classifies why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Response is a single Chat call's result.
type Response struct {
	Message    Message
	StopReason StopReason
	Usage      Usage
}

// ErrorKind classifies provider errors per spec.md §6. Auth and
// ContextWindowExceeded are non-retryable; every other kind is retryable.
type ErrorKind string

const (
	ErrHTTP                  ErrorKind = "http"
	ErrAuth                  ErrorKind = "auth"
	ErrRateLimited           ErrorKind = "rate_limited"
	ErrContextWindowExceeded ErrorKind = "context_window_exceeded"
	ErrAPI                   ErrorKind = "api"
	ErrParse                 ErrorKind = "parse"
)

// Error is the classified error type every Provider implementation returns.
type Error struct {
	Kind       ErrorKind
	Message    string
	RetryAfter int // seconds; only meaningful when Kind == ErrRateLimited
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the retry wrapper (internal/retry) should retry
// a call that failed with this error, per spec.md §4.9.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrAuth, ErrContextWindowExceeded:
		return false
	default:
		return true
	}
}

// RetryAfterSeconds satisfies internal/retry.Classifiable: a positive value
// overrides the wrapper's computed backoff with the server-provided delay.
func (e *Error) RetryAfterSeconds() int {
	return e.RetryAfter
}

// Provider is the neutral Chat-API interface (spec.md §6). Two adapters
// (internal/llm/anthropic, internal/llm/openai) implement it against their
// respective wire formats.
type Provider interface {
	Chat(ctx context.Context, system string, messages []Message, tools []ToolSchema) (Response, error)
}
