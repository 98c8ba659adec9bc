package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"autosint/internal/agentsession"
)

func TestRegistryExecutorDispatchesToRegisteredHandler(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("ping", func(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
		called = true
		return agentsession.ExecutorResult{Content: "pong"}
	})

	exec := r.Executor(&Context{})
	res := exec(context.Background(), "ping", nil)
	require.True(t, called)
	require.Equal(t, "pong", res.Content)
}

func TestRegistryExecutorReturnsMalformedForUnknownTool(t *testing.T) {
	r := NewRegistry()
	exec := r.Executor(&Context{})
	res := exec(context.Background(), "nonexistent", nil)
	require.True(t, res.IsMalformed)
	require.True(t, res.IsError)
}

func TestRegisterAnalystHandlersPopulatesAllElevenNames(t *testing.T) {
	r := NewRegistry()
	RegisterAnalystHandlers(r)
	names := r.Names()
	require.Len(t, names, 11)
}

func TestRegisterProcessorHandlersPopulatesAllTwelveNames(t *testing.T) {
	r := NewRegistry()
	RegisterProcessorHandlers(r)
	names := r.Names()
	require.Len(t, names, 12)
}
