package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"autosint/internal/llm"
)

func TestAdaptSchemasConvertsNameAndParameters(t *testing.T) {
	schemas := []llm.ToolSchema{
		{Name: "search_graph", Description: "search the graph", Parameters: map[string]any{"type": "object"}},
	}
	out := AdaptSchemas(schemas)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfFunction)
	require.Equal(t, "search_graph", out[0].OfFunction.Function.Name)
}

func TestAdaptMessagesPrependsSystem(t *testing.T) {
	out := AdaptMessages("be concise", []llm.Message{llm.TextMessage("user", "hi")})
	require.Len(t, out, 2)
	require.NotNil(t, out[0].OfSystem)
}

func TestAdaptMessagesOmitsSystemWhenEmpty(t *testing.T) {
	out := AdaptMessages("", []llm.Message{llm.TextMessage("user", "hi")})
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfUser)
}

func TestAdaptMessagesHandlesToolResult(t *testing.T) {
	msg := llm.ToolResultMessage([]llm.ToolResult{{ToolUseID: "call-1", Content: "result text"}})
	out := AdaptMessages("", []llm.Message{msg})
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfTool)
}

func TestAdaptMessagesHandlesAssistantToolCalls(t *testing.T) {
	assistant := llm.Message{
		Role: "assistant",
		Content: []llm.ContentBlock{
			{Kind: llm.BlockText, Text: "looking it up"},
			{Kind: llm.BlockToolUse, Tool: llm.ToolCall{ID: "call-1", Name: "search_graph", Args: json.RawMessage(`{"q":"acme corp"}`)}},
		},
	}
	out := AdaptMessages("", []llm.Message{assistant})
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfAssistant)
	require.Len(t, out[0].OfAssistant.ToolCalls, 1)
	require.Equal(t, "search_graph", out[0].OfAssistant.ToolCalls[0].OfFunction.Function.Name)
}
