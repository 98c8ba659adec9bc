package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/stretchr/testify/require"

	"autosint/internal/config"
	"autosint/internal/llm"
)

func minimalUsage() sdk.Usage {
	return sdk.Usage{InputTokens: 10, OutputTokens: 5}
}

func TestChatReturnsText(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		defer r.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		resp := sdk.Message{
			ID:         "msg_1",
			Type:       constant.Message("message"),
			Role:       constant.Assistant("assistant"),
			Model:      sdk.ModelClaude3_7SonnetLatest,
			StopReason: sdk.StopReasonEndTurn,
			Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "hello"}},
			Usage:      minimalUsage(),
		}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)

	client := New(config.AnthropicConfig{APIKey: "k", Model: "m", BaseURL: srv.URL}, srv.Client())
	resp, err := client.Chat(context.Background(), "", []llm.Message{llm.TextMessage("user", "hi")}, nil)
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Message.Text())
	require.Equal(t, llm.StopEndTurn, resp.StopReason)
	require.Equal(t, "/v1/messages", gotPath)
}

func TestChatToolCall(t *testing.T) {
	var reqBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&reqBody)
		w.Header().Set("Content-Type", "application/json")
		resp := sdk.Message{
			ID:         "msg_2",
			Type:       constant.Message("message"),
			Role:       constant.Assistant("assistant"),
			Model:      sdk.ModelClaude3_7SonnetLatest,
			StopReason: sdk.StopReasonToolUse,
			Content:    []sdk.ContentBlockUnion{{Type: "tool_use", Name: "lookup", ID: "", Input: json.RawMessage(`{"x":2}`)}},
			Usage:      minimalUsage(),
		}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)

	client := New(config.AnthropicConfig{APIKey: "k", BaseURL: srv.URL}, srv.Client())
	resp, err := client.Chat(context.Background(), "", []llm.Message{llm.TextMessage("user", "go")}, []llm.ToolSchema{
		{Name: "lookup", Description: "desc", Parameters: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
	calls := resp.Message.ToolCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "lookup", calls[0].Name)
	require.NotEmpty(t, calls[0].ID)
	require.Equal(t, llm.StopToolUse, resp.StopReason)

	_, ok := reqBody["tools"]
	require.True(t, ok, "expected tools in request body")
}

func TestChatPromptCacheAddsCacheControlToSystemAndTools(t *testing.T) {
	var reqBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&reqBody)
		w.Header().Set("Content-Type", "application/json")
		resp := sdk.Message{
			ID:         "msg_cache",
			Type:       constant.Message("message"),
			Role:       constant.Assistant("assistant"),
			Model:      sdk.ModelClaude3_7SonnetLatest,
			StopReason: sdk.StopReasonEndTurn,
			Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "ok"}},
			Usage:      minimalUsage(),
		}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)

	cfg := config.AnthropicConfig{
		APIKey:  "k",
		BaseURL: srv.URL,
		PromptCache: config.AnthropicPromptCacheConfig{
			Enabled: true,
			// CacheSystem/CacheTools left unset to verify New()'s defaulting.
		},
	}
	client := New(cfg, srv.Client())
	_, err := client.Chat(
		context.Background(),
		"static system",
		[]llm.Message{llm.TextMessage("user", "hi")},
		[]llm.ToolSchema{{Name: "lookup", Parameters: map[string]any{"type": "object"}}},
	)
	require.NoError(t, err)

	sysList, ok := reqBody["system"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, sysList)
	sys0, ok := sysList[0].(map[string]any)
	require.True(t, ok)
	require.Contains(t, sys0, "cache_control")

	toolsList, ok := reqBody["tools"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, toolsList)
	tool0, ok := toolsList[0].(map[string]any)
	require.True(t, ok)
	require.Contains(t, tool0, "cache_control")
}

func TestChatClassifiesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`))
	}))
	t.Cleanup(srv.Close)

	client := New(config.AnthropicConfig{APIKey: "k", BaseURL: srv.URL}, srv.Client())
	_, err := client.Chat(context.Background(), "", []llm.Message{llm.TextMessage("user", "hi")}, nil)
	require.Error(t, err)

	var classified *llm.Error
	require.ErrorAs(t, err, &classified)
	require.Equal(t, llm.ErrAuth, classified.Kind)
	require.False(t, classified.Retryable())
}

func TestChatClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	t.Cleanup(srv.Close)

	client := New(config.AnthropicConfig{APIKey: "k", BaseURL: srv.URL}, srv.Client())
	_, err := client.Chat(context.Background(), "", []llm.Message{llm.TextMessage("user", "hi")}, nil)
	require.Error(t, err)

	var classified *llm.Error
	require.ErrorAs(t, err, &classified)
	require.Equal(t, llm.ErrRateLimited, classified.Kind)
	require.True(t, classified.Retryable())
}
