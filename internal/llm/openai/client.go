// Package openai adapts the internal/llm.Provider interface to the OpenAI
// Chat Completions API.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"autosint/internal/breaker"
	"autosint/internal/config"
	"autosint/internal/llm"
	"autosint/internal/observability"
	"autosint/internal/retry"
)

type Client struct {
	sdk      sdk.Client
	model    string
	extra    map[string]any
	breaker  *breaker.Breaker
	retryCfg retry.Config
}

// WithBreaker gates Chat calls through b, recording only exhausted-retry or
// non-retryable outcomes as failures (spec.md §7). A nil breaker leaves Chat
// unguarded.
func (c *Client) WithBreaker(b *breaker.Breaker) *Client {
	c.breaker = b
	return c
}

// WithRetry configures the retry wrapper Chat runs its SDK call through,
// inside the breaker (spec.md §7: retry wrapper first, circuit breaker
// second). A zero-value Config makes Do attempt exactly once.
func (c *Client) WithRetry(cfg retry.Config) *Client {
	c.retryCfg = cfg
	return c
}

// guard runs fn through b when configured; a nil breaker leaves fn unguarded.
func guard[T any](ctx context.Context, b *breaker.Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if b == nil {
		return fn(ctx)
	}
	return breaker.Do(ctx, b, fn)
}

func New(cfg config.OpenAIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = sdk.ChatModelGPT4o
	}

	return &Client{
		sdk:   sdk.NewClient(opts...),
		model: model,
		extra: cfg.ExtraParams,
	}
}

// Chat implements llm.Provider.
func (c *Client) Chat(ctx context.Context, system string, messages []llm.Message, tools []llm.ToolSchema) (llm.Response, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: AdaptMessages(system, messages),
	}
	if len(tools) > 0 {
		params.Tools = AdaptSchemas(tools)
	}
	if len(c.extra) > 0 {
		extra := c.extra
		if len(tools) == 0 {
			extra = make(map[string]any, len(c.extra))
			for k, v := range c.extra {
				extra[k] = v
			}
			delete(extra, "parallel_tool_calls")
		}
		params.SetExtraFields(extra)
	}

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI Chat", string(params.Model), len(tools), len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	comp, err := guard(ctx, c.breaker, func(ctx context.Context) (*sdk.ChatCompletion, error) {
		return retry.Do(ctx, c.retryCfg, func(ctx context.Context) (*sdk.ChatCompletion, error) {
			r, err := c.sdk.Chat.Completions.New(ctx, params)
			if err != nil {
				return nil, classifyError(err)
			}
			return r, nil
		})
	})
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("openai_chat_error")
		return llm.Response{}, err
	}

	llm.LogRedactedResponse(ctx, comp.Choices)

	out := messageFromCompletion(comp)
	promptTokens := int(comp.Usage.PromptTokens)
	completionTokens := int(comp.Usage.CompletionTokens)
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, int(comp.Usage.TotalTokens))

	log.Debug().
		Str("model", string(params.Model)).
		Int("tools", len(tools)).
		Dur("duration", dur).
		Int("prompt_tokens", promptTokens).
		Int("completion_tokens", completionTokens).
		Msg("openai_chat_ok")

	return llm.Response{
		Message:    out,
		StopReason: stopReasonFromCompletion(comp),
		Usage:      llm.Usage{InputTokens: promptTokens, OutputTokens: completionTokens},
	}, nil
}

func stopReasonFromCompletion(comp *sdk.ChatCompletion) llm.StopReason {
	if len(comp.Choices) == 0 {
		return llm.StopEndTurn
	}
	switch comp.Choices[0].FinishReason {
	case "tool_calls":
		return llm.StopToolUse
	case "length":
		return llm.StopMaxTokens
	default:
		return llm.StopEndTurn
	}
}

func messageFromCompletion(comp *sdk.ChatCompletion) llm.Message {
	if comp == nil || len(comp.Choices) == 0 {
		return llm.Message{Role: "assistant"}
	}
	msg := comp.Choices[0].Message
	var blocks []llm.ContentBlock
	if msg.Content != "" {
		blocks = append(blocks, llm.ContentBlock{Kind: llm.BlockText, Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		switch v := tc.AsAny().(type) {
		case sdk.ChatCompletionMessageFunctionToolCall:
			blocks = append(blocks, llm.ContentBlock{
				Kind: llm.BlockToolUse,
				Tool: llm.ToolCall{ID: v.ID, Name: v.Function.Name, Args: []byte(v.Function.Arguments)},
			})
		case sdk.ChatCompletionMessageCustomToolCall:
			blocks = append(blocks, llm.ContentBlock{
				Kind: llm.BlockToolUse,
				Tool: llm.ToolCall{ID: v.ID, Name: v.Custom.Name, Args: []byte(v.Custom.Input)},
			})
		}
	}
	return llm.Message{Role: "assistant", Content: blocks}
}

// classifyError maps the SDK's error shape onto the neutral error taxonomy
// so the retry wrapper can decide whether to retry without knowing which
// provider it is talking to.
func classifyError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return &llm.Error{Kind: llm.ErrHTTP, Message: "openai transport error", Cause: err}
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &llm.Error{Kind: llm.ErrAuth, Message: "openai authentication failed", Cause: err}
	case http.StatusTooManyRequests:
		return &llm.Error{Kind: llm.ErrRateLimited, Message: "openai rate limited", Cause: err}
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(apiErr.Error()), "context") {
			return &llm.Error{Kind: llm.ErrContextWindowExceeded, Message: "openai context window exceeded", Cause: err}
		}
		return &llm.Error{Kind: llm.ErrAPI, Message: "openai rejected request", Cause: err}
	default:
		return &llm.Error{Kind: llm.ErrAPI, Message: "openai api error", Cause: err}
	}
}
