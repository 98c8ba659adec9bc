// Package anthropic adapts the internal/llm.Provider interface to the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"autosint/internal/breaker"
	"autosint/internal/config"
	"autosint/internal/llm"
	"autosint/internal/observability"
	"autosint/internal/retry"
)

const defaultMaxTokens int64 = 4096

type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
	cacheCfg  config.AnthropicPromptCacheConfig
	extra     map[string]any
	breaker   *breaker.Breaker
	retryCfg  retry.Config
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

func New(cfg config.AnthropicConfig, httpClient *http.Client) *Client {
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
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}

	cacheCfg := cfg.PromptCache
	if cacheCfg.Enabled && !cacheCfg.CacheSystem && !cacheCfg.CacheTools && !cacheCfg.CacheMessages {
		cacheCfg.CacheSystem = true
		cacheCfg.CacheTools = true
	}

	return &Client{
		sdk:       anthropic.NewClient(opts...),
		model:     model,
		maxTokens: defaultMaxTokens,
		cacheCfg:  cacheCfg,
		extra:     cfg.ExtraParams,
	}
}

// guard runs fn through b when configured; a nil breaker leaves fn unguarded.
func guard[T any](ctx context.Context, b *breaker.Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if b == nil {
		return fn(ctx)
	}
	return breaker.Do(ctx, b, fn)
}

// Chat implements llm.Provider.
func (c *Client) Chat(ctx context.Context, system string, messages []llm.Message, tools []llm.ToolSchema) (llm.Response, error) {
	converted, err := adaptMessages(messages)
	if err != nil {
		return llm.Response{}, &llm.Error{Kind: llm.ErrParse, Message: "adapt messages", Cause: err}
	}
	toolDefs, err := adaptTools(tools, c.cacheCfg)
	if err != nil {
		return llm.Response{}, &llm.Error{Kind: llm.ErrParse, Message: "adapt tools", Cause: err}
	}

	sysBlocks := adaptSystem(system, c.cacheCfg)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  converted,
		System:    sysBlocks,
		Tools:     toolDefs,
		MaxTokens: c.maxTokens,
	}
	if len(c.extra) > 0 {
		params.SetExtraFields(c.extra)
	}

	ctx, span := llm.StartRequestSpan(ctx, "Anthropic Chat", string(params.Model), len(tools), len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	resp, err := guard(ctx, c.breaker, func(ctx context.Context) (*anthropic.Message, error) {
		return retry.Do(ctx, c.retryCfg, func(ctx context.Context) (*anthropic.Message, error) {
			r, err := c.sdk.Messages.New(ctx, params)
			if err != nil {
				return nil, classifyError(err)
			}
			return r, nil
		})
	})
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("anthropic_chat_error")
		return llm.Response{}, err
	}

	llm.LogRedactedResponse(ctx, resp)

	out := messageFromResponse(resp)
	promptTokens := int(resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens + resp.Usage.InputTokens)
	completionTokens := int(resp.Usage.OutputTokens)
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)

	log.Debug().
		Str("model", string(params.Model)).
		Int("tools", len(tools)).
		Dur("duration", dur).
		Int("prompt_tokens", promptTokens).
		Int("completion_tokens", completionTokens).
		Msg("anthropic_chat_ok")

	return llm.Response{
		Message:    out,
		StopReason: stopReasonFromResponse(resp),
		Usage:      llm.Usage{InputTokens: promptTokens, OutputTokens: completionTokens},
	}, nil
}

func stopReasonFromResponse(resp *anthropic.Message) llm.StopReason {
	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		return llm.StopToolUse
	case anthropic.StopReasonMaxTokens:
		return llm.StopMaxTokens
	default:
		return llm.StopEndTurn
	}
}

// classifyError maps the SDK's error shape onto the neutral error taxonomy
// from spec.md §6 so the retry wrapper (internal/retry) can decide whether
// to retry without knowing which provider it is talking to.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return &llm.Error{Kind: llm.ErrHTTP, Message: "anthropic transport error", Cause: err}
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &llm.Error{Kind: llm.ErrAuth, Message: "anthropic authentication failed", Cause: err}
	case http.StatusTooManyRequests:
		return &llm.Error{Kind: llm.ErrRateLimited, Message: "anthropic rate limited", Cause: err}
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(apiErr.Error()), "context") {
			return &llm.Error{Kind: llm.ErrContextWindowExceeded, Message: "anthropic context window exceeded", Cause: err}
		}
		return &llm.Error{Kind: llm.ErrAPI, Message: "anthropic rejected request", Cause: err}
	default:
		return &llm.Error{Kind: llm.ErrAPI, Message: "anthropic api error", Cause: err}
	}
}

func adaptSystem(system string, cacheCfg config.AnthropicPromptCacheConfig) []anthropic.TextBlockParam {
	system = strings.TrimSpace(system)
	if system == "" {
		return nil
	}
	if cacheCfg.Enabled && cacheCfg.CacheSystem {
		return []anthropic.TextBlockParam{{
			Text:         system,
			CacheControl: anthropic.CacheControlEphemeralParam{TTL: anthropic.CacheControlEphemeralTTLTTL5m},
		}}
	}
	return []anthropic.TextBlockParam{{Text: system}}
}

func adaptTools(tools []llm.ToolSchema, cacheCfg config.AnthropicPromptCacheConfig) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	cacheTools := cacheCfg.Enabled && cacheCfg.CacheTools
	cacheControl := anthropic.CacheControlEphemeralParam{TTL: anthropic.CacheControlEphemeralTTLTTL5m}
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("tool name required")
		}
		schema := anthropic.ToolInputSchemaParam{Type: constant.ValueOf[constant.Object]()}
		extras := map[string]any{}
		for k, v := range t.Parameters {
			extras[k] = v
		}
		if props, ok := extras["properties"]; ok {
			schema.Properties = props
			delete(extras, "properties")
		}
		if req, ok := extras["required"]; ok {
			delete(extras, "required")
			switch v := req.(type) {
			case []string:
				schema.Required = v
			case []any:
				for _, item := range v {
					if s, ok := item.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		}
		delete(extras, "type")
		if len(extras) > 0 {
			schema.ExtraFields = extras
		}

		param := anthropic.ToolParam{Name: name, InputSchema: schema}
		if cacheTools {
			param.CacheControl = cacheControl
		}
		if desc := strings.TrimSpace(t.Description); desc != "" {
			param.Description = anthropic.String(desc)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out, nil
}

func adaptMessages(msgs []llm.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	toolResultIdx := 0
	for _, m := range msgs {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range m.Content {
			switch b.Kind {
			case llm.BlockText:
				if strings.TrimSpace(b.Text) != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case llm.BlockToolUse:
				id := strings.TrimSpace(b.Tool.ID)
				if id == "" {
					id = fmt.Sprintf("call-%d", len(blocks)+1)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(id, decodeArgs(b.Tool.Args), b.Tool.Name))
			case llm.BlockToolResult:
				id := strings.TrimSpace(b.Result.ToolUseID)
				if id == "" {
					toolResultIdx++
					id = fmt.Sprintf("tool-result-%d", toolResultIdx)
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(id, b.Result.Content, b.Result.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch role {
		case "user":
			out = append(out, anthropic.NewUserMessage(blocks...))
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("unsupported role for anthropic provider: %s", m.Role)
		}
	}
	return out, nil
}

func decodeArgs(raw []byte) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	return map[string]any{}
}

func messageFromResponse(resp *anthropic.Message) llm.Message {
	if resp == nil {
		return llm.Message{}
	}
	var blocks []llm.ContentBlock
	callIdx := 0
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, llm.ContentBlock{Kind: llm.BlockText, Text: v.Text})
		case anthropic.ToolUseBlock:
			callIdx++
			id := strings.TrimSpace(v.ID)
			if id == "" {
				id = fmt.Sprintf("call-%d", callIdx)
			}
			args := v.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			blocks = append(blocks, llm.ContentBlock{
				Kind: llm.BlockToolUse,
				Tool: llm.ToolCall{ID: id, Name: v.Name, Args: args},
			})
		}
	}
	return llm.Message{Role: "assistant", Content: blocks}
}
