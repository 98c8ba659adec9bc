// Package agentsession drives a bounded tool-calling conversation with a
// chat LLM (C1). It is generic over neither role nor domain: the Analyst
// and the Processor both run the same loop against different tool sets and
// a different ToolExecutor.
package agentsession

import (
	"context"
	"fmt"

	"autosint/internal/llm"
)

// OutcomeKind classifies how a session loop ended (spec.md §4.1).
type OutcomeKind string

const (
	Completed               OutcomeKind = "completed"
	MaxTurnsReached         OutcomeKind = "max_turns_reached"
	MalformedToolCallLimit  OutcomeKind = "malformed_tool_call_limit"
	Failed                  OutcomeKind = "failed"
)

// Stats accumulates per-turn bookkeeping across a session.
type Stats struct {
	Turns              int
	InputTokens        int
	OutputTokens       int
	ToolCallsExecuted  int
	MalformedToolCalls int
}

// Outcome is run_session's return value.
type Outcome struct {
	Kind      OutcomeKind
	FinalText string
	Stats     Stats
	Err       error
}

// ExecutorResult is a single tool invocation's outcome (spec.md §4.1).
// IsMalformed is true only for argument-decoding failures or unknown-tool
// calls, never for domain errors.
type ExecutorResult struct {
	Content     string
	IsError     bool
	IsMalformed bool
}

// ToolExecutor invokes a named tool with its raw JSON arguments. Domain
// code (internal/tools) supplies this; the session loop never inspects the
// tool registry directly.
type ToolExecutor func(ctx context.Context, name string, args []byte) ExecutorResult

// Config bounds a session's turn and malformed-call budget.
type Config struct {
	MaxTurns               int
	MaxConsecutiveMalformed int
}

// Run drives the bounded conversation described in spec.md §4.1. The
// history is seeded with a single user message and grows by one assistant
// turn and one tool-result turn per iteration until the model stops
// calling tools, a hard limit is hit, or the chat call itself fails.
func Run(ctx context.Context, provider llm.Provider, systemPrompt string, initialUserMessage llm.Message, tools []llm.ToolSchema, executor ToolExecutor, cfg Config) Outcome {
	history := []llm.Message{initialUserMessage}
	stats := Stats{}
	consecutiveMalformed := 0

	for {
		stats.Turns++
		if stats.Turns >= cfg.MaxTurns {
			return Outcome{Kind: MaxTurnsReached, Stats: stats}
		}

		resp, err := provider.Chat(ctx, systemPrompt, history, tools)
		if err != nil {
			return Outcome{Kind: Failed, Stats: stats, Err: fmt.Errorf("agentsession: chat call: %w", err)}
		}
		stats.InputTokens += resp.Usage.InputTokens
		stats.OutputTokens += resp.Usage.OutputTokens
		history = append(history, resp.Message)

		calls := resp.Message.ToolCalls()
		if len(calls) == 0 {
			return Outcome{Kind: Completed, FinalText: resp.Message.Text(), Stats: stats}
		}

		results := make([]llm.ToolResult, 0, len(calls))
		for _, call := range calls {
			res := executor(ctx, call.Name, call.Args)
			stats.ToolCallsExecuted++
			if res.IsMalformed {
				consecutiveMalformed++
				stats.MalformedToolCalls++
			} else {
				consecutiveMalformed = 0
			}
			results = append(results, llm.ToolResult{ToolUseID: call.ID, Content: res.Content, IsError: res.IsError})
		}

		if consecutiveMalformed >= cfg.MaxConsecutiveMalformed {
			return Outcome{Kind: MalformedToolCallLimit, Stats: stats}
		}

		history = append(history, llm.ToolResultMessage(results))
	}
}
