package orchestrator

import (
	"context"

	"autosint/internal/agentsession"
	"autosint/internal/llm"
	"autosint/internal/store"
	"autosint/internal/tools"
)

// analystOutcomeKind classifies a finished Analyst cycle, derived from its
// session counters rather than the raw session outcome (spec.md §4.9).
type analystOutcomeKind string

const (
	analystAssessmentProduced analystOutcomeKind = "assessment_produced"
	analystWorkOrdersCreated  analystOutcomeKind = "work_orders_created"
	analystEmptySession       analystOutcomeKind = "empty_session"
	analystFailed             analystOutcomeKind = "failed"
)

const (
	finalCycleDirective = "\n\nThis is the final cycle for this investigation. Produce an assessment now instead of creating further work orders."
	failureModeDirective = "\n\nThis investigation is being abandoned after repeated failure. Produce the best partial assessment you can from what has been gathered so far."
)

type analystResult struct {
	Kind              analystOutcomeKind
	WorkOrdersCreated int
	Session           agentsession.Outcome
}

// runAnalystCycle builds one Analyst internal/tools.Context, runs the
// bounded session, and derives the cycle outcome from its write counters:
// assessment_produced wins regardless of anything else, then
// work_orders_created, then a completed-with-text session counts as
// EmptySession, and anything else is Failed.
func (o *Orchestrator) runAnalystCycle(ctx context.Context, inv store.Investigation, directive string) analystResult {
	counters := &tools.Counters{}
	hctx := &tools.Context{
		Graph:                 o.Analyst.Graph,
		Embedder:              o.Analyst.Embedder,
		Fetcher:               o.Analyst.Fetcher,
		Dedup:                 o.Analyst.Dedup,
		Limits:                o.Analyst.Limits,
		Counters:              counters,
		Store:                 o.Analyst.Store,
		Queue:                 o.Analyst.Queue,
		InvestigationID:       inv.ID,
		Cycle:                 inv.CycleCount,
		MaxWorkOrdersPerCycle: o.Analyst.Limits.MaxWorkOrdersPerCycle,
	}

	registry := tools.NewRegistry()
	tools.RegisterAnalystHandlers(registry)

	systemPrompt := o.SystemPrompt + directive
	initial := llm.TextMessage("user", buildAnalystInitialMessage(inv, o.Config.MaxCyclesPerInvestigation))
	outcome := o.runSession(ctx, o.Provider, systemPrompt, initial, o.ToolSchemas, registry.Executor(hctx), o.SessionConfig)

	switch {
	case counters.AssessmentProduced.Load():
		return analystResult{Kind: analystAssessmentProduced, Session: outcome}
	case counters.WorkOrdersCreated() > 0:
		return analystResult{Kind: analystWorkOrdersCreated, WorkOrdersCreated: counters.WorkOrdersCreated(), Session: outcome}
	case outcome.Kind == agentsession.Completed:
		return analystResult{Kind: analystEmptySession, Session: outcome}
	default:
		return analystResult{Kind: analystFailed, Session: outcome}
	}
}
