// Package orchestrator drives the AutOSINT investigation state machine
// (C8): pending → analyst_running → processing → (suspended) → completed |
// failed, per spec.md §4.8.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"autosint/internal/agentsession"
	"autosint/internal/config"
	"autosint/internal/dedup"
	"autosint/internal/embedding"
	"autosint/internal/fetcher"
	"autosint/internal/graph"
	"autosint/internal/llm"
	"autosint/internal/observability"
	"autosint/internal/store"
	"autosint/internal/tools"
)

// storePort is the subset of internal/store.Client the state machine reads
// and writes directly, narrowed per the internal/dedup.GraphProbe /
// internal/tools.graphPort precedent so tests drive it with a fake.
type storePort interface {
	CreateInvestigation(ctx context.Context, id, prompt string, parentID *string) (store.Investigation, error)
	GetInvestigation(ctx context.Context, id string) (store.Investigation, error)
	ListRecoverableInvestigations(ctx context.Context) ([]store.Investigation, error)
	TransitionInvestigation(ctx context.Context, id string, status store.InvestigationStatus) error
	IncrementCycleCount(ctx context.Context, id string) error
	SuspendInvestigation(ctx context.Context, id, reason string, resumeFrom store.ResumePoint) error
	ClearSuspension(ctx context.Context, id string) error
	CountActiveWorkOrders(ctx context.Context, investigationID string) (int, error)
	WorkOrdersAtMaxCycle(ctx context.Context, investigationID string) ([]store.WorkOrder, error)
}

// breakerPort is the pre-flight gate check of spec.md §4.8 step 2.
type breakerPort interface {
	AnyHardOpen() (string, bool)
}

// AnalystDeps bundles the dependencies needed to build an Analyst session's
// internal/tools.Context. Embedder and Fetcher may be nil.
type AnalystDeps struct {
	Graph    *graph.Client
	Store    tools.AnalystStore
	Queue    tools.AnalystQueue
	Embedder *embedding.Client
	Fetcher  *fetcher.Client
	Dedup    *dedup.Cascade
	Limits   config.ToolLimitsConfig
}

// sessionRunner matches internal/agentsession.Run's signature; production
// code wires it directly, tests substitute a fake to avoid a live provider.
type sessionRunner func(ctx context.Context, provider llm.Provider, systemPrompt string, initial llm.Message, schemas []llm.ToolSchema, executor agentsession.ToolExecutor, cfg agentsession.Config) agentsession.Outcome

// Orchestrator drives one investigation's lifecycle per spec.md §4.8.
type Orchestrator struct {
	Store   storePort
	Breaker breakerPort
	Analyst AnalystDeps

	Provider      llm.Provider
	SystemPrompt  string
	ToolSchemas   []llm.ToolSchema
	SessionConfig agentsession.Config
	Config        config.OrchestratorConfig

	// PollInterval overrides the 5-second wait-for-work-orders poll cadence
	// (spec.md §4.10). Zero uses the default.
	PollInterval time.Duration

	runSession sessionRunner
}

// New builds an Orchestrator wired for production use.
func New(s storePort, b breakerPort, analyst AnalystDeps, provider llm.Provider, systemPrompt string, toolSchemas []llm.ToolSchema, sessionCfg agentsession.Config, cfg config.OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		Store:         s,
		Breaker:       b,
		Analyst:       analyst,
		Provider:      provider,
		SystemPrompt:  systemPrompt,
		ToolSchemas:   toolSchemas,
		SessionConfig: sessionCfg,
		Config:        cfg,
		runSession:    agentsession.Run,
	}
}

// StartInvestigation inserts a new pending-status investigation row
// (spec.md §4.8 "Lifecycle").
func (o *Orchestrator) StartInvestigation(ctx context.Context, id, prompt string, parentID *string) (store.Investigation, error) {
	return o.Store.CreateInvestigation(ctx, id, prompt, parentID)
}

// RunInvestigation drives run_investigation(id)'s loop (spec.md §4.8) to
// completion: a terminal status, a suspension (the caller is expected to
// retry later), or a propagated error from a dependency call.
func (o *Orchestrator) RunInvestigation(ctx context.Context, investigationID string) error {
	emptySessionCount := 0
	allFailCount := 0

	for {
		inv, err := o.Store.GetInvestigation(ctx, investigationID)
		if err != nil {
			return fmt.Errorf("orchestrator: reload investigation %s: %w", investigationID, err)
		}
		if inv.Status.Terminal() {
			return nil
		}

		if name, open := o.Breaker.AnyHardOpen(); open {
			resumeFrom := resumePointFor(inv.Status)
			if err := o.Store.SuspendInvestigation(ctx, investigationID, "circuit_breaker:"+name, resumeFrom); err != nil {
				return fmt.Errorf("orchestrator: suspend %s on open breaker %s: %w", investigationID, name, err)
			}
			return nil
		}

		switch inv.Status {
		case store.StatusPending, store.StatusAnalystRunning:
			done, err := o.runAnalystBranch(ctx, investigationID, inv, &emptySessionCount, &allFailCount)
			if err != nil || done {
				return err
			}

		case store.StatusProcessing:
			if err := o.waitForWorkOrders(ctx, investigationID); err != nil {
				return err
			}
			if err := o.Store.TransitionInvestigation(ctx, investigationID, store.StatusAnalystRunning); err != nil {
				return fmt.Errorf("orchestrator: transition %s to analyst_running after restart: %w", investigationID, err)
			}

		case store.StatusSuspended:
			if err := o.Store.ClearSuspension(ctx, investigationID); err != nil {
				return fmt.Errorf("orchestrator: clear suspension for %s: %w", investigationID, err)
			}
			next := store.StatusAnalystRunning
			if inv.ResumeFrom == store.ResumeProcessing {
				next = store.StatusProcessing
			}
			if err := o.Store.TransitionInvestigation(ctx, investigationID, next); err != nil {
				return fmt.Errorf("orchestrator: resume %s from suspension: %w", investigationID, err)
			}

		default:
			return fmt.Errorf("orchestrator: investigation %s has unexpected status %q", investigationID, inv.Status)
		}
	}
}

func resumePointFor(status store.InvestigationStatus) store.ResumePoint {
	if status == store.StatusProcessing {
		return store.ResumeProcessing
	}
	return store.ResumeAnalyst
}

// runAnalystBranch implements the pending|analyst_running dispatch arm.
// It reports done=true once the investigation has reached a terminal state
// or a suspension, telling the caller to stop looping.
func (o *Orchestrator) runAnalystBranch(ctx context.Context, investigationID string, inv store.Investigation, emptySessionCount, allFailCount *int) (bool, error) {
	forceFinal := inv.CycleCount >= o.Config.MaxCyclesPerInvestigation
	if err := o.Store.TransitionInvestigation(ctx, investigationID, store.StatusAnalystRunning); err != nil {
		return false, fmt.Errorf("orchestrator: transition %s to analyst_running: %w", investigationID, err)
	}

	directive := ""
	if forceFinal {
		directive = finalCycleDirective
	}
	result := o.runAnalystCycle(ctx, inv, directive)

	switch result.Kind {
	case analystAssessmentProduced:
		return true, o.transitionTo(ctx, investigationID, store.StatusCompleted)

	case analystWorkOrdersCreated:
		if err := o.Store.TransitionInvestigation(ctx, investigationID, store.StatusProcessing); err != nil {
			return false, fmt.Errorf("orchestrator: transition %s to processing: %w", investigationID, err)
		}
		if err := o.Store.IncrementCycleCount(ctx, investigationID); err != nil {
			return false, fmt.Errorf("orchestrator: increment cycle count for %s: %w", investigationID, err)
		}
		*emptySessionCount = 0

		if err := o.waitForWorkOrders(ctx, investigationID); err != nil {
			return false, err
		}

		allFailed, err := o.allWorkOrdersFailed(ctx, investigationID)
		if err != nil {
			return false, fmt.Errorf("orchestrator: all-failed check for %s: %w", investigationID, err)
		}
		if allFailed {
			*allFailCount++
			if *allFailCount >= o.Config.ConsecutiveAllFailLimit {
				reloaded, err := o.Store.GetInvestigation(ctx, investigationID)
				if err != nil {
					return false, fmt.Errorf("orchestrator: reload %s before failing: %w", investigationID, err)
				}
				return true, o.transitionToFailed(ctx, reloaded)
			}
		} else {
			*allFailCount = 0
		}

		if err := o.Store.TransitionInvestigation(ctx, investigationID, store.StatusAnalystRunning); err != nil {
			return false, fmt.Errorf("orchestrator: transition %s back to analyst_running: %w", investigationID, err)
		}
		return false, nil

	case analystEmptySession:
		*emptySessionCount++
		if *emptySessionCount < 2 {
			return false, nil
		}
		final := o.runAnalystCycle(ctx, inv, finalCycleDirective)
		if final.Kind == analystAssessmentProduced {
			return true, o.transitionTo(ctx, investigationID, store.StatusCompleted)
		}
		reloaded, err := o.Store.GetInvestigation(ctx, investigationID)
		if err != nil {
			return false, fmt.Errorf("orchestrator: reload %s before failing: %w", investigationID, err)
		}
		return true, o.transitionToFailed(ctx, reloaded)

	default: // analystFailed
		return true, o.transitionToFailed(ctx, inv)
	}
}

func (o *Orchestrator) transitionTo(ctx context.Context, investigationID string, status store.InvestigationStatus) error {
	if err := o.Store.TransitionInvestigation(ctx, investigationID, status); err != nil {
		return fmt.Errorf("orchestrator: transition %s to %s: %w", investigationID, status, err)
	}
	return nil
}

// transitionToFailed implements spec.md §4.12: one last Analyst session
// asking for a partial assessment, then status=failed regardless of what
// that session produced.
func (o *Orchestrator) transitionToFailed(ctx context.Context, inv store.Investigation) error {
	o.runAnalystCycle(ctx, inv, failureModeDirective)
	if err := o.Store.TransitionInvestigation(ctx, inv.ID, store.StatusFailed); err != nil {
		return fmt.Errorf("orchestrator: transition %s to failed: %w", inv.ID, err)
	}
	return nil
}

func buildAnalystInitialMessage(inv store.Investigation, maxCycles int) string {
	payload := struct {
		Prompt    string `json:"prompt"`
		Cycle     int    `json:"cycle"`
		MaxCycles int    `json:"max_cycles"`
	}{Prompt: inv.Prompt, Cycle: inv.CycleCount, MaxCycles: maxCycles}
	data, err := json.Marshal(payload)
	if err != nil {
		observability.LoggerWithTrace(context.Background()).Error().Err(err).Msg("marshal analyst initial message")
	}
	return string(data)
}
