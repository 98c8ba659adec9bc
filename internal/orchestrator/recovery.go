package orchestrator

import (
	"context"
	"fmt"

	"autosint/internal/observability"
	"autosint/internal/store"
)

// Recover implements spec.md §4.8's startup recovery: every non-terminal
// investigation is resumed in its own fiber. pending and suspended rows are
// resumed directly; analyst_running and processing rows are first marked
// suspended with reason engine_restart (and the correct resume_from) so
// that resumption goes through the same suspended-branch code path as an
// ordinary circuit-breaker recovery.
func (o *Orchestrator) Recover(ctx context.Context) error {
	invs, err := o.Store.ListRecoverableInvestigations(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: list recoverable investigations: %w", err)
	}

	for _, inv := range invs {
		inv := inv
		if inv.Status == store.StatusAnalystRunning || inv.Status == store.StatusProcessing {
			if err := o.Store.SuspendInvestigation(ctx, inv.ID, "engine_restart", resumePointFor(inv.Status)); err != nil {
				return fmt.Errorf("orchestrator: suspend %s for recovery: %w", inv.ID, err)
			}
		}
		go o.runRecoveredFiber(inv.ID)
	}
	return nil
}

func (o *Orchestrator) runRecoveredFiber(investigationID string) {
	if err := o.RunInvestigation(context.Background(), investigationID); err != nil {
		observability.LoggerWithTrace(context.Background()).
			Error().Err(err).Str("investigation_id", investigationID).
			Msg("recovered investigation fiber exited with error")
	}
}
