package orchestrator

import (
	"context"
	"fmt"
	"time"

	"autosint/internal/store"
)

const defaultPollInterval = 5 * time.Second

func (o *Orchestrator) pollInterval() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return defaultPollInterval
}

// waitForWorkOrders polls the store every pollInterval counting this
// investigation's queued/processing work orders, returning once the count
// reaches zero (spec.md §4.10). A non-positive configured ceiling disables
// the wall-clock bound entirely; otherwise exceeding it is an error so the
// Orchestrator never blocks forever.
func (o *Orchestrator) waitForWorkOrders(ctx context.Context, investigationID string) error {
	waitCtx := ctx
	if ceiling := o.Config.WaitForWorkOrdersCeiling(); ceiling > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, ceiling)
		defer cancel()
	}

	ticker := time.NewTicker(o.pollInterval())
	defer ticker.Stop()

	for {
		count, err := o.Store.CountActiveWorkOrders(waitCtx, investigationID)
		if err != nil {
			return fmt.Errorf("orchestrator: count active work orders for %s: %w", investigationID, err)
		}
		if count == 0 {
			return nil
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("orchestrator: wait for work orders exceeded ceiling for investigation %s", investigationID)
		}
	}
}

// allWorkOrdersFailed implements spec.md §4.11: true iff the work orders at
// the investigation's highest cycle index are non-empty and every one of
// them ended in status failed.
func (o *Orchestrator) allWorkOrdersFailed(ctx context.Context, investigationID string) (bool, error) {
	wos, err := o.Store.WorkOrdersAtMaxCycle(ctx, investigationID)
	if err != nil {
		return false, fmt.Errorf("orchestrator: work orders at max cycle for %s: %w", investigationID, err)
	}
	if len(wos) == 0 {
		return false, nil
	}
	for _, wo := range wos {
		if wo.Status != store.WorkOrderFailed {
			return false, nil
		}
	}
	return true, nil
}
