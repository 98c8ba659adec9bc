// Package processor is the AutOSINT Processor worker pool (C7): pool_size
// worker fibers draining the priority queue, each running one bounded
// Processor tool-calling session per dequeued work order.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"autosint/internal/agentsession"
	"autosint/internal/config"
	"autosint/internal/dedup"
	"autosint/internal/embedding"
	"autosint/internal/fetcher"
	"autosint/internal/graph"
	"autosint/internal/llm"
	"autosint/internal/observability"
	"autosint/internal/queue"
	"autosint/internal/store"
	"autosint/internal/tools"
)

// queuePort is the subset of internal/queue.Client a worker needs.
type queuePort interface {
	Dequeue(ctx context.Context, consumerName string, blockMs int) (*queue.Delivery, error)
	Ack(ctx context.Context, stream, entryID string) error
	Heartbeat(ctx context.Context, processorID string, ttl time.Duration) error
	Reclaim(ctx context.Context, consumerName string, minIdleMs int64) error
}

// workOrderStore is the subset of internal/store.Client a worker writes to
// directly, outside the tool-handler write path (spec.md §4.7 steps 4-5).
type workOrderStore interface {
	TransitionWorkOrder(ctx context.Context, id string, status store.WorkOrderStatus, assignedProcessor *string) error
	IncrementClaimsProduced(ctx context.Context, id string, delta int) error
}

// SessionDeps bundles the tool dependencies a Processor session's
// internal/tools.Context needs. Embedder and Fetcher may be nil, disabling
// the handlers that require them.
type SessionDeps struct {
	Graph    *graph.Client
	Embedder *embedding.Client
	Fetcher  *fetcher.Client
	Dedup    *dedup.Cascade
	Limits   config.ToolLimitsConfig
}

// Config bounds the pool's width and heartbeat cadence (spec.md §4.7).
type Config struct {
	PoolSize          int
	HeartbeatTTL      time.Duration
	HeartbeatInterval time.Duration
}

// Pool drains the queue with Config.PoolSize workers, each running one
// Processor session per dequeued work order to completion before dequeuing
// again.
type Pool struct {
	Queue         queuePort
	Store         workOrderStore
	Deps          SessionDeps
	Provider      llm.Provider
	SystemPrompt  string
	ToolSchemas   []llm.ToolSchema
	SessionConfig agentsession.Config
	Config        Config

	// runSession executes one Processor agent session. Production callers
	// get defaultRunSession via New; tests substitute a fake.
	runSession func(ctx context.Context, msg queue.Message, hctx *tools.Context) agentsession.Outcome
}

// New builds a Pool wired for production use.
func New(q queuePort, s workOrderStore, deps SessionDeps, provider llm.Provider, systemPrompt string, toolSchemas []llm.ToolSchema, sessionCfg agentsession.Config, cfg Config) *Pool {
	p := &Pool{
		Queue:         q,
		Store:         s,
		Deps:          deps,
		Provider:      provider,
		SystemPrompt:  systemPrompt,
		ToolSchemas:   toolSchemas,
		SessionConfig: sessionCfg,
		Config:        cfg,
	}
	p.runSession = p.defaultRunSession
	return p
}

// Run starts Config.PoolSize worker fibers and blocks until ctx is
// cancelled, at which point every worker exits before its next dequeue
// (spec.md §4.7 step 1) and Run returns.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Config.PoolSize; i++ {
		workerID := i
		g.Go(func() error {
			name := fmt.Sprintf("processor-%d-%s", workerID, uuid.NewString()[:8])
			p.runWorker(gctx, ctx, name)
			return nil
		})
	}
	return g.Wait()
}

// runWorker is one pool slot's fiber. runCtx gates heartbeat/session work
// (cancelled alongside the errgroup); shutdownCtx is checked between
// dequeues so an errgroup sibling's panic never masks a clean shutdown.
func (p *Pool) runWorker(runCtx, shutdownCtx context.Context, name string) {
	log := observability.LoggerWithTrace(runCtx).With().Str("processor_id", name).Logger()
	reclaimTicker := time.NewTicker(p.Config.HeartbeatTTL)
	defer reclaimTicker.Stop()

	for {
		if shutdownCtx.Err() != nil {
			log.Info().Msg("processor worker shutting down")
			return
		}

		select {
		case <-reclaimTicker.C:
			minIdleMS := 2 * p.Config.HeartbeatTTL.Milliseconds()
			if err := p.Queue.Reclaim(runCtx, name, minIdleMS); err != nil {
				log.Warn().Err(err).Msg("reclaim failed")
			}
		default:
		}

		delivery, err := p.Queue.Dequeue(runCtx, name, 5000)
		if err != nil {
			if shutdownCtx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("dequeue failed")
			continue
		}
		if delivery == nil {
			continue
		}

		p.handleDelivery(runCtx, name, *delivery, &log)
	}
}

func (p *Pool) handleDelivery(ctx context.Context, name string, d queue.Delivery, log *zerolog.Logger) {
	wo := d.Message
	assigned := name
	if err := p.Store.TransitionWorkOrder(ctx, wo.WorkOrderID, store.WorkOrderProcessing, &assigned); err != nil {
		log.Error().Err(err).Str("work_order_id", wo.WorkOrderID).Msg("transition to processing failed")
	}

	hbCtx, cancelHB := context.WithCancel(ctx)
	var hbDone sync.WaitGroup
	hbDone.Add(1)
	go func() {
		defer hbDone.Done()
		p.runHeartbeat(hbCtx, name)
	}()

	hctx := &tools.Context{
		Graph:    p.Deps.Graph,
		Embedder: p.Deps.Embedder,
		Fetcher:  p.Deps.Fetcher,
		Dedup:    p.Deps.Dedup,
		Limits:   p.Deps.Limits,
		Counters: &tools.Counters{},
	}

	outcome := p.runSession(ctx, wo, hctx)
	cancelHB()
	hbDone.Wait()

	status := outcomeToWorkOrderStatus(outcome.Kind)
	if err := p.Store.TransitionWorkOrder(ctx, wo.WorkOrderID, status, &assigned); err != nil {
		log.Error().Err(err).Str("work_order_id", wo.WorkOrderID).Msg("final transition failed")
	}
	if claims := int(hctx.Counters.ClaimsWritten.Load()); claims > 0 {
		if err := p.Store.IncrementClaimsProduced(ctx, wo.WorkOrderID, claims); err != nil {
			log.Error().Err(err).Str("work_order_id", wo.WorkOrderID).Msg("increment claims produced failed")
		}
	}

	if err := p.Queue.Ack(ctx, d.Stream, d.EntryID); err != nil {
		log.Error().Err(err).Str("work_order_id", wo.WorkOrderID).Msg("ack failed")
	}
}

func (p *Pool) runHeartbeat(ctx context.Context, name string) {
	ticker := time.NewTicker(p.Config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Queue.Heartbeat(ctx, name, p.Config.HeartbeatTTL); err != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(err).Str("processor_id", name).Msg("heartbeat failed")
			}
		}
	}
}

// outcomeToWorkOrderStatus implements the mapping of spec.md §4.7 step 5:
// any outcome that produced whatever partial writes it could is still a
// completed work order; only a hard session failure is a failed one.
func outcomeToWorkOrderStatus(kind agentsession.OutcomeKind) store.WorkOrderStatus {
	switch kind {
	case agentsession.Completed, agentsession.MaxTurnsReached, agentsession.MalformedToolCallLimit:
		return store.WorkOrderCompleted
	default:
		return store.WorkOrderFailed
	}
}

func (p *Pool) defaultRunSession(ctx context.Context, msg queue.Message, hctx *tools.Context) agentsession.Outcome {
	registry := tools.NewRegistry()
	tools.RegisterProcessorHandlers(registry)
	initial := llm.TextMessage("user", buildInitialMessage(msg))
	return agentsession.Run(ctx, p.Provider, p.SystemPrompt, initial, p.ToolSchemas, registry.Executor(hctx), p.SessionConfig)
}

// buildInitialMessage renders the work order's objective, referenced
// entities, and source guidance as the Processor session's seed message.
func buildInitialMessage(msg queue.Message) string {
	payload := struct {
		Objective          string            `json:"objective"`
		ReferencedEntities []string          `json:"referenced_entities,omitempty"`
		SourceGuidance     map[string]any    `json:"source_guidance,omitempty"`
	}{
		Objective:          msg.Objective,
		ReferencedEntities: msg.ReferencedEntities,
		SourceGuidance:     msg.SourceGuidance,
	}
	data, _ := json.Marshal(payload)
	return string(data)
}
