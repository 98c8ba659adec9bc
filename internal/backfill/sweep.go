// Package backfill is the periodic embedding-backfill fiber (C10): once per
// backfill_interval_minutes, sweep entities, claims, and relationships in
// turn for embedding_pending rows and fill them in one batched embeddings
// call per kind (spec.md §4.10).
package backfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autosint/internal/graph"
	"autosint/internal/observability"
)

// graphPort is the subset of internal/graph.Client the sweep depends on,
// narrowed per the internal/dedup.GraphProbe precedent so tests run it
// against a fake instead of a live Neo4j instance.
type graphPort interface {
	PendingEntities(ctx context.Context, limit int) ([]graph.Entity, error)
	SetEntityEmbedding(ctx context.Context, id string, embedding []float32) error
	PendingClaims(ctx context.Context, limit int) ([]graph.Claim, error)
	SetClaimEmbedding(ctx context.Context, id string, embedding []float32) error
	PendingRelationships(ctx context.Context, limit int) ([]graph.Relationship, error)
	SetRelationshipEmbedding(ctx context.Context, id string, embedding []float32) error
}

// embedderPort is the subset of internal/embedding.Client the sweep depends
// on.
type embedderPort interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	BatchSize() int
	BackfillInterval() time.Duration
}

// Sweeper drives the backfill fiber.
type Sweeper struct {
	Graph    graphPort
	Embedder embedderPort
}

// New builds a Sweeper wired for production use.
func New(g graphPort, e embedderPort) *Sweeper {
	return &Sweeper{Graph: g, Embedder: e}
}

// Run ticks every Embedder.BackfillInterval() until ctx is cancelled,
// sweeping once per tick and logging (not propagating) any sweep error so
// one bad cycle never kills the fiber.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Embedder.BackfillInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	log := observability.LoggerWithTrace(ctx)
	if err := s.sweepEntities(ctx); err != nil {
		log.Error().Err(err).Msg("entity embedding backfill failed")
	}
	if err := s.sweepClaims(ctx); err != nil {
		log.Error().Err(err).Msg("claim embedding backfill failed")
	}
	if err := s.sweepRelationships(ctx); err != nil {
		log.Error().Err(err).Msg("relationship embedding backfill failed")
	}
}

func (s *Sweeper) sweepEntities(ctx context.Context) error {
	entities, err := s.Graph.PendingEntities(ctx, s.Embedder.BatchSize())
	if err != nil {
		return fmt.Errorf("backfill: pending entities: %w", err)
	}
	if len(entities) == 0 {
		return nil
	}

	inputs := make([]string, len(entities))
	for i, e := range entities {
		inputs[i] = entityEmbeddingText(e)
	}
	vectors, err := s.Embedder.Embed(ctx, inputs)
	if err != nil {
		return fmt.Errorf("backfill: embed %d entities: %w", len(entities), err)
	}
	for i, e := range entities {
		if err := s.Graph.SetEntityEmbedding(ctx, e.ID, vectors[i]); err != nil {
			return fmt.Errorf("backfill: set embedding for entity %s: %w", e.ID, err)
		}
	}
	return nil
}

func (s *Sweeper) sweepClaims(ctx context.Context) error {
	claims, err := s.Graph.PendingClaims(ctx, s.Embedder.BatchSize())
	if err != nil {
		return fmt.Errorf("backfill: pending claims: %w", err)
	}
	if len(claims) == 0 {
		return nil
	}

	inputs := make([]string, len(claims))
	for i, c := range claims {
		inputs[i] = c.Content
	}
	vectors, err := s.Embedder.Embed(ctx, inputs)
	if err != nil {
		return fmt.Errorf("backfill: embed %d claims: %w", len(claims), err)
	}
	for i, c := range claims {
		if err := s.Graph.SetClaimEmbedding(ctx, c.ID, vectors[i]); err != nil {
			return fmt.Errorf("backfill: set embedding for claim %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *Sweeper) sweepRelationships(ctx context.Context) error {
	rels, err := s.Graph.PendingRelationships(ctx, s.Embedder.BatchSize())
	if err != nil {
		return fmt.Errorf("backfill: pending relationships: %w", err)
	}
	if len(rels) == 0 {
		return nil
	}

	inputs := make([]string, len(rels))
	for i, r := range rels {
		inputs[i] = r.Description
	}
	vectors, err := s.Embedder.Embed(ctx, inputs)
	if err != nil {
		return fmt.Errorf("backfill: embed %d relationships: %w", len(rels), err)
	}
	for i, r := range rels {
		if err := s.Graph.SetRelationshipEmbedding(ctx, r.ID, vectors[i]); err != nil {
			return fmt.Errorf("backfill: set embedding for relationship %s: %w", r.ID, err)
		}
	}
	return nil
}

func entityEmbeddingText(e graph.Entity) string {
	return strings.TrimSpace(e.CanonicalName + " " + e.Summary)
}
