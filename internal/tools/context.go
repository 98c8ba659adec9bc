// Package tools is the AutOSINT tool registry and handler set (C2): the
// Analyst- and Processor-only handlers named in spec.md §4.2, sharing one
// execution context per session.
package tools

import (
	"context"
	"sync/atomic"

	"autosint/internal/config"
	"autosint/internal/dedup"
	"autosint/internal/fetcher"
	"autosint/internal/graph"
	"autosint/internal/queue"
	"autosint/internal/store"
)

// Counters are the session's atomic write counts (spec.md §4.2). The
// Orchestrator reads them after a session ends to derive its outcome.
type Counters struct {
	WorkOrdersCreatedThisCycle atomic.Int32
	AssessmentProduced         atomic.Bool
	EntitiesWritten            atomic.Int64
	ClaimsWritten              atomic.Int64
	RelationshipsWritten       atomic.Int64
}

// WorkOrdersCreated reports how many work orders this session has created
// in the current cycle.
func (c *Counters) WorkOrdersCreated() int {
	return int(c.WorkOrdersCreatedThisCycle.Load())
}

// graphPort is the subset of internal/graph.Client the handlers depend on,
// narrowed (per the internal/dedup.GraphProbe pattern) so tests can
// substitute a fake without a live Neo4j instance.
type graphPort interface {
	SearchEntities(ctx context.Context, opts graph.EntitySearch) ([]graph.Scored[graph.Entity], error)
	GetEntity(ctx context.Context, id string) (graph.Entity, error)
	TraverseRelationships(ctx context.Context, entityID string, maxHops, limit int) ([]graph.Scored[graph.Relationship], error)
	SearchRelationships(ctx context.Context, opts graph.RelationshipSearch) ([]graph.Scored[graph.Relationship], error)
	SearchClaims(ctx context.Context, opts graph.ClaimSearch) ([]graph.Scored[graph.Claim], error)
	MergeEntities(ctx context.Context, sourceID, targetID string) error
	CreateEntity(ctx context.Context, e graph.Entity, embedding []float32) (graph.Entity, error)
	UpdateEntity(ctx context.Context, id string, patch graph.EntityPatch) (graph.Entity, error)
	UpdateEntityWithChangeClaim(ctx context.Context, id string, patch graph.EntityPatch, changeClaim graph.Claim) (graph.Entity, graph.Claim, error)
	CreateClaim(ctx context.Context, claim graph.Claim) (graph.Claim, error)
	CreateRelationship(ctx context.Context, r graph.Relationship) (graph.Relationship, error)
	UpdateRelationship(ctx context.Context, id string, patch graph.RelationshipPatch) (graph.Relationship, error)
}

// storePort is the subset of internal/store.Client the handlers depend on.
type storePort interface {
	CreateWorkOrder(ctx context.Context, wo store.WorkOrder) (store.WorkOrder, error)
	WorkOrdersAtMaxCycle(ctx context.Context, investigationID string) ([]store.WorkOrder, error)
	SearchAssessments(ctx context.Context, investigationID string, queryEmbedding []float32, limit int) ([]store.ScoredAssessment, error)
	GetAssessment(ctx context.Context, id string) (store.Assessment, error)
	CreateAssessment(ctx context.Context, a store.Assessment) (store.Assessment, error)
}

// queuePort is the subset of internal/queue.Client the handlers depend on.
type queuePort interface {
	Enqueue(ctx context.Context, priority queue.Priority, msg queue.Message) error
}

// embedderPort is the subset of internal/embedding.Client the handlers
// depend on.
type embedderPort interface {
	EmbedOne(ctx context.Context, input string) ([]float32, error)
}

// fetcherPort is the subset of internal/fetcher.Client the handlers depend
// on.
type fetcherPort interface {
	FetchURL(ctx context.Context, url string, opts fetcher.FetchOptions) (fetcher.FetchResult, error)
	Search(ctx context.Context, query string, numResults int) (fetcher.SearchResponse, error)
	SourceCatalog(ctx context.Context) ([]fetcher.Source, error)
	SourceQuery(ctx context.Context, sourceID string, params map[string]any) (fetcher.SourceQueryResult, error)
}

// AnalystStore and AnalystQueue re-export storePort/queuePort so other
// packages (internal/orchestrator) can wire and fake the same narrow
// surface without depending on the concrete internal/store and
// internal/queue clients.
type AnalystStore = storePort
type AnalystQueue = queuePort

// Context is the shared execution environment every handler closes over.
// One Context is built per session; Analyst-only fields are zero-valued
// for a Processor session and vice versa.
type Context struct {
	Graph    graphPort
	Embedder embedderPort // optional; nil disables embedding-dependent handlers
	Fetcher  fetcherPort  // optional; nil disables fetcher-dependent handlers
	Dedup    *dedup.Cascade
	Limits   config.ToolLimitsConfig
	Counters *Counters

	// Analyst-only.
	Store                 storePort
	Queue                 queuePort
	InvestigationID       string
	Cycle                 int
	MaxWorkOrdersPerCycle int
}
