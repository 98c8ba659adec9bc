package tools

import (
	"context"
	"errors"

	"autosint/internal/fetcher"
	"autosint/internal/graph"
	"autosint/internal/queue"
	"autosint/internal/store"
)

type fakeGraph struct {
	entities      map[string]graph.Entity
	searchResult  []graph.Scored[graph.Entity]
	relResult     []graph.Scored[graph.Relationship]
	claimResult   []graph.Scored[graph.Claim]
	createdEntity graph.Entity
	createdClaim  graph.Claim
	createdRel    graph.Relationship
	updatedEntity graph.Entity
	mergeErr      error
	mergedSource  string
	mergedTarget  string
	createErr     error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{entities: make(map[string]graph.Entity)}
}

func (f *fakeGraph) SearchEntities(ctx context.Context, opts graph.EntitySearch) ([]graph.Scored[graph.Entity], error) {
	return f.searchResult, nil
}

func (f *fakeGraph) GetEntity(ctx context.Context, id string) (graph.Entity, error) {
	e, ok := f.entities[id]
	if !ok {
		return graph.Entity{}, graph.ErrNotFound
	}
	return e, nil
}

func (f *fakeGraph) TraverseRelationships(ctx context.Context, entityID string, maxHops, limit int) ([]graph.Scored[graph.Relationship], error) {
	return f.relResult, nil
}

func (f *fakeGraph) SearchRelationships(ctx context.Context, opts graph.RelationshipSearch) ([]graph.Scored[graph.Relationship], error) {
	return f.relResult, nil
}

func (f *fakeGraph) SearchClaims(ctx context.Context, opts graph.ClaimSearch) ([]graph.Scored[graph.Claim], error) {
	return f.claimResult, nil
}

func (f *fakeGraph) MergeEntities(ctx context.Context, sourceID, targetID string) error {
	f.mergedSource, f.mergedTarget = sourceID, targetID
	return f.mergeErr
}

func (f *fakeGraph) CreateEntity(ctx context.Context, e graph.Entity, embedding []float32) (graph.Entity, error) {
	if f.createErr != nil {
		return graph.Entity{}, f.createErr
	}
	e.Embedding = embedding
	f.createdEntity = e
	f.entities[e.ID] = e
	return e, nil
}

func (f *fakeGraph) UpdateEntity(ctx context.Context, id string, patch graph.EntityPatch) (graph.Entity, error) {
	return f.updatedEntity, nil
}

func (f *fakeGraph) UpdateEntityWithChangeClaim(ctx context.Context, id string, patch graph.EntityPatch, changeClaim graph.Claim) (graph.Entity, graph.Claim, error) {
	f.createdClaim = changeClaim
	return f.updatedEntity, changeClaim, nil
}

func (f *fakeGraph) CreateClaim(ctx context.Context, claim graph.Claim) (graph.Claim, error) {
	if f.createErr != nil {
		return graph.Claim{}, f.createErr
	}
	f.createdClaim = claim
	return claim, nil
}

func (f *fakeGraph) CreateRelationship(ctx context.Context, r graph.Relationship) (graph.Relationship, error) {
	if f.createErr != nil {
		return graph.Relationship{}, f.createErr
	}
	f.createdRel = r
	return r, nil
}

func (f *fakeGraph) UpdateRelationship(ctx context.Context, id string, patch graph.RelationshipPatch) (graph.Relationship, error) {
	return f.createdRel, nil
}

type fakeStore struct {
	createdWorkOrder  store.WorkOrder
	workOrders        []store.WorkOrder
	assessments       []store.ScoredAssessment
	assessment        store.Assessment
	createdAssessment store.Assessment
	err               error
}

func (f *fakeStore) CreateWorkOrder(ctx context.Context, wo store.WorkOrder) (store.WorkOrder, error) {
	if f.err != nil {
		return store.WorkOrder{}, f.err
	}
	wo.Status = store.WorkOrderQueued
	f.createdWorkOrder = wo
	return wo, nil
}

func (f *fakeStore) WorkOrdersAtMaxCycle(ctx context.Context, investigationID string) ([]store.WorkOrder, error) {
	return f.workOrders, f.err
}

func (f *fakeStore) SearchAssessments(ctx context.Context, investigationID string, queryEmbedding []float32, limit int) ([]store.ScoredAssessment, error) {
	return f.assessments, f.err
}

func (f *fakeStore) GetAssessment(ctx context.Context, id string) (store.Assessment, error) {
	return f.assessment, f.err
}

func (f *fakeStore) CreateAssessment(ctx context.Context, a store.Assessment) (store.Assessment, error) {
	if f.err != nil {
		return store.Assessment{}, f.err
	}
	f.createdAssessment = a
	return a, nil
}

type fakeQueue struct {
	enqueued []queue.Message
	priority queue.Priority
	err      error
}

func (f *fakeQueue) Enqueue(ctx context.Context, priority queue.Priority, msg queue.Message) error {
	if f.err != nil {
		return f.err
	}
	f.priority = priority
	f.enqueued = append(f.enqueued, msg)
	return nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, input string) ([]float32, error) {
	return f.vec, f.err
}

type fakeFetcher struct {
	fetchResult  fetcher.FetchResult
	searchResult fetcher.SearchResponse
	sources      []fetcher.Source
	queryResult  fetcher.SourceQueryResult
	err          error
}

func (f *fakeFetcher) FetchURL(ctx context.Context, url string, opts fetcher.FetchOptions) (fetcher.FetchResult, error) {
	return f.fetchResult, f.err
}

func (f *fakeFetcher) Search(ctx context.Context, query string, numResults int) (fetcher.SearchResponse, error) {
	return f.searchResult, f.err
}

func (f *fakeFetcher) SourceCatalog(ctx context.Context) ([]fetcher.Source, error) {
	return f.sources, f.err
}

func (f *fakeFetcher) SourceQuery(ctx context.Context, sourceID string, params map[string]any) (fetcher.SourceQueryResult, error) {
	return f.queryResult, f.err
}

var errBoom = errors.New("boom")
