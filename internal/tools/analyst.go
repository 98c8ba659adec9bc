package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"autosint/internal/agentsession"
	"autosint/internal/graph"
	"autosint/internal/store"
)

// RegisterAnalystHandlers wires the eleven Analyst-only handlers named in
// spec.md §4.2 into r.
func RegisterAnalystHandlers(r *Registry) {
	r.Register("search_entities", searchEntitiesHandler)
	r.Register("get_entity", getEntityHandler)
	r.Register("traverse_relationships", traverseRelationshipsHandler)
	r.Register("search_relationships", searchRelationshipsHandler)
	r.Register("search_claims", searchClaimsHandler)
	r.Register("search_assessments", searchAssessmentsHandler)
	r.Register("get_assessment", getAssessmentHandler)
	r.Register("get_investigation_history", getInvestigationHistoryHandler)
	r.Register("create_work_order", createWorkOrderHandler)
	r.Register("produce_assessment", produceAssessmentHandler)
	r.Register("merge_entities", mergeEntitiesHandler)
}

func decodeArgs(raw []byte, v any) *agentsession.ExecutorResult {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &agentsession.ExecutorResult{
			IsMalformed: true,
			IsError:     true,
			Content:     fmt.Sprintf(`{"error":"invalid arguments: %s"}`, err.Error()),
		}
	}
	return nil
}

func domainError(err error) agentsession.ExecutorResult {
	return agentsession.ExecutorResult{IsError: true, Content: fmt.Sprintf(`{"error":%q}`, err.Error())}
}

func jsonOK(payload any) agentsession.ExecutorResult {
	b, err := json.Marshal(payload)
	if err != nil {
		return domainError(err)
	}
	return agentsession.ExecutorResult{Content: string(b)}
}

type searchEntitiesArgs struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
	Kind  string `json:"kind"`
	Limit int    `json:"limit"`
}

func searchEntitiesHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args searchEntitiesArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	opts := graph.EntitySearch{Mode: graph.SearchKeyword, Query: args.Query, Kind: args.Kind, Limit: args.Limit}
	if args.Mode == string(graph.SearchSemantic) {
		opts.Mode = graph.SearchSemantic
		if hctx.Embedder == nil {
			return domainError(fmt.Errorf("semantic search unavailable: no embedding client configured"))
		}
		vec, err := hctx.Embedder.EmbedOne(ctx, args.Query)
		if err != nil {
			return domainError(err)
		}
		opts.Embedding = vec
	}
	results, err := hctx.Graph.SearchEntities(ctx, opts)
	if err != nil {
		return domainError(err)
	}
	return jsonOK(truncateResults(results, hctx.Limits.MaxSearchResults))
}

type getEntityArgs struct {
	ID string `json:"id"`
}

func getEntityHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args getEntityArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	entity, err := hctx.Graph.GetEntity(ctx, args.ID)
	if err != nil {
		return domainError(err)
	}
	return jsonOK(truncateEntityDetail(entity, hctx.Limits.MaxEntityDetailChars))
}

type traverseRelationshipsArgs struct {
	EntityID string `json:"entity_id"`
	MaxHops  int    `json:"max_hops"`
	Limit    int    `json:"limit"`
}

func traverseRelationshipsHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args traverseRelationshipsArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	results, err := hctx.Graph.TraverseRelationships(ctx, args.EntityID, args.MaxHops, args.Limit)
	if err != nil {
		return domainError(err)
	}
	return jsonOK(truncateResults(results, hctx.Limits.MaxSearchResults))
}

type searchRelationshipsArgs struct {
	Query      string `json:"query"`
	Mode       string `json:"mode"`
	EndpointID string `json:"endpoint_id"`
	Limit      int    `json:"limit"`
}

func searchRelationshipsHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args searchRelationshipsArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	opts := graph.RelationshipSearch{Mode: graph.SearchKeyword, Query: args.Query, EndpointID: args.EndpointID, Limit: args.Limit}
	if args.Mode == string(graph.SearchSemantic) {
		opts.Mode = graph.SearchSemantic
		if hctx.Embedder == nil {
			return domainError(fmt.Errorf("semantic search unavailable: no embedding client configured"))
		}
		vec, err := hctx.Embedder.EmbedOne(ctx, args.Query)
		if err != nil {
			return domainError(err)
		}
		opts.Embedding = vec
	}
	results, err := hctx.Graph.SearchRelationships(ctx, opts)
	if err != nil {
		return domainError(err)
	}
	return jsonOK(truncateResults(results, hctx.Limits.MaxSearchResults))
}

type searchClaimsArgs struct {
	Query        string `json:"query"`
	Mode         string `json:"mode"`
	SourceEntity string `json:"source_entity"`
	Attribution  string `json:"attribution"`
	From         string `json:"from"`
	To           string `json:"to"`
	Limit        int    `json:"limit"`
}

func searchClaimsHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args searchClaimsArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	opts := graph.ClaimSearch{
		SourceEntity: args.SourceEntity,
		Attribution:  graph.AttributionDepth(args.Attribution),
		Limit:        args.Limit,
	}
	if args.From != "" {
		if t, err := time.Parse(time.RFC3339, args.From); err == nil {
			opts.FromTime = &t
		}
	}
	if args.To != "" {
		if t, err := time.Parse(time.RFC3339, args.To); err == nil {
			opts.ToTime = &t
		}
	}
	switch {
	case args.Mode == string(graph.SearchSemantic):
		if hctx.Embedder == nil {
			return domainError(fmt.Errorf("semantic search unavailable: no embedding client configured"))
		}
		vec, err := hctx.Embedder.EmbedOne(ctx, args.Query)
		if err != nil {
			return domainError(err)
		}
		opts.Mode, opts.Embedding = graph.SearchSemantic, vec
	case args.Query != "":
		opts.Mode, opts.Query = graph.SearchKeyword, args.Query
	}

	results, err := hctx.Graph.SearchClaims(ctx, opts)
	if err != nil {
		return domainError(err)
	}
	max := hctx.Limits.MaxSearchResults
	if max <= 0 {
		max = len(results)
	}
	kept := results
	truncated := false
	if len(kept) > max {
		kept = kept[:max]
		truncated = true
	}
	previews := make([]claimPreview, 0, len(kept))
	for _, r := range kept {
		previews = append(previews, truncateClaimPreview(r.Value, hctx.Limits.MaxClaimPreviewChars))
	}
	envelope := struct {
		Results []claimPreview `json:"results"`
		Total   int            `json:"total"`
		Note    string         `json:"note,omitempty"`
	}{Results: previews, Total: len(results)}
	if truncated {
		envelope.Note = fmt.Sprintf("… %d more omitted", len(results)-max)
	}
	return jsonOK(envelope)
}

type searchAssessmentsArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func searchAssessmentsHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args searchAssessmentsArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	if hctx.Embedder == nil {
		return domainError(fmt.Errorf("assessment search unavailable: no embedding client configured"))
	}
	vec, err := hctx.Embedder.EmbedOne(ctx, args.Query)
	if err != nil {
		return domainError(err)
	}
	results, err := hctx.Store.SearchAssessments(ctx, hctx.InvestigationID, vec, args.Limit)
	if err != nil {
		return domainError(err)
	}
	return jsonOK(truncateResults(results, hctx.Limits.MaxSearchResults))
}

type getAssessmentArgs struct {
	ID string `json:"id"`
}

func getAssessmentHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args getAssessmentArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	a, err := hctx.Store.GetAssessment(ctx, args.ID)
	if err != nil {
		return domainError(err)
	}
	return jsonOK(a)
}

func getInvestigationHistoryHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	workOrders, err := hctx.Store.WorkOrdersAtMaxCycle(ctx, hctx.InvestigationID)
	if err != nil {
		return domainError(err)
	}
	return jsonOK(struct {
		WorkOrders []store.WorkOrder `json:"recent_work_orders"`
	}{WorkOrders: workOrders})
}

type createWorkOrderArgs struct {
	Objective          string              `json:"objective"`
	Priority           string              `json:"priority"`
	ReferencedEntities []string            `json:"referenced_entities"`
	SourceGuidance     store.SourceGuidance `json:"source_guidance"`
}

func createWorkOrderHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args createWorkOrderArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	if int(hctx.Counters.WorkOrdersCreatedThisCycle.Load()) >= hctx.MaxWorkOrdersPerCycle {
		return domainError(fmt.Errorf("max_work_orders_per_cycle (%d) reached for this cycle", hctx.MaxWorkOrdersPerCycle))
	}

	priority := store.WorkOrderPriority(args.Priority)
	switch priority {
	case store.PriorityHigh, store.PriorityNormal, store.PriorityLow:
	default:
		priority = store.PriorityNormal
	}

	wo := store.WorkOrder{
		ID:                 uuid.NewString(),
		InvestigationID:    hctx.InvestigationID,
		Objective:          args.Objective,
		Priority:           priority,
		CycleIndex:         hctx.Cycle,
		ReferencedEntities: args.ReferencedEntities,
		SourceGuidance:     args.SourceGuidance,
	}
	created, err := hctx.Store.CreateWorkOrder(ctx, wo)
	if err != nil {
		return domainError(err)
	}

	guidance := map[string]any{"preferred_source_ids": args.SourceGuidance.PreferredSourceIDs, "freeform": args.SourceGuidance.Freeform}
	err = hctx.Queue.Enqueue(ctx, queuePriority(priority), queueMessage(created, guidance))
	if err != nil {
		return domainError(err)
	}

	hctx.Counters.WorkOrdersCreatedThisCycle.Add(1)
	return jsonOK(created)
}

type produceAssessmentArgs struct {
	Content            json.RawMessage `json:"content"`
	Confidence         string          `json:"confidence"`
	ReferencedEntities []string        `json:"referenced_entities"`
	ReferencedClaims   []string        `json:"referenced_claims"`
}

func produceAssessmentHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args produceAssessmentArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	if hctx.Counters.AssessmentProduced.Load() {
		return domainError(fmt.Errorf("an assessment was already produced this session"))
	}

	a := store.Assessment{
		ID:                 uuid.NewString(),
		InvestigationID:    hctx.InvestigationID,
		Content:            args.Content,
		Confidence:         store.AssessmentConfidence(args.Confidence),
		ReferencedEntities: args.ReferencedEntities,
		ReferencedClaims:   args.ReferencedClaims,
	}
	if hctx.Embedder != nil {
		if vec, err := hctx.Embedder.EmbedOne(ctx, string(args.Content)); err == nil {
			a.Embedding = vec
		}
	}
	created, err := hctx.Store.CreateAssessment(ctx, a)
	if err != nil {
		return domainError(err)
	}
	hctx.Counters.AssessmentProduced.Store(true)
	return jsonOK(created)
}

type mergeEntitiesArgs struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

func mergeEntitiesHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args mergeEntitiesArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	if err := hctx.Graph.MergeEntities(ctx, args.SourceID, args.TargetID); err != nil {
		return domainError(err)
	}
	hctx.Counters.EntitiesWritten.Add(1)
	return jsonOK(struct {
		Merged bool `json:"merged"`
	}{Merged: true})
}
