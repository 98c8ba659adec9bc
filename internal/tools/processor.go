package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"autosint/internal/agentsession"
	"autosint/internal/fetcher"
	"autosint/internal/graph"
)

// RegisterProcessorHandlers wires the twelve Processor-only handlers named
// in spec.md §4.2 into r. search_entities is shared verbatim with the
// Analyst registry.
func RegisterProcessorHandlers(r *Registry) {
	r.Register("search_entities", searchEntitiesHandler)
	r.Register("create_entity", createEntityHandler)
	r.Register("update_entity", updateEntityHandler)
	r.Register("update_entity_with_change_claim", updateEntityWithChangeClaimHandler)
	r.Register("create_claim", createClaimHandler)
	r.Register("create_relationship", createRelationshipHandler)
	r.Register("update_relationship", updateRelationshipHandler)
	r.Register("batch_extract", batchExtractHandler)
	r.Register("fetch_url", fetchURLHandler)
	r.Register("web_search", webSearchHandler)
	r.Register("fetch_source_catalog", fetchSourceCatalogHandler)
	r.Register("fetch_source_query", fetchSourceQueryHandler)
}

type createEntityArgs struct {
	CanonicalName string         `json:"canonical_name"`
	Kind          string         `json:"kind"`
	Summary       string         `json:"summary"`
	Aliases       []string       `json:"aliases"`
	Properties    map[string]any `json:"properties"`
	Embedding     []float32      `json:"embedding"`
}

// createEntityHandler runs the dedup cascade before minting a new node:
// a match returns the existing id rather than creating a duplicate.
func createEntityHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args createEntityArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}

	if hctx.Dedup != nil {
		match, err := hctx.Dedup.Check(ctx, args.CanonicalName, args.Embedding)
		if err != nil {
			return domainError(err)
		}
		if match.Kind != "none" {
			existing, err := hctx.Graph.GetEntity(ctx, match.EntityID)
			if err != nil {
				return domainError(err)
			}
			return jsonOK(struct {
				graph.Entity
				Deduplicated bool   `json:"deduplicated"`
				MatchStage   string `json:"match_stage,omitempty"`
			}{Entity: existing, Deduplicated: true, MatchStage: match.Stage})
		}
	}

	entity := graph.Entity{
		ID:            uuid.NewString(),
		CanonicalName: args.CanonicalName,
		Aliases:       args.Aliases,
		Kind:          args.Kind,
		Summary:       args.Summary,
		Properties:    args.Properties,
	}
	created, err := hctx.Graph.CreateEntity(ctx, entity, args.Embedding)
	if err != nil {
		return domainError(err)
	}
	hctx.Counters.EntitiesWritten.Add(1)
	return jsonOK(created)
}

type updateEntityArgs struct {
	ID         string         `json:"id"`
	Summary    *string        `json:"summary"`
	Kind       *string        `json:"kind"`
	Properties map[string]any `json:"properties"`
	AddAliases []string       `json:"add_aliases"`
	Embedding  []float32      `json:"embedding"`
}

func updateEntityHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args updateEntityArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	updated, err := hctx.Graph.UpdateEntity(ctx, args.ID, graph.EntityPatch{
		Summary:    args.Summary,
		Kind:       args.Kind,
		Properties: args.Properties,
		AddAliases: args.AddAliases,
		Embedding:  args.Embedding,
	})
	if err != nil {
		return domainError(err)
	}
	hctx.Counters.EntitiesWritten.Add(1)
	return jsonOK(updated)
}

type changeClaimArgs struct {
	Content        string   `json:"content"`
	RawSourceURL   string   `json:"raw_source_url"`
	Attribution    string   `json:"attribution"`
	InfoType       string   `json:"info_type"`
	SourceEntityID string   `json:"source_entity_id"`
	ReferencedIDs  []string `json:"referenced_entities"`
}

type updateEntityWithChangeClaimArgs struct {
	ID          string          `json:"id"`
	Summary     *string         `json:"summary"`
	Kind        *string         `json:"kind"`
	Properties  map[string]any  `json:"properties"`
	AddAliases  []string        `json:"add_aliases"`
	Embedding   []float32       `json:"embedding"`
	ChangeClaim changeClaimArgs `json:"change_claim"`
}

func updateEntityWithChangeClaimHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args updateEntityWithChangeClaimArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	now := time.Now().UTC()
	claim := graph.Claim{
		ID:                 uuid.NewString(),
		Content:            args.ChangeClaim.Content,
		Published:          now,
		Ingested:           now,
		RawSourceURL:       args.ChangeClaim.RawSourceURL,
		Attribution:        graph.AttributionDepth(args.ChangeClaim.Attribution),
		InfoType:           graph.InfoAnalysis,
		SourceEntityID:     args.ChangeClaim.SourceEntityID,
		ReferencedEntities: args.ChangeClaim.ReferencedIDs,
	}
	if args.ChangeClaim.InfoType != "" {
		claim.InfoType = graph.InformationType(args.ChangeClaim.InfoType)
	}

	entity, created, err := hctx.Graph.UpdateEntityWithChangeClaim(ctx, args.ID, graph.EntityPatch{
		Summary:    args.Summary,
		Kind:       args.Kind,
		Properties: args.Properties,
		AddAliases: args.AddAliases,
		Embedding:  args.Embedding,
	}, claim)
	if err != nil {
		return domainError(err)
	}
	hctx.Counters.EntitiesWritten.Add(1)
	hctx.Counters.ClaimsWritten.Add(1)
	return jsonOK(struct {
		Entity graph.Entity `json:"entity"`
		Claim  graph.Claim  `json:"claim"`
	}{Entity: entity, Claim: created})
}

type createClaimArgs struct {
	Content            string   `json:"content"`
	Published          string   `json:"published"`
	RawSourceURL       string   `json:"raw_source_url"`
	Attribution        string   `json:"attribution"`
	InfoType           string   `json:"info_type"`
	SourceEntityID     string   `json:"source_entity_id"`
	ReferencedEntities []string `json:"referenced_entities"`
	Embedding          []float32 `json:"embedding"`
}

func createClaimHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args createClaimArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	claim, err := buildClaim(args)
	if err != nil {
		return domainError(err)
	}
	created, err := hctx.Graph.CreateClaim(ctx, claim)
	if err != nil {
		return domainError(err)
	}
	hctx.Counters.ClaimsWritten.Add(1)
	return jsonOK(created)
}

func buildClaim(args createClaimArgs) (graph.Claim, error) {
	now := time.Now().UTC()
	published := now
	if args.Published != "" {
		t, err := time.Parse(time.RFC3339, args.Published)
		if err != nil {
			return graph.Claim{}, fmt.Errorf("invalid published timestamp: %w", err)
		}
		published = t
	}
	return graph.Claim{
		ID:                 uuid.NewString(),
		Content:            args.Content,
		Published:          published,
		Ingested:           now,
		RawSourceURL:       args.RawSourceURL,
		Attribution:        graph.AttributionDepth(args.Attribution),
		InfoType:           graph.InformationType(args.InfoType),
		SourceEntityID:     args.SourceEntityID,
		ReferencedEntities: args.ReferencedEntities,
		Embedding:          args.Embedding,
	}, nil
}

type createRelationshipArgs struct {
	SourceID      string   `json:"source_id"`
	TargetID      string   `json:"target_id"`
	Description   string   `json:"description"`
	Weight        *float64 `json:"weight"`
	Confidence    *float64 `json:"confidence"`
	Bidirectional bool     `json:"bidirectional"`
	Embedding     []float32 `json:"embedding"`
}

func createRelationshipHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args createRelationshipArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	rel := graph.Relationship{
		ID:            uuid.NewString(),
		SourceID:      args.SourceID,
		TargetID:      args.TargetID,
		Description:   args.Description,
		Weight:        args.Weight,
		Confidence:    args.Confidence,
		Bidirectional: args.Bidirectional,
		Embedding:     args.Embedding,
	}
	created, err := hctx.Graph.CreateRelationship(ctx, rel)
	if err != nil {
		return domainError(err)
	}
	hctx.Counters.RelationshipsWritten.Add(1)
	return jsonOK(created)
}

type updateRelationshipArgs struct {
	ID            string    `json:"id"`
	Description   *string   `json:"description"`
	Weight        *float64  `json:"weight"`
	Confidence    *float64  `json:"confidence"`
	Bidirectional *bool     `json:"bidirectional"`
	Embedding     []float32 `json:"embedding"`
}

func updateRelationshipHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args updateRelationshipArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	updated, err := hctx.Graph.UpdateRelationship(ctx, args.ID, graph.RelationshipPatch{
		Description:   args.Description,
		Weight:        args.Weight,
		Confidence:    args.Confidence,
		Bidirectional: args.Bidirectional,
		Embedding:     args.Embedding,
	})
	if err != nil {
		return domainError(err)
	}
	hctx.Counters.RelationshipsWritten.Add(1)
	return jsonOK(updated)
}

// batchExtractArgs lets a single tool call mint a cluster of entities,
// claims, and relationships in one pass: claims and relationships address
// entities either by a batch-local ref or by an existing entity id, so a
// claim can reference an entity this same call is about to create.
type batchExtractArgs struct {
	Entities []struct {
		Ref           string         `json:"ref"`
		CanonicalName string         `json:"canonical_name"`
		Kind          string         `json:"kind"`
		Summary       string         `json:"summary"`
		Aliases       []string       `json:"aliases"`
		Properties    map[string]any `json:"properties"`
		Embedding     []float32      `json:"embedding"`
	} `json:"entities"`
	Claims []struct {
		SourceRef          string   `json:"source_ref"`
		Content            string   `json:"content"`
		Published          string   `json:"published"`
		RawSourceURL       string   `json:"raw_source_url"`
		Attribution        string   `json:"attribution"`
		InfoType           string   `json:"info_type"`
		ReferencedRefs     []string `json:"referenced_refs"`
	} `json:"claims"`
	Relationships []struct {
		SourceRef     string    `json:"source_ref"`
		TargetRef     string    `json:"target_ref"`
		Description   string    `json:"description"`
		Weight        *float64  `json:"weight"`
		Confidence    *float64  `json:"confidence"`
		Bidirectional bool      `json:"bidirectional"`
	} `json:"relationships"`
}

type batchExtractResult struct {
	EntityIDs          map[string]string `json:"entity_ids"`
	EntitiesCreated    int               `json:"entities_created"`
	EntitiesDeduped    int               `json:"entities_deduped"`
	ClaimsCreated      int               `json:"claims_created"`
	RelationshipsCreated int             `json:"relationships_created"`
	Errors             []string          `json:"errors,omitempty"`
}

func batchExtractHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args batchExtractArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}

	result := batchExtractResult{EntityIDs: make(map[string]string)}

	for _, e := range args.Entities {
		resolvedID, deduped, err := resolveOrCreateEntity(ctx, hctx, e.CanonicalName, e.Kind, e.Summary, e.Aliases, e.Properties, e.Embedding)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("entity %q: %s", e.Ref, err.Error()))
			continue
		}
		if e.Ref != "" {
			result.EntityIDs[e.Ref] = resolvedID
		}
		if deduped {
			result.EntitiesDeduped++
		} else {
			result.EntitiesCreated++
			hctx.Counters.EntitiesWritten.Add(1)
		}
	}

	resolveRef := func(ref string) string {
		if id, ok := result.EntityIDs[ref]; ok {
			return id
		}
		return ref
	}

	for _, c := range args.Claims {
		referenced := make([]string, 0, len(c.ReferencedRefs))
		for _, ref := range c.ReferencedRefs {
			referenced = append(referenced, resolveRef(ref))
		}
		claim, err := buildClaim(createClaimArgs{
			Content:            c.Content,
			Published:          c.Published,
			RawSourceURL:       c.RawSourceURL,
			Attribution:        c.Attribution,
			InfoType:           c.InfoType,
			SourceEntityID:     resolveRef(c.SourceRef),
			ReferencedEntities: referenced,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("claim from %q: %s", c.SourceRef, err.Error()))
			continue
		}
		if _, err := hctx.Graph.CreateClaim(ctx, claim); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("claim from %q: %s", c.SourceRef, err.Error()))
			continue
		}
		result.ClaimsCreated++
		hctx.Counters.ClaimsWritten.Add(1)
	}

	for _, r := range args.Relationships {
		rel := graph.Relationship{
			ID:            uuid.NewString(),
			SourceID:      resolveRef(r.SourceRef),
			TargetID:      resolveRef(r.TargetRef),
			Description:   r.Description,
			Weight:        r.Weight,
			Confidence:    r.Confidence,
			Bidirectional: r.Bidirectional,
		}
		if _, err := hctx.Graph.CreateRelationship(ctx, rel); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("relationship %q->%q: %s", r.SourceRef, r.TargetRef, err.Error()))
			continue
		}
		result.RelationshipsCreated++
		hctx.Counters.RelationshipsWritten.Add(1)
	}

	return jsonOK(result)
}

func resolveOrCreateEntity(ctx context.Context, hctx *Context, name, kind, summary string, aliases []string, properties map[string]any, embedding []float32) (id string, deduped bool, err error) {
	if hctx.Dedup != nil {
		match, err := hctx.Dedup.Check(ctx, name, embedding)
		if err != nil {
			return "", false, err
		}
		if match.Kind != "none" {
			return match.EntityID, true, nil
		}
	}
	entity := graph.Entity{
		ID:            uuid.NewString(),
		CanonicalName: name,
		Kind:          kind,
		Summary:       summary,
		Aliases:       aliases,
		Properties:    properties,
	}
	created, err := hctx.Graph.CreateEntity(ctx, entity, embedding)
	if err != nil {
		return "", false, err
	}
	return created.ID, false, nil
}

type fetchURLArgs struct {
	URL       string            `json:"url"`
	TimeoutMS int               `json:"timeout_ms"`
	UserAgent string            `json:"user_agent"`
	Headers   map[string]string `json:"headers"`
}

func fetchURLHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args fetchURLArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	if hctx.Fetcher == nil {
		return domainError(fmt.Errorf("fetch_url unavailable: no fetcher client configured"))
	}
	opts := fetcher.FetchOptions{TimeoutMS: args.TimeoutMS, UserAgent: args.UserAgent, Headers: args.Headers}
	result, err := hctx.Fetcher.FetchURL(ctx, args.URL, opts)
	if err != nil {
		return domainError(err)
	}
	return jsonOK(result)
}

type webSearchArgs struct {
	Query      string `json:"query"`
	NumResults int    `json:"num_results"`
}

func webSearchHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args webSearchArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	if hctx.Fetcher == nil {
		return domainError(fmt.Errorf("web_search unavailable: no fetcher client configured"))
	}
	result, err := hctx.Fetcher.Search(ctx, args.Query, args.NumResults)
	if err != nil {
		return domainError(err)
	}
	return jsonOK(result)
}

func fetchSourceCatalogHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	if hctx.Fetcher == nil {
		return domainError(fmt.Errorf("fetch_source_catalog unavailable: no fetcher client configured"))
	}
	sources, err := hctx.Fetcher.SourceCatalog(ctx)
	if err != nil {
		return domainError(err)
	}
	return jsonOK(struct {
		Sources []fetcher.Source `json:"sources"`
	}{Sources: sources})
}

type fetchSourceQueryArgs struct {
	SourceID string         `json:"source_id"`
	Params   map[string]any `json:"params"`
}

func fetchSourceQueryHandler(ctx context.Context, hctx *Context, raw []byte) agentsession.ExecutorResult {
	var args fetchSourceQueryArgs
	if res := decodeArgs(raw, &args); res != nil {
		return *res
	}
	if hctx.Fetcher == nil {
		return domainError(fmt.Errorf("fetch_source_query unavailable: no fetcher client configured"))
	}
	result, err := hctx.Fetcher.SourceQuery(ctx, args.SourceID, args.Params)
	if err != nil {
		return domainError(err)
	}
	return jsonOK(result)
}
