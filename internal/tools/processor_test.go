package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"autosint/internal/config"
	"autosint/internal/dedup"
	"autosint/internal/fetcher"
	"autosint/internal/graph"
)

func processorCtx(t *testing.T) (*Context, *fakeGraph, *fakeFetcher) {
	t.Helper()
	g := newFakeGraph()
	f := &fakeFetcher{}
	hctx := &Context{
		Graph:    g,
		Fetcher:  f,
		Limits:   config.ToolLimitsConfig{MaxSearchResults: 10, MaxEntityDetailChars: 1000, MaxClaimPreviewChars: 1000},
		Counters: &Counters{},
	}
	return hctx, g, f
}

func TestCreateEntityHandlerCreatesNewEntity(t *testing.T) {
	hctx, g, _ := processorCtx(t)
	cascade := dedup.New(g, nil, config.DedupConfig{FuzzyThreshold: 0.85, EmbeddingThreshold: 0.9, FulltextCandidates: 10})
	hctx.Dedup = cascade

	res := createEntityHandler(context.Background(), hctx, []byte(`{"canonical_name":"Acme Corp","kind":"organization"}`))
	require.False(t, res.IsError)
	require.Equal(t, "Acme Corp", g.createdEntity.CanonicalName)
	require.Equal(t, int64(1), hctx.Counters.EntitiesWritten.Load())
}

func TestCreateEntityHandlerDedupesExactMatch(t *testing.T) {
	hctx, g, _ := processorCtx(t)
	g.searchResult = []graph.Scored[graph.Entity]{{Value: graph.Entity{ID: "e1", CanonicalName: "Acme Corp"}}}
	g.entities["e1"] = graph.Entity{ID: "e1", CanonicalName: "Acme Corp"}
	hctx.Dedup = dedup.New(g, nil, config.DedupConfig{FuzzyThreshold: 0.85, EmbeddingThreshold: 0.9, FulltextCandidates: 10})

	res := createEntityHandler(context.Background(), hctx, []byte(`{"canonical_name":"Acme Corp","kind":"organization"}`))
	require.False(t, res.IsError)
	var out struct {
		ID           string `json:"ID"`
		Deduplicated bool   `json:"deduplicated"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	require.True(t, out.Deduplicated)
	require.Empty(t, g.createdEntity.ID) // CreateEntity never called
}

func TestCreateClaimHandlerRejectsInvalidTimestamp(t *testing.T) {
	hctx, _, _ := processorCtx(t)
	res := createClaimHandler(context.Background(), hctx, []byte(`{"content":"x","published":"not-a-time"}`))
	require.True(t, res.IsError)
	require.False(t, res.IsMalformed)
}

func TestCreateClaimHandlerSucceeds(t *testing.T) {
	hctx, g, _ := processorCtx(t)
	res := createClaimHandler(context.Background(), hctx, []byte(`{"content":"x","source_entity_id":"e1","attribution":"primary"}`))
	require.False(t, res.IsError)
	require.Equal(t, "x", g.createdClaim.Content)
	require.Equal(t, int64(1), hctx.Counters.ClaimsWritten.Load())
}

func TestCreateClaimHandlerPropagatesNotFound(t *testing.T) {
	hctx, g, _ := processorCtx(t)
	g.createErr = graph.ErrNotFound
	res := createClaimHandler(context.Background(), hctx, []byte(`{"content":"x","source_entity_id":"missing"}`))
	require.True(t, res.IsError)
	require.False(t, res.IsMalformed)
}

func TestUpdateRelationshipHandlerDelegates(t *testing.T) {
	hctx, _, _ := processorCtx(t)
	res := updateRelationshipHandler(context.Background(), hctx, []byte(`{"id":"r1","weight":0.5}`))
	require.False(t, res.IsError)
	require.Equal(t, int64(1), hctx.Counters.RelationshipsWritten.Load())
}

func TestBatchExtractResolvesLocalRefsAcrossEntitiesClaimsRelationships(t *testing.T) {
	hctx, g, _ := processorCtx(t)
	payload := `{
		"entities": [
			{"ref":"a", "canonical_name":"Alice", "kind":"person"},
			{"ref":"b", "canonical_name":"Bob", "kind":"person"}
		],
		"claims": [
			{"source_ref":"a", "content":"Alice met Bob", "attribution":"primary", "referenced_refs":["b"]}
		],
		"relationships": [
			{"source_ref":"a", "target_ref":"b", "description":"knows"}
		]
	}`
	res := batchExtractHandler(context.Background(), hctx, []byte(payload))
	require.False(t, res.IsError)

	var out batchExtractResult
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	require.Equal(t, 2, out.EntitiesCreated)
	require.Equal(t, 1, out.ClaimsCreated)
	require.Equal(t, 1, out.RelationshipsCreated)
	require.Empty(t, out.Errors)

	aliasID := out.EntityIDs["a"]
	bobID := out.EntityIDs["b"]
	require.NotEmpty(t, aliasID)
	require.NotEmpty(t, bobID)
	require.Equal(t, aliasID, g.createdRel.SourceID)
	require.Equal(t, bobID, g.createdRel.TargetID)
	require.Contains(t, g.createdClaim.ReferencedEntities, bobID)
}

func TestBatchExtractRecordsPerItemErrorsWithoutAbortingBatch(t *testing.T) {
	hctx, g, _ := processorCtx(t)
	g.createErr = errBoom
	payload := `{"entities":[{"ref":"a","canonical_name":"Alice"}]}`
	res := batchExtractHandler(context.Background(), hctx, []byte(payload))
	require.False(t, res.IsError)

	var out batchExtractResult
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	require.Len(t, out.Errors, 1)
	require.Equal(t, 0, out.EntitiesCreated)
}

func TestFetchURLHandlerRequiresFetcher(t *testing.T) {
	hctx, _, _ := processorCtx(t)
	hctx.Fetcher = nil
	res := fetchURLHandler(context.Background(), hctx, []byte(`{"url":"http://example.com"}`))
	require.True(t, res.IsError)
	require.False(t, res.IsMalformed)
}

func TestFetchURLHandlerReturnsResult(t *testing.T) {
	hctx, _, f := processorCtx(t)
	f.fetchResult = fetcher.FetchResult{Content: "hello"}
	res := fetchURLHandler(context.Background(), hctx, []byte(`{"url":"http://example.com"}`))
	require.False(t, res.IsError)
	require.Contains(t, res.Content, "hello")
}

func TestWebSearchHandlerReturnsResults(t *testing.T) {
	hctx, _, f := processorCtx(t)
	f.searchResult = fetcher.SearchResponse{Query: "acme", Results: []fetcher.SearchResult{{URL: "http://acme.test"}}}
	res := webSearchHandler(context.Background(), hctx, []byte(`{"query":"acme"}`))
	require.False(t, res.IsError)
	require.Contains(t, res.Content, "acme.test")
}
