package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"autosint/internal/config"
	"autosint/internal/graph"
	"autosint/internal/store"
)

func analystCtx(t *testing.T) (*Context, *fakeGraph, *fakeStore, *fakeQueue, *fakeEmbedder) {
	t.Helper()
	g := newFakeGraph()
	s := &fakeStore{}
	q := &fakeQueue{}
	e := &fakeEmbedder{vec: []float32{0.1, 0.2}}
	hctx := &Context{
		Graph:    g,
		Store:    s,
		Queue:    q,
		Embedder: e,
		Limits:   config.ToolLimitsConfig{MaxSearchResults: 10, MaxEntityDetailChars: 1000, MaxClaimPreviewChars: 1000, MaxWorkOrdersPerCycle: 2},
		Counters: &Counters{},
		InvestigationID:       "inv-1",
		Cycle:                 1,
		MaxWorkOrdersPerCycle: 2,
	}
	return hctx, g, s, q, e
}

func TestGetEntityHandlerReturnsTruncatedDetail(t *testing.T) {
	hctx, g, _, _, _ := analystCtx(t)
	g.entities["e1"] = graph.Entity{ID: "e1", CanonicalName: "Acme", Summary: "a summary"}

	res := getEntityHandler(context.Background(), hctx, []byte(`{"id":"e1"}`))
	require.False(t, res.IsError)
	require.False(t, res.IsMalformed)
	var detail entityDetail
	require.NoError(t, json.Unmarshal([]byte(res.Content), &detail))
	require.Equal(t, "Acme", detail.CanonicalName)
}

func TestGetEntityHandlerMissingReturnsDomainError(t *testing.T) {
	hctx, _, _, _, _ := analystCtx(t)
	res := getEntityHandler(context.Background(), hctx, []byte(`{"id":"missing"}`))
	require.True(t, res.IsError)
	require.False(t, res.IsMalformed)
}

func TestGetEntityHandlerMalformedArgs(t *testing.T) {
	hctx, _, _, _, _ := analystCtx(t)
	res := getEntityHandler(context.Background(), hctx, []byte(`not json`))
	require.True(t, res.IsMalformed)
	require.True(t, res.IsError)
}

func TestSearchEntitiesSemanticRequiresEmbedder(t *testing.T) {
	hctx, _, _, _, _ := analystCtx(t)
	hctx.Embedder = nil
	res := searchEntitiesHandler(context.Background(), hctx, []byte(`{"query":"x","mode":"semantic"}`))
	require.True(t, res.IsError)
	require.False(t, res.IsMalformed)
}

func TestCreateWorkOrderRefusesAtCycleLimit(t *testing.T) {
	hctx, _, _, _, _ := analystCtx(t)
	hctx.Counters.WorkOrdersCreatedThisCycle.Store(2)
	res := createWorkOrderHandler(context.Background(), hctx, []byte(`{"objective":"dig"}`))
	require.True(t, res.IsError)
	require.False(t, res.IsMalformed)
}

func TestCreateWorkOrderPersistsEnqueuesAndIncrements(t *testing.T) {
	hctx, _, s, q, _ := analystCtx(t)
	res := createWorkOrderHandler(context.Background(), hctx, []byte(`{"objective":"dig up facts","priority":"high"}`))
	require.False(t, res.IsError)
	require.Equal(t, store.WorkOrderQueued, s.createdWorkOrder.Status)
	require.Equal(t, 1, hctx.Counters.WorkOrdersCreated())
	require.Len(t, q.enqueued, 1)
	require.Equal(t, "dig up facts", q.enqueued[0].Objective)
}

func TestProduceAssessmentRefusesWhenAlreadyProduced(t *testing.T) {
	hctx, _, _, _, _ := analystCtx(t)
	hctx.Counters.AssessmentProduced.Store(true)
	res := produceAssessmentHandler(context.Background(), hctx, []byte(`{"content":{},"confidence":"high"}`))
	require.True(t, res.IsError)
}

func TestProduceAssessmentSetsFlagAndEmbeds(t *testing.T) {
	hctx, _, s, _, _ := analystCtx(t)
	res := produceAssessmentHandler(context.Background(), hctx, []byte(`{"content":{"summary":"done"},"confidence":"high"}`))
	require.False(t, res.IsError)
	require.True(t, hctx.Counters.AssessmentProduced.Load())
	require.NotEmpty(t, s.createdAssessment.Embedding)
}

func TestMergeEntitiesHandlerDelegatesToGraph(t *testing.T) {
	hctx, g, _, _, _ := analystCtx(t)
	res := mergeEntitiesHandler(context.Background(), hctx, []byte(`{"source_id":"s1","target_id":"t1"}`))
	require.False(t, res.IsError)
	require.Equal(t, "s1", g.mergedSource)
	require.Equal(t, "t1", g.mergedTarget)
	require.Equal(t, int64(1), hctx.Counters.EntitiesWritten.Load())
}
