package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"autosint/internal/config"
	"autosint/internal/graph"
)

type fakeProbe struct {
	keyword  []graph.Scored[graph.Entity]
	semantic []graph.Scored[graph.Entity]
}

func (f *fakeProbe) SearchEntities(ctx context.Context, opts graph.EntitySearch) ([]graph.Scored[graph.Entity], error) {
	if opts.Mode == graph.SearchSemantic {
		return f.semantic, nil
	}
	return f.keyword, nil
}

func testCfg() config.DedupConfig {
	return config.DedupConfig{FuzzyThreshold: 0.85, EmbeddingThreshold: 0.9, FulltextCandidates: 10}
}

func TestCheckExactMatchCaseInsensitive(t *testing.T) {
	probe := &fakeProbe{keyword: []graph.Scored[graph.Entity]{
		{Value: graph.Entity{ID: "e1", CanonicalName: "Acme Corp"}},
	}}
	c := New(probe, nil, testCfg())
	m, err := c.Check(context.Background(), "acme corp", nil)
	require.NoError(t, err)
	require.Equal(t, MatchExact, m.Kind)
	require.Equal(t, "e1", m.EntityID)
}

func TestCheckExactMatchAgainstAlias(t *testing.T) {
	probe := &fakeProbe{keyword: []graph.Scored[graph.Entity]{
		{Value: graph.Entity{ID: "e1", CanonicalName: "Acme Corporation", Aliases: []string{"Acme Corp"}}},
	}}
	c := New(probe, nil, testCfg())
	m, err := c.Check(context.Background(), "acme corp", nil)
	require.NoError(t, err)
	require.Equal(t, MatchExact, m.Kind)
}

func TestCheckFuzzyMatchAboveThreshold(t *testing.T) {
	probe := &fakeProbe{keyword: []graph.Scored[graph.Entity]{
		{Value: graph.Entity{ID: "e1", CanonicalName: "Acme Corpration"}}, // typo, close to "Acme Corporation"
	}}
	c := New(probe, nil, testCfg())
	m, err := c.Check(context.Background(), "Acme Corporation", nil)
	require.NoError(t, err)
	require.Equal(t, MatchProbable, m.Kind)
	require.Equal(t, "fuzzy", m.Stage)
}

func TestCheckNoMatchWithoutCandidates(t *testing.T) {
	probe := &fakeProbe{}
	c := New(probe, nil, testCfg())
	m, err := c.Check(context.Background(), "Totally Novel Entity", nil)
	require.NoError(t, err)
	require.Equal(t, MatchNone, m.Kind)
}

func TestCheckEmbeddingMatchAboveThreshold(t *testing.T) {
	probe := &fakeProbe{
		keyword:  nil,
		semantic: []graph.Scored[graph.Entity]{{Value: graph.Entity{ID: "e2", CanonicalName: "Something Else"}, Score: 0.95}},
	}
	c := New(probe, nil, testCfg())
	m, err := c.Check(context.Background(), "Brand New Name", []float32{0.1, 0.2, 0.3})
	require.NoError(t, err)
	require.Equal(t, MatchProbable, m.Kind)
	require.Equal(t, "embedding", m.Stage)
	require.Equal(t, "e2", m.EntityID)
}

type fakeJudge struct {
	confidence float64
	ok         bool
}

func (f *fakeJudge) JudgeMatch(ctx context.Context, candidateName string, nearMiss graph.Entity) (float64, bool, error) {
	return f.confidence, f.ok, nil
}

func TestCheckFallsThroughToLLMJudgment(t *testing.T) {
	probe := &fakeProbe{keyword: []graph.Scored[graph.Entity]{
		{Value: graph.Entity{ID: "e3", CanonicalName: "Somewhat Similar"}},
	}}
	judge := &fakeJudge{confidence: 0.6, ok: true}
	c := New(probe, judge, testCfg())
	m, err := c.Check(context.Background(), "Rather Different Name", nil)
	require.NoError(t, err)
	require.Equal(t, MatchProbable, m.Kind)
	require.Equal(t, "llm_judgment", m.Stage)
	require.Equal(t, "e3", m.EntityID)
}
