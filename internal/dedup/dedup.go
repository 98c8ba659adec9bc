// Package dedup implements the four-stage entity deduplication cascade
// (C3): exact string match, fuzzy string match, embedding similarity, and
// an optional LLM judgment hook, short-circuiting on the first hit.
package dedup

import (
	"context"
	"strings"

	"github.com/xrash/smetrics"

	"autosint/internal/config"
	"autosint/internal/graph"
)

// MatchKind classifies a Check result.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchProbable MatchKind = "probable"
	MatchNone     MatchKind = "none"
)

// Match is the cascade's output. Callers treat MatchExact and MatchProbable
// identically: return the existing identifier, do not create a new entity.
type Match struct {
	Kind       MatchKind
	EntityID   string
	Confidence float64
	Stage      string
}

// GraphProbe is the subset of internal/graph.Client the cascade depends on,
// narrowed so tests can substitute a fake without a live Neo4j instance.
type GraphProbe interface {
	SearchEntities(ctx context.Context, opts graph.EntitySearch) ([]graph.Scored[graph.Entity], error)
}

// Judge is the optional LLM judgment hook (stage 4). It may be nil.
type Judge interface {
	JudgeMatch(ctx context.Context, candidateName string, nearMiss graph.Entity) (confidence float64, ok bool, err error)
}

// Cascade runs the four-stage dedup pipeline against a graph client.
type Cascade struct {
	probe GraphProbe
	judge Judge
	cfg   config.DedupConfig
}

func New(probe GraphProbe, judge Judge, cfg config.DedupConfig) *Cascade {
	return &Cascade{probe: probe, judge: judge, cfg: cfg}
}

// Check runs the cascade for a candidate entity. embedding may be nil, in
// which case stage 3 is skipped per spec.md §4.3.
func (c *Cascade) Check(ctx context.Context, candidateName string, embedding []float32) (Match, error) {
	candidates, err := c.probe.SearchEntities(ctx, graph.EntitySearch{
		Mode:  graph.SearchKeyword,
		Query: candidateName,
		Limit: c.fulltextCandidates(),
	})
	if err != nil {
		return Match{}, err
	}

	folded := strings.ToLower(strings.TrimSpace(candidateName))

	// Stage 1: exact string match.
	for _, cand := range candidates {
		if strings.ToLower(cand.Value.CanonicalName) == folded {
			return Match{Kind: MatchExact, EntityID: cand.Value.ID}, nil
		}
		for _, alias := range cand.Value.Aliases {
			if strings.ToLower(alias) == folded {
				return Match{Kind: MatchExact, EntityID: cand.Value.ID}, nil
			}
		}
	}

	// Stage 2: fuzzy string match.
	bestID := ""
	bestScore := 0.0
	bestEntity := graph.Entity{}
	for _, cand := range candidates {
		score := bestJaroWinkler(folded, cand.Value)
		if score > bestScore {
			bestScore, bestID, bestEntity = score, cand.Value.ID, cand.Value
		}
	}
	if bestID != "" && bestScore >= c.cfg.FuzzyThreshold {
		return Match{Kind: MatchProbable, EntityID: bestID, Confidence: bestScore, Stage: "fuzzy"}, nil
	}
	fuzzyBestID, fuzzyBestScore, fuzzyBestEntity := bestID, bestScore, bestEntity

	// Stage 3: embedding similarity, only when a candidate embedding exists.
	embedBestID, embedBestScore, embedBestEntity := "", 0.0, graph.Entity{}
	if len(embedding) > 0 {
		knn, err := c.probe.SearchEntities(ctx, graph.EntitySearch{
			Mode:      graph.SearchSemantic,
			Embedding: embedding,
			Limit:     5,
		})
		if err != nil {
			return Match{}, err
		}
		if len(knn) > 0 {
			top := knn[0]
			embedBestID, embedBestScore, embedBestEntity = top.Value.ID, top.Score, top.Value
			if top.Score >= c.cfg.EmbeddingThreshold {
				return Match{Kind: MatchProbable, EntityID: top.Value.ID, Confidence: top.Score, Stage: "embedding"}, nil
			}
		}
	}

	// Stage 4: optional LLM judgment against the best overall near-miss.
	nearMissID, nearMissEntity := fuzzyBestID, fuzzyBestEntity
	if embedBestScore > fuzzyBestScore {
		nearMissID, nearMissEntity = embedBestID, embedBestEntity
	}
	if c.judge != nil && nearMissID != "" {
		confidence, ok, err := c.judge.JudgeMatch(ctx, candidateName, nearMissEntity)
		if err != nil {
			return Match{}, err
		}
		if ok {
			return Match{Kind: MatchProbable, EntityID: nearMissID, Confidence: confidence, Stage: "llm_judgment"}, nil
		}
	}

	return Match{Kind: MatchNone}, nil
}

func (c *Cascade) fulltextCandidates() int {
	if c.cfg.FulltextCandidates <= 0 {
		return 10
	}
	return c.cfg.FulltextCandidates
}

// bestJaroWinkler returns the highest Jaro-Winkler similarity between
// candidateFolded and entity's canonical name and every alias.
func bestJaroWinkler(candidateFolded string, entity graph.Entity) float64 {
	best := smetrics.JaroWinkler(candidateFolded, strings.ToLower(entity.CanonicalName), 0.7, 4)
	for _, alias := range entity.Aliases {
		if score := smetrics.JaroWinkler(candidateFolded, strings.ToLower(alias), 0.7, 4); score > best {
			best = score
		}
	}
	return best
}
