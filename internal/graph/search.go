package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrQueryEmbeddingRequired is returned when a Semantic-mode search is
// issued without a query embedding.
var ErrQueryEmbeddingRequired = fmt.Errorf("graph: semantic search requires a query embedding")

// SearchEntities implements spec.md §4.4's entity search: Semantic mode runs
// a vector k-NN, Keyword mode runs the fulltext name index, both filterable
// by kind.
func (c *Client) SearchEntities(ctx context.Context, opts EntitySearch) ([]Scored[Entity], error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if opts.Mode == SearchSemantic && len(opts.Embedding) == 0 {
		return nil, ErrQueryEmbeddingRequired
	}
	return guard(ctx, c.breaker, func(ctx context.Context) ([]Scored[Entity], error) {
		session := c.session(ctx)
		defer session.Close(ctx)

		var result neo4j.ResultWithContext
		var err error

		switch opts.Mode {
		case SearchSemantic:
			result, err = session.Run(ctx, `
				CALL db.index.vector.queryNodes('entity_embedding', $limit, $embedding)
				YIELD node, score
				WHERE $kind = '' OR node.kind = $kind
				RETURN node, score
			`, map[string]any{"limit": limit, "embedding": opts.Embedding, "kind": opts.Kind})
		case SearchKeyword:
			result, err = session.Run(ctx, `
				CALL db.index.fulltext.queryNodes('entity_name_fulltext', $query)
				YIELD node, score
				WHERE $kind = '' OR node.kind = $kind
				RETURN node, score
				LIMIT $limit
			`, map[string]any{"query": escapeLucene(opts.Query), "kind": opts.Kind, "limit": limit})
		default:
			return nil, fmt.Errorf("graph: unsupported search mode %q", opts.Mode)
		}
		if err != nil {
			return nil, fmt.Errorf("graph: search entities: %w", err)
		}

		var out []Scored[Entity]
		for result.Next(ctx) {
			record := result.Record()
			node, _ := record.Get("node")
			score, _ := record.Get("score")
			out = append(out, Scored[Entity]{Value: entityFromNode(node.(neo4j.Node)), Score: asFloat(score)})
		}
		return out, result.Err()
	})
}

// SearchClaims implements spec.md §4.4's claim search. A filter-only query
// (empty Query, no embedding) orders by descending ingested time with a
// constant score of 1.0.
func (c *Client) SearchClaims(ctx context.Context, opts ClaimSearch) ([]Scored[Claim], error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if opts.Mode == SearchSemantic && len(opts.Embedding) == 0 {
		return nil, ErrQueryEmbeddingRequired
	}
	return guard(ctx, c.breaker, func(ctx context.Context) ([]Scored[Claim], error) {
		session := c.session(ctx)
		defer session.Close(ctx)

		filters := "($source = '' OR EXISTS { MATCH (c)<-[:PUBLISHED]-(pub:Entity {id: $source}) })"
		filters += " AND ($attribution = '' OR c.attribution = $attribution)"
		filters += " AND ($from = '' OR c.published >= $from)"
		filters += " AND ($to = '' OR c.published <= $to)"

		params := map[string]any{
			"source":      opts.SourceEntity,
			"attribution": string(opts.Attribution),
			"from":        formatOptionalTime(opts.FromTime),
			"to":          formatOptionalTime(opts.ToTime),
			"limit":       limit,
		}

		var result neo4j.ResultWithContext
		var err error

		switch {
		case opts.Mode == SearchSemantic:
			params["embedding"] = opts.Embedding
			result, err = session.Run(ctx, fmt.Sprintf(`
				CALL db.index.vector.queryNodes('claim_embedding', $limit, $embedding)
				YIELD node AS c, score
				WHERE %s
				RETURN c, score
			`, filters), params)
		case opts.Mode == SearchKeyword:
			params["query"] = escapeLucene(opts.Query)
			result, err = session.Run(ctx, fmt.Sprintf(`
				CALL db.index.fulltext.queryNodes('claim_content_fulltext', $query)
				YIELD node AS c, score
				WHERE %s
				RETURN c, score
				LIMIT $limit
			`, filters), params)
		default:
			result, err = session.Run(ctx, fmt.Sprintf(`
				MATCH (c:Claim)
				WHERE %s
				RETURN c, 1.0 AS score
				ORDER BY c.ingested DESC
				LIMIT $limit
			`, filters), params)
		}
		if err != nil {
			return nil, fmt.Errorf("graph: search claims: %w", err)
		}

		var out []Scored[Claim]
		for result.Next(ctx) {
			record := result.Record()
			node, _ := record.Get("c")
			score, _ := record.Get("score")
			out = append(out, Scored[Claim]{Value: claimFromNode(node.(neo4j.Node)), Score: asFloat(score)})
		}
		return out, result.Err()
	})
}

// SearchRelationships implements spec.md §4.4's relationship search,
// optionally filtered to edges touching a specific endpoint id.
func (c *Client) SearchRelationships(ctx context.Context, opts RelationshipSearch) ([]Scored[Relationship], error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if opts.Mode == SearchSemantic && len(opts.Embedding) == 0 {
		return nil, ErrQueryEmbeddingRequired
	}
	return guard(ctx, c.breaker, func(ctx context.Context) ([]Scored[Relationship], error) {
		endpointFilter := "($endpoint = '' OR src.id = $endpoint OR tgt.id = $endpoint)"
		params := map[string]any{"endpoint": opts.EndpointID, "limit": limit}

		session := c.session(ctx)
		defer session.Close(ctx)

		var result neo4j.ResultWithContext
		var err error

		switch opts.Mode {
		case SearchSemantic:
			params["embedding"] = opts.Embedding
			result, err = session.Run(ctx, fmt.Sprintf(`
				CALL db.index.vector.queryRelationships('relationship_embedding', $limit, $embedding)
				YIELD relationship AS rel, score
				MATCH (src:Entity)-[rel]->(tgt:Entity)
				WHERE %s
				RETURN rel, src.id AS src_id, tgt.id AS tgt_id, score
			`, endpointFilter), params)
		case SearchKeyword:
			params["query"] = escapeLucene(opts.Query)
			result, err = session.Run(ctx, fmt.Sprintf(`
				CALL db.index.fulltext.queryRelationships('relationship_description_fulltext', $query)
				YIELD relationship AS rel, score
				MATCH (src:Entity)-[rel]->(tgt:Entity)
				WHERE %s
				RETURN rel, src.id AS src_id, tgt.id AS tgt_id, score
				LIMIT $limit
			`, endpointFilter), params)
		default:
			result, err = session.Run(ctx, fmt.Sprintf(`
				MATCH (src:Entity)-[rel:RELATES_TO]->(tgt:Entity)
				WHERE %s
				RETURN rel, src.id AS src_id, tgt.id AS tgt_id, 1.0 AS score
				LIMIT $limit
			`, endpointFilter), params)
		}
		if err != nil {
			return nil, fmt.Errorf("graph: search relationships: %w", err)
		}

		var out []Scored[Relationship]
		for result.Next(ctx) {
			record := result.Record()
			edge, _ := record.Get("rel")
			srcID, _ := record.Get("src_id")
			tgtID, _ := record.Get("tgt_id")
			score, _ := record.Get("score")
			rel := relationshipFromEdge(edge.(neo4j.Relationship))
			rel.SourceID, rel.TargetID = asString(srcID), asString(tgtID)
			out = append(out, Scored[Relationship]{Value: rel, Score: asFloat(score)})
		}
		return out, result.Err()
	})
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
