package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// RelationshipPatch carries the fields update_relationship may change;
// nil fields are left untouched.
type RelationshipPatch struct {
	Description   *string
	Weight        *float64
	Confidence    *float64
	Bidirectional *bool
	Embedding     []float32
}

// UpdateRelationship applies patch to an existing RELATES_TO edge. Supplying
// an embedding clears pending.
func (c *Client) UpdateRelationship(ctx context.Context, id string, patch RelationshipPatch) (Relationship, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (Relationship, error) {
		params := map[string]any{"id": id}
		var setClauses []string

		if patch.Description != nil {
			params["description"] = *patch.Description
			setClauses = append(setClauses, "rel.description = $description")
		}
		if patch.Weight != nil {
			params["weight"] = *patch.Weight
			setClauses = append(setClauses, "rel.weight = $weight")
		}
		if patch.Confidence != nil {
			params["confidence"] = *patch.Confidence
			setClauses = append(setClauses, "rel.confidence = $confidence")
		}
		if patch.Bidirectional != nil {
			params["bidirectional"] = *patch.Bidirectional
			setClauses = append(setClauses, "rel.bidirectional = $bidirectional")
		}
		if len(patch.Embedding) > 0 {
			params["embedding"] = patch.Embedding
			params["pending"] = false
			setClauses = append(setClauses, "rel.embedding = $embedding", "rel.pending = $pending")
		}
		if len(setClauses) == 0 {
			return c.getRelationship(ctx, id)
		}

		cypher := fmt.Sprintf("MATCH ()-[rel:RELATES_TO {id: $id}]-() SET %s RETURN rel, startNode(rel).id AS src_id, endNode(rel).id AS tgt_id", strings.Join(setClauses, ", "))
		session := c.session(ctx)
		defer session.Close(ctx)
		result, err := session.Run(ctx, cypher, params)
		if err != nil {
			return Relationship{}, fmt.Errorf("graph: update relationship: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return Relationship{}, ErrNotFound
		}
		edge, _ := record.Get("rel")
		srcID, _ := record.Get("src_id")
		tgtID, _ := record.Get("tgt_id")
		out := relationshipFromEdge(edge.(neo4j.Relationship))
		out.SourceID, out.TargetID = asString(srcID), asString(tgtID)
		return out, nil
	})
}

// getRelationship's only caller, UpdateRelationship, is already running
// inside a guarded closure, so this helper does not guard itself.
func (c *Client) getRelationship(ctx context.Context, id string) (Relationship, error) {
	session := c.session(ctx)
	defer session.Close(ctx)
	result, err := session.Run(ctx, `
		MATCH ()-[rel:RELATES_TO {id: $id}]-()
		RETURN rel, startNode(rel).id AS src_id, endNode(rel).id AS tgt_id
	`, map[string]any{"id": id})
	if err != nil {
		return Relationship{}, fmt.Errorf("graph: get relationship: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return Relationship{}, ErrNotFound
	}
	edge, _ := record.Get("rel")
	srcID, _ := record.Get("src_id")
	tgtID, _ := record.Get("tgt_id")
	out := relationshipFromEdge(edge.(neo4j.Relationship))
	out.SourceID, out.TargetID = asString(srcID), asString(tgtID)
	return out, nil
}
