package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// PendingEntities returns up to limit entities with embedding_pending = true
// (spec.md §4.10).
func (c *Client) PendingEntities(ctx context.Context, limit int) ([]Entity, error) {
	session := c.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity {embedding_pending: true})
		RETURN e
		LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("graph: pending entities: %w", err)
	}

	var out []Entity
	for result.Next(ctx) {
		node, _ := result.Record().Get("e")
		out = append(out, entityFromNode(node.(neo4j.Node)))
	}
	return out, result.Err()
}

// SetEntityEmbedding writes a computed embedding and clears embedding_pending.
func (c *Client) SetEntityEmbedding(ctx context.Context, id string, embedding []float32) error {
	session := c.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity {id: $id})
		SET e.embedding = $embedding, e.embedding_pending = false
	`, map[string]any{"id": id, "embedding": embedding})
	if err != nil {
		return fmt.Errorf("graph: set entity embedding: %w", err)
	}
	_, err = result.Consume(ctx)
	return err
}

// PendingClaims returns up to limit claims with pending = true.
func (c *Client) PendingClaims(ctx context.Context, limit int) ([]Claim, error) {
	session := c.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (c:Claim {pending: true})
		RETURN c
		LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("graph: pending claims: %w", err)
	}

	var out []Claim
	for result.Next(ctx) {
		node, _ := result.Record().Get("c")
		out = append(out, claimFromNode(node.(neo4j.Node)))
	}
	return out, result.Err()
}

// SetClaimEmbedding writes a computed embedding and clears pending.
func (c *Client) SetClaimEmbedding(ctx context.Context, id string, embedding []float32) error {
	session := c.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (c:Claim {id: $id})
		SET c.embedding = $embedding, c.pending = false
	`, map[string]any{"id": id, "embedding": embedding})
	if err != nil {
		return fmt.Errorf("graph: set claim embedding: %w", err)
	}
	_, err = result.Consume(ctx)
	return err
}

// PendingRelationships returns up to limit RELATES_TO edges with
// pending = true.
func (c *Client) PendingRelationships(ctx context.Context, limit int) ([]Relationship, error) {
	session := c.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (src:Entity)-[rel:RELATES_TO {pending: true}]->(tgt:Entity)
		RETURN DISTINCT rel, src.id AS src_id, tgt.id AS tgt_id
		LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("graph: pending relationships: %w", err)
	}

	var out []Relationship
	for result.Next(ctx) {
		record := result.Record()
		edge, _ := record.Get("rel")
		srcID, _ := record.Get("src_id")
		tgtID, _ := record.Get("tgt_id")
		rel := relationshipFromEdge(edge.(neo4j.Relationship))
		rel.SourceID, rel.TargetID = asString(srcID), asString(tgtID)
		out = append(out, rel)
	}
	return out, result.Err()
}

// SetRelationshipEmbedding writes a computed embedding and clears pending.
func (c *Client) SetRelationshipEmbedding(ctx context.Context, id string, embedding []float32) error {
	session := c.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH ()-[rel:RELATES_TO {id: $id}]-()
		SET rel.embedding = $embedding, rel.pending = false
	`, map[string]any{"id": id, "embedding": embedding})
	if err != nil {
		return fmt.Errorf("graph: set relationship embedding: %w", err)
	}
	_, err = result.Consume(ctx)
	return err
}
