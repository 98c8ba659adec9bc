package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// EntityPatch carries the fields update_entity may change; nil/zero fields
// are left untouched. AddAliases is unioned into the existing alias list
// rather than replacing it.
type EntityPatch struct {
	Summary    *string
	Kind       *string
	Properties map[string]any
	AddAliases []string
	Embedding  []float32
}

// GetEntity loads a single entity by id.
func (c *Client) GetEntity(ctx context.Context, id string) (Entity, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (Entity, error) {
		session := c.session(ctx)
		defer session.Close(ctx)

		result, err := session.Run(ctx, "MATCH (e:Entity {id: $id}) RETURN e", map[string]any{"id": id})
		if err != nil {
			return Entity{}, fmt.Errorf("graph: get entity: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return Entity{}, ErrNotFound
		}
		node, _ := record.Get("e")
		return entityFromNode(node.(neo4j.Node)), nil
	})
}

// UpdateEntity applies patch to an existing entity and refreshes
// last_updated. Supplying an embedding clears embedding_pending.
func (c *Client) UpdateEntity(ctx context.Context, id string, patch EntityPatch) (Entity, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (Entity, error) {
		session := c.session(ctx)
		defer session.Close(ctx)

		node, err := c.applyEntityPatch(ctx, session, id, patch)
		if err != nil {
			return Entity{}, err
		}
		return entityFromNode(node), nil
	})
}

// UpdateEntityWithChangeClaim atomically updates an entity and records a
// claim describing the change, both in one transaction. The target entity
// id is added to the claim's referenced entities if not already present.
func (c *Client) UpdateEntityWithChangeClaim(ctx context.Context, id string, patch EntityPatch, changeClaim Claim) (Entity, Claim, error) {
	found := false
	for _, ref := range changeClaim.ReferencedEntities {
		if ref == id {
			found = true
			break
		}
	}
	if !found {
		changeClaim.ReferencedEntities = append(changeClaim.ReferencedEntities, id)
	}

	type outcome struct {
		entity Entity
		claim  Claim
	}
	out, err := guard(ctx, c.breaker, func(ctx context.Context) (outcome, error) {
		session := c.session(ctx)
		defer session.Close(ctx)

		result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			node, err := c.applyEntityPatchTx(ctx, tx, id, patch)
			if err != nil {
				return nil, err
			}
			claimNode, err := c.createClaimTx(ctx, tx, changeClaim)
			if err != nil {
				return nil, err
			}
			return outcome{entity: entityFromNode(node), claim: claimNode}, nil
		})
		if err != nil {
			return outcome{}, err
		}
		return result.(outcome), nil
	})
	if err != nil {
		if err == ErrNotFound {
			return Entity{}, Claim{}, ErrNotFound
		}
		return Entity{}, Claim{}, fmt.Errorf("graph: update entity with change claim: %w", err)
	}
	return out.entity, out.claim, nil
}

func (c *Client) applyEntityPatch(ctx context.Context, session neo4j.SessionWithContext, id string, patch EntityPatch) (neo4j.Node, error) {
	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return c.applyEntityPatchTx(ctx, tx, id, patch)
	})
	if err != nil {
		if err == ErrNotFound {
			return neo4j.Node{}, ErrNotFound
		}
		return neo4j.Node{}, fmt.Errorf("graph: update entity: %w", err)
	}
	return result.(neo4j.Node), nil
}

func (c *Client) applyEntityPatchTx(ctx context.Context, tx neo4j.ManagedTransaction, id string, patch EntityPatch) (neo4j.Node, error) {
	existing, err := tx.Run(ctx, "MATCH (e:Entity {id: $id}) RETURN e.aliases_json AS aliases_json", map[string]any{"id": id})
	if err != nil {
		return neo4j.Node{}, err
	}
	record, err := existing.Single(ctx)
	if err != nil {
		return neo4j.Node{}, ErrNotFound
	}
	currentAliasesJSON, _ := record.Get("aliases_json")

	params := map[string]any{"id": id, "last_updated": time.Now().UTC().Format(time.RFC3339Nano)}
	setClauses := []string{"e.last_updated = $last_updated"}

	if patch.Summary != nil {
		params["summary"] = *patch.Summary
		setClauses = append(setClauses, "e.summary = $summary")
	}
	if patch.Kind != nil {
		params["kind"] = *patch.Kind
		setClauses = append(setClauses, "e.kind = $kind")
	}
	for k, v := range flattenProperties(patch.Properties) {
		params[k] = v
		setClauses = append(setClauses, fmt.Sprintf("e.%s = $%s", k, k))
	}
	if len(patch.AddAliases) > 0 {
		merged := unionAliases("", asJSONStringSlice(currentAliasesJSON), patch.AddAliases)
		aliasesJSON, _ := json.Marshal(merged)
		params["aliases_json"] = string(aliasesJSON)
		params["aliases_text"] = aliasesText(merged)
		setClauses = append(setClauses, "e.aliases_json = $aliases_json", "e.aliases_text = $aliases_text")
	}
	if len(patch.Embedding) > 0 {
		params["embedding"] = patch.Embedding
		params["embedding_pending"] = false
		setClauses = append(setClauses, "e.embedding = $embedding", "e.embedding_pending = $embedding_pending")
	}

	cypher := fmt.Sprintf("MATCH (e:Entity {id: $id}) SET %s RETURN e", strings.Join(setClauses, ", "))
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return neo4j.Node{}, err
	}
	updated, err := result.Single(ctx)
	if err != nil {
		return neo4j.Node{}, err
	}
	node, _ := updated.Get("e")
	return node.(neo4j.Node), nil
}

// createClaimTx is CreateClaim's transaction body, factored out so
// UpdateEntityWithChangeClaim can run it inside its own transaction.
func (c *Client) createClaimTx(ctx context.Context, tx neo4j.ManagedTransaction, claim Claim) (Claim, error) {
	exists, err := tx.Run(ctx, "MATCH (e:Entity {id: $id}) RETURN e.id", map[string]any{"id": claim.SourceEntityID})
	if err != nil {
		return Claim{}, err
	}
	if _, err := exists.Single(ctx); err != nil {
		return Claim{}, ErrNotFound
	}

	params := map[string]any{
		"id":             claim.ID,
		"content":        claim.Content,
		"published":      claim.Published.UTC().Format(time.RFC3339Nano),
		"ingested":       claim.Ingested.UTC().Format(time.RFC3339Nano),
		"raw_source_url": claim.RawSourceURL,
		"attribution":    string(claim.Attribution),
		"info_type":      string(claim.InfoType),
		"pending":        len(claim.Embedding) == 0,
		"source_id":      claim.SourceEntityID,
		"embedding":      claim.Embedding,
	}

	created, err := tx.Run(ctx, `
		MATCH (src:Entity {id: $source_id})
		CREATE (c:Claim {
			id: $id, content: $content, published: $published, ingested: $ingested,
			raw_source_url: $raw_source_url, attribution: $attribution, info_type: $info_type,
			pending: $pending, embedding: $embedding
		})
		CREATE (src)-[:PUBLISHED]->(c)
		RETURN c
	`, params)
	if err != nil {
		return Claim{}, err
	}
	record, err := created.Single(ctx)
	if err != nil {
		return Claim{}, err
	}
	for _, refID := range claim.ReferencedEntities {
		refResult, err := tx.Run(ctx, `
			MATCH (c:Claim {id: $claim_id}), (ref:Entity {id: $ref_id})
			CREATE (c)-[:REFERENCES]->(ref)
		`, map[string]any{"claim_id": claim.ID, "ref_id": refID})
		if err != nil {
			return Claim{}, err
		}
		if _, err := refResult.Consume(ctx); err != nil {
			return Claim{}, err
		}
	}
	node, _ := record.Get("c")
	out := claimFromNode(node.(neo4j.Node))
	out.SourceEntityID = claim.SourceEntityID
	out.ReferencedEntities = claim.ReferencedEntities
	return out, nil
}

// TraverseRelationships walks RELATES_TO edges outward from an entity up to
// maxHops, returning every distinct edge encountered with a constant score
// of 1.0 (this is a graph walk, not a relevance-ranked search).
func (c *Client) TraverseRelationships(ctx context.Context, entityID string, maxHops, limit int) ([]Scored[Relationship], error) {
	if maxHops <= 0 {
		maxHops = 1
	}
	if limit <= 0 {
		limit = 50
	}
	return guard(ctx, c.breaker, func(ctx context.Context) ([]Scored[Relationship], error) {
		session := c.session(ctx)
		defer session.Close(ctx)

		result, err := session.Run(ctx, fmt.Sprintf(`
			MATCH path = (e:Entity {id: $id})-[:RELATES_TO*1..%d]-(:Entity)
			UNWIND relationships(path) AS rel
			WITH DISTINCT rel, startNode(rel) AS src, endNode(rel) AS tgt
			RETURN rel, src.id AS src_id, tgt.id AS tgt_id
			LIMIT $limit
		`, maxHops), map[string]any{"id": entityID, "limit": limit})
		if err != nil {
			return nil, fmt.Errorf("graph: traverse relationships: %w", err)
		}

		var out []Scored[Relationship]
		for result.Next(ctx) {
			record := result.Record()
			edge, _ := record.Get("rel")
			srcID, _ := record.Get("src_id")
			tgtID, _ := record.Get("tgt_id")
			rel := relationshipFromEdge(edge.(neo4j.Relationship))
			rel.SourceID, rel.TargetID = asString(srcID), asString(tgtID)
			out = append(out, Scored[Relationship]{Value: rel, Score: 1.0})
		}
		return out, result.Err()
	})
}
