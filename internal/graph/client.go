package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"autosint/internal/breaker"
	"autosint/internal/config"
)

// ErrNotFound is returned when a write references an entity that does not
// exist in the graph (spec.md §4.4's "create claim" NotFound case).
var ErrNotFound = errors.New("graph: entity not found")

// Client is the knowledge-graph driver (C4), a hard dependency gated by a
// circuit breaker once WithBreaker is called.
type Client struct {
	driver    neo4j.DriverWithContext
	database  string
	embedDims int
	breaker   *breaker.Breaker
}

// New opens a Neo4j driver and verifies connectivity.
func New(ctx context.Context, cfg config.GraphConfig) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: open driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("graph: verify connectivity: %w", err)
	}
	return &Client{driver: driver, database: cfg.Database, embedDims: cfg.EmbeddingDimensions}, nil
}

// WithBreaker gates every subsequent call through b (spec.md §7's hard-
// dependency circuit breaking). A nil breaker leaves calls unguarded, which
// is what every existing test constructs without calling this.
func (c *Client) WithBreaker(b *breaker.Breaker) *Client {
	c.breaker = b
	return c
}

// guard runs fn through c's breaker when one is configured, recording the
// outcome as a single attempt regardless of how many retries fn performed
// internally (spec.md §7: retry wrapper first, breaker second).
func guard[T any](ctx context.Context, b *breaker.Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if b == nil {
		return fn(ctx)
	}
	return breaker.Do(ctx, b, fn)
}

// guardErr is guard for operations that only return an error.
func guardErr(ctx context.Context, b *breaker.Breaker, fn func(ctx context.Context) error) error {
	_, err := guard(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) session(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
}

// EnsureSchema issues every idempotent constraint/index command spec.md
// §4.4 names. Neo4j's `IF NOT EXISTS` forms make repeated calls safe.
func (c *Client) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE",
		"CREATE CONSTRAINT claim_id_unique IF NOT EXISTS FOR (c:Claim) REQUIRE c.id IS UNIQUE",
		"CREATE INDEX entity_kind IF NOT EXISTS FOR (e:Entity) ON (e.kind)",
		"CREATE INDEX entity_last_updated IF NOT EXISTS FOR (e:Entity) ON (e.last_updated)",
		"CREATE INDEX claim_published IF NOT EXISTS FOR (c:Claim) ON (c.published)",
		"CREATE INDEX claim_ingested IF NOT EXISTS FOR (c:Claim) ON (c.ingested)",
		"CREATE FULLTEXT INDEX entity_name_fulltext IF NOT EXISTS FOR (e:Entity) ON EACH [e.canonical_name, e.aliases_text]",
		"CREATE FULLTEXT INDEX claim_content_fulltext IF NOT EXISTS FOR (c:Claim) ON EACH [c.content]",
		"CREATE FULLTEXT INDEX relationship_description_fulltext IF NOT EXISTS FOR ()-[r:RELATES_TO]-() ON EACH [r.description]",
		fmt.Sprintf("CREATE VECTOR INDEX entity_embedding IF NOT EXISTS FOR (e:Entity) ON (e.embedding) OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}", c.embedDims),
		fmt.Sprintf("CREATE VECTOR INDEX claim_embedding IF NOT EXISTS FOR (c:Claim) ON (c.embedding) OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}", c.embedDims),
		fmt.Sprintf("CREATE VECTOR INDEX relationship_embedding IF NOT EXISTS FOR ()-[r:RELATES_TO]-() ON (r.embedding) OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}", c.embedDims),
	}
	session := c.session(ctx)
	defer session.Close(ctx)
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("graph: schema statement %q: %w", stmt, err)
		}
	}
	return nil
}

func flattenProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		key := "prop_" + k
		if s, ok := v.(string); ok {
			out[key] = s
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			out[key] = fmt.Sprintf("%v", v)
			continue
		}
		out[key] = string(b)
	}
	return out
}

func aliasesText(aliases []string) string {
	return strings.Join(aliases, " ")
}

// CreateEntity creates an entity node. embedding may be nil; embedding_pending
// is set to true whenever no embedding is supplied.
func (c *Client) CreateEntity(ctx context.Context, e Entity, embedding []float32) (Entity, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (Entity, error) {
		aliasesJSON, err := json.Marshal(e.Aliases)
		if err != nil {
			return Entity{}, fmt.Errorf("graph: marshal aliases: %w", err)
		}

		params := map[string]any{
			"id":                e.ID,
			"canonical_name":    e.CanonicalName,
			"kind":              e.Kind,
			"summary":           e.Summary,
			"stub":              e.Stub,
			"last_updated":      time.Now().UTC().Format(time.RFC3339Nano),
			"aliases_json":      string(aliasesJSON),
			"aliases_text":      aliasesText(e.Aliases),
			"embedding_pending": len(embedding) == 0,
		}
		if len(embedding) > 0 {
			params["embedding"] = embedding
		}
		for k, v := range flattenProperties(e.Properties) {
			params[k] = v
		}

		var setClauses []string
		for k := range params {
			setClauses = append(setClauses, fmt.Sprintf("e.%s = $%s", k, k))
		}
		cypher := fmt.Sprintf("CREATE (e:Entity) SET %s RETURN e", strings.Join(setClauses, ", "))

		session := c.session(ctx)
		defer session.Close(ctx)
		result, err := session.Run(ctx, cypher, params)
		if err != nil {
			return Entity{}, fmt.Errorf("graph: create entity: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return Entity{}, fmt.Errorf("graph: create entity round-trip: %w", err)
		}
		node, _ := record.Get("e")
		return entityFromNode(node.(neo4j.Node)), nil
	})
}

// CreateClaim runs the atomic create described in spec.md §4.4: validate the
// source entity exists, create the claim node, create the PUBLISHED edge,
// then a REFERENCES edge to each referenced entity.
func (c *Client) CreateClaim(ctx context.Context, claim Claim) (Claim, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (Claim, error) {
		session := c.session(ctx)
		defer session.Close(ctx)

		result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			exists, err := tx.Run(ctx, "MATCH (e:Entity {id: $id}) RETURN e.id", map[string]any{"id": claim.SourceEntityID})
			if err != nil {
				return nil, err
			}
			if _, err := exists.Single(ctx); err != nil {
				return nil, ErrNotFound
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
				// Always bound: the CREATE below references $embedding
				// unconditionally, unlike CreateEntity's dynamic SET clause.
				"embedding": claim.Embedding,
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
				return nil, err
			}
			record, err := created.Single(ctx)
			if err != nil {
				return nil, err
			}

			for _, refID := range claim.ReferencedEntities {
				refResult, err := tx.Run(ctx, `
					MATCH (c:Claim {id: $claim_id}), (ref:Entity {id: $ref_id})
					CREATE (c)-[:REFERENCES]->(ref)
				`, map[string]any{"claim_id": claim.ID, "ref_id": refID})
				if err != nil {
					return nil, err
				}
				if _, err := refResult.Consume(ctx); err != nil {
					return nil, err
				}
			}
			node, _ := record.Get("c")
			return node.(neo4j.Node), nil
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Claim{}, ErrNotFound
			}
			return Claim{}, fmt.Errorf("graph: create claim: %w", err)
		}

		out := claimFromNode(result.(neo4j.Node))
		out.SourceEntityID = claim.SourceEntityID
		out.ReferencedEntities = claim.ReferencedEntities
		return out, nil
	})
}

// CreateRelationship matches both endpoints in one statement and creates the
// RELATES_TO edge, setting only the non-nil attribute properties.
func (c *Client) CreateRelationship(ctx context.Context, r Relationship) (Relationship, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (Relationship, error) {
		params := map[string]any{
			"id":            r.ID,
			"source_id":     r.SourceID,
			"target_id":     r.TargetID,
			"description":   r.Description,
			"bidirectional": r.Bidirectional,
			"pending":       len(r.Embedding) == 0,
		}
		if r.Weight != nil {
			params["weight"] = *r.Weight
		}
		if r.Confidence != nil {
			params["confidence"] = *r.Confidence
		}
		if r.Timestamp != nil {
			params["timestamp"] = r.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		if len(r.Embedding) > 0 {
			params["embedding"] = r.Embedding
		}

		var setClauses []string
		for k := range params {
			if k == "source_id" || k == "target_id" {
				continue
			}
			setClauses = append(setClauses, fmt.Sprintf("rel.%s = $%s", k, k))
		}
		cypher := fmt.Sprintf(`
			MATCH (src:Entity {id: $source_id}), (tgt:Entity {id: $target_id})
			CREATE (src)-[rel:RELATES_TO]->(tgt)
			SET %s
			RETURN rel
		`, strings.Join(setClauses, ", "))

		session := c.session(ctx)
		defer session.Close(ctx)
		result, err := session.Run(ctx, cypher, params)
		if err != nil {
			return Relationship{}, fmt.Errorf("graph: create relationship: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return Relationship{}, fmt.Errorf("graph: create relationship round-trip: %w", err)
		}
		rel, _ := record.Get("rel")
		out := relationshipFromEdge(rel.(neo4j.Relationship))
		out.SourceID, out.TargetID = r.SourceID, r.TargetID
		return out, nil
	})
}

// MergeEntities folds source into target atomically per spec.md §4.4's
// seven-step merge: reassign PUBLISHED/REFERENCES edges, re-home RELATES_TO
// edges onto target (dropping duplicates touching source on both sides),
// union aliases, mark target's embedding pending, then delete source.
func (c *Client) MergeEntities(ctx context.Context, sourceID, targetID string) error {
	if sourceID == targetID {
		return fmt.Errorf("graph: merge requires distinct source and target")
	}
	return guardErr(ctx, c.breaker, func(ctx context.Context) error {
		return c.mergeEntitiesTx(ctx, sourceID, targetID)
	})
}

func (c *Client) mergeEntitiesTx(ctx context.Context, sourceID, targetID string) error {
	session := c.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		steps := []struct {
			cypher string
			params map[string]any
		}{
			{ // (a) reassign PUBLISHED
				`MATCH (src:Entity {id: $source})-[p:PUBLISHED]->(c:Claim)
				 MATCH (tgt:Entity {id: $target})
				 CREATE (tgt)-[:PUBLISHED]->(c)
				 DELETE p`,
				map[string]any{"source": sourceID, "target": targetID},
			},
			{ // (b) reassign inbound REFERENCES
				`MATCH (c:Claim)-[r:REFERENCES]->(src:Entity {id: $source})
				 MATCH (tgt:Entity {id: $target})
				 CREATE (c)-[:REFERENCES]->(tgt)
				 DELETE r`,
				map[string]any{"source": sourceID, "target": targetID},
			},
			{ // (c) outbound RELATES_TO, other != target
				`MATCH (src:Entity {id: $source})-[rel:RELATES_TO]->(other:Entity)
				 WHERE other.id <> $target AND other.id <> $source
				 MATCH (tgt:Entity {id: $target})
				 CREATE (tgt)-[newRel:RELATES_TO]->(other)
				 SET newRel = properties(rel)
				 DELETE rel`,
				map[string]any{"source": sourceID, "target": targetID},
			},
			{ // (d) inbound RELATES_TO, other != target
				`MATCH (other:Entity)-[rel:RELATES_TO]->(src:Entity {id: $source})
				 WHERE other.id <> $target AND other.id <> $source
				 MATCH (tgt:Entity {id: $target})
				 CREATE (other)-[newRel:RELATES_TO]->(tgt)
				 SET newRel = properties(rel)
				 DELETE rel`,
				map[string]any{"source": sourceID, "target": targetID},
			},
			{ // (e) delete any surviving RELATES_TO touching source
				`MATCH (src:Entity {id: $source})-[rel:RELATES_TO]-()
				 DELETE rel`,
				map[string]any{"source": sourceID},
			},
		}
		for _, step := range steps {
			res, err := tx.Run(ctx, step.cypher, step.params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		// (f) union aliases, refresh aliases_text, mark embedding_pending
		read, err := tx.Run(ctx, `
			MATCH (src:Entity {id: $source}), (tgt:Entity {id: $target})
			RETURN src.canonical_name AS src_name, src.aliases_json AS src_aliases,
			       tgt.aliases_json AS tgt_aliases
		`, map[string]any{"source": sourceID, "target": targetID})
		if err != nil {
			return nil, err
		}
		record, err := read.Single(ctx)
		if err != nil {
			return nil, err
		}
		srcName, _ := record.Get("src_name")
		srcAliasesJSON, _ := record.Get("src_aliases")
		tgtAliasesJSON, _ := record.Get("tgt_aliases")

		merged := unionAliases(srcName.(string), asJSONStringSlice(srcAliasesJSON), asJSONStringSlice(tgtAliasesJSON))
		mergedJSON, err := json.Marshal(merged)
		if err != nil {
			return nil, err
		}

		update, err := tx.Run(ctx, `
			MATCH (tgt:Entity {id: $target})
			SET tgt.aliases_json = $aliases_json, tgt.aliases_text = $aliases_text, tgt.embedding_pending = true
		`, map[string]any{
			"target":       targetID,
			"aliases_json": string(mergedJSON),
			"aliases_text": aliasesText(merged),
		})
		if err != nil {
			return nil, err
		}
		if _, err := update.Consume(ctx); err != nil {
			return nil, err
		}

		// (g) detach-delete source
		del, err := tx.Run(ctx, `MATCH (src:Entity {id: $source}) DETACH DELETE src`, map[string]any{"source": sourceID})
		if err != nil {
			return nil, err
		}
		_, err = del.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("graph: merge entities: %w", err)
	}
	return nil
}

func unionAliases(sourceName string, sourceAliases, targetAliases []string) []string {
	seen := make(map[string]bool, len(sourceAliases)+len(targetAliases)+1)
	var out []string
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, a := range targetAliases {
		add(a)
	}
	add(sourceName)
	for _, a := range sourceAliases {
		add(a)
	}
	return out
}

func asJSONStringSlice(v any) []string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func entityFromNode(n neo4j.Node) Entity {
	props := n.Props
	e := Entity{
		ID:            asString(props["id"]),
		CanonicalName: asString(props["canonical_name"]),
		Kind:          asString(props["kind"]),
		Summary:       asString(props["summary"]),
		Stub:          asBool(props["stub"]),
		Aliases:       asJSONStringSlice(props["aliases_json"]),
		Properties:    make(map[string]any),
	}
	if lu, ok := props["last_updated"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, lu); err == nil {
			e.LastUpdated = t
		}
	}
	if pending, ok := props["embedding_pending"].(bool); ok {
		e.EmbeddingPending = pending
	}
	for k, v := range props {
		if strings.HasPrefix(k, "prop_") {
			e.Properties[strings.TrimPrefix(k, "prop_")] = v
		}
	}
	return e
}

func claimFromNode(n neo4j.Node) Claim {
	props := n.Props
	c := Claim{
		ID:           asString(props["id"]),
		Content:      asString(props["content"]),
		RawSourceURL: asString(props["raw_source_url"]),
		Attribution:  AttributionDepth(asString(props["attribution"])),
		InfoType:     InformationType(asString(props["info_type"])),
		Pending:      asBool(props["pending"]),
	}
	if v, ok := props["published"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			c.Published = t
		}
	}
	if v, ok := props["ingested"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			c.Ingested = t
		}
	}
	return c
}

func relationshipFromEdge(r neo4j.Relationship) Relationship {
	props := r.Props
	rel := Relationship{
		ID:          asString(props["id"]),
		Description: asString(props["description"]),
		Pending:     asBool(props["pending"]),
	}
	if v, ok := props["bidirectional"].(bool); ok {
		rel.Bidirectional = v
	}
	if v, ok := props["weight"].(float64); ok {
		rel.Weight = &v
	}
	if v, ok := props["confidence"].(float64); ok {
		rel.Confidence = &v
	}
	return rel
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
