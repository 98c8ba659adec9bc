// Package graph is the AutOSINT knowledge-graph client (C4): entity, claim
// and relationship CRUD, merge, and search, backed by Neo4j.
package graph

import "time"

// Entity is a node in the knowledge graph (spec.md §3).
type Entity struct {
	ID               string
	CanonicalName    string
	Aliases          []string
	Kind             string
	Summary          string
	Stub             bool
	LastUpdated      time.Time
	Properties       map[string]any
	Embedding        []float32
	EmbeddingPending bool
}

// AttributionDepth classifies how directly a claim traces to its source.
type AttributionDepth string

const (
	AttributionPrimary    AttributionDepth = "primary"
	AttributionSecondhand AttributionDepth = "secondhand"
	AttributionIndirect   AttributionDepth = "indirect"
)

// InformationType classifies the nature of a claim's content.
type InformationType string

const (
	InfoAssertion InformationType = "assertion"
	InfoAnalysis  InformationType = "analysis"
	InfoDiscourse InformationType = "discourse"
	InfoTestimony InformationType = "testimony"
)

// Claim is an information unit attached to the graph via a PUBLISHED edge
// from its source entity and REFERENCES edges to the entities it mentions.
type Claim struct {
	ID                string
	Content           string
	Published         time.Time
	Ingested          time.Time
	RawSourceURL      string
	Attribution       AttributionDepth
	InfoType          InformationType
	SourceEntityID    string
	ReferencedEntities []string
	Embedding         []float32
	Pending           bool
}

// Relationship is a RELATES_TO edge between two entities.
type Relationship struct {
	ID            string
	SourceID      string
	TargetID      string
	Description   string
	Weight        *float64
	Confidence    *float64
	Bidirectional bool
	Timestamp     *time.Time
	Embedding     []float32
	Pending       bool
}

// SearchMode selects between vector similarity and fulltext keyword search.
type SearchMode string

const (
	SearchSemantic SearchMode = "semantic"
	SearchKeyword  SearchMode = "keyword"
)

// Scored wraps a result with its relevance score. Filter-only results
// (no query, ordered by timestamp) carry a constant score of 1.0.
type Scored[T any] struct {
	Value T
	Score float64
}

// EntitySearch parameters (spec.md §4.4 "Searches").
type EntitySearch struct {
	Mode      SearchMode
	Query     string
	Embedding []float32
	Kind      string
	Limit     int
}

// ClaimSearch parameters.
type ClaimSearch struct {
	Mode          SearchMode
	Query         string
	Embedding     []float32
	SourceEntity  string
	FromTime      *time.Time
	ToTime        *time.Time
	Attribution   AttributionDepth
	Limit         int
}

// RelationshipSearch parameters.
type RelationshipSearch struct {
	Mode   SearchMode
	Query  string
	Embedding []float32
	EndpointID string
	Limit  int
}
