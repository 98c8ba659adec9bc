package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"autosint/internal/breaker"
	"autosint/internal/config"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("store: not found")

// querier is the subset of pgx used by Client, narrowed for testability.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client is the relational store (C5) for investigations, work orders and
// assessments, a hard dependency gated by a circuit breaker once WithBreaker
// is called.
type Client struct {
	pool    querier
	raw     *pgxpool.Pool
	breaker *breaker.Breaker
}

// New connects a pgx pool against cfg.DSN, registering the pgvector
// extension's wire codecs on every new connection.
func New(ctx context.Context, cfg config.StoreConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Client{pool: pool, raw: pool}, nil
}

// WithBreaker gates every subsequent call through b (spec.md §7's hard-
// dependency circuit breaking). A nil breaker leaves calls unguarded, which
// is what every existing test constructs without calling this.
func (c *Client) WithBreaker(b *breaker.Breaker) *Client {
	c.breaker = b
	return c
}

// guard runs fn through c's breaker when one is configured.
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

// Close releases the underlying connection pool.
func (c *Client) Close() {
	if c.raw != nil {
		c.raw.Close()
	}
}

// EnsureSchema creates the investigations, work_orders and assessments
// tables and their supporting indexes, idempotently.
func (c *Client) EnsureSchema(ctx context.Context, embeddingDimensions int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS investigations (
			id               TEXT PRIMARY KEY,
			prompt           TEXT NOT NULL,
			status           TEXT NOT NULL,
			cycle_count      INT NOT NULL DEFAULT 0,
			parent_id        TEXT,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at     TIMESTAMPTZ,
			suspended_reason TEXT NOT NULL DEFAULT '',
			resume_from      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS investigations_status_idx ON investigations (status)`,
		`CREATE INDEX IF NOT EXISTS investigations_created_at_idx ON investigations (created_at)`,
		`CREATE TABLE IF NOT EXISTS work_orders (
			id                  TEXT PRIMARY KEY,
			investigation_id    TEXT NOT NULL REFERENCES investigations(id),
			objective           TEXT NOT NULL,
			priority            TEXT NOT NULL,
			status              TEXT NOT NULL,
			cycle_index         INT NOT NULL,
			referenced_entities JSONB NOT NULL DEFAULT '[]',
			source_guidance     JSONB NOT NULL DEFAULT '{}',
			assigned_processor  TEXT,
			claims_produced     INT NOT NULL DEFAULT 0,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS work_orders_investigation_status_idx ON work_orders (investigation_id, status)`,
		`CREATE INDEX IF NOT EXISTS work_orders_investigation_cycle_idx ON work_orders (investigation_id, cycle_index)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS assessments (
			id                  TEXT PRIMARY KEY,
			investigation_id    TEXT NOT NULL REFERENCES investigations(id),
			content             JSONB NOT NULL,
			confidence          TEXT NOT NULL,
			referenced_entities JSONB NOT NULL DEFAULT '[]',
			referenced_claims   JSONB NOT NULL DEFAULT '[]',
			embedding           vector(%d),
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, embeddingDimensions),
		`CREATE INDEX IF NOT EXISTS assessments_investigation_idx ON assessments (investigation_id)`,
		`CREATE INDEX IF NOT EXISTS assessments_embedding_idx ON assessments USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
	}
	for _, stmt := range statements {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

// CreateInvestigation inserts a new investigation row with status pending.
func (c *Client) CreateInvestigation(ctx context.Context, id, prompt string, parentID *string) (Investigation, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (Investigation, error) {
		inv := Investigation{ID: id, Prompt: prompt, Status: StatusPending, ParentID: parentID}
		row := c.pool.QueryRow(ctx, `
			INSERT INTO investigations (id, prompt, status, parent_id)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at
		`, id, prompt, StatusPending, parentID)
		if err := row.Scan(&inv.CreatedAt); err != nil {
			return Investigation{}, fmt.Errorf("store: create investigation: %w", err)
		}
		return inv, nil
	})
}

// GetInvestigation loads a single investigation by id.
func (c *Client) GetInvestigation(ctx context.Context, id string) (Investigation, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (Investigation, error) {
		row := c.pool.QueryRow(ctx, `
			SELECT id, prompt, status, cycle_count, parent_id, created_at, completed_at, suspended_reason, resume_from
			FROM investigations WHERE id = $1
		`, id)
		return scanInvestigation(row)
	})
}

// ListRecoverableInvestigations returns all non-terminal investigations
// ordered by creation time, for startup recovery (spec.md §4.8).
func (c *Client) ListRecoverableInvestigations(ctx context.Context) ([]Investigation, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) ([]Investigation, error) {
		rows, err := c.pool.Query(ctx, `
			SELECT id, prompt, status, cycle_count, parent_id, created_at, completed_at, suspended_reason, resume_from
			FROM investigations
			WHERE status NOT IN ($1, $2)
			ORDER BY created_at ASC
		`, StatusCompleted, StatusFailed)
		if err != nil {
			return nil, fmt.Errorf("store: list recoverable investigations: %w", err)
		}
		defer rows.Close()

		var out []Investigation
		for rows.Next() {
			inv, err := scanInvestigation(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, inv)
		}
		return out, rows.Err()
	})
}

// TransitionInvestigation moves an investigation to a new status in a
// single row-update statement. completedAt is written only when status is
// terminal; it is never overwritten once set (spec.md §4.5).
func (c *Client) TransitionInvestigation(ctx context.Context, id string, status InvestigationStatus) error {
	return guardErr(ctx, c.breaker, func(ctx context.Context) error {
		tag, err := c.pool.Exec(ctx, `
			UPDATE investigations
			SET status = $2,
			    completed_at = CASE WHEN $3 AND completed_at IS NULL THEN now() ELSE completed_at END
			WHERE id = $1
		`, id, status, status.Terminal())
		if err != nil {
			return fmt.Errorf("store: transition investigation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// IncrementCycleCount bumps cycle_count by one.
func (c *Client) IncrementCycleCount(ctx context.Context, id string) error {
	return guardErr(ctx, c.breaker, func(ctx context.Context) error {
		tag, err := c.pool.Exec(ctx, `UPDATE investigations SET cycle_count = cycle_count + 1 WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("store: increment cycle count: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SuspendInvestigation writes status=suspended with the given reason and
// resume point (spec.md §4.8 step 2).
func (c *Client) SuspendInvestigation(ctx context.Context, id, reason string, resumeFrom ResumePoint) error {
	return guardErr(ctx, c.breaker, func(ctx context.Context) error {
		tag, err := c.pool.Exec(ctx, `
			UPDATE investigations
			SET status = $2, suspended_reason = $3, resume_from = $4
			WHERE id = $1
		`, id, StatusSuspended, reason, resumeFrom)
		if err != nil {
			return fmt.Errorf("store: suspend investigation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ClearSuspension wipes the suspension columns, used when resuming out of
// the suspended state (spec.md §4.8 "suspended" branch).
func (c *Client) ClearSuspension(ctx context.Context, id string) error {
	return guardErr(ctx, c.breaker, func(ctx context.Context) error {
		tag, err := c.pool.Exec(ctx, `
			UPDATE investigations SET suspended_reason = '', resume_from = '' WHERE id = $1
		`, id)
		if err != nil {
			return fmt.Errorf("store: clear suspension: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanInvestigation(row pgx.Row) (Investigation, error) {
	var inv Investigation
	var resumeFrom string
	if err := row.Scan(&inv.ID, &inv.Prompt, &inv.Status, &inv.CycleCount, &inv.ParentID,
		&inv.CreatedAt, &inv.CompletedAt, &inv.SuspendedReason, &resumeFrom); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Investigation{}, ErrNotFound
		}
		return Investigation{}, fmt.Errorf("store: scan investigation: %w", err)
	}
	inv.ResumeFrom = ResumePoint(resumeFrom)
	return inv, nil
}

// CreateWorkOrder inserts a new queued work order row.
func (c *Client) CreateWorkOrder(ctx context.Context, wo WorkOrder) (WorkOrder, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (WorkOrder, error) {
		refEntities, err := json.Marshal(wo.ReferencedEntities)
		if err != nil {
			return WorkOrder{}, fmt.Errorf("store: marshal referenced entities: %w", err)
		}
		guidance, err := json.Marshal(wo.SourceGuidance)
		if err != nil {
			return WorkOrder{}, fmt.Errorf("store: marshal source guidance: %w", err)
		}
		row := c.pool.QueryRow(ctx, `
			INSERT INTO work_orders (id, investigation_id, objective, priority, status, cycle_index, referenced_entities, source_guidance)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at, updated_at
		`, wo.ID, wo.InvestigationID, wo.Objective, wo.Priority, WorkOrderQueued, wo.CycleIndex, refEntities, guidance)
		wo.Status = WorkOrderQueued
		if err := row.Scan(&wo.CreatedAt, &wo.UpdatedAt); err != nil {
			return WorkOrder{}, fmt.Errorf("store: create work order: %w", err)
		}
		return wo, nil
	})
}

// TransitionWorkOrder moves a work order to a new status.
// processing→failed and processing→completed are final (spec.md §3).
func (c *Client) TransitionWorkOrder(ctx context.Context, id string, status WorkOrderStatus, assignedProcessor *string) error {
	return guardErr(ctx, c.breaker, func(ctx context.Context) error {
		tag, err := c.pool.Exec(ctx, `
			UPDATE work_orders
			SET status = $2, assigned_processor = COALESCE($3, assigned_processor), updated_at = now()
			WHERE id = $1
		`, id, status, assignedProcessor)
		if err != nil {
			return fmt.Errorf("store: transition work order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// IncrementClaimsProduced bumps a work order's claims_produced count.
func (c *Client) IncrementClaimsProduced(ctx context.Context, id string, delta int) error {
	return guardErr(ctx, c.breaker, func(ctx context.Context) error {
		tag, err := c.pool.Exec(ctx, `
			UPDATE work_orders SET claims_produced = claims_produced + $2, updated_at = now() WHERE id = $1
		`, id, delta)
		if err != nil {
			return fmt.Errorf("store: increment claims produced: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CountActiveWorkOrders counts work orders for an investigation whose
// status is queued or processing (spec.md §4.10 "wait for work orders").
func (c *Client) CountActiveWorkOrders(ctx context.Context, investigationID string) (int, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (int, error) {
		var count int
		row := c.pool.QueryRow(ctx, `
			SELECT count(*) FROM work_orders
			WHERE investigation_id = $1 AND status IN ($2, $3)
		`, investigationID, WorkOrderQueued, WorkOrderProcessing)
		if err := row.Scan(&count); err != nil {
			return 0, fmt.Errorf("store: count active work orders: %w", err)
		}
		return count, nil
	})
}

// WorkOrdersAtMaxCycle returns every work order belonging to the highest
// cycle_index recorded for an investigation, for the all-failed check
// (spec.md §4.11).
func (c *Client) WorkOrdersAtMaxCycle(ctx context.Context, investigationID string) ([]WorkOrder, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) ([]WorkOrder, error) {
		rows, err := c.pool.Query(ctx, `
			SELECT id, investigation_id, objective, priority, status, cycle_index, referenced_entities, source_guidance, assigned_processor, claims_produced, created_at, updated_at
			FROM work_orders
			WHERE investigation_id = $1 AND cycle_index = (
				SELECT max(cycle_index) FROM work_orders WHERE investigation_id = $1
			)
		`, investigationID)
		if err != nil {
			return nil, fmt.Errorf("store: work orders at max cycle: %w", err)
		}
		defer rows.Close()

		var out []WorkOrder
		for rows.Next() {
			wo, err := scanWorkOrder(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, wo)
		}
		return out, rows.Err()
	})
}

func scanWorkOrder(row pgx.Row) (WorkOrder, error) {
	var wo WorkOrder
	var refEntities, guidance []byte
	if err := row.Scan(&wo.ID, &wo.InvestigationID, &wo.Objective, &wo.Priority, &wo.Status, &wo.CycleIndex,
		&refEntities, &guidance, &wo.AssignedProcessor, &wo.ClaimsProduced, &wo.CreatedAt, &wo.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, ErrNotFound
		}
		return WorkOrder{}, fmt.Errorf("store: scan work order: %w", err)
	}
	_ = json.Unmarshal(refEntities, &wo.ReferencedEntities)
	_ = json.Unmarshal(guidance, &wo.SourceGuidance)
	return wo, nil
}

// CreateAssessment inserts an assessment row, embedding included when present.
func (c *Client) CreateAssessment(ctx context.Context, a Assessment) (Assessment, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (Assessment, error) {
		refEntities, err := json.Marshal(a.ReferencedEntities)
		if err != nil {
			return Assessment{}, fmt.Errorf("store: marshal referenced entities: %w", err)
		}
		refClaims, err := json.Marshal(a.ReferencedClaims)
		if err != nil {
			return Assessment{}, fmt.Errorf("store: marshal referenced claims: %w", err)
		}
		var embeddingArg any
		if len(a.Embedding) > 0 {
			embeddingArg = pgvector.NewVector(a.Embedding)
		}
		row := c.pool.QueryRow(ctx, `
			INSERT INTO assessments (id, investigation_id, content, confidence, referenced_entities, referenced_claims, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at
		`, a.ID, a.InvestigationID, a.Content, a.Confidence, refEntities, refClaims, embeddingArg)
		if err := row.Scan(&a.CreatedAt); err != nil {
			return Assessment{}, fmt.Errorf("store: create assessment: %w", err)
		}
		return a, nil
	})
}

// GetAssessment loads a single assessment by id.
func (c *Client) GetAssessment(ctx context.Context, id string) (Assessment, error) {
	return guard(ctx, c.breaker, func(ctx context.Context) (Assessment, error) {
		row := c.pool.QueryRow(ctx, `
			SELECT id, investigation_id, content, confidence, referenced_entities, referenced_claims, created_at
			FROM assessments WHERE id = $1
		`, id)
		var a Assessment
		var refEntities, refClaims []byte
		if err := row.Scan(&a.ID, &a.InvestigationID, &a.Content, &a.Confidence, &refEntities, &refClaims, &a.CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Assessment{}, ErrNotFound
			}
			return Assessment{}, fmt.Errorf("store: get assessment: %w", err)
		}
		_ = json.Unmarshal(refEntities, &a.ReferencedEntities)
		_ = json.Unmarshal(refClaims, &a.ReferencedClaims)
		return a, nil
	})
}

// ScoredAssessment pairs an assessment with its cosine-similarity score.
type ScoredAssessment struct {
	Value Assessment
	Score float64
}

// SearchAssessments orders candidates by cosine similarity (1 − cosine
// distance) against the query embedding, descending (spec.md §4.5).
// pgvector's "<=>" operator computes cosine distance; "<->" computes L2 and
// is deliberately not used here.
func (c *Client) SearchAssessments(ctx context.Context, investigationID string, queryEmbedding []float32, limit int) ([]ScoredAssessment, error) {
	if limit <= 0 {
		limit = 20
	}
	return guard(ctx, c.breaker, func(ctx context.Context) ([]ScoredAssessment, error) {
		rows, err := c.pool.Query(ctx, `
			SELECT id, investigation_id, content, confidence, referenced_entities, referenced_claims, created_at,
			       1 - (embedding <=> $2) AS score
			FROM assessments
			WHERE ($1 = '' OR investigation_id = $1) AND embedding IS NOT NULL
			ORDER BY embedding <=> $2
			LIMIT $3
		`, investigationID, pgvector.NewVector(queryEmbedding), limit)
		if err != nil {
			return nil, fmt.Errorf("store: search assessments: %w", err)
		}
		defer rows.Close()

		var out []ScoredAssessment
		for rows.Next() {
			var a Assessment
			var refEntities, refClaims []byte
			var score float64
			if err := rows.Scan(&a.ID, &a.InvestigationID, &a.Content, &a.Confidence, &refEntities, &refClaims, &a.CreatedAt, &score); err != nil {
				return nil, fmt.Errorf("store: scan scored assessment: %w", err)
			}
			_ = json.Unmarshal(refEntities, &a.ReferencedEntities)
			_ = json.Unmarshal(refClaims, &a.ReferencedClaims)
			out = append(out, ScoredAssessment{Value: a, Score: score})
		}
		return out, rows.Err()
	})
}
