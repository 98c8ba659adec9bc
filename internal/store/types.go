// Package store is the AutOSINT relational store (C5): CRUD for
// investigations, work orders, and assessments, backed by Postgres via pgx.
package store

import "time"

// InvestigationStatus is one state in the Orchestrator's state machine
// (spec.md §4.8). Completed and Failed are terminal.
type InvestigationStatus string

const (
	StatusPending        InvestigationStatus = "pending"
	StatusAnalystRunning InvestigationStatus = "analyst_running"
	StatusProcessing     InvestigationStatus = "processing"
	StatusSuspended      InvestigationStatus = "suspended"
	StatusCompleted      InvestigationStatus = "completed"
	StatusFailed         InvestigationStatus = "failed"
)

// Terminal reports whether s is a terminal status.
func (s InvestigationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ResumePoint records which stage a suspended investigation should resume
// into: the Analyst cycle or the wait-for-work-orders step.
type ResumePoint string

const (
	ResumeAnalyst    ResumePoint = "analyst"
	ResumeProcessing ResumePoint = "processing"
)

// Investigation is the unit of work (spec.md §3).
type Investigation struct {
	ID               string
	Prompt           string
	Status           InvestigationStatus
	CycleCount       int
	ParentID         *string
	CreatedAt        time.Time
	CompletedAt      *time.Time
	SuspendedReason  string
	ResumeFrom       ResumePoint
}

// WorkOrderPriority selects which priority stream a work order is
// enqueued onto (spec.md §4.6).
type WorkOrderPriority string

const (
	PriorityHigh   WorkOrderPriority = "high"
	PriorityNormal WorkOrderPriority = "normal"
	PriorityLow    WorkOrderPriority = "low"
)

// WorkOrderStatus tracks a work order from creation through resolution.
// Monotonic except processing→failed and processing→completed are final.
type WorkOrderStatus string

const (
	WorkOrderQueued     WorkOrderStatus = "queued"
	WorkOrderProcessing WorkOrderStatus = "processing"
	WorkOrderCompleted  WorkOrderStatus = "completed"
	WorkOrderFailed     WorkOrderStatus = "failed"
)

// SourceGuidance is a work order's freeform sourcing hint (spec.md §3).
type SourceGuidance struct {
	PreferredSourceIDs []string          `json:"preferred_source_ids,omitempty"`
	Freeform           map[string]string `json:"freeform,omitempty"`
}

// WorkOrder is a discovery directive produced by the Analyst (spec.md §3).
type WorkOrder struct {
	ID                 string
	InvestigationID    string
	Objective          string
	Priority           WorkOrderPriority
	Status             WorkOrderStatus
	CycleIndex         int
	ReferencedEntities []string
	SourceGuidance     SourceGuidance
	AssignedProcessor  *string
	ClaimsProduced     int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AssessmentConfidence classifies the Analyst's confidence in an assessment.
type AssessmentConfidence string

const (
	ConfidenceHigh     AssessmentConfidence = "high"
	ConfidenceModerate AssessmentConfidence = "moderate"
	ConfidenceLow      AssessmentConfidence = "low"
)

// Assessment is the Analyst's final product for one cycle (spec.md §3).
type Assessment struct {
	ID                string
	InvestigationID   string
	Content           []byte
	Confidence        AssessmentConfidence
	ReferencedEntities []string
	ReferencedClaims  []string
	Embedding         []float32
	CreatedAt         time.Time
}
