package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeScan    JobType = "scan"
	JobTypeExtract JobType = "extract"
	JobTypeCluster JobType = "cluster"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a status permits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ProcessingJob tracks one orchestration run. Only the orchestrator that
// claimed the job mutates its status; progress counters are incremented
// atomically by the store so concurrent unit workers never lose updates.
type ProcessingJob struct {
	ID      uuid.UUID  `json:"id" db:"id"`
	ScopeID *uuid.UUID `json:"scope_id,omitempty" db:"scope_id"` // nil = system-wide
	JobType JobType    `json:"job_type" db:"job_type"`
	Status  JobStatus  `json:"status" db:"status"`

	Params json.RawMessage `json:"params,omitempty" db:"params"`

	TotalItems     int `json:"total_items" db:"total_items"`
	ProcessedItems int `json:"processed_items" db:"processed_items"`
	FailedItems    int `json:"failed_items" db:"failed_items"`

	CancelRequested bool   `json:"cancel_requested" db:"cancel_requested"`
	ErrorMessage    string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// JobTask is the message published to NATS when a job is enqueued.
// The worker that consumes it claims and runs the job.
type JobTask struct {
	JobID   uuid.UUID       `json:"job_id"`
	JobType JobType         `json:"job_type"`
	ScopeID *uuid.UUID      `json:"scope_id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ProgressEvent is published after each processed unit and at job
// completion, and broadcast to WebSocket clients by the API.
type ProgressEvent struct {
	JobID     uuid.UUID `json:"job_id"`
	JobType   JobType   `json:"job_type"`
	Status    JobStatus `json:"status"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}
