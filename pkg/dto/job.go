package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EnqueueJobRequest struct {
	JobType string          `json:"job_type" binding:"required"`
	ScopeID *uuid.UUID      `json:"scope_id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JobResponse struct {
	ID              uuid.UUID  `json:"id"`
	JobType         string     `json:"job_type"`
	ScopeID         *uuid.UUID `json:"scope_id,omitempty"`
	Status          string     `json:"status"`
	TotalItems      int        `json:"total_items"`
	ProcessedItems  int        `json:"processed_items"`
	FailedItems     int        `json:"failed_items"`
	CancelRequested bool       `json:"cancel_requested"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// WSProgress is the shape broadcast to WebSocket clients after each
// processed unit of work.
type WSProgress struct {
	JobID     uuid.UUID `json:"job_id"`
	JobType   string    `json:"job_type"`
	Status    string    `json:"status"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}
