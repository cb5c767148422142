// Package jobs orchestrates pipeline runs: enqueueing with the
// one-active-job-per-type-and-scope rule, cooperative cancellation, and
// the worker-side runner that executes scan, extract and cluster jobs.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/observability"
	"github.com/your-org/photovault/internal/storage"
)

// ErrAlreadyRunning is returned by Enqueue when a job of the same type
// is already pending or running for the same scope.
var ErrAlreadyRunning = storage.ErrAlreadyRunning

// ErrNotCancellable is returned by Cancel for jobs already in a
// terminal status.
var ErrNotCancellable = errors.New("job is already in a terminal status")

// ErrNotFound is returned for job IDs that do not exist.
var ErrNotFound = errors.New("job not found")

// Store is the service's view of the job table.
type Store interface {
	CreateJob(ctx context.Context, j *models.ProcessingJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error)
	ListJobs(ctx context.Context, status *models.JobStatus, limit int) ([]models.ProcessingJob, error)
	CancelPending(ctx context.Context, id uuid.UUID) (bool, error)
	RequestCancel(ctx context.Context, id uuid.UUID) error
}

// Publisher hands accepted jobs to the worker pool.
type Publisher interface {
	PublishJob(ctx context.Context, task models.JobTask) error
}

type Service struct {
	store Store
	pub   Publisher
}

func NewService(store Store, pub Publisher) *Service {
	return &Service{store: store, pub: pub}
}

// Enqueue validates and persists a pending job, then publishes the task
// for a worker to pick up. The partial unique index in the store
// guarantees at most one active job per type and scope even under
// concurrent enqueues.
func (s *Service) Enqueue(ctx context.Context, jobType models.JobType, scopeID *uuid.UUID, params json.RawMessage) (*models.ProcessingJob, error) {
	if err := validateParams(jobType, scopeID, params); err != nil {
		return nil, err
	}

	job := &models.ProcessingJob{
		ID:      uuid.New(),
		ScopeID: scopeID,
		JobType: jobType,
		Params:  params,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	task := models.JobTask{JobID: job.ID, JobType: jobType, ScopeID: scopeID, Params: params}
	if err := s.pub.PublishJob(ctx, task); err != nil {
		// The row stays pending; a later retry of the publish (or a
		// manual re-kick) picks it up. Surfacing the error lets the
		// caller know the job is not moving yet.
		return nil, fmt.Errorf("publish job task: %w", err)
	}

	slog.Info("job enqueued", "job", job.ID, "type", jobType, "scope", scopeID)
	return job, nil
}

func (s *Service) Status(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, status *models.JobStatus, limit int) ([]models.ProcessingJob, error) {
	return s.store.ListJobs(ctx, status, limit)
}

// Cancel stops a job: pending jobs move straight to cancelled, running
// jobs get the cooperative flag and stop at the next unit boundary,
// terminal jobs return ErrNotCancellable.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrNotCancellable
	}

	if job.Status == models.JobStatusPending {
		done, err := s.store.CancelPending(ctx, id)
		if err != nil {
			return err
		}
		if done {
			observability.JobsFinished.WithLabelValues(string(job.JobType), string(models.JobStatusCancelled)).Inc()
			slog.Info("pending job cancelled", "job", id)
			return nil
		}
		// Raced with a worker claiming it; fall through to the
		// cooperative path.
	}

	if err := s.store.RequestCancel(ctx, id); err != nil {
		return err
	}
	slog.Info("cancellation requested", "job", id)
	return nil
}
