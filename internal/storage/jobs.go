package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/your-org/photovault/internal/models"
)

const jobColumns = `id, scope_id, job_type, status, params,
	total_items, processed_items, failed_items,
	cancel_requested, error_message, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*models.ProcessingJob, error) {
	j := &models.ProcessingJob{}
	err := row.Scan(&j.ID, &j.ScopeID, &j.JobType, &j.Status, &j.Params,
		&j.TotalItems, &j.ProcessedItems, &j.FailedItems,
		&j.CancelRequested, &j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// CreateJob inserts a pending job. The partial unique index on active
// jobs enforces the one-active-job-per-type-and-scope rule; a unique
// violation surfaces as ErrAlreadyRunning.
func (s *PostgresStore) CreateJob(ctx context.Context, j *models.ProcessingJob) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Status = models.JobStatusPending

	err := s.pool.QueryRow(ctx,
		`INSERT INTO processing_jobs (id, scope_id, job_type, status, params)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		j.ID, j.ScopeID, j.JobType, j.Status, j.Params,
	).Scan(&j.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *PostgresStore) ListJobs(ctx context.Context, status *models.JobStatus, limit int) ([]models.ProcessingJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
		 WHERE ($1::text IS NULL OR status = $1)
		 ORDER BY created_at DESC
		 LIMIT $2`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ProcessingJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// ClaimJob atomically flips a pending job to running and stamps
// started_at. Returns nil without error when the job is gone or no
// longer pending, so a redelivered task is a no-op.
func (s *PostgresStore) ClaimJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE processing_jobs SET status = $1, started_at = now()
		 WHERE id = $2 AND status = $3
		 RETURNING `+jobColumns,
		models.JobStatusRunning, id, models.JobStatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) SetJobTotal(ctx context.Context, id uuid.UUID, total int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs SET total_items = $1 WHERE id = $2`, total, id)
	if err != nil {
		return fmt.Errorf("set job total: %w", err)
	}
	return nil
}

// BumpJobProgress increments the progress counters atomically in SQL so
// concurrent unit workers never lose an update. Failed units count as
// processed too.
func (s *PostgresStore) BumpJobProgress(ctx context.Context, id uuid.UUID, processedDelta, failedDelta int) (*models.ProcessingJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE processing_jobs
		 SET processed_items = processed_items + $1, failed_items = failed_items + $2
		 WHERE id = $3
		 RETURNING `+jobColumns,
		processedDelta, failedDelta, id))
	if err != nil {
		return nil, fmt.Errorf("bump job progress: %w", err)
	}
	return j, nil
}

// FinishJob moves a running job to a terminal status.
func (s *PostgresStore) FinishJob(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish job: %s is not a terminal status", status)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs SET status = $1, error_message = $2, completed_at = now()
		 WHERE id = $3 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// CancelPending flips a pending job straight to cancelled. Returns true
// when the transition happened.
func (s *PostgresStore) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs SET status = $1, completed_at = now()
		 WHERE id = $2 AND status = $3`,
		models.JobStatusCancelled, id, models.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("cancel pending job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RequestCancel sets the cooperative cancellation flag on a running job.
func (s *PostgresStore) RequestCancel(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs SET cancel_requested = TRUE
		 WHERE id = $1 AND status = $2`,
		id, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	return nil
}

// IsCancelRequested is polled by job runners between units of work.
func (s *PostgresStore) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var requested bool
	err := s.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM processing_jobs WHERE id = $1`, id,
	).Scan(&requested)
	if err != nil {
		return false, fmt.Errorf("check cancel flag: %w", err)
	}
	return requested, nil
}
