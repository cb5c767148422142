package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/observability"
)

// errCancelled marks a run stopped at a unit boundary after a
// cancellation request.
var errCancelled = errors.New("cancelled at unit boundary")

// RunnerStore is the runner's view of the job table.
type RunnerStore interface {
	ClaimJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error)
	SetJobTotal(ctx context.Context, id uuid.UUID, total int) error
	BumpJobProgress(ctx context.Context, id uuid.UUID, processedDelta, failedDelta int) (*models.ProcessingJob, error)
	FinishJob(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string) error
	IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error)
}

// ProgressPublisher broadcasts progress events; may be nil in tests.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, ev models.ProgressEvent) error
}

// Scanner detects file changes under an owner's library root.
type Scanner interface {
	Detect(ctx context.Context, ownerID uuid.UUID, root string) ([]models.FileChange, models.ScanStats, error)
}

// Ingestor applies one detected change.
type Ingestor interface {
	Apply(ctx context.Context, ownerID uuid.UUID, change models.FileChange) (bool, error)
}

// Extractor runs feature extraction on pending media.
type Extractor interface {
	Pending(ctx context.Context, ownerID *uuid.UUID) ([]models.Media, error)
	ProcessMedia(ctx context.Context, m *models.Media, caps ...string) int
}

// Clusterer groups an owner's unassigned faces into persons.
type Clusterer interface {
	ClusterUnassigned(ctx context.Context, ownerID uuid.UUID) (int, error)
}

// Runner executes claimed jobs. Units of work (one file change, one
// media item) run on a bounded worker pool; cancellation is observed
// between units, never mid-unit.
type Runner struct {
	store     RunnerStore
	scanner   Scanner
	ingestor  Ingestor
	extractor Extractor
	clusterer Clusterer
	pub       ProgressPublisher

	workers    int
	cancelPoll time.Duration
}

func NewRunner(store RunnerStore, sc Scanner, ing Ingestor, ext Extractor, cl Clusterer,
	pub ProgressPublisher, workers int, cancelPoll time.Duration) *Runner {
	if workers < 1 {
		workers = 1
	}
	if cancelPoll <= 0 {
		cancelPoll = 2 * time.Second
	}
	return &Runner{
		store: store, scanner: sc, ingestor: ing, extractor: ext, clusterer: cl,
		pub: pub, workers: workers, cancelPoll: cancelPoll,
	}
}

// HandleTask claims and runs one job task. A task whose job is no
// longer pending (redelivery, races) is dropped silently.
func (r *Runner) HandleTask(ctx context.Context, task models.JobTask) error {
	job, err := r.store.ClaimJob(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", task.JobID, err)
	}
	if job == nil {
		slog.Debug("job task dropped, not pending", "job", task.JobID)
		return nil
	}

	observability.JobsStarted.WithLabelValues(string(job.JobType)).Inc()
	slog.Info("job started", "job", job.ID, "type", job.JobType, "scope", job.ScopeID)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var cancelled atomic.Bool
	go r.watchCancel(jobCtx, job.ID, cancel, &cancelled)

	var runErr error
	switch job.JobType {
	case models.JobTypeScan:
		runErr = r.runScan(jobCtx, job)
	case models.JobTypeExtract:
		runErr = r.runExtract(jobCtx, job)
	case models.JobTypeCluster:
		runErr = r.runCluster(jobCtx, job)
	default:
		runErr = fmt.Errorf("unknown job type %q", job.JobType)
	}
	cancel()

	status := models.JobStatusCompleted
	errMsg := ""
	switch {
	case cancelled.Load() && (runErr == nil || errors.Is(runErr, errCancelled) || errors.Is(runErr, context.Canceled)):
		status = models.JobStatusCancelled
	case runErr != nil:
		status = models.JobStatusFailed
		errMsg = runErr.Error()
	}

	if err := r.store.FinishJob(ctx, job.ID, status, errMsg); err != nil {
		return fmt.Errorf("finish job %s: %w", job.ID, err)
	}
	observability.JobsFinished.WithLabelValues(string(job.JobType), string(status)).Inc()

	final, err := r.store.BumpJobProgress(ctx, job.ID, 0, 0)
	if err == nil {
		final.Status = status
		r.publish(ctx, final)
	}

	slog.Info("job finished", "job", job.ID, "type", job.JobType, "status", status, "error", errMsg)
	return nil
}

// watchCancel polls the cooperative cancellation flag and tears down
// the job context once it is set.
func (r *Runner) watchCancel(ctx context.Context, jobID uuid.UUID, cancel context.CancelFunc, flagged *atomic.Bool) {
	ticker := time.NewTicker(r.cancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requested, err := r.store.IsCancelRequested(ctx, jobID)
			if err != nil {
				slog.Warn("poll cancel flag", "job", jobID, "error", err)
				continue
			}
			if requested {
				flagged.Store(true)
				cancel()
				return
			}
		}
	}
}

func (r *Runner) publish(ctx context.Context, job *models.ProcessingJob) {
	if r.pub == nil {
		return
	}
	ev := models.ProgressEvent{
		JobID:     job.ID,
		JobType:   job.JobType,
		Status:    job.Status,
		Total:     job.TotalItems,
		Processed: job.ProcessedItems,
		Failed:    job.FailedItems,
		Timestamp: time.Now().UTC(),
	}
	if err := r.pub.PublishProgress(ctx, ev); err != nil {
		slog.Warn("publish progress", "job", job.ID, "error", err)
	}
}

// runUnits executes n units on the bounded pool. Unit failures are
// counted, not fatal; only cancellation stops the loop early.
func (r *Runner) runUnits(ctx context.Context, job *models.ProcessingJob, n int, unit func(ctx context.Context, i int) error) error {
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	var missedProcessed, missedFailed atomic.Int64

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer func() {
				<-sem
				wg.Done()
			}()
			failedDelta := 0
			if err := unit(ctx, i); err != nil && ctx.Err() == nil {
				failedDelta = 1
				slog.Warn("unit failed", "job", job.ID, "unit", i, "error", err)
			}
			updated, err := r.store.BumpJobProgress(ctx, job.ID, 1, failedDelta)
			if err != nil {
				missedProcessed.Add(1)
				missedFailed.Add(int64(failedDelta))
				slog.Warn("bump progress", "job", job.ID, "error", err)
				return
			}
			updated.Status = models.JobStatusRunning
			r.publish(ctx, updated)
		}(i)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return errCancelled
	}

	// Bumps lost to transient store errors are re-applied once the pool
	// has drained. A completed job must account for every unit; if the
	// counters cannot be reconciled the job fails instead.
	if mp := missedProcessed.Load(); mp > 0 {
		updated, err := r.store.BumpJobProgress(ctx, job.ID, int(mp), int(missedFailed.Load()))
		if err != nil {
			return fmt.Errorf("reconcile job progress: %w", err)
		}
		updated.Status = models.JobStatusRunning
		r.publish(ctx, updated)
	}
	return nil
}

func (r *Runner) runScan(ctx context.Context, job *models.ProcessingJob) error {
	var params ScanParams
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return fmt.Errorf("decode scan params: %w", err)
		}
	}
	ownerID := *job.ScopeID

	changes, stats, err := r.scanner.Detect(ctx, ownerID, params.Root)
	if err != nil {
		return fmt.Errorf("detect changes: %w", err)
	}
	slog.Info("scan detected changes", "job", job.ID,
		"scanned", stats.Scanned, "new", stats.New, "modified", stats.Modified,
		"deleted", stats.Deleted, "unchanged", stats.Unchanged, "errors", stats.Errors)

	if err := r.store.SetJobTotal(ctx, job.ID, len(changes)); err != nil {
		return fmt.Errorf("set job total: %w", err)
	}

	return r.runUnits(ctx, job, len(changes), func(ctx context.Context, i int) error {
		_, err := r.ingestor.Apply(ctx, ownerID, changes[i])
		return err
	})
}

func (r *Runner) runExtract(ctx context.Context, job *models.ProcessingJob) error {
	var params ExtractParams
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return fmt.Errorf("decode extract params: %w", err)
		}
	}

	items, err := r.extractor.Pending(ctx, job.ScopeID)
	if err != nil {
		return fmt.Errorf("list pending media: %w", err)
	}
	if err := r.store.SetJobTotal(ctx, job.ID, len(items)); err != nil {
		return fmt.Errorf("set job total: %w", err)
	}

	return r.runUnits(ctx, job, len(items), func(ctx context.Context, i int) error {
		if failed := r.extractor.ProcessMedia(ctx, &items[i], params.Capabilities...); failed > 0 {
			return fmt.Errorf("%d capabilities failed for %s", failed, items[i].ID)
		}
		return nil
	})
}

func (r *Runner) runCluster(ctx context.Context, job *models.ProcessingJob) error {
	ownerID := *job.ScopeID
	if err := r.store.SetJobTotal(ctx, job.ID, 1); err != nil {
		return fmt.Errorf("set job total: %w", err)
	}

	created, err := r.clusterer.ClusterUnassigned(ctx, ownerID)
	failedDelta := 0
	if err != nil {
		failedDelta = 1
	}
	if updated, berr := r.store.BumpJobProgress(ctx, job.ID, 1, failedDelta); berr == nil {
		updated.Status = models.JobStatusRunning
		r.publish(ctx, updated)
	} else if err == nil {
		return fmt.Errorf("record cluster progress: %w", berr)
	}
	if err != nil {
		return fmt.Errorf("cluster faces: %w", err)
	}
	slog.Info("clustering created persons", "job", job.ID, "created", created)
	return nil
}
