package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/storage"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.ProcessingJob

	cancelAfter int // request cancel once processed reaches this, 0 = never
	failBumps   int // fail the next N BumpJobProgress calls
}

func newJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[uuid.UUID]*models.ProcessingJob)}
}

func (s *fakeJobStore) CreateJob(_ context.Context, j *models.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.JobType == j.JobType && !existing.Status.Terminal() &&
			sameScope(existing.ScopeID, j.ScopeID) {
			return storage.ErrAlreadyRunning
		}
	}
	j.Status = models.JobStatusPending
	j.CreatedAt = time.Now()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func sameScope(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *fakeJobStore) GetJob(_ context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *fakeJobStore) ListJobs(_ context.Context, status *models.JobStatus, _ int) ([]models.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ProcessingJob
	for _, j := range s.jobs {
		if status == nil || j.Status == *status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *fakeJobStore) CancelPending(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusPending {
		return false, nil
	}
	j.Status = models.JobStatusCancelled
	return true, nil
}

func (s *fakeJobStore) RequestCancel(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status == models.JobStatusRunning {
		j.CancelRequested = true
	}
	return nil
}

func (s *fakeJobStore) ClaimJob(_ context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusPending {
		return nil, nil
	}
	j.Status = models.JobStatusRunning
	now := time.Now()
	j.StartedAt = &now
	cp := *j
	return &cp, nil
}

func (s *fakeJobStore) SetJobTotal(_ context.Context, id uuid.UUID, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].TotalItems = total
	return nil
}

func (s *fakeJobStore) BumpJobProgress(_ context.Context, id uuid.UUID, pd, fd int) (*models.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBumps > 0 {
		s.failBumps--
		return nil, errors.New("connection reset")
	}
	j := s.jobs[id]
	j.ProcessedItems += pd
	j.FailedItems += fd
	if s.cancelAfter > 0 && j.ProcessedItems >= s.cancelAfter {
		j.CancelRequested = true
	}
	cp := *j
	return &cp, nil
}

func (s *fakeJobStore) FinishJob(_ context.Context, id uuid.UUID, status models.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if j.Status.Terminal() {
		return nil
	}
	j.Status = status
	j.ErrorMessage = errMsg
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

func (s *fakeJobStore) IsCancelRequested(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].CancelRequested, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	tasks  []models.JobTask
	events []models.ProgressEvent
	err    error
}

func (p *fakePublisher) PublishJob(_ context.Context, task models.JobTask) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *fakePublisher) PublishProgress(_ context.Context, ev models.ProgressEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type fakeScanner struct {
	changes []models.FileChange
	err     error
}

func (s *fakeScanner) Detect(context.Context, uuid.UUID, string) ([]models.FileChange, models.ScanStats, error) {
	return s.changes, models.ScanStats{Scanned: len(s.changes)}, s.err
}

type fakeIngestor struct {
	mu      sync.Mutex
	applied []string
	failOn  map[string]bool
	delay   time.Duration
}

func (i *fakeIngestor) Apply(ctx context.Context, _ uuid.UUID, change models.FileChange) (bool, error) {
	if i.delay > 0 {
		select {
		case <-time.After(i.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	i.mu.Lock()
	i.applied = append(i.applied, change.Path)
	i.mu.Unlock()
	if i.failOn[change.Path] {
		return false, errors.New("read error")
	}
	return true, nil
}

type fakeExtract struct {
	items    []models.Media
	failEach int
}

func (e *fakeExtract) Pending(context.Context, *uuid.UUID) ([]models.Media, error) {
	return e.items, nil
}

func (e *fakeExtract) ProcessMedia(context.Context, *models.Media, ...string) int {
	return e.failEach
}

type fakeClusterer struct {
	created int
	err     error
}

func (c *fakeClusterer) ClusterUnassigned(context.Context, uuid.UUID) (int, error) {
	return c.created, c.err
}

func scanChanges(n int) []models.FileChange {
	out := make([]models.FileChange, n)
	for i := range out {
		out[i] = models.FileChange{
			Path: uuid.NewString() + ".jpg",
			Kind: models.ChangeNew,
			New:  &models.Signature{MTime: time.Now(), Size: 1},
		}
	}
	return out
}

func ownerScope() *uuid.UUID {
	id := uuid.New()
	return &id
}

func TestEnqueueRejectsSecondActiveJob(t *testing.T) {
	store := newJobStore()
	svc := NewService(store, &fakePublisher{})
	scope := ownerScope()

	if _, err := svc.Enqueue(context.Background(), models.JobTypeScan, scope, nil); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	_, err := svc.Enqueue(context.Background(), models.JobTypeScan, scope, nil)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Enqueue err = %v, want ErrAlreadyRunning", err)
	}

	// A different scope is independent.
	if _, err := svc.Enqueue(context.Background(), models.JobTypeScan, ownerScope(), nil); err != nil {
		t.Fatalf("other-scope Enqueue: %v", err)
	}
}

func TestEnqueueValidatesParams(t *testing.T) {
	svc := NewService(newJobStore(), &fakePublisher{})

	if _, err := svc.Enqueue(context.Background(), models.JobTypeScan, nil, nil); err == nil {
		t.Fatal("scan without scope must be rejected")
	}
	if _, err := svc.Enqueue(context.Background(), models.JobType("defrag"), ownerScope(), nil); err == nil {
		t.Fatal("unknown job type must be rejected")
	}
	bad := json.RawMessage(`{"capabilities":["teleport"]}`)
	if _, err := svc.Enqueue(context.Background(), models.JobTypeExtract, ownerScope(), bad); err == nil {
		t.Fatal("unknown capability must be rejected")
	}
}

func TestEnqueuePublishesTask(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(newJobStore(), pub)

	job, err := svc.Enqueue(context.Background(), models.JobTypeExtract, nil, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(pub.tasks) != 1 || pub.tasks[0].JobID != job.ID {
		t.Fatalf("published tasks = %+v, want one for %s", pub.tasks, job.ID)
	}
}

func TestCancelSemantics(t *testing.T) {
	store := newJobStore()
	svc := NewService(store, &fakePublisher{})
	ctx := context.Background()

	if err := svc.Cancel(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel missing job err = %v, want ErrNotFound", err)
	}

	pending, _ := svc.Enqueue(ctx, models.JobTypeScan, ownerScope(), nil)
	if err := svc.Cancel(ctx, pending.ID); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	got, _ := svc.Status(ctx, pending.ID)
	if got.Status != models.JobStatusCancelled {
		t.Fatalf("pending job status = %s, want cancelled", got.Status)
	}
	if err := svc.Cancel(ctx, pending.ID); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("cancel terminal err = %v, want ErrNotCancellable", err)
	}

	running, _ := svc.Enqueue(ctx, models.JobTypeScan, ownerScope(), nil)
	store.ClaimJob(ctx, running.ID)
	if err := svc.Cancel(ctx, running.ID); err != nil {
		t.Fatalf("cancel running: %v", err)
	}
	got, _ = svc.Status(ctx, running.ID)
	if got.Status != models.JobStatusRunning || !got.CancelRequested {
		t.Fatalf("running job = %s cancel_requested=%v, want running with flag", got.Status, got.CancelRequested)
	}
}

func runnerFor(store *fakeJobStore, sc Scanner, ing Ingestor, ext Extractor, cl Clusterer, pub ProgressPublisher) *Runner {
	return NewRunner(store, sc, ing, ext, cl, pub, 2, 10*time.Millisecond)
}

func enqueueAnd(t *testing.T, store *fakeJobStore, jobType models.JobType, scope *uuid.UUID) models.JobTask {
	t.Helper()
	job := &models.ProcessingJob{ID: uuid.New(), ScopeID: scope, JobType: jobType}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return models.JobTask{JobID: job.ID, JobType: jobType, ScopeID: scope}
}

func TestRunnerScanJobCompletes(t *testing.T) {
	store := newJobStore()
	ing := &fakeIngestor{}
	pub := &fakePublisher{}
	r := runnerFor(store, &fakeScanner{changes: scanChanges(5)}, ing, nil, nil, pub)

	task := enqueueAnd(t, store, models.JobTypeScan, ownerScope())
	if err := r.HandleTask(context.Background(), task); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	job, _ := store.GetJob(context.Background(), task.JobID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.TotalItems != 5 || job.ProcessedItems != 5 || job.FailedItems != 0 {
		t.Fatalf("counters = %d/%d/%d, want 5/5/0",
			job.TotalItems, job.ProcessedItems, job.FailedItems)
	}
	if len(ing.applied) != 5 {
		t.Fatalf("applied = %d, want 5", len(ing.applied))
	}
	last := pub.events[len(pub.events)-1]
	if last.Status != models.JobStatusCompleted || last.Processed != 5 {
		t.Fatalf("final event = %+v", last)
	}
}

func TestRunnerCountsUnitFailures(t *testing.T) {
	store := newJobStore()
	changes := scanChanges(4)
	ing := &fakeIngestor{failOn: map[string]bool{changes[1].Path: true, changes[3].Path: true}}
	r := runnerFor(store, &fakeScanner{changes: changes}, ing, nil, nil, nil)

	task := enqueueAnd(t, store, models.JobTypeScan, ownerScope())
	if err := r.HandleTask(context.Background(), task); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	job, _ := store.GetJob(context.Background(), task.JobID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want completed despite unit failures", job.Status)
	}
	if job.ProcessedItems != 4 || job.FailedItems != 2 {
		t.Fatalf("processed/failed = %d/%d, want 4/2", job.ProcessedItems, job.FailedItems)
	}
}

func TestRunnerReconcilesLostProgressBumps(t *testing.T) {
	store := newJobStore()
	changes := scanChanges(5)
	ing := &fakeIngestor{failOn: map[string]bool{changes[0].Path: true}}
	r := runnerFor(store, &fakeScanner{changes: changes}, ing, nil, nil, nil)

	// The first few progress writes hit a flaky store. The job must
	// still finish with every unit accounted for.
	store.failBumps = 3
	task := enqueueAnd(t, store, models.JobTypeScan, ownerScope())
	if err := r.HandleTask(context.Background(), task); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	job, _ := store.GetJob(context.Background(), task.JobID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.ProcessedItems != job.TotalItems {
		t.Fatalf("processed = %d of %d, counters must be reconciled",
			job.ProcessedItems, job.TotalItems)
	}
	if job.FailedItems != 1 {
		t.Fatalf("failed = %d, want 1", job.FailedItems)
	}
}

func TestRunnerFailsJobWhenProgressUnrecoverable(t *testing.T) {
	store := newJobStore()
	r := runnerFor(store, &fakeScanner{changes: scanChanges(3)}, &fakeIngestor{}, nil, nil, nil)

	// Every progress write fails, including the drain-time retry. A job
	// whose counters cannot be trusted must not report completion.
	store.failBumps = 100
	task := enqueueAnd(t, store, models.JobTypeScan, ownerScope())
	if err := r.HandleTask(context.Background(), task); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	job, _ := store.GetJob(context.Background(), task.JobID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
}

func TestRunnerScanErrorFailsJob(t *testing.T) {
	store := newJobStore()
	r := runnerFor(store, &fakeScanner{err: errors.New("share unreachable")}, &fakeIngestor{}, nil, nil, nil)

	task := enqueueAnd(t, store, models.JobTypeScan, ownerScope())
	if err := r.HandleTask(context.Background(), task); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	job, _ := store.GetJob(context.Background(), task.JobID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Fatal("error message must be recorded")
	}
}

func TestRunnerCancelsAtUnitBoundary(t *testing.T) {
	store := newJobStore()
	store.cancelAfter = 3
	ing := &fakeIngestor{delay: 30 * time.Millisecond}
	r := runnerFor(store, &fakeScanner{changes: scanChanges(50)}, ing, nil, nil, nil)

	task := enqueueAnd(t, store, models.JobTypeScan, ownerScope())
	if err := r.HandleTask(context.Background(), task); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	job, _ := store.GetJob(context.Background(), task.JobID)
	if job.Status != models.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", job.Status)
	}
	if job.ProcessedItems >= job.TotalItems {
		t.Fatalf("processed = %d of %d, cancellation must stop before the end",
			job.ProcessedItems, job.TotalItems)
	}
}

func TestRunnerExtractJob(t *testing.T) {
	store := newJobStore()
	ext := &fakeExtract{items: []models.Media{{ID: uuid.New()}, {ID: uuid.New()}}}
	r := runnerFor(store, nil, nil, ext, nil, nil)

	task := enqueueAnd(t, store, models.JobTypeExtract, nil)
	if err := r.HandleTask(context.Background(), task); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	job, _ := store.GetJob(context.Background(), task.JobID)
	if job.Status != models.JobStatusCompleted || job.ProcessedItems != 2 {
		t.Fatalf("job = %s processed=%d, want completed/2", job.Status, job.ProcessedItems)
	}
}

func TestRunnerClusterJob(t *testing.T) {
	store := newJobStore()
	r := runnerFor(store, nil, nil, nil, &fakeClusterer{created: 2}, nil)

	task := enqueueAnd(t, store, models.JobTypeCluster, ownerScope())
	if err := r.HandleTask(context.Background(), task); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	job, _ := store.GetJob(context.Background(), task.JobID)
	if job.Status != models.JobStatusCompleted || job.ProcessedItems != 1 {
		t.Fatalf("job = %s processed=%d, want completed/1", job.Status, job.ProcessedItems)
	}
}

func TestRunnerDropsNonPendingTask(t *testing.T) {
	store := newJobStore()
	r := runnerFor(store, &fakeScanner{}, &fakeIngestor{}, nil, nil, nil)

	// Never created, so never pending.
	task := models.JobTask{JobID: uuid.New(), JobType: models.JobTypeScan}
	if err := r.HandleTask(context.Background(), task); err != nil {
		t.Fatalf("HandleTask on unknown job: %v", err)
	}
}
