// Package service orchestrates clash-detection jobs and clash review on top of
// the engine and the persistence layer.
package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/clashcheck/internal/db"
	"github.com/raphaelgruber/clashcheck/internal/engine"
	"github.com/raphaelgruber/clashcheck/internal/metrics"
	"github.com/raphaelgruber/clashcheck/internal/models"
)

// Lookup and state errors.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
)

// DefaultProgressInterval debounces progress writes to the repository.
const DefaultProgressInterval = 2 * time.Second

// Repository is the persistence the orchestrator needs. PersistResults must
// store the completed job and all its clashes atomically.
type Repository interface {
	LoadElements(ctx context.Context, project string, files []string, types []int) ([]models.Element, error)
	CreateJob(ctx context.Context, job models.ClashDetectionJob) error
	UpdateJob(ctx context.Context, job models.ClashDetectionJob) error
	PersistResults(ctx context.Context, job models.ClashDetectionJob, clashes []models.Clash) error
	FailJob(ctx context.Context, job models.ClashDetectionJob) error
	GetJob(ctx context.Context, guid string) (*models.ClashDetectionJob, error)
	ListJobs(ctx context.Context, project string, limit int) ([]models.ClashDetectionJob, error)
	IncompleteJobs(ctx context.Context) ([]models.ClashDetectionJob, error)
}

// SubmitRequest describes a new detection job.
type SubmitRequest struct {
	Project    string            `json:"project"`
	Files      []string          `json:"files,omitempty"`
	Parameters models.Parameters `json:"parameters"`
	CreatedBy  string            `json:"created_by,omitempty"`
}

// Job is a detection job tracked in memory while it runs.
type Job struct {
	mu    sync.RWMutex
	state models.ClashDetectionJob

	cancel          context.CancelFunc
	cancelRequested bool // honoured by Run when Cancel lands first
	done            chan struct{}

	lastProgressUpdate time.Time // for debouncing repository writes
}

func newJob(state models.ClashDetectionJob) *Job {
	return &Job{state: state, done: make(chan struct{})}
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() models.ClashDetectionJob {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return cloneJob(j.state)
}

// Done is closed once the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func cloneJob(s models.ClashDetectionJob) models.ClashDetectionJob {
	s.Files = slices.Clone(s.Files)
	s.Parameters.Types = slices.Clone(s.Parameters.Types)
	if s.Parameters.AutomaticGrouping != nil {
		g := *s.Parameters.AutomaticGrouping
		s.Parameters.AutomaticGrouping = &g
	}
	return s
}

// JobManager runs detection jobs and tracks their state.
type JobManager struct {
	repo    Repository
	engine  *engine.Engine
	metrics *metrics.Collector
	logger  *slog.Logger

	jobs map[string]*Job
	mu   sync.RWMutex

	baseCtx  context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	interval time.Duration

	now func() time.Time
}

// NewJobManager creates a job manager. collector and logger may be nil.
func NewJobManager(repo Repository, eng *engine.Engine, collector *metrics.Collector, logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &JobManager{
		repo:     repo,
		engine:   eng,
		metrics:  collector,
		logger:   logger,
		jobs:     make(map[string]*Job),
		baseCtx:  ctx,
		stop:     stop,
		interval: DefaultProgressInterval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetProgressInterval changes how often progress is written to the repository.
func (m *JobManager) SetProgressInterval(d time.Duration) {
	m.interval = d
}

// Submit creates a pending job and starts it in the background. A job whose
// parameters are invalid is recorded as failed without being processed; it is
// still returned so callers can report its error.
func (m *JobManager) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	state := models.ClashDetectionJob{
		GUID:       uuid.NewString(),
		Project:    req.Project,
		Files:      slices.Clone(req.Files),
		Parameters: req.Parameters.WithDefaults(),
		Status:     models.JobStatusPending,
		CreatedBy:  req.CreatedBy,
		CreatedAt:  m.now(),
	}
	if err := m.repo.CreateJob(ctx, state); err != nil {
		return nil, engine.Dependency("create job", err)
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	job := newJob(state)
	job.cancel = cancel
	m.register(job)
	m.logger.Info("job created", "job_id", state.GUID, "project", state.Project, "files", len(state.Files))

	if err := validateRequest(state); err != nil {
		cancel()
		_ = m.fail(ctx, job, err)
		return job, nil
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("job goroutine panicked", "job_id", state.GUID, "panic", r)
				_ = m.fail(context.Background(), job, fmt.Errorf("internal panic: %v", r))
			}
		}()
		_ = m.Run(runCtx, job)
	}()

	return job, nil
}

func validateRequest(job models.ClashDetectionJob) error {
	if job.Project == "" {
		return fmt.Errorf("%w: project is required", engine.ErrConfiguration)
	}
	if err := job.Parameters.Validate(); err != nil {
		return fmt.Errorf("%w: %w", engine.ErrConfiguration, err)
	}
	return nil
}

// Run processes a job to a terminal status and returns the failure, if any.
// Nothing is persisted for the job's clashes unless every phase succeeds.
func (m *JobManager) Run(ctx context.Context, job *Job) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	job.mu.Lock()
	if job.cancel == nil {
		job.cancel = cancel
	}
	if job.cancelRequested {
		cancel()
	}
	job.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return m.fail(ctx, job, fmt.Errorf("%w before start: %w", engine.ErrCancelled, err))
	}
	if err := validateRequest(job.Snapshot()); err != nil {
		return m.fail(ctx, job, err)
	}

	started, err := m.transition(job, models.JobStatusProcessing)
	if err != nil {
		return err
	}
	if err := m.repo.UpdateJob(ctx, started); err != nil {
		return m.fail(ctx, job, engine.Dependency("mark job processing", err))
	}
	m.logger.Info("job started", "job_id", started.GUID, "project", started.Project)

	// Load
	loadStart := time.Now()
	elements, err := m.loadElements(ctx, started)
	m.recordTiming(metrics.OpLoadElements, time.Since(loadStart))
	if err != nil {
		return m.fail(ctx, job, err)
	}
	m.setProgress(ctx, job, engine.ProgressLoaded)
	if err := ctx.Err(); err != nil {
		return m.fail(ctx, job, fmt.Errorf("%w after load: %w", engine.ErrCancelled, err))
	}

	// Detect
	detectStart := time.Now()
	res, err := m.engine.Run(ctx, started, elements, func(_ engine.Phase, pct int) {
		m.setProgress(ctx, job, pct)
	})
	m.recordTiming(metrics.OpDetect, time.Since(detectStart))
	if err != nil {
		return m.fail(ctx, job, err)
	}
	if err := ctx.Err(); err != nil {
		return m.fail(ctx, job, fmt.Errorf("%w before persist: %w", engine.ErrCancelled, err))
	}
	m.logger.Debug("detection finished", "job_id", started.GUID,
		"elements", res.ElementsAnalyzed, "candidate_pairs", res.CandidatePairs,
		"cell_size", res.Index.CellSize, "clashes", res.Results.TotalClashes)

	// Persist: once started, the write runs to completion or rolls back as a whole.
	completed := job.Snapshot()
	completedAt := m.now()
	completed.Status = models.JobStatusCompleted
	completed.Progress = engine.ProgressPersisted
	completed.TotalElementsAnalyzed = res.ElementsAnalyzed
	completed.Results = res.Results
	completed.CompletedAt = &completedAt

	persistStart := time.Now()
	err = m.repo.PersistResults(context.WithoutCancel(ctx), completed, res.Clashes)
	m.recordTiming(metrics.OpPersist, time.Since(persistStart))
	if err != nil {
		return m.fail(ctx, job, engine.Dependency("persist results", err))
	}

	job.mu.Lock()
	job.state = completed
	job.mu.Unlock()
	close(job.done)

	if m.metrics != nil {
		m.metrics.RecordJob(metrics.OutcomeCompleted, res.Results.TotalClashes, res.ElementsAnalyzed, res.CandidatePairs)
	}
	m.logger.Info("job completed", "job_id", completed.GUID,
		"elements", res.ElementsAnalyzed, "clashes", res.Results.TotalClashes, "retained", len(res.Clashes))
	return nil
}

// loadElements fetches the job's elements. An empty load is a dependency
// failure unless only the type filter emptied it.
func (m *JobManager) loadElements(ctx context.Context, job models.ClashDetectionJob) ([]models.Element, error) {
	elements, err := m.repo.LoadElements(ctx, job.Project, job.Files, job.Parameters.Types)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, engine.Dependency("load elements", err)
	}
	if len(elements) > 0 {
		return elements, nil
	}

	if len(job.Parameters.Types) > 0 {
		unfiltered, unfilteredErr := m.repo.LoadElements(ctx, job.Project, job.Files, nil)
		if unfilteredErr == nil && len(unfiltered) > 0 {
			return nil, fmt.Errorf("%w: type filter %v matches none of %d elements",
				engine.ErrConfiguration, job.Parameters.Types, len(unfiltered))
		}
	}
	if err == nil {
		err = db.ErrNotFound
	}
	return nil, engine.Dependency(fmt.Sprintf("load elements for project %q", job.Project), err)
}

func (m *JobManager) transition(job *Job, next models.JobStatus) (models.ClashDetectionJob, error) {
	job.mu.Lock()
	defer job.mu.Unlock()
	if !job.state.Status.CanTransition(next) {
		return models.ClashDetectionJob{}, fmt.Errorf("job %s: cannot move from %s to %s", job.state.GUID, job.state.Status, next)
	}
	job.state.Status = next
	if next == models.JobStatusProcessing {
		now := m.now()
		job.state.StartedAt = &now
		job.state.Progress = 0
		job.lastProgressUpdate = time.Now()
	}
	return cloneJob(job.state), nil
}

// setProgress raises the job's progress; lower values are ignored.
func (m *JobManager) setProgress(ctx context.Context, job *Job, percent int) {
	job.mu.Lock()
	if job.state.Status != models.JobStatusProcessing || percent <= job.state.Progress {
		job.mu.Unlock()
		return
	}
	// 100 is reserved for completion.
	job.state.Progress = min(percent, engine.ProgressPersisted-1)

	shouldPersist := time.Since(job.lastProgressUpdate) >= m.interval
	if shouldPersist {
		job.lastProgressUpdate = time.Now()
	}
	snap := cloneJob(job.state)
	job.mu.Unlock()

	if shouldPersist {
		if err := m.repo.UpdateJob(ctx, snap); err != nil {
			m.logger.Warn("failed to persist job progress", "job_id", snap.GUID, "error", err)
		}
	}
}

// fail moves the job to failed and returns err.
func (m *JobManager) fail(ctx context.Context, job *Job, err error) error {
	kind := engine.Kind(err)

	job.mu.Lock()
	if !job.state.Status.CanTransition(models.JobStatusFailed) {
		job.mu.Unlock()
		return err
	}
	now := m.now()
	job.state.Status = models.JobStatusFailed
	job.state.Error = err.Error()
	job.state.FailureKind = kind
	job.state.CompletedAt = &now
	snap := cloneJob(job.state)
	job.mu.Unlock()
	close(job.done)

	if dbErr := m.repo.FailJob(context.WithoutCancel(ctx), snap); dbErr != nil {
		m.logger.Warn("failed to persist job failure", "job_id", snap.GUID, "error", dbErr)
	}
	if m.metrics != nil {
		m.metrics.RecordJob(kind, 0, 0, 0)
	}
	m.logger.Error("job failed", "job_id", snap.GUID, "reason", kind, "error", err)
	return err
}

func (m *JobManager) recordTiming(op string, d time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordTiming(op, d)
	}
}

func (m *JobManager) register(job *Job) {
	m.mu.Lock()
	m.jobs[job.state.GUID] = job
	m.mu.Unlock()
}

func (m *JobManager) lookup(guid string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[guid]
}

// Cancel asks a running or pending job to stop. The job fails with kind
// "cancelled" at its next phase boundary.
func (m *JobManager) Cancel(guid string) error {
	job := m.lookup(guid)
	if job == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, guid)
	}
	job.mu.Lock()
	status, cancel := job.state.Status, job.cancel
	if !status.IsTerminal() {
		job.cancelRequested = true
	}
	job.mu.Unlock()

	if status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, guid, status)
	}
	if cancel != nil {
		cancel()
	}
	m.logger.Info("job cancel requested", "job_id", guid)
	return nil
}

// Job returns the tracked job, or nil when it is not running in this process.
func (m *JobManager) Job(guid string) *Job {
	return m.lookup(guid)
}

// GetJob returns a snapshot of the job, falling back to the repository for
// jobs not tracked in memory.
func (m *JobManager) GetJob(ctx context.Context, guid string) (models.ClashDetectionJob, error) {
	if job := m.lookup(guid); job != nil {
		return job.Snapshot(), nil
	}
	stored, err := m.repo.GetJob(ctx, guid)
	if errors.Is(err, db.ErrNotFound) || (err == nil && stored == nil) {
		return models.ClashDetectionJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, guid)
	}
	if err != nil {
		return models.ClashDetectionJob{}, engine.Dependency("get job", err)
	}
	return *stored, nil
}

// ListJobs returns jobs of a project (all projects when empty), most recent
// first. In-memory state wins over stored state for running jobs.
func (m *JobManager) ListJobs(ctx context.Context, project string, limit int) ([]models.ClashDetectionJob, error) {
	stored, err := m.repo.ListJobs(ctx, project, limit)
	if err != nil {
		return nil, engine.Dependency("list jobs", err)
	}

	byID := make(map[string]models.ClashDetectionJob, len(stored))
	for _, j := range stored {
		byID[j.GUID] = j
	}
	m.mu.RLock()
	for id, job := range m.jobs {
		snap := job.Snapshot()
		if project != "" && snap.Project != project {
			continue
		}
		byID[id] = snap
	}
	m.mu.RUnlock()

	jobs := make([]models.ClashDetectionJob, 0, len(byID))
	for _, j := range byID {
		jobs = append(jobs, j)
	}
	slices.SortFunc(jobs, func(a, b models.ClashDetectionJob) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.GUID, b.GUID)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// FailInterruptedJobs marks jobs left pending or processing by a previous
// process as failed. Runs are not resumed: no partial clash set was ever
// written, so a new job must be submitted.
func (m *JobManager) FailInterruptedJobs(ctx context.Context) (int, error) {
	incomplete, err := m.repo.IncompleteJobs(ctx)
	if err != nil {
		return 0, engine.Dependency("list incomplete jobs", err)
	}
	if len(incomplete) == 0 {
		m.logger.Info("no interrupted jobs")
		return 0, nil
	}

	failed := 0
	for _, j := range incomplete {
		if m.lookup(j.GUID) != nil {
			continue
		}
		now := m.now()
		j.Status = models.JobStatusFailed
		j.Error = "interrupted before completion"
		j.FailureKind = engine.KindInterrupted
		j.CompletedAt = &now
		if err := m.repo.FailJob(ctx, j); err != nil {
			m.logger.Warn("failed to mark interrupted job", "job_id", j.GUID, "error", err)
			continue
		}
		failed++
		m.logger.Info("marked interrupted job failed", "job_id", j.GUID)
	}
	return failed, nil
}

// setResolved updates the resolved counter of a tracked job.
func (m *JobManager) setResolved(guid string, resolved int) {
	if job := m.lookup(guid); job != nil {
		job.mu.Lock()
		job.state.Results.ResolvedClashes = resolved
		job.mu.Unlock()
	}
}

// Wait blocks until all background runs have returned.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels running jobs and waits for them, or for ctx.
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.stop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
