package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mmmcli/internal/config"
	"mmmcli/internal/exporter"
	"mmmcli/internal/infrastructure"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job can no longer change
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one queued analysis run. Result holds the report of a completed
// run; posterior draws are never stored.
type Job struct {
	ID          string                `json:"id"`
	Model       string                `json:"model"`
	Status      JobStatus             `json:"status"`
	Progress    float64               `json:"progress"`
	Message     string                `json:"message,omitempty"`
	Error       string                `json:"error,omitempty"`
	FailedStep  string                `json:"failed_step,omitempty"`
	TraceID     string                `json:"trace_id,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Steps       map[string]StepStatus `json:"steps,omitempty"`
	Result      *exporter.Report      `json:"result,omitempty"`

	// Config is the run configuration. It lives only in the process that
	// accepted the job.
	Config *config.Config `json:"-"`
}

// JobStore persists jobs
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJob(ctx context.Context, job *Job) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// JobFilter for querying jobs
type JobFilter struct {
	Status JobStatus
	Since  time.Time
	Limit  int
}

// Matches reports whether job passes the filter
func (f JobFilter) Matches(job *Job) bool {
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && job.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// ErrQueueFull is returned when the queue cannot take another job
var ErrQueueFull = errors.New("job queue is full")

// CompletionHook is called after a job finishes, before its final status is
// stored. state is nil when the job never started.
type CompletionHook func(ctx context.Context, job *Job, state *OperationState)

// JobQueue runs queued jobs on a fixed pool of workers
type JobQueue struct {
	mu       sync.RWMutex
	jobs     chan *Job
	workers  int
	wg       sync.WaitGroup
	store    JobStore
	manager  *Manager
	progress ProgressReporter
	onDone   CompletionHook
	metrics  *infrastructure.BusinessMetrics
	logger   *slog.Logger
	shutdown chan struct{}
	stopOnce sync.Once
	active   map[string]*Job
}

// JobQueueOptions are the optional collaborators of a JobQueue
type JobQueueOptions struct {
	Workers   int
	QueueSize int
	Progress  ProgressReporter
	OnDone    CompletionHook
	Metrics   *infrastructure.BusinessMetrics
	Logger    *slog.Logger
}

// NewJobQueue creates a new job queue
func NewJobQueue(store JobStore, manager *Manager, opts JobQueueOptions) *JobQueue {
	if opts.Workers <= 0 {
		opts.Workers = config.DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &JobQueue{
		jobs:     make(chan *Job, opts.QueueSize),
		workers:  opts.Workers,
		store:    store,
		manager:  manager,
		progress: opts.Progress,
		onDone:   opts.OnDone,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With(slog.String("component", "jobqueue")),
		shutdown: make(chan struct{}),
		active:   make(map[string]*Job),
	}
}

// Start launches the workers. Jobs left pending or running by a previous
// process are marked failed since their configuration was not persisted.
func (q *JobQueue) Start(ctx context.Context) {
	q.logger.InfoContext(ctx, "starting job queue", slog.Int("workers", q.workers))
	q.failInterrupted(ctx)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop signals the workers and waits up to timeout for running jobs
func (q *JobQueue) Stop(timeout time.Duration) error {
	q.stopOnce.Do(func() { close(q.shutdown) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("job queue stopped gracefully")
		return nil
	case <-time.After(timeout):
		q.mu.RLock()
		for id := range q.active {
			_ = q.manager.CancelOperation(id, "shutdown")
		}
		q.mu.RUnlock()
		return fmt.Errorf("timeout waiting for workers to finish")
	}
}

// Enqueue stores job as pending and hands it to the workers
func (q *JobQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.Config == nil {
		return fmt.Errorf("job %s has no configuration", job.ID)
	}
	job.Status = JobStatusPending
	job.CreatedAt = time.Now().UTC()
	job.Model = job.Config.Model.Name
	job.TraceID = infrastructure.GetTraceID(ctx)

	if err := q.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	select {
	case q.jobs <- job:
		q.logger.InfoContext(ctx, "job enqueued", slog.String("job_id", job.ID), slog.String("model", job.Model))
		return nil
	default:
		q.finish(ctx, job, JobStatusFailed, ErrQueueFull)
		return ErrQueueFull
	}
}

// GetJob returns a stored job
func (q *JobQueue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// CancelJob cancels a pending or running job
func (q *JobQueue) CancelJob(ctx context.Context, id string) error {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s cannot be cancelled (status: %s)", id, job.Status)
	}

	infrastructure.RecordRunCancellation(ctx, q.metrics, "user")
	if job.Status == JobStatusRunning {
		return q.manager.CancelOperation(id, "cancelled by user")
	}
	// Pending jobs are dropped by the worker that dequeues them.
	q.finish(ctx, job, JobStatusCancelled, nil)
	return nil
}

// ListJobs returns jobs matching the filter
func (q *JobQueue) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	return q.store.ListJobs(ctx, filter)
}

// Stats returns queue statistics
func (q *JobQueue) Stats() map[string]interface{} {
	q.mu.RLock()
	activeCount := len(q.active)
	q.mu.RUnlock()

	return map[string]interface{}{
		"workers":     q.workers,
		"queue_size":  len(q.jobs),
		"queue_cap":   cap(q.jobs),
		"active_jobs": activeCount,
	}
}

func (q *JobQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	logger := q.logger.With(slog.Int("worker_id", workerID))
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.shutdown:
			return
		case job := <-q.jobs:
			q.processJob(ctx, job, logger)
		}
	}
}

func (q *JobQueue) processJob(ctx context.Context, job *Job, logger *slog.Logger) {
	if job.TraceID != "" {
		ctx = infrastructure.WithTraceID(ctx, job.TraceID)
	}
	logger = logger.With(slog.String("job_id", job.ID))

	if stored, err := q.store.GetJob(ctx, job.ID); err == nil && stored.Status == JobStatusCancelled {
		logger.InfoContext(ctx, "skipping cancelled job")
		return
	}

	q.mu.Lock()
	q.active[job.ID] = job
	q.mu.Unlock()
	infrastructure.RecordActiveRunChange(ctx, q.metrics, 1)

	var state *OperationState
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "job processing panicked", slog.Any("panic", r))
			q.finish(ctx, job, JobStatusFailed, fmt.Errorf("job processing panicked: %v", r))
		}
		q.mu.Lock()
		delete(q.active, job.ID)
		q.mu.Unlock()
		infrastructure.RecordActiveRunChange(ctx, q.metrics, -1)
	}()

	now := time.Now().UTC()
	job.Status = JobStatusRunning
	job.StartedAt = &now
	job.Message = "Run started"
	if err := q.store.UpdateJob(ctx, job); err != nil {
		logger.ErrorContext(ctx, "failed to update job status", slog.String("error", err.Error()))
	}
	logger.InfoContext(ctx, "processing job started")

	var timeout time.Duration
	if job.Config.Server.RunTimeout > 0 {
		timeout = job.Config.Server.RunTimeout
	} else {
		timeout = config.DefaultRunTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	state, err := q.manager.Execute(runCtx, OperationRequest{ID: job.ID, Config: job.Config}, MultiReporter(q.jobReporter(job), q.progress))
	infrastructure.RecordRunMetrics(ctx, q.metrics, job.Model, time.Since(start), err)

	if state != nil {
		job.Steps = make(map[string]StepStatus, len(state.Steps))
		for id, s := range state.Response().Steps {
			job.Steps[id] = s.Status
		}
		if err == nil {
			job.Result = BuildReport(state)
		}
	}
	if q.onDone != nil {
		q.onDone(ctx, job, state)
	}

	switch {
	case err == nil:
		q.finish(ctx, job, JobStatusCompleted, nil)
		logger.InfoContext(ctx, "processing job completed", slog.Duration("duration", time.Since(start)))
	case IsCancellation(err):
		q.finish(ctx, job, JobStatusCancelled, err)
	default:
		job.FailedStep = FailedStep(err)
		q.finish(ctx, job, JobStatusFailed, err)
	}
}

// jobReporter mirrors progress into the stored job.
func (q *JobQueue) jobReporter(job *Job) ProgressReporter {
	return ProgressFunc(func(ctx context.Context, update ProgressUpdate) {
		q.mu.Lock()
		job.Progress = update.Progress
		job.Message = fmt.Sprintf("%s %s", update.StepID, update.Status)
		q.mu.Unlock()
		if err := q.store.UpdateJob(ctx, job); err != nil {
			q.logger.WarnContext(ctx, "failed to store job progress", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
	})
}

func (q *JobQueue) finish(ctx context.Context, job *Job, status JobStatus, err error) {
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	switch status {
	case JobStatusCompleted:
		job.Progress = 100
		job.Message = "Run completed"
	case JobStatusCancelled:
		job.Message = "Run cancelled"
	default:
		job.Message = "Run failed"
	}
	if err != nil {
		job.Error = err.Error()
	}
	if uerr := q.store.UpdateJob(ctx, job); uerr != nil {
		q.logger.ErrorContext(ctx, "failed to store job result", slog.String("job_id", job.ID), slog.String("error", uerr.Error()))
	}

	if q.progress != nil {
		event := EventTypeRunComplete
		if status != JobStatusCompleted {
			event = EventTypeRunError
		}
		q.progress.ReportProgress(ctx, ProgressUpdate{
			OperationID: job.ID,
			StepID:      event,
			Progress:    job.Progress,
			Message:     job.Message,
		})
	}
}

func (q *JobQueue) failInterrupted(ctx context.Context) {
	for _, status := range []JobStatus{JobStatusPending, JobStatusRunning} {
		jobs, err := q.store.ListJobs(ctx, JobFilter{Status: status})
		if err != nil {
			q.logger.WarnContext(ctx, "failed to list interrupted jobs", slog.String("error", err.Error()))
			continue
		}
		for _, job := range jobs {
			q.finish(ctx, job, JobStatusFailed, errors.New("interrupted by restart"))
		}
	}
}
