package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mmmcli/internal/analysis"
	"mmmcli/internal/config"
	apperrors "mmmcli/internal/errors"
	"mmmcli/internal/infrastructure"
	"mmmcli/internal/mmm"
	"mmmcli/internal/operations"
	"mmmcli/internal/optimize"
)

// DefaultModelCacheSize bounds how many fitted models are kept for
// re-optimisation.
const DefaultModelCacheSize = 16

// RunService submits analysis runs and serves their results
type RunService struct {
	store   RunStore
	queue   *operations.JobQueue
	metrics *infrastructure.BusinessMetrics
	logger  *slog.Logger

	mu        sync.Mutex
	models    map[string]*fittedRun
	order     []string
	cacheSize int
}

// fittedRun keeps what re-optimisation needs from a completed run.
type fittedRun struct {
	artifacts    *operations.Artifacts
	optimization config.OptimizationConfig
}

// RunServiceOptions are the optional collaborators of a RunService
type RunServiceOptions struct {
	Workers   int
	QueueSize int
	CacheSize int
	Progress  operations.ProgressReporter
	Metrics   *infrastructure.BusinessMetrics
	Logger    *slog.Logger
}

// RunSummary is the posterior summary of a completed run
type RunSummary struct {
	RunID       string                  `json:"run_id"`
	Model       string                  `json:"model"`
	Diagnostics *mmm.Diagnostics        `json:"diagnostics,omitempty"`
	Parameters  []analysis.ParamSummary `json:"parameters"`
}

// RunMetrics are the channel metrics of a completed run
type RunMetrics struct {
	RunID        string                      `json:"run_id"`
	Channels     []string                    `json:"channels"`
	Metrics      *analysis.PosteriorMetrics  `json:"metrics,omitempty"`
	Contribution *analysis.ContributionFrame `json:"contribution,omitempty"`
	Evaluation   *analysis.FitQuality        `json:"evaluation,omitempty"`
	Optimization *optimize.Result            `json:"optimization,omitempty"`
}

// OptimizeParams override the optimisation settings a run was submitted
// with. Zero values keep the run's settings.
type OptimizeParams struct {
	Budget         float64
	Prices         []float64
	Periods        int
	BoundsLowerPct *float64
	BoundsUpperPct *float64

	// BaselineAllocation replaces the run's comparison mix.
	BaselineAllocation []float64
}

// NewRunService creates the service and its job queue over manager
func NewRunService(store RunStore, manager *operations.Manager, opts RunServiceOptions) *RunService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultModelCacheSize
	}
	s := &RunService{
		store:     store,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With(slog.String("component", "run_service")),
		models:    make(map[string]*fittedRun),
		cacheSize: opts.CacheSize,
	}
	s.queue = operations.NewJobQueue(store, manager, operations.JobQueueOptions{
		Workers:   opts.Workers,
		QueueSize: opts.QueueSize,
		Progress:  opts.Progress,
		OnDone:    s.remember,
		Metrics:   opts.Metrics,
		Logger:    opts.Logger,
	})
	return s
}

// Start starts the workers
func (s *RunService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop waits up to timeout for running jobs
func (s *RunService) Stop(timeout time.Duration) error {
	return s.queue.Stop(timeout)
}

// QueueStats reports worker and queue usage
func (s *RunService) QueueStats() map[string]interface{} {
	return s.queue.Stats()
}

// Submit validates cfg and queues a run for it
func (s *RunService) Submit(ctx context.Context, cfg *config.Config) (*operations.Job, error) {
	if cfg == nil {
		return nil, apperrors.NewConfigError("run configuration is required", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid run configuration", err)
	}
	if err := cfg.ValidateForRun(); err != nil {
		return nil, apperrors.NewConfigError("invalid run configuration", err)
	}

	job := &operations.Job{ID: uuid.NewString(), Config: cfg}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		if errors.Is(err, operations.ErrQueueFull) {
			return nil, apperrors.ErrQueueFull
		}
		return nil, apperrors.NewStorageError("failed to queue run", err)
	}

	s.logger.InfoContext(ctx, "run submitted",
		slog.String("run_id", job.ID),
		slog.String("model", job.Model),
		slog.String("source", cfg.Data.Source))
	return job, nil
}

// Get returns a run
func (s *RunService) Get(ctx context.Context, id string) (*operations.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, storeError(id, err)
	}
	return job, nil
}

// List returns runs, newest first
func (s *RunService) List(ctx context.Context, status string, limit int) ([]*operations.Job, error) {
	jobs, err := s.store.ListJobs(ctx, operations.JobFilter{
		Status: operations.JobStatus(status),
		Limit:  limit,
	})
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list runs", err)
	}
	return jobs, nil
}

// Summary returns the posterior summary of a completed run
func (s *RunService) Summary(ctx context.Context, id string) (*RunSummary, error) {
	job, err := s.completed(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RunSummary{
		RunID:       job.ID,
		Model:       job.Model,
		Diagnostics: job.Result.Diagnostics,
		Parameters:  job.Result.Summary,
	}, nil
}

// Metrics returns the channel metrics of a completed run
func (s *RunService) Metrics(ctx context.Context, id string) (*RunMetrics, error) {
	job, err := s.completed(ctx, id)
	if err != nil {
		return nil, err
	}
	r := job.Result
	return &RunMetrics{
		RunID:        job.ID,
		Channels:     r.Channels,
		Metrics:      r.Metrics,
		Contribution: r.Contribution,
		Evaluation:   r.Evaluation,
		Optimization: r.Optimization,
	}, nil
}

// Optimize re-runs the budget optimizer against the fitted model of a
// completed run. Only models fitted by this process are available.
func (s *RunService) Optimize(ctx context.Context, id string, params OptimizeParams) (*optimize.Result, error) {
	if _, err := s.completed(ctx, id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	fitted, ok := s.models[id]
	s.mu.Unlock()
	if !ok {
		return nil, apperrors.NewAppError(apperrors.ErrTypeConflict,
			fmt.Sprintf("run %s has no fitted model in this process, submit it again", id), ErrModelUnavailable)
	}

	cfg := params.apply(fitted.optimization)
	start := time.Now()
	result, err := operations.Optimize(ctx, fitted.artifacts, cfg, s.logger)
	if err != nil {
		return nil, apperrors.NewOptimizationError("optimization failed", err)
	}
	infrastructure.RecordOptimizationMetrics(ctx, s.metrics, result.Iterations, result.Converged, result.KPIWithOptim, result.KPIWithoutOptim)

	s.logger.InfoContext(ctx, "run re-optimized",
		slog.String("run_id", id),
		slog.Float64("budget", cfg.Budget),
		slog.Int("periods", cfg.Periods),
		slog.Duration("duration", time.Since(start)))
	return result, nil
}

// Cancel stops a pending or running run
func (s *RunService) Cancel(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apperrors.NewAppError(apperrors.ErrTypeConflict,
			fmt.Sprintf("run %s is already %s", id, job.Status), ErrRunFinished)
	}
	if err := s.queue.CancelJob(ctx, id); err != nil {
		return apperrors.NewConflictError(err.Error())
	}
	s.logger.InfoContext(ctx, "run cancellation requested", slog.String("run_id", id))
	return nil
}

func (s *RunService) completed(ctx context.Context, id string) (*operations.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != operations.JobStatusCompleted || job.Result == nil {
		return nil, apperrors.NewAppError(apperrors.ErrTypeConflict,
			fmt.Sprintf("run %s is %s", id, job.Status), ErrRunNotComplete).
			WithContext("status", string(job.Status))
	}
	return job, nil
}

// remember caches the fitted model of a completed run, evicting the oldest
// entry when the cache is full.
func (s *RunService) remember(_ context.Context, job *operations.Job, state *operations.OperationState) {
	if state == nil || state.GetStatus() != operations.OperationStatusCompleted ||
		state.Artifacts == nil || state.Artifacts.Model == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.models[job.ID]; !exists {
		s.order = append(s.order, job.ID)
	}
	s.models[job.ID] = &fittedRun{
		artifacts:    state.Artifacts,
		optimization: state.Config.Optimization,
	}
	for len(s.order) > s.cacheSize {
		delete(s.models, s.order[0])
		s.order = s.order[1:]
	}
}

func (p OptimizeParams) apply(base config.OptimizationConfig) config.OptimizationConfig {
	cfg := base
	cfg.Enabled = true
	if p.Budget > 0 {
		cfg.Budget = p.Budget
	}
	if len(p.Prices) > 0 {
		cfg.Prices = p.Prices
	}
	if p.Periods > 0 {
		cfg.Periods = p.Periods
	}
	if p.BoundsLowerPct != nil {
		cfg.BoundsLowerPct = *p.BoundsLowerPct
	}
	if p.BoundsUpperPct != nil {
		cfg.BoundsUpperPct = *p.BoundsUpperPct
	}
	if len(p.BaselineAllocation) > 0 {
		cfg.BaselineAllocation = p.BaselineAllocation
	}
	return cfg
}

func storeError(id string, err error) error {
	if errors.Is(err, operations.ErrJobNotFound) {
		return apperrors.NewAppError(apperrors.ErrTypeNotFound, fmt.Sprintf("run %s not found", id), ErrRunNotFound)
	}
	return apperrors.NewStorageError("failed to load run", err)
}
