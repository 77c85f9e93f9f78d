package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mmmcli/internal/infrastructure"
)

// Manager runs the registered steps of an operation in dependency order
type Manager struct {
	registry *Registry
	config   *Config
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *infrastructure.BusinessMetrics

	mu         sync.RWMutex
	operations map[string]*runningOperation
}

type runningOperation struct {
	state  *OperationState
	cancel context.CancelCauseFunc
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records step metrics
func WithMetrics(metrics *infrastructure.BusinessMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a manager over registry
func NewManager(registry *Registry, config *Config, opts ...ManagerOption) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}
	m := &Manager{
		registry:   registry,
		config:     config,
		logger:     slog.Default(),
		tracer:     otel.Tracer(infrastructure.ServiceName),
		operations: make(map[string]*runningOperation),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "operations_manager"))
	return m
}

// Execute runs the pipeline for req and returns the final state, which
// carries the artifacts of every completed step. The returned error is an
// *OperationError naming the failing step.
func (m *Manager) Execute(ctx context.Context, req OperationRequest, progress ProgressReporter) (*OperationState, error) {
	if req.ID == "" {
		req.ID = fmt.Sprintf("operation-%d", time.Now().UnixNano())
	}
	if progress == nil {
		progress = nopReporter{}
	}

	state := NewOperationState(req.ID, req.Config)
	if req.Config == nil {
		err := NewFatalError("operation has no configuration", nil)
		state.Fail(err)
		return state, err
	}

	steps, err := m.registry.Plan(req.Steps)
	if err != nil {
		err = NewFatalError("failed to plan steps", err)
		state.Fail(err)
		return state, err
	}
	for _, step := range steps {
		state.SetStage(step.ID(), NewStepState(step.ID(), step.Name()))
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	m.track(state, cancel)
	defer m.untrack(state.ID)

	ctx, span := m.tracer.Start(ctx, "operation.execute", trace.WithAttributes(
		attribute.String("operation.id", state.ID),
		attribute.Int("operation.steps", len(steps)),
	))
	defer span.End()

	logger := infrastructure.LoggerWithContext(ctx).With(
		slog.String("component", "operations_manager"),
		slog.String("operation_id", state.ID),
	)
	logger.InfoContext(ctx, "operation started", slog.Int("step_count", len(steps)))

	state.Start()
	err = m.executeSequential(ctx, state, steps, progress, logger)

	switch {
	case err == nil:
		state.Complete()
		logger.InfoContext(ctx, "operation completed", slog.Duration("duration", state.Duration()))
	case IsCancellation(err):
		state.Cancel(err)
		span.SetStatus(codes.Error, "cancelled")
		logger.WarnContext(ctx, "operation cancelled", slog.String("error", err.Error()))
	default:
		state.Fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "operation failed", slog.String("error", err.Error()))
	}
	return state, err
}

func (m *Manager) executeSequential(ctx context.Context, state *OperationState, steps []Step, progress ProgressReporter, logger *slog.Logger) error {
	tracker := NewProgressTracker(len(steps))
	var firstErr error

	for i, step := range steps {
		stepState := state.GetStage(step.ID())

		if cause := context.Cause(ctx); cause != nil {
			m.skipRemaining(ctx, state, steps[i:], "operation cancelled", progress, tracker)
			return NewCancellationError(step.ID(), cause)
		}

		if err := m.checkDependencies(state, step); err != nil {
			stepState.Skip(err.Error())
			tracker.Increment()
			m.report(ctx, progress, state.ID, stepState, tracker)
			continue
		}

		logger.InfoContext(ctx, "executing step",
			slog.String("step", step.ID()),
			slog.Int("step_number", i+1),
			slog.Int("total_steps", len(steps)))

		err := m.executeStep(ctx, state, step, progress, tracker)
		tracker.Increment()
		m.report(ctx, progress, state.ID, stepState, tracker)
		if err == nil {
			continue
		}

		logger.ErrorContext(ctx, "step failed",
			slog.String("step", step.ID()),
			slog.String("error", err.Error()))
		if IsCancellation(err) || !m.config.ContinueOnError {
			m.skipRemaining(ctx, state, steps[i+1:], fmt.Sprintf("step %s failed", step.ID()), progress, tracker)
			return err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// executeStep validates and runs one step under its timeout.
func (m *Manager) executeStep(ctx context.Context, state *OperationState, step Step, progress ProgressReporter, tracker *ProgressTracker) error {
	stepState := state.GetStage(step.ID())

	if err := step.Validate(state); err != nil {
		if errors.Is(err, ErrSkipStep) {
			stepState.Skip(err.Error())
			return nil
		}
		opErr := NewValidationError(step.ID(), err)
		stepState.Fail(opErr)
		return opErr
	}

	timeout := m.config.GetStepTimeout(step.ID())
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stepCtx, span := m.tracer.Start(stepCtx, "step."+step.ID(), trace.WithAttributes(
		attribute.String("operation.id", state.ID),
		attribute.String("step.id", step.ID()),
	))
	defer span.End()

	stepState.Start()
	m.report(ctx, progress, state.ID, stepState, tracker)

	start := time.Now()
	err := step.Execute(stepCtx, state)
	duration := time.Since(start)
	infrastructure.RecordStepMetrics(ctx, m.metrics, step.ID(), duration, err == nil)

	if err == nil {
		stepState.Complete(fmt.Sprintf("%s completed in %s", step.Name(), duration.Round(time.Millisecond)))
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var opErr *OperationError
	switch {
	case context.Cause(ctx) != nil:
		opErr = NewCancellationError(step.ID(), context.Cause(ctx))
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		opErr = NewTimeoutError(step.ID(), timeout.String(), err)
	default:
		opErr = NewExecutionError(step.ID(), err)
	}
	stepState.Fail(opErr)
	return opErr
}

func (m *Manager) checkDependencies(state *OperationState, step Step) error {
	for _, dep := range step.GetDependencies() {
		depState := state.GetStage(dep)
		if depState == nil {
			return NewDependencyError(step.ID(), dep, StepStatusPending)
		}
		if status := depState.GetStatus(); status != StepStatusCompleted {
			return NewDependencyError(step.ID(), dep, status)
		}
	}
	return nil
}

func (m *Manager) skipRemaining(ctx context.Context, state *OperationState, steps []Step, reason string, progress ProgressReporter, tracker *ProgressTracker) {
	for _, step := range steps {
		stepState := state.GetStage(step.ID())
		if stepState == nil || stepState.GetStatus() != StepStatusPending {
			continue
		}
		stepState.Skip(reason)
		tracker.Increment()
		m.report(ctx, progress, state.ID, stepState, tracker)
	}
}

func (m *Manager) report(ctx context.Context, progress ProgressReporter, operationID string, step *StepState, tracker *ProgressTracker) {
	snapshot := step.clone()
	message := snapshot.Message
	if snapshot.Error != "" {
		message = snapshot.Error
	}
	progress.ReportProgress(ctx, ProgressUpdate{
		OperationID: operationID,
		StepID:      snapshot.ID,
		Status:      snapshot.Status,
		Progress:    tracker.Percentage(),
		Message:     message,
		ETA:         tracker.GetETA(),
	})
}

func (m *Manager) track(state *OperationState, cancel context.CancelCauseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[state.ID] = &runningOperation{state: state, cancel: cancel}
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.operations, id)
}

// GetOperation returns a snapshot of a running operation
func (m *Manager) GetOperation(id string) (*OperationResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	op, exists := m.operations[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	return op.state.Response(), nil
}

// ListOperations returns snapshots of all running operations
func (m *Manager) ListOperations() []*OperationResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*OperationResponse, 0, len(m.operations))
	for _, op := range m.operations {
		out = append(out, op.state.Response())
	}
	return out
}

// CancelOperation cancels a running operation. The current step sees a
// cancelled context and the remaining steps are skipped.
func (m *Manager) CancelOperation(id string, reason string) error {
	m.mu.RLock()
	op, exists := m.operations[id]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	op.cancel(fmt.Errorf("%w: %s", context.Canceled, reason))
	return nil
}
