package operations

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmmcli/internal/config"
	"mmmcli/internal/shared/testutil"
)

func newTestManager(t *testing.T, steps ...Step) *Manager {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	return NewManager(mustRegistry(steps...), NewConfig(), WithManagerLogger(logger))
}

func TestManagerExecute_Success(t *testing.T) {
	var order []string
	track := func(id string) func(context.Context, *OperationState) error {
		return func(context.Context, *OperationState) error {
			order = append(order, id)
			return nil
		}
	}
	m := newTestManager(t,
		newFuncStep("load", nil, track("load")),
		newFuncStep("fit", []string{"load"}, track("fit")),
		newFuncStep("report", []string{"fit"}, track("report")),
	)
	rec := &recorder{}

	state, err := m.Execute(context.Background(), OperationRequest{ID: "run-1", Config: config.Default()}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"load", "fit", "report"}, order)
	assert.Equal(t, OperationStatusCompleted, state.GetStatus())
	for _, id := range order {
		assert.Equal(t, StepStatusCompleted, state.GetStage(id).GetStatus(), id)
		assert.Equal(t, []StepStatus{StepStatusActive, StepStatusCompleted}, rec.statuses(id), id)
	}
	assert.Equal(t, 100.0, rec.last().Progress)
	assert.Equal(t, "run-1", rec.last().OperationID)

	// Finished operations are no longer tracked.
	_, err = m.GetOperation("run-1")
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestManagerExecute_GeneratesID(t *testing.T) {
	m := newTestManager(t, newFuncStep("a", nil, succeed))
	state, err := m.Execute(context.Background(), OperationRequest{Config: config.Default()}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, state.ID)
}

func TestManagerExecute_MissingConfig(t *testing.T) {
	m := newTestManager(t, newFuncStep("a", nil, succeed))
	state, err := m.Execute(context.Background(), OperationRequest{ID: "x"}, nil)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeFatal, GetErrorType(err))
	assert.Equal(t, OperationStatusFailed, state.GetStatus())
}

func TestManagerExecute_FailureSkipsRemaining(t *testing.T) {
	boom := errors.New("boom")
	ran := false
	m := newTestManager(t,
		newFuncStep("load", nil, succeed),
		newFuncStep("fit", []string{"load"}, func(context.Context, *OperationState) error { return boom }),
		newFuncStep("report", []string{"fit"}, func(context.Context, *OperationState) error {
			ran = true
			return nil
		}),
	)

	state, err := m.Execute(context.Background(), OperationRequest{ID: "run-2", Config: config.Default()}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ErrorTypeExecution, GetErrorType(err))
	assert.Equal(t, "fit", FailedStep(err))
	assert.False(t, ran)

	assert.Equal(t, OperationStatusFailed, state.GetStatus())
	assert.Equal(t, StepStatusCompleted, state.GetStage("load").GetStatus())
	assert.Equal(t, StepStatusFailed, state.GetStage("fit").GetStatus())
	assert.Equal(t, StepStatusSkipped, state.GetStage("report").GetStatus())
	assert.True(t, state.HasFailures())
	assert.Contains(t, state.Response().Error, "boom")
}

func TestManagerExecute_ContinueOnError(t *testing.T) {
	boom := errors.New("boom")
	ranIndependent := false
	registry := mustRegistry(
		newFuncStep("load", nil, succeed),
		newFuncStep("evaluate", []string{"load"}, func(context.Context, *OperationState) error { return boom }),
		newFuncStep("after-eval", []string{"evaluate"}, succeed),
		newFuncStep("metrics", []string{"load"}, func(context.Context, *OperationState) error {
			ranIndependent = true
			return nil
		}),
	)
	cfg := NewConfig()
	cfg.ContinueOnError = true
	m := NewManager(registry, cfg)

	state, err := m.Execute(context.Background(), OperationRequest{ID: "run-3", Config: config.Default()}, nil)
	assert.ErrorIs(t, err, boom)
	assert.True(t, ranIndependent)
	assert.Equal(t, StepStatusSkipped, state.GetStage("after-eval").GetStatus())
	assert.Equal(t, StepStatusCompleted, state.GetStage("metrics").GetStatus())
}

func TestManagerExecute_SkipStep(t *testing.T) {
	skipped := newFuncStep("optimize", []string{"fit"}, func(context.Context, *OperationState) error {
		return errors.New("must not run")
	})
	skipped.validate = func(*OperationState) error {
		return fmt.Errorf("%w: optimization disabled", ErrSkipStep)
	}
	m := newTestManager(t,
		newFuncStep("fit", nil, succeed),
		skipped,
		newFuncStep("export", []string{"fit"}, succeed),
	)

	state, err := m.Execute(context.Background(), OperationRequest{ID: "run-4", Config: config.Default()}, nil)
	require.NoError(t, err)
	assert.Equal(t, OperationStatusCompleted, state.GetStatus())
	assert.Equal(t, StepStatusSkipped, state.GetStage("optimize").GetStatus())
	assert.Equal(t, StepStatusCompleted, state.GetStage("export").GetStatus())
}

func TestManagerExecute_ValidationError(t *testing.T) {
	invalid := newFuncStep("prepare", nil, succeed)
	invalid.validate = func(*OperationState) error { return config.ErrInvalidConfig }
	m := newTestManager(t, invalid, newFuncStep("fit", []string{"prepare"}, succeed))

	state, err := m.Execute(context.Background(), OperationRequest{ID: "run-5", Config: config.Default()}, nil)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeValidation, GetErrorType(err))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Equal(t, StepStatusFailed, state.GetStage("prepare").GetStatus())
	assert.Equal(t, StepStatusSkipped, state.GetStage("fit").GetStatus())
}

func TestManagerExecute_StepTimeout(t *testing.T) {
	registry := mustRegistry(newFuncStep("slow", nil, func(ctx context.Context, _ *OperationState) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	cfg := NewConfig()
	cfg.SetStepTimeout("slow", 20*time.Millisecond)
	m := NewManager(registry, cfg)

	state, err := m.Execute(context.Background(), OperationRequest{ID: "run-6", Config: config.Default()}, nil)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeTimeout, GetErrorType(err))
	assert.Equal(t, OperationStatusFailed, state.GetStatus())
}

func TestManagerCancelOperation(t *testing.T) {
	started := make(chan struct{})
	m := newTestManager(t,
		newFuncStep("fit", nil, func(ctx context.Context, _ *OperationState) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}),
		newFuncStep("export", []string{"fit"}, succeed),
	)

	type result struct {
		state *OperationState
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := m.Execute(context.Background(), OperationRequest{ID: "run-7", Config: config.Default()}, nil)
		done <- result{state, err}
	}()

	<-started
	running, err := m.GetOperation("run-7")
	require.NoError(t, err)
	assert.Equal(t, OperationStatusRunning, running.Status)
	assert.Len(t, m.ListOperations(), 1)

	require.NoError(t, m.CancelOperation("run-7", "user request"))

	select {
	case res := <-done:
		require.Error(t, res.err)
		assert.True(t, IsCancellation(res.err))
		assert.ErrorIs(t, res.err, context.Canceled)
		assert.Equal(t, OperationStatusCancelled, res.state.GetStatus())
		assert.Equal(t, StepStatusFailed, res.state.GetStage("fit").GetStatus())
		assert.Equal(t, StepStatusSkipped, res.state.GetStage("export").GetStatus())
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not stop after cancellation")
	}

	assert.ErrorIs(t, m.CancelOperation("run-7", "again"), ErrOperationNotFound)
}

func TestManagerExecute_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	m := newTestManager(t, newFuncStep("a", nil, func(context.Context, *OperationState) error {
		ran = true
		return nil
	}))
	state, err := m.Execute(ctx, OperationRequest{ID: "run-8", Config: config.Default()}, nil)
	require.Error(t, err)
	assert.True(t, IsCancellation(err))
	assert.False(t, ran)
	assert.Equal(t, StepStatusSkipped, state.GetStage("a").GetStatus())
}

func TestManagerExecute_PassesArtifacts(t *testing.T) {
	m := newTestManager(t,
		newFuncStep("export", nil, func(_ context.Context, s *OperationState) error {
			s.Artifacts.ReportFiles = []string{"summary.csv"}
			return nil
		}),
		newFuncStep("after", []string{"export"}, func(_ context.Context, s *OperationState) error {
			if len(s.Artifacts.ReportFiles) != 1 {
				return errors.New("artifacts not shared")
			}
			return nil
		}),
	)
	state, err := m.Execute(context.Background(), OperationRequest{ID: "run-9", Config: config.Default()}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"summary.csv"}, state.Artifacts.ReportFiles)
}
