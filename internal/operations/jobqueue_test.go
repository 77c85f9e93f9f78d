package operations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmmcli/internal/config"
)

func newTestQueue(t *testing.T, workers, queueSize int, progress ProgressReporter, steps ...Step) (*JobQueue, *MemoryJobStore) {
	t.Helper()
	store := NewMemoryJobStore()
	manager := NewManager(mustRegistry(steps...), NewConfig())
	q := NewJobQueue(store, manager, JobQueueOptions{
		Workers:   workers,
		QueueSize: queueSize,
		Progress:  progress,
	})
	t.Cleanup(func() { _ = q.Stop(5 * time.Second) })
	return q, store
}

func waitForStatus(t *testing.T, store JobStore, id string, want JobStatus) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = store.GetJob(context.Background(), id)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func TestJobQueue_CompletesJob(t *testing.T) {
	rec := &recorder{}
	var hookState *OperationState
	q, store := newTestQueue(t, 1, 2, rec,
		newFuncStep(StepIDPrepare, nil, succeed),
		newFuncStep(StepIDFit, []string{StepIDPrepare}, succeed),
	)
	q.onDone = func(_ context.Context, _ *Job, state *OperationState) { hookState = state }
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), &Job{ID: "job-1", Config: config.Default()}))
	job := waitForStatus(t, store, "job-1", JobStatusCompleted)

	assert.Equal(t, config.DefaultModelName, job.Model)
	assert.Equal(t, 100.0, job.Progress)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.Error)
	assert.Equal(t, StepStatusCompleted, job.Steps[StepIDFit])
	require.NotNil(t, job.Result)
	assert.Equal(t, "job-1", job.Result.RunID)
	assert.Nil(t, job.Config, "configuration must not be persisted")

	require.NotNil(t, hookState)
	assert.Equal(t, OperationStatusCompleted, hookState.GetStatus())

	require.Eventually(t, func() bool {
		return len(rec.statuses(EventTypeRunComplete)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestJobQueue_FailedJob(t *testing.T) {
	q, store := newTestQueue(t, 1, 2, nil,
		newFuncStep(StepIDPrepare, nil, succeed),
		newFuncStep(StepIDFit, []string{StepIDPrepare}, func(context.Context, *OperationState) error {
			return errors.New("sampler diverged")
		}),
	)
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), &Job{ID: "job-2", Config: config.Default()}))
	job := waitForStatus(t, store, "job-2", JobStatusFailed)

	assert.Contains(t, job.Error, "sampler diverged")
	assert.Equal(t, StepIDFit, job.FailedStep)
	assert.Nil(t, job.Result)
}

func TestJobQueue_EnqueueWithoutConfig(t *testing.T) {
	q, _ := newTestQueue(t, 1, 1, nil, newFuncStep("a", nil, succeed))
	assert.Error(t, q.Enqueue(context.Background(), &Job{ID: "job-3"}))
}

func TestJobQueue_QueueFull(t *testing.T) {
	q, store := newTestQueue(t, 1, 1, nil, newFuncStep("a", nil, succeed))

	// Workers are not started so the first job stays queued.
	require.NoError(t, q.Enqueue(context.Background(), &Job{ID: "first", Config: config.Default()}))
	err := q.Enqueue(context.Background(), &Job{ID: "second", Config: config.Default()})
	assert.ErrorIs(t, err, ErrQueueFull)

	job, err := store.GetJob(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, job.Status)

	stats := q.Stats()
	assert.Equal(t, 1, stats["queue_size"])
	assert.Equal(t, 1, stats["queue_cap"])
}

func TestJobQueue_CancelPendingJob(t *testing.T) {
	ran := false
	q, store := newTestQueue(t, 1, 2, nil, newFuncStep("a", nil, func(context.Context, *OperationState) error {
		ran = true
		return nil
	}))

	require.NoError(t, q.Enqueue(context.Background(), &Job{ID: "job-4", Config: config.Default()}))
	require.NoError(t, q.CancelJob(context.Background(), "job-4"))
	q.Start(context.Background())

	require.NoError(t, q.Stop(5*time.Second))
	job, err := store.GetJob(context.Background(), "job-4")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, job.Status)
	assert.False(t, ran)

	assert.Error(t, q.CancelJob(context.Background(), "job-4"), "finished jobs cannot be cancelled")
}

func TestJobQueue_CancelRunningJob(t *testing.T) {
	started := make(chan struct{})
	q, store := newTestQueue(t, 1, 2, nil,
		newFuncStep(StepIDFit, nil, func(ctx context.Context, _ *OperationState) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}),
	)
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(context.Background(), &Job{ID: "job-5", Config: config.Default()}))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	require.NoError(t, q.CancelJob(context.Background(), "job-5"))

	job := waitForStatus(t, store, "job-5", JobStatusCancelled)
	assert.Contains(t, job.Error, "cancelled by user")
}

func TestJobQueue_StartFailsInterruptedJobs(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, &Job{ID: "left-running", Status: JobStatusRunning}))
	require.NoError(t, store.CreateJob(ctx, &Job{ID: "left-pending", Status: JobStatusPending}))
	require.NoError(t, store.CreateJob(ctx, &Job{ID: "done", Status: JobStatusCompleted}))

	q := NewJobQueue(store, NewManager(NewRegistry(), nil), JobQueueOptions{Workers: 1})
	q.Start(ctx)
	defer q.Stop(time.Second)

	for _, id := range []string{"left-running", "left-pending"} {
		job, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, JobStatusFailed, job.Status, id)
		assert.Contains(t, job.Error, "interrupted")
	}
	job, err := store.GetJob(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, job.Status)
}

func TestMemoryJobStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJobStore()
	now := time.Now()

	require.NoError(t, store.CreateJob(ctx, &Job{ID: "a", Status: JobStatusCompleted, CreatedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, store.CreateJob(ctx, &Job{ID: "b", Status: JobStatusRunning, CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.CreateJob(ctx, &Job{ID: "c", Status: JobStatusCompleted, CreatedAt: now}))
	assert.Error(t, store.CreateJob(ctx, &Job{ID: "a"}))

	_, err := store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, store.UpdateJob(ctx, &Job{ID: "missing"}), ErrJobNotFound)

	// Returned jobs are copies.
	got, err := store.GetJob(ctx, "b")
	require.NoError(t, err)
	got.Status = JobStatusFailed
	again, _ := store.GetJob(ctx, "b")
	assert.Equal(t, JobStatusRunning, again.Status)

	completed, err := store.ListJobs(ctx, JobFilter{Status: JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 2)
	assert.Equal(t, "c", completed[0].ID, "newest first")

	limited, err := store.ListJobs(ctx, JobFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].ID)

	recent, err := store.ListJobs(ctx, JobFilter{Since: now.Add(-90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	assert.Equal(t, 1, store.CleanupOldJobs(30*time.Minute))
	stats := store.GetStats()
	assert.Equal(t, 2, stats["total_jobs"])
	assert.Equal(t, 1, stats["running"])

	require.NoError(t, store.DeleteJob(ctx, "b"))
	assert.ErrorIs(t, store.DeleteJob(ctx, "b"), ErrJobNotFound)
}
