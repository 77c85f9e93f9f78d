package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmmcli/internal/config"
	"mmmcli/internal/exporter"
	"mmmcli/internal/operations"
	"mmmcli/internal/optimize"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisRunStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisRunStore(client, "mmm:test:", time.Hour, nil)
}

func storeBackends(t *testing.T) map[string]RunStore {
	_, redisStore := setupTestRedis(t)
	return map[string]RunStore{
		"memory": NewMemoryRunStore(),
		"redis":  redisStore,
	}
}

func TestRunStore_CRUD(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Ping(ctx))

			created := time.Now().UTC().Truncate(time.Second)
			job := &operations.Job{
				ID:        "run-1",
				Model:     "hill_adstock",
				Status:    operations.JobStatusPending,
				CreatedAt: created,
				Config:    config.Default(),
			}
			require.NoError(t, store.CreateJob(ctx, job))
			assert.Error(t, store.CreateJob(ctx, job), "duplicate ids are rejected")

			got, err := store.GetJob(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, "hill_adstock", got.Model)
			assert.Equal(t, operations.JobStatusPending, got.Status)
			assert.True(t, created.Equal(got.CreatedAt))
			assert.Nil(t, got.Config)

			job.Status = operations.JobStatusCompleted
			job.Result = &exporter.Report{
				RunID:    "run-1",
				Channels: []string{"tv", "radio"},
				Optimization: &optimize.Result{
					Allocation: []float64{60, 40},
					Converged:  true,
				},
			}
			require.NoError(t, store.UpdateJob(ctx, job))

			got, err = store.GetJob(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, operations.JobStatusCompleted, got.Status)
			require.NotNil(t, got.Result)
			assert.Equal(t, []float64{60, 40}, got.Result.Optimization.Allocation)

			_, err = store.GetJob(ctx, "missing")
			assert.ErrorIs(t, err, operations.ErrJobNotFound)
			assert.ErrorIs(t, store.UpdateJob(ctx, &operations.Job{ID: "missing"}), operations.ErrJobNotFound)

			require.NoError(t, store.DeleteJob(ctx, "run-1"))
			assert.ErrorIs(t, store.DeleteJob(ctx, "run-1"), operations.ErrJobNotFound)
			require.NoError(t, store.Close())
		})
	}
}

func TestRunStore_List(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC()
			for i, status := range []operations.JobStatus{
				operations.JobStatusCompleted,
				operations.JobStatusFailed,
				operations.JobStatusCompleted,
			} {
				require.NoError(t, store.CreateJob(ctx, &operations.Job{
					ID:        string(rune('a' + i)),
					Status:    status,
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}

			all, err := store.ListJobs(ctx, operations.JobFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

			completed, err := store.ListJobs(ctx, operations.JobFilter{Status: operations.JobStatusCompleted})
			require.NoError(t, err)
			assert.Len(t, completed, 2)

			limited, err := store.ListJobs(ctx, operations.JobFilter{Limit: 1})
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, "c", limited[0].ID)
		})
	}
}

func TestRedisRunStore_Expiry(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, &operations.Job{ID: "old", CreatedAt: time.Now()}))
	assert.Equal(t, time.Hour, mr.TTL("mmm:test:run:old"))

	mr.FastForward(2 * time.Hour)

	_, err := store.GetJob(ctx, "old")
	assert.ErrorIs(t, err, operations.ErrJobNotFound)

	jobs, err := store.ListJobs(ctx, operations.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	members, err := mr.ZMembers("mmm:test:runs")
	if err == nil {
		assert.Empty(t, members, "expired runs are pruned from the index")
	}
}

func TestRedisRunStore_Unreachable(t *testing.T) {
	mr, store := setupTestRedis(t)
	mr.Close()

	assert.Error(t, store.Ping(context.Background()))
	_, err := store.GetJob(context.Background(), "x")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, operations.ErrJobNotFound)
}

func TestNewRunStore(t *testing.T) {
	ctx := context.Background()

	store, err := NewRunStore(ctx, config.StoreConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryRunStore{}, store)

	mr := miniredis.RunT(t)
	store, err = NewRunStore(ctx, config.StoreConfig{Backend: "redis", RedisAddr: mr.Addr(), KeyPrefix: "mmm:", TTL: time.Hour}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisRunStore{}, store)
	require.NoError(t, store.Close())

	_, err = NewRunStore(ctx, config.StoreConfig{Backend: "etcd"}, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
