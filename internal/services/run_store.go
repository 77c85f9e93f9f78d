package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"mmmcli/internal/config"
	"mmmcli/internal/operations"
)

// RunStore persists runs and their results
type RunStore interface {
	operations.JobStore
	Ping(ctx context.Context) error
	Close() error
}

// MemoryRunStore keeps runs in process memory
type MemoryRunStore struct {
	*operations.MemoryJobStore
}

// NewMemoryRunStore creates an empty in-memory store
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{MemoryJobStore: operations.NewMemoryJobStore()}
}

// Ping always succeeds
func (s *MemoryRunStore) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *MemoryRunStore) Close() error { return nil }

// RedisRunStore keeps runs as JSON documents in Redis. Every run key
// expires after the configured TTL; a sorted set indexes runs by creation
// time.
type RedisRunStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewRedisRunStore wraps an existing client
func NewRedisRunStore(client *redis.Client, keyPrefix string, ttl time.Duration, logger *slog.Logger) *RedisRunStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRunStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.With(slog.String("component", "redis_run_store")),
	}
}

// NewRunStore builds the store selected by cfg.Backend
func NewRunStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (RunStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryRunStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		store := NewRedisRunStore(client, cfg.KeyPrefix, cfg.TTL, logger)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

func (s *RedisRunStore) runKey(id string) string {
	return s.keyPrefix + "run:" + id
}

func (s *RedisRunStore) indexKey() string {
	return s.keyPrefix + "runs"
}

// CreateJob stores a new run
func (s *RedisRunStore) CreateJob(ctx context.Context, job *operations.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", job.ID, err)
	}

	created, err := s.client.SetNX(ctx, s.runKey(job.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store run %s: %w", job.ID, err)
	}
	if !created {
		return fmt.Errorf("run %s already exists", job.ID)
	}

	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index run %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads a run
func (s *RedisRunStore) GetJob(ctx context.Context, id string) (*operations.Job, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", operations.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return decodeJob(id, data)
}

// UpdateJob replaces a stored run and refreshes its TTL
func (s *RedisRunStore) UpdateJob(ctx context.Context, job *operations.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", job.ID, err)
	}

	updated, err := s.client.SetXX(ctx, s.runKey(job.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store run %s: %w", job.ID, err)
	}
	if !updated {
		return fmt.Errorf("%w: %s", operations.ErrJobNotFound, job.ID)
	}
	return nil
}

// ListJobs returns runs matching filter, newest first. Index entries whose
// run has expired are pruned.
func (s *RedisRunStore) ListJobs(ctx context.Context, filter operations.JobFilter) ([]*operations.Job, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}

	var (
		jobs    []*operations.Job
		expired []interface{}
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		job, err := decodeJob(ids[i], []byte(raw))
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable run", slog.String("run_id", ids[i]), slog.String("error", err.Error()))
			continue
		}
		if !filter.Matches(job) {
			continue
		}
		jobs = append(jobs, job)
		if filter.Limit > 0 && len(jobs) >= filter.Limit {
			break
		}
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			s.logger.WarnContext(ctx, "failed to prune run index", slog.String("error", err.Error()))
		}
	}
	return jobs, nil
}

// DeleteJob removes a run
func (s *RedisRunStore) DeleteJob(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.runKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	_ = s.client.ZRem(ctx, s.indexKey(), id).Err()
	if n == 0 {
		return fmt.Errorf("%w: %s", operations.ErrJobNotFound, id)
	}
	return nil
}

// Ping checks the connection
func (s *RedisRunStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *RedisRunStore) Close() error {
	return s.client.Close()
}

func decodeJob(id string, data []byte) (*operations.Job, error) {
	var job operations.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &job, nil
}
