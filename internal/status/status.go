// Package status caches the live state of grading runs for dashboards.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	appErr "emc/pkg/errors"
)

const keyPrefix = "emc:run:status:"

// State is the coordinator-visible lifecycle state of an attempt.
type State string

const (
	StateQueued    State = "queued"
	StatePrepared  State = "prepared"
	StateRunning   State = "running"
	StateMarking   State = "marking"
	StateFinalized State = "finalized"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// RunStatus is the cached snapshot of one attempt.
type RunStatus struct {
	SubmissionID string    `json:"submission_id"`
	AssignmentID int64     `json:"assignment_id"`
	UserID       int64     `json:"user_id"`
	Attempt      int64     `json:"attempt"`
	State        State     `json:"state"`
	TaskNumber   int64     `json:"task_number,omitempty"`
	Message      string    `json:"message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Config holds Redis connection settings.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	TTL          time.Duration
}

// DefaultConfig returns connection settings matching the rest of the
// deployment.
func DefaultConfig() Config {
	return Config{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		TTL:          24 * time.Hour,
	}
}

// Cache is the Redis-backed status store.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to Redis with the given settings.
func NewCache(cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, appErr.ValidationError("addr", "required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
	return &Cache{client: client, ttl: cfg.TTL}, nil
}

// NewCacheWithClient wraps an existing client; used by tests.
func NewCacheWithClient(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Set stores the snapshot, refreshing its TTL.
func (c *Cache) Set(ctx context.Context, st RunStatus) error {
	if st.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	st.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(st)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "encode status")
	}
	if err := c.client.Set(ctx, keyPrefix+st.SubmissionID, data, c.ttl).Err(); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status")
	}
	return nil
}

// Get returns the snapshot for a submission.
func (c *Cache) Get(ctx context.Context, submissionID string) (RunStatus, error) {
	if submissionID == "" {
		return RunStatus{}, appErr.ValidationError("submission_id", "required")
	}
	val, err := c.client.Get(ctx, keyPrefix+submissionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RunStatus{}, appErr.New(appErr.CacheMiss).WithDetail("submission_id", submissionID)
		}
		return RunStatus{}, appErr.Wrapf(err, appErr.CacheError, "load status")
	}
	var st RunStatus
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return RunStatus{}, appErr.Wrapf(err, appErr.CacheError, "decode status")
	}
	return st, nil
}

// Delete drops the snapshot; missing keys are a no-op.
func (c *Cache) Delete(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if err := c.client.Del(ctx, keyPrefix+submissionID).Err(); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "delete status")
	}
	return nil
}

// Close releases the connection pool.
func (c *Cache) Close() error { return c.client.Close() }
