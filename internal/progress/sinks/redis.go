package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/sitegraph/internal/progress"
)

const defaultStatusTTL = 24 * time.Hour

// JobStatus is the latest milestone cached for a job.
type JobStatus struct {
	Stage    string    `json:"stage"`
	Progress int       `json:"progress"`
	Note     string    `json:"note,omitempty"`
	At       time.Time `json:"at"`
}

// statusClient is the subset of *redis.Client the sink uses.
type statusClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// RedisOptions configures the Redis status cache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisSink caches the latest job milestone under job:<id>:progress so status
// polls avoid the database.
type RedisSink struct {
	client statusClient
	ttl    time.Duration
}

// NewRedisSink dials a Redis client for the status cache.
func NewRedisSink(opts RedisOptions) (*RedisSink, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newRedisSink(client, opts.TTL), nil
}

func newRedisSink(client statusClient, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &RedisSink{client: client, ttl: ttl}
}

func statusKey(jobID string) string {
	return "job:" + jobID + ":progress"
}

// Consume writes the last job-level event per job in the batch.
func (s *RedisSink) Consume(ctx context.Context, batch []progress.Event) error {
	latest := make(map[string]progress.Event)
	order := make([]string, 0)
	for _, evt := range batch {
		if evt.Stage == progress.StageFetchDone {
			continue
		}
		if _, ok := latest[evt.JobID]; !ok {
			order = append(order, evt.JobID)
		}
		latest[evt.JobID] = evt
	}
	var errs []error
	for _, jobID := range order {
		evt := latest[jobID]
		payload, err := json.Marshal(JobStatus{
			Stage:    string(evt.Stage),
			Progress: evt.Progress,
			Note:     evt.Note,
			At:       evt.TS.UTC(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal status %s: %w", jobID, err))
			continue
		}
		if err := s.client.Set(ctx, statusKey(jobID), payload, s.ttl).Err(); err != nil {
			errs = append(errs, fmt.Errorf("cache status %s: %w", jobID, err))
		}
	}
	return errors.Join(errs...)
}

// Status reads the cached milestone for jobID. The bool is false when the key
// is missing or expired.
func (s *RedisSink) Status(ctx context.Context, jobID string) (JobStatus, bool, error) {
	val, err := s.client.Get(ctx, statusKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return JobStatus{}, false, nil
		}
		return JobStatus{}, false, fmt.Errorf("read status %s: %w", jobID, err)
	}
	var status JobStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return JobStatus{}, false, fmt.Errorf("decode status %s: %w", jobID, err)
	}
	return status, true, nil
}

// Close closes the Redis client.
func (s *RedisSink) Close(context.Context) error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
