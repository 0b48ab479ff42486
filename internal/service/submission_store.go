package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cognidex/portal-backend/internal/config"
	"github.com/cognidex/portal-backend/internal/model"
)

// outcomeRetention keeps settled outcomes around long enough for the
// completion view to reconcile, even when the client arrives late.
const outcomeRetention = 24 * time.Hour

// Stream event names, shared with the WebSocket relay.
const (
	EventStatus  = "status"
	EventOutcome = "outcome"
)

// ProgressEvent is one message on a submission's event stream.
type ProgressEvent struct {
	Event     string                   `json:"event"`
	Message   string                   `json:"message,omitempty"`
	ElapsedMS int64                    `json:"elapsed_ms"`
	Outcome   *model.SubmissionOutcome `json:"outcome,omitempty"`
}

// SubmissionState is the externally visible submission phase of a test.
// Owner records who started the submission so reads can be scoped to the
// same participant; it is stripped before the state leaves the API.
type SubmissionState struct {
	InFlight bool                     `json:"in_flight"`
	Owner    string                   `json:"owner,omitempty"`
	Outcome  *model.SubmissionOutcome `json:"outcome,omitempty"`
}

// SubmissionStore owns the submission queue, the per-test state slot and
// the progress event stream.
type SubmissionStore interface {
	// TryBegin claims the state slot for owner. It returns false when a
	// submission is already in flight or settled — terminal states are
	// not reentrant.
	TryBegin(ctx context.Context, testID int, owner string) (bool, error)
	SetOutcome(ctx context.Context, outcome *model.SubmissionOutcome, owner string) error
	GetState(ctx context.Context, testID int) (*SubmissionState, error)
	Clear(ctx context.Context, testID int) error

	Enqueue(ctx context.Context, job *model.SubmissionJob) error

	PublishStatus(ctx context.Context, testID int, message string, elapsed time.Duration) error
	PublishOutcome(ctx context.Context, outcome *model.SubmissionOutcome) error
}

// RedisSubmissionStore implements SubmissionStore on Redis: a list for
// the queue, a string slot for state, Pub/Sub for the event stream.
type RedisSubmissionStore struct {
	rdb *redis.Client
}

// NewRedisSubmissionStore creates a RedisSubmissionStore.
func NewRedisSubmissionStore(rdb *redis.Client) *RedisSubmissionStore {
	return &RedisSubmissionStore{rdb: rdb}
}

func (s *RedisSubmissionStore) TryBegin(ctx context.Context, testID int, owner string) (bool, error) {
	raw, err := json.Marshal(&SubmissionState{InFlight: true, Owner: owner})
	if err != nil {
		return false, fmt.Errorf("marshal submission state: %w", err)
	}
	key := config.CacheKey.SubmissionStateKey(testID)
	// TTL covers the submission bound plus worker queueing slack, so a
	// crashed worker cannot freeze a session forever.
	ok, err := s.rdb.SetNX(ctx, key, raw, SubmitTimeout+5*time.Minute).Result()
	if err != nil {
		return false, fmt.Errorf("claim submission state: %w", err)
	}
	return ok, nil
}

func (s *RedisSubmissionStore) SetOutcome(ctx context.Context, outcome *model.SubmissionOutcome, owner string) error {
	raw, err := json.Marshal(&SubmissionState{Owner: owner, Outcome: outcome})
	if err != nil {
		return fmt.Errorf("marshal submission state: %w", err)
	}
	key := config.CacheKey.SubmissionStateKey(outcome.TestID)
	return s.rdb.Set(ctx, key, raw, outcomeRetention).Err()
}

func (s *RedisSubmissionStore) GetState(ctx context.Context, testID int) (*SubmissionState, error) {
	key := config.CacheKey.SubmissionStateKey(testID)
	raw, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &SubmissionState{}, nil
		}
		return nil, fmt.Errorf("get submission state: %w", err)
	}

	var state SubmissionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("unmarshal submission state: %w", err)
	}
	return &state, nil
}

func (s *RedisSubmissionStore) Clear(ctx context.Context, testID int) error {
	return s.rdb.Del(ctx, config.CacheKey.SubmissionStateKey(testID)).Err()
}

func (s *RedisSubmissionStore) Enqueue(ctx context.Context, job *model.SubmissionJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.rdb.RPush(ctx, config.WorkerKey.SubmissionQueue, raw).Err()
}

func (s *RedisSubmissionStore) PublishStatus(ctx context.Context, testID int, message string, elapsed time.Duration) error {
	return s.publish(ctx, testID, &ProgressEvent{
		Event:     EventStatus,
		Message:   message,
		ElapsedMS: elapsed.Milliseconds(),
	})
}

func (s *RedisSubmissionStore) PublishOutcome(ctx context.Context, outcome *model.SubmissionOutcome) error {
	return s.publish(ctx, outcome.TestID, &ProgressEvent{
		Event:   EventOutcome,
		Outcome: outcome,
	})
}

func (s *RedisSubmissionStore) publish(ctx context.Context, testID int, event *ProgressEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.rdb.Publish(ctx, config.CacheKey.SubmissionChannel(testID), raw).Err()
}
