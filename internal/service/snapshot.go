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

// ErrNoSnapshot means no working state exists for a test ID.
var ErrNoSnapshot = errors.New("no session snapshot")

// SnapshotStore persists the working state of in-progress sessions. The
// portal is stateless across requests apart from this store, so every
// mutation writes through it.
type SnapshotStore interface {
	SaveSession(ctx context.Context, session *model.TestSession, ttl time.Duration) error
	LoadSession(ctx context.Context, testID int) (*model.TestSession, error)
	DeleteSession(ctx context.Context, testID int) error
}

// RedisSnapshotStore keeps snapshots as JSON values with per-flow TTLs.
type RedisSnapshotStore struct {
	rdb *redis.Client
}

// NewRedisSnapshotStore creates a RedisSnapshotStore.
func NewRedisSnapshotStore(rdb *redis.Client) *RedisSnapshotStore {
	return &RedisSnapshotStore{rdb: rdb}
}

func (s *RedisSnapshotStore) SaveSession(ctx context.Context, session *model.TestSession, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := config.CacheKey.SessionSnapshotKey(session.TestID)
	return s.rdb.Set(ctx, key, raw, ttl).Err()
}

func (s *RedisSnapshotStore) LoadSession(ctx context.Context, testID int) (*model.TestSession, error) {
	key := config.CacheKey.SessionSnapshotKey(testID)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var session model.TestSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &session, nil
}

func (s *RedisSnapshotStore) DeleteSession(ctx context.Context, testID int) error {
	return s.rdb.Del(ctx, config.CacheKey.SessionSnapshotKey(testID)).Err()
}
