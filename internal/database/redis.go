package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cognidex/portal-backend/internal/config"
)

// NewRedisClient creates and validates a Redis client. Redis carries all
// hot state: credential registry, session snapshots, submission slots,
// the job queue and the progress Pub/Sub channels.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	// Submission workers block on BLPop and WebSocket relays each hold a
	// subscriber connection, on top of regular command traffic.
	opt.PoolSize = cfg.SubmitWorkers + 10

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Msg("Redis connected")

	return rdb, nil
}
