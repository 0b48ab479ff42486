package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cognidex/portal-backend/internal/config"
	"github.com/cognidex/portal-backend/internal/model"
	"github.com/cognidex/portal-backend/internal/service"
)

const pollTimeout = 1 * time.Second

// SubmissionWorker consumes the submission queue and runs each job to its
// terminal state. Jobs can occupy a slot for the full submission bound,
// so they run concurrently under a semaphore instead of serially.
type SubmissionWorker struct {
	rdb        *redis.Client
	submission *service.SubmissionService
	sem        chan struct{}
	wg         sync.WaitGroup
	log        zerolog.Logger
}

// NewSubmissionWorker creates a new SubmissionWorker with the given
// concurrency cap.
func NewSubmissionWorker(rdb *redis.Client, submission *service.SubmissionService, concurrency int, log zerolog.Logger) *SubmissionWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SubmissionWorker{
		rdb:        rdb,
		submission: submission,
		sem:        make(chan struct{}, concurrency),
		log:        log.With().Str("component", "submission_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine. On shutdown it waits
// for in-flight submissions so accepted jobs are never silently dropped.
func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Int("concurrency", cap(w.sem)).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping, waiting for in-flight submissions...")
			w.wg.Wait()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *SubmissionWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, pollTimeout, config.WorkerKey.SubmissionQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var job model.SubmissionJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		w.log.Error().Err(err).Msg("Invalid job payload")
		return
	}

	w.sem <- struct{}{}
	w.wg.Add(1)
	go func() {
		defer func() {
			<-w.sem
			w.wg.Done()
		}()
		// The job outlives the loop context on shutdown: an accepted
		// submission still runs to its terminal state.
		w.submission.Execute(context.Background(), &job)
	}()
}
