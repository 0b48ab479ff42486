package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cognidex/portal-backend/internal/config"
	"github.com/cognidex/portal-backend/internal/database"
	"github.com/cognidex/portal-backend/internal/evalapi"
	"github.com/cognidex/portal-backend/internal/handler"
	"github.com/cognidex/portal-backend/internal/logger"
	"github.com/cognidex/portal-backend/internal/monitoring"
	"github.com/cognidex/portal-backend/internal/repository"
	"github.com/cognidex/portal-backend/internal/router"
	"github.com/cognidex/portal-backend/internal/service"
	"github.com/cognidex/portal-backend/internal/validator"
	"github.com/cognidex/portal-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("eval_api", cfg.EvalAPIURL).
		Msg("Starting CogniDex Portal Backend")

	// ─── Initialize Validator & Metrics ────────────────────────────────
	validator.Setup()
	monitoring.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Evaluation Service Client ─────────────────────────────────────
	eval := evalapi.New(cfg.EvalAPIURL)

	// ─── Initialize Stores & Repositories ──────────────────────────────
	snapshotStore := service.NewRedisSnapshotStore(rdb)
	submissionStore := service.NewRedisSubmissionStore(rdb)
	logRepo := repository.NewSubmissionLogRepository(pool)

	// ─── Initialize Services ───────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb, eval)
	seriesService := service.NewSeriesService(eval, rdb, log)
	submissionService := service.NewSubmissionService(eval, submissionStore, snapshotStore, logRepo, log)
	sessionService := service.NewTestSessionService(eval, snapshotStore, submissionService, log)

	// ─── Initialize Handlers ───────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Series:  handler.NewSeriesHandler(seriesService),
		Session: handler.NewSessionHandler(sessionService, submissionService, log),
		Result:  handler.NewResultHandler(eval),
		WS:      handler.NewSubmissionWSHandler(rdb, submissionService, snapshotStore, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ──────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	submissionWorker := worker.NewSubmissionWorker(rdb, submissionService, cfg.SubmitWorkers, log)
	go func() {
		submissionWorker.Start(workerCtx)
		close(workerDone)
	}()

	// ─── Prewarm Redis Caches ──────────────────────────────────────────
	// The series catalog backs the landing page; load it before traffic
	// arrives so the first visitors do not all stampede the upstream.
	if err := seriesService.Prewarm(ctx); err != nil {
		log.Warn().Err(err).Msg("Series catalog prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the worker loop. Accepted submissions keep running to a
	// terminal state, so the drain window must outlast the submission
	// bound: a job picked up just before shutdown may legitimately run
	// the full bound before it settles.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(service.SubmitTimeout + 10*time.Second):
		log.Warn().Msg("Worker drain timed out")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
