package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"freight_ops_backend/internal/callevents"
	"freight_ops_backend/internal/callevents/handler"
	"freight_ops_backend/internal/callevents/repository"
	"freight_ops_backend/internal/events"
	apphttp "freight_ops_backend/internal/http"
	"freight_ops_backend/internal/http/router"
	"freight_ops_backend/internal/scheduler"
	"freight_ops_backend/platform/ai/provider"
	"freight_ops_backend/platform/config"
	"freight_ops_backend/platform/db"
	"freight_ops_backend/platform/logger"
	"freight_ops_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	if cfg.MigrationsEnabled {
		if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.RunMigrations(ctx, pool)
		}); err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
		log.Info("database migrations complete")
	}

	rdb, err := db.NewRedis(ctx, cfg)
	if err != nil {
		log.Warn("redis unavailable; carrier cache disabled", "error", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	completer, err := provider.New(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize summarizer", "error", err)
		panic("failed to initialize summarizer: " + err.Error())
	}
	if completer == nil {
		log.Warn("AI_PROVIDER or AI_API_KEY not configured; transcript enrichment disabled")
	} else {
		log.Info("summarizer initialized", "provider", cfg.AIProvider, "model", completer.Name())
	}

	replayQueue, closeQueue := initReplayQueue(cfg, log)
	if closeQueue != nil {
		defer closeQueue()
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	repo := repository.New(pool)
	callEventsModule, err := callevents.NewModule(repo, cfg, eventBus, val, log, callevents.Options{
		Completer: completer,
		Redis:     rdb,
		Queue:     replayQueue,
	})
	if err != nil {
		log.Error("failed to initialize call events module", "error", err)
		panic("failed to initialize call events module: " + err.Error())
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   repo,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			callEventsModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initReplayQueue(cfg config.SchedulerConfig, log *logger.Logger) (handler.ReplayQueue, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; admin replays run inline")
		return nil, nil
	}

	replayClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize replay queue client", "error", err)
		return nil, nil
	}

	return replayClient, func() {
		_ = replayClient.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
