package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"freight_ops_backend/internal/callevents"
	"freight_ops_backend/internal/callevents/repository"
	"freight_ops_backend/internal/events"
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

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "queue", cfg.AsynqQueueName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	// Worker-side pipeline wiring (no HTTP handlers required). Replays run
	// inline on the worker, so no queue is passed.
	callEventsModule, err := callevents.NewModule(repository.New(pool), cfg, eventBus, validator.New(), log, callevents.Options{
		Completer: completer,
		Redis:     rdb,
	})
	if err != nil {
		log.Error("failed to initialize call events module", "error", err)
		panic("failed to initialize call events module: " + err.Error())
	}

	worker, err := scheduler.NewWorker(cfg, callEventsModule.Service(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
