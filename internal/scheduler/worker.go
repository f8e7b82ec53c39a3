package scheduler

import (
	"context"
	"fmt"

	"freight_ops_backend/internal/callevents/pipeline"
	"freight_ops_backend/platform/apperr"
	"freight_ops_backend/platform/config"
	"freight_ops_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Replayer re-runs the call-event pipeline for a stored conversation.
type Replayer interface {
	Replay(ctx context.Context, conversationID string) (pipeline.Result, error)
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	replayer Replayer
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, replayer Replayer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(replayer, log)
	w.server = server
	return w, nil
}

func newWorker(replayer Replayer, log *logger.Logger) *Worker {
	w := &Worker{
		mux:      asynq.NewServeMux(),
		replayer: replayer,
		log:      log,
	}
	w.mux.HandleFunc(TaskReplayCallEvent, w.handleReplayCallEvent)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleReplayCallEvent(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseReplayCallEventPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	ctx = logger.WithConversationIDContext(ctx, payload.ConversationID)
	result, err := w.replayer.Replay(ctx, payload.ConversationID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) || apperr.Is(err, apperr.KindBadRequest) {
			w.log.WithContext(ctx).Warn("callevents: replay dropped", "error", err)
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}

	w.log.WithContext(ctx).Info("callevents: replay completed",
		"callEventId", result.CallEventID,
		"intentScore", result.IntentScore,
		"degraded", result.Degraded,
	)
	return nil
}
