package scheduler

import (
	"context"
	"errors"
	"testing"

	"freight_ops_backend/internal/callevents/pipeline"
	"freight_ops_backend/platform/apperr"
	"freight_ops_backend/platform/logger"

	"github.com/hibiken/asynq"
)

type stubReplayer struct {
	calls []string
	err   error
}

func (s *stubReplayer) Replay(_ context.Context, conversationID string) (pipeline.Result, error) {
	s.calls = append(s.calls, conversationID)
	return pipeline.Result{ConversationID: conversationID}, s.err
}

func TestReplayTaskPayload(t *testing.T) {
	task, err := NewReplayCallEventTask(ReplayCallEventPayload{ConversationID: "conv_1"})
	if err != nil {
		t.Fatalf("NewReplayCallEventTask: %v", err)
	}
	if task.Type() != TaskReplayCallEvent {
		t.Fatalf("task type = %q", task.Type())
	}
	payload, err := ParseReplayCallEventPayload(task)
	if err != nil || payload.ConversationID != "conv_1" {
		t.Fatalf("ParseReplayCallEventPayload = %+v, %v", payload, err)
	}

	if _, err := NewReplayCallEventTask(ReplayCallEventPayload{}); err == nil {
		t.Fatalf("expected error for empty conversation id")
	}
	if _, err := ParseReplayCallEventPayload(asynq.NewTask(TaskReplayCallEvent, []byte(`{}`))); err == nil {
		t.Fatalf("expected error for payload without conversation id")
	}
}

func TestHandleReplayCallEvent(t *testing.T) {
	task, _ := NewReplayCallEventTask(ReplayCallEventPayload{ConversationID: "conv_9"})

	tests := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{name: "success"},
		{name: "not found is not retried", err: apperr.NotFound("call event not found"), wantErr: true, skipRetry: true},
		{name: "transient error retried", err: errors.New("db timeout"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubReplayer{err: tt.err}
			w := newWorker(r, logger.Discard())
			err := w.handleReplayCallEvent(context.Background(), task)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, asynq.SkipRetry) != tt.skipRetry {
				t.Fatalf("skipRetry = %v, want %v", errors.Is(err, asynq.SkipRetry), tt.skipRetry)
			}
			if len(r.calls) != 1 || r.calls[0] != "conv_9" {
				t.Fatalf("replayer calls = %v", r.calls)
			}
		})
	}

	w := newWorker(&stubReplayer{}, logger.Discard())
	if err := w.handleReplayCallEvent(context.Background(), asynq.NewTask(TaskReplayCallEvent, []byte("nope"))); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("malformed payload should skip retry, got %v", err)
	}
}

func TestRedisClientOpt(t *testing.T) {
	opt, err := redisClientOpt("redis://:pw@localhost:6380/2", false)
	if err != nil {
		t.Fatalf("redisClientOpt: %v", err)
	}
	if opt.Addr != "localhost:6380" || opt.Password != "pw" || opt.DB != 2 || opt.TLSConfig != nil {
		t.Fatalf("unexpected opt %+v", opt)
	}

	opt, err = redisClientOpt("rediss://cache.internal:6379", true)
	if err != nil {
		t.Fatalf("redisClientOpt tls: %v", err)
	}
	if opt.TLSConfig == nil || !opt.TLSConfig.InsecureSkipVerify {
		t.Fatalf("expected insecure TLS config")
	}
}
