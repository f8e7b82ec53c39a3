package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"freight_ops_backend/internal/callevents/pipeline"
	"freight_ops_backend/internal/callevents/transport"
	"freight_ops_backend/platform/apperr"
	"freight_ops_backend/platform/config"
	"freight_ops_backend/platform/logger"
	"freight_ops_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type stubPipeline struct {
	processed [][]byte
	replayed  []string
	err       error
}

func (s *stubPipeline) Process(_ context.Context, raw []byte) (pipeline.Result, error) {
	s.processed = append(s.processed, raw)
	if s.err != nil {
		return pipeline.Result{}, s.err
	}
	return pipeline.Result{Success: true, CallEventID: uuid.New(), ConversationID: "conv_1", IntentScore: 9}, nil
}

func (s *stubPipeline) Replay(_ context.Context, conversationID string) (pipeline.Result, error) {
	s.replayed = append(s.replayed, conversationID)
	if s.err != nil {
		return pipeline.Result{}, s.err
	}
	return pipeline.Result{Success: true, ConversationID: conversationID}, nil
}

type stubQueue struct{ ids []string }

func (q *stubQueue) EnqueueReplay(_ context.Context, conversationID string) (string, error) {
	q.ids = append(q.ids, conversationID)
	return "task-1", nil
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/voice", h.HandleVoiceWebhook)
	r.POST("/admin/call-events/:conversationId/replay", h.HandleReplay)
	r.POST("/admin/keyword-rules/test", h.HandleKeywordTest)
	return r
}

func newHandler(p Pipeline, q ReplayQueue, secret string, require bool) *Handler {
	cfg := &config.Config{VoiceWebhookSecret: secret, VoiceWebhookRequireSignature: require}
	return New(p, q, cfg, validator.New(), logger.Discard())
}

func post(r http.Handler, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

const body = `{"type":"call_ended","call_id":"conv_1"}`

func TestVoiceWebhookResponses(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		require bool
		body    string
		headers func() map[string]string
		err     error
		status  int
	}{
		{name: "unsigned accepted", body: body, status: http.StatusOK},
		{name: "not an object", body: `[1,2]`, status: http.StatusBadRequest},
		{name: "invalid json", body: `{"type":`, status: http.StatusBadRequest},
		{name: "require without secret", require: true, body: body, status: http.StatusInternalServerError},
		{name: "missing required signature", secret: "s3cret", require: true, body: body, status: http.StatusUnauthorized},
		{name: "unsigned allowed with secret", secret: "s3cret", body: body, status: http.StatusOK},
		{
			name: "valid signature", secret: "s3cret", require: true, body: body, status: http.StatusOK,
			headers: func() map[string]string {
				return map[string]string{HeaderSignature: Sign("s3cret", time.Now(), []byte(body))}
			},
		},
		{
			name: "wrong secret", secret: "s3cret", body: body, status: http.StatusUnauthorized,
			headers: func() map[string]string {
				return map[string]string{HeaderSignature: Sign("other", time.Now(), []byte(body))}
			},
		},
		{name: "store failure", body: body, err: errors.New("db down"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPipeline{err: tt.err}
			r := newRouter(newHandler(p, nil, tt.secret, tt.require))
			var headers map[string]string
			if tt.headers != nil {
				headers = tt.headers()
			}
			rec := post(r, "/webhooks/voice", []byte(tt.body), headers)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if rec.Code >= 400 && !strings.Contains(rec.Body.String(), `"error"`) {
				t.Fatalf("error responses carry an error field: %s", rec.Body.String())
			}
			if tt.status == http.StatusOK && !strings.Contains(rec.Body.String(), `"success":true`) {
				t.Fatalf("expected success body, got %s", rec.Body.String())
			}
		})
	}
}

func TestVoiceWebhookBodyLimit(t *testing.T) {
	p := &stubPipeline{}
	r := newRouter(newHandler(p, nil, "", false))
	big := `{"transcript":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	rec := post(r, "/webhooks/voice", []byte(big), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if len(p.processed) != 0 {
		t.Fatalf("oversized body must not reach the pipeline")
	}
}

func TestReplayInlineAndQueued(t *testing.T) {
	p := &stubPipeline{}
	r := newRouter(newHandler(p, nil, "", false))
	rec := post(r, "/admin/call-events/conv_1/replay", nil, nil)
	if rec.Code != http.StatusOK || len(p.replayed) != 1 {
		t.Fatalf("inline replay: status %d, replayed %v", rec.Code, p.replayed)
	}

	q := &stubQueue{}
	r = newRouter(newHandler(p, q, "", false))
	rec = post(r, "/admin/call-events/conv_2/replay", nil, nil)
	var resp transport.ReplayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusAccepted || !resp.Queued || resp.TaskID != "task-1" || len(q.ids) != 1 {
		t.Fatalf("queued replay: status %d, resp %+v", rec.Code, resp)
	}

	rec = post(r, "/admin/call-events/bad%20id/replay", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid id status = %d", rec.Code)
	}
}

func TestReplayNotFound(t *testing.T) {
	p := &stubPipeline{err: apperr.NotFound("call event not found")}
	r := newRouter(newHandler(p, nil, "", false))
	if rec := post(r, "/admin/call-events/missing/replay", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestKeywordTest(t *testing.T) {
	r := newRouter(newHandler(&stubPipeline{}, nil, "", false))
	tests := []struct {
		name    string
		req     string
		status  int
		matched bool
		skipped bool
	}{
		{name: "exact match", req: `{"pattern":"hot","matchType":"exact","weight":0.9,"text":"we need a hot load"}`, status: 200, matched: true},
		{name: "exact inside word", req: `{"pattern":"hot","matchType":"exact","weight":0.9,"text":"that's a hotshot trailer"}`, status: 200},
		{name: "invalid regex", req: `{"pattern":"(unclosed","matchType":"regex","weight":0.5,"text":"anything"}`, status: 200, skipped: true},
		{name: "bad match type", req: `{"pattern":"x","matchType":"fuzzy","text":"x"}`, status: 400},
		{name: "weight out of range", req: `{"pattern":"x","matchType":"contains","weight":2,"text":"x"}`, status: 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(r, "/admin/keyword-rules/test", []byte(tt.req), nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != 200 {
				return
			}
			var resp transport.KeywordTestResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Matched != tt.matched || resp.Skipped != tt.skipped {
				t.Fatalf("unexpected response %+v", resp)
			}
		})
	}
}

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1773151200, 0)
	payload := []byte(body)
	good := Sign("k", now, payload)

	if err := VerifySignature("k", good, payload, now.Add(29*time.Minute)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifySignature("k", good, payload, now.Add(31*time.Minute)); !errors.Is(err, errSignatureExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if err := VerifySignature("k", good, []byte(`{"tampered":true}`), now); !errors.Is(err, errSignatureMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := VerifySignature("k", "garbage", payload, now); !errors.Is(err, errSignatureMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}
