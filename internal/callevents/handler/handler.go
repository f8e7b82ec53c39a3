package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/internal/callevents/keywords"
	"freight_ops_backend/internal/callevents/pipeline"
	"freight_ops_backend/internal/callevents/scoring"
	"freight_ops_backend/internal/callevents/transport"
	"freight_ops_backend/platform/apperr"
	"freight_ops_backend/platform/config"
	"freight_ops_backend/platform/httpkit"
	"freight_ops_backend/platform/logger"
	"freight_ops_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

// MaxBodyBytes caps a webhook body.
const MaxBodyBytes = 5 << 20

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgNotJSONObject    = "body must be a JSON object"
	msgBodyTooLarge     = "body too large"
	msgInvalidSignature = "invalid signature"
)

// Pipeline runs deliveries and replays.
type Pipeline interface {
	Process(ctx context.Context, raw []byte) (pipeline.Result, error)
	Replay(ctx context.Context, conversationID string) (pipeline.Result, error)
}

// ReplayQueue enqueues a replay for a background worker.
type ReplayQueue interface {
	EnqueueReplay(ctx context.Context, conversationID string) (string, error)
}

// Handler serves the voice webhook and the call-event admin routes.
type Handler struct {
	pipeline   Pipeline
	queue      ReplayQueue
	val        *validator.Validator
	log        *logger.Logger
	secret     string
	requireSig bool
	now        func() time.Time
}

// New creates a Handler. queue may be nil, in which case replays run inline.
func New(p Pipeline, queue ReplayQueue, cfg config.WebhookConfig, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{
		pipeline:   p,
		queue:      queue,
		val:        val,
		log:        log,
		secret:     cfg.GetVoiceWebhookSecret(),
		requireSig: cfg.GetVoiceWebhookRequireSignature(),
		now:        time.Now,
	}
}

// HandleVoiceWebhook accepts one provider delivery.
// POST /api/v1/webhooks/voice
func (h *Handler) HandleVoiceWebhook(c *gin.Context) {
	if h.requireSig && h.secret == "" {
		httpkit.HandleError(c, apperr.Configuration("voice webhook secret is not configured"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpkit.Error(c, http.StatusRequestEntityTooLarge, msgBodyTooLarge, nil)
			return
		}
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	if !h.verify(c, body) {
		return
	}

	if !isJSONObject(body) {
		httpkit.Error(c, http.StatusBadRequest, msgNotJSONObject, nil)
		return
	}

	result, err := h.pipeline.Process(c.Request.Context(), body)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) verify(c *gin.Context, body []byte) bool {
	if h.secret == "" {
		return true
	}
	header := c.GetHeader(HeaderSignature)
	if header == "" {
		if h.requireSig {
			httpkit.HandleError(c, apperr.Unauthorized("missing signature"))
			return false
		}
		h.log.Warn("callevents: unsigned webhook delivery accepted", "clientIp", c.ClientIP())
		return true
	}
	if err := VerifySignature(h.secret, header, body, h.now()); err != nil {
		h.log.Warn("callevents: webhook signature rejected", "clientIp", c.ClientIP(), "error", err)
		httpkit.HandleError(c, apperr.Unauthorized(msgInvalidSignature))
		return false
	}
	return true
}

// HandleReplay re-runs the pipeline for a stored conversation.
// POST /api/v1/admin/call-events/:conversationId/replay
func (h *Handler) HandleReplay(c *gin.Context) {
	conversationID := c.Param("conversationId")
	if err := h.val.Var(conversationID, "required,conversation_id"); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	if h.queue != nil {
		taskID, err := h.queue.EnqueueReplay(c.Request.Context(), conversationID)
		if httpkit.HandleError(c, err) {
			return
		}
		c.JSON(http.StatusAccepted, transport.ReplayResponse{Queued: true, TaskID: taskID})
		return
	}

	result, err := h.pipeline.Replay(c.Request.Context(), conversationID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ReplayResponse{Result: &result})
}

// HandleKeywordTest evaluates an ad-hoc rule against sample text.
// POST /api/v1/admin/keyword-rules/test
func (h *Handler) HandleKeywordTest(c *gin.Context) {
	var req transport.KeywordTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	rule := domain.KeywordRule{
		Pattern:       req.Pattern,
		MatchType:     domain.MatchType(req.MatchType),
		CaseSensitive: req.CaseSensitive,
		Weight:        req.Weight,
		IsActive:      true,
	}
	matched, err := keywords.Evaluate(rule, req.Text)
	resp := transport.KeywordTestResponse{Matched: matched, ScoreFloor: scoring.KeywordFloor(req.Weight)}
	if err != nil {
		resp.Skipped = true
		resp.Reason = err.Error()
	}
	httpkit.OK(c, resp)
}

func isJSONObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
