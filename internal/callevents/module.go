// Package callevents provides the inbound voice-call bounded context module.
// This file wires the pipeline stages and registers the webhook and admin routes.
package callevents

import (
	"context"
	"fmt"

	"freight_ops_backend/internal/callevents/aggregates"
	"freight_ops_backend/internal/callevents/carriers"
	"freight_ops_backend/internal/callevents/enrichment"
	"freight_ops_backend/internal/callevents/handler"
	"freight_ops_backend/internal/callevents/keywords"
	"freight_ops_backend/internal/callevents/pipeline"
	"freight_ops_backend/internal/callevents/rawstore"
	"freight_ops_backend/internal/callevents/reconcile"
	"freight_ops_backend/internal/events"
	apphttp "freight_ops_backend/internal/http"
	"freight_ops_backend/platform/ai"
	"freight_ops_backend/platform/config"
	"freight_ops_backend/platform/logger"
	"freight_ops_backend/platform/validator"

	"github.com/redis/go-redis/v9"
)

// Store is every storage port the pipeline uses. Both the Postgres
// repository and the in-memory store satisfy it.
type Store interface {
	pipeline.Repository
	rawstore.Repository
	keywords.Repository
	carriers.Repository
	reconcile.Repository
	aggregates.Repository
}

// Config combines the settings the module reads.
type Config interface {
	config.PipelineConfig
	config.WebhookConfig
	config.SummarizerConfig
}

// Options are the optional collaborators. Nil values disable the feature.
type Options struct {
	// Completer enables transcript enrichment.
	Completer ai.Completer
	// Redis enables the carrier cache.
	Redis *redis.Client
	// Queue sends admin replays to the background worker instead of running inline.
	Queue handler.ReplayQueue
}

// Module is the call-events bounded context module implementing http.Module.
type Module struct {
	service *pipeline.Service
	handler *handler.Handler
}

// NewModule creates and initializes the module with all its dependencies.
func NewModule(store Store, cfg Config, bus events.Bus, val *validator.Validator, log *logger.Logger, opts Options) (*Module, error) {
	raw, err := rawstore.New(store, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("raw event store: %w", err)
	}

	var cache carriers.Cache
	if opts.Redis != nil {
		cache = carriers.NewRedisCache(opts.Redis, cfg.GetCarrierCacheTTL())
	}

	service := pipeline.New(pipeline.Deps{
		Repo:  store,
		Store: raw,
		Enricher: enrichment.New(opts.Completer, enrichment.Options{
			PromptLimit: cfg.GetTranscriptPromptLimit(),
			Timeout:     cfg.GetAITimeout(),
		}, log),
		Matcher:    keywords.New(store, log),
		Carriers:   carriers.NewResolver(store, cache, log),
		Reconciler: reconcile.New(store, cfg.GetTemporalMatchWindow(), log),
		Aggregates: aggregates.New(store, cfg.GetAggregateAttribution(), cfg.GetDefaultTimezone(), log),
		Bus:        bus,
		Log:        log,
	})

	if bus != nil {
		bus.Subscribe(events.HighIntentCallDetected{}.EventName(), highIntentLogger(log))
	}

	return &Module{
		service: service,
		handler: handler.New(service, opts.Queue, cfg, val, log),
	}, nil
}

// Service exposes the pipeline for the replay worker and CLI.
func (m *Module) Service() *pipeline.Service {
	return m.service
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "callevents"
}

// RegisterRoutes mounts call-event routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Provider webhook (signature auth, per-IP limit)
	webhooks := ctx.V1.Group("/webhooks")
	if ctx.WebhookRateLimiter != nil {
		webhooks.Use(ctx.WebhookRateLimiter.RateLimit())
	}
	webhooks.POST("/voice", m.handler.HandleVoiceWebhook)

	// Operator routes (admin key)
	ctx.Admin.POST("/call-events/:conversationId/replay", m.handler.HandleReplay)
	ctx.Admin.POST("/keyword-rules/test", m.handler.HandleKeywordTest)
}

func highIntentLogger(log *logger.Logger) events.Handler {
	return events.HandlerFunc(func(_ context.Context, event events.Event) error {
		e, ok := event.(events.HighIntentCallDetected)
		if !ok {
			return nil
		}
		log.Info("callevents: high intent call",
			"conversationId", e.ConversationID,
			"leadId", e.LeadID,
			"intentScore", e.IntentScore,
			"reasons", e.Reasons,
		)
		return nil
	})
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
