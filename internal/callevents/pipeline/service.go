// Package pipeline runs one webhook delivery through every call-event stage:
// normalize, store, enrich, match keywords, resolve carrier, reconcile the
// lead, score, and update aggregates. Only the raw store write is fatal;
// every later stage degrades to "no result" and is logged.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"freight_ops_backend/internal/callevents/aggregates"
	"freight_ops_backend/internal/callevents/carriers"
	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/internal/callevents/enrichment"
	"freight_ops_backend/internal/callevents/keywords"
	"freight_ops_backend/internal/callevents/normalize"
	"freight_ops_backend/internal/callevents/rawstore"
	"freight_ops_backend/internal/callevents/reconcile"
	"freight_ops_backend/internal/callevents/repository"
	"freight_ops_backend/internal/callevents/scoring"
	"freight_ops_backend/internal/events"
	"freight_ops_backend/platform/apperr"
	"freight_ops_backend/platform/logger"

	"github.com/google/uuid"
)

// Health log service names.
const (
	ServiceWebhook = "voice-webhook"
	ServiceReplay  = "voice-replay"
)

// Stage names used in logs and Result.Degraded.
const (
	StageConversation = "conversation"
	StageAgency       = "agency"
	StageReconcile    = "reconcile"
	StageLeadScore    = "lead_score"
	StageAggregates   = "aggregates"
)

// Repository is the storage the pipeline writes directly.
type Repository interface {
	GetCallEventByConversationID(ctx context.Context, conversationID string) (domain.CallEvent, error)
	UpsertConversation(ctx context.Context, c domain.Conversation) (domain.Conversation, error)
	UpdateLeadScore(ctx context.Context, leadID uuid.UUID, upd domain.LeadScoreUpdate) error
	RecordHealthEvent(ctx context.Context, ev domain.HealthEvent) error
}

// Deps are the stages the service composes.
type Deps struct {
	Repo       Repository
	Store      *rawstore.Store
	Enricher   *enrichment.Service
	Matcher    *keywords.Matcher
	Carriers   *carriers.Resolver
	Reconciler *reconcile.Reconciler
	Aggregates *aggregates.Updater
	Bus        events.Publisher
	Log        *logger.Logger
}

// Result is returned to the webhook caller.
type Result struct {
	Success        bool                 `json:"success"`
	CallEventID    uuid.UUID            `json:"callEventId"`
	ConversationID string               `json:"conversationId"`
	Terminal       bool                 `json:"terminal"`
	AgencyID       *uuid.UUID           `json:"agencyId,omitempty"`
	LeadID         *uuid.UUID           `json:"leadId,omitempty"`
	LeadStrategy   reconcile.Strategy   `json:"leadStrategy,omitempty"`
	LeadCreated    bool                 `json:"leadCreated,omitempty"`
	IntentScore    int                  `json:"intentScore"`
	IsHighIntent   bool                 `json:"isHighIntent"`
	Keyword        *keywords.Match      `json:"keywordMatch,omitempty"`
	Carrier        *carriers.Resolution `json:"carrier,omitempty"`
	Degraded       []string             `json:"degraded,omitempty"`
}

// Service processes call events.
type Service struct {
	deps Deps
	now  func() time.Time
}

// New creates a Service.
func New(deps Deps) *Service {
	return &Service{deps: deps, now: time.Now}
}

// Process runs the pipeline for one raw webhook body.
func (s *Service) Process(ctx context.Context, raw []byte) (Result, error) {
	return s.process(ctx, raw, ServiceWebhook)
}

// Replay re-runs the pipeline over the stored payload of a conversation.
// Daily counters increment again, as they do on provider re-delivery.
func (s *Service) Replay(ctx context.Context, conversationID string) (Result, error) {
	stored, err := s.deps.Repo.GetCallEventByConversationID(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return Result{}, apperr.NotFound("call event not found").WithOp("pipeline.Replay")
	}
	if err != nil {
		return Result{}, fmt.Errorf("load call event: %w", err)
	}
	if len(stored.RawPayload) == 0 {
		return Result{}, apperr.BadRequest("call event has no stored payload").WithOp("pipeline.Replay")
	}
	return s.process(ctx, stored.RawPayload, ServiceReplay)
}

type run struct {
	ev       domain.NormalizedEvent
	saved    domain.CallEvent
	result   Result
	failures []string
}

func (r *run) degrade(stage string, err error) {
	r.result.Degraded = append(r.result.Degraded, stage)
	if err != nil {
		r.failures = append(r.failures, fmt.Sprintf("%s: %v", stage, err))
	} else {
		r.failures = append(r.failures, stage)
	}
}

func (s *Service) process(ctx context.Context, raw []byte, service string) (Result, error) {
	ev := normalize.Normalize(raw)
	log := s.deps.Log

	saved, err := s.deps.Store.Save(ctx, ev)
	if err != nil {
		convID := domain.StrPtr(ev.ConversationID)
		s.recordHealth(ctx, service, convID, []string{err.Error()})
		return Result{}, err
	}
	ctx = logger.WithConversationIDContext(ctx, saved.ConversationID)
	log = log.WithContext(ctx)

	r := &run{
		ev:    ev,
		saved: saved,
		result: Result{
			Success:        true,
			CallEventID:    saved.ID,
			ConversationID: saved.ConversationID,
			Terminal:       ev.Terminal,
			AgencyID:       saved.AgencyID,
		},
	}

	if !ev.Terminal {
		log.StageSkipped("pipeline", saved.ConversationID, "non-terminal event "+ev.EventType)
		s.finish(ctx, service, r)
		return r.result, nil
	}

	ev = mergedEvent(ev, saved)
	r.ev = ev

	enriched := s.deps.Enricher.Enrich(ctx, ev.Transcript, cmp.Or(ev.ProviderSummary, ev.ProviderSummaryTitle))
	conversationID := s.upsertConversation(ctx, log, r, enriched)

	var match *keywords.Match
	if saved.AgencyID != nil {
		match = s.deps.Matcher.Match(ctx, *saved.AgencyID, saved.AssignedAgentID, saved.ID, ev.Transcript)
	} else {
		r.degrade(StageAgency, errors.New("no agency owns the receiving number"))
		log.StageSkipped("keywords", saved.ConversationID, "no agency")
	}
	r.result.Keyword = match

	if enriched.HasCarrierID() {
		r.result.Carrier = s.deps.Carriers.Resolve(ctx, enriched.CarrierUSDOT, enriched.CarrierMC)
	}

	var lead *domain.Lead
	rec, err := s.deps.Reconciler.Reconcile(ctx, reconcile.Input{CallEvent: saved, ConversationID: conversationID})
	if err != nil {
		log.StageFailed(StageReconcile, saved.ConversationID, err)
		r.degrade(StageReconcile, err)
	} else {
		lead = rec.Lead
		r.result.LeadStrategy = rec.Strategy
		r.result.LeadCreated = rec.Created
	}

	signals := scoring.Signals{
		Outcome:      enriched.OutcomeValue(),
		Sentiment:    enriched.SentimentValue(),
		DurationSecs: saved.DurationSecs,
		HasCarrierID: enriched.HasCarrierID(),
	}
	if match != nil {
		signals.KeywordMatched = true
		signals.KeywordWeight = match.Weight
	}
	score := scoring.Score(signals)
	r.result.IntentScore = score.Score
	r.result.IsHighIntent = score.HighIntent

	var leadID *uuid.UUID
	if lead != nil {
		id := lead.ID
		leadID = &id
		r.result.LeadID = leadID
		if err := s.deps.Repo.UpdateLeadScore(ctx, lead.ID, leadScoreUpdate(score, enriched, r.result.Carrier)); err != nil {
			log.StageFailed(StageLeadScore, saved.ConversationID, err)
			r.degrade(StageLeadScore, err)
		}
	}

	err = s.deps.Aggregates.Apply(ctx, aggregates.Input{
		CallEvent:  saved,
		LeadID:     leadID,
		Enrichment: enriched,
		Score:      score,
		Carrier:    r.result.Carrier,
	})
	if err != nil {
		log.StageFailed(StageAggregates, saved.ConversationID, err)
		r.degrade(StageAggregates, err)
	}

	s.publishOutcome(ctx, r, lead, score)
	s.finish(ctx, service, r)
	return r.result, nil
}

// mergedEvent is the view later stages run on: the incoming delivery with the
// fields the stored row already knows. A terminal delivery without a
// transcript picks up the transcript of the stored payload, so a late
// call_ended never erases what post_call_transcription delivered.
func mergedEvent(ev domain.NormalizedEvent, saved domain.CallEvent) domain.NormalizedEvent {
	if !ev.HasTranscript() && saved.HasTranscript && len(saved.RawPayload) > 0 {
		stored := normalize.Normalize(saved.RawPayload)
		ev.Transcript = stored.Transcript
		ev.RecordingURL = cmp.Or(ev.RecordingURL, stored.RecordingURL)
		ev.Raw = saved.RawPayload
	}
	if saved.ProviderSummary != nil {
		ev.ProviderSummary = *saved.ProviderSummary
	}
	if saved.ProviderSummaryTitle != nil {
		ev.ProviderSummaryTitle = *saved.ProviderSummaryTitle
	}
	ev.DurationSecs = saved.DurationSecs
	return ev
}

func (s *Service) upsertConversation(ctx context.Context, log *logger.Logger, r *run, enriched *domain.Enrichment) *uuid.UUID {
	if !r.ev.HasTranscript() {
		log.StageSkipped(StageConversation, r.saved.ConversationID, "no transcript")
		return nil
	}
	c := domain.Conversation{
		ID:           uuid.New(),
		CallEventID:  r.saved.ID,
		CallSID:      r.saved.CallSID,
		Transcript:   r.ev.Transcript,
		RecordingURL: domain.StrPtr(r.ev.RecordingURL),
		RawPayload:   r.ev.Raw,
	}
	if enriched != nil {
		c.Sentiment = enriched.Sentiment
		c.Intent = enriched.Intent
		c.Outcome = enriched.Outcome
		c.Summary = enriched.Summary
	}
	saved, err := s.deps.Repo.UpsertConversation(ctx, c)
	if err != nil {
		log.StageFailed(StageConversation, r.saved.ConversationID, err)
		r.degrade(StageConversation, err)
		return nil
	}
	return &saved.ID
}

func leadScoreUpdate(score scoring.Result, e *domain.Enrichment, carrier *carriers.Resolution) domain.LeadScoreUpdate {
	upd := domain.LeadScoreUpdate{IntentScore: score.Score, IsHighIntent: score.HighIntent}
	if e != nil {
		upd.CarrierUSDOT = e.CarrierUSDOT
		upd.CarrierMC = e.CarrierMC
		upd.CarrierName = e.CarrierName
		upd.Notes = e.Summary
	}
	if upd.CarrierName == nil && carrier != nil {
		upd.CarrierName = carrier.CarrierName
	}
	return upd
}

func (s *Service) publishOutcome(ctx context.Context, r *run, lead *domain.Lead, score scoring.Result) {
	if s.deps.Bus == nil {
		return
	}
	if r.result.LeadCreated && lead != nil && lead.AgencyID != nil {
		s.deps.Bus.Publish(ctx, events.LeadCreatedFromCall{
			BaseEvent:      events.NewBaseEvent(),
			LeadID:         lead.ID,
			AgencyID:       *lead.AgencyID,
			CallEventID:    r.saved.ID,
			ConversationID: r.saved.ConversationID,
			CallerPhone:    lead.CallerPhone,
		})
	}
	if score.HighIntent {
		s.deps.Bus.Publish(ctx, events.HighIntentCallDetected{
			BaseEvent:      events.NewBaseEventAt(r.ev.OccurredAt),
			CallEventID:    r.saved.ID,
			ConversationID: r.saved.ConversationID,
			AgencyID:       r.saved.AgencyID,
			LeadID:         r.result.LeadID,
			IntentScore:    score.Score,
			Reasons:        score.Reason.HighIntent,
			CallerNumber:   r.saved.CallerNumber,
		})
	}
}

// finish publishes the processed event and writes the one health row for
// this invocation.
func (s *Service) finish(ctx context.Context, service string, r *run) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(ctx, events.CallEventProcessed{
			BaseEvent:      events.NewBaseEvent(),
			CallEventID:    r.saved.ID,
			ConversationID: r.saved.ConversationID,
			AgencyID:       r.saved.AgencyID,
			LeadID:         r.result.LeadID,
			Terminal:       r.result.Terminal,
			IntentScore:    r.result.IntentScore,
			IsHighIntent:   r.result.IsHighIntent,
			Degraded:       r.result.Degraded,
		})
	}
	convID := r.saved.ConversationID
	s.recordHealth(ctx, service, &convID, r.failures)
}

func (s *Service) recordHealth(ctx context.Context, service string, conversationID *string, failures []string) {
	ev := domain.HealthEvent{
		ID:             uuid.New(),
		Service:        service,
		Status:         domain.HealthOK,
		ConversationID: conversationID,
		CreatedAt:      s.now(),
	}
	if len(failures) > 0 {
		msg := strings.Join(failures, "; ")
		ev.Status = domain.HealthFail
		ev.ErrorMessage = &msg
	}
	if err := s.deps.Repo.RecordHealthEvent(ctx, ev); err != nil {
		s.deps.Log.DatabaseError("record health event", err)
	}
}
