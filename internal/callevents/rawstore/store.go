// Package rawstore persists every webhook delivery as one CallEvent row per
// conversation and resolves which agency owns the call.
package rawstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/internal/callevents/normalize"
	"freight_ops_backend/internal/callevents/repository"
	"freight_ops_backend/platform/config"
	"freight_ops_backend/platform/logger"
	"freight_ops_backend/platform/phone"

	"github.com/google/uuid"
)

// Repository is the storage the raw event store needs.
type Repository interface {
	UpsertCallEvent(ctx context.Context, ev domain.CallEvent) (domain.CallEvent, error)
	FindAgencyPhones(ctx context.Context, numbers []string) ([]domain.AgencyPhone, error)
	FirstAgencyID(ctx context.Context) (uuid.UUID, error)
}

// Resolution is the outcome of agency lookup for one call.
type Resolution struct {
	AgencyID        *uuid.UUID
	AssignedAgentID *uuid.UUID
	// Source is "phone", "default", "first", or "none".
	Source string
}

// Resolved reports whether an agency was attributed.
func (r Resolution) Resolved() bool { return r.AgencyID != nil }

// Store writes CallEvent rows.
type Store struct {
	repo            Repository
	log             *logger.Logger
	mode            string
	defaultAgencyID *uuid.UUID
	now             func() time.Time
}

// New creates a Store. cfg controls the unmatched-agency fallback.
func New(repo Repository, cfg config.PipelineConfig, log *logger.Logger) (*Store, error) {
	s := &Store{
		repo: repo,
		log:  log,
		mode: cfg.GetAgencyResolution(),
		now:  time.Now,
	}
	if raw := cfg.GetDefaultAgencyID(); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("DEFAULT_AGENCY_ID: %w", err)
		}
		s.defaultAgencyID = &id
	}
	if s.mode == "" {
		s.mode = config.AgencyResolutionFallback
	}
	return s, nil
}

// Save upserts the event keyed by conversation id. Events without one get a
// synthesized id so the row is still creatable.
func (s *Store) Save(ctx context.Context, ev domain.NormalizedEvent) (domain.CallEvent, error) {
	conversationID := ev.ConversationID
	if conversationID == "" {
		conversationID = normalize.SyntheticConversationID(ev)
		s.log.Warn("callevents: payload carried no conversation id", "conversationId", conversationID, "eventType", ev.EventType)
	}

	res := s.ResolveAgency(ctx, ev.AgentNumber)

	row := domain.CallEvent{
		ID:                   uuid.New(),
		ProviderEventID:      domain.StrPtr(ev.ProviderEventID),
		ConversationID:       conversationID,
		CallSID:              domain.StrPtr(ev.CallSID),
		CallerNumber:         ev.CallerNumber,
		AgentNumber:          ev.AgentNumber,
		Direction:            ev.Direction,
		EventType:            ev.EventType,
		IsTerminal:           ev.Terminal,
		HasTranscript:        ev.HasTranscript(),
		TerminationReason:    ev.TerminationReason,
		DurationSecs:         ev.DurationSecs,
		Cost:                 ev.Cost,
		ProviderSummary:      domain.StrPtr(ev.ProviderSummary),
		ProviderSummaryTitle: domain.StrPtr(ev.ProviderSummaryTitle),
		AgencyID:             res.AgencyID,
		AssignedAgentID:      res.AssignedAgentID,
		RawPayload:           ev.Raw,
		ReceivedAt:           s.now(),
	}
	if !ev.OccurredAt.IsZero() {
		occurred := ev.OccurredAt
		row.OccurredAt = &occurred
	}

	saved, err := s.repo.UpsertCallEvent(ctx, row)
	if err != nil {
		return domain.CallEvent{}, fmt.Errorf("upsert call event: %w", err)
	}
	return saved, nil
}

// ResolveAgency matches the receiving number against agency phone numbers in
// each stored format. Unmatched calls fall back to the configured default
// agency, then the first agency, unless resolution is strict.
func (s *Store) ResolveAgency(ctx context.Context, agentNumber string) Resolution {
	if domain.IsKnown(agentNumber) {
		phones, err := s.repo.FindAgencyPhones(ctx, phone.Variants(agentNumber))
		if err != nil {
			s.log.DatabaseError("find agency phones", err)
		}
		if len(phones) > 0 {
			if distinctAgencies(phones) > 1 {
				s.log.Warn("callevents: agency resolution ambiguous, using first match",
					"agentNumber", agentNumber, "matches", len(phones))
			}
			match := phones[0]
			agencyID := match.AgencyID
			return Resolution{AgencyID: &agencyID, AssignedAgentID: match.AssignedAgentID, Source: "phone"}
		}
	}

	if s.mode == config.AgencyResolutionStrict {
		s.log.Warn("callevents: no agency owns receiving number", "agentNumber", agentNumber)
		return Resolution{Source: "none"}
	}

	if s.defaultAgencyID != nil {
		id := *s.defaultAgencyID
		s.log.Warn("callevents: attributing call to default agency", "agentNumber", agentNumber, "agencyId", id)
		return Resolution{AgencyID: &id, Source: "default"}
	}

	id, err := s.repo.FirstAgencyID(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.DatabaseError("first agency", err)
		}
		return Resolution{Source: "none"}
	}
	s.log.Warn("callevents: attributing call to first agency", "agentNumber", agentNumber, "agencyId", id)
	return Resolution{AgencyID: &id, Source: "first"}
}

func distinctAgencies(phones []domain.AgencyPhone) int {
	seen := make(map[uuid.UUID]struct{}, len(phones))
	for _, p := range phones {
		seen[p.AgencyID] = struct{}{}
	}
	return len(seen)
}
