// Package aggregates maintains the dashboard rows derived from a processed
// call: one CallSummary per conversation and per-agent daily counters.
package aggregates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"freight_ops_backend/internal/callevents/carriers"
	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/internal/callevents/repository"
	"freight_ops_backend/internal/callevents/scoring"
	"freight_ops_backend/platform/config"
	"freight_ops_backend/platform/logger"

	"github.com/google/uuid"
)

// Repository is the aggregate storage.
type Repository interface {
	UpsertCallSummary(ctx context.Context, s domain.CallSummary) error
	IncrementDailyAgentState(ctx context.Context, d domain.DailyAgentDelta) error
	GetAgency(ctx context.Context, agencyID uuid.UUID) (domain.Agency, error)
	ListAgencyMemberIDs(ctx context.Context, agencyID uuid.UUID) ([]uuid.UUID, error)
}

// Input is everything the earlier stages produced for one call.
type Input struct {
	CallEvent  domain.CallEvent
	LeadID     *uuid.UUID
	Enrichment *domain.Enrichment
	Score      scoring.Result
	Carrier    *carriers.Resolution
}

// Updater writes the summary and daily rows.
type Updater struct {
	repo        Repository
	log         *logger.Logger
	attribution string
	defaultLoc  *time.Location
	now         func() time.Time
}

// New creates an Updater. attribution is config.AttributionMembers or
// config.AttributionAssigned; defaultTZ applies to agencies without a timezone.
func New(repo Repository, attribution, defaultTZ string, log *logger.Logger) *Updater {
	loc, err := time.LoadLocation(defaultTZ)
	if err != nil || defaultTZ == "" {
		loc = time.UTC
	}
	if attribution == "" {
		attribution = config.AttributionMembers
	}
	return &Updater{repo: repo, log: log, attribution: attribution, defaultLoc: loc, now: time.Now}
}

// WithClock overrides the time used for calls without an occurrence time.
func (u *Updater) WithClock(now func() time.Time) *Updater {
	u.now = now
	return u
}

// Apply runs both upserts. A failed summary write does not prevent the daily
// increments; all failures are returned joined.
func (u *Updater) Apply(ctx context.Context, in Input) error {
	var errs []error
	if err := u.repo.UpsertCallSummary(ctx, u.summary(in)); err != nil {
		errs = append(errs, fmt.Errorf("upsert call summary: %w", err))
	}
	if err := u.incrementDaily(ctx, in); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (u *Updater) summary(in Input) domain.CallSummary {
	ev := in.CallEvent
	reason, err := json.Marshal(in.Score.Reason)
	if err != nil {
		reason = []byte("{}")
	}

	s := domain.CallSummary{
		ConversationID:   ev.ConversationID,
		CallEventID:      ev.ID,
		AgencyID:         ev.AgencyID,
		LeadID:           in.LeadID,
		DurationSecs:     ev.DurationSecs,
		IntentScore:      in.Score.Score,
		IsHighIntent:     in.Score.HighIntent,
		HighIntentReason: reason,
		Summary:          providerSummary(ev),
		Cost:             ev.Cost,
	}
	if e := in.Enrichment; e != nil {
		s.Outcome = e.Outcome
		s.Sentiment = e.Sentiment
		if e.Summary != nil {
			s.Summary = e.Summary
		}
		s.CarrierUSDOT = e.CarrierUSDOT
		s.CarrierMC = e.CarrierMC
		s.CarrierName = e.CarrierName
	}
	if c := in.Carrier; c != nil {
		status := c.Status
		s.CarrierStatus = &status
		if s.CarrierName == nil {
			s.CarrierName = c.CarrierName
		}
	}
	return s
}

// providerSummary prefers the provider's summary, then its title.
func providerSummary(ev domain.CallEvent) *string {
	if ev.ProviderSummary != nil {
		return ev.ProviderSummary
	}
	return ev.ProviderSummaryTitle
}

func (u *Updater) incrementDaily(ctx context.Context, in Input) error {
	ev := in.CallEvent
	if ev.AgencyID == nil {
		u.log.StageSkipped("daily_agent_state", ev.ConversationID, "no agency")
		return nil
	}
	agencyID := *ev.AgencyID

	agents, err := u.agents(ctx, ev)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		u.log.StageSkipped("daily_agent_state", ev.ConversationID, "no agents to attribute")
		return nil
	}

	delta := domain.DailyAgentDelta{
		AgencyID:  agencyID,
		StateDate: u.localDate(ctx, agencyID, ev.OccurredAt),
		Calls:     1,
		Minutes:   float64(ev.DurationSecs) / 60,
	}
	if in.Score.HighIntent {
		delta.HighIntent = 1
	}
	if in.Enrichment.OutcomeValue() == domain.OutcomeBooked {
		delta.Bookings = 1
	}

	var errs []error
	for _, agentID := range agents {
		d := delta
		d.AgentID = agentID
		if err := u.repo.IncrementDailyAgentState(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("increment daily state for agent %s: %w", agentID, err))
		}
	}
	return errors.Join(errs...)
}

func (u *Updater) agents(ctx context.Context, ev domain.CallEvent) ([]uuid.UUID, error) {
	if u.attribution == config.AttributionAssigned {
		if ev.AssignedAgentID == nil {
			return nil, nil
		}
		return []uuid.UUID{*ev.AssignedAgentID}, nil
	}
	members, err := u.repo.ListAgencyMemberIDs(ctx, *ev.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("list agency members: %w", err)
	}
	return members, nil
}

// localDate is the calendar date of the call in the agency's timezone.
func (u *Updater) localDate(ctx context.Context, agencyID uuid.UUID, occurredAt *time.Time) time.Time {
	at := u.now()
	if occurredAt != nil {
		at = *occurredAt
	}

	loc := u.defaultLoc
	agency, err := u.repo.GetAgency(ctx, agencyID)
	switch {
	case err == nil && agency.Timezone != nil && *agency.Timezone != "":
		if l, err := time.LoadLocation(*agency.Timezone); err == nil {
			loc = l
		} else {
			u.log.Warn("callevents: agency timezone invalid, using default", "agencyId", agencyID, "timezone", *agency.Timezone)
		}
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		u.log.DatabaseError("get agency", err)
	}

	y, m, d := at.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
