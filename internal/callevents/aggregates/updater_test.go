package aggregates

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"freight_ops_backend/internal/callevents/carriers"
	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/internal/callevents/repository"
	"freight_ops_backend/internal/callevents/scoring"
	"freight_ops_backend/platform/config"
	"freight_ops_backend/platform/logger"

	"github.com/google/uuid"
)

type fixture struct {
	mem      *repository.Memory
	agencyID uuid.UUID
	agents   []uuid.UUID
}

func newFixture(t *testing.T, tz *string) fixture {
	t.Helper()
	mem := repository.NewMemory()
	agencyID := uuid.New()
	mem.AddAgency(domain.Agency{ID: agencyID, Name: "Lakeshore Logistics", Timezone: tz})
	agents := []uuid.UUID{uuid.New(), uuid.New()}
	for _, a := range agents {
		mem.AddMember(agencyID, a)
	}
	return fixture{mem: mem, agencyID: agencyID, agents: agents}
}

func (f fixture) input(occurred time.Time, outcome string, high bool) Input {
	agencyID := f.agencyID
	ev := domain.CallEvent{
		ID:             uuid.New(),
		ConversationID: "conv_agg",
		AgencyID:       &agencyID,
		DurationSecs:   90,
		OccurredAt:     &occurred,
	}
	in := Input{CallEvent: ev, Score: scoring.Result{Score: 5, HighIntent: high}}
	if outcome != "" {
		in.Enrichment = &domain.Enrichment{Outcome: domain.StrPtr(outcome)}
	}
	return in
}

func TestApplyAccumulatesDailyState(t *testing.T) {
	f := newFixture(t, nil)
	u := New(f.mem, config.AttributionMembers, "UTC", logger.Discard())
	occurred := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	if err := u.Apply(context.Background(), f.input(occurred, domain.OutcomeBooked, true)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	state, ok := f.mem.DailyAgentState(f.agents[0], day)
	if !ok || state.CallsHandled != 1 {
		t.Fatalf("expected first insert with 1 call, got %+v", state)
	}

	if err := u.Apply(context.Background(), f.input(occurred, "", false)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, agent := range f.agents {
		state, _ := f.mem.DailyAgentState(agent, day)
		if state.CallsHandled != 2 || state.MinutesHandled != 3 || state.HighIntentCount != 1 || state.Bookings != 1 {
			t.Fatalf("unexpected accumulated state for %s: %+v", agent, state)
		}
	}
	if n := len(f.mem.CallSummaries()); n != 1 {
		t.Fatalf("expected one summary row, got %d", n)
	}
}

func TestApplyAssignedAttribution(t *testing.T) {
	f := newFixture(t, nil)
	u := New(f.mem, config.AttributionAssigned, "UTC", logger.Discard())
	occurred := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	in := f.input(occurred, "", false)
	in.CallEvent.AssignedAgentID = &f.agents[1]

	if err := u.Apply(context.Background(), in); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	states := f.mem.DailyAgentStates()
	if len(states) != 1 || states[0].AgentID != f.agents[1] {
		t.Fatalf("expected only assigned agent credited, got %+v", states)
	}

	in.CallEvent.AssignedAgentID = nil
	if err := u.Apply(context.Background(), in); err != nil {
		t.Fatalf("Apply without assignment: %v", err)
	}
	if len(f.mem.DailyAgentStates()) != 1 {
		t.Fatalf("unassigned call must not credit anyone")
	}
}

func TestApplySummaryFailureDoesNotBlockDaily(t *testing.T) {
	f := newFixture(t, nil)
	f.mem.Fail["UpsertCallSummary"] = errors.New("constraint violation")
	u := New(f.mem, config.AttributionMembers, "UTC", logger.Discard())

	err := u.Apply(context.Background(), f.input(time.Now(), "", false))
	if err == nil {
		t.Fatalf("expected summary error to surface")
	}
	if len(f.mem.DailyAgentStates()) != len(f.agents) {
		t.Fatalf("daily rows should still be written, got %d", len(f.mem.DailyAgentStates()))
	}
}

func TestApplyUsesAgencyTimezone(t *testing.T) {
	tz := "America/Los_Angeles"
	f := newFixture(t, &tz)
	u := New(f.mem, config.AttributionMembers, "UTC", logger.Discard())
	occurred := time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC)

	if err := u.Apply(context.Background(), f.input(occurred, "", false)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := f.mem.DailyAgentState(f.agents[0], time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)); !ok {
		t.Fatalf("expected call credited to the agency's local date")
	}
}

func TestApplySkipsDailyWithoutAgency(t *testing.T) {
	f := newFixture(t, nil)
	u := New(f.mem, config.AttributionMembers, "UTC", logger.Discard())
	in := f.input(time.Now(), "", false)
	in.CallEvent.AgencyID = nil

	if err := u.Apply(context.Background(), in); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(f.mem.DailyAgentStates()) != 0 || len(f.mem.CallSummaries()) != 1 {
		t.Fatalf("expected summary only")
	}
}

func TestSummaryFields(t *testing.T) {
	f := newFixture(t, nil)
	u := New(f.mem, config.AttributionMembers, "UTC", logger.Discard())
	in := f.input(time.Now(), domain.OutcomeCallbackRequested, true)
	in.CallEvent.ProviderSummary = domain.StrPtr("provider text")
	in.Enrichment.CarrierUSDOT = domain.StrPtr("1234567")
	in.Score = scoring.Score(scoring.Signals{Outcome: domain.OutcomeCallbackRequested, HasCarrierID: true})
	in.Carrier = &carriers.Resolution{Status: carriers.StatusVerifiedActive, CarrierName: domain.StrPtr("Swift Haulers")}

	if err := u.Apply(context.Background(), in); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := f.mem.CallSummaries()[0]
	if got.IntentScore != 9 || !got.IsHighIntent {
		t.Fatalf("unexpected score fields: %+v", got)
	}
	if got.Summary == nil || *got.Summary != "provider text" {
		t.Fatalf("expected provider summary fallback, got %v", got.Summary)
	}
	if got.CarrierStatus == nil || *got.CarrierStatus != carriers.StatusVerifiedActive || *got.CarrierName != "Swift Haulers" {
		t.Fatalf("unexpected carrier fields: %+v", got)
	}
	var reason scoring.Reason
	if err := json.Unmarshal(got.HighIntentReason, &reason); err != nil || reason.Winning != scoring.SignalCarrierID {
		t.Fatalf("unexpected reason %s: %v", got.HighIntentReason, err)
	}
}
