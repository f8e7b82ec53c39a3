package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"freight_ops_backend/internal/callevents/aggregates"
	"freight_ops_backend/internal/callevents/carriers"
	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/internal/callevents/enrichment"
	"freight_ops_backend/internal/callevents/keywords"
	"freight_ops_backend/internal/callevents/rawstore"
	"freight_ops_backend/internal/callevents/reconcile"
	"freight_ops_backend/internal/callevents/repository"
	"freight_ops_backend/internal/events"
	"freight_ops_backend/platform/ai"
	"freight_ops_backend/platform/apperr"
	"freight_ops_backend/platform/config"
	"freight_ops_backend/platform/logger"

	"github.com/google/uuid"
)

const agentLine = "+18005550100"

const endToEndPayload = `{
  "type": "post_call_transcription",
  "event_timestamp": 1773151200,
  "data": {
    "conversation_id": "conv_e2e",
    "transcript": [
      {"role": "agent", "message": "Midwest Freight, how can I help?"},
      {"role": "user", "message": "Honestly we do double brokering sometimes, is that a problem?"}
    ],
    "metadata": {
      "call_duration_secs": 45,
      "phone_call": {"external_number": "+15551234567", "agent_number": "8005550100", "call_sid": "CA1"}
    }
  }
}`

type stubCompleter struct {
	reply string
	err   error
}

func (s stubCompleter) Complete(context.Context, string, string) (string, error) { return s.reply, s.err }
func (s stubCompleter) Name() string                                             { return "stub" }

type harness struct {
	mem      *repository.Memory
	bus      *events.InMemoryBus
	svc      *Service
	agencyID uuid.UUID
	agents   []uuid.UUID
}

func newHarness(t *testing.T, resolution string, completer ai.Completer) harness {
	t.Helper()
	mem := repository.NewMemory()
	agencyID := uuid.New()
	mem.AddAgency(domain.Agency{ID: agencyID, Name: "Midwest Freight"})
	mem.AddAgencyPhone(domain.AgencyPhone{AgencyID: agencyID, PhoneNumber: agentLine})
	agents := []uuid.UUID{uuid.New(), uuid.New()}
	for _, a := range agents {
		mem.AddMember(agencyID, a)
	}
	mem.AddKeywordRule(domain.KeywordRule{
		AgencyID:  agencyID,
		Pattern:   "double brokering",
		MatchType: domain.MatchContains,
		Weight:    0.85,
		IsActive:  true,
	})

	log := logger.Discard()
	cfg := &config.Config{AgencyResolution: resolution, DefaultTimezone: "UTC", AggregateAttribution: config.AttributionMembers}
	store, err := rawstore.New(mem, cfg, log)
	if err != nil {
		t.Fatalf("rawstore.New: %v", err)
	}
	bus := events.NewInMemoryBus(log)
	svc := New(Deps{
		Repo:       mem,
		Store:      store,
		Enricher:   enrichment.New(completer, enrichment.Options{}, log),
		Matcher:    keywords.New(mem, log),
		Carriers:   carriers.NewResolver(mem, nil, log),
		Reconciler: reconcile.New(mem, reconcile.DefaultWindow, log),
		Aggregates: aggregates.New(mem, config.AttributionMembers, "UTC", log),
		Bus:        bus,
		Log:        log,
	})
	return harness{mem: mem, bus: bus, svc: svc, agencyID: agencyID, agents: agents}
}

func TestProcessEndToEndScore(t *testing.T) {
	h := newHarness(t, config.AgencyResolutionFallback, nil)

	var highIntent []events.HighIntentCallDetected
	h.bus.Subscribe(events.HighIntentCallDetected{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		highIntent = append(highIntent, e.(events.HighIntentCallDetected))
		return nil
	}))

	res, err := h.svc.Process(context.Background(), []byte(endToEndPayload))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	h.bus.Wait()

	if !res.Success || !res.Terminal {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.IntentScore != 9 || !res.IsHighIntent {
		t.Fatalf("score = %d high = %v, want 9 true", res.IntentScore, res.IsHighIntent)
	}
	if res.Keyword == nil || res.Keyword.Pattern != "double brokering" {
		t.Fatalf("expected keyword match, got %+v", res.Keyword)
	}
	if !res.LeadCreated || res.LeadStrategy != reconcile.StrategyCreated {
		t.Fatalf("expected lead created, got %+v", res)
	}
	if res.AgencyID == nil || *res.AgencyID != h.agencyID {
		t.Fatalf("agency not resolved from agent number: %+v", res.AgencyID)
	}

	leads := h.mem.Leads()
	if len(leads) != 1 || leads[0].IntentScore != 9 || !leads[0].IsHighIntent {
		t.Fatalf("lead score not written: %+v", leads)
	}
	if len(h.mem.KeywordMatches()) != 1 {
		t.Fatalf("expected one keyword audit row")
	}
	summaries := h.mem.CallSummaries()
	if len(summaries) != 1 || summaries[0].IntentScore != 9 || summaries[0].LeadID == nil {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
	health := h.mem.HealthEvents()
	if len(health) != 1 || health[0].Status != domain.HealthOK || health[0].Service != ServiceWebhook {
		t.Fatalf("unexpected health rows: %+v", health)
	}
	if len(highIntent) != 1 || highIntent[0].IntentScore != 9 {
		t.Fatalf("expected one high intent event, got %+v", highIntent)
	}
}

func TestProcessIsIdempotentPerConversation(t *testing.T) {
	h := newHarness(t, config.AgencyResolutionFallback, nil)

	for i := 0; i < 2; i++ {
		if _, err := h.svc.Process(context.Background(), []byte(endToEndPayload)); err != nil {
			t.Fatalf("Process #%d: %v", i+1, err)
		}
	}

	if n := len(h.mem.CallEvents()); n != 1 {
		t.Fatalf("call events = %d, want 1", n)
	}
	if n := len(h.mem.Conversations()); n != 1 {
		t.Fatalf("conversations = %d, want 1", n)
	}
	if n := len(h.mem.CallSummaries()); n != 1 {
		t.Fatalf("call summaries = %d, want 1", n)
	}
	if n := len(h.mem.Leads()); n != 1 {
		t.Fatalf("leads = %d, want 1", n)
	}
	day := time.Unix(1773151200, 0).UTC()
	for _, agent := range h.agents {
		state, ok := h.mem.DailyAgentState(agent, day)
		if !ok || state.CallsHandled != 2 || state.HighIntentCount != 2 {
			t.Fatalf("daily state for %s = %+v, want 2 calls", agent, state)
		}
	}
	if n := len(h.mem.HealthEvents()); n != 2 {
		t.Fatalf("health rows = %d, want one per invocation", n)
	}
}

func TestProcessStoresNonTerminalOnly(t *testing.T) {
	h := newHarness(t, config.AgencyResolutionFallback, nil)
	raw := `{"type":"call_started","data":{"conversation_id":"conv_live","metadata":{"phone_call":{"external_number":"+15551234567","agent_number":"+18005550100"}}}}`

	res, err := h.svc.Process(context.Background(), []byte(raw))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Terminal || len(h.mem.CallEvents()) != 1 {
		t.Fatalf("expected stored non-terminal event, got %+v", res)
	}
	if len(h.mem.Leads()) != 0 || len(h.mem.CallSummaries()) != 0 || len(h.mem.DailyAgentStates()) != 0 {
		t.Fatalf("non-terminal event must not run later stages")
	}
	if health := h.mem.HealthEvents(); len(health) != 1 || health[0].Status != domain.HealthOK {
		t.Fatalf("unexpected health rows: %+v", health)
	}
}

func TestProcessStrictUnresolvedAgency(t *testing.T) {
	h := newHarness(t, config.AgencyResolutionStrict, nil)
	raw := strings.Replace(endToEndPayload, `"8005550100"`, `"+19995550000"`, 1)

	res, err := h.svc.Process(context.Background(), []byte(raw))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Success || res.AgencyID != nil || res.Keyword != nil || res.LeadID != nil {
		t.Fatalf("unexpected strict result: %+v", res)
	}
	if len(h.mem.Leads()) != 0 || len(h.mem.DailyAgentStates()) != 0 {
		t.Fatalf("unattributed call must not touch tenant rows")
	}
	if len(h.mem.CallSummaries()) != 1 {
		t.Fatalf("summary row should still be written")
	}
	health := h.mem.HealthEvents()
	if len(health) != 1 || health[0].Status != domain.HealthFail {
		t.Fatalf("expected failed health row, got %+v", health)
	}
}

func TestProcessWithEnrichmentAndCarrier(t *testing.T) {
	reply := "Sure:\n```json\n{\"sentiment\":\"positive\",\"outcome\":\"booked\",\"summary\":\"Booked Dallas to Tulsa.\",\"carrier_usdot\":\"1234567\",\"carrier_mc\":null,\"carrier_name\":null,\"intent\":\"book_load\"}\n```"
	h := newHarness(t, config.AgencyResolutionFallback, stubCompleter{reply: reply})
	h.mem.AddCarrier(domain.CarrierRecord{USDOT: domain.StrPtr("1234567"), CarrierName: domain.StrPtr("Swift Haulers"), AuthorityStatus: "ACTIVE", InsuranceStatus: "INACTIVE"})

	res, err := h.svc.Process(context.Background(), []byte(endToEndPayload))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.IntentScore != 10 {
		t.Fatalf("score = %d, want 10", res.IntentScore)
	}
	if res.Carrier == nil || res.Carrier.Status != carriers.StatusFlagged {
		t.Fatalf("expected flagged carrier, got %+v", res.Carrier)
	}
	lead := h.mem.Leads()[0]
	if lead.CarrierUSDOT == nil || *lead.CarrierUSDOT != "1234567" || lead.CarrierName == nil || *lead.CarrierName != "Swift Haulers" {
		t.Fatalf("carrier fields not copied to lead: %+v", lead)
	}
	conv := h.mem.Conversations()[0]
	if conv.Outcome == nil || *conv.Outcome != domain.OutcomeBooked {
		t.Fatalf("conversation enrichment missing: %+v", conv)
	}
	state, _ := h.mem.DailyAgentState(h.agents[0], time.Unix(1773151200, 0).UTC())
	if state.Bookings != 1 {
		t.Fatalf("expected booking counted, got %+v", state)
	}
}

func TestProcessEnrichmentFailureDegrades(t *testing.T) {
	h := newHarness(t, config.AgencyResolutionFallback, stubCompleter{err: errors.New("upstream 502")})

	res, err := h.svc.Process(context.Background(), []byte(endToEndPayload))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.IntentScore != 9 {
		t.Fatalf("score = %d, want keyword floor 9", res.IntentScore)
	}
}

func TestProcessStoreFailureIsFatal(t *testing.T) {
	h := newHarness(t, config.AgencyResolutionFallback, nil)
	h.mem.Fail["UpsertCallEvent"] = errors.New("connection refused")

	if _, err := h.svc.Process(context.Background(), []byte(endToEndPayload)); err == nil {
		t.Fatalf("expected store failure to surface")
	}
	health := h.mem.HealthEvents()
	if len(health) != 1 || health[0].Status != domain.HealthFail {
		t.Fatalf("expected failed health row, got %+v", health)
	}
}

func TestProcessAggregateFailureStillSucceeds(t *testing.T) {
	h := newHarness(t, config.AgencyResolutionFallback, nil)
	h.mem.Fail["UpsertCallSummary"] = errors.New("deadlock")

	res, err := h.svc.Process(context.Background(), []byte(endToEndPayload))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Success || len(res.Degraded) != 1 || res.Degraded[0] != StageAggregates {
		t.Fatalf("expected degraded aggregates, got %+v", res)
	}
	if len(h.mem.DailyAgentStates()) != len(h.agents) {
		t.Fatalf("daily state should still be written")
	}
}

func TestReplay(t *testing.T) {
	h := newHarness(t, config.AgencyResolutionFallback, nil)
	if _, err := h.svc.Process(context.Background(), []byte(endToEndPayload)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	res, err := h.svc.Replay(context.Background(), "conv_e2e")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.LeadStrategy != reconcile.StrategyDirect || res.IntentScore != 9 {
		t.Fatalf("unexpected replay result: %+v", res)
	}
	health := h.mem.HealthEvents()
	if health[len(health)-1].Service != ServiceReplay {
		t.Fatalf("replay should be logged under its own service name")
	}

	_, err = h.svc.Replay(context.Background(), "missing")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProcessLateCallEndedKeepsTranscriptFacts(t *testing.T) {
	h := newHarness(t, config.AgencyResolutionFallback, nil)
	if _, err := h.svc.Process(context.Background(), []byte(endToEndPayload)); err != nil {
		t.Fatalf("Process transcription: %v", err)
	}

	late := `{"type":"call_ended","data":{"conversation_id":"conv_e2e","metadata":{"phone_call":{"external_number":"+15551234567","agent_number":"8005550100"}}}}`
	res, err := h.svc.Process(context.Background(), []byte(late))
	if err != nil {
		t.Fatalf("Process call_ended: %v", err)
	}

	if res.IntentScore != 9 || !res.IsHighIntent || res.Keyword == nil {
		t.Fatalf("late call_ended lost transcript facts: %+v", res)
	}
	summaries := h.mem.CallSummaries()
	if len(summaries) != 1 || summaries[0].IntentScore != 9 || !summaries[0].IsHighIntent || summaries[0].DurationSecs != 45 {
		t.Fatalf("summary regressed: %+v", summaries)
	}
	stored := h.mem.CallEvents()[0]
	if !stored.HasTranscript || stored.EventType != "post_call_transcription" || !strings.Contains(string(stored.RawPayload), "double brokering") {
		t.Fatalf("stored payload replaced by a poorer delivery: type=%s hasTranscript=%v", stored.EventType, stored.HasTranscript)
	}
	if conv := h.mem.Conversations(); len(conv) != 1 || !strings.Contains(conv[0].Transcript, "double brokering") {
		t.Fatalf("conversation transcript lost: %+v", conv)
	}
	if leads := h.mem.Leads(); len(leads) != 1 || leads[0].IntentScore != 9 {
		t.Fatalf("lead score regressed: %+v", leads)
	}
}

func TestProcessProviderSummaryPrecedence(t *testing.T) {
	const transcript = `[{"role":"user","message":"Need a flatbed from Gary to Detroit next Monday."}]`
	payload := func(analysis string) string {
		return `{"type":"post_call_transcription","data":{"conversation_id":"conv_summary","transcript":` + transcript +
			`,"analysis":` + analysis + `,"metadata":{"phone_call":{"external_number":"+15551234567","agent_number":"8005550100"}}}}`
	}
	model := stubCompleter{reply: `{"summary":"AI summary","outcome":"booked"}`}

	tests := []struct {
		name      string
		completer ai.Completer
		analysis  string
		want      string
	}{
		{name: "title beats model", completer: model, analysis: `{"call_summary_title":"Provider title"}`, want: "Provider title"},
		{name: "summary beats title", completer: model, analysis: `{"transcript_summary":"Provider summary","call_summary_title":"Provider title"}`, want: "Provider summary"},
		{name: "model when provider silent", completer: model, analysis: `{}`, want: "AI summary"},
		{name: "title without model", analysis: `{"call_summary_title":"Provider title"}`, want: "Provider title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.AgencyResolutionFallback, tt.completer)
			if _, err := h.svc.Process(context.Background(), []byte(payload(tt.analysis))); err != nil {
				t.Fatalf("Process: %v", err)
			}
			summaries := h.mem.CallSummaries()
			if len(summaries) != 1 || summaries[0].Summary == nil || *summaries[0].Summary != tt.want {
				t.Fatalf("summary = %+v, want %q", summaries, tt.want)
			}
		})
	}
}
