package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/platform/phone"

	"github.com/google/uuid"
)

// Memory is an in-process store with the same upsert semantics as Repository.
// It backs tests and local runs without Postgres.
type Memory struct {
	mu sync.Mutex

	now func() time.Time

	agencies       map[uuid.UUID]domain.Agency
	agencyOrder    []uuid.UUID
	agencyPhones   []domain.AgencyPhone
	members        map[uuid.UUID][]uuid.UUID
	callEvents     map[string]domain.CallEvent
	conversations  map[uuid.UUID]domain.Conversation
	leads          []domain.Lead
	rules          []domain.KeywordRule
	keywordMatches []domain.KeywordMatchEvent
	carriers       []domain.CarrierRecord
	summaries      map[string]domain.CallSummary
	daily          map[dailyKey]domain.DailyAgentState
	health         []domain.HealthEvent

	// Fail injects errors per operation name, e.g. "UpsertCallSummary".
	Fail map[string]error
}

type dailyKey struct {
	agentID uuid.UUID
	date    string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		now:           time.Now,
		agencies:      make(map[uuid.UUID]domain.Agency),
		members:       make(map[uuid.UUID][]uuid.UUID),
		callEvents:    make(map[string]domain.CallEvent),
		conversations: make(map[uuid.UUID]domain.Conversation),
		summaries:     make(map[string]domain.CallSummary),
		daily:         make(map[dailyKey]domain.DailyAgentState),
		Fail:          make(map[string]error),
	}
}

// SetClock overrides the timestamp source for created/updated fields.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) fail(op string) error {
	if err, ok := m.Fail[op]; ok {
		return err
	}
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// AddAgency seeds an agency.
func (m *Memory) AddAgency(a domain.Agency) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agencies[a.ID]; !ok {
		m.agencyOrder = append(m.agencyOrder, a.ID)
	}
	m.agencies[a.ID] = a
}

// AddAgencyPhone seeds an agency phone number.
func (m *Memory) AddAgencyPhone(p domain.AgencyPhone) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.agencyPhones = append(m.agencyPhones, p)
}

// AddMember seeds an agency member.
func (m *Memory) AddMember(agencyID, agentID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[agencyID] = append(m.members[agencyID], agentID)
}

// AddLead seeds a lead as the upstream intake path would.
func (m *Memory) AddLead(l domain.Lead) domain.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = domain.LeadStatusPending
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = m.now()
	}
	l.UpdatedAt = l.CreatedAt
	m.leads = append(m.leads, l)
	return l
}

// AddKeywordRule seeds a keyword rule.
func (m *Memory) AddKeywordRule(r domain.KeywordRule) domain.KeywordRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now().Add(time.Duration(len(m.rules)) * time.Microsecond)
	}
	m.rules = append(m.rules, r)
	return r
}

// AddCarrier seeds a cached carrier record.
func (m *Memory) AddCarrier(c domain.CarrierRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.carriers = append(m.carriers, c)
}

// CallEvents returns stored call events.
func (m *Memory) CallEvents() []domain.CallEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CallEvent, 0, len(m.callEvents))
	for _, ev := range m.callEvents {
		out = append(out, ev)
	}
	return out
}

// Conversations returns stored conversations.
func (m *Memory) Conversations() []domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		out = append(out, c)
	}
	return out
}

// Leads returns stored leads.
func (m *Memory) Leads() []domain.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.leads)
}

// CallSummaries returns stored summary rows.
func (m *Memory) CallSummaries() []domain.CallSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CallSummary, 0, len(m.summaries))
	for _, s := range m.summaries {
		out = append(out, s)
	}
	return out
}

// DailyAgentState returns the counters for one agent and date.
func (m *Memory) DailyAgentState(agentID uuid.UUID, date time.Time) (domain.DailyAgentState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.daily[dailyKey{agentID: agentID, date: date.Format(time.DateOnly)}]
	return s, ok
}

// DailyAgentStates returns all counter rows.
func (m *Memory) DailyAgentStates() []domain.DailyAgentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DailyAgentState, 0, len(m.daily))
	for _, s := range m.daily {
		out = append(out, s)
	}
	return out
}

// KeywordMatches returns audit rows.
func (m *Memory) KeywordMatches() []domain.KeywordMatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.keywordMatches)
}

// HealthEvents returns recorded invocation outcomes.
func (m *Memory) HealthEvents() []domain.HealthEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.health)
}

// UpsertCallEvent mirrors the Postgres merge rules.
func (m *Memory) UpsertCallEvent(_ context.Context, ev domain.CallEvent) (domain.CallEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertCallEvent"); err != nil {
		return domain.CallEvent{}, err
	}

	now := m.now()
	existing, ok := m.callEvents[ev.ConversationID]
	if !ok {
		ev.UpdatedAt = now
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = now
		}
		m.callEvents[ev.ConversationID] = ev
		return ev, nil
	}

	merged := existing
	merged.ProviderEventID = coalesce(ev.ProviderEventID, existing.ProviderEventID)
	merged.CallSID = coalesce(ev.CallSID, existing.CallSID)
	merged.CallerNumber = knownOr(ev.CallerNumber, existing.CallerNumber)
	merged.AgentNumber = knownOr(ev.AgentNumber, existing.AgentNumber)
	merged.Direction = knownOr(ev.Direction, existing.Direction)
	merged.TerminationReason = knownOr(ev.TerminationReason, existing.TerminationReason)
	keepStored := (existing.IsTerminal && !ev.IsTerminal) || (existing.HasTranscript && !ev.HasTranscript)
	if !keepStored {
		merged.EventType = ev.EventType
		merged.RawPayload = ev.RawPayload
	}
	merged.IsTerminal = existing.IsTerminal || ev.IsTerminal
	merged.HasTranscript = existing.HasTranscript || ev.HasTranscript
	merged.DurationSecs = max(existing.DurationSecs, ev.DurationSecs)
	merged.Cost = coalesce(ev.Cost, existing.Cost)
	merged.ProviderSummary = coalesce(ev.ProviderSummary, existing.ProviderSummary)
	merged.ProviderSummaryTitle = coalesce(ev.ProviderSummaryTitle, existing.ProviderSummaryTitle)
	merged.AgencyID = coalesce(ev.AgencyID, existing.AgencyID)
	merged.AssignedAgentID = coalesce(ev.AssignedAgentID, existing.AssignedAgentID)
	merged.OccurredAt = coalesce(existing.OccurredAt, ev.OccurredAt)
	merged.UpdatedAt = now
	m.callEvents[ev.ConversationID] = merged
	return merged, nil
}

// GetCallEventByConversationID returns ErrNotFound for unknown ids.
func (m *Memory) GetCallEventByConversationID(_ context.Context, conversationID string) (domain.CallEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.callEvents[conversationID]
	if !ok {
		return domain.CallEvent{}, ErrNotFound
	}
	return ev, nil
}

// UpsertConversation is keyed by call event id.
func (m *Memory) UpsertConversation(_ context.Context, c domain.Conversation) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertConversation"); err != nil {
		return domain.Conversation{}, err
	}

	now := m.now()
	existing, ok := m.conversations[c.CallEventID]
	if !ok {
		c.CreatedAt, c.UpdatedAt = now, now
		m.conversations[c.CallEventID] = c
		return c, nil
	}
	existing.CallSID = coalesce(c.CallSID, existing.CallSID)
	existing.Transcript = c.Transcript
	existing.Sentiment = coalesce(c.Sentiment, existing.Sentiment)
	existing.Intent = coalesce(c.Intent, existing.Intent)
	existing.Outcome = coalesce(c.Outcome, existing.Outcome)
	existing.Summary = coalesce(c.Summary, existing.Summary)
	existing.RecordingURL = coalesce(c.RecordingURL, existing.RecordingURL)
	existing.RawPayload = c.RawPayload
	existing.UpdatedAt = now
	m.conversations[c.CallEventID] = existing
	return existing, nil
}

// RecordHealthEvent appends an outcome row.
func (m *Memory) RecordHealthEvent(_ context.Context, ev domain.HealthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("RecordHealthEvent"); err != nil {
		return err
	}
	ev.CreatedAt = m.now()
	m.health = append(m.health, ev)
	return nil
}

// FindAgencyPhones matches stored numbers exactly, in seed order.
func (m *Memory) FindAgencyPhones(_ context.Context, numbers []string) ([]domain.AgencyPhone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FindAgencyPhones"); err != nil {
		return nil, err
	}
	var out []domain.AgencyPhone
	for _, p := range m.agencyPhones {
		if slices.Contains(numbers, p.PhoneNumber) {
			out = append(out, p)
		}
	}
	return out, nil
}

// FirstAgencyID returns the first seeded agency.
func (m *Memory) FirstAgencyID(context.Context) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.agencyOrder) == 0 {
		return uuid.Nil, ErrNotFound
	}
	return m.agencyOrder[0], nil
}

// GetAgency returns ErrNotFound for unknown agencies.
func (m *Memory) GetAgency(_ context.Context, agencyID uuid.UUID) (domain.Agency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agencies[agencyID]
	if !ok {
		return domain.Agency{}, ErrNotFound
	}
	return a, nil
}

// ListAgencyMemberIDs returns seeded members.
func (m *Memory) ListAgencyMemberIDs(_ context.Context, agencyID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListAgencyMemberIDs"); err != nil {
		return nil, err
	}
	return slices.Clone(m.members[agencyID]), nil
}

// FindLeadByPhoneCall returns the lead linked to the call.
func (m *Memory) FindLeadByPhoneCall(_ context.Context, callEventID uuid.UUID) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.leads {
		if l.PhoneCallID != nil && *l.PhoneCallID == callEventID {
			return l, nil
		}
	}
	return domain.Lead{}, ErrNotFound
}

func (m *Memory) newestPending(agencyID uuid.UUID, match func(domain.Lead) bool) (domain.Lead, error) {
	var best *domain.Lead
	for i := range m.leads {
		l := &m.leads[i]
		if l.AgencyID == nil || *l.AgencyID != agencyID {
			continue
		}
		if l.Status != domain.LeadStatusPending || l.PhoneCallID != nil || !match(*l) {
			continue
		}
		if best == nil || l.CreatedAt.After(best.CreatedAt) {
			best = l
		}
	}
	if best == nil {
		return domain.Lead{}, ErrNotFound
	}
	return *best, nil
}

// FindPendingLeadByPhones returns the newest pending, unlinked lead with a matching phone.
func (m *Memory) FindPendingLeadByPhones(_ context.Context, agencyID uuid.UUID, phones []string) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FindPendingLeadByPhones"); err != nil {
		return domain.Lead{}, err
	}
	return m.newestPending(agencyID, func(l domain.Lead) bool {
		return slices.Contains(phones, l.CallerPhone)
	})
}

// FindPendingLeadSince returns the newest pending, unlinked lead created at or after since.
func (m *Memory) FindPendingLeadSince(_ context.Context, agencyID uuid.UUID, since time.Time) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newestPending(agencyID, func(l domain.Lead) bool {
		return !l.CreatedAt.Before(since)
	})
}

// LinkLeadToCall sets the link only while it is null and no other lead holds the call.
func (m *Memory) LinkLeadToCall(_ context.Context, leadID, callEventID uuid.UUID, conversationID *uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("LinkLeadToCall"); err != nil {
		return false, err
	}
	for _, l := range m.leads {
		if l.PhoneCallID != nil && *l.PhoneCallID == callEventID {
			return false, nil
		}
	}
	for i := range m.leads {
		l := &m.leads[i]
		if l.ID != leadID {
			continue
		}
		if l.PhoneCallID != nil {
			return false, nil
		}
		id := callEventID
		l.PhoneCallID = &id
		l.ConversationID = coalesce(conversationID, l.ConversationID)
		l.UpdatedAt = m.now()
		return true, nil
	}
	return false, nil
}

// BackfillLeadPhone replaces a placeholder phone.
func (m *Memory) BackfillLeadPhone(_ context.Context, leadID uuid.UUID, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.leads {
		if m.leads[i].ID == leadID && phone.IsPlaceholder(m.leads[i].CallerPhone) {
			m.leads[i].CallerPhone = number
			m.leads[i].UpdatedAt = m.now()
		}
	}
	return nil
}

// CreateLead inserts a lead, returning the existing one if the call is already linked.
func (m *Memory) CreateLead(_ context.Context, l domain.Lead) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateLead"); err != nil {
		return domain.Lead{}, err
	}
	if l.PhoneCallID != nil {
		for _, existing := range m.leads {
			if existing.PhoneCallID != nil && *existing.PhoneCallID == *l.PhoneCallID {
				return existing, nil
			}
		}
	}
	now := m.now()
	l.CreatedAt, l.UpdatedAt = now, now
	m.leads = append(m.leads, l)
	return l, nil
}

// UpdateLeadScore raises score fields.
func (m *Memory) UpdateLeadScore(_ context.Context, leadID uuid.UUID, upd domain.LeadScoreUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateLeadScore"); err != nil {
		return err
	}
	for i := range m.leads {
		l := &m.leads[i]
		if l.ID != leadID {
			continue
		}
		l.IntentScore = max(l.IntentScore, upd.IntentScore)
		l.IsHighIntent = l.IsHighIntent || upd.IsHighIntent
		l.CarrierUSDOT = coalesce(l.CarrierUSDOT, upd.CarrierUSDOT)
		l.CarrierMC = coalesce(l.CarrierMC, upd.CarrierMC)
		l.CarrierName = coalesce(l.CarrierName, upd.CarrierName)
		l.Notes = coalesce(l.Notes, upd.Notes)
		l.UpdatedAt = m.now()
	}
	return nil
}

// ListKeywordRules returns live rules ordered by sort order then creation time.
func (m *Memory) ListKeywordRules(_ context.Context, agencyID uuid.UUID, agentID *uuid.UUID, now time.Time) ([]domain.KeywordRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListKeywordRules"); err != nil {
		return nil, err
	}
	var out []domain.KeywordRule
	for _, r := range m.rules {
		if r.AgencyID != agencyID || !r.Live(now) {
			continue
		}
		if r.AgentID != nil && (agentID == nil || *r.AgentID != *agentID) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// RecordKeywordMatch appends an audit row.
func (m *Memory) RecordKeywordMatch(_ context.Context, ev domain.KeywordMatchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("RecordKeywordMatch"); err != nil {
		return err
	}
	m.keywordMatches = append(m.keywordMatches, ev)
	return nil
}

// FindCarrier matches by DOT or MC number.
func (m *Memory) FindCarrier(_ context.Context, kind, number string) (domain.CarrierRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FindCarrier"); err != nil {
		return domain.CarrierRecord{}, err
	}
	for _, c := range m.carriers {
		var field *string
		switch kind {
		case domain.CarrierIDUSDOT:
			field = c.USDOT
		case domain.CarrierIDMC:
			field = c.MC
		default:
			return domain.CarrierRecord{}, fmt.Errorf("unknown carrier identifier kind %q", kind)
		}
		if field != nil && *field == number {
			return c, nil
		}
	}
	return domain.CarrierRecord{}, ErrNotFound
}

// UpsertCallSummary replaces the row for the conversation.
func (m *Memory) UpsertCallSummary(_ context.Context, s domain.CallSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertCallSummary"); err != nil {
		return err
	}
	s.UpdatedAt = m.now()
	m.summaries[s.ConversationID] = s
	return nil
}

// IncrementDailyAgentState adds the delta to the day's row, creating it on first use.
func (m *Memory) IncrementDailyAgentState(_ context.Context, d domain.DailyAgentDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("IncrementDailyAgentState"); err != nil {
		return err
	}
	key := dailyKey{agentID: d.AgentID, date: d.StateDate.Format(time.DateOnly)}
	state, ok := m.daily[key]
	if !ok {
		y, mo, day := d.StateDate.Date()
		state = domain.DailyAgentState{
			AgentID:   d.AgentID,
			StateDate: time.Date(y, mo, day, 0, 0, 0, 0, time.UTC),
			AgencyID:  d.AgencyID,
		}
	}
	state.CallsHandled += d.Calls
	state.MinutesHandled += d.Minutes
	state.HighIntentCount += d.HighIntent
	state.Bookings += d.Bookings
	state.UpdatedAt = m.now()
	m.daily[key] = state
	return nil
}

func coalesce[T any](preferred, fallback *T) *T {
	if preferred != nil {
		return preferred
	}
	return fallback
}

func knownOr(incoming, existing string) string {
	if strings.EqualFold(strings.TrimSpace(incoming), domain.Unknown) {
		return existing
	}
	return incoming
}
