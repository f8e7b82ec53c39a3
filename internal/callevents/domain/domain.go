// Package domain holds the call-event pipeline's record types.
// Nothing here touches storage or transport.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Unknown marks a value the provider payload did not carry. Phone-based
// matching never runs against it.
const Unknown = "unknown"

// NormalizedEvent is the canonical shape of one webhook delivery.
type NormalizedEvent struct {
	ProviderEventID      string
	ConversationID       string
	EventType            string
	Status               string
	CallSID              string
	ProviderAgentID      string
	CallerNumber         string
	AgentNumber          string
	Direction            string
	TerminationReason    string
	DurationSecs         int
	Cost                 *float64
	Transcript           string
	ProviderSummary      string
	ProviderSummaryTitle string
	RecordingURL         string
	OccurredAt           time.Time
	Terminal             bool
	Raw                  json.RawMessage
}

// HasCaller reports whether the caller number is usable for matching.
func (e NormalizedEvent) HasCaller() bool {
	return IsKnown(e.CallerNumber)
}

// HasTranscript reports whether any transcript text was delivered.
func (e NormalizedEvent) HasTranscript() bool {
	return strings.TrimSpace(e.Transcript) != ""
}

// IsKnown reports whether v is a real value rather than empty or the sentinel.
func IsKnown(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.EqualFold(v, Unknown)
}

// CallEvent is the stored row for one conversation.
type CallEvent struct {
	ID                   uuid.UUID
	ProviderEventID      *string
	ConversationID       string
	CallSID              *string
	CallerNumber         string
	AgentNumber          string
	Direction            string
	EventType            string
	IsTerminal           bool
	HasTranscript        bool
	TerminationReason    string
	DurationSecs         int
	Cost                 *float64
	ProviderSummary      *string
	ProviderSummaryTitle *string
	AgencyID             *uuid.UUID
	AssignedAgentID      *uuid.UUID
	OccurredAt           *time.Time
	RawPayload           []byte
	ReceivedAt           time.Time
	UpdatedAt            time.Time
}

// Sentiment values the summarizer may return.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Outcome values the summarizer may return.
const (
	OutcomeBooked            = "booked"
	OutcomeCallbackRequested = "callback_requested"
	OutcomeDeclined          = "declined"
	OutcomeNoAction          = "no_action"
	OutcomeUnknown           = "unknown"
)

// ValidSentiment reports whether s is one of the sentiment values.
func ValidSentiment(s string) bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// ValidOutcome reports whether s is one of the outcome values.
func ValidOutcome(s string) bool {
	switch s {
	case OutcomeBooked, OutcomeCallbackRequested, OutcomeDeclined, OutcomeNoAction, OutcomeUnknown:
		return true
	}
	return false
}

// Enrichment is what transcript analysis produced. Every field is optional.
type Enrichment struct {
	Sentiment     *string `json:"sentiment"`
	Intent        *string `json:"intent"`
	Outcome       *string `json:"outcome"`
	Summary       *string `json:"summary"`
	CarrierUSDOT  *string `json:"carrier_usdot"`
	CarrierMC     *string `json:"carrier_mc"`
	CarrierName   *string `json:"carrier_name"`
	EquipmentType *string `json:"equipment_type"`
	Lane          *string `json:"lane"`
}

// OutcomeValue returns the outcome or "" when absent. Safe on nil.
func (e *Enrichment) OutcomeValue() string {
	if e == nil || e.Outcome == nil {
		return ""
	}
	return *e.Outcome
}

// SentimentValue returns the sentiment or "" when absent. Safe on nil.
func (e *Enrichment) SentimentValue() string {
	if e == nil || e.Sentiment == nil {
		return ""
	}
	return *e.Sentiment
}

// HasCarrierID reports whether a DOT or MC number was extracted. Safe on nil.
func (e *Enrichment) HasCarrierID() bool {
	if e == nil {
		return false
	}
	return e.CarrierUSDOT != nil || e.CarrierMC != nil
}

// Conversation is the transcript record derived from a CallEvent.
type Conversation struct {
	ID           uuid.UUID
	CallEventID  uuid.UUID
	CallSID      *string
	Transcript   string
	Sentiment    *string
	Intent       *string
	Outcome      *string
	Summary      *string
	RecordingURL *string
	RawPayload   []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LeadStatus is the sales-pipeline state of a Lead.
type LeadStatus string

const (
	LeadStatusPending LeadStatus = "pending"
	LeadStatusClaimed LeadStatus = "claimed"
	LeadStatusBooked  LeadStatus = "booked"
	LeadStatusClosed  LeadStatus = "closed"
)

// Lead is an in-flight sales opportunity.
type Lead struct {
	ID             uuid.UUID
	AgencyID       *uuid.UUID
	Status         LeadStatus
	CallerPhone    string
	PhoneCallID    *uuid.UUID
	ConversationID *uuid.UUID
	IntentScore    int
	IsHighIntent   bool
	CarrierUSDOT   *string
	CarrierMC      *string
	CarrierName    *string
	Notes          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LeadScoreUpdate carries the post-scoring fields written back to a Lead.
type LeadScoreUpdate struct {
	IntentScore  int
	IsHighIntent bool
	CarrierUSDOT *string
	CarrierMC    *string
	CarrierName  *string
	Notes        *string
}

// MatchType selects keyword rule semantics.
type MatchType string

const (
	MatchContains MatchType = "contains"
	MatchExact    MatchType = "exact"
	MatchRegex    MatchType = "regex"
)

// KeywordRule is an agency-scoped transcript pattern.
type KeywordRule struct {
	ID            uuid.UUID
	AgencyID      uuid.UUID
	AgentID       *uuid.UUID
	Pattern       string
	MatchType     MatchType
	CaseSensitive bool
	Weight        float64
	IsActive      bool
	ExpiresAt     *time.Time
	SortOrder     int
	CreatedAt     time.Time
}

// Live reports whether the rule may be evaluated at now.
func (r KeywordRule) Live(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}

// KeywordMatchEvent is the audit row written when a rule fires.
type KeywordMatchEvent struct {
	ID          uuid.UUID
	RuleID      uuid.UUID
	AgencyID    uuid.UUID
	CallEventID uuid.UUID
	Pattern     string
	MatchType   MatchType
	Weight      float64
	MatchedAt   time.Time
}

// CarrierRecord is cached regulatory status for one carrier.
type CarrierRecord struct {
	ID              uuid.UUID `json:"id"`
	USDOT           *string   `json:"usdot,omitempty"`
	MC              *string   `json:"mc,omitempty"`
	CarrierName     *string   `json:"carrierName,omitempty"`
	AuthorityStatus string    `json:"authorityStatus"`
	InsuranceStatus string    `json:"insuranceStatus"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// CallSummary is the dashboard row for one conversation.
type CallSummary struct {
	ConversationID   string
	CallEventID      uuid.UUID
	AgencyID         *uuid.UUID
	LeadID           *uuid.UUID
	DurationSecs     int
	Outcome          *string
	Sentiment        *string
	Summary          *string
	IntentScore      int
	IsHighIntent     bool
	HighIntentReason json.RawMessage
	CarrierUSDOT     *string
	CarrierMC        *string
	CarrierName      *string
	CarrierStatus    *string
	Cost             *float64
	UpdatedAt        time.Time
}

// DailyAgentDelta is one agent's increment for a local calendar date.
type DailyAgentDelta struct {
	AgentID    uuid.UUID
	AgencyID   uuid.UUID
	StateDate  time.Time
	Calls      int
	Minutes    float64
	HighIntent int
	Bookings   int
}

// DailyAgentState is the accumulated per-agent, per-day counter row.
type DailyAgentState struct {
	AgentID         uuid.UUID
	StateDate       time.Time
	AgencyID        uuid.UUID
	CallsHandled    int
	MinutesHandled  float64
	HighIntentCount int
	Bookings        int
	UpdatedAt       time.Time
}

// Agency is a tenant brokerage.
type Agency struct {
	ID       uuid.UUID
	Name     string
	Timezone *string
}

// AgencyPhone maps an inbound number to its agency.
type AgencyPhone struct {
	ID              uuid.UUID
	AgencyID        uuid.UUID
	PhoneNumber     string
	AssignedAgentID *uuid.UUID
}

// HealthStatus is the outcome recorded for one webhook invocation.
type HealthStatus string

const (
	HealthOK   HealthStatus = "ok"
	HealthFail HealthStatus = "fail"
)

// HealthEvent is one row in the webhook health log.
type HealthEvent struct {
	ID             uuid.UUID
	Service        string
	Status         HealthStatus
	ErrorMessage   *string
	ConversationID *string
	CreatedAt      time.Time
}

// StrPtr returns nil for blank input and a pointer to the trimmed value otherwise.
func StrPtr(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// Carrier identifier kinds.
const (
	CarrierIDUSDOT = "usdot"
	CarrierIDMC    = "mc"
)
