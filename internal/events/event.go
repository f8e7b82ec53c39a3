// Package events provides domain event definitions for the call-event
// pipeline. Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"freight_ops_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Publisher   = events.Publisher
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var (
	NewBaseEvent   = events.NewBaseEvent
	NewBaseEventAt = events.NewBaseEventAt
)

// =============================================================================
// Call Event Domain Events
// =============================================================================

// CallEventProcessed is published once per pipeline run.
type CallEventProcessed struct {
	BaseEvent
	CallEventID    uuid.UUID  `json:"callEventId"`
	ConversationID string     `json:"conversationId"`
	AgencyID       *uuid.UUID `json:"agencyId,omitempty"`
	LeadID         *uuid.UUID `json:"leadId,omitempty"`
	Terminal       bool       `json:"terminal"`
	IntentScore    int        `json:"intentScore"`
	IsHighIntent   bool       `json:"isHighIntent"`
	Degraded       []string   `json:"degraded,omitempty"`
}

func (e CallEventProcessed) EventName() string { return "callevents.processed" }

// HighIntentCallDetected is published when scoring marks a call high intent.
type HighIntentCallDetected struct {
	BaseEvent
	CallEventID    uuid.UUID  `json:"callEventId"`
	ConversationID string     `json:"conversationId"`
	AgencyID       *uuid.UUID `json:"agencyId,omitempty"`
	LeadID         *uuid.UUID `json:"leadId,omitempty"`
	IntentScore    int        `json:"intentScore"`
	Reasons        []string   `json:"reasons"`
	CallerNumber   string     `json:"callerNumber"`
}

func (e HighIntentCallDetected) EventName() string { return "callevents.high_intent_detected" }

// LeadCreatedFromCall is published when reconciliation had to create a lead.
type LeadCreatedFromCall struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	AgencyID       uuid.UUID `json:"agencyId"`
	CallEventID    uuid.UUID `json:"callEventId"`
	ConversationID string    `json:"conversationId"`
	CallerPhone    string    `json:"callerPhone"`
}

func (e LeadCreatedFromCall) EventName() string { return "callevents.lead_created" }
