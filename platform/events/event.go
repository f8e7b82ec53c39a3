// Package events provides an in-process event bus so pipeline stages can
// announce outcomes without knowing who listens.
// This is part of the platform layer and contains no business logic.
package events

import (
	"context"
	"time"
)

// Event is implemented by every domain event.
type Event interface {
	// EventName identifies the event type for subscription.
	EventName() string
	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time
}

// BaseEvent carries the timestamp shared by all events.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt returns when the event occurred.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the current time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now().UTC()}
}

// NewBaseEventAt stamps an event with t, e.g. the provider's call time.
func NewBaseEventAt(t time.Time) BaseEvent {
	if t.IsZero() {
		return NewBaseEvent()
	}
	return BaseEvent{Timestamp: t.UTC()}
}

// Handler processes events of a specific type.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publisher is the side of the bus producers depend on.
type Publisher interface {
	// Publish dispatches to handlers asynchronously.
	Publish(ctx context.Context, event Event)
	// PublishSync dispatches and waits, returning joined handler errors.
	PublishSync(ctx context.Context, event Event) error
}

// Subscriber is the side of the bus consumers depend on.
type Subscriber interface {
	// Subscribe registers handler for events whose EventName is eventName.
	Subscribe(eventName string, handler Handler)
}

// Bus publishes and subscribes.
type Bus interface {
	Publisher
	Subscriber
}

var _ Bus = (*InMemoryBus)(nil)
