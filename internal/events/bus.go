// Package events re-exports the platform event bus so modules import one
// events package for both infrastructure and call-event definitions.
package events

import (
	platformevents "freight_ops_backend/platform/events"
	"freight_ops_backend/platform/logger"
)

// InMemoryBus is the platform in-process bus.
type InMemoryBus = platformevents.InMemoryBus

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return platformevents.NewInMemoryBus(log)
}
