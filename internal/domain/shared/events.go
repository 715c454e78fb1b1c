// Package shared holds the domain contracts used across the framework:
// domain events, event metadata, and the event bus consumed at commit time.
package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventMetadata describes a domain event. EventType is the only required
// field; everything else is opaque to the framework.
type EventMetadata struct {
	// EventType names the runtime type of the event, e.g. "OrderPlaced".
	EventType string `json:"eventType"`

	// AggregateID identifies the aggregate that raised the event, if any.
	AggregateID string `json:"aggregateId,omitempty"`

	// OccurredAt records when the event was raised.
	OccurredAt time.Time `json:"occurredAt"`

	// Attributes carries free-form metadata for transports and handlers.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// DomainEvent represents an important business occurrence raised inside a
// transaction. Events are buffered per transaction and published only after
// the enclosing database transaction commits.
type DomainEvent interface {
	// EventID returns a stable, globally unique identifier for this event
	// instance. It must be non-empty; deduplication keys on it across retries.
	EventID() string

	// EventType returns the type of event (e.g. "OrderPlaced").
	EventType() string

	// Metadata returns the event's metadata record.
	Metadata() EventMetadata

	// EventData returns the event-specific payload.
	EventData() map[string]interface{}
}

// BaseEvent provides common functionality for all domain events.
type BaseEvent struct {
	eventID  string
	metadata EventMetadata
}

// NewBaseEvent creates a base event with a generated id and the given type.
func NewBaseEvent(eventType, aggregateID string) BaseEvent {
	return BaseEvent{
		eventID: uuid.New().String(),
		metadata: EventMetadata{
			EventType:   eventType,
			AggregateID: aggregateID,
			OccurredAt:  time.Now(),
		},
	}
}

// ReconstructBaseEvent rebuilds a base event with a known id, for replays
// and tests that need a stable identity.
func ReconstructBaseEvent(eventID, eventType, aggregateID string, occurredAt time.Time) BaseEvent {
	return BaseEvent{
		eventID: eventID,
		metadata: EventMetadata{
			EventType:   eventType,
			AggregateID: aggregateID,
			OccurredAt:  occurredAt,
		},
	}
}

// EventID returns the unique event identifier.
func (e BaseEvent) EventID() string {
	return e.eventID
}

// EventType returns the type of event.
func (e BaseEvent) EventType() string {
	return e.metadata.EventType
}

// Metadata returns the event metadata record.
func (e BaseEvent) Metadata() EventMetadata {
	return e.metadata
}

// EventBus is the externally-provided bus the framework publishes to.
// Handler registration and dispatch are the application's concern.
type EventBus interface {
	// Publish delivers a single event to its handlers. It may block on I/O
	// and may fail; the caller decides whether a failure is fatal.
	Publish(ctx context.Context, event DomainEvent) error

	// HasHandlers reports whether any handler is registered for the event's
	// runtime type. It must be a pure predicate.
	HasHandlers(event DomainEvent) bool
}
