// Package events implements pre-commit event validation and the
// transaction adapter that publishes queued events at commit time with
// per-event deduplication.
package events

import (
	"fmt"

	"katalyst/internal/domain/shared"
)

// ValidationResult is the outcome of validating one queued event.
type ValidationResult struct {
	EventID   string
	EventType string
	IsValid   bool
	Error     string
}

// Validator decides whether a queued event may be published.
type Validator interface {
	Validate(event shared.DomainEvent) ValidationResult
}

// HandlerPredicate reports whether any handler is registered for the
// event's runtime type. Panics and failures inside the predicate are not
// caught; they surface through the validation phase and roll the
// transaction back.
type HandlerPredicate func(event shared.DomainEvent) bool

// PublishingValidator rejects events nothing is listening for, so a typo
// in an event type fails the transaction instead of silently dropping the
// event on the bus.
type PublishingValidator struct {
	hasHandlers HandlerPredicate
}

// NewPublishingValidator creates a validator over the handler predicate.
func NewPublishingValidator(hasHandlers HandlerPredicate) *PublishingValidator {
	return &PublishingValidator{hasHandlers: hasHandlers}
}

// Validate checks a single event against the handler predicate.
func (v *PublishingValidator) Validate(event shared.DomainEvent) ValidationResult {
	result := ValidationResult{
		EventID:   event.EventID(),
		EventType: event.EventType(),
	}
	if !v.hasHandlers(event) {
		result.Error = fmt.Sprintf("no handler registered for event type %q", event.EventType())
		return result
	}
	result.IsValid = true
	return result
}
