package transaction

import (
	"context"
	"sync"

	"katalyst/internal/domain/shared"
)

// eventContextKey is the context key for the per-transaction event context.
type eventContextKey struct{}

// EventContext is the per-transaction scratch space holding events queued
// by the user body until the commit-time adapters decide their fate. One
// instance lives for exactly one top-level transaction; nested transactions
// share the outer instance.
type EventContext struct {
	mu         sync.Mutex
	workflowID string
	pending    []shared.DomainEvent
	metadata   map[string]interface{}
}

// NewEventContext creates an empty event context for the workflow.
func NewEventContext(workflowID string) *EventContext {
	return &EventContext{
		workflowID: workflowID,
		metadata:   make(map[string]interface{}),
	}
}

// WorkflowID returns the id of the owning transaction's workflow.
func (c *EventContext) WorkflowID() string {
	return c.workflowID
}

// QueueEvent appends an event to the pending queue. Queue order is
// publish order.
func (c *EventContext) QueueEvent(event shared.DomainEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, event)
}

// PendingEvents returns a snapshot of the queue.
func (c *EventContext) PendingEvents() []shared.DomainEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]shared.DomainEvent, len(c.pending))
	copy(snapshot, c.pending)
	return snapshot
}

// PendingEventCount returns the number of queued events.
func (c *EventContext) PendingEventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ClearPendingEvents drops every queued event.
func (c *EventContext) ClearPendingEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

// SetMetadata stores a named value for adapters to share.
func (c *EventContext) SetMetadata(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Metadata returns a previously stored value.
func (c *EventContext) Metadata(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// WithEventContext installs the event context in the context chain.
func WithEventContext(ctx context.Context, ec *EventContext) context.Context {
	return context.WithValue(ctx, eventContextKey{}, ec)
}

// EventsFromContext extracts the ambient event context. Repository and
// service code uses this to queue events without holding a reference to
// the transaction.
func EventsFromContext(ctx context.Context) (*EventContext, bool) {
	ec, ok := ctx.Value(eventContextKey{}).(*EventContext)
	return ec, ok && ec != nil
}

// QueueEvent queues an event on the ambient transaction, reporting whether
// a transaction was active.
func QueueEvent(ctx context.Context, event shared.DomainEvent) bool {
	ec, ok := EventsFromContext(ctx)
	if !ok {
		return false
	}
	ec.QueueEvent(event)
	return true
}
