// Package events provides event bus decorators used by the worker wiring.
package events

import (
	"context"
	"time"

	"katalyst/internal/domain/shared"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerBus wraps an event bus with a circuit breaker. When the bus keeps
// failing, the breaker opens and publishes fail fast instead of stacking
// timeouts inside commit paths. An open breaker surfaces as an ordinary
// publish error, which the commit-time adapter logs and rides over.
type BreakerBus struct {
	inner   shared.EventBus
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerBus wraps inner. The breaker trips after five consecutive
// failures and probes again after 30 seconds.
func NewBreakerBus(inner shared.EventBus, logger *zap.Logger) *BreakerBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:    "event-bus",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("event bus breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerBus{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Publish delivers through the breaker.
func (b *BreakerBus) Publish(ctx context.Context, event shared.DomainEvent) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.inner.Publish(ctx, event)
	})
	return err
}

// HasHandlers delegates to the wrapped bus; it is a pure predicate and
// never trips the breaker.
func (b *BreakerBus) HasHandlers(event shared.DomainEvent) bool {
	return b.inner.HasHandlers(event)
}
