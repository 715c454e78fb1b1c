package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"katalyst/internal/domain/shared"
	apperrors "katalyst/internal/errors"
	"katalyst/internal/repository"
	"katalyst/internal/transaction"

	"go.uber.org/zap"
)

// AdapterName identifies the events adapter in the registry.
const AdapterName = "Events"

// AdapterPriority orders the events adapter within each phase.
const AdapterPriority = 5

// TransactionAdapter publishes the transaction's queued events at commit
// time. Validation happens before commit so a bad event rolls the
// transaction back; publishing happens inside BEFORE_COMMIT so events only
// ever go out for transactions that are about to commit, with dedup marks
// keeping retries at-most-once per event id.
type TransactionAdapter struct {
	bus       shared.EventBus
	dedup     repository.PublishedEventRepository
	validator Validator
	logger    *zap.Logger
}

// NewTransactionAdapter wires the events adapter.
func NewTransactionAdapter(bus shared.EventBus, dedup repository.PublishedEventRepository, validator Validator, logger *zap.Logger) *TransactionAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionAdapter{bus: bus, dedup: dedup, validator: validator, logger: logger}
}

func (a *TransactionAdapter) Name() string { return AdapterName }

func (a *TransactionAdapter) Priority() int { return AdapterPriority }

// IsCritical is true: a validation failure must roll the transaction back.
func (a *TransactionAdapter) IsCritical() bool { return true }

// OnPhase reacts to validation, commit and rollback; every other phase is
// a no-op.
func (a *TransactionAdapter) OnPhase(ctx context.Context, phase transaction.Phase, events *transaction.EventContext) error {
	switch phase {
	case transaction.PhaseBeforeCommitValidation:
		return a.validatePending(events)
	case transaction.PhaseBeforeCommit:
		return a.publishPending(ctx, events)
	case transaction.PhaseOnRollback:
		events.ClearPendingEvents()
		return nil
	default:
		return nil
	}
}

// validatePending validates every queued event and aggregates the failures.
func (a *TransactionAdapter) validatePending(events *transaction.EventContext) error {
	var failures []ValidationResult
	for _, event := range events.PendingEvents() {
		result := a.validator.Validate(event)
		if !result.IsValid {
			failures = append(failures, result)
		}
	}
	if len(failures) == 0 {
		return nil
	}

	descriptions := make([]string, len(failures))
	for i, f := range failures {
		descriptions[i] = fmt.Sprintf("%s (%s): %s", f.EventType, f.EventID, f.Error)
	}
	return apperrors.New(apperrors.KindEventValidation,
		fmt.Sprintf("%d event(s) failed validation: %s", len(failures), strings.Join(descriptions, "; "))).
		WithDetail("failures", failures)
}

// publishPending publishes queued events in queue order, skipping ids the
// dedup store already knows. A publish failure is logged and the loop
// continues; the transaction still commits.
func (a *TransactionAdapter) publishPending(ctx context.Context, events *transaction.EventContext) error {
	pending := events.PendingEvents()
	defer events.ClearPendingEvents()

	for _, event := range pending {
		published, err := a.dedup.IsEventPublished(ctx, event.EventID())
		if err != nil {
			a.logger.Warn("dedup lookup failed, publishing anyway",
				zap.String("event_id", event.EventID()),
				zap.Error(err))
		}
		if published {
			a.logger.Debug("skipping already-published event",
				zap.String("event_id", event.EventID()),
				zap.String("event_type", event.EventType()))
			continue
		}

		if pubErr := a.bus.Publish(ctx, event); pubErr != nil {
			a.logger.Error("event publish failed",
				zap.String("event_id", event.EventID()),
				zap.String("event_type", event.EventType()),
				zap.String("workflow_id", events.WorkflowID()),
				zap.Error(pubErr))
		}

		if markErr := a.dedup.MarkAsPublished(ctx, event.EventID(), time.Now()); markErr != nil {
			a.logger.Warn("failed to mark event as published",
				zap.String("event_id", event.EventID()),
				zap.Error(markErr))
		}
	}
	return nil
}
