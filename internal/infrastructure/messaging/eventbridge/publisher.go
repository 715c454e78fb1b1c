// Package eventbridge publishes committed domain events to AWS EventBridge.
// Subscriptions are managed externally through EventBridge rules; handler
// presence is answered from the configured detail-type set.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"katalyst/internal/domain/shared"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"
)

// Publisher implements the event bus over AWS EventBridge.
type Publisher struct {
	client       *eventbridge.Client
	eventBusName string
	source       string
	handledTypes map[string]struct{}
	logger       *zap.Logger
}

// NewPublisher creates an EventBridge publisher. handledTypes is the set of
// event types with configured rules; events of other types fail validation
// before commit instead of vanishing on the bus.
func NewPublisher(client *eventbridge.Client, eventBusName, source string, handledTypes []string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	handled := make(map[string]struct{}, len(handledTypes))
	for _, t := range handledTypes {
		handled[t] = struct{}{}
	}
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		source:       source,
		handledTypes: handled,
		logger:       logger,
	}
}

// envelope is the JSON detail shape put on the bus.
type envelope struct {
	EventID  string                 `json:"eventId"`
	Metadata shared.EventMetadata   `json:"metadata"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Publish sends one event to EventBridge.
func (p *Publisher) Publish(ctx context.Context, event shared.DomainEvent) error {
	detail, err := json.Marshal(envelope{
		EventID:  event.EventID(),
		Metadata: event.Metadata(),
		Data:     event.EventData(),
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventID(), err)
	}

	metadata := event.Metadata()
	entry := types.PutEventsRequestEntry{
		EventBusName: aws.String(p.eventBusName),
		Source:       aws.String(p.source),
		DetailType:   aws.String(event.EventType()),
		Detail:       aws.String(string(detail)),
		Time:         aws.Time(metadata.OccurredAt),
	}
	if metadata.AggregateID != "" {
		entry.Resources = []string{fmt.Sprintf("arn:katalyst::%s", metadata.AggregateID)}
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("publish event %s to EventBridge: %w", event.EventID(), err)
	}
	if result.FailedEntryCount > 0 {
		failed := result.Entries[0]
		p.logger.Error("EventBridge rejected event",
			zap.String("event_id", event.EventID()),
			zap.String("event_type", event.EventType()),
			zap.String("error_code", aws.ToString(failed.ErrorCode)),
			zap.String("error_message", aws.ToString(failed.ErrorMessage)))
		return fmt.Errorf("EventBridge rejected event %s: %s",
			event.EventID(), aws.ToString(failed.ErrorCode))
	}

	p.logger.Debug("event published",
		zap.String("event_id", event.EventID()),
		zap.String("event_type", event.EventType()),
		zap.String("event_bus", p.eventBusName))
	return nil
}

// HasHandlers reports whether a rule is configured for the event's type.
func (p *Publisher) HasHandlers(event shared.DomainEvent) bool {
	_, ok := p.handledTypes[event.EventType()]
	return ok
}
