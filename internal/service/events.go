package service

import (
	"context"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/pubsub"

	"github.com/rs/zerolog"
)

// Domain event types published to the events topic.
const (
	EventDownloadRecorded    = "usage.download_recorded"
	EventSubscriptionChanged = "subscription.status_changed"
	EventPlanChanged         = "subscription.plan_changed"
)

// eventEmitter publishes best-effort domain events; failures are logged and swallowed.
type eventEmitter struct {
	publisher pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

func newEventEmitter(publisher pubsub.Publisher, topic string, logger zerolog.Logger) eventEmitter {
	if publisher == nil {
		publisher = pubsub.NopPublisher{}
	}
	return eventEmitter{publisher: publisher, topic: topic, logger: logger}
}

func (e eventEmitter) emit(ctx context.Context, eventType, accountID string, data any) {
	if e.topic == "" {
		return
	}
	evt := pubsub.Event{Type: eventType, AccountID: accountID, OccurredAt: time.Now().UTC(), Data: data}
	if _, err := pubsub.PublishEvent(ctx, e.publisher, e.topic, evt); err != nil {
		e.logger.Warn().Err(err).Str("event_type", eventType).Str("account_id", accountID).Msg("Failed to publish domain event")
	}
}
