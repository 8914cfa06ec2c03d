package interfaces

import (
	"context"
	"errors"
	"time"

	"coldchain-cloud/internal/alerts/application/events"
	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/alerts/notify"
	"coldchain-cloud/internal/eventing"
	"coldchain-cloud/internal/eventing/eventbus"
	"coldchain-cloud/internal/observability/metrics"
)

// AlertEventConsumer adapts alert lifecycle events into outbound notifications.
type AlertEventConsumer struct {
	notifier notify.AlertNotifier
}

// NewAlertEventConsumer constructs a consumer.
func NewAlertEventConsumer(notifier notify.AlertNotifier) (*AlertEventConsumer, error) {
	if notifier == nil {
		return nil, errors.New("alert consumer: nil notifier")
	}
	return &AlertEventConsumer{notifier: notifier}, nil
}

// HandleRaised delivers a notification for a newly opened alert.
func (c *AlertEventConsumer) HandleRaised(ctx context.Context, event any) error {
	evt, ok := event.(events.AlertRaised)
	if !ok {
		return eventbus.ErrInvalidEventType
	}
	c.deliver(ctx, "raised", evt.Alert, evt.OccurredAt)
	return nil
}

// HandleEscalated delivers a notification for an escalated alert.
func (c *AlertEventConsumer) HandleEscalated(ctx context.Context, event any) error {
	evt, ok := event.(events.AlertEscalated)
	if !ok {
		return eventbus.ErrInvalidEventType
	}
	c.deliver(ctx, "escalated", evt.Alert, evt.OccurredAt)
	return nil
}

// HandleResolved delivers a notification for a resolved alert.
func (c *AlertEventConsumer) HandleResolved(ctx context.Context, event any) error {
	evt, ok := event.(events.AlertResolved)
	if !ok {
		return eventbus.ErrInvalidEventType
	}
	c.deliver(ctx, "resolved", evt.Alert, evt.OccurredAt)
	return nil
}

// HandleAcknowledged delivers a notification for an acknowledged alert.
func (c *AlertEventConsumer) HandleAcknowledged(ctx context.Context, event any) error {
	evt, ok := event.(events.AlertAcknowledged)
	if !ok {
		return eventbus.ErrInvalidEventType
	}
	c.deliver(ctx, "acknowledged", evt.Alert, evt.OccurredAt)
	return nil
}

func (c *AlertEventConsumer) deliver(ctx context.Context, eventType string, alert alerts.Alert, occurredAt time.Time) {
	if !occurredAt.IsZero() {
		metrics.ObserveConsumerLag("alerts.notify", time.Since(occurredAt))
	}
	c.notifier.Notify(ctx, notify.AlertEvent{Type: eventType, Alert: alert})
}

// RegisterSubscriptions wires the consumer onto the bus with idempotent handling.
func RegisterSubscriptions(bus eventbus.EventBus, consumer *AlertEventConsumer, store eventing.ProcessedStore) error {
	if bus == nil {
		return errors.New("alert consumer: nil bus")
	}
	if consumer == nil {
		return errors.New("alert consumer: nil consumer")
	}
	eventing.Subscribe(bus, eventbus.EventTypeOf[events.AlertRaised](), "alerts.notify.raised", consumer.HandleRaised, store)
	eventing.Subscribe(bus, eventbus.EventTypeOf[events.AlertEscalated](), "alerts.notify.escalated", consumer.HandleEscalated, store)
	eventing.Subscribe(bus, eventbus.EventTypeOf[events.AlertResolved](), "alerts.notify.resolved", consumer.HandleResolved, store)
	eventing.Subscribe(bus, eventbus.EventTypeOf[events.AlertAcknowledged](), "alerts.notify.acknowledged", consumer.HandleAcknowledged, store)
	return nil
}
