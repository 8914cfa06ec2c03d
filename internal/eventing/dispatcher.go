package eventing

import (
	"context"
)

// Dispatcher drains pending outbox rows onto the in-process bus. A row
// that cannot be decoded or delivered is marked failed and copied to the
// dead letter store; the rest of the batch keeps going.
type Dispatcher struct {
	bus      EventBus
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore
}

// EventBus is the minimal publish interface the dispatcher needs.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore keeps events that could not be delivered.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord is one pending outbox row.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore) *Dispatcher {
	return &Dispatcher{bus: bus, outbox: outbox, registry: registry, dlq: dlq}
}

// Dispatch delivers up to limit pending events.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) error {
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}
	pending, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		return err
	}

	for _, rec := range pending {
		if err := d.deliver(ctx, rec); err != nil {
			_ = d.outbox.MarkFailed(ctx, rec.ID)
			if d.dlq != nil {
				_ = d.dlq.RecordFailure(ctx, rec.Envelope, err)
			}
			continue
		}
		_ = d.outbox.MarkSent(ctx, rec.ID)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, rec OutboxRecord) error {
	payload, err := d.registry.DecodePayload(rec.Envelope)
	if err != nil {
		return err
	}
	return d.bus.Publish(WithEnvelope(ctx, rec.Envelope), payload)
}
