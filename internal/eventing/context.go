package eventing

import "context"

type ctxKey string

const (
	ctxKeyEnvelope      ctxKey = "coldchain.eventing.envelope"
	ctxKeyTenantID      ctxKey = "coldchain.eventing.tenant_id"
	ctxKeyCorrelationID ctxKey = "coldchain.eventing.correlation_id"
	ctxKeyEventID       ctxKey = "coldchain.eventing.event_id"
)

// WithEnvelope makes the delivery envelope visible to handlers running
// under the dispatcher.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, ctxKeyEnvelope, env)
}

// EnvelopeFromContext returns the delivery envelope, if the context comes
// from a dispatch.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(ctxKeyEnvelope).(Envelope)
	return env, ok
}

// WithTenantID pins the tenant the next published event belongs to.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKeyTenantID, tenantID)
}

// WithCorrelationID threads a correlation id through subsequent publishes.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, correlationID)
}

// WithEventID fixes the id of the next published event, which makes a
// publish deterministic for retries.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, ctxKeyEventID, eventID)
}

// MetaFromContext collects publish metadata from the context. The tenant
// falls back to the service default when the context carries none.
func MetaFromContext(ctx context.Context, defaultTenantID string) Meta {
	meta := Meta{}
	if tenantID, ok := ctx.Value(ctxKeyTenantID).(string); ok {
		meta.TenantID = tenantID
	}
	if meta.TenantID == "" {
		meta.TenantID = defaultTenantID
	}
	if correlationID, ok := ctx.Value(ctxKeyCorrelationID).(string); ok {
		meta.CorrelationID = correlationID
	}
	if eventID, ok := ctx.Value(ctxKeyEventID).(string); ok {
		meta.EventID = eventID
	}
	return meta
}
