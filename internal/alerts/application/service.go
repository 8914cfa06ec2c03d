package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"coldchain-cloud/internal/alerts/application/events"
	alerts "coldchain-cloud/internal/alerts/domain"
	alertrepo "coldchain-cloud/internal/alerts/infrastructure/postgres"
	"coldchain-cloud/internal/auth"
	"coldchain-cloud/internal/eventing"
	"coldchain-cloud/internal/observability/metrics"
)

// EventPublisher publishes alert lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Service handles the operator side of the alert lifecycle: acknowledge,
// manual resolve, listing and rule administration.
type Service struct {
	alerts    *alertrepo.AlertRepository
	rules     *alertrepo.AlertRuleRepository
	publisher EventPublisher
	clock     Clock
	tenantID  string
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithPublisher assigns an event publisher.
func WithPublisher(publisher EventPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs an alert service.
func NewService(alertsRepo *alertrepo.AlertRepository, rules *alertrepo.AlertRuleRepository, tenantID string, opts ...ServiceOption) (*Service, error) {
	if alertsRepo == nil || rules == nil {
		return nil, errors.New("alerts: nil repository")
	}
	if tenantID == "" {
		return nil, errors.New("alerts: empty tenant id")
	}
	service := &Service{
		alerts:   alertsRepo,
		rules:    rules,
		tenantID: tenantID,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// AckAlert acknowledges an open alert.
func (s *Service) AckAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if id == "" {
		return nil, errors.New("alerts: alert id required")
	}
	tenantID := s.callerTenant(ctx)
	alert, err := s.alerts.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	if alert.Status == alerts.StatusResolved {
		return alert, nil
	}
	if alert.Status != alerts.StatusAcknowledged {
		ackedAt := s.clock.Now().UTC()
		if err := s.alerts.MarkAcknowledged(ctx, alert.ID, ackedAt); err != nil {
			return nil, err
		}
		alert.Status = alerts.StatusAcknowledged
		alert.AckedAt = ackedAt
		alert.UpdatedAt = ackedAt
		s.publish(ctx, events.AlertAcknowledged{
			EventID:    eventing.NewEventID(),
			TenantID:   alert.TenantID,
			UnitID:     alert.UnitID,
			Alert:      *alert,
			Actor:      auth.SubjectFromContext(ctx),
			OccurredAt: ackedAt,
		})
		metrics.IncAlertEvent("acknowledged")
	}
	return alert, nil
}

// ResolveAlert closes an alert manually, regardless of the current reading.
func (s *Service) ResolveAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if id == "" {
		return nil, errors.New("alerts: alert id required")
	}
	tenantID := s.callerTenant(ctx)
	alert, err := s.alerts.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	if alert.Status == alerts.StatusResolved {
		return alert, nil
	}
	resolvedAt := s.clock.Now().UTC()
	if err := s.alerts.MarkResolved(ctx, alert.ID, alert.LastTemperature, resolvedAt); err != nil {
		return nil, err
	}
	alert.Status = alerts.StatusResolved
	alert.ResolvedAt = resolvedAt
	alert.UpdatedAt = resolvedAt
	s.publish(ctx, events.AlertResolved{
		EventID:    eventing.NewEventID(),
		TenantID:   alert.TenantID,
		UnitID:     alert.UnitID,
		Alert:      *alert,
		Reason:     "manual_resolve",
		OccurredAt: resolvedAt,
	})
	metrics.IncAlertEvent("resolved")
	return alert, nil
}

// ListAlerts returns alerts by unit, optional status and time window.
func (s *Service) ListAlerts(ctx context.Context, unitID, status string, from, to time.Time) ([]alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if unitID == "" {
		return nil, errors.New("alerts: unit id required")
	}
	return s.alerts.ListByUnitStatusAndTime(ctx, s.callerTenant(ctx), unitID, status, from.UTC(), to.UTC())
}

// ListForExport returns a tenant's alerts within a time window.
func (s *Service) ListForExport(ctx context.Context, from, to time.Time) ([]alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	return s.alerts.ListByTenantAndTime(ctx, s.callerTenant(ctx), from.UTC(), to.UTC())
}

// CreateRule validates and stores a new alert rule.
func (s *Service) CreateRule(ctx context.Context, rule *alerts.AlertRule) error {
	if s == nil {
		return errors.New("alerts: nil service")
	}
	if rule == nil {
		return errors.New("alerts: nil rule")
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.TenantID == "" {
		rule.TenantID = s.callerTenant(ctx)
	}
	return s.rules.Create(ctx, rule)
}

// ListRules returns the tenant's rules.
func (s *Service) ListRules(ctx context.Context) ([]alerts.AlertRule, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	return s.rules.List(ctx, s.callerTenant(ctx))
}

func (s *Service) callerTenant(ctx context.Context) string {
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		tenantID = s.tenantID
	}
	return tenantID
}

func (s *Service) publish(ctx context.Context, event any) {
	if s == nil || s.publisher == nil {
		return
	}
	_ = s.publisher.Publish(ctx, event)
}
