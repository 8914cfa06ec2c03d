package application

import (
	"context"
	"errors"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	units "coldchain-cloud/internal/units/domain"
)

// RuleReader loads enabled rules for one scope target.
type RuleReader interface {
	FindEnabledByScope(ctx context.Context, tenantID string, scope alerts.Scope, scopeID string) ([]alerts.AlertRule, error)
}

// ThresholdResolver picks the effective thresholds for a unit. The most
// specific enabled rule wins whole: unit, then site, then org, then the
// unit's baseline limits. Levels are never merged field by field.
type ThresholdResolver struct {
	rules          RuleReader
	hysteresis     units.Temperature
	defaultConfirm time.Duration
}

// NewThresholdResolver constructs a resolver.
func NewThresholdResolver(rules RuleReader, hysteresis units.Temperature, defaultConfirm time.Duration) (*ThresholdResolver, error) {
	if rules == nil {
		return nil, errors.New("resolver: nil rule reader")
	}
	if hysteresis < 0 {
		return nil, errors.New("resolver: negative hysteresis")
	}
	if defaultConfirm <= 0 {
		defaultConfirm = 600 * time.Second
	}
	return &ThresholdResolver{rules: rules, hysteresis: hysteresis, defaultConfirm: defaultConfirm}, nil
}

// Resolve returns the effective thresholds for the unit, or
// alerts.ErrMisconfigured when no rule applies and the unit carries no
// baseline limits.
func (r *ThresholdResolver) Resolve(ctx context.Context, unit *units.Unit) (alerts.Thresholds, error) {
	if r == nil || r.rules == nil {
		return alerts.Thresholds{}, errors.New("resolver: nil resolver")
	}
	if unit == nil {
		return alerts.Thresholds{}, errors.New("resolver: nil unit")
	}

	levels := []struct {
		scope   alerts.Scope
		scopeID string
		source  alerts.ThresholdSource
	}{
		{alerts.ScopeUnit, unit.ID, alerts.SourceUnitRule},
		{alerts.ScopeSite, unit.SiteID, alerts.SourceSiteRule},
		{alerts.ScopeOrg, unit.OrgID, alerts.SourceOrgRule},
	}

	for _, level := range levels {
		if level.scopeID == "" {
			continue
		}
		rules, err := r.rules.FindEnabledByScope(ctx, unit.TenantID, level.scope, level.scopeID)
		if err != nil {
			return alerts.Thresholds{}, err
		}
		if len(rules) == 0 {
			continue
		}
		rule := rules[0]
		return alerts.Thresholds{
			TempMin:           rule.TempMin,
			TempMax:           rule.TempMax,
			Hysteresis:        r.hysteresis,
			ConfirmTimeOpen:   durationOrDefault(rule.ConfirmTimeOpen, r.defaultConfirm),
			ConfirmTimeClosed: durationOrDefault(rule.ConfirmTimeClosed, r.defaultConfirm),
			Source:            level.source,
			RuleID:            rule.ID,
		}, nil
	}

	if !unit.HasBaseline() {
		return alerts.Thresholds{}, alerts.ErrMisconfigured
	}
	return alerts.Thresholds{
		TempMin:           *unit.BaselineTempMin,
		TempMax:           *unit.BaselineTempMax,
		Hysteresis:        r.hysteresis,
		ConfirmTimeOpen:   r.defaultConfirm,
		ConfirmTimeClosed: r.defaultConfirm,
		Source:            alerts.SourceBaseline,
	}, nil
}

func durationOrDefault(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
