package application

import (
	"context"
	"errors"
	"testing"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	units "coldchain-cloud/internal/units/domain"
)

type stubRuleReader struct {
	rules map[string][]alerts.AlertRule
	err   error
}

func (s stubRuleReader) FindEnabledByScope(_ context.Context, _ string, scope alerts.Scope, scopeID string) ([]alerts.AlertRule, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rules[string(scope)+"/"+scopeID], nil
}

func resolverUnit() *units.Unit {
	return &units.Unit{
		ID:       "unit-1",
		TenantID: "tenant-1",
		OrgID:    "org-1",
		SiteID:   "site-1",
		Name:     "Walk-in Freezer A",
	}
}

func ruleFor(scope alerts.Scope, scopeID, id string, min, max units.Temperature) alerts.AlertRule {
	return alerts.AlertRule{
		ID:                id,
		TenantID:          "tenant-1",
		Scope:             scope,
		ScopeID:           scopeID,
		Name:              id,
		TempMin:           min,
		TempMax:           max,
		ConfirmTimeOpen:   5 * time.Minute,
		ConfirmTimeClosed: 5 * time.Minute,
		Enabled:           true,
	}
}

func TestResolveUnitRuleWinsOverSiteAndOrg(t *testing.T) {
	reader := stubRuleReader{rules: map[string][]alerts.AlertRule{
		"unit/unit-1": {ruleFor(alerts.ScopeUnit, "unit-1", "rule-unit", 20, 40)},
		"site/site-1": {ruleFor(alerts.ScopeSite, "site-1", "rule-site", 10, 50)},
		"org/org-1":   {ruleFor(alerts.ScopeOrg, "org-1", "rule-org", 0, 60)},
	}}
	resolver, err := NewThresholdResolver(reader, 5, 10*time.Minute)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	thresholds, err := resolver.Resolve(context.Background(), resolverUnit())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if thresholds.Source != alerts.SourceUnitRule {
		t.Fatalf("expected unit rule source, got %s", thresholds.Source)
	}
	if thresholds.RuleID != "rule-unit" {
		t.Fatalf("expected rule-unit, got %s", thresholds.RuleID)
	}
	if thresholds.TempMin != 20 || thresholds.TempMax != 40 {
		t.Fatalf("unexpected range %d..%d", thresholds.TempMin, thresholds.TempMax)
	}
	if thresholds.Hysteresis != 5 {
		t.Fatalf("expected hysteresis 5, got %d", thresholds.Hysteresis)
	}
}

func TestResolveSiteRuleWinsOverOrg(t *testing.T) {
	reader := stubRuleReader{rules: map[string][]alerts.AlertRule{
		"site/site-1": {ruleFor(alerts.ScopeSite, "site-1", "rule-site", 10, 50)},
		"org/org-1":   {ruleFor(alerts.ScopeOrg, "org-1", "rule-org", 0, 60)},
	}}
	resolver, err := NewThresholdResolver(reader, 5, 10*time.Minute)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	thresholds, err := resolver.Resolve(context.Background(), resolverUnit())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if thresholds.Source != alerts.SourceSiteRule || thresholds.RuleID != "rule-site" {
		t.Fatalf("expected site rule, got %s/%s", thresholds.Source, thresholds.RuleID)
	}
}

func TestResolveRuleWinsWhole(t *testing.T) {
	// A unit rule with zero confirm fields must not inherit the site rule's
	// confirm times, only the engine default.
	rule := ruleFor(alerts.ScopeUnit, "unit-1", "rule-unit", 20, 40)
	rule.ConfirmTimeOpen = 0
	rule.ConfirmTimeClosed = 0
	reader := stubRuleReader{rules: map[string][]alerts.AlertRule{
		"unit/unit-1": {rule},
		"site/site-1": {ruleFor(alerts.ScopeSite, "site-1", "rule-site", 10, 50)},
	}}
	resolver, err := NewThresholdResolver(reader, 5, 10*time.Minute)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	thresholds, err := resolver.Resolve(context.Background(), resolverUnit())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if thresholds.ConfirmTimeOpen != 10*time.Minute {
		t.Fatalf("expected default confirm open, got %s", thresholds.ConfirmTimeOpen)
	}
	if thresholds.ConfirmTimeClosed != 10*time.Minute {
		t.Fatalf("expected default confirm closed, got %s", thresholds.ConfirmTimeClosed)
	}
}

func TestResolveFallsBackToBaseline(t *testing.T) {
	resolver, err := NewThresholdResolver(stubRuleReader{}, 5, 10*time.Minute)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	unit := resolverUnit()
	tempMin := units.Temperature(320)
	tempMax := units.Temperature(400)
	unit.BaselineTempMin = &tempMin
	unit.BaselineTempMax = &tempMax

	thresholds, err := resolver.Resolve(context.Background(), unit)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if thresholds.Source != alerts.SourceBaseline {
		t.Fatalf("expected baseline source, got %s", thresholds.Source)
	}
	if thresholds.TempMin != 320 || thresholds.TempMax != 400 {
		t.Fatalf("unexpected range %d..%d", thresholds.TempMin, thresholds.TempMax)
	}
	if thresholds.ConfirmTimeOpen != 10*time.Minute {
		t.Fatalf("expected default confirm, got %s", thresholds.ConfirmTimeOpen)
	}
}

func TestResolveMisconfiguredWithoutRuleOrBaseline(t *testing.T) {
	resolver, err := NewThresholdResolver(stubRuleReader{}, 5, 10*time.Minute)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	_, err = resolver.Resolve(context.Background(), resolverUnit())
	if !errors.Is(err, alerts.ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
}

func TestResolvePropagatesReaderError(t *testing.T) {
	readerErr := errors.New("db down")
	resolver, err := NewThresholdResolver(stubRuleReader{err: readerErr}, 5, 10*time.Minute)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	_, err = resolver.Resolve(context.Background(), resolverUnit())
	if !errors.Is(err, readerErr) {
		t.Fatalf("expected reader error, got %v", err)
	}
}

func TestResolveDefaultConfirmFallback(t *testing.T) {
	resolver, err := NewThresholdResolver(stubRuleReader{}, 5, 0)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	unit := resolverUnit()
	tempMin := units.Temperature(320)
	tempMax := units.Temperature(400)
	unit.BaselineTempMin = &tempMin
	unit.BaselineTempMax = &tempMax

	thresholds, err := resolver.Resolve(context.Background(), unit)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if thresholds.ConfirmTimeOpen != 600*time.Second {
		t.Fatalf("expected 600s default confirm, got %s", thresholds.ConfirmTimeOpen)
	}
}
