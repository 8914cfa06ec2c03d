package alerts

import (
	"errors"
	"time"

	units "coldchain-cloud/internal/units/domain"
)

// Scope identifies the single level an alert rule binds to.
type Scope string

const (
	ScopeUnit Scope = "unit"
	ScopeSite Scope = "site"
	ScopeOrg  Scope = "org"
)

// Valid returns true when the scope is supported.
func (s Scope) Valid() bool {
	switch s {
	case ScopeUnit, ScopeSite, ScopeOrg:
		return true
	default:
		return false
	}
}

// AlertRule overrides thresholds for exactly one of unit, site or org.
// The most specific enabled rule supplies the complete threshold set;
// levels are never merged field by field.
type AlertRule struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"`
	Scope             Scope             `json:"scope"`
	ScopeID           string            `json:"scope_id"`
	Name              string            `json:"name"`
	TempMin           units.Temperature `json:"temp_min"`
	TempMax           units.Temperature `json:"temp_max"`
	ConfirmTimeOpen   time.Duration     `json:"confirm_time_open"`
	ConfirmTimeClosed time.Duration     `json:"confirm_time_closed"`
	Enabled           bool              `json:"enabled"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Validate checks rule invariants.
func (r AlertRule) Validate() error {
	if r.ID == "" {
		return errors.New("alert rule: empty id")
	}
	if r.TenantID == "" {
		return errors.New("alert rule: empty tenant id")
	}
	if !r.Scope.Valid() {
		return errors.New("alert rule: invalid scope")
	}
	if r.ScopeID == "" {
		return errors.New("alert rule: empty scope id")
	}
	if r.Name == "" {
		return errors.New("alert rule: empty name")
	}
	if r.TempMin >= r.TempMax {
		return errors.New("alert rule: temp_min must be below temp_max")
	}
	return nil
}

// ThresholdSource records which resolution level supplied the thresholds.
type ThresholdSource string

const (
	SourceUnitRule ThresholdSource = "unit_rule"
	SourceSiteRule ThresholdSource = "site_rule"
	SourceOrgRule  ThresholdSource = "org_rule"
	SourceBaseline ThresholdSource = "baseline"
)

// Thresholds is the effective limit set for one evaluation.
type Thresholds struct {
	TempMin           units.Temperature `json:"temp_min"`
	TempMax           units.Temperature `json:"temp_max"`
	Hysteresis        units.Temperature `json:"hysteresis"`
	ConfirmTimeOpen   time.Duration     `json:"confirm_time_open"`
	ConfirmTimeClosed time.Duration     `json:"confirm_time_closed"`
	Source            ThresholdSource   `json:"source"`
	RuleID            string            `json:"rule_id,omitempty"`
}

// ConfirmTime selects the confirmation delay for the door state.
func (t Thresholds) ConfirmTime(doorOpen bool) time.Duration {
	if doorOpen {
		return t.ConfirmTimeOpen
	}
	return t.ConfirmTimeClosed
}
