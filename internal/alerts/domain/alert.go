package alerts

import (
	"encoding/json"
	"time"

	units "coldchain-cloud/internal/units/domain"
)

const (
	StatusActive       = "active"
	StatusAcknowledged = "acknowledged"
	StatusEscalated    = "escalated"
	StatusResolved     = "resolved"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// TypeAlarmActive is the alert category for the temperature excursion cycle.
const TypeAlarmActive = "alarm_active"

// Violation names which threshold bound a reading crossed.
type Violation string

const (
	ViolationNone Violation = ""
	ViolationMin  Violation = "min"
	ViolationMax  Violation = "max"
)

// OpenStatuses is the status class that makes an alert "open": at most one
// alert per (unit, alertType) may hold one of these at a time.
var OpenStatuses = []string{StatusActive, StatusAcknowledged, StatusEscalated}

// Alert is one open-or-closed excursion episode. Rows are never deleted;
// a new episode after resolution opens a new row.
type Alert struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"`
	UnitID            string            `json:"unit_id"`
	AlertType         string            `json:"alert_type"`
	Severity          string            `json:"severity"`
	Status            string            `json:"status"`
	ThresholdViolated Violation         `json:"threshold_violated,omitempty"`
	TriggeredAt       time.Time         `json:"triggered_at"`
	EscalatedAt       time.Time         `json:"escalated_at,omitempty"`
	AckedAt           time.Time         `json:"acked_at,omitempty"`
	ResolvedAt        time.Time         `json:"resolved_at,omitempty"`
	LastTemperature   units.Temperature `json:"last_temperature"`
	Metadata          json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Open reports whether the alert still counts against the dedup invariant.
func (a Alert) Open() bool {
	switch a.Status {
	case StatusActive, StatusAcknowledged, StatusEscalated:
		return true
	default:
		return false
	}
}
