package units

import (
	"context"
	"errors"
	"time"
)

// Status is the monitoring status of a unit.
type Status string

const (
	StatusOK          Status = "ok"
	StatusExcursion   Status = "excursion"
	StatusAlarmActive Status = "alarm_active"
	StatusRestoring   Status = "restoring"

	// Statuses below are set by external collaborators (heartbeat watchdog,
	// manual workflows). The alert engine never writes or clears them.
	StatusMonitoringInterrupted Status = "monitoring_interrupted"
	StatusManualRequired        Status = "manual_required"
	StatusOffline               Status = "offline"
)

// Valid returns true for a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusExcursion, StatusAlarmActive, StatusRestoring,
		StatusMonitoringInterrupted, StatusManualRequired, StatusOffline:
		return true
	default:
		return false
	}
}

// EngineDriven returns true when the alert engine owns transitions out of
// this status.
func (s Status) EngineDriven() bool {
	switch s {
	case StatusOK, StatusExcursion, StatusAlarmActive:
		return true
	default:
		return false
	}
}

// Unit is a monitored physical asset (e.g. a refrigeration unit).
type Unit struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	OrgID    string `json:"org_id"`
	SiteID   string `json:"site_id"`
	AreaID   string `json:"area_id,omitempty"`
	Name     string `json:"name"`

	// Baseline limits apply when no alert rule overrides them. Nil means
	// the unit has no baseline at that bound.
	BaselineTempMin *Temperature `json:"baseline_temp_min,omitempty"`
	BaselineTempMax *Temperature `json:"baseline_temp_max,omitempty"`

	Status             Status    `json:"status"`
	DoorOpen           bool      `json:"door_open"`
	LastStatusChangeAt time.Time `json:"last_status_change_at,omitempty"`

	// Reading cache, refreshed on every ingested reading regardless of
	// alert outcome.
	LastReadingAt   time.Time    `json:"last_reading_at,omitempty"`
	LastTemperature *Temperature `json:"last_temperature,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasBaseline returns true when both baseline limits are configured.
func (u Unit) HasBaseline() bool {
	return u.BaselineTempMin != nil && u.BaselineTempMax != nil
}

// ErrNotFound indicates a missing unit record.
var ErrNotFound = errors.New("unit: not found")

// Reader loads unit records.
type Reader interface {
	Get(ctx context.Context, id string) (*Unit, error)
}
