package events

import (
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	units "coldchain-cloud/internal/units/domain"
)

// AlertRaised is published after a new alert commits.
type AlertRaised struct {
	EventID    string       `json:"event_id"`
	TenantID   string       `json:"tenant_id"`
	UnitID     string       `json:"unit_id"`
	Alert      alerts.Alert `json:"alert"`
	From       units.Status `json:"from"`
	To         units.Status `json:"to"`
	Reason     string       `json:"reason"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// AlertEscalated is published after an alert escalates to critical.
type AlertEscalated struct {
	EventID    string       `json:"event_id"`
	TenantID   string       `json:"tenant_id"`
	UnitID     string       `json:"unit_id"`
	Alert      alerts.Alert `json:"alert"`
	From       units.Status `json:"from"`
	To         units.Status `json:"to"`
	Reason     string       `json:"reason"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// AlertResolved is published after an alert closes.
type AlertResolved struct {
	EventID    string       `json:"event_id"`
	TenantID   string       `json:"tenant_id"`
	UnitID     string       `json:"unit_id"`
	Alert      alerts.Alert `json:"alert"`
	From       units.Status `json:"from"`
	To         units.Status `json:"to"`
	Reason     string       `json:"reason"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// AlertAcknowledged is published when an operator acknowledges an alert.
type AlertAcknowledged struct {
	EventID    string       `json:"event_id"`
	TenantID   string       `json:"tenant_id"`
	UnitID     string       `json:"unit_id"`
	Alert      alerts.Alert `json:"alert"`
	Actor      string       `json:"actor"`
	OccurredAt time.Time    `json:"occurred_at"`
}
