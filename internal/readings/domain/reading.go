package readings

import (
	"context"
	"time"

	units "coldchain-cloud/internal/units/domain"
)

// Reading is an immutable ingested sensor fact. The engine never updates
// or deletes readings.
type Reading struct {
	TenantID    string            `json:"tenant_id"`
	UnitID      string            `json:"unit_id"`
	Temperature units.Temperature `json:"temperature"`
	RecordedAt  time.Time         `json:"recorded_at"`
	Source      string            `json:"source,omitempty"`

	Humidity *float64 `json:"humidity,omitempty"`
	Battery  *float64 `json:"battery,omitempty"`
	Signal   *float64 `json:"signal,omitempty"`
}

// Repository persists reading batches.
type Repository interface {
	InsertReadings(ctx context.Context, batch []Reading) error
}
