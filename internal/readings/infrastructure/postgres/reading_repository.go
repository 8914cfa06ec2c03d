package postgres

import (
	"context"
	"database/sql"
	"errors"

	readings "coldchain-cloud/internal/readings/domain"
)

const defaultReadingsTable = "readings"

// ReadingRepository is a Postgres repository for ingested readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// InsertReadings writes a batch in one transaction. Re-delivered readings
// (same unit, timestamp and source) are idempotent upserts.
func (r *ReadingRepository) InsertReadings(ctx context.Context, batch []readings.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if len(batch) == 0 {
		return nil
	}

	query := `
INSERT INTO ` + r.table + ` (
	tenant_id,
	unit_id,
	temperature,
	recorded_at,
	source,
	humidity,
	battery,
	signal
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (unit_id, recorded_at, source)
DO UPDATE SET
	temperature = EXCLUDED.temperature,
	humidity = EXCLUDED.humidity,
	battery = EXCLUDED.battery,
	signal = EXCLUDED.signal`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, reading := range batch {
		if reading.TenantID == "" || reading.UnitID == "" || reading.RecordedAt.IsZero() {
			_ = tx.Rollback()
			return errors.New("reading repo: invalid reading")
		}
		if _, err := stmt.ExecContext(
			ctx,
			reading.TenantID,
			reading.UnitID,
			int64(reading.Temperature),
			reading.RecordedAt,
			reading.Source,
			nullableFloat(reading.Humidity),
			nullableFloat(reading.Battery),
			nullableFloat(reading.Signal),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
