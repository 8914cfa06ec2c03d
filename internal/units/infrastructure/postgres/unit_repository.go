package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	units "coldchain-cloud/internal/units/domain"
)

// DBTX is the query surface shared by *sql.DB and *sql.Tx, so repositories
// can run either standalone or inside a coordinator transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const unitColumns = `id, tenant_id, org_id, site_id, area_id, name,
	baseline_temp_min, baseline_temp_max, status, door_open,
	last_status_change_at, last_reading_at, last_temperature, created_at, updated_at`

// UnitRepository is a Postgres repository for units.
type UnitRepository struct {
	db DBTX
}

// NewUnitRepository constructs a repository.
func NewUnitRepository(db DBTX) *UnitRepository {
	return &UnitRepository{db: db}
}

// Get fetches a unit by id.
func (r *UnitRepository) Get(ctx context.Context, id string) (*units.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if id == "" {
		return nil, errors.New("unit repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+unitColumns+`
FROM units
WHERE id = $1`, id)
	return scanUnit(row)
}

// GetForUpdate fetches a unit inside the caller's transaction with a row
// lock, serializing concurrent evaluations for the same unit.
func (r *UnitRepository) GetForUpdate(ctx context.Context, id string) (*units.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if id == "" {
		return nil, errors.New("unit repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+unitColumns+`
FROM units
WHERE id = $1
FOR UPDATE`, id)
	return scanUnit(row)
}

// Create inserts a unit.
func (r *UnitRepository) Create(ctx context.Context, unit *units.Unit) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	if unit == nil {
		return errors.New("unit repo: nil unit")
	}
	if unit.ID == "" || unit.TenantID == "" || unit.OrgID == "" {
		return errors.New("unit repo: missing fields")
	}
	if unit.Status == "" {
		unit.Status = units.StatusOK
	}
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = time.Now().UTC()
	}
	if unit.UpdatedAt.IsZero() {
		unit.UpdatedAt = unit.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO units (
	id, tenant_id, org_id, site_id, area_id, name,
	baseline_temp_min, baseline_temp_max, status, door_open,
	last_status_change_at, last_reading_at, last_temperature, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10,
	$11, $12, $13, $14, $15
)`,
		unit.ID,
		unit.TenantID,
		unit.OrgID,
		unit.SiteID,
		unit.AreaID,
		unit.Name,
		nullableTemp(unit.BaselineTempMin),
		nullableTemp(unit.BaselineTempMax),
		string(unit.Status),
		unit.DoorOpen,
		nullableTime(unit.LastStatusChangeAt),
		nullableTime(unit.LastReadingAt),
		nullableTemp(unit.LastTemperature),
		unit.CreatedAt,
		unit.UpdatedAt,
	)
	return err
}

// UpdateStatus writes the status and its transition anchor.
func (r *UnitRepository) UpdateStatus(ctx context.Context, id string, status units.Status, changedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE units
SET status = $1, last_status_change_at = $2, updated_at = $3
WHERE id = $4`, string(status), changedAt, changedAt, id)
	return err
}

// UpdateReadingCache refreshes the last-reading cache fields.
func (r *UnitRepository) UpdateReadingCache(ctx context.Context, id string, temperature units.Temperature, readAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE units
SET last_reading_at = $1, last_temperature = $2, updated_at = $3
WHERE id = $4`, readAt, int64(temperature), time.Now().UTC(), id)
	return err
}

type unitScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row unitScanner) (*units.Unit, error) {
	var unit units.Unit
	var status string
	var baselineMin, baselineMax, lastTemp sql.NullInt64
	var statusChangeAt, readingAt sql.NullTime
	if err := row.Scan(
		&unit.ID,
		&unit.TenantID,
		&unit.OrgID,
		&unit.SiteID,
		&unit.AreaID,
		&unit.Name,
		&baselineMin,
		&baselineMax,
		&status,
		&unit.DoorOpen,
		&statusChangeAt,
		&readingAt,
		&lastTemp,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	unit.Status = units.Status(status)
	unit.BaselineTempMin = tempFromNull(baselineMin)
	unit.BaselineTempMax = tempFromNull(baselineMax)
	unit.LastTemperature = tempFromNull(lastTemp)
	if statusChangeAt.Valid {
		unit.LastStatusChangeAt = statusChangeAt.Time.UTC()
	}
	if readingAt.Valid {
		unit.LastReadingAt = readingAt.Time.UTC()
	}
	unit.CreatedAt = unit.CreatedAt.UTC()
	unit.UpdatedAt = unit.UpdatedAt.UTC()
	return &unit, nil
}

func tempFromNull(value sql.NullInt64) *units.Temperature {
	if !value.Valid {
		return nil
	}
	temp := units.Temperature(value.Int64)
	return &temp
}

func nullableTemp(value *units.Temperature) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*value), Valid: true}
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
