package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	units "coldchain-cloud/internal/units/domain"
)

// DBTX is the query surface shared by *sql.DB and *sql.Tx, so repositories
// can run either standalone or inside a coordinator transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const alertColumns = `id, tenant_id, unit_id, alert_type, severity, status, threshold_violated,
	triggered_at, escalated_at, acked_at, resolved_at, last_temperature, metadata, created_at, updated_at`

// AlertRepository is a Postgres repository for alerts.
type AlertRepository struct {
	db DBTX
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a new alert.
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.TenantID == "" || alert.UnitID == "" || alert.AlertType == "" {
		return errors.New("alert repo: missing fields")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}
	metadata := alert.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, tenant_id, unit_id, alert_type, severity, status, threshold_violated,
	triggered_at, escalated_at, acked_at, resolved_at, last_temperature, metadata, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12, $13, $14, $15
)`,
		alert.ID,
		alert.TenantID,
		alert.UnitID,
		alert.AlertType,
		alert.Severity,
		alert.Status,
		string(alert.ThresholdViolated),
		alert.TriggeredAt,
		nullableTime(alert.EscalatedAt),
		nullableTime(alert.AckedAt),
		nullableTime(alert.ResolvedAt),
		int64(alert.LastTemperature),
		metadata,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	return err
}

// GetByID fetches an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, tenantID, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if tenantID == "" || id == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanAlert(row)
}

// FindOpenByUnitType returns open alerts for a unit and alert type, newest
// first. More than one row means the uniqueness guarantee was breached.
func (r *AlertRepository) FindOpenByUnitType(ctx context.Context, tenantID, unitID, alertType string) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if tenantID == "" || unitID == "" || alertType == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE tenant_id = $1 AND unit_id = $2 AND alert_type = $3
	AND status IN ('active', 'acknowledged', 'escalated')
ORDER BY created_at DESC`, tenantID, unitID, alertType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateLastTemperature updates the cached reading and updated_at.
func (r *AlertRepository) UpdateLastTemperature(ctx context.Context, id string, temperature units.Temperature, updatedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET last_temperature = $1, updated_at = $2
WHERE id = $3`, int64(temperature), updatedAt, id)
	return err
}

// MarkEscalated raises the alert to escalated status with critical severity.
func (r *AlertRepository) MarkEscalated(ctx context.Context, id string, temperature units.Temperature, escalatedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, severity = $2, last_temperature = $3, escalated_at = $4, updated_at = $5
WHERE id = $6`, alerts.StatusEscalated, alerts.SeverityCritical, int64(temperature), escalatedAt, escalatedAt, id)
	return err
}

// MarkAcknowledged marks an alert as acknowledged.
func (r *AlertRepository) MarkAcknowledged(ctx context.Context, id string, ackedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, acked_at = $2, updated_at = $3
WHERE id = $4`, alerts.StatusAcknowledged, ackedAt, ackedAt, id)
	return err
}

// MarkResolved closes an alert.
func (r *AlertRepository) MarkResolved(ctx context.Context, id string, temperature units.Temperature, resolvedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, last_temperature = $2, resolved_at = $3, updated_at = $4
WHERE id = $5`, alerts.StatusResolved, int64(temperature), resolvedAt, resolvedAt, id)
	return err
}

// ListByUnitStatusAndTime lists alerts for a unit within a time window.
func (r *AlertRepository) ListByUnitStatusAndTime(ctx context.Context, tenantID, unitID, status string, from, to time.Time) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if tenantID == "" || unitID == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	query := `
SELECT ` + alertColumns + `
FROM alerts
WHERE tenant_id = $1 AND unit_id = $2 AND triggered_at >= $3 AND triggered_at < $4`
	args := []any{tenantID, unitID, from, to}
	if status != "" {
		query += " AND status = $5"
		args = append(args, status)
	}
	query += " ORDER BY triggered_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListByTenantAndTime lists a tenant's alerts within a time window, used by
// history exports.
func (r *AlertRepository) ListByTenantAndTime(ctx context.Context, tenantID string, from, to time.Time) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if tenantID == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE tenant_id = $1 AND triggered_at >= $2 AND triggered_at < $3
ORDER BY triggered_at ASC`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerts.Alert, error) {
	var alert alerts.Alert
	var violated string
	var escalatedAt, ackedAt, resolvedAt sql.NullTime
	var lastTemperature sql.NullInt64
	if err := row.Scan(
		&alert.ID,
		&alert.TenantID,
		&alert.UnitID,
		&alert.AlertType,
		&alert.Severity,
		&alert.Status,
		&violated,
		&alert.TriggeredAt,
		&escalatedAt,
		&ackedAt,
		&resolvedAt,
		&lastTemperature,
		&alert.Metadata,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.ThresholdViolated = alerts.Violation(violated)
	alert.TriggeredAt = alert.TriggeredAt.UTC()
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	if escalatedAt.Valid {
		alert.EscalatedAt = escalatedAt.Time.UTC()
	}
	if ackedAt.Valid {
		alert.AckedAt = ackedAt.Time.UTC()
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = resolvedAt.Time.UTC()
	}
	if lastTemperature.Valid {
		alert.LastTemperature = units.Temperature(lastTemperature.Int64)
	}
	return &alert, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
