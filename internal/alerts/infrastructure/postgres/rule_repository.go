package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/auth"
	units "coldchain-cloud/internal/units/domain"
)

const ruleColumns = `id, tenant_id, scope, scope_id, name, temp_min, temp_max,
	confirm_time_open_seconds, confirm_time_closed_seconds, enabled, created_at, updated_at`

// AlertRuleRepository is a Postgres repository for alert rules.
type AlertRuleRepository struct {
	db DBTX
}

// NewAlertRuleRepository constructs a repository.
func NewAlertRuleRepository(db DBTX) *AlertRuleRepository {
	return &AlertRuleRepository{db: db}
}

// Create inserts an alert rule.
func (r *AlertRuleRepository) Create(ctx context.Context, rule *alerts.AlertRule) error {
	if r == nil || r.db == nil {
		return errors.New("alert rule repo: nil db")
	}
	if rule == nil {
		return errors.New("alert rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_rules (
	id, tenant_id, scope, scope_id, name, temp_min, temp_max,
	confirm_time_open_seconds, confirm_time_closed_seconds, enabled, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12
)`, rule.ID, rule.TenantID, string(rule.Scope), rule.ScopeID, rule.Name,
		int64(rule.TempMin), int64(rule.TempMax),
		int64(rule.ConfirmTimeOpen/time.Second), int64(rule.ConfirmTimeClosed/time.Second),
		rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return err
	}
	logAlertRuleAudit(ctx, r.db, rule)
	return nil
}

// GetByID loads a rule by id.
func (r *AlertRuleRepository) GetByID(ctx context.Context, tenantID, ruleID string) (*alerts.AlertRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	if tenantID == "" || ruleID == "" {
		return nil, errors.New("alert rule repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+ruleColumns+`
FROM alert_rules
WHERE tenant_id = $1 AND id = $2
LIMIT 1`, tenantID, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// FindEnabledByScope returns enabled rules bound to one scope target,
// oldest first.
func (r *AlertRuleRepository) FindEnabledByScope(ctx context.Context, tenantID string, scope alerts.Scope, scopeID string) ([]alerts.AlertRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	if tenantID == "" || scopeID == "" || !scope.Valid() {
		return nil, errors.New("alert rule repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+ruleColumns+`
FROM alert_rules
WHERE tenant_id = $1 AND scope = $2 AND scope_id = $3 AND enabled = TRUE
ORDER BY created_at ASC`, tenantID, string(scope), scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// List returns a tenant's rules, newest first.
func (r *AlertRuleRepository) List(ctx context.Context, tenantID string) ([]alerts.AlertRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	if tenantID == "" {
		return nil, errors.New("alert rule repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+ruleColumns+`
FROM alert_rules
WHERE tenant_id = $1
ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row ruleScanner) (*alerts.AlertRule, error) {
	var rule alerts.AlertRule
	var scope string
	var tempMin, tempMax, confirmOpen, confirmClosed int64
	if err := row.Scan(
		&rule.ID,
		&rule.TenantID,
		&scope,
		&rule.ScopeID,
		&rule.Name,
		&tempMin,
		&tempMax,
		&confirmOpen,
		&confirmClosed,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rule.Scope = alerts.Scope(scope)
	rule.TempMin = units.Temperature(tempMin)
	rule.TempMax = units.Temperature(tempMax)
	rule.ConfirmTimeOpen = time.Duration(confirmOpen) * time.Second
	rule.ConfirmTimeClosed = time.Duration(confirmClosed) * time.Second
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

func logAlertRuleAudit(ctx context.Context, db DBTX, rule *alerts.AlertRule) {
	if db == nil || rule == nil {
		return
	}
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		tenantID = rule.TenantID
	}
	if tenantID == "" {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"scope":                       rule.Scope,
		"scope_id":                    rule.ScopeID,
		"name":                        rule.Name,
		"temp_min":                    int64(rule.TempMin),
		"temp_max":                    int64(rule.TempMax),
		"confirm_time_open_seconds":   int64(rule.ConfirmTimeOpen / time.Second),
		"confirm_time_closed_seconds": int64(rule.ConfirmTimeClosed / time.Second),
		"enabled":                     rule.Enabled,
	})
	repo := audit.NewRepository(db)
	if repo == nil {
		return
	}
	_ = repo.Log(ctx, audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       "alert_rule.create",
		ResourceType: "alert_rule",
		ResourceID:   rule.ID,
		UnitID:       scopeUnitID(rule),
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	})
}

func scopeUnitID(rule *alerts.AlertRule) string {
	if rule.Scope == alerts.ScopeUnit {
		return rule.ScopeID
	}
	return ""
}
