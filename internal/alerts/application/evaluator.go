package application

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	alerts "coldchain-cloud/internal/alerts/domain"
	alertrepo "coldchain-cloud/internal/alerts/infrastructure/postgres"
	"coldchain-cloud/internal/observability/metrics"
	readings "coldchain-cloud/internal/readings/domain"
	units "coldchain-cloud/internal/units/domain"
	unitrepo "coldchain-cloud/internal/units/infrastructure/postgres"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// UnitStore is the unit persistence the evaluator uses inside a transaction.
type UnitStore interface {
	GetForUpdate(ctx context.Context, id string) (*units.Unit, error)
	UpdateReadingCache(ctx context.Context, id string, temperature units.Temperature, readAt time.Time) error
	UpdateStatus(ctx context.Context, id string, status units.Status, changedAt time.Time) error
}

// AlertStore is the alert persistence the evaluator uses inside a transaction.
type AlertStore interface {
	FindOpenByUnitType(ctx context.Context, tenantID, unitID, alertType string) ([]alerts.Alert, error)
	Create(ctx context.Context, alert *alerts.Alert) error
	UpdateLastTemperature(ctx context.Context, id string, temperature units.Temperature, updatedAt time.Time) error
	MarkEscalated(ctx context.Context, id string, temperature units.Temperature, escalatedAt time.Time) error
	MarkResolved(ctx context.Context, id string, temperature units.Temperature, resolvedAt time.Time) error
}

// errSkipCommit tells the runner to roll back without surfacing an error.
var errSkipCommit = errors.New("evaluator: skip commit")

// txRunner scopes one evaluation to one transaction and hands the evaluator
// stores bound to it.
type txRunner interface {
	InTx(ctx context.Context, fn func(unitStore UnitStore, alertStore AlertStore) error) error
}

// sqlTxRunner binds the postgres repositories to a database transaction.
type sqlTxRunner struct {
	db *sql.DB
}

func (r sqlTxRunner) InTx(ctx context.Context, fn func(unitStore UnitStore, alertStore AlertStore) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(unitrepo.NewUnitRepository(tx), alertrepo.NewAlertRepository(tx)); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, errSkipCommit) {
			return nil
		}
		return err
	}
	return tx.Commit()
}

// EvaluationResult is the committed outcome of one unit evaluation. The
// caller publishes lifecycle events from it after the transaction is done.
type EvaluationResult struct {
	UnitID        string
	TenantID      string
	Stale         bool
	Misconfigured bool
	Transition    *alerts.Transition
	Action        alerts.Action
	Alert         *alerts.Alert
	Thresholds    alerts.Thresholds
	EvaluatedAt   time.Time
}

// Evaluator runs one reading through the state machine inside a single
// transaction per unit. The unit row is locked first, so concurrent
// evaluations of the same unit serialize while different units proceed in
// parallel.
type Evaluator struct {
	runner     txRunner
	unitReader units.Reader
	resolver   *ThresholdResolver
	clock      Clock
}

// EvaluatorOption customizes the evaluator.
type EvaluatorOption func(*Evaluator)

// WithEvaluatorClock assigns a clock.
func WithEvaluatorClock(clock Clock) EvaluatorOption {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEvaluator constructs an evaluator over a database handle.
func NewEvaluator(db *sql.DB, resolver *ThresholdResolver, opts ...EvaluatorOption) (*Evaluator, error) {
	if db == nil {
		return nil, errors.New("evaluator: nil db")
	}
	return newEvaluator(sqlTxRunner{db: db}, unitrepo.NewUnitRepository(db), resolver, opts...)
}

func newEvaluator(runner txRunner, unitReader units.Reader, resolver *ThresholdResolver, opts ...EvaluatorOption) (*Evaluator, error) {
	if runner == nil {
		return nil, errors.New("evaluator: nil runner")
	}
	if resolver == nil {
		return nil, errors.New("evaluator: nil resolver")
	}
	evaluator := &Evaluator{
		runner:     runner,
		unitReader: unitReader,
		resolver:   resolver,
		clock:      systemClock{},
	}
	for _, opt := range opts {
		opt(evaluator)
	}
	return evaluator, nil
}

// ResolveThresholds returns the thresholds currently effective for a unit,
// outside any evaluation transaction.
func (e *Evaluator) ResolveThresholds(ctx context.Context, unitID string) (alerts.Thresholds, error) {
	if e == nil || e.unitReader == nil {
		return alerts.Thresholds{}, errors.New("evaluator: nil evaluator")
	}
	unit, err := e.unitReader.Get(ctx, unitID)
	if err != nil {
		return alerts.Thresholds{}, err
	}
	if unit == nil {
		return alerts.Thresholds{}, units.ErrNotFound
	}
	return e.resolver.Resolve(ctx, unit)
}

// Evaluate applies one reading to its unit. Readings at or before the
// unit's last applied reading are skipped, which makes duplicate delivery
// and out-of-order batches harmless.
func (e *Evaluator) Evaluate(ctx context.Context, reading readings.Reading) (*EvaluationResult, error) {
	if e == nil || e.runner == nil {
		return nil, errors.New("evaluator: nil evaluator")
	}
	if reading.UnitID == "" || reading.TenantID == "" {
		return nil, errors.New("evaluator: reading missing unit/tenant")
	}
	if reading.RecordedAt.IsZero() {
		return nil, errors.New("evaluator: reading missing timestamp")
	}

	var result *EvaluationResult
	err := e.runner.InTx(ctx, func(unitStore UnitStore, alertStore AlertStore) error {
		evaluated, err := e.evaluateInTx(ctx, unitStore, alertStore, reading)
		if evaluated != nil {
			result = evaluated
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Evaluator) evaluateInTx(ctx context.Context, unitStore UnitStore, alertStore AlertStore, reading readings.Reading) (*EvaluationResult, error) {
	unit, err := unitStore.GetForUpdate(ctx, reading.UnitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, units.ErrNotFound
	}
	if unit.TenantID != reading.TenantID {
		return nil, errors.New("evaluator: tenant mismatch")
	}

	at := reading.RecordedAt.UTC()
	result := &EvaluationResult{
		UnitID:      unit.ID,
		TenantID:    unit.TenantID,
		Action:      alerts.ActionNone,
		EvaluatedAt: at,
	}

	if !unit.LastReadingAt.IsZero() && !at.After(unit.LastReadingAt) {
		result.Stale = true
		metrics.IncEvaluation("stale")
		return result, errSkipCommit
	}

	if err := unitStore.UpdateReadingCache(ctx, unit.ID, reading.Temperature, at); err != nil {
		return nil, err
	}

	limits, err := e.resolver.Resolve(ctx, unit)
	if err != nil {
		if errors.Is(err, alerts.ErrMisconfigured) {
			// The reading cache update still commits; only the state
			// machine is skipped until thresholds are repaired.
			result.Misconfigured = true
			metrics.IncEvaluation("misconfigured")
			return result, nil
		}
		return nil, err
	}
	result.Thresholds = limits

	decision := alerts.Decide(alerts.EvalContext{
		Status:             unit.Status,
		DoorOpen:           unit.DoorOpen,
		LastStatusChangeAt: unit.LastStatusChangeAt,
		Limits:             limits,
		Temperature:        reading.Temperature,
		At:                 at,
	})
	result.Action = decision.Action
	result.Transition = decision.Transition

	switch decision.Action {
	case alerts.ActionCreate:
		alert, err := e.openAlert(ctx, alertStore, unit, reading, decision, at)
		if err != nil {
			return nil, err
		}
		result.Alert = alert
	case alerts.ActionEscalate:
		alert, err := e.escalateAlert(ctx, alertStore, unit, reading, decision, at)
		if err != nil {
			return nil, err
		}
		result.Alert = alert
	case alerts.ActionResolve:
		alert, err := e.resolveAlerts(ctx, alertStore, unit, reading, at)
		if err != nil {
			return nil, err
		}
		result.Alert = alert
	default:
		if err := e.touchOpenAlert(ctx, alertStore, unit, reading, at); err != nil {
			return nil, err
		}
	}

	if decision.Transition != nil {
		if err := unitStore.UpdateStatus(ctx, unit.ID, decision.Transition.To, at); err != nil {
			return nil, err
		}
		metrics.IncTransition(string(decision.Transition.From), string(decision.Transition.To))
	}

	metrics.IncEvaluation(string(decision.Action))
	return result, nil
}

// openAlert creates a new alert unless one is already open for the unit and
// type. An existing open row is returned as found; the create path never
// mutates it.
func (e *Evaluator) openAlert(ctx context.Context, store AlertStore, unit *units.Unit, reading readings.Reading, decision alerts.Decision, at time.Time) (*alerts.Alert, error) {
	open, err := store.FindOpenByUnitType(ctx, unit.TenantID, unit.ID, alerts.TypeAlarmActive)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		existing := open[0]
		return &existing, nil
	}

	now := e.clock.Now().UTC()
	alert := &alerts.Alert{
		ID:                uuid.NewString(),
		TenantID:          unit.TenantID,
		UnitID:            unit.ID,
		AlertType:         alerts.TypeAlarmActive,
		Severity:          decision.Severity,
		Status:            alerts.StatusActive,
		ThresholdViolated: decision.Violated,
		TriggeredAt:       at,
		LastTemperature:   reading.Temperature,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.Create(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// escalateAlert raises the open alert to critical. A confirmed excursion
// without an open alert is an anomaly; a fresh escalated alert is opened so
// the episode is still visible.
func (e *Evaluator) escalateAlert(ctx context.Context, store AlertStore, unit *units.Unit, reading readings.Reading, decision alerts.Decision, at time.Time) (*alerts.Alert, error) {
	open, err := store.FindOpenByUnitType(ctx, unit.TenantID, unit.ID, alerts.TypeAlarmActive)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		existing := open[0]
		if err := store.MarkEscalated(ctx, existing.ID, reading.Temperature, at); err != nil {
			return nil, err
		}
		existing.Status = alerts.StatusEscalated
		existing.Severity = alerts.SeverityCritical
		existing.LastTemperature = reading.Temperature
		existing.EscalatedAt = at
		existing.UpdatedAt = at
		return &existing, nil
	}

	now := e.clock.Now().UTC()
	alert := &alerts.Alert{
		ID:                uuid.NewString(),
		TenantID:          unit.TenantID,
		UnitID:            unit.ID,
		AlertType:         alerts.TypeAlarmActive,
		Severity:          alerts.SeverityCritical,
		Status:            alerts.StatusEscalated,
		ThresholdViolated: decision.Violated,
		TriggeredAt:       at,
		EscalatedAt:       at,
		LastTemperature:   reading.Temperature,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.Create(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// resolveAlerts closes every open alert for the unit and type. More than
// one open row means the uniqueness guarantee was breached upstream; all of
// them close so the invariant is restored.
func (e *Evaluator) resolveAlerts(ctx context.Context, store AlertStore, unit *units.Unit, reading readings.Reading, at time.Time) (*alerts.Alert, error) {
	open, err := store.FindOpenByUnitType(ctx, unit.TenantID, unit.ID, alerts.TypeAlarmActive)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}
	for i := range open {
		if err := store.MarkResolved(ctx, open[i].ID, reading.Temperature, at); err != nil {
			return nil, err
		}
	}
	resolved := open[0]
	resolved.Status = alerts.StatusResolved
	resolved.LastTemperature = reading.Temperature
	resolved.ResolvedAt = at
	resolved.UpdatedAt = at
	return &resolved, nil
}

func (e *Evaluator) touchOpenAlert(ctx context.Context, store AlertStore, unit *units.Unit, reading readings.Reading, at time.Time) error {
	open, err := store.FindOpenByUnitType(ctx, unit.TenantID, unit.ID, alerts.TypeAlarmActive)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}
	return store.UpdateLastTemperature(ctx, open[0].ID, reading.Temperature, at)
}
