package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	alertapp "coldchain-cloud/internal/alerts/application"
	"coldchain-cloud/internal/alerts/application/events"
	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/eventing"
	"coldchain-cloud/internal/observability/metrics"
	readings "coldchain-cloud/internal/readings/domain"
	units "coldchain-cloud/internal/units/domain"
)

// UnitEvaluator runs one reading through the alert state machine.
type UnitEvaluator interface {
	Evaluate(ctx context.Context, reading readings.Reading) (*alertapp.EvaluationResult, error)
}

// EventPublisher publishes lifecycle events after a unit evaluation commits.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// IngestHandler accepts reading batches from the device gateway. Each batch
// is persisted whole, then reduced to the freshest reading per unit and
// evaluated with per-unit isolation: one failing unit never blocks the rest.
type IngestHandler struct {
	repo      readings.Repository
	evaluator UnitEvaluator
	publisher EventPublisher
	logger    *log.Logger
	workers   int
}

// IngestOption customizes the handler.
type IngestOption func(*IngestHandler)

// WithEvalWorkers caps concurrent unit evaluations.
func WithEvalWorkers(n int) IngestOption {
	return func(h *IngestHandler) {
		if n > 0 {
			h.workers = n
		}
	}
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(repo readings.Repository, evaluator UnitEvaluator, publisher EventPublisher, logger *log.Logger, opts ...IngestOption) (*IngestHandler, error) {
	if repo == nil {
		return nil, errors.New("readings ingest: nil repository")
	}
	if evaluator == nil {
		return nil, errors.New("readings ingest: nil evaluator")
	}
	if logger == nil {
		logger = log.Default()
	}
	h := &IngestHandler{
		repo:      repo,
		evaluator: evaluator,
		publisher: publisher,
		logger:    logger,
		workers:   8,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP handles POST /ingest/readings.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("readings ingest: read body error: %v", err)
		metrics.IncIngestError("read_body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("readings ingest: decode error: %v", err)
		metrics.IncIngestError("decode")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	batch, err := req.toReadings()
	if err != nil {
		h.logger.Printf("readings ingest: invalid payload: %v", err)
		metrics.IncIngestError("payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.repo.InsertReadings(r.Context(), batch); err != nil {
		h.logger.Printf("readings ingest: insert error: %v", err)
		metrics.IncIngestError("insert")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "insert error", http.StatusInternalServerError)
		return
	}

	latest := readings.LatestPerUnit(batch)
	results := h.evaluateAll(r.Context(), latest)

	triggered := 0
	for _, result := range results {
		switch result.Action {
		case alerts.ActionCreate, alerts.ActionEscalate:
			triggered++
		}
		h.publishResult(r.Context(), result)
	}

	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(started))
	resp := map[string]any{
		"inserted":        len(batch),
		"unitsEvaluated":  len(latest),
		"alertsTriggered": triggered,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// evaluateAll fans the reduced batch out over a bounded worker pool. Per-unit
// failures are logged and skipped.
func (h *IngestHandler) evaluateAll(ctx context.Context, latest map[string]readings.Reading) []*alertapp.EvaluationResult {
	var (
		mu      sync.Mutex
		results []*alertapp.EvaluationResult
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(h.workers)
	for _, reading := range latest {
		reading := reading
		group.Go(func() error {
			evalStart := time.Now()
			result, err := h.evaluator.Evaluate(groupCtx, reading)
			if err != nil {
				h.logger.Printf("readings ingest: evaluate unit %s error: %v", reading.UnitID, err)
				metrics.IncIngestError("evaluate")
				metrics.ObserveEvaluation(metrics.ResultError, time.Since(evalStart))
				return nil
			}
			metrics.ObserveEvaluation(metrics.ResultSuccess, time.Since(evalStart))
			if result == nil || result.Stale || result.Misconfigured {
				return nil
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// publishResult emits lifecycle events for a committed evaluation. Delivery
// is fire and forget; a publish failure never rolls back the evaluation.
func (h *IngestHandler) publishResult(ctx context.Context, result *alertapp.EvaluationResult) {
	if h.publisher == nil || result == nil || result.Alert == nil {
		return
	}
	var from, to units.Status
	reason := ""
	if result.Transition != nil {
		from = result.Transition.From
		to = result.Transition.To
		reason = result.Transition.Reason
	}

	var event any
	switch result.Action {
	case alerts.ActionCreate:
		metrics.IncAlertEvent("raised")
		event = events.AlertRaised{
			EventID:    eventing.NewEventID(),
			TenantID:   result.TenantID,
			UnitID:     result.UnitID,
			Alert:      *result.Alert,
			From:       from,
			To:         to,
			Reason:     reason,
			OccurredAt: result.EvaluatedAt,
		}
	case alerts.ActionEscalate:
		metrics.IncAlertEvent("escalated")
		event = events.AlertEscalated{
			EventID:    eventing.NewEventID(),
			TenantID:   result.TenantID,
			UnitID:     result.UnitID,
			Alert:      *result.Alert,
			From:       from,
			To:         to,
			Reason:     reason,
			OccurredAt: result.EvaluatedAt,
		}
	case alerts.ActionResolve:
		metrics.IncAlertEvent("resolved")
		event = events.AlertResolved{
			EventID:    eventing.NewEventID(),
			TenantID:   result.TenantID,
			UnitID:     result.UnitID,
			Alert:      *result.Alert,
			From:       from,
			To:         to,
			Reason:     reason,
			OccurredAt: result.EvaluatedAt,
		}
	default:
		return
	}

	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Printf("readings ingest: publish %T for unit %s error: %v", event, result.UnitID, err)
	}
}

type ingestRequest struct {
	TenantID string          `json:"tenantId"`
	Readings []ingestReading `json:"readings"`
}

type ingestReading struct {
	UnitID      string   `json:"unitId"`
	Temperature float64  `json:"temperature"`
	RecordedAt  int64    `json:"recordedAt"`
	Source      string   `json:"source"`
	Humidity    *float64 `json:"humidity"`
	Battery     *float64 `json:"battery"`
	Signal      *float64 `json:"signal"`
}

func (r ingestRequest) toReadings() ([]readings.Reading, error) {
	if r.TenantID == "" {
		return nil, errors.New("missing tenantId")
	}
	if len(r.Readings) == 0 {
		return nil, errors.New("no readings")
	}

	batch := make([]readings.Reading, 0, len(r.Readings))
	for _, item := range r.Readings {
		if item.UnitID == "" {
			return nil, errors.New("missing unitId")
		}
		recordedAt, err := parseTimestamp(item.RecordedAt)
		if err != nil {
			return nil, err
		}
		batch = append(batch, readings.Reading{
			TenantID:    r.TenantID,
			UnitID:      item.UnitID,
			Temperature: units.TemperatureFromCelsius(item.Temperature),
			RecordedAt:  recordedAt,
			Source:      item.Source,
			Humidity:    item.Humidity,
			Battery:     item.Battery,
			Signal:      item.Signal,
		})
	}
	return batch, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid recordedAt")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
