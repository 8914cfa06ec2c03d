package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alertapp "coldchain-cloud/internal/alerts/application"
	"coldchain-cloud/internal/alerts/application/events"
	alerts "coldchain-cloud/internal/alerts/domain"
	readings "coldchain-cloud/internal/readings/domain"
	units "coldchain-cloud/internal/units/domain"
)

type stubReadingRepo struct {
	mu       sync.Mutex
	inserted []readings.Reading
	err      error
}

func (s *stubReadingRepo) InsertReadings(_ context.Context, batch []readings.Reading) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.inserted = append(s.inserted, batch...)
	s.mu.Unlock()
	return nil
}

type stubEvaluator struct {
	mu      sync.Mutex
	seen    []string
	results map[string]*alertapp.EvaluationResult
	errs    map[string]error
}

func (s *stubEvaluator) Evaluate(_ context.Context, reading readings.Reading) (*alertapp.EvaluationResult, error) {
	s.mu.Lock()
	s.seen = append(s.seen, reading.UnitID)
	s.mu.Unlock()
	if err := s.errs[reading.UnitID]; err != nil {
		return nil, err
	}
	if result, ok := s.results[reading.UnitID]; ok {
		return result, nil
	}
	return &alertapp.EvaluationResult{
		UnitID:      reading.UnitID,
		TenantID:    reading.TenantID,
		Action:      alerts.ActionNone,
		EvaluatedAt: reading.RecordedAt,
	}, nil
}

func (s *stubEvaluator) seenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (r *recordingPublisher) Publish(_ context.Context, event any) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) list() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

func testLogger() *log.Logger {
	return log.New(&strings.Builder{}, "", 0)
}

func ingestBody(t *testing.T, tenantID string, items []map[string]any) string {
	t.Helper()
	payload := map[string]any{"tenantId": tenantID, "readings": items}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return string(data)
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	handler, err := NewIngestHandler(&stubReadingRepo{}, &stubEvaluator{}, nil, testLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"missing tenant", ingestBody(t, "", []map[string]any{{"unitId": "unit-1", "temperature": 4.0, "recordedAt": 1767772800000}})},
		{"no readings", ingestBody(t, "tenant-1", nil)},
		{"missing unit", ingestBody(t, "tenant-1", []map[string]any{{"temperature": 4.0, "recordedAt": 1767772800000}})},
		{"bad timestamp", ingestBody(t, "tenant-1", []map[string]any{{"unitId": "unit-1", "temperature": 4.0, "recordedAt": 0}})},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rec.Code)
		}
	}
}

func TestIngestEvaluatesLatestPerUnit(t *testing.T) {
	repo := &stubReadingRepo{}
	evaluator := &stubEvaluator{
		results: map[string]*alertapp.EvaluationResult{
			"unit-1": {
				UnitID:   "unit-1",
				TenantID: "tenant-1",
				Action:   alerts.ActionCreate,
				Alert: &alerts.Alert{
					ID:       "alert-1",
					TenantID: "tenant-1",
					UnitID:   "unit-1",
					Status:   alerts.StatusActive,
				},
				Transition: &alerts.Transition{
					From:   units.StatusOK,
					To:     units.StatusExcursion,
					Reason: alerts.ReasonOutOfRange,
				},
				EvaluatedAt: time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC),
			},
		},
	}
	publisher := &recordingPublisher{}
	handler, err := NewIngestHandler(repo, evaluator, publisher, testLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	base := time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC).UnixMilli()
	body := ingestBody(t, "tenant-1", []map[string]any{
		{"unitId": "unit-1", "temperature": 4.0, "recordedAt": base - 60_000},
		{"unitId": "unit-1", "temperature": 9.5, "recordedAt": base},
		{"unitId": "unit-2", "temperature": 3.0, "recordedAt": base},
	})
	req := httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["inserted"] != 3 {
		t.Fatalf("expected 3 inserted, got %d", resp["inserted"])
	}
	if resp["unitsEvaluated"] != 2 {
		t.Fatalf("expected 2 units evaluated, got %d", resp["unitsEvaluated"])
	}
	if resp["alertsTriggered"] != 1 {
		t.Fatalf("expected 1 alert triggered, got %d", resp["alertsTriggered"])
	}
	if got := evaluator.seenCount(); got != 2 {
		t.Fatalf("expected 2 evaluations, got %d", got)
	}

	published := publisher.list()
	if len(published) != 1 {
		t.Fatalf("expected 1 event, got %d", len(published))
	}
	raised, ok := published[0].(events.AlertRaised)
	if !ok {
		t.Fatalf("expected AlertRaised, got %T", published[0])
	}
	if raised.UnitID != "unit-1" || raised.Alert.ID != "alert-1" {
		t.Fatalf("unexpected event %+v", raised)
	}
	if raised.Reason != alerts.ReasonOutOfRange {
		t.Fatalf("unexpected reason %q", raised.Reason)
	}
	if raised.EventID == "" {
		t.Fatal("expected event id")
	}
}

func TestIngestIsolatesUnitFailures(t *testing.T) {
	repo := &stubReadingRepo{}
	evaluator := &stubEvaluator{
		errs: map[string]error{"unit-1": errors.New("lock timeout")},
	}
	handler, err := NewIngestHandler(repo, evaluator, &recordingPublisher{}, testLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	base := time.Date(2026, 1, 26, 9, 0, 0, 0, time.UTC).UnixMilli()
	body := ingestBody(t, "tenant-1", []map[string]any{
		{"unitId": "unit-1", "temperature": 4.0, "recordedAt": base},
		{"unitId": "unit-2", "temperature": 3.0, "recordedAt": base},
	})
	req := httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite unit failure, got %d", rec.Code)
	}
	if got := evaluator.seenCount(); got != 2 {
		t.Fatalf("expected both units evaluated, got %d", got)
	}
}

func TestIngestInsertErrorFailsBatch(t *testing.T) {
	repo := &stubReadingRepo{err: errors.New("db down")}
	evaluator := &stubEvaluator{}
	handler, err := NewIngestHandler(repo, evaluator, nil, testLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	body := ingestBody(t, "tenant-1", []map[string]any{
		{"unitId": "unit-1", "temperature": 4.0, "recordedAt": time.Now().UnixMilli()},
	})
	req := httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := evaluator.seenCount(); got != 0 {
		t.Fatalf("expected no evaluations after insert failure, got %d", got)
	}
}
