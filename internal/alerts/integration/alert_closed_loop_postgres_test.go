package integration_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	alertapp "coldchain-cloud/internal/alerts/application"
	"coldchain-cloud/internal/alerts/application/events"
	alerts "coldchain-cloud/internal/alerts/domain"
	alertrepo "coldchain-cloud/internal/alerts/infrastructure/postgres"
	alertinterfaces "coldchain-cloud/internal/alerts/interfaces"
	"coldchain-cloud/internal/alerts/notify"
	"coldchain-cloud/internal/eventing"
	"coldchain-cloud/internal/eventing/eventbus"
	eventingrepo "coldchain-cloud/internal/eventing/infrastructure/postgres"
	readingrepo "coldchain-cloud/internal/readings/infrastructure/postgres"
	readinghttp "coldchain-cloud/internal/readings/interfaces/http"
	units "coldchain-cloud/internal/units/domain"
	unitrepo "coldchain-cloud/internal/units/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.AlertEvent
}

func (r *recordingNotifier) Notify(_ context.Context, event notify.AlertEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

func TestAlertClosedLoop_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "units") ||
		!tableExists(db, "readings") ||
		!tableExists(db, "alerts") ||
		!tableExists(db, "alert_rules") ||
		!tableExists(db, "event_outbox") ||
		!tableExists(db, "processed_events") ||
		!tableExists(db, "dead_letter_events") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	tenantID := "tenant-it-alert"
	unitID := "unit-it-alert"

	_, _ = db.ExecContext(ctx, "DELETE FROM alerts WHERE unit_id = $1", unitID)
	_, _ = db.ExecContext(ctx, "DELETE FROM readings WHERE unit_id = $1", unitID)
	_, _ = db.ExecContext(ctx, "DELETE FROM alert_rules WHERE tenant_id = $1", tenantID)
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox")
	_, _ = db.ExecContext(ctx, "DELETE FROM processed_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM dead_letter_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM units WHERE id = $1", unitID)

	unitRepo := unitrepo.NewUnitRepository(db)
	tempMin := units.Temperature(20)
	tempMax := units.Temperature(80)
	if err := unitRepo.Create(ctx, &units.Unit{
		ID:              unitID,
		TenantID:        tenantID,
		OrgID:           "org-it",
		SiteID:          "site-it",
		Name:            "Integration Freezer",
		Status:          units.StatusOK,
		BaselineTempMin: &tempMin,
		BaselineTempMax: &tempMax,
	}); err != nil {
		t.Fatalf("create unit: %v", err)
	}

	ruleRepo := alertrepo.NewAlertRuleRepository(db)
	alertRepo := alertrepo.NewAlertRepository(db)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(events.AlertRaised{})
	registry.Register(events.AlertEscalated{})
	registry.Register(events.AlertResolved{})
	registry.Register(events.AlertAcknowledged{})
	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, tenantID, baseBus)

	notifier := &recordingNotifier{}
	consumer, err := alertinterfaces.NewAlertEventConsumer(notifier)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	if err := alertinterfaces.RegisterSubscriptions(baseBus, consumer, processedStore); err != nil {
		t.Fatalf("register subscriptions: %v", err)
	}

	resolver, err := alertapp.NewThresholdResolver(ruleRepo, 5, 600*time.Second)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	evaluator, err := alertapp.NewEvaluator(db, resolver)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	logger := log.New(&strings.Builder{}, "", 0)
	handler, err := readinghttp.NewIngestHandler(readingrepo.NewReadingRepository(db), evaluator, publisher, logger)
	if err != nil {
		t.Fatalf("new ingest handler: %v", err)
	}

	base := time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC)
	post := func(temp float64, at time.Time) {
		t.Helper()
		payload := map[string]any{
			"tenantId": tenantID,
			"readings": []map[string]any{{
				"unitId":      unitID,
				"temperature": temp,
				"recordedAt":  at.UnixMilli(),
				"source":      "it",
			}},
		}
		body, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(string(body)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("ingest status %d: %s", rec.Code, rec.Body.String())
		}
	}

	unitStatus := func() units.Status {
		t.Helper()
		unit, err := unitRepo.Get(ctx, unitID)
		if err != nil || unit == nil {
			t.Fatalf("get unit: %v", err)
		}
		return unit.Status
	}

	// Out-of-range reading opens an excursion and a warning alert.
	post(9.5, base)
	if got := unitStatus(); got != units.StatusExcursion {
		t.Fatalf("expected excursion, got %s", got)
	}
	open, err := alertRepo.FindOpenByUnitType(ctx, tenantID, unitID, alerts.TypeAlarmActive)
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open alert, got %d", len(open))
	}
	if open[0].Status != alerts.StatusActive || open[0].Severity != alerts.SeverityWarning {
		t.Fatalf("unexpected alert %s/%s", open[0].Status, open[0].Severity)
	}
	alertID := open[0].ID

	// A second out-of-range reading inside the confirm window must not open
	// a duplicate alert.
	post(9.7, base.Add(2*time.Minute))
	open, err = alertRepo.FindOpenByUnitType(ctx, tenantID, unitID, alerts.TypeAlarmActive)
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if len(open) != 1 || open[0].ID != alertID {
		t.Fatalf("expected deduplicated alert, got %d", len(open))
	}

	// Past the confirm window the excursion escalates.
	post(9.8, base.Add(11*time.Minute))
	if got := unitStatus(); got != units.StatusAlarmActive {
		t.Fatalf("expected alarm_active, got %s", got)
	}
	escalated, err := alertRepo.GetByID(ctx, tenantID, alertID)
	if err != nil || escalated == nil {
		t.Fatalf("get alert: %v", err)
	}
	if escalated.Status != alerts.StatusEscalated || escalated.Severity != alerts.SeverityCritical {
		t.Fatalf("expected escalated critical, got %s/%s", escalated.Status, escalated.Severity)
	}

	// Recovery inside the hysteresis band resolves the alert.
	post(4.0, base.Add(12*time.Minute))
	if got := unitStatus(); got != units.StatusRestoring {
		t.Fatalf("expected restoring, got %s", got)
	}
	resolved, err := alertRepo.GetByID(ctx, tenantID, alertID)
	if err != nil || resolved == nil {
		t.Fatalf("get alert: %v", err)
	}
	if resolved.Status != alerts.StatusResolved {
		t.Fatalf("expected resolved, got %s", resolved.Status)
	}
	if resolved.ResolvedAt.IsZero() {
		t.Fatal("expected resolved_at set")
	}

	got := notifier.types()
	want := []string{"raised", "escalated", "resolved"}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}

	pending, err := outboxStore.CountPending(ctx)
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected drained outbox, got %d pending", pending)
	}
}

func tableExists(db *sql.DB, name string) bool {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (
	SELECT 1 FROM information_schema.tables WHERE table_name = $1
)`, name).Scan(&exists)
	return err == nil && exists
}
