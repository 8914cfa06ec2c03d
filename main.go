package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	alertapp "coldchain-cloud/internal/alerts/application"
	"coldchain-cloud/internal/alerts/application/events"
	alertrepo "coldchain-cloud/internal/alerts/infrastructure/postgres"
	alertinterfaces "coldchain-cloud/internal/alerts/interfaces"
	alerthttp "coldchain-cloud/internal/alerts/interfaces/http"
	"coldchain-cloud/internal/alerts/notify"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/auth"
	"coldchain-cloud/internal/eventing"
	"coldchain-cloud/internal/eventing/eventbus"
	eventingrepo "coldchain-cloud/internal/eventing/infrastructure/postgres"
	"coldchain-cloud/internal/observability/metrics"
	readingrepo "coldchain-cloud/internal/readings/infrastructure/postgres"
	readinghttp "coldchain-cloud/internal/readings/interfaces/http"
	units "coldchain-cloud/internal/units/domain"
	unitrepo "coldchain-cloud/internal/units/infrastructure/postgres"
	unithttp "coldchain-cloud/internal/units/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	engineCfg, err := alertapp.LoadEngineConfig()
	if err != nil {
		logger.Fatalf("engine config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	unitChecker := auth.NewUnitChecker(db)
	auditRepo := audit.NewRepository(db)

	readingRepo := readingrepo.NewReadingRepository(db)
	unitReader := unitrepo.NewUnitRepository(db)
	alertRepo := alertrepo.NewAlertRepository(db)
	ruleRepo := alertrepo.NewAlertRuleRepository(db)

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
	publisher := eventing.NewPublisher(outboxStore, dispatcher, cfg.TenantID, baseBus)

	resolver, err := alertapp.NewThresholdResolver(ruleRepo, units.Temperature(engineCfg.HysteresisTenths), engineCfg.DefaultConfirm())
	if err != nil {
		logger.Fatalf("threshold resolver error: %v", err)
	}
	evaluator, err := alertapp.NewEvaluator(db, resolver)
	if err != nil {
		logger.Fatalf("evaluator error: %v", err)
	}
	alertService, err := alertapp.NewService(alertRepo, ruleRepo, cfg.TenantID, alertapp.WithPublisher(publisher))
	if err != nil {
		logger.Fatalf("alert service error: %v", err)
	}

	broker := alerthttp.NewSSEBroker()
	notifiers := []notify.AlertNotifier{broker}
	if engineCfg.Notify.WebhookURL != "" && !engineCfg.Notify.DisableWebhook {
		client := &http.Client{Timeout: engineCfg.Notify.Timeout()}
		channel, err := notify.NewWebhookChannel(engineCfg.Notify.WebhookURL, notify.WithHTTPClient(client))
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		tpl, err := notify.NewTemplate(loadTemplate(logger, engineCfg.Notify.TemplatePath))
		if err != nil {
			logger.Fatalf("alert template error: %v", err)
		}
		webhookNotifier, err := notify.NewNotifier(unitReader, channel, tpl,
			notify.WithCooldown(engineCfg.Notify.Cooldown()),
			notify.WithDedupeWindow(engineCfg.Notify.Dedupe()),
			notify.WithMinSeverity(engineCfg.Notify.MinSeverity),
		)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		notifiers = append(notifiers, webhookNotifier)
	}

	alertConsumer, err := alertinterfaces.NewAlertEventConsumer(notify.NewMultiNotifier(notifiers...))
	if err != nil {
		logger.Fatalf("alert consumer error: %v", err)
	}
	if err := alertinterfaces.RegisterSubscriptions(baseBus, alertConsumer, processedStore); err != nil {
		logger.Fatalf("alert subscriptions error: %v", err)
	}

	// Retry loop for outbox records whose inline dispatch failed.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := dispatcher.Dispatch(context.Background(), engineCfg.DispatchBatchSize); err != nil {
				logger.Printf("outbox dispatch error: %v", err)
			}
		}
	}()

	ingestHandler, err := readinghttp.NewIngestHandler(readingRepo, evaluator, publisher, logger,
		readinghttp.WithEvalWorkers(engineCfg.EvalWorkers))
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	alertHandler, err := alerthttp.NewHandler(alertService, unitChecker, auditRepo)
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}
	ruleHandler, err := alerthttp.NewRuleHandler(alertService)
	if err != nil {
		logger.Fatalf("rule handler error: %v", err)
	}
	exportHandler, err := alerthttp.NewExportHandler(alertService)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}
	unitHandler, err := unithttp.NewHandler(unitReader, evaluator, auditRepo, cfg.TenantID)
	if err != nil {
		logger.Fatalf("unit handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/readings", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/units", unitHandler)
	mux.Handle("/api/v1/units/", unitHandler)
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/api/v1/alert-rules", ruleHandler)
	mux.Handle("/api/v1/exports/alerts.csv", exportHandler)
	mux.Handle("/api/v1/exports/alerts.xlsx", exportHandler)
	mux.Handle("/api/v1/exports/alerts.pdf", exportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	TenantID          string
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:          getenvDefault("TENANT_ID", "tenant-demo"),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func loadTemplate(logger *log.Logger, path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Printf("alert template read error, using default: %v", err)
		return ""
	}
	return string(data)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
