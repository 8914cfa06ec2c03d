package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	alertapp "coldchain-cloud/internal/alerts/application"
	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/auth"
	units "coldchain-cloud/internal/units/domain"
)

const timeLayout = time.RFC3339

// Handler provides alert HTTP endpoints.
type Handler struct {
	service     *alertapp.Service
	unitChecker auth.UnitTenantChecker
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *alertapp.Service, unitChecker auth.UnitTenantChecker, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alerts handler: nil service")
	}
	return &Handler{service: service, unitChecker: unitChecker, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/alerts and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alerts":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/alerts/"):
		h.handleAction(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	unitID := r.URL.Query().Get("unit_id")
	if unitID == "" {
		http.Error(w, "unit_id is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	status := r.URL.Query().Get("status")

	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" {
		if err := ensureUnitTenant(r, h.unitChecker, tenantID, unitID); err != nil {
			respondTenantError(w, err)
			return
		}
	}

	list, err := h.service.ListAlerts(r.Context(), unitID, status, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]
	action := parts[1]

	var (
		alert *alerts.Alert
		err   error
	)
	switch action {
	case "ack":
		alert, err = h.service.AckAlert(r.Context(), id)
	case "resolve":
		alert, err = h.service.ResolveAlert(r.Context(), id)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if errors.Is(err, auth.ErrTenantMismatch) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logAudit(r, "alert."+action, alert)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alert)
}

func (h *Handler) logAudit(r *http.Request, action string, alert *alerts.Alert) {
	if h.auditLogger == nil || alert == nil {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     alert.TenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "alert",
		ResourceID:   alert.ID,
		UnitID:       alert.UnitID,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

// RuleHandler provides alert rule administration endpoints.
type RuleHandler struct {
	service *alertapp.Service
}

// NewRuleHandler constructs a rule handler.
func NewRuleHandler(service *alertapp.Service) (*RuleHandler, error) {
	if service == nil {
		return nil, errors.New("alert rules handler: nil service")
	}
	return &RuleHandler{service: service}, nil
}

type createRuleRequest struct {
	Scope             string  `json:"scope"`
	ScopeID           string  `json:"scopeId"`
	Name              string  `json:"name"`
	TempMin           float64 `json:"tempMin"`
	TempMax           float64 `json:"tempMax"`
	ConfirmTimeOpen   int     `json:"confirmTimeOpenSeconds"`
	ConfirmTimeClosed int     `json:"confirmTimeClosedSeconds"`
	Enabled           *bool   `json:"enabled"`
}

// ServeHTTP handles /api/v1/alert-rules.
func (h *RuleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/alert-rules" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		list, err := h.service.ListRules(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(list)
	case http.MethodPost:
		var req createRuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		rule := &alerts.AlertRule{
			Scope:             alerts.Scope(req.Scope),
			ScopeID:           req.ScopeID,
			Name:              req.Name,
			TempMin:           units.TemperatureFromCelsius(req.TempMin),
			TempMax:           units.TemperatureFromCelsius(req.TempMax),
			ConfirmTimeOpen:   time.Duration(req.ConfirmTimeOpen) * time.Second,
			ConfirmTimeClosed: time.Duration(req.ConfirmTimeClosed) * time.Second,
			Enabled:           enabled,
		}
		if err := h.service.CreateRule(r.Context(), rule); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(rule)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func ensureUnitTenant(r *http.Request, checker auth.UnitTenantChecker, tenantID, unitID string) error {
	if checker == nil || tenantID == "" || unitID == "" {
		return nil
	}
	return checker.EnsureUnitTenant(r.Context(), tenantID, unitID)
}

func respondTenantError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, auth.ErrTenantMismatch) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if errors.Is(err, auth.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "tenant check failed", http.StatusInternalServerError)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
