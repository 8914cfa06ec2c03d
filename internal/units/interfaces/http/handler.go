package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/auth"
	units "coldchain-cloud/internal/units/domain"
	unitrepo "coldchain-cloud/internal/units/infrastructure/postgres"
)

// ThresholdReader resolves the thresholds currently effective for a unit.
type ThresholdReader interface {
	ResolveThresholds(ctx context.Context, unitID string) (alerts.Thresholds, error)
}

// Handler provides unit registration and threshold inspection endpoints.
type Handler struct {
	repo        *unitrepo.UnitRepository
	thresholds  ThresholdReader
	auditLogger audit.Logger
	tenantID    string
}

// NewHandler constructs a handler.
func NewHandler(repo *unitrepo.UnitRepository, thresholds ThresholdReader, auditLogger audit.Logger, tenantID string) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("units handler: nil repository")
	}
	if thresholds == nil {
		return nil, errors.New("units handler: nil threshold reader")
	}
	return &Handler{repo: repo, thresholds: thresholds, auditLogger: auditLogger, tenantID: tenantID}, nil
}

type createUnitRequest struct {
	ID              string   `json:"id"`
	OrgID           string   `json:"orgId"`
	SiteID          string   `json:"siteId"`
	AreaID          string   `json:"areaId"`
	Name            string   `json:"name"`
	BaselineTempMin *float64 `json:"baselineTempMin"`
	BaselineTempMax *float64 `json:"baselineTempMax"`
}

// ServeHTTP handles /api/v1/units and /api/v1/units/{id}/thresholds.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/units":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCreate(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/units/") && strings.HasSuffix(r.URL.Path, "/thresholds"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleThresholds(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.OrgID == "" || req.SiteID == "" {
		http.Error(w, "name, orgId and siteId are required", http.StatusBadRequest)
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		tenantID = h.tenantID
	}

	unit := &units.Unit{
		ID:       req.ID,
		TenantID: tenantID,
		OrgID:    req.OrgID,
		SiteID:   req.SiteID,
		AreaID:   req.AreaID,
		Name:     req.Name,
		Status:   units.StatusOK,
	}
	if unit.ID == "" {
		unit.ID = uuid.NewString()
	}
	if req.BaselineTempMin != nil {
		tempMin := units.TemperatureFromCelsius(*req.BaselineTempMin)
		unit.BaselineTempMin = &tempMin
	}
	if req.BaselineTempMax != nil {
		tempMax := units.TemperatureFromCelsius(*req.BaselineTempMax)
		unit.BaselineTempMax = &tempMax
	}
	if unit.BaselineTempMin != nil && unit.BaselineTempMax != nil && *unit.BaselineTempMin >= *unit.BaselineTempMax {
		http.Error(w, "baselineTempMin must be below baselineTempMax", http.StatusBadRequest)
		return
	}

	if err := h.repo.Create(r.Context(), unit); err != nil {
		http.Error(w, "create unit error", http.StatusInternalServerError)
		return
	}
	h.logAudit(r, unit)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(unit)
}

func (h *Handler) handleThresholds(w http.ResponseWriter, r *http.Request) {
	unitID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/units/"), "/thresholds")
	unitID = strings.Trim(unitID, "/")
	if unitID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	thresholds, err := h.thresholds.ResolveThresholds(r.Context(), unitID)
	if err != nil {
		if errors.Is(err, units.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if errors.Is(err, alerts.ErrMisconfigured) {
			http.Error(w, "unit has no applicable thresholds", http.StatusConflict)
			return
		}
		http.Error(w, "resolve thresholds error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(thresholds)
}

func (h *Handler) logAudit(r *http.Request, unit *units.Unit) {
	if h.auditLogger == nil || unit == nil {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     unit.TenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "unit.create",
		ResourceType: "unit",
		ResourceID:   unit.ID,
		UnitID:       unit.ID,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
