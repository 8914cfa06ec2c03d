package http

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alertapp "coldchain-cloud/internal/alerts/application"
	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/observability/metrics"
)

// BuildAlertsCSV renders alert history as CSV.
func BuildAlertsCSV(list []alerts.Alert) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{
		"id",
		"tenant_id",
		"unit_id",
		"alert_type",
		"severity",
		"status",
		"threshold_violated",
		"triggered_at",
		"escalated_at",
		"acked_at",
		"resolved_at",
		"last_temperature_c",
	}); err != nil {
		return nil, err
	}
	for _, alert := range list {
		if err := writer.Write([]string{
			alert.ID,
			alert.TenantID,
			alert.UnitID,
			alert.AlertType,
			alert.Severity,
			alert.Status,
			string(alert.ThresholdViolated),
			formatTime(alert.TriggeredAt),
			formatTime(alert.EscalatedAt),
			formatTime(alert.AckedAt),
			formatTime(alert.ResolvedAt),
			alert.LastTemperature.String(),
		}); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsXLSX renders alert history as a workbook.
func BuildAlertsXLSX(list []alerts.Alert) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "alerts"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"ID", "Unit", "Type", "Severity", "Status", "Violated", "Triggered At", "Escalated At", "Acked At", "Resolved At", "Last Temp (C)"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, header)
	}
	for i, alert := range list {
		row := i + 2
		values := []any{
			alert.ID,
			alert.UnitID,
			alert.AlertType,
			alert.Severity,
			alert.Status,
			string(alert.ThresholdViolated),
			formatTime(alert.TriggeredAt),
			formatTime(alert.EscalatedAt),
			formatTime(alert.AckedAt),
			formatTime(alert.ResolvedAt),
			alert.LastTemperature.Celsius(),
		}
		for j, value := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, row)
			_ = f.SetCellValue(sheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsPDF renders alert history as a minimal PDF report.
func BuildAlertsPDF(tenantID string, from, to time.Time, list []alerts.Alert) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alert History Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Tenant: %s", tenantID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Window: %s .. %s", from.Format(time.RFC3339), to.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alerts: %d", len(list)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(50, 6, "Unit", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Violated", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Triggered", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Resolved", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Last Temp (C)", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, alert := range list {
		pdf.CellFormat(50, 6, alert.UnitID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, alert.Severity, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, alert.Status, "1", 0, "C", false, 0, "")
		pdf.CellFormat(22, 6, string(alert.ThresholdViolated), "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, formatTime(alert.TriggeredAt), "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, formatTime(alert.ResolvedAt), "1", 0, "C", false, 0, "")
		pdf.CellFormat(28, 6, alert.LastTemperature.String(), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportHandler serves alert history exports.
type ExportHandler struct {
	service *alertapp.Service
}

// NewExportHandler constructs an export handler.
func NewExportHandler(service *alertapp.Service) (*ExportHandler, error) {
	if service == nil {
		return nil, errors.New("alert export handler: nil service")
	}
	return &ExportHandler{service: service}, nil
}

// ServeHTTP handles GET /api/v1/exports/alerts.{csv,xlsx,pdf}.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	format := strings.TrimPrefix(r.URL.Path, "/api/v1/exports/alerts.")
	switch format {
	case "csv", "xlsx", "pdf":
	default:
		w.WriteHeader(http.StatusNotFound)
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

	started := time.Now()
	list, err := h.service.ListForExport(r.Context(), from, to)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, "query alerts error", http.StatusInternalServerError)
		return
	}

	var (
		body        []byte
		contentType string
	)
	switch format {
	case "csv":
		body, err = BuildAlertsCSV(list)
		contentType = "text/csv; charset=utf-8"
	case "xlsx":
		body, err = BuildAlertsXLSX(list)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		tenantID := ""
		if len(list) > 0 {
			tenantID = list[0].TenantID
		}
		body, err = BuildAlertsPDF(tenantID, from, to, list)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, "build export error", http.StatusInternalServerError)
		return
	}

	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="alerts.`+format+`"`)
	_, _ = w.Write(body)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
