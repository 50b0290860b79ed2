package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/alert/models"
	"github.com/Folokee/SASSI-Microservices/internal/common/httpx"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// AlertExportHeader 告警导出表头
var AlertExportHeader = []string{
	"Alert ID",
	"Patient ID",
	"Type",
	"Severity",
	"Status",
	"Priority",
	"Message",
	"Observed At",
	"Acknowledged By",
	"Resolved By",
}

// ExportAlerts 导出告警报表（xlsx）
func (h *Handler) ExportAlerts(w http.ResponseWriter, r *http.Request) {
	filters, err := parseAlertFilters(r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	// 导出不分页，放宽上限
	filters.Limit = 200
	filters.Offset = 0

	alerts, _, err := h.alerts.ListAlerts(r.Context(), filters)
	if err != nil {
		h.logger.Error("ExportAlerts query failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query alerts")
		return
	}

	data, err := generateAlertExcel(alerts)
	if err != nil {
		h.logger.Error("ExportAlerts generation failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to generate report")
		return
	}

	filename := fmt.Sprintf("alerts-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// generateAlertExcel 生成告警报表文件
func generateAlertExcel(alerts []*models.Alert) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteToBuffer needs the file to be open

	sheetName := "Alerts"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	for col, header := range AlertExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to compute header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell: %w", err)
		}
	}

	for i, alert := range alerts {
		row := i + 2
		values := []any{
			alert.AlertID,
			alert.PatientID,
			alert.AlertType,
			alert.AlertSeverity,
			alert.Status,
			alert.Priority,
			alert.Message,
			alert.ObservedAt.UTC().Format(time.RFC3339),
			derefOrEmpty(alert.AcknowledgedBy),
			derefOrEmpty(alert.ResolvedBy),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to compute cell: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	f.Close()
	return buf.Bytes(), nil
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
