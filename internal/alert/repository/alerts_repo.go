package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/alert/models"

	"go.uber.org/zap"
)

// AlertsRepository 告警仓库
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建告警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
	alert_id,
	patient_id,
	source_service,
	alert_type,
	alert_severity,
	message,
	observed_at,
	sensor_data,
	ews_data,
	status,
	priority,
	acknowledged_by,
	acknowledged_at,
	resolved_by,
	resolved_at,
	resolution,
	escalated_at,
	escalation_note,
	created_at,
	updated_at
`

// CreateAlert 创建告警
func (r *AlertsRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}

	sensorData := alert.SensorData
	if len(sensorData) == 0 {
		sensorData = json.RawMessage("{}")
	}
	ewsData := alert.EWSData
	if len(ewsData) == 0 {
		ewsData = json.RawMessage("{}")
	}

	query := `
		INSERT INTO alerts (
			alert_id,
			patient_id,
			source_service,
			alert_type,
			alert_severity,
			message,
			observed_at,
			sensor_data,
			ews_data,
			status,
			priority,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		alert.AlertID,
		alert.PatientID,
		alert.SourceService,
		alert.AlertType,
		alert.AlertSeverity,
		alert.Message,
		alert.ObservedAt,
		[]byte(sensorData),
		[]byte(ewsData),
		alert.Status,
		alert.Priority,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	return nil
}

// GetAlert 按 alert_id 获取告警
func (r *AlertsRepository) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE alert_id = $1`, alertColumns)

	row := r.db.QueryRowContext(ctx, query, alertID)
	alert, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// AlertFilters 告警查询过滤条件
type AlertFilters struct {
	PatientID *string
	Status    *string
	Severity  *string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// ListAlerts 查询告警（优先级降序、时间降序）
func (r *AlertsRepository) ListAlerts(ctx context.Context, filters AlertFilters) ([]*models.Alert, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	argN := 1

	if filters.PatientID != nil {
		where = append(where, fmt.Sprintf("patient_id = $%d", argN))
		args = append(args, *filters.PatientID)
		argN++
	}
	if filters.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, *filters.Status)
		argN++
	}
	if filters.Severity != nil {
		where = append(where, fmt.Sprintf("alert_severity = $%d", argN))
		args = append(args, *filters.Severity)
		argN++
	}
	if filters.From != nil {
		where = append(where, fmt.Sprintf("observed_at >= $%d", argN))
		args = append(args, *filters.From)
		argN++
	}
	if filters.To != nil {
		where = append(where, fmt.Sprintf("observed_at <= $%d", argN))
		args = append(args, *filters.To)
		argN++
	}

	whereClause := strings.Join(where, " AND ")

	queryCount := fmt.Sprintf(`SELECT COUNT(*) FROM alerts WHERE %s`, whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		WHERE %s
		ORDER BY priority DESC, observed_at DESC
		LIMIT $%d OFFSET $%d
	`, alertColumns, whereClause, argN, argN+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, total, nil
}

// UpdateAlert 部分更新告警
func (r *AlertsRepository) UpdateAlert(ctx context.Context, alertID string, updates map[string]interface{}) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if len(updates) == 0 {
		return fmt.Errorf("updates cannot be empty")
	}

	allowedFields := map[string]bool{
		"status":          true,
		"priority":        true,
		"acknowledged_by": true,
		"acknowledged_at": true,
		"resolved_by":     true,
		"resolved_at":     true,
		"resolution":      true,
		"escalated_at":    true,
		"escalation_note": true,
	}

	setParts := []string{}
	args := []interface{}{}
	argN := 1

	for field, value := range updates {
		if !allowedFields[field] {
			return fmt.Errorf("field '%s' is not allowed to update", field)
		}
		setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argN))
		args = append(args, value)
		argN++
	}

	setParts = append(setParts, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, alertID)

	query := fmt.Sprintf(`
		UPDATE alerts
		SET %s
		WHERE alert_id = $%d
	`, strings.Join(setParts, ", "), argN)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found: alert_id=%s", alertID)
	}

	return nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var sensorData, ewsData []byte
	var ackBy, resolvedBy, resolution, escalationNote sql.NullString
	var ackAt, resolvedAt, escalatedAt sql.NullTime

	err := row.Scan(
		&alert.AlertID,
		&alert.PatientID,
		&alert.SourceService,
		&alert.AlertType,
		&alert.AlertSeverity,
		&alert.Message,
		&alert.ObservedAt,
		&sensorData,
		&ewsData,
		&alert.Status,
		&alert.Priority,
		&ackBy,
		&ackAt,
		&resolvedBy,
		&resolvedAt,
		&resolution,
		&escalatedAt,
		&escalationNote,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if ackBy.Valid {
		alert.AcknowledgedBy = &ackBy.String
	}
	if ackAt.Valid {
		alert.AcknowledgedAt = &ackAt.Time
	}
	if resolvedBy.Valid {
		alert.ResolvedBy = &resolvedBy.String
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	if resolution.Valid {
		alert.Resolution = &resolution.String
	}
	if escalatedAt.Valid {
		alert.EscalatedAt = &escalatedAt.Time
	}
	if escalationNote.Valid {
		alert.EscalationNote = &escalationNote.String
	}

	if len(sensorData) > 0 {
		alert.SensorData = sensorData
	} else {
		alert.SensorData = json.RawMessage("{}")
	}
	if len(ewsData) > 0 {
		alert.EWSData = ewsData
	} else {
		alert.EWSData = json.RawMessage("{}")
	}

	return &alert, nil
}

// rowScanner QueryRow 与 Rows 共用的扫描接口
type rowScanner interface {
	Scan(dest ...interface{}) error
}
