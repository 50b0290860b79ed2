package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Folokee/SASSI-Microservices/internal/alert/models"

	"go.uber.org/zap"
)

// NotificationsRepository 通知仓库
type NotificationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationsRepository 创建通知仓库
func NewNotificationsRepository(db *sql.DB, logger *zap.Logger) *NotificationsRepository {
	return &NotificationsRepository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `
	notification_id,
	alert_id,
	patient_id,
	channel_kind,
	recipient,
	content,
	status,
	sent_at,
	delivered_at,
	error_message,
	created_at,
	updated_at
`

// CreateNotification 创建通知记录
func (r *NotificationsRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n == nil {
		return fmt.Errorf("notification is required")
	}

	query := `
		INSERT INTO notifications (
			notification_id,
			alert_id,
			patient_id,
			channel_kind,
			recipient,
			content,
			status,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.NotificationID,
		n.AlertID,
		n.PatientID,
		n.ChannelKind,
		n.Recipient,
		n.Content,
		n.Status,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// GetNotification 按 ID 获取通知
func (r *NotificationsRepository) GetNotification(ctx context.Context, notificationID string) (*models.Notification, error) {
	if notificationID == "" {
		return nil, fmt.Errorf("notification_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE notification_id = $1`, notificationColumns)

	row := r.db.QueryRowContext(ctx, query, notificationID)
	n, err := scanNotification(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// UpdateStatus 更新通知状态（状态机迁移由服务层保证）
func (r *NotificationsRepository) UpdateStatus(ctx context.Context, n *models.Notification) error {
	if n == nil || n.NotificationID == "" {
		return fmt.Errorf("notification_id is required")
	}

	query := `
		UPDATE notifications
		SET status = $1,
		    sent_at = $2,
		    delivered_at = $3,
		    error_message = $4,
		    updated_at = CURRENT_TIMESTAMP
		WHERE notification_id = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		n.Status,
		n.SentAt,
		n.DeliveredAt,
		n.ErrorMessage,
		n.NotificationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("notification not found: notification_id=%s", n.NotificationID)
	}

	return nil
}

// NotificationFilters 通知查询过滤条件
type NotificationFilters struct {
	AlertID   *string
	PatientID *string
	Status    *string
	Limit     int
}

// ListNotifications 查询通知（按创建时间降序）
func (r *NotificationsRepository) ListNotifications(ctx context.Context, filters NotificationFilters) ([]*models.Notification, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	argN := 1

	if filters.AlertID != nil {
		where = append(where, fmt.Sprintf("alert_id = $%d", argN))
		args = append(args, *filters.AlertID)
		argN++
	}
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

	limit := filters.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM notifications
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d
	`, notificationColumns, strings.Join(where, " AND "), argN)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	return notifications, nil
}

// ListIDsByAlert 获取告警关联的通知 ID 列表
func (r *NotificationsRepository) ListIDsByAlert(ctx context.Context, alertID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT notification_id FROM notifications WHERE alert_id = $1 ORDER BY created_at`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan notification id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notification ids: %w", err)
	}
	return ids, nil
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	var sentAt, deliveredAt sql.NullTime
	var errorMessage sql.NullString

	err := row.Scan(
		&n.NotificationID,
		&n.AlertID,
		&n.PatientID,
		&n.ChannelKind,
		&n.Recipient,
		&n.Content,
		&n.Status,
		&sentAt,
		&deliveredAt,
		&errorMessage,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		n.DeliveredAt = &deliveredAt.Time
	}
	if errorMessage.Valid {
		n.ErrorMessage = &errorMessage.String
	}

	return &n, nil
}
