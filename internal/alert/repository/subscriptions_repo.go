package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Folokee/SASSI-Microservices/internal/alert/models"

	"go.uber.org/zap"
)

// SubscriptionsRepository 订阅仓库
type SubscriptionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSubscriptionsRepository 创建订阅仓库
func NewSubscriptionsRepository(db *sql.DB, logger *zap.Logger) *SubscriptionsRepository {
	return &SubscriptionsRepository{
		db:     db,
		logger: logger,
	}
}

const subscriptionColumns = `
	subscription_id,
	subscriber_type,
	subscriber_id,
	patient_id,
	alert_types,
	min_severity,
	channels,
	active,
	created_at,
	updated_at
`

// CreateSubscription 创建订阅
func (r *SubscriptionsRepository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription is required")
	}
	if len(sub.Channels) == 0 {
		return fmt.Errorf("subscription must have at least one channel")
	}

	alertTypes, err := json.Marshal(sub.AlertTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal alert types: %w", err)
	}
	channels, err := json.Marshal(sub.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	query := `
		INSERT INTO subscriptions (
			subscription_id,
			subscriber_type,
			subscriber_id,
			patient_id,
			alert_types,
			min_severity,
			channels,
			active,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		sub.SubscriptionID,
		sub.SubscriberType,
		sub.SubscriberID,
		sub.PatientID,
		alertTypes,
		sub.MinSeverity,
		channels,
		sub.Active,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

// GetSubscription 按 ID 获取订阅
func (r *SubscriptionsRepository) GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE subscription_id = $1`, subscriptionColumns)

	row := r.db.QueryRowContext(ctx, query, subscriptionID)
	sub, err := scanSubscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListActive 查询全部启用的订阅（匹配在内存中完成）
func (r *SubscriptionsRepository) ListActive(ctx context.Context) ([]*models.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM subscriptions
		WHERE active = true
		ORDER BY created_at
	`, subscriptionColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ListAll 查询全部订阅
func (r *SubscriptionsRepository) ListAll(ctx context.Context) ([]*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions ORDER BY created_at`, subscriptionColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ListEscalationTier 查询升级层订阅：department 级、HIGH minSeverity、指定患者或全局
func (r *SubscriptionsRepository) ListEscalationTier(ctx context.Context, patientID string) ([]*models.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM subscriptions
		WHERE active = true
		  AND subscriber_type = $1
		  AND min_severity = $2
		  AND (patient_id IS NULL OR patient_id = $3)
		ORDER BY created_at
	`, subscriptionColumns)

	rows, err := r.db.QueryContext(ctx, query, models.SubscriberDepartment, models.SeverityHigh, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// UpdateSubscription 整体更新订阅
func (r *SubscriptionsRepository) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub == nil || sub.SubscriptionID == "" {
		return fmt.Errorf("subscription_id is required")
	}
	if len(sub.Channels) == 0 {
		return fmt.Errorf("subscription must have at least one channel")
	}

	alertTypes, err := json.Marshal(sub.AlertTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal alert types: %w", err)
	}
	channels, err := json.Marshal(sub.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	query := `
		UPDATE subscriptions
		SET subscriber_type = $1,
		    subscriber_id = $2,
		    patient_id = $3,
		    alert_types = $4,
		    min_severity = $5,
		    channels = $6,
		    active = $7,
		    updated_at = CURRENT_TIMESTAMP
		WHERE subscription_id = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		sub.SubscriberType,
		sub.SubscriberID,
		sub.PatientID,
		alertTypes,
		sub.MinSeverity,
		channels,
		sub.Active,
		sub.SubscriptionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("subscription not found: subscription_id=%s", sub.SubscriptionID)
	}

	return nil
}

// DeleteSubscription 删除订阅
func (r *SubscriptionsRepository) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return fmt.Errorf("subscription_id is required")
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE subscription_id = $1`, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("subscription not found: subscription_id=%s", subscriptionID)
	}

	return nil
}

func collectSubscriptions(rows *sql.Rows) ([]*models.Subscription, error) {
	subs := []*models.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var patientID sql.NullString
	var alertTypes, channels []byte

	err := row.Scan(
		&sub.SubscriptionID,
		&sub.SubscriberType,
		&sub.SubscriberID,
		&patientID,
		&alertTypes,
		&sub.MinSeverity,
		&channels,
		&sub.Active,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if patientID.Valid {
		sub.PatientID = &patientID.String
	}
	if len(alertTypes) > 0 {
		if err := json.Unmarshal(alertTypes, &sub.AlertTypes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert types: %w", err)
		}
	}
	if sub.AlertTypes == nil {
		sub.AlertTypes = []string{}
	}
	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &sub.Channels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
		}
	}

	return &sub, nil
}
