package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/alert/models"
	"github.com/Folokee/SASSI-Microservices/internal/alert/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StateTransitionError 非法通知状态迁移
type StateTransitionError struct {
	From string
	To   string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("illegal notification transition: %s -> %s", e.From, e.To)
}

// Dispatcher 通知分发器
//
// 对每个匹配的订阅渠道：组装内容 → 创建 PENDING 记录 → 渠道发送 →
// 成功转 SENT（带 sentAt），失败转 FAILED（带 errorMessage）。
// resend 仅允许从 FAILED/PENDING 发起，原地复用同一 notificationId。
type Dispatcher struct {
	repo     *repository.NotificationsRepository
	channels map[string]Channel
	logger   *zap.Logger
}

// NewDispatcher 创建通知分发器
func NewDispatcher(repo *repository.NotificationsRepository, channels []Channel, logger *zap.Logger) *Dispatcher {
	byKind := make(map[string]Channel, len(channels))
	for _, c := range channels {
		byKind[c.Kind()] = c
	}
	return &Dispatcher{
		repo:     repo,
		channels: byKind,
		logger:   logger,
	}
}

// composeContent 组装渠道通知内容
func composeContent(alert *models.Alert) string {
	return fmt.Sprintf(
		"[%s] %s alert for patient %s: %s (priority %d)",
		alert.AlertSeverity, alert.AlertType, alert.PatientID, alert.Message, alert.Priority,
	)
}

// composeSubject 组装通知主题
func composeSubject(alert *models.Alert) string {
	return fmt.Sprintf("[%s] %s - patient %s", alert.AlertSeverity, alert.AlertType, alert.PatientID)
}

// Dispatch 对匹配的订阅集合创建并发送通知，返回创建的通知记录
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert, subs []*models.Subscription) []*models.Notification {
	notifications := []*models.Notification{}

	for _, sub := range subs {
		for _, ch := range sub.Channels {
			if !ch.Enabled {
				continue
			}

			n := &models.Notification{
				NotificationID: uuid.NewString(),
				AlertID:        alert.AlertID,
				PatientID:      alert.PatientID,
				ChannelKind:    ch.Kind,
				Recipient:      ch.Contact,
				Content:        composeContent(alert),
				Status:         models.NotificationPending,
				CreatedAt:      time.Now().UTC(),
				UpdatedAt:      time.Now().UTC(),
			}

			if err := d.repo.CreateNotification(ctx, n); err != nil {
				d.logger.Error("Failed to create notification",
					zap.String("alert_id", alert.AlertID),
					zap.String("channel", ch.Kind),
					zap.Error(err),
				)
				continue
			}
			notifications = append(notifications, n)

			d.send(ctx, n, composeSubject(alert))
		}
	}

	return notifications
}

// send 执行单条发送并落状态
func (d *Dispatcher) send(ctx context.Context, n *models.Notification, subject string) {
	channel, ok := d.channels[n.ChannelKind]
	if !ok {
		msg := fmt.Sprintf("unsupported channel kind: %s", n.ChannelKind)
		n.Status = models.NotificationFailed
		n.ErrorMessage = &msg
	} else if err := channel.Send(ctx, n, subject); err != nil {
		msg := err.Error()
		n.Status = models.NotificationFailed
		n.ErrorMessage = &msg
		d.logger.Error("Notification send failed",
			zap.String("notification_id", n.NotificationID),
			zap.String("channel", n.ChannelKind),
			zap.Error(err),
		)
	} else {
		now := time.Now().UTC()
		n.Status = models.NotificationSent
		n.SentAt = &now
		n.ErrorMessage = nil
	}

	if err := d.repo.UpdateStatus(ctx, n); err != nil {
		d.logger.Error("Failed to persist notification status",
			zap.String("notification_id", n.NotificationID),
			zap.Error(err),
		)
	}
}

// Resend 重发通知（仅允许 FAILED/PENDING；复用同一 notificationId 与内容）
func (d *Dispatcher) Resend(ctx context.Context, notificationID string) (*models.Notification, error) {
	n, err := d.repo.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}

	if n.Status != models.NotificationFailed && n.Status != models.NotificationPending {
		return nil, &StateTransitionError{From: n.Status, To: models.NotificationPending}
	}

	// 显式回到 PENDING 后重走发送路径
	n.Status = models.NotificationPending
	n.ErrorMessage = nil
	if err := d.repo.UpdateStatus(ctx, n); err != nil {
		return nil, err
	}

	subject := fmt.Sprintf("[resend] notification %s", n.NotificationID)
	d.send(ctx, n, subject)
	return n, nil
}

// MarkDelivered 渠道回执：SENT → DELIVERED
func (d *Dispatcher) MarkDelivered(ctx context.Context, notificationID string) (*models.Notification, error) {
	n, err := d.repo.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	if n.Status != models.NotificationSent {
		return nil, &StateTransitionError{From: n.Status, To: models.NotificationDelivered}
	}

	now := time.Now().UTC()
	n.Status = models.NotificationDelivered
	n.DeliveredAt = &now
	if err := d.repo.UpdateStatus(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}
