package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/alert/engine"
	"github.com/Folokee/SASSI-Microservices/internal/alert/models"
	"github.com/Folokee/SASSI-Microservices/internal/alert/notifier"
	"github.com/Folokee/SASSI-Microservices/internal/alert/repository"
	"github.com/Folokee/SASSI-Microservices/internal/common/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StateTransitionError 非法告警状态迁移
type StateTransitionError struct {
	AlertID string
	From    string
	Action  string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s alert %s in status %s", e.Action, e.AlertID, e.From)
}

// NotFoundError 实体不存在
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// CreateAlertRequest 创建告警请求
type CreateAlertRequest struct {
	PatientID     string          `json:"patientId"`
	SourceService string          `json:"sourceService"`
	AlertType     string          `json:"alertType"`
	AlertSeverity string          `json:"alertSeverity"`
	Message       string          `json:"message"`
	Timestamp     *time.Time      `json:"timestamp,omitempty"`
	SensorData    json.RawMessage `json:"sensorData,omitempty"`
	EWSData       json.RawMessage `json:"ewsData,omitempty"`
}

// Validate 校验创建告警请求
func (r *CreateAlertRequest) Validate() error {
	if r.PatientID == "" {
		return fmt.Errorf("patientId is required")
	}
	if r.SourceService == "" {
		return fmt.Errorf("sourceService is required")
	}
	if r.AlertType == "" {
		return fmt.Errorf("alertType is required")
	}
	if !models.IsValidSeverity(r.AlertSeverity) {
		return fmt.Errorf("invalid alertSeverity: %s", r.AlertSeverity)
	}
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

// AlertService 告警服务
// 创建告警 → 计算优先级 → 匹配订阅 → 分发通知；管理告警生命周期
type AlertService struct {
	alertsRepo *repository.AlertsRepository
	subsRepo   *repository.SubscriptionsRepository
	notifRepo  *repository.NotificationsRepository
	dispatcher *notifier.Dispatcher
	logger     *zap.Logger
}

// NewAlertService 创建告警服务
func NewAlertService(
	alertsRepo *repository.AlertsRepository,
	subsRepo *repository.SubscriptionsRepository,
	notifRepo *repository.NotificationsRepository,
	dispatcher *notifier.Dispatcher,
	logger *zap.Logger,
) *AlertService {
	return &AlertService{
		alertsRepo: alertsRepo,
		subsRepo:   subsRepo,
		notifRepo:  notifRepo,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// CreateAlert 创建告警并分发通知
func (s *AlertService) CreateAlert(ctx context.Context, req CreateAlertRequest) (*models.Alert, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	observedAt := time.Now().UTC()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		observedAt = req.Timestamp.UTC()
	}

	alert := &models.Alert{
		AlertID:       uuid.NewString(),
		PatientID:     req.PatientID,
		SourceService: req.SourceService,
		AlertType:     req.AlertType,
		AlertSeverity: req.AlertSeverity,
		Message:       req.Message,
		ObservedAt:    observedAt,
		SensorData:    req.SensorData,
		EWSData:       req.EWSData,
		Status:        models.StatusNew,
		Priority:      engine.Priority(req.AlertType, req.AlertSeverity),
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	if err := s.alertsRepo.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	s.logger.Info("Alert created",
		logger.Alert(alert.AlertID),
		logger.Patient(alert.PatientID),
		zap.String("alert_type", alert.AlertType),
		zap.String("severity", alert.AlertSeverity),
		zap.Int("priority", alert.Priority),
	)

	// 通知分发失败不影响告警创建（记录可重发）
	subs, err := s.subsRepo.ListActive(ctx)
	if err != nil {
		s.logger.Error("Failed to load subscriptions",
			logger.Alert(alert.AlertID),
			zap.Error(err),
		)
		return alert, nil
	}

	matched := engine.MatchSubscriptions(subs, alert)
	notifications := s.dispatcher.Dispatch(ctx, alert, matched)
	for _, n := range notifications {
		alert.NotificationIDs = append(alert.NotificationIDs, n.NotificationID)
	}

	return alert, nil
}

// GetAlert 获取告警（含通知 ID 列表）
func (s *AlertService) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	alert, err := s.alertsRepo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, nil
	}

	ids, err := s.notifRepo.ListIDsByAlert(ctx, alertID)
	if err != nil {
		s.logger.Warn("Failed to load notification ids",
			logger.Alert(alertID),
			zap.Error(err),
		)
	} else {
		alert.NotificationIDs = ids
	}
	return alert, nil
}

// ListAlerts 查询告警
func (s *AlertService) ListAlerts(ctx context.Context, filters repository.AlertFilters) ([]*models.Alert, int, error) {
	return s.alertsRepo.ListAlerts(ctx, filters)
}

// Acknowledge 确认告警（仅允许 NEW/ESCALATED）
func (s *AlertService) Acknowledge(ctx context.Context, alertID, userID string) (*models.Alert, error) {
	if userID == "" {
		return nil, fmt.Errorf("userId is required")
	}

	alert, err := s.alertsRepo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, &NotFoundError{Entity: "alert", ID: alertID}
	}
	if alert.Status != models.StatusNew && alert.Status != models.StatusEscalated {
		return nil, &StateTransitionError{AlertID: alertID, From: alert.Status, Action: "acknowledge"}
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":          models.StatusAcknowledged,
		"acknowledged_by": userID,
		"acknowledged_at": now,
	}
	if err := s.alertsRepo.UpdateAlert(ctx, alertID, updates); err != nil {
		return nil, err
	}

	alert.Status = models.StatusAcknowledged
	alert.AcknowledgedBy = &userID
	alert.AcknowledgedAt = &now
	return alert, nil
}

// Resolve 解决告警（已 RESOLVED 时拒绝）
func (s *AlertService) Resolve(ctx context.Context, alertID, userID string, resolution *string) (*models.Alert, error) {
	if userID == "" {
		return nil, fmt.Errorf("userId is required")
	}

	alert, err := s.alertsRepo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, &NotFoundError{Entity: "alert", ID: alertID}
	}
	if alert.Status == models.StatusResolved {
		return nil, &StateTransitionError{AlertID: alertID, From: alert.Status, Action: "resolve"}
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":      models.StatusResolved,
		"resolved_by": userID,
		"resolved_at": now,
	}
	if resolution != nil {
		updates["resolution"] = *resolution
	}
	if err := s.alertsRepo.UpdateAlert(ctx, alertID, updates); err != nil {
		return nil, err
	}

	alert.Status = models.StatusResolved
	alert.ResolvedBy = &userID
	alert.ResolvedAt = &now
	alert.Resolution = resolution
	return alert, nil
}

// Escalate 升级告警：状态转 ESCALATED、优先级 +10（约束），
// 并对升级层订阅（department 级、HIGH minSeverity）再发一轮通知。
// 已 RESOLVED 的告警拒绝升级
func (s *AlertService) Escalate(ctx context.Context, alertID string, reason *string) (*models.Alert, error) {
	alert, err := s.alertsRepo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, &NotFoundError{Entity: "alert", ID: alertID}
	}
	if alert.Status == models.StatusResolved {
		return nil, &StateTransitionError{AlertID: alertID, From: alert.Status, Action: "escalate"}
	}

	now := time.Now().UTC()
	newPriority := engine.ClampPriority(alert.Priority + 10)
	updates := map[string]interface{}{
		"status":       models.StatusEscalated,
		"priority":     newPriority,
		"escalated_at": now,
	}
	if reason != nil {
		updates["escalation_note"] = *reason
	}
	if err := s.alertsRepo.UpdateAlert(ctx, alertID, updates); err != nil {
		return nil, err
	}

	alert.Status = models.StatusEscalated
	alert.Priority = newPriority
	alert.EscalatedAt = &now
	alert.EscalationNote = reason

	s.logger.Info("Alert escalated",
		logger.Alert(alertID),
		zap.Int("priority", newPriority),
	)

	// 升级层通知
	subs, err := s.subsRepo.ListEscalationTier(ctx, alert.PatientID)
	if err != nil {
		s.logger.Error("Failed to load escalation subscriptions",
			logger.Alert(alertID),
			zap.Error(err),
		)
		return alert, nil
	}
	s.dispatcher.Dispatch(ctx, alert, subs)

	return alert, nil
}

// ConsensusInput 评分共识的告警输入
type ConsensusInput struct {
	ConsensusID    string
	PatientID      string
	ConsensusScore int
	ClinicalRisk   string
	ConsensusAt    time.Time
	Valid          bool
	Method         string
	NodeScores     json.RawMessage
}

// CreateFromConsensus 从评分共识分类并创建告警
// 低于告警阈值时返回 (nil, nil)；每个共识至多产生一条告警
func (s *AlertService) CreateFromConsensus(ctx context.Context, in ConsensusInput) (*models.Alert, error) {
	classification := engine.Classify(in.ConsensusScore, in.Valid)
	if classification == nil {
		return nil, nil
	}

	ewsData, err := json.Marshal(map[string]any{
		"consensusId":    in.ConsensusID,
		"consensusScore": in.ConsensusScore,
		"clinicalRisk":   in.ClinicalRisk,
		"valid":          in.Valid,
		"method":         in.Method,
		"nodeScores":     in.NodeScores,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ews data: %w", err)
	}

	ts := in.ConsensusAt
	return s.CreateAlert(ctx, CreateAlertRequest{
		PatientID:     in.PatientID,
		SourceService: "sassi-ews",
		AlertType:     classification.AlertType,
		AlertSeverity: classification.Severity,
		Message:       classification.Message,
		Timestamp:     &ts,
		EWSData:       ewsData,
	})
}

// ===== 订阅管理 =====

// CreateSubscription 创建订阅
func (s *AlertService) CreateSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if sub.SubscriberType == "" || sub.SubscriberID == "" {
		return nil, fmt.Errorf("subscriberType and subscriberId are required")
	}
	if len(sub.Channels) == 0 {
		return nil, fmt.Errorf("subscription must have at least one channel")
	}
	if sub.MinSeverity == "" {
		sub.MinSeverity = models.SeverityLow
	}
	if !models.IsValidSeverity(sub.MinSeverity) {
		return nil, fmt.Errorf("invalid minSeverity: %s", sub.MinSeverity)
	}
	if sub.AlertTypes == nil {
		sub.AlertTypes = []string{}
	}

	sub.SubscriptionID = uuid.NewString()
	sub.CreatedAt = time.Now().UTC()
	sub.UpdatedAt = sub.CreatedAt

	if err := s.subsRepo.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubscription 获取订阅
func (s *AlertService) GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	return s.subsRepo.GetSubscription(ctx, subscriptionID)
}

// ListSubscriptions 全部订阅
func (s *AlertService) ListSubscriptions(ctx context.Context) ([]*models.Subscription, error) {
	return s.subsRepo.ListAll(ctx)
}

// UpdateSubscription 更新订阅
func (s *AlertService) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	if len(sub.Channels) == 0 {
		return fmt.Errorf("subscription must have at least one channel")
	}
	if !models.IsValidSeverity(sub.MinSeverity) {
		return fmt.Errorf("invalid minSeverity: %s", sub.MinSeverity)
	}
	return s.subsRepo.UpdateSubscription(ctx, sub)
}

// DeleteSubscription 删除订阅
func (s *AlertService) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	return s.subsRepo.DeleteSubscription(ctx, subscriptionID)
}

// ===== 通知查询 / 重发 =====

// ListNotifications 查询通知
func (s *AlertService) ListNotifications(ctx context.Context, filters repository.NotificationFilters) ([]*models.Notification, error) {
	return s.notifRepo.ListNotifications(ctx, filters)
}

// ResendNotification 重发通知
func (s *AlertService) ResendNotification(ctx context.Context, notificationID string) (*models.Notification, error) {
	n, err := s.dispatcher.Resend(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &NotFoundError{Entity: "notification", ID: notificationID}
	}
	return n, nil
}
