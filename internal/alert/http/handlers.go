package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Folokee/SASSI-Microservices/internal/alert/models"
	"github.com/Folokee/SASSI-Microservices/internal/alert/notifier"
	"github.com/Folokee/SASSI-Microservices/internal/alert/repository"
	"github.com/Folokee/SASSI-Microservices/internal/alert/service"
	"github.com/Folokee/SASSI-Microservices/internal/common/httpx"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Handler 告警服务 HTTP Handler
type Handler struct {
	alerts *service.AlertService
	logger *zap.Logger
}

// NewHandler 创建告警服务 Handler
func NewHandler(alerts *service.AlertService, logger *zap.Logger) *Handler {
	return &Handler{
		alerts: alerts,
		logger: logger,
	}
}

// Router 注册路由
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/alerts", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.CreateAlert(w, r)
		case http.MethodGet:
			h.ListAlerts(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/alerts/export", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ExportAlerts(w, r)
	})

	mux.HandleFunc("/api/alerts/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/alerts/")
		parts := strings.Split(rest, "/")

		switch {
		case len(parts) == 1 && parts[0] != "" && r.Method == http.MethodGet:
			h.GetAlert(w, r, parts[0])
		case len(parts) == 2 && parts[1] == "acknowledge" && r.Method == http.MethodPut:
			h.AcknowledgeAlert(w, r, parts[0])
		case len(parts) == 2 && parts[1] == "resolve" && r.Method == http.MethodPut:
			h.ResolveAlert(w, r, parts[0])
		case len(parts) == 2 && parts[1] == "escalate" && r.Method == http.MethodPut:
			h.EscalateAlert(w, r, parts[0])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	mux.HandleFunc("/api/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.CreateSubscription(w, r)
		case http.MethodGet:
			h.ListSubscriptions(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/subscriptions/", func(w http.ResponseWriter, r *http.Request) {
		subscriptionID := strings.TrimPrefix(r.URL.Path, "/api/subscriptions/")
		if subscriptionID == "" || strings.Contains(subscriptionID, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.GetSubscription(w, r, subscriptionID)
		case http.MethodPut:
			h.UpdateSubscription(w, r, subscriptionID)
		case http.MethodDelete:
			h.DeleteSubscription(w, r, subscriptionID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ListNotifications(w, r)
	})

	mux.HandleFunc("/api/notifications/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
		parts := strings.Split(rest, "/")
		if len(parts) == 2 && parts[1] == "resend" && r.Method == http.MethodPost {
			h.ResendNotification(w, r, parts[0])
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// CreateAlert 创建告警
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAlertRequest
	if err := httpx.ReadBodyJSON(r, maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	alert, err := h.alerts.CreateAlert(r.Context(), req)
	if err != nil {
		h.logger.Error("CreateAlert failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create alert")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, alert)
}

// ListAlerts 查询告警
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filters, err := parseAlertFilters(r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	alerts, total, err := h.alerts.ListAlerts(r.Context(), filters)
	if err != nil {
		h.logger.Error("ListAlerts failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query alerts")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"total":  total,
	})
}

// GetAlert 获取告警
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	alert, err := h.alerts.GetAlert(r.Context(), alertID)
	if err != nil {
		h.logger.Error("GetAlert failed", zap.String("alert_id", alertID), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query alert")
		return
	}
	if alert == nil {
		httpx.WriteError(w, http.StatusNotFound, "alert not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, alert)
}

// AcknowledgeAlert 确认告警
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := httpx.ReadBodyJSON(r, maxBodyBytes, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.UserID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "userId is required")
		return
	}

	alert, err := h.alerts.Acknowledge(r.Context(), alertID, body.UserID)
	if err != nil {
		h.writeLifecycleError(w, "AcknowledgeAlert", alertID, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, alert)
}

// ResolveAlert 解决告警
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	var body struct {
		UserID     string  `json:"userId"`
		Resolution *string `json:"resolution,omitempty"`
	}
	if err := httpx.ReadBodyJSON(r, maxBodyBytes, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.UserID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "userId is required")
		return
	}

	alert, err := h.alerts.Resolve(r.Context(), alertID, body.UserID, body.Resolution)
	if err != nil {
		h.writeLifecycleError(w, "ResolveAlert", alertID, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, alert)
}

// EscalateAlert 升级告警
func (h *Handler) EscalateAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	var body struct {
		Reason *string `json:"reason,omitempty"`
	}
	if err := httpx.ReadBodyJSON(r, maxBodyBytes, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	alert, err := h.alerts.Escalate(r.Context(), alertID, body.Reason)
	if err != nil {
		h.writeLifecycleError(w, "EscalateAlert", alertID, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, alert)
}

// writeLifecycleError 生命周期操作错误 → HTTP 状态码
func (h *Handler) writeLifecycleError(w http.ResponseWriter, op, alertID string, err error) {
	var notFound *service.NotFoundError
	if errors.As(err, &notFound) {
		httpx.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	var transition *service.StateTransitionError
	if errors.As(err, &transition) {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var notifTransition *notifier.StateTransitionError
	if errors.As(err, &notifTransition) {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.Contains(err.Error(), "required") {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Error(op+" failed", zap.String("alert_id", alertID), zap.Error(err))
	httpx.WriteError(w, http.StatusInternalServerError, "operation failed")
}

// CreateSubscription 创建订阅
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var sub models.Subscription
	if err := httpx.ReadBodyJSON(r, maxBodyBytes, &sub); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := h.alerts.CreateSubscription(r.Context(), &sub)
	if err != nil {
		if strings.Contains(err.Error(), "required") || strings.Contains(err.Error(), "invalid") ||
			strings.Contains(err.Error(), "at least one channel") {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("CreateSubscription failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, created)
}

// ListSubscriptions 全部订阅
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.alerts.ListSubscriptions(r.Context())
	if err != nil {
		h.logger.Error("ListSubscriptions failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query subscriptions")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, subs)
}

// GetSubscription 获取订阅
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request, subscriptionID string) {
	sub, err := h.alerts.GetSubscription(r.Context(), subscriptionID)
	if err != nil {
		h.logger.Error("GetSubscription failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query subscription")
		return
	}
	if sub == nil {
		httpx.WriteError(w, http.StatusNotFound, "subscription not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sub)
}

// UpdateSubscription 更新订阅
func (h *Handler) UpdateSubscription(w http.ResponseWriter, r *http.Request, subscriptionID string) {
	var sub models.Subscription
	if err := httpx.ReadBodyJSON(r, maxBodyBytes, &sub); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sub.SubscriptionID = subscriptionID

	if err := h.alerts.UpdateSubscription(r.Context(), &sub); err != nil {
		if strings.Contains(err.Error(), "not found") {
			httpx.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		if strings.Contains(err.Error(), "invalid") || strings.Contains(err.Error(), "at least one channel") {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("UpdateSubscription failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to update subscription")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sub)
}

// DeleteSubscription 删除订阅
func (h *Handler) DeleteSubscription(w http.ResponseWriter, r *http.Request, subscriptionID string) {
	if err := h.alerts.DeleteSubscription(r.Context(), subscriptionID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			httpx.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("DeleteSubscription failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNotifications 查询通知
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	filters := repository.NotificationFilters{
		Limit: httpx.ParseInt(r.URL.Query().Get("limit"), 50),
	}
	if alertID := strings.TrimSpace(r.URL.Query().Get("alertId")); alertID != "" {
		filters.AlertID = &alertID
	}
	if patientID := strings.TrimSpace(r.URL.Query().Get("patientId")); patientID != "" {
		filters.PatientID = &patientID
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		filters.Status = &status
	}

	notifications, err := h.alerts.ListNotifications(r.Context(), filters)
	if err != nil {
		h.logger.Error("ListNotifications failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to query notifications")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, notifications)
}

// ResendNotification 重发通知
func (h *Handler) ResendNotification(w http.ResponseWriter, r *http.Request, notificationID string) {
	n, err := h.alerts.ResendNotification(r.Context(), notificationID)
	if err != nil {
		h.writeLifecycleError(w, "ResendNotification", notificationID, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, n)
}

// parseAlertFilters 解析告警查询参数
func parseAlertFilters(r *http.Request) (repository.AlertFilters, error) {
	filters := repository.AlertFilters{
		Limit:  httpx.ParseInt(r.URL.Query().Get("limit"), 50),
		Offset: httpx.ParseInt(r.URL.Query().Get("offset"), 0),
	}
	if patientID := strings.TrimSpace(r.URL.Query().Get("patientId")); patientID != "" {
		filters.PatientID = &patientID
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		filters.Status = &status
	}
	if severity := strings.TrimSpace(r.URL.Query().Get("severity")); severity != "" {
		filters.Severity = &severity
	}
	from, err := httpx.ParseTime(r.URL.Query().Get("from"))
	if err != nil {
		return filters, errors.New("invalid from timestamp")
	}
	filters.From = from
	to, err := httpx.ParseTime(r.URL.Query().Get("to"))
	if err != nil {
		return filters, errors.New("invalid to timestamp")
	}
	filters.To = to
	return filters, nil
}
