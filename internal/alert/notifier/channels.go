package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/alert/models"
	"github.com/Folokee/SASSI-Microservices/internal/common/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Channel 通知渠道适配器
// Send 返回 nil 表示已交付渠道（SENT）；DELIVERED 由渠道回执驱动，
// 无回执的渠道终态停留在 SENT
type Channel interface {
	Kind() string
	Send(ctx context.Context, n *models.Notification, subject string) error
}

// EmailChannel SMTP 邮件渠道
type EmailChannel struct {
	cfg    *config.EmailConfig
	logger *zap.Logger
}

// NewEmailChannel 创建邮件渠道
func NewEmailChannel(cfg *config.EmailConfig, logger *zap.Logger) *EmailChannel {
	return &EmailChannel{
		cfg:    cfg,
		logger: logger,
	}
}

func (c *EmailChannel) Kind() string {
	return models.ChannelEmail
}

// Send 发送邮件
func (c *EmailChannel) Send(ctx context.Context, n *models.Notification, subject string) error {
	if c.cfg.Host == "" {
		return fmt.Errorf("email channel not configured")
	}

	m := gomail.NewMessage()
	from := c.cfg.From
	if c.cfg.FromName != "" {
		from = m.FormatAddress(c.cfg.From, c.cfg.FromName)
	}
	m.SetHeader("From", from)
	m.SetHeader("To", n.Recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", n.Content)

	d := gomail.NewDialer(c.cfg.Host, c.cfg.Port, c.cfg.User, c.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	c.logger.Info("Email notification sent",
		zap.String("notification_id", n.NotificationID),
		zap.String("recipient", n.Recipient),
	)
	return nil
}

// SMSChannel 短信渠道（经由 HTTP 短信网关投递）
// 未配置网关地址时不注册此渠道，sms 通知记为 FAILED（unsupported）
type SMSChannel struct {
	gatewayURL string
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewSMSChannel 创建短信渠道
func NewSMSChannel(gatewayURL string, logger *zap.Logger) *SMSChannel {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &SMSChannel{
		gatewayURL: gatewayURL,
		httpClient: client,
		logger:     logger,
	}
}

func (c *SMSChannel) Kind() string {
	return models.ChannelSMS
}

// Send POST 到短信网关（recipient 为电话号码）
func (c *SMSChannel) Send(ctx context.Context, n *models.Notification, subject string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"to":      n.Recipient,
			"message": n.Content,
		}).
		Post(c.gatewayURL)

	if err != nil {
		return fmt.Errorf("failed to call SMS gateway: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("SMS gateway returned status %d", resp.StatusCode())
	}

	c.logger.Info("SMS notification sent",
		zap.String("notification_id", n.NotificationID),
		zap.String("recipient", n.Recipient),
	)
	return nil
}

// WebhookChannel HTTP 回调渠道（recipient 为回调 URL）
type WebhookChannel struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewWebhookChannel 创建回调渠道
func NewWebhookChannel(logger *zap.Logger) *WebhookChannel {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &WebhookChannel{
		httpClient: client,
		logger:     logger,
	}
}

func (c *WebhookChannel) Kind() string {
	return models.ChannelWebhook
}

// Send POST 通知内容到回调地址
func (c *WebhookChannel) Send(ctx context.Context, n *models.Notification, subject string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"notificationId": n.NotificationID,
			"alertId":        n.AlertID,
			"patientId":      n.PatientID,
			"subject":        subject,
			"content":        n.Content,
		}).
		Post(n.Recipient)

	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	c.logger.Info("Webhook notification sent",
		zap.String("notification_id", n.NotificationID),
		zap.String("recipient", n.Recipient),
	)
	return nil
}
