package ews

import (
	"context"
	"fmt"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ingestion/vitals"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// CalculateRequest 评分命令请求
type CalculateRequest struct {
	PatientID  string             `json:"patientId"`
	NodeID     string             `json:"nodeId"`
	VitalSigns *vitals.VitalSigns `json:"vitalSigns"`
	Timestamp  time.Time          `json:"timestamp"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
}

// CalculateResponse 评分命令响应
type CalculateResponse struct {
	EventID      string `json:"eventId"`
	TotalScore   int    `json:"totalScore"`
	ClinicalRisk string `json:"clinicalRisk"`
}

// Client 评分服务客户端（完整性检测触发 NEWS2 计算）
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建评分服务客户端
func NewClient(baseURL string, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// CalculateEWS 调用评分服务的 calculate-ews 命令
func (c *Client) CalculateEWS(ctx context.Context, req CalculateRequest) (*CalculateResponse, error) {
	var result CalculateResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/api/command/calculate-ews")

	if err != nil {
		return nil, fmt.Errorf("failed to call EWS service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("EWS service returned status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("EWS calculation triggered",
		zap.String("patient_id", req.PatientID),
		zap.String("node_id", req.NodeID),
		zap.String("event_id", result.EventID),
		zap.Int("total_score", result.TotalScore),
		zap.String("clinical_risk", result.ClinicalRisk),
	)

	return &result, nil
}
