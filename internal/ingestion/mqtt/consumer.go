package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	commonmqtt "github.com/Folokee/SASSI-Microservices/internal/common/mqtt"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/models"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/service"

	"go.uber.org/zap"
)

// TopicPattern 边缘节点读数主题
// 格式: sassi/sensor/{node_id}/reading
const TopicPattern = "sassi/sensor/+/reading"

// Consumer 边缘节点 MQTT 读数消费者
// 与 HTTP POST /api/data/sensor 同一处理路径
type Consumer struct {
	mqttClient *commonmqtt.Client
	ingestion  *service.IngestionService
	logger     *zap.Logger
}

// NewConsumer 创建 MQTT 消费者
func NewConsumer(mqttClient *commonmqtt.Client, ingestion *service.IngestionService, logger *zap.Logger) *Consumer {
	return &Consumer{
		mqttClient: mqttClient,
		ingestion:  ingestion,
		logger:     logger,
	}
}

// Start 启动消费者，阻塞直到 ctx 取消
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(TopicPattern, 1, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to sensor topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", TopicPattern),
	)

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *Consumer) Stop() {
	if err := c.mqttClient.Unsubscribe(TopicPattern); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
}

// handleMessage 处理一条边缘节点读数
func (c *Consumer) handleMessage(topic string, payload []byte) error {
	// 主题格式: sassi/sensor/{node_id}/reading
	parts := strings.Split(topic, "/")
	if len(parts) < 4 {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	nodeID := parts[2]

	var reading models.SensorReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		c.logger.Error("Failed to unmarshal MQTT reading",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal reading: %w", err)
	}

	// 主题中的节点标识优先于消息体
	if nodeID != "" {
		reading.NodeID = nodeID
	}

	if _, err := c.ingestion.IngestReading(context.Background(), &reading); err != nil {
		c.logger.Error("Failed to ingest MQTT reading",
			zap.String("node_id", reading.NodeID),
			zap.String("patient_id", reading.PatientID),
			zap.Error(err),
		)
		return err
	}

	return nil
}
