package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	alertservice "github.com/Folokee/SASSI-Microservices/internal/alert/service"
	"github.com/Folokee/SASSI-Microservices/internal/common/bus"
	"github.com/Folokee/SASSI-Microservices/internal/common/logger"

	"go.uber.org/zap"
)

// scoreConsensusMessage ews.consensus 消息体（评分服务的共识记录）
type scoreConsensusMessage struct {
	ConsensusID    string          `json:"consensusId"`
	PatientID      string          `json:"patientId"`
	ConsensusScore int             `json:"consensusScore"`
	ClinicalRisk   string          `json:"clinicalRisk"`
	ConsensusAt    time.Time       `json:"consensusAt"`
	Valid          bool            `json:"valid"`
	Method         string          `json:"method"`
	NodeScores     json.RawMessage `json:"nodeScores"`
}

// ConsensusConsumer ews.consensus 消费者：共识结果 → 告警分类 → 创建告警并分发通知
// 幂等：同一 consensusId 只生成一次告警
type ConsensusConsumer struct {
	eventBus bus.EventBus
	alerts   *alertservice.AlertService
	logger   *zap.Logger

	mu      sync.Mutex
	seenIDs map[string]time.Time
	seenTTL time.Duration
}

// NewConsensusConsumer 创建 ews.consensus 消费者
func NewConsensusConsumer(eventBus bus.EventBus, alerts *alertservice.AlertService, logger *zap.Logger) *ConsensusConsumer {
	return &ConsensusConsumer{
		eventBus: eventBus,
		alerts:   alerts,
		logger:   logger,
		seenIDs:  make(map[string]time.Time),
		seenTTL:  10 * time.Minute,
	}
}

// Start 启动消费者，阻塞直到 ctx 取消
func (c *ConsensusConsumer) Start(ctx context.Context) error {
	group := bus.QueueName("ews_queue", bus.TopicEWSConsensus)
	return c.eventBus.Subscribe(ctx, bus.TopicEWSConsensus, group, "alert-engine-worker", c.handle)
}

// handle 处理一条 ews.consensus 消息
func (c *ConsensusConsumer) handle(ctx context.Context, env bus.Envelope) error {
	if c.alreadySeen(env.EventID) {
		return nil
	}

	var msg scoreConsensusMessage
	if err := env.DecodePayload(&msg); err != nil {
		// 无法解析的消息不重投
		c.logger.Error("Failed to decode score consensus",
			logger.Event(env.EventID),
			zap.Error(err),
		)
		return nil
	}

	created, err := c.alerts.CreateFromConsensus(ctx, alertservice.ConsensusInput{
		ConsensusID:    msg.ConsensusID,
		PatientID:      msg.PatientID,
		ConsensusScore: msg.ConsensusScore,
		ClinicalRisk:   msg.ClinicalRisk,
		ConsensusAt:    msg.ConsensusAt,
		Valid:          msg.Valid,
		Method:         msg.Method,
		NodeScores:     msg.NodeScores,
	})
	if err != nil {
		return err
	}

	c.markSeen(env.EventID)

	if created != nil {
		c.logger.Info("Alert raised from score consensus",
			logger.Consensus(msg.ConsensusID),
			logger.Alert(created.AlertID),
			zap.String("alert_type", created.AlertType),
		)
	} else {
		c.logger.Debug("Score consensus below alert threshold",
			logger.Consensus(msg.ConsensusID),
			zap.Int("score", msg.ConsensusScore),
		)
	}
	return nil
}

func (c *ConsensusConsumer) alreadySeen(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seenIDs[eventID]
	return ok
}

func (c *ConsensusConsumer) markSeen(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.seenIDs[eventID] = now
	for id, seen := range c.seenIDs {
		if now.Sub(seen) > c.seenTTL {
			delete(c.seenIDs, id)
		}
	}
}
