package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/common/bus"
	"github.com/Folokee/SASSI-Microservices/internal/common/logger"
	"github.com/Folokee/SASSI-Microservices/internal/ews/cache"
	"github.com/Folokee/SASSI-Microservices/internal/ews/consensus"
	"github.com/Folokee/SASSI-Microservices/internal/ews/models"
	"github.com/Folokee/SASSI-Microservices/internal/ews/news2"
	"github.com/Folokee/SASSI-Microservices/internal/ews/projector"
	"github.com/Folokee/SASSI-Microservices/internal/ews/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Metrics 消费指标
type Metrics struct {
	mu sync.RWMutex

	MessagesProcessed int64
	MessagesSucceeded int64
	MessagesFailed    int64
	MessagesSkipped   int64 // 重复事件等

	ErrorsParse     int64
	ErrorsConsensus int64
	ErrorsProject   int64

	TotalProcessingTime time.Duration
	StartTime           time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed:   m.MessagesProcessed,
		MessagesSucceeded:   m.MessagesSucceeded,
		MessagesFailed:      m.MessagesFailed,
		MessagesSkipped:     m.MessagesSkipped,
		ErrorsParse:         m.ErrorsParse,
		ErrorsConsensus:     m.ErrorsConsensus,
		ErrorsProject:       m.ErrorsProject,
		TotalProcessingTime: m.TotalProcessingTime,
		StartTime:           m.StartTime,
	}
}

func (m *Metrics) incProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

func (m *Metrics) incSucceeded(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	m.TotalProcessingTime += d
}

func (m *Metrics) incFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	switch errorType {
	case "parse":
		m.ErrorsParse++
	case "consensus":
		m.ErrorsConsensus++
	case "project":
		m.ErrorsProject++
	}
}

func (m *Metrics) incSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSkipped++
}

// CalculatedConsumer ews.calculated 消费者
//
// 对每条新评分事件：
// 1. 回看窗口内该患者的评分事件，每节点取最新，执行仲裁
// 2. 持久化 ScoreConsensus
// 3. 投影读模型并刷新缓存
// 4. 发布 ews.consensus
//
// 去重依赖信封 event_id + 投影器的 consensusId 幂等
type CalculatedConsumer struct {
	eventBus       bus.EventBus
	eventStore     *repository.EventStore
	consensusStore *repository.ConsensusStore
	projector      *projector.Projector
	rmRepo         *repository.ReadModelRepository
	rmCache        *cache.ReadModelCache
	logger         *zap.Logger
	metrics        *Metrics

	mu        sync.Mutex
	seenIDs   map[string]time.Time // 信封级去重（event_id → 首见时间）
	seenTTL   time.Duration
}

// NewCalculatedConsumer 创建 ews.calculated 消费者
func NewCalculatedConsumer(
	eventBus bus.EventBus,
	eventStore *repository.EventStore,
	consensusStore *repository.ConsensusStore,
	proj *projector.Projector,
	rmRepo *repository.ReadModelRepository,
	rmCache *cache.ReadModelCache,
	logger *zap.Logger,
) *CalculatedConsumer {
	return &CalculatedConsumer{
		eventBus:       eventBus,
		eventStore:     eventStore,
		consensusStore: consensusStore,
		projector:      proj,
		rmRepo:         rmRepo,
		rmCache:        rmCache,
		logger:         logger,
		metrics:        &Metrics{StartTime: time.Now()},
		seenIDs:        make(map[string]time.Time),
		seenTTL:        10 * time.Minute,
	}
}

// Start 启动消费者，阻塞直到 ctx 取消
func (c *CalculatedConsumer) Start(ctx context.Context) error {
	group := bus.QueueName("ews_queue", bus.TopicEWSCalculated)

	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go c.reportMetrics(metricsCtx)

	return c.eventBus.Subscribe(ctx, bus.TopicEWSCalculated, group, "ews-consensus-worker", c.handle)
}

// handle 处理一条 ews.calculated 消息
func (c *CalculatedConsumer) handle(ctx context.Context, env bus.Envelope) error {
	startTime := time.Now()
	c.metrics.incProcessed()

	if c.alreadySeen(env.EventID) {
		c.metrics.incSkipped()
		return nil
	}

	var event models.ScoreEvent
	if err := env.DecodePayload(&event); err != nil {
		c.metrics.incFailed("parse")
		// 无法解析的消息不重投
		c.logger.Error("Failed to decode score event",
			logger.Event(env.EventID),
			zap.Error(err),
		)
		return nil
	}

	if err := c.runConsensus(ctx, &event); err != nil {
		c.metrics.incFailed("consensus")
		return err
	}

	c.markSeen(env.EventID)
	c.metrics.incSucceeded(time.Since(startTime))
	return nil
}

// runConsensus 对触发事件执行窗口仲裁、投影与下游发布
func (c *CalculatedConsumer) runConsensus(ctx context.Context, event *models.ScoreEvent) error {
	from, to := consensus.Window(event.ObservedAt)
	window, err := c.eventStore.GetEventsInWindow(ctx, event.PatientID, from, to)
	if err != nil {
		return fmt.Errorf("failed to load score event window: %w", err)
	}

	participants := consensus.LatestPerNode(window)
	if len(participants) == 0 {
		participants = []*models.ScoreEvent{event}
	}

	outcome := consensus.Resolve(participants)

	nodeScores := make([]models.NodeScore, 0, len(participants))
	for _, p := range participants {
		nodeScores = append(nodeScores, models.NodeScore{
			EventID:    p.EventID,
			NodeID:     p.NodeID,
			TotalScore: p.TotalScore,
			ObservedAt: p.ObservedAt,
		})
	}

	cons := &models.ScoreConsensus{
		ConsensusID:    uuid.NewString(),
		PatientID:      event.PatientID,
		NodeScores:     nodeScores,
		ConsensusScore: outcome.Score,
		ClinicalRisk:   news2.ClinicalRisk(outcome.Score),
		ConsensusAt:    outcome.Timestamp,
		Valid:          outcome.Valid,
		Method:         outcome.Method,
		CreatedAt:      time.Now().UTC(),
	}

	if err := c.consensusStore.CreateConsensus(ctx, cons); err != nil {
		return fmt.Errorf("failed to persist score consensus: %w", err)
	}

	if err := c.projector.Apply(ctx, cons); err != nil {
		c.metrics.incFailed("project")
		return fmt.Errorf("failed to project read model: %w", err)
	}

	// 缓存刷新失败不阻塞管线（降级模式下无缓存）
	if rm, err := c.rmRepo.Get(ctx, cons.PatientID); err == nil && rm != nil && c.rmCache != nil {
		if err := c.rmCache.Put(ctx, rm); err != nil {
			c.logger.Warn("Failed to refresh read model cache",
				logger.Patient(cons.PatientID),
				zap.Error(err),
			)
		}
	}

	// best-effort 发布
	if err := c.eventBus.Publish(ctx, bus.TopicEWSConsensus, cons.ConsensusID, cons); err != nil {
		c.logger.Error("Failed to publish ews.consensus",
			logger.Consensus(cons.ConsensusID),
			logger.Patient(cons.PatientID),
			zap.Error(err),
		)
	}

	c.logger.Info("Score consensus formed",
		logger.Consensus(cons.ConsensusID),
		logger.Patient(cons.PatientID),
		zap.Int("consensus_score", cons.ConsensusScore),
		zap.String("method", cons.Method),
		zap.Bool("valid", cons.Valid),
		zap.Int("participants", len(nodeScores)),
	)

	return nil
}

// alreadySeen 信封级去重检查
func (c *CalculatedConsumer) alreadySeen(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seenIDs[eventID]
	return ok
}

// markSeen 记录已处理信封并清理过期项
func (c *CalculatedConsumer) markSeen(eventID string) {
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

// reportMetrics 定期报告指标（每60秒）
func (c *CalculatedConsumer) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.GetSnapshot()
			uptime := time.Since(snapshot.StartTime)

			var avgProcessingTime time.Duration
			if snapshot.MessagesSucceeded > 0 {
				avgProcessingTime = snapshot.TotalProcessingTime / time.Duration(snapshot.MessagesSucceeded)
			}

			successRate := float64(0)
			if snapshot.MessagesProcessed > 0 {
				successRate = float64(snapshot.MessagesSucceeded) / float64(snapshot.MessagesProcessed) * 100
			}

			c.logger.Info("Metrics report",
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_succeeded", snapshot.MessagesSucceeded),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("messages_skipped", snapshot.MessagesSkipped),
				zap.Float64("success_rate", successRate),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_consensus", snapshot.ErrorsConsensus),
				zap.Int64("errors_project", snapshot.ErrorsProject),
				zap.Duration("avg_processing_time", avgProcessingTime),
				zap.Duration("uptime", uptime),
			)
		}
	}
}
