package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryBus 进程内事件总线（开发环境 Redis 不可达时的降级实现）
// 语义与 RedisBus 对齐：at-least-once，处理失败的消息最多重投 maxRedeliver 次
type MemoryBus struct {
	mu          sync.Mutex
	queues      map[string]chan Envelope // key: topic
	maxRedeliver int
	logger      *zap.Logger
	closed      bool
}

// NewMemoryBus 创建进程内事件总线
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	return &MemoryBus{
		queues:       make(map[string]chan Envelope),
		maxRedeliver: 3,
		logger:       logger,
	}
}

func (b *MemoryBus) queue(topic string) chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[topic]
	if !ok {
		q = make(chan Envelope, 1024)
		b.queues[topic] = q
	}
	return q
}

// Publish 发布事件（队列满时丢弃并告警，best-effort）
func (b *MemoryBus) Publish(ctx context.Context, topic, eventID string, payload interface{}) error {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	env := Envelope{
		EventID:     eventID,
		Topic:       topic,
		PublishedAt: time.Now().UTC(),
		Payload:     jsonBytes,
	}

	select {
	case b.queue(topic) <- env:
		return nil
	default:
		b.logger.Warn("Memory bus queue full, dropping event",
			zap.String("topic", topic),
			zap.String("event_id", eventID),
		)
		return fmt.Errorf("memory bus queue full for topic %s", topic)
	}
}

// Subscribe 订阅主题，阻塞运行直到 ctx 取消
// group/consumer 仅用于日志，进程内实现没有消费者组语义
func (b *MemoryBus) Subscribe(ctx context.Context, topic, group, consumer string, handler Handler) error {
	q := b.queue(topic)

	b.logger.Info("Memory bus subscriber started (degraded mode)",
		zap.String("topic", topic),
		zap.String("consumer_group", group),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-q:
			b.deliver(ctx, env, handler)
		}
	}
}

// deliver 投递单条消息，失败时立即重投（最多 maxRedeliver 次）
func (b *MemoryBus) deliver(ctx context.Context, env Envelope, handler Handler) {
	for attempt := 0; attempt <= b.maxRedeliver; attempt++ {
		if err := handler(ctx, env); err != nil {
			b.logger.Error("Handler failed",
				zap.String("event_id", env.EventID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				return
			}
			continue
		}
		return
	}
	b.logger.Error("Dropping event after max redeliveries",
		zap.String("event_id", env.EventID),
		zap.String("topic", env.Topic),
	)
}

// Close 关闭总线
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
