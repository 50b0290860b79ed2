package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/common/config"
	rediscommon "github.com/Folokee/SASSI-Microservices/internal/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisBus 基于 Redis Streams + 消费者组的事件总线
// 持久化队列、positive ack、崩溃消费者的消息重认领
type RedisBus struct {
	client *redis.Client
	cfg    *config.BusConfig
	logger *zap.Logger
}

// NewRedisBus 创建 Redis Streams 事件总线
func NewRedisBus(client *redis.Client, cfg *config.BusConfig, logger *zap.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// streamKey 主题对应的 Stream 键，如 ews_events:ews.calculated
func (b *RedisBus) streamKey(topic string) string {
	return b.cfg.StreamPrefix + ":" + topic
}

// Publish 发布事件到主题对应的 Stream
func (b *RedisBus) Publish(ctx context.Context, topic, eventID string, payload interface{}) error {
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

	id, err := rediscommon.PublishJSONToStream(ctx, b.client, b.streamKey(topic), map[string]string{
		"event_id": eventID,
		"topic":    topic,
	}, env)
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", b.streamKey(topic), err)
	}

	b.logger.Debug("Published event",
		zap.String("topic", topic),
		zap.String("event_id", eventID),
		zap.String("stream_id", id),
	)
	return nil
}

// Subscribe 以消费者组订阅主题，阻塞运行直到 ctx 取消
// 处理成功 XACK；失败不确认，消息留在 pending 列表，空闲超时后被重新认领（requeue 语义）
func (b *RedisBus) Subscribe(ctx context.Context, topic, group, consumer string, handler Handler) error {
	stream := b.streamKey(topic)
	if err := rediscommon.CreateConsumerGroup(ctx, b.client, stream, group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}

	b.logger.Info("Bus subscriber started",
		zap.String("topic", topic),
		zap.String("stream", stream),
		zap.String("consumer_group", group),
		zap.String("consumer_name", consumer),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := b.consumeOnce(ctx, stream, group, consumer, handler); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				b.logger.Error("Failed to consume stream",
					zap.String("stream", stream),
					zap.Duration("backoff", backoffDuration),
					zap.Error(err),
				)
				// 指数退避后重试
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeOnce 读取一批新消息 + 重认领超时的 pending 消息，逐条处理
func (b *RedisBus) consumeOnce(ctx context.Context, stream, group, consumer string, handler Handler) error {
	messages, err := rediscommon.ReadFromGroup(ctx, b.client, stream, group, consumer, b.cfg.BatchSize, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	// 认领空闲超时的未确认消息（之前处理失败或消费者崩溃）
	minIdle := time.Duration(b.cfg.ReclaimIdleSeconds) * time.Second
	reclaimed, err := rediscommon.ClaimIdleMessages(ctx, b.client, stream, group, consumer, minIdle, b.cfg.BatchSize)
	if err != nil {
		b.logger.Warn("Failed to reclaim pending messages",
			zap.String("stream", stream),
			zap.Error(err),
		)
	} else {
		messages = append(messages, reclaimed...)
	}

	for _, msg := range messages {
		env, err := decodeEnvelope(msg.Values)
		if err != nil {
			// 无法解析的消息确认后丢弃，避免毒消息阻塞队列
			b.logger.Error("Dropping malformed message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			_ = rediscommon.AckMessage(ctx, b.client, stream, group, msg.ID)
			continue
		}

		if err := handler(ctx, env); err != nil {
			// 不确认：消息留在 pending，等待重认领
			b.logger.Error("Handler failed, message will be redelivered",
				zap.String("stream_id", msg.ID),
				zap.String("event_id", env.EventID),
				zap.Error(err),
			)
			continue
		}

		if err := rediscommon.AckMessage(ctx, b.client, stream, group, msg.ID); err != nil {
			b.logger.Warn("Failed to ack message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// Close 释放底层连接（client 由应用根持有，这里不关闭）
func (b *RedisBus) Close() error {
	return nil
}

// decodeEnvelope 从 Stream 字段还原信封
func decodeEnvelope(values map[string]interface{}) (Envelope, error) {
	raw, ok := values["data"]
	if !ok {
		return Envelope{}, fmt.Errorf("missing data field in message")
	}
	str, ok := raw.(string)
	if !ok {
		return Envelope{}, fmt.Errorf("invalid data field type in message")
	}
	var env Envelope
	if err := json.Unmarshal([]byte(str), &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return env, nil
}
