package bus

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// 事件主题（routing key）
const (
	TopicEWSCalculated = "ews.calculated"
	TopicEWSConsensus  = "ews.consensus"
)

// Envelope 事件信封
// EventID 携带来源事件的标识，消费端据此去重（at-least-once 投递，重复消息可能出现）
type Envelope struct {
	EventID     string          `json:"eventId"`
	Topic       string          `json:"topic"`
	PublishedAt time.Time       `json:"publishedAt"`
	Payload     json.RawMessage `json:"payload"`
}

// DecodePayload 将 Payload 反序列化到 out
func (e *Envelope) DecodePayload(out interface{}) error {
	return json.Unmarshal(e.Payload, out)
}

// Handler 事件处理函数
// 返回 error 时消息不会被确认，将按 at-least-once 语义重投；处理必须幂等
type Handler func(ctx context.Context, env Envelope) error

// EventBus 事件总线适配器
// 发布为 best-effort；跨发布者不保证顺序；消费端必须幂等
type EventBus interface {
	// Publish 发布事件（eventID 用于消费端去重）
	Publish(ctx context.Context, topic, eventID string, payload interface{}) error
	// Subscribe 以消费者组 group 订阅 topic，阻塞运行直到 ctx 取消
	Subscribe(ctx context.Context, topic, group, consumer string, handler Handler) error
	// Close 释放底层连接
	Close() error
}

// QueueName 由主题推导消费者组/队列名（点替换为下划线）
// 如 ews.calculated → ews_queue_ews_calculated
func QueueName(prefix, topic string) string {
	return prefix + "_" + strings.ReplaceAll(topic, ".", "_")
}
