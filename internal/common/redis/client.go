package redis

import (
	"context"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/common/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端类型别名
type Client = redis.Client

// 消费者阻塞在 XREADGROUP 上最长 5 秒，读超时必须大于阻塞时长，
// 否则每轮空读都会报超时错误并触发退避
const (
	dialTimeout    = 3 * time.Second
	readTimeout    = 8 * time.Second
	connectTimeout = 3 * time.Second
)

// NewRedisClient 创建Redis客户端（总线 + 读模型缓存共用）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		MinIdleConns: 2,
	})
}

// Connect 创建客户端并在限定时间内确认可达
// 服务启动用它决定走 Redis Streams 总线还是降级为内存总线
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := NewRedisClient(cfg)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	return client.Close()
}
