package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ews/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrCacheMiss 表示缓存不存在
var ErrCacheMiss = errors.New("cache miss")

// KVStore 抽象的 KV 存储（用于在单元测试中替换 Redis）
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisKVStore 基于 go-redis 的 KV 实现
type RedisKVStore struct {
	client *redis.Client
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// DefaultTTL 患者当前视图缓存 TTL
const DefaultTTL = 30 * time.Second

// ReadModelCache 患者当前视图缓存（投影器写入，最新视图查询读穿）
type ReadModelCache struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewReadModelCache 创建读模型缓存
func NewReadModelCache(kv KVStore, logger *zap.Logger) *ReadModelCache {
	return &ReadModelCache{
		kv:     kv,
		ttl:    DefaultTTL,
		logger: logger,
	}
}

func key(patientID string) string {
	return fmt.Sprintf("ews:patient:%s:current", patientID)
}

// Put 写入患者当前视图
func (c *ReadModelCache) Put(ctx context.Context, rm *models.PatientReadModel) error {
	data, err := json.Marshal(rm)
	if err != nil {
		return fmt.Errorf("failed to marshal read model: %w", err)
	}
	if err := c.kv.Set(ctx, key(rm.PatientID), string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated read model cache",
		zap.String("patient_id", rm.PatientID),
	)
	return nil
}

// Get 读取患者当前视图（miss 返回 ErrCacheMiss）
func (c *ReadModelCache) Get(ctx context.Context, patientID string) (*models.PatientReadModel, error) {
	val, err := c.kv.Get(ctx, key(patientID))
	if err != nil {
		return nil, err
	}
	var rm models.PatientReadModel
	if err := json.Unmarshal([]byte(val), &rm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached read model: %w", err)
	}
	return &rm, nil
}
