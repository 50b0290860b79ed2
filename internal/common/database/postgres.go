package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/common/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// 连接池默认值
// 每个服务同时跑 HTTP handler 和流消费者，给两者都留出连接；
// 空闲连接保留给低频但延迟敏感的共识窗口查询
const (
	defaultMaxConns = 20
	defaultMaxIdle  = 5
	pingTimeout     = 5 * time.Second
)

// NewPostgresDB 创建PostgreSQL数据库连接池
func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdle
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Connect 带退避重试的数据库连接（服务启动时数据库可能还在拉起）
func Connect(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (*sql.DB, error) {
	backoffDuration := time.Second
	maxBackoff := 10 * time.Second
	attempts := 5

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := NewPostgresDB(ctx, cfg)
		if err == nil {
			return db, nil
		}
		lastErr = err

		log.Warn("Database not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoffDuration),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoffDuration):
			backoffDuration *= 2
			if backoffDuration > maxBackoff {
				backoffDuration = maxBackoff
			}
		}
	}

	return nil, fmt.Errorf("database unreachable after %d attempts: %w", attempts, lastErr)
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
