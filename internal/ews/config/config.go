package config

import (
	"github.com/Folokee/SASSI-Microservices/internal/common/config"

	"github.com/joho/godotenv"
)

// Config 评分服务配置
type Config struct {
	Env      string
	Port     string
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	Bus      config.BusConfig

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	// .env 文件可选，不存在时忽略
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Env = config.Environment()
	cfg.Port = config.GetEnv("PORT", "8082")

	cfg.Database.Host = config.GetEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = config.GetEnv("DB_USER", "postgres")
	cfg.Database.Password = config.GetEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = config.GetEnv("DB_NAME", "sassi")
	cfg.Database.SSLMode = config.GetEnv("DB_SSLMODE", "disable")
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = config.GetEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = config.GetEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.Bus.StreamPrefix = config.GetEnv("BUS_STREAM_PREFIX", "ews_events")
	cfg.Bus.GroupPrefix = config.GetEnv("BUS_GROUP_PREFIX", "ews_queue")
	cfg.Bus.BatchSize = 10
	cfg.Bus.ReclaimIdleSeconds = 30

	cfg.Log.Level = config.GetEnv("LOG_LEVEL", "info")
	cfg.Log.Format = config.GetEnv("LOG_FORMAT", "json")

	return cfg, nil
}
