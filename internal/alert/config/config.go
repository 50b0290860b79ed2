package config

import (
	"github.com/Folokee/SASSI-Microservices/internal/common/config"

	"github.com/joho/godotenv"
)

// Config 告警服务配置
type Config struct {
	Env      string
	Port     string
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	Bus      config.BusConfig
	Email    config.EmailConfig

	// 短信网关地址；为空时 sms 渠道不注册，短信通知记为 FAILED
	SMSGatewayURL string

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
	cfg.Port = config.GetEnv("PORT", "8083")

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

	cfg.Email.Port = 587
	cfg.Email.LoadFromEnv("EMAIL")

	cfg.SMSGatewayURL = config.GetEnv("SMS_GATEWAY_URL", "")

	cfg.Log.Level = config.GetEnv("LOG_LEVEL", "info")
	cfg.Log.Format = config.GetEnv("LOG_FORMAT", "json")

	return cfg, nil
}
