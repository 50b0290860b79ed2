package config

import (
	"github.com/Folokee/SASSI-Microservices/internal/common/config"

	"github.com/joho/godotenv"
)

// Config 接入服务配置
type Config struct {
	Env      string
	Port     string
	Database config.DatabaseConfig
	MQTT     config.MQTTConfig

	// 评分服务地址（完整性检测触发 calculate-ews）
	EWSServiceURL string

	// MQTT 接入开关（边缘节点直连 broker 时启用）
	MQTTEnabled bool

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
	cfg.Port = config.GetEnv("PORT", "8081")

	cfg.Database.Host = config.GetEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = config.GetEnv("DB_USER", "postgres")
	cfg.Database.Password = config.GetEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = config.GetEnv("DB_NAME", "sassi")
	cfg.Database.SSLMode = config.GetEnv("DB_SSLMODE", "disable")
	cfg.Database.LoadFromEnv("DB")

	cfg.MQTT.Broker = config.GetEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = config.GetEnv("MQTT_CLIENT_ID", "sassi-ingestion")
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")
	cfg.MQTTEnabled = cfg.MQTT.Broker != ""

	cfg.EWSServiceURL = config.GetEnv("EWS_SERVICE_URL", "http://localhost:8082")

	cfg.Log.Level = config.GetEnv("LOG_LEVEL", "info")
	cfg.Log.Format = config.GetEnv("LOG_FORMAT", "json")

	return cfg, nil
}
