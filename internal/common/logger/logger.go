package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 管线内统一的关联字段键
// 三个服务共用同一套键名，患者/节点/共识可以跨服务日志串联
const (
	FieldPatient   = "patient_id"
	FieldNode      = "node_id"
	FieldConsensus = "consensus_id"
	FieldEvent     = "event_id"
	FieldAlert     = "alert_id"
)

// Patient 患者关联字段
func Patient(patientID string) zap.Field {
	return zap.String(FieldPatient, patientID)
}

// Node 边缘节点关联字段
func Node(nodeID string) zap.Field {
	return zap.String(FieldNode, nodeID)
}

// Consensus 共识记录关联字段
func Consensus(consensusID string) zap.Field {
	return zap.String(FieldConsensus, consensusID)
}

// Event 评分事件关联字段
func Event(eventID string) zap.Field {
	return zap.String(FieldEvent, eventID)
}

// Alert 告警关联字段
func Alert(alertID string) zap.Field {
	return zap.String(FieldAlert, alertID)
}

// ParseLevel 解析 LOG_LEVEL 值（未知值回退 info）
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// knownServices 管线内的服务名（防止日志聚合里出现拼错的 service_name）
var knownServices = map[string]bool{
	"sassi-ingestion": true,
	"sassi-ews":       true,
	"sassi-alert":     true,
}

// NewLogger 创建管线服务的Logger实例
// level: "debug", "info", "warn", "error" (默认: "info")
// format: "json" 或 "console" (默认: "json")
// serviceName: 必须是 sassi-ingestion / sassi-ews / sassi-alert 之一
func NewLogger(level string, format string, serviceName string) (*zap.Logger, error) {
	if !knownServices[serviceName] {
		return nil, fmt.Errorf("unknown service name %q", serviceName)
	}

	var config zap.Config
	if format == "console" {
		// 开发模式配置（控制台输出）
		config = zap.NewDevelopmentConfig()
	} else {
		// 生产模式配置（JSON输出，stdout 便于Docker和日志收集器捕获）
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
	}
	config.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	baseLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	baseLogger = baseLogger.With(zap.String("service_name", serviceName))

	// 主机名用于多副本部署定位
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		baseLogger = baseLogger.With(zap.String("hostname", hostname))
	}

	return baseLogger, nil
}
