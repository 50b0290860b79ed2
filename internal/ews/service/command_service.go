package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/common/bus"
	"github.com/Folokee/SASSI-Microservices/internal/ews/models"
	"github.com/Folokee/SASSI-Microservices/internal/ews/news2"
	"github.com/Folokee/SASSI-Microservices/internal/ews/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VitalSignsInput 评分命令的生命体征输入
// 指针字段区分"缺失"与零值：缺失任何一项返回校验错误
type VitalSignsInput struct {
	RespiratoryRate  *float64 `json:"respiratoryRate"`
	OxygenSaturation *float64 `json:"oxygenSaturation"`
	Temperature      *float64 `json:"temperature"`
	SystolicBP       *float64 `json:"systolicBP"`
	HeartRate        *float64 `json:"heartRate"`
	Consciousness    *string  `json:"consciousness"`
}

// CalculateCommand 评分命令
type CalculateCommand struct {
	PatientID  string          `json:"patientId"`
	NodeID     string          `json:"nodeId"`
	VitalSigns VitalSignsInput `json:"vitalSigns"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// CalculateResult 评分命令结果
type CalculateResult struct {
	EventID      string `json:"eventId"`
	TotalScore   int    `json:"totalScore"`
	ClinicalRisk string `json:"clinicalRisk"`
}

// CommandService 评分命令服务
//
// 计算 NEWS2 → 追加 ScoreEvent → 发布 ews.calculated。
// 发布失败只记录不回滚（best-effort）：评分共识消费者由事件驱动，
// 丢失的事件会在同窗口下一事件到达时重新参与仲裁。
type CommandService struct {
	eventStore *repository.EventStore
	eventBus   bus.EventBus
	logger     *zap.Logger
}

// NewCommandService 创建命令服务
func NewCommandService(eventStore *repository.EventStore, eventBus bus.EventBus, logger *zap.Logger) *CommandService {
	return &CommandService{
		eventStore: eventStore,
		eventBus:   eventBus,
		logger:     logger,
	}
}

// ValidateCommand 校验评分命令（所有六项生命体征必填）
func ValidateCommand(cmd *CalculateCommand) error {
	if cmd.PatientID == "" {
		return fmt.Errorf("patientId is required")
	}
	if cmd.NodeID == "" {
		return fmt.Errorf("nodeId is required")
	}
	vs := &cmd.VitalSigns
	required := []struct {
		name    string
		present bool
	}{
		{"vitalSigns.respiratoryRate", vs.RespiratoryRate != nil},
		{"vitalSigns.oxygenSaturation", vs.OxygenSaturation != nil},
		{"vitalSigns.temperature", vs.Temperature != nil},
		{"vitalSigns.systolicBP", vs.SystolicBP != nil},
		{"vitalSigns.heartRate", vs.HeartRate != nil},
		{"vitalSigns.consciousness", vs.Consciousness != nil},
	}
	for _, field := range required {
		if !field.present {
			return fmt.Errorf("%s is required", field.name)
		}
	}
	return nil
}

// Calculate 执行一次评分命令
func (s *CommandService) Calculate(ctx context.Context, cmd CalculateCommand) (*CalculateResult, error) {
	if err := ValidateCommand(&cmd); err != nil {
		return nil, err
	}

	vitalSigns := news2.VitalSigns{
		RespiratoryRate:  *cmd.VitalSigns.RespiratoryRate,
		OxygenSaturation: *cmd.VitalSigns.OxygenSaturation,
		Temperature:      *cmd.VitalSigns.Temperature,
		SystolicBP:       *cmd.VitalSigns.SystolicBP,
		HeartRate:        *cmd.VitalSigns.HeartRate,
		Consciousness:    *cmd.VitalSigns.Consciousness,
	}
	result, err := news2.Score(vitalSigns)
	if err != nil {
		return nil, err
	}

	observedAt := time.Now().UTC()
	if cmd.Timestamp != nil && !cmd.Timestamp.IsZero() {
		observedAt = cmd.Timestamp.UTC()
	}

	event := &models.ScoreEvent{
		EventID:         uuid.NewString(),
		PatientID:       cmd.PatientID,
		NodeID:          cmd.NodeID,
		Kind:            models.KindEWSCalculated,
		ObservedAt:      observedAt,
		VitalSigns:      vitalSigns,
		ScoreComponents: result.Components,
		TotalScore:      result.TotalScore,
		ClinicalRisk:    result.ClinicalRisk,
		CreatedAt:       time.Now().UTC(),
	}
	if len(cmd.Metadata) > 0 {
		metadata, err := marshalMetadata(cmd.Metadata)
		if err != nil {
			return nil, err
		}
		event.Metadata = metadata
	}

	if err := s.eventStore.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to append score event: %w", err)
	}

	// best-effort 发布，失败不回滚已持久化的事件
	if err := s.eventBus.Publish(ctx, bus.TopicEWSCalculated, event.EventID, event); err != nil {
		s.logger.Error("Failed to publish ews.calculated",
			zap.String("event_id", event.EventID),
			zap.String("patient_id", event.PatientID),
			zap.Error(err),
		)
	}

	s.logger.Info("EWS calculated",
		zap.String("event_id", event.EventID),
		zap.String("patient_id", event.PatientID),
		zap.String("node_id", event.NodeID),
		zap.Int("total_score", event.TotalScore),
		zap.String("clinical_risk", event.ClinicalRisk),
	)

	return &CalculateResult{
		EventID:      event.EventID,
		TotalScore:   event.TotalScore,
		ClinicalRisk: event.ClinicalRisk,
	}, nil
}

// BatchItemError 批量评分的单条失败记录
type BatchItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// CalculateBatch 批量评分（部分成功允许）
func (s *CommandService) CalculateBatch(ctx context.Context, cmds []CalculateCommand) ([]CalculateResult, []BatchItemError) {
	results := []CalculateResult{}
	errors := []BatchItemError{}

	for i, cmd := range cmds {
		result, err := s.Calculate(ctx, cmd)
		if err != nil {
			errors = append(errors, BatchItemError{Index: i, Error: err.Error()})
			continue
		}
		results = append(results, *result)
	}

	return results, errors
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}
