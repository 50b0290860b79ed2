package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/common/logger"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/consensus"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/ews"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/models"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/repository"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/vitals"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EWSClient 评分服务客户端接口（便于测试替换）
type EWSClient interface {
	CalculateEWS(ctx context.Context, req ews.CalculateRequest) (*ews.CalculateResponse, error)
}

// IngestionService 读数接入与传感器共识编排
//
// 处理流程：
// 1. 持久化读数
// 2. 回看窗口内读数，每节点取最新，执行仲裁
// 3. 持久化共识记录（失败则中止，下一条读数会重新计算）
// 4. 有效共识触发完整性检测，六项俱全时调用评分服务
type IngestionService struct {
	readingsRepo  *repository.ReadingsRepository
	consensusRepo *repository.ConsensusRepository
	ewsClient     EWSClient
	logger        *zap.Logger
}

// NewIngestionService 创建接入服务
func NewIngestionService(
	readingsRepo *repository.ReadingsRepository,
	consensusRepo *repository.ConsensusRepository,
	ewsClient EWSClient,
	logger *zap.Logger,
) *IngestionService {
	return &IngestionService{
		readingsRepo:  readingsRepo,
		consensusRepo: consensusRepo,
		ewsClient:     ewsClient,
		logger:        logger,
	}
}

// ValidateReading 校验读数必填字段
func ValidateReading(reading *models.SensorReading) error {
	if reading == nil {
		return fmt.Errorf("reading is required")
	}
	if reading.PatientID == "" {
		return fmt.Errorf("patientId is required")
	}
	if reading.SensorType == "" {
		return fmt.Errorf("sensorType is required")
	}
	if !models.IsValidSensorType(reading.SensorType) {
		return fmt.Errorf("unknown sensorType: %s", reading.SensorType)
	}
	if reading.ObservedAt.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if reading.NodeID == "" {
		return fmt.Errorf("nodeId is required")
	}
	if reading.SensorType == models.SensorConsciousness {
		_, ok := models.ConsciousnessToAVPU(int(reading.Value))
		if !ok || reading.Value != math.Trunc(reading.Value) {
			return fmt.Errorf("consciousness value must be an integer 0-3")
		}
	}
	return nil
}

// IngestReading 接入一条读数并推进共识管线
func (s *IngestionService) IngestReading(ctx context.Context, reading *models.SensorReading) (*models.SensorConsensus, error) {
	if err := ValidateReading(reading); err != nil {
		return nil, err
	}

	if reading.ReadingID == "" {
		reading.ReadingID = uuid.NewString()
	}
	if reading.CreatedAt.IsZero() {
		reading.CreatedAt = time.Now().UTC()
	}

	if err := s.readingsRepo.CreateReading(ctx, reading); err != nil {
		return nil, fmt.Errorf("failed to persist reading: %w", err)
	}

	cons, err := s.runConsensus(ctx, reading)
	if err != nil {
		return nil, err
	}

	// 有效共识推进完整性检测；失败不影响接入结果，下一条共识会重试
	if cons != nil && cons.Valid {
		if err := s.checkCompleteness(ctx, reading.PatientID, reading.NodeID, cons.ConsensusAt); err != nil {
			s.logger.Warn("Completeness check failed",
				logger.Patient(reading.PatientID),
				zap.Error(err),
			)
		}
	}

	return cons, nil
}

// runConsensus 对触发读数执行窗口仲裁并持久化结果
func (s *IngestionService) runConsensus(ctx context.Context, reading *models.SensorReading) (*models.SensorConsensus, error) {
	from, to := consensus.Window(reading.ObservedAt)
	window, err := s.readingsRepo.GetReadingsInWindow(ctx, reading.PatientID, reading.SensorType, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load consensus window: %w", err)
	}

	participants := consensus.LatestPerNode(window)
	if len(participants) == 0 {
		// 触发读数刚持久化，窗口不应为空；保底使用触发读数本身
		participants = []*models.SensorReading{reading}
	}

	outcome := consensus.Resolve(participants)

	participating := make([]models.ParticipatingReading, 0, len(participants))
	for _, p := range participants {
		participating = append(participating, models.ParticipatingReading{
			NodeID:     p.NodeID,
			Value:      p.Value,
			ObservedAt: p.ObservedAt,
		})
	}

	cons := &models.SensorConsensus{
		ConsensusID:    uuid.NewString(),
		PatientID:      reading.PatientID,
		SensorType:     reading.SensorType,
		Participating:  participating,
		ConsensusValue: outcome.Value,
		ConsensusAt:    outcome.Timestamp,
		Valid:          outcome.Valid,
		Method:         outcome.Method,
		CreatedAt:      time.Now().UTC(),
	}

	// 存储失败中止共识发射：读数已持久化，后续读数会重新计算
	if err := s.consensusRepo.CreateConsensus(ctx, cons); err != nil {
		return nil, fmt.Errorf("failed to persist consensus: %w", err)
	}

	s.logger.Info("Sensor consensus formed",
		logger.Patient(cons.PatientID),
		zap.String("sensor_type", cons.SensorType),
		zap.String("method", cons.Method),
		zap.Bool("valid", cons.Valid),
		zap.Float64("value", cons.ConsensusValue),
		zap.Int("participants", len(participating)),
	)

	return cons, nil
}

// checkCompleteness 完整性检测：六类传感器均有新鲜有效共识时触发评分
func (s *IngestionService) checkCompleteness(ctx context.Context, patientID, nodeID string, asOf time.Time) error {
	latest, err := s.consensusRepo.GetLatestValidPerSensorType(ctx, patientID)
	if err != nil {
		return fmt.Errorf("failed to load latest consensus: %w", err)
	}

	vs, complete, err := vitals.Assemble(latest, asOf)
	if err != nil {
		return err
	}
	if !complete {
		s.logger.Debug("Vital vector incomplete, waiting for more consensus",
			logger.Patient(patientID),
		)
		return nil
	}

	_, err = s.ewsClient.CalculateEWS(ctx, ews.CalculateRequest{
		PatientID:  patientID,
		NodeID:     nodeID,
		VitalSigns: vs,
		Timestamp:  asOf,
	})
	if err != nil {
		return fmt.Errorf("failed to trigger EWS calculation: %w", err)
	}

	return nil
}

// QueryConsensus 查询患者共识记录（HTTP 查询接口使用）
func (s *IngestionService) QueryConsensus(ctx context.Context, patientID string, filters repository.ConsensusFilters) ([]*models.SensorConsensus, error) {
	return s.consensusRepo.ListByPatient(ctx, patientID, filters)
}
