package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ews/cache"
	"github.com/Folokee/SASSI-Microservices/internal/ews/models"
	"github.com/Folokee/SASSI-Microservices/internal/ews/repository"

	"go.uber.org/zap"
)

// QueryService 读模型与事件查询服务
type QueryService struct {
	eventStore     *repository.EventStore
	consensusStore *repository.ConsensusStore
	rmRepo         *repository.ReadModelRepository
	rmCache        *cache.ReadModelCache
	logger         *zap.Logger
}

// NewQueryService 创建查询服务
func NewQueryService(
	eventStore *repository.EventStore,
	consensusStore *repository.ConsensusStore,
	rmRepo *repository.ReadModelRepository,
	rmCache *cache.ReadModelCache,
	logger *zap.Logger,
) *QueryService {
	return &QueryService{
		eventStore:     eventStore,
		consensusStore: consensusStore,
		rmRepo:         rmRepo,
		rmCache:        rmCache,
		logger:         logger,
	}
}

// GetLatest 获取患者当前视图（缓存读穿）
func (s *QueryService) GetLatest(ctx context.Context, patientID string) (*models.PatientReadModel, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	if s.rmCache != nil {
		if rm, err := s.rmCache.Get(ctx, patientID); err == nil {
			return rm, nil
		} else if err != cache.ErrCacheMiss {
			s.logger.Warn("Read model cache error",
				zap.String("patient_id", patientID),
				zap.Error(err),
			)
		}
	}

	rm, err := s.rmRepo.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if rm != nil && s.rmCache != nil {
		if err := s.rmCache.Put(ctx, rm); err != nil {
			s.logger.Debug("Failed to backfill read model cache", zap.Error(err))
		}
	}
	return rm, nil
}

// GetHistory 获取患者分数历史（从读模型历史环切片，limit 默认 20）
func (s *QueryService) GetHistory(ctx context.Context, patientID string, limit int, from, to *time.Time) ([]models.HistoryEntry, error) {
	rm, err := s.rmRepo.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if rm == nil {
		return nil, nil
	}

	if limit <= 0 {
		limit = 20
	}

	filtered := make([]models.HistoryEntry, 0, len(rm.ScoreHistory))
	for _, entry := range rm.ScoreHistory {
		if from != nil && entry.Timestamp.Before(*from) {
			continue
		}
		if to != nil && entry.Timestamp.After(*to) {
			continue
		}
		filtered = append(filtered, entry)
	}

	// 历史按时间升序存储；取最近 limit 条
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// GetConsensus 按 consensus_id 获取评分共识
func (s *QueryService) GetConsensus(ctx context.Context, consensusID string) (*models.ScoreConsensus, error) {
	return s.consensusStore.GetConsensus(ctx, consensusID)
}

// ListEvents 按条件查询评分事件
func (s *QueryService) ListEvents(ctx context.Context, filters repository.EventFilters) ([]*models.ScoreEvent, error) {
	return s.eventStore.ListEvents(ctx, filters)
}

// GetOverview 统计概览
func (s *QueryService) GetOverview(ctx context.Context) (*repository.Overview, error) {
	return s.rmRepo.GetOverview(ctx)
}

// ListHighRisk 高风险患者列表
func (s *QueryService) ListHighRisk(ctx context.Context, minScore int) ([]*models.PatientReadModel, error) {
	return s.rmRepo.ListHighRisk(ctx, minScore)
}
