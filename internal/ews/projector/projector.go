package projector

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/Folokee/SASSI-Microservices/internal/common/logger"
	"github.com/Folokee/SASSI-Microservices/internal/ews/models"

	"go.uber.org/zap"
)

// ReadModelStore 投影目标仓库接口（便于测试替换）
type ReadModelStore interface {
	Get(ctx context.Context, patientID string) (*models.PatientReadModel, error)
	Upsert(ctx context.Context, rm *models.PatientReadModel) error
}

// EventLookup 按 event_id 取评分事件（权威体征回填用）
type EventLookup interface {
	GetEvent(ctx context.Context, eventID string) (*models.ScoreEvent, error)
}

// lockStripes 按患者分片的互斥锁数量
const lockStripes = 64

// Projector 读模型投影器
//
// 对每条新持久化的 ScoreConsensus 做 upsert：
//   - 首次观测创建读模型
//   - 追加 {consensusAt, score, risk} 到历史环并截断为最近 100 条
//   - consensusAt 更新的共识更新 currentScore/clinicalRisk/lastUpdated（旧共识只进历史）
//   - valid 共识覆盖权威体征；invalid 保留先前体征
//
// at-least-once 投递下幂等：同一 consensusId 重复应用是 no-op。
// 同一患者的更新通过分片互斥锁串行化。
type Projector struct {
	store  ReadModelStore
	events EventLookup
	logger *zap.Logger
	locks  [lockStripes]sync.Mutex
}

// NewProjector 创建投影器
func NewProjector(store ReadModelStore, events EventLookup, logger *zap.Logger) *Projector {
	return &Projector{
		store:  store,
		events: events,
		logger: logger,
	}
}

func (p *Projector) lockFor(patientID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(patientID))
	return &p.locks[h.Sum32()%lockStripes]
}

// Apply 将一条评分共识投影到读模型
func (p *Projector) Apply(ctx context.Context, consensus *models.ScoreConsensus) error {
	if consensus == nil {
		return fmt.Errorf("consensus is required")
	}
	if consensus.PatientID == "" {
		return fmt.Errorf("consensus patient_id is required")
	}

	mu := p.lockFor(consensus.PatientID)
	mu.Lock()
	defer mu.Unlock()

	rm, err := p.store.Get(ctx, consensus.PatientID)
	if err != nil {
		return fmt.Errorf("failed to load read model: %w", err)
	}

	if rm == nil {
		rm = &models.PatientReadModel{
			PatientID:    consensus.PatientID,
			ScoreHistory: []models.HistoryEntry{},
		}
	}

	// 幂等：同一共识重复投递直接忽略
	if rm.LastConsensusID == consensus.ConsensusID {
		return nil
	}
	for _, entry := range rm.ScoreHistory {
		if entry.ConsensusID == consensus.ConsensusID {
			return nil
		}
	}

	// 历史环：插入后按 consensusAt 升序、截断为最近 100 条
	rm.ScoreHistory = append(rm.ScoreHistory, models.HistoryEntry{
		ConsensusID:  consensus.ConsensusID,
		Timestamp:    consensus.ConsensusAt,
		Score:        consensus.ConsensusScore,
		ClinicalRisk: consensus.ClinicalRisk,
	})
	sort.SliceStable(rm.ScoreHistory, func(i, j int) bool {
		return rm.ScoreHistory[i].Timestamp.Before(rm.ScoreHistory[j].Timestamp)
	})
	if len(rm.ScoreHistory) > models.HistoryLimit {
		rm.ScoreHistory = rm.ScoreHistory[len(rm.ScoreHistory)-models.HistoryLimit:]
	}

	// 单调性：仅 consensusAt 不早于当前 lastUpdated 的共识推进当前状态
	isNewest := rm.LastConsensusID == "" || !consensus.ConsensusAt.Before(rm.LastUpdated)
	if isNewest {
		rm.CurrentScore = consensus.ConsensusScore
		rm.ClinicalRisk = consensus.ClinicalRisk
		rm.LastUpdated = consensus.ConsensusAt
		rm.LastConsensusID = consensus.ConsensusID

		if consensus.Valid {
			if err := p.applyAuthoritativeVitals(ctx, rm, consensus); err != nil {
				// 体征回填失败不阻塞分数投影
				p.logger.Warn("Failed to apply authoritative vitals",
					logger.Patient(consensus.PatientID),
					logger.Consensus(consensus.ConsensusID),
					zap.Error(err),
				)
			}
		}
		// invalid 共识保留先前体征，只推进分数与历史
	}

	if err := p.store.Upsert(ctx, rm); err != nil {
		return fmt.Errorf("failed to upsert read model: %w", err)
	}

	p.logger.Info("Read model projected",
		logger.Patient(rm.PatientID),
		logger.Consensus(consensus.ConsensusID),
		zap.Int("current_score", rm.CurrentScore),
		zap.String("clinical_risk", rm.ClinicalRisk),
		zap.Bool("valid", consensus.Valid),
		zap.Int("history_len", len(rm.ScoreHistory)),
	)

	return nil
}

// applyAuthoritativeVitals 选取权威体征来源事件并覆盖读模型体征
//
// 取 totalScore 等于 consensusScore 的参与事件；不存在时（如 method=average）
// 取 observedAt 最早的参与事件
func (p *Projector) applyAuthoritativeVitals(ctx context.Context, rm *models.PatientReadModel, consensus *models.ScoreConsensus) error {
	if len(consensus.NodeScores) == 0 {
		return nil
	}

	var chosen *models.NodeScore
	for i := range consensus.NodeScores {
		ns := &consensus.NodeScores[i]
		if ns.TotalScore == consensus.ConsensusScore {
			if chosen == nil || ns.ObservedAt.Before(chosen.ObservedAt) {
				chosen = ns
			}
		}
	}
	if chosen == nil {
		for i := range consensus.NodeScores {
			ns := &consensus.NodeScores[i]
			if chosen == nil || ns.ObservedAt.Before(chosen.ObservedAt) {
				chosen = ns
			}
		}
	}

	event, err := p.events.GetEvent(ctx, chosen.EventID)
	if err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("authoritative event %s not found", chosen.EventID)
	}

	vs := event.VitalSigns
	sc := event.ScoreComponents
	rm.VitalSigns = &vs
	rm.ScoreComponents = &sc
	return nil
}
