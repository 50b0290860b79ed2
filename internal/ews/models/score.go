package models

import (
	"encoding/json"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ews/news2"
)

// 评分事件类型
const (
	KindEWSCalculated = "EWS_CALCULATED"
	KindEWSUpdated    = "EWS_UPDATED"
	KindEWSValidated  = "EWS_VALIDATED"
)

// 共识方法（与传感器共识一致的枚举）
const (
	MethodSingle   = "single"
	MethodMajority = "majority"
	MethodAverage  = "average"
	MethodLatest   = "latest"
	MethodNone     = "none"
)

// ScoreEvent 单节点一次 NEWS2 计算的追加式记录（对应 score_events 表，创建后不可变）
type ScoreEvent struct {
	EventID         string                `json:"eventId" db:"event_id"`
	PatientID       string                `json:"patientId" db:"patient_id"`
	NodeID          string                `json:"nodeId" db:"node_id"`
	Kind            string                `json:"kind" db:"kind"`
	ObservedAt      time.Time             `json:"observedAt" db:"observed_at"`
	VitalSigns      news2.VitalSigns      `json:"vitalSigns" db:"vital_signs"`
	ScoreComponents news2.ScoreComponents `json:"scoreComponents" db:"score_components"`
	TotalScore      int                   `json:"totalScore" db:"total_score"`
	ClinicalRisk    string                `json:"clinicalRisk" db:"clinical_risk"`
	Metadata        json.RawMessage       `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time             `json:"createdAt" db:"created_at"`
}

// NodeScore 参与评分共识的节点分值快照（JSONB）
type NodeScore struct {
	EventID    string    `json:"eventId"`
	NodeID     string    `json:"nodeId"`
	TotalScore int       `json:"totalScore"`
	ObservedAt time.Time `json:"observedAt"`
}

// ScoreConsensus 多节点评分的对账记录（对应 score_consensus 表）
// 不变量：valid=false 时 method 必为 none；consensusScore 总是有值
// （invalid 时仅用于展示与 EWS_DATA_INCONSISTENCY 告警，不进入临床决策）
type ScoreConsensus struct {
	ConsensusID    string      `json:"consensusId" db:"consensus_id"`
	PatientID      string      `json:"patientId" db:"patient_id"`
	NodeScores     []NodeScore `json:"nodeScores" db:"node_scores"`
	ConsensusScore int         `json:"consensusScore" db:"consensus_score"`
	ClinicalRisk   string      `json:"clinicalRisk" db:"clinical_risk"`
	ConsensusAt    time.Time   `json:"consensusAt" db:"consensus_at"`
	Valid          bool        `json:"valid" db:"valid"`
	Method         string      `json:"method" db:"method"`
	CreatedAt      time.Time   `json:"createdAt" db:"created_at"`
}

// HistoryEntry 读模型分数历史项（JSONB 数组元素，按 consensusAt 升序）
type HistoryEntry struct {
	ConsensusID  string    `json:"consensusId"`
	Timestamp    time.Time `json:"timestamp"`
	Score        int       `json:"score"`
	ClinicalRisk string    `json:"clinicalRisk"`
}

// HistoryLimit 读模型历史环的容量上限
const HistoryLimit = 100

// PatientReadModel CQRS 读模型（对应 patient_read_models 表，patient_id 唯一键）
// currentScore/clinicalRisk/lastUpdated 始终反映最近应用的 ScoreConsensus；
// 最近一次共识 invalid 时 vitalSigns 与 scoreComponents 保留先前值
type PatientReadModel struct {
	PatientID       string                 `json:"patientId" db:"patient_id"`
	CurrentScore    int                    `json:"currentScore" db:"current_score"`
	ClinicalRisk    string                 `json:"clinicalRisk" db:"clinical_risk"`
	VitalSigns      *news2.VitalSigns      `json:"vitalSigns,omitempty" db:"vital_signs"`
	ScoreComponents *news2.ScoreComponents `json:"scoreComponents,omitempty" db:"score_components"`
	ScoreHistory    []HistoryEntry         `json:"scoreHistory" db:"score_history"`
	LastConsensusID string                 `json:"lastConsensusId" db:"last_consensus_id"`
	LastUpdated     time.Time              `json:"lastUpdated" db:"last_updated"`
}
