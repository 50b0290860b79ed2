package models

import (
	"encoding/json"
	"time"
)

// 传感器类型
const (
	SensorRespRate      = "respRate"
	SensorSpO2          = "spo2"
	SensorTemperature   = "temperature"
	SensorBPSystolic    = "bpSystolic"
	SensorHeartRate     = "heartRate"
	SensorConsciousness = "consciousness"
)

// AllSensorTypes 完整生命体征所需的六类传感器
var AllSensorTypes = []string{
	SensorRespRate,
	SensorSpO2,
	SensorTemperature,
	SensorBPSystolic,
	SensorHeartRate,
	SensorConsciousness,
}

// IsValidSensorType 校验传感器类型
func IsValidSensorType(sensorType string) bool {
	for _, t := range AllSensorTypes {
		if t == sensorType {
			return true
		}
	}
	return false
}

// SensorReading 边缘节点的一次观测（对应 sensor_readings 表，创建后不可变）
// consciousness 以 0-3 整数编码（Alert/Voice/Pain/Unresponsive）
type SensorReading struct {
	ReadingID  string          `json:"readingId" db:"reading_id"`
	PatientID  string          `json:"patientId" db:"patient_id"`
	SensorType string          `json:"sensorType" db:"sensor_type"`
	Value      float64         `json:"value" db:"value"`
	Unit       string          `json:"unit" db:"unit"`
	ObservedAt time.Time       `json:"timestamp" db:"observed_at"`
	NodeID     string          `json:"nodeId" db:"node_id"`
	Metadata   json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
}

// 共识方法
const (
	MethodSingle   = "single"
	MethodMajority = "majority"
	MethodAverage  = "average"
	MethodLatest   = "latest"
	MethodNone     = "none"
)

// ParticipatingReading 参与共识的节点读数快照（JSONB）
type ParticipatingReading struct {
	NodeID     string    `json:"nodeId"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observedAt"`
}

// SensorConsensus 一个 (patient, sensorType) 在时间窗内的共识值（对应 sensor_consensus 表）
// 不变量：participating 至少 1 条；valid=false 时 method 必为 none；
// consensusValue 总是有值（invalid 时仅用于展示，不进入权威状态）
type SensorConsensus struct {
	ConsensusID    string                 `json:"consensusId" db:"consensus_id"`
	PatientID      string                 `json:"patientId" db:"patient_id"`
	SensorType     string                 `json:"sensorType" db:"sensor_type"`
	Participating  []ParticipatingReading `json:"participatingReadings" db:"participating_readings"`
	ConsensusValue float64                `json:"consensusValue" db:"consensus_value"`
	ConsensusAt    time.Time              `json:"consensusAt" db:"consensus_at"`
	Valid          bool                   `json:"valid" db:"valid"`
	Method         string                 `json:"method" db:"method"`
	CreatedAt      time.Time              `json:"createdAt" db:"created_at"`
}

// AVPU 意识等级编码（0-3 → Alert/Voice/Pain/Unresponsive）
var avpuByCode = map[int]string{
	0: "Alert",
	1: "Voice",
	2: "Pain",
	3: "Unresponsive",
}

// ConsciousnessToAVPU 将整数编码转换为 AVPU 字符串
func ConsciousnessToAVPU(code int) (string, bool) {
	s, ok := avpuByCode[code]
	return s, ok
}
