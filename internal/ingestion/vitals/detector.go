package vitals

import (
	"fmt"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ingestion/models"
)

// FreshnessWindow 共识参与完整性判定的新鲜度窗口
const FreshnessWindow = 5 * time.Minute

// 生命体征名称（评分输入字段）
const (
	VitalRespiratoryRate  = "respiratoryRate"
	VitalOxygenSaturation = "oxygenSaturation"
	VitalTemperature      = "temperature"
	VitalSystolicBP       = "systolicBP"
	VitalHeartRate        = "heartRate"
	VitalConsciousness    = "consciousness"
)

// vitalNameBySensorType 传感器类型 → 生命体征名称
var vitalNameBySensorType = map[string]string{
	models.SensorRespRate:      VitalRespiratoryRate,
	models.SensorSpO2:          VitalOxygenSaturation,
	models.SensorTemperature:   VitalTemperature,
	models.SensorBPSystolic:    VitalSystolicBP,
	models.SensorHeartRate:     VitalHeartRate,
	models.SensorConsciousness: VitalConsciousness,
}

// VitalSigns 完整的生命体征向量（非持久化视图，评分输入）
type VitalSigns struct {
	RespiratoryRate  float64 `json:"respiratoryRate"`
	OxygenSaturation float64 `json:"oxygenSaturation"`
	Temperature      float64 `json:"temperature"`
	SystolicBP       float64 `json:"systolicBP"`
	HeartRate        float64 `json:"heartRate"`
	Consciousness    string  `json:"consciousness"`
}

// Assemble 由每类传感器最近的有效共识组装完整生命体征向量
//
// now 为判定基准时刻；超出 5 分钟新鲜度窗口的共识被丢弃。
// 六项俱全返回 (vitals, true)；缺项返回 (nil, false)，等下一条共识重试。
// 缺失 consciousness 不做默认值填充：无意识项即不完整。
func Assemble(latest map[string]*models.SensorConsensus, now time.Time) (*VitalSigns, bool, error) {
	cutoff := now.Add(-FreshnessWindow)

	values := make(map[string]float64, len(vitalNameBySensorType))
	for sensorType, vitalName := range vitalNameBySensorType {
		consensus, ok := latest[sensorType]
		if !ok || consensus == nil {
			return nil, false, nil
		}
		if !consensus.Valid {
			return nil, false, nil
		}
		if consensus.ConsensusAt.Before(cutoff) {
			// 过期共识不参与完整性判定
			return nil, false, nil
		}
		values[vitalName] = consensus.ConsensusValue
	}

	avpu, ok := models.ConsciousnessToAVPU(int(values[VitalConsciousness]))
	if !ok {
		return nil, false, fmt.Errorf("invalid consciousness code: %v", values[VitalConsciousness])
	}

	return &VitalSigns{
		RespiratoryRate:  values[VitalRespiratoryRate],
		OxygenSaturation: values[VitalOxygenSaturation],
		Temperature:      values[VitalTemperature],
		SystolicBP:       values[VitalSystolicBP],
		HeartRate:        values[VitalHeartRate],
		Consciousness:    avpu,
	}, true, nil
}
