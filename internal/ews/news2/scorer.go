package news2

import (
	"fmt"
)

// VitalSigns NEWS2 评分输入（六项俱全）
type VitalSigns struct {
	RespiratoryRate  float64 `json:"respiratoryRate"`
	OxygenSaturation float64 `json:"oxygenSaturation"`
	Temperature      float64 `json:"temperature"`
	SystolicBP       float64 `json:"systolicBP"`
	HeartRate        float64 `json:"heartRate"`
	Consciousness    string  `json:"consciousness"`
}

// ScoreComponents 各项分值
type ScoreComponents struct {
	RespiratoryRate  int `json:"respiratoryRate"`
	OxygenSaturation int `json:"oxygenSaturation"`
	Temperature      int `json:"temperature"`
	SystolicBP       int `json:"systolicBP"`
	HeartRate        int `json:"heartRate"`
	Consciousness    int `json:"consciousness"`
}

// 临床风险等级
const (
	RiskLow       = "Low"
	RiskLowMedium = "Low-Medium"
	RiskMedium    = "Medium"
	RiskHigh      = "High"
)

// Result 评分结果
type Result struct {
	Components   ScoreComponents `json:"scoreComponents"`
	TotalScore   int             `json:"totalScore"`
	ClinicalRisk string          `json:"clinicalRisk"`
}

// ValidationError 输入超出所有评分带时返回（不静默计 0 分）
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v (%s)", e.Field, e.Value, e.Reason)
}

// Score NEWS2 评分（纯函数、确定性）
//
// 分带表（双端闭区间）：
//
//	respRate:    ≤8→3  9-11→1  12-20→0  21-24→2  ≥25→3
//	spo2:        ≤91→3  92-93→2  94-95→1  ≥96→0
//	temperature: ≤35.0→3  35.1-36.0→1  36.1-38.0→0  38.1-39.0→1  ≥39.1→2
//	systolicBP:  ≤90→3  91-100→2  101-110→1  111-219→0  ≥220→3
//	heartRate:   ≤40→3  41-50→1  51-90→0  91-110→1  111-130→2  ≥131→3
//	consciousness: Alert→0  Voice/Pain/Unresponsive→3
func Score(vs VitalSigns) (*Result, error) {
	components := ScoreComponents{}

	rr, err := scoreRespiratoryRate(vs.RespiratoryRate)
	if err != nil {
		return nil, err
	}
	components.RespiratoryRate = rr

	spo2, err := scoreOxygenSaturation(vs.OxygenSaturation)
	if err != nil {
		return nil, err
	}
	components.OxygenSaturation = spo2

	temp, err := scoreTemperature(vs.Temperature)
	if err != nil {
		return nil, err
	}
	components.Temperature = temp

	bp, err := scoreSystolicBP(vs.SystolicBP)
	if err != nil {
		return nil, err
	}
	components.SystolicBP = bp

	hr, err := scoreHeartRate(vs.HeartRate)
	if err != nil {
		return nil, err
	}
	components.HeartRate = hr

	cons, err := scoreConsciousness(vs.Consciousness)
	if err != nil {
		return nil, err
	}
	components.Consciousness = cons

	total := rr + spo2 + temp + bp + hr + cons

	return &Result{
		Components:   components,
		TotalScore:   total,
		ClinicalRisk: ClinicalRisk(total),
	}, nil
}

// ClinicalRisk 总分 → 风险等级（0=Low, 1-4=Low-Medium, 5-6=Medium, ≥7=High）
func ClinicalRisk(totalScore int) string {
	switch {
	case totalScore >= 7:
		return RiskHigh
	case totalScore >= 5:
		return RiskMedium
	case totalScore >= 1:
		return RiskLowMedium
	default:
		return RiskLow
	}
}

func scoreRespiratoryRate(v float64) (int, error) {
	switch {
	case v < 0 || v > 100:
		return 0, &ValidationError{Field: "respiratoryRate", Value: v, Reason: "outside physiological range"}
	case v <= 8:
		return 3, nil
	case v <= 11:
		return 1, nil
	case v <= 20:
		return 0, nil
	case v <= 24:
		return 2, nil
	default:
		return 3, nil
	}
}

func scoreOxygenSaturation(v float64) (int, error) {
	switch {
	case v < 0 || v > 100:
		return 0, &ValidationError{Field: "oxygenSaturation", Value: v, Reason: "outside physiological range"}
	case v <= 91:
		return 3, nil
	case v <= 93:
		return 2, nil
	case v <= 95:
		return 1, nil
	default:
		return 0, nil
	}
}

func scoreTemperature(v float64) (int, error) {
	switch {
	case v < 20 || v > 45:
		return 0, &ValidationError{Field: "temperature", Value: v, Reason: "outside physiological range"}
	case v <= 35.0:
		return 3, nil
	case v <= 36.0:
		return 1, nil
	case v <= 38.0:
		return 0, nil
	case v <= 39.0:
		return 1, nil
	default:
		return 2, nil
	}
}

func scoreSystolicBP(v float64) (int, error) {
	switch {
	case v < 0 || v > 400:
		return 0, &ValidationError{Field: "systolicBP", Value: v, Reason: "outside physiological range"}
	case v <= 90:
		return 3, nil
	case v <= 100:
		return 2, nil
	case v <= 110:
		return 1, nil
	case v <= 219:
		return 0, nil
	default:
		return 3, nil
	}
}

func scoreHeartRate(v float64) (int, error) {
	switch {
	case v < 0 || v > 350:
		return 0, &ValidationError{Field: "heartRate", Value: v, Reason: "outside physiological range"}
	case v <= 40:
		return 3, nil
	case v <= 50:
		return 1, nil
	case v <= 90:
		return 0, nil
	case v <= 110:
		return 1, nil
	case v <= 130:
		return 2, nil
	default:
		return 3, nil
	}
}

func scoreConsciousness(v string) (int, error) {
	switch v {
	case "Alert":
		return 0, nil
	case "Voice", "Pain", "Unresponsive":
		return 3, nil
	default:
		return 0, &ValidationError{Field: "consciousness", Value: v, Reason: "must be one of Alert, Voice, Pain, Unresponsive"}
	}
}
