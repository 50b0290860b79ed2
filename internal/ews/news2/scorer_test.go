package news2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalVitals() VitalSigns {
	return VitalSigns{
		RespiratoryRate:  18,
		OxygenSaturation: 96,
		Temperature:      37.1,
		SystolicBP:       125,
		HeartRate:        72,
		Consciousness:    "Alert",
	}
}

func TestScore_AllNormal(t *testing.T) {
	// all components 0, total 0, Low risk
	result, err := Score(normalVitals())
	require.NoError(t, err)

	assert.Equal(t, 0, result.TotalScore)
	assert.Equal(t, RiskLow, result.ClinicalRisk)
	assert.Equal(t, ScoreComponents{}, result.Components)
}

func TestScore_Deterministic(t *testing.T) {
	vs := normalVitals()
	first, err := Score(vs)
	require.NoError(t, err)
	second, err := Score(vs)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScore_RespiratoryRateBoundaries(t *testing.T) {
	cases := []struct {
		value    float64
		expected int
	}{
		{8, 3}, {9, 1}, {11, 1}, {12, 0}, {20, 0}, {21, 2}, {24, 2}, {25, 3},
	}
	for _, tc := range cases {
		vs := normalVitals()
		vs.RespiratoryRate = tc.value
		result, err := Score(vs)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, result.Components.RespiratoryRate, "respRate=%v", tc.value)
	}
}

func TestScore_OxygenSaturationBoundaries(t *testing.T) {
	cases := []struct {
		value    float64
		expected int
	}{
		{91, 3}, {92, 2}, {93, 2}, {94, 1}, {95, 1}, {96, 0}, {100, 0},
	}
	for _, tc := range cases {
		vs := normalVitals()
		vs.OxygenSaturation = tc.value
		result, err := Score(vs)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, result.Components.OxygenSaturation, "spo2=%v", tc.value)
	}
}

func TestScore_TemperatureBoundaries(t *testing.T) {
	cases := []struct {
		value    float64
		expected int
	}{
		{35.0, 3}, {35.1, 1}, {36.0, 1}, {36.1, 0}, {38.0, 0}, {38.1, 1}, {39.0, 1}, {39.1, 2}, {41.0, 2},
	}
	for _, tc := range cases {
		vs := normalVitals()
		vs.Temperature = tc.value
		result, err := Score(vs)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, result.Components.Temperature, "temp=%v", tc.value)
	}
}

func TestScore_SystolicBPBoundaries(t *testing.T) {
	cases := []struct {
		value    float64
		expected int
	}{
		{90, 3}, {91, 2}, {100, 2}, {101, 1}, {110, 1}, {111, 0}, {219, 0}, {220, 3},
	}
	for _, tc := range cases {
		vs := normalVitals()
		vs.SystolicBP = tc.value
		result, err := Score(vs)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, result.Components.SystolicBP, "bp=%v", tc.value)
	}
}

func TestScore_HeartRateBoundaries(t *testing.T) {
	cases := []struct {
		value    float64
		expected int
	}{
		{40, 3}, {41, 1}, {50, 1}, {51, 0}, {90, 0}, {91, 1}, {110, 1}, {111, 2}, {130, 2}, {131, 3},
	}
	for _, tc := range cases {
		vs := normalVitals()
		vs.HeartRate = tc.value
		result, err := Score(vs)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, result.Components.HeartRate, "hr=%v", tc.value)
	}
}

func TestScore_Consciousness(t *testing.T) {
	for _, level := range []string{"Voice", "Pain", "Unresponsive"} {
		vs := normalVitals()
		vs.Consciousness = level
		result, err := Score(vs)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Components.Consciousness)
	}

	vs := normalVitals()
	vs.Consciousness = "Drowsy"
	_, err := Score(vs)
	assert.Error(t, err)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "consciousness", verr.Field)
}

func TestScore_OutOfRangeRaisesValidationError(t *testing.T) {
	cases := []func(*VitalSigns){
		func(vs *VitalSigns) { vs.RespiratoryRate = -1 },
		func(vs *VitalSigns) { vs.OxygenSaturation = 120 },
		func(vs *VitalSigns) { vs.Temperature = 10 },
		func(vs *VitalSigns) { vs.SystolicBP = 500 },
		func(vs *VitalSigns) { vs.HeartRate = -5 },
	}
	for _, mutate := range cases {
		vs := normalVitals()
		mutate(&vs)
		_, err := Score(vs)
		assert.Error(t, err)
	}
}

func TestClinicalRisk(t *testing.T) {
	assert.Equal(t, RiskLow, ClinicalRisk(0))
	assert.Equal(t, RiskLowMedium, ClinicalRisk(1))
	assert.Equal(t, RiskLowMedium, ClinicalRisk(4))
	assert.Equal(t, RiskMedium, ClinicalRisk(5))
	assert.Equal(t, RiskMedium, ClinicalRisk(6))
	assert.Equal(t, RiskHigh, ClinicalRisk(7))
	assert.Equal(t, RiskHigh, ClinicalRisk(15))
}

func TestScore_MediumRiskVector(t *testing.T) {
	// respRate 22 (+2), spo2 93 (+2), hr 95 (+1) → total 5, Medium
	vs := normalVitals()
	vs.RespiratoryRate = 22
	vs.OxygenSaturation = 93
	vs.HeartRate = 95

	result, err := Score(vs)
	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalScore)
	assert.Equal(t, RiskMedium, result.ClinicalRisk)
}
