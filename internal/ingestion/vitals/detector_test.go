package vitals

import (
	"testing"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ingestion/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func fullConsensusSet(at time.Time) map[string]*models.SensorConsensus {
	mk := func(sensorType string, value float64) *models.SensorConsensus {
		return &models.SensorConsensus{
			ConsensusID:    "c-" + sensorType,
			PatientID:      "P1",
			SensorType:     sensorType,
			ConsensusValue: value,
			ConsensusAt:    at,
			Valid:          true,
			Method:         models.MethodMajority,
		}
	}
	return map[string]*models.SensorConsensus{
		models.SensorRespRate:      mk(models.SensorRespRate, 18),
		models.SensorSpO2:          mk(models.SensorSpO2, 96),
		models.SensorTemperature:   mk(models.SensorTemperature, 37.1),
		models.SensorBPSystolic:    mk(models.SensorBPSystolic, 125),
		models.SensorHeartRate:     mk(models.SensorHeartRate, 72),
		models.SensorConsciousness: mk(models.SensorConsciousness, 0),
	}
}

func TestAssemble_Complete(t *testing.T) {
	vs, complete, err := Assemble(fullConsensusSet(now.Add(-time.Minute)), now)
	require.NoError(t, err)
	require.True(t, complete)

	assert.Equal(t, 18.0, vs.RespiratoryRate)
	assert.Equal(t, 96.0, vs.OxygenSaturation)
	assert.Equal(t, 37.1, vs.Temperature)
	assert.Equal(t, 125.0, vs.SystolicBP)
	assert.Equal(t, 72.0, vs.HeartRate)
	assert.Equal(t, "Alert", vs.Consciousness)
}

func TestAssemble_MissingSensorIsIncomplete(t *testing.T) {
	set := fullConsensusSet(now.Add(-time.Minute))
	delete(set, models.SensorConsciousness)

	vs, complete, err := Assemble(set, now)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Nil(t, vs)
}

func TestAssemble_StaleConsensusIsIncomplete(t *testing.T) {
	set := fullConsensusSet(now.Add(-time.Minute))
	set[models.SensorHeartRate].ConsensusAt = now.Add(-6 * time.Minute)

	_, complete, err := Assemble(set, now)
	require.NoError(t, err)
	assert.False(t, complete)
}

func TestAssemble_InvalidConsensusIsIncomplete(t *testing.T) {
	set := fullConsensusSet(now.Add(-time.Minute))
	set[models.SensorSpO2].Valid = false
	set[models.SensorSpO2].Method = models.MethodNone

	_, complete, err := Assemble(set, now)
	require.NoError(t, err)
	assert.False(t, complete)
}

func TestAssemble_AVPUMapping(t *testing.T) {
	for code, expected := range map[float64]string{0: "Alert", 1: "Voice", 2: "Pain", 3: "Unresponsive"} {
		set := fullConsensusSet(now.Add(-time.Minute))
		set[models.SensorConsciousness].ConsensusValue = code

		vs, complete, err := Assemble(set, now)
		require.NoError(t, err)
		require.True(t, complete)
		assert.Equal(t, expected, vs.Consciousness)
	}
}

func TestAssemble_InvalidConsciousnessCode(t *testing.T) {
	set := fullConsensusSet(now.Add(-time.Minute))
	set[models.SensorConsciousness].ConsensusValue = 7

	_, complete, err := Assemble(set, now)
	assert.Error(t, err)
	assert.False(t, complete)
}
