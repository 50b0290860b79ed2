package consensus

import (
	"testing"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ingestion/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func reading(node string, value float64, at time.Time) *models.SensorReading {
	return &models.SensorReading{
		ReadingID:  node + "-" + at.Format(time.RFC3339Nano),
		PatientID:  "P1",
		SensorType: models.SensorHeartRate,
		Value:      value,
		NodeID:     node,
		ObservedAt: at,
	}
}

func TestLatestPerNode_KeepsNewestReadingPerNode(t *testing.T) {
	readings := []*models.SensorReading{
		reading("node-1", 70, base),
		reading("node-1", 72, base.Add(2*time.Second)),
		reading("node-2", 75, base.Add(time.Second)),
	}

	latest := LatestPerNode(readings)
	require.Len(t, latest, 2)
	// ascending by observed_at
	assert.Equal(t, "node-2", latest[0].NodeID)
	assert.Equal(t, 75.0, latest[0].Value)
	assert.Equal(t, "node-1", latest[1].NodeID)
	assert.Equal(t, 72.0, latest[1].Value)
}

func TestResolve_SingleNode(t *testing.T) {
	out := Resolve([]*models.SensorReading{reading("node-1", 72, base)})

	assert.True(t, out.Valid)
	assert.Equal(t, models.MethodSingle, out.Method)
	assert.Equal(t, 72.0, out.Value)
	assert.Equal(t, base, out.Timestamp)
}

func TestResolve_MajorityWithinWindow(t *testing.T) {
	// two nodes report HR 72 within 2s, exact-value majority
	out := Resolve([]*models.SensorReading{
		reading("node-1", 72, base),
		reading("node-2", 72, base.Add(time.Second)),
	})

	assert.True(t, out.Valid)
	assert.Equal(t, models.MethodMajority, out.Method)
	assert.Equal(t, 72.0, out.Value)
	assert.Equal(t, base.Add(time.Second), out.Timestamp)
}

func TestResolve_MajorityTwoOfThree(t *testing.T) {
	// 37.2, 37.2, 39.5: 2 of 3 is a majority
	out := Resolve([]*models.SensorReading{
		reading("node-1", 37.2, base),
		reading("node-2", 37.2, base.Add(time.Second)),
		reading("node-3", 39.5, base.Add(2*time.Second)),
	})

	assert.True(t, out.Valid)
	assert.Equal(t, models.MethodMajority, out.Method)
	assert.Equal(t, 37.2, out.Value)
	assert.Equal(t, base.Add(time.Second), out.Timestamp)
}

func TestResolve_NoMajorityWithinDeviation(t *testing.T) {
	// 37.0, 37.2, 39.5: no majority, every value within 20% of the mean
	out := Resolve([]*models.SensorReading{
		reading("node-1", 37.0, base),
		reading("node-2", 37.2, base.Add(time.Second)),
		reading("node-3", 39.5, base.Add(2*time.Second)),
	})

	assert.True(t, out.Valid)
	assert.Equal(t, models.MethodAverage, out.Method)
	assert.InDelta(t, 37.9, out.Value, 0.01)
}

func TestResolve_NoMajorityDeviationTooLarge(t *testing.T) {
	out := Resolve([]*models.SensorReading{
		reading("node-1", 20.0, base),
		reading("node-2", 37.2, base.Add(time.Second)),
		reading("node-3", 60.0, base.Add(2*time.Second)),
	})

	assert.False(t, out.Valid)
	assert.Equal(t, models.MethodNone, out.Method)
	assert.InDelta(t, 39.066, out.Value, 0.01)
}

func TestResolve_AverageFallback(t *testing.T) {
	out := Resolve([]*models.SensorReading{
		reading("node-1", 36.0, base),
		reading("node-2", 37.0, base.Add(time.Second)),
		reading("node-3", 38.0, base.Add(2*time.Second)),
	})

	assert.True(t, out.Valid)
	assert.Equal(t, models.MethodAverage, out.Method)
	assert.InDelta(t, 37.0, out.Value, 0.0001)
	assert.Equal(t, base.Add(2*time.Second), out.Timestamp)
}

func TestResolve_LatestOutsideTimestampThreshold(t *testing.T) {
	out := Resolve([]*models.SensorReading{
		reading("node-1", 70, base),
		reading("node-2", 90, base.Add(8*time.Second)),
	})

	assert.True(t, out.Valid)
	assert.Equal(t, models.MethodLatest, out.Method)
	assert.Equal(t, 90.0, out.Value)
	assert.Equal(t, base.Add(8*time.Second), out.Timestamp)
}

func TestResolve_Empty(t *testing.T) {
	out := Resolve(nil)
	assert.False(t, out.Valid)
	assert.Equal(t, models.MethodNone, out.Method)
}

func TestWindow(t *testing.T) {
	from, to := Window(base)
	assert.Equal(t, base.Add(-30*time.Second), from)
	assert.Equal(t, base.Add(5*time.Second), to)
}
