package consensus

import (
	"testing"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ews/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func event(node string, score int, at time.Time) *models.ScoreEvent {
	return &models.ScoreEvent{
		EventID:    node + "-" + at.Format(time.RFC3339Nano),
		PatientID:  "P1",
		NodeID:     node,
		Kind:       models.KindEWSCalculated,
		TotalScore: score,
		ObservedAt: at,
	}
}

func TestLatestPerNode(t *testing.T) {
	events := []*models.ScoreEvent{
		event("node-1", 4, base),
		event("node-1", 5, base.Add(2*time.Second)),
		event("node-2", 5, base.Add(time.Second)),
	}

	latest := LatestPerNode(events)
	require.Len(t, latest, 2)
	assert.Equal(t, "node-2", latest[0].NodeID)
	assert.Equal(t, "node-1", latest[1].NodeID)
	assert.Equal(t, 5, latest[1].TotalScore)
}

func TestResolve_SingleNode(t *testing.T) {
	out := Resolve([]*models.ScoreEvent{event("node-1", 0, base)})

	assert.True(t, out.Valid)
	assert.Equal(t, models.MethodSingle, out.Method)
	assert.Equal(t, 0, out.Score)
}

func TestResolve_MajorityTwoNodes(t *testing.T) {
	// both nodes score 5 within 1s, majority consensus 5
	out := Resolve([]*models.ScoreEvent{
		event("node-1", 5, base),
		event("node-2", 5, base.Add(time.Second)),
	})

	assert.True(t, out.Valid)
	assert.Equal(t, models.MethodMajority, out.Method)
	assert.Equal(t, 5, out.Score)
	assert.Equal(t, base.Add(time.Second), out.Timestamp)
}

func TestResolve_DisagreementBeyondThreshold(t *testing.T) {
	// scores 3 and 8 within 1s: avg 5.5 rounds to 6, |3-5.5| exceeds the 1-point threshold
	out := Resolve([]*models.ScoreEvent{
		event("node-1", 3, base),
		event("node-2", 8, base.Add(time.Second)),
	})

	assert.False(t, out.Valid)
	assert.Equal(t, models.MethodNone, out.Method)
	assert.Equal(t, 6, out.Score)
}

func TestResolve_AverageWithinThreshold(t *testing.T) {
	out := Resolve([]*models.ScoreEvent{
		event("node-1", 4, base),
		event("node-2", 5, base.Add(time.Second)),
	})

	assert.True(t, out.Valid)
	assert.Equal(t, models.MethodAverage, out.Method)
	// avg 4.5 rounds away from zero
	assert.Equal(t, 5, out.Score)
}

func TestResolve_LatestOutsideTimestampThreshold(t *testing.T) {
	out := Resolve([]*models.ScoreEvent{
		event("node-1", 2, base),
		event("node-2", 7, base.Add(10*time.Second)),
	})

	assert.True(t, out.Valid)
	assert.Equal(t, models.MethodLatest, out.Method)
	assert.Equal(t, 7, out.Score)
	assert.Equal(t, base.Add(10*time.Second), out.Timestamp)
}

func TestWindow(t *testing.T) {
	from, to := Window(base)
	assert.Equal(t, base.Add(-30*time.Second), from)
	assert.Equal(t, base.Add(5*time.Second), to)
}
