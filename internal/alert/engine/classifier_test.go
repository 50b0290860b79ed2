package engine

import (
	"testing"

	"github.com/Folokee/SASSI-Microservices/internal/alert/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		score    int
		valid    bool
		expected string // "" = no alert
		severity string
	}{
		{0, true, "", ""},
		{2, true, "", ""},
		{3, true, models.AlertEWSElevated, models.SeverityLow},
		{4, true, models.AlertEWSElevated, models.SeverityLow},
		{5, true, models.AlertEWSUrgent, models.SeverityMedium},
		{6, true, models.AlertEWSUrgent, models.SeverityMedium},
		{7, true, models.AlertEWSCritical, models.SeverityHigh},
		{15, true, models.AlertEWSCritical, models.SeverityHigh},
		{6, false, models.AlertEWSDataInconsistency, models.SeverityMedium},
		{0, false, models.AlertEWSDataInconsistency, models.SeverityMedium},
	}

	for _, tc := range cases {
		c := Classify(tc.score, tc.valid)
		if tc.expected == "" {
			assert.Nil(t, c, "score=%d valid=%v", tc.score, tc.valid)
			continue
		}
		require.NotNil(t, c, "score=%d valid=%v", tc.score, tc.valid)
		assert.Equal(t, tc.expected, c.AlertType)
		assert.Equal(t, tc.severity, c.Severity)
	}
}

func TestPriority(t *testing.T) {
	// EWS_URGENT MEDIUM: 50 + 15 = 65
	assert.Equal(t, 65, Priority(models.AlertEWSUrgent, models.SeverityMedium))
	// EWS_DATA_INCONSISTENCY MEDIUM: 50 + 0 = 50
	assert.Equal(t, 50, Priority(models.AlertEWSDataInconsistency, models.SeverityMedium))
	// critical: 80 + 20 = 100
	assert.Equal(t, 100, Priority(models.AlertEWSCritical, models.SeverityHigh))
	assert.Equal(t, 40, Priority(models.AlertEWSElevated, models.SeverityLow))
	assert.Equal(t, 98, Priority(models.AlertSensorCritical, models.SeverityHigh))
	assert.Equal(t, 38, Priority(models.AlertSensorWarning, models.SeverityLow))
}

func TestClampPriority(t *testing.T) {
	assert.Equal(t, 1, ClampPriority(0))
	assert.Equal(t, 1, ClampPriority(-5))
	assert.Equal(t, 100, ClampPriority(120))
	assert.Equal(t, 65, ClampPriority(65))
}

func strPtr(s string) *string { return &s }

func subscription(minSeverity string, patientID *string, alertTypes ...string) *models.Subscription {
	return &models.Subscription{
		SubscriptionID: "sub-1",
		SubscriberType: models.SubscriberStaff,
		SubscriberID:   "staff-1",
		PatientID:      patientID,
		AlertTypes:     alertTypes,
		MinSeverity:    minSeverity,
		Channels:       []models.Channel{{Kind: models.ChannelEmail, Contact: "a@b.c", Enabled: true}},
		Active:         true,
	}
}

func alert(alertType, severity, patientID string) *models.Alert {
	return &models.Alert{
		AlertID:       "alert-1",
		PatientID:     patientID,
		AlertType:     alertType,
		AlertSeverity: severity,
		Status:        models.StatusNew,
	}
}

func TestMatches_SeverityRules(t *testing.T) {
	high := alert(models.AlertEWSCritical, models.SeverityHigh, "P1")
	medium := alert(models.AlertEWSUrgent, models.SeverityMedium, "P1")
	low := alert(models.AlertEWSElevated, models.SeverityLow, "P1")

	// HIGH alert matches any minSeverity
	assert.True(t, Matches(subscription(models.SeverityLow, nil), high))
	assert.True(t, Matches(subscription(models.SeverityMedium, nil), high))
	assert.True(t, Matches(subscription(models.SeverityHigh, nil), high))

	// MEDIUM alert matches minSeverity MEDIUM or LOW
	assert.True(t, Matches(subscription(models.SeverityLow, nil), medium))
	assert.True(t, Matches(subscription(models.SeverityMedium, nil), medium))
	assert.False(t, Matches(subscription(models.SeverityHigh, nil), medium))

	// LOW alert matches only minSeverity LOW
	assert.True(t, Matches(subscription(models.SeverityLow, nil), low))
	assert.False(t, Matches(subscription(models.SeverityMedium, nil), low))
	assert.False(t, Matches(subscription(models.SeverityHigh, nil), low))
}

func TestMatches_PatientAndTypeRules(t *testing.T) {
	a := alert(models.AlertEWSCritical, models.SeverityHigh, "P1")

	assert.True(t, Matches(subscription(models.SeverityLow, strPtr("P1")), a))
	assert.False(t, Matches(subscription(models.SeverityLow, strPtr("P2")), a))

	assert.True(t, Matches(subscription(models.SeverityLow, nil, models.AlertEWSCritical), a))
	assert.False(t, Matches(subscription(models.SeverityLow, nil, models.AlertEWSUrgent), a))

	inactive := subscription(models.SeverityLow, nil)
	inactive.Active = false
	assert.False(t, Matches(inactive, a))
}

func TestMatchSubscriptions_TypeFilterExcludesCritical(t *testing.T) {
	// HIGH alert; STAFF(minSeverity=LOW, all types) matches,
	// STAFF(minSeverity=HIGH, alertTypes=[EWS_URGENT]) does not
	a := alert(models.AlertEWSCritical, models.SeverityHigh, "P1")

	matchAll := subscription(models.SeverityLow, nil)
	urgentOnly := subscription(models.SeverityHigh, nil, models.AlertEWSUrgent)
	urgentOnly.SubscriptionID = "sub-2"

	matched := MatchSubscriptions([]*models.Subscription{matchAll, urgentOnly}, a)
	require.Len(t, matched, 1)
	assert.Equal(t, "sub-1", matched[0].SubscriptionID)
}
