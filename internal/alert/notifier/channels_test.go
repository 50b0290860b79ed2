package notifier_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Folokee/SASSI-Microservices/internal/alert/models"
	"github.com/Folokee/SASSI-Microservices/internal/alert/notifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testNotification(recipient string) *models.Notification {
	return &models.Notification{
		NotificationID: "n1",
		AlertID:        "alert-1",
		PatientID:      "P1",
		Recipient:      recipient,
		Content:        "[HIGH] EWS_CRITICAL alert for patient P1",
		Status:         models.NotificationPending,
	}
}

func TestSMSChannel_PostsToGateway(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := notifier.NewSMSChannel(server.URL, zap.NewNop())
	assert.Equal(t, models.ChannelSMS, ch.Kind())

	n := testNotification("+4512345678")
	require.NoError(t, ch.Send(context.Background(), n, "subject"))

	assert.Equal(t, "+4512345678", received["to"])
	assert.Equal(t, n.Content, received["message"])
}

func TestSMSChannel_GatewayErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ch := notifier.NewSMSChannel(server.URL, zap.NewNop())
	err := ch.Send(context.Background(), testNotification("+4512345678"), "subject")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookChannel_PostsToRecipientURL(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := notifier.NewWebhookChannel(zap.NewNop())
	assert.Equal(t, models.ChannelWebhook, ch.Kind())

	n := testNotification(server.URL)
	require.NoError(t, ch.Send(context.Background(), n, "subject"))

	assert.Equal(t, "n1", received["notificationId"])
	assert.Equal(t, "alert-1", received["alertId"])
	assert.Equal(t, "subject", received["subject"])
}
