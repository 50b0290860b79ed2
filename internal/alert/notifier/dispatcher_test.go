package notifier_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/alert/models"
	"github.com/Folokee/SASSI-Microservices/internal/alert/notifier"
	"github.com/Folokee/SASSI-Microservices/internal/alert/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

// fakeChannel scripted channel adapter
type fakeChannel struct {
	kind  string
	fail  bool
	sent  []string // notification ids
}

func (f *fakeChannel) Kind() string { return f.kind }

func (f *fakeChannel) Send(ctx context.Context, n *models.Notification, subject string) error {
	if f.fail {
		return fmt.Errorf("channel unavailable")
	}
	f.sent = append(f.sent, n.NotificationID)
	return nil
}

func newDispatcher(t *testing.T, channels ...notifier.Channel) (*notifier.Dispatcher, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := repository.NewNotificationsRepository(db, zap.NewNop())
	return notifier.NewDispatcher(repo, channels, zap.NewNop()), mock
}

func testAlert() *models.Alert {
	return &models.Alert{
		AlertID:       "alert-1",
		PatientID:     "P1",
		AlertType:     models.AlertEWSCritical,
		AlertSeverity: models.SeverityHigh,
		Message:       "NEWS2 score 8",
		Status:        models.StatusNew,
		Priority:      100,
	}
}

func emailSub(enabled bool) *models.Subscription {
	return &models.Subscription{
		SubscriptionID: "sub-1",
		SubscriberType: models.SubscriberStaff,
		SubscriberID:   "staff-1",
		MinSeverity:    models.SeverityLow,
		Channels: []models.Channel{
			{Kind: models.ChannelEmail, Contact: "nurse@ward.example", Enabled: enabled},
		},
		Active: true,
	}
}

func TestDispatch_OneNotificationPerEnabledChannel(t *testing.T) {
	email := &fakeChannel{kind: models.ChannelEmail}
	d, mock := newDispatcher(t, email)

	// create PENDING, then update to SENT
	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	notifications := d.Dispatch(context.Background(), testAlert(), []*models.Subscription{emailSub(true)})
	require.Len(t, notifications, 1)

	n := notifications[0]
	assert.Equal(t, models.NotificationSent, n.Status)
	assert.NotNil(t, n.SentAt)
	assert.Equal(t, "nurse@ward.example", n.Recipient)
	assert.Len(t, email.sent, 1)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatch_DisabledChannelSkipped(t *testing.T) {
	email := &fakeChannel{kind: models.ChannelEmail}
	d, mock := newDispatcher(t, email)

	notifications := d.Dispatch(context.Background(), testAlert(), []*models.Subscription{emailSub(false)})
	assert.Empty(t, notifications)
	assert.Empty(t, email.sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatch_ChannelFailureMarksFailed(t *testing.T) {
	email := &fakeChannel{kind: models.ChannelEmail, fail: true}
	d, mock := newDispatcher(t, email)

	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	notifications := d.Dispatch(context.Background(), testAlert(), []*models.Subscription{emailSub(true)})
	require.Len(t, notifications, 1)

	n := notifications[0]
	assert.Equal(t, models.NotificationFailed, n.Status)
	require.NotNil(t, n.ErrorMessage)
	assert.Contains(t, *n.ErrorMessage, "channel unavailable")
}

func TestDispatch_UnsupportedChannelKind(t *testing.T) {
	d, mock := newDispatcher(t) // no channels registered

	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	notifications := d.Dispatch(context.Background(), testAlert(), []*models.Subscription{emailSub(true)})
	require.Len(t, notifications, 1)
	assert.Equal(t, models.NotificationFailed, notifications[0].Status)
}

func notificationRow(id, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"notification_id", "alert_id", "patient_id", "channel_kind", "recipient",
		"content", "status", "sent_at", "delivered_at", "error_message",
		"created_at", "updated_at",
	}).AddRow(id, "alert-1", "P1", models.ChannelEmail, "nurse@ward.example",
		"content", status, nil, nil, nil, base, base)
}

func TestResend_AllowedFromFailed(t *testing.T) {
	email := &fakeChannel{kind: models.ChannelEmail}
	d, mock := newDispatcher(t, email)

	mock.ExpectQuery(`SELECT\s+notification_id`).
		WithArgs("n1").
		WillReturnRows(notificationRow("n1", models.NotificationFailed))
	// back to PENDING
	mock.ExpectExec(`UPDATE notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// then SENT
	mock.ExpectExec(`UPDATE notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := d.Resend(context.Background(), "n1")
	require.NoError(t, err)
	require.NotNil(t, n)
	// same notificationId is reused, no new record
	assert.Equal(t, "n1", n.NotificationID)
	assert.Equal(t, models.NotificationSent, n.Status)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResend_RejectedFromSent(t *testing.T) {
	email := &fakeChannel{kind: models.ChannelEmail}
	d, mock := newDispatcher(t, email)

	mock.ExpectQuery(`SELECT\s+notification_id`).
		WithArgs("n1").
		WillReturnRows(notificationRow("n1", models.NotificationSent))

	_, err := d.Resend(context.Background(), "n1")
	require.Error(t, err)

	var transition *notifier.StateTransitionError
	assert.ErrorAs(t, err, &transition)
}

func TestMarkDelivered_FromSentOnly(t *testing.T) {
	email := &fakeChannel{kind: models.ChannelEmail}
	d, mock := newDispatcher(t, email)

	mock.ExpectQuery(`SELECT\s+notification_id`).
		WithArgs("n1").
		WillReturnRows(notificationRow("n1", models.NotificationSent))
	mock.ExpectExec(`UPDATE notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := d.MarkDelivered(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, models.NotificationDelivered, n.Status)
	assert.NotNil(t, n.DeliveredAt)

	mock.ExpectQuery(`SELECT\s+notification_id`).
		WithArgs("n2").
		WillReturnRows(notificationRow("n2", models.NotificationPending))

	_, err = d.MarkDelivered(context.Background(), "n2")
	require.Error(t, err)
}
