package service_test

import (
	"context"
	"testing"

	"github.com/Folokee/SASSI-Microservices/internal/common/bus"
	"github.com/Folokee/SASSI-Microservices/internal/ews/repository"
	"github.com/Folokee/SASSI-Microservices/internal/ews/service"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingBus captures published events
type recordingBus struct {
	published []struct {
		Topic   string
		EventID string
	}
}

func (b *recordingBus) Publish(ctx context.Context, topic, eventID string, payload interface{}) error {
	b.published = append(b.published, struct {
		Topic   string
		EventID string
	}{topic, eventID})
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, topic, group, consumer string, handler bus.Handler) error {
	return nil
}

func (b *recordingBus) Close() error { return nil }

func float(v float64) *float64 { return &v }
func str(v string) *string     { return &v }

func fullCommand() service.CalculateCommand {
	return service.CalculateCommand{
		PatientID: "P1",
		NodeID:    "node-1",
		VitalSigns: service.VitalSignsInput{
			RespiratoryRate:  float(18),
			OxygenSaturation: float(96),
			Temperature:      float(37.1),
			SystolicBP:       float(125),
			HeartRate:        float(72),
			Consciousness:    str("Alert"),
		},
	}
}

func TestCalculate_PersistsEventAndPublishes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eventStore := repository.NewEventStore(db, zap.NewNop())
	eventBus := &recordingBus{}
	svc := service.NewCommandService(eventStore, eventBus, zap.NewNop())

	mock.ExpectExec(`INSERT INTO score_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.Calculate(context.Background(), fullCommand())
	require.NoError(t, err)

	assert.NotEmpty(t, result.EventID)
	assert.Equal(t, 0, result.TotalScore)
	assert.Equal(t, "Low", result.ClinicalRisk)

	require.Len(t, eventBus.published, 1)
	assert.Equal(t, bus.TopicEWSCalculated, eventBus.published[0].Topic)
	assert.Equal(t, result.EventID, eventBus.published[0].EventID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCalculate_MissingVitalRejected(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eventStore := repository.NewEventStore(db, zap.NewNop())
	svc := service.NewCommandService(eventStore, &recordingBus{}, zap.NewNop())

	cmd := fullCommand()
	cmd.VitalSigns.HeartRate = nil

	_, err = svc.Calculate(context.Background(), cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartRate is required")
}

func TestCalculate_InvalidConsciousnessRejected(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eventStore := repository.NewEventStore(db, zap.NewNop())
	svc := service.NewCommandService(eventStore, &recordingBus{}, zap.NewNop())

	cmd := fullCommand()
	cmd.VitalSigns.Consciousness = str("Sleepy")

	_, err = svc.Calculate(context.Background(), cmd)
	require.Error(t, err)
}

func TestCalculateBatch_PartialSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eventStore := repository.NewEventStore(db, zap.NewNop())
	svc := service.NewCommandService(eventStore, &recordingBus{}, zap.NewNop())

	mock.ExpectExec(`INSERT INTO score_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	bad := fullCommand()
	bad.PatientID = ""

	results, errors := svc.CalculateBatch(context.Background(), []service.CalculateCommand{fullCommand(), bad})
	assert.Len(t, results, 1)
	require.Len(t, errors, 1)
	assert.Equal(t, 1, errors[0].Index)
}
