package service_test

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ingestion/ews"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/models"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/repository"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/service"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

// fakeEWSClient records calculate calls
type fakeEWSClient struct {
	calls []ews.CalculateRequest
}

func (f *fakeEWSClient) CalculateEWS(ctx context.Context, req ews.CalculateRequest) (*ews.CalculateResponse, error) {
	f.calls = append(f.calls, req)
	return &ews.CalculateResponse{EventID: "event-1", TotalScore: 0, ClinicalRisk: "Low"}, nil
}

func readingRows(values ...[]driverValue) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"reading_id", "patient_id", "sensor_type", "value", "unit",
		"observed_at", "node_id", "metadata", "created_at",
	})
	for _, v := range values {
		rows.AddRow(v...)
	}
	return rows
}

type driverValue = driver.Value

func TestIngestReading_TwoNodeMajority(t *testing.T) {
	// two nodes report the same heart rate within 2s
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := zap.NewNop()
	readingsRepo := repository.NewReadingsRepository(db, logger)
	consensusRepo := repository.NewConsensusRepository(db, logger)
	ewsClient := &fakeEWSClient{}
	svc := service.NewIngestionService(readingsRepo, consensusRepo, ewsClient, logger)

	reading := &models.SensorReading{
		PatientID:  "P1",
		SensorType: models.SensorHeartRate,
		Value:      72,
		Unit:       "bpm",
		ObservedAt: base.Add(time.Second),
		NodeID:     "node-2",
	}

	// 1) persist the reading
	mock.ExpectExec(`INSERT INTO sensor_readings`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// 2) window query returns both nodes' readings
	mock.ExpectQuery(`SELECT\s+reading_id`).
		WillReturnRows(readingRows(
			[]driverValue{"r2", "P1", models.SensorHeartRate, 72.0, "bpm", base.Add(time.Second), "node-2", []byte(`{}`), base},
			[]driverValue{"r1", "P1", models.SensorHeartRate, 72.0, "bpm", base, "node-1", []byte(`{}`), base},
		))

	// 3) persist the consensus
	mock.ExpectExec(`INSERT INTO sensor_consensus`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// 4) completeness check: only heart rate present, incomplete → no EWS call
	mock.ExpectQuery(`SELECT DISTINCT ON \(sensor_type\)`).
		WillReturnRows(sqlmock.NewRows([]string{
			"consensus_id", "patient_id", "sensor_type", "participating_readings",
			"consensus_value", "consensus_at", "valid", "method", "created_at",
		}).AddRow("c1", "P1", models.SensorHeartRate, []byte(`[]`), 72.0, base.Add(time.Second), true, "majority", base))

	cons, err := svc.IngestReading(context.Background(), reading)
	require.NoError(t, err)
	require.NotNil(t, cons)

	assert.True(t, cons.Valid)
	assert.Equal(t, models.MethodMajority, cons.Method)
	assert.Equal(t, 72.0, cons.ConsensusValue)
	assert.Len(t, cons.Participating, 2)
	assert.Empty(t, ewsClient.calls)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestReading_CompleteVectorTriggersEWS(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := zap.NewNop()
	readingsRepo := repository.NewReadingsRepository(db, logger)
	consensusRepo := repository.NewConsensusRepository(db, logger)
	ewsClient := &fakeEWSClient{}
	svc := service.NewIngestionService(readingsRepo, consensusRepo, ewsClient, logger)

	reading := &models.SensorReading{
		PatientID:  "P1",
		SensorType: models.SensorConsciousness,
		Value:      0,
		ObservedAt: base,
		NodeID:     "node-1",
	}

	mock.ExpectExec(`INSERT INTO sensor_readings`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT\s+reading_id`).
		WillReturnRows(readingRows(
			[]driverValue{"r1", "P1", models.SensorConsciousness, 0.0, "", base, "node-1", []byte(`{}`), base},
		))
	mock.ExpectExec(`INSERT INTO sensor_consensus`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// all six sensor types have fresh valid consensus
	latestRows := sqlmock.NewRows([]string{
		"consensus_id", "patient_id", "sensor_type", "participating_readings",
		"consensus_value", "consensus_at", "valid", "method", "created_at",
	})
	for sensorType, value := range map[string]float64{
		models.SensorRespRate:      18,
		models.SensorSpO2:          96,
		models.SensorTemperature:   37.1,
		models.SensorBPSystolic:    125,
		models.SensorHeartRate:     72,
		models.SensorConsciousness: 0,
	} {
		latestRows.AddRow("c-"+sensorType, "P1", sensorType, []byte(`[]`), value, base, true, "single", base)
	}
	mock.ExpectQuery(`SELECT DISTINCT ON \(sensor_type\)`).WillReturnRows(latestRows)

	_, err = svc.IngestReading(context.Background(), reading)
	require.NoError(t, err)

	require.Len(t, ewsClient.calls, 1)
	call := ewsClient.calls[0]
	assert.Equal(t, "P1", call.PatientID)
	assert.Equal(t, "node-1", call.NodeID)
	assert.Equal(t, "Alert", call.VitalSigns.Consciousness)
	assert.Equal(t, 72.0, call.VitalSigns.HeartRate)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestReading_ConsensusStorageFailureAborts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := zap.NewNop()
	readingsRepo := repository.NewReadingsRepository(db, logger)
	consensusRepo := repository.NewConsensusRepository(db, logger)
	ewsClient := &fakeEWSClient{}
	svc := service.NewIngestionService(readingsRepo, consensusRepo, ewsClient, logger)

	reading := &models.SensorReading{
		PatientID:  "P1",
		SensorType: models.SensorHeartRate,
		Value:      72,
		ObservedAt: base,
		NodeID:     "node-1",
	}

	mock.ExpectExec(`INSERT INTO sensor_readings`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT\s+reading_id`).
		WillReturnRows(readingRows(
			[]driverValue{"r1", "P1", models.SensorHeartRate, 72.0, "bpm", base, "node-1", []byte(`{}`), base},
		))
	mock.ExpectExec(`INSERT INTO sensor_consensus`).
		WillReturnError(assert.AnError)

	_, err = svc.IngestReading(context.Background(), reading)
	assert.Error(t, err)
	// no completeness check, no EWS trigger
	assert.Empty(t, ewsClient.calls)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateReading(t *testing.T) {
	valid := &models.SensorReading{
		PatientID:  "P1",
		SensorType: models.SensorHeartRate,
		Value:      72,
		ObservedAt: base,
		NodeID:     "node-1",
	}
	require.NoError(t, service.ValidateReading(valid))

	cases := []func(r *models.SensorReading){
		func(r *models.SensorReading) { r.PatientID = "" },
		func(r *models.SensorReading) { r.SensorType = "" },
		func(r *models.SensorReading) { r.SensorType = "bloodGlucose" },
		func(r *models.SensorReading) { r.ObservedAt = time.Time{} },
		func(r *models.SensorReading) { r.NodeID = "" },
	}
	for _, mutate := range cases {
		r := *valid
		mutate(&r)
		assert.Error(t, service.ValidateReading(&r))
	}

	conscious := *valid
	conscious.SensorType = models.SensorConsciousness
	conscious.Value = 5
	assert.Error(t, service.ValidateReading(&conscious))
	conscious.Value = 1.5
	assert.Error(t, service.ValidateReading(&conscious))
	conscious.Value = 2
	assert.NoError(t, service.ValidateReading(&conscious))
}
