package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ingestion/models"

	"go.uber.org/zap"
)

// ReadingsRepository 传感器读数仓库
type ReadingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingsRepository 创建传感器读数仓库
func NewReadingsRepository(db *sql.DB, logger *zap.Logger) *ReadingsRepository {
	return &ReadingsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateReading 持久化一条读数
func (r *ReadingsRepository) CreateReading(ctx context.Context, reading *models.SensorReading) error {
	if reading == nil {
		return fmt.Errorf("reading is required")
	}

	metadata := reading.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	query := `
		INSERT INTO sensor_readings (
			reading_id,
			patient_id,
			sensor_type,
			value,
			unit,
			observed_at,
			node_id,
			metadata,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		reading.ReadingID,
		reading.PatientID,
		reading.SensorType,
		reading.Value,
		reading.Unit,
		reading.ObservedAt,
		reading.NodeID,
		[]byte(metadata),
		reading.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sensor reading: %w", err)
	}

	return nil
}

// GetReadingsInWindow 查询 (patient, sensorType) 在 [from, to] 窗口内的读数
// 按 observed_at 降序返回；每节点保留最新一条由调用方完成
func (r *ReadingsRepository) GetReadingsInWindow(ctx context.Context, patientID, sensorType string, from, to time.Time) ([]*models.SensorReading, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	if sensorType == "" {
		return nil, fmt.Errorf("sensor_type is required")
	}

	query := `
		SELECT
			reading_id,
			patient_id,
			sensor_type,
			value,
			unit,
			observed_at,
			node_id,
			metadata,
			created_at
		FROM sensor_readings
		WHERE patient_id = $1
		  AND sensor_type = $2
		  AND observed_at >= $3
		  AND observed_at <= $4
		ORDER BY observed_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, sensorType, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor readings: %w", err)
	}
	defer rows.Close()

	readings := []*models.SensorReading{}
	for rows.Next() {
		var reading models.SensorReading
		var metadata []byte

		err := rows.Scan(
			&reading.ReadingID,
			&reading.PatientID,
			&reading.SensorType,
			&reading.Value,
			&reading.Unit,
			&reading.ObservedAt,
			&reading.NodeID,
			&metadata,
			&reading.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor reading: %w", err)
		}

		if len(metadata) > 0 {
			reading.Metadata = metadata
		} else {
			reading.Metadata = json.RawMessage("{}")
		}

		readings = append(readings, &reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sensor readings: %w", err)
	}

	return readings, nil
}
