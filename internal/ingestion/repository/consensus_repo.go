package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ingestion/models"

	"go.uber.org/zap"
)

// ConsensusRepository 传感器共识仓库
type ConsensusRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewConsensusRepository 创建传感器共识仓库
func NewConsensusRepository(db *sql.DB, logger *zap.Logger) *ConsensusRepository {
	return &ConsensusRepository{
		db:     db,
		logger: logger,
	}
}

// consensusColumns 查询列（与 scanConsensus 对应）
const consensusColumns = `
	consensus_id,
	patient_id,
	sensor_type,
	participating_readings,
	consensus_value,
	consensus_at,
	valid,
	method,
	created_at
`

// CreateConsensus 持久化共识记录
// 存储失败必须让调用方中止发布（读数已持久化，下一条读数到达时会重新计算）
func (r *ConsensusRepository) CreateConsensus(ctx context.Context, consensus *models.SensorConsensus) error {
	if consensus == nil {
		return fmt.Errorf("consensus is required")
	}
	if len(consensus.Participating) == 0 {
		return fmt.Errorf("participating readings must not be empty")
	}

	participating, err := json.Marshal(consensus.Participating)
	if err != nil {
		return fmt.Errorf("failed to marshal participating readings: %w", err)
	}

	query := `
		INSERT INTO sensor_consensus (
			consensus_id,
			patient_id,
			sensor_type,
			participating_readings,
			consensus_value,
			consensus_at,
			valid,
			method,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		consensus.ConsensusID,
		consensus.PatientID,
		consensus.SensorType,
		participating,
		consensus.ConsensusValue,
		consensus.ConsensusAt,
		consensus.Valid,
		consensus.Method,
		consensus.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sensor consensus: %w", err)
	}

	return nil
}

// GetLatestValidPerSensorType 获取患者每类传感器最近一条有效共识
func (r *ConsensusRepository) GetLatestValidPerSensorType(ctx context.Context, patientID string) (map[string]*models.SensorConsensus, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT ON (sensor_type) %s
		FROM sensor_consensus
		WHERE patient_id = $1
		  AND valid = true
		ORDER BY sensor_type, consensus_at DESC
	`, consensusColumns)

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest consensus: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*models.SensorConsensus)
	for rows.Next() {
		consensus, err := scanConsensus(rows)
		if err != nil {
			return nil, err
		}
		result[consensus.SensorType] = consensus
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consensus rows: %w", err)
	}

	return result, nil
}

// ConsensusFilters 共识查询过滤条件
type ConsensusFilters struct {
	From       *time.Time
	To         *time.Time
	SensorType *string
}

// ListByPatient 查询患者的共识记录（按 consensus_at 降序）
func (r *ConsensusRepository) ListByPatient(ctx context.Context, patientID string, filters ConsensusFilters) ([]*models.SensorConsensus, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	where := []string{"patient_id = $1"}
	args := []interface{}{patientID}
	argN := 2

	if filters.From != nil {
		where = append(where, fmt.Sprintf("consensus_at >= $%d", argN))
		args = append(args, *filters.From)
		argN++
	}
	if filters.To != nil {
		where = append(where, fmt.Sprintf("consensus_at <= $%d", argN))
		args = append(args, *filters.To)
		argN++
	}
	if filters.SensorType != nil {
		where = append(where, fmt.Sprintf("sensor_type = $%d", argN))
		args = append(args, *filters.SensorType)
		argN++
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM sensor_consensus
		WHERE %s
		ORDER BY consensus_at DESC
	`, consensusColumns, strings.Join(where, " AND "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor consensus: %w", err)
	}
	defer rows.Close()

	result := []*models.SensorConsensus{}
	for rows.Next() {
		consensus, err := scanConsensus(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, consensus)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consensus rows: %w", err)
	}

	return result, nil
}

// scanConsensus 扫描一行共识记录
func scanConsensus(rows *sql.Rows) (*models.SensorConsensus, error) {
	var consensus models.SensorConsensus
	var participating []byte

	err := rows.Scan(
		&consensus.ConsensusID,
		&consensus.PatientID,
		&consensus.SensorType,
		&participating,
		&consensus.ConsensusValue,
		&consensus.ConsensusAt,
		&consensus.Valid,
		&consensus.Method,
		&consensus.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sensor consensus: %w", err)
	}

	if len(participating) > 0 {
		if err := json.Unmarshal(participating, &consensus.Participating); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participating readings: %w", err)
		}
	}

	return &consensus, nil
}
