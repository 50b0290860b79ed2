package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Folokee/SASSI-Microservices/internal/ews/models"
	"github.com/Folokee/SASSI-Microservices/internal/ews/news2"

	"go.uber.org/zap"
)

// ReadModelRepository 患者读模型仓库
type ReadModelRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadModelRepository 创建读模型仓库
func NewReadModelRepository(db *sql.DB, logger *zap.Logger) *ReadModelRepository {
	return &ReadModelRepository{
		db:     db,
		logger: logger,
	}
}

const readModelColumns = `
	patient_id,
	current_score,
	clinical_risk,
	vital_signs,
	score_components,
	score_history,
	last_consensus_id,
	last_updated
`

// Get 获取患者读模型（不存在时返回 nil）
func (r *ReadModelRepository) Get(ctx context.Context, patientID string) (*models.PatientReadModel, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM patient_read_models WHERE patient_id = $1`, readModelColumns)

	row := r.db.QueryRowContext(ctx, query, patientID)
	rm, err := scanReadModel(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get read model: %w", err)
	}
	return rm, nil
}

// Upsert 写入读模型（存在则整行覆盖；并发控制由投影器的按患者串行化保证）
func (r *ReadModelRepository) Upsert(ctx context.Context, rm *models.PatientReadModel) error {
	if rm == nil {
		return fmt.Errorf("read model is required")
	}

	vitalSigns, err := marshalNullable(rm.VitalSigns)
	if err != nil {
		return fmt.Errorf("failed to marshal vital signs: %w", err)
	}
	components, err := marshalNullable(rm.ScoreComponents)
	if err != nil {
		return fmt.Errorf("failed to marshal score components: %w", err)
	}
	history, err := json.Marshal(rm.ScoreHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal score history: %w", err)
	}

	query := `
		INSERT INTO patient_read_models (
			patient_id,
			current_score,
			clinical_risk,
			vital_signs,
			score_components,
			score_history,
			last_consensus_id,
			last_updated
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (patient_id) DO UPDATE SET
			current_score = EXCLUDED.current_score,
			clinical_risk = EXCLUDED.clinical_risk,
			vital_signs = EXCLUDED.vital_signs,
			score_components = EXCLUDED.score_components,
			score_history = EXCLUDED.score_history,
			last_consensus_id = EXCLUDED.last_consensus_id,
			last_updated = EXCLUDED.last_updated
	`

	_, err = r.db.ExecContext(ctx, query,
		rm.PatientID,
		rm.CurrentScore,
		rm.ClinicalRisk,
		vitalSigns,
		components,
		history,
		rm.LastConsensusID,
		rm.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert read model: %w", err)
	}

	return nil
}

// ListHighRisk 查询当前分数 ≥ minScore 的患者（按分数降序）
func (r *ReadModelRepository) ListHighRisk(ctx context.Context, minScore int) ([]*models.PatientReadModel, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM patient_read_models
		WHERE current_score >= $1
		ORDER BY current_score DESC, last_updated DESC
	`, readModelColumns)

	rows, err := r.db.QueryContext(ctx, query, minScore)
	if err != nil {
		return nil, fmt.Errorf("failed to query high risk patients: %w", err)
	}
	defer rows.Close()

	result := []*models.PatientReadModel{}
	for rows.Next() {
		rm, err := scanReadModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan read model: %w", err)
		}
		result = append(result, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate read models: %w", err)
	}
	return result, nil
}

// Overview 读模型统计概览
type Overview struct {
	TotalPatients int            `json:"totalPatients"`
	ByRisk        map[string]int `json:"byRisk"`
}

// GetOverview 统计各风险级患者数量
func (r *ReadModelRepository) GetOverview(ctx context.Context) (*Overview, error) {
	query := `
		SELECT clinical_risk, COUNT(*)
		FROM patient_read_models
		GROUP BY clinical_risk
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query overview: %w", err)
	}
	defer rows.Close()

	overview := &Overview{ByRisk: map[string]int{}}
	for rows.Next() {
		var risk string
		var count int
		if err := rows.Scan(&risk, &count); err != nil {
			return nil, fmt.Errorf("failed to scan overview row: %w", err)
		}
		overview.ByRisk[risk] = count
		overview.TotalPatients += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate overview rows: %w", err)
	}
	return overview, nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case *news2.VitalSigns:
		if t == nil {
			return nil, nil
		}
	case *news2.ScoreComponents:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func scanReadModel(row rowScanner) (*models.PatientReadModel, error) {
	var rm models.PatientReadModel
	var vitalSigns, components, history []byte
	var lastConsensusID sql.NullString

	err := row.Scan(
		&rm.PatientID,
		&rm.CurrentScore,
		&rm.ClinicalRisk,
		&vitalSigns,
		&components,
		&history,
		&lastConsensusID,
		&rm.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	if lastConsensusID.Valid {
		rm.LastConsensusID = lastConsensusID.String
	}
	if len(vitalSigns) > 0 {
		var vs news2.VitalSigns
		if err := json.Unmarshal(vitalSigns, &vs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vital signs: %w", err)
		}
		rm.VitalSigns = &vs
	}
	if len(components) > 0 {
		var sc news2.ScoreComponents
		if err := json.Unmarshal(components, &sc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal score components: %w", err)
		}
		rm.ScoreComponents = &sc
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &rm.ScoreHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal score history: %w", err)
		}
	}
	if rm.ScoreHistory == nil {
		rm.ScoreHistory = []models.HistoryEntry{}
	}

	return &rm, nil
}
