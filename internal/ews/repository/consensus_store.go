package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Folokee/SASSI-Microservices/internal/ews/models"

	"go.uber.org/zap"
)

// ConsensusStore 评分共识仓库
type ConsensusStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewConsensusStore 创建评分共识仓库
func NewConsensusStore(db *sql.DB, logger *zap.Logger) *ConsensusStore {
	return &ConsensusStore{
		db:     db,
		logger: logger,
	}
}

const scoreConsensusColumns = `
	consensus_id,
	patient_id,
	node_scores,
	consensus_score,
	clinical_risk,
	consensus_at,
	valid,
	method,
	created_at
`

// CreateConsensus 持久化评分共识
func (s *ConsensusStore) CreateConsensus(ctx context.Context, consensus *models.ScoreConsensus) error {
	if consensus == nil {
		return fmt.Errorf("consensus is required")
	}
	if len(consensus.NodeScores) == 0 {
		return fmt.Errorf("node scores must not be empty")
	}

	nodeScores, err := json.Marshal(consensus.NodeScores)
	if err != nil {
		return fmt.Errorf("failed to marshal node scores: %w", err)
	}

	query := `
		INSERT INTO score_consensus (
			consensus_id,
			patient_id,
			node_scores,
			consensus_score,
			clinical_risk,
			consensus_at,
			valid,
			method,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err = s.db.ExecContext(ctx, query,
		consensus.ConsensusID,
		consensus.PatientID,
		nodeScores,
		consensus.ConsensusScore,
		consensus.ClinicalRisk,
		consensus.ConsensusAt,
		consensus.Valid,
		consensus.Method,
		consensus.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create score consensus: %w", err)
	}

	return nil
}

// GetConsensus 按 consensus_id 获取评分共识
func (s *ConsensusStore) GetConsensus(ctx context.Context, consensusID string) (*models.ScoreConsensus, error) {
	if consensusID == "" {
		return nil, fmt.Errorf("consensus_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM score_consensus WHERE consensus_id = $1`, scoreConsensusColumns)

	row := s.db.QueryRowContext(ctx, query, consensusID)
	consensus, err := scanScoreConsensus(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get score consensus: %w", err)
	}
	return consensus, nil
}

func scanScoreConsensus(row rowScanner) (*models.ScoreConsensus, error) {
	var consensus models.ScoreConsensus
	var nodeScores []byte

	err := row.Scan(
		&consensus.ConsensusID,
		&consensus.PatientID,
		&nodeScores,
		&consensus.ConsensusScore,
		&consensus.ClinicalRisk,
		&consensus.ConsensusAt,
		&consensus.Valid,
		&consensus.Method,
		&consensus.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(nodeScores) > 0 {
		if err := json.Unmarshal(nodeScores, &consensus.NodeScores); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node scores: %w", err)
		}
	}

	return &consensus, nil
}
