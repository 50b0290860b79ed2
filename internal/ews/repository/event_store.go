package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ews/models"

	"go.uber.org/zap"
)

// EventStore 评分事件仓库（追加式，事件不可变、不可删除）
type EventStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEventStore 创建评分事件仓库
func NewEventStore(db *sql.DB, logger *zap.Logger) *EventStore {
	return &EventStore{
		db:     db,
		logger: logger,
	}
}

const eventColumns = `
	event_id,
	patient_id,
	node_id,
	kind,
	observed_at,
	vital_signs,
	score_components,
	total_score,
	clinical_risk,
	metadata,
	created_at
`

// AppendEvent 追加一条评分事件
func (s *EventStore) AppendEvent(ctx context.Context, event *models.ScoreEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}

	vitalSigns, err := json.Marshal(event.VitalSigns)
	if err != nil {
		return fmt.Errorf("failed to marshal vital signs: %w", err)
	}
	components, err := json.Marshal(event.ScoreComponents)
	if err != nil {
		return fmt.Errorf("failed to marshal score components: %w", err)
	}
	metadata := event.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	query := `
		INSERT INTO score_events (
			event_id,
			patient_id,
			node_id,
			kind,
			observed_at,
			vital_signs,
			score_components,
			total_score,
			clinical_risk,
			metadata,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.EventID,
		event.PatientID,
		event.NodeID,
		event.Kind,
		event.ObservedAt,
		vitalSigns,
		components,
		event.TotalScore,
		event.ClinicalRisk,
		[]byte(metadata),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append score event: %w", err)
	}

	return nil
}

// GetEvent 按 event_id 获取事件
func (s *EventStore) GetEvent(ctx context.Context, eventID string) (*models.ScoreEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM score_events WHERE event_id = $1`, eventColumns)

	row := s.db.QueryRowContext(ctx, query, eventID)
	event, err := scanEventRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get score event: %w", err)
	}
	return event, nil
}

// GetEventsInWindow 查询患者在 [from, to] 窗口内的评分事件（按 observed_at 降序）
func (s *EventStore) GetEventsInWindow(ctx context.Context, patientID string, from, to time.Time) ([]*models.ScoreEvent, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM score_events
		WHERE patient_id = $1
		  AND observed_at >= $2
		  AND observed_at <= $3
		ORDER BY observed_at DESC
	`, eventColumns)

	rows, err := s.db.QueryContext(ctx, query, patientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query score events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventFilters 事件查询过滤条件
type EventFilters struct {
	PatientID *string
	Kind      *string
	From      *time.Time
	To        *time.Time
	Limit     int
}

// ListEvents 按条件查询事件（按 observed_at 降序）
func (s *EventStore) ListEvents(ctx context.Context, filters EventFilters) ([]*models.ScoreEvent, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	argN := 1

	if filters.PatientID != nil {
		where = append(where, fmt.Sprintf("patient_id = $%d", argN))
		args = append(args, *filters.PatientID)
		argN++
	}
	if filters.Kind != nil {
		where = append(where, fmt.Sprintf("kind = $%d", argN))
		args = append(args, *filters.Kind)
		argN++
	}
	if filters.From != nil {
		where = append(where, fmt.Sprintf("observed_at >= $%d", argN))
		args = append(args, *filters.From)
		argN++
	}
	if filters.To != nil {
		where = append(where, fmt.Sprintf("observed_at <= $%d", argN))
		args = append(args, *filters.To)
		argN++
	}

	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM score_events
		WHERE %s
		ORDER BY observed_at DESC
		LIMIT $%d
	`, eventColumns, strings.Join(where, " AND "), argN)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query score events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// rowScanner QueryRow 与 Rows 共用的扫描接口
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEventRow(row rowScanner) (*models.ScoreEvent, error) {
	var event models.ScoreEvent
	var vitalSigns, components, metadata []byte

	err := row.Scan(
		&event.EventID,
		&event.PatientID,
		&event.NodeID,
		&event.Kind,
		&event.ObservedAt,
		&vitalSigns,
		&components,
		&event.TotalScore,
		&event.ClinicalRisk,
		&metadata,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(vitalSigns) > 0 {
		if err := json.Unmarshal(vitalSigns, &event.VitalSigns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vital signs: %w", err)
		}
	}
	if len(components) > 0 {
		if err := json.Unmarshal(components, &event.ScoreComponents); err != nil {
			return nil, fmt.Errorf("failed to unmarshal score components: %w", err)
		}
	}
	if len(metadata) > 0 {
		event.Metadata = metadata
	} else {
		event.Metadata = json.RawMessage("{}")
	}

	return &event, nil
}

func scanEvents(rows *sql.Rows) ([]*models.ScoreEvent, error) {
	events := []*models.ScoreEvent{}
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate score events: %w", err)
	}
	return events, nil
}
