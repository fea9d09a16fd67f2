package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) UpsertObligation(ctx context.Context, ob models.Obligation) error {
	if ob.ObligationID == "" {
		ob.ObligationID = uuid.NewString()
	}
	var due interface{}
	if !ob.DueDate.IsZero() {
		due = ob.DueDate.UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO obligations (obligation_id, entity_id, title, category, due_date, status, penalty_risk, priority, archived, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (obligation_id) DO UPDATE SET
			entity_id = EXCLUDED.entity_id,
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			due_date = EXCLUDED.due_date,
			status = EXCLUDED.status,
			penalty_risk = EXCLUDED.penalty_risk,
			priority = EXCLUDED.priority,
			archived = EXCLUDED.archived,
			completed_at = EXCLUDED.completed_at
	`, ob.ObligationID, ob.EntityID, ob.Title, ob.Category, due, ob.Status, ob.PenaltyRisk, ob.Priority, ob.Archived, ob.CompletedAt)
	return err
}

func (s *Store) ListObligations(ctx context.Context, entityID string) ([]models.Obligation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT obligation_id, entity_id, title, category, due_date, status, penalty_risk, priority, archived, completed_at
		FROM obligations
		WHERE entity_id = $1
		ORDER BY obligation_id ASC
	`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Obligation
	for rows.Next() {
		var ob models.Obligation
		var dueNull sql.NullTime
		var completedNull sql.NullTime
		if err := rows.Scan(&ob.ObligationID, &ob.EntityID, &ob.Title, &ob.Category, &dueNull, &ob.Status, &ob.PenaltyRisk, &ob.Priority, &ob.Archived, &completedNull); err != nil {
			return nil, err
		}
		if dueNull.Valid {
			ob.DueDate = dueNull.Time.UTC()
		}
		ob.CompletedAt = nullTimePtr(completedNull)
		out = append(out, ob)
	}
	return out, rows.Err()
}

func (s *Store) ListActiveEntities(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT entity_id
		FROM obligations
		WHERE NOT archived
		ORDER BY entity_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const stateColumns = `entity_id, grade, health_score, risk_score, penalty_exposure, total_count, completed_count,
	overdue_count, upcoming_count, next_deadline, calculated_at`

func scanState(row pgx.Row) (models.ComplianceState, error) {
	var state models.ComplianceState
	var next []byte
	if err := row.Scan(&state.EntityID, &state.Grade, &state.HealthScore, &state.RiskScore, &state.PenaltyExposure, &state.TotalCount,
		&state.CompletedCount, &state.OverdueCount, &state.UpcomingCount, &next, &state.CalculatedAt); err != nil {
		return models.ComplianceState{}, err
	}
	if len(next) > 0 {
		var deadline models.NextDeadline
		if err := json.Unmarshal(next, &deadline); err != nil {
			return models.ComplianceState{}, err
		}
		state.NextDeadline = &deadline
	}
	state.CalculatedAt = state.CalculatedAt.UTC()
	return state, nil
}

func (s *Store) GetComplianceState(ctx context.Context, entityID string) (models.ComplianceState, error) {
	state, err := scanState(s.pool.QueryRow(ctx, `SELECT `+stateColumns+` FROM compliance_states WHERE entity_id = $1`, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ComplianceState{}, store.ErrStateNotFound
	}
	return state, err
}

func (s *Store) SaveComplianceState(ctx context.Context, state models.ComplianceState) (changed bool, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('compliance:' || $1))`, state.EntityID); err != nil {
		return false, err
	}
	prev, err := scanState(tx.QueryRow(ctx, `SELECT `+stateColumns+` FROM compliance_states WHERE entity_id = $1`, state.EntityID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		changed, err = true, nil
	case err != nil:
		return false, err
	default:
		changed = !prev.SameAs(state)
	}

	var next interface{}
	if state.NextDeadline != nil {
		if next, err = json.Marshal(state.NextDeadline); err != nil {
			return false, err
		}
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO compliance_states (`+stateColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (entity_id) DO UPDATE SET
			grade = EXCLUDED.grade,
			health_score = EXCLUDED.health_score,
			risk_score = EXCLUDED.risk_score,
			penalty_exposure = EXCLUDED.penalty_exposure,
			total_count = EXCLUDED.total_count,
			completed_count = EXCLUDED.completed_count,
			overdue_count = EXCLUDED.overdue_count,
			upcoming_count = EXCLUDED.upcoming_count,
			next_deadline = EXCLUDED.next_deadline,
			calculated_at = EXCLUDED.calculated_at
	`, state.EntityID, state.Grade, state.HealthScore, state.RiskScore, state.PenaltyExposure, state.TotalCount,
		state.CompletedCount, state.OverdueCount, state.UpcomingCount, next, state.CalculatedAt.UTC()); err != nil {
		return false, err
	}

	if changed {
		if err = insertOutboxEvent(ctx, tx, store.EventComplianceChanged, map[string]any{
			"entity_id":    state.EntityID,
			"grade":        state.Grade,
			"health_score": state.HealthScore,
			"risk_score":   state.RiskScore,
		}, state.CalculatedAt); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return changed, nil
}
