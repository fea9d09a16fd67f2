package postgres

import (
	"context"
	"database/sql"
	"errors"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const breachColumns = `breach_id, request_id, entity_id, severity, breach_type, status, notes, deadline_at, detected_at, acknowledged_at, resolved_at`

func scanBreach(row pgx.Row) (models.SLABreach, error) {
	var breach models.SLABreach
	var ackNull, resolvedNull sql.NullTime
	if err := row.Scan(&breach.BreachID, &breach.RequestID, &breach.EntityID, &breach.Severity, &breach.BreachType, &breach.Status,
		&breach.Notes, &breach.DeadlineAt, &breach.DetectedAt, &ackNull, &resolvedNull); err != nil {
		return models.SLABreach{}, err
	}
	breach.AcknowledgedAt = nullTimePtr(ackNull)
	breach.ResolvedAt = nullTimePtr(resolvedNull)
	return breach, nil
}

func (s *Store) OpenBreach(ctx context.Context, breach models.SLABreach) (_ models.SLABreach, created bool, err error) {
	if breach.BreachID == "" {
		breach.BreachID = uuid.NewString()
	}
	if breach.Status == "" {
		breach.Status = models.BreachOpen
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.SLABreach{}, false, err
	}
	defer func() {
		if err != nil || !created {
			_ = tx.Rollback(ctx)
		}
	}()

	inserted, err := scanBreach(tx.QueryRow(ctx, `
		INSERT INTO sla_breaches (`+breachColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL,NULL)
		ON CONFLICT DO NOTHING
		RETURNING `+breachColumns,
		breach.BreachID, breach.RequestID, breach.EntityID, breach.Severity, breach.BreachType, breach.Status,
		breach.Notes, breach.DeadlineAt.UTC(), breach.DetectedAt.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := scanBreach(tx.QueryRow(ctx, `
			SELECT `+breachColumns+` FROM sla_breaches
			WHERE request_id = $1 AND (status <> 'resolved' OR (breach_type = $2 AND deadline_at = $3))
			ORDER BY detected_at DESC
			LIMIT 1
		`, breach.RequestID, breach.BreachType, breach.DeadlineAt.UTC()))
		if err != nil {
			return models.SLABreach{}, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return models.SLABreach{}, false, err
	}

	if err = insertOutboxEvent(ctx, tx, store.EventBreachOpened, inserted, inserted.DetectedAt); err != nil {
		return models.SLABreach{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.SLABreach{}, false, err
	}
	return inserted, true, nil
}

func (s *Store) GetBreach(ctx context.Context, breachID string) (models.SLABreach, error) {
	breach, err := scanBreach(s.pool.QueryRow(ctx, `SELECT `+breachColumns+` FROM sla_breaches WHERE breach_id = $1`, breachID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SLABreach{}, store.ErrBreachNotFound
	}
	return breach, err
}

func (s *Store) ListBreaches(ctx context.Context, status models.BreachStatus) ([]models.SLABreach, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+breachColumns+`
		FROM sla_breaches
		WHERE $1::text = '' OR status = $1
		ORDER BY detected_at ASC, breach_id ASC
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SLABreach
	for rows.Next() {
		breach, err := scanBreach(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, breach)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBreach(ctx context.Context, update store.BreachUpdate) (_ models.SLABreach, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.SLABreach{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	at := update.OccurredAt.UTC()
	breach, err := scanBreach(tx.QueryRow(ctx, `
		UPDATE sla_breaches
		SET status = $3::text,
			notes = CASE
				WHEN $4::text = '' THEN notes
				WHEN notes = '' THEN $4::text
				ELSE notes || E'\n' || $4::text
			END,
			acknowledged_at = CASE WHEN $3::text = 'acknowledged' THEN $5 ELSE acknowledged_at END,
			resolved_at = CASE WHEN $3::text = 'resolved' THEN $5 ELSE resolved_at END
		WHERE breach_id = $1 AND status = $2
		RETURNING `+breachColumns,
		update.BreachID, update.ExpectedStatus, string(update.Status), update.Notes, at))
	if errors.Is(err, pgx.ErrNoRows) {
		err = missingOr(ctx, tx, `SELECT 1 FROM sla_breaches WHERE breach_id = $1`, update.BreachID, store.ErrBreachNotFound, store.ErrInvalidBreachState)
		return models.SLABreach{}, err
	}
	if err != nil {
		return models.SLABreach{}, err
	}

	if err = insertOutboxEvent(ctx, tx, store.EventBreachUpdated, breach, at); err != nil {
		return models.SLABreach{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.SLABreach{}, err
	}
	return breach, nil
}
