// Package postgres is the PostgreSQL-backed store. Status, execution, breach
// and compliance-state changes write their outbox event in the same transaction.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/store"
	"compliance/engine-service/internal/workflow"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const requestColumns = `request_id, entity_id, service_key, status, resume_status, priority, assigned_to,
	sla_deadline, sla_started_at, status_changed_at, created_at, updated_at`

func scanRequest(row pgx.Row) (models.ServiceRequest, error) {
	var req models.ServiceRequest
	var resumeNull sql.NullString
	var assignedNull sql.NullString
	var deadlineNull sql.NullTime
	var startedNull sql.NullTime
	if err := row.Scan(&req.RequestID, &req.EntityID, &req.ServiceKey, &req.Status, &resumeNull, &req.Priority, &assignedNull,
		&deadlineNull, &startedNull, &req.StatusChangedAt, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return models.ServiceRequest{}, err
	}
	if resumeNull.Valid {
		req.ResumeStatus = models.RequestStatus(resumeNull.String)
	}
	req.AssignedTo = nullStringPtr(assignedNull)
	req.SLADeadline = nullTimePtr(deadlineNull)
	req.SLAStartedAt = nullTimePtr(startedNull)
	return req, nil
}

func (s *Store) CreateRequest(ctx context.Context, req models.ServiceRequest) (models.ServiceRequest, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.StatusDraft
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.StatusChangedAt.IsZero() {
		req.StatusChangedAt = req.CreatedAt
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO service_requests (`+requestColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+requestColumns,
		req.RequestID, req.EntityID, req.ServiceKey, req.Status, nullIfEmpty(string(req.ResumeStatus)), req.Priority, req.AssignedTo,
		req.SLADeadline, req.SLAStartedAt, req.StatusChangedAt, req.CreatedAt, now)
	created, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ServiceRequest{}, store.ErrRequestExists
	}
	return created, err
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (models.ServiceRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE request_id = $1`, requestID)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ServiceRequest{}, store.ErrRequestNotFound
	}
	return req, err
}

func (s *Store) ListOpenRequests(ctx context.Context) ([]models.ServiceRequest, error) {
	terminal := make([]string, 0, 3)
	for _, status := range workflow.TerminalStatuses() {
		terminal = append(terminal, string(status))
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE status <> ALL($1)
		ORDER BY request_id ASC
	`, terminal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ServiceRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Store) ApplyTransition(ctx context.Context, input store.TransitionInput) (req models.ServiceRequest, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ServiceRequest{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	at := input.History.CreatedAt.UTC()
	row := tx.QueryRow(ctx, `
		UPDATE service_requests
		SET status = $1, resume_status = $2, status_changed_at = $3, updated_at = $3
		WHERE request_id = $4 AND status = $5
		RETURNING `+requestColumns,
		input.Status, nullIfEmpty(string(input.ResumeStatus)), at, input.RequestID, input.ExpectedStatus)
	req, err = scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		err = missingOr(ctx, tx, `SELECT 1 FROM service_requests WHERE request_id = $1`, input.RequestID, store.ErrRequestNotFound, store.ErrStaleTransition)
		return models.ServiceRequest{}, err
	}
	if err != nil {
		return models.ServiceRequest{}, err
	}

	record, err := insertHistory(ctx, tx, input.History)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	if err = insertOutboxEvent(ctx, tx, store.EventStatusChanged, map[string]any{
		"request_id": req.RequestID,
		"entity_id":  req.EntityID,
		"from":       record.From,
		"to":         record.To,
		"actor_id":   record.ActorID,
		"seq":        record.Seq,
	}, at); err != nil {
		return models.ServiceRequest{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.ServiceRequest{}, err
	}
	return req, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, record models.StatusHistory) (models.StatusHistory, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, record.RequestID); err != nil {
		return models.StatusHistory{}, err
	}

	var last models.StatusHistory
	row := tx.QueryRow(ctx, `
		SELECT seq, hash
		FROM status_history
		WHERE request_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, record.RequestID)
	if err := row.Scan(&last.Seq, &last.Hash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return models.StatusHistory{}, err
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record = store.ChainHistory(last, record)

	_, err := tx.Exec(ctx, `
		INSERT INTO status_history (request_id, seq, from_status, to_status, resume_status, actor_id, note, created_at, prev_hash, hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, record.RequestID, record.Seq, record.From, record.To, record.Resume, record.ActorID, record.Note, record.CreatedAt, record.PrevHash, record.Hash)
	return record, err
}

func (s *Store) ListHistory(ctx context.Context, requestID string) ([]models.StatusHistory, error) {
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, seq, from_status, to_status, resume_status, actor_id, note, created_at, prev_hash, hash
		FROM status_history
		WHERE request_id = $1
		ORDER BY seq ASC
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.StatusHistory
	for rows.Next() {
		var r models.StatusHistory
		if err := rows.Scan(&r.RequestID, &r.Seq, &r.From, &r.To, &r.Resume, &r.ActorID, &r.Note, &r.CreatedAt, &r.PrevHash, &r.Hash); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) AssignRequest(ctx context.Context, requestID, assignee string, at time.Time) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE service_requests SET assigned_to = $1, updated_at = $2 WHERE request_id = $3
	`, assignee, at.UTC(), requestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = store.ErrRequestNotFound
		return err
	}
	if err = insertOutboxEvent(ctx, tx, store.EventRequestAssigned, map[string]any{
		"request_id":  requestID,
		"assigned_to": assignee,
	}, at); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		var payload []byte
		if err := rows.Scan(&event.Seq, &event.EventID, &event.Type, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Payload = json.RawMessage(payload)
		events = append(events, event)
	}
	return events, rows.Err()
}

// outboxLockKey serializes feed writers so seq values become visible in
// commit order. It sits above the int4 range hashtext keys can produce.
// Callers insert the event as the last statement before commit.
const outboxLockKey int64 = 0x6f7574626f78

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, payload any, at time.Time) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now()
	}
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, outboxLockKey); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payloadJSON, at.UTC())
	return err
}

// missingOr distinguishes a missing row from a failed conditional update.
func missingOr(ctx context.Context, tx pgx.Tx, query, id string, missing, conflict error) error {
	var one int
	if err := tx.QueryRow(ctx, query, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return missing
		}
		return fmt.Errorf("check existence: %w", err)
	}
	return conflict
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
