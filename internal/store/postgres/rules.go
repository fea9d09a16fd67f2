package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const ruleColumns = `rule_id, name, trigger_json, scope_json, tiers_json, auto_reassign, notify_client, active, created_at, updated_at`

func scanRule(row pgx.Row) (models.EscalationRule, error) {
	var rule models.EscalationRule
	var triggerJSON, scopeJSON, tiersJSON []byte
	if err := row.Scan(&rule.RuleID, &rule.Name, &triggerJSON, &scopeJSON, &tiersJSON, &rule.AutoReassign, &rule.NotifyClient, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return models.EscalationRule{}, err
	}
	if err := json.Unmarshal(triggerJSON, &rule.Trigger); err != nil {
		return models.EscalationRule{}, err
	}
	if err := json.Unmarshal(scopeJSON, &rule.Scope); err != nil {
		return models.EscalationRule{}, err
	}
	if err := json.Unmarshal(tiersJSON, &rule.Tiers); err != nil {
		return models.EscalationRule{}, err
	}
	return rule, nil
}

func ruleDocuments(rule models.EscalationRule) ([]byte, []byte, []byte, error) {
	triggerJSON, err := json.Marshal(rule.Trigger)
	if err != nil {
		return nil, nil, nil, err
	}
	scopeJSON, err := json.Marshal(rule.Scope)
	if err != nil {
		return nil, nil, nil, err
	}
	tiersJSON, err := json.Marshal(rule.Tiers)
	if err != nil {
		return nil, nil, nil, err
	}
	return triggerJSON, scopeJSON, tiersJSON, nil
}

func (s *Store) CreateRule(ctx context.Context, rule models.EscalationRule) (models.EscalationRule, error) {
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	triggerJSON, scopeJSON, tiersJSON, err := ruleDocuments(rule)
	if err != nil {
		return models.EscalationRule{}, err
	}
	now := time.Now().UTC()
	return scanRule(s.pool.QueryRow(ctx, `
		INSERT INTO escalation_rules (`+ruleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		RETURNING `+ruleColumns,
		rule.RuleID, rule.Name, triggerJSON, scopeJSON, tiersJSON, rule.AutoReassign, rule.NotifyClient, rule.Active, now))
}

func (s *Store) UpdateRule(ctx context.Context, rule models.EscalationRule) (models.EscalationRule, error) {
	triggerJSON, scopeJSON, tiersJSON, err := ruleDocuments(rule)
	if err != nil {
		return models.EscalationRule{}, err
	}
	updated, err := scanRule(s.pool.QueryRow(ctx, `
		UPDATE escalation_rules
		SET name = $2, trigger_json = $3, scope_json = $4, tiers_json = $5,
			auto_reassign = $6, notify_client = $7, active = $8, updated_at = $9
		WHERE rule_id = $1
		RETURNING `+ruleColumns,
		rule.RuleID, rule.Name, triggerJSON, scopeJSON, tiersJSON, rule.AutoReassign, rule.NotifyClient, rule.Active, time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EscalationRule{}, store.ErrRuleNotFound
	}
	return updated, err
}

func (s *Store) GetRule(ctx context.Context, ruleID string) (models.EscalationRule, error) {
	rule, err := scanRule(s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM escalation_rules WHERE rule_id = $1`, ruleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EscalationRule{}, store.ErrRuleNotFound
	}
	return rule, err
}

func (s *Store) ListRules(ctx context.Context, activeOnly bool) ([]models.EscalationRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM escalation_rules
		WHERE active OR NOT $1
		ORDER BY rule_id ASC
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EscalationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (s *Store) ListExecutions(ctx context.Context, ruleID, requestID string) ([]models.EscalationExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT execution_id, rule_id, request_id, tier_level, severity, elapsed_percent, actions_json, fired_at
		FROM escalation_executions
		WHERE rule_id = $1 AND request_id = $2
		ORDER BY tier_level ASC
	`, ruleID, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EscalationExecution
	for rows.Next() {
		var exec models.EscalationExecution
		var actionsJSON []byte
		if err := rows.Scan(&exec.ExecutionID, &exec.RuleID, &exec.RequestID, &exec.TierLevel, &exec.Severity, &exec.ElapsedPercent, &actionsJSON, &exec.FiredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(actionsJSON, &exec.Actions); err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func (s *Store) CreateExecution(ctx context.Context, exec models.EscalationExecution) (created bool, err error) {
	actionsJSON, err := json.Marshal(exec.Actions)
	if err != nil {
		return false, err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !created {
			_ = tx.Rollback(ctx)
		}
	}()

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO escalation_executions (execution_id, rule_id, request_id, tier_level, severity, elapsed_percent, actions_json, fired_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (rule_id, request_id, tier_level) DO NOTHING
		RETURNING execution_id
	`, exec.ExecutionID, exec.RuleID, exec.RequestID, exec.TierLevel, exec.Severity, exec.ElapsedPercent, actionsJSON, exec.FiredAt.UTC()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err = insertOutboxEvent(ctx, tx, store.EventEscalationFired, exec, exec.FiredAt); err != nil {
		return false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
