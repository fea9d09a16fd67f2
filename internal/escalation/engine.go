// Package escalation evaluates tiered escalation rules against open service
// requests and fires each tier at most once.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/notify"
	"compliance/engine-service/internal/risk"
	"compliance/engine-service/internal/store"
	"compliance/engine-service/internal/telemetry"
	"compliance/engine-service/internal/workflow"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Dispatcher accepts side-effect tasks for asynchronous execution.
type Dispatcher interface {
	Dispatch(task notify.Task) bool
}

// Compiled pairs a stored rule with its evaluating trigger.
type Compiled struct {
	Rule    models.EscalationRule
	Trigger Trigger
}

// Compile prepares active rules for evaluation. Rules that no longer compile
// are logged and left out.
func Compile(rules []models.EscalationRule, logger *zap.Logger) []Compiled {
	compiled := make([]Compiled, 0, len(rules))
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		trigger, err := CompileTrigger(rule.Trigger)
		if err != nil {
			logger.Warn("skipping escalation rule", zap.String("rule_id", rule.RuleID), zap.Error(err))
			continue
		}
		compiled = append(compiled, Compiled{Rule: rule, Trigger: trigger})
	}
	return compiled
}

type Engine struct {
	executions store.ExecutionStore
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *telemetry.Metrics
}

func NewEngine(executions store.ExecutionStore, dispatcher Dispatcher, logger *zap.Logger, metrics *telemetry.Metrics) *Engine {
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Engine{
		executions: executions,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}
}

// Matches reports whether the rule's scope covers the request. An empty
// filter matches everything.
func Matches(scope models.RuleScope, req models.ServiceRequest) bool {
	if len(scope.ServiceKeys) > 0 && !containsString(scope.ServiceKeys, req.ServiceKey) {
		return false
	}
	if len(scope.Statuses) > 0 && !containsStatus(scope.Statuses, req.Status) {
		return false
	}
	if len(scope.Priorities) > 0 && !containsPriority(scope.Priorities, req.Priority) {
		return false
	}
	return true
}

// HighestTier returns the highest tier whose threshold percent is met.
func HighestTier(tiers []models.EscalationTier, percent float64) (models.EscalationTier, bool) {
	var (
		best  models.EscalationTier
		found bool
	)
	for _, tier := range tiers {
		if percent >= tier.ThresholdPercent && (!found || tier.Level > best.Level) {
			best = tier
			found = true
		}
	}
	return best, found
}

// alreadyCovered reports whether the tier or a higher one has fired.
func alreadyCovered(existing []models.EscalationExecution, level int) bool {
	for _, exec := range existing {
		if exec.TierLevel >= level {
			return true
		}
	}
	return false
}

// EvaluateItem runs every rule against one request and fires at most one
// tier per rule. Failures of individual rules are joined; the remaining
// rules still run.
func (e *Engine) EvaluateItem(ctx context.Context, req models.ServiceRequest, rules []Compiled, now time.Time) ([]models.EscalationExecution, error) {
	if workflow.IsTerminal(req.Status) {
		return nil, nil
	}
	in := Input{
		Request:   req,
		SLAStatus: risk.EvaluateSLA(req.SLADeadline, req.Status == models.StatusCompleted, now),
		Now:       now,
	}

	var (
		fired []models.EscalationExecution
		errs  []error
	)
	for _, rule := range rules {
		exec, ok, err := e.evaluateRule(ctx, rule, in)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.Rule.RuleID, err))
			continue
		}
		if ok {
			fired = append(fired, exec)
		}
	}
	return fired, errors.Join(errs...)
}

func (e *Engine) evaluateRule(ctx context.Context, rule Compiled, in Input) (models.EscalationExecution, bool, error) {
	if !rule.Rule.Active || !Matches(rule.Rule.Scope, in.Request) {
		return models.EscalationExecution{}, false, nil
	}
	percent, ok, err := rule.Trigger.Measure(in)
	if err != nil || !ok {
		return models.EscalationExecution{}, false, err
	}
	tier, ok := HighestTier(rule.Rule.Tiers, percent)
	if !ok {
		return models.EscalationExecution{}, false, nil
	}

	existing, err := e.executions.ListExecutions(ctx, rule.Rule.RuleID, in.Request.RequestID)
	if err != nil {
		return models.EscalationExecution{}, false, err
	}
	if alreadyCovered(existing, tier.Level) {
		return models.EscalationExecution{}, false, nil
	}

	exec := models.EscalationExecution{
		ExecutionID:    uuid.NewString(),
		RuleID:         rule.Rule.RuleID,
		RequestID:      in.Request.RequestID,
		TierLevel:      tier.Level,
		Severity:       tier.Severity,
		ElapsedPercent: percent,
		Actions:        tier.Actions,
		FiredAt:        in.Now.UTC(),
	}
	created, err := e.executions.CreateExecution(ctx, exec)
	if errors.Is(err, store.ErrDuplicateExecution) {
		created, err = false, nil
	}
	if err != nil {
		return models.EscalationExecution{}, false, err
	}
	if !created {
		e.logger.Debug("escalation tier already fired",
			zap.String("rule_id", exec.RuleID),
			zap.String("request_id", exec.RequestID),
			zap.Int("tier", exec.TierLevel),
		)
		return models.EscalationExecution{}, false, nil
	}

	e.metrics.EscalationsFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule_id", exec.RuleID),
		attribute.String("severity", string(exec.Severity)),
	))
	e.logger.Info("escalation fired",
		zap.String("rule_id", exec.RuleID),
		zap.String("request_id", exec.RequestID),
		zap.Int("tier", exec.TierLevel),
		zap.Float64("elapsed_percent", percent),
	)
	if e.dispatcher != nil {
		e.dispatcher.Dispatch(taskFor(rule.Rule, tier, in.Request, exec))
	}
	return exec, true, nil
}

func taskFor(rule models.EscalationRule, tier models.EscalationTier, req models.ServiceRequest, exec models.EscalationExecution) notify.Task {
	task := notify.Task{
		ExecutionID:    exec.ExecutionID,
		RuleID:         rule.RuleID,
		RuleName:       rule.Name,
		RequestID:      req.RequestID,
		EntityID:       req.EntityID,
		ServiceKey:     req.ServiceKey,
		TierLevel:      tier.Level,
		Severity:       tier.Severity,
		ElapsedPercent: exec.ElapsedPercent,
		NotifyClient:   rule.NotifyClient || tier.HasAction(models.ActionNotifyClient),
		OpenIncident:   tier.HasAction(models.ActionOpenIncident),
		FiredAt:        exec.FiredAt,
	}
	if tier.HasAction(models.ActionNotifyRoles) {
		task.NotifyRoles = nonEmpty(tier.NotifyRoles)
	}
	if rule.AutoReassign || tier.HasAction(models.ActionReassign) {
		task.ReassignRole = tier.ReassignRole
	}
	return task
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func containsStatus(values []models.RequestStatus, target models.RequestStatus) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func containsPriority(values []models.Priority, target models.Priority) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
