package escalation

import (
	"errors"
	"fmt"
	"strings"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/workflow"
)

var ErrMalformedRule = errors.New("malformed escalation rule")

type RuleError struct {
	Field  string
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("malformed escalation rule: %s: %s", e.Field, e.Reason)
}

func (e *RuleError) Is(target error) bool {
	return target == ErrMalformedRule
}

var knownActions = map[models.TierAction]bool{
	models.ActionNotifyRoles:  true,
	models.ActionReassign:     true,
	models.ActionNotifyClient: true,
	models.ActionOpenIncident: true,
}

var knownSeverities = map[models.Severity]bool{
	models.SeverityLow:      true,
	models.SeverityMedium:   true,
	models.SeverityHigh:     true,
	models.SeverityCritical: true,
}

// Prepare fills defaults and validates a rule before it is persisted. The
// engine relies on every stored rule having passed through here.
func Prepare(rule models.EscalationRule) (models.EscalationRule, error) {
	rule = normalize(rule)
	if err := Validate(rule); err != nil {
		return models.EscalationRule{}, err
	}
	return rule, nil
}

func normalize(rule models.EscalationRule) models.EscalationRule {
	rule.Name = strings.TrimSpace(rule.Name)
	tiers := make([]models.EscalationTier, len(rule.Tiers))
	for i, tier := range rule.Tiers {
		if tier.Level == 0 {
			tier.Level = i + 1
		}
		if len(tier.Actions) == 0 {
			tier.Actions = []models.TierAction{models.ActionNotifyRoles}
		}
		if tier.ReassignRole == "" && len(tier.NotifyRoles) > 0 && (rule.AutoReassign || tier.HasAction(models.ActionReassign)) {
			tier.ReassignRole = tier.NotifyRoles[0]
		}
		tiers[i] = tier
	}
	rule.Tiers = tiers
	return rule
}

func Validate(rule models.EscalationRule) error {
	if rule.Name == "" {
		return &RuleError{Field: "name", Reason: "required"}
	}
	if _, err := CompileTrigger(rule.Trigger); err != nil {
		return err
	}
	for _, status := range rule.Scope.Statuses {
		if !workflow.Known(status) {
			return &RuleError{Field: "scope.statuses", Reason: fmt.Sprintf("unknown status %q", status)}
		}
	}
	for _, priority := range rule.Scope.Priorities {
		if !priority.Valid() {
			return &RuleError{Field: "scope.priorities", Reason: fmt.Sprintf("unknown priority %q", priority)}
		}
	}
	if len(rule.Tiers) == 0 {
		return &RuleError{Field: "tiers", Reason: "at least one tier is required"}
	}

	for i, tier := range rule.Tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		if tier.ThresholdPercent <= 0 {
			return &RuleError{Field: field + ".threshold_percent", Reason: "must be positive"}
		}
		if i > 0 {
			prev := rule.Tiers[i-1]
			if tier.ThresholdPercent <= prev.ThresholdPercent {
				return &RuleError{Field: field + ".threshold_percent", Reason: "thresholds must be strictly ascending"}
			}
			if tier.Level <= prev.Level {
				return &RuleError{Field: field + ".level", Reason: "levels must be strictly ascending"}
			}
		}
		if tier.Level <= 0 {
			return &RuleError{Field: field + ".level", Reason: "must be positive"}
		}
		if !knownSeverities[tier.Severity] {
			return &RuleError{Field: field + ".severity", Reason: fmt.Sprintf("unknown severity %q", tier.Severity)}
		}
		for _, action := range tier.Actions {
			if !knownActions[action] {
				return &RuleError{Field: field + ".actions", Reason: fmt.Sprintf("unknown action %q", action)}
			}
		}
		if tier.HasAction(models.ActionNotifyRoles) && len(nonEmpty(tier.NotifyRoles)) == 0 {
			return &RuleError{Field: field + ".notify_roles", Reason: "required when the tier notifies roles"}
		}
		if (rule.AutoReassign || tier.HasAction(models.ActionReassign)) && tier.ReassignRole == "" {
			return &RuleError{Field: field + ".reassign_role", Reason: "required when the tier reassigns"}
		}
	}
	return nil
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
