// Package rules loads escalation rule definitions from YAML files.
package rules

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"compliance/engine-service/internal/escalation"
	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/store"

	"gopkg.in/yaml.v3"
)

type file struct {
	Rules []models.EscalationRule `yaml:"rules"`
}

// LoadFile reads and validates every rule in path.
func LoadFile(path string) ([]models.EscalationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Parse decodes a single YAML document. Unknown keys are rejected and every
// rule goes through escalation.Prepare, so the result is ready to persist.
func Parse(data []byte) ([]models.EscalationRule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc file
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	var extra interface{}
	if err := dec.Decode(&extra); err == nil {
		return nil, errors.New("multiple YAML documents are not supported")
	} else if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	out := make([]models.EscalationRule, 0, len(doc.Rules))
	seen := make(map[string]bool, len(doc.Rules))
	for i, rule := range doc.Rules {
		prepared, err := escalation.Prepare(rule)
		if err != nil {
			return nil, fmt.Errorf("rules[%d] %q: %w", i, rule.Name, err)
		}
		if prepared.RuleID != "" {
			if seen[prepared.RuleID] {
				return nil, fmt.Errorf("rules[%d]: duplicate rule_id %q", i, prepared.RuleID)
			}
			seen[prepared.RuleID] = true
		}
		out = append(out, prepared)
	}
	return out, nil
}

type SeedResult struct {
	Created int
	Updated int
}

// Seed writes rules into st. Rules with an id that already exists are
// updated in place; the rest are created.
func Seed(ctx context.Context, st store.RuleStore, rules []models.EscalationRule) (SeedResult, error) {
	var result SeedResult
	for _, rule := range rules {
		if rule.RuleID != "" {
			_, err := st.GetRule(ctx, rule.RuleID)
			switch {
			case err == nil:
				if _, err := st.UpdateRule(ctx, rule); err != nil {
					return result, fmt.Errorf("update rule %s: %w", rule.RuleID, err)
				}
				result.Updated++
				continue
			case !errors.Is(err, store.ErrRuleNotFound):
				return result, fmt.Errorf("get rule %s: %w", rule.RuleID, err)
			}
		}
		if _, err := st.CreateRule(ctx, rule); err != nil {
			return result, fmt.Errorf("create rule %q: %w", rule.Name, err)
		}
		result.Created++
	}
	return result, nil
}
