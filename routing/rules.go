package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-signatures/core"
)

// RuleManager is the write path for routing rules. Conditions are compiled before
// anything is persisted, so a rule that cannot compile never reaches the store.
type RuleManager struct {
	repo      core.RoutingRuleRepository
	compiler  *Compiler
	telemetry core.Telemetry
}

func NewRuleManager(repo core.RoutingRuleRepository, compiler *Compiler, telemetry core.Telemetry) (*RuleManager, error) {
	if repo == nil {
		return nil, fmt.Errorf("routing: rule repository is required")
	}
	if compiler == nil {
		var err error
		if compiler, err = NewCompiler(); err != nil {
			return nil, err
		}
	}
	return &RuleManager{repo: repo, compiler: compiler, telemetry: telemetry}, nil
}

func (m *RuleManager) Save(ctx context.Context, rule core.RoutingRule, actor string) (core.RoutingRule, error) {
	rule.Name = strings.TrimSpace(rule.Name)
	rule.Condition = strings.TrimSpace(rule.Condition)
	if channel, err := core.ParseChannel(string(rule.TargetChannel)); err == nil {
		rule.TargetChannel = channel
	}
	if err := rule.Validate(); err != nil {
		return core.RoutingRule{}, err
	}
	if rule.Priority < 0 {
		return core.RoutingRule{}, fmt.Errorf("routing: rule priority must not be negative")
	}
	if err := m.compiler.Validate(rule.Condition); err != nil {
		return core.RoutingRule{}, err
	}

	actor = strings.TrimSpace(actor)
	if strings.TrimSpace(rule.ID) == "" {
		rule.CreatedBy = actor
	}
	rule.UpdatedBy = actor
	rule.Deleted = false

	saved, err := m.repo.SaveRule(ctx, rule)
	if err != nil {
		return core.RoutingRule{}, err
	}
	m.telemetry.Info(ctx, "routing rule saved", map[string]any{
		"rule_id":  saved.ID,
		"priority": saved.Priority,
		"channel":  string(saved.TargetChannel),
		"actor":    actor,
	})
	return saved, nil
}

// Delete soft-deletes a rule; deleted rules are never evaluated again.
func (m *RuleManager) Delete(ctx context.Context, id string, actor string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("routing: rule id is required")
	}
	if err := m.repo.DeleteRule(ctx, id, strings.TrimSpace(actor)); err != nil {
		return err
	}
	m.telemetry.Info(ctx, "routing rule deleted", map[string]any{"rule_id": id, "actor": actor})
	return nil
}

func (m *RuleManager) Get(ctx context.Context, id string) (core.RoutingRule, error) {
	return m.repo.GetRule(ctx, id)
}

// List returns active rules in evaluation order.
func (m *RuleManager) List(ctx context.Context) ([]core.RoutingRule, error) {
	rules, err := m.repo.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	return orderRules(rules), nil
}

func (m *RuleManager) ValidateCondition(condition string) error {
	return m.compiler.Validate(condition)
}
