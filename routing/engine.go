package routing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-signatures/core"
)

// Engine picks the initial channel for a transaction from prioritized routing rules.
type Engine struct {
	rules          core.RoutingRuleStore
	compiler       *Compiler
	defaultChannel string
	telemetry      core.Telemetry
	clock          core.Clock
}

type Option func(*Engine)

func WithCompiler(compiler *Compiler) Option {
	return func(e *Engine) {
		if compiler != nil {
			e.compiler = compiler
		}
	}
}

// WithDefaultChannel sets the raw configured default. Unknown values resolve to SMS at evaluation.
func WithDefaultChannel(channel string) Option {
	return func(e *Engine) {
		e.defaultChannel = channel
	}
}

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(e *Engine) {
		e.telemetry = telemetry
	}
}

func WithClock(clock core.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

func NewEngine(rules core.RoutingRuleStore, opts ...Option) (*Engine, error) {
	if rules == nil {
		return nil, fmt.Errorf("routing: rule store is required")
	}
	engine := &Engine{
		rules:          rules,
		defaultChannel: string(core.SafeDefaultChannel),
		telemetry:      core.NewTelemetry(nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	if engine.compiler == nil {
		compiler, err := NewCompiler()
		if err != nil {
			return nil, err
		}
		engine.compiler = compiler
	}
	return engine, nil
}

// Evaluate returns the routing decision for tx. Broken rules are skipped and recorded
// on the timeline; only a failure to load rules is returned as an error.
func (e *Engine) Evaluate(ctx context.Context, tx core.TransactionContext) (core.RoutingDecision, error) {
	rules, err := e.rules.ListActiveRules(ctx)
	if err != nil {
		return core.RoutingDecision{}, fmt.Errorf("routing: load rules: %w", err)
	}
	rules = orderRules(rules)

	decision := core.RoutingDecision{}
	for _, rule := range rules {
		matched, evalErr := e.evaluateRule(ctx, rule, tx)
		if evalErr != nil {
			decision.Timeline = append(decision.Timeline, core.TimelineEvent{
				Type:    core.TimelineRuleError,
				At:      e.clock.Now(),
				Message: evalErr.Error(),
				Attributes: map[string]string{
					"rule_id":   rule.ID,
					"rule_name": rule.Name,
					"priority":  strconv.Itoa(rule.Priority),
				},
			})
			e.telemetry.Counter(ctx, "routing.rule_error", 1, map[string]string{"rule_id": rule.ID})
			e.telemetry.Warn(ctx, "routing rule evaluation failed", map[string]any{
				"rule_id":   rule.ID,
				"rule_name": rule.Name,
				"error":     evalErr.Error(),
			})
			continue
		}
		if !matched {
			continue
		}
		decision.Channel = rule.TargetChannel
		decision.ProviderOverride = rule.ProviderOverride
		decision.RuleID = rule.ID
		decision.RuleName = rule.Name
		decision.Timeline = append(decision.Timeline, core.TimelineEvent{
			Type:    core.TimelineRuleMatched,
			At:      e.clock.Now(),
			Message: fmt.Sprintf("rule %q matched", rule.Name),
			Attributes: map[string]string{
				"rule_id":   rule.ID,
				"rule_name": rule.Name,
				"priority":  strconv.Itoa(rule.Priority),
				"channel":   string(rule.TargetChannel),
			},
		})
		e.recordDecision(ctx, decision)
		return decision, nil
	}

	channel, valid := resolveDefault(e.defaultChannel)
	attributes := map[string]string{"channel": string(channel)}
	if !valid {
		attributes["configured"] = e.defaultChannel
		e.telemetry.Warn(ctx, "configured default channel is invalid, using safe default", map[string]any{
			"configured": e.defaultChannel,
			"channel":    string(channel),
		})
	}
	decision.Channel = channel
	decision.UsedDefault = true
	decision.Timeline = append(decision.Timeline, core.TimelineEvent{
		Type:       core.TimelineDefaultChannelUsed,
		At:         e.clock.Now(),
		Message:    "no routing rule matched",
		Attributes: attributes,
	})
	e.recordDecision(ctx, decision)
	return decision, nil
}

func (e *Engine) evaluateRule(ctx context.Context, rule core.RoutingRule, tx core.TransactionContext) (bool, error) {
	if !rule.TargetChannel.Valid() {
		return false, fmt.Errorf("routing: rule target channel %q is invalid", rule.TargetChannel)
	}
	condition, err := e.compiler.Compile(rule.Condition)
	if err != nil {
		return false, err
	}
	return condition.Eval(ctx, tx)
}

func (e *Engine) recordDecision(ctx context.Context, decision core.RoutingDecision) {
	e.telemetry.Counter(ctx, "routing.decision", 1, map[string]string{
		"channel":      string(decision.Channel),
		"used_default": strconv.FormatBool(decision.UsedDefault),
	})
}

// orderRules drops inactive rules and sorts by priority, then name, then id.
func orderRules(rules []core.RoutingRule) []core.RoutingRule {
	out := make([]core.RoutingRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Active() {
			out = append(out, rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func resolveDefault(raw string) (core.Channel, bool) {
	channel, err := core.ParseChannel(strings.TrimSpace(raw))
	if err != nil {
		return core.SafeDefaultChannel, false
	}
	return channel, true
}

var _ core.Router = (*Engine)(nil)
