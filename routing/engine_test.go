package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-signatures/core"
)

type failingRuleStore struct{}

func (failingRuleStore) ListActiveRules(context.Context) ([]core.RoutingRule, error) {
	return nil, errors.New("db down")
}

func newEngine(t *testing.T, rules ...core.RoutingRule) *Engine {
	t.Helper()
	engine, err := NewEngine(core.NewMemoryRoutingRuleStore(rules...), WithDefaultChannel("SMS"))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func rule(id string, priority int, condition string, channel core.Channel) core.RoutingRule {
	return core.RoutingRule{
		ID:            id,
		Name:          id,
		Condition:     condition,
		TargetChannel: channel,
		Priority:      priority,
		Enabled:       true,
	}
}

func TestEngine_HighAmountRoutesToVoice(t *testing.T) {
	engine := newEngine(t, rule("high-amount", 1, "amount > 1000", core.ChannelVoice))

	decision, err := engine.Evaluate(context.Background(), core.TransactionContext{Amount: 1500, Currency: "EUR", OrderID: "o-1"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Channel != core.ChannelVoice {
		t.Fatalf("expected VOICE, got %s", decision.Channel)
	}
	if decision.UsedDefault {
		t.Fatalf("expected rule match, not default")
	}
	if len(decision.Timeline) != 1 || decision.Timeline[0].Type != core.TimelineRuleMatched {
		t.Fatalf("expected RULE_MATCHED timeline, got %#v", decision.Timeline)
	}
	if decision.Timeline[0].Attributes["priority"] != "1" || decision.Timeline[0].Attributes["rule_name"] != "high-amount" {
		t.Fatalf("expected rule details on timeline, got %#v", decision.Timeline[0].Attributes)
	}
}

func TestEngine_LowestPriorityMatchWins(t *testing.T) {
	engine := newEngine(t,
		rule("push-any", 5, "amount > 0", core.ChannelPush),
		rule("biometric-eur", 2, "currency == 'EUR'", core.ChannelBiometric),
		rule("voice-big", 1, "amount > 10000", core.ChannelVoice),
	)

	decision, err := engine.Evaluate(context.Background(), core.TransactionContext{Amount: 50, Currency: "EUR"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Channel != core.ChannelBiometric || decision.RuleID != "biometric-eur" {
		t.Fatalf("expected biometric-eur to win, got %s (%s)", decision.Channel, decision.RuleID)
	}
}

func TestEngine_MalformedRuleDoesNotStopEvaluation(t *testing.T) {
	engine := newEngine(t,
		rule("broken-syntax", 1, "amount >", core.ChannelVoice),
		rule("missing-key", 2, "metadata['device'] == 'ios'", core.ChannelPush),
		rule("fallthrough", 3, "currency == 'USD'", core.ChannelBiometric),
	)

	decision, err := engine.Evaluate(context.Background(), core.TransactionContext{Amount: 10, Currency: "USD"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Channel != core.ChannelBiometric {
		t.Fatalf("expected BIOMETRIC from third rule, got %s", decision.Channel)
	}
	errorsSeen := 0
	for _, event := range decision.Timeline {
		if event.Type == core.TimelineRuleError {
			errorsSeen++
		}
	}
	if errorsSeen != 2 {
		t.Fatalf("expected 2 RULE_ERROR events, got %d (%#v)", errorsSeen, decision.Timeline)
	}
	if last := decision.Timeline[len(decision.Timeline)-1]; last.Type != core.TimelineRuleMatched {
		t.Fatalf("expected RULE_MATCHED last, got %s", last.Type)
	}
}

func TestEngine_MetadataConditionMatches(t *testing.T) {
	engine := newEngine(t, rule("mobile", 1, "'device' in metadata && metadata['device'] == 'ios'", core.ChannelPush))

	decision, err := engine.Evaluate(context.Background(), core.TransactionContext{
		Currency: "EUR",
		Metadata: map[string]string{"device": "ios"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Channel != core.ChannelPush {
		t.Fatalf("expected PUSH, got %s", decision.Channel)
	}
}

func TestEngine_DefaultChannelWhenNothingMatches(t *testing.T) {
	engine := newEngine(t, rule("never", 1, "amount < 0.0", core.ChannelVoice))

	decision, err := engine.Evaluate(context.Background(), core.TransactionContext{Amount: 5})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !decision.UsedDefault || decision.Channel != core.ChannelSMS {
		t.Fatalf("expected default SMS, got %s used_default=%v", decision.Channel, decision.UsedDefault)
	}
	if decision.Timeline[len(decision.Timeline)-1].Type != core.TimelineDefaultChannelUsed {
		t.Fatalf("expected DEFAULT_CHANNEL_USED event")
	}
}

func TestEngine_InvalidDefaultFallsBackToSMS(t *testing.T) {
	engine, err := NewEngine(core.NewMemoryRoutingRuleStore(), WithDefaultChannel("CARRIER_PIGEON"))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	decision, err := engine.Evaluate(context.Background(), core.TransactionContext{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Channel != core.ChannelSMS {
		t.Fatalf("expected SMS safe default, got %s", decision.Channel)
	}
	if decision.Timeline[0].Attributes["configured"] != "CARRIER_PIGEON" {
		t.Fatalf("expected configured value on timeline, got %#v", decision.Timeline[0].Attributes)
	}
}

func TestEngine_SkipsDisabledAndDeletedRules(t *testing.T) {
	disabled := rule("disabled", 1, "true", core.ChannelVoice)
	disabled.Enabled = false
	deleted := rule("deleted", 2, "true", core.ChannelBiometric)
	deleted.Deleted = true
	engine := newEngine(t, disabled, deleted, rule("live", 3, "true", core.ChannelPush))

	decision, err := engine.Evaluate(context.Background(), core.TransactionContext{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Channel != core.ChannelPush {
		t.Fatalf("expected only live rule to be evaluated, got %s", decision.Channel)
	}
	if len(decision.Timeline) != 1 {
		t.Fatalf("inactive rules must not leave timeline entries, got %#v", decision.Timeline)
	}
}

func TestEngine_ProviderOverrideIsCarried(t *testing.T) {
	r := rule("vip", 1, "merchant_id == 'm-vip'", core.ChannelSMS)
	r.ProviderOverride = "sinch"
	engine := newEngine(t, r)

	decision, err := engine.Evaluate(context.Background(), core.TransactionContext{MerchantID: "m-vip"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.ProviderOverride != "sinch" {
		t.Fatalf("expected provider override sinch, got %q", decision.ProviderOverride)
	}
}

func TestEngine_StoreFailureIsReturned(t *testing.T) {
	engine, err := NewEngine(failingRuleStore{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := engine.Evaluate(context.Background(), core.TransactionContext{}); err == nil {
		t.Fatalf("expected store failure")
	}
}
