package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-signatures/core"
)

func TestCompiler_RejectsUnsafeOrInvalidConditions(t *testing.T) {
	compiler := MustNewCompiler()
	cases := map[string]string{
		"syntax":          "amount >",
		"undeclared":      "customer.balance > 10",
		"non bool":        "amount + 1.0",
		"unknown func":    "exec('rm -rf /')",
		"string non bool": "currency",
		"empty":           "  ",
	}
	for name, condition := range cases {
		t.Run(name, func(t *testing.T) {
			if err := compiler.Validate(condition); !errors.Is(err, core.ErrInvalidRuleCondition) {
				t.Fatalf("expected ErrInvalidRuleCondition for %q, got %v", condition, err)
			}
		})
	}
}

func TestCompiler_CachesCompiledConditions(t *testing.T) {
	compiler := MustNewCompiler()
	first, err := compiler.Compile("amount > 10")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	second, err := compiler.Compile(" amount > 10 ")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached condition to be reused")
	}
	matched, err := first.Eval(context.Background(), core.TransactionContext{Amount: 11})
	if err != nil || !matched {
		t.Fatalf("expected match, got %v %v", matched, err)
	}
}

func TestRuleManager_SaveValidatesBeforePersisting(t *testing.T) {
	store := core.NewMemoryRoutingRuleStore()
	manager, err := NewRuleManager(store, nil, core.NewTelemetry(nil, nil))
	if err != nil {
		t.Fatalf("new rule manager: %v", err)
	}
	ctx := context.Background()

	_, err = manager.Save(ctx, core.RoutingRule{Name: "bad", Condition: "os.exit()", TargetChannel: core.ChannelSMS, Enabled: true}, "ops")
	if !errors.Is(err, core.ErrInvalidRuleCondition) {
		t.Fatalf("expected condition rejected at save, got %v", err)
	}
	if rules, _ := store.ListActiveRules(ctx); len(rules) != 0 {
		t.Fatalf("invalid rule must not be persisted")
	}

	saved, err := manager.Save(ctx, core.RoutingRule{Name: "eur", Condition: "currency == 'EUR'", TargetChannel: "push", Enabled: true, Priority: 3}, "ops")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == "" || saved.CreatedBy != "ops" || saved.TargetChannel != core.ChannelPush {
		t.Fatalf("unexpected saved rule %#v", saved)
	}

	if err := manager.Delete(ctx, saved.ID, "ops-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := manager.Get(ctx, saved.ID); !errors.Is(err, core.ErrRoutingRuleNotFound) {
		t.Fatalf("expected deleted rule to be hidden, got %v", err)
	}
	listed, err := manager.List(ctx)
	if err != nil || len(listed) != 0 {
		t.Fatalf("expected no active rules, got %d %v", len(listed), err)
	}
}

func TestRuleManager_RejectsInvalidTarget(t *testing.T) {
	manager, err := NewRuleManager(core.NewMemoryRoutingRuleStore(), nil, core.NewTelemetry(nil, nil))
	if err != nil {
		t.Fatalf("new rule manager: %v", err)
	}
	if _, err := manager.Save(context.Background(), core.RoutingRule{Name: "x", Condition: "true", TargetChannel: "FAX"}, "ops"); err == nil {
		t.Fatalf("expected invalid target channel error")
	}
}
