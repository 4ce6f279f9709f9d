package devkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-signatures/core"
)

func TestFakeProvider_ScriptsAndCapturesDeliveries(t *testing.T) {
	provider := NewFakeProvider("twilio", Fail("TIMEOUT", "carrier timeout"), Succeed("msg-2"))

	first, err := provider.Send(context.Background(), core.Delivery{ChallengeID: "c-1", Code: "111111"})
	if err != nil {
		t.Fatalf("first fake call: %v", err)
	}
	if first.Outcome != core.SendOutcomeFailure || first.Code != "TIMEOUT" {
		t.Fatalf("expected scripted failure, got %#v", first)
	}

	second, err := provider.Send(context.Background(), core.Delivery{ChallengeID: "c-2"})
	if err != nil {
		t.Fatalf("second fake call: %v", err)
	}
	if second.ProviderProof != "msg-2" {
		t.Fatalf("expected scripted success, got %#v", second)
	}

	third, _ := provider.Send(context.Background(), core.Delivery{ChallengeID: "c-3"})
	if third.ProviderProof != "msg-2" {
		t.Fatalf("expected last script to repeat, got %#v", third)
	}

	deliveries := provider.Deliveries()
	if len(deliveries) != 3 || deliveries[0].Code != "111111" {
		t.Fatalf("expected captured deliveries, got %#v", deliveries)
	}
}

func TestFakeProvider_HangHonoursCancellation(t *testing.T) {
	provider := NewFakeProvider("slow", Hang(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := provider.Send(ctx, core.Delivery{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFakeProvider_ScriptReplacesRemaining(t *testing.T) {
	provider := NewFakeProvider("twilio", Fail("DOWN", ""))
	_, _ = provider.Send(context.Background(), core.Delivery{})
	provider.Script(Succeed("recovered"))

	result, _ := provider.Send(context.Background(), core.Delivery{})
	if result.ProviderProof != "recovered" {
		t.Fatalf("expected replaced script, got %#v", result)
	}
}

func TestValidateProviderPortConformance(t *testing.T) {
	ctx := context.Background()
	if err := ValidateProviderPortConformance(ctx, NewFakeProvider("ok"), core.Delivery{}); err != nil {
		t.Fatalf("expected fake provider to conform: %v", err)
	}
	bad := NewFakeProvider("bad", SendScript{Result: core.SendResult{Outcome: core.SendOutcomeFailure}})
	if err := ValidateProviderPortConformance(ctx, bad, core.Delivery{}); err == nil {
		t.Fatalf("expected failure without error code to be rejected")
	}
	if err := ValidateProviderPortConformance(ctx, nil, core.Delivery{}); err == nil {
		t.Fatalf("expected nil port to be rejected")
	}
}
