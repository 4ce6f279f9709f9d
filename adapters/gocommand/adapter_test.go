package gocommand

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/goliatone/go-signatures/command"
	"github.com/goliatone/go-signatures/core"
	"github.com/goliatone/go-signatures/query"
	"github.com/goliatone/go-signatures/routing"
)

type okMessage struct{}

func (okMessage) Type() string { return "signatures.test.ok" }

type untypedMessage struct{}

func (untypedMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "signatures.test.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type queueMessage struct{}

func (queueMessage) Type() string { return "signatures.test.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(untypedMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
	if err := ValidateMessageContract(command.CompleteSignatureMessage{}); err == nil {
		t.Fatalf("expected incomplete signature message to fail validation")
	}
}

func TestQueueResolverMirrorsCommands(t *testing.T) {
	r := NewRegistry(gocmd.NewRegistry())
	t.Cleanup(r.Close)
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := r.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if !r.HasResolver("queue") {
		t.Fatalf("expected queue resolver to be registered")
	}
	cmd := gocmd.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })
	if err := RegisterCommand(r, cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := r.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if _, ok := queueRegistry.Get("signatures.test.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

func TestRegisterEngineHandlers_DispatchesThroughBus(t *testing.T) {
	svc := &stubEngineService{
		status: core.DegradedStatus{Mode: core.ModeNormal},
	}
	rules, err := routing.NewRuleManager(core.NewMemoryRoutingRuleStore(), nil, core.Telemetry{})
	if err != nil {
		t.Fatalf("new rule manager: %v", err)
	}
	r := NewRegistry(nil)
	t.Cleanup(r.Close)

	if err := RegisterEngineHandlers(r, EngineHandlers{Service: svc, Rules: rules}); err != nil {
		t.Fatalf("register engine handlers: %v", err)
	}
	if err := r.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	ctx := context.Background()
	if err := Dispatch(ctx, command.EnterDegradedModeMessage{Reason: "provider incident"}); err != nil {
		t.Fatalf("dispatch enter degraded: %v", err)
	}
	if svc.enteredReason != "provider incident" {
		t.Fatalf("expected enter degraded to reach the service, got %q", svc.enteredReason)
	}

	status, err := Query[query.DegradedStatusMessage, core.DegradedStatus](ctx, query.DegradedStatusMessage{})
	if err != nil {
		t.Fatalf("query degraded status: %v", err)
	}
	if status.Mode != core.ModeDegraded {
		t.Fatalf("expected degraded mode, got %q", status.Mode)
	}

	if err := Dispatch(ctx, command.SaveRoutingRuleMessage{
		Rule:  core.RoutingRule{ID: "high-value", Name: "high value", Condition: "amount > 1000", TargetChannel: core.ChannelVoice, Enabled: true},
		Actor: "ops",
	}); err != nil {
		t.Fatalf("dispatch save rule: %v", err)
	}
	listed, err := Query[query.ListRoutingRulesMessage, []core.RoutingRule](ctx, query.ListRoutingRulesMessage{})
	if err != nil {
		t.Fatalf("query rules: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "high-value" {
		t.Fatalf("expected saved rule to be listed, got %#v", listed)
	}
}

func TestRegisterEngineHandlers_RequiresService(t *testing.T) {
	r := NewRegistry(nil)
	t.Cleanup(r.Close)
	if err := RegisterEngineHandlers(r, EngineHandlers{}); err == nil {
		t.Fatalf("expected missing service to fail")
	}
}

type stubEngineService struct {
	status        core.DegradedStatus
	enteredReason string
}

func (s *stubEngineService) CreateSignatureRequest(context.Context, core.CreateSignatureRequestInput) (core.CreateSignatureRequestResult, error) {
	return core.CreateSignatureRequestResult{}, nil
}

func (s *stubEngineService) CompleteSignature(context.Context, core.CompleteSignatureInput) (core.SignatureRequestView, error) {
	return core.SignatureRequestView{}, nil
}

func (s *stubEngineService) AbortSignatureRequest(context.Context, core.AbortSignatureRequestInput) (core.SignatureRequestView, error) {
	return core.SignatureRequestView{}, nil
}

func (s *stubEngineService) ExpireSignatureRequest(context.Context, string) (core.SignatureRequestView, error) {
	return core.SignatureRequestView{}, nil
}

func (s *stubEngineService) ResumeDeferred(context.Context, string) (core.SignatureRequestView, error) {
	return core.SignatureRequestView{}, nil
}

func (s *stubEngineService) EnterDegradedMode(_ context.Context, reason string) (core.DegradedStatus, error) {
	s.enteredReason = reason
	s.status = core.DegradedStatus{Mode: core.ModeDegraded, Reason: reason, Manual: true}
	return s.status, nil
}

func (s *stubEngineService) ExitDegradedMode(context.Context) (core.DegradedStatus, error) {
	s.status = core.DegradedStatus{Mode: core.ModeNormal}
	return s.status, nil
}

func (s *stubEngineService) EnterMaintenance(_ context.Context, reason string) (core.DegradedStatus, error) {
	s.status = core.DegradedStatus{Mode: core.ModeMaintenance, Reason: reason, Manual: true}
	return s.status, nil
}

func (s *stubEngineService) ExitMaintenance(context.Context) (core.DegradedStatus, error) {
	s.status = core.DegradedStatus{Mode: core.ModeNormal}
	return s.status, nil
}

func (s *stubEngineService) ReloadProviders(context.Context) (int, error) {
	return 0, nil
}

func (s *stubEngineService) GetSignatureRequest(_ context.Context, id string) (core.SignatureRequestView, error) {
	return core.SignatureRequestView{ID: id}, nil
}

func (s *stubEngineService) DegradedStatus() core.DegradedStatus {
	return s.status
}
