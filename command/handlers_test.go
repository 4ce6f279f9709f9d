package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-signatures/core"
)

type stubMutatingService struct {
	createFn   func(context.Context, core.CreateSignatureRequestInput) (core.CreateSignatureRequestResult, error)
	completeFn func(context.Context, core.CompleteSignatureInput) (core.SignatureRequestView, error)
	abortFn    func(context.Context, core.AbortSignatureRequestInput) (core.SignatureRequestView, error)
	expireFn   func(context.Context, string) (core.SignatureRequestView, error)
	resumeFn   func(context.Context, string) (core.SignatureRequestView, error)
}

func (s stubMutatingService) CreateSignatureRequest(ctx context.Context, in core.CreateSignatureRequestInput) (core.CreateSignatureRequestResult, error) {
	if s.createFn == nil {
		return core.CreateSignatureRequestResult{}, nil
	}
	return s.createFn(ctx, in)
}

func (s stubMutatingService) CompleteSignature(ctx context.Context, in core.CompleteSignatureInput) (core.SignatureRequestView, error) {
	if s.completeFn == nil {
		return core.SignatureRequestView{}, nil
	}
	return s.completeFn(ctx, in)
}

func (s stubMutatingService) AbortSignatureRequest(ctx context.Context, in core.AbortSignatureRequestInput) (core.SignatureRequestView, error) {
	if s.abortFn == nil {
		return core.SignatureRequestView{}, nil
	}
	return s.abortFn(ctx, in)
}

func (s stubMutatingService) ExpireSignatureRequest(ctx context.Context, id string) (core.SignatureRequestView, error) {
	if s.expireFn == nil {
		return core.SignatureRequestView{}, nil
	}
	return s.expireFn(ctx, id)
}

func (s stubMutatingService) ResumeDeferred(ctx context.Context, id string) (core.SignatureRequestView, error) {
	if s.resumeFn == nil {
		return core.SignatureRequestView{}, nil
	}
	return s.resumeFn(ctx, id)
}

type stubModeService struct {
	calls  []string
	status core.DegradedStatus
}

func (s *stubModeService) EnterDegradedMode(_ context.Context, reason string) (core.DegradedStatus, error) {
	s.calls = append(s.calls, "enter_degraded:"+reason)
	return s.status, nil
}

func (s *stubModeService) ExitDegradedMode(context.Context) (core.DegradedStatus, error) {
	s.calls = append(s.calls, "exit_degraded")
	return s.status, nil
}

func (s *stubModeService) EnterMaintenance(_ context.Context, reason string) (core.DegradedStatus, error) {
	s.calls = append(s.calls, "enter_maintenance:"+reason)
	return s.status, nil
}

func (s *stubModeService) ExitMaintenance(context.Context) (core.DegradedStatus, error) {
	s.calls = append(s.calls, "exit_maintenance")
	return s.status, nil
}

func (s *stubModeService) ReloadProviders(context.Context) (int, error) {
	s.calls = append(s.calls, "reload")
	return 3, nil
}

type stubRuleWriter struct {
	saved   []core.RoutingRule
	deleted []string
}

func (s *stubRuleWriter) Save(_ context.Context, rule core.RoutingRule, actor string) (core.RoutingRule, error) {
	rule.ID = "rule-1"
	rule.UpdatedBy = actor
	s.saved = append(s.saved, rule)
	return rule, nil
}

func (s *stubRuleWriter) Delete(_ context.Context, id string, actor string) error {
	s.deleted = append(s.deleted, id+"@"+actor)
	return nil
}

func TestCreateSignatureRequestCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.CreateSignatureRequestResult{
		Request: core.SignatureRequestView{ID: "req-1", Status: core.RequestStatusPending},
		Channel: core.ChannelVoice,
	}
	called := false
	svc := stubMutatingService{
		createFn: func(_ context.Context, in core.CreateSignatureRequestInput) (core.CreateSignatureRequestResult, error) {
			called = true
			if in.CustomerID != "cust-1" || in.IdempotencyKey != "idem-1" {
				t.Fatalf("unexpected create input: %#v", in)
			}
			return expected, nil
		},
	}

	cmd := NewCreateSignatureRequestCommand(svc)
	collector := gocmd.NewResult[core.CreateSignatureRequestResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, CreateSignatureRequestMessage{Input: core.CreateSignatureRequestInput{
		IdempotencyKey: "idem-1",
		CustomerID:     "cust-1",
		Transaction:    core.TransactionContext{Amount: 1500, Currency: "EUR"},
	}})
	if err != nil {
		t.Fatalf("execute create: %v", err)
	}
	if !called {
		t.Fatalf("expected create service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.Request.ID != "req-1" || result.Channel != core.ChannelVoice {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestRequestCommands_DelegateToService(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		svc := stubMutatingService{
			completeFn: func(_ context.Context, in core.CompleteSignatureInput) (core.SignatureRequestView, error) {
				if in.RequestID != "req-1" || in.ChallengeID != "ch-1" || in.Code != "123456" {
					t.Fatalf("unexpected complete input: %#v", in)
				}
				return core.SignatureRequestView{ID: "req-1", Status: core.RequestStatusSigned}, nil
			},
		}
		collector := gocmd.NewResult[core.SignatureRequestView]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		msg := CompleteSignatureMessage{Input: core.CompleteSignatureInput{RequestID: "req-1", ChallengeID: "ch-1", Code: "123456"}}
		if err := NewCompleteSignatureCommand(svc).Execute(ctx, msg); err != nil {
			t.Fatalf("execute complete: %v", err)
		}
		view, ok := collector.Load()
		if !ok || view.Status != core.RequestStatusSigned {
			t.Fatalf("expected signed view, got %#v", view)
		}
	})

	t.Run("abort", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			abortFn: func(_ context.Context, in core.AbortSignatureRequestInput) (core.SignatureRequestView, error) {
				called = true
				if in.RequestID != "req-1" || in.Reason != "user_cancelled" {
					t.Fatalf("unexpected abort input: %#v", in)
				}
				return core.SignatureRequestView{}, nil
			},
		}
		msg := AbortSignatureRequestMessage{Input: core.AbortSignatureRequestInput{RequestID: "req-1", Reason: "user_cancelled"}}
		if err := NewAbortSignatureRequestCommand(svc).Execute(context.Background(), msg); err != nil {
			t.Fatalf("execute abort: %v", err)
		}
		if !called {
			t.Fatalf("expected abort invocation")
		}
	})

	t.Run("expire and resume", func(t *testing.T) {
		var seen []string
		svc := stubMutatingService{
			expireFn: func(_ context.Context, id string) (core.SignatureRequestView, error) {
				seen = append(seen, "expire:"+id)
				return core.SignatureRequestView{}, nil
			},
			resumeFn: func(_ context.Context, id string) (core.SignatureRequestView, error) {
				seen = append(seen, "resume:"+id)
				return core.SignatureRequestView{}, nil
			},
		}
		if err := NewExpireSignatureRequestCommand(svc).Execute(context.Background(), ExpireSignatureRequestMessage{RequestID: "req-1"}); err != nil {
			t.Fatalf("execute expire: %v", err)
		}
		if err := NewResumeDeferredCommand(svc).Execute(context.Background(), ResumeDeferredMessage{RequestID: "req-2"}); err != nil {
			t.Fatalf("execute resume: %v", err)
		}
		if len(seen) != 2 || seen[0] != "expire:req-1" || seen[1] != "resume:req-2" {
			t.Fatalf("unexpected calls: %v", seen)
		}
	})
}

func TestCreateSignatureRequestCommand_PropagatesServiceError(t *testing.T) {
	boom := errors.New("store unavailable")
	svc := stubMutatingService{
		createFn: func(context.Context, core.CreateSignatureRequestInput) (core.CreateSignatureRequestResult, error) {
			return core.CreateSignatureRequestResult{}, boom
		},
	}
	collector := gocmd.NewResult[core.CreateSignatureRequestResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewCreateSignatureRequestCommand(svc).Execute(ctx, CreateSignatureRequestMessage{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected service error, got %v", err)
	}
	if _, ok := collector.Load(); ok {
		t.Fatalf("expected no result on failure")
	}
}

func TestModeCommands_DelegateToService(t *testing.T) {
	svc := &stubModeService{status: core.DegradedStatus{Mode: core.ModeDegraded, Manual: true}}
	ctx := context.Background()

	collector := gocmd.NewResult[core.DegradedStatus]()
	if err := NewEnterDegradedModeCommand(svc).Execute(gocmd.ContextWithResult(ctx, collector), EnterDegradedModeMessage{Reason: "provider incident"}); err != nil {
		t.Fatalf("enter degraded: %v", err)
	}
	if status, ok := collector.Load(); !ok || status.Mode != core.ModeDegraded {
		t.Fatalf("expected degraded status result, got %#v", status)
	}
	if err := NewExitDegradedModeCommand(svc).Execute(ctx, ExitDegradedModeMessage{}); err != nil {
		t.Fatalf("exit degraded: %v", err)
	}
	if err := NewEnterMaintenanceCommand(svc).Execute(ctx, EnterMaintenanceMessage{Reason: "db upgrade"}); err != nil {
		t.Fatalf("enter maintenance: %v", err)
	}
	if err := NewExitMaintenanceCommand(svc).Execute(ctx, ExitMaintenanceMessage{}); err != nil {
		t.Fatalf("exit maintenance: %v", err)
	}

	counter := gocmd.NewResult[int]()
	if err := NewReloadProvidersCommand(svc).Execute(gocmd.ContextWithResult(ctx, counter), ReloadProvidersMessage{}); err != nil {
		t.Fatalf("reload providers: %v", err)
	}
	if count, ok := counter.Load(); !ok || count != 3 {
		t.Fatalf("expected reloaded count 3, got %d", count)
	}

	want := []string{"enter_degraded:provider incident", "exit_degraded", "enter_maintenance:db upgrade", "exit_maintenance", "reload"}
	if len(svc.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, svc.calls)
	}
	for i := range want {
		if svc.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, svc.calls)
		}
	}
}

func TestRoutingRuleCommands_DelegateToRuleWriter(t *testing.T) {
	writer := &stubRuleWriter{}
	collector := gocmd.NewResult[core.RoutingRule]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	msg := SaveRoutingRuleMessage{
		Rule:  core.RoutingRule{Name: "high value", Condition: "amount > 1000", TargetChannel: core.ChannelVoice, Enabled: true},
		Actor: "ops",
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("validate save: %v", err)
	}
	if err := NewSaveRoutingRuleCommand(writer).Execute(ctx, msg); err != nil {
		t.Fatalf("save rule: %v", err)
	}
	saved, ok := collector.Load()
	if !ok || saved.ID != "rule-1" || saved.UpdatedBy != "ops" {
		t.Fatalf("unexpected saved rule: %#v", saved)
	}

	if err := NewDeleteRoutingRuleCommand(writer).Execute(context.Background(), DeleteRoutingRuleMessage{RuleID: "rule-1", Actor: "ops"}); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	if len(writer.deleted) != 1 || writer.deleted[0] != "rule-1@ops" {
		t.Fatalf("unexpected deletes: %v", writer.deleted)
	}
}

func TestMessages_TypesAreNamespaced(t *testing.T) {
	messages := []interface{ Type() string }{
		CreateSignatureRequestMessage{},
		CompleteSignatureMessage{},
		AbortSignatureRequestMessage{},
		ExpireSignatureRequestMessage{},
		ResumeDeferredMessage{},
		EnterDegradedModeMessage{},
		ExitDegradedModeMessage{},
		EnterMaintenanceMessage{},
		ExitMaintenanceMessage{},
		ReloadProvidersMessage{},
		SaveRoutingRuleMessage{},
		DeleteRoutingRuleMessage{},
	}
	seen := map[string]bool{}
	for _, msg := range messages {
		name := msg.Type()
		if seen[name] {
			t.Fatalf("duplicate message type %q", name)
		}
		seen[name] = true
	}
}
