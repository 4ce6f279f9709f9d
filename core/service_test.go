package core

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestService_CreateSignatureRequest(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	fixture.router.decision = RoutingDecision{
		Channel:  ChannelPush,
		RuleID:   "r1",
		Timeline: []TimelineEvent{{Type: TimelineRuleMatched, Message: "high value"}},
	}

	result, err := fixture.svc.CreateSignatureRequest(context.Background(), sampleCreateInput("key-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.StatusCode != http.StatusCreated || result.Replayed || result.Deferred {
		t.Fatalf("unexpected result flags %#v", result)
	}
	if result.Channel != ChannelPush || fixture.dispatcher.lastInput.Channel != ChannelPush {
		t.Fatalf("expected routed channel PUSH, got %s", result.Channel)
	}
	if result.Request.Status != RequestStatusPending {
		t.Fatalf("expected PENDING, got %s", result.Request.Status)
	}
	if _, ok := result.Request.ActiveChallenge(); !ok {
		t.Fatalf("expected an active challenge")
	}
	if len(result.Request.Timeline) != 1 || result.Request.Timeline[0].Type != TimelineRuleMatched {
		t.Fatalf("expected routing timeline on request, got %#v", result.Request.Timeline)
	}

	stored, err := fixture.store.Get(context.Background(), result.Request.ID)
	if err != nil {
		t.Fatalf("expected request persisted: %v", err)
	}
	if len(stored.Challenges()) != 1 {
		t.Fatalf("expected persisted challenge")
	}
	if !containsEvent(fixture.events.types(), EventSignatureRequestCreated) {
		t.Fatalf("expected created event, got %v", fixture.events.types())
	}
	if !hasCounter(fixture.metrics.counters, "signatures.create_signature_request.total", "success") {
		t.Fatalf("expected create success counter")
	}
}

func TestService_CreateSignatureRequestReplaysIdempotentResponse(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	first, err := fixture.svc.CreateSignatureRequest(ctx, sampleCreateInput("key-1"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := fixture.svc.CreateSignatureRequest(ctx, sampleCreateInput("key-1"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("expected replayed response")
	}
	if second.Request.ID != first.Request.ID || second.StatusCode != first.StatusCode {
		t.Fatalf("expected identical replay, got %s vs %s", second.Request.ID, first.Request.ID)
	}
	if fixture.dispatcher.dispatch != 1 || fixture.router.calls != 1 {
		t.Fatalf("replay must not route or dispatch again")
	}

	changed := sampleCreateInput("key-1")
	changed.Transaction.Amount = 999
	_, err = fixture.svc.CreateSignatureRequest(ctx, changed)
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != SignatureErrorIdempotencyConflict {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
}

func TestService_CreateSignatureRequestReleasesClaimOnFailure(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	fixture.dispatcher.fail = errors.New("vendor 500")

	_, err = fixture.svc.CreateSignatureRequest(ctx, sampleCreateInput("key-2"))
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != SignatureErrorProviderFailed {
		t.Fatalf("expected provider failure, got %v", err)
	}

	failed, listErr := fixture.store.ListByStatus(ctx, RequestStatusPending, 0)
	if listErr != nil || len(failed) != 1 {
		t.Fatalf("expected failed request to be persisted, got %d %v", len(failed), listErr)
	}
	if challenge := failed[0].Challenges()[0]; challenge.Status != ChallengeStatusFailed || challenge.ErrorCode != "PROVIDER_ERROR" {
		t.Fatalf("expected failed challenge with code, got %#v", challenge)
	}

	fixture.dispatcher.fail = nil
	if _, err := fixture.svc.CreateSignatureRequest(ctx, sampleCreateInput("key-2")); err != nil {
		t.Fatalf("expected retry with released key to succeed: %v", err)
	}
}

func TestService_CreateSignatureRequestDefersInDegradedMode(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	if _, err := fixture.svc.EnterDegradedMode(ctx, "vendor outage"); err != nil {
		t.Fatalf("enter degraded: %v", err)
	}

	result, err := fixture.svc.CreateSignatureRequest(ctx, sampleCreateInput(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !result.Deferred || result.StatusCode != http.StatusAccepted {
		t.Fatalf("expected deferred 202 result, got %#v", result)
	}
	if result.Request.Status != RequestStatusPendingDegraded || len(result.Request.Challenges) != 0 {
		t.Fatalf("expected PENDING_DEGRADED without challenges, got %s", result.Request.Status)
	}

	view, err := fixture.svc.ResumeDeferred(ctx, result.Request.ID)
	if err != nil {
		t.Fatalf("resume while degraded: %v", err)
	}
	if view.Status != RequestStatusPendingDegraded || fixture.dispatcher.resumed != 0 {
		t.Fatalf("resume must wait for normal mode")
	}

	if _, err := fixture.svc.ExitDegradedMode(ctx); err != nil {
		t.Fatalf("exit degraded: %v", err)
	}
	view, err = fixture.svc.ResumeDeferred(ctx, result.Request.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if view.Status != RequestStatusPending || len(view.Challenges) != 1 {
		t.Fatalf("expected resumed request with challenge, got %s", view.Status)
	}
}

func TestService_ResumeAllDeferredUsesEnqueuer(t *testing.T) {
	enqueuer := &recordingResumeEnqueuer{}
	fixture, err := newServiceFixture(WithResumeEnqueuer(enqueuer))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	fixture.mode.EnterDegradedMode(ctx, "outage")
	for i := 0; i < 3; i++ {
		in := sampleCreateInput("")
		in.CustomerID = "cust-" + string(rune('a'+i))
		if _, err := fixture.svc.CreateSignatureRequest(ctx, in); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	summary, err := fixture.svc.ResumeAllDeferred(ctx, 10)
	if err != nil || summary.Scheduled != 0 {
		t.Fatalf("expected nothing scheduled while degraded, got %#v %v", summary, err)
	}

	fixture.mode.ExitDegradedMode(ctx)
	summary, err = fixture.svc.ResumeAllDeferred(ctx, 10)
	if err != nil {
		t.Fatalf("resume all: %v", err)
	}
	if summary.Scheduled != 3 || len(enqueuer.ids) != 3 {
		t.Fatalf("expected 3 scheduled resumes, got %#v", summary)
	}
}

func TestService_CompleteSignature(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	fixture.dispatcher.code = "246810"

	created, err := fixture.svc.CreateSignatureRequest(ctx, sampleCreateInput(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	challenge, _ := created.Request.ActiveChallenge()

	_, err = fixture.svc.CompleteSignature(ctx, CompleteSignatureInput{RequestID: created.Request.ID, ChallengeID: challenge.ID, Code: "000000"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != SignatureErrorCodeMismatch {
		t.Fatalf("expected code mismatch, got %v", err)
	}

	view, err := fixture.svc.CompleteSignature(ctx, CompleteSignatureInput{RequestID: created.Request.ID, ChallengeID: challenge.ID, Code: "246810"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if view.Status != RequestStatusSigned {
		t.Fatalf("expected SIGNED, got %s", view.Status)
	}
	if !containsEvent(fixture.events.types(), EventSignatureCompleted) {
		t.Fatalf("expected signed event")
	}
}

func TestService_CompleteSignatureAllowedDuringMaintenance(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	created, err := fixture.svc.CreateSignatureRequest(ctx, sampleCreateInput(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	challenge, _ := created.Request.ActiveChallenge()

	if _, err := fixture.svc.EnterMaintenance(ctx, "db upgrade"); err != nil {
		t.Fatalf("enter maintenance: %v", err)
	}
	if _, err := fixture.svc.CompleteSignature(ctx, CompleteSignatureInput{RequestID: created.Request.ID, ChallengeID: challenge.ID, Code: "123456"}); err != nil {
		t.Fatalf("complete during maintenance: %v", err)
	}
}

func TestService_AbortAndExpire(t *testing.T) {
	now := time.Now().UTC()
	clock := now
	fixture, err := newServiceFixture(WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	first, err := fixture.svc.CreateSignatureRequest(ctx, sampleCreateInput(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	aborted, err := fixture.svc.AbortSignatureRequest(ctx, AbortSignatureRequestInput{RequestID: first.Request.ID, Reason: "fraud"})
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if aborted.Status != RequestStatusAborted {
		t.Fatalf("expected ABORTED, got %s", aborted.Status)
	}

	second, err := fixture.svc.CreateSignatureRequest(ctx, sampleCreateInput(""))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	_, err = fixture.svc.ExpireSignatureRequest(ctx, second.Request.ID)
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != SignatureErrorTtlNotExceeded {
		t.Fatalf("expected ttl not exceeded, got %v", err)
	}

	clock = now.Add(time.Hour)
	count, err := fixture.svc.ExpireOverdue(ctx, 0)
	if err != nil {
		t.Fatalf("expire overdue: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired request, got %d", count)
	}
	view, err := fixture.svc.GetSignatureRequest(ctx, second.Request.ID)
	if err != nil || view.Status != RequestStatusExpired {
		t.Fatalf("expected EXPIRED, got %s %v", view.Status, err)
	}
}

func TestService_GetSignatureRequestNotFound(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = fixture.svc.GetSignatureRequest(context.Background(), "nope")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != SignatureErrorNotFound || rich.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_ModeControlsRequireReason(t *testing.T) {
	fixture, err := newServiceFixture()
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := fixture.svc.EnterDegradedMode(context.Background(), " "); err == nil {
		t.Fatalf("expected reason validation error")
	}
	if _, err := fixture.svc.EnterMaintenance(context.Background(), ""); err == nil {
		t.Fatalf("expected reason validation error")
	}
	if status := fixture.svc.DegradedStatus(); status.Mode != ModeNormal {
		t.Fatalf("expected NORMAL, got %s", status.Mode)
	}
}

func containsEvent(types []EventType, want EventType) bool {
	for _, item := range types {
		if item == want {
			return true
		}
	}
	return false
}
