package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-signatures/core"
)

func TestResumeEnqueuer_BuildsDedupedMessage(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	adapter := NewResumeEnqueuer(enqueuer)

	if err := adapter.EnqueueResume(context.Background(), " req-1 "); err != nil {
		t.Fatalf("enqueue resume: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDResumeDeferred {
		t.Fatalf("expected resume job message, got %#v", enqueuer.last)
	}
	if enqueuer.last.IdempotencyKey != "resume:req-1" {
		t.Fatalf("expected idempotency key resume:req-1, got %q", enqueuer.last.IdempotencyKey)
	}
	requestID, err := RequestIDFromMessage(enqueuer.last)
	if err != nil || requestID != "req-1" {
		t.Fatalf("expected request id round trip, got %q %v", requestID, err)
	}

	if err := adapter.EnqueueResume(context.Background(), ""); err == nil {
		t.Fatalf("expected empty request id to be rejected")
	}
	if err := (*ResumeEnqueuer)(nil).EnqueueResume(context.Background(), "req-1"); err == nil {
		t.Fatalf("expected nil enqueuer to fail")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	opts := policy.NormalizeAttempt(queue.NackOptions{Delay: 30 * time.Second, Requeue: true, Reason: " transient "}, 1)
	if opts.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", opts.Delay)
	}
	if !opts.Requeue || opts.Reason != "transient" {
		t.Fatalf("expected requeue before max attempts, got %#v", opts)
	}

	opts = policy.NormalizeAttempt(queue.NackOptions{Delay: time.Second, Requeue: true}, 3)
	if opts.Requeue || !opts.DeadLetter {
		t.Fatalf("expected dead letter on max attempts, got %#v", opts)
	}
}

func TestRetryPolicyBackoffDoublesUpToMax(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, expected := range want {
		if got := policy.backoff(i + 1); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, expected, got)
		}
	}
}

func TestResumeProcessor_AcksOnSuccess(t *testing.T) {
	resumer := &stubResumer{}
	hook := &capturingHook{}
	processor, err := NewResumeProcessor(resumer, WithHook(hook))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	delivery := &stubQueueDelivery{msg: NewResumeMessage("req-1")}

	if err := processor.Process(context.Background(), delivery, 1); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.acked || delivery.nacked {
		t.Fatalf("expected ack only, got acked=%v nacked=%v", delivery.acked, delivery.nacked)
	}
	if len(resumer.calls) != 1 || resumer.calls[0] != "req-1" {
		t.Fatalf("expected resume of req-1, got %v", resumer.calls)
	}
	if hook.starts != 1 || hook.successes != 1 {
		t.Fatalf("expected start and success hooks, got %#v", hook)
	}
}

func TestResumeProcessor_NacksTransientFailure(t *testing.T) {
	resumer := &stubResumer{err: errors.New("store unavailable")}
	hook := &capturingHook{}
	processor, err := NewResumeProcessor(resumer,
		WithHook(hook),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute, DeadLetterOnMax: true}),
	)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	first := &stubQueueDelivery{msg: NewResumeMessage("req-1")}
	if err := processor.Process(context.Background(), first, 1); err != nil {
		t.Fatalf("process attempt 1: %v", err)
	}
	if !first.nacked || !first.nackOpts.Requeue || first.nackOpts.Delay != time.Second {
		t.Fatalf("expected requeue with backoff, got %#v", first.nackOpts)
	}
	if hook.retries != 1 {
		t.Fatalf("expected retry hook, got %d", hook.retries)
	}

	last := &stubQueueDelivery{msg: NewResumeMessage("req-1")}
	if err := processor.Process(context.Background(), last, 2); err != nil {
		t.Fatalf("process attempt 2: %v", err)
	}
	if last.nackOpts.Requeue || !last.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %#v", last.nackOpts)
	}
	if hook.failures != 1 {
		t.Fatalf("expected failure hook, got %d", hook.failures)
	}
}

func TestResumeProcessor_AcksMissingRequestAndMalformedMessage(t *testing.T) {
	resumer := &stubResumer{err: core.MapError(core.ErrSignatureRequestNotFound)}
	processor, err := NewResumeProcessor(resumer)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	missing := &stubQueueDelivery{msg: NewResumeMessage("gone")}
	if err := processor.Process(context.Background(), missing, 1); err != nil {
		t.Fatalf("process missing: %v", err)
	}
	if !missing.acked {
		t.Fatalf("expected missing request to be acked")
	}

	malformed := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDResumeDeferred}}
	if err := processor.Process(context.Background(), malformed, 1); err != nil {
		t.Fatalf("process malformed: %v", err)
	}
	if !malformed.acked {
		t.Fatalf("expected malformed message to be acked")
	}
	if len(resumer.calls) != 1 {
		t.Fatalf("expected malformed message to skip the resumer, calls=%v", resumer.calls)
	}
}

func TestResumeProcessor_RunStopsWithContext(t *testing.T) {
	resumer := &stubResumer{}
	processor, err := NewResumeProcessor(resumer)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	dequeuer := &sequenceDequeuer{
		deliveries: []*stubQueueDelivery{
			{msg: NewResumeMessage("req-1")},
			{msg: NewResumeMessage("req-2")},
		},
		onEmpty: cancel,
	}

	if err := processor.Run(ctx, dequeuer); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(resumer.calls) != 2 {
		t.Fatalf("expected both deliveries processed, got %v", resumer.calls)
	}
}

func TestTelemetryHook_ReportsEvents(t *testing.T) {
	metrics := &capturingMetrics{}
	hook := NewTelemetryHook(core.Telemetry{Metrics: metrics})
	event := worker.Event{Message: NewResumeMessage("req-1"), Attempt: 2, Err: errors.New("retry")}

	hook.OnRetry(context.Background(), event)
	hook.OnSuccess(context.Background(), event)

	if metrics.counters["resume.jobs"] != 2 {
		t.Fatalf("expected two resume job counters, got %#v", metrics.counters)
	}
	fields := eventFields(event)
	if fields["request_id"] != "req-1" || fields["error"] != "retry" {
		t.Fatalf("unexpected event fields: %#v", fields)
	}
}

type stubResumer struct {
	calls []string
	err   error
}

func (s *stubResumer) ResumeDeferred(_ context.Context, requestID string) (core.SignatureRequestView, error) {
	s.calls = append(s.calls, requestID)
	return core.SignatureRequestView{ID: requestID}, s.err
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type sequenceDequeuer struct {
	deliveries []*stubQueueDelivery
	onEmpty    func()
}

func (s *sequenceDequeuer) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if len(s.deliveries) == 0 {
		s.onEmpty()
		return nil, ctx.Err()
	}
	next := s.deliveries[0]
	s.deliveries = s.deliveries[1:]
	return next, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nacked   bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nacked = true
	s.nackOpts = opts
	return nil
}

type capturingHook struct {
	starts    int
	successes int
	failures  int
	retries   int
}

func (h *capturingHook) OnStart(context.Context, worker.Event)   { h.starts++ }
func (h *capturingHook) OnSuccess(context.Context, worker.Event) { h.successes++ }
func (h *capturingHook) OnFailure(context.Context, worker.Event) { h.failures++ }
func (h *capturingHook) OnRetry(context.Context, worker.Event)   { h.retries++ }

type capturingMetrics struct {
	counters map[string]int64
}

func (m *capturingMetrics) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[name] += value
}

func (m *capturingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}
