package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-signatures/core"
)

const (
	JobIDResumeDeferred = "signatures.request.resume"

	paramRequestID = "request_id"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       2 * time.Second,
		MaxDelay:        time.Minute,
		DeadLetterOnMax: true,
	}
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// backoff doubles BaseDelay per attempt, capped by MaxDelay.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// NewResumeMessage builds the queue message that resumes one deferred request.
// The idempotency key collapses duplicate schedules of the same request.
func NewResumeMessage(requestID string) *job.ExecutionMessage {
	requestID = strings.TrimSpace(requestID)
	return &job.ExecutionMessage{
		JobID:          JobIDResumeDeferred,
		ScriptPath:     JobIDResumeDeferred,
		Parameters:     map[string]any{paramRequestID: requestID},
		IdempotencyKey: "resume:" + requestID,
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// RequestIDFromMessage reads the request id parameter of a resume message.
func RequestIDFromMessage(msg *job.ExecutionMessage) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDResumeDeferred {
		return "", fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	raw, ok := msg.Parameters[paramRequestID]
	if !ok {
		return "", fmt.Errorf("gojob: %s parameter is required", paramRequestID)
	}
	requestID, ok := raw.(string)
	if !ok || strings.TrimSpace(requestID) == "" {
		return "", fmt.Errorf("gojob: %s parameter must be a non-empty string", paramRequestID)
	}
	return strings.TrimSpace(requestID), nil
}

// ResumeEnqueuer schedules deferred requests on a go-job queue.
type ResumeEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewResumeEnqueuer(enqueuer queue.Enqueuer) *ResumeEnqueuer {
	return &ResumeEnqueuer{enqueuer: enqueuer}
}

func (e *ResumeEnqueuer) EnqueueResume(ctx context.Context, requestID string) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(requestID) == "" {
		return fmt.Errorf("gojob: request id is required")
	}
	return e.enqueuer.Enqueue(ctx, NewResumeMessage(requestID))
}

type Resumer interface {
	ResumeDeferred(ctx context.Context, requestID string) (core.SignatureRequestView, error)
}

// ResumeProcessor consumes resume deliveries and settles each one with ack or nack.
type ResumeProcessor struct {
	resumer   Resumer
	policy    RetryPolicy
	hook      worker.Hook
	telemetry core.Telemetry
}

type ProcessorOption func(*ResumeProcessor)

func WithRetryPolicy(policy RetryPolicy) ProcessorOption {
	return func(p *ResumeProcessor) {
		p.policy = policy
	}
}

func WithHook(hook worker.Hook) ProcessorOption {
	return func(p *ResumeProcessor) {
		p.hook = hook
	}
}

func WithTelemetry(telemetry core.Telemetry) ProcessorOption {
	return func(p *ResumeProcessor) {
		p.telemetry = telemetry
	}
}

func NewResumeProcessor(resumer Resumer, opts ...ProcessorOption) (*ResumeProcessor, error) {
	if resumer == nil {
		return nil, fmt.Errorf("gojob: resumer is required")
	}
	p := &ResumeProcessor{resumer: resumer, policy: DefaultRetryPolicy()}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Process handles one delivery. Malformed messages and requests that no longer
// exist are acked; other failures are nacked with the retry policy applied.
func (p *ResumeProcessor) Process(ctx context.Context, delivery queue.Delivery, attempt int) error {
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: time.Now().UTC()}
	p.onStart(ctx, event)

	requestID, err := RequestIDFromMessage(msg)
	if err != nil {
		p.telemetry.Warn(ctx, "dropping malformed resume message", map[string]any{"error": err.Error()})
		event.Err = err
		p.onFailure(ctx, event)
		return delivery.Ack(ctx)
	}

	_, err = p.resumer.ResumeDeferred(ctx, requestID)
	event.Duration = time.Since(event.StartedAt)
	if err == nil {
		p.onSuccess(ctx, event)
		return delivery.Ack(ctx)
	}
	event.Err = err
	if isNotFound(err) {
		p.telemetry.Warn(ctx, "resume target no longer exists", map[string]any{"request_id": requestID})
		p.onFailure(ctx, event)
		return delivery.Ack(ctx)
	}

	opts := p.policy.NormalizeAttempt(queue.NackOptions{
		Delay:   p.policy.backoff(attempt),
		Requeue: true,
		Reason:  err.Error(),
	}, attempt)
	event.Delay = opts.Delay
	if opts.Requeue {
		p.onRetry(ctx, event)
	} else {
		p.onFailure(ctx, event)
	}
	return delivery.Nack(ctx, opts)
}

// Run dequeues and processes deliveries until the context is cancelled or the
// dequeuer fails. Attempts are tracked per idempotency key for the lifetime of Run.
func (p *ResumeProcessor) Run(ctx context.Context, dequeuer queue.Dequeuer) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is required")
	}
	attempts := map[string]int{}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if delivery == nil {
			continue
		}
		key := ""
		if msg := delivery.Message(); msg != nil {
			key = msg.IdempotencyKey
		}
		attempts[key]++
		if err := p.Process(ctx, delivery, attempts[key]); err != nil {
			p.telemetry.Error(ctx, "resume delivery settlement failed", map[string]any{"error": err.Error()})
		}
	}
}

func (p *ResumeProcessor) onStart(ctx context.Context, event worker.Event) {
	if p.hook != nil {
		p.hook.OnStart(ctx, event)
	}
}

func (p *ResumeProcessor) onSuccess(ctx context.Context, event worker.Event) {
	if p.hook != nil {
		p.hook.OnSuccess(ctx, event)
	}
}

func (p *ResumeProcessor) onFailure(ctx context.Context, event worker.Event) {
	if p.hook != nil {
		p.hook.OnFailure(ctx, event)
	}
}

func (p *ResumeProcessor) onRetry(ctx context.Context, event worker.Event) {
	if p.hook != nil {
		p.hook.OnRetry(ctx, event)
	}
}

// TelemetryHook reports worker events through engine telemetry.
type TelemetryHook struct {
	telemetry core.Telemetry
}

func NewTelemetryHook(telemetry core.Telemetry) *TelemetryHook {
	return &TelemetryHook{telemetry: telemetry}
}

func (h *TelemetryHook) OnStart(ctx context.Context, event worker.Event) {
	h.telemetry.Debug(ctx, "resume job started", eventFields(event))
}

func (h *TelemetryHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.telemetry.Counter(ctx, "resume.jobs", 1, map[string]string{"outcome": "success"})
	h.telemetry.Histogram(ctx, "resume.job_duration_ms", float64(event.Duration.Milliseconds()), nil)
}

func (h *TelemetryHook) OnFailure(ctx context.Context, event worker.Event) {
	h.telemetry.Counter(ctx, "resume.jobs", 1, map[string]string{"outcome": "failure"})
	h.telemetry.Error(ctx, "resume job failed", eventFields(event))
}

func (h *TelemetryHook) OnRetry(ctx context.Context, event worker.Event) {
	h.telemetry.Counter(ctx, "resume.jobs", 1, map[string]string{"outcome": "retry"})
	h.telemetry.Warn(ctx, "resume job scheduled for retry", eventFields(event))
}

func eventFields(event worker.Event) map[string]any {
	fields := map[string]any{"attempt": event.Attempt}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message != nil {
		fields["job_id"] = message.JobID
		if requestID, ok := message.Parameters[paramRequestID]; ok {
			fields["request_id"] = requestID
		}
	}
	if event.Delay > 0 {
		fields["delay"] = event.Delay.String()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

func isNotFound(err error) bool {
	if errors.Is(err, core.ErrSignatureRequestNotFound) {
		return true
	}
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.TextCode == core.SignatureErrorNotFound
}

var (
	_ core.ResumeEnqueuer = (*ResumeEnqueuer)(nil)
	_ worker.Hook         = (*TelemetryHook)(nil)
)
