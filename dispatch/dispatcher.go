package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goliatone/go-signatures/core"
)

const errorCodeExpiredBeforeSend = "EXPIRED_BEFORE_SEND"

// Dispatcher sends a challenge for a signature request, walking the configured
// fallback chain when the primary provider fails.
type Dispatcher struct {
	cfg       core.Config
	providers core.ProviderResolver
	invoker   core.ProviderInvoker
	gate      core.ModeGate
	codes     core.CodeGenerator
	events    core.EventSink
	telemetry core.Telemetry
	clock     core.Clock
}

type Option func(*Dispatcher)

func WithModeGate(gate core.ModeGate) Option {
	return func(d *Dispatcher) {
		d.gate = gate
	}
}

func WithCodeGenerator(codes core.CodeGenerator) Option {
	return func(d *Dispatcher) {
		if codes != nil {
			d.codes = codes
		}
	}
}

func WithEventSink(sink core.EventSink) Option {
	return func(d *Dispatcher) {
		if sink != nil {
			d.events = sink
		}
	}
}

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(d *Dispatcher) {
		d.telemetry = telemetry
	}
}

func WithClock(clock core.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

func NewDispatcher(cfg core.Config, providers core.ProviderResolver, invoker core.ProviderInvoker, opts ...Option) (*Dispatcher, error) {
	if providers == nil {
		return nil, fmt.Errorf("dispatch: provider resolver is required")
	}
	if invoker == nil {
		return nil, fmt.Errorf("dispatch: provider invoker is required")
	}
	d := &Dispatcher{
		cfg:       cfg,
		providers: providers,
		invoker:   invoker,
		codes:     NewNumericCodeGenerator(cfg.Challenge.CodeLength),
		events:    core.NopEventSink{},
		telemetry: core.NewTelemetry(nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Dispatch opens a challenge on in.Channel. While the mode gate defers, the challenge
// stays PENDING and the request is marked PENDING_DEGRADED without any provider call.
// When a fallback hop would loop, the primary failure is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req *core.SignatureRequest, in core.DispatchInput) (core.SignatureChallenge, error) {
	if req == nil {
		return core.SignatureChallenge{}, fmt.Errorf("dispatch: signature request is required")
	}
	if !in.Channel.Valid() {
		return core.SignatureChallenge{}, fmt.Errorf("dispatch: invalid channel %q", in.Channel)
	}
	if d.gate != nil && d.gate.ShouldDefer() {
		return d.deferChallenge(ctx, req, in)
	}
	guard := NewLoopGuard(d.cfg.Fallback.MaxAttempts)
	return d.walk(ctx, req, guard, in.Channel, in.ProviderOverride, nil)
}

// Resume delivers the challenge deferred by degraded mode. A deferred challenge that
// expired while waiting is failed and replaced by a fresh one on the same channel.
func (d *Dispatcher) Resume(ctx context.Context, req *core.SignatureRequest) (core.SignatureChallenge, error) {
	if req == nil {
		return core.SignatureChallenge{}, fmt.Errorf("dispatch: signature request is required")
	}
	if req.Status() != core.RequestStatusPendingDegraded {
		return core.SignatureChallenge{}, &core.StateTransitionError{
			Entity: "signature_request",
			ID:     req.ID(),
			From:   string(req.Status()),
			To:     string(core.RequestStatusPending),
		}
	}
	pending, ok := req.ActiveChallenge()
	if !ok || pending.Status != core.ChallengeStatusPending {
		return core.SignatureChallenge{}, fmt.Errorf("dispatch: request %s has no deferred challenge", req.ID())
	}
	if d.gate != nil && d.gate.ShouldDefer() {
		return pending, nil
	}

	now := d.clock.Now()
	if err := req.ClearDegraded(now); err != nil {
		return core.SignatureChallenge{}, err
	}
	var reuse *core.SignatureChallenge
	if now.Before(pending.ExpiresAt) {
		reuse = &pending
	} else if err := req.MarkChallengeFailed(pending.ID, errorCodeExpiredBeforeSend, "deferred challenge expired before delivery", now); err != nil {
		return core.SignatureChallenge{}, err
	}

	d.telemetry.Counter(ctx, "dispatch.resumed", 1, map[string]string{"channel": string(pending.Channel)})
	guard := NewLoopGuard(d.cfg.Fallback.MaxAttempts)
	return d.walk(ctx, req, guard, pending.Channel, pending.ProviderType, reuse)
}

func (d *Dispatcher) deferChallenge(ctx context.Context, req *core.SignatureRequest, in core.DispatchInput) (core.SignatureChallenge, error) {
	now := d.clock.Now()
	var providerType core.ProviderType
	if provider, err := d.providers.Resolve(in.Channel, in.ProviderOverride); err == nil {
		providerType = provider.Type()
	}
	challenge, err := d.openChallenge(req, in.Channel, providerType)
	if err != nil {
		return core.SignatureChallenge{}, err
	}
	if err := req.MarkDegraded(now); err != nil {
		return core.SignatureChallenge{}, err
	}

	mode := ""
	if d.gate != nil {
		mode = string(d.gate.Status().Mode)
	}
	req.AppendTimeline(core.TimelineEvent{
		Type:    core.TimelineDispatchDeferred,
		At:      now,
		Message: "challenge delivery deferred",
		Attributes: map[string]string{
			"challenge_id": challenge.ID,
			"channel":      string(in.Channel),
			"mode":         mode,
		},
	})
	d.telemetry.Counter(ctx, "dispatch.deferred", 1, map[string]string{"channel": string(in.Channel), "mode": mode})
	d.telemetry.Info(ctx, "challenge delivery deferred", map[string]any{
		"request_id": req.ID(),
		"channel":    string(in.Channel),
		"mode":       mode,
	})
	d.emit(ctx, core.EventDispatchDeferred, req.ID(), map[string]string{
		"challenge_id": challenge.ID,
		"channel":      string(in.Channel),
		"mode":         mode,
	})
	return challenge, nil
}

func (d *Dispatcher) walk(
	ctx context.Context,
	req *core.SignatureRequest,
	guard *LoopGuard,
	channel core.Channel,
	override core.ProviderType,
	reuse *core.SignatureChallenge,
) (core.SignatureChallenge, error) {
	primaryChallenge, primaryErr := d.primary(ctx, req, guard, channel, override, reuse)
	if primaryErr == nil {
		return primaryChallenge, nil
	}
	if _, ok := core.AsProviderFailure(primaryErr); !ok {
		return primaryChallenge, primaryErr
	}

	lastChallenge, lastErr := primaryChallenge, primaryErr
	current := channel
	for ctx.Err() == nil {
		next, ok := d.cfg.FallbackFor(current)
		if !ok {
			break
		}
		provider, err := d.providers.Resolve(next, "")
		if err != nil {
			d.telemetry.Warn(ctx, "fallback chain ended, no provider for channel", map[string]any{
				"request_id": req.ID(),
				"channel":    string(next),
			})
			break
		}
		if loopErr := guard.RecordAttempt(provider.Type()); loopErr != nil {
			d.preventLoop(ctx, req, current, next, loopErr)
			return primaryChallenge, primaryErr
		}

		d.recordFallbackTriggered(ctx, req, current, next, lastErr)
		challenge, err := d.attempt(ctx, req, provider, next, nil)
		if err == nil {
			d.telemetry.Counter(ctx, "fallback.succeeded", 1, map[string]string{"from": string(channel), "to": string(next)})
			d.emit(ctx, core.EventFallbackSucceeded, req.ID(), map[string]string{
				"challenge_id":  challenge.ID,
				"from_channel":  string(channel),
				"channel":       string(next),
				"provider_type": string(provider.Type()),
			})
			return challenge, nil
		}
		if _, ok := core.AsProviderFailure(err); !ok {
			return challenge, err
		}
		d.telemetry.Counter(ctx, "fallback.failed", 1, map[string]string{"from": string(current), "to": string(next)})
		d.emit(ctx, core.EventFallbackFailed, req.ID(), map[string]string{
			"challenge_id":  challenge.ID,
			"channel":       string(next),
			"provider_type": string(provider.Type()),
			"error_code":    errorCode(err),
		})
		lastChallenge, lastErr = challenge, err
		current = next
	}
	return lastChallenge, lastErr
}

func (d *Dispatcher) primary(
	ctx context.Context,
	req *core.SignatureRequest,
	guard *LoopGuard,
	channel core.Channel,
	override core.ProviderType,
	reuse *core.SignatureChallenge,
) (core.SignatureChallenge, error) {
	provider, err := d.providers.Resolve(channel, override)
	if err != nil {
		failure := &core.ProviderFailure{
			Kind:         core.FailureUnavailable,
			ProviderType: override,
			Channel:      channel,
			Err:          err,
		}
		if reuse == nil {
			challenge, openErr := d.openChallenge(req, channel, override)
			if openErr != nil {
				return core.SignatureChallenge{}, openErr
			}
			reuse = &challenge
		}
		return d.fail(ctx, req, *reuse, failure), failure
	}
	if err := guard.RecordAttempt(provider.Type()); err != nil {
		return core.SignatureChallenge{}, err
	}
	return d.attempt(ctx, req, provider, channel, reuse)
}

// attempt sends one challenge through provider and applies the outcome to req.
func (d *Dispatcher) attempt(
	ctx context.Context,
	req *core.SignatureRequest,
	provider core.RegisteredProvider,
	channel core.Channel,
	reuse *core.SignatureChallenge,
) (core.SignatureChallenge, error) {
	var challenge core.SignatureChallenge
	if reuse != nil {
		challenge = *reuse
	} else {
		opened, err := d.openChallenge(req, channel, provider.Type())
		if err != nil {
			return core.SignatureChallenge{}, err
		}
		challenge = opened
	}

	result, err := d.invoker.Invoke(ctx, provider, core.Delivery{
		RequestID:   req.ID(),
		ChallengeID: challenge.ID,
		Channel:     channel,
		Code:        challenge.Code,
		Recipient:   req.Recipient(),
		ExpiresAt:   challenge.ExpiresAt,
	})
	if err != nil {
		failure, ok := core.AsProviderFailure(err)
		if !ok {
			failure = &core.ProviderFailure{
				Kind:         core.FailureProviderError,
				ProviderType: provider.Type(),
				Channel:      channel,
				Err:          err,
			}
		}
		if failure.ProviderType == "" {
			failure.ProviderType = provider.Type()
		}
		if failure.Channel == "" {
			failure.Channel = channel
		}
		return d.fail(ctx, req, challenge, failure), failure
	}

	now := d.clock.Now()
	if err := req.MarkChallengeSent(challenge.ID, result.ProviderProof, now); err != nil {
		return core.SignatureChallenge{}, err
	}
	req.AppendTimeline(core.TimelineEvent{
		Type:    core.TimelineChallengeSent,
		At:      now,
		Message: fmt.Sprintf("challenge sent via %s", provider.Type()),
		Attributes: map[string]string{
			"challenge_id":  challenge.ID,
			"channel":       string(channel),
			"provider_type": string(provider.Type()),
		},
	})
	d.telemetry.Counter(ctx, "challenge.sent", 1, map[string]string{"channel": string(channel), "provider_type": string(provider.Type())})
	d.emit(ctx, core.EventChallengeSent, req.ID(), map[string]string{
		"challenge_id":  challenge.ID,
		"channel":       string(channel),
		"provider_type": string(provider.Type()),
	})
	sent, _ := req.Challenge(challenge.ID)
	return sent, nil
}

func (d *Dispatcher) openChallenge(req *core.SignatureRequest, channel core.Channel, providerType core.ProviderType) (core.SignatureChallenge, error) {
	code, err := d.codes.Generate()
	if err != nil {
		return core.SignatureChallenge{}, err
	}
	return req.CreateChallenge(core.NewChallengeInput{
		Channel:      channel,
		ProviderType: providerType,
		Code:         code,
		TTL:          d.challengeTTL(),
	}, d.clock.Now())
}

func (d *Dispatcher) fail(ctx context.Context, req *core.SignatureRequest, challenge core.SignatureChallenge, failure *core.ProviderFailure) core.SignatureChallenge {
	now := d.clock.Now()
	message := failure.Message
	if message == "" && failure.Err != nil {
		message = failure.Err.Error()
	}
	if err := req.MarkChallengeFailed(challenge.ID, failure.ErrorCode(), message, now); err != nil {
		d.telemetry.Error(ctx, "failed to record challenge failure", map[string]any{
			"request_id":   req.ID(),
			"challenge_id": challenge.ID,
			"error":        err.Error(),
		})
	}
	req.AppendTimeline(core.TimelineEvent{
		Type:    core.TimelineChallengeFailed,
		At:      now,
		Message: message,
		Attributes: map[string]string{
			"challenge_id":  challenge.ID,
			"channel":       string(failure.Channel),
			"provider_type": string(failure.ProviderType),
			"kind":          string(failure.Kind),
			"error_code":    failure.ErrorCode(),
		},
	})
	d.telemetry.Counter(ctx, "challenge.failed", 1, map[string]string{
		"channel": string(failure.Channel),
		"kind":    string(failure.Kind),
	})
	d.telemetry.Warn(ctx, "challenge delivery failed", map[string]any{
		"request_id":    req.ID(),
		"challenge_id":  challenge.ID,
		"provider_type": string(failure.ProviderType),
		"error_code":    failure.ErrorCode(),
	})
	d.emit(ctx, core.EventChallengeFailed, req.ID(), map[string]string{
		"challenge_id":  challenge.ID,
		"channel":       string(failure.Channel),
		"provider_type": string(failure.ProviderType),
		"error_code":    failure.ErrorCode(),
	})
	failed, _ := req.Challenge(challenge.ID)
	return failed
}

func (d *Dispatcher) recordFallbackTriggered(ctx context.Context, req *core.SignatureRequest, from core.Channel, to core.Channel, cause error) {
	req.AppendTimeline(core.TimelineEvent{
		Type:    core.TimelineFallbackTriggered,
		At:      d.clock.Now(),
		Message: fmt.Sprintf("falling back from %s to %s", from, to),
		Attributes: map[string]string{
			"from_channel": string(from),
			"to_channel":   string(to),
			"error_code":   errorCode(cause),
		},
	})
	d.telemetry.Counter(ctx, "fallback.triggered", 1, map[string]string{"from": string(from), "to": string(to)})
	d.emit(ctx, core.EventFallbackTriggered, req.ID(), map[string]string{
		"from_channel": string(from),
		"to_channel":   string(to),
	})
}

func (d *Dispatcher) preventLoop(ctx context.Context, req *core.SignatureRequest, from core.Channel, to core.Channel, loopErr error) {
	attributes := map[string]string{
		"from_channel": string(from),
		"to_channel":   string(to),
	}
	var detected *LoopDetectedError
	if errors.As(loopErr, &detected) {
		attributes["provider_type"] = string(detected.ProviderType)
		attributes["attempts"] = strconv.Itoa(detected.Attempts)
		attributes["reason"] = detected.Reason
	}
	req.AppendTimeline(core.TimelineEvent{
		Type:       core.TimelineLoopPrevented,
		At:         d.clock.Now(),
		Message:    loopErr.Error(),
		Attributes: attributes,
	})
	d.telemetry.Counter(ctx, "fallback.loop_prevented", 1, map[string]string{"from": string(from), "to": string(to)})
	d.telemetry.Warn(ctx, "fallback loop prevented", map[string]any{
		"request_id": req.ID(),
		"from":       string(from),
		"to":         string(to),
	})
	d.emit(ctx, core.EventFallbackLoopPrevented, req.ID(), attributes)
}

func (d *Dispatcher) challengeTTL() time.Duration {
	if d.cfg.Challenge.TTL > 0 {
		return d.cfg.Challenge.TTL
	}
	return core.DefaultConfig().Challenge.TTL
}

func (d *Dispatcher) emit(ctx context.Context, eventType core.EventType, requestID string, attributes map[string]string) {
	core.EmitEvent(ctx, d.events, d.telemetry, core.NewEvent(eventType, requestID, attributes))
}

func errorCode(err error) string {
	if failure, ok := core.AsProviderFailure(err); ok {
		return failure.ErrorCode()
	}
	if err == nil {
		return ""
	}
	return "UNKNOWN"
}

var _ core.ChallengeDispatcher = (*Dispatcher)(nil)
