package breaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/goliatone/go-signatures/core"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateHalfOpen State = "HALF_OPEN"
	StateOpen     State = "OPEN"
)

func fromGobreaker(state gobreaker.State) State {
	switch state {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

type StateChange struct {
	ProviderType core.ProviderType
	From         State
	To           State
	At           time.Time
	OpenBreakers []core.ProviderType
}

// StateListener is notified synchronously on every breaker transition. Listeners must
// not call back into the breaker that is changing state.
type StateListener interface {
	OnBreakerStateChange(ctx context.Context, change StateChange)
}

type StateListenerFunc func(ctx context.Context, change StateChange)

func (f StateListenerFunc) OnBreakerStateChange(ctx context.Context, change StateChange) {
	f(ctx, change)
}

// OutcomeObserver receives the result of every provider call that reached the provider.
type OutcomeObserver interface {
	RecordOutcome(providerType core.ProviderType, success bool, at time.Time)
}

// Coordinator wraps provider calls with a per-provider circuit breaker, a per-channel
// timeout and the provider's retry policy.
type Coordinator struct {
	cfg       core.Config
	telemetry core.Telemetry
	events    core.EventSink
	clock     core.Clock
	sleep     func(ctx context.Context, delay time.Duration) error
	listeners []StateListener
	observers []OutcomeObserver

	mu       sync.Mutex
	breakers map[core.ProviderType]*gobreaker.CircuitBreaker

	stateMu sync.RWMutex
	states  map[core.ProviderType]State
}

type Option func(*Coordinator)

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(c *Coordinator) {
		c.telemetry = telemetry
	}
}

func WithEventSink(sink core.EventSink) Option {
	return func(c *Coordinator) {
		c.events = sink
	}
}

func WithClock(clock core.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

func WithSleep(sleep func(ctx context.Context, delay time.Duration) error) Option {
	return func(c *Coordinator) {
		c.sleep = sleep
	}
}

func WithStateListener(listener StateListener) Option {
	return func(c *Coordinator) {
		if listener != nil {
			c.listeners = append(c.listeners, listener)
		}
	}
}

func WithOutcomeObserver(observer OutcomeObserver) Option {
	return func(c *Coordinator) {
		if observer != nil {
			c.observers = append(c.observers, observer)
		}
	}
}

func NewCoordinator(cfg core.Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		telemetry: core.NewTelemetry(nil, nil),
		events:    core.NopEventSink{},
		breakers:  map[core.ProviderType]*gobreaker.CircuitBreaker{},
		states:    map[core.ProviderType]State{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// AddStateListener registers a listener after construction, for components built later.
func (c *Coordinator) AddStateListener(listener StateListener) {
	if listener == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

func (c *Coordinator) AddOutcomeObserver(observer OutcomeObserver) {
	if observer == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, observer)
}

// Invoke sends delivery through provider. Retries follow the provider's policy and
// stop as soon as the breaker rejects a call.
func (c *Coordinator) Invoke(ctx context.Context, provider core.RegisteredProvider, delivery core.Delivery) (core.SendResult, error) {
	if provider.Port == nil {
		return core.SendResult{}, &core.ProviderFailure{
			Kind:         core.FailureUnavailable,
			ProviderType: provider.Type(),
			Channel:      provider.Config.Channel,
			Message:      "provider port is not configured",
		}
	}
	policy := normalizeRetryPolicy(provider.Config.Retry)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := c.attempt(ctx, provider, delivery)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !shouldRetry(ctx, err) || attempt == policy.MaxAttempts {
			break
		}
		delay := retryDelayForAttempt(policy, attempt)
		c.telemetry.Debug(ctx, "retrying provider call", map[string]any{
			"provider_type": string(provider.Type()),
			"attempt":       attempt,
			"delay_ms":      delay.Milliseconds(),
		})
		if sleepErr := c.sleepFor(ctx, delay); sleepErr != nil {
			break
		}
	}
	return core.SendResult{}, lastErr
}

func (c *Coordinator) attempt(ctx context.Context, provider core.RegisteredProvider, delivery core.Delivery) (core.SendResult, error) {
	cb := c.breakerFor(provider.Type())
	startedAt := time.Now()
	out, err := cb.Execute(func() (interface{}, error) {
		return c.call(ctx, provider, delivery)
	})

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		outcome = "rejected"
		err = &core.ProviderFailure{
			Kind:         core.FailureCircuitOpen,
			ProviderType: provider.Type(),
			Channel:      provider.Config.Channel,
			Message:      err.Error(),
			Err:          err,
		}
	} else if !isParentCancellation(ctx, err) {
		c.recordOutcome(provider.Type(), err == nil)
	}

	tags := map[string]string{
		"provider_type": string(provider.Type()),
		"channel":       string(provider.Config.Channel),
		"outcome":       outcome,
	}
	c.telemetry.Counter(ctx, "provider.call.total", 1, tags)
	c.telemetry.Histogram(ctx, "provider.call.duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	if err != nil {
		return core.SendResult{}, err
	}
	result, _ := out.(core.SendResult)
	return result, nil
}

// call applies the channel timeout. A late provider result is dropped.
func (c *Coordinator) call(ctx context.Context, provider core.RegisteredProvider, delivery core.Delivery) (core.SendResult, error) {
	timeout := provider.Config.Timeout
	if timeout <= 0 {
		timeout = c.cfg.TimeoutFor(provider.Config.Channel)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type sendOutcome struct {
		result core.SendResult
		err    error
	}
	done := make(chan sendOutcome, 1)
	go func() {
		result, err := provider.Port.Send(callCtx, delivery)
		done <- sendOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return classify(provider, out.result, out.err)
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return core.SendResult{}, ctx.Err()
		}
		return core.SendResult{}, &core.ProviderFailure{
			Kind:         core.FailureTimeout,
			ProviderType: provider.Type(),
			Channel:      provider.Config.Channel,
			Message:      fmt.Sprintf("no response within %s", timeout),
			Err:          callCtx.Err(),
		}
	}
}

func classify(provider core.RegisteredProvider, result core.SendResult, err error) (core.SendResult, error) {
	if err != nil {
		kind := core.FailureProviderError
		if errors.Is(err, context.DeadlineExceeded) {
			kind = core.FailureTimeout
		}
		return core.SendResult{}, &core.ProviderFailure{
			Kind:         kind,
			ProviderType: provider.Type(),
			Channel:      provider.Config.Channel,
			Err:          err,
		}
	}
	switch result.Outcome {
	case core.SendOutcomeSuccess:
		return result, nil
	case core.SendOutcomeTimeout:
		return core.SendResult{}, &core.ProviderFailure{
			Kind:         core.FailureTimeout,
			ProviderType: provider.Type(),
			Channel:      provider.Config.Channel,
			Code:         result.Code,
			Message:      result.Message,
		}
	default:
		return core.SendResult{}, &core.ProviderFailure{
			Kind:         core.FailureProviderError,
			ProviderType: provider.Type(),
			Channel:      provider.Config.Channel,
			Code:         result.Code,
			Message:      result.Message,
		}
	}
}

func (c *Coordinator) breakerFor(providerType core.ProviderType) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[providerType]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(c.settings(providerType))
	c.breakers[providerType] = cb
	c.stateMu.Lock()
	c.states[providerType] = StateClosed
	c.stateMu.Unlock()
	return cb
}

func (c *Coordinator) settings(providerType core.ProviderType) gobreaker.Settings {
	cfg := c.cfg.Breaker
	minimumCalls := cfg.MinimumCalls
	if minimumCalls <= 0 {
		minimumCalls = 1
	}
	halfOpen := cfg.HalfOpenMaxCalls
	if halfOpen <= 0 {
		halfOpen = 1
	}
	threshold := cfg.FailureRateThreshold
	return gobreaker.Settings{
		Name:        string(providerType),
		MaxRequests: uint32(halfOpen),
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(minimumCalls) {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.onStateChange(core.ProviderType(name), fromGobreaker(from), fromGobreaker(to))
		},
	}
}

func (c *Coordinator) onStateChange(providerType core.ProviderType, from State, to State) {
	c.stateMu.Lock()
	c.states[providerType] = to
	c.stateMu.Unlock()

	ctx := context.Background()
	change := StateChange{
		ProviderType: providerType,
		From:         from,
		To:           to,
		At:           c.clock.Now(),
		OpenBreakers: c.OpenBreakers(),
	}
	fields := map[string]any{
		"provider_type": string(providerType),
		"from":          string(from),
		"to":            string(to),
		"open_breakers": len(change.OpenBreakers),
	}
	if to == StateOpen {
		c.telemetry.Warn(ctx, "circuit breaker opened", fields)
	} else {
		c.telemetry.Info(ctx, "circuit breaker state changed", fields)
	}
	c.telemetry.Counter(ctx, "breaker.state_change", 1, map[string]string{
		"provider_type": string(providerType),
		"to":            string(to),
	})
	core.EmitEvent(ctx, c.events, c.telemetry, core.NewEvent(core.EventBreakerStateChanged, "", map[string]string{
		"provider_type": string(providerType),
		"from":          string(from),
		"to":            string(to),
	}))

	c.mu.Lock()
	listeners := append([]StateListener(nil), c.listeners...)
	c.mu.Unlock()
	for _, listener := range listeners {
		listener.OnBreakerStateChange(ctx, change)
	}
}

func (c *Coordinator) recordOutcome(providerType core.ProviderType, success bool) {
	c.mu.Lock()
	observers := append([]OutcomeObserver(nil), c.observers...)
	c.mu.Unlock()
	at := c.clock.Now()
	for _, observer := range observers {
		observer.RecordOutcome(providerType, success, at)
	}
}

// OpenBreakers lists providers whose last observed transition left the breaker open.
func (c *Coordinator) OpenBreakers() []core.ProviderType {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	out := make([]core.ProviderType, 0)
	for providerType, state := range c.states {
		if state == StateOpen {
			out = append(out, providerType)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RefreshStates reads the live state of every breaker so that open breakers whose
// open duration elapsed move to half-open without waiting for traffic. Transitions
// reach listeners as usual. It returns the providers still open.
func (c *Coordinator) RefreshStates() []core.ProviderType {
	c.mu.Lock()
	breakers := make([]*gobreaker.CircuitBreaker, 0, len(c.breakers))
	for _, cb := range c.breakers {
		breakers = append(breakers, cb)
	}
	c.mu.Unlock()
	for _, cb := range breakers {
		cb.State()
	}
	return c.OpenBreakers()
}

// State reports the live breaker state, letting an expired open breaker move to half-open.
func (c *Coordinator) State(providerType core.ProviderType) State {
	c.mu.Lock()
	cb, ok := c.breakers[providerType]
	c.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return fromGobreaker(cb.State())
}

func (c *Coordinator) sleepFor(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if c.sleep != nil {
		return c.sleep(ctx, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	failure, ok := core.AsProviderFailure(err)
	if !ok {
		return false
	}
	return failure.Kind == core.FailureProviderError || failure.Kind == core.FailureTimeout
}

func isParentCancellation(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

var _ core.ProviderInvoker = (*Coordinator)(nil)
