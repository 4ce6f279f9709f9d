package degraded

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-signatures/breaker"
	"github.com/goliatone/go-signatures/core"
)

const defaultHealthCheckTimeout = 5 * time.Second

// Manager owns the process-wide dispatch mode. Readers use an atomic snapshot;
// transitions are serialized by a single mutex.
type Manager struct {
	cfg          core.DegradedConfig
	providers    core.ProviderResolver
	breakers     BreakerStates
	telemetry    core.Telemetry
	events       core.EventSink
	clock        core.Clock
	checkTimeout time.Duration

	status atomic.Pointer[core.DegradedStatus]

	mu              sync.Mutex
	windows         map[core.ProviderType]*outcomeWindow
	unhealthySince  map[core.ProviderType]time.Time
	recoveringSince time.Time
	openBreakers    []core.ProviderType
}

// BreakerStates reads live circuit breaker state. breaker.Coordinator implements it.
type BreakerStates interface {
	RefreshStates() []core.ProviderType
}

type Option func(*Manager)

// WithProviders enables health checks of degraded providers during Evaluate.
func WithProviders(providers core.ProviderResolver) Option {
	return func(m *Manager) {
		m.providers = providers
	}
}

// WithBreakerStates lets Evaluate refresh the open breaker set on every tick, so
// breakers that stopped receiving traffic while dispatch was deferred still recover.
func WithBreakerStates(states BreakerStates) Option {
	return func(m *Manager) {
		m.breakers = states
	}
}

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(m *Manager) {
		m.telemetry = telemetry
	}
}

func WithEventSink(sink core.EventSink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.events = sink
		}
	}
}

func WithClock(clock core.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

func WithHealthCheckTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.checkTimeout = timeout
		}
	}
}

func NewManager(cfg core.DegradedConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:            withDefaults(cfg),
		telemetry:      core.NewTelemetry(nil, nil),
		events:         core.NopEventSink{},
		checkTimeout:   defaultHealthCheckTimeout,
		windows:        map[core.ProviderType]*outcomeWindow{},
		unhealthySince: map[core.ProviderType]time.Time{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.status.Store(&core.DegradedStatus{Mode: core.ModeNormal, EnteredAt: m.clock.Now()})
	return m
}

func withDefaults(cfg core.DegradedConfig) core.DegradedConfig {
	defaults := core.DefaultConfig().Degraded
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = defaults.ErrorRateThreshold
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = defaults.RecoveryThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = defaults.MinSamples
	}
	if cfg.SampleWindow <= 0 {
		cfg.SampleWindow = defaults.SampleWindow
	}
	if cfg.MaxOpenBreakers <= 0 {
		cfg.MaxOpenBreakers = defaults.MaxOpenBreakers
	}
	return cfg
}

func (m *Manager) Status() core.DegradedStatus {
	return m.status.Load().Clone()
}

// ShouldDefer reports whether new challenges must be held back from providers.
func (m *Manager) ShouldDefer() bool {
	return m.status.Load().Mode != core.ModeNormal
}

// RecordOutcome adds one provider call result to the rolling window.
func (m *Manager) RecordOutcome(providerType core.ProviderType, success bool, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowFor(providerType).record(at, success)
}

// OnBreakerStateChange keeps the open breaker set current and enters DEGRADED as soon
// as too many breakers are open at once.
func (m *Manager) OnBreakerStateChange(ctx context.Context, change breaker.StateChange) {
	m.mu.Lock()
	m.openBreakers = append([]core.ProviderType(nil), change.OpenBreakers...)
	current := m.status.Load()
	var transition *modeTransition
	if current.Mode == core.ModeNormal && len(m.openBreakers) > m.cfg.MaxOpenBreakers {
		transition = m.setLocked(core.DegradedStatus{
			Mode:         core.ModeDegraded,
			Reason:       fmt.Sprintf("%d circuit breakers open", len(m.openBreakers)),
			OpenBreakers: m.openBreakers,
		}, change.At)
	} else {
		next := current.Clone()
		next.OpenBreakers = append([]core.ProviderType(nil), m.openBreakers...)
		m.status.Store(&next)
	}
	m.mu.Unlock()
	m.announce(ctx, transition)
}

// Evaluate is one step of the control loop. It health-checks degraded providers, then
// applies the entry and recovery rules. MAINTENANCE suspends it.
func (m *Manager) Evaluate(ctx context.Context) core.DegradedStatus {
	current := m.Status()
	if current.Mode == core.ModeMaintenance {
		return current
	}
	if m.breakers != nil {
		open := m.breakers.RefreshStates()
		m.mu.Lock()
		m.openBreakers = append([]core.ProviderType(nil), open...)
		m.mu.Unlock()
		current = m.Status()
	}
	if current.Mode == core.ModeDegraded {
		m.checkHealth(ctx, current)
	}

	now := m.clock.Now()
	m.mu.Lock()
	unhealthy, sustained := m.unhealthyLocked(now)
	recovered := len(unhealthy) == 0 && m.recoveredLocked(now) && len(m.openBreakers) <= m.cfg.MaxOpenBreakers

	var transition *modeTransition
	state := m.status.Load()
	switch state.Mode {
	case core.ModeNormal:
		m.recoveringSince = time.Time{}
		if len(sustained) > 0 {
			transition = m.setLocked(core.DegradedStatus{
				Mode:              core.ModeDegraded,
				Reason:            "error rate above threshold: " + joinTypes(sustained),
				DegradedProviders: sustained,
				OpenBreakers:      m.openBreakers,
			}, now)
		} else if len(m.openBreakers) > m.cfg.MaxOpenBreakers {
			transition = m.setLocked(core.DegradedStatus{
				Mode:         core.ModeDegraded,
				Reason:       fmt.Sprintf("%d circuit breakers open", len(m.openBreakers)),
				OpenBreakers: m.openBreakers,
			}, now)
		}
	case core.ModeDegraded:
		if state.Manual {
			break
		}
		if !recovered {
			m.recoveringSince = time.Time{}
			if len(unhealthy) > 0 {
				next := state.Clone()
				next.DegradedProviders = mergeTypes(next.DegradedProviders, unhealthy)
				next.OpenBreakers = append([]core.ProviderType(nil), m.openBreakers...)
				m.status.Store(&next)
			}
			break
		}
		if len(state.OpenBreakers) != len(m.openBreakers) {
			next := state.Clone()
			next.OpenBreakers = append([]core.ProviderType(nil), m.openBreakers...)
			m.status.Store(&next)
		}
		if m.recoveringSince.IsZero() {
			m.recoveringSince = now
		}
		held := now.Sub(state.EnteredAt) >= m.cfg.MinDuration
		if held && now.Sub(m.recoveringSince) >= m.cfg.RecoveryWindow {
			transition = m.setLocked(core.DegradedStatus{Mode: core.ModeNormal, Reason: "error rate recovered"}, now)
		}
	}
	m.mu.Unlock()

	m.announce(ctx, transition)
	status := m.Status()
	m.telemetry.Debug(ctx, "degraded mode evaluated", map[string]any{
		"mode":          string(status.Mode),
		"unhealthy":     len(unhealthy),
		"open_breakers": len(status.OpenBreakers),
	})
	return status
}

// EnterDegradedMode is idempotent; re-entering only updates the reason.
// MAINTENANCE takes precedence and is left untouched.
func (m *Manager) EnterDegradedMode(ctx context.Context, reason string) core.DegradedStatus {
	m.mu.Lock()
	current := m.status.Load()
	var transition *modeTransition
	switch current.Mode {
	case core.ModeMaintenance:
	case core.ModeDegraded:
		next := current.Clone()
		next.Reason = strings.TrimSpace(reason)
		next.Manual = true
		m.status.Store(&next)
	default:
		transition = m.setLocked(core.DegradedStatus{
			Mode:         core.ModeDegraded,
			Reason:       strings.TrimSpace(reason),
			Manual:       true,
			OpenBreakers: m.openBreakers,
		}, m.clock.Now())
	}
	m.mu.Unlock()
	m.announce(ctx, transition)
	return m.Status()
}

// ExitDegradedMode returns to NORMAL without waiting for the hold period. It is a
// no-op outside DEGRADED.
func (m *Manager) ExitDegradedMode(ctx context.Context) core.DegradedStatus {
	m.mu.Lock()
	var transition *modeTransition
	if m.status.Load().Mode == core.ModeDegraded {
		transition = m.setLocked(core.DegradedStatus{Mode: core.ModeNormal, Reason: "operator exit", Manual: true}, m.clock.Now())
	}
	m.mu.Unlock()
	m.announce(ctx, transition)
	return m.Status()
}

func (m *Manager) EnterMaintenance(ctx context.Context, reason string) core.DegradedStatus {
	m.mu.Lock()
	current := m.status.Load()
	var transition *modeTransition
	if current.Mode == core.ModeMaintenance {
		next := current.Clone()
		next.Reason = strings.TrimSpace(reason)
		m.status.Store(&next)
	} else {
		transition = m.setLocked(core.DegradedStatus{
			Mode:         core.ModeMaintenance,
			Reason:       strings.TrimSpace(reason),
			Manual:       true,
			OpenBreakers: m.openBreakers,
		}, m.clock.Now())
	}
	m.mu.Unlock()
	m.announce(ctx, transition)
	return m.Status()
}

func (m *Manager) ExitMaintenance(ctx context.Context) core.DegradedStatus {
	m.mu.Lock()
	var transition *modeTransition
	if m.status.Load().Mode == core.ModeMaintenance {
		transition = m.setLocked(core.DegradedStatus{Mode: core.ModeNormal, Reason: "maintenance finished", Manual: true}, m.clock.Now())
	}
	m.mu.Unlock()
	m.announce(ctx, transition)
	return m.Status()
}

type modeTransition struct {
	from core.DegradedStatus
	to   core.DegradedStatus
}

func (m *Manager) setLocked(next core.DegradedStatus, now time.Time) *modeTransition {
	previous := m.status.Load().Clone()
	next.EnteredAt = now
	next = next.Clone()
	m.status.Store(&next)
	m.unhealthySince = map[core.ProviderType]time.Time{}
	m.recoveringSince = time.Time{}
	return &modeTransition{from: previous, to: next}
}

func (m *Manager) announce(ctx context.Context, transition *modeTransition) {
	if transition == nil {
		return
	}
	from, to := transition.from, transition.to
	fields := map[string]any{
		"from":   string(from.Mode),
		"to":     string(to.Mode),
		"reason": to.Reason,
		"manual": to.Manual,
	}
	if to.Mode == core.ModeNormal {
		m.telemetry.Info(ctx, "dispatch mode changed", fields)
	} else {
		m.telemetry.Warn(ctx, "dispatch mode changed", fields)
	}
	m.telemetry.Counter(ctx, "degraded.transition", 1, map[string]string{
		"from": string(from.Mode),
		"to":   string(to.Mode),
	})

	attributes := map[string]string{
		"from":   string(from.Mode),
		"to":     string(to.Mode),
		"reason": to.Reason,
	}
	if len(to.DegradedProviders) > 0 {
		attributes["providers"] = joinTypes(to.DegradedProviders)
	}
	for _, eventType := range transitionEvents(from.Mode, to.Mode) {
		core.EmitEvent(ctx, m.events, m.telemetry, core.NewEvent(eventType, "", attributes))
	}
}

func transitionEvents(from core.Mode, to core.Mode) []core.EventType {
	var out []core.EventType
	switch from {
	case core.ModeDegraded:
		out = append(out, core.EventDegradedModeExited)
	case core.ModeMaintenance:
		out = append(out, core.EventMaintenanceModeExited)
	}
	switch to {
	case core.ModeDegraded:
		out = append(out, core.EventDegradedModeEntered)
	case core.ModeMaintenance:
		out = append(out, core.EventMaintenanceModeEntered)
	}
	return out
}

// unhealthyLocked returns providers above the error threshold and the subset that
// has stayed there for the sustain window.
func (m *Manager) unhealthyLocked(now time.Time) ([]core.ProviderType, []core.ProviderType) {
	var unhealthy, sustained []core.ProviderType
	for providerType, window := range m.windows {
		rate, samples := window.rate(now)
		if samples < m.cfg.MinSamples || rate <= m.cfg.ErrorRateThreshold {
			delete(m.unhealthySince, providerType)
			continue
		}
		unhealthy = append(unhealthy, providerType)
		since, ok := m.unhealthySince[providerType]
		if !ok {
			m.unhealthySince[providerType] = now
			since = now
		}
		if now.Sub(since) >= m.cfg.SustainWindow {
			sustained = append(sustained, providerType)
		}
	}
	sortTypes(unhealthy)
	sortTypes(sustained)
	return unhealthy, sustained
}

// recoveredLocked holds when every provider with recent samples is below the recovery threshold.
func (m *Manager) recoveredLocked(now time.Time) bool {
	for _, window := range m.windows {
		rate, samples := window.rate(now)
		if samples > 0 && rate >= m.cfg.RecoveryThreshold {
			return false
		}
	}
	return true
}

func (m *Manager) checkHealth(ctx context.Context, status core.DegradedStatus) {
	if m.providers == nil {
		return
	}
	targets := mergeTypes(status.DegradedProviders, status.OpenBreakers)
	for _, providerType := range targets {
		provider, ok := m.providers.Lookup(providerType)
		if !ok || provider.Port == nil {
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
		health, err := provider.Port.CheckHealth(checkCtx)
		cancel()
		up := err == nil && health.State == core.HealthUp
		m.RecordOutcome(providerType, up, m.clock.Now())
		m.telemetry.Counter(ctx, "degraded.health_check", 1, map[string]string{
			"provider_type": string(providerType),
			"up":            fmt.Sprint(up),
		})
	}
}

func (m *Manager) windowFor(providerType core.ProviderType) *outcomeWindow {
	window, ok := m.windows[providerType]
	if !ok {
		window = newOutcomeWindow(m.cfg.SampleWindow)
		m.windows[providerType] = window
	}
	return window
}

func mergeTypes(lists ...[]core.ProviderType) []core.ProviderType {
	seen := map[core.ProviderType]struct{}{}
	var out []core.ProviderType
	for _, list := range lists {
		for _, providerType := range list {
			if _, ok := seen[providerType]; ok {
				continue
			}
			seen[providerType] = struct{}{}
			out = append(out, providerType)
		}
	}
	sortTypes(out)
	return out
}

func sortTypes(types []core.ProviderType) {
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
}

func joinTypes(types []core.ProviderType) string {
	parts := make([]string, 0, len(types))
	for _, providerType := range types {
		parts = append(parts, string(providerType))
	}
	return strings.Join(parts, ",")
}

var (
	_ core.ModeController     = (*Manager)(nil)
	_ breaker.StateListener   = (*Manager)(nil)
	_ breaker.OutcomeObserver = (*Manager)(nil)
	_ BreakerStates           = (*breaker.Coordinator)(nil)
)
