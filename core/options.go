package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StoreProvider exposes the persistence ports built by a repository factory.
type StoreProvider interface {
	SignatureRequestStore() SignatureRequestStore
	RoutingRuleRepository() RoutingRuleRepository
	ProviderConfigStore() ProviderConfigStore
	IdempotencyStore() IdempotencyStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	requestStore      SignatureRequestStore
	router            Router
	dispatcher        ChallengeDispatcher
	modeController    ModeController
	idempotencyGuard  IdempotencyGuard
	eventSink         EventSink
	resumeEnqueuer    ResumeEnqueuer
	registry          *ProviderRegistry
	clock             Clock
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithSignatureRequestStore(store SignatureRequestStore) Option {
	return func(b *serviceBuilder) {
		b.requestStore = store
	}
}

func WithRouter(router Router) Option {
	return func(b *serviceBuilder) {
		b.router = router
	}
}

func WithDispatcher(dispatcher ChallengeDispatcher) Option {
	return func(b *serviceBuilder) {
		b.dispatcher = dispatcher
	}
}

func WithModeController(controller ModeController) Option {
	return func(b *serviceBuilder) {
		b.modeController = controller
	}
}

func WithIdempotencyGuard(guard IdempotencyGuard) Option {
	return func(b *serviceBuilder) {
		b.idempotencyGuard = guard
	}
}

func WithEventSink(sink EventSink) Option {
	return func(b *serviceBuilder) {
		b.eventSink = sink
	}
}

func WithResumeEnqueuer(enqueuer ResumeEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.resumeEnqueuer = enqueuer
	}
}

func WithRegistry(registry *ProviderRegistry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithClock(clock Clock) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("signatures", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		eventSink:       NopEventSink{},
	}
}

func applyOptions(runtime Config, options []Option) serviceBuilder {
	builder := defaultServiceBuilder(runtime)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.eventSink == nil {
		builder.eventSink = NopEventSink{}
	}
	return builder
}

// ResolveConfig layers defaults, loaded configuration and the runtime config the way NewService does.
func ResolveConfig(ctx context.Context, runtime Config, options ...Option) (Config, error) {
	builder := applyOptions(runtime, options)
	return builder.resolveConfig(ctx)
}

func (b serviceBuilder) resolveConfig(ctx context.Context) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := b.configProvider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return b.optionsResolver.Resolve(defaults, loaded, b.runtimeConfig)
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return MapError(err)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, defaults, true)
	loadedLayer := configToLayerMap(loaded, defaults, false)
	runtimeLayer := configToLayerMap(runtime, defaults, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap keeps zero values out of upper layers so they do not mask lower
// layers. A boolean is kept when it differs from the defaults and its section was
// otherwise populated, so a zero Config never disables fallback.
func configToLayerMap(cfg Config, defaults Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	if includeZero || strings.TrimSpace(cfg.Routing.DefaultChannel) != "" {
		layer["routing"] = map[string]any{"default_channel": cfg.Routing.DefaultChannel}
	}

	fallback := map[string]any{}
	fallbackSet := cfg.Fallback.Enabled || cfg.Fallback.MaxAttempts != 0 || len(cfg.Fallback.Chains) > 0
	if includeZero || (fallbackSet && cfg.Fallback.Enabled != defaults.Fallback.Enabled) {
		fallback["enabled"] = cfg.Fallback.Enabled
	}
	putInt(fallback, "max_attempts", cfg.Fallback.MaxAttempts, includeZero)
	if includeZero || len(cfg.Fallback.Chains) > 0 {
		chains := map[string]any{}
		for from, to := range cfg.Fallback.Chains {
			chains[from] = to
		}
		fallback["chains"] = chains
	}
	putSection(layer, "fallback", fallback)

	breaker := map[string]any{}
	putFloat(breaker, "failure_rate_threshold", cfg.Breaker.FailureRateThreshold, includeZero)
	putInt(breaker, "minimum_calls", cfg.Breaker.MinimumCalls, includeZero)
	putDuration(breaker, "interval", cfg.Breaker.Interval, includeZero)
	putDuration(breaker, "open_duration", cfg.Breaker.OpenDuration, includeZero)
	putInt(breaker, "half_open_max_calls", cfg.Breaker.HalfOpenMaxCalls, includeZero)
	putDuration(breaker, "default_timeout", cfg.Breaker.DefaultTimeout, includeZero)
	if includeZero || len(cfg.Breaker.ChannelTimeouts) > 0 {
		timeouts := map[string]any{}
		for channel, timeout := range cfg.Breaker.ChannelTimeouts {
			timeouts[channel] = timeout
		}
		breaker["channel_timeouts"] = timeouts
	}
	putSection(layer, "breaker", breaker)

	degraded := map[string]any{}
	putFloat(degraded, "error_rate_threshold", cfg.Degraded.ErrorRateThreshold, includeZero)
	putFloat(degraded, "recovery_threshold", cfg.Degraded.RecoveryThreshold, includeZero)
	putDuration(degraded, "sustain_window", cfg.Degraded.SustainWindow, includeZero)
	putDuration(degraded, "recovery_window", cfg.Degraded.RecoveryWindow, includeZero)
	putDuration(degraded, "min_duration", cfg.Degraded.MinDuration, includeZero)
	putInt(degraded, "max_open_breakers", cfg.Degraded.MaxOpenBreakers, includeZero)
	putInt(degraded, "min_samples", cfg.Degraded.MinSamples, includeZero)
	putDuration(degraded, "sample_window", cfg.Degraded.SampleWindow, includeZero)
	putDuration(degraded, "check_interval", cfg.Degraded.CheckInterval, includeZero)
	putSection(layer, "degraded", degraded)

	idempotency := map[string]any{}
	putDuration(idempotency, "ttl", cfg.Idempotency.TTL, includeZero)
	putDuration(idempotency, "pending_lease", cfg.Idempotency.PendingLease, includeZero)
	putDuration(idempotency, "sweep_interval", cfg.Idempotency.SweepInterval, includeZero)
	putSection(layer, "idempotency", idempotency)

	challenge := map[string]any{}
	putDuration(challenge, "ttl", cfg.Challenge.TTL, includeZero)
	putInt(challenge, "code_length", cfg.Challenge.CodeLength, includeZero)
	putSection(layer, "challenge", challenge)

	request := map[string]any{}
	putDuration(request, "ttl", cfg.Request.TTL, includeZero)
	putSection(layer, "request", request)

	return layer
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) == 0 {
		return
	}
	layer[key] = section
}

func putInt(section map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putFloat(section map[string]any, key string, value float64, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putDuration(section map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}
