package signatures

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-command/runner"
	"github.com/goliatone/go-signatures/adapters/gocommand"
	"github.com/goliatone/go-signatures/adapters/gologger"
	"github.com/goliatone/go-signatures/breaker"
	"github.com/goliatone/go-signatures/core"
	"github.com/goliatone/go-signatures/degraded"
	"github.com/goliatone/go-signatures/dispatch"
	"github.com/goliatone/go-signatures/idempotency"
	"github.com/goliatone/go-signatures/maintenance"
	"github.com/goliatone/go-signatures/routing"
)

// Engine is a fully wired dispatch engine: registry, breakers, degraded-mode
// control loop, routing, idempotency and the orchestrating service.
type Engine struct {
	config    core.Config
	telemetry core.Telemetry

	registry    *core.ProviderRegistry
	breakers    *breaker.Coordinator
	mode        *degraded.Manager
	router      *routing.Engine
	rules       *routing.RuleManager
	dispatcher  *dispatch.Dispatcher
	idempotency *idempotency.Guard
	events      *core.AsyncEventSink
	service     *core.Service
	facade      *Facade
}

type EngineOption func(*engineOptions)

type engineOptions struct {
	logger           core.Logger
	loggerProvider   core.LoggerProvider
	metrics          core.MetricsRecorder
	stores           core.StoreProvider
	requestStore     core.SignatureRequestStore
	ruleRepository   core.RoutingRuleRepository
	providerStore    core.ProviderConfigStore
	idempotencyStore core.IdempotencyStore
	providerFactory  core.ProviderFactory
	providers        []core.RegisteredProvider
	eventSink        core.EventSink
	eventBuffer      int
	resumeEnqueuer   core.ResumeEnqueuer
	clock            core.Clock
	sleep            func(ctx context.Context, delay time.Duration) error
	checkTimeout     time.Duration
	serviceOptions   []core.Option
}

func WithLogger(logger core.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) EngineOption {
	return func(o *engineOptions) {
		o.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) EngineOption {
	return func(o *engineOptions) {
		o.metrics = recorder
	}
}

// WithStores takes every persistence port from one provider, typically the
// sqlstore repository factory. Individual store options still win.
func WithStores(stores core.StoreProvider) EngineOption {
	return func(o *engineOptions) {
		o.stores = stores
	}
}

func WithSignatureRequestStore(store core.SignatureRequestStore) EngineOption {
	return func(o *engineOptions) {
		o.requestStore = store
	}
}

func WithRoutingRuleRepository(repo core.RoutingRuleRepository) EngineOption {
	return func(o *engineOptions) {
		o.ruleRepository = repo
	}
}

func WithProviderConfigStore(store core.ProviderConfigStore) EngineOption {
	return func(o *engineOptions) {
		o.providerStore = store
	}
}

func WithIdempotencyStore(store core.IdempotencyStore) EngineOption {
	return func(o *engineOptions) {
		o.idempotencyStore = store
	}
}

// WithProviderFactory builds ports for persisted provider configs on start and reload.
func WithProviderFactory(factory core.ProviderFactory) EngineOption {
	return func(o *engineOptions) {
		o.providerFactory = factory
	}
}

// WithProvider registers a provider port directly, without a config store.
func WithProvider(cfg core.ProviderConfig, port core.ProviderPort) EngineOption {
	return func(o *engineOptions) {
		o.providers = append(o.providers, core.RegisteredProvider{Config: cfg, Port: port})
	}
}

// WithEventSink publishes engine events through sink behind a bounded async buffer.
func WithEventSink(sink core.EventSink, bufferSize int) EngineOption {
	return func(o *engineOptions) {
		o.eventSink = sink
		o.eventBuffer = bufferSize
	}
}

func WithResumeEnqueuer(enqueuer core.ResumeEnqueuer) EngineOption {
	return func(o *engineOptions) {
		o.resumeEnqueuer = enqueuer
	}
}

func WithClock(clock core.Clock) EngineOption {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// WithRetrySleep replaces the wait between in-provider retries.
func WithRetrySleep(sleep func(ctx context.Context, delay time.Duration) error) EngineOption {
	return func(o *engineOptions) {
		o.sleep = sleep
	}
}

func WithHealthCheckTimeout(timeout time.Duration) EngineOption {
	return func(o *engineOptions) {
		o.checkTimeout = timeout
	}
}

// WithServiceOptions forwards options to core.NewService, e.g. a config provider.
func WithServiceOptions(opts ...core.Option) EngineOption {
	return func(o *engineOptions) {
		o.serviceOptions = append(o.serviceOptions, opts...)
	}
}

func NewEngine(ctx context.Context, cfg core.Config, opts ...EngineOption) (*Engine, error) {
	options := engineOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.fillStores()
	if len(options.providers) > 0 && options.providerStore != nil && options.providerFactory != nil {
		return nil, fmt.Errorf("signatures: static providers and a provider config store are exclusive")
	}

	resolved, err := core.ResolveConfig(ctx, cfg, options.serviceOptions...)
	if err != nil {
		return nil, err
	}

	telemetry := gologger.NewTelemetry(resolved.ServiceName, options.loggerProvider, options.logger, options.metrics)
	engine := &Engine{config: resolved, telemetry: telemetry}

	var events core.EventSink = core.NopEventSink{}
	if options.eventSink != nil {
		engine.events = core.NewAsyncEventSink(options.eventSink, options.eventBuffer, telemetry)
		events = engine.events
	}

	if err := engine.buildRegistry(ctx, options); err != nil {
		engine.Close()
		return nil, err
	}

	breakerOpts := []breaker.Option{
		breaker.WithTelemetry(telemetry),
		breaker.WithEventSink(events),
		breaker.WithClock(options.clock),
	}
	if options.sleep != nil {
		breakerOpts = append(breakerOpts, breaker.WithSleep(options.sleep))
	}
	engine.breakers = breaker.NewCoordinator(resolved, breakerOpts...)

	engine.mode = degraded.NewManager(resolved.Degraded,
		degraded.WithProviders(engine.registry),
		degraded.WithBreakerStates(engine.breakers),
		degraded.WithTelemetry(telemetry),
		degraded.WithEventSink(events),
		degraded.WithClock(options.clock),
		degraded.WithHealthCheckTimeout(options.checkTimeout),
	)
	engine.breakers.AddStateListener(engine.mode)
	engine.breakers.AddOutcomeObserver(engine.mode)

	compiler, err := routing.NewCompiler()
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.router, err = routing.NewEngine(options.ruleRepository,
		routing.WithCompiler(compiler),
		routing.WithDefaultChannel(resolved.Routing.DefaultChannel),
		routing.WithTelemetry(telemetry),
		routing.WithClock(options.clock),
	)
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.rules, err = routing.NewRuleManager(options.ruleRepository, compiler, telemetry)
	if err != nil {
		engine.Close()
		return nil, err
	}

	engine.dispatcher, err = dispatch.NewDispatcher(resolved, engine.registry, engine.breakers,
		dispatch.WithModeGate(engine.mode),
		dispatch.WithCodeGenerator(dispatch.NewNumericCodeGenerator(resolved.Challenge.CodeLength)),
		dispatch.WithEventSink(events),
		dispatch.WithTelemetry(telemetry),
		dispatch.WithClock(options.clock),
	)
	if err != nil {
		engine.Close()
		return nil, err
	}

	engine.idempotency, err = idempotency.NewGuard(options.idempotencyStore,
		idempotency.WithTTL(resolved.Idempotency.TTL),
		idempotency.WithPendingLease(resolved.Idempotency.PendingLease),
		idempotency.WithClock(options.clock),
		idempotency.WithTelemetry(telemetry),
	)
	if err != nil {
		engine.Close()
		return nil, err
	}

	serviceOpts := []core.Option{
		core.WithLogger(options.logger),
		core.WithLoggerProvider(options.loggerProvider),
		core.WithMetricsRecorder(options.metrics),
		core.WithSignatureRequestStore(options.requestStore),
		core.WithRouter(engine.router),
		core.WithDispatcher(engine.dispatcher),
		core.WithModeController(engine.mode),
		core.WithIdempotencyGuard(engine.idempotency),
		core.WithEventSink(events),
		core.WithResumeEnqueuer(options.resumeEnqueuer),
		core.WithRegistry(engine.registry),
		core.WithClock(options.clock),
	}
	engine.service, err = core.NewService(resolved, append(serviceOpts, options.serviceOptions...)...)
	if err != nil {
		engine.Close()
		return nil, err
	}

	engine.facade, err = NewFacade(engine.service, WithRuleManager(engine.rules))
	if err != nil {
		engine.Close()
		return nil, err
	}

	engine.telemetry.Info(ctx, "signature engine ready", map[string]any{
		"providers":       len(engine.registry.List()),
		"default_channel": resolved.Routing.DefaultChannel,
		"fallback":        resolved.Fallback.Enabled,
	})
	return engine, nil
}

func (o *engineOptions) fillStores() {
	if o.stores != nil {
		if o.requestStore == nil {
			o.requestStore = o.stores.SignatureRequestStore()
		}
		if o.ruleRepository == nil {
			o.ruleRepository = o.stores.RoutingRuleRepository()
		}
		if o.providerStore == nil {
			o.providerStore = o.stores.ProviderConfigStore()
		}
		if o.idempotencyStore == nil {
			o.idempotencyStore = o.stores.IdempotencyStore()
		}
	}
	if o.requestStore == nil {
		o.requestStore = core.NewMemorySignatureRequestStore()
	}
	if o.ruleRepository == nil {
		o.ruleRepository = core.NewMemoryRoutingRuleStore()
	}
	if o.idempotencyStore == nil {
		o.idempotencyStore = idempotency.NewMemoryStore().WithClock(o.clock)
	}
}

func (e *Engine) buildRegistry(ctx context.Context, options engineOptions) error {
	var registryOpts []core.RegistryOption
	if options.providerStore != nil {
		registryOpts = append(registryOpts, core.WithProviderConfigStore(options.providerStore))
	}
	if options.providerFactory != nil {
		registryOpts = append(registryOpts, core.WithProviderFactory(options.providerFactory))
	}
	e.registry = core.NewProviderRegistry(registryOpts...)

	for _, provider := range options.providers {
		if err := e.registry.Register(provider.Config, provider.Port); err != nil {
			return err
		}
	}
	if options.providerStore == nil || options.providerFactory == nil {
		return nil
	}
	loaded, err := e.registry.Reload(ctx)
	if err != nil {
		return fmt.Errorf("signatures: load providers: %w", err)
	}
	e.telemetry.Debug(ctx, "providers loaded", map[string]any{"count": loaded})
	return nil
}

// Scheduler returns the cron housekeeping loop bound to this engine. It is not
// started.
func (e *Engine) Scheduler(cfg maintenance.Config) (*maintenance.Scheduler, error) {
	return maintenance.NewScheduler(cfg, maintenance.Dependencies{
		Mode:      e.mode,
		Sweeper:   e.idempotency,
		Requests:  e.service,
		Telemetry: e.telemetry,
	})
}

// RegisterHandlers subscribes every command and query of the engine on r.
func (e *Engine) RegisterHandlers(r *gocommand.Registry, runnerOpts ...runner.Option) error {
	return gocommand.RegisterEngineHandlers(r, gocommand.EngineHandlers{
		Service:       e.service,
		Rules:         e.rules,
		RunnerOptions: runnerOpts,
	})
}

// Close drains pending events. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil || e.events == nil {
		return
	}
	e.events.Close()
}

func (e *Engine) Config() core.Config              { return e.config }
func (e *Engine) Service() *core.Service           { return e.service }
func (e *Engine) Facade() *Facade                  { return e.facade }
func (e *Engine) Registry() *core.ProviderRegistry { return e.registry }
func (e *Engine) Breakers() *breaker.Coordinator   { return e.breakers }
func (e *Engine) Mode() *degraded.Manager          { return e.mode }
func (e *Engine) Router() *routing.Engine          { return e.router }
func (e *Engine) Rules() *routing.RuleManager      { return e.rules }
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }
func (e *Engine) Idempotency() *idempotency.Guard  { return e.idempotency }
func (e *Engine) Telemetry() core.Telemetry        { return e.telemetry }
