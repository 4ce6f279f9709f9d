package core

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.values, nil
}

func minimalOptions() []Option {
	mode := newStubModeController()
	return []Option{
		WithSignatureRequestStore(NewMemorySignatureRequestStore()),
		WithRouter(&stubRouter{decision: RoutingDecision{Channel: ChannelSMS}}),
		WithDispatcher(&stubDispatcher{mode: mode}),
		WithModeController(mode),
	}
}

func TestNewService_DefaultDependencies(t *testing.T) {
	svc, err := NewService(Config{}, minimalOptions()...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if deps.LoggerProvider == nil {
		t.Fatalf("expected default logger provider")
	}
	if deps.ErrorMapper == nil {
		t.Fatalf("expected default error mapper")
	}
	if deps.ConfigProvider == nil {
		t.Fatalf("expected default config provider")
	}
	if deps.OptionsResolver == nil {
		t.Fatalf("expected default options resolver")
	}
	if deps.EventSink == nil {
		t.Fatalf("expected default event sink")
	}
	cfg := svc.Config()
	if cfg.ServiceName != "signatures" {
		t.Fatalf("expected default service_name=signatures, got %q", cfg.ServiceName)
	}
	if !cfg.Fallback.Enabled || cfg.Fallback.MaxAttempts != 3 {
		t.Fatalf("expected default fallback settings, got %#v", cfg.Fallback)
	}
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(Config{})
	if err == nil {
		t.Fatalf("expected missing collaborator error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if rich.TextCode != SignatureErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", rich.TextCode)
	}
}

func TestNewService_WithXOverrides(t *testing.T) {
	customLogger := stubLogger{}
	customProvider := stubLoggerProvider{logger: customLogger}
	sentinel := errors.New("sentinel")
	customMapper := func(error) *goerrors.Error {
		return goerrors.Wrap(sentinel, goerrors.CategoryOperation, "mapped")
	}
	persistenceClient := &struct{ Name string }{Name: "persistence"}
	repositoryFactory := &struct{ Name string }{Name: "repo"}
	configProvider := &fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}
	resolved := DefaultConfig()
	resolved.ServiceName = "resolved"
	optionsResolver := &fixedOptionsResolver{cfg: resolved}

	opts := append(minimalOptions(),
		WithLogger(customLogger),
		WithLoggerProvider(customProvider),
		WithErrorMapper(customMapper),
		WithPersistenceClient(persistenceClient),
		WithRepositoryFactory(repositoryFactory),
		WithConfigProvider(configProvider),
		WithOptionsResolver(optionsResolver),
	)
	svc, err := NewService(Config{ServiceName: "runtime"}, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	deps := svc.Dependencies()
	if deps.Logger != customLogger {
		t.Fatalf("expected custom logger override")
	}
	if resolved := deps.LoggerProvider.GetLogger("signatures.override"); resolved != customLogger {
		t.Fatalf("expected logger provider to resolve custom logger")
	}
	if deps.PersistenceClient != persistenceClient {
		t.Fatalf("expected custom persistence client override")
	}
	if deps.RepositoryFactory != repositoryFactory {
		t.Fatalf("expected custom repository factory override")
	}
	if deps.ConfigProvider != configProvider {
		t.Fatalf("expected custom config provider override")
	}
	if deps.OptionsResolver != optionsResolver {
		t.Fatalf("expected custom options resolver override")
	}
	if got := svc.Config().ServiceName; got != "resolved" {
		t.Fatalf("expected options resolver output config, got %q", got)
	}

	_, err = svc.GetSignatureRequest(context.Background(), "missing")
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected custom error mapper to be applied, got %v", err)
	}
}

func TestNewService_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name": "from-config",
		"routing": map[string]any{
			"default_channel": "PUSH",
		},
		"fallback": map[string]any{
			"enabled":      false,
			"max_attempts": 2,
		},
		"degraded": map[string]any{
			"min_duration": 5 * time.Minute,
		},
	}})

	runtime := Config{ServiceName: "from-runtime"}
	runtime.Challenge.CodeLength = 8
	svc, err := NewService(runtime, append(minimalOptions(), WithConfigProvider(provider))...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cfg := svc.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime service_name to win, got %q", cfg.ServiceName)
	}
	if cfg.Routing.DefaultChannel != "PUSH" {
		t.Fatalf("expected loaded default channel PUSH, got %q", cfg.Routing.DefaultChannel)
	}
	if cfg.Fallback.Enabled {
		t.Fatalf("expected loaded fallback.enabled=false to survive layering")
	}
	if cfg.Fallback.MaxAttempts != 2 {
		t.Fatalf("expected max attempts 2, got %d", cfg.Fallback.MaxAttempts)
	}
	if cfg.Degraded.MinDuration != 5*time.Minute {
		t.Fatalf("expected min duration 5m, got %s", cfg.Degraded.MinDuration)
	}
	if cfg.Challenge.CodeLength != 8 {
		t.Fatalf("expected runtime code length 8, got %d", cfg.Challenge.CodeLength)
	}
	if cfg.Challenge.TTL != 5*time.Minute {
		t.Fatalf("expected default challenge ttl, got %s", cfg.Challenge.TTL)
	}
}

func TestResolveConfig_RejectsInvalidThresholds(t *testing.T) {
	runtime := Config{}
	runtime.Degraded.RecoveryThreshold = 0.9
	if _, err := ResolveConfig(context.Background(), runtime); err == nil {
		t.Fatalf("expected recovery threshold above error threshold to be rejected")
	}
}

func TestResolveConfig_PendingLeaseBoundedByTTL(t *testing.T) {
	cfg, err := ResolveConfig(context.Background(), Config{})
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.Idempotency.PendingLease != 5*time.Minute {
		t.Fatalf("expected default pending lease, got %s", cfg.Idempotency.PendingLease)
	}

	runtime := Config{}
	runtime.Idempotency.TTL = time.Minute
	runtime.Idempotency.PendingLease = time.Hour
	if _, err := ResolveConfig(context.Background(), runtime); err == nil {
		t.Fatalf("expected pending lease above ttl to be rejected")
	}
}

func TestResolveConfig_KeepsInvalidDefaultChannel(t *testing.T) {
	runtime := Config{Routing: RoutingConfig{DefaultChannel: "PIGEON"}}
	cfg, err := ResolveConfig(context.Background(), runtime)
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if channel, ok := cfg.DefaultChannel(); ok || channel != ChannelSMS {
		t.Fatalf("expected invalid default channel to resolve to SMS, got %s", channel)
	}
}
