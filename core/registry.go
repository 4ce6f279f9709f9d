package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type registrySnapshot struct {
	version   uint64
	byType    map[ProviderType]RegisteredProvider
	byChannel map[Channel][]RegisteredProvider
}

// ProviderRegistry indexes configured providers by channel. Readers load an immutable
// snapshot; Register and Reload build a new snapshot and swap it under a writer lock.
type ProviderRegistry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[registrySnapshot]
	store    ProviderConfigStore
	factory  ProviderFactory
}

type RegistryOption func(*ProviderRegistry)

func WithProviderConfigStore(store ProviderConfigStore) RegistryOption {
	return func(r *ProviderRegistry) {
		r.store = store
	}
}

func WithProviderFactory(factory ProviderFactory) RegistryOption {
	return func(r *ProviderRegistry) {
		r.factory = factory
	}
}

func NewProviderRegistry(options ...RegistryOption) *ProviderRegistry {
	registry := &ProviderRegistry{}
	for _, opt := range options {
		if opt != nil {
			opt(registry)
		}
	}
	registry.snapshot.Store(buildSnapshot(0, nil))
	return registry
}

func (r *ProviderRegistry) Register(cfg ProviderConfig, port ProviderPort) error {
	if r == nil {
		return fmt.Errorf("core: provider registry is nil")
	}
	if port == nil {
		return fmt.Errorf("core: provider port is nil")
	}
	cfg.Type = ProviderType(strings.TrimSpace(string(cfg.Type)))
	if strings.TrimSpace(cfg.Code) == "" {
		cfg.Code = string(cfg.Type)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.snapshot.Load()
	if _, exists := current.byType[cfg.Type]; exists {
		return fmt.Errorf("core: provider already registered: %s", cfg.Type)
	}
	providers := make([]RegisteredProvider, 0, len(current.byType)+1)
	for _, provider := range current.byType {
		providers = append(providers, provider)
	}
	providers = append(providers, RegisteredProvider{Config: cfg, Port: port})
	r.snapshot.Store(buildSnapshot(current.version+1, providers))
	return nil
}

// Reload rebuilds the registry from persisted provider configuration. The previous
// snapshot stays in place when any provider fails to build.
func (r *ProviderRegistry) Reload(ctx context.Context) (int, error) {
	if r == nil {
		return 0, fmt.Errorf("core: provider registry is nil")
	}
	if r.store == nil {
		return 0, fmt.Errorf("core: provider config store is required for reload")
	}
	if r.factory == nil {
		return 0, fmt.Errorf("core: provider factory is required for reload")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	configs, err := r.store.ListProviderConfigs(ctx)
	if err != nil {
		return 0, fmt.Errorf("core: load provider configs: %w", err)
	}
	providers := make([]RegisteredProvider, 0, len(configs))
	seen := make(map[ProviderType]struct{}, len(configs))
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return 0, err
		}
		if _, exists := seen[cfg.Type]; exists {
			return 0, fmt.Errorf("core: duplicate provider type in configuration: %s", cfg.Type)
		}
		seen[cfg.Type] = struct{}{}
		port, buildErr := r.factory.Build(ctx, cfg)
		if buildErr != nil {
			return 0, fmt.Errorf("core: build provider %s: %w", cfg.Type, buildErr)
		}
		if port == nil {
			return 0, fmt.Errorf("core: provider factory returned nil port for %s", cfg.Type)
		}
		providers = append(providers, RegisteredProvider{Config: cfg, Port: port})
	}

	current := r.snapshot.Load()
	r.snapshot.Store(buildSnapshot(current.version+1, providers))
	return len(providers), nil
}

// Resolve returns the provider bound to channel. A registered, enabled override
// serving the same channel wins over priority order.
func (r *ProviderRegistry) Resolve(channel Channel, override ProviderType) (RegisteredProvider, error) {
	snapshot := r.load()
	if override = ProviderType(strings.TrimSpace(string(override))); override != "" {
		if provider, ok := snapshot.byType[override]; ok && provider.Config.Enabled && provider.Config.Channel == channel {
			return provider, nil
		}
	}
	for _, provider := range snapshot.byChannel[channel] {
		if provider.Config.Enabled {
			return provider, nil
		}
	}
	return RegisteredProvider{}, fmt.Errorf("%w: %s", ErrProviderNotFound, channel)
}

func (r *ProviderRegistry) ForChannel(channel Channel) []RegisteredProvider {
	return append([]RegisteredProvider(nil), r.load().byChannel[channel]...)
}

func (r *ProviderRegistry) Lookup(providerType ProviderType) (RegisteredProvider, bool) {
	provider, ok := r.load().byType[providerType]
	return provider, ok
}

func (r *ProviderRegistry) List() []RegisteredProvider {
	snapshot := r.load()
	out := make([]RegisteredProvider, 0, len(snapshot.byType))
	for _, channel := range Channels() {
		out = append(out, snapshot.byChannel[channel]...)
	}
	return out
}

func (r *ProviderRegistry) Version() uint64 {
	return r.load().version
}

func (r *ProviderRegistry) load() *registrySnapshot {
	if r == nil {
		return buildSnapshot(0, nil)
	}
	if snapshot := r.snapshot.Load(); snapshot != nil {
		return snapshot
	}
	return buildSnapshot(0, nil)
}

func buildSnapshot(version uint64, providers []RegisteredProvider) *registrySnapshot {
	snapshot := &registrySnapshot{
		version:   version,
		byType:    make(map[ProviderType]RegisteredProvider, len(providers)),
		byChannel: make(map[Channel][]RegisteredProvider),
	}
	for _, provider := range providers {
		snapshot.byType[provider.Config.Type] = provider
		snapshot.byChannel[provider.Config.Channel] = append(snapshot.byChannel[provider.Config.Channel], provider)
	}
	for channel := range snapshot.byChannel {
		list := snapshot.byChannel[channel]
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Config.Priority != list[j].Config.Priority {
				return list[i].Config.Priority < list[j].Config.Priority
			}
			return list[i].Config.Type < list[j].Config.Type
		})
	}
	return snapshot
}

var _ ProviderResolver = (*ProviderRegistry)(nil)
