package signatures

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-signatures/core"
	"github.com/goliatone/go-signatures/providers/devkit"
)

// ProviderBuilder builds the port for one persisted provider config.
type ProviderBuilder func(ctx context.Context, cfg core.ProviderConfig) (core.ProviderPort, error)

// ProviderFactories is a core.ProviderFactory that picks a builder by provider
// type. An exact type match wins; otherwise the vendor prefix before the first
// "-" is tried, so "twilio" serves both "twilio-sms" and "twilio-voice".
type ProviderFactories struct {
	mu       sync.RWMutex
	builders map[string]ProviderBuilder
}

func NewProviderFactories() *ProviderFactories {
	return &ProviderFactories{builders: map[string]ProviderBuilder{}}
}

func (f *ProviderFactories) Register(kind string, builder ProviderBuilder) error {
	kind = normalizeKind(kind)
	if kind == "" {
		return fmt.Errorf("signatures: provider kind is required")
	}
	if builder == nil {
		return fmt.Errorf("signatures: provider builder for %s is nil", kind)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.builders[kind]; exists {
		return fmt.Errorf("signatures: provider kind already registered: %s", kind)
	}
	f.builders[kind] = builder
	return nil
}

func (f *ProviderFactories) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]string, 0, len(f.builders))
	for kind := range f.builders {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func (f *ProviderFactories) Build(ctx context.Context, cfg core.ProviderConfig) (core.ProviderPort, error) {
	builder, ok := f.lookup(string(cfg.Type))
	if !ok {
		return nil, fmt.Errorf("signatures: no provider builder for type %s", cfg.Type)
	}
	return builder(ctx, cfg)
}

func (f *ProviderFactories) lookup(providerType string) (ProviderBuilder, bool) {
	kind := normalizeKind(providerType)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if builder, ok := f.builders[kind]; ok {
		return builder, true
	}
	if vendor, _, found := strings.Cut(kind, "-"); found {
		builder, ok := f.builders[vendor]
		return builder, ok
	}
	return nil, false
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

// SandboxProviderBuilder answers every send with a scripted success. It backs
// the "sandbox" provider kind used for local runs and smoke tests.
func SandboxProviderBuilder(_ context.Context, cfg core.ProviderConfig) (core.ProviderPort, error) {
	return devkit.NewFakeProvider(cfg.Type), nil
}

var _ core.ProviderFactory = (*ProviderFactories)(nil)
