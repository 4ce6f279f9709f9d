package core

import (
	"context"
	"errors"
	"testing"
)

func TestProviderRegistry_ResolvesByPriorityAndOverride(t *testing.T) {
	registry := NewProviderRegistry()
	mustRegister(t, registry, ProviderConfig{Type: "twilio", Channel: ChannelSMS, Enabled: true, Priority: 2}, stubPort{})
	mustRegister(t, registry, ProviderConfig{Type: "sinch", Channel: ChannelSMS, Enabled: true, Priority: 1}, stubPort{})
	mustRegister(t, registry, ProviderConfig{Type: "fcm", Channel: ChannelPush, Enabled: true}, stubPort{})

	provider, err := registry.Resolve(ChannelSMS, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if provider.Type() != "sinch" {
		t.Fatalf("expected lowest priority provider sinch, got %s", provider.Type())
	}

	provider, err = registry.Resolve(ChannelSMS, "twilio")
	if err != nil || provider.Type() != "twilio" {
		t.Fatalf("expected override twilio, got %s %v", provider.Type(), err)
	}

	provider, err = registry.Resolve(ChannelSMS, "fcm")
	if err != nil || provider.Type() != "sinch" {
		t.Fatalf("override on another channel must be ignored, got %s %v", provider.Type(), err)
	}

	if _, err := registry.Resolve(ChannelVoice, ""); !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}
}

func TestProviderRegistry_SkipsDisabledProviders(t *testing.T) {
	registry := NewProviderRegistry()
	mustRegister(t, registry, ProviderConfig{Type: "sinch", Channel: ChannelSMS, Enabled: false, Priority: 1}, stubPort{})
	mustRegister(t, registry, ProviderConfig{Type: "twilio", Channel: ChannelSMS, Enabled: true, Priority: 5}, stubPort{})

	provider, err := registry.Resolve(ChannelSMS, "sinch")
	if err != nil || provider.Type() != "twilio" {
		t.Fatalf("expected enabled provider twilio, got %s %v", provider.Type(), err)
	}
}

func TestProviderRegistry_RejectsDuplicates(t *testing.T) {
	registry := NewProviderRegistry()
	mustRegister(t, registry, ProviderConfig{Type: "twilio", Channel: ChannelSMS, Enabled: true}, stubPort{})
	if err := registry.Register(ProviderConfig{Type: "twilio", Channel: ChannelSMS}, stubPort{}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if registry.Version() != 1 {
		t.Fatalf("expected version 1, got %d", registry.Version())
	}
}

func TestProviderRegistry_ReloadKeepsSnapshotOnFailure(t *testing.T) {
	store := NewMemoryProviderConfigStore(
		ProviderConfig{Type: "twilio", Code: "twilio", Channel: ChannelSMS, Enabled: true},
		ProviderConfig{Type: "fcm", Code: "fcm", Channel: ChannelPush, Enabled: true},
	)
	fail := false
	factory := ProviderFactoryFunc(func(_ context.Context, cfg ProviderConfig) (ProviderPort, error) {
		if fail && cfg.Type == "fcm" {
			return nil, errors.New("missing credentials")
		}
		return stubPort{}, nil
	})
	registry := NewProviderRegistry(WithProviderConfigStore(store), WithProviderFactory(factory))

	count, err := registry.Reload(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if count != 2 || len(registry.List()) != 2 {
		t.Fatalf("expected 2 providers, got %d", count)
	}
	version := registry.Version()

	fail = true
	if _, err := store.SaveProviderConfig(context.Background(), ProviderConfig{Type: "apns", Code: "apns", Channel: ChannelPush, Enabled: true}); err != nil {
		t.Fatalf("save provider config: %v", err)
	}
	if _, err := registry.Reload(context.Background()); err == nil {
		t.Fatalf("expected reload failure")
	}
	if registry.Version() != version || len(registry.List()) != 2 {
		t.Fatalf("expected previous snapshot to stay in place")
	}
	if _, ok := registry.Lookup("apns"); ok {
		t.Fatalf("apns must not be visible after a failed reload")
	}
}

func mustRegister(t *testing.T, registry *ProviderRegistry, cfg ProviderConfig, port ProviderPort) {
	t.Helper()
	if err := registry.Register(cfg, port); err != nil {
		t.Fatalf("register %s: %v", cfg.Type, err)
	}
}
