package sqlstore

import (
	"context"
	"fmt"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-signatures/core"
)

const (
	activeRulesCacheKey     = "go-signatures::routing_rules::v1::active"
	providerConfigsCacheKey = "go-signatures::provider_configs::v1::all"
)

// CachedRoutingRuleStore serves the active rule list from cache. Writes go to the
// base repository first and then drop the cached list.
type CachedRoutingRuleStore struct {
	base  core.RoutingRuleRepository
	cache repositorycache.CacheService
}

func NewCachedRoutingRuleStore(
	base core.RoutingRuleRepository,
	cacheService repositorycache.CacheService,
) (*CachedRoutingRuleStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base routing rule repository is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: routing rule cache service is required")
	}
	return &CachedRoutingRuleStore{base: base, cache: cacheService}, nil
}

func (s *CachedRoutingRuleStore) ListActiveRules(ctx context.Context) ([]core.RoutingRule, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached routing rule store is not configured")
	}
	rules, err := repositorycache.GetOrFetch(ctx, s.cache, activeRulesCacheKey, func(ctx context.Context) ([]core.RoutingRule, error) {
		return s.base.ListActiveRules(ctx)
	})
	if err != nil {
		return nil, err
	}
	return append([]core.RoutingRule(nil), rules...), nil
}

func (s *CachedRoutingRuleStore) GetRule(ctx context.Context, id string) (core.RoutingRule, error) {
	if s == nil || s.base == nil {
		return core.RoutingRule{}, fmt.Errorf("sqlstore: cached routing rule store is not configured")
	}
	return s.base.GetRule(ctx, id)
}

func (s *CachedRoutingRuleStore) SaveRule(ctx context.Context, rule core.RoutingRule) (core.RoutingRule, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.RoutingRule{}, fmt.Errorf("sqlstore: cached routing rule store is not configured")
	}
	saved, err := s.base.SaveRule(ctx, rule)
	if err != nil {
		return core.RoutingRule{}, err
	}
	if err := s.cache.Delete(ctx, activeRulesCacheKey); err != nil {
		return core.RoutingRule{}, err
	}
	return saved, nil
}

func (s *CachedRoutingRuleStore) DeleteRule(ctx context.Context, id string, actor string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached routing rule store is not configured")
	}
	if err := s.base.DeleteRule(ctx, id, actor); err != nil {
		return err
	}
	return s.cache.Delete(ctx, activeRulesCacheKey)
}

type CachedProviderConfigStore struct {
	base  core.ProviderConfigStore
	cache repositorycache.CacheService
}

func NewCachedProviderConfigStore(
	base core.ProviderConfigStore,
	cacheService repositorycache.CacheService,
) (*CachedProviderConfigStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base provider config store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: provider config cache service is required")
	}
	return &CachedProviderConfigStore{base: base, cache: cacheService}, nil
}

func (s *CachedProviderConfigStore) ListProviderConfigs(ctx context.Context) ([]core.ProviderConfig, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached provider config store is not configured")
	}
	configs, err := repositorycache.GetOrFetch(ctx, s.cache, providerConfigsCacheKey, func(ctx context.Context) ([]core.ProviderConfig, error) {
		return s.base.ListProviderConfigs(ctx)
	})
	if err != nil {
		return nil, err
	}
	return append([]core.ProviderConfig(nil), configs...), nil
}

func (s *CachedProviderConfigStore) SaveProviderConfig(ctx context.Context, cfg core.ProviderConfig) (core.ProviderConfig, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.ProviderConfig{}, fmt.Errorf("sqlstore: cached provider config store is not configured")
	}
	saved, err := s.base.SaveProviderConfig(ctx, cfg)
	if err != nil {
		return core.ProviderConfig{}, err
	}
	if err := s.cache.Delete(ctx, providerConfigsCacheKey); err != nil {
		return core.ProviderConfig{}, err
	}
	return saved, nil
}
