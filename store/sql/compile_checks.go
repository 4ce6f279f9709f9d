package sqlstore

import "github.com/goliatone/go-signatures/core"

var (
	_ core.SignatureRequestStore  = (*SignatureRequestStore)(nil)
	_ core.RoutingRuleRepository  = (*RoutingRuleStore)(nil)
	_ core.RoutingRuleRepository  = (*CachedRoutingRuleStore)(nil)
	_ core.ProviderConfigStore    = (*ProviderConfigStore)(nil)
	_ core.ProviderConfigStore    = (*CachedProviderConfigStore)(nil)
	_ core.IdempotencyStore       = (*IdempotencyStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
