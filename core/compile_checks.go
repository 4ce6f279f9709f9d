package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ ProviderResolver      = (*ProviderRegistry)(nil)
	_ SignatureRequestStore = (*MemorySignatureRequestStore)(nil)
	_ ProviderConfigStore   = (*MemoryProviderConfigStore)(nil)
	_ RoutingRuleRepository = (*MemoryRoutingRuleStore)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
