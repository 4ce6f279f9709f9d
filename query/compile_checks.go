package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-signatures/core"
	"github.com/goliatone/go-signatures/routing"
)

var (
	_ gocmd.Querier[GetSignatureRequestMessage, core.SignatureRequestView] = (*GetSignatureRequestQuery)(nil)
	_ gocmd.Querier[DegradedStatusMessage, core.DegradedStatus]            = (*DegradedStatusQuery)(nil)
	_ gocmd.Querier[ListRoutingRulesMessage, []core.RoutingRule]           = (*ListRoutingRulesQuery)(nil)
	_ gocmd.Querier[GetRoutingRuleMessage, core.RoutingRule]               = (*GetRoutingRuleQuery)(nil)

	_ SignatureRequestReader = (*core.Service)(nil)
	_ DegradedStatusReader   = (*core.Service)(nil)
	_ RoutingRuleReader      = (*routing.RuleManager)(nil)
)
