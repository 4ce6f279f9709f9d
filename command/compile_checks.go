package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-signatures/core"
	"github.com/goliatone/go-signatures/routing"
)

var (
	_ gocmd.Commander[CreateSignatureRequestMessage] = (*CreateSignatureRequestCommand)(nil)
	_ gocmd.Commander[CompleteSignatureMessage]      = (*CompleteSignatureCommand)(nil)
	_ gocmd.Commander[AbortSignatureRequestMessage]  = (*AbortSignatureRequestCommand)(nil)
	_ gocmd.Commander[ExpireSignatureRequestMessage] = (*ExpireSignatureRequestCommand)(nil)
	_ gocmd.Commander[ResumeDeferredMessage]         = (*ResumeDeferredCommand)(nil)
	_ gocmd.Commander[EnterDegradedModeMessage]      = (*EnterDegradedModeCommand)(nil)
	_ gocmd.Commander[ExitDegradedModeMessage]       = (*ExitDegradedModeCommand)(nil)
	_ gocmd.Commander[EnterMaintenanceMessage]       = (*EnterMaintenanceCommand)(nil)
	_ gocmd.Commander[ExitMaintenanceMessage]        = (*ExitMaintenanceCommand)(nil)
	_ gocmd.Commander[ReloadProvidersMessage]        = (*ReloadProvidersCommand)(nil)
	_ gocmd.Commander[SaveRoutingRuleMessage]        = (*SaveRoutingRuleCommand)(nil)
	_ gocmd.Commander[DeleteRoutingRuleMessage]      = (*DeleteRoutingRuleCommand)(nil)

	_ MutatingService = (*core.Service)(nil)
	_ ModeService     = (*core.Service)(nil)
	_ RuleWriter      = (*routing.RuleManager)(nil)
)
