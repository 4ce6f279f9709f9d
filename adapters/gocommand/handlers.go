package gocommand

import (
	"fmt"

	"github.com/goliatone/go-command/runner"
	"github.com/goliatone/go-signatures/command"
	"github.com/goliatone/go-signatures/core"
	"github.com/goliatone/go-signatures/query"
)

// EngineHandlers is everything needed to expose the engine on the command bus.
type EngineHandlers struct {
	Service interface {
		command.MutatingService
		command.ModeService
		query.SignatureRequestReader
		query.DegradedStatusReader
	}
	Rules interface {
		command.RuleWriter
		query.RoutingRuleReader
	}
	RunnerOptions []runner.Option
}

// RegisterEngineHandlers subscribes every signature command and query. Routing rule
// handlers are skipped when no rule manager is given.
func RegisterEngineHandlers(r *Registry, handlers EngineHandlers) error {
	if handlers.Service == nil {
		return fmt.Errorf("gocommand: signature service is required")
	}
	svc := handlers.Service
	opts := handlers.RunnerOptions

	steps := []func() error{
		func() error { return RegisterCommand(r, command.NewCreateSignatureRequestCommand(svc), opts...) },
		func() error { return RegisterCommand(r, command.NewCompleteSignatureCommand(svc), opts...) },
		func() error { return RegisterCommand(r, command.NewAbortSignatureRequestCommand(svc), opts...) },
		func() error { return RegisterCommand(r, command.NewExpireSignatureRequestCommand(svc), opts...) },
		func() error { return RegisterCommand(r, command.NewResumeDeferredCommand(svc), opts...) },
		func() error { return RegisterCommand(r, command.NewEnterDegradedModeCommand(svc), opts...) },
		func() error { return RegisterCommand(r, command.NewExitDegradedModeCommand(svc), opts...) },
		func() error { return RegisterCommand(r, command.NewEnterMaintenanceCommand(svc), opts...) },
		func() error { return RegisterCommand(r, command.NewExitMaintenanceCommand(svc), opts...) },
		func() error { return RegisterCommand(r, command.NewReloadProvidersCommand(svc), opts...) },
		func() error {
			return RegisterQuery[query.GetSignatureRequestMessage, core.SignatureRequestView](r, query.NewGetSignatureRequestQuery(svc), opts...)
		},
		func() error {
			return RegisterQuery[query.DegradedStatusMessage, core.DegradedStatus](r, query.NewDegradedStatusQuery(svc), opts...)
		},
	}
	if rules := handlers.Rules; rules != nil {
		steps = append(steps,
			func() error { return RegisterCommand(r, command.NewSaveRoutingRuleCommand(rules), opts...) },
			func() error { return RegisterCommand(r, command.NewDeleteRoutingRuleCommand(rules), opts...) },
			func() error {
				return RegisterQuery[query.ListRoutingRulesMessage, []core.RoutingRule](r, query.NewListRoutingRulesQuery(rules), opts...)
			},
			func() error {
				return RegisterQuery[query.GetRoutingRuleMessage, core.RoutingRule](r, query.NewGetRoutingRuleQuery(rules), opts...)
			},
		)
	}

	for _, step := range steps {
		if err := step(); err != nil {
			r.Close()
			return err
		}
	}
	return nil
}
