package signatures

import (
	"fmt"

	signaturescommand "github.com/goliatone/go-signatures/command"
	signaturesquery "github.com/goliatone/go-signatures/query"
)

type CommandQueryService interface {
	signaturescommand.MutatingService
	signaturescommand.ModeService
	signaturesquery.SignatureRequestReader
	signaturesquery.DegradedStatusReader
}

// RuleManager is the write and read side of routing rule administration.
type RuleManager interface {
	signaturescommand.RuleWriter
	signaturesquery.RoutingRuleReader
}

type Commands struct {
	CreateSignatureRequest *signaturescommand.CreateSignatureRequestCommand
	CompleteSignature      *signaturescommand.CompleteSignatureCommand
	AbortSignatureRequest  *signaturescommand.AbortSignatureRequestCommand
	ExpireSignatureRequest *signaturescommand.ExpireSignatureRequestCommand
	ResumeDeferred         *signaturescommand.ResumeDeferredCommand
	EnterDegradedMode      *signaturescommand.EnterDegradedModeCommand
	ExitDegradedMode       *signaturescommand.ExitDegradedModeCommand
	EnterMaintenance       *signaturescommand.EnterMaintenanceCommand
	ExitMaintenance        *signaturescommand.ExitMaintenanceCommand
	ReloadProviders        *signaturescommand.ReloadProvidersCommand
	SaveRoutingRule        *signaturescommand.SaveRoutingRuleCommand
	DeleteRoutingRule      *signaturescommand.DeleteRoutingRuleCommand
}

type Queries struct {
	GetSignatureRequest *signaturesquery.GetSignatureRequestQuery
	DegradedStatus      *signaturesquery.DegradedStatusQuery
	ListRoutingRules    *signaturesquery.ListRoutingRulesQuery
	GetRoutingRule      *signaturesquery.GetRoutingRuleQuery
}

type Facade struct {
	service  CommandQueryService
	rules    RuleManager
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	rules RuleManager
}

// WithRuleManager enables the routing rule commands and queries.
func WithRuleManager(rules RuleManager) FacadeOption {
	return func(options *facadeOptions) {
		options.rules = rules
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("signatures: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service, rules: cfg.rules}
	facade.commands = Commands{
		CreateSignatureRequest: signaturescommand.NewCreateSignatureRequestCommand(service),
		CompleteSignature:      signaturescommand.NewCompleteSignatureCommand(service),
		AbortSignatureRequest:  signaturescommand.NewAbortSignatureRequestCommand(service),
		ExpireSignatureRequest: signaturescommand.NewExpireSignatureRequestCommand(service),
		ResumeDeferred:         signaturescommand.NewResumeDeferredCommand(service),
		EnterDegradedMode:      signaturescommand.NewEnterDegradedModeCommand(service),
		ExitDegradedMode:       signaturescommand.NewExitDegradedModeCommand(service),
		EnterMaintenance:       signaturescommand.NewEnterMaintenanceCommand(service),
		ExitMaintenance:        signaturescommand.NewExitMaintenanceCommand(service),
		ReloadProviders:        signaturescommand.NewReloadProvidersCommand(service),
	}
	facade.queries = Queries{
		GetSignatureRequest: signaturesquery.NewGetSignatureRequestQuery(service),
		DegradedStatus:      signaturesquery.NewDegradedStatusQuery(service),
	}
	if cfg.rules != nil {
		facade.commands.SaveRoutingRule = signaturescommand.NewSaveRoutingRuleCommand(cfg.rules)
		facade.commands.DeleteRoutingRule = signaturescommand.NewDeleteRoutingRuleCommand(cfg.rules)
		facade.queries.ListRoutingRules = signaturesquery.NewListRoutingRulesQuery(cfg.rules)
		facade.queries.GetRoutingRule = signaturesquery.NewGetRoutingRuleQuery(cfg.rules)
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func (f *Facade) Rules() RuleManager {
	if f == nil {
		return nil
	}
	return f.rules
}
