package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-signatures/core"
)

type MutatingService interface {
	CreateSignatureRequest(ctx context.Context, in core.CreateSignatureRequestInput) (core.CreateSignatureRequestResult, error)
	CompleteSignature(ctx context.Context, in core.CompleteSignatureInput) (core.SignatureRequestView, error)
	AbortSignatureRequest(ctx context.Context, in core.AbortSignatureRequestInput) (core.SignatureRequestView, error)
	ExpireSignatureRequest(ctx context.Context, requestID string) (core.SignatureRequestView, error)
	ResumeDeferred(ctx context.Context, requestID string) (core.SignatureRequestView, error)
}

type ModeService interface {
	EnterDegradedMode(ctx context.Context, reason string) (core.DegradedStatus, error)
	ExitDegradedMode(ctx context.Context) (core.DegradedStatus, error)
	EnterMaintenance(ctx context.Context, reason string) (core.DegradedStatus, error)
	ExitMaintenance(ctx context.Context) (core.DegradedStatus, error)
	ReloadProviders(ctx context.Context) (int, error)
}

type RuleWriter interface {
	Save(ctx context.Context, rule core.RoutingRule, actor string) (core.RoutingRule, error)
	Delete(ctx context.Context, id string, actor string) error
}

type CreateSignatureRequestCommand struct {
	service MutatingService
}

func NewCreateSignatureRequestCommand(service MutatingService) *CreateSignatureRequestCommand {
	return &CreateSignatureRequestCommand{service: service}
}

func (c *CreateSignatureRequestCommand) Execute(ctx context.Context, msg CreateSignatureRequestMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: signature request service is required")
	}
	out, err := c.service.CreateSignatureRequest(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteSignatureCommand struct {
	service MutatingService
}

func NewCompleteSignatureCommand(service MutatingService) *CompleteSignatureCommand {
	return &CompleteSignatureCommand{service: service}
}

func (c *CompleteSignatureCommand) Execute(ctx context.Context, msg CompleteSignatureMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: complete signature service is required")
	}
	out, err := c.service.CompleteSignature(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type AbortSignatureRequestCommand struct {
	service MutatingService
}

func NewAbortSignatureRequestCommand(service MutatingService) *AbortSignatureRequestCommand {
	return &AbortSignatureRequestCommand{service: service}
}

func (c *AbortSignatureRequestCommand) Execute(ctx context.Context, msg AbortSignatureRequestMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: abort service is required")
	}
	out, err := c.service.AbortSignatureRequest(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExpireSignatureRequestCommand struct {
	service MutatingService
}

func NewExpireSignatureRequestCommand(service MutatingService) *ExpireSignatureRequestCommand {
	return &ExpireSignatureRequestCommand{service: service}
}

func (c *ExpireSignatureRequestCommand) Execute(ctx context.Context, msg ExpireSignatureRequestMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: expire service is required")
	}
	out, err := c.service.ExpireSignatureRequest(ctx, msg.RequestID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResumeDeferredCommand struct {
	service MutatingService
}

func NewResumeDeferredCommand(service MutatingService) *ResumeDeferredCommand {
	return &ResumeDeferredCommand{service: service}
}

func (c *ResumeDeferredCommand) Execute(ctx context.Context, msg ResumeDeferredMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: resume service is required")
	}
	out, err := c.service.ResumeDeferred(ctx, msg.RequestID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type EnterDegradedModeCommand struct {
	service ModeService
}

func NewEnterDegradedModeCommand(service ModeService) *EnterDegradedModeCommand {
	return &EnterDegradedModeCommand{service: service}
}

func (c *EnterDegradedModeCommand) Execute(ctx context.Context, msg EnterDegradedModeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: mode service is required")
	}
	out, err := c.service.EnterDegradedMode(ctx, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExitDegradedModeCommand struct {
	service ModeService
}

func NewExitDegradedModeCommand(service ModeService) *ExitDegradedModeCommand {
	return &ExitDegradedModeCommand{service: service}
}

func (c *ExitDegradedModeCommand) Execute(ctx context.Context, _ ExitDegradedModeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: mode service is required")
	}
	out, err := c.service.ExitDegradedMode(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type EnterMaintenanceCommand struct {
	service ModeService
}

func NewEnterMaintenanceCommand(service ModeService) *EnterMaintenanceCommand {
	return &EnterMaintenanceCommand{service: service}
}

func (c *EnterMaintenanceCommand) Execute(ctx context.Context, msg EnterMaintenanceMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: mode service is required")
	}
	out, err := c.service.EnterMaintenance(ctx, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExitMaintenanceCommand struct {
	service ModeService
}

func NewExitMaintenanceCommand(service ModeService) *ExitMaintenanceCommand {
	return &ExitMaintenanceCommand{service: service}
}

func (c *ExitMaintenanceCommand) Execute(ctx context.Context, _ ExitMaintenanceMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: mode service is required")
	}
	out, err := c.service.ExitMaintenance(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReloadProvidersCommand struct {
	service ModeService
}

func NewReloadProvidersCommand(service ModeService) *ReloadProvidersCommand {
	return &ReloadProvidersCommand{service: service}
}

func (c *ReloadProvidersCommand) Execute(ctx context.Context, _ ReloadProvidersMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: provider reload service is required")
	}
	count, err := c.service.ReloadProviders(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, count)
	return nil
}

type SaveRoutingRuleCommand struct {
	rules RuleWriter
}

func NewSaveRoutingRuleCommand(rules RuleWriter) *SaveRoutingRuleCommand {
	return &SaveRoutingRuleCommand{rules: rules}
}

func (c *SaveRoutingRuleCommand) Execute(ctx context.Context, msg SaveRoutingRuleMessage) error {
	if c == nil || c.rules == nil {
		return commandDependencyError("command: routing rule manager is required")
	}
	out, err := c.rules.Save(ctx, msg.Rule, msg.Actor)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeleteRoutingRuleCommand struct {
	rules RuleWriter
}

func NewDeleteRoutingRuleCommand(rules RuleWriter) *DeleteRoutingRuleCommand {
	return &DeleteRoutingRuleCommand{rules: rules}
}

func (c *DeleteRoutingRuleCommand) Execute(ctx context.Context, msg DeleteRoutingRuleMessage) error {
	if c == nil || c.rules == nil {
		return commandDependencyError("command: routing rule manager is required")
	}
	return c.rules.Delete(ctx, msg.RuleID, msg.Actor)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
