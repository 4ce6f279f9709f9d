package command

import (
	"strings"

	"github.com/goliatone/go-signatures/core"
)

const (
	TypeCreateSignatureRequest = "signatures.command.request.create"
	TypeCompleteSignature      = "signatures.command.request.complete"
	TypeAbortSignatureRequest  = "signatures.command.request.abort"
	TypeExpireSignatureRequest = "signatures.command.request.expire"
	TypeResumeDeferred         = "signatures.command.request.resume"
	TypeEnterDegradedMode      = "signatures.command.degraded.enter"
	TypeExitDegradedMode       = "signatures.command.degraded.exit"
	TypeEnterMaintenance       = "signatures.command.maintenance.enter"
	TypeExitMaintenance        = "signatures.command.maintenance.exit"
	TypeReloadProviders        = "signatures.command.providers.reload"
	TypeSaveRoutingRule        = "signatures.command.routing_rule.save"
	TypeDeleteRoutingRule      = "signatures.command.routing_rule.delete"
)

type CreateSignatureRequestMessage struct {
	Input core.CreateSignatureRequestInput
}

func (CreateSignatureRequestMessage) Type() string { return TypeCreateSignatureRequest }

func (m CreateSignatureRequestMessage) Validate() error {
	if strings.TrimSpace(m.Input.CustomerID) == "" {
		return commandValidationError("customer_id", "customer id is required")
	}
	if err := m.Input.Transaction.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid transaction context")
	}
	return nil
}

type CompleteSignatureMessage struct {
	Input core.CompleteSignatureInput
}

func (CompleteSignatureMessage) Type() string { return TypeCompleteSignature }

func (m CompleteSignatureMessage) Validate() error {
	if strings.TrimSpace(m.Input.RequestID) == "" {
		return commandValidationError("request_id", "request id is required")
	}
	if strings.TrimSpace(m.Input.ChallengeID) == "" {
		return commandValidationError("challenge_id", "challenge id is required")
	}
	if strings.TrimSpace(m.Input.Code) == "" {
		return commandValidationError("code", "code is required")
	}
	return nil
}

type AbortSignatureRequestMessage struct {
	Input core.AbortSignatureRequestInput
}

func (AbortSignatureRequestMessage) Type() string { return TypeAbortSignatureRequest }

func (m AbortSignatureRequestMessage) Validate() error {
	if strings.TrimSpace(m.Input.RequestID) == "" {
		return commandValidationError("request_id", "request id is required")
	}
	return nil
}

type ExpireSignatureRequestMessage struct {
	RequestID string
}

func (ExpireSignatureRequestMessage) Type() string { return TypeExpireSignatureRequest }

func (m ExpireSignatureRequestMessage) Validate() error {
	if strings.TrimSpace(m.RequestID) == "" {
		return commandValidationError("request_id", "request id is required")
	}
	return nil
}

type ResumeDeferredMessage struct {
	RequestID string
}

func (ResumeDeferredMessage) Type() string { return TypeResumeDeferred }

func (m ResumeDeferredMessage) Validate() error {
	if strings.TrimSpace(m.RequestID) == "" {
		return commandValidationError("request_id", "request id is required")
	}
	return nil
}

type EnterDegradedModeMessage struct {
	Reason string
}

func (EnterDegradedModeMessage) Type() string { return TypeEnterDegradedMode }

func (m EnterDegradedModeMessage) Validate() error {
	if strings.TrimSpace(m.Reason) == "" {
		return commandValidationError("reason", "reason is required for a manual transition")
	}
	return nil
}

type ExitDegradedModeMessage struct{}

func (ExitDegradedModeMessage) Type() string { return TypeExitDegradedMode }

func (ExitDegradedModeMessage) Validate() error { return nil }

type EnterMaintenanceMessage struct {
	Reason string
}

func (EnterMaintenanceMessage) Type() string { return TypeEnterMaintenance }

func (m EnterMaintenanceMessage) Validate() error {
	if strings.TrimSpace(m.Reason) == "" {
		return commandValidationError("reason", "reason is required for a manual transition")
	}
	return nil
}

type ExitMaintenanceMessage struct{}

func (ExitMaintenanceMessage) Type() string { return TypeExitMaintenance }

func (ExitMaintenanceMessage) Validate() error { return nil }

type ReloadProvidersMessage struct{}

func (ReloadProvidersMessage) Type() string { return TypeReloadProviders }

func (ReloadProvidersMessage) Validate() error { return nil }

type SaveRoutingRuleMessage struct {
	Rule  core.RoutingRule
	Actor string
}

func (SaveRoutingRuleMessage) Type() string { return TypeSaveRoutingRule }

func (m SaveRoutingRuleMessage) Validate() error {
	if strings.TrimSpace(m.Actor) == "" {
		return commandValidationError("actor", "actor is required")
	}
	if strings.TrimSpace(m.Rule.Name) == "" {
		return commandValidationError("name", "rule name is required")
	}
	if strings.TrimSpace(m.Rule.Condition) == "" {
		return commandValidationError("condition", "rule condition is required")
	}
	// Channel parsing is left to the rule manager, which accepts lower case names.
	return nil
}

type DeleteRoutingRuleMessage struct {
	RuleID string
	Actor  string
}

func (DeleteRoutingRuleMessage) Type() string { return TypeDeleteRoutingRule }

func (m DeleteRoutingRuleMessage) Validate() error {
	if strings.TrimSpace(m.RuleID) == "" {
		return commandValidationError("rule_id", "rule id is required")
	}
	if strings.TrimSpace(m.Actor) == "" {
		return commandValidationError("actor", "actor is required")
	}
	return nil
}
