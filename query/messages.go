package query

import "strings"

const (
	TypeGetSignatureRequest = "signatures.query.request.get"
	TypeDegradedStatus      = "signatures.query.degraded.status"
	TypeListRoutingRules    = "signatures.query.routing_rule.list"
	TypeGetRoutingRule      = "signatures.query.routing_rule.get"
)

type GetSignatureRequestMessage struct {
	RequestID string
}

func (GetSignatureRequestMessage) Type() string { return TypeGetSignatureRequest }

func (m GetSignatureRequestMessage) Validate() error {
	if strings.TrimSpace(m.RequestID) == "" {
		return queryValidationError("request_id", "request id is required")
	}
	return nil
}

type DegradedStatusMessage struct{}

func (DegradedStatusMessage) Type() string { return TypeDegradedStatus }

func (DegradedStatusMessage) Validate() error { return nil }

// ListRoutingRulesMessage lists the rules the router evaluates, in evaluation order.
type ListRoutingRulesMessage struct{}

func (ListRoutingRulesMessage) Type() string { return TypeListRoutingRules }

func (ListRoutingRulesMessage) Validate() error { return nil }

type GetRoutingRuleMessage struct {
	RuleID string
}

func (GetRoutingRuleMessage) Type() string { return TypeGetRoutingRule }

func (m GetRoutingRuleMessage) Validate() error {
	if strings.TrimSpace(m.RuleID) == "" {
		return queryValidationError("rule_id", "rule id is required")
	}
	return nil
}
