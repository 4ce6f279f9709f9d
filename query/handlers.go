package query

import (
	"context"

	"github.com/goliatone/go-signatures/core"
)

type SignatureRequestReader interface {
	GetSignatureRequest(ctx context.Context, requestID string) (core.SignatureRequestView, error)
}

type DegradedStatusReader interface {
	DegradedStatus() core.DegradedStatus
}

type RoutingRuleReader interface {
	Get(ctx context.Context, id string) (core.RoutingRule, error)
	List(ctx context.Context) ([]core.RoutingRule, error)
}

type GetSignatureRequestQuery struct {
	reader SignatureRequestReader
}

func NewGetSignatureRequestQuery(reader SignatureRequestReader) *GetSignatureRequestQuery {
	return &GetSignatureRequestQuery{reader: reader}
}

func (q *GetSignatureRequestQuery) Query(ctx context.Context, msg GetSignatureRequestMessage) (core.SignatureRequestView, error) {
	if q == nil || q.reader == nil {
		return core.SignatureRequestView{}, queryDependencyError("query: signature request reader is required")
	}
	return q.reader.GetSignatureRequest(ctx, msg.RequestID)
}

type DegradedStatusQuery struct {
	reader DegradedStatusReader
}

func NewDegradedStatusQuery(reader DegradedStatusReader) *DegradedStatusQuery {
	return &DegradedStatusQuery{reader: reader}
}

func (q *DegradedStatusQuery) Query(_ context.Context, _ DegradedStatusMessage) (core.DegradedStatus, error) {
	if q == nil || q.reader == nil {
		return core.DegradedStatus{}, queryDependencyError("query: degraded status reader is required")
	}
	return q.reader.DegradedStatus(), nil
}

type ListRoutingRulesQuery struct {
	reader RoutingRuleReader
}

func NewListRoutingRulesQuery(reader RoutingRuleReader) *ListRoutingRulesQuery {
	return &ListRoutingRulesQuery{reader: reader}
}

func (q *ListRoutingRulesQuery) Query(ctx context.Context, _ ListRoutingRulesMessage) ([]core.RoutingRule, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: routing rule reader is required")
	}
	return q.reader.List(ctx)
}

type GetRoutingRuleQuery struct {
	reader RoutingRuleReader
}

func NewGetRoutingRuleQuery(reader RoutingRuleReader) *GetRoutingRuleQuery {
	return &GetRoutingRuleQuery{reader: reader}
}

func (q *GetRoutingRuleQuery) Query(ctx context.Context, msg GetRoutingRuleMessage) (core.RoutingRule, error) {
	if q == nil || q.reader == nil {
		return core.RoutingRule{}, queryDependencyError("query: routing rule reader is required")
	}
	return q.reader.Get(ctx, msg.RuleID)
}
