package sqlstore

import (
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-signatures/core"
)

func newSignatureRequestRecord(snapshot core.SignatureRequestSnapshot) *signatureRequestRecord {
	record := &signatureRequestRecord{
		ID:         snapshot.ID,
		CustomerID: snapshot.CustomerID,
		Status:     string(snapshot.Status),
		Transaction: transactionPayload{
			Amount:        snapshot.Transaction.Amount,
			Currency:      snapshot.Transaction.Currency,
			MerchantID:    snapshot.Transaction.MerchantID,
			OrderID:       snapshot.Transaction.OrderID,
			IntegrityHash: snapshot.Transaction.IntegrityHash,
			Metadata:      copyStringMap(snapshot.Transaction.Metadata),
		},
		Recipient: recipientPayload{
			Address:  snapshot.Recipient.Address,
			Metadata: copyStringMap(snapshot.Recipient.Metadata),
		},
		Timeline:    make([]timelineEventPayload, 0, len(snapshot.Timeline)),
		AbortReason: snapshot.AbortReason,
		CreatedAt:   snapshot.CreatedAt.UTC(),
		UpdatedAt:   snapshot.UpdatedAt.UTC(),
		ExpiresAt:   snapshot.ExpiresAt.UTC(),
		SignedAt:    copyTimePointer(snapshot.SignedAt),
		AbortedAt:   copyTimePointer(snapshot.AbortedAt),
	}
	for _, event := range snapshot.Timeline {
		record.Timeline = append(record.Timeline, timelineEventPayload{
			Type:       string(event.Type),
			At:         event.At.UTC(),
			Message:    event.Message,
			Attributes: copyStringMap(event.Attributes),
		})
	}
	for index, challenge := range snapshot.Challenges {
		record.Challenges = append(record.Challenges, &challengeRecord{
			ID:            challenge.ID,
			RequestID:     snapshot.ID,
			Seq:           index,
			Channel:       string(challenge.Channel),
			ProviderType:  string(challenge.ProviderType),
			Status:        string(challenge.Status),
			Code:          challenge.Code,
			ProviderProof: challenge.ProviderProof,
			ErrorCode:     challenge.ErrorCode,
			ErrorMessage:  challenge.ErrorMessage,
			CreatedAt:     challenge.CreatedAt.UTC(),
			SentAt:        copyTimePointer(challenge.SentAt),
			CompletedAt:   copyTimePointer(challenge.CompletedAt),
			ExpiresAt:     challenge.ExpiresAt.UTC(),
		})
	}
	return record
}

func (r *signatureRequestRecord) toSnapshot() core.SignatureRequestSnapshot {
	if r == nil {
		return core.SignatureRequestSnapshot{}
	}
	snapshot := core.SignatureRequestSnapshot{
		ID:         r.ID,
		CustomerID: r.CustomerID,
		Status:     core.RequestStatus(r.Status),
		Transaction: core.TransactionContext{
			Amount:        r.Transaction.Amount,
			Currency:      r.Transaction.Currency,
			MerchantID:    r.Transaction.MerchantID,
			OrderID:       r.Transaction.OrderID,
			IntegrityHash: r.Transaction.IntegrityHash,
			Metadata:      copyStringMap(r.Transaction.Metadata),
		},
		Recipient: core.Recipient{
			Address:  r.Recipient.Address,
			Metadata: copyStringMap(r.Recipient.Metadata),
		},
		AbortReason: r.AbortReason,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
		SignedAt:    copyTimePointer(r.SignedAt),
		AbortedAt:   copyTimePointer(r.AbortedAt),
	}
	for _, event := range r.Timeline {
		snapshot.Timeline = append(snapshot.Timeline, core.TimelineEvent{
			Type:       core.TimelineEventType(event.Type),
			At:         event.At.UTC(),
			Message:    event.Message,
			Attributes: copyStringMap(event.Attributes),
		})
	}

	challenges := append([]*challengeRecord(nil), r.Challenges...)
	sort.SliceStable(challenges, func(i, j int) bool {
		return challenges[i].Seq < challenges[j].Seq
	})
	for _, challenge := range challenges {
		if challenge == nil {
			continue
		}
		snapshot.Challenges = append(snapshot.Challenges, core.SignatureChallenge{
			ID:            challenge.ID,
			RequestID:     challenge.RequestID,
			Channel:       core.Channel(challenge.Channel),
			ProviderType:  core.ProviderType(challenge.ProviderType),
			Status:        core.ChallengeStatus(challenge.Status),
			Code:          challenge.Code,
			ProviderProof: challenge.ProviderProof,
			ErrorCode:     challenge.ErrorCode,
			ErrorMessage:  challenge.ErrorMessage,
			CreatedAt:     challenge.CreatedAt.UTC(),
			SentAt:        copyTimePointer(challenge.SentAt),
			CompletedAt:   copyTimePointer(challenge.CompletedAt),
			ExpiresAt:     challenge.ExpiresAt.UTC(),
		})
	}
	return snapshot
}

func newRoutingRuleRecord(rule core.RoutingRule) *routingRuleRecord {
	return &routingRuleRecord{
		ID:               strings.TrimSpace(rule.ID),
		Name:             strings.TrimSpace(rule.Name),
		Condition:        strings.TrimSpace(rule.Condition),
		TargetChannel:    string(rule.TargetChannel),
		ProviderOverride: strings.TrimSpace(string(rule.ProviderOverride)),
		Priority:         rule.Priority,
		Enabled:          rule.Enabled,
		CreatedBy:        rule.CreatedBy,
		UpdatedBy:        rule.UpdatedBy,
		CreatedAt:        rule.CreatedAt.UTC(),
		UpdatedAt:        rule.UpdatedAt.UTC(),
	}
}

func (r *routingRuleRecord) toDomain() core.RoutingRule {
	if r == nil {
		return core.RoutingRule{}
	}
	return core.RoutingRule{
		ID:               r.ID,
		Name:             r.Name,
		Condition:        r.Condition,
		TargetChannel:    core.Channel(r.TargetChannel),
		ProviderOverride: core.ProviderType(r.ProviderOverride),
		Priority:         r.Priority,
		Enabled:          r.Enabled,
		Deleted:          r.DeletedAt != nil,
		CreatedBy:        r.CreatedBy,
		UpdatedBy:        r.UpdatedBy,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

func newProviderConfigRecord(cfg core.ProviderConfig) *providerConfigRecord {
	return &providerConfigRecord{
		ID:                    strings.TrimSpace(cfg.ID),
		Type:                  strings.TrimSpace(string(cfg.Type)),
		Code:                  strings.TrimSpace(cfg.Code),
		Channel:               string(cfg.Channel),
		Enabled:               cfg.Enabled,
		Priority:              cfg.Priority,
		TimeoutMillis:         cfg.Timeout.Milliseconds(),
		RetryMaxAttempts:      cfg.Retry.MaxAttempts,
		RetryInitialBackoffMs: cfg.Retry.InitialBackoff.Milliseconds(),
		RetryMaxBackoffMs:     cfg.Retry.MaxBackoff.Milliseconds(),
		CredentialRef:         strings.TrimSpace(cfg.CredentialRef),
		CreatedAt:             cfg.CreatedAt.UTC(),
		UpdatedAt:             cfg.UpdatedAt.UTC(),
	}
}

func (r *providerConfigRecord) toDomain() core.ProviderConfig {
	if r == nil {
		return core.ProviderConfig{}
	}
	return core.ProviderConfig{
		ID:       r.ID,
		Type:     core.ProviderType(r.Type),
		Code:     r.Code,
		Channel:  core.Channel(r.Channel),
		Enabled:  r.Enabled,
		Priority: r.Priority,
		Timeout:  time.Duration(r.TimeoutMillis) * time.Millisecond,
		Retry: core.RetryPolicy{
			MaxAttempts:    r.RetryMaxAttempts,
			InitialBackoff: time.Duration(r.RetryInitialBackoffMs) * time.Millisecond,
			MaxBackoff:     time.Duration(r.RetryMaxBackoffMs) * time.Millisecond,
		},
		CredentialRef: r.CredentialRef,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func newIdempotencyRecord(record core.IdempotencyRecord) *idempotencyRecord {
	return &idempotencyRecord{
		Key:         record.Key,
		RequestHash: record.RequestHash,
		State:       string(record.State),
		StatusCode:  record.StatusCode,
		Body:        append([]byte(nil), record.Body...),
		CreatedAt:   record.CreatedAt.UTC(),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
}

func (r *idempotencyRecord) toDomain() core.IdempotencyRecord {
	if r == nil {
		return core.IdempotencyRecord{}
	}
	return core.IdempotencyRecord{
		Key:         r.Key,
		RequestHash: r.RequestHash,
		State:       core.IdempotencyState(r.State),
		StatusCode:  r.StatusCode,
		Body:        append([]byte(nil), r.Body...),
		CreatedAt:   r.CreatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
	}
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func copyTimePointer(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := in.UTC()
	return &value
}
