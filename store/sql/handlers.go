package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func routingRuleHandlers() repository.ModelHandlers[*routingRuleRecord] {
	return repository.ModelHandlers[*routingRuleRecord]{
		NewRecord: func() *routingRuleRecord {
			return &routingRuleRecord{}
		},
		GetID: func(record *routingRuleRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *routingRuleRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *routingRuleRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func providerConfigHandlers() repository.ModelHandlers[*providerConfigRecord] {
	return repository.ModelHandlers[*providerConfigRecord]{
		NewRecord: func() *providerConfigRecord {
			return &providerConfigRecord{}
		},
		GetID: func(record *providerConfigRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *providerConfigRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *providerConfigRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
