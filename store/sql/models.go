package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type signatureRequestRecord struct {
	bun.BaseModel `bun:"table:signature_requests,alias:sr"`

	ID          string                 `bun:"id,pk"`
	CustomerID  string                 `bun:"customer_id,notnull"`
	Status      string                 `bun:"status,notnull"`
	Transaction transactionPayload     `bun:"transaction_context,type:jsonb,notnull"`
	Recipient   recipientPayload       `bun:"recipient,type:jsonb,notnull"`
	Timeline    []timelineEventPayload `bun:"timeline,type:jsonb,notnull"`
	AbortReason string                 `bun:"abort_reason,notnull"`
	CreatedAt   time.Time              `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time              `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt   time.Time              `bun:"expires_at,notnull"`
	SignedAt    *time.Time             `bun:"signed_at,nullzero"`
	AbortedAt   *time.Time             `bun:"aborted_at,nullzero"`

	Challenges []*challengeRecord `bun:"rel:has-many,join:id=request_id"`
}

type challengeRecord struct {
	bun.BaseModel `bun:"table:signature_challenges,alias:sch"`

	ID            string     `bun:"id,pk"`
	RequestID     string     `bun:"request_id,notnull"`
	Seq           int        `bun:"seq,notnull"`
	Channel       string     `bun:"channel,notnull"`
	ProviderType  string     `bun:"provider_type,notnull"`
	Status        string     `bun:"status,notnull"`
	Code          string     `bun:"code,notnull"`
	ProviderProof string     `bun:"provider_proof,notnull"`
	ErrorCode     string     `bun:"error_code,notnull"`
	ErrorMessage  string     `bun:"error_message,notnull"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	SentAt        *time.Time `bun:"sent_at,nullzero"`
	CompletedAt   *time.Time `bun:"completed_at,nullzero"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull"`
}

type transactionPayload struct {
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	MerchantID    string            `json:"merchant_id,omitempty"`
	OrderID       string            `json:"order_id"`
	IntegrityHash string            `json:"integrity_hash,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type recipientPayload struct {
	Address  string            `json:"address"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type timelineEventPayload struct {
	Type       string            `json:"type"`
	At         time.Time         `json:"at"`
	Message    string            `json:"message,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type routingRuleRecord struct {
	bun.BaseModel `bun:"table:routing_rules,alias:rr"`

	ID               string     `bun:"id,pk"`
	Name             string     `bun:"name,notnull"`
	Condition        string     `bun:"condition_expr,notnull"`
	TargetChannel    string     `bun:"target_channel,notnull"`
	ProviderOverride string     `bun:"provider_override,notnull"`
	Priority         int        `bun:"priority,notnull"`
	Enabled          bool       `bun:"enabled,notnull"`
	CreatedBy        string     `bun:"created_by,notnull"`
	UpdatedBy        string     `bun:"updated_by,notnull"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt        *time.Time `bun:"deleted_at,soft_delete,nullzero"`
}

type providerConfigRecord struct {
	bun.BaseModel `bun:"table:provider_configs,alias:pc"`

	ID                    string    `bun:"id,pk"`
	Type                  string    `bun:"provider_type,notnull"`
	Code                  string    `bun:"code,notnull"`
	Channel               string    `bun:"channel,notnull"`
	Enabled               bool      `bun:"enabled,notnull"`
	Priority              int       `bun:"priority,notnull"`
	TimeoutMillis         int64     `bun:"timeout_ms,notnull"`
	RetryMaxAttempts      int       `bun:"retry_max_attempts,notnull"`
	RetryInitialBackoffMs int64     `bun:"retry_initial_backoff_ms,notnull"`
	RetryMaxBackoffMs     int64     `bun:"retry_max_backoff_ms,notnull"`
	CredentialRef         string    `bun:"credential_ref,notnull"`
	CreatedAt             time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type idempotencyRecord struct {
	bun.BaseModel `bun:"table:idempotency_records,alias:ir"`

	Key         string    `bun:"idempotency_key,pk"`
	RequestHash string    `bun:"request_hash,notnull"`
	State       string    `bun:"state,notnull"`
	StatusCode  int       `bun:"status_code,notnull"`
	Body        []byte    `bun:"body"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt   time.Time `bun:"expires_at,notnull"`
}
