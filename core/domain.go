package core

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelSMS       Channel = "SMS"
	ChannelPush      Channel = "PUSH"
	ChannelVoice     Channel = "VOICE"
	ChannelBiometric Channel = "BIOMETRIC"
)

// SafeDefaultChannel is used when the configured default channel is not recognized.
const SafeDefaultChannel = ChannelSMS

func Channels() []Channel {
	return []Channel{ChannelSMS, ChannelPush, ChannelVoice, ChannelBiometric}
}

func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelPush, ChannelVoice, ChannelBiometric:
		return true
	default:
		return false
	}
}

func ParseChannel(raw string) (Channel, error) {
	channel := Channel(strings.ToUpper(strings.TrimSpace(raw)))
	if !channel.Valid() {
		return "", fmt.Errorf("core: invalid channel %q", raw)
	}
	return channel, nil
}

type ProviderType string

func (p ProviderType) String() string { return string(p) }

type RequestStatus string

const (
	RequestStatusPending         RequestStatus = "PENDING"
	RequestStatusPendingDegraded RequestStatus = "PENDING_DEGRADED"
	RequestStatusSigned          RequestStatus = "SIGNED"
	RequestStatusAborted         RequestStatus = "ABORTED"
	RequestStatusExpired         RequestStatus = "EXPIRED"
)

func (s RequestStatus) Open() bool {
	return s == RequestStatusPending || s == RequestStatusPendingDegraded
}

type ChallengeStatus string

const (
	ChallengeStatusPending   ChallengeStatus = "PENDING"
	ChallengeStatusSent      ChallengeStatus = "SENT"
	ChallengeStatusCompleted ChallengeStatus = "COMPLETED"
	ChallengeStatusFailed    ChallengeStatus = "FAILED"
	ChallengeStatusExpired   ChallengeStatus = "EXPIRED"
)

// Active reports whether a challenge still occupies the request's single active slot.
func (s ChallengeStatus) Active() bool {
	return s == ChallengeStatusPending || s == ChallengeStatusSent
}

func (s ChallengeStatus) Terminal() bool {
	return s == ChallengeStatusCompleted || s == ChallengeStatusFailed || s == ChallengeStatusExpired
}

type TransactionContext struct {
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	MerchantID    string            `json:"merchant_id"`
	OrderID       string            `json:"order_id"`
	IntegrityHash string            `json:"integrity_hash,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (t TransactionContext) Validate() error {
	if t.Amount < 0 {
		return fmt.Errorf("core: transaction amount must not be negative")
	}
	if strings.TrimSpace(t.Currency) == "" {
		return fmt.Errorf("core: transaction currency is required")
	}
	if strings.TrimSpace(t.OrderID) == "" {
		return fmt.Errorf("core: transaction order id is required")
	}
	return nil
}

func (t TransactionContext) Clone() TransactionContext {
	out := t
	out.Metadata = copyStringMap(t.Metadata)
	return out
}

type Recipient struct {
	Address  string            `json:"address"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (r Recipient) Clone() Recipient {
	return Recipient{Address: r.Address, Metadata: copyStringMap(r.Metadata)}
}

type TimelineEventType string

const (
	TimelineRuleMatched        TimelineEventType = "RULE_MATCHED"
	TimelineRuleError          TimelineEventType = "RULE_ERROR"
	TimelineDefaultChannelUsed TimelineEventType = "DEFAULT_CHANNEL_USED"
	TimelineChallengeSent      TimelineEventType = "CHALLENGE_SENT"
	TimelineChallengeFailed    TimelineEventType = "CHALLENGE_FAILED"
	TimelineFallbackTriggered  TimelineEventType = "FALLBACK_TRIGGERED"
	TimelineLoopPrevented      TimelineEventType = "LOOP_PREVENTED"
	TimelineDispatchDeferred   TimelineEventType = "DISPATCH_DEFERRED"
)

type TimelineEvent struct {
	Type       TimelineEventType `json:"type"`
	At         time.Time         `json:"at"`
	Message    string            `json:"message,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (e TimelineEvent) Clone() TimelineEvent {
	out := e
	out.Attributes = copyStringMap(e.Attributes)
	return out
}

type SignatureChallenge struct {
	ID            string          `json:"id"`
	RequestID     string          `json:"request_id"`
	Channel       Channel         `json:"channel"`
	ProviderType  ProviderType    `json:"provider_type"`
	Status        ChallengeStatus `json:"status"`
	Code          string          `json:"-"`
	ProviderProof string          `json:"provider_proof,omitempty"`
	ErrorCode     string          `json:"error_code,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

func (c SignatureChallenge) Clone() SignatureChallenge {
	out := c
	out.SentAt = cloneTime(c.SentAt)
	out.CompletedAt = cloneTime(c.CompletedAt)
	return out
}

// Matches compares a submitted code in constant time. The comparison is exact and case-sensitive.
func (c SignatureChallenge) Matches(code string) bool {
	if c.Code == "" || code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) == 1
}

func (c *SignatureChallenge) transition(to ChallengeStatus) error {
	allowed := false
	switch c.Status {
	case ChallengeStatusPending:
		allowed = to == ChallengeStatusSent || to == ChallengeStatusFailed || to == ChallengeStatusExpired
	case ChallengeStatusSent:
		allowed = to == ChallengeStatusCompleted || to == ChallengeStatusFailed || to == ChallengeStatusExpired
	}
	if !allowed {
		return &StateTransitionError{Entity: "challenge", ID: c.ID, From: string(c.Status), To: string(to)}
	}
	c.Status = to
	return nil
}

type NewSignatureRequestInput struct {
	ID          string
	CustomerID  string
	Transaction TransactionContext
	Recipient   Recipient
	TTL         time.Duration
}

// SignatureRequest is the aggregate root for one transaction signature. Challenges
// and the routing timeline are owned by the request and only change through its methods.
type SignatureRequest struct {
	id          string
	customerID  string
	transaction TransactionContext
	recipient   Recipient
	status      RequestStatus
	challenges  []SignatureChallenge
	timeline    []TimelineEvent
	createdAt   time.Time
	updatedAt   time.Time
	expiresAt   time.Time
	signedAt    *time.Time
	abortedAt   *time.Time
	abortReason string
}

func NewSignatureRequest(in NewSignatureRequestInput, now time.Time) (*SignatureRequest, error) {
	if strings.TrimSpace(in.CustomerID) == "" {
		return nil, fmt.Errorf("core: customer id is required")
	}
	if err := in.Transaction.Validate(); err != nil {
		return nil, err
	}
	if in.TTL <= 0 {
		return nil, fmt.Errorf("core: signature request ttl must be positive")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now = now.UTC()
	return &SignatureRequest{
		id:          id,
		customerID:  strings.TrimSpace(in.CustomerID),
		transaction: in.Transaction.Clone(),
		recipient:   in.Recipient.Clone(),
		status:      RequestStatusPending,
		createdAt:   now,
		updatedAt:   now,
		expiresAt:   now.Add(in.TTL),
	}, nil
}

func (r *SignatureRequest) ID() string                      { return r.id }
func (r *SignatureRequest) CustomerID() string              { return r.customerID }
func (r *SignatureRequest) Transaction() TransactionContext { return r.transaction.Clone() }
func (r *SignatureRequest) Recipient() Recipient            { return r.recipient.Clone() }
func (r *SignatureRequest) Status() RequestStatus           { return r.status }
func (r *SignatureRequest) CreatedAt() time.Time            { return r.createdAt }
func (r *SignatureRequest) UpdatedAt() time.Time            { return r.updatedAt }
func (r *SignatureRequest) ExpiresAt() time.Time            { return r.expiresAt }
func (r *SignatureRequest) SignedAt() *time.Time            { return cloneTime(r.signedAt) }
func (r *SignatureRequest) AbortedAt() *time.Time           { return cloneTime(r.abortedAt) }

func (r *SignatureRequest) Challenges() []SignatureChallenge {
	out := make([]SignatureChallenge, 0, len(r.challenges))
	for _, challenge := range r.challenges {
		out = append(out, challenge.Clone())
	}
	return out
}

func (r *SignatureRequest) Timeline() []TimelineEvent {
	out := make([]TimelineEvent, 0, len(r.timeline))
	for _, event := range r.timeline {
		out = append(out, event.Clone())
	}
	return out
}

func (r *SignatureRequest) Challenge(id string) (SignatureChallenge, bool) {
	if idx := r.challengeIndex(id); idx >= 0 {
		return r.challenges[idx].Clone(), true
	}
	return SignatureChallenge{}, false
}

func (r *SignatureRequest) ActiveChallenge() (SignatureChallenge, bool) {
	for _, challenge := range r.challenges {
		if challenge.Status.Active() {
			return challenge.Clone(), true
		}
	}
	return SignatureChallenge{}, false
}

func (r *SignatureRequest) AppendTimeline(events ...TimelineEvent) {
	for _, event := range events {
		if event.At.IsZero() {
			event.At = time.Now().UTC()
		}
		r.timeline = append(r.timeline, event.Clone())
	}
}

type NewChallengeInput struct {
	Channel      Channel
	ProviderType ProviderType
	Code         string
	TTL          time.Duration
}

// CreateChallenge opens a new challenge. At most one challenge may be PENDING or SENT.
func (r *SignatureRequest) CreateChallenge(in NewChallengeInput, now time.Time) (SignatureChallenge, error) {
	if !r.status.Open() {
		return SignatureChallenge{}, &StateTransitionError{
			Entity: "signature_request",
			ID:     r.id,
			From:   string(r.status),
			To:     "challenge_created",
		}
	}
	if active, ok := r.ActiveChallenge(); ok {
		return SignatureChallenge{}, fmt.Errorf("%w: challenge %s is %s", ErrChallengeAlreadyActive, active.ID, active.Status)
	}
	if !in.Channel.Valid() {
		return SignatureChallenge{}, fmt.Errorf("core: invalid channel %q", in.Channel)
	}
	if strings.TrimSpace(in.Code) == "" {
		return SignatureChallenge{}, fmt.Errorf("core: challenge code is required")
	}
	if in.TTL <= 0 {
		return SignatureChallenge{}, fmt.Errorf("core: challenge ttl must be positive")
	}
	now = now.UTC()
	challenge := SignatureChallenge{
		ID:           uuid.NewString(),
		RequestID:    r.id,
		Channel:      in.Channel,
		ProviderType: in.ProviderType,
		Status:       ChallengeStatusPending,
		Code:         in.Code,
		CreatedAt:    now,
		ExpiresAt:    now.Add(in.TTL),
	}
	r.challenges = append(r.challenges, challenge)
	r.updatedAt = now
	return challenge.Clone(), nil
}

func (r *SignatureRequest) MarkChallengeSent(challengeID string, proof string, now time.Time) error {
	idx, err := r.ownedChallenge(challengeID)
	if err != nil {
		return err
	}
	challenge := &r.challenges[idx]
	if err := challenge.transition(ChallengeStatusSent); err != nil {
		return err
	}
	sentAt := now.UTC()
	challenge.SentAt = &sentAt
	challenge.ProviderProof = proof
	r.updatedAt = sentAt
	return nil
}

func (r *SignatureRequest) MarkChallengeFailed(challengeID string, code string, message string, now time.Time) error {
	idx, err := r.ownedChallenge(challengeID)
	if err != nil {
		return err
	}
	challenge := &r.challenges[idx]
	if err := challenge.transition(ChallengeStatusFailed); err != nil {
		return err
	}
	challenge.ErrorCode = strings.TrimSpace(code)
	challenge.ErrorMessage = strings.TrimSpace(message)
	r.updatedAt = now.UTC()
	return nil
}

// MarkDegraded records that challenge delivery was deferred by degraded mode.
func (r *SignatureRequest) MarkDegraded(now time.Time) error {
	switch r.status {
	case RequestStatusPendingDegraded:
		return nil
	case RequestStatusPending:
		r.status = RequestStatusPendingDegraded
		r.updatedAt = now.UTC()
		return nil
	default:
		return &StateTransitionError{Entity: "signature_request", ID: r.id, From: string(r.status), To: string(RequestStatusPendingDegraded)}
	}
}

func (r *SignatureRequest) ClearDegraded(now time.Time) error {
	switch r.status {
	case RequestStatusPending:
		return nil
	case RequestStatusPendingDegraded:
		r.status = RequestStatusPending
		r.updatedAt = now.UTC()
		return nil
	default:
		return &StateTransitionError{Entity: "signature_request", ID: r.id, From: string(r.status), To: string(RequestStatusPending)}
	}
}

// CompleteSignature verifies the submitted code against a SENT challenge and signs the request.
func (r *SignatureRequest) CompleteSignature(challengeID string, code string, now time.Time) error {
	idx, err := r.ownedChallenge(challengeID)
	if err != nil {
		return err
	}
	if !r.status.Open() {
		return &StateTransitionError{Entity: "signature_request", ID: r.id, From: string(r.status), To: string(RequestStatusSigned)}
	}
	challenge := &r.challenges[idx]
	if challenge.Status != ChallengeStatusSent {
		return &StateTransitionError{Entity: "challenge", ID: challenge.ID, From: string(challenge.Status), To: string(ChallengeStatusCompleted)}
	}
	now = now.UTC()
	if !now.Before(challenge.ExpiresAt) {
		return fmt.Errorf("%w: challenge %s", ErrChallengeExpired, challenge.ID)
	}
	if !challenge.Matches(code) {
		return ErrCodeMismatch
	}
	if err := challenge.transition(ChallengeStatusCompleted); err != nil {
		return err
	}
	challenge.CompletedAt = &now
	r.status = RequestStatusSigned
	r.signedAt = &now
	r.updatedAt = now
	return nil
}

func (r *SignatureRequest) Abort(reason string, now time.Time) error {
	if !r.status.Open() {
		return &StateTransitionError{Entity: "signature_request", ID: r.id, From: string(r.status), To: string(RequestStatusAborted)}
	}
	now = now.UTC()
	for i := range r.challenges {
		if r.challenges[i].Status.Active() {
			_ = r.challenges[i].transition(ChallengeStatusFailed)
			r.challenges[i].ErrorCode = "ABORTED"
			r.challenges[i].ErrorMessage = strings.TrimSpace(reason)
		}
	}
	r.status = RequestStatusAborted
	r.abortedAt = &now
	r.abortReason = strings.TrimSpace(reason)
	r.updatedAt = now
	return nil
}

func (r *SignatureRequest) AbortReason() string { return r.abortReason }

// Expire closes the request once its ttl has elapsed.
func (r *SignatureRequest) Expire(now time.Time) error {
	now = now.UTC()
	if now.Before(r.expiresAt) {
		return fmt.Errorf("%w: request %s expires at %s", ErrTtlNotExceeded, r.id, r.expiresAt.Format(time.RFC3339))
	}
	if !r.status.Open() {
		return &StateTransitionError{Entity: "signature_request", ID: r.id, From: string(r.status), To: string(RequestStatusExpired)}
	}
	for i := range r.challenges {
		if r.challenges[i].Status.Active() {
			_ = r.challenges[i].transition(ChallengeStatusExpired)
		}
	}
	r.status = RequestStatusExpired
	r.updatedAt = now
	return nil
}

func (r *SignatureRequest) ownedChallenge(challengeID string) (int, error) {
	idx := r.challengeIndex(challengeID)
	if idx < 0 {
		return -1, fmt.Errorf("%w: challenge %s is not part of request %s", ErrChallengeNotBelongs, challengeID, r.id)
	}
	return idx, nil
}

func (r *SignatureRequest) challengeIndex(challengeID string) int {
	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return -1
	}
	for i := range r.challenges {
		if r.challenges[i].ID == challengeID {
			return i
		}
	}
	return -1
}

// SignatureRequestSnapshot is the flat persistence form of a SignatureRequest.
type SignatureRequestSnapshot struct {
	ID          string
	CustomerID  string
	Transaction TransactionContext
	Recipient   Recipient
	Status      RequestStatus
	Challenges  []SignatureChallenge
	Timeline    []TimelineEvent
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
	SignedAt    *time.Time
	AbortedAt   *time.Time
	AbortReason string
}

func (r *SignatureRequest) Snapshot() SignatureRequestSnapshot {
	return SignatureRequestSnapshot{
		ID:          r.id,
		CustomerID:  r.customerID,
		Transaction: r.transaction.Clone(),
		Recipient:   r.recipient.Clone(),
		Status:      r.status,
		Challenges:  r.Challenges(),
		Timeline:    r.Timeline(),
		CreatedAt:   r.createdAt,
		UpdatedAt:   r.updatedAt,
		ExpiresAt:   r.expiresAt,
		SignedAt:    cloneTime(r.signedAt),
		AbortedAt:   cloneTime(r.abortedAt),
		AbortReason: r.abortReason,
	}
}

// RestoreSignatureRequest rehydrates an aggregate loaded from storage.
func RestoreSignatureRequest(s SignatureRequestSnapshot) (*SignatureRequest, error) {
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("core: signature request id is required")
	}
	active := 0
	req := &SignatureRequest{
		id:          s.ID,
		customerID:  s.CustomerID,
		transaction: s.Transaction.Clone(),
		recipient:   s.Recipient.Clone(),
		status:      s.Status,
		createdAt:   s.CreatedAt,
		updatedAt:   s.UpdatedAt,
		expiresAt:   s.ExpiresAt,
		signedAt:    cloneTime(s.SignedAt),
		abortedAt:   cloneTime(s.AbortedAt),
		abortReason: s.AbortReason,
	}
	for _, challenge := range s.Challenges {
		if challenge.Status.Active() {
			active++
		}
		req.challenges = append(req.challenges, challenge.Clone())
	}
	if active > 1 {
		return nil, fmt.Errorf("%w: request %s has %d active challenges", ErrChallengeAlreadyActive, s.ID, active)
	}
	for _, event := range s.Timeline {
		req.timeline = append(req.timeline, event.Clone())
	}
	return req, nil
}

type RoutingRule struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Condition        string       `json:"condition"`
	TargetChannel    Channel      `json:"target_channel"`
	ProviderOverride ProviderType `json:"provider_override,omitempty"`
	Priority         int          `json:"priority"`
	Enabled          bool         `json:"enabled"`
	Deleted          bool         `json:"deleted"`
	CreatedBy        string       `json:"created_by,omitempty"`
	UpdatedBy        string       `json:"updated_by,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (r RoutingRule) Active() bool {
	return r.Enabled && !r.Deleted
}

func (r RoutingRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("core: routing rule name is required")
	}
	if strings.TrimSpace(r.Condition) == "" {
		return fmt.Errorf("core: routing rule condition is required")
	}
	if !r.TargetChannel.Valid() {
		return fmt.Errorf("core: routing rule target channel %q is invalid", r.TargetChannel)
	}
	return nil
}

type RetryPolicy struct {
	MaxAttempts    int           `json:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

type ProviderConfig struct {
	ID            string        `json:"id"`
	Type          ProviderType  `json:"type"`
	Code          string        `json:"code"`
	Channel       Channel       `json:"channel"`
	Enabled       bool          `json:"enabled"`
	Priority      int           `json:"priority"`
	Timeout       time.Duration `json:"timeout"`
	Retry         RetryPolicy   `json:"retry"`
	CredentialRef string        `json:"credential_ref,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (c ProviderConfig) Validate() error {
	if strings.TrimSpace(string(c.Type)) == "" {
		return fmt.Errorf("core: provider type is required")
	}
	if strings.TrimSpace(c.Code) == "" {
		return fmt.Errorf("core: provider code is required")
	}
	if !c.Channel.Valid() {
		return fmt.Errorf("core: provider %s channel %q is invalid", c.Type, c.Channel)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("core: provider %s timeout must not be negative", c.Type)
	}
	return nil
}

type IdempotencyState string

const (
	IdempotencyStatePending   IdempotencyState = "pending"
	IdempotencyStateCompleted IdempotencyState = "completed"
)

type IdempotencyRecord struct {
	Key         string
	RequestHash string
	State       IdempotencyState
	StatusCode  int
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

type CachedResponse struct {
	StatusCode int
	Body       []byte
}

type Mode string

const (
	ModeNormal      Mode = "NORMAL"
	ModeDegraded    Mode = "DEGRADED"
	ModeMaintenance Mode = "MAINTENANCE"
)

type DegradedStatus struct {
	Mode              Mode           `json:"mode"`
	Reason            string         `json:"reason,omitempty"`
	EnteredAt         time.Time      `json:"entered_at"`
	DegradedProviders []ProviderType `json:"degraded_providers,omitempty"`
	OpenBreakers      []ProviderType `json:"open_breakers,omitempty"`
	Manual            bool           `json:"manual"`
}

func (s DegradedStatus) Clone() DegradedStatus {
	out := s
	out.DegradedProviders = append([]ProviderType(nil), s.DegradedProviders...)
	out.OpenBreakers = append([]ProviderType(nil), s.OpenBreakers...)
	return out
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

func cloneTime(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := *in
	return &value
}
