package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// Delivery is what a provider needs to deliver one challenge.
type Delivery struct {
	RequestID   string
	ChallengeID string
	Channel     Channel
	Code        string
	Recipient   Recipient
	ExpiresAt   time.Time
}

type SendOutcome string

const (
	SendOutcomeSuccess SendOutcome = "success"
	SendOutcomeFailure SendOutcome = "failure"
	SendOutcomeTimeout SendOutcome = "timeout"
)

type SendResult struct {
	Outcome       SendOutcome
	ProviderProof string
	Code          string
	Message       string
}

func SendSucceeded(proof string) SendResult {
	return SendResult{Outcome: SendOutcomeSuccess, ProviderProof: proof}
}

func SendFailed(code string, message string) SendResult {
	return SendResult{Outcome: SendOutcomeFailure, Code: code, Message: message}
}

type HealthState string

const (
	HealthUp   HealthState = "up"
	HealthDown HealthState = "down"
)

type HealthStatus struct {
	State     HealthState
	Details   map[string]string
	CheckedAt time.Time
}

// ProviderPort is the uniform contract every channel vendor adapter implements.
type ProviderPort interface {
	Send(ctx context.Context, delivery Delivery) (SendResult, error)
	CheckHealth(ctx context.Context) (HealthStatus, error)
}

type ProviderFactory interface {
	Build(ctx context.Context, cfg ProviderConfig) (ProviderPort, error)
}

type ProviderFactoryFunc func(ctx context.Context, cfg ProviderConfig) (ProviderPort, error)

func (f ProviderFactoryFunc) Build(ctx context.Context, cfg ProviderConfig) (ProviderPort, error) {
	return f(ctx, cfg)
}

type RegisteredProvider struct {
	Config ProviderConfig
	Port   ProviderPort
}

func (p RegisteredProvider) Type() ProviderType { return p.Config.Type }

// ProviderInvoker sends one delivery through a provider, applying breaker and timeout policy.
type ProviderInvoker interface {
	Invoke(ctx context.Context, provider RegisteredProvider, delivery Delivery) (SendResult, error)
}

type ProviderResolver interface {
	Resolve(channel Channel, override ProviderType) (RegisteredProvider, error)
	ForChannel(channel Channel) []RegisteredProvider
	Lookup(providerType ProviderType) (RegisteredProvider, bool)
	List() []RegisteredProvider
}

type SignatureRequestStore interface {
	Save(ctx context.Context, req *SignatureRequest) error
	Get(ctx context.Context, id string) (*SignatureRequest, error)
	ListByStatus(ctx context.Context, status RequestStatus, limit int) ([]*SignatureRequest, error)
}

type RoutingRuleStore interface {
	ListActiveRules(ctx context.Context) ([]RoutingRule, error)
}

type RoutingRuleRepository interface {
	RoutingRuleStore
	GetRule(ctx context.Context, id string) (RoutingRule, error)
	SaveRule(ctx context.Context, rule RoutingRule) (RoutingRule, error)
	DeleteRule(ctx context.Context, id string, actor string) error
}

type ProviderConfigStore interface {
	ListProviderConfigs(ctx context.Context) ([]ProviderConfig, error)
	SaveProviderConfig(ctx context.Context, cfg ProviderConfig) (ProviderConfig, error)
}

// IdempotencyStore persists idempotency records. Claim must be atomic per key.
type IdempotencyStore interface {
	// Claim inserts a pending record when the key is absent or expired. When another
	// live record holds the key it is returned with claimed=false.
	Claim(ctx context.Context, record IdempotencyRecord) (existing IdempotencyRecord, claimed bool, err error)
	// Complete stores the response on the pending record owned by requestHash and
	// moves its expiry to expiresAt.
	Complete(ctx context.Context, key string, requestHash string, statusCode int, body []byte, expiresAt time.Time) error
	// Release drops a pending claim. Completed records are never released.
	Release(ctx context.Context, key string, requestHash string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type EventType string

const (
	EventChallengeSent           EventType = "challenge.sent"
	EventChallengeFailed         EventType = "challenge.failed"
	EventFallbackTriggered       EventType = "fallback.triggered"
	EventFallbackSucceeded       EventType = "fallback.succeeded"
	EventFallbackFailed          EventType = "fallback.failed"
	EventFallbackLoopPrevented   EventType = "fallback.loop_prevented"
	EventDispatchDeferred        EventType = "dispatch.deferred"
	EventBreakerStateChanged     EventType = "breaker.state_changed"
	EventDegradedModeEntered     EventType = "degraded_mode.entered"
	EventDegradedModeExited      EventType = "degraded_mode.exited"
	EventMaintenanceModeEntered  EventType = "maintenance_mode.entered"
	EventMaintenanceModeExited   EventType = "maintenance_mode.exited"
	EventSignatureRequestCreated EventType = "signature_request.created"
	EventSignatureCompleted      EventType = "signature_request.signed"
	EventSignatureAborted        EventType = "signature_request.aborted"
	EventSignatureExpired        EventType = "signature_request.expired"
)

type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	At         time.Time         `json:"at"`
	RequestID  string            `json:"request_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// EventSink receives fire-and-forget notifications. A sink error never fails the caller.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

type RoutingDecision struct {
	Channel          Channel
	ProviderOverride ProviderType
	RuleID           string
	RuleName         string
	UsedDefault      bool
	Timeline         []TimelineEvent
}

type Router interface {
	Evaluate(ctx context.Context, tx TransactionContext) (RoutingDecision, error)
}

type DispatchInput struct {
	Channel          Channel
	ProviderOverride ProviderType
	Recipient        Recipient
}

type ChallengeDispatcher interface {
	Dispatch(ctx context.Context, req *SignatureRequest, in DispatchInput) (SignatureChallenge, error)
	Resume(ctx context.Context, req *SignatureRequest) (SignatureChallenge, error)
}

// ModeGate is the read side of degraded mode consumed by dispatch.
type ModeGate interface {
	ShouldDefer() bool
	Status() DegradedStatus
}

type ModeController interface {
	ModeGate
	EnterDegradedMode(ctx context.Context, reason string) DegradedStatus
	ExitDegradedMode(ctx context.Context) DegradedStatus
	EnterMaintenance(ctx context.Context, reason string) DegradedStatus
	ExitMaintenance(ctx context.Context) DegradedStatus
}

type IdempotencyGuard interface {
	CheckAndStore(ctx context.Context, key string, requestHash string) (*CachedResponse, error)
	StoreResponse(ctx context.Context, key string, requestHash string, statusCode int, body []byte) error
	Abandon(ctx context.Context, key string, requestHash string) error
}

// CodeGenerator produces one-time challenge codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// CodeSealer protects challenge codes while they are at rest in a store.
type CodeSealer interface {
	Seal(ctx context.Context, code string) (string, error)
	Open(ctx context.Context, sealed string) (string, error)
}

type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// ResumeEnqueuer schedules asynchronous resumption of deferred requests.
type ResumeEnqueuer interface {
	EnqueueResume(ctx context.Context, requestID string) error
}
