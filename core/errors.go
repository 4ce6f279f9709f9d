package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	SignatureErrorBadInput               = "SIGNATURE_BAD_INPUT"
	SignatureErrorNotFound               = "SIGNATURE_NOT_FOUND"
	SignatureErrorChallengeAlreadyActive = "SIGNATURE_CHALLENGE_ALREADY_ACTIVE"
	SignatureErrorChallengeNotBelongs    = "SIGNATURE_CHALLENGE_NOT_BELONGS"
	SignatureErrorInvalidStateTransition = "SIGNATURE_INVALID_STATE_TRANSITION"
	SignatureErrorTtlNotExceeded         = "SIGNATURE_TTL_NOT_EXCEEDED"
	SignatureErrorChallengeExpired       = "SIGNATURE_CHALLENGE_EXPIRED"
	SignatureErrorCodeMismatch           = "SIGNATURE_CODE_MISMATCH"
	SignatureErrorProviderFailed         = "SIGNATURE_PROVIDER_FAILED"
	SignatureErrorProviderUnavailable    = "SIGNATURE_PROVIDER_UNAVAILABLE"
	SignatureErrorIdempotencyConflict    = "SIGNATURE_IDEMPOTENCY_CONFLICT"
	SignatureErrorIdempotencyInProgress  = "SIGNATURE_IDEMPOTENCY_IN_PROGRESS"
	SignatureErrorRuleConditionInvalid   = "SIGNATURE_RULE_CONDITION_INVALID"
	SignatureErrorInternal               = "SIGNATURE_INTERNAL_ERROR"
)

var (
	ErrChallengeAlreadyActive   = errors.New("core: challenge already active")
	ErrChallengeNotBelongs      = errors.New("core: challenge does not belong to signature request")
	ErrInvalidStateTransition   = errors.New("core: invalid state transition")
	ErrTtlNotExceeded           = errors.New("core: ttl not exceeded")
	ErrChallengeExpired         = errors.New("core: challenge expired")
	ErrCodeMismatch             = errors.New("core: challenge code mismatch")
	ErrSignatureRequestNotFound = errors.New("core: signature request not found")
	ErrRoutingRuleNotFound      = errors.New("core: routing rule not found")
	ErrIdempotencyKeyConflict   = errors.New("core: idempotency key reused with a different request")
	ErrIdempotencyInProgress    = errors.New("core: idempotency key is being processed")
	ErrInvalidRuleCondition     = errors.New("core: invalid routing rule condition")

	ErrProviderNotFound = errors.New("core: no provider registered for channel")
	ErrProviderError    = errors.New("core: provider error")
	ErrCircuitOpen      = errors.New("core: circuit breaker open")
	ErrProviderTimeout  = errors.New("core: provider timeout")
	ErrLoopDetected     = errors.New("core: fallback loop detected")
)

type StateTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("core: invalid %s state transition %s -> %s (id=%s)", e.Entity, e.From, e.To, e.ID)
}

func (e *StateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

type FailureKind string

const (
	FailureProviderError FailureKind = "PROVIDER_ERROR"
	FailureCircuitOpen   FailureKind = "CIRCUIT_OPEN"
	FailureTimeout       FailureKind = "TIMEOUT"
	FailureUnavailable   FailureKind = "PROVIDER_UNAVAILABLE"
)

// ProviderFailure is the normalized failure of one provider attempt.
type ProviderFailure struct {
	Kind         FailureKind
	ProviderType ProviderType
	Channel      Channel
	Code         string
	Message      string
	Err          error
}

func (f *ProviderFailure) Error() string {
	message := strings.TrimSpace(f.Message)
	if message == "" && f.Err != nil {
		message = f.Err.Error()
	}
	if message == "" {
		message = "provider failed"
	}
	return fmt.Sprintf("core: provider %s (%s) %s [%s]: %s", f.ProviderType, f.Channel, strings.ToLower(string(f.Kind)), f.ErrorCode(), message)
}

func (f *ProviderFailure) Unwrap() error { return f.Err }

func (f *ProviderFailure) Is(target error) bool {
	switch target {
	case ErrCircuitOpen:
		return f.Kind == FailureCircuitOpen
	case ErrProviderTimeout:
		return f.Kind == FailureTimeout
	case ErrProviderError:
		return f.Kind == FailureProviderError
	case ErrProviderNotFound:
		return f.Kind == FailureUnavailable
	}
	return false
}

// ErrorCode is the code recorded on a failed challenge.
func (f *ProviderFailure) ErrorCode() string {
	if code := strings.TrimSpace(f.Code); code != "" {
		return code
	}
	return string(f.Kind)
}

func AsProviderFailure(err error) (*ProviderFailure, bool) {
	var failure *ProviderFailure
	if errors.As(err, &failure) && failure != nil {
		return failure, true
	}
	return nil, false
}

// MapError converts domain errors into the go-errors envelope returned at the service boundary.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureSignatureErrorEnvelope(richErr)
	}

	if failure, ok := AsProviderFailure(err); ok {
		textCode := SignatureErrorProviderFailed
		if failure.Kind == FailureUnavailable {
			textCode = SignatureErrorProviderUnavailable
		}
		return ensureSignatureErrorEnvelope(
			goerrors.Wrap(err, goerrors.CategoryExternal, failure.Error()).
				WithCode(http.StatusBadGateway).
				WithTextCode(textCode).
				WithMetadata(map[string]any{
					"provider_type": string(failure.ProviderType),
					"channel":       string(failure.Channel),
					"failure_kind":  string(failure.Kind),
					"error_code":    failure.ErrorCode(),
				}),
		)
	}

	switch {
	case errors.Is(err, ErrChallengeAlreadyActive):
		return newSignatureError(err, goerrors.CategoryConflict, SignatureErrorChallengeAlreadyActive)
	case errors.Is(err, ErrChallengeNotBelongs):
		return newSignatureError(err, goerrors.CategoryBadInput, SignatureErrorChallengeNotBelongs)
	case errors.Is(err, ErrInvalidStateTransition):
		return newSignatureError(err, goerrors.CategoryConflict, SignatureErrorInvalidStateTransition)
	case errors.Is(err, ErrTtlNotExceeded):
		return newSignatureError(err, goerrors.CategoryConflict, SignatureErrorTtlNotExceeded)
	case errors.Is(err, ErrChallengeExpired):
		return newSignatureError(err, goerrors.CategoryConflict, SignatureErrorChallengeExpired)
	case errors.Is(err, ErrCodeMismatch):
		return newSignatureError(err, goerrors.CategoryBadInput, SignatureErrorCodeMismatch)
	case errors.Is(err, ErrSignatureRequestNotFound), errors.Is(err, ErrRoutingRuleNotFound):
		return newSignatureError(err, goerrors.CategoryNotFound, SignatureErrorNotFound)
	case errors.Is(err, ErrIdempotencyKeyConflict):
		return newSignatureError(err, goerrors.CategoryConflict, SignatureErrorIdempotencyConflict)
	case errors.Is(err, ErrIdempotencyInProgress):
		return newSignatureError(err, goerrors.CategoryConflict, SignatureErrorIdempotencyInProgress)
	case errors.Is(err, ErrInvalidRuleCondition):
		return newSignatureError(err, goerrors.CategoryValidation, SignatureErrorRuleConditionInvalid)
	case errors.Is(err, ErrProviderNotFound):
		return newSignatureError(err, goerrors.CategoryExternal, SignatureErrorProviderUnavailable)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "must"):
		return newSignatureError(err, goerrors.CategoryBadInput, SignatureErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureSignatureErrorEnvelope(mapped)
}

func newSignatureError(err error, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureSignatureErrorEnvelope(
		goerrors.Wrap(err, category, err.Error()).
			WithTextCode(textCode),
	)
}

func ensureSignatureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = signatureHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultSignatureTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultSignatureTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return SignatureErrorBadInput
	case goerrors.CategoryNotFound:
		return SignatureErrorNotFound
	case goerrors.CategoryConflict:
		return SignatureErrorInvalidStateTransition
	case goerrors.CategoryExternal:
		return SignatureErrorProviderFailed
	default:
		return SignatureErrorInternal
	}
}

func signatureHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
