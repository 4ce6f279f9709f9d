package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	telemetry         Telemetry
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	requests          SignatureRequestStore
	router            Router
	dispatcher        ChallengeDispatcher
	mode              ModeController
	idempotency       IdempotencyGuard
	events            EventSink
	resumeEnqueuer    ResumeEnqueuer
	registry          *ProviderRegistry
	clock             Clock
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	RequestStore      SignatureRequestStore
	Router            Router
	Dispatcher        ChallengeDispatcher
	ModeController    ModeController
	IdempotencyGuard  IdempotencyGuard
	EventSink         EventSink
	ResumeEnqueuer    ResumeEnqueuer
	Registry          *ProviderRegistry
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := applyOptions(cfg, opts)

	provider, logger := glog.Resolve("signatures", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("signatures"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	finalConfig, err := builder.resolveConfig(context.Background())
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.requestStore == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			stores, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if stores != nil {
				builder.requestStore = stores.SignatureRequestStore()
			}
		} else if stores, ok := builder.repositoryFactory.(StoreProvider); ok {
			builder.requestStore = stores.SignatureRequestStore()
		}
	}

	var missing []string
	if builder.requestStore == nil {
		missing = append(missing, "signature request store")
	}
	if builder.router == nil {
		missing = append(missing, "router")
	}
	if builder.dispatcher == nil {
		missing = append(missing, "dispatcher")
	}
	if builder.modeController == nil {
		missing = append(missing, "mode controller")
	}
	if len(missing) > 0 {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: %s required", strings.Join(missing, ", ")))
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		telemetry:         Telemetry{Logger: logger, Metrics: builder.metricsRecorder, Prefix: "signatures"},
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		requests:          builder.requestStore,
		router:            builder.router,
		dispatcher:        builder.dispatcher,
		mode:              builder.modeController,
		idempotency:       builder.idempotencyGuard,
		events:            builder.eventSink,
		resumeEnqueuer:    builder.resumeEnqueuer,
		registry:          builder.registry,
		clock:             builder.clock,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		RequestStore:      s.requests,
		Router:            s.router,
		Dispatcher:        s.dispatcher,
		ModeController:    s.mode,
		IdempotencyGuard:  s.idempotency,
		EventSink:         s.events,
		ResumeEnqueuer:    s.resumeEnqueuer,
		Registry:          s.registry,
	}
}

type CreateSignatureRequestInput struct {
	IdempotencyKey string             `json:"-"`
	CustomerID     string             `json:"customer_id"`
	Transaction    TransactionContext `json:"transaction"`
	Recipient      Recipient          `json:"recipient"`
}

func (in CreateSignatureRequestInput) Validate() error {
	if strings.TrimSpace(in.CustomerID) == "" {
		return fmt.Errorf("core: customer id is required")
	}
	return in.Transaction.Validate()
}

type SignatureRequestView struct {
	ID          string               `json:"id"`
	CustomerID  string               `json:"customer_id"`
	Status      RequestStatus        `json:"status"`
	Transaction TransactionContext   `json:"transaction"`
	Challenges  []SignatureChallenge `json:"challenges"`
	Timeline    []TimelineEvent      `json:"timeline"`
	CreatedAt   time.Time            `json:"created_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
	SignedAt    *time.Time           `json:"signed_at,omitempty"`
	AbortedAt   *time.Time           `json:"aborted_at,omitempty"`
}

func ViewOf(req *SignatureRequest) SignatureRequestView {
	if req == nil {
		return SignatureRequestView{}
	}
	return SignatureRequestView{
		ID:          req.ID(),
		CustomerID:  req.CustomerID(),
		Status:      req.Status(),
		Transaction: req.Transaction(),
		Challenges:  req.Challenges(),
		Timeline:    req.Timeline(),
		CreatedAt:   req.CreatedAt(),
		ExpiresAt:   req.ExpiresAt(),
		SignedAt:    req.SignedAt(),
		AbortedAt:   req.AbortedAt(),
	}
}

func (v SignatureRequestView) ActiveChallenge() (SignatureChallenge, bool) {
	for _, challenge := range v.Challenges {
		if challenge.Status.Active() {
			return challenge, true
		}
	}
	return SignatureChallenge{}, false
}

type CreateSignatureRequestResult struct {
	Request            SignatureRequestView `json:"request"`
	Channel            Channel              `json:"channel"`
	UsedDefaultChannel bool                 `json:"used_default_channel"`
	Deferred           bool                 `json:"deferred"`
	StatusCode         int                  `json:"-"`
	Replayed           bool                 `json:"-"`
}

// CreateSignatureRequest runs intake: dedup, routing, aggregate creation and dispatch.
func (s *Service) CreateSignatureRequest(
	ctx context.Context,
	in CreateSignatureRequestInput,
) (result CreateSignatureRequestResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"customer_id":     in.CustomerID,
		"order_id":        in.Transaction.OrderID,
		"idempotency_key": in.IdempotencyKey,
	}
	defer func() {
		if result.Request.ID != "" {
			fields["request_id"] = result.Request.ID
			fields["channel"] = string(result.Channel)
			fields["replayed"] = result.Replayed
		}
		s.telemetry.ObserveOperation(ctx, startedAt, "create_signature_request", err, fields)
	}()

	if err = in.Validate(); err != nil {
		return CreateSignatureRequestResult{}, s.mapError(err)
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	var fingerprint string
	if key != "" && s.idempotency != nil {
		fingerprint, err = FingerprintRequest(in)
		if err != nil {
			return CreateSignatureRequestResult{}, s.mapError(err)
		}
		cached, checkErr := s.idempotency.CheckAndStore(ctx, key, fingerprint)
		if checkErr != nil {
			err = s.mapError(checkErr)
			return CreateSignatureRequestResult{}, err
		}
		if cached != nil {
			replayed, decodeErr := decodeCachedResult(cached)
			if decodeErr != nil {
				err = s.mapError(decodeErr)
				return CreateSignatureRequestResult{}, err
			}
			return replayed, nil
		}
	}

	result, err = s.createSignatureRequest(ctx, in)
	if err != nil {
		if key != "" && s.idempotency != nil {
			if abandonErr := s.idempotency.Abandon(ctx, key, fingerprint); abandonErr != nil {
				s.telemetry.Warn(ctx, "idempotency claim release failed", map[string]any{
					"idempotency_key": key,
					"error":           abandonErr.Error(),
				})
			}
		}
		err = s.mapError(err)
		return result, err
	}

	if key != "" && s.idempotency != nil {
		body, marshalErr := json.Marshal(result)
		if marshalErr == nil {
			marshalErr = s.idempotency.StoreResponse(ctx, key, fingerprint, result.StatusCode, body)
		}
		if marshalErr != nil {
			s.telemetry.Warn(ctx, "idempotency response store failed", map[string]any{
				"idempotency_key": key,
				"error":           marshalErr.Error(),
			})
		}
	}
	return result, nil
}

func (s *Service) createSignatureRequest(ctx context.Context, in CreateSignatureRequestInput) (CreateSignatureRequestResult, error) {
	decision, err := s.router.Evaluate(ctx, in.Transaction)
	if err != nil {
		return CreateSignatureRequestResult{}, err
	}

	req, err := NewSignatureRequest(NewSignatureRequestInput{
		CustomerID:  in.CustomerID,
		Transaction: in.Transaction,
		Recipient:   in.Recipient,
		TTL:         s.config.Request.TTL,
	}, s.clock.Now())
	if err != nil {
		return CreateSignatureRequestResult{}, err
	}
	req.AppendTimeline(decision.Timeline...)

	_, dispatchErr := s.dispatcher.Dispatch(ctx, req, DispatchInput{
		Channel:          decision.Channel,
		ProviderOverride: decision.ProviderOverride,
		Recipient:        in.Recipient,
	})
	if saveErr := s.requests.Save(ctx, req); saveErr != nil {
		if dispatchErr != nil {
			return CreateSignatureRequestResult{}, errors.Join(dispatchErr, saveErr)
		}
		return CreateSignatureRequestResult{}, saveErr
	}
	if dispatchErr != nil {
		return CreateSignatureRequestResult{Request: ViewOf(req), Channel: decision.Channel}, dispatchErr
	}

	deferred := req.Status() == RequestStatusPendingDegraded
	status := http.StatusCreated
	if deferred {
		status = http.StatusAccepted
	}
	EmitEvent(ctx, s.events, s.telemetry, NewEvent(EventSignatureRequestCreated, req.ID(), map[string]string{
		"channel":      string(decision.Channel),
		"status":       string(req.Status()),
		"used_default": fmt.Sprint(decision.UsedDefault),
	}))
	return CreateSignatureRequestResult{
		Request:            ViewOf(req),
		Channel:            decision.Channel,
		UsedDefaultChannel: decision.UsedDefault,
		Deferred:           deferred,
		StatusCode:         status,
	}, nil
}

func decodeCachedResult(cached *CachedResponse) (CreateSignatureRequestResult, error) {
	var result CreateSignatureRequestResult
	if err := json.Unmarshal(cached.Body, &result); err != nil {
		return CreateSignatureRequestResult{}, fmt.Errorf("core: decode cached response: %w", err)
	}
	result.StatusCode = cached.StatusCode
	result.Replayed = true
	return result, nil
}

type CompleteSignatureInput struct {
	RequestID   string
	ChallengeID string
	Code        string
}

// CompleteSignature is allowed in every mode, including degraded and maintenance.
func (s *Service) CompleteSignature(ctx context.Context, in CompleteSignatureInput) (view SignatureRequestView, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"request_id":   in.RequestID,
		"challenge_id": in.ChallengeID,
	}
	defer func() {
		s.telemetry.ObserveOperation(ctx, startedAt, "complete_signature", err, fields)
	}()

	if strings.TrimSpace(in.ChallengeID) == "" || strings.TrimSpace(in.Code) == "" {
		err = s.mapError(fmt.Errorf("core: challenge id and code are required"))
		return SignatureRequestView{}, err
	}
	req, err := s.loadRequest(ctx, in.RequestID)
	if err != nil {
		return SignatureRequestView{}, err
	}
	if completeErr := req.CompleteSignature(in.ChallengeID, in.Code, s.clock.Now()); completeErr != nil {
		err = s.mapError(completeErr)
		return ViewOf(req), err
	}
	if saveErr := s.requests.Save(ctx, req); saveErr != nil {
		err = s.mapError(saveErr)
		return SignatureRequestView{}, err
	}
	EmitEvent(ctx, s.events, s.telemetry, NewEvent(EventSignatureCompleted, req.ID(), map[string]string{
		"challenge_id": in.ChallengeID,
	}))
	return ViewOf(req), nil
}

type AbortSignatureRequestInput struct {
	RequestID string
	Reason    string
}

func (s *Service) AbortSignatureRequest(ctx context.Context, in AbortSignatureRequestInput) (view SignatureRequestView, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"request_id": in.RequestID, "reason": in.Reason}
	defer func() {
		s.telemetry.ObserveOperation(ctx, startedAt, "abort_signature_request", err, fields)
	}()

	req, err := s.loadRequest(ctx, in.RequestID)
	if err != nil {
		return SignatureRequestView{}, err
	}
	if abortErr := req.Abort(in.Reason, s.clock.Now()); abortErr != nil {
		err = s.mapError(abortErr)
		return ViewOf(req), err
	}
	if saveErr := s.requests.Save(ctx, req); saveErr != nil {
		err = s.mapError(saveErr)
		return SignatureRequestView{}, err
	}
	EmitEvent(ctx, s.events, s.telemetry, NewEvent(EventSignatureAborted, req.ID(), map[string]string{"reason": in.Reason}))
	return ViewOf(req), nil
}

func (s *Service) ExpireSignatureRequest(ctx context.Context, requestID string) (view SignatureRequestView, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"request_id": requestID}
	defer func() {
		s.telemetry.ObserveOperation(ctx, startedAt, "expire_signature_request", err, fields)
	}()

	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return SignatureRequestView{}, err
	}
	if expireErr := req.Expire(s.clock.Now()); expireErr != nil {
		err = s.mapError(expireErr)
		return ViewOf(req), err
	}
	if saveErr := s.requests.Save(ctx, req); saveErr != nil {
		err = s.mapError(saveErr)
		return SignatureRequestView{}, err
	}
	EmitEvent(ctx, s.events, s.telemetry, NewEvent(EventSignatureExpired, req.ID(), nil))
	return ViewOf(req), nil
}

// ExpireOverdue expires open requests whose ttl has elapsed and returns how many changed.
func (s *Service) ExpireOverdue(ctx context.Context, limit int) (expired int, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"limit": limit}
	defer func() {
		fields["expired"] = expired
		s.telemetry.ObserveOperation(ctx, startedAt, "expire_overdue", err, fields)
	}()

	now := s.clock.Now()
	for _, status := range []RequestStatus{RequestStatusPending, RequestStatusPendingDegraded} {
		requests, listErr := s.requests.ListByStatus(ctx, status, limit)
		if listErr != nil {
			err = s.mapError(listErr)
			return expired, err
		}
		for _, req := range requests {
			if now.Before(req.ExpiresAt()) {
				continue
			}
			if expireErr := req.Expire(now); expireErr != nil {
				continue
			}
			if saveErr := s.requests.Save(ctx, req); saveErr != nil {
				err = s.mapError(saveErr)
				return expired, err
			}
			expired++
			EmitEvent(ctx, s.events, s.telemetry, NewEvent(EventSignatureExpired, req.ID(), nil))
		}
	}
	return expired, nil
}

// ResumeDeferred sends the challenge of a PENDING_DEGRADED request once the mode allows it.
// A request that is not deferred, or a mode that still defers, is returned unchanged.
func (s *Service) ResumeDeferred(ctx context.Context, requestID string) (view SignatureRequestView, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"request_id": requestID}
	defer func() {
		s.telemetry.ObserveOperation(ctx, startedAt, "resume_deferred", err, fields)
	}()

	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return SignatureRequestView{}, err
	}
	if req.Status() != RequestStatusPendingDegraded || s.mode.ShouldDefer() {
		return ViewOf(req), nil
	}
	_, dispatchErr := s.dispatcher.Resume(ctx, req)
	if saveErr := s.requests.Save(ctx, req); saveErr != nil {
		err = s.mapError(errors.Join(dispatchErr, saveErr))
		return SignatureRequestView{}, err
	}
	if dispatchErr != nil {
		err = s.mapError(dispatchErr)
		return ViewOf(req), err
	}
	return ViewOf(req), nil
}

type ResumeSummary struct {
	Scheduled int
	Resumed   int
	Failed    int
}

// ResumeAllDeferred hands deferred requests to the resume enqueuer, or resumes them inline
// when no enqueuer is configured. Nothing happens while the mode still defers.
func (s *Service) ResumeAllDeferred(ctx context.Context, limit int) (summary ResumeSummary, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"limit": limit}
	defer func() {
		fields["scheduled"] = summary.Scheduled
		fields["resumed"] = summary.Resumed
		fields["failed"] = summary.Failed
		s.telemetry.ObserveOperation(ctx, startedAt, "resume_all_deferred", err, fields)
	}()

	if s.mode.ShouldDefer() {
		return ResumeSummary{}, nil
	}
	requests, err := s.requests.ListByStatus(ctx, RequestStatusPendingDegraded, limit)
	if err != nil {
		err = s.mapError(err)
		return ResumeSummary{}, err
	}
	for _, req := range requests {
		if s.resumeEnqueuer != nil {
			if enqueueErr := s.resumeEnqueuer.EnqueueResume(ctx, req.ID()); enqueueErr != nil {
				summary.Failed++
				s.telemetry.Warn(ctx, "resume enqueue failed", map[string]any{"request_id": req.ID(), "error": enqueueErr.Error()})
				continue
			}
			summary.Scheduled++
			continue
		}
		if _, resumeErr := s.ResumeDeferred(ctx, req.ID()); resumeErr != nil {
			summary.Failed++
			continue
		}
		summary.Resumed++
	}
	return summary, nil
}

func (s *Service) GetSignatureRequest(ctx context.Context, requestID string) (SignatureRequestView, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return SignatureRequestView{}, err
	}
	return ViewOf(req), nil
}

func (s *Service) DegradedStatus() DegradedStatus {
	if s == nil || s.mode == nil {
		return DegradedStatus{Mode: ModeNormal}
	}
	return s.mode.Status()
}

func (s *Service) EnterDegradedMode(ctx context.Context, reason string) (DegradedStatus, error) {
	if strings.TrimSpace(reason) == "" {
		return s.DegradedStatus(), s.mapError(fmt.Errorf("core: degraded mode reason is required"))
	}
	status := s.mode.EnterDegradedMode(ctx, reason)
	s.telemetry.Info(ctx, "degraded mode requested", map[string]any{"reason": reason, "mode": string(status.Mode)})
	return status, nil
}

func (s *Service) ExitDegradedMode(ctx context.Context) (DegradedStatus, error) {
	status := s.mode.ExitDegradedMode(ctx)
	s.telemetry.Info(ctx, "degraded mode exit requested", map[string]any{"mode": string(status.Mode)})
	return status, nil
}

func (s *Service) EnterMaintenance(ctx context.Context, reason string) (DegradedStatus, error) {
	if strings.TrimSpace(reason) == "" {
		return s.DegradedStatus(), s.mapError(fmt.Errorf("core: maintenance reason is required"))
	}
	return s.mode.EnterMaintenance(ctx, reason), nil
}

func (s *Service) ExitMaintenance(ctx context.Context) (DegradedStatus, error) {
	return s.mode.ExitMaintenance(ctx), nil
}

func (s *Service) ReloadProviders(ctx context.Context) (count int, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["providers"] = count
		s.telemetry.ObserveOperation(ctx, startedAt, "reload_providers", err, fields)
	}()
	if s.registry == nil {
		err = s.mapError(fmt.Errorf("core: provider registry is required for reload"))
		return 0, err
	}
	count, err = s.registry.Reload(ctx)
	if err != nil {
		err = s.mapError(err)
		return 0, err
	}
	return count, nil
}

func (s *Service) loadRequest(ctx context.Context, requestID string) (*SignatureRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, s.mapError(fmt.Errorf("core: signature request id is required"))
	}
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return req, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

// FingerprintRequest hashes the canonical JSON form of a request body.
func FingerprintRequest(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("core: fingerprint request: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
