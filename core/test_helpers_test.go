package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type stubRouter struct {
	decision RoutingDecision
	err      error
	calls    int
}

func (r *stubRouter) Evaluate(context.Context, TransactionContext) (RoutingDecision, error) {
	r.calls++
	if r.err != nil {
		return RoutingDecision{}, r.err
	}
	return r.decision, nil
}

// stubDispatcher mimics the real dispatcher just enough to drive the aggregate.
type stubDispatcher struct {
	mode      *stubModeController
	fail      error
	code      string
	dispatch  int
	resumed   int
	lastInput DispatchInput
}

func (d *stubDispatcher) Dispatch(_ context.Context, req *SignatureRequest, in DispatchInput) (SignatureChallenge, error) {
	d.dispatch++
	d.lastInput = in
	return d.send(req, in.Channel)
}

func (d *stubDispatcher) Resume(_ context.Context, req *SignatureRequest) (SignatureChallenge, error) {
	d.resumed++
	if err := req.ClearDegraded(time.Now()); err != nil {
		return SignatureChallenge{}, err
	}
	return d.send(req, ChannelSMS)
}

func (d *stubDispatcher) send(req *SignatureRequest, channel Channel) (SignatureChallenge, error) {
	now := time.Now().UTC()
	if d.mode != nil && d.mode.ShouldDefer() {
		return SignatureChallenge{}, req.MarkDegraded(now)
	}
	code := d.code
	if code == "" {
		code = "123456"
	}
	challenge, err := req.CreateChallenge(NewChallengeInput{
		Channel:      channel,
		ProviderType: "stub",
		Code:         code,
		TTL:          time.Minute,
	}, now)
	if err != nil {
		return SignatureChallenge{}, err
	}
	if d.fail != nil {
		_ = req.MarkChallengeFailed(challenge.ID, "PROVIDER_ERROR", d.fail.Error(), now)
		return SignatureChallenge{}, &ProviderFailure{Kind: FailureProviderError, ProviderType: "stub", Channel: channel, Err: d.fail}
	}
	if err := req.MarkChallengeSent(challenge.ID, "proof-1", now); err != nil {
		return SignatureChallenge{}, err
	}
	sent, _ := req.Challenge(challenge.ID)
	return sent, nil
}

type stubModeController struct {
	mu     sync.Mutex
	status DegradedStatus
}

func newStubModeController() *stubModeController {
	return &stubModeController{status: DegradedStatus{Mode: ModeNormal}}
}

func (m *stubModeController) ShouldDefer() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Mode != ModeNormal
}

func (m *stubModeController) Status() DegradedStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Clone()
}

func (m *stubModeController) set(mode Mode, reason string) DegradedStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Mode != mode {
		m.status = DegradedStatus{Mode: mode, Reason: reason, EnteredAt: time.Now().UTC(), Manual: true}
	}
	return m.status.Clone()
}

func (m *stubModeController) EnterDegradedMode(_ context.Context, reason string) DegradedStatus {
	return m.set(ModeDegraded, reason)
}

func (m *stubModeController) ExitDegradedMode(context.Context) DegradedStatus {
	return m.set(ModeNormal, "")
}

func (m *stubModeController) EnterMaintenance(_ context.Context, reason string) DegradedStatus {
	return m.set(ModeMaintenance, reason)
}

func (m *stubModeController) ExitMaintenance(context.Context) DegradedStatus {
	return m.set(ModeNormal, "")
}

type memoryGuardEntry struct {
	hash     string
	complete bool
	status   int
	body     []byte
}

type memoryGuard struct {
	mu      sync.Mutex
	entries map[string]memoryGuardEntry
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{entries: map[string]memoryGuardEntry{}}
}

func (g *memoryGuard) CheckAndStore(_ context.Context, key string, hash string) (*CachedResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.entries[key]
	if !ok {
		g.entries[key] = memoryGuardEntry{hash: hash}
		return nil, nil
	}
	if entry.hash != hash {
		return nil, ErrIdempotencyKeyConflict
	}
	if !entry.complete {
		return nil, ErrIdempotencyInProgress
	}
	return &CachedResponse{StatusCode: entry.status, Body: append([]byte(nil), entry.body...)}, nil
}

func (g *memoryGuard) StoreResponse(_ context.Context, key string, hash string, status int, body []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.entries[key]
	if !ok || entry.hash != hash {
		return fmt.Errorf("no claim for %s", key)
	}
	g.entries[key] = memoryGuardEntry{hash: hash, complete: true, status: status, body: append([]byte(nil), body...)}
	return nil
}

func (g *memoryGuard) Abandon(_ context.Context, key string, hash string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.entries[key]; ok && entry.hash == hash && !entry.complete {
		delete(g.entries, key)
	}
	return nil
}

type recordingEventSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingEventSink) Publish(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingEventSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.Type)
	}
	return out
}

type recordingResumeEnqueuer struct {
	ids []string
	err error
}

func (e *recordingResumeEnqueuer) EnqueueResume(_ context.Context, requestID string) error {
	if e.err != nil {
		return e.err
	}
	e.ids = append(e.ids, requestID)
	return nil
}

type stubPort struct {
	result SendResult
	err    error
}

func (p stubPort) Send(context.Context, Delivery) (SendResult, error) {
	return p.result, p.err
}

func (p stubPort) CheckHealth(context.Context) (HealthStatus, error) {
	return HealthStatus{State: HealthUp}, nil
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type serviceFixture struct {
	svc        *Service
	store      *MemorySignatureRequestStore
	router     *stubRouter
	dispatcher *stubDispatcher
	mode       *stubModeController
	guard      *memoryGuard
	events     *recordingEventSink
	metrics    *captureMetricsRecorder
	logger     *captureLogger
}

func newServiceFixture(opts ...Option) (*serviceFixture, error) {
	mode := newStubModeController()
	fixture := &serviceFixture{
		store:      NewMemorySignatureRequestStore(),
		router:     &stubRouter{decision: RoutingDecision{Channel: ChannelSMS}},
		dispatcher: &stubDispatcher{mode: mode},
		mode:       mode,
		guard:      newMemoryGuard(),
		events:     &recordingEventSink{},
		metrics:    &captureMetricsRecorder{},
		logger:     newCaptureLogger(),
	}
	base := []Option{
		WithSignatureRequestStore(fixture.store),
		WithRouter(fixture.router),
		WithDispatcher(fixture.dispatcher),
		WithModeController(fixture.mode),
		WithIdempotencyGuard(fixture.guard),
		WithEventSink(fixture.events),
		WithMetricsRecorder(fixture.metrics),
		WithLoggerProvider(stubLoggerProvider{logger: fixture.logger}),
		WithLogger(fixture.logger),
	}
	svc, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	fixture.svc = svc
	return fixture, nil
}

func sampleCreateInput(key string) CreateSignatureRequestInput {
	return CreateSignatureRequestInput{
		IdempotencyKey: key,
		CustomerID:     "cust-1",
		Transaction: TransactionContext{
			Amount:     250,
			Currency:   "EUR",
			MerchantID: "m-1",
			OrderID:    "order-1",
		},
		Recipient: Recipient{Address: "+34600000000"},
	}
}
