package idempotency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-signatures/core"
)

// Guard makes request retries safe: the first request for a key claims it, later
// requests either replay the stored response or are rejected.
type Guard struct {
	store     core.IdempotencyStore
	ttl       time.Duration
	lease     time.Duration
	clock     core.Clock
	telemetry core.Telemetry
}

type Option func(*Guard)

func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithPendingLease bounds how long an unfinished claim holds its key. Completed
// records keep the full ttl.
func WithPendingLease(lease time.Duration) Option {
	return func(g *Guard) {
		if lease > 0 {
			g.lease = lease
		}
	}
}

func WithClock(clock core.Clock) Option {
	return func(g *Guard) {
		g.clock = clock
	}
}

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(g *Guard) {
		g.telemetry = telemetry
	}
}

func NewGuard(store core.IdempotencyStore, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("idempotency: store is required")
	}
	g := &Guard{
		store:     store,
		ttl:       core.DefaultConfig().Idempotency.TTL,
		lease:     core.DefaultConfig().Idempotency.PendingLease,
		telemetry: core.NewTelemetry(nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.lease > g.ttl {
		g.lease = g.ttl
	}
	return g, nil
}

// CheckAndStore claims key for requestHash. It returns the cached response for a
// completed replay, nil when the caller now owns the key, ErrIdempotencyKeyConflict
// when the key was used for a different request and ErrIdempotencyInProgress while
// another request still holds the claim.
func (g *Guard) CheckAndStore(ctx context.Context, key string, requestHash string) (*core.CachedResponse, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("idempotency: key is required")
	}
	now := g.clock.Now()
	existing, claimed, err := g.store.Claim(ctx, core.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		State:       core.IdempotencyStatePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.lease),
	})
	if err != nil {
		return nil, fmt.Errorf("idempotency: claim %s: %w", key, err)
	}
	if claimed {
		g.telemetry.Counter(ctx, "idempotency.claimed", 1, nil)
		return nil, nil
	}
	if existing.RequestHash != requestHash {
		g.telemetry.Counter(ctx, "idempotency.conflict", 1, nil)
		return nil, fmt.Errorf("%w: key %s", core.ErrIdempotencyKeyConflict, key)
	}
	if existing.State != core.IdempotencyStateCompleted {
		g.telemetry.Counter(ctx, "idempotency.in_progress", 1, nil)
		return nil, fmt.Errorf("%w: key %s", core.ErrIdempotencyInProgress, key)
	}
	g.telemetry.Counter(ctx, "idempotency.replayed", 1, nil)
	return &core.CachedResponse{
		StatusCode: existing.StatusCode,
		Body:       append([]byte(nil), existing.Body...),
	}, nil
}

// StoreResponse completes the claim and keeps the response for replay until ttl
// has passed.
func (g *Guard) StoreResponse(ctx context.Context, key string, requestHash string, statusCode int, body []byte) error {
	expiresAt := g.clock.Now().Add(g.ttl)
	if err := g.store.Complete(ctx, strings.TrimSpace(key), requestHash, statusCode, body, expiresAt); err != nil {
		return fmt.Errorf("idempotency: complete %s: %w", key, err)
	}
	return nil
}

// Abandon releases a pending claim after a failed execution so the client may retry.
func (g *Guard) Abandon(ctx context.Context, key string, requestHash string) error {
	if err := g.store.Release(ctx, strings.TrimSpace(key), requestHash); err != nil {
		return fmt.Errorf("idempotency: release %s: %w", key, err)
	}
	return nil
}

// Sweep deletes expired records. It is the only path that removes completed records.
func (g *Guard) Sweep(ctx context.Context) (int, error) {
	removed, err := g.store.DeleteExpired(ctx, g.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("idempotency: sweep: %w", err)
	}
	if removed > 0 {
		g.telemetry.Info(ctx, "expired idempotency records removed", map[string]any{"removed": removed})
	}
	g.telemetry.Counter(ctx, "idempotency.swept", int64(removed), nil)
	return removed, nil
}

var _ core.IdempotencyGuard = (*Guard)(nil)
