package dispatch

import (
	"fmt"

	"github.com/goliatone/go-signatures/core"
)

const DefaultMaxAttempts = 3

// LoopDetectedError reports why a fallback hop was refused.
type LoopDetectedError struct {
	ProviderType core.ProviderType
	Attempts     int
	Reason       string
}

func (e *LoopDetectedError) Error() string {
	return fmt.Sprintf("dispatch: fallback loop detected at %s after %d attempts: %s", e.ProviderType, e.Attempts, e.Reason)
}

func (e *LoopDetectedError) Is(target error) bool {
	return target == core.ErrLoopDetected
}

// LoopGuard tracks the providers tried for one dispatch. It is not safe for
// concurrent use and must not outlive the dispatch that created it.
type LoopGuard struct {
	max      int
	attempts int
	seen     map[core.ProviderType]struct{}
}

func NewLoopGuard(maxAttempts int) *LoopGuard {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &LoopGuard{max: maxAttempts, seen: map[core.ProviderType]struct{}{}}
}

// RecordAttempt admits providerType or refuses it when it was already tried or
// the attempt budget is spent.
func (g *LoopGuard) RecordAttempt(providerType core.ProviderType) error {
	if _, ok := g.seen[providerType]; ok {
		return &LoopDetectedError{ProviderType: providerType, Attempts: g.attempts, Reason: "provider already attempted"}
	}
	if g.attempts >= g.max {
		return &LoopDetectedError{ProviderType: providerType, Attempts: g.attempts, Reason: "max attempts reached"}
	}
	g.seen[providerType] = struct{}{}
	g.attempts++
	return nil
}

func (g *LoopGuard) Attempts() int { return g.attempts }

func (g *LoopGuard) Max() int { return g.max }
