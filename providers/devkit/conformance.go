package devkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-signatures/core"
)

// ValidateProviderPortConformance checks that port answers a delivery with a
// normalized result and reports health.
func ValidateProviderPortConformance(
	ctx context.Context,
	port core.ProviderPort,
	delivery core.Delivery,
) error {
	if port == nil {
		return fmt.Errorf("devkit: provider port is required")
	}
	result, err := port.Send(ctx, delivery)
	if err != nil {
		return err
	}
	switch result.Outcome {
	case core.SendOutcomeSuccess:
		if strings.TrimSpace(result.ProviderProof) == "" {
			return fmt.Errorf("devkit: successful send must carry a delivery proof")
		}
	case core.SendOutcomeFailure:
		if strings.TrimSpace(result.Code) == "" {
			return fmt.Errorf("devkit: failed send must carry an error code")
		}
	case core.SendOutcomeTimeout:
	default:
		return fmt.Errorf("devkit: unknown send outcome %q", result.Outcome)
	}

	health, err := port.CheckHealth(ctx)
	if err != nil {
		return err
	}
	if health.State != core.HealthUp && health.State != core.HealthDown {
		return fmt.Errorf("devkit: unknown health state %q", health.State)
	}
	return nil
}

// ValidateIdempotencyStoreConformance exercises the claim, replay, release and
// expiry contract of an idempotency store using key and keys derived from it.
func ValidateIdempotencyStoreConformance(
	ctx context.Context,
	store core.IdempotencyStore,
	key string,
) error {
	if store == nil {
		return fmt.Errorf("devkit: idempotency store is required")
	}
	now := time.Now().UTC()
	record := core.IdempotencyRecord{
		Key:         key,
		RequestHash: "hash-a",
		State:       core.IdempotencyStatePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}

	if _, claimed, err := store.Claim(ctx, record); err != nil {
		return err
	} else if !claimed {
		return fmt.Errorf("devkit: first claim should be accepted")
	}
	existing, claimed, err := store.Claim(ctx, record)
	if err != nil {
		return err
	}
	if claimed {
		return fmt.Errorf("devkit: second claim should not be accepted while pending")
	}
	if existing.State != core.IdempotencyStatePending || existing.RequestHash != "hash-a" {
		return fmt.Errorf("devkit: expected pending record for hash-a, got %q %q", existing.State, existing.RequestHash)
	}

	if err := store.Complete(ctx, key, "hash-a", 201, []byte(`{"ok":true}`), now.Add(2*time.Hour)); err != nil {
		return err
	}
	existing, claimed, err = store.Claim(ctx, record)
	if err != nil {
		return err
	}
	if claimed || existing.State != core.IdempotencyStateCompleted || existing.StatusCode != 201 || string(existing.Body) != `{"ok":true}` {
		return fmt.Errorf("devkit: completed record should be returned for replay")
	}
	if err := store.Release(ctx, key, "hash-a"); err != nil {
		return err
	}
	if _, claimed, err := store.Claim(ctx, record); err != nil {
		return err
	} else if claimed {
		return fmt.Errorf("devkit: release must not drop a completed record")
	}

	released := record
	released.Key = key + ":released"
	if _, _, err := store.Claim(ctx, released); err != nil {
		return err
	}
	if err := store.Release(ctx, released.Key, "hash-a"); err != nil {
		return err
	}
	if _, claimed, err := store.Claim(ctx, released); err != nil {
		return err
	} else if !claimed {
		return fmt.Errorf("devkit: released claim should be claimable again")
	}

	expired := record
	expired.Key = key + ":expired"
	expired.CreatedAt = now.Add(-2 * time.Hour)
	expired.ExpiresAt = now.Add(-time.Hour)
	if _, _, err := store.Claim(ctx, expired); err != nil {
		return err
	}
	fresh := record
	fresh.Key = expired.Key
	fresh.RequestHash = "hash-b"
	if _, claimed, err := store.Claim(ctx, fresh); err != nil {
		return err
	} else if !claimed {
		return fmt.Errorf("devkit: an expired record must be treated as absent")
	}

	if _, err := store.DeleteExpired(ctx, now); err != nil {
		return err
	}
	if _, claimed, err := store.Claim(ctx, record); err != nil {
		return err
	} else if claimed {
		return errors.New("devkit: sweep must keep live records")
	}
	return nil
}
