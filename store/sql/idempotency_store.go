package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-signatures/core"
	"github.com/uptrace/bun"
)

var ErrIdempotencyRecordNotFound = errors.New("sqlstore: idempotency record not found")

// IdempotencyStore relies on the primary key of idempotency_records so that two
// concurrent claims for the same key cannot both insert.
type IdempotencyStore struct {
	db *bun.DB
}

func NewIdempotencyStore(db *bun.DB) (*IdempotencyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &IdempotencyStore{db: db}, nil
}

func (s *IdempotencyStore) Claim(ctx context.Context, record core.IdempotencyRecord) (core.IdempotencyRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.IdempotencyRecord{}, false, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	record.Key = strings.TrimSpace(record.Key)
	if record.Key == "" {
		return core.IdempotencyRecord{}, false, fmt.Errorf("sqlstore: idempotency key is required")
	}
	record.State = core.IdempotencyStatePending
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	now := record.CreatedAt.UTC()

	var (
		existing core.IdempotencyRecord
		claimed  bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// An expired holder is treated as absent.
		if _, err := tx.NewDelete().
			Model((*idempotencyRecord)(nil)).
			Where("idempotency_key = ?", record.Key).
			Where("expires_at <= ?", now).
			Exec(ctx); err != nil {
			return err
		}

		result, err := tx.NewInsert().
			Model(newIdempotencyRecord(record)).
			On("CONFLICT (idempotency_key) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 1 {
			claimed = true
			return nil
		}

		current := &idempotencyRecord{}
		if err := tx.NewSelect().
			Model(current).
			Where("?TableAlias.idempotency_key = ?", record.Key).
			Limit(1).
			Scan(ctx); err != nil {
			return err
		}
		existing = current.toDomain()
		return nil
	})
	if err != nil {
		return core.IdempotencyRecord{}, false, err
	}
	return existing, claimed, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, requestHash string, statusCode int, body []byte, expiresAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*idempotencyRecord)(nil)).
		Set("state = ?", string(core.IdempotencyStateCompleted)).
		Set("status_code = ?", statusCode).
		Set("body = ?", append([]byte(nil), body...)).
		Set("expires_at = ?", expiresAt.UTC()).
		Where("idempotency_key = ?", strings.TrimSpace(key)).
		Where("request_hash = ?", requestHash).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrIdempotencyRecordNotFound, key)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string, requestHash string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*idempotencyRecord)(nil)).
		Where("idempotency_key = ?", strings.TrimSpace(key)).
		Where("request_hash = ?", requestHash).
		Where("state = ?", string(core.IdempotencyStatePending)).
		Exec(ctx)
	return err
}

func (s *IdempotencyStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*idempotencyRecord)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// Get returns the stored record for key, expired or not.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (core.IdempotencyRecord, error) {
	if s == nil || s.db == nil {
		return core.IdempotencyRecord{}, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	record := &idempotencyRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.idempotency_key = ?", strings.TrimSpace(key)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.IdempotencyRecord{}, fmt.Errorf("%w: %s", ErrIdempotencyRecordNotFound, key)
		}
		return core.IdempotencyRecord{}, err
	}
	return record.toDomain(), nil
}
