package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-signatures/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProviderConfigStore keeps one configuration row per provider type.
type ProviderConfigStore struct {
	db    *bun.DB
	repo  repository.Repository[*providerConfigRecord]
	clock core.Clock
}

func NewProviderConfigStore(db *bun.DB) (*ProviderConfigStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*providerConfigRecord](db, providerConfigHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid provider config repository wiring: %w", err)
		}
	}
	return &ProviderConfigStore{db: db, repo: repo}, nil
}

func (s *ProviderConfigStore) ListProviderConfigs(ctx context.Context) ([]core.ProviderConfig, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: provider config store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("provider_type ASC"))
	if err != nil {
		return nil, err
	}
	out := make([]core.ProviderConfig, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// SaveProviderConfig inserts or replaces the configuration for cfg.Type. The
// original id and creation time survive updates.
func (s *ProviderConfigStore) SaveProviderConfig(ctx context.Context, cfg core.ProviderConfig) (core.ProviderConfig, error) {
	if s == nil || s.db == nil {
		return core.ProviderConfig{}, fmt.Errorf("sqlstore: provider config store is not configured")
	}
	if err := cfg.Validate(); err != nil {
		return core.ProviderConfig{}, err
	}
	now := s.clock.Now()

	var saved core.ProviderConfig
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &providerConfigRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.provider_type = ?", string(cfg.Type)).
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if cfg.ID == "" {
				cfg.ID = uuid.NewString()
			}
			cfg.CreatedAt = now
			cfg.UpdatedAt = now
			record := newProviderConfigRecord(cfg)
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				return insertErr
			}
			saved = record.toDomain()
			return nil
		case err != nil:
			return err
		}

		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
		cfg.UpdatedAt = now
		record := newProviderConfigRecord(cfg)
		if _, updateErr := tx.NewUpdate().
			Model(record).
			ExcludeColumn("created_at").
			Where("id = ?", record.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		saved = record.toDomain()
		return nil
	})
	if err != nil {
		return core.ProviderConfig{}, err
	}
	return saved, nil
}

func (s *ProviderConfigStore) WithClock(clock core.Clock) *ProviderConfigStore {
	s.clock = clock
	return s
}
