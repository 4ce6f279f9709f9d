package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-signatures/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RoutingRuleStore keeps routing rules with soft deletes. Deleted rules are never
// returned and cannot be edited.
type RoutingRuleStore struct {
	db    *bun.DB
	repo  repository.Repository[*routingRuleRecord]
	clock core.Clock
}

func NewRoutingRuleStore(db *bun.DB) (*RoutingRuleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*routingRuleRecord](db, routingRuleHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid routing rule repository wiring: %w", err)
		}
	}
	return &RoutingRuleStore{db: db, repo: repo}, nil
}

func (s *RoutingRuleStore) ListActiveRules(ctx context.Context) ([]core.RoutingRule, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: routing rule store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("enabled", "=", true),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("priority ASC"),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.RoutingRule, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *RoutingRuleStore) GetRule(ctx context.Context, id string) (core.RoutingRule, error) {
	record, err := s.find(ctx, id)
	if err != nil {
		return core.RoutingRule{}, err
	}
	return record.toDomain(), nil
}

func (s *RoutingRuleStore) SaveRule(ctx context.Context, rule core.RoutingRule) (core.RoutingRule, error) {
	if s == nil || s.repo == nil {
		return core.RoutingRule{}, fmt.Errorf("sqlstore: routing rule store is not configured")
	}
	if err := rule.Validate(); err != nil {
		return core.RoutingRule{}, err
	}
	now := s.clock.Now()
	rule.ID = strings.TrimSpace(rule.ID)
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	current, err := s.find(ctx, rule.ID)
	if errors.Is(err, core.ErrRoutingRuleNotFound) {
		rule.CreatedAt = now
		rule.UpdatedAt = now
		rule.Deleted = false
		record := newRoutingRuleRecord(rule)
		if _, insertErr := s.db.NewInsert().Model(record).Exec(ctx); insertErr != nil {
			return core.RoutingRule{}, insertErr
		}
		return record.toDomain(), nil
	}
	if err != nil {
		return core.RoutingRule{}, err
	}

	rule.CreatedAt = current.CreatedAt
	rule.CreatedBy = current.CreatedBy
	rule.UpdatedAt = now
	updated, err := s.repo.Update(ctx, newRoutingRuleRecord(rule), repository.UpdateByID(current.ID))
	if err != nil {
		return core.RoutingRule{}, err
	}
	return updated.toDomain(), nil
}

func (s *RoutingRuleStore) DeleteRule(ctx context.Context, id string, actor string) error {
	current, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	_, err = s.db.NewUpdate().
		Model((*routingRuleRecord)(nil)).
		Set("deleted_at = ?", now).
		Set("enabled = ?", false).
		Set("updated_by = ?", strings.TrimSpace(actor)).
		Set("updated_at = ?", now).
		Where("id = ?", current.ID).
		Exec(ctx)
	return err
}

func (s *RoutingRuleStore) find(ctx context.Context, id string) (*routingRuleRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: routing rule store is not configured")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("sqlstore: routing rule id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("id", "=", trimmed),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL").Limit(1)
		}),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrRoutingRuleNotFound, trimmed)
	}
	return records[0], nil
}

// WithClock overrides the time source used for audit timestamps.
func (s *RoutingRuleStore) WithClock(clock core.Clock) *RoutingRuleStore {
	s.clock = clock
	return s
}
