package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySignatureRequestStore keeps aggregates as snapshots so callers never share state.
type MemorySignatureRequestStore struct {
	mu    sync.RWMutex
	items map[string]SignatureRequestSnapshot
}

func NewMemorySignatureRequestStore() *MemorySignatureRequestStore {
	return &MemorySignatureRequestStore{items: map[string]SignatureRequestSnapshot{}}
}

func (s *MemorySignatureRequestStore) Save(_ context.Context, req *SignatureRequest) error {
	if req == nil {
		return fmt.Errorf("core: signature request is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[req.ID()] = req.Snapshot()
	return nil
}

func (s *MemorySignatureRequestStore) Get(_ context.Context, id string) (*SignatureRequest, error) {
	s.mu.RLock()
	snapshot, ok := s.items[strings.TrimSpace(id)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSignatureRequestNotFound, id)
	}
	return RestoreSignatureRequest(snapshot)
}

func (s *MemorySignatureRequestStore) ListByStatus(_ context.Context, status RequestStatus, limit int) ([]*SignatureRequest, error) {
	s.mu.RLock()
	snapshots := make([]SignatureRequestSnapshot, 0, len(s.items))
	for _, snapshot := range s.items {
		if snapshot.Status == status {
			snapshots = append(snapshots, snapshot)
		}
	}
	s.mu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	if limit > 0 && len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}
	out := make([]*SignatureRequest, 0, len(snapshots))
	for _, snapshot := range snapshots {
		req, err := RestoreSignatureRequest(snapshot)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

type MemoryRoutingRuleStore struct {
	mu    sync.RWMutex
	rules map[string]RoutingRule
	clock Clock
}

func NewMemoryRoutingRuleStore(rules ...RoutingRule) *MemoryRoutingRuleStore {
	store := &MemoryRoutingRuleStore{rules: map[string]RoutingRule{}}
	for _, rule := range rules {
		if strings.TrimSpace(rule.ID) == "" {
			rule.ID = uuid.NewString()
		}
		store.rules[rule.ID] = rule
	}
	return store
}

func (s *MemoryRoutingRuleStore) ListActiveRules(context.Context) ([]RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoutingRule, 0, len(s.rules))
	for _, rule := range s.rules {
		if rule.Active() {
			out = append(out, rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryRoutingRuleStore) GetRule(_ context.Context, id string) (RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[strings.TrimSpace(id)]
	if !ok || rule.Deleted {
		return RoutingRule{}, fmt.Errorf("%w: %s", ErrRoutingRuleNotFound, id)
	}
	return rule, nil
}

func (s *MemoryRoutingRuleStore) SaveRule(_ context.Context, rule RoutingRule) (RoutingRule, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(rule.ID) == "" {
		rule.ID = uuid.NewString()
	}
	if existing, ok := s.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
		rule.CreatedBy = existing.CreatedBy
	} else {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return rule, nil
}

func (s *MemoryRoutingRuleStore) DeleteRule(_ context.Context, id string, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[strings.TrimSpace(id)]
	if !ok || rule.Deleted {
		return fmt.Errorf("%w: %s", ErrRoutingRuleNotFound, id)
	}
	rule.Deleted = true
	rule.Enabled = false
	rule.UpdatedBy = actor
	rule.UpdatedAt = s.clock.Now()
	s.rules[rule.ID] = rule
	return nil
}

type MemoryProviderConfigStore struct {
	mu      sync.RWMutex
	configs map[ProviderType]ProviderConfig
}

func NewMemoryProviderConfigStore(configs ...ProviderConfig) *MemoryProviderConfigStore {
	store := &MemoryProviderConfigStore{configs: map[ProviderType]ProviderConfig{}}
	for _, cfg := range configs {
		store.configs[cfg.Type] = cfg
	}
	return store
}

func (s *MemoryProviderConfigStore) ListProviderConfigs(context.Context) ([]ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProviderConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (s *MemoryProviderConfigStore) SaveProviderConfig(_ context.Context, cfg ProviderConfig) (ProviderConfig, error) {
	if err := cfg.Validate(); err != nil {
		return ProviderConfig{}, err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.configs[cfg.Type]; ok {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else {
		if cfg.ID == "" {
			cfg.ID = uuid.NewString()
		}
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	s.configs[cfg.Type] = cfg
	return cfg, nil
}
