package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-signatures/core"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db    *bun.DB
	codes core.CodeSealer

	requestStore        *SignatureRequestStore
	routingRuleStore    *RoutingRuleStore
	providerConfigStore *ProviderConfigStore
	idempotencyStore    *IdempotencyStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.requestStore != nil && f.idempotencyStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

// WithCodeSealer makes the signature request store seal challenge codes at rest.
func (f *RepositoryFactory) WithCodeSealer(sealer core.CodeSealer) *RepositoryFactory {
	if f == nil {
		return nil
	}
	f.codes = sealer
	if f.requestStore != nil {
		f.requestStore.WithCodeSealer(sealer)
	}
	return f
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) SignatureRequestStore() core.SignatureRequestStore {
	if f == nil || f.requestStore == nil {
		return nil
	}
	return f.requestStore
}

func (f *RepositoryFactory) RoutingRuleRepository() core.RoutingRuleRepository {
	if f == nil || f.routingRuleStore == nil {
		return nil
	}
	return f.routingRuleStore
}

func (f *RepositoryFactory) ProviderConfigStore() core.ProviderConfigStore {
	if f == nil || f.providerConfigStore == nil {
		return nil
	}
	return f.providerConfigStore
}

func (f *RepositoryFactory) IdempotencyStore() core.IdempotencyStore {
	if f == nil || f.idempotencyStore == nil {
		return nil
	}
	return f.idempotencyStore
}

func (f *RepositoryFactory) initStores() error {
	requestStore, err := NewSignatureRequestStore(f.db)
	if err != nil {
		return err
	}
	f.requestStore = requestStore.WithCodeSealer(f.codes)

	routingRuleStore, err := NewRoutingRuleStore(f.db)
	if err != nil {
		return err
	}
	f.routingRuleStore = routingRuleStore

	providerConfigStore, err := NewProviderConfigStore(f.db)
	if err != nil {
		return err
	}
	f.providerConfigStore = providerConfigStore

	idempotencyStore, err := NewIdempotencyStore(f.db)
	if err != nil {
		return err
	}
	f.idempotencyStore = idempotencyStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
