package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	signaturemigrations "github.com/goliatone/go-signatures/migrations"
	sqlstore "github.com/goliatone/go-signatures/store/sql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
)

type databaseOptions struct {
	driver      string
	dsn         string
	debug       bool
	pingTimeout time.Duration
	migrate     bool
}

func (o *databaseOptions) bind(cmd *cobra.Command, withMigrate bool) {
	flags := cmd.Flags()
	flags.StringVar(&o.driver, "db-driver", envOr("SIGNATURES_DB_DRIVER", "sqlite"), "database driver: postgres or sqlite")
	flags.StringVar(&o.dsn, "db-dsn", envOr("SIGNATURES_DB_DSN", "file:signatures.db?cache=shared&_foreign_keys=on"), "database connection string")
	flags.BoolVar(&o.debug, "db-debug", false, "log every SQL query")
	flags.DurationVar(&o.pingTimeout, "db-ping-timeout", 5*time.Second, "database ping timeout")
	if withMigrate {
		flags.BoolVar(&o.migrate, "migrate", true, "apply schema migrations on start")
	}
}

type persistenceConfig struct {
	driver      string
	server      string
	debug       bool
	pingTimeout time.Duration
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return c.pingTimeout }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-signatures" }

// database bundles the persistence client with the migration dialect it speaks.
type database struct {
	client  *persistence.Client
	dialect signaturemigrations.Dialect
}

func openDatabase(opts databaseOptions) (*database, error) {
	driver, err := signaturemigrations.ResolveDriver(opts.driver)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver.Name, opts.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver.Name, err)
	}
	if driver.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(driver.MaxOpenConns)
	}

	client, err := persistence.New(persistenceConfig{
		driver:      driver.Name,
		server:      opts.dsn,
		debug:       opts.debug,
		pingTimeout: opts.pingTimeout,
	}, sqlDB, driver.BunDialect())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect %s database: %w", driver.Name, err)
	}
	return &database{client: client, dialect: driver.Dialect}, nil
}

func (d *database) migrate(ctx context.Context) error {
	return signaturemigrations.Apply(ctx, d.client, d.dialect)
}

func (d *database) stores() (*sqlstore.RepositoryFactory, error) {
	return sqlstore.NewRepositoryFactoryFromPersistence(d.client)
}

func (d *database) Close() error {
	return d.client.Close()
}

// connect opens the database and, when asked, brings the schema up to date.
func connect(ctx context.Context, opts databaseOptions) (*database, error) {
	db, err := openDatabase(opts)
	if err != nil {
		return nil, err
	}
	if opts.migrate {
		if err := db.migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return db, nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func newMigrateCmd(_ *rootOptions) *cobra.Command {
	db := databaseOptions{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the signature store schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db.migrate = true
			conn, err := connect(cmd.Context(), db)
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", conn.dialect)
			return nil
		},
	}
	db.bind(cmd, false)
	return cmd
}
