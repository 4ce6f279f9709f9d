package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	signatures "github.com/goliatone/go-signatures"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const rootPath = "data/sql/migrations"

// Driver is what a caller needs to open a signature store database: the
// database/sql driver name, the schema dialect and its connection limit.
type Driver struct {
	Name         string
	Dialect      Dialect
	MaxOpenConns int
}

// ResolveDriver maps a user supplied driver name to a supported Driver.
func ResolveDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg":
		return Driver{Name: "postgres", Dialect: DialectPostgres}, nil
	case "sqlite", "sqlite3":
		// sqlite allows one writer at a time.
		return Driver{Name: "sqlite3", Dialect: DialectSQLite, MaxOpenConns: 1}, nil
	default:
		return Driver{}, fmt.Errorf("migrations: unsupported database driver %q", name)
	}
}

func (d Driver) BunDialect() schema.Dialect {
	if d.Dialect == DialectPostgres {
		return pgdialect.New()
	}
	return sqlitedialect.New()
}

type FilesystemSpec struct {
	Dialect Dialect
	Path    string
	FS      fs.FS
}

// Filesystems returns the postgres and sqlite schema trees. An explicit source
// replaces the embedded migrations.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := signatures.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}

	base, err := fs.Sub(root, rootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", rootPath, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: rootPath, FS: base},
		{Dialect: DialectSQLite, Path: rootPath + "/sqlite", FS: sqliteFS},
	}
	for _, fsys := range filesystems {
		matches, globErr := fs.Glob(fsys.FS, "*.up.sql")
		if globErr != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", fsys.Dialect, fsys.Path, globErr)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", fsys.Dialect, fsys.Path)
		}
	}
	return filesystems, nil
}

func Filesystem(dialect Dialect, sources ...fs.FS) (FilesystemSpec, error) {
	filesystems, err := Filesystems(sources...)
	if err != nil {
		return FilesystemSpec{}, err
	}
	for _, fsys := range filesystems {
		if fsys.Dialect == dialect {
			return fsys, nil
		}
	}
	return FilesystemSpec{}, fmt.Errorf("migrations: no schema for dialect %q", dialect)
}

// Migrator is the part of a go-persistence-bun client that applies migrations.
type Migrator interface {
	RegisterSQLMigrations(migrations ...fs.FS) *persistence.Migrations
	Migrate(ctx context.Context) error
}

// Apply registers the schema for dialect with client and runs pending migrations.
func Apply(ctx context.Context, client Migrator, dialect Dialect) error {
	if client == nil {
		return fmt.Errorf("migrations: migrator is required")
	}
	fsys, err := Filesystem(dialect)
	if err != nil {
		return err
	}
	client.RegisterSQLMigrations(fsys.FS)
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("migrations: apply %s (%s): %w", dialect, fsys.Path, err)
	}
	return nil
}

var _ Migrator = (*persistence.Client)(nil)
