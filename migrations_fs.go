package signatures

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the schema for the SQL stores. SQLite variants live under
// data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
