// Package migrations embeds the statement history schema into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/pgdesk/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

// Source returns the embedded history migrations for database.DB.Migrate.
func Source() database.Source {
	return database.Source{FS: migrationsFS, Dir: "."}
}
