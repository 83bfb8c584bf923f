// Package database provides the SQLite connection behind pgdesk's local
// statement history.
//
// This package manages:
//   - The connection, with WAL mode for concurrent readers
//   - Schema migrations from an fs.FS (normally the embedded migrations package)
//
// The history file is local state only; it is never the database that UI
// queries run against (that is the embedded PostgreSQL engine).
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.History.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.{up,down}.sql and
// are additive-only.
package database
