package pgembed

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// driver
	_ "github.com/golang-migrate/migrate/v4/source/file"     // file:// source
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// duplicateDatabase is the SQLSTATE for CREATE DATABASE on an existing name.
const duplicateDatabase = "42P04"

// EnsureDatabase makes name exist and be fully migrated: existence check,
// CREATE DATABASE if absent, then migrations. It is idempotent.
// Failures are reported as *InitError.
func (h *Handle) EnsureDatabase(ctx context.Context, name string) error {
	exists, err := h.DatabaseExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		if err := h.CreateDatabase(ctx, name); err != nil {
			return err
		}
	}
	return h.Migrate(ctx, name)
}

// DatabaseExists reports whether name is present in pg_database.
func (h *Handle) DatabaseExists(ctx context.Context, name string) (bool, error) {
	if !h.IsRunning() {
		return false, &InitError{Op: "check", Database: name, Err: ErrNotRunning}
	}

	conn, err := pgx.Connect(ctx, h.URI(maintenanceDB))
	if err != nil {
		return false, &InitError{Op: "check", Database: name, Err: err}
	}
	defer conn.Close(context.Background()) //nolint:errcheck // Short-lived

	var exists bool
	err = conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return false, &InitError{Op: "check", Database: name, Err: err}
	}
	return exists, nil
}

// CreateDatabase creates name. A concurrent creator winning the race is not an error.
func (h *Handle) CreateDatabase(ctx context.Context, name string) error {
	if !h.IsRunning() {
		return &InitError{Op: "create", Database: name, Err: ErrNotRunning}
	}

	conn, err := pgx.Connect(ctx, h.URI(maintenanceDB))
	if err != nil {
		return &InitError{Op: "create", Database: name, Err: err}
	}
	defer conn.Close(context.Background()) //nolint:errcheck // Short-lived

	_, err = conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == duplicateDatabase {
		return nil
	}
	if err != nil {
		return &InitError{Op: "create", Database: name, Err: err}
	}

	h.logger.Info("database created", "database", name)
	return nil
}

// Migrate applies the migrations in Settings.MigrationDir to name. Without
// a migration dir it succeeds without doing anything. Already-applied
// migrations are skipped.
func (h *Handle) Migrate(ctx context.Context, name string) error {
	if !h.IsRunning() {
		return &InitError{Op: "migrate", Database: name, Err: ErrNotRunning}
	}
	if h.settings.MigrationDir == "" {
		return nil
	}

	dir, err := filepath.Abs(h.settings.MigrationDir)
	if err != nil {
		return &InitError{Op: "migrate", Database: name, Err: err}
	}

	m, err := migrate.New("file://"+filepath.ToSlash(dir), migrateURL(h.URI(name)))
	if err != nil {
		return &InitError{Op: "migrate", Database: name, Err: err}
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			h.logger.Warn("closing migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	if err != nil {
		return &InitError{Op: "migrate", Database: name, Err: err}
	}

	if version, dirty, verr := m.Version(); verr == nil {
		h.logger.Info("migrations applied", "database", name, "version", version, "dirty", dirty)
	}
	return nil
}

// migrateURL switches a postgres:// URI to golang-migrate's pgx v5 scheme.
func migrateURL(uri string) string {
	return "pgx5://" + strings.TrimPrefix(uri, "postgres://")
}

