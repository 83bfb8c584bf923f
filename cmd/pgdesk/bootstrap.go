package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/pgdesk/internal/history"
	"github.com/nerrad567/pgdesk/internal/infrastructure/config"
	"github.com/nerrad567/pgdesk/internal/infrastructure/database"
	"github.com/nerrad567/pgdesk/internal/infrastructure/logging"
	"github.com/nerrad567/pgdesk/internal/pgembed"
	"github.com/nerrad567/pgdesk/migrations"
)

// engineSettings maps the engine config section onto supervisor settings.
func engineSettings(cfg *config.Config, log *logging.Logger) pgembed.Settings {
	return pgembed.Settings{
		Port:          cfg.Engine.Port,
		StorageDir:    cfg.Engine.StorageDir,
		Persistent:    cfg.Engine.Persistent,
		MigrationDir:  cfg.Engine.MigrationDir,
		Username:      cfg.Engine.Username,
		Password:      cfg.Engine.Password,
		AuthMethod:    pgembed.AuthMethod(cfg.Engine.AuthMethod),
		Version:       cfg.Engine.Version,
		CacheDir:      cfg.Engine.CacheDir,
		BinaryDir:     cfg.Engine.BinaryDir,
		RepositoryURL: cfg.Engine.RepositoryURL,
		StartTimeout:  cfg.GetStartTimeout(),
		Logger:        log.With("component", "engine"),
	}
}

// startEngine provisions, starts and initialises the configured database.
// On failure after Start the engine is stopped again.
func startEngine(ctx context.Context, cfg *config.Config, log *logging.Logger) (*pgembed.Handle, error) {
	handle, err := pgembed.Setup(ctx, engineSettings(cfg, log))
	if err != nil {
		return nil, fmt.Errorf("provisioning engine: %w", err)
	}

	if err := handle.Start(ctx); err != nil {
		stopEngine(handle, log)
		return nil, fmt.Errorf("starting engine: %w", err)
	}
	log.Info("engine started", "port", handle.Port(), "persistent", cfg.Engine.Persistent)

	if err := handle.EnsureDatabase(ctx, cfg.Engine.Database); err != nil {
		stopEngine(handle, log)
		return nil, fmt.Errorf("initialising database %q: %w", cfg.Engine.Database, err)
	}
	log.Info("database ready", "database", cfg.Engine.Database)

	return handle, nil
}

// stopEngine is the deferred shutdown step shared by serve and repl.
func stopEngine(handle *pgembed.Handle, log *logging.Logger) {
	log.Info("stopping engine")
	if err := handle.Stop(); err != nil {
		log.Error("error stopping engine", "error", err)
	}
}

// openHistory opens and migrates the history store. It returns nils when
// history is disabled.
func openHistory(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, history.Repository, error) {
	if !cfg.History.Enabled {
		log.Info("statement history disabled")
		return nil, nil, nil
	}

	db, err := database.Open(database.Config{
		Path:        cfg.History.Path,
		WALMode:     cfg.History.WALMode,
		BusyTimeout: cfg.History.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening history database: %w", err)
	}

	applied, err := db.Migrate(ctx, migrations.Source())
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("running history migrations: %w", err)
	}
	log.Info("history database ready", "path", cfg.History.Path, "migrations_applied", applied)

	return db, history.NewSQLiteRepository(db.DB), nil
}
