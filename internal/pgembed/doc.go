// Package pgembed provisions and supervises a local PostgreSQL server.
//
// A Handle is created once per process by Setup, which locks the storage
// directory, locates (or downloads) the engine binaries and initialises the
// data directory. Start launches the server and blocks until it accepts
// connections; EnsureDatabase creates a database and applies migrations.
// Once Start has returned, the Handle is read-only and safe to share
// between goroutines.
//
// Binaries are taken from Settings.BinaryDir when set. Otherwise they are
// fetched from a Maven repository hosting the
// io.zonky.test.postgres:embedded-postgres-binaries-<os>-<arch> jars and
// cached under Settings.CacheDir.
//
// PostgreSQL refuses to run as root; initdb fails with a clear message in
// that case.
//
// Usage:
//
//	h, err := pgembed.Setup(ctx, pgembed.Settings{Port: 5432, StorageDir: "./data/pg", Persistent: true})
//	if err != nil {
//	    return err
//	}
//	defer h.Stop()
//
//	if err := h.Start(ctx); err != nil {
//	    return err
//	}
//	if err := h.EnsureDatabase(ctx, "test"); err != nil {
//	    return err
//	}
package pgembed
