package gateway

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Target produces connection strings. *pgembed.Handle satisfies it.
type Target interface {
	URI(db string) string
}

// Conn is a single connection owned by one call.
type Conn struct {
	Database string

	pg        *pgx.Conn
	closeOnce sync.Once
}

// Connect opens a connection to db on t. It does not retry; an unreachable
// engine or rejected credentials return a *ConnectError.
func Connect(ctx context.Context, t Target, db string) (*Conn, error) {
	cfg, err := pgx.ParseConfig(t.URI(db))
	if err != nil {
		return nil, &ConnectError{Op: "parse", Database: db, Err: err}
	}

	pg, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, &ConnectError{Op: "connect", Database: db, Err: err}
	}
	return &Conn{Database: db, pg: pg}, nil
}

// Close closes the connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		err = c.pg.Close(ctx)
	})
	return err
}
