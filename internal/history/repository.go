// Package history records every statement sent through the query gateway
// in a local SQLite file and lists them back for the UI and the REPL.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome values stored for an entry.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Source values identify which surface issued the statement.
const (
	SourceAPI  = "api"
	SourceREPL = "repl"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// timestampLayout keeps every created_at the same width so the text
	// column sorts in time order.
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrNotFound is returned by Get when no entry has the requested ID.
var ErrNotFound = errors.New("history: entry not found")

// Entry is one executed statement.
type Entry struct {
	ID        string        `json:"id"`
	Statement string        `json:"statement"`
	Database  string        `json:"database"`
	Outcome   string        `json:"outcome"`
	RowCount  int           `json:"row_count"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"-"`
	Source    string        `json:"source"`
	CreatedAt time.Time     `json:"created_at"`
}

// DurationMS is the execution time in milliseconds, as serialised to the UI.
func (e Entry) DurationMS() int64 {
	return e.Duration.Milliseconds()
}

// Filter controls which entries List returns.
type Filter struct {
	Outcome string // optional: ok or error
	Source  string // optional: api or repl
	Search  string // optional: substring of the statement text
	Limit   int    // default 50, max 500
	Offset  int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the history operations used by actions and the API.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores entries in the statement_history table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts an entry. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "stm-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeOK
		if e.Error != "" {
			e.Outcome = OutcomeError
		}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO statement_history (id, statement, database, outcome, row_count, error, duration_ms, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Statement, e.Database, e.Outcome, e.RowCount,
		nullableString(e.Error), e.Duration.Milliseconds(), e.Source,
		e.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// Get returns a single entry by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, statement, database, outcome, row_count, error, duration_ms, source, created_at
		 FROM statement_history WHERE id = ?`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Search != "" {
		conditions = append(conditions, "instr(statement, ?) > 0")
		args = append(args, filter.Search)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM statement_history " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting history entries: %w", err)
	}

	query := `SELECT id, statement, database, outcome, row_count, error, duration_ms, source, created_at
		FROM statement_history ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?` //nolint:gosec // WHERE built from parameterised conditions
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var errText sql.NullString
	var durationMS int64
	var createdAt string

	if err := s.Scan(&e.ID, &e.Statement, &e.Database, &e.Outcome, &e.RowCount,
		&errText, &durationMS, &e.Source, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning history entry: %w", err)
	}

	if errText.Valid {
		e.Error = errText.String
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing history timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return &e, nil
}

// nullableString returns nil for empty strings so nullable TEXT columns stay NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
