package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/pgdesk/internal/gateway"
	"github.com/nerrad567/pgdesk/internal/history"
	"github.com/nerrad567/pgdesk/internal/infrastructure/influxdb"
	"github.com/nerrad567/pgdesk/internal/metrics"
	"github.com/nerrad567/pgdesk/internal/terminal"
)

// EventQueryExecuted is emitted after every statement.
const EventQueryExecuted = "query.executed"

const (
	defaultDatabase     = "test"
	defaultQueryTimeout = 30 * time.Second
	recordTimeout       = 5 * time.Second
)

// ErrTerminalUnavailable is returned by terminal actions when no session is attached.
var ErrTerminalUnavailable = errors.New("actions: terminal not available")

// Terminal is the part of terminal.Session the actions drive.
type Terminal interface {
	Write(p []byte) error
	Resize(rows, cols uint16) error
	Size() (rows, cols uint16)
}

// Telemetry receives one point per statement. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteQueryMetric(q influxdb.QueryPoint)
}

// Logger is the logging interface used by actions.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds the fixed settings.
type Config struct {
	// Database every statement runs against. Default "test".
	Database string

	// QueryTimeout bounds connect plus execute. Default 30s.
	QueryTimeout time.Duration

	// DefaultFormat is used by RunQueryFormat when the caller passes "".
	DefaultFormat gateway.Format
}

// Deps are the collaborators. Only Target is required.
type Deps struct {
	Target    gateway.Target
	Terminal  Terminal
	History   history.Repository
	Metrics   *metrics.Metrics
	Telemetry Telemetry
	Events    terminal.Emitter
	Logger    Logger
}

// Actions implements the UI command set.
type Actions struct {
	cfg  Config
	deps Deps
}

// New creates Actions.
func New(cfg Config, deps Deps) *Actions {
	if cfg.Database == "" {
		cfg.Database = defaultDatabase
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = gateway.FormatPipe
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	return &Actions{cfg: cfg, deps: deps}
}

// Database returns the database statements run against.
func (a *Actions) Database() string {
	return a.cfg.Database
}

// RunQuery executes statement and returns the pipe-encoded rows, or the
// error text when the statement or connection failed.
func (a *Actions) RunQuery(ctx context.Context, statement string) string {
	return a.Query(ctx, history.SourceAPI, statement).String()
}

// RunQueryFormat executes statement and encodes the result in format. Only
// an unknown format is returned as an error; statement failures are
// encoded like any other result.
func (a *Actions) RunQueryFormat(ctx context.Context, statement string, format gateway.Format) (string, error) {
	if format == "" {
		format = a.cfg.DefaultFormat
	}
	f, err := gateway.ParseFormat(string(format))
	if err != nil {
		return "", err
	}
	return gateway.Encode(a.Query(ctx, history.SourceAPI, statement), f)
}

// Query executes statement on behalf of source and returns the structured
// result.
func (a *Actions) Query(ctx context.Context, source, statement string) gateway.Result {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	result := gateway.Run(ctx, a.deps.Target, a.cfg.Database, statement)
	elapsed := time.Since(start)

	a.observe(source, statement, result, elapsed)
	return result
}

// observe fans the outcome out to history, metrics, telemetry and events.
func (a *Actions) observe(source, statement string, result gateway.Result, elapsed time.Duration) {
	entry := &history.Entry{
		Statement: statement,
		Database:  a.cfg.Database,
		Outcome:   history.OutcomeOK,
		RowCount:  len(result.Rows),
		Duration:  elapsed,
		Source:    source,
	}
	rows := len(result.Rows)
	if result.Failed() {
		entry.Outcome = history.OutcomeError
		entry.Error = result.Err
		entry.RowCount = 0
		rows = -1
	}

	a.deps.Logger.Debug("statement executed",
		"database", a.cfg.Database,
		"source", source,
		"outcome", entry.Outcome,
		"rows", entry.RowCount,
		"duration", elapsed,
	)

	if a.deps.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := a.deps.History.Record(ctx, entry)
		cancel()
		if err != nil {
			a.deps.Logger.Warn("recording statement history failed", "error", err)
		}
	}

	a.deps.Metrics.ObserveQuery(entry.Outcome, elapsed, rows)

	if a.deps.Telemetry != nil {
		a.deps.Telemetry.WriteQueryMetric(influxdb.QueryPoint{
			Database: a.cfg.Database,
			Outcome:  entry.Outcome,
			Source:   source,
			Duration: elapsed,
			Rows:     entry.RowCount,
		})
	}

	if a.deps.Events != nil {
		payload, err := json.Marshal(queryEvent{
			ID:         entry.ID,
			Database:   entry.Database,
			Statement:  statement,
			Outcome:    entry.Outcome,
			RowCount:   entry.RowCount,
			Error:      entry.Error,
			DurationMS: elapsed.Milliseconds(),
			Source:     source,
		})
		if err == nil {
			a.deps.Events.Emit(EventQueryExecuted, payload)
		}
	}
}

type queryEvent struct {
	ID         string `json:"id,omitempty"`
	Database   string `json:"database"`
	Statement  string `json:"statement"`
	Outcome    string `json:"outcome"`
	RowCount   int    `json:"row_count"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Source     string `json:"source"`
}

// WriteTerminal sends data to the shell as keystrokes.
func (a *Actions) WriteTerminal(data string) error {
	if a.deps.Terminal == nil {
		return ErrTerminalUnavailable
	}
	if err := a.deps.Terminal.Write([]byte(data)); err != nil {
		return err
	}
	a.deps.Metrics.AddTerminalBytes(metrics.DirectionIn, len(data))
	return nil
}

// ResizeTerminal changes the terminal geometry.
func (a *Actions) ResizeTerminal(rows, cols uint16) error {
	if a.deps.Terminal == nil {
		return ErrTerminalUnavailable
	}
	if err := a.deps.Terminal.Resize(rows, cols); err != nil {
		return err
	}
	a.deps.Metrics.IncResize()
	return nil
}

// TerminalSize returns the current geometry, or ErrTerminalUnavailable.
func (a *Actions) TerminalSize() (rows, cols uint16, err error) {
	if a.deps.Terminal == nil {
		return 0, 0, ErrTerminalUnavailable
	}
	rows, cols = a.deps.Terminal.Size()
	return rows, cols, nil
}

// Greet returns the UI's greeting for name.
func Greet(name string) string {
	if name == "" {
		name = "stranger"
	}
	return fmt.Sprintf("Hello, %s! You've been greeted from pgdesk!", name)
}
