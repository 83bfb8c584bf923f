package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nerrad567/pgdesk/internal/actions"
	"github.com/nerrad567/pgdesk/internal/gateway"
	"github.com/nerrad567/pgdesk/internal/history"
	"github.com/nerrad567/pgdesk/internal/infrastructure/logging"
	"github.com/nerrad567/pgdesk/internal/metrics"
)

const (
	replPrompt         = "postgres> "
	defaultHistoryShow = 20
)

func newReplCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive SQL prompt against the embedded engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRepl(cmd.Context(), getConfigPath(configFlag(cmd)), verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log at the configured level instead of warn")
	return cmd
}

// runRepl starts the engine, then reads statements until EOF.
func runRepl(ctx context.Context, configPath string, verbose bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !verbose {
		cfg.Logging.Level = "warn"
	}
	log := logging.New(cfg.Logging, version)

	historyDB, historyRepo, err := openHistory(ctx, cfg, log)
	if err != nil {
		return err
	}
	if historyDB != nil {
		defer historyDB.Close()
	}

	handle, err := startEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stopEngine(handle, log)

	format, err := gateway.ParseFormat(cfg.Query.DefaultFormat)
	if err != nil {
		return fmt.Errorf("query default format: %w", err)
	}
	acts := actions.New(actions.Config{
		Database:      cfg.Engine.Database,
		QueryTimeout:  cfg.GetQueryTimeout(),
		DefaultFormat: format,
	}, actions.Deps{
		Target:  handle,
		History: historyRepo,
		Metrics: metrics.New(),
		Logger:  log.With("component", "actions"),
	})

	fd := int(os.Stdin.Fd()) //nolint:gosec // stdin descriptor fits in int
	if !term.IsTerminal(fd) {
		r := &repl{in: newScanReader(os.Stdin), out: os.Stdout, q: acts, history: historyRepo}
		return r.loop(ctx)
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("entering raw mode: %w", err)
	}
	defer term.Restore(fd, state) //nolint:errcheck // best-effort on exit

	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	t := term.NewTerminal(screen, replPrompt)
	if w, h, sizeErr := term.GetSize(fd); sizeErr == nil {
		t.SetSize(w, h) //nolint:errcheck // width/height come from the same fd
	}

	fmt.Fprintf(t, "pgdesk %s connected to %q. \\q quits, \\history lists past statements.\n", version, cfg.Engine.Database)
	r := &repl{in: t, out: t, q: acts, history: historyRepo}
	return r.loop(ctx)
}

// lineReader yields one input line per call and io.EOF at the end.
// *term.Terminal satisfies it.
type lineReader interface {
	ReadLine() (string, error)
}

// scanReader adapts piped stdin to lineReader.
type scanReader struct {
	s *bufio.Scanner
}

func newScanReader(r io.Reader) *scanReader {
	return &scanReader{s: bufio.NewScanner(r)}
}

func (r *scanReader) ReadLine() (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

type querier interface {
	Query(ctx context.Context, source, statement string) gateway.Result
}

type repl struct {
	in      lineReader
	out     io.Writer
	q       querier
	history history.Repository
}

// loop runs statements until EOF, \q or ctx is cancelled. A failed
// statement is reported and the loop carries on.
func (r *repl) loop(ctx context.Context) error {
	red := color.New(color.FgRed)
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := r.in.ReadLine()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out, "bye")
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == `\q`:
			fmt.Fprintln(r.out, "bye")
			return nil
		case strings.HasPrefix(line, `\history`):
			if err := r.showHistory(ctx, strings.TrimSpace(strings.TrimPrefix(line, `\history`))); err != nil {
				red.Fprintf(r.out, "%v\n", err)
			}
			continue
		case strings.HasPrefix(line, `\`):
			red.Fprintf(r.out, "unknown command %s\n", line)
			continue
		}

		result := r.q.Query(ctx, history.SourceREPL, line)
		if result.Failed() {
			red.Fprintf(r.out, "Problem with the statement: %s\n", result.Err)
			continue
		}
		if len(result.Rows) == 0 {
			fmt.Fprintln(r.out, commandTag(result))
			continue
		}
		for _, row := range result.Rows {
			fmt.Fprintln(r.out, formatRow(row))
		}
	}
}

// showHistory prints the most recent statements, oldest first.
func (r *repl) showHistory(ctx context.Context, arg string) error {
	if r.history == nil {
		return errors.New("statement history is disabled")
	}
	limit := defaultHistoryShow
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count %q", arg)
		}
		limit = n
	}

	page, err := r.history.List(ctx, history.Filter{Limit: limit})
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}
	gray := color.New(color.FgHiBlack)
	for i := len(page.Entries) - 1; i >= 0; i-- {
		e := page.Entries[i]
		gray.Fprintf(r.out, "%s %-5s ", e.CreatedAt.Local().Format("15:04:05"), e.Outcome)
		fmt.Fprintln(r.out, e.Statement)
	}
	return nil
}

// formatRow renders a row as {name: value, ...} in column order.
func formatRow(row gateway.Row) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, col := range row {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col.Name)
		b.WriteString(": ")
		if col.Value.Null {
			b.WriteString("NULL")
		} else {
			b.WriteString(col.Value.Text)
		}
	}
	b.WriteByte('}')
	return b.String()
}

func commandTag(r gateway.Result) string {
	if r.Command == "" {
		return "OK"
	}
	return r.Command
}
