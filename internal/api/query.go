package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/pgdesk/internal/gateway"
)

// QueryRequest is the body of POST /api/v1/query and the payload of the
// "query" WebSocket message.
type QueryRequest struct {
	Statement string `json:"statement"`
	Format    string `json:"format,omitempty"`
}

// QueryResponse carries the encoded result. For the pipe format Result is
// a JSON string; for the json format it is the result object itself.
type QueryResponse struct {
	Format string          `json:"format"`
	Result json.RawMessage `json:"result"`
}

var errEmptyStatement = errors.New("statement is required")

// handleQuery runs a statement against the engine. Statement and
// connection failures are part of the 200 response body.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	resp, err := s.runQuery(r.Context(), req)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runQuery validates req and dispatches it. The returned error is always
// a caller mistake; execution failures are encoded in the response.
func (s *Server) runQuery(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if strings.TrimSpace(req.Statement) == "" {
		return nil, errEmptyStatement
	}

	format := s.defaultFormat
	if req.Format != "" {
		f, err := gateway.ParseFormat(req.Format)
		if err != nil {
			return nil, err
		}
		format = f
	}

	encoded, err := s.commands.RunQueryFormat(ctx, req.Statement, format)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if format == gateway.FormatJSON {
		raw = json.RawMessage(encoded)
	} else {
		raw, err = json.Marshal(encoded)
		if err != nil {
			return nil, err
		}
	}
	return &QueryResponse{Format: string(format), Result: raw}, nil
}
