package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/pgdesk/internal/actions"
)

// TerminalWriteRequest is the body of POST /api/v1/terminal/write.
type TerminalWriteRequest struct {
	Data string `json:"data"`
}

// TerminalResizeRequest is the body of POST /api/v1/terminal/resize.
type TerminalResizeRequest struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// handleTerminalWrite forwards keystrokes to the shell.
func (s *Server) handleTerminalWrite(w http.ResponseWriter, r *http.Request) {
	var req TerminalWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.commands.WriteTerminal(req.Data); err != nil {
		s.logger.Warn("terminal write failed", "error", err, "bytes", len(req.Data))
		writeAck(w, false)
		return
	}
	writeAck(w, true)
}

// handleTerminalResize changes the PTY geometry.
func (s *Server) handleTerminalResize(w http.ResponseWriter, r *http.Request) {
	var req TerminalResizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.commands.ResizeTerminal(req.Rows, req.Cols); err != nil {
		s.logger.Warn("terminal resize failed", "error", err, "rows", req.Rows, "cols", req.Cols)
		writeAck(w, false)
		return
	}
	writeAck(w, true)
}

// handleTerminalSize reports the current geometry.
func (s *Server) handleTerminalSize(w http.ResponseWriter, _ *http.Request) {
	rows, cols, err := s.commands.TerminalSize()
	if errors.Is(err, actions.ErrTerminalUnavailable) {
		writeUnavailable(w, "terminal not running")
		return
	}
	if err != nil {
		writeInternalError(w, "reading terminal size failed")
		return
	}
	writeJSON(w, http.StatusOK, TerminalResizeRequest{Rows: rows, Cols: cols})
}
