package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pgdesk/internal/history"
)

// handleListHistory returns executed statements, newest first.
//
// Query parameters: outcome, source, search, limit, offset.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history not enabled")
		return
	}

	q := r.URL.Query()
	filter := history.Filter{
		Outcome: q.Get("outcome"),
		Source:  q.Get("source"),
		Search:  q.Get("search"),
	}
	if filter.Outcome != "" && filter.Outcome != history.OutcomeOK && filter.Outcome != history.OutcomeError {
		writeBadRequest(w, "outcome must be ok or error")
		return
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing history failed", "error", err)
		writeInternalError(w, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, toHistoryPage(result))
}

// handleGetHistory returns one entry.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history not enabled")
		return
	}

	entry, err := s.history.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		writeNotFound(w, "history entry not found")
		return
	}
	if err != nil {
		s.logger.Error("reading history entry failed", "error", err)
		writeInternalError(w, "failed to read history entry")
		return
	}
	writeJSON(w, http.StatusOK, toHistoryEntry(*entry))
}

// historyEntry adds the millisecond duration the UI displays.
type historyEntry struct {
	history.Entry
	DurationMS int64 `json:"duration_ms"`
}

type historyPage struct {
	Entries []historyEntry `json:"entries"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

func toHistoryEntry(e history.Entry) historyEntry {
	return historyEntry{Entry: e, DurationMS: e.DurationMS()}
}

func toHistoryPage(r *history.ListResult) historyPage {
	page := historyPage{
		Entries: make([]historyEntry, 0, len(r.Entries)),
		Total:   r.Total,
		Limit:   r.Limit,
		Offset:  r.Offset,
	}
	for _, e := range r.Entries {
		page.Entries = append(page.Entries, toHistoryEntry(e))
	}
	return page
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
