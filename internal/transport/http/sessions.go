package http

import (
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
	"github.com/Rperry2174/agent-runtime-observability/internal/normalize"
	"github.com/Rperry2174/agent-runtime-observability/internal/tracetree"
	"github.com/Rperry2174/agent-runtime-observability/internal/wal"
)

// SessionSummary is one row of the session list.
type SessionSummary struct {
	*domain.Run
	AgentCount int  `json:"agentCount"`
	SpanCount  int  `json:"spanCount"`
	InMemory   bool `json:"inMemory"`
}

// SessionDetail is the full session response.
type SessionDetail struct {
	Run     *domain.Run               `json:"run"`
	Agents  []*domain.Agent           `json:"agents"`
	Summary map[string]int            `json:"summary"`
	Status  map[domain.SpanStatus]int `json:"spansByStatus"`
}

// ListSessions returns recent sessions, newest first. In-memory sessions
// come first; the catalog fills in evicted ones up to the limit.
func (h *Handler) ListSessions(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	seen := make(map[string]bool)
	var out []SessionSummary
	for _, run := range h.store.ListRuns(limit) {
		agents, _ := h.store.Agents(run.RunID)
		spans, _ := h.store.Spans(run.RunID, 0)
		out = append(out, SessionSummary{Run: run, AgentCount: len(agents), SpanCount: len(spans), InMemory: true})
		seen[run.RunID] = true
	}

	if h.catalog != nil && len(out) < limit {
		entries, err := h.catalog.Recent(c.Request().Context(), limit)
		if err != nil {
			log.Printf("ERROR: failed to query session catalog: %v", err)
		}
		for _, e := range entries {
			if seen[e.RunID] || len(out) >= limit {
				continue
			}
			out = append(out, SessionSummary{
				Run: &domain.Run{
					RunID:     e.RunID,
					Source:    e.Source,
					Status:    domain.RunStatus(e.Status),
					StartedAt: e.StartedAt,
					EndedAt:   e.EndedAt,
				},
				AgentCount: e.AgentCount,
				SpanCount:  e.SpanCount,
			})
		}
	}

	if out == nil {
		out = []SessionSummary{}
	}
	return c.JSON(http.StatusOK, out)
}

// GetSession returns one session's details and summary counts.
func (h *Handler) GetSession(c echo.Context) error {
	run, agents, spans, ok := h.loadSession(c, c.Param("session_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	detail := SessionDetail{
		Run:    run,
		Agents: agents,
		Summary: map[string]int{
			"agents": len(agents),
			"spans":  len(spans),
		},
		Status: make(map[domain.SpanStatus]int),
	}
	for _, span := range spans {
		detail.Status[span.Status]++
	}
	return c.JSON(http.StatusOK, detail)
}

// GetSessionSpans returns a session's span list, optionally bounded to
// spans starting at or after ?since= (unix milliseconds).
func (h *Handler) GetSessionSpans(c echo.Context) error {
	var since int64
	if raw := c.QueryParam("since"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			since = n
		}
	}

	_, _, spans, ok := h.loadSession(c, c.Param("session_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	if since > 0 {
		filtered := spans[:0]
		for _, span := range spans {
			if span.StartedAt >= since {
				filtered = append(filtered, span)
			}
		}
		spans = filtered
	}
	if spans == nil {
		spans = []*domain.Span{}
	}
	return c.JSON(http.StatusOK, spans)
}

// GetSessionTrace renders the tracetree report for a session.
func (h *Handler) GetSessionTrace(c echo.Context) error {
	run, agents, spans, ok := h.loadSession(c, c.Param("session_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.String(http.StatusOK, tracetree.Report(run, agents, spans, nil))
}

// loadSession resolves a session from memory first, falling back to a
// replay of its log file for sessions already evicted.
func (h *Handler) loadSession(c echo.Context, rawID string) (*domain.Run, []*domain.Agent, []*domain.Span, bool) {
	runID := normalize.CleanID(rawID)

	if run, ok := h.store.GetRun(runID); ok {
		agents, _ := h.store.Agents(runID)
		spans, _ := h.store.Spans(runID, 0)
		return run, agents, spans, true
	}

	if h.catalog == nil {
		return nil, nil, nil, false
	}
	entry, err := h.catalog.Get(c.Request().Context(), runID)
	if err != nil {
		log.Printf("ERROR: failed to query session catalog: %v", err)
		return nil, nil, nil, false
	}
	if entry == nil || entry.LogPath == "" {
		return nil, nil, nil, false
	}
	state, err := wal.ReplayFile(entry.LogPath)
	if err != nil || state.Run == nil {
		return nil, nil, nil, false
	}
	return state.Run, state.Agents, state.Spans, true
}
