// Package http provides the HTTP handlers for ingest and query.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Rperry2174/agent-runtime-observability/internal/config"
	"github.com/Rperry2174/agent-runtime-observability/internal/index"
	"github.com/Rperry2174/agent-runtime-observability/internal/policy"
	"github.com/Rperry2174/agent-runtime-observability/internal/trace"
)

// Handler handles HTTP requests.
type Handler struct {
	store   *trace.Store
	catalog *index.Catalog
	policy  *policy.Engine
	cfg     *config.Config
}

// NewHandler creates a new handler. catalog and policyEngine may be nil.
func NewHandler(store *trace.Store, catalog *index.Catalog, policyEngine *policy.Engine, cfg *config.Config) *Handler {
	return &Handler{
		store:   store,
		catalog: catalog,
		policy:  policyEngine,
		cfg:     cfg,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/events", h.IngestEvent)

	e.GET("/api/sessions", h.ListSessions)
	e.GET("/api/sessions/:session_id", h.GetSession)
	e.GET("/api/sessions/:session_id/spans", h.GetSessionSpans)
	e.GET("/api/sessions/:session_id/trace", h.GetSessionTrace)
	e.GET("/api/sessions/:session_id/transcript", h.GetSessionTranscript)
	e.GET("/api/sessions/:session_id/agents/:agent_id/transcript", h.GetAgentTranscript)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "healthy",
		"sessions": h.store.SessionCount(),
	})
}
