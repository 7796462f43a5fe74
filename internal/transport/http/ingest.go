package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Rperry2174/agent-runtime-observability/internal/normalize"
	"github.com/Rperry2174/agent-runtime-observability/internal/policy"
	"github.com/Rperry2174/agent-runtime-observability/internal/sanitize"
)

// IngestEvent accepts one producer event. Hooks must never be blocked:
// the response is success even when the payload is unusable or an
// internal step fails.
func (h *Handler) IngestEvent(c echo.Context) error {
	ok := map[string]any{"ok": true}

	var raw map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&raw); err != nil {
		log.Printf("WARN: unparseable ingest payload: %v", err)
		return c.JSON(http.StatusOK, ok)
	}

	ev, usable := normalize.Normalize(raw)
	if !usable {
		log.Printf("WARN: dropped unusable ingest payload")
		return c.JSON(http.StatusOK, ok)
	}

	if h.policy != nil {
		decision, err := h.policy.Evaluate(c.Request().Context(), ev)
		if err != nil {
			log.Printf("ERROR: policy evaluation failed: %v", err)
			decision = policy.DecisionAllow
		}
		switch decision {
		case policy.DecisionDrop:
			return c.JSON(http.StatusOK, ok)
		case policy.DecisionRedact:
			if ev.ToolInput != nil {
				ev.ToolInput = map[string]any{"value": sanitize.Redacted}
			}
			if ev.ToolOutput != nil {
				ev.ToolOutput = sanitize.Redacted
			}
		}
	}

	h.store.Apply(ev)
	return c.JSON(http.StatusOK, ok)
}
