package http

import (
	"io"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
)

// TranscriptResponse carries a size-capped transcript read.
type TranscriptResponse struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated"`
	Content   string `json:"content"`
}

// GetSessionTranscript returns the session transcript text.
func (h *Handler) GetSessionTranscript(c echo.Context) error {
	run, _, _, ok := h.loadSession(c, c.Param("session_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return h.serveTranscript(c, run.TranscriptPath)
}

// GetAgentTranscript returns one agent's transcript text.
func (h *Handler) GetAgentTranscript(c echo.Context) error {
	_, agents, _, ok := h.loadSession(c, c.Param("session_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	agentID := c.Param("agent_id")
	for _, agent := range agents {
		if agent.AgentID == agentID {
			return h.serveTranscript(c, agent.TranscriptPath)
		}
	}
	return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
}

// serveTranscript reads a transcript file, capped at the configured
// limit, reporting the original size and whether the read was truncated.
func (h *Handler) serveTranscript(c echo.Context, path string) error {
	if path == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no transcript recorded"})
	}

	f, err := os.Open(path)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "transcript not readable"})
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "transcript not readable"})
	}

	limit := h.cfg.TranscriptLimit
	content, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read transcript"})
	}

	return c.JSON(http.StatusOK, TranscriptResponse{
		Path:      path,
		Size:      info.Size(),
		Truncated: info.Size() > limit,
		Content:   string(content),
	})
}
