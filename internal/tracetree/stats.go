package tracetree

import "github.com/Rperry2174/agent-runtime-observability/internal/domain"

// Stats summarizes a session's spans.
type Stats struct {
	SpanCount       int                       `json:"spanCount"`
	ByTool          map[string]int            `json:"byTool"`
	ByAgent         map[string]int            `json:"byAgent"`
	ByStatus        map[domain.SpanStatus]int `json:"byStatus"`
	MaxDepth        int                       `json:"maxDepth"`
	TotalDurationMs int64                     `json:"totalDurationMs"`
	AvgDurationMs   float64                   `json:"avgDurationMs"`
}

// Compute counts spans by tool, agent and terminal status, measures the
// maximum tree depth, and averages duration over spans that carry one.
func Compute(spans []*domain.Span) Stats {
	stats := Stats{
		SpanCount: len(spans),
		ByTool:    make(map[string]int),
		ByAgent:   make(map[string]int),
		ByStatus:  make(map[domain.SpanStatus]int),
	}

	timed := 0
	for _, span := range spans {
		stats.ByTool[span.Tool]++
		stats.ByAgent[span.AgentID]++
		stats.ByStatus[span.Status]++
		if span.DurationMs != nil {
			stats.TotalDurationMs += *span.DurationMs
			timed++
		}
	}
	if timed > 0 {
		stats.AvgDurationMs = float64(stats.TotalDurationMs) / float64(timed)
	}
	stats.MaxDepth = Build(spans).MaxDepth()
	return stats
}
