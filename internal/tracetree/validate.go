package tracetree

import (
	"fmt"
	"sort"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
)

// Expectations describes what a caller believes a session should look
// like. Used as an automated test harness: checks accumulate readable
// issue strings rather than failing fast.
type Expectations struct {
	ToolOrder          []string       `json:"toolOrder,omitempty"`  // expected subsequence of tools by start time
	ToolCounts         map[string]int `json:"toolCounts,omitempty"` // exact count per tool
	MinSpans           int            `json:"minSpans,omitempty"`
	MaxSpans           int            `json:"maxSpans,omitempty"`
	RequiredAgentTypes []string       `json:"requiredAgentTypes,omitempty"`
	NoErrors           bool           `json:"noErrors,omitempty"`
	AllCompleted       bool           `json:"allCompleted,omitempty"`
}

// Validation is the outcome of structural and expectation checks.
type Validation struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// OK reports whether no errors were found. Warnings do not fail.
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// Validate runs the structural checks, plus expectation checks when exp
// is non-nil.
func Validate(run *domain.Run, agents []*domain.Agent, spans []*domain.Span, exp *Expectations) Validation {
	var v Validation

	known := make(map[string]bool, len(agents))
	hasChildAgent := make(map[string]bool)
	for _, agent := range agents {
		known[agent.AgentID] = true
		if agent.ParentAgentID != "" {
			hasChildAgent[agent.ParentAgentID] = true
		}
	}

	sessionDone := run != nil && run.Status != domain.RunStatusRunning
	subagentCount := 0
	for _, agent := range agents {
		if run != nil && agent.AgentID != run.RunID {
			subagentCount++
		}
	}

	for _, span := range spans {
		if sessionDone && span.Status == domain.SpanStatusRunning {
			v.Errors = append(v.Errors, fmt.Sprintf("span %s (%s) still running after session end", span.SpanID, span.Tool))
		}
		if !known[span.AgentID] {
			v.Errors = append(v.Errors, fmt.Sprintf("span %s references unknown agent %s", span.SpanID, span.AgentID))
		}
		if span.Status != domain.SpanStatusRunning && span.EndedAt == nil {
			v.Errors = append(v.Errors, fmt.Sprintf("span %s is %s but has no end timestamp", span.SpanID, span.Status))
		}
		if span.Tool == domain.ToolTask && span.Status == domain.SpanStatusOK && subagentCount == 0 {
			v.Warnings = append(v.Warnings, fmt.Sprintf("task span %s completed but no subagent was recorded", span.SpanID))
		}
	}

	if exp != nil {
		v.checkExpectations(agents, spans, exp)
	}
	return v
}

func (v *Validation) checkExpectations(agents []*domain.Agent, spans []*domain.Span, exp *Expectations) {
	ordered := append([]*domain.Span(nil), spans...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].StartedAt < ordered[j].StartedAt })

	if len(exp.ToolOrder) > 0 {
		next := 0
		for _, span := range ordered {
			if next < len(exp.ToolOrder) && span.Tool == exp.ToolOrder[next] {
				next++
			}
		}
		if next < len(exp.ToolOrder) {
			v.Errors = append(v.Errors, fmt.Sprintf("expected tool order %v not satisfied, matched %d of %d", exp.ToolOrder, next, len(exp.ToolOrder)))
		}
	}

	if exp.ToolCounts != nil {
		counts := make(map[string]int)
		for _, span := range spans {
			counts[span.Tool]++
		}
		for tool, want := range exp.ToolCounts {
			if counts[tool] != want {
				v.Errors = append(v.Errors, fmt.Sprintf("expected %d %s span(s), got %d", want, tool, counts[tool]))
			}
		}
	}

	if exp.MinSpans > 0 && len(spans) < exp.MinSpans {
		v.Errors = append(v.Errors, fmt.Sprintf("expected at least %d span(s), got %d", exp.MinSpans, len(spans)))
	}
	if exp.MaxSpans > 0 && len(spans) > exp.MaxSpans {
		v.Errors = append(v.Errors, fmt.Sprintf("expected at most %d span(s), got %d", exp.MaxSpans, len(spans)))
	}

	if len(exp.RequiredAgentTypes) > 0 {
		present := make(map[string]bool)
		for _, agent := range agents {
			present[agent.AgentType] = true
		}
		for _, want := range exp.RequiredAgentTypes {
			if !present[want] {
				v.Errors = append(v.Errors, fmt.Sprintf("required subagent type %q not found", want))
			}
		}
	}

	if exp.NoErrors {
		for _, span := range spans {
			if span.Status == domain.SpanStatusError || span.Status == domain.SpanStatusTimeout || span.Status == domain.SpanStatusPermissionDenied {
				v.Errors = append(v.Errors, fmt.Sprintf("span %s (%s) failed with %s", span.SpanID, span.Tool, span.Status))
			}
		}
	}

	if exp.AllCompleted {
		for _, span := range spans {
			if !span.Status.IsTerminal() {
				v.Errors = append(v.Errors, fmt.Sprintf("span %s (%s) did not complete", span.SpanID, span.Tool))
			}
		}
	}
}
