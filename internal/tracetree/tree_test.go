package tracetree

import (
	"strings"
	"testing"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
)

func span(id, parent, tool string, started int64, status domain.SpanStatus) *domain.Span {
	return &domain.Span{SpanID: id, ParentSpanID: parent, AgentID: "r1", Tool: tool, StartedAt: started, Status: status}
}

func TestBuildForest(t *testing.T) {
	spans := []*domain.Span{
		span("b", "", "Bash", 2000, domain.SpanStatusOK),
		span("a", "", "Read", 1000, domain.SpanStatusOK),
		span("a1", "a", "Grep", 1500, domain.SpanStatusOK),
		span("a1x", "a1", "Read", 1600, domain.SpanStatusOK),
	}
	tree := Build(spans)

	if len(tree.Roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(tree.Roots))
	}
	// Roots sort by start time.
	if tree.Roots[0].Span.SpanID != "a" || tree.Roots[1].Span.SpanID != "b" {
		t.Fatalf("unexpected root order: %s, %s", tree.Roots[0].Span.SpanID, tree.Roots[1].Span.SpanID)
	}
	if len(tree.Roots[0].Children) != 1 || tree.Roots[0].Children[0].Span.SpanID != "a1" {
		t.Fatalf("unexpected children of a: %+v", tree.Roots[0].Children)
	}
	if got := tree.MaxDepth(); got != 3 {
		t.Fatalf("expected depth 3, got %d", got)
	}
}

func TestOrphanNeverBecomesRoot(t *testing.T) {
	spans := []*domain.Span{
		span("a", "", "Read", 1000, domain.SpanStatusOK),
		span("lost", "missing", "Bash", 2000, domain.SpanStatusOK),
	}
	tree := Build(spans)

	if len(tree.Roots) != 1 {
		t.Fatalf("orphan must not be promoted to root, got %d roots", len(tree.Roots))
	}
	if len(tree.Orphans) != 1 || tree.Orphans[0].SpanID != "lost" {
		t.Fatalf("orphan must be reported, got %+v", tree.Orphans)
	}
}

func TestEmptyTree(t *testing.T) {
	tree := Build(nil)
	if len(tree.Roots) != 0 || tree.MaxDepth() != 0 {
		t.Fatalf("empty input should produce empty tree")
	}
}

func TestComputeStats(t *testing.T) {
	d1, d2 := int64(100), int64(300)
	spans := []*domain.Span{
		{SpanID: "a", AgentID: "r1", Tool: "Read", StartedAt: 1000, Status: domain.SpanStatusOK, DurationMs: &d1},
		{SpanID: "b", AgentID: "r1", Tool: "Read", StartedAt: 2000, Status: domain.SpanStatusOK, DurationMs: &d2},
		{SpanID: "c", AgentID: "sub", Tool: "Bash", StartedAt: 3000, Status: domain.SpanStatusRunning},
	}
	stats := Compute(spans)

	if stats.SpanCount != 3 {
		t.Fatalf("expected 3 spans, got %d", stats.SpanCount)
	}
	if stats.ByTool["Read"] != 2 || stats.ByTool["Bash"] != 1 {
		t.Fatalf("unexpected tool counts: %+v", stats.ByTool)
	}
	if stats.ByAgent["sub"] != 1 {
		t.Fatalf("unexpected agent counts: %+v", stats.ByAgent)
	}
	if stats.TotalDurationMs != 400 {
		t.Fatalf("expected total 400, got %d", stats.TotalDurationMs)
	}
	// Average runs over timed spans only.
	if stats.AvgDurationMs != 200 {
		t.Fatalf("expected avg 200, got %f", stats.AvgDurationMs)
	}
}

func TestValidateStructural(t *testing.T) {
	end := int64(2000)
	run := &domain.Run{RunID: "r1", Status: domain.RunStatusCompleted, StartedAt: 1000, EndedAt: &end}
	agents := []*domain.Agent{{AgentID: "r1", RunID: "r1", Name: "main", StartedAt: 1000}}
	spans := []*domain.Span{
		{SpanID: "open", AgentID: "r1", Tool: "Read", StartedAt: 1500, Status: domain.SpanStatusRunning},
		{SpanID: "ghost", AgentID: "nobody", Tool: "Bash", StartedAt: 1500, EndedAt: &end, Status: domain.SpanStatusOK},
		{SpanID: "noend", AgentID: "r1", Tool: "Bash", StartedAt: 1500, Status: domain.SpanStatusOK},
	}

	v := Validate(run, agents, spans, nil)
	if v.OK() {
		t.Fatalf("expected errors")
	}
	if len(v.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %v", v.Errors)
	}
}

func TestValidateTaskWithoutSubagentWarns(t *testing.T) {
	end := int64(2000)
	run := &domain.Run{RunID: "r1", Status: domain.RunStatusCompleted, StartedAt: 1000, EndedAt: &end}
	agents := []*domain.Agent{{AgentID: "r1", RunID: "r1", Name: "main", StartedAt: 1000}}
	spans := []*domain.Span{
		{SpanID: "t1", AgentID: "r1", Tool: domain.ToolTask, StartedAt: 1500, EndedAt: &end, Status: domain.SpanStatusOK},
	}

	v := Validate(run, agents, spans, nil)
	if !v.OK() {
		t.Fatalf("warnings must not fail validation: %v", v.Errors)
	}
	if len(v.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", v.Warnings)
	}
}

func TestExpectations(t *testing.T) {
	end := int64(5000)
	run := &domain.Run{RunID: "r1", Status: domain.RunStatusCompleted, StartedAt: 1000, EndedAt: &end}
	agents := []*domain.Agent{
		{AgentID: "r1", RunID: "r1", Name: "main", StartedAt: 1000},
		{AgentID: "a1", RunID: "r1", Name: "researcher", AgentType: "general", ParentAgentID: "r1", StartedAt: 2000},
	}
	spans := []*domain.Span{
		{SpanID: "s1", AgentID: "r1", Tool: "Read", StartedAt: 1500, EndedAt: &end, Status: domain.SpanStatusOK},
		{SpanID: "s2", AgentID: "r1", Tool: "Bash", StartedAt: 2500, EndedAt: &end, Status: domain.SpanStatusOK},
		{SpanID: "s3", AgentID: "a1", Tool: "Read", StartedAt: 3500, EndedAt: &end, Status: domain.SpanStatusOK},
	}

	v := Validate(run, agents, spans, &Expectations{
		ToolOrder:          []string{"Read", "Bash", "Read"},
		ToolCounts:         map[string]int{"Read": 2, "Bash": 1},
		MinSpans:           2,
		MaxSpans:           5,
		RequiredAgentTypes: []string{"general"},
		NoErrors:           true,
		AllCompleted:       true,
	})
	if !v.OK() {
		t.Fatalf("expected clean validation, got %v", v.Errors)
	}

	v = Validate(run, agents, spans, &Expectations{ToolOrder: []string{"Bash", "Read", "Bash"}})
	if v.OK() {
		t.Fatalf("unsatisfied tool order should fail")
	}

	v = Validate(run, agents, spans, &Expectations{ToolCounts: map[string]int{"Read": 1}})
	if v.OK() {
		t.Fatalf("wrong tool count should fail")
	}

	v = Validate(run, agents, spans, &Expectations{RequiredAgentTypes: []string{"reviewer"}})
	if v.OK() {
		t.Fatalf("missing agent type should fail")
	}
}

func TestReportSections(t *testing.T) {
	end := int64(2000)
	d := int64(500)
	run := &domain.Run{RunID: "r1", Source: "claude-code", Status: domain.RunStatusCompleted, StartedAt: 1000, EndedAt: &end}
	agents := []*domain.Agent{{AgentID: "r1", RunID: "r1", Name: "main", StartedAt: 1000}}
	spans := []*domain.Span{
		{SpanID: "s1", AgentID: "r1", Tool: "Read", StartedAt: 1500, EndedAt: &end, DurationMs: &d, Status: domain.SpanStatusOK},
	}

	out := Report(run, agents, spans, nil)
	for _, want := range []string{"Session r1", "## Trace tree", "Read [ok] 500ms", "## Stats", "by tool: Read=1", "## Validation", "ok"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}
