package wal

import (
	"os"
	"testing"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	defer l.Close()

	run := &domain.Run{RunID: "r1", Status: domain.RunStatusRunning, StartedAt: 1000}
	if err := l.AppendRun("r1", run); err != nil {
		t.Fatalf("append run: %v", err)
	}
	agent := &domain.Agent{AgentID: "r1", RunID: "r1", Name: "main", StartedAt: 1000}
	if err := l.AppendAgent("r1", agent); err != nil {
		t.Fatalf("append agent: %v", err)
	}
	span := &domain.Span{SpanID: "s1", AgentID: "r1", Tool: "Read", StartedAt: 2000, Status: domain.SpanStatusRunning}
	if err := l.AppendSpan("r1", span); err != nil {
		t.Fatalf("append span: %v", err)
	}

	state, err := ReplayFile(l.Path("r1"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if state.Run == nil || state.Run.RunID != "r1" {
		t.Fatalf("unexpected run: %+v", state.Run)
	}
	if len(state.Agents) != 1 || state.Agents[0].Name != "main" {
		t.Fatalf("unexpected agents: %+v", state.Agents)
	}
	if len(state.Spans) != 1 || state.Spans[0].Tool != "Read" {
		t.Fatalf("unexpected spans: %+v", state.Spans)
	}
}

func TestReplayLastWriteWins(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	defer l.Close()

	l.AppendRun("r1", &domain.Run{RunID: "r1", Status: domain.RunStatusRunning, StartedAt: 1000})
	l.AppendSpan("r1", &domain.Span{SpanID: "s1", Tool: "Read", StartedAt: 2000, Status: domain.SpanStatusRunning})
	l.AppendSpan("r1", &domain.Span{SpanID: "s2", Tool: "Bash", StartedAt: 2500, Status: domain.SpanStatusRunning})

	end := int64(3000)
	l.AppendSpan("r1", &domain.Span{SpanID: "s1", Tool: "Read", StartedAt: 2000, EndedAt: &end, Status: domain.SpanStatusOK})
	ended := int64(4000)
	l.AppendRun("r1", &domain.Run{RunID: "r1", Status: domain.RunStatusCompleted, StartedAt: 1000, EndedAt: &ended})

	state, err := ReplayFile(l.Path("r1"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if state.Run.Status != domain.RunStatusCompleted {
		t.Fatalf("latest run snapshot should win, got %s", state.Run.Status)
	}
	// The superseded span keeps its original position in the list.
	if len(state.Spans) != 2 || state.Spans[0].SpanID != "s1" {
		t.Fatalf("unexpected span order: %+v", state.Spans)
	}
	if state.Spans[0].Status != domain.SpanStatusOK {
		t.Fatalf("latest span snapshot should win, got %s", state.Spans[0].Status)
	}
}

func TestReplaySkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	defer l.Close()

	l.AppendRun("r1", &domain.Run{RunID: "r1", Status: domain.RunStatusRunning, StartedAt: 1000})
	l.AppendSpan("r1", &domain.Span{SpanID: "s1", Tool: "Read", StartedAt: 2000, Status: domain.SpanStatusRunning})

	// Simulate a crash mid-append.
	f, err := os.OpenFile(l.Path("r1"), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString(`{"kind":"span","ts":3000,"data":{"spanId":"s2","to`)
	f.WriteString("\n")
	f.Close()

	l.AppendSpan("r1", &domain.Span{SpanID: "s3", Tool: "Bash", StartedAt: 4000, Status: domain.SpanStatusRunning})

	state, err := ReplayFile(l.Path("r1"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(state.Spans) != 2 {
		t.Fatalf("corrupt line should be skipped, records after it kept: %+v", state.Spans)
	}
}

func TestReplayRecentBounded(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	defer l.Close()

	for _, id := range []string{"a", "b", "c"} {
		l.AppendRun(id, &domain.Run{RunID: id, Status: domain.RunStatusRunning, StartedAt: 1000})
	}

	states, err := l.ReplayRecent(2)
	if err != nil {
		t.Fatalf("replay recent: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
}

func TestReleaseKeepsFileOnDisk(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	defer l.Close()

	l.AppendRun("r1", &domain.Run{RunID: "r1", Status: domain.RunStatusCompleted, StartedAt: 1000})
	l.Release("r1")

	if _, err := os.Stat(l.Path("r1")); err != nil {
		t.Fatalf("log file should survive release: %v", err)
	}
	// Appending after release reopens the handle.
	if err := l.AppendRun("r1", &domain.Run{RunID: "r1", Status: domain.RunStatusCompleted, StartedAt: 1000}); err != nil {
		t.Fatalf("append after release: %v", err)
	}
}

func TestFileNameSanitized(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	defer l.Close()

	if err := l.AppendRun("weird/../id", &domain.Run{RunID: "weird/../id", Status: domain.RunStatusRunning}); err != nil {
		t.Fatalf("append with hostile id: %v", err)
	}
	name := fileNameFor("weird/../id")
	if name != "weird_.._id.jsonl" {
		t.Fatalf("unexpected sanitized name: %q", name)
	}
}
