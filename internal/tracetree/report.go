package tracetree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
)

// Report renders tree, stats and validation into one textual document.
func Report(run *domain.Run, agents []*domain.Agent, spans []*domain.Span, exp *Expectations) string {
	tree := Build(spans)
	stats := Compute(spans)
	validation := Validate(run, agents, spans, exp)

	var b strings.Builder

	fmt.Fprintf(&b, "Session %s", run.RunID)
	if run.Source != "" {
		fmt.Fprintf(&b, " (%s)", run.Source)
	}
	fmt.Fprintf(&b, " - %s\n\n", run.Status)

	b.WriteString("## Trace tree\n")
	if len(tree.Roots) == 0 {
		b.WriteString("(no spans)\n")
	}
	for _, root := range tree.Roots {
		writeNode(&b, root, 0)
	}
	for _, orphan := range tree.Orphans {
		fmt.Fprintf(&b, "orphan: %s (parent %s not found)\n", spanLine(orphan), orphan.ParentSpanID)
	}

	b.WriteString("\n## Stats\n")
	fmt.Fprintf(&b, "spans: %d, max depth: %d\n", stats.SpanCount, stats.MaxDepth)
	fmt.Fprintf(&b, "total duration: %dms, avg: %.1fms\n", stats.TotalDurationMs, stats.AvgDurationMs)
	writeCounts(&b, "by tool", stats.ByTool)
	writeCounts(&b, "by agent", stats.ByAgent)
	statusCounts := make(map[string]int, len(stats.ByStatus))
	for status, n := range stats.ByStatus {
		statusCounts[string(status)] = n
	}
	writeCounts(&b, "by status", statusCounts)

	b.WriteString("\n## Validation\n")
	if validation.OK() && len(validation.Warnings) == 0 {
		b.WriteString("ok\n")
	}
	for _, e := range validation.Errors {
		fmt.Fprintf(&b, "error: %s\n", e)
	}
	for _, w := range validation.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}

	return b.String()
}

func writeNode(b *strings.Builder, node *Node, indent int) {
	fmt.Fprintf(b, "%s%s\n", strings.Repeat("  ", indent), spanLine(node.Span))
	for _, child := range node.Children {
		writeNode(b, child, indent+1)
	}
}

func spanLine(span *domain.Span) string {
	line := fmt.Sprintf("%s [%s]", span.Tool, span.Status)
	if span.DurationMs != nil {
		line += fmt.Sprintf(" %dms", *span.DurationMs)
	}
	return line
}

func writeCounts(b *strings.Builder, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(b, "%s:", label)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%d", k, counts[k])
	}
	b.WriteString("\n")
}
