// Package tracetree builds and checks the parent-child structure of a
// session's spans. Everything here is a pure function over a span list,
// usable both for ad-hoc inspection and as an automated verification
// harness.
package tracetree

import (
	"sort"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
)

// Node is one span with its resolved children.
type Node struct {
	Span     *domain.Span `json:"span"`
	Children []*Node      `json:"children,omitempty"`
}

// Tree is the parent-child forest of a session's spans. A span whose
// declared parent id does not exist among the given spans is an orphan;
// it is never silently attached as a root or dropped.
type Tree struct {
	Roots   []*Node        `json:"roots"`
	Orphans []*domain.Span `json:"orphans,omitempty"`
}

// Build groups spans by declared parent span id into a forest.
func Build(spans []*domain.Span) *Tree {
	nodes := make(map[string]*Node, len(spans))
	for _, span := range spans {
		nodes[span.SpanID] = &Node{Span: span}
	}

	tree := &Tree{}
	for _, span := range spans {
		node := nodes[span.SpanID]
		switch {
		case span.ParentSpanID == "":
			tree.Roots = append(tree.Roots, node)
		default:
			parent, ok := nodes[span.ParentSpanID]
			if !ok {
				tree.Orphans = append(tree.Orphans, span)
				continue
			}
			parent.Children = append(parent.Children, node)
		}
	}

	sortNodes(tree.Roots)
	for _, node := range nodes {
		sortNodes(node.Children)
	}
	return tree
}

// MaxDepth returns the maximum depth of the forest; orphans do not count.
func (t *Tree) MaxDepth() int {
	max := 0
	for _, root := range t.Roots {
		if d := depth(root); d > max {
			max = d
		}
	}
	return max
}

func depth(n *Node) int {
	max := 0
	for _, child := range n.Children {
		if d := depth(child); d > max {
			max = d
		}
	}
	return max + 1
}

func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Span.StartedAt < nodes[j].Span.StartedAt
	})
}
