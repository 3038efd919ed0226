package graph

import (
	"fmt"
	"strings"
)

const maxLabelLen = 40

// ExportDiagram renders the graph as a Mermaid flowchart: one node per task
// labeled with id, description, and estimate, one arrow per dependency edge
// running dependency -> dependent. The output is write-only; nothing in
// this package parses it back.
func (g *Graph) ExportDiagram() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	for _, t := range g.tasks {
		desc := sanitizeLabel(t.Description)
		if len(desc) > maxLabelLen {
			desc = desc[:maxLabelLen-3] + "..."
		}
		fmt.Fprintf(&b, "    %s[\"%s: %s (%s)\"]\n", nodeID(t.ID), t.ID, desc, t.Estimate)
	}

	for _, t := range g.tasks {
		for _, dep := range g.deps[t.ID] {
			fmt.Fprintf(&b, "    %s --> %s\n", nodeID(dep), nodeID(t.ID))
		}
	}

	return b.String()
}

// nodeID maps a task id onto a Mermaid-safe identifier.
func nodeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// sanitizeLabel strips characters that would break a quoted Mermaid label.
func sanitizeLabel(s string) string {
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
