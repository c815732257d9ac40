package engine

import (
	"fmt"
	"strings"
)

// FormatIssueBody renders the canonical issue body template. Sections with
// no content are omitted entirely.
func FormatIssueBody(title, context string, acceptanceCriteria []string, technicalNotes string) string {
	var b strings.Builder

	b.WriteString("## Summary\n")
	b.WriteString(title)
	b.WriteString("\n")

	if context != "" {
		b.WriteString("\n## Context\n")
		b.WriteString(context)
		b.WriteString("\n")
	}

	if len(acceptanceCriteria) > 0 {
		b.WriteString("\n## Acceptance Criteria\n")
		for _, item := range acceptanceCriteria {
			fmt.Fprintf(&b, "- [ ] %s\n", item)
		}
	}

	if technicalNotes != "" {
		b.WriteString("\n## Technical Notes\n")
		b.WriteString(technicalNotes)
		b.WriteString("\n")
	}

	return b.String()
}
