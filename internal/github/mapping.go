package github

import (
	"strings"

	"github.com/taskherd/taskherd/internal/types"
)

// Label family prefixes.
const (
	PriorityPrefix = "priority"
	TypePrefix     = "type"
	StatusPrefix   = "status"
)

// Status label values the engine manages.
const (
	StatusBacklog    = "status:backlog"
	StatusInProgress = "status:in-progress"
	StatusInReview   = "status:in-review"
	StatusBlocked    = "status:blocked"
)

// ParseLabelName splits a scoped label like "priority:high" or
// "priority/high" into prefix and value. Unscoped names return an empty
// prefix.
func ParseLabelName(name string) (prefix, value string) {
	for _, sep := range []string{":", "/"} {
		if idx := strings.Index(name, sep); idx > 0 {
			return name[:idx], name[idx+len(sep):]
		}
	}
	return "", name
}

// CoercePriority maps a priority value onto the canonical class. Accepts
// the canonical names and the legacy P0..P3 shorthand; anything else is
// PriorityNone. Coercion happens here and only here.
func CoercePriority(value string) types.Priority {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "critical", "p0":
		return types.PriorityCritical
	case "high", "p1":
		return types.PriorityHigh
	case "medium", "p2":
		return types.PriorityMedium
	case "low", "p3":
		return types.PriorityLow
	default:
		return types.PriorityNone
	}
}

// PriorityFromLabels extracts the canonical priority class from labels.
// Supports "priority:high", "priority/high", and bare "P0".."P3".
// Returns PriorityNone when no priority label is present.
func PriorityFromLabels(labels []Label) types.Priority {
	for _, label := range labels {
		prefix, value := ParseLabelName(label.Name)
		if strings.EqualFold(prefix, PriorityPrefix) {
			if p := CoercePriority(value); p != types.PriorityNone {
				return p
			}
		}
		if prefix == "" {
			if p := CoercePriority(value); p != types.PriorityNone && len(value) == 2 {
				return p
			}
		}
	}
	return types.PriorityNone
}

// TypeFromLabels extracts the type class value ("bug", "feature", ...) or
// "" when absent.
func TypeFromLabels(labels []Label) string {
	for _, label := range labels {
		prefix, value := ParseLabelName(label.Name)
		if strings.EqualFold(prefix, TypePrefix) {
			return strings.ToLower(value)
		}
	}
	return ""
}

// StatusFromLabels extracts the status class value ("backlog",
// "in-progress", ...) or "" when absent.
func StatusFromLabels(labels []Label) string {
	for _, label := range labels {
		prefix, value := ParseLabelName(label.Name)
		if strings.EqualFold(prefix, StatusPrefix) {
			return strings.ToLower(value)
		}
	}
	return ""
}

// HasLabel reports whether the exact label name is present.
func HasLabel(labels []Label, name string) bool {
	for _, label := range labels {
		if label.Name == name {
			return true
		}
	}
	return false
}

// IsBlocking reports whether the issue is marked as blocking other work.
func IsBlocking(labels []Label) bool {
	for _, label := range labels {
		switch strings.ToLower(label.Name) {
		case "blocking", "blocker":
			return true
		}
	}
	return false
}

// HasAssignee reports whether the issue has any assignee.
func HasAssignee(issue *Issue) bool {
	return issue.Assignee != nil || len(issue.Assignees) > 0
}
