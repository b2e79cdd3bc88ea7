package model

import (
	"fmt"
	"strings"
)

// Priority is the urgency of an incident. Priorities are ordered:
// low < medium < high < critical.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists every known priority in ascending order.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// String returns the string representation of the priority.
func (p Priority) String() string {
	return string(p)
}

// IsValid reports whether p is one of the known priorities.
func (p Priority) IsValid() bool {
	return p.Rank() > 0
}

// Rank returns the ordinal of p (1 = low, 4 = critical), or 0 when unknown.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

// Less reports whether p is strictly less severe than other.
func (p Priority) Less(other Priority) bool {
	return p.Rank() < other.Rank()
}

// IsCritical reports whether p demands the destructive alert style.
func (p Priority) IsCritical() bool {
	return p == PriorityCritical
}

// Label returns the dispatcher-facing label shown next to recent alerts.
func (p Priority) Label() string {
	switch p {
	case PriorityCritical, PriorityHigh:
		return "Emergency"
	case PriorityMedium:
		return "Attention"
	default:
		return "Notification"
	}
}

// ParsePriority parses s case-insensitively.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}
