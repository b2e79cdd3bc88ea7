package ui

import (
	"fmt"

	"github.com/tangkapin/dashfeed/internal/model"
)

// ANSI256 color codes.
const (
	colorAccent   = 74  // blue
	colorCmd      = 250 // light gray
	colorMuted    = 245 // medium gray
	colorCritical = 196 // red
	colorHigh     = 208 // orange
	colorMedium   = 220 // yellow
	colorOK       = 114 // green
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

func RenderOK(s string) string { return paint(colorOK, s) }

// RenderCritical returns s in bold red, the destructive alert style.
func RenderCritical(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[1;38;5;%dm%s\x1b[0m", colorCritical, s)
}

// RenderPriority colors s by incident priority. Low priority stays plain.
func RenderPriority(p model.Priority, s string) string {
	switch p {
	case model.PriorityCritical:
		return RenderCritical(s)
	case model.PriorityHigh:
		return paint(colorHigh, s)
	case model.PriorityMedium:
		return paint(colorMedium, s)
	default:
		return s
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// SetColor enables or disables color output globally.
func SetColor(enabled bool) {
	noColor = !enabled
}
