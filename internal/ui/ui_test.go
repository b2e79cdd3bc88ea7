package ui

import (
	"strings"
	"testing"

	"github.com/tangkapin/dashfeed/internal/model"
)

func TestRender_NoColor(t *testing.T) {
	SetColor(false)
	t.Cleanup(func() { SetColor(true) })

	if got := RenderCritical("Knife at Pasar"); got != "Knife at Pasar" {
		t.Errorf("RenderCritical = %q", got)
	}
	if got := RenderPriority(model.PriorityHigh, "x"); got != "x" {
		t.Errorf("RenderPriority = %q", got)
	}
}

func TestRenderPriority(t *testing.T) {
	SetColor(true)

	if got := RenderPriority(model.PriorityCritical, "x"); !strings.HasPrefix(got, "\x1b[1;38;5;196m") {
		t.Errorf("critical = %q", got)
	}
	if got := RenderPriority(model.PriorityHigh, "x"); !strings.Contains(got, "208") {
		t.Errorf("high = %q", got)
	}
	if got := RenderPriority(model.PriorityLow, "x"); got != "x" {
		t.Errorf("low should be plain, got %q", got)
	}
}

func TestShouldUseColor_Env(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	if ShouldUseColor() {
		t.Error("NO_COLOR should win")
	}

	t.Setenv("NO_COLOR", "")
	if !ShouldUseColor() {
		t.Error("CLICOLOR_FORCE=1 should force color")
	}

	t.Setenv("CLICOLOR_FORCE", "")
	t.Setenv("CLICOLOR", "0")
	if ShouldUseColor() {
		t.Error("CLICOLOR=0 should disable color")
	}
}

func TestTruncate(t *testing.T) {
	for _, tc := range []struct {
		in    string
		width int
		want  string
	}{
		{"Jl. Merdeka", 20, "Jl. Merdeka"},
		{"Jl. Merdeka", 6, "Jl. M…"},
		{"Pencurian Motor", 1, "…"},
		{"abc", 0, "abc"},
		{"Pasar Baru Jaya", 5, "Pasa…"},
	} {
		if got := Truncate(tc.in, tc.width); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.width, got, tc.want)
		}
	}
}
