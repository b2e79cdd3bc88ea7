package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tangkapin/dashfeed/internal/ui"
)

// helpRules are applied in order to cobra's usage text. Each rule rewrites a
// match from its submatches.
var helpRules = []struct {
	re    *regexp.Regexp
	paint func(m []string) string
}{
	// Group and section headers: "Feed Commands:", "Flags:".
	{regexp.MustCompile(`(?m)^([A-Z][^\n]*:)[ \t]*$`), func(m []string) string {
		return ui.RenderAccent(strings.TrimSpace(m[1]))
	}},
	// Subcommand names in the command listing.
	{regexp.MustCompile(`(?m)^(  )(\S+)(  )`), func(m []string) string {
		return m[1] + ui.RenderCommand(m[2]) + m[3]
	}},
	{regexp.MustCompile(`(--?\S+\s+)(string|int|duration|float64|stringSlice)`), func(m []string) string {
		return m[1] + ui.RenderMuted(m[2])
	}},
	{regexp.MustCompile(`\(default "?[^")]*"?\)`), func(m []string) string {
		return ui.RenderMuted(m[0])
	}},
}

// colorizedHelpFunc renders usage through colorizeHelpOutput when stdout
// takes color, and plain otherwise.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		out := cmd.OutOrStdout()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelpOutput(buf.String()))
	}
}

func colorizeHelpOutput(s string) string {
	for _, rule := range helpRules {
		s = rule.re.ReplaceAllStringFunc(s, func(match string) string {
			return rule.paint(rule.re.FindStringSubmatch(match))
		})
	}
	return s
}
