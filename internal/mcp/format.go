package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/ctxengine/internal/bundle"
)

// FormatBundle renders a bundle as markdown: one section per item with
// its file, byte spans, assembly level, and why it was included,
// followed by the stopping-reason summary. Used by the search CLI
// subcommand for human-readable output; MCP clients get the structured
// bundle.Bundle JSON directly.
func FormatBundle(b *bundle.Bundle) string {
	if b == nil {
		return "No results found"
	}
	if len(b.Items) == 0 {
		return fmt.Sprintf("No results found for %q", b.Query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Context for %q\n\n", b.Query)
	fmt.Fprintf(&sb, "Budget %d tokens, used %d (satisfied: %t)\n\n",
		b.TokenReport.Budget, b.TokenReport.Actual, b.Satisfied)

	for i, item := range b.Items {
		formatItem(&sb, i+1, item)
	}

	if len(b.StoppingReasons) > 0 {
		sb.WriteString("### Stopping reasons\n\n")
		for _, r := range b.StoppingReasons {
			fmt.Fprintf(&sb, "- **%s** (%s): %s\n", r.Type, r.Severity, r.Explanation)
			for _, a := range r.Actionable {
				fmt.Fprintf(&sb, "  - %s\n", a)
			}
		}
	}

	return sb.String()
}

func formatItem(sb *strings.Builder, num int, item bundle.Item) {
	fmt.Fprintf(sb, "### %d. %s (level %d)\n\n", num, item.File, item.Level)

	spans := make([]string, len(item.Spans))
	for i, s := range item.Spans {
		spans[i] = fmt.Sprintf("[%d,%d)", s[0], s[1])
	}
	fmt.Fprintf(sb, "Spans: %s\n\n", strings.Join(spans, ", "))

	fmt.Fprintf(sb, "Seed score: %.3f", item.Why.Seed)
	if item.Why.Test != "" {
		fmt.Fprintf(sb, ", paired test: `%s`", item.Why.Test)
	}
	sb.WriteString("\n")

	for _, e := range item.Why.Edges {
		fmt.Fprintf(sb, "- via `%s` -> `%s` (confidence %.2f, weight %.2f)\n",
			e.Kind, e.Target, e.Confidence, e.Weight)
	}
	sb.WriteString("\n")
}
