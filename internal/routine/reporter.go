package routine

import (
	"fmt"
	"strings"

	"github.com/untoldecay/dbport/internal/ir"
)

// MarkdownReport renders the routine migration report: a summary table
// followed by per-routine detail, with generated SQL fenced.
func MarkdownReport(results []Result, triggers []*ir.Trigger) string {
	var b strings.Builder
	b.WriteString("# Routine Migration Report\n\n")

	b.WriteString("## Summary\n")
	b.WriteString("| Name | Outcome | Warnings | Errors |\n")
	b.WriteString("| :--- | :--- | :--- | :--- |\n")
	for _, res := range results {
		fmt.Fprintf(&b, "| `%s` | %s | %d | %d |\n",
			res.RoutineName, res.Outcome, len(res.Warnings), len(res.Errors))
	}
	b.WriteString("\n")

	if len(results) > 0 {
		b.WriteString("## Details\n")
		for _, res := range results {
			fmt.Fprintf(&b, "### %s\n", res.RoutineName)
			fmt.Fprintf(&b, "- **Outcome**: %s\n", res.Outcome)
			if res.Routine != nil {
				fmt.Fprintf(&b, "- **Risk Score**: %d\n", res.Routine.RiskScore)
			}
			if len(res.Warnings) > 0 {
				b.WriteString("**Warnings:**\n")
				for _, w := range res.Warnings {
					fmt.Fprintf(&b, "- [WARN] %s\n", w)
				}
			}
			if len(res.Errors) > 0 {
				b.WriteString("**Errors:**\n")
				for _, e := range res.Errors {
					fmt.Fprintf(&b, "- [ERR] %s\n", e)
				}
			}
			if res.GeneratedCode != "" {
				b.WriteString("\n```sql\n")
				b.WriteString(res.GeneratedCode)
				b.WriteString("\n```\n")
			}
			b.WriteString("---\n")
		}
	}

	if len(triggers) > 0 {
		b.WriteString("\n## Triggers\n")
		b.WriteString("| Name | Table | Timing | Event | Supported | Reason |\n")
		b.WriteString("| :--- | :--- | :--- | :--- | :--- | :--- |\n")
		for _, t := range triggers {
			supported := "no (skipped)"
			if t.SupportedSubset {
				supported = "yes"
			}
			fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s | %s |\n",
				t.Name, t.Table, t.Timing, t.Event, supported, t.UnsupportedReason)
		}
	}

	return b.String()
}

// SQLArtifact concatenates every generated statement for routines.sql,
// each prefixed with the routine name and outcome.
func SQLArtifact(results []Result) string {
	var b strings.Builder
	for _, res := range results {
		if res.GeneratedCode == "" {
			continue
		}
		fmt.Fprintf(&b, "-- %s (%s)\n%s\n\n", res.RoutineName, res.Outcome, res.GeneratedCode)
	}
	return b.String()
}
