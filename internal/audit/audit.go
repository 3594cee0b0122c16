// Package audit produces the human-facing audit trail of a migration
// run: an append-only events.jsonl stream and the final audit_report.md.
// Connection URLs are redacted before they enter either artifact.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/untoldecay/dbport/internal/redact"
)

// Event is one append-only audit record. Kind + the typed fields cover
// the common cases; Extra carries anything else.
type Event struct {
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Object    string    `json:"object,omitempty"`
	Rows      int64     `json:"rows,omitempty"`
	Status    string    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Duration  string    `json:"duration,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Converted is one object that made it across.
type Converted struct {
	Object   string
	Rows     int64
	Status   string
	Duration time.Duration
}

// Skipped is one object left behind, with the reason.
type Skipped struct {
	Object string
	Reason string
}

// Generator accumulates the run's audit trail.
type Generator struct {
	runID      string
	sourceURL  string
	targetURL  string
	startedAt  time.Time
	eventsPath string

	converted   []Converted
	warnings    []string
	skipped     []Skipped
	manualSteps []string
}

// NewGenerator starts an audit trail. The URLs are redacted immediately;
// the generator never holds credentials.
func NewGenerator(runID, sourceURL, targetURL, logsDir string) *Generator {
	return &Generator{
		runID:      runID,
		sourceURL:  redact.URL(sourceURL),
		targetURL:  redact.URL(targetURL),
		startedAt:  time.Now(),
		eventsPath: filepath.Join(logsDir, "events.jsonl"),
	}
}

// append writes one event line. Audit logging must never fail a run, so
// write errors are swallowed after a best effort.
func (g *Generator) append(e Event) {
	e.CreatedAt = time.Now().UTC()
	f, err := os.OpenFile(g.eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	f.Write(append(data, '\n'))
}

// LogConversion records a migrated object.
func (g *Generator) LogConversion(object string, rows int64, status string, duration time.Duration) {
	g.converted = append(g.converted, Converted{object, rows, status, duration})
	g.append(Event{Kind: "conversion", Object: object, Rows: rows, Status: status, Duration: duration.String()})
}

// LogWarning records a preflight or runtime warning.
func (g *Generator) LogWarning(message string) {
	msg := redact.String(message)
	g.warnings = append(g.warnings, msg)
	g.append(Event{Kind: "warning", Reason: msg})
}

// LogSkipped records an object deliberately left behind.
func (g *Generator) LogSkipped(object, reason string) {
	g.skipped = append(g.skipped, Skipped{object, reason})
	g.append(Event{Kind: "skipped", Object: object, Reason: reason})
}

// AddManualStep records a follow-up for the operator.
func (g *Generator) AddManualStep(step string) {
	g.manualSteps = append(g.manualSteps, step)
	g.append(Event{Kind: "manual_step", Reason: step})
}

// Report renders audit_report.md.
func (g *Generator) Report() string {
	duration := time.Since(g.startedAt).Round(time.Millisecond)

	var b strings.Builder
	b.WriteString("# Migration Audit Report\n\n")
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- **Run ID**: %s\n", g.runID)
	fmt.Fprintf(&b, "- **Date**: %s\n", g.startedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Duration**: %s\n", duration)
	fmt.Fprintf(&b, "- **Source**: %s\n", g.sourceURL)
	fmt.Fprintf(&b, "- **Target**: %s\n\n", g.targetURL)

	b.WriteString("## Objects Converted\n")
	b.WriteString("| Object | Rows | Status | Duration |\n")
	b.WriteString("|--------|------|--------|----------|\n")
	for _, c := range g.converted {
		fmt.Fprintf(&b, "| %s | %d | %s | %s |\n", c.Object, c.Rows, c.Status, c.Duration.Round(time.Millisecond))
	}
	b.WriteString("\n")

	if len(g.warnings) > 0 {
		fmt.Fprintf(&b, "## Warnings (%d)\n", len(g.warnings))
		for _, w := range g.warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	if len(g.skipped) > 0 {
		fmt.Fprintf(&b, "## Skipped Objects (%d)\n", len(g.skipped))
		for _, s := range g.skipped {
			fmt.Fprintf(&b, "- **%s**: %s\n", s.Object, s.Reason)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Manual Steps Required\n")
	if len(g.manualSteps) > 0 {
		for _, step := range g.manualSteps {
			fmt.Fprintf(&b, "- [ ] %s\n", step)
		}
	} else {
		b.WriteString("- [ ] Verify row counts match source\n")
		b.WriteString("- [ ] Check application connectivity\n")
	}
	return b.String()
}
