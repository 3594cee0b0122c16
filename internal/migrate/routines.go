package migrate

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/routine"
	"github.com/untoldecay/dbport/internal/validation"
)

// processRoutines handles stored routines and triggers under the
// configured capability mode. Nothing here is ever fatal: unsupported
// capabilities and failed translations become limitations and stubs.
func (r *Runner) processRoutines(ctx context.Context) ([]routine.Result, []*ir.Trigger) {
	var results []routine.Result
	var triggers []*ir.Trigger

	mode := r.opts.RoutinesMode

	if rl, ok := r.source.(adapter.RoutineLister); ok {
		routines, err := rl.ListRoutines(ctx)
		if err != nil {
			r.log.Warn("routine introspection failed", "error", redactedErr(err))
			r.limitations.Add(validation.Limitation{
				Category:    validation.CategoryUnsupportedObject,
				ObjectType:  "routine",
				ObjectName:  "*",
				Description: "Routine introspection failed: " + redactedErr(err),
				Severity:    validation.SeverityWarning,
			})
		} else {
			sort.Slice(routines, func(i, j int) bool { return routines[i].Name < routines[j].Name })
			tr := routine.NewTranslator(r.source.Dialect(), r.target.Dialect())
			for _, rt := range routines {
				res := tr.Process(rt, mode)
				results = append(results, res)
				if res.Outcome == routine.OutcomeSkipped {
					r.auditor.LogSkipped(rt.Name, "routines mode is none")
					r.limitations.Add(validation.Limitation{
						Category:    validation.CategoryUnsupportedObject,
						ObjectType:  "routine",
						ObjectName:  rt.Name,
						Description: "Routine not migrated (mode: none)",
						Severity:    validation.SeverityInfo,
					})
				}
				if res.Outcome == routine.OutcomeStubbed {
					r.limitations.Add(validation.Limitation{
						Category:    validation.CategoryManualStep,
						ObjectType:  "routine",
						ObjectName:  rt.Name,
						Description: fmt.Sprintf("Routine was stubbed (risk score %d); implement the body on the target", rt.RiskScore),
						Severity:    validation.SeverityWarning,
					})
				}
			}
		}
	} else if mode != routine.ModeNone {
		r.limitations.Add(validation.Limitation{
			Category:    validation.CategoryUnsupportedObject,
			ObjectType:  "routine",
			ObjectName:  "*",
			Description: fmt.Sprintf("Source %s does not support routine introspection (L3)", r.source.Dialect()),
			Severity:    validation.SeverityInfo,
		})
	}

	if tl, ok := r.source.(adapter.TriggerLister); ok {
		trgs, err := tl.ListTriggers(ctx)
		if err != nil {
			r.log.Warn("trigger introspection failed", "error", redactedErr(err))
			r.limitations.Add(validation.Limitation{
				Category:    validation.CategoryUnsupportedObject,
				ObjectType:  "trigger",
				ObjectName:  "*",
				Description: "Trigger introspection failed: " + redactedErr(err),
				Severity:    validation.SeverityWarning,
			})
		} else {
			sort.Slice(trgs, func(i, j int) bool { return trgs[i].Name < trgs[j].Name })
			triggers = trgs
			for _, t := range trgs {
				if !t.SupportedSubset {
					r.auditor.LogSkipped(t.Name, t.UnsupportedReason)
					r.limitations.Add(validation.Limitation{
						Category:    validation.CategoryUnsupportedObject,
						ObjectType:  "trigger",
						ObjectName:  t.Name,
						Description: "Trigger outside supported subset: " + t.UnsupportedReason,
						Severity:    validation.SeverityWarning,
					})
				}
			}
		}
	}

	if len(results) > 0 || len(triggers) > 0 {
		if sqlBody := routine.SQLArtifact(results); sqlBody != "" {
			if err := os.WriteFile(r.b.RoutinesSQLPath(), []byte(sqlBody), 0o600); err != nil {
				r.log.Warn("failed to write routines.sql", "error", redactedErr(err))
			}
		}
		report := routine.MarkdownReport(results, triggers)
		if err := r.b.WriteReport("routine_migration_report.md", []byte(report)); err != nil {
			r.log.Warn("failed to write routine report", "error", redactedErr(err))
		}
	}
	return results, triggers
}
