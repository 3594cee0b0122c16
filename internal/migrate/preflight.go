package migrate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/typemap"
	"github.com/untoldecay/dbport/internal/validation"
)

// reservedWords are identifiers worth flagging on any dialect. Quoting
// handles them, but they are a frequent source of post-migration query
// breakage.
var reservedWords = map[string]bool{
	"user": true, "table": true, "select": true, "where": true,
	"from": true, "order": true, "group": true, "limit": true,
	"offset": true, "index": true, "create": true, "update": true,
	"delete": true, "insert": true, "check": true, "default": true,
}

// PreflightResult is everything preflight learned before any write.
type PreflightResult struct {
	Plan        *Plan
	Warnings    []string
	Limitations []validation.Limitation
}

// preflight inspects the schema for lossy conversions, FK cycles,
// reserved words, case collisions, and deferred defaults. It only ever
// warns; nothing here aborts a run.
func preflight(schema *ir.Schema, sourceDialect, targetDialect string) *PreflightResult {
	res := &PreflightResult{Plan: buildPlan(schema)}

	for _, name := range schema.TableNames() {
		t := schema.Tables[name]
		for _, col := range t.Columns {
			lossy, reason := typemap.LossyConversion(sourceDialect, col.Type.RawSourceType, targetDialect)
			if lossy {
				res.Limitations = append(res.Limitations, validation.Limitation{
					Category:    validation.CategoryLossyMapping,
					ObjectType:  "column",
					ObjectName:  name + "." + col.Name,
					Description: reason,
					Severity:    validation.SeverityWarning,
				})
				res.Warnings = append(res.Warnings, fmt.Sprintf("LOSSY TYPE in %s.%s: %s", name, col.Name, reason))
			}
			if col.Default != nil {
				res.Limitations = append(res.Limitations, validation.Limitation{
					Category:    validation.CategoryManualStep,
					ObjectType:  "column",
					ObjectName:  name + "." + col.Name,
					Description: fmt.Sprintf("Default expression %q was not migrated; recreate it on the target if needed", *col.Default),
					Severity:    validation.SeverityInfo,
				})
			}
		}
	}

	for _, edge := range res.Plan.Cycles {
		res.Warnings = append(res.Warnings, "Circular dependency detected: "+edge)
	}
	for _, ref := range res.Plan.SelfRefs {
		res.Warnings = append(res.Warnings, "Self-referential FK detected: "+ref+". Data insert order matters.")
	}

	names := schema.TableNames()
	for _, name := range names {
		if reservedWords[strings.ToLower(name)] {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("Table name %q is a reserved word; it will be quoted, but queries against the target must quote it too", name))
		}
	}

	// Case-insensitive collisions break on case-folding targets.
	byLower := map[string][]string{}
	for _, name := range names {
		lower := strings.ToLower(name)
		byLower[lower] = append(byLower[lower], name)
	}
	lowers := make([]string, 0, len(byLower))
	for l := range byLower {
		lowers = append(lowers, l)
	}
	sort.Strings(lowers)
	for _, l := range lowers {
		if originals := byLower[l]; len(originals) > 1 {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("Identifier collision: %s will collide on case-insensitive targets", strings.Join(originals, " vs ")))
			res.Limitations = append(res.Limitations, validation.Limitation{
				Category:    validation.CategoryBehaviorDifference,
				ObjectType:  "table",
				ObjectName:  originals[0],
				Description: fmt.Sprintf("Case-insensitive name collision between %s", strings.Join(originals, ", ")),
				Severity:    validation.SeverityWarning,
			})
		}
	}

	return res
}
