package migrate

import (
	"fmt"
	"sort"

	"github.com/untoldecay/dbport/internal/ir"
)

// Plan is the table processing order plus what preflight learned about
// the dependency graph.
type Plan struct {
	// Order is the creation/copy order, FK leaves first.
	Order []string
	// Cycles holds one "a -> b" edge description per FK edge between
	// tables the sort could not order: tables on a cycle and tables that
	// depend on one. Flagged tables are created without FKs; FKs follow
	// in a second pass.
	Cycles []string
	// CyclicTables marks the tables the sort could not order: those on an
	// FK cycle and those that depend, directly or not, on a cycle.
	CyclicTables map[string]bool
	// SelfRefs lists self-referential FK descriptions; insert order
	// inside those tables matters.
	SelfRefs []string
}

// buildPlan topologically sorts tables by FK dependency (Kahn's
// algorithm, leaves first). Cycles never fail the plan: the remaining
// tables are appended in name order and flagged for two-pass FK
// emission.
func buildPlan(schema *ir.Schema) *Plan {
	plan := &Plan{CyclicTables: map[string]bool{}}

	deps := map[string]map[string]bool{}    // table -> referenced tables
	reverse := map[string]map[string]bool{} // referenced -> referencing
	for name, t := range schema.Tables {
		deps[name] = map[string]bool{}
		for _, fk := range t.ForeignKeys() {
			ref := fk.RefTable
			if ref == name {
				plan.SelfRefs = append(plan.SelfRefs,
					fmt.Sprintf("%s.%v -> %s", name, fk.Columns, ref))
				continue
			}
			if _, exists := schema.Tables[ref]; !exists {
				// Cross-schema or out-of-scope reference; nothing to order.
				continue
			}
			deps[name][ref] = true
			if reverse[ref] == nil {
				reverse[ref] = map[string]bool{}
			}
			reverse[ref][name] = true
		}
	}
	sort.Strings(plan.SelfRefs)

	// Kahn: repeatedly take the tables with no unresolved dependencies,
	// in name order for determinism.
	remaining := map[string]int{}
	for name, d := range deps {
		remaining[name] = len(d)
	}
	for len(remaining) > 0 {
		var ready []string
		for name, n := range remaining {
			if n == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			break // every remaining table is on a cycle or depends on one
		}
		sort.Strings(ready)
		for _, name := range ready {
			plan.Order = append(plan.Order, name)
			delete(remaining, name)
			for dependent := range reverse[name] {
				if _, ok := remaining[dependent]; ok {
					remaining[dependent]--
				}
			}
		}
	}

	if len(remaining) > 0 {
		var cyclic []string
		for name := range remaining {
			cyclic = append(cyclic, name)
		}
		sort.Strings(cyclic)
		for _, name := range cyclic {
			plan.CyclicTables[name] = true
			plan.Order = append(plan.Order, name)
			for ref := range deps[name] {
				if _, onCycle := remaining[ref]; onCycle {
					plan.Cycles = append(plan.Cycles, fmt.Sprintf("%s -> %s", name, ref))
				}
			}
		}
		sort.Strings(plan.Cycles)
	}

	return plan
}
