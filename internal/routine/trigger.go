package routine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/untoldecay/dbport/internal/ir"
)

// The trigger subset is deliberately narrow: BEFORE INSERT or BEFORE
// UPDATE, row-level, with a body limited to in-place column normalization
// through builtin string and math functions. Everything else is marked
// unsupported with a reason during introspection and never translated.

// allowedBodyFuncs are the builtins a subset trigger body may call.
var allowedBodyFuncs = map[string]bool{
	"UPPER": true, "LOWER": true, "TRIM": true, "LTRIM": true,
	"RTRIM": true, "ROUND": true, "ABS": true, "COALESCE": true,
	"LENGTH": true, "SUBSTR": true,
}

var (
	dmlPattern      = regexp.MustCompile(`(?i)\b(INSERT\s+INTO|UPDATE\s+\w+\s+SET|DELETE\s+FROM)\b`)
	selectPattern   = regexp.MustCompile(`(?i)\bSELECT\b.*\bFROM\b`)
	controlPattern  = regexp.MustCompile(`(?i)\b(LOOP|WHILE|FOR|CURSOR|EXECUTE)\b`)
	funcCallPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
)

// ClassifyTrigger applies the fixed subset predicate and fills
// SupportedSubset and UnsupportedReason in place. It is called exactly
// once, by introspection.
func ClassifyTrigger(t *ir.Trigger) {
	reasons := classifyReasons(t)
	if len(reasons) == 0 {
		t.SupportedSubset = true
		t.UnsupportedReason = ""
		return
	}
	t.SupportedSubset = false
	t.UnsupportedReason = strings.Join(reasons, "; ")
}

func classifyReasons(t *ir.Trigger) []string {
	var reasons []string

	switch t.Timing {
	case ir.TimingBefore:
	case ir.TimingAfter:
		reasons = append(reasons, "AFTER triggers are outside the supported subset")
	case ir.TimingInsteadOf:
		reasons = append(reasons, "INSTEAD OF triggers are outside the supported subset")
	default:
		reasons = append(reasons, fmt.Sprintf("unrecognized timing %q", t.Timing))
	}

	switch t.Event {
	case ir.EventInsert, ir.EventUpdate:
	case ir.EventDelete:
		reasons = append(reasons, "DELETE triggers are outside the supported subset")
	default:
		reasons = append(reasons, fmt.Sprintf("unrecognized event %q", t.Event))
	}

	if t.Level == ir.LevelStatement {
		reasons = append(reasons, "statement-level triggers are outside the supported subset")
	}

	body := t.Definition
	if dmlPattern.MatchString(body) {
		reasons = append(reasons, "DML inside trigger body")
	}
	if selectPattern.MatchString(body) {
		reasons = append(reasons, "body references other tables")
	}
	if controlPattern.MatchString(body) {
		reasons = append(reasons, "control flow or dynamic execution in body")
	}
	for _, m := range funcCallPattern.FindAllStringSubmatch(body, -1) {
		name := strings.ToUpper(m[1])
		if !allowedBodyFuncs[name] && !isKeywordCall(name) {
			reasons = append(reasons, fmt.Sprintf("call to %s is outside the builtin allowlist", name))
		}
	}

	return reasons
}

// isKeywordCall filters matches that are SQL keywords rather than
// function calls (e.g. "VALUES (").
func isKeywordCall(name string) bool {
	switch name {
	case "VALUES", "SET", "WHEN", "IF", "BEGIN", "END", "NEW", "OLD":
		return true
	}
	return false
}
