// Package routine analyzes, stubs, and (for a fixed safe subset)
// translates stored procedures, functions, and triggers. The capability
// mode is always user-selected; the translator never escalates on its own.
package routine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/typemap"
)

// Mode is the user-selected routine handling capability.
type Mode string

const (
	ModeNone            Mode = "none"
	ModeAnalyze         Mode = "analyze"
	ModeStub            Mode = "stub"
	ModeSubsetTranslate Mode = "subset_translate"
)

// ParseMode validates a mode string from flags or config.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNone, ModeAnalyze, ModeStub, ModeSubsetTranslate:
		return Mode(s), nil
	}
	return ModeNone, fmt.Errorf("unknown routines mode %q (none|analyze|stub|subset_translate)", s)
}

// Outcome is what happened to one routine.
type Outcome string

const (
	OutcomeSkipped      Outcome = "SKIPPED"
	OutcomeAnalyzedOnly Outcome = "ANALYZED_ONLY"
	OutcomeStubbed      Outcome = "STUBBED"
	OutcomeTranslated   Outcome = "TRANSLATED"
)

// Result carries the per-routine outcome and any generated code.
type Result struct {
	RoutineName   string
	Routine       *ir.Routine
	GeneratedCode string
	Outcome       Outcome
	Warnings      []string
	Errors        []string
}

// Translator processes routines from one source dialect for one target.
type Translator struct {
	sourceDialect string
	targetDialect string
}

// NewTranslator builds a translator for the dialect pair.
func NewTranslator(sourceDialect, targetDialect string) *Translator {
	return &Translator{
		sourceDialect: typemap.Normalize(sourceDialect),
		targetDialect: typemap.Normalize(targetDialect),
	}
}

// safeRiskThreshold is the highest risk score still eligible for subset
// translation.
const safeRiskThreshold = 20

// Process handles one routine under the requested mode. Translation
// failures demote to a stub with the reason logged; they are never fatal.
func (tr *Translator) Process(r *ir.Routine, mode Mode) Result {
	if mode == ModeNone {
		return Result{RoutineName: r.Name, Routine: r, Outcome: OutcomeSkipped}
	}

	var warnings, errs []string
	score, issues := analyzeRisk(r.Body)
	r.RiskScore = score
	r.Issues = append(r.Issues, issues...)
	warnings = append(warnings, issues...)

	if mode == ModeAnalyze {
		return Result{RoutineName: r.Name, Routine: r, Outcome: OutcomeAnalyzedOnly, Warnings: warnings}
	}

	if mode == ModeSubsetTranslate {
		if score <= safeRiskThreshold {
			code, err := tr.translateSubset(r)
			if err == nil {
				return Result{RoutineName: r.Name, Routine: r, GeneratedCode: code, Outcome: OutcomeTranslated, Warnings: warnings}
			}
			errs = append(errs, fmt.Sprintf("translation failed: %v", err))
		} else {
			warnings = append(warnings, "routine outside safe subset, falling back to stub")
		}
	}

	stub := tr.generateStub(r)
	return Result{RoutineName: r.Name, Routine: r, GeneratedCode: stub, Outcome: OutcomeStubbed, Warnings: warnings, Errors: errs}
}

// Risk scoring: additive, capped at 100. The weights are part of the
// documented contract.
func analyzeRisk(body string) (int, []string) {
	src := strings.ToUpper(body)
	score := 0
	var issues []string

	if strings.Contains(src, "EXECUTE IMMEDIATE") || regexp.MustCompile(`\bEXEC\s*\(`).MatchString(src) {
		issues = append(issues, "dynamic SQL (EXECUTE IMMEDIATE/EXEC)")
		score += 50
	}
	if strings.Contains(src, "CURSOR ") {
		issues = append(issues, "explicit cursors")
		score += 30
	}
	if strings.Contains(src, "DBMS_") || strings.Contains(src, "UTL_") || regexp.MustCompile(`\bSP_\w+`).MatchString(src) {
		issues = append(issues, "vendor system packages (DBMS_*/UTL_*/sp_*)")
		score += 40
	}
	if strings.Contains(src, "EXCEPTION") {
		issues = append(issues, "complex exception handling")
		score += 20
	}
	if strings.Contains(src, "PRAGMA ") || regexp.MustCompile(`/\*\+`).MatchString(body) {
		issues = append(issues, "pragmas or optimizer hints")
		score += 20
	}

	if score > 100 {
		score = 100
	}
	return score, issues
}

var (
	beginEndPattern = regexp.MustCompile(`(?is)BEGIN(.*)END\s*;?\s*$`)
	loopPattern     = regexp.MustCompile(`(?i)\b(LOOP|WHILE|FOR)\b`)
)

// translateSubset attempts structural translation of the documented safe
// subset: one top-level BEGIN..END, assignments, simple conditionals,
// plain DML, and the fixed builtin rewrite table.
func (tr *Translator) translateSubset(r *ir.Routine) (string, error) {
	if tr.targetDialect != "postgres" {
		return "", fmt.Errorf("subset translation targets postgres only, not %s", tr.targetDialect)
	}
	src := r.Body
	m := beginEndPattern.FindStringSubmatch(src)
	body := src
	if m != nil {
		body = m[1]
	}
	if loopPattern.MatchString(body) {
		return "", fmt.Errorf("loops are outside the safe subset")
	}

	body = rewriteBuiltins(body)

	args := tr.formatArgs(r.Arguments)
	ret := "void"
	if r.ReturnType != nil {
		ret = typemap.FromIR(tr.targetDialect, *r.ReturnType)
	}

	code := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s(%s)
RETURNS %s
LANGUAGE plpgsql
AS $$
BEGIN
%s
END;
$$;`, r.Name, args, ret, strings.TrimRight(body, "\n"))
	return code, nil
}

// rewriteBuiltins applies the fixed dialect-builtin rewrite table.
func rewriteBuiltins(sql string) string {
	sql = regexp.MustCompile(`(?i)\bSYSDATE\b`).ReplaceAllString(sql, "CURRENT_TIMESTAMP")
	sql = regexp.MustCompile(`(?i)\bNVL\s*\(`).ReplaceAllString(sql, "COALESCE(")
	sql = regexp.MustCompile(`(?i)\s+FROM\s+DUAL\b`).ReplaceAllString(sql, "")
	sql = regexp.MustCompile(`(?i)\bGETDATE\s*\(\s*\)`).ReplaceAllString(sql, "CURRENT_TIMESTAMP")
	return sql
}

// generateStub emits a target-dialect stub that accepts the original
// arguments and raises an unimplemented error. The postgres stub also
// logs a notice on invocation; the mysql stub does not log. Targets other
// than postgres and mysql get a single SQL comment line, not a stub.
func (tr *Translator) generateStub(r *ir.Routine) string {
	issues := strings.Join(r.Issues, ", ")
	if issues == "" {
		issues = "none recorded"
	}

	switch tr.targetDialect {
	case "postgres":
		args := tr.formatArgs(r.Arguments)
		ret := "void"
		tail := "RETURN;"
		if r.ReturnType != nil {
			ret = typemap.FromIR(tr.targetDialect, *r.ReturnType)
			tail = "RETURN NULL;"
		}
		return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s(%s)
RETURNS %s
LANGUAGE plpgsql
AS $$
BEGIN
    -- Stubbed during migration. Detected issues: %s
    RAISE NOTICE 'calling stubbed routine %s';
    RAISE EXCEPTION 'routine %s is not implemented';
    %s
END;
$$;`, r.Name, args, ret, issues, r.Name, r.Name, tail)
	case "mysql":
		return fmt.Sprintf(`DELIMITER //
CREATE PROCEDURE %s(%s)
BEGIN
    -- Stubbed during migration. Detected issues: %s
    SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'routine %s is not implemented';
END //
DELIMITER ;`, r.Name, tr.formatArgs(r.Arguments), issues, r.Name)
	default:
		return fmt.Sprintf("-- routine %s stubbed: no stub emitter for target %s (issues: %s)",
			r.Name, tr.targetDialect, issues)
	}
}

func (tr *Translator) formatArgs(args []ir.RoutineArg) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		mode := ""
		switch a.Mode {
		case ir.ModeOut:
			mode = "OUT "
		case ir.ModeInOut:
			mode = "INOUT "
		}
		parts = append(parts, mode+a.Name+" "+typemap.FromIR(tr.targetDialect, a.Type))
	}
	return strings.Join(parts, ", ")
}
