package routine

import (
	"strings"
	"testing"

	"github.com/untoldecay/dbport/internal/ir"
)

func TestRiskScoring(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"clean", "BEGIN UPDATE t SET a = 1; END;", 0},
		{"dynamic sql", "BEGIN EXECUTE IMMEDIATE 'drop table t'; END;", 50},
		{"cursor", "DECLARE CURSOR c IS SELECT 1; BEGIN NULL; END;", 30},
		{"system package", "BEGIN DBMS_OUTPUT.PUT_LINE('x'); END;", 40},
		{"exception", "BEGIN NULL; EXCEPTION WHEN OTHERS THEN NULL; END;", 20},
		{"capped", "EXECUTE IMMEDIATE CURSOR DBMS_ UTL_ EXCEPTION PRAGMA ", 100},
	}
	for _, tc := range cases {
		score, _ := analyzeRisk(tc.body)
		if score != tc.want {
			t.Errorf("%s: score = %d, want %d", tc.name, score, tc.want)
		}
	}
}

func TestProcessModeNone(t *testing.T) {
	tr := NewTranslator("oracle", "postgres")
	r := &ir.Routine{Name: "p", Body: "BEGIN NULL; END;"}
	res := tr.Process(r, ModeNone)
	if res.Outcome != OutcomeSkipped {
		t.Errorf("mode none should skip, got %s", res.Outcome)
	}
	if res.GeneratedCode != "" {
		t.Error("mode none must emit no code")
	}
}

func TestProcessAnalyzeOnly(t *testing.T) {
	tr := NewTranslator("oracle", "postgres")
	r := &ir.Routine{Name: "p", Body: "BEGIN EXECUTE IMMEDIATE 'x'; END;"}
	res := tr.Process(r, ModeAnalyze)
	if res.Outcome != OutcomeAnalyzedOnly {
		t.Fatalf("got %s", res.Outcome)
	}
	if r.RiskScore != 50 {
		t.Errorf("risk score = %d, want 50", r.RiskScore)
	}
	if res.GeneratedCode != "" {
		t.Error("analyze mode must emit no code")
	}
}

func TestStubGeneration(t *testing.T) {
	tr := NewTranslator("oracle", "postgres")
	ret := ir.TypeInfo{Kind: ir.KindInt32}
	r := &ir.Routine{
		Name: "calc_total",
		Arguments: []ir.RoutineArg{
			{Name: "p_id", Type: ir.TypeInfo{Kind: ir.KindInt64}, Mode: ir.ModeIn},
			{Name: "p_out", Type: ir.TypeInfo{Kind: ir.KindText}, Mode: ir.ModeOut},
		},
		ReturnType: &ret,
		Body:       "BEGIN DBMS_LOCK.SLEEP(1); END;",
	}
	res := tr.Process(r, ModeStub)
	if res.Outcome != OutcomeStubbed {
		t.Fatalf("got %s", res.Outcome)
	}
	code := res.GeneratedCode
	for _, want := range []string{"calc_total", "OUT p_out", "RAISE EXCEPTION", "not implemented", "RETURNS INTEGER"} {
		if !strings.Contains(code, want) {
			t.Errorf("stub missing %q:\n%s", want, code)
		}
	}
}

func TestSubsetTranslationRewritesBuiltins(t *testing.T) {
	tr := NewTranslator("oracle", "postgres")
	r := &ir.Routine{
		Name: "touch_row",
		Body: "BEGIN UPDATE t SET updated_at = SYSDATE, label = NVL(label, 'x'); END;",
	}
	res := tr.Process(r, ModeSubsetTranslate)
	if res.Outcome != OutcomeTranslated {
		t.Fatalf("expected TRANSLATED, got %s (%v)", res.Outcome, res.Errors)
	}
	code := res.GeneratedCode
	if strings.Contains(strings.ToUpper(code), "SYSDATE") {
		t.Error("SYSDATE not rewritten")
	}
	if !strings.Contains(code, "CURRENT_TIMESTAMP") || !strings.Contains(code, "COALESCE(") {
		t.Errorf("builtin rewrites missing:\n%s", code)
	}
}

func TestSubsetTranslationFallsBackOnRisk(t *testing.T) {
	tr := NewTranslator("oracle", "postgres")
	r := &ir.Routine{Name: "danger", Body: "BEGIN EXECUTE IMMEDIATE 'drop table t'; END;"}
	res := tr.Process(r, ModeSubsetTranslate)
	if res.Outcome != OutcomeStubbed {
		t.Fatalf("risky routine must stub, got %s", res.Outcome)
	}
}

func TestSubsetTranslationFallsBackOnLoops(t *testing.T) {
	tr := NewTranslator("oracle", "postgres")
	r := &ir.Routine{Name: "looper", Body: "BEGIN FOR i IN 1..10 LOOP NULL; END LOOP; END;"}
	res := tr.Process(r, ModeSubsetTranslate)
	if res.Outcome != OutcomeStubbed {
		t.Fatalf("loop body must stub, got %s", res.Outcome)
	}
	if len(res.Errors) == 0 {
		t.Error("fallback reason not recorded")
	}
}

func TestParseMode(t *testing.T) {
	if _, err := ParseMode("subset_translate"); err != nil {
		t.Errorf("valid mode rejected: %v", err)
	}
	if _, err := ParseMode("yolo"); err == nil {
		t.Error("invalid mode accepted")
	}
}
