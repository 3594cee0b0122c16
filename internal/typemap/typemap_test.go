package typemap

import (
	"strings"
	"testing"

	"github.com/untoldecay/dbport/internal/ir"
)

func TestToIRParsesPrecisionAndScale(t *testing.T) {
	ti := ToIR("oracle", "NUMBER(10,2)")
	if ti.Kind != ir.KindDecimal {
		t.Fatalf("expected DECIMAL, got %s", ti.Kind)
	}
	if ti.Precision != 10 || ti.Scale != 2 {
		t.Errorf("expected (10,2), got (%d,%d)", ti.Precision, ti.Scale)
	}
	if ti.RawSourceType != "NUMBER(10,2)" {
		t.Errorf("raw source type not preserved: %q", ti.RawSourceType)
	}
}

func TestToIRVarchar2Length(t *testing.T) {
	ti := ToIR("oracle", "VARCHAR2(100)")
	if ti.Kind != ir.KindText || ti.Length != 100 {
		t.Errorf("VARCHAR2(100): got kind=%s length=%d", ti.Kind, ti.Length)
	}
}

func TestToIRTimestampWithTimeZone(t *testing.T) {
	for _, tc := range []struct {
		dialect, raw string
	}{
		{"postgres", "TIMESTAMP WITH TIME ZONE"},
		{"postgres", "timestamptz"},
		{"mssql", "datetimeoffset"},
		{"oracle", "TIMESTAMP WITH TIME ZONE"},
	} {
		ti := ToIR(tc.dialect, tc.raw)
		if ti.Kind != ir.KindTimestampTZ || !ti.TZAware {
			t.Errorf("%s %s: expected TIMESTAMP_TZ tz-aware, got %s", tc.dialect, tc.raw, ti.Kind)
		}
	}
}

func TestToIRUnknownTypeFallsBackToText(t *testing.T) {
	ti := ToIR("postgres", "XYZCUSTOM")
	if ti.Kind != ir.KindText {
		t.Fatalf("unknown type should map to TEXT, got %s", ti.Kind)
	}
	if !ti.UnknownSource {
		t.Error("unknown source flag not set")
	}
	if ti.RawSourceType != "XYZCUSTOM" {
		t.Errorf("raw name not preserved: %q", ti.RawSourceType)
	}
}

func TestNormalizeAliases(t *testing.T) {
	for in, want := range map[string]string{
		"postgresql": "postgres",
		"PostgreSQL": "postgres",
		"mariadb":    "mysql",
		"sqlite3":    "sqlite",
		"oracle":     "oracle",
	} {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

// Round-trip property: for every raw type in the corpus, emitting the IR
// back into the same dialect either reproduces an equivalent type or the
// conversion is flagged lossy against at least one common target.
func TestTypeRoundTrip(t *testing.T) {
	corpus := map[string][]string{
		"postgres": {"INTEGER", "BIGINT", "TEXT", "VARCHAR(50)", "NUMERIC(12,4)", "BOOLEAN", "BYTEA", "DATE", "TIMESTAMP", "UUID", "JSONB"},
		"mysql":    {"INT", "BIGINT", "VARCHAR(255)", "DECIMAL(10,2)", "DATETIME", "LONGTEXT", "TINYINT(1)"},
		"oracle":   {"NUMBER(10)", "NUMBER(10,2)", "VARCHAR2(100)", "CLOB", "DATE", "TIMESTAMP"},
		"mssql":    {"INT", "BIGINT", "NVARCHAR(200)", "DECIMAL(18,2)", "DATETIME2", "UNIQUEIDENTIFIER"},
		"sqlite":   {"INTEGER", "TEXT", "REAL", "BLOB", "TIMESTAMP"},
	}
	for dialect, raws := range corpus {
		for _, raw := range raws {
			ti := ToIR(dialect, raw)
			if ti.UnknownSource {
				t.Errorf("%s %s: corpus type resolved as unknown", dialect, raw)
				continue
			}
			emitted := FromIR(dialect, ti)
			back := ToIR(dialect, emitted)
			if back.Kind == ti.Kind {
				continue
			}
			if lossy, _ := LossyConversion(dialect, raw, "sqlite"); !lossy {
				t.Errorf("%s %s: round-trip changed kind %s -> %s without lossy flag", dialect, raw, ti.Kind, back.Kind)
			}
		}
	}
}

func TestLossyMatrix(t *testing.T) {
	cases := []struct {
		src, raw, tgt, wantSubstr string
	}{
		{"oracle", "NUMBER(38,2)", "sqlite", "Precision loss"},
		{"postgres", "TIMESTAMP WITH TIME ZONE", "sqlite", "Timezone loss"},
		{"mssql", "datetimeoffset", "sqlite", "Timezone loss"},
		{"oracle", "VARCHAR2(100)", "postgres", "empty string"},
		{"oracle", "TIMESTAMP WITH TIME ZONE", "mysql", "Timezone loss"},
	}
	for _, tc := range cases {
		lossy, reason := LossyConversion(tc.src, tc.raw, tc.tgt)
		if !lossy {
			t.Errorf("%s %s -> %s: expected lossy", tc.src, tc.raw, tc.tgt)
			continue
		}
		if !strings.Contains(reason, tc.wantSubstr) {
			t.Errorf("%s %s -> %s: reason %q missing %q", tc.src, tc.raw, tc.tgt, reason, tc.wantSubstr)
		}
	}
}

func TestLossyNotFlaggedForCleanConversions(t *testing.T) {
	cases := [][3]string{
		{"postgres", "INTEGER", "sqlite"},
		{"mysql", "VARCHAR(50)", "postgres"},
		{"sqlite", "TEXT", "postgres"},
		{"postgres", "NUMERIC(10,2)", "mysql"},
	}
	for _, tc := range cases {
		if lossy, reason := LossyConversion(tc[0], tc[1], tc[2]); lossy {
			t.Errorf("%s %s -> %s: unexpectedly lossy (%s)", tc[0], tc[1], tc[2], reason)
		}
	}
}

func TestUnknownTypeIsLossy(t *testing.T) {
	lossy, reason := LossyConversion("postgres", "XYZCUSTOM", "sqlite")
	if !lossy || !strings.Contains(reason, "XYZCUSTOM") {
		t.Errorf("unknown type: lossy=%v reason=%q", lossy, reason)
	}
}
