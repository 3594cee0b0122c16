package validation

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/dbport/internal/adapter"
	sqliteadapter "github.com/untoldecay/dbport/internal/adapter/sqlite"
)

func openSeeded(t *testing.T, name string, stmts ...string) adapter.Adapter {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			t.Fatalf("seed failed: %v\n%s", err, stmt)
		}
	}
	db.Close()

	a := sqliteadapter.NewAtPath(path)
	if err := a.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestCompareIdenticalDatabasesMatch(t *testing.T) {
	ddl := `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`
	rows := `INSERT INTO users VALUES (1, 'a'), (2, 'b')`
	src := openSeeded(t, "src.db", ddl, rows)
	tgt := openSeeded(t, "tgt.db", ddl, rows)

	report, err := Compare(context.Background(), src, tgt, "run_x", Options{CheckConstraints: true})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Passed() {
		t.Errorf("identical databases must pass: %+v", report.Summary)
	}
	p := report.DataParity["users"]
	if p.Status != StatusMatch || p.SourceFingerprint != p.TargetFingerprint {
		t.Errorf("parity = %+v", p)
	}
	if report.Summary.TotalSourceRows != 2 || report.Summary.TotalTargetRows != 2 {
		t.Errorf("summary = %+v", report.Summary)
	}
}

func TestCompareDetectsRowDrift(t *testing.T) {
	ddl := `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`
	src := openSeeded(t, "src.db", ddl, `INSERT INTO users VALUES (1, 'a'), (2, 'b')`)
	tgt := openSeeded(t, "tgt.db", ddl, `INSERT INTO users VALUES (1, 'a'), (2, 'DIFFERENT')`)

	report, err := Compare(context.Background(), src, tgt, "run_x", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Passed() {
		t.Error("modified row must fail parity")
	}
	p := report.DataParity["users"]
	if p.Status != StatusMismatch {
		t.Errorf("status = %s", p.Status)
	}
	// Same row counts, different content: only the fingerprint catches it.
	if p.SourceRows != p.TargetRows {
		t.Errorf("row counts should agree: %+v", p)
	}
}

func TestCompareOneSidedTables(t *testing.T) {
	src := openSeeded(t, "src.db",
		`CREATE TABLE common (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE only_source (id INTEGER PRIMARY KEY)`)
	tgt := openSeeded(t, "tgt.db",
		`CREATE TABLE common (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE only_target (id INTEGER PRIMARY KEY)`)

	report, err := Compare(context.Background(), src, tgt, "run_x", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Summary.TablesChecked != 1 {
		t.Errorf("only the intersection is checked: %+v", report.Summary)
	}
	if _, ok := report.DataParity["only_source"]; ok {
		t.Error("one-sided tables must not get parity entries")
	}
	var srcOnly, tgtOnly bool
	for _, lim := range report.Limitations.BehaviorDifferences {
		if lim.ObjectName == "only_source" && strings.Contains(lim.Description, "only in source") {
			srcOnly = true
		}
		if lim.ObjectName == "only_target" && strings.Contains(lim.Description, "only in target") {
			tgtOnly = true
		}
	}
	if !srcOnly || !tgtOnly {
		t.Errorf("one-sided tables not recorded: %+v", report.Limitations.BehaviorDifferences)
	}
}

func TestCompareMissingColumn(t *testing.T) {
	src := openSeeded(t, "src.db",
		`CREATE TABLE t (id INTEGER PRIMARY KEY, extra TEXT)`,
		`INSERT INTO t VALUES (1, 'x')`)
	tgt := openSeeded(t, "tgt.db",
		`CREATE TABLE t (id INTEGER PRIMARY KEY)`,
		`INSERT INTO t (id) VALUES (1)`)

	report, err := Compare(context.Background(), src, tgt, "run_x", Options{})
	if err != nil {
		t.Fatal(err)
	}
	var mapping *TypeMapping
	for i := range report.TypeParity {
		for j := range report.TypeParity[i].Mappings {
			if report.TypeParity[i].Mappings[j].Column == "extra" {
				mapping = &report.TypeParity[i].Mappings[j]
			}
		}
	}
	if mapping == nil {
		t.Fatal("extra column not in type parity")
	}
	if mapping.TargetType != "MISSING" || !mapping.IsLossy {
		t.Errorf("mapping = %+v", mapping)
	}
	var limFound bool
	for _, lim := range report.Limitations.LossyMappings {
		if lim.ObjectName == "t.extra" && lim.Severity == SeverityError {
			limFound = true
		}
	}
	if !limFound {
		t.Errorf("missing column limitation absent: %+v", report.Limitations.LossyMappings)
	}
}

func TestConstraintParityStatuses(t *testing.T) {
	src := openSeeded(t, "src.db",
		`CREATE TABLE t (id INTEGER PRIMARY KEY, email TEXT UNIQUE)`)
	tgt := openSeeded(t, "tgt.db",
		`CREATE TABLE t (id INTEGER PRIMARY KEY, email TEXT)`)

	report, err := Compare(context.Background(), src, tgt, "run_x", Options{CheckConstraints: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.ConstraintParity) != 1 {
		t.Fatalf("constraint parity = %+v", report.ConstraintParity)
	}
	cp := report.ConstraintParity[0]
	if cp.PrimaryKey.Status != StatusMatch {
		t.Errorf("pk status = %s", cp.PrimaryKey.Status)
	}
	if cp.Unique.Status != StatusSourceOnly {
		t.Errorf("unique status = %s", cp.Unique.Status)
	}
	if report.Summary.ConstraintMismatches == 0 {
		t.Error("source-only unique must count as constraint drift")
	}
}

func TestReportSerializationStable(t *testing.T) {
	ddl := `CREATE TABLE users (id INTEGER PRIMARY KEY)`
	src := openSeeded(t, "src.db", ddl)
	tgt := openSeeded(t, "tgt.db", ddl)

	report, err := Compare(context.Background(), src, tgt, "run_x", Options{CheckConstraints: true})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["schema_version"] != ReportSchemaVersion {
		t.Errorf("schema_version = %v", decoded["schema_version"])
	}
	lims, ok := decoded["limitations"].(map[string]any)
	if !ok {
		t.Fatal("limitations not serialized as object")
	}
	if lims["schema_version"] != LimitationsSchemaVersion {
		t.Errorf("limitations schema_version = %v", lims["schema_version"])
	}
	text := report.Text()
	for _, want := range []string{"SUMMARY", "DATA PARITY", "TYPE PARITY", "LIMITATIONS"} {
		if !strings.Contains(text, want) {
			t.Errorf("text report missing %s section", want)
		}
	}
}
