package migrate

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/dbport/internal/bundle"
	"github.com/untoldecay/dbport/internal/validation"

	_ "github.com/untoldecay/dbport/internal/adapter/sqlite"
)

// seedDB creates a SQLite database and executes the statements in order.
func seedDB(t *testing.T, path string, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open seed db: %v", err)
	}
	defer db.Close()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed statement failed: %v\n%s", err, stmt)
		}
	}
}

func userFixture(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "source.db")
	seedDB(t, path,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT UNIQUE)`,
		`INSERT INTO users (id, name, email) VALUES (1, 'alice', 'alice@example.com')`,
		`INSERT INTO users (id, name, email) VALUES (2, 'bob', 'bob@example.com')`,
		`INSERT INTO users (id, name, email) VALUES (3, 'carol', NULL)`,
	)
	return path
}

func runMigration(t *testing.T, opts Options) *Result {
	t.Helper()
	r, err := New(opts)
	if err != nil {
		t.Fatalf("failed to build runner: %v", err)
	}
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return result
}

func TestRoundTripSQLiteToSQLite(t *testing.T) {
	dir := t.TempDir()
	src := userFixture(t, dir)
	tgt := filepath.Join(dir, "target.db")

	result := runMigration(t, Options{
		SourceURL: "sqlite://" + src,
		TargetURL: "sqlite://" + tgt,
		OutputDir: filepath.Join(dir, "artifacts"),
	})

	if result.Status != bundle.StatusSucceeded {
		t.Fatalf("status = %s", result.Status)
	}
	if result.Report == nil {
		t.Fatal("no validation report produced")
	}
	if result.Report.Summary.TablesChecked != 1 || result.Report.Summary.TablesMatched != 1 {
		t.Errorf("summary = %+v", result.Report.Summary)
	}
	parity := result.Report.DataParity["users"]
	if parity.Status != validation.StatusMatch {
		t.Errorf("users parity = %+v", parity)
	}
	if parity.SourceRows != 3 || parity.TargetRows != 3 {
		t.Errorf("row counts = %d -> %d", parity.SourceRows, parity.TargetRows)
	}
	if parity.SourceFingerprint != parity.TargetFingerprint {
		t.Error("fingerprints differ for identical data")
	}

	// Target schema round-tripped.
	db, err := sql.Open("sqlite3", tgt)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("target row count = %d", n)
	}
}

func TestBundleLayoutAndManifest(t *testing.T) {
	dir := t.TempDir()
	src := userFixture(t, dir)

	result := runMigration(t, Options{
		SourceURL: "sqlite://" + src,
		TargetURL: "sqlite://" + filepath.Join(dir, "target.db"),
		OutputDir: filepath.Join(dir, "artifacts"),
	})

	for _, rel := range []string{
		"run_manifest.json",
		"checkpoint.json",
		"reports/validation_summary.json",
		"reports/validation_report.txt",
		"reports/limitations.json",
		"reports/limitations.txt",
		"reports/audit_report.md",
		"logs/migration.log",
		"output/post_migration.sql",
	} {
		if _, err := os.Stat(filepath.Join(result.BundlePath, rel)); err != nil {
			t.Errorf("missing bundle artifact %s: %v", rel, err)
		}
	}

	b, err := bundle.Open(filepath.Join(dir, "artifacts"), result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()
	m, err := b.ReadManifest()
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != bundle.StatusSucceeded {
		t.Errorf("manifest status = %s", m.Status)
	}
	if m.DatasetFingerprint == nil || m.DatasetFingerprint.Combined == "" {
		t.Error("manifest missing dataset fingerprint")
	}
	if len(m.FileChecksums) == 0 {
		t.Error("manifest missing file checksums")
	}
}

func TestFKCycleCreatesBothTables(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.db")
	seedDB(t, src,
		`CREATE TABLE a (id INTEGER PRIMARY KEY, b_id INTEGER REFERENCES b(id))`,
		`CREATE TABLE b (id INTEGER PRIMARY KEY, a_id INTEGER REFERENCES a(id))`,
		`INSERT INTO a (id, b_id) VALUES (1, 1)`,
		`INSERT INTO b (id, a_id) VALUES (1, 1)`,
	)
	tgt := filepath.Join(dir, "target.db")

	result := runMigration(t, Options{
		SourceURL: "sqlite://" + src,
		TargetURL: "sqlite://" + tgt,
		OutputDir: filepath.Join(dir, "artifacts"),
	})

	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "Circular dependency detected") {
			found = true
		}
	}
	if !found {
		t.Errorf("no cycle warning in %v", result.Warnings)
	}

	db, err := sql.Open("sqlite3", tgt)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, table := range []string{"a", "b"} {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("table %s not created: %v", table, err)
		}
		if n != 1 {
			t.Errorf("%s rows = %d", table, n)
		}
	}
}

func TestDryRunWritesNothingToTarget(t *testing.T) {
	dir := t.TempDir()
	src := userFixture(t, dir)
	tgt := filepath.Join(dir, "target.db")

	r, err := New(Options{
		SourceURL: "sqlite://" + src,
		TargetURL: "sqlite://" + tgt,
		OutputDir: filepath.Join(dir, "artifacts"),
	})
	if err != nil {
		t.Fatal(err)
	}
	result, err := r.DryRun(context.Background())
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !result.DryRun {
		t.Error("result not marked dry-run")
	}
	if len(result.Tables) != 1 || result.Tables[0].Name != "users" {
		t.Errorf("tables = %+v", result.Tables)
	}
	if result.TotalRows != 3 {
		t.Errorf("total rows = %d", result.TotalRows)
	}

	db, err := sql.Open("sqlite3", tgt)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'").Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("dry run created %d tables in target", n)
	}
}

func TestDeterministicCSVOutput(t *testing.T) {
	dir := t.TempDir()
	src := userFixture(t, dir)

	run := func(outDir string) []byte {
		result := runMigration(t, Options{
			SourceURL:  "sqlite://" + src,
			OutputMode: OutputFiles,
			OutputDir:  outDir,
		})
		data, err := os.ReadFile(filepath.Join(result.BundlePath, "output", "data", "users.csv"))
		if err != nil {
			t.Fatalf("missing users.csv: %v", err)
		}
		return data
	}

	a := run(filepath.Join(dir, "run1"))
	b := run(filepath.Join(dir, "run2"))
	if string(a) != string(b) {
		t.Error("two files-mode runs produced different CSV bytes")
	}
	if !strings.HasPrefix(string(a), "id,name,email\n") {
		t.Errorf("csv header wrong: %q", strings.SplitN(string(a), "\n", 2)[0])
	}
	// NULL email renders as empty cell.
	if !strings.Contains(string(a), "3,carol,\n") {
		t.Errorf("null handling wrong:\n%s", a)
	}
}

func TestResumeAfterInterruption(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.db")
	stmts := []string{`CREATE TABLE items (id INTEGER PRIMARY KEY, payload TEXT NOT NULL)`}
	db, err := sql.Open("sqlite3", src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(stmts[0]); err != nil {
		t.Fatal(err)
	}
	insert, err := db.Prepare("INSERT INTO items (id, payload) VALUES (?, ?)")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 250; i++ {
		if _, err := insert.Exec(i, strings.Repeat("x", 32)); err != nil {
			t.Fatal(err)
		}
	}
	insert.Close()
	db.Close()

	artifacts := filepath.Join(dir, "artifacts")
	tgt := filepath.Join(dir, "target.db")

	// Uninterrupted baseline for the dataset fingerprint.
	baseline := runMigration(t, Options{
		SourceURL: "sqlite://" + src,
		TargetURL: "sqlite://" + filepath.Join(dir, "baseline.db"),
		OutputDir: filepath.Join(dir, "baseline_artifacts"),
		BatchSize: 100,
	})

	// Simulate an interrupted run: bundle exists, table created, first
	// batch committed, checkpoint mid-table.
	interrupted := runMigration(t, Options{
		SourceURL: "sqlite://" + src,
		TargetURL: "sqlite://" + tgt,
		OutputDir: artifacts,
		BatchSize: 100,
	})
	// Rewind the target to a partial state: keep only the first 100 rows
	// and rewrite the checkpoint as if the run died after batch one.
	tdb, err := sql.Open("sqlite3", tgt)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tdb.Exec("DELETE FROM items WHERE id > 100"); err != nil {
		t.Fatal(err)
	}
	tdb.Close()
	cp := &Checkpoint{CurrentTable: "items", CurrentOffset: 100}
	if err := cp.Save(filepath.Join(interrupted.BundlePath, "checkpoint.json")); err != nil {
		t.Fatal(err)
	}

	resumer, err := New(Options{
		SourceURL: "sqlite://" + src,
		TargetURL: "sqlite://" + tgt,
		OutputDir: artifacts,
		BatchSize: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	resumed, err := resumer.Resume(context.Background(), interrupted.RunID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	if resumed.Report == nil || baseline.Report == nil {
		t.Fatal("missing reports")
	}
	if resumed.Report.TargetDataset.Combined != baseline.Report.TargetDataset.Combined {
		t.Error("resumed dataset fingerprint differs from uninterrupted run")
	}
	tdb, err = sql.Open("sqlite3", tgt)
	if err != nil {
		t.Fatal(err)
	}
	defer tdb.Close()
	var n int
	if err := tdb.QueryRow("SELECT COUNT(*) FROM items").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 250 {
		t.Errorf("resumed row count = %d, want 250", n)
	}
}

func TestResumeAfterCompletionIsNoOp(t *testing.T) {
	dir := t.TempDir()
	src := userFixture(t, dir)
	tgt := filepath.Join(dir, "target.db")
	artifacts := filepath.Join(dir, "artifacts")

	first := runMigration(t, Options{
		SourceURL: "sqlite://" + src,
		TargetURL: "sqlite://" + tgt,
		OutputDir: artifacts,
	})

	resumer, err := New(Options{
		SourceURL: "sqlite://" + src,
		TargetURL: "sqlite://" + tgt,
		OutputDir: artifacts,
	})
	if err != nil {
		t.Fatal(err)
	}
	resumed, err := resumer.Resume(context.Background(), first.RunID)
	if err != nil {
		t.Fatalf("resume of completed run failed: %v", err)
	}
	if resumed.Report.TargetDataset.Combined != first.Report.TargetDataset.Combined {
		t.Error("no-op resume changed the dataset fingerprint")
	}
}

func TestCredentialsNeverAppearInBundle(t *testing.T) {
	dir := t.TempDir()
	src := userFixture(t, dir)

	result := runMigration(t, Options{
		SourceURL: "sqlite://" + src + "?password=SUPERSECRETVALUE",
		TargetURL: "sqlite://" + filepath.Join(dir, "target.db"),
		OutputDir: filepath.Join(dir, "artifacts"),
	})

	err := filepath.Walk(result.BundlePath, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if strings.Contains(string(data), "SUPERSECRETVALUE") {
			t.Errorf("secret leaked into %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUnknownSourceTypeBecomesTextWithLimitation(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.db")
	seedDB(t, src,
		`CREATE TABLE widgets (id INTEGER PRIMARY KEY, blob_of_mystery XYZCUSTOM)`,
		`INSERT INTO widgets (id, blob_of_mystery) VALUES (1, 'payload')`,
	)

	result := runMigration(t, Options{
		SourceURL: "sqlite://" + src,
		TargetURL: "sqlite://" + filepath.Join(dir, "target.db"),
		OutputDir: filepath.Join(dir, "artifacts"),
	})

	data, err := os.ReadFile(filepath.Join(result.BundlePath, "reports", "limitations.json"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "XYZCUSTOM") {
		t.Errorf("limitations do not mention the raw type name:\n%s", text)
	}
	if !strings.Contains(text, "lossy_mappings") {
		t.Error("no lossy mapping section")
	}
	if result.Report.Summary.TablesMatched != 1 {
		t.Errorf("migration should still succeed: %+v", result.Report.Summary)
	}
}

func TestCleanOnFailureDropsCreatedTables(t *testing.T) {
	dir := t.TempDir()
	src := userFixture(t, dir)
	tgt := filepath.Join(dir, "target.db")
	// Pre-create a conflicting schema so the data copy fails: same table
	// name, but a CHECK that rejects every row.
	seedDB(t, tgt, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL CHECK (length(name) > 100), email TEXT)`)

	r, err := New(Options{
		SourceURL:      "sqlite://" + src,
		TargetURL:      "sqlite://" + tgt,
		OutputDir:      filepath.Join(dir, "artifacts"),
		CleanOnFailure: true,
		MaxRetries:     1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("expected run to fail")
	}

	db, err := sql.Open("sqlite3", tgt)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'users'").Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("users table still present after clean-on-failure")
	}
}

func TestCheckpointClearedAfterCompletion(t *testing.T) {
	dir := t.TempDir()
	src := userFixture(t, dir)
	artifacts := filepath.Join(dir, "artifacts")

	result := runMigration(t, Options{
		SourceURL: "sqlite://" + src,
		TargetURL: "sqlite://" + filepath.Join(dir, "target.db"),
		OutputDir: artifacts,
		BatchSize: 2,
	})

	cp, err := LoadCheckpoint(filepath.Join(result.BundlePath, "checkpoint.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !cp.Completed("users") {
		t.Errorf("users not in completed tables: %+v", cp)
	}
	if cp.CurrentTable != "" || cp.CurrentOffset != 0 {
		t.Errorf("checkpoint not cleared after completion: %+v", cp)
	}
}
