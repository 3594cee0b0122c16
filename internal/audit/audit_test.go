package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestReportRedactsURLs(t *testing.T) {
	dir := t.TempDir()
	g := NewGenerator("run_1", "postgres://alice:hunter2@db/app", "sqlite:///tmp/t.db", dir)
	g.LogConversion("users", 42, "Success", 120*time.Millisecond)
	report := g.Report()

	if strings.Contains(report, "hunter2") {
		t.Fatal("password leaked into audit report")
	}
	if !strings.Contains(report, "***:***@db") {
		t.Errorf("masked URL missing:\n%s", report)
	}
	if !strings.Contains(report, "| users | 42 | Success |") {
		t.Errorf("conversion table missing:\n%s", report)
	}
}

func TestEventsStreamAppendOnly(t *testing.T) {
	dir := t.TempDir()
	g := NewGenerator("run_1", "sqlite:///a.db", "sqlite:///b.db", dir)
	g.LogConversion("users", 10, "Success", time.Millisecond)
	g.LogSkipped("trg_audit", "AFTER triggers are outside the supported subset")
	g.LogWarning("Circular dependency detected: a -> b")
	g.AddManualStep("Recreate default on users.created_at")

	f, err := os.Open(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var kinds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("invalid JSONL line: %v", err)
		}
		kinds = append(kinds, e.Kind)
	}
	want := []string{"conversion", "skipped", "warning", "manual_step"}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestDefaultManualSteps(t *testing.T) {
	g := NewGenerator("run_1", "", "", t.TempDir())
	report := g.Report()
	if !strings.Contains(report, "Verify row counts match source") {
		t.Error("default manual steps missing")
	}
}
