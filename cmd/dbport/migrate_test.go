package main

import (
	"testing"

	"github.com/untoldecay/dbport/internal/migrate"
	"github.com/untoldecay/dbport/internal/routine"
)

func resetMigrateFlags() {
	migrateSource = ""
	migrateTarget = ""
	migrateTargetDir = ""
	migrateOutputMode = ""
	migrateOutputDir = ""
	migrateRoutinesMode = ""
	migrateBatchSize = 0
	migrateParallel = 0
	migrateTables = nil
}

func TestMigrateOptionsDefaults(t *testing.T) {
	resetMigrateFlags()
	migrateSource = "sqlite:///a.db"
	migrateTarget = "sqlite:///b.db"

	opts, err := migrateOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.OutputMode != migrate.OutputDB {
		t.Errorf("output mode = %s", opts.OutputMode)
	}
	if opts.BatchSize != 1000 {
		t.Errorf("batch size = %d", opts.BatchSize)
	}
	if opts.RoutinesMode != routine.ModeNone {
		t.Errorf("routines mode = %s", opts.RoutinesMode)
	}
	if opts.MaxRetries != 3 {
		t.Errorf("max retries = %d", opts.MaxRetries)
	}
}

func TestMigrateOptionsRejectsBadRoutinesMode(t *testing.T) {
	resetMigrateFlags()
	migrateSource = "sqlite:///a.db"
	migrateRoutinesMode = "everything"

	if _, err := migrateOptions(); err == nil {
		t.Error("invalid routines mode accepted")
	}
}

func TestMigrateOptionsFlagOverrides(t *testing.T) {
	resetMigrateFlags()
	migrateSource = "sqlite:///a.db"
	migrateTarget = "sqlite:///b.db"
	migrateBatchSize = 250
	migrateOutputMode = "both"
	migrateRoutinesMode = "analyze"

	opts, err := migrateOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.BatchSize != 250 || opts.OutputMode != migrate.OutputBoth || opts.RoutinesMode != routine.ModeAnalyze {
		t.Errorf("opts = %+v", opts)
	}
}
