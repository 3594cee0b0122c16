package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/untoldecay/dbport/internal/bundle"
	"github.com/untoldecay/dbport/internal/config"
	"github.com/untoldecay/dbport/internal/migrate"
	"github.com/untoldecay/dbport/internal/routine"
	"github.com/untoldecay/dbport/internal/ui"
)

var (
	migrateSource         string
	migrateTarget         string
	migrateTargetDir      string
	migrateDryRun         bool
	migrateCheckpointFile string
	migrateOutputMode     string
	migrateOutputDir      string
	migrateCleanOnFail    bool
	migrateResumeRun      string
	migrateRoutinesMode   string
	migrateBatchSize      int
	migrateParallel       int
	migrateTables         []string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run a migration from a source to a target",
	Long: `Migrate schema and data from --source into --target (or into file
artifacts with --output-mode files). The run is resumable: batches commit
transactionally and the checkpoint records exactly what landed.

Examples:
  dbport migrate --source sqlite:///app.db --target postgres://u:p@host/app
  dbport migrate --source postgres://u:p@host/app --output-mode files
  dbport migrate --source mysql://u:p@host/app --target sqlite:///app.db --dry-run
  dbport migrate --resume-run run_20260314_092653_1a2b3c4d --source sqlite:///app.db --target sqlite:///copy.db`,
	Run: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateSource, "source", "", "Source database URL (required)")
	migrateCmd.Flags().StringVar(&migrateTarget, "target", "", "Target database URL")
	migrateCmd.Flags().StringVar(&migrateTargetDir, "target-dir", "", "Legacy: directory for a local SQLite store")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Introspect and preflight without writing")
	migrateCmd.Flags().StringVar(&migrateCheckpointFile, "checkpoint-file", "", "Override the checkpoint file path")
	migrateCmd.Flags().StringVar(&migrateOutputMode, "output-mode", "", "Output mode: db, files, or both")
	migrateCmd.Flags().StringVar(&migrateOutputDir, "output-dir", "", "Base directory for run bundles")
	migrateCmd.Flags().BoolVar(&migrateCleanOnFail, "clean-on-failure", false, "Drop created tables if the run fails")
	migrateCmd.Flags().StringVar(&migrateResumeRun, "resume-run", "", "Resume a run by ID or bundle path")
	migrateCmd.Flags().StringVar(&migrateRoutinesMode, "routines-mode", "", "Routine handling: none, analyze, stub, or subset_translate")
	migrateCmd.Flags().IntVar(&migrateBatchSize, "batch-size", 0, "Rows per copy transaction")
	migrateCmd.Flags().IntVar(&migrateParallel, "parallel", 0, "Parallel table copy workers (never intra-table)")
	migrateCmd.Flags().StringSliceVar(&migrateTables, "tables", nil, "Restrict the migration to these tables")
	_ = migrateCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(migrateCmd)
}

// signalContext cancels on SIGINT/SIGTERM so the current batch rolls
// back and the checkpoint stays consistent.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func migrateOptions() (migrate.Options, error) {
	mode := migrateOutputMode
	if mode == "" {
		mode = config.GetString("output-mode")
	}
	outDir := migrateOutputDir
	if outDir == "" {
		outDir = config.GetString("output-dir")
	}
	batch := migrateBatchSize
	if batch == 0 {
		batch = config.GetInt("batch-size")
	}
	parallel := migrateParallel
	if parallel == 0 {
		parallel = config.GetInt("parallel")
	}
	routinesMode := migrateRoutinesMode
	if routinesMode == "" {
		routinesMode = config.GetString("routines-mode")
	}
	rm, err := routine.ParseMode(routinesMode)
	if err != nil {
		return migrate.Options{}, err
	}

	return migrate.Options{
		SourceURL:      migrateSource,
		TargetURL:      migrateTarget,
		TargetDir:      migrateTargetDir,
		OutputMode:     migrate.OutputMode(mode),
		OutputDir:      outDir,
		Tables:         migrateTables,
		BatchSize:      batch,
		MaxRetries:     config.GetInt("max-retries"),
		Parallel:       parallel,
		DDLTimeout:     config.GetDuration("ddl-timeout"),
		BatchTimeout:   config.GetDuration("batch-timeout"),
		CleanOnFailure: migrateCleanOnFail || config.GetBool("clean-on-failure"),
		DryRun:         migrateDryRun,
		CheckpointFile: migrateCheckpointFile,
		RoutinesMode:   rm,
	}, nil
}

func runMigrate(cmd *cobra.Command, _ []string) {
	opts, err := migrateOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFatal)
	}

	runner, err := migrate.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFatal)
	}

	ctx, stop := signalContext()
	defer stop()

	var result *migrate.Result
	if migrateResumeRun != "" {
		result, err = runner.Resume(ctx, migrateResumeRun)
	} else {
		result, err = runner.Run(ctx)
	}

	if result != nil {
		printMigrateResult(result, err)
	}
	exitForRun(result, err)
}

// exitForRun maps the run outcome to the documented exit codes.
func exitForRun(result *migrate.Result, err error) {
	switch {
	case err == nil:
		if result != nil && result.Report != nil && !result.Report.Passed() {
			os.Exit(exitValidation)
		}
		os.Exit(0)
	case errors.Is(err, migrate.ErrCancelled) || errors.Is(err, context.Canceled):
		os.Exit(exitCancelled)
	case errors.Is(err, migrate.ErrValidationMismatch):
		os.Exit(exitValidation)
	default:
		os.Exit(exitFatal)
	}
}

func printMigrateResult(result *migrate.Result, err error) {
	if jsonOutput {
		out := map[string]any{
			"run_id":     result.RunID,
			"bundle":     result.BundlePath,
			"status":     result.Status,
			"dry_run":    result.DryRun,
			"tables":     result.Tables,
			"total_rows": result.TotalRows,
			"warnings":   result.Warnings,
			"duration":   result.Duration.String(),
		}
		if result.Report != nil {
			out["validation"] = result.Report.Summary
		}
		if err != nil {
			out["error"] = err.Error()
		}
		outputJSON(out)
		return
	}

	if result.DryRun {
		printDryRunReport(result)
		return
	}

	fmt.Println()
	if err != nil {
		fmt.Printf("%s %v\n", ui.Fail("Migration failed:"), err)
	} else if result.Status == bundle.StatusSucceeded {
		fmt.Println(ui.Pass("Migration completed successfully."))
	}
	fmt.Printf("Run bundle: %s\n", result.BundlePath)
	if result.Report != nil {
		s := result.Report.Summary
		fmt.Printf("Validation: %d/%d tables matched, %d lossy mappings, %d constraint mismatches\n",
			s.TablesMatched, s.TablesChecked, s.LossyMappingsCount, s.ConstraintMismatches)
		if !result.Report.Passed() {
			fmt.Println(ui.Warn("Parity mismatch detected; see reports/validation_report.txt"))
		}
	}
}

// printDryRunReport renders the capability checklist and schema analysis
// for a dry run.
func printDryRunReport(result *migrate.Result) {
	width := 70
	fmt.Println()
	fmt.Println(ui.Rule(width))
	fmt.Println(ui.Title("MIGRATION DRY RUN REPORT"))
	fmt.Println(ui.Rule(width))

	fmt.Println()
	fmt.Println(ui.Section("CAPABILITY LEVEL"))
	fmt.Println(ui.CapabilityLine(true, "L1: tables, columns, keys, data"))
	fmt.Println(ui.CapabilityLine(true, "L2: views (introspected, recorded as manual steps)"))
	fmt.Println(ui.CapabilityLine(true, "L3: routines (per --routines-mode)"))
	fmt.Println(ui.CapabilityLine(true, "L4: triggers (supported subset only)"))

	fmt.Println()
	fmt.Println(ui.Section("TABLES TO MIGRATE"))
	for _, t := range result.Tables {
		rows := fmt.Sprintf("%d", t.Rows)
		if t.Rows < 0 {
			rows = "unknown"
		}
		fmt.Printf("  %s %s %s\n", ui.Pass("+"), t.Name, ui.Muted(fmt.Sprintf("(%d columns, %s rows)", t.Columns, rows)))
	}

	if len(result.Warnings) > 0 {
		fmt.Println()
		fmt.Println(ui.Section(fmt.Sprintf("WARNINGS (%d)", len(result.Warnings))))
		for _, w := range result.Warnings {
			fmt.Printf("  %s %s\n", ui.Warn("!"), w)
		}
	}

	fmt.Println()
	fmt.Println(ui.Rule(width))
	fmt.Printf("Total tables: %d   Total rows: %d\n", len(result.Tables), result.TotalRows)
	fmt.Printf("Bundle: %s\n", result.BundlePath)
	fmt.Println(ui.Rule(width))
}
