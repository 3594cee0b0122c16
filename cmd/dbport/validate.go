package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/config"
	"github.com/untoldecay/dbport/internal/fingerprint"
	"github.com/untoldecay/dbport/internal/redact"
	"github.com/untoldecay/dbport/internal/ui"
	"github.com/untoldecay/dbport/internal/validation"
)

var (
	validateSource  string
	validateTarget  string
	validateRunID   string
	validateTables  []string
	validateSample  int
	validateOrderBy []string
	validateExclude []string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare source and target and report parity",
	Long: `Validate compares two databases table by table: row counts, content
fingerprints, type mappings, and L1 constraints. Exit code 2 means a
parity mismatch was found.`,
	Run: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateSource, "source", "", "Source database URL (required)")
	validateCmd.Flags().StringVar(&validateTarget, "target", "", "Target database URL (required)")
	validateCmd.Flags().StringVar(&validateRunID, "run-id", "", "Run ID to stamp into the report")
	validateCmd.Flags().StringSliceVar(&validateTables, "tables", nil, "Restrict the comparison to these tables")
	validateCmd.Flags().IntVar(&validateSample, "sample", 0, "Fingerprint at most N rows per table (after sorting)")
	validateCmd.Flags().StringSliceVar(&validateOrderBy, "order-by", nil, "Fingerprint sort columns")
	validateCmd.Flags().StringSliceVar(&validateExclude, "exclude-columns", nil, "Columns to skip when fingerprinting")
	_ = validateCmd.MarkFlagRequired("source")
	_ = validateCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) {
	ctx, stop := signalContext()
	defer stop()

	source, err := adapter.OpenURL(ctx, validateSource)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: source: %s\n", redact.Error(err))
		os.Exit(exitFatal)
	}
	defer source.Close()

	target, err := adapter.OpenURL(ctx, validateTarget)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: target: %s\n", redact.Error(err))
		os.Exit(exitFatal)
	}
	defer target.Close()

	runID := validateRunID
	if runID == "" {
		runID = "adhoc"
	}
	sample := validateSample
	if sample == 0 {
		sample = config.GetInt("fingerprint.sample")
	}

	report, err := validation.Compare(ctx, source, target, runID, validation.Options{
		Tables:           validateTables,
		CheckConstraints: true,
		Fingerprint: fingerprint.Config{
			SampleSize:      sample,
			OrderBy:         validateOrderBy,
			ExcludedColumns: validateExclude,
		},
		BatchSize: config.GetInt("batch-size"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", redact.Error(err))
		os.Exit(exitFatal)
	}

	if jsonOutput {
		outputJSON(report)
	} else {
		fmt.Println(report.Text())
		if report.Passed() {
			fmt.Println(ui.Pass("Validation passed."))
		} else {
			fmt.Println(ui.Fail("Validation found mismatches."))
		}
	}
	if !report.Passed() {
		os.Exit(exitValidation)
	}
}
