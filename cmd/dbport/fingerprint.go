package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/fingerprint"
	"github.com/untoldecay/dbport/internal/redact"
)

var (
	fingerprintSource  string
	fingerprintTables  []string
	fingerprintSample  int
	fingerprintOrderBy []string
	fingerprintExclude []string
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Compute the deterministic dataset fingerprint of a database",
	Long: `Fingerprint hashes every table's content into a deterministic digest.
Two databases with the same logical data produce the same combined
fingerprint regardless of dialect or row arrival order.`,
	Run: runFingerprint,
}

func init() {
	fingerprintCmd.Flags().StringVar(&fingerprintSource, "source", "", "Database URL (required)")
	fingerprintCmd.Flags().StringSliceVar(&fingerprintTables, "tables", nil, "Restrict to these tables")
	fingerprintCmd.Flags().IntVar(&fingerprintSample, "sample", 0, "Hash at most N rows per table (after sorting)")
	fingerprintCmd.Flags().StringSliceVar(&fingerprintOrderBy, "order-by", nil, "Sort columns")
	fingerprintCmd.Flags().StringSliceVar(&fingerprintExclude, "exclude-columns", nil, "Columns to skip")
	_ = fingerprintCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(fingerprintCmd)
}

func runFingerprint(cmd *cobra.Command, _ []string) {
	ctx, stop := signalContext()
	defer stop()

	a, err := adapter.OpenURL(ctx, fingerprintSource)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", redact.Error(err))
		os.Exit(exitFatal)
	}
	defer a.Close()

	tables := fingerprintTables
	if len(tables) == 0 {
		tables, err = a.ListTables(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", redact.Error(err))
			os.Exit(exitFatal)
		}
	}

	cfg := fingerprint.Config{
		SampleSize:      fingerprintSample,
		OrderBy:         fingerprintOrderBy,
		ExcludedColumns: fingerprintExclude,
	}

	var fps []fingerprint.Table
	for _, name := range tables {
		t, err := a.TableSchema(ctx, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %s\n", name, redact.Error(err))
			os.Exit(exitFatal)
		}
		it, err := a.ExtractData(ctx, name, 1000, fingerprintOrderBy)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %s\n", name, redact.Error(err))
			os.Exit(exitFatal)
		}
		var rows []map[string]any
		for {
			batch, err := it.Next(ctx)
			if err == adapter.ErrNoMoreRows {
				break
			}
			if err != nil {
				it.Close()
				fmt.Fprintf(os.Stderr, "Error: %s: %s\n", name, redact.Error(err))
				os.Exit(exitFatal)
			}
			for _, r := range batch {
				rows = append(rows, map[string]any(r))
			}
		}
		it.Close()
		fps = append(fps, cfg.ComputeTable(name, rows, t.ColumnNames()))
	}

	ds := fingerprint.ComputeDataset(fps)
	if jsonOutput {
		outputJSON(ds)
		return
	}
	for _, t := range ds.Tables {
		fmt.Printf("%-30s %10d rows  %s\n", t.TableName, t.RowCount, t.Hash)
	}
	fmt.Printf("\n%-30s %10d rows  %s\n", fmt.Sprintf("dataset (%d tables)", ds.TotalTables), ds.TotalRows, ds.Combined)
}
