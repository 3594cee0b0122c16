package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/redact"
	"github.com/untoldecay/dbport/internal/ui"
)

var inspectSource string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Introspect a database and print its schema IR",
	Long: `Inspect connects to a source, builds the neutral schema representation,
and prints it. With --json the full IR is emitted for tooling.`,
	Run: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectSource, "source", "", "Database URL (required)")
	_ = inspectCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, _ []string) {
	ctx, stop := signalContext()
	defer stop()

	a, err := adapter.OpenURL(ctx, inspectSource)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", redact.Error(err))
		os.Exit(exitFatal)
	}
	defer a.Close()

	names, err := a.ListTables(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", redact.Error(err))
		os.Exit(exitFatal)
	}

	schema := ir.NewSchema()
	for _, name := range names {
		t, err := a.TableSchema(ctx, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %s\n", name, redact.Error(err))
			os.Exit(exitFatal)
		}
		schema.AddTable(t)
	}
	if vl, ok := a.(adapter.ViewLister); ok {
		if views, err := vl.ListViews(ctx); err == nil {
			schema.Views = views
		}
	}
	if tl, ok := a.(adapter.TriggerLister); ok {
		if triggers, err := tl.ListTriggers(ctx); err == nil {
			for _, t := range triggers {
				schema.Triggers[t.Name] = t
			}
		}
	}

	if jsonOutput {
		outputJSON(schema)
		return
	}

	fmt.Printf("%s %s\n\n", ui.Title("Schema:"), ui.Muted(fmt.Sprintf("(%s, %d tables)", a.Dialect(), len(schema.Tables))))
	for _, name := range schema.TableNames() {
		t := schema.Tables[name]
		fmt.Printf("%s\n", ui.Section(name))
		for _, col := range t.Columns {
			flags := ""
			if col.PrimaryKey {
				flags += " PK"
			}
			if !col.Nullable {
				flags += " NOT NULL"
			}
			if col.Default != nil {
				flags += fmt.Sprintf(" DEFAULT %s", *col.Default)
			}
			fmt.Printf("  %-24s %s%s\n", col.Name, col.Type.RawSourceType, ui.Muted(flags))
		}
		for _, c := range t.SortedConstraints() {
			if c.Kind == ir.ConstraintFK {
				fmt.Printf("  %s %v -> %s%v\n", ui.Muted("FK"), c.Columns, c.RefTable, c.RefColumns)
			}
		}
		for _, idx := range t.SortedIndexes() {
			fmt.Printf("  %s %s %v\n", ui.Muted("INDEX"), idx.Name, idx.Columns)
		}
		fmt.Println()
	}

	if len(schema.Views) > 0 {
		viewNames := make([]string, 0, len(schema.Views))
		for name := range schema.Views {
			viewNames = append(viewNames, name)
		}
		sort.Strings(viewNames)
		fmt.Printf("%s %v\n", ui.Section("Views:"), viewNames)
	}
	if len(schema.Triggers) > 0 {
		fmt.Println(ui.Section("Triggers:"))
		triggerNames := make([]string, 0, len(schema.Triggers))
		for name := range schema.Triggers {
			triggerNames = append(triggerNames, name)
		}
		sort.Strings(triggerNames)
		for _, name := range triggerNames {
			t := schema.Triggers[name]
			status := ui.Pass("supported subset")
			if !t.SupportedSubset {
				status = ui.Warn("unsupported: " + t.UnsupportedReason)
			}
			fmt.Printf("  %s %s %s ON %s (%s)\n", name, t.Timing, t.Event, t.Table, status)
		}
	}
}
