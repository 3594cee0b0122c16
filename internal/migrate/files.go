package migrate

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/untoldecay/dbport/internal/adapter"
)

// writeFileArtifacts emits schema.sql and data/<table>.csv for every
// planned table. CSVs are RFC 4180 with a header row; row order follows
// the adapter's deterministic cursor so two runs over the same source are
// byte-identical.
func (r *Runner) writeFileArtifacts(ctx context.Context, plan *Plan) error {
	var ddl strings.Builder
	ddl.WriteString("-- Schema emitted by dbport; standard SQL, target dialect " + r.target.Dialect() + "\n\n")
	for _, name := range plan.Order {
		t := r.schema.Tables[name]
		ddl.WriteString(adapter.BuildCreateTable(r.target.Dialect(), adapter.QuoteANSI, t, true))
		ddl.WriteString(";\n\n")
	}
	if err := os.WriteFile(r.b.SchemaSQLPath(), []byte(ddl.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write schema.sql: %w", err)
	}

	for _, name := range plan.Order {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if err := r.writeTableCSV(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) writeTableCSV(ctx context.Context, name string) error {
	t := r.schema.Tables[name]
	path := r.b.DataCSVPath(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	cols := t.ColumnNames()
	if err := w.Write(cols); err != nil {
		return fmt.Errorf("failed to write CSV header for %s: %w", name, err)
	}

	it, err := r.source.ExtractData(ctx, name, r.opts.BatchSize, nil)
	if err != nil {
		return fmt.Errorf("%w: extract %s: %v", ErrDataBatch, name, err)
	}
	defer it.Close()

	var rows int64
	for {
		batch, err := it.Next(ctx)
		if err == adapter.ErrNoMoreRows {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: cursor on %s: %v", ErrDataBatch, name, err)
		}
		for _, row := range batch {
			record := make([]string, len(cols))
			for i, c := range cols {
				record[i] = csvCell(row[c])
			}
			if err := w.Write(record); err != nil {
				return fmt.Errorf("failed to write CSV row for %s: %w", name, err)
			}
		}
		rows += int64(len(batch))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	r.log.Info("exported table", "table", name, "rows", rows, "path", path)
	return nil
}

// csvCell renders one value for CSV output. NULL becomes the empty cell;
// bytes are hex, matching the fingerprint serialization.
func csvCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return fmt.Sprintf("%x", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
