// Package file implements a read-only source adapter over a directory of
// CSV files. Each <name>.csv is exposed as a table whose columns come
// from the header row; an optional tables.toml manifest supplies column
// types, defaulting to TEXT. Rows are read in file order; no sort is
// applied, whether requested by the caller or by the manifest.
package file

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/typemap"
)

func init() {
	adapter.Register("file", func(cfg *adapter.Config) (adapter.Adapter, error) {
		return &Source{cfg: cfg}, nil
	})
}

// ManifestName is the optional per-directory typing manifest.
const ManifestName = "tables.toml"

type tableSpec struct {
	// Columns maps column name to a SQL type spelling understood by the
	// registry, e.g. "INTEGER" or "DECIMAL(10,2)".
	Columns map[string]string `toml:"columns"`
	// OrderBy is decoded from the manifest; ExtractData does not apply it.
	OrderBy []string `toml:"order_by"`
}

type manifest struct {
	Tables map[string]tableSpec `toml:"tables"`
}

// Source is the CSV directory adapter. It is source-only: every write
// operation returns ErrUnsupported.
type Source struct {
	cfg      *adapter.Config
	dir      string
	manifest manifest
}

func (f *Source) Dialect() string { return "file" }

func (f *Source) Capabilities() []adapter.Capability {
	return []adapter.Capability{adapter.L1SchemaAndData}
}

func (f *Source) Open(ctx context.Context) error {
	info, err := os.Stat(f.cfg.Path)
	if err != nil {
		return fmt.Errorf("file source %s: %w", f.cfg.Path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("file source %s is not a directory", f.cfg.Path)
	}
	f.dir = f.cfg.Path

	manifestPath := filepath.Join(f.dir, ManifestName)
	if _, err := os.Stat(manifestPath); err == nil {
		if _, err := toml.DecodeFile(manifestPath, &f.manifest); err != nil {
			return fmt.Errorf("failed to parse %s: %w", ManifestName, err)
		}
	}
	return nil
}

func (f *Source) Close() error { return nil }

func (f *Source) Quote(ident string) string { return adapter.QuoteANSI(ident) }

func (f *Source) ListTables(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(names)
	return names, nil
}

func (f *Source) csvPath(table string) string {
	return filepath.Join(f.dir, table+".csv")
}

func (f *Source) TableSchema(ctx context.Context, name string) (*ir.Table, error) {
	file, err := os.Open(f.csvPath(name))
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}
	defer file.Close()

	header, err := csv.NewReader(file).Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s.csv: %w", name, err)
	}

	spec := f.manifest.Tables[name]
	t := &ir.Table{Name: name}
	for _, col := range header {
		rawType := "TEXT"
		if declared, ok := spec.Columns[col]; ok {
			rawType = declared
		}
		c := ir.Column{
			Name:     col,
			Type:     typemap.ToIR("file", rawType),
			Nullable: true,
		}
		c.Type.Nullable = true
		t.Columns = append(t.Columns, c)
	}
	return t, nil
}

// RowCount is expensive for files; the runner treats -1 as unknown.
func (f *Source) RowCount(ctx context.Context, name string) (int64, error) {
	return -1, nil
}

// ExtractData streams rows in the order they appear in the CSV file.
// The orderBy argument and the manifest's order_by are not applied, and
// rows are not sorted by any column.
func (f *Source) ExtractData(ctx context.Context, name string, batchSize int, orderBy []string) (adapter.RowIterator, error) {
	t, err := f.TableSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(f.csvPath(name))
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}
	r := csv.NewReader(file)
	if _, err := r.Read(); err != nil { // skip header
		file.Close()
		return nil, fmt.Errorf("failed to skip header of %s.csv: %w", name, err)
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &csvIterator{file: file, reader: r, table: t, batchSize: batchSize}, nil
}

type csvIterator struct {
	file      *os.File
	reader    *csv.Reader
	table     *ir.Table
	batchSize int
	done      bool
}

func (it *csvIterator) Next(ctx context.Context) ([]adapter.Row, error) {
	if it.done {
		return nil, adapter.ErrNoMoreRows
	}
	batch := make([]adapter.Row, 0, it.batchSize)
	for len(batch) < it.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := it.reader.Read()
		if err == io.EOF {
			it.done = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv read failed: %w", err)
		}
		row := make(adapter.Row, len(it.table.Columns))
		for i, col := range it.table.Columns {
			if i >= len(record) {
				row[col.Name] = nil
				continue
			}
			row[col.Name] = coerce(col.Type, record[i])
		}
		batch = append(batch, row)
	}
	if len(batch) == 0 {
		return nil, adapter.ErrNoMoreRows
	}
	return batch, nil
}

func (it *csvIterator) Close() error {
	it.done = true
	return it.file.Close()
}

// coerce converts a CSV cell to the manifest-declared type. Empty cells
// are NULL for every non-text type; for text they stay empty strings.
func coerce(ti ir.TypeInfo, cell string) any {
	switch ti.Kind {
	case ir.KindInt8, ir.KindInt16, ir.KindInt32, ir.KindInt64,
		ir.KindUint8, ir.KindUint16, ir.KindUint32, ir.KindUint64:
		if cell == "" {
			return nil
		}
		if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
			return n
		}
		return cell
	case ir.KindReal32, ir.KindReal64, ir.KindDecimal:
		if cell == "" {
			return nil
		}
		if fl, err := strconv.ParseFloat(cell, 64); err == nil {
			return fl
		}
		return cell
	case ir.KindBool:
		if cell == "" {
			return nil
		}
		return cell == "1" || strings.EqualFold(cell, "true")
	default:
		return cell
	}
}

// The file adapter is source-only.

func (f *Source) CreateTable(ctx context.Context, t *ir.Table, withFKs bool) error {
	return adapter.ErrUnsupported
}

func (f *Source) ExecuteBatch(ctx context.Context, stmt string, rows [][]any) error {
	return adapter.ErrUnsupported
}

func (f *Source) SupportsDeferredForeignKeys() bool { return false }

func (f *Source) AddForeignKeys(ctx context.Context, t *ir.Table) error {
	return adapter.ErrUnsupported
}

func (f *Source) DropTable(ctx context.Context, name string) error {
	return adapter.ErrUnsupported
}

func (f *Source) TruncateTable(ctx context.Context, name string) error {
	return adapter.ErrUnsupported
}
