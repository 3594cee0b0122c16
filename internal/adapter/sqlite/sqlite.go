// Package sqlite implements the adapter contract over a SQLite database
// file. It uses the wazero-based ncruces driver, so no cgo is involved.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/typemap"
)

func init() {
	adapter.Register("sqlite", func(cfg *adapter.Config) (adapter.Adapter, error) {
		return &SQLite{cfg: cfg}, nil
	})
}

// SQLite is a source and target adapter for SQLite files.
type SQLite struct {
	cfg *adapter.Config
	db  *sql.DB
}

// NewAtPath builds an adapter for a database file directly, bypassing URL
// parsing. Used by the legacy --target-dir mode and tests.
func NewAtPath(path string) *SQLite {
	return &SQLite{cfg: &adapter.Config{Dialect: "sqlite", Path: path, RawURL: "sqlite://" + path}}
}

func (s *SQLite) Dialect() string { return "sqlite" }

func (s *SQLite) Capabilities() []adapter.Capability {
	return []adapter.Capability{
		adapter.L1SchemaAndData,
		adapter.L2Views,
		adapter.L4Triggers,
		adapter.L4TriggerSubset,
	}
}

func (s *SQLite) Open(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps reads on one snapshot and writes
	// serialized, matching the adapter concurrency contract.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to open sqlite database at %s: %w", s.cfg.Path, err)
	}
	s.db = db
	return nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLite) Quote(ident string) string { return adapter.QuoteANSI(ident) }

func (s *SQLite) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLite) TableSchema(ctx context.Context, name string) (*ir.Table, error) {
	t := &ir.Table{Name: name}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", s.Quote(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns for %s: %w", name, err)
	}
	type pkEntry struct {
		col string
		ord int
	}
	var pkCols []pkEntry
	for rows.Next() {
		var (
			cid     int
			colName string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, err
		}
		col := ir.Column{
			Name:     colName,
			Type:     typemap.ToIR("sqlite", colType),
			Nullable: notNull == 0,
		}
		col.Type.Nullable = col.Nullable
		if dflt.Valid {
			v := dflt.String
			col.Default = &v
		}
		if pk > 0 {
			col.PrimaryKey = true
			pkCols = append(pkCols, pkEntry{colName, pk})
		}
		t.Columns = append(t.Columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("table %s does not exist", name)
	}

	if len(pkCols) > 0 {
		sort.Slice(pkCols, func(i, j int) bool { return pkCols[i].ord < pkCols[j].ord })
		cols := make([]string, len(pkCols))
		for i, e := range pkCols {
			cols[i] = e.col
		}
		t.Constraints = append(t.Constraints, ir.Constraint{Kind: ir.ConstraintPK, Columns: cols})
		// INTEGER PRIMARY KEY is a rowid alias and auto-assigns.
		if len(cols) == 1 {
			if c := t.Column(cols[0]); c != nil && strings.EqualFold(c.Type.RawSourceType, "INTEGER") {
				t.IdentityColumn = cols[0]
			}
		}
	}

	if err := s.readForeignKeys(ctx, t); err != nil {
		return nil, err
	}
	if err := s.readIndexes(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLite) readForeignKeys(ctx context.Context, t *ir.Table) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", s.Quote(t.Name)))
	if err != nil {
		return fmt.Errorf("failed to read foreign keys for %s: %w", t.Name, err)
	}
	defer rows.Close()

	// Multi-column FKs arrive as several rows sharing an id.
	type fkGroup struct {
		refTable           string
		cols, refCols      []string
		onUpdate, onDelete string
	}
	groups := map[int]*fkGroup{}
	var order []int
	for rows.Next() {
		var (
			id, seq                            int
			refTable, from, to                 string
			onUpdate, onDelete, matchBehaviour string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &matchBehaviour); err != nil {
			return err
		}
		g, ok := groups[id]
		if !ok {
			g = &fkGroup{refTable: refTable, onUpdate: onUpdate, onDelete: onDelete}
			groups[id] = g
			order = append(order, id)
		}
		g.cols = append(g.cols, from)
		g.refCols = append(g.refCols, to)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range order {
		g := groups[id]
		t.Constraints = append(t.Constraints, ir.Constraint{
			Kind:       ir.ConstraintFK,
			Columns:    g.cols,
			RefTable:   g.refTable,
			RefColumns: g.refCols,
			OnUpdate:   g.onUpdate,
			OnDelete:   g.onDelete,
		})
	}
	return nil
}

func (s *SQLite) readIndexes(ctx context.Context, t *ir.Table) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", s.Quote(t.Name)))
	if err != nil {
		return fmt.Errorf("failed to read indexes for %s: %w", t.Name, err)
	}
	type idxEntry struct {
		name   string
		unique bool
		origin string
	}
	var entries []idxEntry
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return err
		}
		entries = append(entries, idxEntry{name, unique == 1, origin})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range entries {
		if e.origin == "pk" {
			continue
		}
		cols, err := s.indexColumns(ctx, e.name)
		if err != nil {
			return err
		}
		switch e.origin {
		case "u":
			// Implicit index backing a UNIQUE constraint.
			t.Constraints = append(t.Constraints, ir.Constraint{
				Kind:    ir.ConstraintUnique,
				Name:    e.name,
				Columns: cols,
			})
		default:
			t.Indexes = append(t.Indexes, ir.Index{Name: e.name, Columns: cols, Unique: e.unique})
		}
	}
	return nil
}

func (s *SQLite) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", s.Quote(index)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var (
			seqno, cid int
			name       sql.NullString
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

func (s *SQLite) RowCount(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.Quote(name))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", name, err)
	}
	return n, nil
}

func (s *SQLite) ExtractData(ctx context.Context, name string, batchSize int, orderBy []string) (adapter.RowIterator, error) {
	t, err := s.TableSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	query := adapter.BuildSelect(s.Quote, t, orderBy)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", name, err)
	}
	return adapter.NewSQLIterator(rows, t, batchSize)
}

func (s *SQLite) CreateTable(ctx context.Context, t *ir.Table, withFKs bool) error {
	ddl := adapter.BuildCreateTable("sqlite", s.Quote, t, withFKs)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	return tx.Commit()
}

func (s *SQLite) ExecuteBatch(ctx context.Context, stmt string, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare batch statement: %w", err)
	}
	for _, row := range rows {
		if _, err := prepared.ExecContext(ctx, row...); err != nil {
			prepared.Close()
			tx.Rollback()
			return fmt.Errorf("batch insert failed: %w", err)
		}
	}
	prepared.Close()
	return tx.Commit()
}

// SQLite cannot add constraints after creation; tables are created with
// their FKs inline, which SQLite resolves lazily, so FK cycles still load.
func (s *SQLite) SupportsDeferredForeignKeys() bool { return false }

func (s *SQLite) AddForeignKeys(ctx context.Context, t *ir.Table) error {
	return adapter.ErrUnsupported
}

// DropTable removes a table; used by clean-on-failure rollback.
func (s *SQLite) DropTable(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", s.Quote(name)))
	return err
}

func (s *SQLite) TruncateTable(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.Quote(name)))
	return err
}

// ListViews returns view name -> definition text (L2).
func (s *SQLite) ListViews(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, sql FROM sqlite_master WHERE type = 'view' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list views: %w", err)
	}
	defer rows.Close()
	views := map[string]string{}
	for rows.Next() {
		var name string
		var def sql.NullString
		if err := rows.Scan(&name, &def); err != nil {
			return nil, err
		}
		views[name] = def.String
	}
	return views, rows.Err()
}
