// Package mysql implements the adapter contract for MySQL and MariaDB.
// Source extraction starts a transaction WITH CONSISTENT SNAPSHOT so
// every table is read from one point in time.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/typemap"
)

func init() {
	adapter.Register("mysql", func(cfg *adapter.Config) (adapter.Adapter, error) {
		return &MySQL{cfg: cfg}, nil
	})
}

// MySQL is a source and target adapter for the MySQL family.
type MySQL struct {
	cfg *adapter.Config
	db  *sql.DB

	snapshot *sql.Conn
}

func (m *MySQL) Dialect() string { return "mysql" }

func (m *MySQL) Capabilities() []adapter.Capability {
	return []adapter.Capability{
		adapter.L1SchemaAndData,
		adapter.L2Views,
		adapter.L3Routines,
	}
}

func (m *MySQL) dsn() string {
	mc := gomysql.NewConfig()
	mc.User = m.cfg.User
	mc.Passwd = m.cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	mc.DBName = m.cfg.Database
	mc.ParseTime = true
	if mc.Params == nil {
		mc.Params = map[string]string{}
	}
	for k, v := range m.cfg.Params {
		mc.Params[k] = v
	}
	return mc.FormatDSN()
}

func (m *MySQL) Open(ctx context.Context) error {
	db, err := sql.Open("mysql", m.dsn())
	if err != nil {
		return fmt.Errorf("failed to open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to mysql at %s: %w", m.cfg.Host, err)
	}
	m.db = db
	return nil
}

func (m *MySQL) Close() error {
	if m.snapshot != nil {
		_, _ = m.snapshot.ExecContext(context.Background(), "ROLLBACK")
		m.snapshot.Close()
		m.snapshot = nil
	}
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// BeginSnapshot pins one connection to a consistent-snapshot transaction
// for all subsequent reads.
func (m *MySQL) BeginSnapshot(ctx context.Context) error {
	if m.snapshot != nil {
		return nil
	}
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to pin snapshot connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "START TRANSACTION WITH CONSISTENT SNAPSHOT, READ ONLY"); err != nil {
		conn.Close()
		return fmt.Errorf("failed to start consistent snapshot: %w", err)
	}
	m.snapshot = conn
	return nil
}

func (m *MySQL) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	if m.snapshot != nil {
		return m.snapshot.QueryContext(ctx, q, args...)
	}
	return m.db.QueryContext(ctx, q, args...)
}

func (m *MySQL) Quote(ident string) string { return adapter.QuoteBacktick(ident) }

func (m *MySQL) ListTables(ctx context.Context) ([]string, error) {
	rows, err := m.query(ctx, `
		SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, m.cfg.Database)
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

func (m *MySQL) TableSchema(ctx context.Context, name string) (*ir.Table, error) {
	t := &ir.Table{Name: name}

	rows, err := m.query(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT,
		       COLUMN_KEY, EXTRA, COALESCE(COLLATION_NAME, '')
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, m.cfg.Database, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns for %s: %w", name, err)
	}
	var pkCols []string
	for rows.Next() {
		var colName, colType, nullable, colKey, extra, collation string
		var dflt sql.NullString
		if err := rows.Scan(&colName, &colType, &nullable, &dflt, &colKey, &extra, &collation); err != nil {
			rows.Close()
			return nil, err
		}
		col := ir.Column{
			Name:      colName,
			Type:      typemap.ToIR("mysql", colType),
			Nullable:  nullable == "YES",
			Collation: collation,
		}
		col.Type.Nullable = col.Nullable
		if dflt.Valid {
			v := dflt.String
			col.Default = &v
		}
		if colKey == "PRI" {
			col.PrimaryKey = true
			pkCols = append(pkCols, colName)
		}
		if strings.Contains(extra, "auto_increment") {
			t.IdentityColumn = colName
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
		t.Constraints = append(t.Constraints, ir.Constraint{Kind: ir.ConstraintPK, Columns: pkCols})
	}

	if err := m.readForeignKeys(ctx, t); err != nil {
		return nil, err
	}
	if err := m.readIndexes(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *MySQL) readForeignKeys(ctx context.Context, t *ir.Table) error {
	rows, err := m.query(ctx, `
		SELECT CONSTRAINT_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`, m.cfg.Database, t.Name)
	if err != nil {
		return fmt.Errorf("failed to read foreign keys for %s: %w", t.Name, err)
	}
	defer rows.Close()

	type group struct {
		cols, refCols []string
		refTable      string
	}
	groups := map[string]*group{}
	var order []string
	for rows.Next() {
		var cname, col, refTable, refCol string
		if err := rows.Scan(&cname, &col, &refTable, &refCol); err != nil {
			return err
		}
		g, ok := groups[cname]
		if !ok {
			g = &group{refTable: refTable}
			groups[cname] = g
			order = append(order, cname)
		}
		g.cols = append(g.cols, col)
		g.refCols = append(g.refCols, refCol)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, cname := range order {
		g := groups[cname]
		t.Constraints = append(t.Constraints, ir.Constraint{
			Kind: ir.ConstraintFK, Name: cname,
			Columns: g.cols, RefTable: g.refTable, RefColumns: g.refCols,
		})
	}
	return nil
}

func (m *MySQL) readIndexes(ctx context.Context, t *ir.Table) error {
	rows, err := m.query(ctx, `
		SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND INDEX_NAME <> 'PRIMARY'
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`, m.cfg.Database, t.Name)
	if err != nil {
		return fmt.Errorf("failed to read indexes for %s: %w", t.Name, err)
	}
	defer rows.Close()

	byName := map[string]*ir.Index{}
	var order []string
	for rows.Next() {
		var idxName, colName string
		var nonUnique int
		if err := rows.Scan(&idxName, &colName, &nonUnique); err != nil {
			return err
		}
		idx, ok := byName[idxName]
		if !ok {
			idx = &ir.Index{Name: idxName, Unique: nonUnique == 0}
			byName[idxName] = idx
			order = append(order, idxName)
		}
		idx.Columns = append(idx.Columns, colName)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	// FK-backing indexes share the constraint's name; skip those.
	fkNames := map[string]bool{}
	for _, c := range t.Constraints {
		if c.Kind == ir.ConstraintFK {
			fkNames[c.Name] = true
		}
	}
	for _, name := range order {
		if !fkNames[name] {
			t.Indexes = append(t.Indexes, *byName[name])
		}
	}
	return nil
}

func (m *MySQL) RowCount(ctx context.Context, name string) (int64, error) {
	var n int64
	row := m.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", m.Quote(name)))
	if m.snapshot != nil {
		row = m.snapshot.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", m.Quote(name)))
	}
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", name, err)
	}
	return n, nil
}

func (m *MySQL) ExtractData(ctx context.Context, name string, batchSize int, orderBy []string) (adapter.RowIterator, error) {
	if err := m.BeginSnapshot(ctx); err != nil {
		return nil, err
	}
	t, err := m.TableSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	query := adapter.BuildSelect(m.Quote, t, orderBy)
	rows, err := m.snapshot.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", name, err)
	}
	return adapter.NewSQLIterator(rows, t, batchSize)
}

func (m *MySQL) CreateTable(ctx context.Context, t *ir.Table, withFKs bool) error {
	ddl := adapter.BuildCreateTable("mysql", m.Quote, t, withFKs)
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	return tx.Commit()
}

func (m *MySQL) ExecuteBatch(ctx context.Context, stmt string, rows [][]any) error {
	tx, err := m.db.BeginTx(ctx, nil)
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

func (m *MySQL) SupportsDeferredForeignKeys() bool { return true }

func (m *MySQL) AddForeignKeys(ctx context.Context, t *ir.Table) error {
	for _, fk := range t.ForeignKeys() {
		stmt := adapter.BuildAddForeignKey(m.Quote, t.Name, fk)
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add foreign key on %s: %w", t.Name, err)
		}
	}
	return nil
}

func (m *MySQL) DropTable(ctx context.Context, name string) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", m.Quote(name)))
	return err
}

func (m *MySQL) TruncateTable(ctx context.Context, name string) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", m.Quote(name)))
	return err
}

// ListViews returns view name -> definition (L2).
func (m *MySQL) ListViews(ctx context.Context) (map[string]string, error) {
	rows, err := m.query(ctx, `
		SELECT TABLE_NAME, VIEW_DEFINITION
		FROM INFORMATION_SCHEMA.VIEWS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME`, m.cfg.Database)
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

// ListRoutines introspects stored procedures and functions (L3).
func (m *MySQL) ListRoutines(ctx context.Context) ([]*ir.Routine, error) {
	rows, err := m.query(ctx, `
		SELECT ROUTINE_NAME, COALESCE(DTD_IDENTIFIER, ''), COALESCE(ROUTINE_DEFINITION, '')
		FROM INFORMATION_SCHEMA.ROUTINES
		WHERE ROUTINE_SCHEMA = ?
		ORDER BY ROUTINE_NAME`, m.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to list routines: %w", err)
	}
	defer rows.Close()

	var routines []*ir.Routine
	for rows.Next() {
		var name, retType, body string
		if err := rows.Scan(&name, &retType, &body); err != nil {
			return nil, err
		}
		r := &ir.Routine{Name: name, Body: body, Language: "SQL"}
		if retType != "" {
			ti := typemap.ToIR("mysql", retType)
			r.ReturnType = &ti
		}
		routines = append(routines, r)
	}
	return routines, rows.Err()
}
