// Package postgres implements the adapter contract for PostgreSQL via
// the pgx driver's database/sql interface. Source extraction runs inside
// a SERIALIZABLE READ ONLY transaction so every table sees one snapshot.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/typemap"
)

func init() {
	adapter.Register("postgres", func(cfg *adapter.Config) (adapter.Adapter, error) {
		return &Postgres{cfg: cfg}, nil
	})
}

// Postgres is a source and target adapter for PostgreSQL.
type Postgres struct {
	cfg *adapter.Config
	db  *sql.DB

	// snapshot is the read-only transaction all extraction queries run
	// in. Nil until the first extraction.
	snapshot *sql.Tx
}

func (p *Postgres) Dialect() string { return "postgres" }

func (p *Postgres) Capabilities() []adapter.Capability {
	return []adapter.Capability{
		adapter.L1SchemaAndData,
		adapter.L2Views,
		adapter.L3Routines,
		adapter.L4Triggers,
		adapter.L4TriggerSubset,
	}
}

func (p *Postgres) dsn() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port),
		Path:   "/" + p.cfg.Database,
	}
	if p.cfg.User != "" {
		u.User = url.UserPassword(p.cfg.User, p.cfg.Password)
	}
	q := url.Values{}
	for k, v := range p.cfg.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Postgres) Open(ctx context.Context) error {
	db, err := sql.Open("pgx", p.dsn())
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to postgres at %s: %w", p.cfg.Host, err)
	}
	p.db = db
	return nil
}

func (p *Postgres) Close() error {
	if p.snapshot != nil {
		_ = p.snapshot.Rollback()
		p.snapshot = nil
	}
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// querier returns the snapshot transaction when one is active, so schema
// reads and data reads observe the same state.
func (p *Postgres) querier() interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
} {
	if p.snapshot != nil {
		return p.snapshot
	}
	return p.db
}

// BeginSnapshot opens the repeatable read-only transaction used for
// consistent extraction. Safe to call once per run, before the first
// read.
func (p *Postgres) BeginSnapshot(ctx context.Context) error {
	if p.snapshot != nil {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read-only snapshot: %w", err)
	}
	p.snapshot = tx
	return nil
}

func (p *Postgres) Quote(ident string) string { return adapter.QuoteANSI(ident) }

func (p *Postgres) ListTables(ctx context.Context) ([]string, error) {
	rows, err := p.querier().QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
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

func (p *Postgres) TableSchema(ctx context.Context, name string) (*ir.Table, error) {
	t := &ir.Table{Name: name}

	rows, err := p.querier().QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, column_default,
		       COALESCE(character_maximum_length, 0),
		       COALESCE(numeric_precision, 0), COALESCE(numeric_scale, 0),
		       COALESCE(collation_name, ''),
		       is_identity
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns for %s: %w", name, err)
	}
	for rows.Next() {
		var (
			colName, dataType, nullable, collation, isIdentity string
			dflt                                               sql.NullString
			charLen, numPrec, numScale                         int
		)
		if err := rows.Scan(&colName, &dataType, &nullable, &dflt, &charLen, &numPrec, &numScale, &collation, &isIdentity); err != nil {
			rows.Close()
			return nil, err
		}
		raw := renderRawType(dataType, charLen, numPrec, numScale)
		col := ir.Column{
			Name:      colName,
			Type:      typemap.ToIR("postgres", raw),
			Nullable:  nullable == "YES",
			Collation: collation,
		}
		col.Type.Nullable = col.Nullable
		if dflt.Valid {
			v := dflt.String
			col.Default = &v
			// Serial columns surface as nextval() defaults.
			if strings.Contains(v, "nextval(") {
				t.IdentityColumn = colName
				col.Default = nil
			}
		}
		if isIdentity == "YES" {
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

	if err := p.readKeys(ctx, t); err != nil {
		return nil, err
	}
	if err := p.readIndexes(ctx, t); err != nil {
		return nil, err
	}
	for i := range t.Columns {
		for _, pk := range t.PrimaryKey() {
			if t.Columns[i].Name == pk {
				t.Columns[i].PrimaryKey = true
			}
		}
	}
	return t, nil
}

// renderRawType reconstructs the source spelling with its bounds so the
// registry can preserve precision and length.
func renderRawType(dataType string, charLen, numPrec, numScale int) string {
	up := strings.ToUpper(dataType)
	switch up {
	case "CHARACTER VARYING":
		if charLen > 0 {
			return fmt.Sprintf("VARCHAR(%d)", charLen)
		}
		return "TEXT"
	case "CHARACTER":
		if charLen > 0 {
			return fmt.Sprintf("CHAR(%d)", charLen)
		}
		return "CHAR"
	case "NUMERIC", "DECIMAL":
		if numPrec > 0 {
			return fmt.Sprintf("NUMERIC(%d,%d)", numPrec, numScale)
		}
		return "NUMERIC"
	default:
		return up
	}
}

func (p *Postgres) readKeys(ctx context.Context, t *ir.Table) error {
	rows, err := p.querier().QueryContext(ctx, `
		SELECT tc.constraint_type, tc.constraint_name, kcu.column_name,
		       COALESCE(ccu.table_name, ''), COALESCE(ccu.column_name, '')
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		LEFT JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_type = 'FOREIGN KEY'
		 AND ccu.constraint_name = tc.constraint_name
		 AND ccu.table_schema = tc.table_schema
		WHERE tc.table_schema = 'public' AND tc.table_name = $1
		ORDER BY tc.constraint_name, kcu.ordinal_position`, t.Name)
	if err != nil {
		return fmt.Errorf("failed to read constraints for %s: %w", t.Name, err)
	}
	defer rows.Close()

	type group struct {
		kind          ir.ConstraintKind
		cols, refCols []string
		refTable      string
	}
	groups := map[string]*group{}
	var order []string
	for rows.Next() {
		var ctype, cname, col, refTable, refCol string
		if err := rows.Scan(&ctype, &cname, &col, &refTable, &refCol); err != nil {
			return err
		}
		g, ok := groups[cname]
		if !ok {
			g = &group{}
			switch ctype {
			case "PRIMARY KEY":
				g.kind = ir.ConstraintPK
			case "UNIQUE":
				g.kind = ir.ConstraintUnique
			case "FOREIGN KEY":
				g.kind = ir.ConstraintFK
			default:
				continue
			}
			groups[cname] = g
			order = append(order, cname)
		}
		g.cols = append(g.cols, col)
		if g.kind == ir.ConstraintFK {
			g.refTable = refTable
			g.refCols = append(g.refCols, refCol)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, cname := range order {
		g := groups[cname]
		t.Constraints = append(t.Constraints, ir.Constraint{
			Kind:       g.kind,
			Name:       cname,
			Columns:    g.cols,
			RefTable:   g.refTable,
			RefColumns: g.refCols,
		})
	}
	return nil
}

func (p *Postgres) readIndexes(ctx context.Context, t *ir.Table) error {
	rows, err := p.querier().QueryContext(ctx, `
		SELECT i.relname, a.attname, ix.indisunique
		FROM pg_class c
		JOIN pg_index ix ON c.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(ix.indkey)
		WHERE c.relname = $1 AND NOT ix.indisprimary
		ORDER BY i.relname, a.attnum`, t.Name)
	if err != nil {
		return fmt.Errorf("failed to read indexes for %s: %w", t.Name, err)
	}
	defer rows.Close()

	byName := map[string]*ir.Index{}
	var order []string
	for rows.Next() {
		var idxName, colName string
		var unique bool
		if err := rows.Scan(&idxName, &colName, &unique); err != nil {
			return err
		}
		idx, ok := byName[idxName]
		if !ok {
			idx = &ir.Index{Name: idxName, Unique: unique}
			byName[idxName] = idx
			order = append(order, idxName)
		}
		idx.Columns = append(idx.Columns, colName)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	// Indexes backing UNIQUE constraints are already captured as
	// constraints; skip them here.
	backed := map[string]bool{}
	for _, c := range t.Constraints {
		if c.Kind == ir.ConstraintUnique {
			backed[c.Name] = true
		}
	}
	for _, name := range order {
		if !backed[name] {
			t.Indexes = append(t.Indexes, *byName[name])
		}
	}
	return nil
}

func (p *Postgres) RowCount(ctx context.Context, name string) (int64, error) {
	var n int64
	err := p.querier().QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", p.Quote(name))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", name, err)
	}
	return n, nil
}

func (p *Postgres) ExtractData(ctx context.Context, name string, batchSize int, orderBy []string) (adapter.RowIterator, error) {
	if err := p.BeginSnapshot(ctx); err != nil {
		return nil, err
	}
	t, err := p.TableSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	query := adapter.BuildSelect(p.Quote, t, orderBy)
	rows, err := p.snapshot.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", name, err)
	}
	return adapter.NewSQLIterator(rows, t, batchSize)
}

func (p *Postgres) CreateTable(ctx context.Context, t *ir.Table, withFKs bool) error {
	ddl := adapter.BuildCreateTable("postgres", p.Quote, t, withFKs)
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	return tx.Commit()
}

func (p *Postgres) ExecuteBatch(ctx context.Context, stmt string, rows [][]any) error {
	tx, err := p.db.BeginTx(ctx, nil)
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

func (p *Postgres) SupportsDeferredForeignKeys() bool { return true }

func (p *Postgres) AddForeignKeys(ctx context.Context, t *ir.Table) error {
	for _, fk := range t.ForeignKeys() {
		stmt := adapter.BuildAddForeignKey(p.Quote, t.Name, fk)
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add foreign key on %s: %w", t.Name, err)
		}
	}
	return nil
}

func (p *Postgres) DropTable(ctx context.Context, name string) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", p.Quote(name)))
	return err
}

func (p *Postgres) TruncateTable(ctx context.Context, name string) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", p.Quote(name)))
	return err
}

// ListViews returns view name -> definition (L2).
func (p *Postgres) ListViews(ctx context.Context) (map[string]string, error) {
	rows, err := p.querier().QueryContext(ctx, `
		SELECT table_name, view_definition
		FROM information_schema.views
		WHERE table_schema = 'public'
		ORDER BY table_name`)
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
