package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/ir"
)

func setupTestDB(t *testing.T, stmts ...string) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open seed db: %v", err)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			t.Fatalf("seed failed: %v\n%s", err, stmt)
		}
	}
	db.Close()

	a := NewAtPath(path)
	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("failed to open adapter: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestListTablesSkipsInternal(t *testing.T) {
	a := setupTestDB(t,
		`CREATE TABLE zebra (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE apple (id INTEGER PRIMARY KEY AUTOINCREMENT, x TEXT)`,
	)
	tables, err := a.ListTables(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// AUTOINCREMENT creates sqlite_sequence, which must not appear.
	if len(tables) != 2 || tables[0] != "apple" || tables[1] != "zebra" {
		t.Errorf("tables = %v", tables)
	}
}

func TestTableSchemaColumnsAndKeys(t *testing.T) {
	a := setupTestDB(t,
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT UNIQUE,
			bio TEXT DEFAULT 'n/a'
		)`,
		`CREATE INDEX idx_users_name ON users(name)`,
	)
	schema, err := a.TableSchema(context.Background(), "users")
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"id", "name", "email", "bio"}
	got := schema.ColumnNames()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("column order = %v, want %v", got, want)
		}
	}
	if pk := schema.PrimaryKey(); len(pk) != 1 || pk[0] != "id" {
		t.Errorf("pk = %v", pk)
	}
	if schema.IdentityColumn != "id" {
		t.Errorf("identity column = %q", schema.IdentityColumn)
	}
	if name := schema.Column("name"); name == nil || name.Nullable {
		t.Error("name should be NOT NULL")
	}
	if bio := schema.Column("bio"); bio == nil || bio.Default == nil {
		t.Error("bio default not captured")
	} else if *bio.Default != "'n/a'" {
		t.Errorf("bio default = %q", *bio.Default)
	}

	var uniqueFound bool
	for _, c := range schema.Constraints {
		if c.Kind == ir.ConstraintUnique && len(c.Columns) == 1 && c.Columns[0] == "email" {
			uniqueFound = true
		}
	}
	if !uniqueFound {
		t.Errorf("unique on email not found: %+v", schema.Constraints)
	}

	idx := schema.SortedIndexes()
	if len(idx) != 1 || idx[0].Name != "idx_users_name" {
		t.Errorf("indexes = %+v", idx)
	}
}

func TestForeignKeyIntrospection(t *testing.T) {
	a := setupTestDB(t,
		`CREATE TABLE parents (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE children (
			id INTEGER PRIMARY KEY,
			parent_id INTEGER REFERENCES parents(id) ON DELETE CASCADE
		)`,
	)
	schema, err := a.TableSchema(context.Background(), "children")
	if err != nil {
		t.Fatal(err)
	}
	fks := schema.ForeignKeys()
	if len(fks) != 1 {
		t.Fatalf("fks = %+v", fks)
	}
	fk := fks[0]
	if fk.RefTable != "parents" || fk.Columns[0] != "parent_id" || fk.RefColumns[0] != "id" {
		t.Errorf("fk = %+v", fk)
	}
	if fk.OnDelete != "CASCADE" {
		t.Errorf("on delete = %q", fk.OnDelete)
	}
}

func TestExtractDataDeterministicOrder(t *testing.T) {
	a := setupTestDB(t,
		`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`,
		`INSERT INTO t (id, v) VALUES (3, 'c'), (1, 'a'), (2, 'b')`,
	)
	it, err := a.ExtractData(context.Background(), "t", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	batch, err := it.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 {
		t.Fatalf("rows = %d", len(batch))
	}
	for i, want := range []int64{1, 2, 3} {
		if got := batch[i]["id"]; got != want {
			t.Errorf("row %d id = %v (%T), want %d", i, got, got, want)
		}
	}
	if _, err := it.Next(context.Background()); err != adapter.ErrNoMoreRows {
		t.Errorf("expected ErrNoMoreRows, got %v", err)
	}
}

func TestCreateTableAndBatchInsert(t *testing.T) {
	a := setupTestDB(t)
	tbl := &ir.Table{
		Name: "people",
		Columns: []ir.Column{
			{Name: "id", Type: ir.TypeInfo{Kind: ir.KindInt64}, Nullable: false, PrimaryKey: true},
			{Name: "name", Type: ir.TypeInfo{Kind: ir.KindText}, Nullable: false},
		},
		Constraints: []ir.Constraint{{Kind: ir.ConstraintPK, Columns: []string{"id"}}},
	}
	ctx := context.Background()
	if err := a.CreateTable(ctx, tbl, true); err != nil {
		t.Fatal(err)
	}
	insert := adapter.BuildInsert("sqlite", a.Quote, tbl)
	if err := a.ExecuteBatch(ctx, insert, [][]any{{int64(1), "ann"}, {int64(2), "ben"}}); err != nil {
		t.Fatal(err)
	}
	n, err := a.RowCount(ctx, "people")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("row count = %d", n)
	}
}

func TestBatchRollsBackAtomically(t *testing.T) {
	a := setupTestDB(t, `CREATE TABLE u (id INTEGER PRIMARY KEY, v TEXT NOT NULL)`)
	ctx := context.Background()
	tbl, err := a.TableSchema(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	insert := adapter.BuildInsert("sqlite", a.Quote, tbl)
	// Second row violates NOT NULL; the whole batch must roll back.
	err = a.ExecuteBatch(ctx, insert, [][]any{{int64(1), "ok"}, {int64(2), nil}})
	if err == nil {
		t.Fatal("expected batch failure")
	}
	n, err := a.RowCount(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("partial batch committed: %d rows", n)
	}
}

func TestListViewsAndTriggers(t *testing.T) {
	a := setupTestDB(t,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, email TEXT, total REAL)`,
		`CREATE VIEW big_orders AS SELECT * FROM orders WHERE total > 100`,
		`CREATE TRIGGER trg_norm BEFORE INSERT ON orders BEGIN
			SELECT 1;
		END`,
		`CREATE TRIGGER trg_audit AFTER INSERT ON orders BEGIN
			INSERT INTO orders (email) VALUES ('x');
		END`,
	)
	ctx := context.Background()

	views, err := a.ListViews(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := views["big_orders"]; !ok {
		t.Errorf("views = %v", views)
	}

	triggers, err := a.ListTriggers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(triggers) != 2 {
		t.Fatalf("triggers = %d", len(triggers))
	}
	byName := map[string]*ir.Trigger{}
	for _, trg := range triggers {
		byName[trg.Name] = trg
	}
	audit := byName["trg_audit"]
	if audit == nil || audit.Timing != ir.TimingAfter || audit.SupportedSubset {
		t.Errorf("trg_audit misclassified: %+v", audit)
	}
	if audit != nil && audit.UnsupportedReason == "" {
		t.Error("unsupported trigger needs a reason")
	}
	norm := byName["trg_norm"]
	if norm == nil || norm.Timing != ir.TimingBefore || norm.Event != ir.EventInsert {
		t.Errorf("trg_norm misparsed: %+v", norm)
	}
}

func TestQuoteEscapesQuotes(t *testing.T) {
	a := &SQLite{}
	if got := a.Quote(`odd"name`); got != `"odd""name"` {
		t.Errorf("quote = %s", got)
	}
}
