package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/ir"
)

func mockAdapter(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cfg := &adapter.Config{Dialect: "postgres", Host: "h", Port: 5432, Database: "app"}
	return &Postgres{cfg: cfg, db: db}, mock
}

func TestListTables(t *testing.T) {
	p, mock := mockAdapter(t)
	mock.ExpectQuery(`FROM information_schema\.tables`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("orders").AddRow("users"))

	tables, err := p.ListTables(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 2 || tables[0] != "orders" {
		t.Errorf("tables = %v", tables)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTableSchemaMapsTypes(t *testing.T) {
	p, mock := mockAdapter(t)

	mock.ExpectQuery(`FROM information_schema\.columns`).
		WithArgs("events").
		WillReturnRows(sqlmock.NewRows([]string{
			"column_name", "data_type", "is_nullable", "column_default",
			"character_maximum_length", "numeric_precision", "numeric_scale",
			"collation_name", "is_identity",
		}).
			AddRow("id", "bigint", "NO", "nextval('events_id_seq'::regclass)", 0, 64, 0, "", "NO").
			AddRow("label", "character varying", "YES", nil, 120, 0, 0, "", "NO").
			AddRow("amount", "numeric", "YES", nil, 0, 12, 2, "", "NO").
			AddRow("at", "timestamp with time zone", "NO", nil, 0, 0, 0, "", "NO"))

	mock.ExpectQuery(`FROM information_schema\.table_constraints`).
		WithArgs("events").
		WillReturnRows(sqlmock.NewRows([]string{"constraint_type", "constraint_name", "column_name", "table_name", "column_name_2"}).
			AddRow("PRIMARY KEY", "events_pkey", "id", "", ""))

	mock.ExpectQuery(`FROM pg_class`).
		WithArgs("events").
		WillReturnRows(sqlmock.NewRows([]string{"relname", "attname", "indisunique"}))

	schema, err := p.TableSchema(context.Background(), "events")
	if err != nil {
		t.Fatal(err)
	}

	if got := schema.ColumnNames(); len(got) != 4 || got[0] != "id" || got[3] != "at" {
		t.Fatalf("column order = %v", got)
	}
	if schema.IdentityColumn != "id" {
		t.Errorf("identity = %q (serial default should mark identity)", schema.IdentityColumn)
	}
	if id := schema.Column("id"); id.Default != nil {
		t.Error("nextval default must not be captured as a column default")
	}
	if label := schema.Column("label"); label.Type.Kind != ir.KindText || label.Type.Length != 120 {
		t.Errorf("label type = %+v", label.Type)
	}
	if amount := schema.Column("amount"); amount.Type.Kind != ir.KindDecimal || amount.Type.Precision != 12 || amount.Type.Scale != 2 {
		t.Errorf("amount type = %+v", amount.Type)
	}
	if at := schema.Column("at"); at.Type.Kind != ir.KindTimestampTZ || !at.Type.TZAware {
		t.Errorf("at type = %+v", at.Type)
	}
	if pk := schema.PrimaryKey(); len(pk) != 1 || pk[0] != "id" {
		t.Errorf("pk = %v", pk)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestForeignKeyGrouping(t *testing.T) {
	p, mock := mockAdapter(t)

	mock.ExpectQuery(`FROM information_schema\.columns`).
		WithArgs("line_items").
		WillReturnRows(sqlmock.NewRows([]string{
			"column_name", "data_type", "is_nullable", "column_default",
			"character_maximum_length", "numeric_precision", "numeric_scale",
			"collation_name", "is_identity",
		}).
			AddRow("order_id", "bigint", "NO", nil, 0, 64, 0, "", "NO").
			AddRow("line_no", "integer", "NO", nil, 0, 32, 0, "", "NO"))

	mock.ExpectQuery(`FROM information_schema\.table_constraints`).
		WithArgs("line_items").
		WillReturnRows(sqlmock.NewRows([]string{"constraint_type", "constraint_name", "column_name", "table_name", "column_name_2"}).
			AddRow("PRIMARY KEY", "line_items_pkey", "order_id", "", "").
			AddRow("PRIMARY KEY", "line_items_pkey", "line_no", "", "").
			AddRow("FOREIGN KEY", "line_items_order_fk", "order_id", "orders", "id"))

	mock.ExpectQuery(`FROM pg_class`).
		WithArgs("line_items").
		WillReturnRows(sqlmock.NewRows([]string{"relname", "attname", "indisunique"}))

	schema, err := p.TableSchema(context.Background(), "line_items")
	if err != nil {
		t.Fatal(err)
	}
	if pk := schema.PrimaryKey(); len(pk) != 2 {
		t.Errorf("composite pk = %v", pk)
	}
	fks := schema.ForeignKeys()
	if len(fks) != 1 || fks[0].RefTable != "orders" || fks[0].RefColumns[0] != "id" {
		t.Errorf("fks = %+v", fks)
	}
}

func TestDSNIncludesParams(t *testing.T) {
	p := &Postgres{cfg: &adapter.Config{
		Dialect: "postgres", Host: "db", Port: 5432, Database: "app",
		User: "u", Password: "p", Params: map[string]string{"sslmode": "disable"},
	}}
	dsn := p.dsn()
	for _, want := range []string{"postgres://", "db:5432", "/app", "sslmode=disable"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn missing %q: %s", want, dsn)
		}
	}
}
