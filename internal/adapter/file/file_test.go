package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/ir"
)

func setupDir(t *testing.T, manifest string, csvs map[string]string) *Source {
	t.Helper()
	dir := t.TempDir()
	for name, content := range csvs {
		if err := os.WriteFile(filepath.Join(dir, name+".csv"), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if manifest != "" {
		if err := os.WriteFile(filepath.Join(dir, ManifestName), []byte(manifest), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	src := &Source{cfg: &adapter.Config{Dialect: "file", Path: dir}}
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return src
}

func TestListTablesFromCSVNames(t *testing.T) {
	src := setupDir(t, "", map[string]string{
		"users":  "id,name\n1,a\n",
		"orders": "id,total\n1,9.5\n",
	})
	tables, err := src.ListTables(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 2 || tables[0] != "orders" || tables[1] != "users" {
		t.Errorf("tables = %v", tables)
	}
}

func TestSchemaFromHeaderDefaultsToText(t *testing.T) {
	src := setupDir(t, "", map[string]string{"users": "id,name\n1,a\n"})
	schema, err := src.TableSchema(context.Background(), "users")
	if err != nil {
		t.Fatal(err)
	}
	if got := schema.ColumnNames(); got[0] != "id" || got[1] != "name" {
		t.Errorf("columns = %v", got)
	}
	if schema.Columns[0].Type.Kind != ir.KindText {
		t.Errorf("untyped column should default to TEXT, got %s", schema.Columns[0].Type.Kind)
	}
}

func TestManifestTypesAndCoercion(t *testing.T) {
	manifest := `
[tables.users]
order_by = ["id"]

[tables.users.columns]
id = "INTEGER"
balance = "DECIMAL(10,2)"
active = "BOOLEAN"
`
	src := setupDir(t, manifest, map[string]string{
		"users": "id,name,balance,active\n1,ann,10.50,true\n2,ben,,0\n",
	})
	schema, err := src.TableSchema(context.Background(), "users")
	if err != nil {
		t.Fatal(err)
	}
	if schema.Column("id").Type.Kind != ir.KindInt32 {
		t.Errorf("id kind = %s", schema.Column("id").Type.Kind)
	}
	if schema.Column("balance").Type.Kind != ir.KindDecimal {
		t.Errorf("balance kind = %s", schema.Column("balance").Type.Kind)
	}

	it, err := src.ExtractData(context.Background(), "users", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	batch, err := it.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 2 {
		t.Fatalf("rows = %d", len(batch))
	}
	if got := batch[0]["id"]; got != int64(1) {
		t.Errorf("id = %v (%T)", got, got)
	}
	if got := batch[0]["balance"]; got != 10.5 {
		t.Errorf("balance = %v (%T)", got, got)
	}
	if got := batch[0]["active"]; got != true {
		t.Errorf("active = %v", got)
	}
	// Empty numeric cell is NULL; empty only for text stays "".
	if got := batch[1]["balance"]; got != nil {
		t.Errorf("empty decimal cell = %v, want nil", got)
	}
	if got := batch[1]["active"]; got != false {
		t.Errorf("active 0 = %v", got)
	}
}

func TestWritesUnsupported(t *testing.T) {
	src := setupDir(t, "", map[string]string{"users": "id\n1\n"})
	ctx := context.Background()
	if err := src.CreateTable(ctx, &ir.Table{Name: "x"}, true); err != adapter.ErrUnsupported {
		t.Errorf("CreateTable err = %v", err)
	}
	if err := src.ExecuteBatch(ctx, "INSERT", nil); err != adapter.ErrUnsupported {
		t.Errorf("ExecuteBatch err = %v", err)
	}
}
