package adapter

import (
	"fmt"
	"strings"

	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/typemap"
)

// BuildCreateTable renders CREATE TABLE DDL for a dialect from table IR.
// Column order is the IR's physical order; constraints follow the IR's
// deterministic sort. When withFKs is false the FK clauses are withheld
// so they can be added in a second pass (FK cycles).
func BuildCreateTable(dialect string, quote func(string) string, t *ir.Table, withFKs bool) string {
	var defs []string

	for _, col := range t.Columns {
		def := quote(col.Name) + " " + typemap.FromIR(dialect, col.Type)
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}

	for _, c := range t.SortedConstraints() {
		switch c.Kind {
		case ir.ConstraintPK:
			defs = append(defs, "PRIMARY KEY ("+quoteJoin(quote, c.Columns)+")")
		case ir.ConstraintUnique:
			defs = append(defs, "UNIQUE ("+quoteJoin(quote, c.Columns)+")")
		case ir.ConstraintFK:
			if !withFKs {
				continue
			}
			defs = append(defs, fkClause(quote, c))
		case ir.ConstraintCheck:
			if c.Definition != "" {
				defs = append(defs, "CHECK ("+c.Definition+")")
			}
		}
	}

	// Column-level PK when no PK constraint was recorded.
	if len(t.PrimaryKey()) > 0 && !hasPKConstraint(t) {
		defs = append(defs, "PRIMARY KEY ("+quoteJoin(quote, t.PrimaryKey())+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", quote(t.Name), strings.Join(defs, ",\n    "))
}

// BuildAddForeignKey renders one ALTER TABLE ... ADD FOREIGN KEY statement.
func BuildAddForeignKey(quote func(string) string, table string, c ir.Constraint) string {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD ", quote(table))
	if c.Name != "" {
		stmt += "CONSTRAINT " + quote(c.Name) + " "
	}
	return stmt + fkClause(quote, c)
}

// BuildInsert renders a positional parameterized INSERT for the table.
// Placeholder style is qmark for sqlite/duckdb/file and the dialect's
// native style elsewhere ($n for postgres, ? for mysql).
func BuildInsert(dialect string, quote func(string) string, t *ir.Table) string {
	cols := t.ColumnNames()
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		if typemap.Normalize(dialect) == "postgres" {
			params[i] = fmt.Sprintf("$%d", i+1)
		} else {
			params[i] = "?"
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(t.Name), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

// BuildSelect renders the deterministic extraction query: explicit column
// list in physical order, ORDER BY the caller's columns, else the primary
// key ascending, else every column.
func BuildSelect(quote func(string) string, t *ir.Table, orderBy []string) string {
	cols := t.ColumnNames()
	sortCols := orderBy
	if len(sortCols) == 0 {
		sortCols = t.PrimaryKey()
	}
	if len(sortCols) == 0 {
		sortCols = cols
	}
	query := fmt.Sprintf("SELECT %s FROM %s", quoteJoin(quote, cols), quote(t.Name))
	if len(sortCols) > 0 {
		query += " ORDER BY " + quoteJoin(quote, sortCols)
	}
	return query
}

func fkClause(quote func(string) string, c ir.Constraint) string {
	clause := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
		quoteJoin(quote, c.Columns), quote(c.RefTable), quoteJoin(quote, c.RefColumns))
	if c.OnUpdate != "" && !strings.EqualFold(c.OnUpdate, "NO ACTION") {
		clause += " ON UPDATE " + c.OnUpdate
	}
	if c.OnDelete != "" && !strings.EqualFold(c.OnDelete, "NO ACTION") {
		clause += " ON DELETE " + c.OnDelete
	}
	return clause
}

func quoteJoin(quote func(string) string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quote(c)
	}
	return strings.Join(out, ", ")
}

func hasPKConstraint(t *ir.Table) bool {
	for _, c := range t.Constraints {
		if c.Kind == ir.ConstraintPK {
			return true
		}
	}
	return false
}
