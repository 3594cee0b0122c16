package migrate

import (
	"fmt"
	"strings"

	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/typemap"
)

// sequenceResetSQL generates the per-dialect statement that realigns an
// auto-increment counter after a bulk load. The output goes to
// post_migration.sql and is informational: the runner never executes it.
func sequenceResetSQL(targetDialect string, t *ir.Table, quote func(string) string) string {
	pk := t.PrimaryKey()
	if len(pk) == 0 {
		return ""
	}
	pkCol := pk[0]
	col := t.Column(pkCol)
	if col == nil {
		return ""
	}
	switch col.Type.Kind {
	case ir.KindInt8, ir.KindInt16, ir.KindInt32, ir.KindInt64,
		ir.KindUint8, ir.KindUint16, ir.KindUint32, ir.KindUint64:
	default:
		return "" // only integer keys carry sequences
	}

	qt := quote(t.Name)
	qc := quote(pkCol)
	switch typemap.Normalize(targetDialect) {
	case "postgres":
		seq := fmt.Sprintf("%s_%s_seq", t.Name, pkCol)
		return fmt.Sprintf("SELECT setval('%s', (SELECT COALESCE(MAX(%s), 0) + 1 FROM %s), false);", seq, qc, qt)
	case "mysql":
		return fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = 1; -- MySQL recomputes from MAX(%s)+1 on next insert", qt, qc)
	case "sqlite":
		return fmt.Sprintf("UPDATE sqlite_sequence SET seq = (SELECT MAX(%s) FROM %s) WHERE name = '%s';", qc, qt, t.Name)
	}
	return ""
}

// buildPostMigrationSQL collects the reset statements for every ordered
// table into the post_migration.sql artifact body.
func buildPostMigrationSQL(targetDialect string, schema *ir.Schema, order []string, quote func(string) string) string {
	var b strings.Builder
	b.WriteString("-- Post-migration statements (informational; review before executing)\n")
	b.WriteString("-- Sequence and identity realignment after bulk load\n\n")
	any := false
	for _, name := range order {
		t, ok := schema.Tables[name]
		if !ok {
			continue
		}
		if stmt := sequenceResetSQL(targetDialect, t, quote); stmt != "" {
			fmt.Fprintf(&b, "-- %s\n%s\n\n", name, stmt)
			any = true
		}
	}
	if !any {
		b.WriteString("-- No sequence resets required.\n")
	}
	return b.String()
}
