// Package adapter defines the contract every source and target database
// adapter implements, plus the dialect registry that turns connection
// URLs into live adapters. Adapters are not required to be safe for
// concurrent use; the runner serializes all calls per adapter.
package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/untoldecay/dbport/internal/ir"
)

// Capability tags the extent of migration support an adapter advertises.
// The runner honors the minimum of source, target, and requested level.
type Capability string

const (
	L0DataOnly      Capability = "L0_DATA_ONLY"
	L1SchemaAndData Capability = "L1_SCHEMA_AND_DATA"
	L2Views         Capability = "L2_VIEWS"
	L3Routines      Capability = "L3_ROUTINES"
	L4Triggers      Capability = "L4_TRIGGERS"
	L4TriggerSubset Capability = "L4_TRIGGER_SUBSET"
)

// ErrNoMoreRows terminates a RowIterator.
var ErrNoMoreRows = errors.New("no more rows")

// Row is one extracted row keyed by column name.
type Row map[string]any

// RowIterator is a bounded pull-based batch producer. The consumer drives
// the source cursor through Next; backpressure is inherent. Close must be
// called on every exit path.
type RowIterator interface {
	// Next returns the next batch of at most the configured batch size.
	// It returns ErrNoMoreRows after the final batch.
	Next(ctx context.Context) ([]Row, error)
	Close() error
}

// Adapter is the core contract (L1). Optional capability surfaces are the
// ViewLister, RoutineLister, and TriggerLister extensions.
type Adapter interface {
	// Dialect returns the canonical dialect name (typemap.Normalize form).
	Dialect() string
	Capabilities() []Capability

	Open(ctx context.Context) error
	Close() error

	// Quote quotes an identifier for this dialect: backticks for the
	// MySQL family, double quotes elsewhere.
	Quote(ident string) string

	ListTables(ctx context.Context) ([]string, error)
	TableSchema(ctx context.Context, name string) (*ir.Table, error)

	// RowCount returns the exact row count, or -1 when counting is not
	// cheap for this source (file adapters).
	RowCount(ctx context.Context, name string) (int64, error)

	// ExtractData streams the table in deterministic order: orderBy if
	// given, else primary key ascending, else all columns.
	ExtractData(ctx context.Context, name string, batchSize int, orderBy []string) (RowIterator, error)

	// CreateTable emits and executes DDL for the table under a
	// transaction. When withFKs is false, foreign keys are withheld for a
	// later pass (FK cycles).
	CreateTable(ctx context.Context, t *ir.Table, withFKs bool) error

	// ExecuteBatch runs one parameterized statement for each row inside a
	// single transaction; the whole batch commits or rolls back together.
	ExecuteBatch(ctx context.Context, stmt string, rows [][]any) error

	// SupportsDeferredForeignKeys reports whether AddForeignKeys can apply
	// constraints after table creation. SQLite cannot; its tables are
	// created with FKs inline, which it resolves lazily, so cycles still
	// work.
	SupportsDeferredForeignKeys() bool

	// AddForeignKeys applies FK constraints post-creation. Dialects that
	// cannot alter constraints in place (sqlite) return ErrUnsupported.
	AddForeignKeys(ctx context.Context, t *ir.Table) error

	// DropTable removes a table created by this run; used only by
	// clean-on-failure rollback.
	DropTable(ctx context.Context, name string) error

	// TruncateTable deletes every row. Resume uses it to guarantee a
	// clean recopy of tables that were interrupted without a recorded
	// offset.
	TruncateTable(ctx context.Context, name string) error
}

// ErrUnsupported is returned by optional operations a dialect cannot
// perform; the runner converts it into a limitation, never a failure.
var ErrUnsupported = errors.New("operation not supported by this dialect")

// ViewLister is implemented by adapters with L2 support.
type ViewLister interface {
	ListViews(ctx context.Context) (map[string]string, error)
}

// RoutineLister is implemented by adapters with L3 support.
type RoutineLister interface {
	ListRoutines(ctx context.Context) ([]*ir.Routine, error)
}

// TriggerLister is implemented by adapters with L4 support.
type TriggerLister interface {
	ListTriggers(ctx context.Context) ([]*ir.Trigger, error)
}

// Has reports whether the adapter advertises the capability.
func Has(a Adapter, c Capability) bool {
	for _, got := range a.Capabilities() {
		if got == c {
			return true
		}
	}
	return false
}

// QuoteANSI double-quotes an identifier, doubling embedded quotes.
func QuoteANSI(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QuoteBacktick backtick-quotes an identifier for the MySQL family.
func QuoteBacktick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
