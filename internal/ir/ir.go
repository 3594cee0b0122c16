// Package ir defines the dialect-neutral intermediate representation for
// schemas, types, routines, and triggers. Everything here is a passive
// value type: adapters produce IR, the runner consumes it, and nothing in
// this package performs I/O.
package ir

import (
	"sort"
	"strings"
)

// Kind is the neutral type classification every source type resolves to.
type Kind string

const (
	KindInt8        Kind = "INT8"
	KindInt16       Kind = "INT16"
	KindInt32       Kind = "INT32"
	KindInt64       Kind = "INT64"
	KindUint8       Kind = "UINT8"
	KindUint16      Kind = "UINT16"
	KindUint32      Kind = "UINT32"
	KindUint64      Kind = "UINT64"
	KindReal32      Kind = "REAL32"
	KindReal64      Kind = "REAL64"
	KindDecimal     Kind = "DECIMAL"
	KindBool        Kind = "BOOL"
	KindText        Kind = "TEXT"
	KindBytes       Kind = "BYTES"
	KindDate        Kind = "DATE"
	KindTime        Kind = "TIME"
	KindTimestamp   Kind = "TIMESTAMP"
	KindTimestampTZ Kind = "TIMESTAMP_TZ"
	KindInterval    Kind = "INTERVAL"
	KindUUID        Kind = "UUID"
	KindJSON        Kind = "JSON"
	KindXML         Kind = "XML"
	KindGeography   Kind = "GEOGRAPHY"
	KindArray       Kind = "ARRAY"
	KindUnknown     Kind = "UNKNOWN"
)

// TypeInfo is the neutral descriptor for a column or argument type.
// RawSourceType preserves the exact source spelling for audit output.
type TypeInfo struct {
	Kind          Kind   `json:"kind"`
	Nullable      bool   `json:"nullable,omitempty"`
	Length        int    `json:"length,omitempty"`
	Precision     int    `json:"precision,omitempty"`
	Scale         int    `json:"scale,omitempty"`
	TZAware       bool   `json:"tz_aware,omitempty"`
	UnknownSource bool   `json:"unknown_source_type,omitempty"`
	RawSourceType string `json:"raw_source_type,omitempty"`
	// Element holds the element kind for ARRAY types.
	Element Kind `json:"element,omitempty"`
}

// Column describes one column in source physical order.
type Column struct {
	Name       string   `json:"name"`
	Type       TypeInfo `json:"type"`
	Nullable   bool     `json:"nullable"`
	PrimaryKey bool     `json:"primary_key,omitempty"`
	// Default is the source-dialect default expression, captured verbatim
	// and never translated. A non-nil Default becomes a deferred manual
	// step in the limitations report.
	Default   *string `json:"default,omitempty"`
	Collation string  `json:"collation,omitempty"`
}

// ConstraintKind enumerates the constraint classes carried through IR.
type ConstraintKind string

const (
	ConstraintPK     ConstraintKind = "PK"
	ConstraintUnique ConstraintKind = "UNIQUE"
	ConstraintFK     ConstraintKind = "FK"
	ConstraintCheck  ConstraintKind = "CHECK"
)

// Constraint is a table-level constraint. Referenced tables are held by
// name, never by pointer, so IR ownership stays flat.
type Constraint struct {
	Kind       ConstraintKind `json:"kind"`
	Name       string         `json:"name,omitempty"`
	Columns    []string       `json:"columns,omitempty"`
	RefTable   string         `json:"ref_table,omitempty"`
	RefColumns []string       `json:"ref_columns,omitempty"`
	OnUpdate   string         `json:"on_update,omitempty"`
	OnDelete   string         `json:"on_delete,omitempty"`
	Definition string         `json:"definition,omitempty"`
}

// Index describes a secondary index.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// Table is the IR for one table. Columns keep the source's physical order.
type Table struct {
	Name           string       `json:"name"`
	Columns        []Column     `json:"columns"`
	Constraints    []Constraint `json:"constraints,omitempty"`
	Indexes        []Index      `json:"indexes,omitempty"`
	RowEstimate    int64        `json:"row_count_estimate,omitempty"`
	IdentityColumn string       `json:"identity_column,omitempty"`
}

// PrimaryKey returns the PK column names in declaration order, or nil.
func (t *Table) PrimaryKey() []string {
	for _, c := range t.Constraints {
		if c.Kind == ConstraintPK {
			return c.Columns
		}
	}
	var cols []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// ColumnNames returns the column names in physical order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// ForeignKeys returns the FK constraints in their sorted emission order.
func (t *Table) ForeignKeys() []Constraint {
	var fks []Constraint
	for _, c := range t.SortedConstraints() {
		if c.Kind == ConstraintFK {
			fks = append(fks, c)
		}
	}
	return fks
}

// SortedConstraints returns constraints in deterministic emission order:
// PK, then UNIQUE sorted by name, then FK sorted by (ref_table, columns),
// then CHECK sorted by name.
func (t *Table) SortedConstraints() []Constraint {
	var pk, unique, fk, check []Constraint
	for _, c := range t.Constraints {
		switch c.Kind {
		case ConstraintPK:
			pk = append(pk, c)
		case ConstraintUnique:
			unique = append(unique, c)
		case ConstraintFK:
			fk = append(fk, c)
		case ConstraintCheck:
			check = append(check, c)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].Name < unique[j].Name })
	sort.Slice(fk, func(i, j int) bool {
		if fk[i].RefTable != fk[j].RefTable {
			return fk[i].RefTable < fk[j].RefTable
		}
		return strings.Join(fk[i].Columns, ",") < strings.Join(fk[j].Columns, ",")
	})
	sort.Slice(check, func(i, j int) bool { return check[i].Name < check[j].Name })

	out := make([]Constraint, 0, len(t.Constraints))
	out = append(out, pk...)
	out = append(out, unique...)
	out = append(out, fk...)
	out = append(out, check...)
	return out
}

// SortedIndexes returns indexes ordered by name ascending.
func (t *Table) SortedIndexes() []Index {
	idx := make([]Index, len(t.Indexes))
	copy(idx, t.Indexes)
	sort.Slice(idx, func(i, j int) bool { return idx[i].Name < idx[j].Name })
	return idx
}

// ArgMode is the parameter passing mode of a routine argument.
type ArgMode string

const (
	ModeIn    ArgMode = "IN"
	ModeOut   ArgMode = "OUT"
	ModeInOut ArgMode = "INOUT"
)

// RoutineArg is one argument of a stored routine.
type RoutineArg struct {
	Name    string   `json:"name"`
	Type    TypeInfo `json:"type"`
	Mode    ArgMode  `json:"mode"`
	Default *string  `json:"default,omitempty"`
}

// Routine is the IR for a stored procedure or function. It is created by
// introspection; only the translator mutates RiskScore and Issues.
type Routine struct {
	Name         string       `json:"name"`
	Arguments    []RoutineArg `json:"arguments,omitempty"`
	ReturnType   *TypeInfo    `json:"return_type,omitempty"`
	Body         string       `json:"body_source"`
	Language     string       `json:"language"`
	Dependencies []string     `json:"dependencies,omitempty"`
	RiskScore    int          `json:"risk_score"`
	Issues       []string     `json:"issues,omitempty"`
}

// TriggerTiming is when a trigger fires relative to its event.
type TriggerTiming string

const (
	TimingBefore    TriggerTiming = "BEFORE"
	TimingAfter     TriggerTiming = "AFTER"
	TimingInsteadOf TriggerTiming = "INSTEAD_OF"
)

// TriggerEvent is the DML event a trigger reacts to.
type TriggerEvent string

const (
	EventInsert TriggerEvent = "INSERT"
	EventUpdate TriggerEvent = "UPDATE"
	EventDelete TriggerEvent = "DELETE"
)

// TriggerLevel distinguishes row-level from statement-level triggers.
type TriggerLevel string

const (
	LevelRow       TriggerLevel = "ROW"
	LevelStatement TriggerLevel = "STATEMENT"
)

// Trigger is the IR for a trigger. SupportedSubset is decided once, during
// introspection, by the fixed predicate in the routine package.
type Trigger struct {
	Name              string        `json:"name"`
	Table             string        `json:"table"`
	Timing            TriggerTiming `json:"timing"`
	Event             TriggerEvent  `json:"event"`
	Level             TriggerLevel  `json:"level"`
	Definition        string        `json:"definition_text"`
	Enabled           bool          `json:"is_enabled"`
	SupportedSubset   bool          `json:"supported_subset"`
	UnsupportedReason string        `json:"unsupported_reason,omitempty"`
}

// Schema is the full IR for one database. It exclusively owns all children;
// cross-object dependencies are stored as names and resolved at emission.
type Schema struct {
	Tables   map[string]*Table   `json:"tables"`
	Views    map[string]string   `json:"views,omitempty"`
	Routines map[string]*Routine `json:"routines,omitempty"`
	Triggers map[string]*Trigger `json:"triggers,omitempty"`
}

// NewSchema returns an empty schema with all maps allocated.
func NewSchema() *Schema {
	return &Schema{
		Tables:   make(map[string]*Table),
		Views:    make(map[string]string),
		Routines: make(map[string]*Routine),
		Triggers: make(map[string]*Trigger),
	}
}

// AddTable registers a table under its name.
func (s *Schema) AddTable(t *Table) { s.Tables[t.Name] = t }

// TableNames returns the table names sorted ascending.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
