// Package validation compares source and target through their adapters
// and produces the versioned parity reports. Report structure is part of
// the contract: any change to the serialized shape requires a schema
// version bump.
package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/untoldecay/dbport/internal/fingerprint"
)

// Schema versions. Structural changes to the serialized reports require
// a bump.
const (
	BundleSchemaVersion      = "1.0.0"
	ReportSchemaVersion      = "1.0.0"
	LimitationsSchemaVersion = "1.0.0"
)

// ParityStatus is the outcome of one parity check.
type ParityStatus string

const (
	StatusMatch         ParityStatus = "match"
	StatusMismatch      ParityStatus = "mismatch"
	StatusSourceOnly    ParityStatus = "source_only"
	StatusTargetOnly    ParityStatus = "target_only"
	StatusNotApplicable ParityStatus = "not_applicable"
	StatusNotChecked    ParityStatus = "not_checked"
)

// DataParity is the per-table row-count and fingerprint comparison.
type DataParity struct {
	SourceRows        int64        `json:"source_rows"`
	TargetRows        int64        `json:"target_rows"`
	SourceFingerprint string       `json:"source_fingerprint,omitempty"`
	TargetFingerprint string       `json:"target_fingerprint,omitempty"`
	Status            ParityStatus `json:"status"`
}

// TypeMapping is one column's source -> IR -> target mapping.
type TypeMapping struct {
	Column      string `json:"column_name"`
	SourceType  string `json:"source_type"`
	IRType      string `json:"ir_type"`
	TargetType  string `json:"target_type"`
	IsLossy     bool   `json:"is_lossy"`
	LossyReason string `json:"lossy_reason,omitempty"`
}

// TableTypeParity groups type mappings for one table.
type TableTypeParity struct {
	TableName  string        `json:"table_name"`
	Mappings   []TypeMapping `json:"mappings"`
	LossyCount int           `json:"lossy_count"`
}

// ParityPair is one constraint class compared across sides.
type ParityPair struct {
	Source []string     `json:"source"`
	Target []string     `json:"target"`
	Status ParityStatus `json:"status"`
}

// ConstraintParity is the L1 constraint comparison for one table.
type ConstraintParity struct {
	TableName  string     `json:"table_name"`
	PrimaryKey ParityPair `json:"primary_key"`
	Unique     ParityPair `json:"unique_constraints"`
	ForeignKey ParityPair `json:"foreign_keys"`
	Indexes    ParityPair `json:"indexes"`
	Identity   ParityPair `json:"identity"`
}

// Severity grades a limitation entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Category buckets limitations into the four report sections.
type Category string

const (
	CategoryUnsupportedObject  Category = "unsupported_object"
	CategoryLossyMapping       Category = "lossy_mapping"
	CategoryBehaviorDifference Category = "behavior_difference"
	CategoryManualStep         Category = "manual_step"
)

// Limitation is one documented limitation of the migration.
type Limitation struct {
	Category    Category `json:"category"`
	ObjectType  string   `json:"object_type"`
	ObjectName  string   `json:"object_name"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Limitations groups limitation entries by category. Within a category,
// entries sort by (object_type, object_name).
type Limitations struct {
	UnsupportedObjects  []Limitation `json:"unsupported_objects"`
	LossyMappings       []Limitation `json:"lossy_mappings"`
	BehaviorDifferences []Limitation `json:"behavior_differences"`
	ManualSteps         []Limitation `json:"manual_steps"`
}

// Add routes a limitation to its category bucket. Unknown categories
// land under behavior differences rather than being dropped.
func (l *Limitations) Add(lim Limitation) {
	switch lim.Category {
	case CategoryUnsupportedObject:
		l.UnsupportedObjects = append(l.UnsupportedObjects, lim)
	case CategoryLossyMapping:
		l.LossyMappings = append(l.LossyMappings, lim)
	case CategoryManualStep:
		l.ManualSteps = append(l.ManualSteps, lim)
	default:
		l.BehaviorDifferences = append(l.BehaviorDifferences, lim)
	}
}

// Empty reports whether no limitation was recorded.
func (l *Limitations) Empty() bool {
	return len(l.UnsupportedObjects) == 0 && len(l.LossyMappings) == 0 &&
		len(l.BehaviorDifferences) == 0 && len(l.ManualSteps) == 0
}

func sortLimitations(in []Limitation) []Limitation {
	out := make([]Limitation, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ObjectType != out[j].ObjectType {
			return out[i].ObjectType < out[j].ObjectType
		}
		return out[i].ObjectName < out[j].ObjectName
	})
	return out
}

// Sorted returns a copy with every category in deterministic order.
func (l *Limitations) Sorted() Limitations {
	return Limitations{
		UnsupportedObjects:  sortLimitations(l.UnsupportedObjects),
		LossyMappings:       sortLimitations(l.LossyMappings),
		BehaviorDifferences: sortLimitations(l.BehaviorDifferences),
		ManualSteps:         sortLimitations(l.ManualSteps),
	}
}

// MarshalJSON emits the sorted form with the schema version.
func (l Limitations) MarshalJSON() ([]byte, error) {
	s := l.Sorted()
	return json.Marshal(struct {
		SchemaVersion       string       `json:"schema_version"`
		UnsupportedObjects  []Limitation `json:"unsupported_objects"`
		LossyMappings       []Limitation `json:"lossy_mappings"`
		BehaviorDifferences []Limitation `json:"behavior_differences"`
		ManualSteps         []Limitation `json:"manual_steps"`
	}{
		SchemaVersion:       LimitationsSchemaVersion,
		UnsupportedObjects:  emptyNotNil(s.UnsupportedObjects),
		LossyMappings:       emptyNotNil(s.LossyMappings),
		BehaviorDifferences: emptyNotNil(s.BehaviorDifferences),
		ManualSteps:         emptyNotNil(s.ManualSteps),
	})
}

func emptyNotNil(in []Limitation) []Limitation {
	if in == nil {
		return []Limitation{}
	}
	return in
}

// Text renders the human-readable limitations report.
func (l *Limitations) Text() string {
	s := l.Sorted()
	var b strings.Builder
	line := strings.Repeat("=", 60)
	b.WriteString(line + "\n")
	b.WriteString("LIMITATIONS REPORT\n")
	fmt.Fprintf(&b, "Schema Version: %s\n", LimitationsSchemaVersion)
	b.WriteString(line + "\n\n")

	section := func(title string, items []Limitation) {
		if len(items) == 0 {
			return
		}
		b.WriteString("## " + title + "\n")
		b.WriteString(strings.Repeat("-", 40) + "\n")
		for _, lim := range items {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", strings.ToUpper(string(lim.Severity)), lim.ObjectType, lim.ObjectName)
			fmt.Fprintf(&b, "    %s\n", lim.Description)
		}
		b.WriteString("\n")
	}
	section("UNSUPPORTED OBJECTS", s.UnsupportedObjects)
	section("LOSSY MAPPINGS", s.LossyMappings)
	section("BEHAVIOR DIFFERENCES", s.BehaviorDifferences)

	if len(s.ManualSteps) > 0 {
		b.WriteString("## REQUIRED MANUAL STEPS\n")
		b.WriteString(strings.Repeat("-", 40) + "\n")
		for _, lim := range s.ManualSteps {
			fmt.Fprintf(&b, "  [ ] %s: %s\n", lim.ObjectType, lim.ObjectName)
			fmt.Fprintf(&b, "      %s\n", lim.Description)
		}
		b.WriteString("\n")
	}

	if l.Empty() {
		b.WriteString("No limitations detected.\n")
	}
	return b.String()
}

// Summary aggregates the headline counts.
type Summary struct {
	TablesChecked        int   `json:"tables_checked"`
	TablesMatched        int   `json:"tables_matched"`
	TotalSourceRows      int64 `json:"total_source_rows"`
	TotalTargetRows      int64 `json:"total_target_rows"`
	LossyMappingsCount   int   `json:"lossy_mappings_count"`
	ConstraintMismatches int   `json:"constraint_mismatches"`
}

// Report is the complete validation report.
type Report struct {
	SchemaVersion    string                `json:"schema_version"`
	RunID            string                `json:"run_id"`
	SourceConnector  string                `json:"source_connector"`
	TargetConnector  string                `json:"target_connector"`
	GeneratedAt      string                `json:"generated_at"`
	Summary          Summary               `json:"summary"`
	DataParity       map[string]DataParity `json:"data_parity"`
	TypeParity       []TableTypeParity     `json:"type_parity"`
	ConstraintParity []ConstraintParity    `json:"constraint_parity"`
	Limitations      Limitations           `json:"limitations"`

	// Dataset fingerprints of both sides, for the manifest.
	SourceDataset fingerprint.Dataset `json:"-"`
	TargetDataset fingerprint.Dataset `json:"-"`
}

// Passed reports whether every checked table matched and no constraint
// drifted; a false result maps to exit code 2.
func (r *Report) Passed() bool {
	return r.Summary.TablesChecked == r.Summary.TablesMatched &&
		r.Summary.ConstraintMismatches == 0
}

// Text renders the human-readable validation report with stable ordering
// throughout.
func (r *Report) Text() string {
	var b strings.Builder
	line := strings.Repeat("=", 70)

	b.WriteString(line + "\n")
	b.WriteString("VALIDATION REPORT\n")
	fmt.Fprintf(&b, "Schema Version: %s\n", r.SchemaVersion)
	b.WriteString(line + "\n\n")
	fmt.Fprintf(&b, "Run ID: %s\n", r.RunID)
	fmt.Fprintf(&b, "Source: %s\n", r.SourceConnector)
	fmt.Fprintf(&b, "Target: %s\n", r.TargetConnector)
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt)

	b.WriteString(line + "\nSUMMARY\n" + line + "\n")
	fmt.Fprintf(&b, "  Tables Checked: %d\n", r.Summary.TablesChecked)
	fmt.Fprintf(&b, "  Tables Matched: %d\n", r.Summary.TablesMatched)
	fmt.Fprintf(&b, "  Source Rows: %d\n", r.Summary.TotalSourceRows)
	fmt.Fprintf(&b, "  Target Rows: %d\n", r.Summary.TotalTargetRows)
	fmt.Fprintf(&b, "  Lossy Mappings: %d\n", r.Summary.LossyMappingsCount)
	fmt.Fprintf(&b, "  Constraint Mismatches: %d\n\n", r.Summary.ConstraintMismatches)

	b.WriteString(line + "\nDATA PARITY\n" + line + "\n")
	tables := make([]string, 0, len(r.DataParity))
	for t := range r.DataParity {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		p := r.DataParity[t]
		mark := "x"
		if p.Status == StatusMatch {
			mark = "ok"
		}
		fmt.Fprintf(&b, "  [%s] %s: %d -> %d [%s]\n", mark, t, p.SourceRows, p.TargetRows, p.Status)
	}

	b.WriteString("\n" + line + "\nTYPE PARITY\n" + line + "\n")
	for _, tp := range r.TypeParity {
		fmt.Fprintf(&b, "\n  Table: %s\n", tp.TableName)
		fmt.Fprintf(&b, "  Lossy mappings: %d\n", tp.LossyCount)
		for _, m := range tp.Mappings {
			if !m.IsLossy {
				continue
			}
			fmt.Fprintf(&b, "    ! %s: %s -> %s -> %s\n", m.Column, m.SourceType, m.IRType, m.TargetType)
			if m.LossyReason != "" {
				fmt.Fprintf(&b, "      Reason: %s\n", m.LossyReason)
			}
		}
	}

	if len(r.ConstraintParity) > 0 {
		b.WriteString("\n" + line + "\nCONSTRAINT PARITY (L1)\n" + line + "\n")
		for _, cp := range r.ConstraintParity {
			fmt.Fprintf(&b, "\n  Table: %s\n", cp.TableName)
			fmt.Fprintf(&b, "    PK: %s\n", cp.PrimaryKey.Status)
			fmt.Fprintf(&b, "    Unique: %s\n", cp.Unique.Status)
			fmt.Fprintf(&b, "    FK: %s\n", cp.ForeignKey.Status)
			fmt.Fprintf(&b, "    Indexes: %s\n", cp.Indexes.Status)
			fmt.Fprintf(&b, "    Identity: %s\n", cp.Identity.Status)
		}
	}

	b.WriteString("\n" + line + "\nLIMITATIONS\n" + line + "\n")
	b.WriteString(r.Limitations.Text())
	return b.String()
}
