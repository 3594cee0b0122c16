package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/fingerprint"
	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/typemap"
)

// Options configures a comparison run.
type Options struct {
	// Tables restricts the comparison; empty compares the intersection of
	// both sides.
	Tables []string
	// CheckConstraints toggles the L1 constraint parity section.
	CheckConstraints bool
	// Fingerprint carries sampling/exclusion/order settings.
	Fingerprint fingerprint.Config
	// BatchSize for extraction cursors.
	BatchSize int
}

// Compare extracts both sides table by table and builds the validation
// report. Comparison failures for individual tables become limitations,
// not errors; only context cancellation or a failure to list either
// side's tables aborts.
func Compare(ctx context.Context, source, target adapter.Adapter, runID string, opts Options) (*Report, error) {
	report := &Report{
		SchemaVersion:   ReportSchemaVersion,
		RunID:           runID,
		SourceConnector: source.Dialect(),
		TargetConnector: target.Dialect(),
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
		DataParity:      map[string]DataParity{},
	}

	tables := opts.Tables
	if len(tables) == 0 {
		sourceTables, err := source.ListTables(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list source tables: %w", err)
		}
		targetTables, err := target.ListTables(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list target tables: %w", err)
		}
		var sourceOnly, targetOnly []string
		tables, sourceOnly, targetOnly = intersect(sourceTables, targetTables)
		for _, t := range sourceOnly {
			report.Limitations.Add(Limitation{
				Category: CategoryBehaviorDifference, ObjectType: "table", ObjectName: t,
				Description: "Table exists only in source", Severity: SeverityWarning,
			})
		}
		for _, t := range targetOnly {
			report.Limitations.Add(Limitation{
				Category: CategoryBehaviorDifference, ObjectType: "table", ObjectName: t,
				Description: "Table exists only in target", Severity: SeverityWarning,
			})
		}
	}
	sort.Strings(tables)

	var sourceFPs, targetFPs []fingerprint.Table
	for _, name := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		srcFP, tgtFP, err := compareTable(ctx, source, target, name, opts, report)
		if err != nil {
			report.Limitations.Add(Limitation{
				Category: CategoryUnsupportedObject, ObjectType: "table", ObjectName: name,
				Description: fmt.Sprintf("Comparison failed: %v", err), Severity: SeverityError,
			})
			continue
		}
		sourceFPs = append(sourceFPs, srcFP)
		targetFPs = append(targetFPs, tgtFP)
	}

	report.SourceDataset = fingerprint.ComputeDataset(sourceFPs)
	report.TargetDataset = fingerprint.ComputeDataset(targetFPs)
	summarize(report)
	return report, nil
}

func compareTable(ctx context.Context, source, target adapter.Adapter, name string, opts Options, report *Report) (fingerprint.Table, fingerprint.Table, error) {
	srcSchema, err := source.TableSchema(ctx, name)
	if err != nil {
		return fingerprint.Table{}, fingerprint.Table{}, fmt.Errorf("source schema: %w", err)
	}
	tgtSchema, err := target.TableSchema(ctx, name)
	if err != nil {
		return fingerprint.Table{}, fingerprint.Table{}, fmt.Errorf("target schema: %w", err)
	}

	srcRows, err := collectRows(ctx, source, name, opts)
	if err != nil {
		return fingerprint.Table{}, fingerprint.Table{}, fmt.Errorf("source data: %w", err)
	}
	tgtRows, err := collectRows(ctx, target, name, opts)
	if err != nil {
		return fingerprint.Table{}, fingerprint.Table{}, fmt.Errorf("target data: %w", err)
	}

	srcFP := opts.Fingerprint.ComputeTable(name, srcRows, srcSchema.ColumnNames())
	tgtFP := opts.Fingerprint.ComputeTable(name, tgtRows, tgtSchema.ColumnNames())

	status := StatusMatch
	if srcFP.RowCount != tgtFP.RowCount || srcFP.Hash != tgtFP.Hash {
		status = StatusMismatch
	}
	report.DataParity[name] = DataParity{
		SourceRows:        srcFP.RowCount,
		TargetRows:        tgtFP.RowCount,
		SourceFingerprint: srcFP.Hash,
		TargetFingerprint: tgtFP.Hash,
		Status:            status,
	}

	report.TypeParity = append(report.TypeParity, typeParity(source.Dialect(), target.Dialect(), srcSchema, tgtSchema, report))

	if opts.CheckConstraints {
		report.ConstraintParity = append(report.ConstraintParity, constraintParity(name, srcSchema, tgtSchema))
	}
	return srcFP, tgtFP, nil
}

func collectRows(ctx context.Context, a adapter.Adapter, table string, opts Options) ([]map[string]any, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	it, err := a.ExtractData(ctx, table, batchSize, opts.Fingerprint.OrderBy)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var rows []map[string]any
	for {
		batch, err := it.Next(ctx)
		if err == adapter.ErrNoMoreRows {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		for _, r := range batch {
			rows = append(rows, map[string]any(r))
		}
	}
}

func typeParity(srcDialect, tgtDialect string, src, tgt *ir.Table, report *Report) TableTypeParity {
	tp := TableTypeParity{TableName: src.Name}
	for _, col := range src.Columns {
		m := TypeMapping{
			Column:     col.Name,
			SourceType: col.Type.RawSourceType,
			IRType:     string(col.Type.Kind),
		}
		if tgtCol := tgt.Column(col.Name); tgtCol != nil {
			m.TargetType = tgtCol.Type.RawSourceType
			m.IsLossy, m.LossyReason = typemap.LossyConversion(srcDialect, col.Type.RawSourceType, tgtDialect)
		} else {
			m.TargetType = "MISSING"
			m.IsLossy = true
			m.LossyReason = "Column missing in target"
			report.Limitations.Add(Limitation{
				Category:    CategoryLossyMapping,
				ObjectType:  "column",
				ObjectName:  src.Name + "." + col.Name,
				Description: "Column missing in target",
				Severity:    SeverityError,
			})
		}
		if m.IsLossy {
			tp.LossyCount++
		}
		tp.Mappings = append(tp.Mappings, m)
	}
	return tp
}

func constraintParity(name string, src, tgt *ir.Table) ConstraintParity {
	cp := ConstraintParity{TableName: name}

	cp.PrimaryKey = comparePair(src.PrimaryKey(), tgt.PrimaryKey())

	cp.Unique = comparePair(uniqueSignatures(src), uniqueSignatures(tgt))
	cp.ForeignKey = comparePair(fkSignatures(src), fkSignatures(tgt))
	cp.Indexes = comparePair(indexNames(src), indexNames(tgt))

	switch {
	case src.IdentityColumn == "" && tgt.IdentityColumn == "":
		cp.Identity = ParityPair{Status: StatusNotApplicable}
	case src.IdentityColumn == tgt.IdentityColumn:
		cp.Identity = ParityPair{Source: []string{src.IdentityColumn}, Target: []string{tgt.IdentityColumn}, Status: StatusMatch}
	default:
		cp.Identity = ParityPair{Source: maybe(src.IdentityColumn), Target: maybe(tgt.IdentityColumn), Status: StatusMismatch}
	}
	return cp
}

func maybe(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func uniqueSignatures(t *ir.Table) []string {
	var sigs []string
	for _, c := range t.Constraints {
		if c.Kind == ir.ConstraintUnique {
			cols := append([]string(nil), c.Columns...)
			sort.Strings(cols)
			sigs = append(sigs, fmt.Sprintf("%v", cols))
		}
	}
	// Unique indexes express the same constraint on dialects that report
	// them through the index catalog.
	for _, idx := range t.Indexes {
		if idx.Unique {
			cols := append([]string(nil), idx.Columns...)
			sort.Strings(cols)
			sigs = append(sigs, fmt.Sprintf("%v", cols))
		}
	}
	sort.Strings(sigs)
	return dedupe(sigs)
}

// fkSignatures canonicalizes FKs as sorted JSON so naming differences do
// not register as drift.
func fkSignatures(t *ir.Table) []string {
	var sigs []string
	for _, c := range t.Constraints {
		if c.Kind != ir.ConstraintFK {
			continue
		}
		b, _ := json.Marshal(map[string]any{
			"columns":     c.Columns,
			"ref_table":   c.RefTable,
			"ref_columns": c.RefColumns,
		})
		sigs = append(sigs, string(b))
	}
	sort.Strings(sigs)
	return sigs
}

func indexNames(t *ir.Table) []string {
	var names []string
	for _, idx := range t.Indexes {
		names = append(names, idx.Name)
	}
	sort.Strings(names)
	return names
}

func dedupe(in []string) []string {
	var out []string
	for i, s := range in {
		if i == 0 || in[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}

func comparePair(src, tgt []string) ParityPair {
	pair := ParityPair{Source: src, Target: tgt}
	switch {
	case len(src) == 0 && len(tgt) == 0:
		pair.Status = StatusNotApplicable
	case sameSet(src, tgt):
		pair.Status = StatusMatch
	case len(src) > 0 && len(tgt) == 0:
		pair.Status = StatusSourceOnly
	case len(tgt) > 0 && len(src) == 0:
		pair.Status = StatusTargetOnly
	default:
		pair.Status = StatusMismatch
	}
	return pair
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func intersect(a, b []string) (common, aOnly, bOnly []string) {
	inA := map[string]bool{}
	for _, s := range a {
		inA[s] = true
	}
	inB := map[string]bool{}
	for _, s := range b {
		inB[s] = true
	}
	for _, s := range a {
		if inB[s] {
			common = append(common, s)
		} else {
			aOnly = append(aOnly, s)
		}
	}
	for _, s := range b {
		if !inA[s] {
			bOnly = append(bOnly, s)
		}
	}
	sort.Strings(common)
	sort.Strings(aOnly)
	sort.Strings(bOnly)
	return common, aOnly, bOnly
}

// summarize derives the headline counts from the collected sections. Any
// of mismatch, source_only, or target_only on a constraint class counts
// as drift.
func summarize(r *Report) {
	s := Summary{TablesChecked: len(r.DataParity)}
	for _, p := range r.DataParity {
		if p.Status == StatusMatch {
			s.TablesMatched++
		}
		s.TotalSourceRows += p.SourceRows
		s.TotalTargetRows += p.TargetRows
	}
	for _, tp := range r.TypeParity {
		s.LossyMappingsCount += tp.LossyCount
	}
	drifted := func(status ParityStatus) bool {
		return status == StatusMismatch || status == StatusSourceOnly || status == StatusTargetOnly
	}
	for _, cp := range r.ConstraintParity {
		for _, pair := range []ParityPair{cp.PrimaryKey, cp.Unique, cp.ForeignKey, cp.Indexes, cp.Identity} {
			if drifted(pair.Status) {
				s.ConstraintMismatches++
			}
		}
	}
	r.Summary = s

	// Keep type/constraint sections in stable table order.
	sort.Slice(r.TypeParity, func(i, j int) bool { return r.TypeParity[i].TableName < r.TypeParity[j].TableName })
	sort.Slice(r.ConstraintParity, func(i, j int) bool { return r.ConstraintParity[i].TableName < r.ConstraintParity[j].TableName })
}
