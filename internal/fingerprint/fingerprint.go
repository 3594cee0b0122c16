// Package fingerprint computes deterministic content hashes used as
// parity proof between source and target. The canonical serialization and
// sort rules are part of the report contract: the same logical data must
// hash identically regardless of adapter, process, or wall clock.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// DefaultNullRepr is the canonical serialization of NULL.
const DefaultNullRepr = "__NULL__"

// Config controls fingerprint computation. The zero value hashes every
// row over every column with the default NULL representation.
type Config struct {
	// SampleSize bounds how many rows are hashed. Sampling happens only
	// after sorting; slicing an unordered row set would be
	// nondeterministic and is not expressible here by construction.
	SampleSize int
	// ExcludedColumns are skipped during serialization and sorting.
	ExcludedColumns []string
	// OrderBy overrides the sort columns; empty means all non-excluded
	// columns.
	OrderBy []string
	// NullRepr overrides DefaultNullRepr.
	NullRepr string
}

func (c Config) nullRepr() string {
	if c.NullRepr == "" {
		return DefaultNullRepr
	}
	return c.NullRepr
}

func (c Config) excluded(col string) bool {
	for _, e := range c.ExcludedColumns {
		if e == col {
			return true
		}
	}
	return false
}

// Table is a per-table fingerprint.
type Table struct {
	TableName   string         `json:"table_name"`
	RowCount    int64          `json:"row_count"`
	ColumnCount int            `json:"column_count"`
	NullCounts  map[string]int `json:"null_counts"`
	Hash        string         `json:"fingerprint"`
}

// Dataset aggregates table fingerprints into one combined hash.
type Dataset struct {
	Tables      []Table `json:"tables"`
	TotalRows   int64   `json:"total_rows"`
	TotalTables int     `json:"total_tables"`
	Combined    string  `json:"combined_fingerprint"`
	GeneratedAt string  `json:"generated_at"`
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// serializeValue renders one value deterministically: NULL as the
// configured literal, bytes as lowercase hex, composite values as
// canonical JSON with sorted keys, everything else via fmt.
func serializeValue(v any, nullRepr string) string {
	switch val := v.(type) {
	case nil:
		return nullRepr
	case []byte:
		return hex.EncodeToString(val)
	case map[string]any, []any:
		b, err := json.Marshal(canonicalize(val))
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	case float64:
		// Integral floats print without exponent or trailing zeros so the
		// same number hashes identically across drivers.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// canonicalize rewrites nested composites so json.Marshal emits sorted
// keys (maps already sort in encoding/json; this normalizes map key
// types and recurses through slices).
func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = canonicalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	default:
		return v
	}
}

// serializeRow packs the row as {col: serialized} JSON with keys sorted
// ascending, restricted to the declared columns minus exclusions.
func (c Config) serializeRow(row map[string]any, columns []string) string {
	kept := make([]string, 0, len(columns))
	for _, col := range columns {
		if !c.excluded(col) {
			kept = append(kept, col)
		}
	}
	sort.Strings(kept)

	var b strings.Builder
	b.WriteByte('{')
	for i, col := range kept {
		if i > 0 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(col)
		val, _ := json.Marshal(serializeValue(row[col], c.nullRepr()))
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return b.String()
}

// sortKey builds the (isNull, stringForm) tuple ordering for one row.
type sortKey []struct {
	isNull bool
	str    string
}

func (c Config) rowSortKey(row map[string]any, sortCols []string) sortKey {
	key := make(sortKey, len(sortCols))
	for i, col := range sortCols {
		v := row[col]
		key[i].isNull = v == nil
		if v != nil {
			key[i].str = serializeValue(v, c.nullRepr())
		}
	}
	return key
}

func (a sortKey) less(b sortKey) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		// nulls first
		if a[i].isNull != b[i].isNull {
			return a[i].isNull
		}
		if a[i].str != b[i].str {
			return a[i].str < b[i].str
		}
	}
	return false
}

// ComputeTable fingerprints one table's rows. columns must be the
// declared column order; rows may arrive in any order (they are sorted
// here before any sampling).
func (c Config) ComputeTable(tableName string, rows []map[string]any, columns []string) Table {
	keptCount := 0
	for _, col := range columns {
		if !c.excluded(col) {
			keptCount++
		}
	}

	if len(rows) == 0 {
		return Table{
			TableName:   tableName,
			RowCount:    0,
			ColumnCount: keptCount,
			NullCounts:  map[string]int{},
			Hash:        hashString(""),
		}
	}

	sortCols := c.OrderBy
	if len(sortCols) == 0 {
		for _, col := range columns {
			if !c.excluded(col) {
				sortCols = append(sortCols, col)
			}
		}
	}

	// Sort through an index permutation over precomputed keys so the key
	// cache stays aligned with its rows.
	keys := make([]sortKey, len(rows))
	for i, row := range rows {
		keys[i] = c.rowSortKey(row, sortCols)
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]].less(keys[idx[b]]) })
	ordered := make([]map[string]any, len(rows))
	for i, j := range idx {
		ordered[i] = rows[j]
	}

	// Sampling slices only the already-sorted rows.
	sample := ordered
	if c.SampleSize > 0 && len(ordered) > c.SampleSize {
		sample = ordered[:c.SampleSize]
	}

	nullCounts := make(map[string]int)
	for _, col := range columns {
		if !c.excluded(col) {
			nullCounts[col] = 0
		}
	}
	for _, row := range sample {
		for col := range nullCounts {
			if row[col] == nil {
				nullCounts[col]++
			}
		}
	}

	var combined strings.Builder
	for _, row := range sample {
		combined.WriteString(hashString(c.serializeRow(row, columns)))
	}

	return Table{
		TableName:   tableName,
		RowCount:    int64(len(rows)),
		ColumnCount: keptCount,
		NullCounts:  nullCounts,
		Hash:        hashString(combined.String()),
	}
}

// ComputeDataset combines table fingerprints:
// H(join(sorted_by_name, "name:hash", "|")).
func ComputeDataset(tables []Table) Dataset {
	sorted := make([]Table, len(tables))
	copy(sorted, tables)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TableName < sorted[j].TableName })

	parts := make([]string, len(sorted))
	var totalRows int64
	for i, t := range sorted {
		parts[i] = t.TableName + ":" + t.Hash
		totalRows += t.RowCount
	}

	return Dataset{
		Tables:      sorted,
		TotalRows:   totalRows,
		TotalTables: len(sorted),
		Combined:    hashString(strings.Join(parts, "|")),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// FileChecksum streams a file through SHA-256 for the bundle manifest.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
