package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/untoldecay/dbport/internal/ir"
)

// sqlIterator adapts *sql.Rows into the batched RowIterator contract.
// Values are normalized against the table IR so every driver yields the
// same Go representation for the same logical value; without this,
// fingerprints would differ between drivers that scan TEXT as []byte and
// drivers that scan it as string.
type sqlIterator struct {
	rows      *sql.Rows
	table     *ir.Table
	columns   []string
	batchSize int
	done      bool
}

// NewSQLIterator wraps an open result set. The caller keeps ownership of
// the table IR; the iterator only reads it.
func NewSQLIterator(rows *sql.Rows, table *ir.Table, batchSize int) (RowIterator, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &sqlIterator{rows: rows, table: table, columns: cols, batchSize: batchSize}, nil
}

func (it *sqlIterator) Next(ctx context.Context) ([]Row, error) {
	if it.done {
		return nil, ErrNoMoreRows
	}
	batch := make([]Row, 0, it.batchSize)
	for len(batch) < it.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !it.rows.Next() {
			it.done = true
			if err := it.rows.Err(); err != nil {
				return nil, fmt.Errorf("cursor failed: %w", err)
			}
			break
		}
		values := make([]any, len(it.columns))
		ptrs := make([]any, len(it.columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := it.rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("row scan failed: %w", err)
		}
		row := make(Row, len(it.columns))
		for i, name := range it.columns {
			var ti ir.TypeInfo
			if col := it.table.Column(name); col != nil {
				ti = col.Type
			}
			row[name] = NormalizeValue(ti, values[i])
		}
		batch = append(batch, row)
	}
	if len(batch) == 0 {
		return nil, ErrNoMoreRows
	}
	return batch, nil
}

func (it *sqlIterator) Close() error {
	it.done = true
	return it.rows.Close()
}

// NormalizeValue folds driver-specific scan types into one canonical Go
// representation per IR kind, so identical logical data fingerprints
// identically regardless of which driver produced it.
func NormalizeValue(ti ir.TypeInfo, v any) any {
	if v == nil {
		return nil
	}
	switch ti.Kind {
	case ir.KindBytes:
		if b, ok := v.([]byte); ok {
			return b
		}
		if s, ok := v.(string); ok {
			return []byte(s)
		}
	case ir.KindInt8, ir.KindInt16, ir.KindInt32, ir.KindInt64,
		ir.KindUint8, ir.KindUint16, ir.KindUint32, ir.KindUint64:
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		case int32:
			return int64(n)
		case uint64:
			return int64(n)
		case []byte:
			if parsed, err := strconv.ParseInt(string(n), 10, 64); err == nil {
				return parsed
			}
		case string:
			if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
				return parsed
			}
		}
	case ir.KindReal32, ir.KindReal64, ir.KindDecimal:
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int64:
			return float64(n)
		case []byte:
			if parsed, err := strconv.ParseFloat(string(n), 64); err == nil {
				return parsed
			}
		case string:
			if parsed, err := strconv.ParseFloat(n, 64); err == nil {
				return parsed
			}
		}
	case ir.KindBool:
		switch b := v.(type) {
		case bool:
			return b
		case int64:
			return b != 0
		case []byte:
			return string(b) == "1" || string(b) == "true"
		}
	case ir.KindTimestamp, ir.KindTimestampTZ, ir.KindDate, ir.KindTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	default:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	}
	return v
}
