// Package typemap is the type registry: the single place that knows how
// dialect-specific raw types map onto the neutral IR and back. Everything
// in this package is a pure function over (dialect, raw type) strings.
// Unknown types never error; they resolve to TEXT with the unknown flag
// set so preflight can record a limitation.
package typemap

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/untoldecay/dbport/internal/ir"
)

// Dialect names the registry resolves. Aliases (postgresql, mariadb) are
// folded by Normalize before lookup.
var dialects = []string{
	"sqlite", "postgres", "mysql", "oracle", "mssql", "duckdb", "hana", "file",
}

var aliases = map[string]string{
	"postgresql": "postgres",
	"mariadb":    "mysql",
	"sqlite3":    "sqlite",
	"sqlserver":  "mssql",
}

// Normalize folds dialect aliases to their canonical name.
func Normalize(dialect string) string {
	d := strings.ToLower(strings.TrimSpace(dialect))
	if canon, ok := aliases[d]; ok {
		return canon
	}
	return d
}

// Known reports whether the registry has mapping tables for the dialect.
func Known(dialect string) bool {
	d := Normalize(dialect)
	for _, known := range dialects {
		if d == known {
			return true
		}
	}
	return false
}

// Dialects returns the canonical dialect names, sorted.
func Dialects() []string {
	out := make([]string, len(dialects))
	copy(out, dialects)
	sort.Strings(out)
	return out
}

// typeSpec captures the parsed shape of a raw type declaration:
// BASE, BASE(n), or BASE(p,s).
type typeSpec struct {
	base      string
	length    int
	precision int
	scale     int
	hasParens bool
	hasScale  bool
}

var typePattern = regexp.MustCompile(`^([A-Z0-9_ ]+?)\s*(?:\(\s*(\d+|MAX)\s*(?:,\s*(\d+)\s*)?\))?$`)

func parseRawType(raw string) typeSpec {
	t := strings.ToUpper(strings.TrimSpace(raw))
	m := typePattern.FindStringSubmatch(t)
	if m == nil {
		return typeSpec{base: t}
	}
	spec := typeSpec{base: strings.TrimSpace(m[1])}
	if m[2] != "" {
		spec.hasParens = true
		if m[2] == "MAX" {
			spec.length = -1
			spec.precision = -1
		} else {
			n, _ := strconv.Atoi(m[2])
			spec.length = n
			spec.precision = n
		}
	}
	if m[3] != "" {
		spec.hasScale = true
		spec.scale, _ = strconv.Atoi(m[3])
	}
	return spec
}

// ToIR resolves a raw source type to its neutral descriptor. The raw
// spelling is preserved for audit output.
func ToIR(dialect, rawType string) ir.TypeInfo {
	d := Normalize(dialect)
	spec := parseRawType(rawType)

	ti := resolveBase(d, spec)
	ti.RawSourceType = rawType
	return ti
}

func resolveBase(dialect string, spec typeSpec) ir.TypeInfo {
	base := spec.base

	// Timezone-aware timestamps carry multi-word names on several dialects.
	switch base {
	case "TIMESTAMP WITH TIME ZONE", "TIMESTAMPTZ", "DATETIMEOFFSET":
		return ir.TypeInfo{Kind: ir.KindTimestampTZ, TZAware: true, Precision: spec.precision}
	case "TIMESTAMP WITH LOCAL TIME ZONE":
		return ir.TypeInfo{Kind: ir.KindTimestampTZ, TZAware: true, Precision: spec.precision}
	case "TIMESTAMP WITHOUT TIME ZONE":
		return ir.TypeInfo{Kind: ir.KindTimestamp, Precision: spec.precision}
	case "TIME WITH TIME ZONE", "TIMETZ":
		return ir.TypeInfo{Kind: ir.KindTime, TZAware: true}
	case "DOUBLE PRECISION", "BINARY_DOUBLE":
		return ir.TypeInfo{Kind: ir.KindReal64}
	case "BINARY_FLOAT":
		return ir.TypeInfo{Kind: ir.KindReal32}
	case "LONG RAW":
		return ir.TypeInfo{Kind: ir.KindBytes}
	}

	if table, ok := sourceTables[dialect]; ok {
		if kind, ok := table[base]; ok {
			return applySpec(kind, dialect, spec)
		}
	}
	if kind, ok := commonTypes[base]; ok {
		return applySpec(kind, dialect, spec)
	}

	// Unknown source type: TEXT, flagged, never dropped.
	return ir.TypeInfo{Kind: ir.KindText, UnknownSource: true}
}

func applySpec(kind ir.Kind, dialect string, spec typeSpec) ir.TypeInfo {
	ti := ir.TypeInfo{Kind: kind}
	switch kind {
	case ir.KindDecimal:
		ti.Precision = spec.precision
		ti.Scale = spec.scale
		// Oracle NUMBER without precision and without scale is an
		// arbitrary-precision decimal; NUMBER(p) is an integer-ish decimal.
		if dialect == "oracle" && !spec.hasParens {
			ti.Precision = 38
		}
	case ir.KindText, ir.KindBytes:
		if spec.hasParens {
			ti.Length = spec.length
		}
	case ir.KindTimestamp, ir.KindTimestampTZ, ir.KindTime:
		ti.Precision = spec.precision
		ti.TZAware = kind == ir.KindTimestampTZ
	}
	return ti
}

// commonTypes covers spellings shared across most dialects.
var commonTypes = map[string]ir.Kind{
	"TINYINT":   ir.KindInt8,
	"SMALLINT":  ir.KindInt16,
	"INT":       ir.KindInt32,
	"INTEGER":   ir.KindInt32,
	"BIGINT":    ir.KindInt64,
	"REAL":      ir.KindReal32,
	"FLOAT":     ir.KindReal64,
	"DOUBLE":    ir.KindReal64,
	"DECIMAL":   ir.KindDecimal,
	"NUMERIC":   ir.KindDecimal,
	"BOOLEAN":   ir.KindBool,
	"BOOL":      ir.KindBool,
	"CHAR":      ir.KindText,
	"NCHAR":     ir.KindText,
	"VARCHAR":   ir.KindText,
	"NVARCHAR":  ir.KindText,
	"TEXT":      ir.KindText,
	"CLOB":      ir.KindText,
	"NCLOB":     ir.KindText,
	"BLOB":      ir.KindBytes,
	"BINARY":    ir.KindBytes,
	"VARBINARY": ir.KindBytes,
	"BYTEA":     ir.KindBytes,
	"DATE":      ir.KindDate,
	"TIME":      ir.KindTime,
	"TIMESTAMP": ir.KindTimestamp,
	"DATETIME":  ir.KindTimestamp,
	"INTERVAL":  ir.KindInterval,
	"UUID":      ir.KindUUID,
	"JSON":      ir.KindJSON,
	"JSONB":     ir.KindJSON,
	"XML":       ir.KindXML,
	"XMLTYPE":   ir.KindXML,
	"GEOGRAPHY": ir.KindGeography,
	"GEOMETRY":  ir.KindGeography,
}

// sourceTables holds dialect-specific spellings that either do not exist
// elsewhere or mean something different there.
var sourceTables = map[string]map[string]ir.Kind{
	"postgres": {
		"SERIAL":            ir.KindInt32,
		"BIGSERIAL":         ir.KindInt64,
		"SMALLSERIAL":       ir.KindInt16,
		"MONEY":             ir.KindDecimal,
		"CHARACTER VARYING": ir.KindText,
		"CHARACTER":         ir.KindText,
		"INET":              ir.KindText,
		"CIDR":              ir.KindText,
		"ARRAY":             ir.KindArray,
	},
	"mysql": {
		"MEDIUMINT":  ir.KindInt32,
		"TINYTEXT":   ir.KindText,
		"MEDIUMTEXT": ir.KindText,
		"LONGTEXT":   ir.KindText,
		"TINYBLOB":   ir.KindBytes,
		"MEDIUMBLOB": ir.KindBytes,
		"LONGBLOB":   ir.KindBytes,
		"YEAR":       ir.KindInt16,
		"ENUM":       ir.KindText,
		"SET":        ir.KindText,
		"BIT":        ir.KindBytes,
	},
	"oracle": {
		"NUMBER":         ir.KindDecimal,
		"VARCHAR2":       ir.KindText,
		"NVARCHAR2":      ir.KindText,
		"RAW":            ir.KindBytes,
		"LONG":           ir.KindText,
		"ROWID":          ir.KindText,
		"UROWID":         ir.KindText,
		"PLS_INTEGER":    ir.KindInt32,
		"BINARY_INTEGER": ir.KindInt32,
		"SYS_REFCURSOR":  ir.KindUnknown,
	},
	"mssql": {
		"UNIQUEIDENTIFIER": ir.KindUUID,
		"SMALLDATETIME":    ir.KindTimestamp,
		"DATETIME2":        ir.KindTimestamp,
		"MONEY":            ir.KindDecimal,
		"SMALLMONEY":       ir.KindDecimal,
		"IMAGE":            ir.KindBytes,
		"NTEXT":            ir.KindText,
		"BIT":              ir.KindBool,
	},
	"duckdb": {
		"HUGEINT":   ir.KindDecimal,
		"UTINYINT":  ir.KindUint8,
		"USMALLINT": ir.KindUint16,
		"UINTEGER":  ir.KindUint32,
		"UBIGINT":   ir.KindUint64,
		"LIST":      ir.KindArray,
		"STRUCT":    ir.KindJSON,
	},
	"hana": {
		"SECONDDATE":  ir.KindTimestamp,
		"SHORTTEXT":   ir.KindText,
		"ALPHANUM":    ir.KindText,
		"ST_GEOMETRY": ir.KindGeography,
		"ST_POINT":    ir.KindGeography,
	},
	"sqlite": {},
	"file":   {},
}

// FromIR emits the target dialect's best native type for a descriptor.
func FromIR(dialect string, ti ir.TypeInfo) string {
	d := Normalize(dialect)
	switch d {
	case "sqlite", "duckdb", "file":
		return fromIRSQLite(ti)
	case "postgres":
		return fromIRPostgres(ti)
	case "mysql":
		return fromIRMySQL(ti)
	case "oracle":
		return fromIROracle(ti)
	case "mssql":
		return fromIRMSSQL(ti)
	case "hana":
		return fromIRHANA(ti)
	}
	return fromIRSQLite(ti)
}

func decimalSuffix(ti ir.TypeInfo) string {
	if ti.Precision > 0 && ti.Scale > 0 {
		return fmt.Sprintf("(%d,%d)", ti.Precision, ti.Scale)
	}
	if ti.Precision > 0 {
		return fmt.Sprintf("(%d)", ti.Precision)
	}
	return ""
}

func textSuffix(ti ir.TypeInfo) string {
	if ti.Length > 0 {
		return fmt.Sprintf("(%d)", ti.Length)
	}
	return ""
}

func fromIRSQLite(ti ir.TypeInfo) string {
	switch ti.Kind {
	case ir.KindInt8, ir.KindInt16, ir.KindInt32, ir.KindInt64,
		ir.KindUint8, ir.KindUint16, ir.KindUint32, ir.KindUint64,
		ir.KindBool:
		return "INTEGER"
	case ir.KindReal32, ir.KindReal64, ir.KindDecimal:
		return "REAL"
	case ir.KindBytes:
		return "BLOB"
	case ir.KindDate:
		return "DATE"
	case ir.KindTime:
		return "TIME"
	case ir.KindTimestamp, ir.KindTimestampTZ:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func fromIRPostgres(ti ir.TypeInfo) string {
	switch ti.Kind {
	case ir.KindInt8, ir.KindInt16, ir.KindUint8:
		return "SMALLINT"
	case ir.KindInt32, ir.KindUint16:
		return "INTEGER"
	case ir.KindInt64, ir.KindUint32, ir.KindUint64:
		return "BIGINT"
	case ir.KindReal32:
		return "REAL"
	case ir.KindReal64:
		return "DOUBLE PRECISION"
	case ir.KindDecimal:
		return "NUMERIC" + decimalSuffix(ti)
	case ir.KindBool:
		return "BOOLEAN"
	case ir.KindText:
		if ti.Length > 0 {
			return "VARCHAR" + textSuffix(ti)
		}
		return "TEXT"
	case ir.KindBytes:
		return "BYTEA"
	case ir.KindDate:
		return "DATE"
	case ir.KindTime:
		return "TIME"
	case ir.KindTimestamp:
		return "TIMESTAMP"
	case ir.KindTimestampTZ:
		return "TIMESTAMP WITH TIME ZONE"
	case ir.KindInterval:
		return "INTERVAL"
	case ir.KindUUID:
		return "UUID"
	case ir.KindJSON:
		return "JSONB"
	case ir.KindXML:
		return "XML"
	case ir.KindGeography:
		return "TEXT"
	case ir.KindArray:
		return "TEXT"
	default:
		return "TEXT"
	}
}

func fromIRMySQL(ti ir.TypeInfo) string {
	switch ti.Kind {
	case ir.KindInt8:
		return "TINYINT"
	case ir.KindInt16, ir.KindUint8:
		return "SMALLINT"
	case ir.KindInt32, ir.KindUint16:
		return "INT"
	case ir.KindInt64, ir.KindUint32:
		return "BIGINT"
	case ir.KindUint64:
		return "BIGINT UNSIGNED"
	case ir.KindReal32:
		return "FLOAT"
	case ir.KindReal64:
		return "DOUBLE"
	case ir.KindDecimal:
		return "DECIMAL" + decimalSuffix(ti)
	case ir.KindBool:
		return "TINYINT(1)"
	case ir.KindText:
		if ti.Length > 0 && ti.Length <= 16383 {
			return "VARCHAR" + textSuffix(ti)
		}
		return "LONGTEXT"
	case ir.KindBytes:
		if ti.Length > 0 {
			return "VARBINARY" + textSuffix(ti)
		}
		return "LONGBLOB"
	case ir.KindDate:
		return "DATE"
	case ir.KindTime:
		return "TIME"
	case ir.KindTimestamp, ir.KindTimestampTZ:
		return "DATETIME"
	case ir.KindUUID:
		return "CHAR(36)"
	case ir.KindJSON:
		return "JSON"
	default:
		return "LONGTEXT"
	}
}

func fromIROracle(ti ir.TypeInfo) string {
	switch ti.Kind {
	case ir.KindInt8, ir.KindInt16, ir.KindUint8:
		return "NUMBER(5)"
	case ir.KindInt32, ir.KindUint16:
		return "NUMBER(10)"
	case ir.KindInt64, ir.KindUint32, ir.KindUint64:
		return "NUMBER(19)"
	case ir.KindReal32:
		return "BINARY_FLOAT"
	case ir.KindReal64:
		return "BINARY_DOUBLE"
	case ir.KindDecimal:
		return "NUMBER" + decimalSuffix(ti)
	case ir.KindBool:
		return "NUMBER(1)"
	case ir.KindText:
		if ti.Length > 0 && ti.Length <= 4000 {
			return "VARCHAR2" + textSuffix(ti)
		}
		return "CLOB"
	case ir.KindBytes:
		return "BLOB"
	case ir.KindDate:
		return "DATE"
	case ir.KindTime:
		return "TIMESTAMP"
	case ir.KindTimestamp:
		return "TIMESTAMP"
	case ir.KindTimestampTZ:
		return "TIMESTAMP WITH TIME ZONE"
	case ir.KindInterval:
		return "INTERVAL DAY TO SECOND"
	case ir.KindXML:
		return "XMLTYPE"
	default:
		return "CLOB"
	}
}

func fromIRMSSQL(ti ir.TypeInfo) string {
	switch ti.Kind {
	case ir.KindInt8, ir.KindUint8:
		return "TINYINT"
	case ir.KindInt16:
		return "SMALLINT"
	case ir.KindInt32, ir.KindUint16:
		return "INT"
	case ir.KindInt64, ir.KindUint32, ir.KindUint64:
		return "BIGINT"
	case ir.KindReal32:
		return "REAL"
	case ir.KindReal64:
		return "FLOAT"
	case ir.KindDecimal:
		return "DECIMAL" + decimalSuffix(ti)
	case ir.KindBool:
		return "BIT"
	case ir.KindText:
		if ti.Length > 0 && ti.Length <= 4000 {
			return "NVARCHAR" + textSuffix(ti)
		}
		return "NVARCHAR(MAX)"
	case ir.KindBytes:
		return "VARBINARY(MAX)"
	case ir.KindDate:
		return "DATE"
	case ir.KindTime:
		return "TIME"
	case ir.KindTimestamp:
		return "DATETIME2"
	case ir.KindTimestampTZ:
		return "DATETIMEOFFSET"
	case ir.KindUUID:
		return "UNIQUEIDENTIFIER"
	case ir.KindXML:
		return "XML"
	default:
		return "NVARCHAR(MAX)"
	}
}

func fromIRHANA(ti ir.TypeInfo) string {
	switch ti.Kind {
	case ir.KindInt8, ir.KindInt16, ir.KindUint8:
		return "SMALLINT"
	case ir.KindInt32, ir.KindUint16:
		return "INTEGER"
	case ir.KindInt64, ir.KindUint32, ir.KindUint64:
		return "BIGINT"
	case ir.KindReal32:
		return "REAL"
	case ir.KindReal64:
		return "DOUBLE"
	case ir.KindDecimal:
		return "DECIMAL" + decimalSuffix(ti)
	case ir.KindBool:
		return "BOOLEAN"
	case ir.KindText:
		if ti.Length > 0 && ti.Length <= 5000 {
			return "NVARCHAR" + textSuffix(ti)
		}
		return "NCLOB"
	case ir.KindBytes:
		return "BLOB"
	case ir.KindDate:
		return "DATE"
	case ir.KindTime:
		return "TIME"
	case ir.KindTimestamp, ir.KindTimestampTZ:
		return "TIMESTAMP"
	default:
		return "NCLOB"
	}
}
