package typemap

import (
	"fmt"

	"github.com/untoldecay/dbport/internal/ir"
)

// tzCapable dialects can represent an offset-aware timestamp natively.
var tzCapable = map[string]bool{
	"postgres": true,
	"oracle":   true,
	"mssql":    true,
}

// decimalCapable dialects have an exact decimal type. SQLite and the file
// target store decimals as floating point or text.
var decimalCapable = map[string]bool{
	"postgres": true,
	"mysql":    true,
	"oracle":   true,
	"mssql":    true,
	"duckdb":   true,
	"hana":     true,
}

// LossyConversion reports whether migrating rawType from srcDialect to
// tgtDialect necessarily drops information, with a human-readable reason.
// It never errors: the decision is made purely on the two resolved
// descriptors.
func LossyConversion(srcDialect, rawType, tgtDialect string) (bool, string) {
	src := Normalize(srcDialect)
	tgt := Normalize(tgtDialect)
	ti := ToIR(src, rawType)

	if ti.UnknownSource {
		return true, fmt.Sprintf("Unknown source type %q mapped to TEXT", rawType)
	}

	// Timezone loss: offset-aware timestamps flattened to naive ones.
	if ti.Kind == ir.KindTimestampTZ && !tzCapable[tgt] {
		return true, fmt.Sprintf("Timezone loss: %s %s stored as naive TIMESTAMP on %s", src, rawType, tgt)
	}
	if ti.Kind == ir.KindTime && ti.TZAware && !tzCapable[tgt] {
		return true, fmt.Sprintf("Timezone loss: %s %s loses its offset on %s", src, rawType, tgt)
	}

	// Precision loss: exact decimals landing on a float or text column.
	if ti.Kind == ir.KindDecimal && !decimalCapable[tgt] {
		return true, fmt.Sprintf("Precision loss: %s %s has no exact decimal type on %s", src, rawType, tgt)
	}

	// Structured types demoted to TEXT.
	switch ti.Kind {
	case ir.KindArray:
		return true, fmt.Sprintf("Structural loss: ARRAY type %s mapped to TEXT on %s", rawType, tgt)
	case ir.KindJSON:
		if tgt != "postgres" && tgt != "mysql" {
			return true, fmt.Sprintf("Structural loss: JSON type %s mapped to TEXT on %s", rawType, tgt)
		}
	case ir.KindXML:
		if tgt != "postgres" && tgt != "oracle" && tgt != "mssql" {
			return true, fmt.Sprintf("Structural loss: XML type %s mapped to TEXT on %s", rawType, tgt)
		}
	case ir.KindGeography:
		return true, fmt.Sprintf("Structural loss: spatial type %s mapped to TEXT on %s", rawType, tgt)
	case ir.KindInterval:
		if tgt != "postgres" && tgt != "oracle" {
			return true, fmt.Sprintf("Structural loss: INTERVAL type %s mapped to TEXT on %s", rawType, tgt)
		}
	}

	// Oracle treats the empty string as NULL; every other dialect keeps
	// them distinct, so text values change meaning in either direction.
	if ti.Kind == ir.KindText {
		if src == "oracle" && tgt != "oracle" {
			return true, fmt.Sprintf("Semantic change: oracle treats empty string as NULL; %s does not", tgt)
		}
		if src != "oracle" && tgt == "oracle" {
			return true, "Semantic change: empty string values become NULL on oracle"
		}
	}

	return false, ""
}
