package catalog

import "strings"

// Kind is the semantic category of a column's declared type.
// Every consumer switches on Kind instead of the raw catalog type string.
type Kind int

const (
	KindOther Kind = iota
	KindBoolean
	KindInteger
	KindFloat
	KindJSON
	KindArray
	KindText
	KindVector
)

var kindNames = map[Kind]string{
	KindOther:   "other",
	KindBoolean: "boolean",
	KindInteger: "integer",
	KindFloat:   "float",
	KindJSON:    "json",
	KindArray:   "array",
	KindText:    "text",
	KindVector:  "vector",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "other"
}

// MarshalText renders the kind as its lowercase name in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ClassifyType maps information_schema data_type and udt_name to a Kind.
// The udt_name check runs first because extension types such as pgvector
// report a data_type of "USER-DEFINED".
func ClassifyType(dataType, udtName string) Kind {
	if strings.EqualFold(udtName, "vector") {
		return KindVector
	}

	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "boolean":
		return KindBoolean
	case "smallint", "integer", "bigint":
		return KindInteger
	case "real", "double precision", "numeric", "decimal":
		return KindFloat
	case "json", "jsonb":
		return KindJSON
	case "array":
		return KindArray
	case "text", "character varying", "character", "varchar", "char":
		return KindText
	default:
		return KindOther
	}
}

// Searchable reports whether ILIKE matching applies to the kind.
func (k Kind) Searchable() bool {
	return k == KindText
}
