package testutil

import "slices"

// ColumnSpec describes a column served by StubCatalog.
type ColumnSpec struct {
	Name     string
	DataType string
	UDTName  string
	Nullable bool
	Default  *string
}

// TableSpec describes a table served by StubCatalog.
type TableSpec struct {
	Name       string
	Columns    []ColumnSpec
	PrimaryKey []string
	Estimate   int64
}

// StubCatalog answers the catalog reader's information_schema and pg_class
// queries from the given tables. Register it before any statement handler
// whose substring could also match a catalog query.
func (f *FakeDB) StubCatalog(tables ...TableSpec) {
	byName := make(map[string]TableSpec, len(tables))
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
		names = append(names, t.Name)
	}
	slices.Sort(names)

	f.On("information_schema.tables", func([]any) Result {
		rows := make([][]any, 0, len(names))
		for _, n := range names {
			rows = append(rows, []any{n})
		}
		return Result{Rows: rows}
	})

	f.On("information_schema.columns", func(args []any) Result {
		t, ok := byName[argString(args, 1)]
		if !ok {
			return Result{}
		}
		rows := make([][]any, 0, len(t.Columns))
		for i, c := range t.Columns {
			udt := c.UDTName
			if udt == "" {
				udt = defaultUDT(c.DataType)
			}
			rows = append(rows, []any{c.Name, c.DataType, udt, "pg_catalog", c.Nullable, c.Default, i + 1})
		}
		return Result{Rows: rows}
	})

	f.On("table_constraints", func(args []any) Result {
		t, ok := byName[argString(args, 1)]
		if !ok {
			return Result{}
		}
		rows := make([][]any, 0, len(t.PrimaryKey))
		for _, k := range t.PrimaryKey {
			rows = append(rows, []any{k})
		}
		return Result{Rows: rows}
	})

	f.On("pg_class", func([]any) Result {
		rows := make([][]any, 0, len(names))
		for _, n := range names {
			rows = append(rows, []any{n, byName[n].Estimate})
		}
		return Result{Rows: rows}
	})
}

func argString(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	s, _ := args[i].(string)
	return s
}

func defaultUDT(dataType string) string {
	switch dataType {
	case "integer":
		return "int4"
	case "bigint":
		return "int8"
	case "smallint":
		return "int2"
	case "boolean":
		return "bool"
	case "character varying":
		return "varchar"
	case "double precision":
		return "float8"
	case "real":
		return "float4"
	case "timestamp with time zone":
		return "timestamptz"
	case "timestamp without time zone":
		return "timestamp"
	default:
		return dataType
	}
}
