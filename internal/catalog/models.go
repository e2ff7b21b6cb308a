package catalog

// Column describes one column of a base table as reported by the catalog.
type Column struct {
	Name      string  `json:"name"`
	DataType  string  `json:"dataType"`
	UDTName   string  `json:"udtName"`
	UDTSchema string  `json:"-"`
	Kind      Kind    `json:"kind"`
	Nullable  bool    `json:"isNullable"`
	Default   *string `json:"defaultValue"`
	Position  int     `json:"ordinalPosition"`
}

// Table is a base table with its columns in ordinal order.
// Values are built per request and never cached.
type Table struct {
	Schema      string   `json:"schema"`
	Name        string   `json:"tableName"`
	Columns     []Column `json:"columns"`
	PrimaryKey  []string `json:"primaryKeyColumns"`
	RowEstimate int64    `json:"rowCountEstimate"`
}

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns column names in ordinal order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Addressable reports whether the table and every column name pass the
// identifier allow-list, so the table can be selected and written.
func (t *Table) Addressable() bool {
	if !ValidIdentifier(t.Name) {
		return false
	}
	for _, c := range t.Columns {
		if !ValidIdentifier(c.Name) {
			return false
		}
	}
	return true
}

// SinglePrimaryKey returns the primary key column when the key has exactly
// one column. Composite keys and keyless tables report false.
func (t *Table) SinglePrimaryKey() (string, bool) {
	if len(t.PrimaryKey) != 1 {
		return "", false
	}
	return t.PrimaryKey[0], true
}

// DefaultSortColumn is the first primary key column, or the first column.
func (t *Table) DefaultSortColumn() string {
	if len(t.PrimaryKey) > 0 {
		return t.PrimaryKey[0]
	}
	if len(t.Columns) > 0 {
		return t.Columns[0].Name
	}
	return ""
}
