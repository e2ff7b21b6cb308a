package tabular

import (
	"errors"
	"strings"

	"github.com/JonMunkholm/tablesync/internal/catalog"
)

// File-level validation failures.
var (
	ErrEmptyFile   = errors.New("CSV 文件为空")
	ErrEmptyHeader = errors.New("CSV 表头为空")
	ErrNoDataRows  = errors.New("CSV 没有数据行")
)

// UnknownColumnsError lists every header that is not a column of the table.
type UnknownColumnsError struct {
	Columns []string
}

func (e *UnknownColumnsError) Error() string {
	return "存在无效列: " + strings.Join(e.Columns, ", ")
}

// RowError locates a failure in the uploaded file. Row counts the header as row 1.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	return e.Message
}

// Row is one coerced data row keyed by column name. A nil value is SQL NULL;
// omitted columns are absent from the map.
type Row map[string]any

// HasValues reports whether the row carries at least one non-null value.
func (r Row) HasValues() bool {
	for _, v := range r {
		if v != nil {
			return true
		}
	}
	return false
}

// Document is an uploaded CSV validated against a table's columns.
type Document struct {
	// Total counts data rows after blank-line suppression.
	Total int
	// Rows holds rows that coerced cleanly, with RowNumbers parallel to it.
	Rows       []Row
	RowNumbers []int
	// Errors holds one entry per row that failed coercion.
	Errors []RowError
}

// Decode parses raw and coerces every data row against columns.
//
// File-level problems (empty file, blank header, unknown headers, no data
// rows, malformed quoting) are returned as the error. Cell problems are
// collected per row in Document.Errors so callers can report all of them.
// The returned Document is never nil; Total is set whenever parsing succeeded.
func Decode(raw string, columns []catalog.Column) (*Document, error) {
	doc := &Document{}

	records, err := Parse(raw)
	if err != nil {
		return doc, err
	}
	if len(records) == 0 {
		return doc, ErrEmptyFile
	}
	doc.Total = len(records) - 1

	header := make([]string, len(records[0]))
	blank := true
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
		if header[i] != "" {
			blank = false
		}
	}
	if blank {
		return doc, ErrEmptyHeader
	}

	byName := make(map[string]catalog.Column, len(columns))
	for _, c := range columns {
		byName[c.Name] = c
	}

	matched := make([]catalog.Column, len(header))
	var unknown []string
	for i, h := range header {
		c, ok := byName[h]
		if !ok {
			unknown = append(unknown, h)
			continue
		}
		matched[i] = c
	}
	if len(unknown) > 0 {
		return doc, &UnknownColumnsError{Columns: unknown}
	}
	if doc.Total == 0 {
		return doc, ErrNoDataRows
	}

	for i, record := range records[1:] {
		rowNum := i + 2
		row := make(Row, len(matched))

		var cellErr error
		for j, col := range matched {
			cell := ""
			if j < len(record) {
				cell = record[j]
			}
			v, present, err := ConvertCell(cell, col, rowNum)
			if err != nil {
				cellErr = err
				break
			}
			if present {
				row[col.Name] = v
			}
		}

		if cellErr != nil {
			doc.Errors = append(doc.Errors, RowError{Row: rowNum, Message: cellErr.Error()})
			continue
		}
		doc.Rows = append(doc.Rows, row)
		doc.RowNumbers = append(doc.RowNumbers, rowNum)
	}

	return doc, nil
}
