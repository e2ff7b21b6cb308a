// Package tabular converts between CSV text and typed row values, using
// catalog column metadata to drive header validation and cell coercion.
package tabular

import (
	"errors"
	"strings"
)

const byteOrderMark = "\ufeff"

// ErrUnterminatedQuote is returned when input ends inside a quoted field.
var ErrUnterminatedQuote = errors.New("CSV 格式无效: 引号未闭合")

// Parse splits CSV text into records. Quoted fields may contain commas,
// doubled quotes and line breaks; records end at \n, \r\n or a lone \r.
//
// A record holding a single empty field (a blank line) is dropped. A final
// record without a line terminator is kept when it holds any content.
func Parse(raw string) ([][]string, error) {
	raw = strings.TrimPrefix(raw, byteOrderMark)

	var (
		records  [][]string
		record   []string
		field    strings.Builder
		inQuotes bool
	)

	endRecord := func() {
		record = append(record, field.String())
		field.Reset()
		if !(len(record) == 1 && record[0] == "") {
			records = append(records, record)
		}
		record = nil
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]

		if inQuotes {
			if c == '"' {
				if i+1 < len(raw) && raw[i+1] == '"' {
					field.WriteByte('"')
					i++
				} else {
					inQuotes = false
				}
			} else {
				field.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inQuotes = true
		case ',':
			record = append(record, field.String())
			field.Reset()
		case '\r':
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
			endRecord()
		case '\n':
			endRecord()
		default:
			field.WriteByte(c)
		}
	}

	if inQuotes {
		return nil, ErrUnterminatedQuote
	}
	if field.Len() > 0 || len(record) > 0 {
		records = append(records, append(record, field.String()))
	}

	return records, nil
}
