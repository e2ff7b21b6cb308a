package tabular

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/JonMunkholm/tablesync/internal/catalog"
)

// CellError reports a cell that could not be coerced to its column type.
// Row counts the header as row 1.
type CellError struct {
	Row    int
	Column string
	Reason string
}

func (e *CellError) Error() string {
	return fmt.Sprintf("第 %d 行字段 %s %s", e.Row, e.Column, e.Reason)
}

// Reasons reported by ConvertCell.
const (
	ReasonVectorNotSupported = "该类型暂不支持导入非空值"
	ReasonInvalidBoolean     = "布尔值无效"
	ReasonInvalidInteger     = "整数值无效"
	ReasonInvalidNumber      = "数值无效"
	ReasonInvalidJSON        = "JSON 格式无效"
	ReasonNotJSONArray       = "需要 JSON 数组"
)

// ConvertCell coerces raw cell text for col.
//
// The returned flag is false when the value is omitted from the row: an
// empty cell in a NOT NULL column. An empty cell in a nullable column
// yields (nil, true). Non-empty cells become bool, int64, float64, a decoded
// JSON value, or the trimmed string, depending on the column kind.
func ConvertCell(raw string, col catalog.Column, row int) (any, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		if col.Nullable {
			return nil, true, nil
		}
		return nil, false, nil
	}

	fail := func(reason string) (any, bool, error) {
		return nil, false, &CellError{Row: row, Column: col.Name, Reason: reason}
	}

	switch col.Kind {
	case catalog.KindVector:
		return fail(ReasonVectorNotSupported)

	case catalog.KindBoolean:
		b, ok := parseBool(s)
		if !ok {
			return fail(ReasonInvalidBoolean)
		}
		return b, true, nil

	case catalog.KindInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fail(ReasonInvalidInteger)
		}
		return n, true, nil

	case catalog.KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return fail(ReasonInvalidNumber)
		}
		return f, true, nil

	case catalog.KindJSON:
		v, err := parseJSON(s)
		if err != nil {
			return fail(ReasonInvalidJSON)
		}
		return v, true, nil

	case catalog.KindArray:
		v, err := parseJSON(s)
		if err != nil {
			return fail(ReasonNotJSONArray)
		}
		arr, ok := v.([]any)
		if !ok {
			return fail(ReasonNotJSONArray)
		}
		return arr, true, nil

	case catalog.KindText, catalog.KindOther:
		return s, true, nil
	}

	return s, true, nil
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

var errTrailingJSON = errors.New("trailing data after JSON value")

// parseJSON decodes exactly one JSON value, keeping numbers as json.Number
// so large integers survive re-encoding.
func parseJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingJSON
	}
	return v, nil
}
