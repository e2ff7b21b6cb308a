package tabular

import (
	"bufio"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tablesync/internal/catalog"
)

// isoMillis matches the ISO-8601 UTC form with millisecond precision.
const isoMillis = "2006-01-02T15:04:05.000Z"

// CellText renders a database value as CSV cell text, before escaping.
func CellText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return `\x` + hex.EncodeToString(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case time.Time:
		return val.UTC().Format(isoMillis)
	case [16]byte:
		return uuid.UUID(val).String()
	case uuid.UUID:
		return val.String()
	case map[string]any, []any:
		return jsonText(val)
	case driver.Valuer:
		dv, err := val.Value()
		if err != nil {
			return fmt.Sprint(val)
		}
		if _, same := dv.(driver.Valuer); same {
			return fmt.Sprint(dv)
		}
		return CellText(dv)
	case fmt.Stringer:
		return val.String()
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return jsonText(v)
	default:
		return fmt.Sprint(v)
	}
}

// ColumnText renders v for col. JSON columns are always written as JSON so
// a string scalar keeps its quotes and imports back unchanged.
func ColumnText(v any, col catalog.Column) string {
	if col.Kind == catalog.KindJSON && v != nil {
		if raw, ok := v.(json.RawMessage); ok {
			return string(raw)
		}
		return jsonText(v)
	}
	return CellText(v)
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// EscapeCell quotes s when it contains a comma, a double quote or a line
// break, doubling any embedded quotes.
func EscapeCell(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// FormatRecord joins escaped cells into one line without a terminator.
func FormatRecord(cells []string) string {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = EscapeCell(c)
	}
	return strings.Join(escaped, ",")
}

// Format serializes records with \n between lines and no trailing newline.
// Parse(Format(records)) returns records unchanged, apart from records that
// consist of a single empty field.
func Format(records [][]string) string {
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = FormatRecord(r)
	}
	return strings.Join(lines, "\n")
}

// Template returns the header-only CSV for the given column names.
func Template(columns []string) string {
	return FormatRecord(columns)
}

// Writer streams CSV lines in the same layout as Format.
type Writer struct {
	bw    *bufio.Writer
	lines int
}

// NewWriter wraps w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// Write emits one record.
func (w *Writer) Write(cells []string) error {
	if w.lines > 0 {
		if err := w.bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	w.lines++
	_, err := w.bw.WriteString(FormatRecord(cells))
	return err
}

// WriteRow renders values with ColumnText against cols and emits them as
// one record. Values past the end of cols fall back to CellText.
func (w *Writer) WriteRow(values []any, cols []catalog.Column) error {
	cells := make([]string, len(values))
	for i, v := range values {
		if i < len(cols) {
			cells[i] = ColumnText(v, cols[i])
		} else {
			cells[i] = CellText(v)
		}
	}
	return w.Write(cells)
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}
