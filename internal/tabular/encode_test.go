package tabular

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tablesync/internal/catalog"
)

func TestEscapeCell(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"", ""},
		{"a,b", `"a,b"`},
		{`say "hi"`, `"say ""hi"""`},
		{"two\nlines", "\"two\nlines\""},
		{"cr\ronly", "\"cr\ronly\""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeCell(tt.in))
		})
	}
}

func TestCellText(t *testing.T) {
	id := uuid.MustParse("6f1c1a7e-3c1b-4a0e-9d55-2f0f3f1b8e42")
	ts := time.Date(2024, 3, 5, 8, 9, 10, 123_000_000, time.FixedZone("x", 3600))

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "abc", "abc"},
		{"bool", true, "true"},
		{"int64", int64(-12), "-12"},
		{"int32", int32(7), "7"},
		{"float", 2.5, "2.5"},
		{"float no exponent", 1e21, "1000000000000000000000"},
		{"json number", json.Number("3.10"), "3.10"},
		{"time is utc millis", ts, "2024-03-05T07:09:10.123Z"},
		{"uuid bytes", [16]byte(id), id.String()},
		{"uuid", id, id.String()},
		{"bytes as hex", []byte{0xde, 0xad}, `\xdead`},
		{"object as json", map[string]any{"a": 1}, `{"a":1}`},
		{"array as json", []any{"x", 2}, `["x",2]`},
		{"string slice as json", []string{"a", "b"}, `["a","b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CellText(tt.in))
		})
	}
}

func TestFormatAndTemplate(t *testing.T) {
	got := Format([][]string{{"id", "name"}, {"1", "a,b"}, {"2", ""}})
	assert.Equal(t, "id,name\n1,\"a,b\"\n2,", got)

	assert.Equal(t, "id,name,qty", Template([]string{"id", "name", "qty"}))
}

func TestWriter_MatchesFormat(t *testing.T) {
	records := [][]string{{"id", "note"}, {"1", "multi\nline"}, {"2", `q"uote`}}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, r := range records {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Flush())

	assert.Equal(t, Format(records), buf.String())
}

func TestWriter_WriteRow_WithoutColumns(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Write([]string{"id", "meta", "note"}))
	require.NoError(t, w.WriteRow([]any{int64(1), map[string]any{"k": "v"}, nil}, nil))
	require.NoError(t, w.Flush())

	assert.Equal(t, "id,meta,note\n1,\"{\"\"k\"\":\"\"v\"\"}\",", buf.String())
}

func TestColumnText(t *testing.T) {
	meta := catalog.Column{Name: "meta", Kind: catalog.KindJSON, Nullable: true}
	note := catalog.Column{Name: "note", Kind: catalog.KindText, Nullable: true}

	tests := []struct {
		name string
		v    any
		col  catalog.Column
		want string
	}{
		{"json string scalar keeps quotes", "hello", meta, `"hello"`},
		{"json number", float64(3), meta, "3"},
		{"json bool", true, meta, "true"},
		{"json object", map[string]any{"a": "b"}, meta, `{"a":"b"}`},
		{"json raw", json.RawMessage(`{"x":1}`), meta, `{"x":1}`},
		{"json null", nil, meta, ""},
		{"text string stays bare", "hello", note, "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ColumnText(tt.v, tt.col))
		})
	}
}

func TestColumnText_JSONStringImportsBack(t *testing.T) {
	meta := catalog.Column{Name: "meta", Kind: catalog.KindJSON, Nullable: true}

	got, present, err := ConvertCell(ColumnText("hello", meta), meta, 2)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "hello", got)
}

func TestWriter_WriteRow(t *testing.T) {
	cols := []catalog.Column{
		{Name: "id", Kind: catalog.KindInteger},
		{Name: "meta", Kind: catalog.KindJSON, Nullable: true},
	}
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteRow([]any{int64(1), "hi"}, cols))
	require.NoError(t, w.Flush())

	assert.Equal(t, `1,"""hi"""`, buf.String())
}

func TestFormatParseRoundTrip(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200

	properties := gopter.NewProperties(params)

	cell := gen.OneGenOf(
		gen.AlphaString(),
		gen.AnyString().SuchThat(func(s string) bool { return !strings.HasPrefix(s, byteOrderMark) }),
		gen.OneConstOf("", ",", `"`, "\n", "\r", "\r\n", `a,"b"`, " padded "),
	)
	record := gen.SliceOfN(3, cell)

	properties.Property("parse inverts format", prop.ForAll(
		func(records [][]string) bool {
			got, err := Parse(Format(records))
			if err != nil {
				return false
			}
			if len(records) == 0 {
				return got == nil
			}
			if len(got) != len(records) {
				return false
			}
			for i := range records {
				if len(got[i]) != len(records[i]) {
					return false
				}
				for j := range records[i] {
					if got[i][j] != records[i][j] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(record),
	))

	properties.TestingRun(t)
}
