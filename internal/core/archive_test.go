package core

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tablesync/internal/archive"
	"github.com/JonMunkholm/tablesync/internal/snapshot"
	"github.com/JonMunkholm/tablesync/internal/testutil"
)

func zipOf(t *testing.T, entries ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := archive.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(e[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	zr, err := archive.Open(path)
	require.NoError(t, err)
	defer zr.Close()

	out := make(map[string]string)
	for _, name := range zr.Names() {
		b, err := zr.ReadEntry(name, 0)
		require.NoError(t, err)
		out[name] = string(b)
	}
	return out
}

func assertWorkspaceEmpty(t *testing.T, svc *Service) {
	t.Helper()
	entries, err := os.ReadDir(svc.tempRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directories must be removed")
}

func TestImportArchive_IsolatesTables(t *testing.T) {
	db := catalogDB(widgetsTable, orderLinesTable)
	db.OnRows("ON CONFLICT", []any{true})
	svc := newTestService(t, db, nil)

	data := zipOf(t,
		[2]string{"widgets.csv", "id,name\n1,a\n2,b"},
		[2]string{"order_lines.CSV", "order_id,line_no,note\n1,x,"},
		[2]string{"nested/widgets.csv", "id\n1"},
		[2]string{"bad-name.csv", "id\n1"},
		[2]string{"gadgets.csv", "id\n1"},
		[2]string{"README.txt", "not a table"},
	)

	outcome, err := svc.ImportArchive(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, 5, outcome.TotalFiles)
	assert.Equal(t, 2, outcome.ProcessedTables)
	assert.Equal(t, 3, outcome.SkippedFiles)
	assert.Equal(t, 1, outcome.SucceededTables)
	assert.Equal(t, 1, outcome.FailedTables)
	assert.Equal(t, RowTotals{Inserted: 2}, outcome.Totals)

	require.Len(t, outcome.Results, 5)
	byFile := make(map[string]EntryResult)
	for _, r := range outcome.Results {
		byFile[r.FileName] = r
	}

	assert.Equal(t, EntrySuccess, byFile["widgets.csv"].Status)
	assert.Equal(t, 2, byFile["widgets.csv"].Outcome.Inserted)

	failed := byFile["order_lines.CSV"]
	assert.Equal(t, EntryFailed, failed.Status)
	assert.Equal(t, "order_lines", failed.TableName)
	assert.Contains(t, failed.Message, "CSV 校验失败")
	require.NotNil(t, failed.Outcome)
	assert.Equal(t, "第 2 行字段 line_no 整数值无效", failed.Outcome.Errors[0].Message)

	assert.Equal(t, EntryResult{FileName: "nested/widgets.csv", Status: EntryIgnored, Reason: ReasonInvalidFilename}, byFile["nested/widgets.csv"])
	assert.Equal(t, ReasonInvalidFilename, byFile["bad-name.csv"].Reason)
	assert.Equal(t, EntryResult{FileName: "gadgets.csv", TableName: "gadgets", Status: EntryIgnored, Reason: ReasonTableNotFound}, byFile["gadgets.csv"])

	// One transaction per processed table: widgets committed, order_lines never opened one.
	assert.Equal(t, 1, db.Begins())
	assert.Equal(t, 1, db.Commits())
	assertWorkspaceEmpty(t, svc)
}

func TestImportArchive_WriteFailureDoesNotStopSiblings(t *testing.T) {
	db := catalogDB(widgetsTable, orderLinesTable)
	db.On("ON CONFLICT", func([]any) testutil.Result {
		return testutil.Result{Err: &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}}
	})
	db.OnExec("INSERT INTO", "INSERT 0 1")
	svc := newTestService(t, db, nil)

	data := zipOf(t,
		[2]string{"widgets.csv", "id,name\n1,a"},
		[2]string{"order_lines.csv", "order_id,line_no\n1,1"},
	)

	outcome, err := svc.ImportArchive(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.FailedTables)
	assert.Equal(t, 1, outcome.SucceededTables)
	assert.Equal(t, RowTotals{Inserted: 1}, outcome.Totals)
	assert.Equal(t, 2, db.Begins())
	assert.Equal(t, 1, db.Commits())
	assert.Equal(t, 1, db.Rollbacks())
}

func TestImportArchive_Corrupt(t *testing.T) {
	db := catalogDB(widgetsTable)
	svc := newTestService(t, db, nil)

	outcome, err := svc.ImportArchive(context.Background(), strings.NewReader("definitely not a zip"))
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.Equal(t, KindArchive, KindOf(err))
	assert.ErrorIs(t, err, archive.ErrCorrupt)
	assert.Equal(t, 0, db.Begins())
	assertWorkspaceEmpty(t, svc)
}

func TestImportArchive_OversizedEntryFails(t *testing.T) {
	db := catalogDB(widgetsTable)
	svc := newTestService(t, db, nil)
	svc.maxEntryBytes = 8

	data := zipOf(t, [2]string{"widgets.csv", "id,name\n1,a long name"})
	outcome, err := svc.ImportArchive(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, EntryFailed, outcome.Results[0].Status)
	assert.Contains(t, outcome.Results[0].Message, archive.ErrEntryTooLarge.Error())
}

func TestTableFromEntry(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"widgets.csv", "widgets", true},
		{"Order_Lines.CSV", "Order_Lines", true},
		{"dir/widgets.csv", "", false},
		{`dir\widgets.csv`, "", false},
		{"1st.csv", "", false},
		{"my table.csv", "", false},
		{".csv", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tableFromEntry(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func exportFixture() *testutil.FakeDB {
	db := catalogDB(widgetsTable, orderLinesTable)
	db.OnRows(`FROM "public"."widgets"`, []any{int64(1), "Alpha", int64(5)})
	db.OnRows(`FROM "public"."order_lines"`, []any{int64(7), int64(1), nil})
	return db
}

func TestExportAll(t *testing.T) {
	svc := newTestService(t, exportFixture(), nil)

	var buf bytes.Buffer
	summary, err := svc.ExportAll(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Tables)
	assert.Equal(t, int64(buf.Len()), summary.Bytes)

	assert.Equal(t, map[string]string{
		"order_lines.csv": "order_id,line_no,note\n7,1,",
		"widgets.csv":     "id,name,qty\n1,Alpha,5",
	}, readZip(t, buf.Bytes()))
	assertWorkspaceEmpty(t, svc)
}

func TestExportAll_SkipsUnaddressableTables(t *testing.T) {
	db := catalogDB(
		widgetsTable,
		testutil.TableSpec{Name: "order items", Columns: []testutil.ColumnSpec{{Name: "id", DataType: "integer"}}},
		testutil.TableSpec{Name: "people", Columns: []testutil.ColumnSpec{{Name: "first name", DataType: "text"}}},
	)
	db.OnRows(`FROM "public"."widgets"`, []any{int64(1), "Alpha", int64(5)})
	svc := newTestService(t, db, nil)

	var buf bytes.Buffer
	summary, err := svc.ExportAll(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Tables)
	assert.Equal(t, []string{"order items", "people"}, summary.Skipped)
	assert.Equal(t, map[string]string{"widgets.csv": "id,name,qty\n1,Alpha,5"}, readZip(t, buf.Bytes()))
}

func TestSnapshot_RoundTrip(t *testing.T) {
	db := exportFixture()
	db.OnRows("ON CONFLICT", []any{false})
	db.OnExec("INSERT INTO", "INSERT 0 1")

	store, err := snapshot.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	svc := newTestService(t, db, store)
	ctx := context.Background()

	result, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^snapshots/\d{8}-\d{6}-[0-9a-f-]{36}\.zip$`), result.Key)
	assert.Equal(t, 2, result.Tables)
	assert.Positive(t, result.Bytes)

	objects, err := svc.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, result.Key, objects[0].Key)
	assert.Equal(t, result.Bytes, objects[0].Size)

	restored, err := svc.RestoreSnapshot(ctx, result.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.SucceededTables)
	assert.Equal(t, RowTotals{Inserted: 1, Updated: 1}, restored.Totals)
	assertWorkspaceEmpty(t, svc)

	_, err = svc.RestoreSnapshot(ctx, "snapshots/missing.zip")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestRestoreSnapshot_RejectsKeysOutsidePrefix(t *testing.T) {
	root := t.TempDir()
	store, err := snapshot.NewLocalStore(filepath.Join(root, "store"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "escape.zip"), zipOf(t, [2]string{"widgets.csv", "id\n1"}), 0o600))

	svc := newTestService(t, exportFixture(), store)
	for _, key := range []string{"../escape.zip", "snapshots/../../escape.zip", "/etc/passwd", "other/a.zip"} {
		_, err := svc.RestoreSnapshot(context.Background(), key)
		assert.Equal(t, KindNotFound, KindOf(err), key)
	}
	assert.Equal(t, 2, svc.ImportLimiterStatus().Available)
}

func TestSnapshot_Disabled(t *testing.T) {
	svc := newTestService(t, exportFixture(), nil)
	ctx := context.Background()

	_, err := svc.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrSnapshotsDisabled)
	_, err = svc.ListSnapshots(ctx)
	assert.ErrorIs(t, err, ErrSnapshotsDisabled)
	_, err = svc.RestoreSnapshot(ctx, "any")
	assert.ErrorIs(t, err, ErrSnapshotsDisabled)
}
