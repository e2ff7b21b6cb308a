package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tablesync/internal/config"
)

func TestLocalStore_UploadListDownload(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "snaps"))
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(src, []byte("zip-bytes"), 0o600))

	require.NoError(t, store.Upload(ctx, src, "nightly/a.zip"))
	require.NoError(t, store.Upload(ctx, src, "nightly/b.zip"))
	require.NoError(t, store.Upload(ctx, src, "other/c.zip"))

	objects, err := store.List(ctx, "nightly")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	for _, o := range objects {
		assert.Regexp(t, `^nightly/[ab]\.zip$`, o.Key)
		assert.Equal(t, int64(len("zip-bytes")), o.Size)
	}

	dst := filepath.Join(t.TempDir(), "restored.zip")
	require.NoError(t, store.Download(ctx, "nightly/a.zip", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(data))

	require.NoError(t, store.Delete(ctx, "nightly/a.zip"))
	require.ErrorIs(t, store.Download(ctx, "nightly/a.zip", dst), ErrObjectNotFound)
	require.ErrorIs(t, store.Delete(ctx, "nightly/a.zip"), ErrObjectNotFound)
}

func TestLocalStore_ListMissingPrefix(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	objects, err := store.List(context.Background(), "absent")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestLocalStore_CanceledContext(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, store.Upload(ctx, "x", "y"), context.Canceled)
}

func TestNewKey(t *testing.T) {
	now := time.Date(2024, 6, 1, 13, 4, 5, 0, time.UTC)
	pattern := regexp.MustCompile(`^snapshots/20240601-130405-[0-9a-f-]{36}\.zip$`)

	assert.Regexp(t, pattern, NewKey("snapshots", now))
	assert.Regexp(t, pattern, NewKey("/snapshots/", now))
	assert.Regexp(t, `^20240601-130405-[0-9a-f-]{36}\.zip$`, NewKey("", now))
	assert.NotEqual(t, NewKey("p", now), NewKey("p", now))
}

func TestNew(t *testing.T) {
	store, err := New(context.Background(), config.SnapshotConfig{Backend: config.SnapshotNone})
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = New(context.Background(), config.SnapshotConfig{Backend: config.SnapshotLocal, LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)

	_, err = New(context.Background(), config.SnapshotConfig{Backend: "ftp"})
	require.Error(t, err)
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		key    string
		want   bool
	}{
		{"generated key", "snapshots", NewKey("snapshots", time.Now()), true},
		{"no prefix", "", "20260101-000000-x.zip", true},
		{"empty", "snapshots", "", false},
		{"outside prefix", "snapshots", "other/a.zip", false},
		{"parent escape", "snapshots", "snapshots/../../etc/a.zip", false},
		{"leading parent", "", "../a.zip", false},
		{"absolute", "", "/tmp/a.zip", false},
		{"backslash", "snapshots", `snapshots\a.zip`, false},
		{"not a zip", "snapshots", "snapshots/a.csv", false},
		{"unclean", "snapshots", "snapshots//a.zip", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidKey(tt.prefix, tt.key))
		})
	}
}
