package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tablesync/internal/snapshot"
)

func TestPruneSnapshots(t *testing.T) {
	dir := t.TempDir()
	store, err := snapshot.NewLocalStore(dir)
	require.NoError(t, err)
	svc := newTestService(t, exportFixture(), store)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(src, []byte("zip"), 0o600))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, key := range []string{"snapshots/1.zip", "snapshots/2.zip", "snapshots/3.zip"} {
		require.NoError(t, store.Upload(ctx, src, key))
		mod := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(dir, filepath.FromSlash(key)), mod, mod))
	}

	tests := []struct {
		name       string
		retain     int
		wantPruned int
		wantKeys   []string
	}{
		{name: "zero keeps all", retain: 0, wantPruned: 0, wantKeys: []string{"snapshots/3.zip", "snapshots/2.zip", "snapshots/1.zip"}},
		{name: "retain above count", retain: 5, wantPruned: 0, wantKeys: []string{"snapshots/3.zip", "snapshots/2.zip", "snapshots/1.zip"}},
		{name: "oldest removed first", retain: 1, wantPruned: 2, wantKeys: []string{"snapshots/3.zip"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pruned, err := svc.pruneSnapshots(ctx, tt.retain)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPruned, pruned)

			objects, err := svc.ListSnapshots(ctx)
			require.NoError(t, err)
			keys := make([]string, 0, len(objects))
			for _, o := range objects {
				keys = append(keys, o.Key)
			}
			assert.Equal(t, tt.wantKeys, keys)
		})
	}
}

func TestStartSnapshotScheduler(t *testing.T) {
	store, err := snapshot.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	svc := newTestService(t, exportFixture(), store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.StartSnapshotScheduler(ctx, SchedulerConfig{Interval: 20 * time.Millisecond, Retain: 1})
	}()

	require.Eventually(t, func() bool {
		objects, err := store.List(context.Background(), "snapshots")
		return err == nil && len(objects) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStartSnapshotScheduler_DisabledReturns(t *testing.T) {
	svc := newTestService(t, exportFixture(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.StartSnapshotScheduler(context.Background(), SchedulerConfig{Interval: time.Millisecond})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler without a store should return immediately")
	}
}
