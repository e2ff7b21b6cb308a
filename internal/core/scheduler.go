package core

// scheduler.go runs periodic snapshots in the background.
//
// Each cycle:
//  1. Stores a fresh all-tables snapshot (same as Snapshot)
//  2. Deletes the oldest snapshots beyond the retention count
//
// The scheduler is long-running and stops with its context. A failed cycle
// is logged and the next tick runs normally.

import (
	"context"
	"log/slog"
	"time"
)

// SchedulerConfig controls background snapshots.
type SchedulerConfig struct {
	Interval time.Duration // How often to snapshot
	Retain   int           // Newest snapshots to keep; 0 keeps all
}

// StartSnapshotScheduler snapshots every Interval until ctx is cancelled.
// The first run happens after one interval, not at startup.
func (s *Service) StartSnapshotScheduler(ctx context.Context, cfg SchedulerConfig) {
	if s.snapshots == nil || cfg.Interval <= 0 {
		return
	}

	slog.Info("snapshot scheduler started", "interval", cfg.Interval.String(), "retain", cfg.Retain)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("snapshot scheduler stopped")
			return
		case <-ticker.C:
			s.runSnapshotJob(ctx, cfg.Retain)
		}
	}
}

// runSnapshotJob performs one snapshot + prune cycle.
func (s *Service) runSnapshotJob(ctx context.Context, retain int) {
	start := time.Now()
	ctx = ContextWithOrigin(ctx, Origin{Source: "scheduler"})

	if _, err := s.Snapshot(ctx); err != nil {
		slog.Error("scheduled snapshot failed", "error", err)
		return
	}

	pruned, err := s.pruneSnapshots(ctx, retain)
	if err != nil {
		slog.Error("snapshot prune failed", "error", err)
	}

	slog.Info("snapshot job completed",
		"pruned", pruned,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// pruneSnapshots deletes all but the retain newest snapshots and reports how
// many were removed. A delete failure stops the prune.
func (s *Service) pruneSnapshots(ctx context.Context, retain int) (int, error) {
	if retain <= 0 {
		return 0, nil
	}

	objects, err := s.ListSnapshots(ctx)
	if err != nil {
		return 0, err
	}
	if len(objects) <= retain {
		return 0, nil
	}

	pruned := 0
	for _, obj := range objects[retain:] {
		if err := s.snapshots.Delete(ctx, obj.Key); err != nil {
			return pruned, infraFailed("delete snapshot", err)
		}
		pruned++
	}
	return pruned, nil
}
