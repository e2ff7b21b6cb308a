package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/tablesync/internal/archive"
	"github.com/JonMunkholm/tablesync/internal/catalog"
	"github.com/JonMunkholm/tablesync/internal/logging"
	"github.com/JonMunkholm/tablesync/internal/snapshot"
)

const csvExt = ".csv"

// ExportSummary describes an all-tables archive.
type ExportSummary struct {
	Tables  int      `json:"tables"`
	Bytes   int64    `json:"bytes"`
	Skipped []string `json:"skipped,omitempty"` // tables whose names cannot be quoted
}

// withWorkspace runs fn with a fresh temporary directory that is removed on
// every exit path. Removal failures are logged and dropped.
func (s *Service) withWorkspace(ctx context.Context, fn func(dir string) error) error {
	dir, err := os.MkdirTemp(s.tempRoot, "tablesync-")
	if err != nil {
		return infraFailed("create workspace", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logging.FromContext(ctx).Warn("workspace cleanup failed", "dir", dir, "error", err)
		}
	}()
	return fn(dir)
}

// ExportAll writes a zip holding {table}.csv for every table to w. The
// archive is staged on disk first so a failure never leaves w with a
// truncated archive.
func (s *Service) ExportAll(ctx context.Context, w io.Writer) (*ExportSummary, error) {
	var summary *ExportSummary
	err := s.withWorkspace(ctx, func(dir string) error {
		staged := filepath.Join(dir, "export.zip")
		var err error
		summary, err = s.stageExport(ctx, staged)
		if err != nil {
			return err
		}

		f, err := os.Open(staged)
		if err != nil {
			return infraFailed("open staged archive", err)
		}
		defer f.Close()

		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// stageExport writes the all-tables archive to path.
func (s *Service) stageExport(ctx context.Context, path string) (*ExportSummary, error) {
	names, err := s.catalog.ListTables(ctx)
	if err != nil {
		return nil, infraFailed("list tables", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, infraFailed("create archive", err)
	}
	defer f.Close()

	summary := &ExportSummary{}
	zw := archive.NewWriter(f)
	for _, name := range names {
		if !catalog.ValidIdentifier(name) {
			logging.WithFields(ctx, "table", name).Warn("table skipped in archive: invalid identifier")
			summary.Skipped = append(summary.Skipped, name)
			continue
		}
		t, err := s.describe(ctx, name)
		if err != nil {
			return nil, err
		}
		if !t.Addressable() {
			logging.WithFields(ctx, "table", name).Warn("table skipped in archive: invalid column identifier")
			summary.Skipped = append(summary.Skipped, name)
			continue
		}
		entry, err := zw.Create(name + csvExt)
		if err != nil {
			return nil, infraFailed("add archive entry", err)
		}
		n, err := s.exportTo(ctx, t, entry)
		if err != nil {
			return nil, err
		}
		logging.WithFields(ctx, "table", name).Debug("table archived", "rows", n)
		summary.Tables++
	}
	if err := zw.Close(); err != nil {
		return nil, infraFailed("finish archive", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, infraFailed("stat archive", err)
	}
	summary.Bytes = info.Size()
	return summary, nil
}

// ImportArchive imports every {table}.csv entry of the zip read from r.
// Each table commits or rolls back on its own; a failed entry never stops
// its siblings. Only an unreadable archive fails the whole call.
func (s *Service) ImportArchive(ctx context.Context, r io.Reader) (*BulkImportOutcome, error) {
	release, err := s.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var outcome *BulkImportOutcome
	err = s.withWorkspace(ctx, func(dir string) error {
		staged := filepath.Join(dir, "upload.zip")
		if err := writeFile(staged, r); err != nil {
			return infraFailed("stage archive", err)
		}
		var err error
		outcome, err = s.importArchiveFile(ctx, staged)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *Service) importArchiveFile(ctx context.Context, path string) (*BulkImportOutcome, error) {
	zr, err := archive.Open(path)
	if err != nil {
		return nil, archiveFailed(err)
	}
	defer zr.Close()

	known, err := s.catalog.ListTables(ctx)
	if err != nil {
		return nil, infraFailed("list tables", err)
	}
	tables := make(map[string]bool, len(known))
	for _, name := range known {
		tables[name] = true
	}

	outcome := &BulkImportOutcome{Results: []EntryResult{}}
	for _, name := range zr.Names() {
		if !strings.HasSuffix(strings.ToLower(name), csvExt) {
			continue
		}
		outcome.TotalFiles++

		result := s.importEntry(ctx, zr, name, tables)
		outcome.Results = append(outcome.Results, result)

		switch result.Status {
		case EntryIgnored:
			outcome.SkippedFiles++
		case EntrySuccess:
			outcome.ProcessedTables++
			outcome.SucceededTables++
			outcome.Totals.Inserted += result.Outcome.Inserted
			outcome.Totals.Updated += result.Outcome.Updated
			outcome.Totals.Skipped += result.Outcome.Skipped
			outcome.Totals.Errors += len(result.Outcome.Errors)
		case EntryFailed:
			outcome.ProcessedTables++
			outcome.FailedTables++
		}
	}

	attrs := append([]any{
		"files", outcome.TotalFiles,
		"succeeded", outcome.SucceededTables,
		"failed", outcome.FailedTables,
		"skipped", outcome.SkippedFiles,
	}, OriginFromContext(ctx).logAttrs()...)
	logging.FromContext(ctx).Info("archive imported", attrs...)
	return outcome, nil
}

func (s *Service) importEntry(ctx context.Context, zr *archive.Reader, name string, tables map[string]bool) EntryResult {
	result := EntryResult{FileName: name}
	logger := logging.WithFields(ctx, "archive_entry", name)

	table, ok := tableFromEntry(name)
	if !ok {
		result.Status = EntryIgnored
		result.Reason = ReasonInvalidFilename
		return result
	}
	result.TableName = table

	if !tables[table] {
		result.Status = EntryIgnored
		result.Reason = ReasonTableNotFound
		return result
	}

	data, err := zr.ReadEntry(name, s.maxEntryBytes)
	if err != nil {
		logger.Warn("archive entry unreadable", "error", err)
		result.Status = EntryFailed
		result.Message = err.Error()
		return result
	}

	imported, err := s.importTable(ctx, table, data)
	if err != nil {
		logger.Warn("archive entry failed", "kind", KindOf(err).String(), "error", err)
		result.Status = EntryFailed
		result.Message = err.Error()
		result.Outcome = imported
		return result
	}

	result.Status = EntrySuccess
	result.Outcome = imported
	return result
}

// tableFromEntry derives the table name from an entry name. Nested paths
// and names that are not plain identifiers are rejected.
func tableFromEntry(name string) (string, bool) {
	if strings.ContainsAny(name, `/\`) {
		return "", false
	}
	stem := name[:len(name)-len(csvExt)]
	if !catalog.ValidIdentifier(stem) {
		return "", false
	}
	return stem, true
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Snapshot stores the all-tables archive in the snapshot store.
func (s *Service) Snapshot(ctx context.Context) (*SnapshotResult, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}

	var result *SnapshotResult
	err := s.withWorkspace(ctx, func(dir string) error {
		staged := filepath.Join(dir, "snapshot.zip")
		summary, err := s.stageExport(ctx, staged)
		if err != nil {
			return err
		}

		key := snapshot.NewKey(s.snapshotPrefix, time.Now())
		if err := s.snapshots.Upload(ctx, staged, key); err != nil {
			return infraFailed("store snapshot", err)
		}
		result = &SnapshotResult{Key: key, Tables: summary.Tables, Bytes: summary.Bytes}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("snapshot stored", "key", result.Key, "tables", result.Tables, "bytes", result.Bytes)
	return result, nil
}

// ListSnapshots returns stored snapshots, newest first.
func (s *Service) ListSnapshots(ctx context.Context) ([]snapshot.Object, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	objects, err := s.snapshots.List(ctx, s.snapshotPrefix)
	if err != nil {
		return nil, infraFailed("list snapshots", err)
	}
	if objects == nil {
		objects = []snapshot.Object{}
	}
	return objects, nil
}

// RestoreSnapshot imports a stored snapshot with the same per-table
// isolation as ImportArchive.
func (s *Service) RestoreSnapshot(ctx context.Context, key string) (*BulkImportOutcome, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	if !snapshot.ValidKey(s.snapshotPrefix, key) {
		return nil, snapshotNotFound(key, snapshot.ErrObjectNotFound)
	}

	release, err := s.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var outcome *BulkImportOutcome
	err = s.withWorkspace(ctx, func(dir string) error {
		staged := filepath.Join(dir, "restore.zip")
		if err := s.snapshots.Download(ctx, key, staged); err != nil {
			if errors.Is(err, snapshot.ErrObjectNotFound) {
				return snapshotNotFound(key, err)
			}
			return infraFailed("fetch snapshot", err)
		}
		var err error
		outcome, err = s.importArchiveFile(ctx, staged)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}
