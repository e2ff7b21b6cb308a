package core

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JonMunkholm/tablesync/internal/catalog"
	"github.com/JonMunkholm/tablesync/internal/config"
	"github.com/JonMunkholm/tablesync/internal/snapshot"
)

// Service implements table listing, browsing, CSV import/export and
// archive orchestration against one database schema.
type Service struct {
	db      DB
	catalog *catalog.Reader
	qb      sq.StatementBuilderType
	limiter *ImportLimiter

	snapshots      snapshot.Store
	snapshotPrefix string

	tempRoot      string
	maxEntryBytes int64
	importTimeout time.Duration
}

// NewService wires a Service from cfg. store may be nil when snapshots are
// disabled.
func NewService(db DB, cfg *config.Config, store snapshot.Store) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("core: nil database")
	}
	if cfg == nil {
		return nil, fmt.Errorf("core: nil config")
	}

	return &Service{
		db:             db,
		catalog:        catalog.NewReader(db, cfg.Database.Schema, cfg.Database.QueryTimeout),
		qb:             sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		limiter:        NewImportLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		snapshots:      store,
		snapshotPrefix: cfg.Snapshot.Prefix,
		tempRoot:       cfg.Archive.TempDir,
		maxEntryBytes:  cfg.Archive.MaxFileSize,
		importTimeout:  cfg.Upload.Timeout,
	}, nil
}

// Catalog exposes the schema reader.
func (s *Service) Catalog() *catalog.Reader {
	return s.catalog
}

// Ping checks database connectivity.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return infraFailed("ping database", err)
	}
	return nil
}

// ImportLimiterStatus reports import slot usage.
func (s *Service) ImportLimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until running imports finish or ctx ends.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ListTables describes every base table in the schema.
func (s *Service) ListTables(ctx context.Context) ([]TableSummary, error) {
	names, err := s.catalog.ListTables(ctx)
	if err != nil {
		return nil, infraFailed("list tables", err)
	}
	estimates, err := s.catalog.EstimateRowCounts(ctx)
	if err != nil {
		return nil, infraFailed("estimate row counts", err)
	}

	summaries := make([]TableSummary, 0, len(names))
	for _, name := range names {
		columns, err := s.catalog.ListColumns(ctx, name)
		if err != nil {
			return nil, infraFailed("list columns", err)
		}
		keys, err := s.catalog.ListPrimaryKeyColumns(ctx, name)
		if err != nil {
			return nil, infraFailed("list primary key", err)
		}

		summary := TableSummary{
			TableName:         name,
			RowCountEstimate:  estimates[name],
			PrimaryKeyColumns: keys,
			Columns:           columns,
		}
		if summary.PrimaryKeyColumns == nil {
			summary.PrimaryKeyColumns = []string{}
		}
		if len(keys) == 1 {
			pk := keys[0]
			summary.PrimaryKey = &pk
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// describe resolves a table, mapping a missing table to KindNotFound.
func (s *Service) describe(ctx context.Context, table string) (*catalog.Table, error) {
	t, err := s.catalog.Describe(ctx, table)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return nil, notFound(table)
		}
		return nil, infraFailed("describe table", err)
	}
	return t, nil
}
