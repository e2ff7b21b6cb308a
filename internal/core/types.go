package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/tablesync/internal/catalog"
	"github.com/JonMunkholm/tablesync/internal/tabular"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// DB is a connection pool that can open transactions.
type DB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// MaxReportedErrors caps the row errors carried by an ImportOutcome.
const MaxReportedErrors = 200

// ImportOutcome summarizes one single-table import.
type ImportOutcome struct {
	Total    int                `json:"total"`
	Inserted int                `json:"inserted"`
	Updated  int                `json:"updated"`
	Skipped  int                `json:"skipped"`
	Errors   []tabular.RowError `json:"errors"`
}

// rejected reports a file that wrote nothing: every row counts as skipped.
func rejected(total int, errs []tabular.RowError) *ImportOutcome {
	if len(errs) > MaxReportedErrors {
		errs = errs[:MaxReportedErrors]
	}
	if errs == nil {
		errs = []tabular.RowError{}
	}
	return &ImportOutcome{Total: total, Skipped: total, Errors: errs}
}

// Archive entry statuses.
const (
	EntrySuccess = "success"
	EntryFailed  = "failed"
	EntryIgnored = "ignored"
)

// Reasons an archive entry is ignored.
const (
	ReasonInvalidFilename = "invalid_filename_or_nested_path"
	ReasonTableNotFound   = "table_not_found"
)

// EntryResult is the outcome of one CSV entry in an archive import.
type EntryResult struct {
	FileName  string         `json:"fileName"`
	TableName string         `json:"tableName,omitempty"`
	Status    string         `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Message   string         `json:"message,omitempty"`
	Outcome   *ImportOutcome `json:"outcome,omitempty"`
}

// RowTotals sums row classifications across the succeeded tables.
type RowTotals struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// BulkImportOutcome summarizes an archive import.
type BulkImportOutcome struct {
	TotalFiles      int           `json:"totalFiles"`
	ProcessedTables int           `json:"processedTables"`
	SkippedFiles    int           `json:"skippedFiles"`
	SucceededTables int           `json:"succeededTables"`
	FailedTables    int           `json:"failedTables"`
	Totals          RowTotals     `json:"totals"`
	Results         []EntryResult `json:"results"`
}

// TableSummary is one entry of the table listing.
type TableSummary struct {
	TableName         string           `json:"tableName"`
	RowCountEstimate  int64            `json:"rowCountEstimate"`
	PrimaryKey        *string          `json:"primaryKey"`
	PrimaryKeyColumns []string         `json:"primaryKeyColumns"`
	Columns           []catalog.Column `json:"columns"`
}

// Sort directions accepted by Browse.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Browse paging limits.
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// BrowseParams selects one page of rows.
type BrowseParams struct {
	Page      int
	PageSize  int
	Search    string
	SortBy    string
	SortOrder string
}

// Pagination describes the page returned by Browse.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// SortInfo echoes the effective sort.
type SortInfo struct {
	SortBy    string `json:"sortBy"`
	SortOrder string `json:"sortOrder"`
}

// BrowseResult is one page of rows with the table's column metadata.
type BrowseResult struct {
	Rows       []map[string]any `json:"rows"`
	ColumnMeta []catalog.Column `json:"columnMeta"`
	Pagination Pagination       `json:"pagination"`
	Sort       SortInfo         `json:"sort"`
}

// SnapshotResult describes a stored snapshot archive.
type SnapshotResult struct {
	Key    string `json:"key"`
	Tables int    `json:"tables"`
	Bytes  int64  `json:"bytes"`
}
