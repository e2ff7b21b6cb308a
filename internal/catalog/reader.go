// Package catalog reads table and column metadata from the live PostgreSQL
// catalog. Nothing here is cached: each call reflects the current schema.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrTableNotFound is returned by Describe for names that are not base tables.
var ErrTableNotFound = errors.New("table not found")

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Reader queries information_schema and pg_catalog for one schema.
type Reader struct {
	db           Querier
	schema       string
	queryTimeout time.Duration
}

// NewReader creates a catalog reader bound to schema.
func NewReader(db Querier, schema string, queryTimeout time.Duration) *Reader {
	if schema == "" {
		schema = "public"
	}
	return &Reader{db: db, schema: schema, queryTimeout: queryTimeout}
}

// Schema returns the namespace this reader inspects.
func (r *Reader) Schema() string {
	return r.schema
}

// withTimeout applies the query timeout unless the parent deadline is sooner.
func (r *Reader) withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return context.WithCancel(parent)
	}
	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) <= r.queryTimeout {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, r.queryTimeout)
}

// ListTables returns base table names in the schema, sorted ascending.
func (r *Reader) ListTables(ctx context.Context) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT table_name::text
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`, r.schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

// ListColumns returns the table's columns ordered by ordinal position.
// An unknown table yields an empty slice, not an error.
func (r *Reader) ListColumns(ctx context.Context, table string) ([]Column, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT column_name::text,
		       data_type::text,
		       udt_name::text,
		       udt_schema::text,
		       is_nullable = 'YES',
		       column_default::text,
		       ordinal_position::int
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, r.schema, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	columns := make([]Column, 0, 16)
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.UDTName, &c.UDTSchema, &c.Nullable, &c.Default, &c.Position); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		c.Kind = ClassifyType(c.DataType, c.UDTName)
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	return columns, nil
}

// ListPrimaryKeyColumns returns primary key columns in key order.
func (r *Reader) ListPrimaryKeyColumns(ctx context.Context, table string) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT kcu.column_name::text
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		 AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = $1
		  AND tc.table_name = $2
		ORDER BY kcu.ordinal_position
	`, r.schema, table)
	if err != nil {
		return nil, fmt.Errorf("list primary key of %s: %w", table, err)
	}

	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list primary key of %s: %w", table, err)
	}
	return keys, nil
}

// EstimateRowCounts returns planner row estimates for every table in one
// query. Tables never analyzed report 0.
func (r *Reader) EstimateRowCounts(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT c.relname::text, GREATEST(c.reltuples, 0)::bigint
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind IN ('r', 'p')
	`, r.schema)
	if err != nil {
		return nil, fmt.Errorf("estimate row counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var estimate int64
		if err := rows.Scan(&name, &estimate); err != nil {
			return nil, fmt.Errorf("scan row estimate: %w", err)
		}
		if estimate < 0 {
			estimate = 0
		}
		counts[name] = estimate
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("estimate row counts: %w", err)
	}
	return counts, nil
}

// TableExists reports whether table is a base table in the schema.
func (r *Reader) TableExists(ctx context.Context, table string) (bool, error) {
	if !ValidIdentifier(table) {
		return false, nil
	}
	tables, err := r.ListTables(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(tables, table), nil
}

// Describe loads columns and primary key for one table.
// Returns ErrTableNotFound when the table does not exist.
func (r *Reader) Describe(ctx context.Context, table string) (*Table, error) {
	exists, err := r.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	columns, err := r.ListColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	keys, err := r.ListPrimaryKeyColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	return &Table{
		Schema:     r.schema,
		Name:       table,
		Columns:    columns,
		PrimaryKey: keys,
	}, nil
}
