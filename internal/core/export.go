package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/tablesync/internal/catalog"
	"github.com/JonMunkholm/tablesync/internal/tabular"
)

// ExportTable streams every row of table to w as CSV, header first, in
// primary key order when the table has one.
func (s *Service) ExportTable(ctx context.Context, table string, w io.Writer) error {
	t, err := s.describe(ctx, table)
	if err != nil {
		return err
	}
	_, err = s.exportTo(ctx, t, w)
	return err
}

// TemplateCSV returns the header-only CSV for table.
func (s *Service) TemplateCSV(ctx context.Context, table string) (string, error) {
	t, err := s.describe(ctx, table)
	if err != nil {
		return "", err
	}
	return tabular.Template(t.ColumnNames()), nil
}

func (s *Service) exportTo(ctx context.Context, t *catalog.Table, w io.Writer) (int, error) {
	query, err := s.selectAll(t)
	if err != nil {
		return 0, err
	}

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return 0, infraFailed("export "+t.Name, err)
	}
	defer rows.Close()

	cw := tabular.NewWriter(w)
	if err := cw.Write(t.ColumnNames()); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	n := 0
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return n, infraFailed("read "+t.Name, err)
		}
		if err := cw.WriteRow(values, t.Columns); err != nil {
			return n, fmt.Errorf("write row: %w", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, infraFailed("export "+t.Name, err)
	}
	if err := cw.Flush(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}

func (s *Service) selectAll(t *catalog.Table) (string, error) {
	table, err := catalog.QuoteQualified(t.Schema, t.Name)
	if err != nil {
		return "", validationFailed(err.Error(), err, nil)
	}
	cols, err := catalog.QuoteIdents(t.ColumnNames())
	if err != nil {
		return "", validationFailed(err.Error(), err, nil)
	}

	b := s.qb.Select(cols...).From(table)
	if len(t.PrimaryKey) > 0 {
		keys, err := catalog.QuoteIdents(t.PrimaryKey)
		if err != nil {
			return "", validationFailed(err.Error(), err, nil)
		}
		b = b.OrderBy(strings.Join(keys, ", "))
	}

	query, _, err := b.ToSql()
	if err != nil {
		return "", fmt.Errorf("build export query: %w", err)
	}
	return query, nil
}
