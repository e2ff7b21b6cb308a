package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/JonMunkholm/tablesync/internal/catalog"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Browse returns one page of table rows.
//
// Search matches case-insensitively against every text column. An unknown
// SortBy falls back to the first primary key column (or the first column)
// and SortOrder defaults to descending. Page is clamped to the last page.
func (s *Service) Browse(ctx context.Context, table string, p BrowseParams) (*BrowseResult, error) {
	t, err := s.describe(ctx, table)
	if err != nil {
		return nil, err
	}

	qualified, err := catalog.QuoteQualified(t.Schema, t.Name)
	if err != nil {
		return nil, validationFailed(err.Error(), err, nil)
	}
	columns, err := catalog.QuoteIdents(t.ColumnNames())
	if err != nil {
		return nil, validationFailed(err.Error(), err, nil)
	}

	p = normalizeBrowse(t, p)

	where, err := searchCondition(t, p.Search)
	if err != nil {
		return nil, validationFailed(err.Error(), err, nil)
	}

	countQ := s.qb.Select("COUNT(*)").From(qualified)
	if where != nil {
		countQ = countQ.Where(where)
	}
	query, args, err := countQ.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}
	var total int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return nil, infraFailed("count "+t.Name, err)
	}

	totalPages := 1
	if total > 0 {
		totalPages = int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	}
	if p.Page > totalPages {
		p.Page = totalPages
	}

	sortCol, err := catalog.QuoteIdent(p.SortBy)
	if err != nil {
		return nil, validationFailed(err.Error(), err, nil)
	}
	pageQ := s.qb.Select(columns...).
		From(qualified).
		OrderBy(sortCol + " " + strings.ToUpper(p.SortOrder)).
		Limit(uint64(p.PageSize)).
		Offset(uint64((p.Page - 1) * p.PageSize))
	if where != nil {
		pageQ = pageQ.Where(where)
	}
	query, args, err = pageQ.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build page query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, infraFailed("browse "+t.Name, err)
	}
	defer rows.Close()

	names := t.ColumnNames()
	out := make([]map[string]any, 0, p.PageSize)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, infraFailed("read "+t.Name, err)
		}
		row := make(map[string]any, len(names))
		for i, name := range names {
			if i < len(values) {
				row[name] = jsonValue(values[i])
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, infraFailed("browse "+t.Name, err)
	}

	return &BrowseResult{
		Rows:       out,
		ColumnMeta: t.Columns,
		Pagination: Pagination{
			Page:       p.Page,
			PageSize:   p.PageSize,
			Total:      total,
			TotalPages: totalPages,
		},
		Sort: SortInfo{SortBy: p.SortBy, SortOrder: p.SortOrder},
	}, nil
}

func normalizeBrowse(t *catalog.Table, p BrowseParams) BrowseParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	if _, ok := t.Column(p.SortBy); !ok {
		p.SortBy = t.DefaultSortColumn()
	}
	switch strings.ToLower(p.SortOrder) {
	case SortAsc:
		p.SortOrder = SortAsc
	default:
		p.SortOrder = SortDesc
	}
	p.Search = strings.TrimSpace(p.Search)
	return p
}

// searchCondition ORs an ILIKE substring match over the text columns.
// It returns nil for an empty search.
func searchCondition(t *catalog.Table, search string) (sq.Sqlizer, error) {
	if search == "" {
		return nil, nil
	}
	pattern := "%" + likeEscaper.Replace(search) + "%"

	var or sq.Or
	for _, c := range t.Columns {
		if !c.Kind.Searchable() {
			continue
		}
		q, err := catalog.QuoteIdent(c.Name)
		if err != nil {
			return nil, err
		}
		or = append(or, sq.ILike{q: pattern})
	}
	// An empty Or renders as (1=0): a table without text columns matches nothing.
	return or, nil
}

// jsonValue converts driver values that encoding/json renders poorly.
func jsonValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return `\x` + hex.EncodeToString(val)
	default:
		return v
	}
}
