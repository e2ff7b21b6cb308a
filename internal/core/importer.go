package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/tablesync/internal/catalog"
	"github.com/JonMunkholm/tablesync/internal/logging"
	"github.com/JonMunkholm/tablesync/internal/tabular"
)

// ImportTable upserts CSV data into table as one transaction.
//
// Validation problems abort before a transaction is opened. The first
// database error rolls back every row of the file. For both failures the
// returned outcome reports zero writes and the error is an *Error carrying
// the same outcome.
func (s *Service) ImportTable(ctx context.Context, table string, data []byte) (*ImportOutcome, error) {
	release, err := s.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.importTable(ctx, table, data)
}

func (s *Service) importTable(ctx context.Context, table string, data []byte) (*ImportOutcome, error) {
	if s.importTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.importTimeout)
		defer cancel()
	}

	t, err := s.describe(ctx, table)
	if err != nil {
		return nil, err
	}
	return s.importInto(ctx, t, tabular.DecodeText(data))
}

func (s *Service) importInto(ctx context.Context, t *catalog.Table, raw string) (*ImportOutcome, error) {
	doc, err := tabular.Decode(raw, t.Columns)
	if err != nil {
		outcome := rejected(doc.Total, nil)
		return outcome, validationFailed(err.Error(), err, outcome)
	}
	if len(doc.Errors) > 0 {
		outcome := rejected(doc.Total, doc.Errors)
		msg := fmt.Sprintf("CSV 校验失败: 共 %d 行存在错误", len(doc.Errors))
		return outcome, validationFailed(msg, doc.Errors[0], outcome)
	}

	outcome, err := s.applyRows(ctx, t, doc)
	if err != nil {
		return OutcomeOf(err), err
	}

	attrs := append([]any{
		"total", outcome.Total,
		"inserted", outcome.Inserted,
		"updated", outcome.Updated,
		"skipped", outcome.Skipped,
	}, OriginFromContext(ctx).logAttrs()...)
	logging.WithFields(ctx, "table", t.Name).Info("table imported", attrs...)
	return outcome, nil
}

// applyRows writes validated rows in file order inside one transaction.
func (s *Service) applyRows(ctx context.Context, t *catalog.Table, doc *tabular.Document) (*ImportOutcome, error) {
	logger := logging.WithFields(ctx, "table", t.Name)

	table, err := catalog.QuoteQualified(t.Schema, t.Name)
	if err != nil {
		return nil, validationFailed(err.Error(), err, rejected(doc.Total, nil))
	}
	pk, hasPK := t.SinglePrimaryKey()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, infraFailed("begin transaction", err)
	}
	defer rollbackQuietly(ctx, tx, logger)

	outcome := &ImportOutcome{Total: doc.Total, Errors: []tabular.RowError{}}

	for i, row := range doc.Rows {
		rowNum := doc.RowNumbers[i]

		if !row.HasValues() {
			outcome.Skipped++
			continue
		}

		if hasPK && row[pk] != nil {
			inserted, err := s.upsertRow(ctx, tx, t, table, pk, row)
			if err != nil {
				logger.Warn("row write failed, rolling back", "row", rowNum, "error", err)
				return nil, writeFailed(rowNum, doc.Total, err)
			}
			if inserted {
				outcome.Inserted++
			} else {
				outcome.Updated++
			}
			continue
		}

		exclude := ""
		if hasPK {
			exclude = pk
		}
		wrote, err := s.insertRow(ctx, tx, t, table, exclude, row)
		if err != nil {
			logger.Warn("row write failed, rolling back", "row", rowNum, "error", err)
			return nil, writeFailed(rowNum, doc.Total, err)
		}
		if wrote {
			outcome.Inserted++
		} else {
			outcome.Skipped++
		}
	}

	if hasPK && pk == "id" {
		s.resyncSequence(ctx, tx, t, table, logger)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			msg := "提交失败: " + err.Error()
			return nil, &Error{Kind: KindWrite, Message: msg, Outcome: rejected(doc.Total, nil), Err: err}
		}
		return nil, infraFailed("commit", err)
	}
	return outcome, nil
}

// upsertRow inserts row or, on primary key conflict, updates its non-key
// columns. It reports whether a new tuple was created.
func (s *Service) upsertRow(ctx context.Context, tx pgx.Tx, t *catalog.Table, table, pk string, row tabular.Row) (bool, error) {
	cols, quoted, values, err := rowValues(t, row, "")
	if err != nil {
		return false, err
	}

	quotedPK, err := catalog.QuoteIdent(pk)
	if err != nil {
		return false, err
	}

	var set []string
	for i, c := range cols {
		if c.Name == pk {
			continue
		}
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
	}
	if len(set) == 0 {
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", quotedPK, quotedPK))
	}

	query, args, err := s.qb.Insert(table).
		Columns(quoted...).
		Values(values...).
		Suffix(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0)", quotedPK, strings.Join(set, ", "))).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build upsert: %w", err)
	}

	var inserted bool
	if err := tx.QueryRow(ctx, query, args...).Scan(&inserted); err != nil {
		return false, err
	}
	return inserted, nil
}

// insertRow inserts every present column except exclude. It reports false
// without writing when no column remains.
func (s *Service) insertRow(ctx context.Context, tx pgx.Tx, t *catalog.Table, table, exclude string, row tabular.Row) (bool, error) {
	_, quoted, values, err := rowValues(t, row, exclude)
	if err != nil {
		return false, err
	}
	if len(quoted) == 0 {
		return false, nil
	}

	query, args, err := s.qb.Insert(table).Columns(quoted...).Values(values...).ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return false, err
	}
	return true, nil
}

// rowValues lists the row's present columns in table order with their
// quoted names and bind expressions.
func rowValues(t *catalog.Table, row tabular.Row, exclude string) ([]catalog.Column, []string, []any, error) {
	var (
		cols   []catalog.Column
		quoted []string
		values []any
	)
	for _, c := range t.Columns {
		v, present := row[c.Name]
		if !present || c.Name == exclude {
			continue
		}
		q, err := catalog.QuoteIdent(c.Name)
		if err != nil {
			return nil, nil, nil, err
		}
		expr, err := bindValue(c, v)
		if err != nil {
			return nil, nil, nil, err
		}
		cols = append(cols, c)
		quoted = append(quoted, q)
		values = append(values, expr)
	}
	return cols, quoted, values, nil
}

// bindValue returns the parameter for v. Kinds without a natural Go
// encoding are sent as text and cast to the column's declared type.
func bindValue(c catalog.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch c.Kind {
	case catalog.KindBoolean, catalog.KindInteger, catalog.KindFloat, catalog.KindText:
		return v, nil
	case catalog.KindJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", c.Name, err)
		}
		return castText(c, string(b))
	case catalog.KindArray:
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("encode %s: expected array, got %T", c.Name, v)
		}
		return castText(c, arrayLiteral(items))
	default:
		return castText(c, fmt.Sprint(v))
	}
}

func castText(c catalog.Column, text string) (any, error) {
	typeName := c.UDTName
	if typeName == "" {
		typeName = c.DataType
	}
	var quotedType string
	if c.UDTSchema != "" {
		quotedType = pgx.Identifier{c.UDTSchema, typeName}.Sanitize()
	} else {
		quotedType = pgx.Identifier{typeName}.Sanitize()
	}
	return sq.Expr("CAST(CAST(? AS text) AS "+quotedType+")", text), nil
}

// arrayLiteral renders JSON array items as a PostgreSQL array literal.
func arrayLiteral(items []any) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		switch v := item.(type) {
		case nil:
			b.WriteString("NULL")
		case []any:
			b.WriteString(arrayLiteral(v))
		case string:
			b.WriteString(quoteArrayElement(v))
		case json.Number:
			b.WriteString(v.String())
		case bool:
			if v {
				b.WriteString("true")
			} else {
				b.WriteString("false")
			}
		default:
			enc, err := json.Marshal(v)
			if err != nil {
				enc = []byte(fmt.Sprint(v))
			}
			b.WriteString(quoteArrayElement(string(enc)))
		}
	}
	b.WriteByte('}')
	return b.String()
}

func quoteArrayElement(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// resyncSequence moves the sequence behind an integer "id" key to MAX(id).
// It runs in a savepoint so a failure never aborts the import.
func (s *Service) resyncSequence(ctx context.Context, tx pgx.Tx, t *catalog.Table, table string, logger *slog.Logger) {
	col, ok := t.Column("id")
	if !ok || col.Kind != catalog.KindInteger {
		return
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		logger.Warn("sequence resync skipped", "error", err)
		return
	}

	_, err = sp.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence($1, 'id'), COALESCE(MAX("id"), 1), MAX("id") IS NOT NULL) FROM `+table,
		table,
	)
	if err != nil {
		logger.Warn("sequence resync failed", "error", err)
		rollbackQuietly(ctx, sp, logger)
		return
	}
	if err := sp.Commit(ctx); err != nil {
		logger.Warn("sequence resync release failed", "error", err)
	}
}

// rollbackQuietly rolls tx back even when ctx is already canceled. Closed
// transactions are ignored; other failures are logged and dropped.
func rollbackQuietly(ctx context.Context, tx pgx.Tx, logger *slog.Logger) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Warn("rollback failed", "error", err)
	}
}
