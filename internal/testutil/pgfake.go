package testutil

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Result is the scripted response to one statement.
type Result struct {
	Rows [][]any
	Tag  string
	Err  error
}

// Responder builds a Result from the statement arguments.
type Responder func(args []any) Result

// Call records one statement sent to the fake.
type Call struct {
	SQL  string
	Args []any
	InTx bool
}

type handler struct {
	contains string
	respond  Responder
}

// FakeDB is a scriptable stand-in for *pgxpool.Pool. Statements are matched
// by substring against registered handlers, first registration wins.
// Unmatched statements fail so tests notice unexpected SQL.
type FakeDB struct {
	BeginErr  error
	CommitErr error
	PingErr   error

	mu                 sync.Mutex
	handlers           []handler
	calls              []Call
	begins             int
	commits            int
	rollbacks          int
	savepoints         int
	savepointRollbacks int
}

// NewFakeDB returns an empty fake.
func NewFakeDB() *FakeDB {
	return &FakeDB{}
}

// On registers a responder for statements containing substr.
func (f *FakeDB) On(substr string, respond Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler{contains: substr, respond: respond})
}

// OnRows registers a fixed row set for statements containing substr.
func (f *FakeDB) OnRows(substr string, rows ...[]any) {
	f.On(substr, func([]any) Result { return Result{Rows: rows} })
}

// OnExec registers a successful command tag for statements containing substr.
func (f *FakeDB) OnExec(substr, tag string) {
	f.On(substr, func([]any) Result { return Result{Tag: tag} })
}

// Calls returns every statement received so far.
func (f *FakeDB) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallsMatching returns statements containing substr.
func (f *FakeDB) CallsMatching(substr string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if strings.Contains(c.SQL, substr) {
			out = append(out, c)
		}
	}
	return out
}

// Begins returns how many top-level transactions were opened.
func (f *FakeDB) Begins() int { f.mu.Lock(); defer f.mu.Unlock(); return f.begins }

// Commits returns how many top-level transactions committed.
func (f *FakeDB) Commits() int { f.mu.Lock(); defer f.mu.Unlock(); return f.commits }

// Rollbacks returns how many top-level transactions rolled back.
func (f *FakeDB) Rollbacks() int { f.mu.Lock(); defer f.mu.Unlock(); return f.rollbacks }

// Savepoints returns how many nested transactions were opened.
func (f *FakeDB) Savepoints() int { f.mu.Lock(); defer f.mu.Unlock(); return f.savepoints }

// SavepointRollbacks returns how many nested transactions rolled back.
func (f *FakeDB) SavepointRollbacks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.savepointRollbacks
}

func (f *FakeDB) respond(sql string, args []any, inTx bool) Result {
	f.mu.Lock()
	f.calls = append(f.calls, Call{SQL: sql, Args: args, InTx: inTx})
	handlers := slices.Clone(f.handlers)
	f.mu.Unlock()

	for _, h := range handlers {
		if strings.Contains(sql, h.contains) {
			return h.respond(args)
		}
	}
	return Result{Err: fmt.Errorf("testutil: unexpected statement: %s", strings.Join(strings.Fields(sql), " "))}
}

// Exec implements the pgx Exec contract.
func (f *FakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return f.exec(sql, args, false)
}

// Query implements the pgx Query contract.
func (f *FakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return f.query(sql, args, false)
}

// QueryRow implements the pgx QueryRow contract.
func (f *FakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.queryRow(sql, args, false)
}

// Begin opens a fake transaction.
func (f *FakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.BeginErr != nil {
		return nil, f.BeginErr
	}
	f.mu.Lock()
	f.begins++
	f.mu.Unlock()
	return &Tx{db: f}, nil
}

// Ping returns PingErr.
func (f *FakeDB) Ping(ctx context.Context) error {
	return f.PingErr
}

func (f *FakeDB) exec(sql string, args []any, inTx bool) (pgconn.CommandTag, error) {
	r := f.respond(sql, args, inTx)
	return pgconn.NewCommandTag(r.Tag), r.Err
}

func (f *FakeDB) query(sql string, args []any, inTx bool) (pgx.Rows, error) {
	r := f.respond(sql, args, inTx)
	if r.Err != nil {
		return nil, r.Err
	}
	return &Rows{data: r.Rows}, nil
}

func (f *FakeDB) queryRow(sql string, args []any, inTx bool) pgx.Row {
	r := f.respond(sql, args, inTx)
	return &Row{data: r.Rows, err: r.Err}
}

// Tx is a fake pgx.Tx. Methods not listed here are left unimplemented and
// panic through the nil embedded interface.
type Tx struct {
	pgx.Tx

	db     *FakeDB
	parent *Tx
	closed bool
}

// Begin opens a savepoint.
func (t *Tx) Begin(ctx context.Context) (pgx.Tx, error) {
	if t.closed {
		return nil, pgx.ErrTxClosed
	}
	t.db.mu.Lock()
	t.db.savepoints++
	t.db.mu.Unlock()
	return &Tx{db: t.db, parent: t}, nil
}

// Commit closes the transaction, returning CommitErr for top-level commits.
func (t *Tx) Commit(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	if t.parent != nil {
		return nil
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.CommitErr != nil {
		t.db.rollbacks++
		return t.db.CommitErr
	}
	t.db.commits++
	return nil
}

// Rollback closes the transaction. A closed transaction returns ErrTxClosed.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.parent != nil {
		t.db.savepointRollbacks++
	} else {
		t.db.rollbacks++
	}
	return nil
}

// Exec runs inside the transaction.
func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.exec(sql, args, true)
}

// Query runs inside the transaction.
func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.query(sql, args, true)
}

// QueryRow runs inside the transaction.
func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.queryRow(sql, args, true)
}

// Rows iterates a scripted result set.
type Rows struct {
	data   [][]any
	idx    int
	closed bool
}

func (r *Rows) Close()     { r.closed = true }
func (r *Rows) Err() error { return nil }

func (r *Rows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag("SELECT " + strconv.Itoa(len(r.data)))
}

func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *Rows) Next() bool {
	if r.closed || r.idx >= len(r.data) {
		r.closed = true
		return false
	}
	r.idx++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.data) {
		return fmt.Errorf("testutil: Scan called without a current row")
	}
	return scanInto(r.data[r.idx-1], dest)
}

func (r *Rows) Values() ([]any, error) {
	if r.idx == 0 || r.idx > len(r.data) {
		return nil, fmt.Errorf("testutil: Values called without a current row")
	}
	return slices.Clone(r.data[r.idx-1]), nil
}

func (r *Rows) RawValues() [][]byte { return nil }
func (r *Rows) Conn() *pgx.Conn     { return nil }

// Row is a scripted single-row result.
type Row struct {
	data [][]any
	err  error
}

func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(r.data) == 0 {
		return pgx.ErrNoRows
	}
	return scanInto(r.data[0], dest)
}

func scanInto(row []any, dest []any) error {
	if len(row) != len(dest) {
		return fmt.Errorf("testutil: row has %d values, Scan got %d targets", len(row), len(dest))
	}
	for i := range dest {
		if err := assign(dest[i], row[i]); err != nil {
			return fmt.Errorf("testutil: column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, value any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination %T is not a non-nil pointer", dest)
	}
	target := dv.Elem()

	if value == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}

	sv := reflect.ValueOf(value)
	switch {
	case sv.Type().AssignableTo(target.Type()):
		target.Set(sv)
	case target.Kind() == reflect.Pointer && sv.Type().AssignableTo(target.Type().Elem()):
		p := reflect.New(target.Type().Elem())
		p.Elem().Set(sv)
		target.Set(p)
	case sv.Type().ConvertibleTo(target.Type()) && sv.Kind() != reflect.String:
		target.Set(sv.Convert(target.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", value, target.Type())
	}
	return nil
}
