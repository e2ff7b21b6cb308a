package core

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/tablesync/internal/catalog"
	"github.com/JonMunkholm/tablesync/internal/tabular"
)

// ErrorKind classifies failures for the transport layer.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindConnectivity
	KindNotFound
	KindValidation
	KindWrite
	KindArchive
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindWrite:
		return "write"
	case KindArchive:
		return "archive"
	default:
		return "internal"
	}
}

// ErrSnapshotsDisabled is returned by snapshot operations when no store is configured.
var ErrSnapshotsDisabled = errors.New("snapshots disabled")

// Error is a classified service failure. Outcome is set for import
// failures that still produce counts.
type Error struct {
	Kind    ErrorKind
	Message string
	Outcome *ImportOutcome
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Unclassified errors are KindConnectivity when they
// look like a lost or refused connection and KindInternal otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, catalog.ErrTableNotFound) {
		return KindNotFound
	}
	if isConnectivity(err) {
		return KindConnectivity
	}
	return KindInternal
}

// OutcomeOf returns the import outcome attached to err, if any.
func OutcomeOf(err error) *ImportOutcome {
	var e *Error
	if errors.As(err, &e) {
		return e.Outcome
	}
	return nil
}

func isConnectivity(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	return pgconn.SafeToRetry(err)
}

func notFound(table string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("数据表 %s 不存在", table),
		Err:     fmt.Errorf("%w: %s", catalog.ErrTableNotFound, table),
	}
}

func snapshotNotFound(key string, cause error) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("快照 %s 不存在", key), Err: cause}
}

func validationFailed(message string, cause error, outcome *ImportOutcome) *Error {
	return &Error{Kind: KindValidation, Message: message, Outcome: outcome, Err: cause}
}

func writeFailed(row, total int, cause error) *Error {
	msg := fmt.Sprintf("第 %d 行写入失败: %s", row, cause.Error())
	return &Error{
		Kind:    KindWrite,
		Message: msg,
		Outcome: rejected(total, []tabular.RowError{{Row: row, Message: msg}}),
		Err:     cause,
	}
}

func archiveFailed(cause error) *Error {
	return &Error{Kind: KindArchive, Message: cause.Error(), Err: cause}
}

// infraFailed wraps a database or filesystem failure, keeping its message.
func infraFailed(op string, cause error) *Error {
	kind := KindInternal
	if isConnectivity(cause) {
		kind = KindConnectivity
	}
	return &Error{Kind: kind, Message: op + ": " + cause.Error(), Err: cause}
}
