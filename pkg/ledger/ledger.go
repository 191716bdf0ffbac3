// Package ledger defines the narrow interface this module needs from the
// ledger itself. No concrete ledger/QLDB client is vendored here — see
// SPEC_FULL.md's Non-goals — a deployment provides a Driver implementation
// that speaks to the actual ledger over whatever session/transport it uses.
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Row is a single document returned from a query against the ledger,
// shaped like a committed-view row: {"data": {...}, "metadata": {...}}.
type Row = map[string]any

// Transaction is the set of operations available inside a single ledger
// transaction body. Implementations are expected to be PartiQL-shaped
// (QLDB-style): Query runs a read returning committed-view rows, Exec runs
// a mutating statement (INSERT/UPDATE/DELETE).
type Transaction interface {
	Query(ctx context.Context, statement string, params ...any) ([]Row, error)
	Exec(ctx context.Context, statement string, params ...any) error
}

// TxnFunc is a ledger transaction body. It must be idempotent under
// re-execution: the Driver may call it more than once for a single logical
// WriteEvent if the ledger reports an optimistic-concurrency conflict. It
// must not close over mutable state from a previous attempt — re-read
// whatever it needs from txn each time it runs.
type TxnFunc func(ctx context.Context, txn Transaction) (any, error)

// Driver is the ledger connection this module writes through. Execute runs
// fn exactly once inside a single ledger transaction and returns whatever
// fn returns, or an *Error with code ErrOCCConflict if the ledger detected
// an optimistic-concurrency conflict at commit time. It does not retry —
// the writer package owns the retry loop, since only it knows the retry
// budget and can guarantee fn is safe to re-run.
type Driver interface {
	Execute(ctx context.Context, fn TxnFunc) (any, error)
	ActiveTableNames(ctx context.Context) ([]string, error)
	Close() error
}

// ErrorCode enumerates the kinds of failure a Driver can report.
type ErrorCode string

const (
	ErrConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrOCCConflict       ErrorCode = "OCC_CONFLICT"
	ErrStatementFailed   ErrorCode = "STATEMENT_FAILED"
	ErrTransactionFailed ErrorCode = "TRANSACTION_FAILED"
)

// Error is the error type Driver implementations should return. Writers
// inspect Code to decide between apperr.Fail (retryable) and apperr.Fatal
// (misconfiguration), following the same code+cause shape the teacher uses
// for its estuary.DestinationError.
type Error struct {
	Code      ErrorCode
	Ledger    string
	Operation string
	Timestamp time.Time
	Cause     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] ledger %q %s: %v", e.Code, e.Ledger, e.Operation, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a ledger Error.
func NewError(code ErrorCode, ledgerName, operation string, cause error) *Error {
	return &Error{Code: code, Ledger: ledgerName, Operation: operation, Timestamp: time.Now(), Cause: cause}
}

// IsOCCConflict reports whether err represents an optimistic-concurrency
// conflict the Driver's retry loop should retry on.
func IsOCCConflict(err error) bool {
	le, ok := err.(*Error)
	return ok && le.Code == ErrOCCConflict
}
