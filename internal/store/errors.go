package store

import (
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind tags the store's distinguished error conditions (spec.md §9):
// "reimplement as a tagged variant StoreError = {Conflict,
// NotNullViolation(reorg-signal), Other(cause)}; do not match on error
// messages."
type Kind int

const (
	Other Kind = iota
	Conflict
	NotNullViolation
)

// Error is the tagged variant. A NotNullViolation is treated as a reorg
// (see IsReorg): the block-hash-mismatch trick is the only source of
// deliberate not-null violations this package writes. ReorgHeight is the
// block height when the failing batch held a single block, and 0 otherwise.
type Error struct {
	Kind        Kind
	ReorgHeight uint64
	Cause       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case NotNullViolation:
		return "reorg detected at height " + strconv.FormatUint(e.ReorgHeight, 10) + ": " + e.Cause.Error()
	case Conflict:
		return "conflict: " + e.Cause.Error()
	default:
		return e.Cause.Error()
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// IsReorg reports whether err is a reorg-detected store error.
func IsReorg(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == NotNullViolation
}

// classify inspects a pgx/postgres driver error and tags it with a Kind,
// per spec.md §9's instruction to classify by code, never by message text.
func classify(err error, reorgHeight uint64) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23502": // not_null_violation
			return &Error{Kind: NotNullViolation, ReorgHeight: reorgHeight, Cause: err}
		case "23505": // unique_violation
			return &Error{Kind: Conflict, Cause: err}
		}
	}
	return &Error{Kind: Other, Cause: err}
}
