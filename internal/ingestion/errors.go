package ingestion

import (
	"errors"
	"fmt"
)

// ErrInvalidRow is wrapped by every ingestion failure
var ErrInvalidRow = errors.New("invalid transaction row")

// Error reports a row that could not be turned into a transaction. Row is the
// 0-based data row index, or -1 when the problem is not tied to a row.
type Error struct {
	Row    int
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("ingestion failed: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("ingestion failed at row %d: %s: %s", e.Row, e.Field, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrInvalidRow
}

func rowError(row int, field, reason string) error {
	return &Error{Row: row, Field: field, Reason: reason}
}

var (
	errMissingValue   = errors.New("missing value")
	errNotNumeric     = errors.New("not a number")
	errNegativeAmount = errors.New("negative amount")
)
