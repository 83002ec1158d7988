package store

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes storage errors.
type ErrorCode string

const (
	// ErrCodeSchema covers duplicate table/field names, dangling foreign
	// keys, and removal of referenced entities. Schema errors never
	// partially apply.
	ErrCodeSchema ErrorCode = "SCHEMA_ERROR"

	// ErrCodeShape covers malformed writes: mismatched batch column
	// lengths, values no field type can hold, undefined fields on a
	// non-empty table. Shape errors fail before any row is written.
	ErrCodeShape ErrorCode = "SHAPE_ERROR"

	// ErrCodeLookup covers unknown tables, rows, and out-of-range indices.
	ErrCodeLookup ErrorCode = "LOOKUP_ERROR"

	// ErrCodeHandler covers signal handler failures. A pre-insert handler
	// failure leaves no row written; a post-insert handler failure leaves
	// the row committed.
	ErrCodeHandler ErrorCode = "HANDLER_ERROR"

	// ErrCodeDestructive covers refused destructive operations, such as
	// overwriting a merge destination without confirmation.
	ErrCodeDestructive ErrorCode = "DESTRUCTIVE_OP"
)

// StoreError is the structured error returned by storage operations.
type StoreError struct {
	Code    ErrorCode
	Table   string // affected table, if any
	Message string
	Err     error // underlying error, if any
}

func (e *StoreError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("%s: %s (table=%s)", e.Code, e.Message, e.Table)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, table, format string, args ...any) *StoreError {
	return &StoreError{Code: code, Table: table, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code ErrorCode, table, message string, err error) *StoreError {
	return &StoreError{Code: code, Table: table, Message: message, Err: err}
}

// CodeOf extracts the error code from an error chain. Returns an empty code
// for errors that did not originate in this package.
func CodeOf(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
