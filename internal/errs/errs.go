// Package errs defines the error kinds surfaced by the reader. Every error
// returned by the internal packages wraps exactly one of the sentinels below so
// callers can classify failures with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrIO                = errors.New("i/o error")
	ErrFormat            = errors.New("invalid format")
	ErrPageCorruption    = errors.New("page corruption")
	ErrCatalogCorruption = errors.New("catalog corruption")
	ErrRecordCorruption  = errors.New("record corruption")
	ErrMissingLongValue  = errors.New("missing long value")
	ErrNotFound          = errors.New("not found")
	ErrInvalidCursor     = errors.New("invalid cursor")
	ErrOutOfRange        = errors.New("out of range")
)

// NotFoundError reports an unknown table or column name.
type NotFoundError struct {
	Kind  string
	Name  string
	Table string
}

func NewTableNotFound(name string) *NotFoundError {
	return &NotFoundError{Kind: "table", Name: name}
}

func NewColumnNotFound(table, name string) *NotFoundError {
	return &NotFoundError{Kind: "column", Name: name, Table: table}
}

func (e *NotFoundError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("%s %q not found in table %q", e.Kind, e.Name, e.Table)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// MissingLongValueError reports a long-value identifier whose segment chain is
// absent or broken.
type MissingLongValueError struct {
	LID    uint32
	Reason string
}

func NewMissingLongValue(lid uint32, reason string) *MissingLongValueError {
	return &MissingLongValueError{LID: lid, Reason: reason}
}

func (e *MissingLongValueError) Error() string {
	return fmt.Sprintf("long value %#x: %s", e.LID, e.Reason)
}

func (e *MissingLongValueError) Is(target error) bool {
	return target == ErrMissingLongValue
}

// IO wraps a byte source failure, keeping the original error reachable via
// errors.As.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ioError{op: op, err: err}
}

type ioError struct {
	op  string
	err error
}

func (e *ioError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *ioError) Unwrap() []error {
	return []error{ErrIO, e.err}
}
