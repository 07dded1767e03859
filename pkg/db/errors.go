package db

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a single-row operation matches nothing
	ErrNotFound = errors.New("no matching rows")
	// ErrMultipleRows is returned when a single-row operation matches more than one row
	ErrMultipleRows = errors.New("multiple matching rows")
	// ErrUnfiltered guards against updates and deletes that would touch a whole collection
	ErrUnfiltered = errors.New("refusing to modify a collection without a filter")
)

// CodeUniqueViolation is the Postgres SQLSTATE for a unique-constraint violation
const CodeUniqueViolation = "23505"

// Error is a failure reported by the remote service: transport, permission or
// constraint errors. Status and Code are filled in when the backend provides them.
type Error struct {
	Op         string
	Collection string
	Status     int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Status != 0 && e.Code != "":
		return fmt.Sprintf("%s %s: %d %s: %s", e.Op, e.Collection, e.Status, e.Code, msg)
	case e.Code != "":
		return fmt.Sprintf("%s %s: %s: %s", e.Op, e.Collection, e.Code, msg)
	case e.Status != 0:
		return fmt.Sprintf("%s %s: %d: %s", e.Op, e.Collection, e.Status, msg)
	default:
		return fmt.Sprintf("%s %s: %s", e.Op, e.Collection, msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is a unique-constraint violation
func IsConflict(err error) bool {
	var remoteErr *Error
	if !errors.As(err, &remoteErr) {
		return false
	}
	return remoteErr.Code == CodeUniqueViolation || remoteErr.Status == 409
}

// NotFound builds the error a Store returns when a single-row operation matches nothing
func NotFound(op, collection string) error {
	return fmt.Errorf("%s %s: %w", op, collection, ErrNotFound)
}

// MultipleRows builds the error a Store returns when a single-row operation is ambiguous
func MultipleRows(op, collection string) error {
	return fmt.Errorf("%s %s: %w", op, collection, ErrMultipleRows)
}
