package types

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrInvalidInput marks malformed or non-finite numeric input
	ErrInvalidInput = errors.New("invalid input")
	// ErrDataUnavailable marks a required aggregate or series that is missing
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrStoreUnavailable marks a failed key-value read or write
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error carries an error kind together with the operation and, where there is
// one, the offending field.
type Error struct {
	Kind  error
	Op    string
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Field)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is reports whether target is the kind of this error
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidInput builds an ErrInvalidInput for the named field
func InvalidInput(op, field string) error {
	return &Error{Kind: ErrInvalidInput, Op: op, Field: field}
}

// DataUnavailable builds an ErrDataUnavailable for the named field
func DataUnavailable(op, field string, err error) error {
	return &Error{Kind: ErrDataUnavailable, Op: op, Field: field, Err: err}
}

// StoreUnavailable wraps a key-value failure for the given key
func StoreUnavailable(op, key string, err error) error {
	return &Error{Kind: ErrStoreUnavailable, Op: op, Field: key, Err: err}
}
