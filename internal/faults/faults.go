// Package faults defines the error taxonomy shared by the identity and
// storage layers. Kinds are sentinel errors matched with errors.Is; an
// *Error adds the failing operation and the underlying cause.
package faults

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	// ErrValidation marks malformed input: a non-finite or empty vector,
	// an out-of-range index, an empty speaker id.
	ErrValidation = errors.New("validation error")

	// ErrIO marks filesystem failures (disk full, permission denied,
	// missing directory).
	ErrIO = errors.New("io error")

	// ErrCorruptData marks files that fail to decode or lack required fields.
	ErrCorruptData = errors.New("corrupt data")

	// ErrConfiguration marks operations attempted against a disabled store.
	ErrConfiguration = errors.New("configuration error")

	// ErrComputation marks numerically undefined results such as
	// normalizing a zero vector.
	ErrComputation = errors.New("computation error")
)

// Error carries an error kind together with the operation that failed.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an *Error of the given kind with a formatted cause.
func New(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap returns nil for a nil err, otherwise an *Error of the given kind.
func Wrap(err error, kind error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation is shorthand for New(ErrValidation, ...).
func Validation(op, format string, args ...any) *Error {
	return New(ErrValidation, op, format, args...)
}

// IO wraps err as an ErrIO.
func IO(err error, op string) error {
	return Wrap(err, ErrIO, op)
}

// Corrupt wraps err as an ErrCorruptData.
func Corrupt(err error, op string) error {
	return Wrap(err, ErrCorruptData, op)
}

// KindOf returns the first taxonomy kind err matches, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrValidation, ErrCorruptData, ErrIO, ErrConfiguration, ErrComputation} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
