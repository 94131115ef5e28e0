package docs

import (
	"errors"
	"fmt"
)

// Kind classifies a namespace error.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindInvalidOperation
	KindStorageFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindStorageFailure:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrAlreadyExists    = &Error{Kind: KindAlreadyExists}
	ErrInvalidOperation = &Error{Kind: KindInvalidOperation}
	ErrStorageFailure   = &Error{Kind: KindStorageFailure}
)

// Error is returned by every Service operation.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return msg
	}
	if e.Path == "" {
		return e.Op + ": " + msg
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can test against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the human readable part of err without the operation prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

func notFound(op, path, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Path: path, Msg: msg}
}

func alreadyExists(op, path, msg string) error {
	return &Error{Kind: KindAlreadyExists, Op: op, Path: path, Msg: msg}
}

func invalid(op, path, msg string) error {
	return &Error{Kind: KindInvalidOperation, Op: op, Path: path, Msg: msg}
}

// storageFailure wraps an error from the store. Errors that already carry a
// kind pass through unchanged.
func storageFailure(op, path string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindStorageFailure, Op: op, Path: path, Msg: "storage failure", Err: err}
}
