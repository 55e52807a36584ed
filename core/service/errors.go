package service

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidUser   = errors.New("invalid user")
	ErrNonTextSample = errors.New("sampling returned non-text content")
	ErrEmptySample   = errors.New("sampling returned empty content")
	ErrNoSampler     = errors.New("no sampler available")
	ErrMalformedUser = errors.New("malformed user data")
)

// Kind classifies a handler failure.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindStorage           Kind = "storage"
	KindUpstream          Kind = "upstream"
	KindMalformedUpstream Kind = "malformed_upstream"
)

// Error is the typed failure returned by every UserService operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Public is the text shown to the remote caller for this failure.
func (e *Error) Public() string {
	switch e.Kind {
	case KindStorage:
		if e.Op == opListUsers || e.Op == opGetUser {
			return "failed to read users"
		}
		return "failed to save user"
	case KindNotFound:
		return "user not found"
	case KindUpstream:
		return "Failed to generate user data"
	case KindMalformedUpstream:
		return "Failed to parse user data"
	default:
		return "invalid user data"
	}
}

// Public returns the caller-facing text for err. Errors that are not *Error
// get a generic message so internal details never leak.
func Public(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Public()
	}
	return "internal error"
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func errMissingField(field string) error {
	return errors.Wrapf(ErrInvalidUser, "missing %s", field)
}
