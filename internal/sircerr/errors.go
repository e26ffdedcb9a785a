// Package sircerr defines the closed set of error kinds used across the
// Semantic Index and Reasoning Core (spec.md §7). Components wrap failures in
// *Error so callers can branch with errors.Is against the sentinel Kind
// values instead of matching on error strings.
package sircerr

import "fmt"

// Kind is a closed taxonomy of failure modes.
type Kind string

const (
	NotFound     Kind = "not_found"
	InvalidInput Kind = "invalid_input"
	Conflict     Kind = "conflict"
	Degraded     Kind = "degraded"
	Timeout      Kind = "timeout"
	Cancelled    Kind = "cancelled"
	Storage      Kind = "storage"
)

// Error wraps an underlying cause with a Kind and the offending field, when
// known, so synchronous validation failures can point the caller at what was
// wrong (spec.md §7 "Propagation policy").
type Error struct {
	Kind  Kind
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Msg, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, sircerr.NotFound) by treating a bare Kind value
// as a sentinel that matches any *Error sharing that Kind.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	if other, ok := target.(*Error); ok {
		return e.Kind == other.Kind
	}
	return false
}

// Error makes Kind an error value, so sentinel Kind values participate
// directly in errors.Is(err, Kind).
func (k Kind) Error() string { return string(k) }

func (k Kind) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return other.Kind == k
	}
	if other, ok := target.(Kind); ok {
		return other == k
	}
	return false
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Field(kind Kind, field, msg string) *Error {
	return &Error{Kind: kind, Field: field, Msg: msg}
}
