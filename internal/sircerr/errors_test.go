package sircerr

import (
	"errors"
	"testing"
)

func TestErrorsIs_SentinelKind(t *testing.T) {
	err := New(NotFound, "node missing")
	if !errors.Is(err, NotFound) {
		t.Fatalf("expected errors.Is to match NotFound sentinel")
	}
	if errors.Is(err, Conflict) {
		t.Fatalf("expected errors.Is to not match a different Kind")
	}
}

func TestErrorsIs_WrappedCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Storage, cause, "write failed")
	if !errors.Is(err, Storage) {
		t.Fatalf("expected Storage kind match")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap to expose original cause")
	}
}

func TestFieldError(t *testing.T) {
	err := Field(InvalidInput, "confidence", "out of range")
	if err.Field != "confidence" {
		t.Fatalf("expected field to be set")
	}
}
