// Package storage owns the on-disk file namespace: listing, partial uploads,
// and atomic commit of completed transfers.
//
// This file defines sentinel errors for classifying storage failures. These
// enable callers to use errors.Is/errors.As for typed assertions rather than
// string matching.
package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors for storage failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNotFound indicates the named file (or partial) does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidFilename indicates a name that could escape the storage root
	// or collide with reserved partial-file markers.
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrOffsetMismatch indicates a resume offset that disagrees with the
	// actual on-disk state.
	ErrOffsetMismatch = errors.New("offset mismatch")

	// ErrBusy indicates another writer currently holds the partial file for
	// this name.
	ErrBusy = errors.New("file busy")
)

// StoreError wraps an underlying error with storage classification.
// It preserves the original error in the chain for inspection via errors.As.
type StoreError struct {
	// Kind is the sentinel error for classification (e.g., ErrNotFound).
	Kind error
	// Op is the operation that failed (e.g., "commit", "open_partial").
	Op string
	// Name is the logical filename involved, if any.
	Name string
	// Err is the underlying error.
	Err error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Name, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Kind)
}

// Unwrap returns the classification sentinel so errors.Is matches Kind.
func (e *StoreError) Unwrap() error {
	return e.Kind
}
