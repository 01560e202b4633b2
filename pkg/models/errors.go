package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidProduct marks an item that failed normalization. The item is
	// skipped, the slice continues.
	ErrInvalidProduct = errors.New("invalid product")

	// ErrNoProducts means every operation in a slice exhausted its retries.
	ErrNoProducts = errors.New("no products gathered")
)

// TransientError wraps a failure worth retrying (timeout, 5xx, 429, a page
// that never rendered).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that will not heal on its own (malformed
// URL, 4xx other than 429). The retry primitive still exhausts its attempts
// on these; the distinct type exists so they get logged distinctly.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) *TransientError { return &TransientError{Err: err} }
func Permanent(err error) *PermanentError { return &PermanentError{Err: err} }

// SliceError records which (retailer, country) cell failed.
type SliceError struct {
	Retailer Retailer
	Country  Country
	Err      error
}

func (e *SliceError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Retailer, e.Country, e.Err)
}

func (e *SliceError) Unwrap() error { return e.Err }

// ExportError records a single output format failing to write. One format
// failing never aborts the other.
type ExportError struct {
	Format string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s: %v", e.Format, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }
