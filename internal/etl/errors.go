package etl

import (
	"errors"
	"fmt"
)

// ErrFetch marks failures of the page fetch loop, as opposed to failures of
// the batch handler.
var ErrFetch = errors.New("order fetch failed")

// TransformationError reports a raw order that could not be mapped. The order
// is skipped; the rest of the batch continues.
type TransformationError struct {
	OrderID string
	Err     error
}

func (e *TransformationError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("transform order: %v", e.Err)
	}
	return fmt.Sprintf("transform order %s: %v", e.OrderID, e.Err)
}

func (e *TransformationError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a rolled back batch. DumpPath names the recovery
// file, empty when the dump itself failed.
type PersistenceError struct {
	DumpPath string
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.DumpPath == "" {
		return fmt.Sprintf("load batch: %v", e.Err)
	}
	return fmt.Sprintf("load batch (saved to %s): %v", e.DumpPath, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
