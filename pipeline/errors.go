package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate is returned when an item's link is already in the result set.
	ErrDuplicate = errors.New("pipeline: duplicate link")
	// ErrInvalidItem is returned for items without a usable link.
	ErrInvalidItem = errors.New("pipeline: invalid item")
	// ErrNoRecords is returned when an export is asked to write nothing.
	ErrNoRecords = errors.New("pipeline: no records to export")
)

// PersistenceError reports a checkpoint or export read/write failure.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
