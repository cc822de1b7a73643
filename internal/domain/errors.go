package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a job request that can never start (e.g. no sources).
	ErrConfiguration = errors.New("configuration error")
	// ErrQueueUnavailable marks a dispatch that could not publish its tasks.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrInvalidTransition is returned for any backward or sideways job status change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound is returned by stores for missing rows.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert hits a unique key.
	ErrDuplicate = errors.New("duplicate item")
)

// TransientFetchError is a single link or article fetch failure. Workers retry
// it a bounded number of times before counting it against the source.
type TransientFetchError struct {
	URL string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// PersistenceError is a failed commit of one item inside the writer.
type PersistenceError struct {
	URL string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.URL, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
