package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a request is rejected before any state is touched
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when the requested record or dataset does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by inserts that violate the (dataset, item, worker) uniqueness
	ErrConflict = errors.New("conflict")

	// ErrTransientStorage matches storage errors that are worth retrying
	ErrTransientStorage = errors.New("storage temporarily unavailable")
)

// StorageError wraps an error returned by the storage layer
type StorageError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransientStorage) succeed for transient failures
func (e *StorageError) Is(target error) bool {
	return target == ErrTransientStorage && e.Transient
}

// InvalidArgument builds an error matching ErrInvalidArgument
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
