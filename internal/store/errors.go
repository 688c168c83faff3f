package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a generation or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorage wraps every other persistence failure.
	ErrStorage = errors.New("storage failure")

	// ErrLeaseLost is returned when a worker writes to a job it no longer owns.
	ErrLeaseLost = errors.New("job lease lost")
)

// StorageError wraps err so that errors.Is(err, ErrStorage) holds.
// Nil and already classified errors pass through unchanged.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorage) || errors.Is(err, ErrLeaseLost) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
