package transaction

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist for the user.
	ErrNotFound = errors.New("transaction not found")

	// ErrWrite marks a create, update or delete the store rejected.
	ErrWrite = errors.New("write rejected")

	// ErrSubscription marks a failure to establish or refresh a live query.
	ErrSubscription = errors.New("subscription failed")

	// ErrClosed is returned by a store that has been closed.
	ErrClosed = errors.New("store closed")
)

// ValidationError rejects user input before it reaches the store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ScanFailedError is returned when the OCR collaborator could not read a
// receipt. Prefill seeds the manual entry form the user is offered instead.
type ScanFailedError struct {
	Err     error
	Prefill ManualEntry
}

func (e *ScanFailedError) Error() string {
	return fmt.Sprintf("scanning receipt: %v", e.Err)
}

func (e *ScanFailedError) Unwrap() error {
	return e.Err
}

func writeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrWrite, err)
}
