package qp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record id is absent from both the hot
	// tier and all archive files.
	ErrNotFound = errors.New("record not found")

	// ErrForbidden is returned when a user requests an operation on a
	// record owned by somebody else.
	ErrForbidden = errors.New("record belongs to another user")

	// ErrDuplicateIdentifier is returned when identifier generation keeps
	// colliding with existing records and runs out of attempts.
	ErrDuplicateIdentifier = errors.New("identifier generation exhausted retries")

	// ErrStorageUnavailable wraps connectivity failures of the hot or cold
	// store surfaced through Open/Store.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// BatchError reports a failed archival batch. All staged items have been
// returned to the queue when this error is produced.
type BatchError struct {
	NumProcessed int
	Requeued     int
	Err          error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("archival batch failed after %d item(s), %d re-enqueued: %v",
		e.NumProcessed, e.Requeued, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
