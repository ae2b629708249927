package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/remote"
)

// SyncError describes a failed replay of one queue item.
//
// SyncError includes structured fields for logs and the user-visible
// lastError / syncError strings.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ItemID identifies the queue item.
	ItemID string

	// EntityKind and Operation describe what was being replayed.
	EntityKind string
	Operation  queue.Operation

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// ErrCodeTransient indicates a failure that may succeed on retry.
	ErrCodeTransient ErrorCode = "TRANSIENT"

	// ErrCodePermanent indicates the remote rejected the mutation.
	// Retried like a transient failure.
	ErrCodePermanent ErrorCode = "PERMANENT"

	// ErrCodeExhaustedRetries indicates the item moved to the failed list.
	ErrCodeExhaustedRetries ErrorCode = "EXHAUSTED_RETRIES"

	// ErrCodePersistence indicates the queue could not be written to the
	// local store. The queue keeps working in memory.
	ErrCodePersistence ErrorCode = "PERSISTENCE"

	// ErrCodeUnknownKind indicates no handler is registered for the item's
	// entity kind.
	ErrCodeUnknownKind ErrorCode = "UNKNOWN_KIND"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.EntityKind != "" && e.Operation != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Code, e.Operation, e.EntityKind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsTransientError returns true if err is a transient replay failure.
func IsTransientError(err error) bool { return hasCode(err, ErrCodeTransient) }

// IsPermanentError returns true if err is a permanent replay failure.
func IsPermanentError(err error) bool { return hasCode(err, ErrCodePermanent) }

// IsExhaustedError returns true if err reports an item moved to the failed
// list.
func IsExhaustedError(err error) bool { return hasCode(err, ErrCodeExhaustedRetries) }

// IsUnknownKindError returns true if err reports a missing handler.
func IsUnknownKindError(err error) bool { return hasCode(err, ErrCodeUnknownKind) }

// IsPersistenceError returns true for persistence failures, whether
// reported by the engine or directly by the queue.
// Uses errors.As to handle wrapped errors.
func IsPersistenceError(err error) bool {
	if hasCode(err, ErrCodePersistence) {
		return true
	}
	var pe *queue.PersistenceError
	return errors.As(err, &pe)
}

// newReplayError classifies a handler failure for item.
func newReplayError(item queue.Item, err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	code := ErrCodeTransient
	if remote.IsPermanent(err) {
		code = ErrCodePermanent
	}
	return &SyncError{
		Code:       code,
		Message:    err.Error(),
		ItemID:     item.ID,
		EntityKind: item.EntityKind,
		Operation:  item.Operation,
		Err:        err,
	}
}

// newExhaustedError wraps the final failure of an item that is being moved
// to the failed list.
func newExhaustedError(item queue.Item, cause *SyncError) *SyncError {
	return &SyncError{
		Code:       ErrCodeExhaustedRetries,
		Message:    fmt.Sprintf("gave up after %d attempts: %s", item.RetryCount+1, cause.Message),
		ItemID:     item.ID,
		EntityKind: item.EntityKind,
		Operation:  item.Operation,
		Err:        cause,
	}
}
