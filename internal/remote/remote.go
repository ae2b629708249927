// Package remote is the boundary to the authoritative document store.
//
// The sync engine only needs create, update and delete per collection
// ("kind"); Getter is optional and enables conflict-aware updates. Errors
// are classified as Transient or Permanent; anything unclassified is
// Transient.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/document"
)

// Store is the remote data service.
type Store interface {
	// Create inserts doc into the kind's collection and returns the durable
	// id the remote assigned.
	Create(ctx context.Context, kind string, doc document.Document) (string, error)
	// Update applies a partial patch to an existing document.
	Update(ctx context.Context, kind, id string, patch document.Document) error
	// Delete removes a document. Deleting a missing document succeeds.
	Delete(ctx context.Context, kind, id string) error
}

// Getter is implemented by stores that can fetch the current version of a
// document.
type Getter interface {
	Get(ctx context.Context, kind, id string) (document.Document, error)
}

// ErrorKind classifies remote failures.
type ErrorKind int

const (
	// Transient failures (network, timeouts, 5xx) may succeed on retry.
	Transient ErrorKind = iota
	// Permanent failures (rejected payload, permission denied) will not.
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified remote failure.
type Error struct {
	Kind    ErrorKind
	Op      string
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("remote %s failed (%s, code %d): %s", e.Op, e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("remote %s failed (%s): %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotFound reports a missing document.
var ErrNotFound = errors.New("document not found")

// NewTransient wraps err as a transient failure of op.
func NewTransient(op string, err error) *Error {
	return &Error{Kind: Transient, Op: op, Err: err}
}

// NewPermanent wraps err as a permanent failure of op.
func NewPermanent(op string, err error) *Error {
	return &Error{Kind: Permanent, Op: op, Err: err}
}

// Classify returns the kind of err. Untyped errors are Transient, except
// ErrNotFound which is Permanent.
func Classify(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return Permanent
	}
	return Transient
}

// IsPermanent reports whether err is a permanent failure.
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == Permanent
}
