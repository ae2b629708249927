package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/document"
)

// MaxRetries is the number of failed replay attempts after which an item is
// moved to the failed list.
const MaxRetries = 3

// Operation is the kind of mutation an item replays.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ParseOperation converts a string to an Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", fmt.Errorf("%w: unknown operation %q", ErrInvalidItem, s)
	}
	return op, nil
}

// ErrInvalidItem is returned by Enqueue for items missing a kind or
// carrying an unknown operation.
var ErrInvalidItem = errors.New("invalid queue item")

// Item is a single pending mutation.
//
// JSON field names are part of the persisted format and must not change.
type Item struct {
	ID         string            `json:"id"`
	EntityKind string            `json:"entityKind"`
	Operation  Operation         `json:"operation"`
	EntityID   string            `json:"entityId"`
	Payload    document.Document `json:"payload"`
	EnqueuedAt int64             `json:"enqueuedAt"`
	RetryCount int               `json:"retryCount"`
	LastError  string            `json:"lastError,omitempty"`
}

// Clone returns a copy of the item with its own payload.
func (it Item) Clone() Item {
	it.Payload = it.Payload.Clone()
	return it
}

// State is the process-wide queue state.
type State struct {
	Pending    []Item     `json:"pending"`
	Failed     []Item     `json:"failed"`
	IsSyncing  bool       `json:"isSyncing"`
	IsOnline   bool       `json:"isOnline"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
	SyncError  string     `json:"syncError,omitempty"`

	// ResolvedIDs maps temporary create ids to the durable ids the remote
	// store assigned, so items enqueued later with a stale temporary id
	// still target the right entity.
	ResolvedIDs map[string]string `json:"resolvedIds,omitempty"`
	// ResolvedOrder lists ResolvedIDs keys oldest first, for eviction.
	ResolvedOrder []string `json:"resolvedOrder,omitempty"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := s
	out.Pending = cloneItems(s.Pending)
	out.Failed = cloneItems(s.Failed)
	if s.LastSyncAt != nil {
		t := *s.LastSyncAt
		out.LastSyncAt = &t
	}
	if s.ResolvedIDs != nil {
		out.ResolvedIDs = make(map[string]string, len(s.ResolvedIDs))
		for k, v := range s.ResolvedIDs {
			out.ResolvedIDs[k] = v
		}
	}
	if s.ResolvedOrder != nil {
		out.ResolvedOrder = append([]string(nil), s.ResolvedOrder...)
	}
	return out
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
