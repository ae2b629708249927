package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/document"
	"github.com/roach88/fieldsync/internal/localstore"
)

// DefaultKey is the local store key the queue state is saved under.
const DefaultKey = "sync-queue"

// DefaultMaxResolvedIDs bounds the temporary id mappings kept for late
// enqueues. The oldest mapping is dropped first.
const DefaultMaxResolvedIDs = 256

// PersistenceError reports a failed write of the queue state.
// The in-memory operation that triggered the write still took effect.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist queue after %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Options configures a Store. Zero values select production defaults.
type Options struct {
	// Key is the local store key. Defaults to DefaultKey.
	Key string
	// Clock stamps enqueuedAt. Defaults to a MonotonicClock.
	Clock Clock
	// IDs generates item ids. Defaults to UUIDv7Generator.
	IDs IDGenerator
	// TempIDs generates temporary entity ids for creates submitted without
	// one. Defaults to NewTempID.
	TempIDs func() string
	// Logger receives persistence warnings. Defaults to slog.Default().
	Logger *slog.Logger
	// MaxResolvedIDs caps State.ResolvedIDs. Defaults to
	// DefaultMaxResolvedIDs.
	MaxResolvedIDs int
}

// Store owns the queue state and writes it through to a local store after
// every mutation.
type Store struct {
	mu    sync.Mutex
	state State

	local   localstore.Store
	key     string
	clock   Clock
	ids     IDGenerator
	tempIDs func() string
	logger  *slog.Logger

	maxResolved int
	persistErr  error
}

// New creates an empty store. Call Load to restore persisted state.
func New(local localstore.Store, opts Options) *Store {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Clock == nil {
		opts.Clock = NewMonotonicClock()
	}
	if opts.IDs == nil {
		opts.IDs = UUIDv7Generator{}
	}
	if opts.TempIDs == nil {
		opts.TempIDs = NewTempID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxResolvedIDs <= 0 {
		opts.MaxResolvedIDs = DefaultMaxResolvedIDs
	}
	return &Store{
		state:       State{Pending: []Item{}, Failed: []Item{}},
		local:       local,
		key:         opts.Key,
		clock:       opts.Clock,
		ids:         opts.IDs,
		tempIDs:     opts.TempIDs,
		logger:      opts.Logger.With("component", "queue"),
		maxResolved: opts.MaxResolvedIDs,
	}
}

// Open creates a store and restores its state from local.
func Open(ctx context.Context, local localstore.Store, opts Options) (*Store, error) {
	s := New(local, opts)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory state with the persisted blob.
// A missing blob leaves the store empty. A corrupt blob is an error: the
// store refuses to start rather than overwrite it.
func (s *Store) Load(ctx context.Context) error {
	blob, err := s.local.Load(ctx, s.key)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	state, err := Decode(blob)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.trimResolvedLocked()
	for _, list := range [][]Item{state.Pending, state.Failed} {
		for _, it := range list {
			s.clock.Observe(it.EnqueuedAt)
		}
	}
	s.logger.Debug("queue loaded", "pending", len(state.Pending), "failed", len(state.Failed))
	return nil
}

// Enqueue appends a mutation to the pending list and returns the stored
// item.
//
// The store assigns ID, EnqueuedAt and RetryCount. A create without an
// EntityID gets a temporary one. An EntityID that names an already-replayed
// temporary id is rewritten to its durable id.
func (s *Store) Enqueue(ctx context.Context, it Item) (Item, error) {
	if it.EntityKind == "" {
		return Item{}, fmt.Errorf("%w: entity kind is required", ErrInvalidItem)
	}
	if !it.Operation.Valid() {
		return Item{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidItem, it.Operation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it.ID = s.ids.Generate()
	it.EnqueuedAt = s.clock.Next()
	it.RetryCount = 0
	it.LastError = ""
	if it.Operation == OpCreate && it.EntityID == "" {
		it.EntityID = s.tempIDs()
	}
	if durable, ok := s.state.ResolvedIDs[it.EntityID]; ok {
		it.EntityID = durable
	}
	it.Payload = it.Payload.Clone()
	if it.Payload == nil {
		it.Payload = document.Document{}
	}
	rewriteRefs(it.Payload, s.state.ResolvedIDs)

	s.state.Pending = append(s.state.Pending, it)
	s.persistLocked(ctx, "enqueue")
	return it.Clone(), nil
}

// Remove deletes a pending item. Returns false if it was not pending.
func (s *Store) Remove(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Pending, id)
	if i < 0 {
		return false
	}
	s.state.Pending = append(s.state.Pending[:i], s.state.Pending[i+1:]...)
	s.persistLocked(ctx, "remove")
	return true
}

// MarkFailed moves a pending item to the failed list with cause attached.
// Its retry count is raised to at least MaxRetries.
func (s *Store) MarkFailed(ctx context.Context, id, cause string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Pending, id)
	if i < 0 {
		return false
	}
	it := s.state.Pending[i]
	it.RetryCount++
	if it.RetryCount < MaxRetries {
		it.RetryCount = MaxRetries
	}
	it.LastError = cause
	s.state.Pending = append(s.state.Pending[:i], s.state.Pending[i+1:]...)
	s.state.Failed = append(s.state.Failed, it)
	s.persistLocked(ctx, "mark failed")
	return true
}

// IncrementRetry records a failed attempt on a pending item, leaving it in
// place. Returns the new retry count, or false if the item is not pending.
func (s *Store) IncrementRetry(ctx context.Context, id, cause string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Pending, id)
	if i < 0 {
		return 0, false
	}
	s.state.Pending[i].RetryCount++
	s.state.Pending[i].LastError = cause
	n := s.state.Pending[i].RetryCount
	s.persistLocked(ctx, "increment retry")
	return n, true
}

// RequeueFailed moves every failed item to the end of the pending list with
// a reset retry count. Returns the number of items moved.
func (s *Store) RequeueFailed(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.state.Failed)
	if n == 0 {
		return 0
	}
	for _, it := range s.state.Failed {
		it.RetryCount = 0
		it.LastError = ""
		s.state.Pending = append(s.state.Pending, it)
	}
	s.state.Failed = []Item{}
	s.persistLocked(ctx, "requeue failed")
	return n
}

// ClearFailed discards every failed item. Returns the number discarded.
func (s *Store) ClearFailed(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.state.Failed)
	if n == 0 {
		return 0
	}
	s.state.Failed = []Item{}
	s.persistLocked(ctx, "clear failed")
	return n
}

// RewriteEntityID replaces a temporary entity id with the durable id the
// remote store assigned, in every queued item's entityId and in payload
// values that reference it. The mapping is remembered for later enqueues.
// Ids that are not temporary are left alone. Returns the number of items
// changed.
func (s *Store) RewriteEntityID(ctx context.Context, tempID, durableID string) int {
	if !IsTempID(tempID) || durableID == "" || tempID == durableID {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.resolveLocked(tempID, durableID)
	s.persistLocked(ctx, "rewrite entity id")
	return changed
}

// CompleteCreate removes a replayed create and resolves its temporary
// entity id to durableID, as one persisted change. A crash can therefore
// never leave later items pointing at a temporary id whose create is gone.
// Returns the number of other items rewritten, and false if id was not
// pending.
func (s *Store) CompleteCreate(ctx context.Context, id, tempID, durableID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Pending, id)
	if i < 0 {
		return 0, false
	}
	s.state.Pending = append(s.state.Pending[:i], s.state.Pending[i+1:]...)

	changed := 0
	if IsTempID(tempID) && durableID != "" && tempID != durableID {
		changed = s.resolveLocked(tempID, durableID)
	}
	s.persistLocked(ctx, "complete create")
	return changed, true
}

// resolveLocked rewrites tempID in the pending and failed lists and records
// the mapping. Caller must hold s.mu.
func (s *Store) resolveLocked(tempID, durableID string) int {
	mapping := map[string]string{tempID: durableID}
	changed := 0
	for _, list := range [][]Item{s.state.Pending, s.state.Failed} {
		for i := range list {
			if RewriteItem(&list[i], mapping) {
				changed++
			}
		}
	}

	if s.state.ResolvedIDs == nil {
		s.state.ResolvedIDs = make(map[string]string)
	}
	if _, seen := s.state.ResolvedIDs[tempID]; !seen {
		s.state.ResolvedOrder = append(s.state.ResolvedOrder, tempID)
	}
	s.state.ResolvedIDs[tempID] = durableID
	s.trimResolvedLocked()
	return changed
}

// trimResolvedLocked evicts the oldest mappings beyond the cap.
func (s *Store) trimResolvedLocked() {
	for len(s.state.ResolvedOrder) > s.maxResolved {
		delete(s.state.ResolvedIDs, s.state.ResolvedOrder[0])
		s.state.ResolvedOrder = s.state.ResolvedOrder[1:]
	}
}

// RewriteItem applies mapping to an item's entityId and to payload string
// values that are temporary ids. Reports whether anything changed.
func RewriteItem(it *Item, mapping map[string]string) bool {
	changed := false
	if durable, ok := mapping[it.EntityID]; ok && IsTempID(it.EntityID) {
		it.EntityID = durable
		changed = true
	}
	if rewriteRefs(it.Payload, mapping) {
		changed = true
	}
	return changed
}

// rewriteRefs replaces temporary-id string values (at any depth) found in
// mapping. Other strings are never touched, even if they equal a key.
func rewriteRefs(v any, mapping map[string]string) bool {
	if len(mapping) == 0 {
		return false
	}
	changed := false
	switch val := v.(type) {
	case document.Document:
		return rewriteRefs(map[string]any(val), mapping)
	case map[string]any:
		for k, elem := range val {
			if s, ok := elem.(string); ok && IsTempID(s) {
				if durable, ok := mapping[s]; ok {
					val[k] = durable
					changed = true
				}
				continue
			}
			if rewriteRefs(elem, mapping) {
				changed = true
			}
		}
	case []any:
		for i, elem := range val {
			if s, ok := elem.(string); ok && IsTempID(s) {
				if durable, ok := mapping[s]; ok {
					val[i] = durable
					changed = true
				}
				continue
			}
			if rewriteRefs(elem, mapping) {
				changed = true
			}
		}
	}
	return changed
}

// SetOnline records connectivity and returns the previous value.
func (s *Store) SetOnline(ctx context.Context, online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.IsOnline
	if prev != online {
		s.state.IsOnline = online
		s.persistLocked(ctx, "set online")
	}
	return prev
}

// IsOnline returns the last recorded connectivity state.
func (s *Store) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsOnline
}

// BeginCycle is the drain entry guard. It succeeds only when no cycle is
// running, the device is online, and something is pending; on success it
// marks the store as syncing and clears the previous cycle's error.
func (s *Store) BeginCycle(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsSyncing || !s.state.IsOnline || len(s.state.Pending) == 0 {
		return false
	}
	s.state.IsSyncing = true
	s.state.SyncError = ""
	s.persistLocked(ctx, "begin cycle")
	return true
}

// EndCycle marks the running cycle completed at the given time.
func (s *Store) EndCycle(ctx context.Context, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.IsSyncing = false
	s.state.LastSyncAt = &at
	s.persistLocked(ctx, "end cycle")
}

// AbortCycle marks the running cycle stopped before it finished. lastSyncAt
// keeps the time of the last completed cycle.
func (s *Store) AbortCycle(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.IsSyncing = false
	s.persistLocked(ctx, "abort cycle")
}

// RecordError sets the user-visible sync error summary.
func (s *Store) RecordError(ctx context.Context, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.SyncError = msg
	s.persistLocked(ctx, "record error")
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Counts returns the pending and failed list lengths.
func (s *Store) Counts() (pending, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Pending), len(s.state.Failed)
}

// PersistErr returns the error from the most recent write, or nil if it
// succeeded.
func (s *Store) PersistErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistErr
}

// Flush writes the current state again. Used to retry after a persistence
// failure.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked(ctx, "flush")
	return s.persistErr
}

// persistLocked writes the state blob. Caller must hold s.mu.
// Writes happen under the lock so blobs land in mutation order.
func (s *Store) persistLocked(ctx context.Context, op string) {
	blob, err := Encode(s.state)
	if err == nil {
		err = s.local.Save(ctx, s.key, blob)
	}
	if err != nil {
		s.persistErr = &PersistenceError{Op: op, Err: err}
		s.logger.Warn("queue persistence failed, continuing in memory",
			"op", op,
			"error", err,
		)
		return
	}
	s.persistErr = nil
}

func indexOf(items []Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
