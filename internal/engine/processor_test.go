package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/document"
	"github.com/roach88/fieldsync/internal/localstore"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/testutil"
)

var testKinds = []string{"tasks", "crew", "formTemplates", "formSubmissions"}

// harness wires a queue, an in-memory remote and a processor whose retry
// delay is recorded instead of slept.
type harness struct {
	local  *localstore.Memory
	queue  *queue.Store
	remote *remote.Memory
	proc   *Processor

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

func newHarnessWith(t *testing.T, handlers Handlers) *harness {
	t.Helper()
	h := &harness{
		local:  localstore.NewMemory(),
		remote: remote.NewMemory().WithIDs(testutil.NewSequenceGenerator("durable").Generate),
	}
	h.queue = queue.New(h.local, queue.Options{
		Clock:   testutil.NewDeterministicClock(),
		IDs:     testutil.NewSequenceGenerator("item"),
		TempIDs: testutil.TempIDs(),
	})
	if handlers == nil {
		handlers = CollectionHandlers(h.remote, testKinds...)
	}
	ft := testutil.NewFakeTime(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	h.proc = New(h.queue, handlers, Options{
		RetryDelay: time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		},
		Now: ft.Now,
	})
	return h
}

func (h *harness) enqueue(t *testing.T, kind string, op queue.Operation, entityID string, payload document.Document) queue.Item {
	t.Helper()
	it, err := h.queue.Enqueue(context.Background(), queue.Item{
		EntityKind: kind,
		Operation:  op,
		EntityID:   entityID,
		Payload:    payload,
	})
	require.NoError(t, err)
	return it
}

func (h *harness) online() {
	h.queue.SetOnline(context.Background(), true)
}

func (h *harness) sleepCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sleeps)
}

type call struct{ op, kind, id string }

func callsOf(m *remote.Memory) []call {
	var out []call
	for _, c := range m.Calls() {
		out = append(out, call{c.Op, c.Kind, c.ID})
	}
	return out
}

func TestDrain_ReplaysInEnqueueOrder(t *testing.T) {
	h := newHarness(t)
	h.remote.Put("crew", "crew-1", document.Document{"name": "Ana"})
	h.remote.Put("tasks", "task-9", document.Document{"title": "old"})

	h.enqueue(t, "crew", queue.OpUpdate, "crew-1", document.Document{"shift": 2})
	h.enqueue(t, "tasks", queue.OpCreate, "", document.Document{"title": "Inspect pump"})
	h.enqueue(t, "tasks", queue.OpDelete, "task-9", nil)
	h.enqueue(t, "formSubmissions", queue.OpCreate, "", document.Document{"answers": []any{"yes"}})
	h.online()

	res, ran := h.proc.Drain(context.Background())
	require.True(t, ran)

	assert.Equal(t, []call{
		{"update", "crew", "crew-1"},
		{"create", "tasks", ""},
		{"delete", "tasks", "task-9"},
		{"create", "formSubmissions", ""},
	}, callsOf(h.remote))
	assert.Equal(t, Result{Attempted: 4, Succeeded: 4}, res)

	snap := h.queue.Snapshot()
	assert.Empty(t, snap.Pending)
	assert.False(t, snap.IsSyncing)
	require.NotNil(t, snap.LastSyncAt)
	assert.Empty(t, snap.SyncError)
	assert.Zero(t, h.sleepCount())
}

func TestDrain_EntryGuard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Offline with items.
	h.enqueue(t, "tasks", queue.OpCreate, "", nil)
	_, ran := h.proc.Drain(ctx)
	assert.False(t, ran)
	assert.False(t, h.proc.TriggerSync(ctx))

	// Online with items.
	h.online()
	_, ran = h.proc.Drain(ctx)
	assert.True(t, ran)

	// Online, nothing pending.
	_, ran = h.proc.Drain(ctx)
	assert.False(t, ran)
	assert.Equal(t, int64(1), h.proc.Cycles())
	assert.Len(t, h.remote.Calls(), 1)
}

func TestDrain_FailureDoesNotAbortCycle(t *testing.T) {
	h := newHarness(t)
	h.remote.FailWith(func(c remote.Call) error {
		if c.Kind == "crew" {
			return errors.New("503 service unavailable")
		}
		return nil
	})

	bad := h.enqueue(t, "crew", queue.OpCreate, "", document.Document{"name": "Ana"})
	h.enqueue(t, "tasks", queue.OpCreate, "", document.Document{"title": "a"})
	h.online()

	res, ran := h.proc.Drain(context.Background())
	require.True(t, ran)
	assert.Equal(t, Result{Attempted: 2, Succeeded: 1, Retried: 1}, res)

	snap := h.queue.Snapshot()
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, bad.ID, snap.Pending[0].ID)
	assert.Equal(t, 1, snap.Pending[0].RetryCount)
	assert.Contains(t, snap.Pending[0].LastError, "503 service unavailable")
	assert.Contains(t, snap.SyncError, "TRANSIENT")
	assert.Equal(t, []time.Duration{time.Second}, h.sleeps)
}

func TestDrain_RetryExhaustion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.FailWith(func(remote.Call) error { return errors.New("timeout") })

	it := h.enqueue(t, "tasks", queue.OpUpdate, "task-1", document.Document{"status": "open"})
	h.online()

	for cycle := 1; cycle <= queue.MaxRetries; cycle++ {
		_, ran := h.proc.Drain(ctx)
		require.True(t, ran, "cycle %d", cycle)
	}

	snap := h.queue.Snapshot()
	assert.Empty(t, snap.Pending)
	require.Len(t, snap.Failed, 1)
	assert.Equal(t, it.ID, snap.Failed[0].ID)
	assert.GreaterOrEqual(t, snap.Failed[0].RetryCount, queue.MaxRetries)
	assert.Equal(t, "timeout", snap.Failed[0].LastError)
	assert.Contains(t, snap.SyncError, string(ErrCodeExhaustedRetries))

	// The delay follows every failure that stays pending, not the last one.
	assert.Equal(t, queue.MaxRetries-1, h.sleepCount())
	assert.Len(t, h.remote.Calls(), queue.MaxRetries)

	// Nothing left to drain.
	_, ran := h.proc.Drain(ctx)
	assert.False(t, ran)
}

func TestDrain_PermanentFailuresRetriedLikeTransient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.enqueue(t, "tasks", queue.OpUpdate, "missing", document.Document{"status": "open"})
	h.online()

	res, _ := h.proc.Drain(ctx)
	assert.Equal(t, 1, res.Retried)
	assert.Contains(t, h.queue.Snapshot().SyncError, string(ErrCodePermanent))

	h.proc.Drain(ctx)
	res, _ = h.proc.Drain(ctx)
	assert.Equal(t, 1, res.Quarantined)
}

func TestRequeueFailed_ThenSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	failing := true
	h.remote.FailWith(func(remote.Call) error {
		if failing {
			return errors.New("offline")
		}
		return nil
	})

	h.enqueue(t, "tasks", queue.OpCreate, "", document.Document{"title": "a"})
	h.online()
	for i := 0; i < queue.MaxRetries; i++ {
		h.proc.Drain(ctx)
	}
	_, failed := h.queue.Counts()
	require.Equal(t, 1, failed)

	assert.Equal(t, 1, h.queue.RequeueFailed(ctx))
	snap := h.queue.Snapshot()
	require.Len(t, snap.Pending, 1)
	assert.Zero(t, snap.Pending[0].RetryCount)
	assert.Empty(t, snap.Failed)

	failing = false
	res, ran := h.proc.Drain(ctx)
	require.True(t, ran)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, h.remote.Len("tasks"))
}

func TestDrain_TempIDRewrittenForLaterItems(t *testing.T) {
	h := newHarness(t)

	// Offline: create then update the same new task.
	create := h.enqueue(t, "tasks", queue.OpCreate, "", document.Document{"title": "Inspect pump"})
	require.Equal(t, "temp_1", create.EntityID)
	h.enqueue(t, "tasks", queue.OpUpdate, "temp_1", document.Document{"status": "completed"})
	h.enqueue(t, "formSubmissions", queue.OpCreate, "", document.Document{"taskId": "temp_1"})

	h.online()
	res, ran := h.proc.Drain(context.Background())
	require.True(t, ran)
	assert.Equal(t, 3, res.Succeeded)

	calls := h.remote.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "create", calls[0].Op)
	assert.Equal(t, "update", calls[1].Op)
	assert.Equal(t, "durable-1", calls[1].ID)
	assert.Equal(t, "durable-1", calls[2].Payload["taskId"])

	doc, err := h.remote.Get(context.Background(), "tasks", "durable-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", doc["status"])
	assert.Empty(t, h.queue.Snapshot().Pending)
}

func TestDrain_TempIDNeverOrphanedOnDisk(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "tasks", queue.OpCreate, "", document.Document{"title": "a"})
	h.enqueue(t, "tasks", queue.OpUpdate, "temp_1", document.Document{"status": "open"})
	h.enqueue(t, "formSubmissions", queue.OpCreate, "", document.Document{"taskId": "temp_1"})
	h.online()

	res, ran := h.proc.Drain(context.Background())
	require.True(t, ran)
	require.Equal(t, 3, res.Succeeded)

	// Every blob a crash could leave behind either still holds the create
	// or no longer mentions its temporary id.
	blobs := h.local.History(queue.DefaultKey)
	require.NotEmpty(t, blobs)
	for i, blob := range blobs {
		st, err := queue.Decode(blob)
		require.NoError(t, err)
		hasCreate, referenced := false, false
		for _, it := range st.Pending {
			if it.Operation == queue.OpCreate && it.EntityID == "temp_1" {
				hasCreate = true
			}
			if queue.RewriteItem(&it, map[string]string{"temp_1": "x"}) {
				referenced = true
			}
		}
		assert.False(t, referenced && !hasCreate, "blob %d orphans temp_1", i)
	}

	reopened, err := queue.Open(context.Background(), h.local, queue.Options{})
	require.NoError(t, err)
	assert.Empty(t, reopened.Snapshot().Pending)
	assert.Equal(t, "durable-1", reopened.Snapshot().ResolvedIDs["temp_1"])
}

func TestDrain_TempIDRewrittenWhenCreateRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	failCreate := true
	h.remote.FailWith(func(c remote.Call) error {
		if c.Op == "create" && failCreate {
			return errors.New("timeout")
		}
		return nil
	})

	h.enqueue(t, "tasks", queue.OpCreate, "", document.Document{"title": "a"})
	h.enqueue(t, "tasks", queue.OpUpdate, "temp_1", document.Document{"title": "b"})
	h.online()

	// First cycle: create fails, update fails too (entity does not exist yet).
	res, _ := h.proc.Drain(ctx)
	assert.Equal(t, 2, res.Retried)

	failCreate = false
	res, _ = h.proc.Drain(ctx)
	assert.Equal(t, 2, res.Succeeded)

	doc, err := h.remote.Get(ctx, "tasks", "durable-1")
	require.NoError(t, err)
	assert.Equal(t, "b", doc["title"])
}

func TestDrain_UnknownKindEventuallyFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.enqueue(t, "invoices", queue.OpCreate, "", nil)
	h.online()

	for i := 0; i < queue.MaxRetries; i++ {
		h.proc.Drain(ctx)
	}

	snap := h.queue.Snapshot()
	require.Len(t, snap.Failed, 1)
	assert.Contains(t, snap.Failed[0].LastError, "no handler registered")
	assert.Empty(t, h.remote.Calls())
}

func TestDrain_LaterEnqueuesWaitForNextCycle(t *testing.T) {
	var h *harness
	late := blockingHandler{enter: make(chan struct{}), release: make(chan struct{})}
	handlers := Handlers{"tasks": &late}
	h = newHarnessWith(t, handlers)
	late.inner = CollectionHandler{Kind: "tasks", Remote: h.remote}

	h.enqueue(t, "tasks", queue.OpCreate, "", nil)
	h.online()

	done := make(chan Result)
	go func() {
		res, _ := h.proc.Drain(context.Background())
		done <- res
	}()

	<-late.enter
	h.enqueue(t, "tasks", queue.OpCreate, "", nil)
	close(late.release)

	res := <-done
	assert.Equal(t, 1, res.Attempted)
	pending, _ := h.queue.Counts()
	assert.Equal(t, 1, pending)
}

func TestDrain_PersistenceFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "tasks", queue.OpCreate, "", nil)
	h.online()

	h.local.SetSaveError(errors.New("read-only filesystem"))
	res, ran := h.proc.Drain(context.Background())
	require.True(t, ran)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, h.queue.Snapshot().Pending)
	assert.True(t, IsPersistenceError(h.queue.PersistErr()))
}

func TestDrain_CancelledMidCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := cancelOnCreate{cancel: cancel}
	h := newHarnessWith(t, Handlers{"tasks": &stop})

	h.enqueue(t, "tasks", queue.OpCreate, "", nil)
	h.enqueue(t, "tasks", queue.OpCreate, "", nil)
	h.online()

	res, ran := h.proc.Drain(ctx)
	require.True(t, ran)
	assert.True(t, res.Interrupted)
	assert.Zero(t, res.Attempted)

	snap := h.queue.Snapshot()
	assert.Len(t, snap.Pending, 2)
	assert.Zero(t, snap.Pending[0].RetryCount, "shutdown does not count as a failed attempt")
	assert.False(t, snap.IsSyncing)
	assert.Nil(t, snap.LastSyncAt, "an interrupted cycle is not a sync")
}

// blockingHandler parks the first call until release is closed.
type blockingHandler struct {
	inner   Handler
	enter   chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingHandler) park() {
	b.once.Do(func() {
		close(b.enter)
		<-b.release
	})
}

func (b *blockingHandler) Create(ctx context.Context, payload document.Document) (string, error) {
	b.park()
	return b.inner.Create(ctx, payload)
}

func (b *blockingHandler) Update(ctx context.Context, id string, patch document.Document) error {
	b.park()
	return b.inner.Update(ctx, id, patch)
}

func (b *blockingHandler) Delete(ctx context.Context, id string) error {
	b.park()
	return b.inner.Delete(ctx, id)
}

// cancelOnCreate cancels the cycle's context and fails the call, like a
// request aborted by shutdown.
type cancelOnCreate struct {
	cancel context.CancelFunc
}

func (c *cancelOnCreate) Create(ctx context.Context, _ document.Document) (string, error) {
	c.cancel()
	return "", ctx.Err()
}

func (c *cancelOnCreate) Update(context.Context, string, document.Document) error { return nil }
func (c *cancelOnCreate) Delete(context.Context, string) error                     { return nil }
