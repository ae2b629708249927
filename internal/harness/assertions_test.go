package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/document"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/remote"
)

func callTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: EventEnqueue, Op: "create", Kind: "tasks", ID: "temp_1"},
		{Seq: 2, Type: EventCall, Op: "create", Kind: "tasks"},
		{Seq: 3, Type: EventCall, Op: "update", Kind: "crew", ID: "crew-1", Error: "transient"},
		{Seq: 4, Type: EventCall, Op: "update", Kind: "crew", ID: "crew-1"},
		{Seq: 5, Type: EventCall, Op: "delete", Kind: "tasks", ID: "remote-1"},
	}
}

func TestAssertCallOrder(t *testing.T) {
	trace := callTrace()

	tests := []struct {
		name  string
		calls []string
		ok    bool
	}{
		{"exact", []string{"create tasks", "update crew", "update crew", "delete tasks"}, true},
		{"with ids", []string{"update crew crew-1", "delete tasks remote-1"}, true},
		{"subsequence", []string{"create tasks", "delete tasks"}, true},
		{"wrong order", []string{"delete tasks", "create tasks"}, false},
		{"wrong id", []string{"delete tasks remote-2"}, false},
		{"enqueue events are not calls", []string{"create tasks temp_1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertCallOrder(trace, Assertion{Type: AssertCallOrder, Calls: tt.calls})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAssertCallCount(t *testing.T) {
	trace := callTrace()

	assert.NoError(t, assertCallCount(trace, Assertion{Count: intp(4)}))
	assert.NoError(t, assertCallCount(trace, Assertion{Op: "update", Count: intp(2)}))
	assert.NoError(t, assertCallCount(trace, Assertion{Kind: "tasks", Count: intp(2)}))
	assert.NoError(t, assertCallCount(trace, Assertion{Op: "create", Kind: "crew", Count: intp(0)}))

	err := assertCallCount(trace, Assertion{Op: "delete", Count: intp(2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 delete call(s)")
}

func TestAssertionError_ListsRemoteCalls(t *testing.T) {
	err := &AssertionError{
		Type:     AssertPendingCount,
		Expected: "0",
		Actual:   "1",
		Trace:    callTrace(),
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: pending_count")
	assert.Contains(t, msg, "Expected: 0")
	assert.Contains(t, msg, "Actual: 1")
	assert.Contains(t, msg, "[3] update crew crew-1 (transient failure)")
	assert.Contains(t, msg, "[5] delete tasks remote-1")
	assert.NotContains(t, msg, "temp_1")
}

func TestAssertRemoteDoc(t *testing.T) {
	store := remote.NewMemory()
	store.Put("tasks", "t1", document.Document{"title": "Inspect pump", "priority": 2})
	actx := &AssertionContext{Remote: store, Ctx: context.Background()}
	result := NewResult()

	ok := Assertion{Type: AssertRemoteDoc, Kind: "tasks", ID: "t1", Expect: map[string]any{"priority": 2.0}}
	assert.NoError(t, assertRemoteDoc(result, ok, actx))

	mismatch := Assertion{Type: AssertRemoteDoc, Kind: "tasks", ID: "t1", Expect: map[string]any{"title": "other"}}
	err := assertRemoteDoc(result, mismatch, actx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "title"`)

	missing := Assertion{Type: AssertRemoteDoc, Kind: "tasks", ID: "t2", Expect: map[string]any{"title": "x"}}
	assert.Error(t, assertRemoteDoc(result, missing, actx))

	assert.NoError(t, assertRemoteDoc(result, Assertion{Kind: "tasks", ID: "t2", Absent: true}, actx))
	assert.Error(t, assertRemoteDoc(result, Assertion{Kind: "tasks", ID: "t1", Absent: true}, actx))
}

func TestAssertQueueItem(t *testing.T) {
	result := NewResult()
	result.Final = queue.State{
		Failed: []queue.Item{{
			ID:         "item-1",
			EntityKind: "tasks",
			Operation:  queue.OpUpdate,
			EntityID:   "t1",
			RetryCount: 3,
			LastError:  "timeout",
		}},
	}

	good := Assertion{List: "failed", Index: 0, Expect: map[string]any{"operation": "update", "retryCount": 3, "lastError": "timeout"}}
	assert.NoError(t, assertQueueItem(result, good))

	wrong := Assertion{List: "failed", Index: 0, Expect: map[string]any{"retryCount": 2}}
	err := assertQueueItem(result, wrong)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed[0].retryCount")

	outOfRange := Assertion{List: "pending", Index: 0, Expect: map[string]any{"id": "item-1"}}
	err = assertQueueItem(result, outOfRange)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending has 0 item(s)")
}

func TestAssertSyncError(t *testing.T) {
	clean := NewResult()
	assert.NoError(t, assertSyncError(clean, Assertion{}))
	assert.Error(t, assertSyncError(clean, Assertion{Contains: "TRANSIENT"}))

	failing := NewResult()
	failing.Final.SyncError = "TRANSIENT: create tasks: timeout"
	assert.NoError(t, assertSyncError(failing, Assertion{Contains: "timeout"}))
	assert.Error(t, assertSyncError(failing, Assertion{}))
}
