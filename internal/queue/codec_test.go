package queue

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/document"
)

func goldenState() State {
	lastSync := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
	return State{
		Pending: []Item{
			{
				ID:         "item-1",
				EntityKind: "tasks",
				Operation:  OpCreate,
				EntityID:   "temp_1",
				Payload: document.Document{
					"title":     "Inspect pump",
					"updatedAt": "2024-03-01T12:00:00Z",
				},
				EnqueuedAt: 1,
			},
			{
				ID:         "item-2",
				EntityKind: "tasks",
				Operation:  OpUpdate,
				EntityID:   "temp_1",
				Payload:    document.Document{"status": "completed"},
				EnqueuedAt: 2,
				RetryCount: 1,
				LastError:  "remote unavailable",
			},
		},
		Failed: []Item{
			{
				ID:         "item-3",
				EntityKind: "crew",
				Operation:  OpDelete,
				EntityID:   "crew-9",
				Payload:    document.Document{},
				EnqueuedAt: 3,
				RetryCount: 3,
				LastError:  "permission denied",
			},
		},
		IsSyncing:     true,
		IsOnline:      true,
		LastSyncAt:    &lastSync,
		SyncError:     "permission denied",
		ResolvedIDs:   map[string]string{"temp_0": "task-41"},
		ResolvedOrder: []string{"temp_0"},
	}
}

func TestEncode_Golden(t *testing.T) {
	data, err := Encode(goldenState())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "queue_state", append(data, '\n'))
}

func TestDecode_RoundTrip(t *testing.T) {
	want := goldenState()
	data, err := Encode(want)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	// IsSyncing never survives a restart.
	want.IsSyncing = false
	assert.Equal(t, want, got)
}

func TestDecode_EmptyLists(t *testing.T) {
	got, err := Decode([]byte(`{"isOnline":true}`))
	require.NoError(t, err)
	assert.NotNil(t, got.Pending)
	assert.NotNil(t, got.Failed)
	assert.Empty(t, got.Pending)
	assert.True(t, got.IsOnline)
}

func TestDecode_ResolvedOrder(t *testing.T) {
	got, err := Decode([]byte(`{
		"resolvedIds": {"temp_2": "b", "temp_1": "a", "temp_3": "c"},
		"resolvedOrder": ["temp_3", "temp_9", "temp_3"]
	}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"temp_1", "temp_2", "temp_3"}, got.ResolvedOrder)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"version":99}`))
	assert.ErrorContains(t, err, "unsupported version")
}
