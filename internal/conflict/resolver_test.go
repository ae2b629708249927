package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/fieldsync/internal/document"
)

const (
	t1 = "2024-03-01T10:00:00Z"
	t2 = "2024-03-01T11:00:00Z"
)

func TestResolve_LastWriteWins(t *testing.T) {
	tests := []struct {
		name   string
		local  document.Document
		remote document.Document
		want   Winner
	}{
		{"remote newer", document.Document{"updatedAt": t1}, document.Document{"updatedAt": t2}, Remote},
		{"local newer", document.Document{"updatedAt": t2}, document.Document{"updatedAt": t1}, Local},
		{"tie favours local", document.Document{"updatedAt": t1}, document.Document{"updatedAt": t1}, Local},
		{"local missing timestamp", document.Document{}, document.Document{"updatedAt": t1}, Remote},
		{"remote missing timestamp", document.Document{"updatedAt": t1}, document.Document{}, Local},
		{"both missing", document.Document{"a": 1}, document.Document{"a": 2}, Local},
		{"mixed encodings", document.Document{"updatedAt": t1}, document.Document{"updatedAt": float64(1709290800000 + 1)}, Remote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Resolver
			got := r.Decide("crew", tt.local, tt.remote)
			assert.Equal(t, tt.want, got.Winner, got.Reason)

			winner := Resolve(tt.local, tt.remote)
			if tt.want == Remote {
				assert.Equal(t, tt.remote, winner)
			} else {
				assert.Equal(t, tt.local, winner)
			}
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	local := document.Document{"updatedAt": t1, "title": "a"}
	remote := document.Document{"updatedAt": t2, "title": "b"}

	first := Resolve(local, remote)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Resolve(local, remote))
	}
}

func TestHasConflict(t *testing.T) {
	tests := []struct {
		name   string
		local  document.Document
		remote document.Document
		want   bool
	}{
		{"identical", document.Document{"updatedAt": t1, "a": 1}, document.Document{"updatedAt": t1, "a": 1}, false},
		{"identical no timestamps", document.Document{"a": 1}, document.Document{"a": 1.0}, false},
		{"same instant different encoding", document.Document{"updatedAt": t1}, document.Document{"updatedAt": "2024-03-01T11:00:00+01:00"}, false},
		{"timestamps differ", document.Document{"updatedAt": t1, "a": 1}, document.Document{"updatedAt": t2, "a": 1}, true},
		{"one timestamp missing", document.Document{"a": 1}, document.Document{"updatedAt": t1, "a": 1}, true},
		{"field differs", document.Document{"updatedAt": t1, "a": 1}, document.Document{"updatedAt": t1, "a": 2}, true},
		{"extra field", document.Document{"updatedAt": t1}, document.Document{"updatedAt": t1, "b": true}, true},
		{"unparseable timestamps differ", document.Document{"updatedAt": "yesterday", "a": 1}, document.Document{"updatedAt": "today", "a": 1}, true},
		{"unparseable timestamps equal", document.Document{"updatedAt": "rev-7"}, document.Document{"updatedAt": "rev-7"}, false},
		{"unparseable against missing", document.Document{"updatedAt": "rev-7"}, document.Document{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasConflict(tt.local, tt.remote))
		})
	}
}

func TestMerge_PreservesLocalFields(t *testing.T) {
	local := document.Document{"updatedAt": t1, "name": "Ana", "notes": "local draft"}
	remote := document.Document{"updatedAt": t2, "name": "Ana Maria", "notes": "server"}

	merged := Merge(local, remote, []string{"notes", "absent"})

	assert.Equal(t, document.Document{"updatedAt": t2, "name": "Ana Maria", "notes": "local draft"}, merged)
	_, has := merged["absent"]
	assert.False(t, has)

	// Inputs are untouched.
	assert.Equal(t, "server", remote["notes"])
}

func TestMerge_LocalWinnerUnchanged(t *testing.T) {
	local := document.Document{"updatedAt": t2, "name": "local"}
	remote := document.Document{"updatedAt": t1, "name": "remote"}

	assert.Equal(t, local, Merge(local, remote, nil))
}

func TestMerge_ResultIsACopy(t *testing.T) {
	local := document.Document{"updatedAt": t2, "tags": []any{"x"}}
	remote := document.Document{"updatedAt": t1}

	merged := Merge(local, remote, []string{"tags"})
	merged["tags"].([]any)[0] = "y"
	assert.Equal(t, "x", local["tags"].([]any)[0])
}
