package queue

import (
	"encoding/json"
	"fmt"
	"sort"
)

// blobVersion is the version written into every persisted state blob.
const blobVersion = 1

// persistedState is the on-disk envelope. State fields are inlined.
type persistedState struct {
	Version int `json:"version"`
	State
}

// Encode serializes state for the local store.
//
// IsSyncing is always written as false: a cycle never survives the process
// that ran it.
func Encode(state State) ([]byte, error) {
	state.IsSyncing = false
	if state.Pending == nil {
		state.Pending = []Item{}
	}
	if state.Failed == nil {
		state.Failed = []Item{}
	}
	data, err := json.MarshalIndent(persistedState{Version: blobVersion, State: state}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode queue state: %w", err)
	}
	return data, nil
}

// Decode parses a blob written by Encode.
// Blobs without a version field are read as version 1.
func Decode(data []byte) (State, error) {
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return State{}, fmt.Errorf("decode queue state: %w", err)
	}
	if ps.Version > blobVersion {
		return State{}, fmt.Errorf("decode queue state: unsupported version %d", ps.Version)
	}

	state := ps.State
	state.IsSyncing = false
	if state.Pending == nil {
		state.Pending = []Item{}
	}
	if state.Failed == nil {
		state.Failed = []Item{}
	}
	state.ResolvedOrder = normalizeResolvedOrder(state.ResolvedIDs, state.ResolvedOrder)
	return state, nil
}

// normalizeResolvedOrder drops order entries with no mapping. Mappings
// missing from the order are treated as the oldest, in sorted order.
func normalizeResolvedOrder(ids map[string]string, order []string) []string {
	seen := make(map[string]bool, len(order))
	kept := make([]string, 0, len(ids))
	for _, id := range order {
		if _, ok := ids[id]; ok && !seen[id] {
			seen[id] = true
			kept = append(kept, id)
		}
	}
	var missing []string
	for id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		if len(kept) == 0 {
			return nil
		}
		return kept
	}
	sort.Strings(missing)
	return append(missing, kept...)
}
