package localstore

import (
	"context"
	"sync"
)

// Memory is a process-local Store.
// SetSaveError makes subsequent saves fail, for exercising degraded
// persistence. Every saved blob is kept in History.
type Memory struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	history  map[string][][]byte
	saveErr  error
	closeErr error
	saves    int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		blobs:   make(map[string][]byte),
		history: make(map[string][][]byte),
	}
}

// Load returns a copy of the blob for key.
func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

// Save stores a copy of blob under key.
func (m *Memory) Save(_ context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.blobs[key] = append([]byte(nil), blob...)
	m.history[key] = append(m.history[key], m.blobs[key])
	m.saves++
	return nil
}

// SetSaveError makes every following Save return err. nil restores normal
// behaviour.
func (m *Memory) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// Saves returns the number of successful saves.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// History returns every blob saved under key, oldest first.
func (m *Memory) History(key string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.history[key]))
	copy(out, m.history[key])
	return out
}

// SetCloseError makes Close return err.
func (m *Memory) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

// Close returns the error set by SetCloseError, if any.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeErr
}
