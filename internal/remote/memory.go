package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/fieldsync/internal/document"
)

// Call records one request received by a Memory store.
type Call struct {
	Op      string
	Kind    string
	ID      string
	Payload document.Document
}

// Memory is an in-process document store.
//
// It backs the development server and the engine tests. Faults can be
// injected per call with FailWith; every call, successful or not, is
// recorded in order.
type Memory struct {
	mu    sync.Mutex
	docs  map[string]map[string]document.Document
	calls []Call
	newID func() string
	fault func(Call) error
}

// NewMemory creates an empty store assigning UUIDv7 ids.
func NewMemory() *Memory {
	return &Memory{
		docs:  make(map[string]map[string]document.Document),
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// WithIDs replaces the id source used by Create.
func (m *Memory) WithIDs(next func() string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newID = next
	return m
}

// FailWith installs a fault hook. When it returns a non-nil error the call
// fails with that error and leaves the documents unchanged. nil removes the
// hook.
func (m *Memory) FailWith(fault func(Call) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fault
}

// Calls returns the recorded calls in arrival order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	for i, c := range m.calls {
		c.Payload = c.Payload.Clone()
		out[i] = c
	}
	return out
}

// Put stores doc directly, bypassing the call log and faults.
func (m *Memory) Put(kind, id string, doc document.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(kind)[id] = doc.Clone()
}

// Len returns the number of documents in a collection.
func (m *Memory) Len(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[kind])
}

func (m *Memory) collection(kind string) map[string]document.Document {
	c, ok := m.docs[kind]
	if !ok {
		c = make(map[string]document.Document)
		m.docs[kind] = c
	}
	return c
}

// record logs the call and applies the fault hook. Caller holds m.mu.
func (m *Memory) record(c Call) error {
	c.Payload = c.Payload.Clone()
	m.calls = append(m.calls, c)
	if m.fault != nil {
		return m.fault(c)
	}
	return nil
}

// Create implements Store.
func (m *Memory) Create(ctx context.Context, kind string, doc document.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NewTransient("create", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(Call{Op: "create", Kind: kind, Payload: doc}); err != nil {
		return "", err
	}
	id := m.newID()
	stored := doc.Clone()
	if stored == nil {
		stored = document.Document{}
	}
	stored["id"] = id
	m.collection(kind)[id] = stored
	return id, nil
}

// Update implements Store.
func (m *Memory) Update(ctx context.Context, kind, id string, patch document.Document) error {
	if err := ctx.Err(); err != nil {
		return NewTransient("update", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(Call{Op: "update", Kind: kind, ID: id, Payload: patch}); err != nil {
		return err
	}
	doc, ok := m.collection(kind)[id]
	if !ok {
		return NewPermanent("update", fmt.Errorf("%s/%s: %w", kind, id, ErrNotFound))
	}
	for k, v := range patch.Clone() {
		doc[k] = v
	}
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, kind, id string) error {
	if err := ctx.Err(); err != nil {
		return NewTransient("delete", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(Call{Op: "delete", Kind: kind, ID: id}); err != nil {
		return err
	}
	delete(m.collection(kind), id)
	return nil
}

// Get implements Getter. Gets are not recorded.
func (m *Memory) Get(ctx context.Context, kind, id string) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewTransient("get", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[kind][id]
	if !ok {
		return nil, NewPermanent("get", fmt.Errorf("%s/%s: %w", kind, id, ErrNotFound))
	}
	return doc.Clone(), nil
}
