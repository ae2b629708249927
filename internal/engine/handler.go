package engine

import (
	"context"

	"github.com/roach88/fieldsync/internal/document"
	"github.com/roach88/fieldsync/internal/remote"
)

// Handler replays mutations for one entity kind. Handlers route to the
// remote store; they hold no queue logic.
type Handler interface {
	// Create inserts payload and returns the durable id.
	Create(ctx context.Context, payload document.Document) (string, error)
	// Update applies patch to the entity with the given id.
	Update(ctx context.Context, id string, patch document.Document) error
	// Delete removes the entity with the given id.
	Delete(ctx context.Context, id string) error
}

// CollectionHandler maps a kind one-to-one onto a remote collection.
type CollectionHandler struct {
	Kind   string
	Remote remote.Store
}

// Create implements Handler.
func (h CollectionHandler) Create(ctx context.Context, payload document.Document) (string, error) {
	return h.Remote.Create(ctx, h.Kind, payload)
}

// Update implements Handler.
func (h CollectionHandler) Update(ctx context.Context, id string, patch document.Document) error {
	return h.Remote.Update(ctx, h.Kind, id, patch)
}

// Delete implements Handler.
func (h CollectionHandler) Delete(ctx context.Context, id string) error {
	return h.Remote.Delete(ctx, h.Kind, id)
}

// Handlers maps entity kinds to their handlers.
type Handlers map[string]Handler

// CollectionHandlers builds a CollectionHandler for each kind.
func CollectionHandlers(store remote.Store, kinds ...string) Handlers {
	hs := make(Handlers, len(kinds))
	for _, k := range kinds {
		hs[k] = CollectionHandler{Kind: k, Remote: store}
	}
	return hs
}
