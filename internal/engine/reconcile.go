package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/fieldsync/internal/conflict"
	"github.com/roach88/fieldsync/internal/document"
	"github.com/roach88/fieldsync/internal/remote"
)

// ReconcilingHandler checks updates against the current remote version
// before writing them.
//
// The local view of the entity is the remote document with the queued patch
// applied. Then:
//   - no difference from remote: the update already landed, nothing is sent
//   - local wins: the patch is sent as queued
//   - remote wins: only the preserved local fields that differ from remote
//     are sent; if none differ the update is superseded and dropped
//
// Creates and deletes pass straight through.
type ReconcilingHandler struct {
	CollectionHandler
	Getter         remote.Getter
	Resolver       *conflict.Resolver
	PreserveFields []string
	Logger         *slog.Logger
}

// NewReconcilingHandler builds a handler for kind. store must implement
// remote.Getter.
func NewReconcilingHandler(kind string, store remote.Store, resolver *conflict.Resolver, preserve []string, logger *slog.Logger) (*ReconcilingHandler, error) {
	getter, ok := store.(remote.Getter)
	if !ok {
		return nil, fmt.Errorf("remote store %T cannot fetch documents", store)
	}
	if resolver == nil {
		resolver = conflict.NewResolver(conflict.DefaultRules()...)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcilingHandler{
		CollectionHandler: CollectionHandler{Kind: kind, Remote: store},
		Getter:            getter,
		Resolver:          resolver,
		PreserveFields:    preserve,
		Logger:            logger.With("component", "reconcile", "kind", kind),
	}, nil
}

// Update implements Handler.
func (h *ReconcilingHandler) Update(ctx context.Context, id string, patch document.Document) error {
	current, err := h.Getter.Get(ctx, h.Kind, id)
	if err != nil {
		return err
	}

	local := current.Clone()
	for k, v := range patch.Clone() {
		local[k] = v
	}

	if !conflict.HasConflict(local, current) {
		h.Logger.Debug("update already applied remotely", "id", id)
		return nil
	}

	decision := h.Resolver.Decide(h.Kind, local, current)
	if decision.Winner == conflict.Local {
		return h.Remote.Update(ctx, h.Kind, id, patch)
	}

	merged := h.Resolver.Merge(h.Kind, local, current, h.PreserveFields)
	delta := changedFields(merged, current)
	if len(delta) == 0 {
		h.Logger.Info("local update superseded by newer remote version",
			"id", id,
			"reason", decision.Reason,
		)
		return nil
	}

	h.Logger.Info("remote version won, writing preserved fields",
		"id", id,
		"reason", decision.Reason,
		"fields", len(delta),
	)
	return h.Remote.Update(ctx, h.Kind, id, delta)
}

// changedFields returns the fields of next whose values differ from prev.
func changedFields(next, prev document.Document) document.Document {
	delta := document.Document{}
	for k, v := range next {
		old, ok := prev[k]
		if ok && document.Equal(document.Document{"v": v}, document.Document{"v": old}) {
			continue
		}
		delta[k] = v
	}
	return delta
}
