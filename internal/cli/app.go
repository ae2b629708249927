package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/conflict"
	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/localstore"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/remote"
)

// app is the set of components a command works with.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	local localstore.Store
	queue *queue.Store

	// Set only by openRemote.
	client    *remote.Client
	processor *engine.Processor
}

// openApp opens the local store and restores the queue.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg := opts.Config
	logger := opts.logger()

	local, err := localstore.Open(cfg.LocalStore.Driver, cfg.LocalStore.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open local store", err)
	}
	logger.Debug("local store ready", "driver", cfg.LocalStore.Driver, "path", cfg.LocalStore.Path)

	q, err := queue.Open(ctx, local, queue.Options{Logger: logger})
	if err != nil {
		_ = local.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load queue", err)
	}

	return &app{cfg: cfg, logger: logger, local: local, queue: q}, nil
}

// openRemote connects the remote client and builds the processor.
func (a *app) openRemote() error {
	if a.cfg.Remote.URL == "" {
		return NewExitError(ExitCommandError, "remote.url is not configured")
	}
	a.client = remote.NewClient(a.cfg.Remote.URL, remote.ClientOptions{
		Timeout: a.cfg.Remote.Timeout.Std(),
		Logger:  a.logger,
	})

	handlers, err := buildHandlers(a.cfg, a.client, a.logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build handlers", err)
	}
	a.processor = engine.New(a.queue, handlers, engine.Options{
		RetryDelay: retryDelay(a.cfg),
		Logger:     a.logger,
	})
	return nil
}

// retryDelay maps the configured delay to engine.Options, where zero
// selects the default. A configured 0s means no delay.
func retryDelay(cfg config.Config) time.Duration {
	if d := cfg.Sync.RetryDelay.Std(); d > 0 {
		return d
	}
	return -1
}

// prober returns the reachability probe for the configured remote.
func (a *app) prober() (connectivity.Prober, error) {
	addr := a.cfg.Connectivity.ProbeAddress
	if addr == "" {
		var err error
		addr, err = connectivity.AddressFromURL(a.cfg.Remote.URL)
		if err != nil {
			return nil, err
		}
	}
	return connectivity.TCPProber{
		Address: addr,
		Timeout: a.cfg.Connectivity.ProbeTimeout.Std(),
	}, nil
}

// Close flushes the queue and releases the stores.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.queue.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush queue: %w", err))
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close remote: %w", err))
		}
	}
	if err := a.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close local store: %w", err))
	}
	return errors.Join(errs...)
}

// closeLogged is Close for deferred use: the error is logged, not returned.
func (a *app) closeLogged(ctx context.Context) {
	if err := a.Close(ctx); err != nil {
		a.logger.Error("error closing stores", "error", err)
	}
}

// buildHandlers registers a collection handler for every configured kind,
// switching the reconcile kinds to handlers that check the remote version
// first.
func buildHandlers(cfg config.Config, store remote.Store, logger *slog.Logger) (engine.Handlers, error) {
	handlers := engine.CollectionHandlers(store, cfg.Sync.EntityKinds...)
	if len(cfg.Conflict.ReconcileKinds) == 0 {
		return handlers, nil
	}

	resolver := conflict.NewResolver(conflict.DefaultRules()...)
	for _, kind := range cfg.Conflict.ReconcileKinds {
		if !slices.Contains(cfg.Sync.EntityKinds, kind) {
			return nil, fmt.Errorf("reconcile kind %q is not a sync entity kind", kind)
		}
		h, err := engine.NewReconcilingHandler(kind, store, resolver, cfg.Conflict.PreserveFields, logger)
		if err != nil {
			return nil, err
		}
		handlers[kind] = h
	}
	return handlers, nil
}
