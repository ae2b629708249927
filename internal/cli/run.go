package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/queue"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Stdin bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long: `Run the sync daemon until interrupted.

The daemon probes the remote store every connectivity.probeInterval and
replays the queue whenever the device comes back online. If
connectivity.stateFile is set, writes of "online", "offline" or
"foreground" to that file are handled as platform connectivity events.

The daemon owns the queue while it runs. With --stdin it also accepts
mutations as JSON lines on standard input:

  {"entityKind":"tasks","operation":"create","payload":{"title":"Inspect pump"}}

Example:
  fieldsync run --config /etc/fieldsync.yaml
  producer | fieldsync run --stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Stdin, "stdin", false, "enqueue JSON-line mutations read from standard input")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	logger := opts.logger()
	ctx, stop := withSignals(cmd.Context(), logger)
	defer stop()

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.closeLogged(context.WithoutCancel(ctx))

	if err := a.openRemote(); err != nil {
		return err
	}
	prober, err := a.prober()
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot derive probe address", err)
	}

	mon := connectivity.NewMonitor(a.queue, a.processor.TriggerSync, prober, logger)
	cfg := a.cfg.Connectivity

	g, gctx := errgroup.WithContext(ctx)

	// Startup counts as a foreground event.
	mon.HandleForeground(gctx)

	g.Go(func() error {
		return ignoreCanceled(mon.Poll(gctx, cfg.ProbeInterval.Std()))
	})

	if cfg.StateFile != "" {
		events := make(chan connectivity.Event)
		src := connectivity.NewStateFileSource(cfg.StateFile, logger)
		g.Go(func() error {
			return ignoreCanceled(src.Run(gctx, events))
		})
		g.Go(func() error {
			return ignoreCanceled(mon.Run(gctx, events))
		})
	}

	if opts.Stdin {
		items := make(chan queue.Item)
		// The reader blocks on stdin and cannot be interrupted, so it stays
		// outside the group.
		go readMutations(gctx, cmd.InOrStdin(), items, logger)
		g.Go(func() error {
			return ignoreCanceled(ingest(gctx, a, items))
		})
	}

	logger.Info("daemon started",
		"remote", a.cfg.Remote.URL,
		"probe_interval", cfg.ProbeInterval.Std(),
		"state_file", cfg.StateFile,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Sync daemon running. Press Ctrl-C to stop.")

	err = g.Wait()
	a.processor.Wait()
	if err != nil {
		return WrapExitError(ExitFailure, "daemon error", err)
	}

	pending, failed := a.queue.Counts()
	logger.Info("daemon stopped", "pending", pending, "failed", failed, "cycles", a.processor.Cycles())
	return nil
}

// readMutations decodes JSON items from r until EOF or a decode error.
// items is closed when reading stops.
func readMutations(ctx context.Context, r io.Reader, items chan<- queue.Item, logger *slog.Logger) {
	defer close(items)
	dec := json.NewDecoder(r)
	for {
		var it queue.Item
		if err := dec.Decode(&it); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error("stopped reading mutations", "error", err)
			}
			return
		}
		select {
		case items <- it:
		case <-ctx.Done():
			return
		}
	}
}

// ingest enqueues items and asks for a drain after each one.
func ingest(ctx context.Context, a *app, items <-chan queue.Item) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it, ok := <-items:
			if !ok {
				return nil
			}
			stored, err := a.queue.Enqueue(ctx, it)
			if err != nil {
				a.logger.Warn("rejected mutation", "error", err)
				continue
			}
			a.logger.Debug("mutation queued",
				"item", stored.ID,
				"kind", stored.EntityKind,
				"op", stored.Operation,
				"entity", stored.EntityID,
			)
			a.processor.TriggerSync(ctx)
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
