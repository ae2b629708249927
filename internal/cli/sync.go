package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/engine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	AssumeOnline bool
}

// SyncResult is the output of the sync command.
type SyncResult struct {
	Ran         bool   `json:"ran"`
	Reason      string `json:"reason,omitempty"`
	Attempted   int    `json:"attempted"`
	Succeeded   int    `json:"succeeded"`
	Retried     int    `json:"retried"`
	Failed      int    `json:"failed"`
	Interrupted bool   `json:"interrupted,omitempty"`
	DurationMs  int64  `json:"durationMs"`
	Pending     int    `json:"pending"`
	FailedTotal int    `json:"failedTotal"`
	SyncError   string `json:"syncError,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay pending mutations once",
		Long: `Probe the remote store and, if it is reachable, replay the pending queue
once in order.

Each failing item is retried on later syncs; after 3 failed attempts it is
moved to the failed list and the command exits with status 1.

Examples:
  fieldsync sync
  fieldsync sync --assume-online --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.AssumeOnline, "assume-online", false, "skip the reachability probe")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	ctx, stop := withSignals(cmd.Context(), opts.logger())
	defer stop()

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.closeLogged(context.WithoutCancel(ctx))

	if err := a.openRemote(); err != nil {
		return err
	}

	online := opts.AssumeOnline
	if !online {
		prober, err := a.prober()
		if err != nil {
			return WrapExitError(ExitCommandError, "cannot derive probe address", err)
		}
		if perr := prober.Probe(ctx); perr != nil {
			a.logger.Info("remote unreachable", "error", perr)
		} else {
			online = true
		}
	}
	a.queue.SetOnline(ctx, online)

	res, ran := a.processor.Drain(ctx)
	out := syncResult(a, res, ran)
	if !ran {
		switch {
		case !online:
			out.Reason = "offline"
		default:
			out.Reason = "nothing pending"
		}
	}

	f := opts.formatter(cmd)
	if err := f.Emit(out, func(w io.Writer) { writeSyncResult(w, out) }); err != nil {
		return err
	}
	if out.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d item(s) moved to the failed list", out.Failed))
	}
	return nil
}

func syncResult(a *app, res engine.Result, ran bool) SyncResult {
	pending, failed := a.queue.Counts()
	return SyncResult{
		Ran:         ran,
		Attempted:   res.Attempted,
		Succeeded:   res.Succeeded,
		Retried:     res.Retried,
		Failed:      res.Quarantined,
		Interrupted: res.Interrupted,
		DurationMs:  res.Duration.Milliseconds(),
		Pending:     pending,
		FailedTotal: failed,
		SyncError:   a.queue.Snapshot().SyncError,
	}
}

func writeSyncResult(w io.Writer, r SyncResult) {
	if !r.Ran {
		fmt.Fprintf(w, "Sync skipped: %s (%d pending, %d failed)\n", r.Reason, r.Pending, r.FailedTotal)
		return
	}
	fmt.Fprintf(w, "Replayed %d/%d item(s): %d retried, %d failed\n", r.Succeeded, r.Attempted, r.Retried, r.Failed)
	if r.Interrupted {
		fmt.Fprintln(w, "Sync interrupted; remaining items stay queued")
	}
	fmt.Fprintf(w, "Queue: %d pending, %d failed\n", r.Pending, r.FailedTotal)
	if r.SyncError != "" {
		fmt.Fprintf(w, "Last error: %s\n", r.SyncError)
	}
}
