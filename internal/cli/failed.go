package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// FailedResult is the output of retry-failed and discard-failed.
type FailedResult struct {
	Count int `json:"count"`
}

// NewRetryFailedCommand creates the retry-failed command.
func NewRetryFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Move failed mutations back to the pending queue",
		Long: `Move every failed mutation to the end of the pending queue with its retry
count reset. They are replayed on the next sync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFailedAction(cmd, rootOpts, "requeued", func(ctx context.Context, a *app) int {
				return a.queue.RequeueFailed(ctx)
			})
		},
	}
}

// NewDiscardFailedCommand creates the discard-failed command.
func NewDiscardFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard-failed",
		Short: "Drop all failed mutations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFailedAction(cmd, rootOpts, "discarded", func(ctx context.Context, a *app) int {
				return a.queue.ClearFailed(ctx)
			})
		},
	}
}

func runFailedAction(cmd *cobra.Command, opts *RootOptions, verb string, action func(context.Context, *app) int) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.closeLogged(context.WithoutCancel(ctx))

	n := action(ctx, a)
	if perr := a.queue.PersistErr(); perr != nil {
		return WrapExitError(ExitCommandError, "queue change not persisted", perr)
	}
	a.logger.Info("failed items "+verb, "count", n)

	return opts.formatter(cmd).Emit(FailedResult{Count: n}, func(w io.Writer) {
		fmt.Fprintf(w, "%s %d failed item(s)\n", verb, n)
	})
}
