package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/queue"
)

// StatusResult is the output of the status command.
type StatusResult struct {
	Online     bool         `json:"online"`
	Syncing    bool         `json:"syncing"`
	Pending    []queue.Item `json:"pending"`
	Failed     []queue.Item `json:"failed"`
	LastSyncAt *time.Time   `json:"lastSyncAt,omitempty"`
	SyncError  string       `json:"syncError,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the queue state",
		Long: `Show the last known connectivity, pending and failed mutations, the time
of the last completed sync and the last sync error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runStatus(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.closeLogged(context.WithoutCancel(ctx))

	st := a.queue.Snapshot()
	res := StatusResult{
		Online:     st.IsOnline,
		Syncing:    st.IsSyncing,
		Pending:    st.Pending,
		Failed:     st.Failed,
		LastSyncAt: st.LastSyncAt,
		SyncError:  st.SyncError,
	}
	return opts.formatter(cmd).Emit(res, func(w io.Writer) {
		writeStatus(w, res)
	})
}

func writeStatus(w io.Writer, res StatusResult) {
	fmt.Fprintf(w, "Online:    %t\n", res.Online)
	fmt.Fprintf(w, "Pending:   %d\n", len(res.Pending))
	for _, it := range res.Pending {
		fmt.Fprintf(w, "  %s  %-15s %-6s %s  retries=%d\n", it.ID, it.EntityKind, it.Operation, it.EntityID, it.RetryCount)
	}
	fmt.Fprintf(w, "Failed:    %d\n", len(res.Failed))
	for _, it := range res.Failed {
		fmt.Fprintf(w, "  %s  %-15s %-6s %s  %s\n", it.ID, it.EntityKind, it.Operation, it.EntityID, it.LastError)
	}
	if res.LastSyncAt != nil {
		fmt.Fprintf(w, "Last sync: %s\n", res.LastSyncAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "Last sync: never")
	}
	if res.SyncError != "" {
		fmt.Fprintf(w, "Error:     %s\n", res.SyncError)
	}
}
