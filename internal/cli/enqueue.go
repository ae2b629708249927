package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/document"
	"github.com/roach88/fieldsync/internal/queue"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Data string
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <kind> <create|update|delete> [entity-id]",
		Short: "Queue a mutation for replay",
		Long: `Append a mutation to the pending queue.

A create without an entity id is given a temporary id, which later updates
and deletes can refer to until the create has been replayed.

Examples:
  fieldsync enqueue tasks create --data '{"title":"Inspect pump"}'
  fieldsync enqueue tasks update temp_0b9c... --data '{"status":"completed"}'
  fieldsync enqueue crew delete 42`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "{}", "payload or patch as a JSON object")

	return cmd
}

func runEnqueue(ctx context.Context, opts *EnqueueOptions, args []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	kind := args[0]
	if !slices.Contains(opts.Config.Sync.EntityKinds, kind) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown entity kind %q (configured: %v)", kind, opts.Config.Sync.EntityKinds))
	}
	op, err := queue.ParseOperation(args[1])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid operation", err)
	}
	var entityID string
	if len(args) == 3 {
		entityID = args[2]
	}
	if op != queue.OpCreate && entityID == "" {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s requires an entity id", op))
	}
	payload, err := document.Parse([]byte(opts.Data))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --data", err)
	}

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.closeLogged(context.WithoutCancel(ctx))

	item, err := a.queue.Enqueue(ctx, queue.Item{
		EntityKind: kind,
		Operation:  op,
		EntityID:   entityID,
		Payload:    payload,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to enqueue", err)
	}
	if perr := a.queue.PersistErr(); perr != nil {
		return WrapExitError(ExitCommandError, "mutation queued but not persisted", perr)
	}

	return opts.formatter(cmd).Emit(item, func(w io.Writer) {
		fmt.Fprintf(w, "queued %s %s %s (item %s)\n", item.EntityKind, item.Operation, item.EntityID, item.ID)
	})
}
