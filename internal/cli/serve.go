package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/remote"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an in-memory remote store for development",
		Long: `Serve an in-memory document store over the websocket protocol the sync
client speaks. Documents are lost when the server stops.

Example:
  fieldsync serve --addr 127.0.0.1:8088
  # remote.url: ws://127.0.0.1:8088/rpc`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8088", "listen address")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := opts.logger()
	ctx, stop := withSignals(cmd.Context(), logger)
	defer stop()

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", remote.NewHandler(remote.NewMemory(), logger))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	logger.Info("remote store listening", "addr", ln.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on ws://%s/rpc\n", ln.Addr())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Hijacked websocket connections are not tracked by Shutdown.
		_ = srv.Close()
	}
	logger.Info("remote store stopped")
	return nil
}
