package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/okpadd/phabricator/internal/api"
)

const shutdownTimeout = 5 * time.Second

// NewServeCommand runs the admin HTTP surface until interrupted.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API (status and thaw)",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if e.cfg.Listen == "" {
				return WrapExitError(ExitCommandError, "no listen address configured", nil)
			}

			server := &http.Server{
				Addr:    e.cfg.Listen,
				Handler: api.NewServer(e.store, slog.Default()).Router(),
			}

			errc := make(chan error, 1)
			go func() {
				slog.Info("admin API listening", "addr", e.cfg.Listen)
				errc <- server.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return WrapExitError(ExitFailure, "admin API", err)
			case <-cmd.Context().Done():
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(ctx)
			}
		},
	}
}
