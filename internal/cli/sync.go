package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okpadd/phabricator/internal/cluster"
	"github.com/okpadd/phabricator/internal/gitexec"
)

// NewSyncCommand runs a read synchronization for a repository on this
// device: acquire the read lock, pull from a leader if behind, update this
// device's version row. Operators run this after re-binding a device.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <repository>",
		Short: "Synchronize this device's working copy with the cluster",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			repo, err := e.repository(args[0])
			if err != nil {
				return err
			}
			if !cluster.ShouldSync(repo, e.cfg.Device) {
				return WrapExitError(ExitFailure,
					fmt.Sprintf("synchronization is not enabled for repository %q", repo.Name()), nil)
			}

			engineOpts := []cluster.Option{
				cluster.WithLogWriter(cluster.NewLineWriter(cmd.ErrOrStderr())),
			}
			if e.cfg.FetchUser != "" {
				engineOpts = append(engineOpts, cluster.WithFetchUser(e.cfg.FetchUser))
			}
			engine := cluster.New(repo, e.cfg.Device,
				cluster.StoreDeps(e.store, gitexec.New()),
				engineOpts...)

			version, err := engine.BeforeRead(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "synchronize", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Repository %q is at version %d on this device.\n", repo.Name(), version)
			return nil
		},
	}
}
