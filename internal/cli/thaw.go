package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewThawCommand clears an interrupted write marker. This is the operator
// side of the freeze contract: before clearing, the operator is expected
// to verify the working copies agree, because the engine no longer can.
func NewThawCommand(opts *RootOptions) *cobra.Command {
	var device string
	var force bool

	cmd := &cobra.Command{
		Use:   "thaw <repository>",
		Short: "Clear an interrupted write marker on a frozen repository",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			repositoryID := args[0]
			rows, err := e.store.LoadVersions(cmd.Context(), repositoryID)
			if err != nil {
				return WrapExitError(ExitFailure, "load versions", err)
			}

			row, ok := rows[device]
			if !ok || !row.IsWriting {
				return WrapExitError(ExitFailure,
					fmt.Sprintf("device %q has no interrupted write marker for repository %q", device, repositoryID), nil)
			}

			if row.WriteProperties != nil {
				fmt.Fprintf(cmd.OutOrStdout(),
					"Interrupted write on device %q: user %q, started %s, owner %q.\n",
					device,
					row.WriteProperties.UserID,
					time.Unix(row.WriteProperties.Epoch, 0).UTC().Format(time.RFC3339),
					row.WriteOwner)
			}
			if !force {
				return WrapExitError(ExitFailure,
					"refusing to thaw without --force; verify the working copies agree across devices first", nil)
			}

			cleared, err := e.store.ClearWriteMarker(cmd.Context(), repositoryID, device)
			if err != nil {
				return WrapExitError(ExitFailure, "clear write marker", err)
			}
			if !cleared {
				return WrapExitError(ExitFailure, "write marker vanished before it could be cleared", nil)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Cleared interrupted write marker; repository %q accepts writes again.\n", repositoryID)
			return nil
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "device whose write was interrupted (required)")
	cmd.Flags().BoolVar(&force, "force", false, "actually clear the marker")
	cmd.MarkFlagRequired("device")

	return cmd
}
