package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/okpadd/phabricator/internal/store"
)

// NewStatusCommand prints the cluster version table for a repository.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <repository>",
		Short: "Show working copy versions across the cluster",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			rows, err := e.store.LoadVersions(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "load versions", err)
			}

			if opts.Format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(sortedRows(rows))
			}
			fmt.Fprint(cmd.OutOrStdout(), RenderStatus(args[0], rows, time.Now()))
			return nil
		},
	}
}

func sortedRows(rows map[string]store.VersionRow) []store.VersionRow {
	out := make([]store.VersionRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// RenderStatus renders the version table as text. A repository with no
// rows has no leader yet; the table says so instead of printing nothing.
func RenderStatus(repositoryID string, rows map[string]store.VersionRow, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", repositoryID)

	if len(rows) == 0 {
		b.WriteString("No version history. No leader is known for this repository.\n")
		return b.String()
	}

	var max int64 = -1
	for _, row := range rows {
		if row.Version > max {
			max = row.Version
		}
	}

	const rowFormat = "%-16s  %8s  %-6s  %-12s  %s"
	line := func(cols ...any) {
		b.WriteString(strings.TrimRight(fmt.Sprintf(rowFormat, cols...), " "))
		b.WriteByte('\n')
	}
	line("DEVICE", "VERSION", "LEADER", "WRITING", "WRITE AGE")
	for _, row := range sortedRows(rows) {
		leader := ""
		if row.Version == max {
			leader = "yes"
		}
		writing := ""
		age := ""
		if row.IsWriting {
			writing = "INTERRUPTED?"
			if row.WriteProperties != nil {
				age = now.Sub(time.Unix(row.WriteProperties.Epoch, 0)).Truncate(time.Second).String()
			}
		}
		line(row.DeviceID, fmt.Sprintf("%d", row.Version), leader, writing, age)
	}
	return b.String()
}
