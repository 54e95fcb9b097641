package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okpadd/phabricator/internal/cluster"
	"github.com/okpadd/phabricator/internal/config"
	"github.com/okpadd/phabricator/internal/store"
)

// env is the loaded configuration plus the opened store every command
// starts from.
type env struct {
	cfg   *config.Config
	store *store.Store
}

// loadEnv loads the node config and opens the coordination database.
// Callers must Close the returned env.
func loadEnv(opts *RootOptions) (*env, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load configuration", err)
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	return &env{cfg: cfg, store: st}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}

// repository resolves a repository id from the node config.
func (e *env) repository(id string) (cluster.Repository, error) {
	for _, rc := range e.cfg.Repositories {
		if rc.ID == id {
			return rc.Repository(), nil
		}
	}
	return cluster.Repository{}, WrapExitError(ExitCommandError,
		fmt.Sprintf("repository %q is not configured on this node", id), nil)
}

// exactArgs mirrors cobra.ExactArgs but reports a command error exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return WrapExitError(ExitCommandError,
				fmt.Sprintf("expected %d argument(s), got %d", n, len(args)), nil)
		}
		return nil
	}
}
