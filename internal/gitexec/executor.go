// Package gitexec runs git against local working copies. It is the
// wire-level fetch executor behind the cluster engine: given a peer URI
// and a working copy directory, it pulls everything the peer has.
package gitexec

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// fetchRefspec mirrors every ref namespace, not just branches; combined
// with --prune the working copy converges on the leader exactly.
const fetchRefspec = "+refs/*:refs/*"

// Executor shells out to the git binary.
type Executor struct {
	git string
	env []string
	log *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithGitBinary overrides the git binary path. Defaults to "git" on PATH.
func WithGitBinary(path string) Option {
	return func(x *Executor) { x.git = path }
}

// WithEnv sets the environment for spawned git processes. Use this to
// point GIT_SSH_COMMAND at the device credentials.
func WithEnv(env []string) Option {
	return func(x *Executor) { x.env = env }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) { x.log = l }
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	x := &Executor{
		git: "git",
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// fetchArgs builds the argument list for a fetch from uri.
func fetchArgs(uri string) []string {
	return []string{"fetch", "--prune", "--", uri, fetchRefspec}
}

// Fetch pulls all refs, with prunes, from uri into the working copy at
// dir. The process runs in dir and inherits the executor environment.
// A nonzero exit is a fetch failure carrying git's stderr.
func (x *Executor) Fetch(ctx context.Context, dir, uri string) error {
	args := fetchArgs(uri)
	cmd := exec.CommandContext(ctx, x.git, args...)
	cmd.Dir = dir
	if x.env != nil {
		cmd.Env = x.env
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		x.log.Warn("git fetch failed",
			"dir", dir,
			"uri", uri,
			"elapsed", elapsed,
			"error", err)
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return fmt.Errorf("git fetch from %q: %w: %s", uri, err, msg)
		}
		return fmt.Errorf("git fetch from %q: %w", uri, err)
	}

	x.log.Debug("git fetch complete",
		"dir", dir,
		"uri", uri,
		"elapsed", elapsed)
	return nil
}
