package cluster

import (
	"context"
	"fmt"
	"os"

	"github.com/okpadd/phabricator/internal/store"
)

// fetchFrom pulls the working copy from one of the given leader bindings.
// Bindings are tried in order; the first success wins and the last failure
// propagates. Only SSH-family bindings are fetchable - the transport
// predicate is the fetchProtocols set, which stays pluggable.
func (e *Engine) fetchFrom(ctx context.Context, leaders []store.Binding) error {
	if e.repo.VCS != VCSGit {
		return newError(CodeUnsupported, e.repo.Name(),
			"cluster synchronization is not supported for %q repositories", e.repo.VCS)
	}

	var fetchable []store.Binding
	for _, b := range leaders {
		if e.fetchProtocols[b.Protocol] {
			fetchable = append(fetchable, b)
		}
	}
	if len(fetchable) == 0 {
		return newError(CodeLeaderLost, e.repo.Name(),
			"unable to synchronize: no up-to-date fetchable nodes (%d leader(s), none reachable over a fetchable protocol)", len(leaders))
	}

	var lastErr error
	for _, b := range fetchable {
		if _, err := os.Stat(e.repo.WorkingCopyPath); err != nil {
			return wrapError(CodeNotInitialized, e.repo.Name(), err,
				"local working copy %q does not exist; materialize the working copy on this device before serving the repository", e.repo.WorkingCopyPath)
		}

		uri := e.fetchURI(b)
		e.sink.WriteLog(fmt.Sprintf("Fetching from %q...", b.DeviceID))

		err := e.deps.Fetch.Fetch(ctx, e.repo.WorkingCopyPath, uri)
		if err == nil {
			return nil
		}
		lastErr = err
		e.log.Warn("fetch from leader failed",
			"repository", e.repo.ID,
			"leader", b.DeviceID,
			"uri", uri,
			"error", err)
	}

	return wrapError(CodeTransient, e.repo.Name(), lastErr,
		"unable to fetch from any of %d up-to-date node(s)", len(fetchable))
}

// fetchURI builds the SSH fetch URI for a peer binding. The fetch
// authenticates as this device's daemon user.
func (e *Engine) fetchURI(b store.Binding) string {
	return fmt.Sprintf("ssh://%s@%s:%d/%s", e.fetchUser, b.Host, b.Port, e.repo.ID)
}
