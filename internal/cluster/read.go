package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/okpadd/phabricator/internal/store"
)

// BeforeRead brings this device's working copy up to the freshest version
// any active device is known to hold, then returns that version. Callers
// serve the read only after this returns.
//
// No-op (returning 0) when synchronization is disabled for the repository.
func (e *Engine) BeforeRead(ctx context.Context) (int64, error) {
	if !e.enabled() {
		return 0, nil
	}
	return e.synchronizeForRead(ctx)
}

// synchronizeForRead is the read synchronizer. On return this device's
// on-disk working copy is at a version >= any version recorded for any
// active device, and its own row reflects that version.
func (e *Engine) synchronizeForRead(ctx context.Context) (int64, error) {
	start := e.clock.Now()
	lock, err := e.deps.Locks.AcquireReadLock(ctx, e.repo.ID, e.device, e.lockWait)
	if err != nil {
		if errors.Is(err, store.ErrLockTimeout) {
			return 0, wrapError(CodeTransient, e.repo.Name(), err,
				"timed out after %d second(s) waiting for the read lock", int(e.lockWait.Seconds()))
		}
		return 0, fmt.Errorf("acquire read lock: %w", err)
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			e.log.Warn("read lock release failed", "repository", e.repo.ID, "error", err)
		}
	}()

	if waited := e.clock.Now().Sub(start); waited >= e.retryInterval {
		e.sink.WriteLog(fmt.Sprintf("Acquired read lock after %d second(s)...", int(waited.Seconds())))
	}

	versions, err := e.deps.Versions.LoadVersions(ctx, e.repo.ID)
	if err != nil {
		return 0, fmt.Errorf("load versions: %w", err)
	}

	if len(versions) == 0 {
		return e.bootstrapVersion(ctx)
	}

	self := int64(-1)
	if row, ok := versions[e.device]; ok {
		self = row.Version
	}

	max := self
	for _, row := range versions {
		if row.Version > max {
			max = row.Version
		}
	}

	if max > self {
		if err := e.pullFromLeaders(ctx, versions, max); err != nil {
			return 0, err
		}
		if err := e.deps.Versions.UpdateVersion(ctx, e.repo.ID, e.device, max); err != nil {
			// The pull landed; the next read retries the row update. Version
			// rows are idempotent, so surfacing the failure is enough.
			return 0, fmt.Errorf("record version %d: %w", max, err)
		}
		e.log.Info("working copy synchronized",
			"repository", e.repo.ID,
			"device", e.device,
			"from", self,
			"to", max)
	}

	return max, nil
}

// pullFromLeaders fetches from one of the devices recorded at the target
// version.
func (e *Engine) pullFromLeaders(ctx context.Context, versions map[string]store.VersionRow, target int64) error {
	bindings, err := e.deps.Bindings.ActiveBindings(ctx, e.repo.ClusterServiceID)
	if err != nil {
		return wrapError(CodeConfig, e.repo.Name(), err, "unable to resolve cluster service %q", e.repo.ClusterServiceID)
	}

	var leaders []store.Binding
	for _, b := range bindings {
		row, ok := versions[b.DeviceID]
		if !ok || row.Version != target {
			continue
		}
		leaders = append(leaders, b)
	}

	e.sink.WriteLog(fmt.Sprintf("This device is behind version %d of repository %q; updating...", target, e.repo.Name()))
	return e.fetchFrom(ctx, leaders)
}

// bootstrapVersion handles a repository with no version history. Guessing
// a leader could silently destroy data, so history only starts when
// exactly one device is in service.
func (e *Engine) bootstrapVersion(ctx context.Context) (int64, error) {
	bindings, err := e.deps.Bindings.ActiveBindings(ctx, e.repo.ClusterServiceID)
	if err != nil {
		return 0, wrapError(CodeConfig, e.repo.Name(), err, "unable to resolve cluster service %q", e.repo.ClusterServiceID)
	}

	switch {
	case len(bindings) == 0:
		return 0, newError(CodeConfig, e.repo.Name(),
			"repository has no version history and no active devices are bound to its cluster service; bind the authoritative device to start history")
	case len(bindings) > 1:
		return 0, newError(CodeConfig, e.repo.Name(),
			"repository has no version history and more than one device is bound to its cluster service; remove all but the authoritative device from service to designate an authority, then restore the others")
	case bindings[0].DeviceID != e.device:
		return 0, newError(CodeConfig, e.repo.Name(),
			"repository has no version history and this device (%q) is not bound to its cluster service", e.device)
	}

	if err := e.deps.Versions.UpdateVersion(ctx, e.repo.ID, e.device, 0); err != nil {
		return 0, fmt.Errorf("initialize version history: %w", err)
	}

	e.log.Info("initialized repository version history",
		"repository", e.repo.ID,
		"device", e.device)
	return 0, nil
}
