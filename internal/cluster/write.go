package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/okpadd/phabricator/internal/store"
)

// BeforeWrite serializes this write against the whole cluster. On return:
// the repository write lock is held on a dedicated connection, no earlier
// write is known to have been interrupted, this device's working copy is
// at the cluster maximum version, and a durable "is writing" marker with a
// fresh owner token has been persisted.
//
// actingUser is recorded in the write marker so an operator inspecting a
// frozen repository can see whose write was interrupted.
//
// No-op when synchronization is disabled for the repository.
func (e *Engine) BeforeWrite(ctx context.Context, actingUser string) error {
	if !e.enabled() {
		return nil
	}
	if e.writeLock != nil {
		return newError(CodeProgrammer, e.repo.Name(), "write already in progress on this engine")
	}

	start := e.clock.Now()
	lock, err := e.deps.Locks.AcquireWriteLock(ctx, e.repo.ID, e.lockWait)
	if err != nil {
		if errors.Is(err, store.ErrLockTimeout) {
			return wrapError(CodeTransient, e.repo.Name(), err,
				"timed out after %d second(s) waiting for the write lock", int(e.lockWait.Seconds()))
		}
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if waited := e.clock.Now().Sub(start); waited >= e.retryInterval {
		e.sink.WriteLog(fmt.Sprintf("Acquired write lock after %d second(s)...", int(waited.Seconds())))
	}

	versions, err := e.deps.Versions.LoadVersions(ctx, e.repo.ID)
	if err != nil {
		e.releaseQuietly(ctx, lock)
		return fmt.Errorf("load versions: %w", err)
	}

	// Any surviving marker means a writer died between its WillWrite and
	// DidWrite. The working copies may disagree in ways version numbers
	// can not express, so the repository stays frozen until an operator
	// resolves it.
	for _, row := range versions {
		if row.IsWriting {
			e.releaseQuietly(ctx, lock)
			return newError(CodeFrozen, e.repo.Name(),
				"a previous write to this repository was interrupted on device %q; write access is frozen until an operator verifies the working copies and clears the interrupted write marker", row.DeviceID)
		}
	}

	version, err := e.synchronizeForRead(ctx)
	if err != nil {
		e.releaseQuietly(ctx, lock)
		return err
	}

	owner := e.tokens.Token()
	props := store.WriteProperties{
		UserID:   actingUser,
		Epoch:    e.clock.Now().Unix(),
		DeviceID: e.device,
	}

	// The durable lock: even if the advisory lock is lost from here on,
	// this marker plus the owner token lets exactly this process complete
	// the write.
	if err := e.deps.Versions.WillWrite(ctx, lock.Conn(), e.repo.ID, e.device, props, owner); err != nil {
		e.releaseQuietly(ctx, lock)
		return fmt.Errorf("persist write marker: %w", err)
	}

	e.writeLock = lock
	e.writeVersion = version
	e.writeOwner = owner

	e.log.Info("write serialized",
		"repository", e.repo.ID,
		"device", e.device,
		"version", version,
		"owner", owner)
	return nil
}

// AfterWrite publishes the write: it clears the durable marker with the
// new post-write version, then releases the advisory write lock.
//
// Clearing the marker is the only step that matters; the advisory lock may
// already be gone if the database restarted mid-push. The marker update is
// retried for the release budget across connectivity failures. If the
// budget runs out the repository is left frozen for an operator.
func (e *Engine) AfterWrite(ctx context.Context) error {
	if !e.enabled() {
		return nil
	}
	if e.writeLock == nil {
		return newError(CodeProgrammer, e.repo.Name(), "no write in progress; AfterWrite requires a successful BeforeWrite")
	}

	// The version advances whenever any push event was recorded, rejected
	// or not: the version is a "most recent activity" cursor.
	newVersion := e.writeVersion
	if id, ok, err := e.deps.Pushes.MostRecentPushEvent(ctx, e.repo.ID); err != nil {
		return fmt.Errorf("resolve post-write version: %w", err)
	} else if ok {
		newVersion = id
	}

	released := false
	loggedDisconnect := false
	deadline := e.clock.Now().Add(e.releaseBudget)

	for {
		_, err := e.deps.Versions.DidWrite(ctx, e.repo.ID, e.device, e.writeVersion, newVersion, e.writeOwner)
		if err == nil {
			released = true
			break
		}
		if !store.IsConnectivityError(err) {
			return fmt.Errorf("clear write marker: %w", err)
		}
		if !loggedDisconnect {
			loggedDisconnect = true
			e.log.Error("CRITICAL: lost database connectivity while releasing the durable write lock; retrying",
				"repository", e.repo.ID,
				"device", e.device,
				"error", err)
			e.sink.WriteLog("Lost connection to the database while completing the write; reconnecting...")
		}
		if !e.clock.Now().Before(deadline) {
			break
		}
		e.clock.Sleep(e.retryInterval)
	}

	if !released {
		err := newError(CodeFrozen, e.repo.Name(),
			"unable to release the durable write lock after %d second(s) of database connectivity failures; the repository is frozen until an operator clears the interrupted write marker", int(e.releaseBudget.Seconds()))
		e.clearWriteState(ctx)
		return err
	}

	e.log.Info("write published",
		"repository", e.repo.ID,
		"device", e.device,
		"version", newVersion)
	e.clearWriteState(ctx)
	return nil
}

// clearWriteState releases the advisory lock best-effort and drops the
// per-operation state. By the time this runs the durable marker has
// already been resolved one way or the other, so a failed or already-lost
// advisory release is only worth a debug line.
func (e *Engine) clearWriteState(ctx context.Context) {
	if e.writeLock != nil {
		if err := e.writeLock.Release(ctx); err != nil {
			e.log.Debug("advisory write lock release failed",
				"repository", e.repo.ID,
				"error", err)
		}
	}
	e.writeLock = nil
	e.writeVersion = 0
	e.writeOwner = ""
}

// releaseQuietly unwinds a lock on a BeforeWrite failure path. Release
// expires the lease and closes its pinned connection; a lease whose release
// fails stays held until its TTL runs out. Failures only get a log line.
func (e *Engine) releaseQuietly(ctx context.Context, lock Lock) {
	if err := lock.Release(ctx); err != nil {
		e.log.Warn("write lock release failed", "repository", e.repo.ID, "error", err)
	}
}
