package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLockTimeout is returned when a named lock could not be acquired
// within the caller's wait budget.
var ErrLockTimeout = errors.New("lock wait timeout")

// lockPollInterval is how often a blocked acquirer re-attempts the lease.
const lockPollInterval = 250 * time.Millisecond

// ReadLockName returns the advisory lock name serializing reads of a
// repository's working copy on one device.
func ReadLockName(repositoryID, deviceID string) string {
	return fmt.Sprintf("repository-read-%s-%s", repositoryID, deviceID)
}

// WriteLockName returns the advisory lock name serializing writes to a
// repository across the whole cluster.
func WriteLockName(repositoryID string) string {
	return fmt.Sprintf("repository-write-%s", repositoryID)
}

// NamedLock is a held advisory lease. Releasing is idempotent; a lease
// that has already been stolen or expired releases without error.
type NamedLock struct {
	store *Store
	conn  *sql.Conn
	name  string
	owner string

	// Fence is the lease's acquisition counter. It increases every time
	// the name changes hands, so a holder can prove recency downstream.
	Fence int64

	released bool
}

// Name returns the advisory lock name.
func (l *NamedLock) Name() string { return l.name }

// Conn returns the database connection the lock is pinned to, or nil for
// locks acquired from the pool. Statements that must commit together with
// the lock run on this connection.
func (l *NamedLock) Conn() *sql.Conn { return l.conn }

// Release drops the lease and closes any pinned connection. Safe to call
// more than once. A lease that no longer belongs to this holder is not an
// error: losing the underlying lock is expected after a database restart.
func (l *NamedLock) Release(ctx context.Context) error {
	if l.released {
		return nil
	}
	l.released = true

	// Expire the lease instead of deleting the row, so the fencing counter
	// survives across clean handoffs.
	_, err := l.exec(ctx, `
		UPDATE named_locks SET expires_at = 0 WHERE name = ? AND owner = ?
	`, l.name, l.owner)

	if l.conn != nil {
		closeErr := l.conn.Close()
		if err == nil {
			err = closeErr
		}
	}
	if err != nil {
		return fmt.Errorf("release lock %q: %w", l.name, err)
	}
	return nil
}

func (l *NamedLock) exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	if l.conn != nil {
		return l.conn.ExecContext(ctx, stmt, args...)
	}
	return l.store.db.ExecContext(ctx, stmt, args...)
}

// AcquireReadLock takes the per-(repository, device) read lock, waiting up
// to wait. Returns ErrLockTimeout when the budget is exhausted.
func (s *Store) AcquireReadLock(ctx context.Context, repositoryID, deviceID string, wait time.Duration) (*NamedLock, error) {
	return s.acquire(ctx, nil, ReadLockName(repositoryID, deviceID), wait)
}

// AcquireWriteLock takes the cluster-wide write lock for a repository,
// waiting up to wait. The lock is pinned to a dedicated connection, which
// Release closes; statements that must commit together with the lock run
// via Conn().
func (s *Store) AcquireWriteLock(ctx context.Context, repositoryID string, wait time.Duration) (*NamedLock, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open write lock connection: %w", err)
	}
	lock, err := s.acquire(ctx, conn, WriteLockName(repositoryID), wait)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return lock, nil
}

// acquire attempts the lease until it succeeds, the wait budget runs out,
// or the context is cancelled. The first attempt is immediate, so a zero
// wait degrades to try-once.
func (s *Store) acquire(ctx context.Context, conn *sql.Conn, name string, wait time.Duration) (*NamedLock, error) {
	owner := uuid.NewString()
	lock := &NamedLock{store: s, conn: conn, name: name, owner: owner}
	deadline := time.Now().Add(wait)

	for {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}

		ok, fence, err := s.tryAcquire(ctx, lock)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", name, err)
		}
		if ok {
			lock.Fence = fence
			return lock, nil
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("lock %q: %w", name, ErrLockTimeout)
		}

		sleep := lockPollInterval
		if remaining := time.Until(deadline); remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// tryAcquire makes one attempt to take or steal the lease. A row may be
// stolen only once its expiry has passed.
func (s *Store) tryAcquire(ctx context.Context, lock *NamedLock) (bool, int64, error) {
	now := time.Now().Unix()
	expires := time.Now().Add(s.lockTTL).Unix()

	res, err := lock.exec(ctx, `
		INSERT INTO named_locks (name, owner, acquisitions, acquired_at, expires_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			acquisitions = named_locks.acquisitions + 1,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE named_locks.expires_at < ?
	`, lock.name, lock.owner, now, expires, now)
	if err != nil {
		return false, 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, 0, err
	}
	if n == 0 {
		return false, 0, nil
	}

	var fence int64
	err = s.db.QueryRowContext(ctx, `
		SELECT acquisitions FROM named_locks WHERE name = ? AND owner = ?
	`, lock.name, lock.owner).Scan(&fence)
	if err != nil {
		// The lease was taken but its counter could not be read; treat the
		// acquisition as failed rather than hand out a lock without a fence.
		return false, 0, err
	}
	return true, fence, nil
}
