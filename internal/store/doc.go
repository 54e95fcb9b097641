// Package store provides SQLite-backed durable storage for the cluster
// synchronization engine.
//
// It owns four groups of state:
//   - Working copy versions: per-(repository, device) freshness rows,
//     including the durable write marker (is_writing + write_owner)
//   - Named locks: advisory leases with a fencing counter
//   - Push events: the append-only log whose ids mint post-write versions
//   - Bindings: cluster services and the devices bound to them
//
// # Locks and the durable marker
//
// Named locks are leases in a table, not process-lifetime locks. A lease
// can be stolen after its expiry passes, which is the analogue of losing
// a connection-scoped advisory lock when the database restarts. The write
// path therefore never relies on the lease alone: WillWrite persists an
// is_writing marker with an owner token, and only a DidWrite carrying the
// same token clears it. The marker, not the lease, fences out writers.
//
// The write lock is pinned to a dedicated connection (NamedLock.Conn) so
// the marker upsert commits on the same connection that holds the lease.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
