// Package cluster implements per-repository working copy synchronization
// across the devices that host a repository.
//
// Every device bound to a repository's cluster service keeps a physical
// working copy. The engine guarantees:
//   - Reads observe a working copy at least as fresh as the freshest
//     version any device has recorded.
//   - Writes are serialized per repository across the whole cluster.
//   - An interrupted write freezes the repository until an operator
//     clears it, instead of silently diverging.
//   - Losing database connectivity mid-write cannot corrupt the leader
//     set: the durable write marker fences writers even after the
//     advisory lock is gone.
//
// # Lifecycle
//
// The surrounding product drives four entry points per repository
// operation:
//
//	AfterCreation  seed version rows for every bound device
//	BeforeRead     read lock; pull from a leader if behind; update row
//	BeforeWrite    write lock; freeze check; read sync; durable marker
//	AfterWrite     clear marker with the new version; release the lock
//
// All four are no-ops unless ShouldSync holds: the repository is a hosted
// git repository with a cluster service, and the process knows its own
// device identity.
//
// # Leaders and versions
//
// A device's version is the id of the last push event it has durably
// observed; a leader is any device at the current cluster maximum. A
// repository with no rows has no leader, and reads refuse to guess: they
// bootstrap history only when exactly one device is in service.
//
// # Concurrency model
//
// One task drives one engine per repository operation. Cross-process
// coordination happens exclusively through the store's named advisory
// locks and version rows; no in-process locking is needed. Lock waits are
// bounded (120 s) and surface transient errors the caller may retry.
package cluster
