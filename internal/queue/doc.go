// Package queue holds the durable record of local writes that have not yet
// reached the remote store.
//
// # Layout
//
// State carries two ordered lists:
//
//   - Pending: mutations awaiting replay, in enqueue order. Replay order is
//     insertion order; items that fail stay where they are.
//   - Failed: mutations that exhausted MaxRetries. They wait for a user
//     decision (RequeueFailed or ClearFailed).
//
// An item lives in exactly one of the two lists.
//
// # Persistence
//
// Every mutating operation rewrites the whole State blob through a
// localstore.Store under a single key. A failed write is logged and
// remembered (see Store.PersistErr) but never rolls back the in-memory
// change, so the queue keeps working when the disk does not.
//
// # Concurrency
//
// Store is safe for concurrent use. BeginCycle is the only entry guard for
// drain cycles: it checks and sets IsSyncing under the same lock.
package queue
