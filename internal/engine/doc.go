// Package engine implements the sync processor: it drains the offline
// queue against the remote store.
//
// ARCHITECTURE:
//
// Single-Flight Drain Cycles:
// Every trigger source (connectivity regained, app foregrounded, manual
// sync) calls the same entrypoint. queue.Store.BeginCycle checks and sets
// the syncing flag under one lock, so at most one cycle is in flight and
// concurrent triggers become no-ops.
//
// Cycle Flow:
//  1. Entry guard: no-op if syncing, offline, or nothing is pending
//  2. Snapshot the pending list; later enqueues wait for the next trigger
//  3. Replay snapshot items one at a time, in enqueue order
//  4. Success: remove the item; for creates, rewrite the temporary entity
//     id to the durable id everywhere it is still queued
//  5. Failure: count the attempt; the MaxRetries-th failure moves the item
//     to the failed list, otherwise wait RetryDelay and move on
//  6. Record lastSyncAt and clear the syncing flag
//
// A failing item never aborts the cycle. Transient and permanent remote
// failures are retried alike; only the attempt count decides quarantine.
//
// Every item outcome is persisted as it happens, so a crash mid-cycle
// resumes exactly like a cold start with the remaining items.
package engine
