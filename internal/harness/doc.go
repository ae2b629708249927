// Package harness runs end-to-end sync scenarios described in YAML.
//
// A scenario wires a real queue, processor and connectivity monitor to an
// in-memory remote store, then plays a list of steps against them: queue a
// mutation, change connectivity, inject remote faults, drain, requeue or
// discard failed items, restart from the persisted blob. Assertions check
// the final queue and remote state; the call trace can be compared against
// a golden file.
//
// # Scenario Format
//
//	name: temp_id_chain
//	description: "Create then update an entity that only has a temporary id"
//	online: false
//	steps:
//	  - enqueue: { kind: tasks, op: create, payload: { title: "Inspect pump" } }
//	  - enqueue: { kind: tasks, op: update, entity_id: temp_1, payload: { status: completed } }
//	  - connectivity: online
//	assertions:
//	  - type: pending_count
//	    count: 0
//	  - type: remote_doc
//	    kind: tasks
//	    id: remote-1
//	    expect: { status: completed }
//
// # Step Types
//
// Each step sets exactly one of:
//
//   - enqueue: queue a mutation (kind, op, entity_id, payload)
//   - connectivity: "online", "offline" or "foreground", routed through the monitor
//   - fail: make matching remote calls fail (op, kind, error, times)
//   - heal: remove all injected faults
//   - drain: run one cycle synchronously and record its counts
//   - retry_failed / discard_failed: the user actions on quarantined items
//   - restart: rebuild the queue from the persisted blob
//
// # Determinism
//
// Item ids are item-1, item-2, ...; temporary ids temp_1, temp_2, ...;
// remote ids remote-1, remote-2, ...; enqueuedAt comes from
// testutil.DeterministicClock. Cycles started by connectivity steps are
// awaited before the next step runs, so traces are identical across runs.
package harness
