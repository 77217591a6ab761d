// Package engine evaluates directives against incoming client events,
// scheduler ticks, and metric snapshots, and fires them through the
// dispatch coordinator.
//
// Work is partitioned by client ID: all tasks for a given client are
// processed in arrival order by a single worker, so ordering guarantees
// are per-client and no cross-client locking is needed. Evaluation is
// side-effect-free until dispatch; the cooldown claim, firing record, and
// counter increment are one store transaction.
package engine
