// Package checkpoint manages named recovery points for pipeline runs.
//
// A checkpoint marks run state before a risky phase so the sequencer
// can roll back instead of escalating. Names are unique per run only
// while undiscarded; discarding releases the name for reuse, and
// discard itself is idempotent so cleanup never fails a run.
//
// Records live in memory and are mirrored through an optional Store.
// Workspace snapshots are delegated to an optional Stasher on a
// best-effort basis: the record is kept even when the stash fails.
package checkpoint
