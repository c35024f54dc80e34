// Package hooks provides lifecycle hook dispatch for pipeline runs.
//
// The sequencer fires an Event at every run and phase transition:
// run.started, phase.started, phase.completed, gate.evaluated,
// decision.made, checkpoint.created, run.escalated, run.completed.
// Observers (metrics recorder, event publisher) register handlers and
// receive every event for every run.
//
// Events carry flat fields only, so observers never need the pipeline
// types. Register all handlers before the first run starts; the
// handler table is not guarded for concurrent mutation.
package hooks
