// Package pipeline implements the core pipeline state engine: tasks,
// modes, phases, run state, and the sequencer that drives one task
// execution through its phases.
//
// A Task enters the system with a complexity score and a selected Mode
// (see internal/classifier). The Sequencer executes the mode's phase
// list strictly in order, one phase at a time. Each phase output is
// graded and evaluated against a quality gate; failures feed the
// recovery controller, which decides between retry, rollback to a
// checkpoint, and human escalation. All state is owned per run, so
// independent runs may execute concurrently.
package pipeline
