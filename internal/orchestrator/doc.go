// Package orchestrator drives pipeline runs through their phases with
// quality gates, bounded retries, and checkpoint-based recovery.
//
// # Overview
//
// The orchestrator takes a classified task and executes its mode's
// phase list strictly in order, one phase at a time. Every phase
// attempt produces an artifact, gets graded by a reviewer, and must
// clear the quality gate before the run advances. Failures feed the
// recovery controller, which picks between retrying the phase, rolling
// back to a checkpoint, or escalating to a human.
//
// # Architecture
//
// Two layers split the work:
//
//   - Sequencer: the driving loop for one run. It owns all phase
//     mutation (status transitions, retry counters, grades), enforces
//     per-phase and run-level timeouts, takes the automatic checkpoint
//     before implementation, and applies recovery decisions.
//   - Manager: the run registry. It classifies submissions, starts runs
//     on background goroutines under a concurrency cap, and routes
//     aborts to the owning run's context.
//
// A phase moves through
//
//	NotStarted → InProgress → {Completed | Failed}
//
// with Failed → InProgress allowed only while the phase's retry budget
// lasts. A run terminates as passed, escalated, or aborted; failed
// phases never leave a run dangling.
//
// # Recovery
//
// Gate failures and timeouts are bucketed into severities and resolved
// by a fixed decision table: minor and moderate failures retry, severe
// failures roll back to the most recent checkpoint when one exists,
// and critical failures (broken build) or exhausted budgets escalate.
// Rollback restores the checkpoint, resets only the resumed phase, and
// re-enters the loop there. Escalation halts the run immediately; no
// further phases execute.
//
// # Usage
//
//	seq, err := orchestrator.NewSequencer(orchestrator.Config{
//	    Executor:    backend,
//	    Reviewer:    backend,
//	    Checkpoints: checkpoints,
//	    Store:       st,
//	    Logger:      logger,
//	})
//	// ...
//	mgr, err := orchestrator.NewManager(orchestrator.ManagerConfig{
//	    Sequencer: seq,
//	    Store:     st,
//	    Logger:    logger,
//	})
//	run, err := mgr.Submit(ctx, "add retry flag to fetch command", indicators)
//
// The manager persists every state transition through the run store,
// so observers (CLI, HTTP API, monitor) read durable snapshots instead
// of racing the live run.
package orchestrator
