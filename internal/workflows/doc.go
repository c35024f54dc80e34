// Package workflows provides a durable Temporal rendition of the
// pipeline state machine for deployments that need runs to survive
// daemon restarts.
//
// PipelineWorkflow classifies a task, then drives each phase through
// execute/review cycles. Infrastructure faults retry inside the
// activity retry policy; quality-gate failures loop in the workflow
// with reviewer feedback threaded into the next attempt. Both paths
// are bounded by the same per-phase retry budgets the in-process
// sequencer uses. A run that exhausts a phase budget completes with
// an escalated status rather than a workflow error, so the trajectory
// stays retrievable from the workflow result.
//
// Workers call Register to wire the workflow and activities, then
// poll TaskQueue. The in-process orchestrator remains the default
// path; this package is opt-in for deployments that run a Temporal
// worker alongside the daemon.
package workflows
