// Package executor dispatches pipeline phases to the agents that do the
// actual work and to the reviewers that grade it.
//
// The sequencer talks to two small contracts: PhaseExecutor produces a
// phase artifact from a request, Reviewer grades an artifact on the
// 0-100 scale consumed by the quality gate. Three backends implement
// them:
//
//   - Agent shells out to an agent CLI in its own process group, with
//     prompt construction per phase and JSON or plain-text output.
//   - LLM calls an OpenAI-compatible chat completions endpoint with
//     client-side rate limiting and bounded retries.
//   - Scripted replays queued outputs and grades, for tests and the
//     daemon's dev mode.
//
// WithResilience decorates any backend with exponential backoff and a
// circuit breaker so transient agent failures do not burn the phase
// retry budget.
package executor
