// Package escalation turns escalated runs into actionable reports and
// routes the human's answer back into the engine.
//
// # Overview
//
// When a run ends escalated, the service builds a structured report:
// the failing phase, the retry history with grades per attempt, a
// root-cause hypothesis when one is determinable, and the concrete
// options open to the decision-maker (rollback, keep, escalate
// further). The report is scrubbed, persisted as
// escalation_{runID}.json in the decisions directory, published on
// NATS, and optionally filed as a GitHub issue.
//
// # Resolution
//
// A human answers by dropping decision_{runID}.json into the decisions
// directory ({"action": "rollback"|"keep"|"escalate"}) or through the
// daemon API. The fsnotify watcher picks up decision files, validates
// them, and hands the resolution to the configured callback; the
// pending set shrinks either way.
package escalation
