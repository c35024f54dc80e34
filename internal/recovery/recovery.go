// Package recovery decides how a run reacts to gate failures and
// timeouts: retry the phase, roll back to a checkpoint, escalate to a
// human, or proceed. Decisions are deterministic; the sequencer owns
// the retry counters and rollback tallies the controller consults.
package recovery

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// Trigger identifies what invoked the controller.
type Trigger string

const (
	TriggerGateFailure   Trigger = "gate_failure"
	TriggerTimeout       Trigger = "timeout"
	TriggerExecutorFault Trigger = "executor_fault"
)

// Severity buckets a failure by how bad it is.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// Action is the controller's verdict.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionRollback Action = "rollback"
	ActionEscalate Action = "escalate"
	ActionProceed  Action = "proceed"
)

// Decision is the controller's output: an action plus a reason string
// for reports and logs. Ephemeral, never persisted as an entity.
type Decision struct {
	Action   Action   `json:"action"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
	Trigger  Trigger  `json:"trigger"`
}

// Request carries everything a decision depends on. The caller supplies
// the counters; the controller holds no state between calls.
type Request struct {
	Phase    pipeline.PhaseName
	Trigger  Trigger
	Severity Severity

	// RetryCount is the number of failed attempts recorded for the
	// phase, the one that triggered this decision included.
	RetryCount int

	// MaxRetries is the phase's attempt budget. The budget is spent
	// once RetryCount reaches it.
	MaxRetries int

	RollbacksForPhase   int
	CheckpointAvailable bool
}

// Config sets the severity thresholds. The grade bands reconcile the
// inconsistent tables in the source workflow docs into one; treat them
// as tunable, not load-bearing.
type Config struct {
	// MinorFloor is the lowest grade classified minor (default 70).
	MinorFloor int
	// ModerateFloor is the lowest grade classified moderate (default 60).
	// Grades below it are severe.
	ModerateFloor int
	// MaxRollbacks is the per-phase rollback budget before escalation
	// (default 2: the second rollback attempt escalates instead).
	MaxRollbacks int
	// TimeoutSevereRatio is the elapsed/limit ratio at which a timeout
	// is severe rather than moderate (default 1.5).
	TimeoutSevereRatio float64
}

// Controller applies the decision table.
type Controller struct {
	minorFloor         int
	moderateFloor      int
	maxRollbacks       int
	timeoutSevereRatio float64
}

// NewController creates a controller, filling zero config fields with
// defaults.
func NewController(cfg Config) *Controller {
	c := &Controller{
		minorFloor:         cfg.MinorFloor,
		moderateFloor:      cfg.ModerateFloor,
		maxRollbacks:       cfg.MaxRollbacks,
		timeoutSevereRatio: cfg.TimeoutSevereRatio,
	}
	if c.minorFloor <= 0 {
		c.minorFloor = 70
	}
	if c.moderateFloor <= 0 {
		c.moderateFloor = 60
	}
	if c.maxRollbacks <= 0 {
		c.maxRollbacks = 2
	}
	if c.timeoutSevereRatio <= 0 {
		c.timeoutSevereRatio = 1.5
	}
	return c
}

// SeverityForGrade classifies a failing gate grade. buildBroken
// upgrades the failure to critical regardless of grade.
func (c *Controller) SeverityForGrade(grade int, buildBroken bool) Severity {
	if buildBroken {
		return SeverityCritical
	}
	switch {
	case grade >= c.minorFloor:
		return SeverityMinor
	case grade >= c.moderateFloor:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

// SeverityForTimeout classifies a hard-limit breach by how far past
// the limit the phase ran.
func (c *Controller) SeverityForTimeout(elapsed, limit time.Duration) Severity {
	if limit <= 0 {
		return SeveritySevere
	}
	if float64(elapsed) >= c.timeoutSevereRatio*float64(limit) {
		return SeveritySevere
	}
	return SeverityModerate
}

// Decide applies the decision table:
//
//	minor/moderate with retries remaining  -> retry
//	severe with a checkpoint available     -> rollback
//	retries exhausted                      -> rollback (checkpoint required, else escalate)
//	critical, or rollback budget exhausted -> escalate
//
// A severe failure without a checkpoint spends the retry budget before
// escalating; rolling back is impossible and a human is only involved
// once automation is out of moves.
func (c *Controller) Decide(req Request) Decision {
	d := Decision{Severity: req.Severity, Trigger: req.Trigger}

	if req.Severity == "" {
		d.Action = ActionProceed
		d.Reason = fmt.Sprintf("no failure severity for phase %s; proceeding", req.Phase)
		return d
	}

	if req.Severity == SeverityCritical {
		d.Action = ActionEscalate
		d.Reason = fmt.Sprintf("critical failure in phase %s; escalating immediately", req.Phase)
		return d
	}

	if req.RollbacksForPhase >= c.maxRollbacks {
		d.Action = ActionEscalate
		d.Reason = fmt.Sprintf("rollback attempted %d times for phase %s; escalating",
			req.RollbacksForPhase, req.Phase)
		return d
	}

	if req.Severity == SeveritySevere && req.CheckpointAvailable {
		d.Action = ActionRollback
		d.Reason = fmt.Sprintf("severe %s failure in phase %s; rolling back to checkpoint",
			req.Trigger, req.Phase)
		return d
	}

	if req.RetryCount >= req.MaxRetries {
		if req.CheckpointAvailable {
			d.Action = ActionRollback
			d.Reason = fmt.Sprintf("retry budget exhausted for phase %s (%d/%d); rolling back to checkpoint",
				req.Phase, req.RetryCount, req.MaxRetries)
			return d
		}
		d.Action = ActionEscalate
		d.Reason = fmt.Sprintf("%s %s failure in phase %s with retries exhausted and no checkpoint available; escalating",
			req.Severity, req.Trigger, req.Phase)
		return d
	}

	d.Action = ActionRetry
	d.Reason = fmt.Sprintf("%s %s failure in phase %s; retry %d of %d",
		req.Severity, req.Trigger, req.Phase, req.RetryCount, req.MaxRetries)
	return d
}
