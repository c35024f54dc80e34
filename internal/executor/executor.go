package executor

import (
	"context"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// Request describes one phase attempt. The sequencer fills it from run
// state; backends turn it into whatever their agent understands.
type Request struct {
	RunID           string
	TaskID          string
	TaskDescription string
	Phase           pipeline.PhaseName

	// Attempt is 1 for the first execution and increments on each
	// retry of the same phase.
	Attempt int

	// PriorOutput carries the artifact of the preceding completed
	// phase, so planning sees research, implementation sees the plan,
	// and so on. Empty for the first phase of a run.
	PriorOutput string

	// Feedback carries the reviewer's notes from the failed attempt
	// being retried. Empty on first attempts.
	Feedback string
}

// Result is the product of one phase attempt.
type Result struct {
	// Output is the markdown artifact body.
	Output string

	// RawGrade is the backend's self-reported grade, when it grades
	// its own output. The sequencer consults the Reviewer only when
	// this is nil; either way the quality gate clamps the value.
	RawGrade *int

	// BuildBroken reports that the workspace no longer builds. Only
	// the validation phase sets it; the recovery controller treats it
	// as a critical failure.
	BuildBroken bool
}

// ReviewRequest asks a reviewer to grade a phase artifact.
type ReviewRequest struct {
	RunID           string
	TaskDescription string
	Phase           pipeline.PhaseName
	Artifact        string
}

// ReviewResult carries the annotated review and the raw grade. Grades
// outside 0-100 are passed through untouched; clamping and anomaly
// flagging belong to the quality gate.
type ReviewResult struct {
	Reviewed string
	Grade    int

	// Feedback is the part of the review fed back to the executor on
	// a retry. Backends that cannot separate it return the full
	// review text.
	Feedback string
}

// PhaseExecutor runs one phase attempt. Implementations must honor
// context cancellation; the sequencer enforces phase deadlines through
// ctx.
type PhaseExecutor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Reviewer grades a phase artifact.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error)
}

// Backend bundles the two roles for backends that play both, which all
// of the built-in ones do.
type Backend interface {
	PhaseExecutor
	Reviewer
	Close() error
}
