package workflows

import (
	"fmt"
	"time"
)

// PipelineWorkflowConfig is the input to PipelineWorkflow. The
// indicator fields use the classifier vocabulary: scope is
// single_file, few_files, or many_files; knowledge is exact,
// approximate, or discovery; risk is none, moderate, or high;
// dependency is established, variation, or novel.
type PipelineWorkflowConfig struct {
	// RunID identifies the run in logs, metrics, and executor calls.
	RunID string

	// TaskID is an optional external task reference passed through to
	// the backend.
	TaskID string

	// Description is the task handed to phase executors.
	Description string

	Scope             string
	Knowledge         string
	Risk              string
	Dependency        string
	ExactInstructions bool

	// GateThreshold overrides the default passing grade when positive.
	GateThreshold int
}

// Validate checks that required fields are set.
func (c *PipelineWorkflowConfig) Validate() error {
	if c.RunID == "" {
		return fmt.Errorf("RunID is required")
	}
	if c.Description == "" {
		return fmt.Errorf("Description is required")
	}
	return nil
}

// PhaseRecord captures one phase's trajectory through the run: how
// many attempts it took and the gated grade of each.
type PhaseRecord struct {
	Phase    string
	Status   string
	Attempts int
	Grades   []int
}

// PipelineWorkflowResult is the terminal state of a durable run.
// Status is passed or escalated; an escalated run names the phase
// that exhausted its budget and carries the errors seen on the way.
type PipelineWorkflowResult struct {
	RunID        string
	Mode         string
	Score        int
	Status       string
	Phases       []PhaseRecord
	FailingPhase string
	FinalOutput  string
	Errors       []string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
}

// ClassifyTaskInput carries the operator-supplied complexity
// indicators.
type ClassifyTaskInput struct {
	Scope             string
	Knowledge         string
	Risk              string
	Dependency        string
	ExactInstructions bool
}

// ClassifyTaskResult is the scored mode and its phase sequence.
type ClassifyTaskResult struct {
	Score  int
	Mode   string
	Phases []string
}

// ExecutePhaseInput is one attempt at a phase. Feedback holds the
// reviewer's notes from the previous failed attempt, if any.
type ExecutePhaseInput struct {
	RunID           string
	TaskID          string
	TaskDescription string
	Phase           string
	Attempt         int
	PriorOutput     string
	Feedback        string
}

// ExecutePhaseResult carries the phase artifact. RawGrade is the
// backend's self-reported grade; when set the workflow skips the
// review activity.
type ExecutePhaseResult struct {
	Output      string
	RawGrade    *int
	BuildBroken bool
}

// ReviewOutputInput asks the backend to grade a phase artifact.
type ReviewOutputInput struct {
	RunID           string
	TaskDescription string
	Phase           string
	Artifact        string
}

// ReviewOutputResult is the raw review. The workflow applies the
// quality gate to the grade.
type ReviewOutputResult struct {
	Grade    int
	Feedback string
}
