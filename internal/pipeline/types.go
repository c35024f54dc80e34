package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects the pipeline shape for a task.
type Mode string

const (
	// ModeInstant runs a single implementation phase. Reserved for
	// zero-score tasks where exact instructions were given.
	ModeInstant Mode = "instant"

	// ModeFastTrack skips research and runs the remaining phases.
	ModeFastTrack Mode = "fast_track"

	// ModeFull runs every phase, research included.
	ModeFull Mode = "full"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeInstant, ModeFastTrack, ModeFull:
		return true
	}
	return false
}

// PhaseName identifies one stage of a pipeline run.
type PhaseName string

const (
	PhaseResearch       PhaseName = "research"
	PhasePlanning       PhaseName = "planning"
	PhaseImplementation PhaseName = "implementation"
	PhaseValidation     PhaseName = "validation"
	PhasePostMortem     PhaseName = "post_mortem"
	PhaseDocumentation  PhaseName = "documentation"
)

// PhasesForMode returns the fixed phase list for a mode, in execution
// order. Unknown modes fall back to the fast-track list.
func PhasesForMode(mode Mode) []PhaseName {
	switch mode {
	case ModeInstant:
		return []PhaseName{PhaseImplementation}
	case ModeFull:
		return []PhaseName{
			PhaseResearch,
			PhasePlanning,
			PhaseImplementation,
			PhaseValidation,
			PhasePostMortem,
			PhaseDocumentation,
		}
	default:
		return []PhaseName{
			PhasePlanning,
			PhaseImplementation,
			PhaseValidation,
			PhasePostMortem,
			PhaseDocumentation,
		}
	}
}

// DefaultRetryLimits returns the per-phase retry budget. Implementation
// gets the largest budget; post-work phases get one attempt beyond the
// first.
func DefaultRetryLimits() map[PhaseName]int {
	return map[PhaseName]int{
		PhaseResearch:       2,
		PhasePlanning:       2,
		PhaseImplementation: 3,
		PhaseValidation:     2,
		PhasePostMortem:     1,
		PhaseDocumentation:  1,
	}
}

// Timeouts holds the warning threshold and hard limit for one phase.
type Timeouts struct {
	Warning time.Duration `json:"warning"`
	Hard    time.Duration `json:"hard"`
}

// DefaultTimeouts returns the per-phase timeout table.
func DefaultTimeouts() map[PhaseName]Timeouts {
	return map[PhaseName]Timeouts{
		PhaseResearch:       {Warning: 10 * time.Minute, Hard: 20 * time.Minute},
		PhasePlanning:       {Warning: 10 * time.Minute, Hard: 20 * time.Minute},
		PhaseImplementation: {Warning: 30 * time.Minute, Hard: 60 * time.Minute},
		PhaseValidation:     {Warning: 15 * time.Minute, Hard: 30 * time.Minute},
		PhasePostMortem:     {Warning: 10 * time.Minute, Hard: 15 * time.Minute},
		PhaseDocumentation:  {Warning: 10 * time.Minute, Hard: 15 * time.Minute},
	}
}

// DefaultRunTimeout is the pipeline-level hard limit. Breaching it
// escalates unconditionally, regardless of per-phase state.
const DefaultRunTimeout = 4 * time.Hour

// PhaseStatus represents the completion status of a phase.
type PhaseStatus string

const (
	StatusNotStarted PhaseStatus = "not_started"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusFailed     PhaseStatus = "failed"
	StatusSkipped    PhaseStatus = "skipped"
)

// RunStatus represents the overall status of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunPassed    RunStatus = "passed"
	RunFailed    RunStatus = "failed"
	RunEscalated RunStatus = "escalated"
	RunAborted   RunStatus = "aborted"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s != RunRunning
}

// Task is the unit of work entering the system. A task is immutable
// once its mode is selected; re-scoring produces a new task.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Score       int    `json:"score"`
	Mode        Mode   `json:"mode"`
}

// NewTask creates a task with a generated ID.
func NewTask(description string, score int, mode Mode) Task {
	return Task{
		ID:          uuid.New().String(),
		Description: description,
		Score:       score,
		Mode:        mode,
	}
}

// Phase is one stage of a run. Mutated only by the sequencer, which
// owns the retry counter and status transitions.
type Phase struct {
	Name        PhaseName   `json:"name"`
	Status      PhaseStatus `json:"status"`
	Grade       *int        `json:"grade,omitempty"`
	RetryCount  int         `json:"retry_count"`
	OutputRef   string      `json:"output_ref,omitempty"`
	StartedAt   time.Time   `json:"started_at,omitempty"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`

	// GradeHistory records the gate grade of every attempt, for the
	// escalation report and metrics.
	GradeHistory []int `json:"grade_history,omitempty"`
}

// PipelineRun is one execution of a task through its phases. The run
// owns its phase list exclusively; no state is shared across runs.
type PipelineRun struct {
	ID        string    `json:"id"`
	Task      Task      `json:"task"`
	Phases    []*Phase  `json:"phases"`
	Status    RunStatus `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
}

// NewRun creates a run for the task with its mode's phase list, all
// phases not started.
func NewRun(task Task) *PipelineRun {
	names := PhasesForMode(task.Mode)
	phases := make([]*Phase, 0, len(names))
	for _, name := range names {
		phases = append(phases, &Phase{Name: name, Status: StatusNotStarted})
	}
	return &PipelineRun{
		ID:        uuid.New().String(),
		Task:      task,
		Phases:    phases,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Phase returns the run's phase with the given name, or nil.
func (r *PipelineRun) Phase(name PhaseName) *Phase {
	for _, p := range r.Phases {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Terminal reports whether the run has finished.
func (r *PipelineRun) Terminal() bool {
	return r.Status.Terminal()
}

// Clone returns a deep copy of the run. The sequencer mutates the live
// run while it executes, so observers get copies.
func (r *PipelineRun) Clone() *PipelineRun {
	if r == nil {
		return nil
	}
	out := *r
	out.Phases = make([]*Phase, len(r.Phases))
	for i, p := range r.Phases {
		cp := *p
		if p.Grade != nil {
			g := *p.Grade
			cp.Grade = &g
		}
		cp.GradeHistory = append([]int(nil), p.GradeHistory...)
		out.Phases[i] = &cp
	}
	out.Errors = append([]string(nil), r.Errors...)
	return &out
}

// RecordError appends a run-level error string, deduplicating exact
// repeats so retry loops do not flood the report.
func (r *PipelineRun) RecordError(msg string) {
	if msg == "" {
		return
	}
	if n := len(r.Errors); n > 0 && r.Errors[n-1] == msg {
		return
	}
	r.Errors = append(r.Errors, msg)
}
