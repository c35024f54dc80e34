package escalation

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/taskforge/internal/gate"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// Action is a human resolution choice.
type Action string

const (
	// ActionRollback restores the named checkpoint and reruns from its
	// phase.
	ActionRollback Action = "rollback"

	// ActionKeep accepts the failing output as-is and closes the run.
	ActionKeep Action = "keep"

	// ActionEscalate hands the task onward to a human owner.
	ActionEscalate Action = "escalate"
)

// Valid reports whether the action is a known resolution choice.
func (a Action) Valid() bool {
	switch a {
	case ActionRollback, ActionKeep, ActionEscalate:
		return true
	}
	return false
}

// PhaseSummary is one phase's trajectory inside a report.
type PhaseSummary struct {
	Phase      string `json:"phase"`
	Status     string `json:"status"`
	RetryCount int    `json:"retryCount"`
	Grades     []int  `json:"grades,omitempty"`
	Artifact   string `json:"artifact,omitempty"`
}

// Option is one resolution choice with its consequence spelled out.
type Option struct {
	Action      Action `json:"action"`
	Description string `json:"description"`
}

// Resolution is the recorded human answer to an escalation.
type Resolution struct {
	RunID   string    `json:"runId"`
	Action  Action    `json:"action"`
	Comment string    `json:"comment,omitempty"`
	Source  string    `json:"source,omitempty"`
	At      time.Time `json:"at"`
}

// Report is the structured escalation record handed to a human.
type Report struct {
	RunID        string         `json:"runId"`
	TaskID       string         `json:"taskId"`
	Task         string         `json:"task"`
	Mode         string         `json:"mode"`
	FailingPhase string         `json:"failingPhase"`
	Reason       string         `json:"reason,omitempty"`
	RetryHistory []PhaseSummary `json:"retryHistory"`
	RootCause    string         `json:"rootCause,omitempty"`
	Checkpoint   string         `json:"checkpoint,omitempty"`
	Options      []Option       `json:"options"`
	IssueURL     string         `json:"issueUrl,omitempty"`
	Resolution   *Resolution    `json:"resolution,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// BuildReport assembles the escalation report for a run.
// activeCheckpoint names the live checkpoint, or "" when none exists;
// without one the rollback option is off the table.
func BuildReport(run *pipeline.PipelineRun, activeCheckpoint string) *Report {
	rep := &Report{
		RunID:      run.ID,
		TaskID:     run.Task.ID,
		Task:       run.Task.Description,
		Mode:       string(run.Task.Mode),
		Checkpoint: activeCheckpoint,
		CreatedAt:  time.Now().UTC(),
	}

	failing := failingPhase(run)
	if failing != nil {
		rep.FailingPhase = string(failing.Name)
	}
	if len(run.Errors) > 0 {
		rep.Reason = run.Errors[len(run.Errors)-1]
	}

	for _, p := range run.Phases {
		if p.Status == pipeline.StatusNotStarted {
			continue
		}
		rep.RetryHistory = append(rep.RetryHistory, PhaseSummary{
			Phase:      string(p.Name),
			Status:     string(p.Status),
			RetryCount: p.RetryCount,
			Grades:     append([]int(nil), p.GradeHistory...),
			Artifact:   p.OutputRef,
		})
	}

	rep.RootCause = hypothesize(run, failing)

	if activeCheckpoint != "" {
		rep.Options = append(rep.Options, Option{
			Action: ActionRollback,
			Description: fmt.Sprintf("restore checkpoint %q and rerun from its phase with a fresh retry budget",
				activeCheckpoint),
		})
	}
	rep.Options = append(rep.Options,
		Option{
			Action:      ActionKeep,
			Description: "keep the failing output as-is and close the run; artifacts stay on disk for manual follow-up",
		},
		Option{
			Action:      ActionEscalate,
			Description: "escalate further: reassign the task to a human owner",
		},
	)
	return rep
}

// failingPhase picks the phase the run escalated on: the last failed
// phase, else the last one that at least started.
func failingPhase(run *pipeline.PipelineRun) *pipeline.Phase {
	var lastStarted *pipeline.Phase
	for i := len(run.Phases) - 1; i >= 0; i-- {
		p := run.Phases[i]
		if p.Status == pipeline.StatusFailed {
			return p
		}
		if lastStarted == nil && p.Status != pipeline.StatusNotStarted {
			lastStarted = p
		}
	}
	return lastStarted
}

// hypothesize derives a root-cause hypothesis from the recorded state.
// Returns "" when nothing conclusive can be read from it.
func hypothesize(run *pipeline.PipelineRun, failing *pipeline.Phase) string {
	joined := strings.Join(run.Errors, "\n")
	switch {
	case strings.Contains(joined, "build broken"):
		return "the build is broken; compilation has to be fixed before output quality matters"
	case strings.Contains(joined, "pipeline limit"):
		return "the run outgrew its overall time budget; the task may be larger than its classification suggests"
	case strings.Contains(joined, "hard limit"):
		return "phase work keeps exceeding its time budget; the task may be larger than its classification suggests"
	case strings.Contains(joined, "fault"):
		return "executor infrastructure kept failing; the outputs themselves were never the problem"
	}

	if failing == nil || len(failing.GradeHistory) < 2 {
		return ""
	}
	grades := failing.GradeHistory
	first, last := grades[0], grades[len(grades)-1]
	lo, hi := grades[0], grades[0]
	for _, g := range grades {
		if g < lo {
			lo = g
		}
		if g > hi {
			hi = g
		}
	}
	switch {
	case hi < gate.DefaultThreshold && hi-lo <= 5:
		return "grades plateaued well under the gate across retries; the approach likely needs rethinking, not more attempts"
	case last > first:
		return "grades were improving attempt over attempt; a larger retry budget might have cleared the gate"
	}
	return ""
}

// issueTitle renders the GitHub issue title for a report.
func issueTitle(rep *Report) string {
	task := rep.Task
	if len(task) > 80 {
		task = task[:77] + "..."
	}
	return "Pipeline escalation: " + task
}

// renderIssueBody renders the report as issue/markdown text.
func renderIssueBody(rep *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Pipeline run escalated\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", rep.RunID)
	fmt.Fprintf(&b, "- Task: %s\n", rep.Task)
	fmt.Fprintf(&b, "- Mode: %s\n", rep.Mode)
	fmt.Fprintf(&b, "- Failing phase: %s\n", rep.FailingPhase)
	if rep.Reason != "" {
		fmt.Fprintf(&b, "- Reason: %s\n", rep.Reason)
	}

	fmt.Fprintf(&b, "\n### Retry history\n\n")
	fmt.Fprintf(&b, "| Phase | Status | Retries | Grades |\n")
	fmt.Fprintf(&b, "|---|---|---|---|\n")
	for _, ps := range rep.RetryHistory {
		grades := make([]string, 0, len(ps.Grades))
		for _, g := range ps.Grades {
			grades = append(grades, fmt.Sprintf("%d", g))
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %s |\n",
			ps.Phase, ps.Status, ps.RetryCount, strings.Join(grades, ", "))
	}

	fmt.Fprintf(&b, "\n### Root cause hypothesis\n\n")
	if rep.RootCause != "" {
		fmt.Fprintf(&b, "%s\n", rep.RootCause)
	} else {
		fmt.Fprintf(&b, "Not determinable from the recorded state.\n")
	}

	fmt.Fprintf(&b, "\n### Options\n\n")
	for _, opt := range rep.Options {
		fmt.Fprintf(&b, "- **%s** - %s\n", opt.Action, opt.Description)
	}

	fmt.Fprintf(&b, "\nAnswer with `%s` in the decisions directory or through the daemon API.\n",
		DecisionFileName(rep.RunID))
	return b.String()
}
