package http

import (
	"time"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/classifier"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version,omitempty"`
	Counts  StatusCounts `json:"counts"`
}

// StatusCounts contains count information for dashboard headers.
// TotalRuns is -1 when the run store could not be read.
type StatusCounts struct {
	ActiveRuns         int `json:"active_runs"`
	PendingEscalations int `json:"pending_escalations"`
	TotalRuns          int `json:"total_runs"`
}

// SubmitRunRequest is the request body for POST /api/v1/runs. The
// indicator fields take the classifier's string values; anything
// unrecognized scores zero.
type SubmitRunRequest struct {
	Description       string `json:"description"`
	Scope             string `json:"scope,omitempty"`
	Knowledge         string `json:"knowledge,omitempty"`
	Risk              string `json:"risk,omitempty"`
	Dependency        string `json:"dependency,omitempty"`
	ExactInstructions bool   `json:"exact_instructions,omitempty"`
}

func (r SubmitRunRequest) indicators() classifier.Indicators {
	return classifier.Indicators{
		Scope:             classifier.Scope(r.Scope),
		Knowledge:         classifier.Knowledge(r.Knowledge),
		Risk:              classifier.Risk(r.Risk),
		Dependency:        classifier.Dependency(r.Dependency),
		ExactInstructions: r.ExactInstructions,
	}
}

// RunSummary is one row of GET /api/v1/runs.
type RunSummary struct {
	ID           string    `json:"id"`
	Description  string    `json:"description"`
	Mode         string    `json:"mode"`
	Score        int       `json:"score"`
	Status       string    `json:"status"`
	CurrentPhase string    `json:"current_phase,omitempty"`
	PhasesDone   int       `json:"phases_done"`
	PhasesTotal  int       `json:"phases_total"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
}

// summarize flattens a run into its list row. The current phase is the
// first unfinished one: in progress, failed, or next not yet started.
func summarize(run *pipeline.PipelineRun) RunSummary {
	current := ""
	done := 0
	for _, p := range run.Phases {
		if p.Status == pipeline.StatusCompleted || p.Status == pipeline.StatusSkipped {
			done++
			continue
		}
		if current == "" {
			current = string(p.Name)
		}
	}
	return RunSummary{
		ID:           run.ID,
		Description:  run.Task.Description,
		Mode:         string(run.Task.Mode),
		Score:        run.Task.Score,
		Status:       string(run.Status),
		CurrentPhase: current,
		PhasesDone:   done,
		PhasesTotal:  len(run.Phases),
		StartedAt:    run.StartedAt,
		EndedAt:      run.EndedAt,
	}
}

// ListRunsResponse is the response body for GET /api/v1/runs.
type ListRunsResponse struct {
	Runs  []RunSummary `json:"runs"`
	Count int          `json:"count"`
}

// AbortResponse is the response body for POST /api/v1/runs/:id/abort.
type AbortResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// CheckpointsResponse is the response body for
// GET /api/v1/runs/:id/checkpoints.
type CheckpointsResponse struct {
	RunID       string                   `json:"run_id"`
	Checkpoints []*checkpoint.Checkpoint `json:"checkpoints"`
	Count       int                      `json:"count"`
}

// CreateCheckpointRequest is the request body for
// POST /api/v1/runs/:id/checkpoints. Phase defaults to the run's
// current phase when omitted.
type CreateCheckpointRequest struct {
	Name  string `json:"name"`
	Phase string `json:"phase,omitempty"`
}

// RestoreCheckpointResponse is the response body for
// POST /api/v1/runs/:id/checkpoints/:name/restore.
type RestoreCheckpointResponse struct {
	RunID       string                 `json:"run_id"`
	Checkpoint  *checkpoint.Checkpoint `json:"checkpoint"`
	ResumePhase string                 `json:"resume_phase"`
}

// DiscardCheckpointResponse is the response body for
// DELETE /api/v1/runs/:id/checkpoints/:name.
type DiscardCheckpointResponse struct {
	RunID  string `json:"run_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ResolveEscalationRequest is the request body for
// POST /api/v1/runs/:id/escalation.
type ResolveEscalationRequest struct {
	Action  string `json:"action"`
	Comment string `json:"comment,omitempty"`
}

// ResolveEscalationResponse is the response body for
// POST /api/v1/runs/:id/escalation.
type ResolveEscalationResponse struct {
	RunID  string `json:"run_id"`
	Action string `json:"action"`
	Status string `json:"status"`
}

// EscalationsResponse is the response body for GET /api/v1/escalations.
type EscalationsResponse struct {
	Pending []string `json:"pending"`
	Count   int      `json:"count"`
}
