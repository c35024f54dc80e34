package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/classifier"
	"github.com/fyrsmithlabs/taskforge/internal/escalation"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() error {
	// Pipeline tools
	s.registerPipelineTools()

	// Checkpoint tools
	s.registerCheckpointTools()

	// Escalation tools
	s.registerEscalationTools()

	return nil
}

// fmtTime renders a timestamp for tool output, empty when unset.
func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ===== PIPELINE TOOLS =====

type pipelineRunInput struct {
	Description       string `json:"description" jsonschema:"required,Task description"`
	Scope             string `json:"scope,omitempty" jsonschema:"Files touched: single_file few_files or many_files"`
	Knowledge         string `json:"knowledge,omitempty" jsonschema:"Location knowledge: exact approximate or discovery"`
	Risk              string `json:"risk,omitempty" jsonschema:"Blast radius: none moderate or high"`
	Dependency        string `json:"dependency,omitempty" jsonschema:"Approach novelty: established variation or novel"`
	ExactInstructions bool   `json:"exact_instructions,omitempty" jsonschema:"True when the task names the exact file and change (required for instant mode)"`
}

type pipelineRunOutput struct {
	RunID  string   `json:"run_id" jsonschema:"Pipeline run ID"`
	Mode   string   `json:"mode" jsonschema:"Selected pipeline mode"`
	Score  int      `json:"score" jsonschema:"Complexity score"`
	Status string   `json:"status" jsonschema:"Run status"`
	Phases []string `json:"phases" jsonschema:"Phases the run will execute in order"`
}

type pipelineStatusInput struct {
	RunID string `json:"run_id" jsonschema:"required,Pipeline run ID"`
}

type phaseStatus struct {
	Phase      string `json:"phase" jsonschema:"Phase name"`
	Status     string `json:"status" jsonschema:"Phase status"`
	Grade      *int   `json:"grade,omitempty" jsonschema:"Latest quality gate grade"`
	RetryCount int    `json:"retry_count" jsonschema:"Retries consumed"`
	Artifact   string `json:"artifact,omitempty" jsonschema:"Phase output artifact reference"`
}

type pipelineStatusOutput struct {
	RunID       string        `json:"run_id" jsonschema:"Pipeline run ID"`
	Description string        `json:"description" jsonschema:"Task description"`
	Mode        string        `json:"mode" jsonschema:"Pipeline mode"`
	Score       int           `json:"score" jsonschema:"Complexity score"`
	Status      string        `json:"status" jsonschema:"Run status"`
	Phases      []phaseStatus `json:"phases" jsonschema:"Per-phase trajectory"`
	Errors      []string      `json:"errors,omitempty" jsonschema:"Accumulated run errors"`
	StartedAt   string        `json:"started_at" jsonschema:"Run start time (RFC 3339)"`
	EndedAt     string        `json:"ended_at,omitempty" jsonschema:"Run end time (RFC 3339), empty while running"`
}

type pipelineListInput struct {
	Status string `json:"status,omitempty" jsonschema:"Filter by run status (running passed failed escalated aborted)"`
}

type pipelineListRow struct {
	RunID        string `json:"run_id" jsonschema:"Pipeline run ID"`
	Description  string `json:"description" jsonschema:"Task description"`
	Mode         string `json:"mode" jsonschema:"Pipeline mode"`
	Status       string `json:"status" jsonschema:"Run status"`
	CurrentPhase string `json:"current_phase,omitempty" jsonschema:"First unfinished phase"`
}

type pipelineListOutput struct {
	Runs  []pipelineListRow `json:"runs" jsonschema:"Matching runs"`
	Count int               `json:"count" jsonschema:"Number of runs returned"`
}

type pipelineAbortInput struct {
	RunID string `json:"run_id" jsonschema:"required,Pipeline run ID"`
}

type pipelineAbortOutput struct {
	RunID  string `json:"run_id" jsonschema:"Pipeline run ID"`
	Status string `json:"status" jsonschema:"Abort status"`
}

func (s *Server) registerPipelineTools() {
	// pipeline_run
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_run",
		Description: "Classify a task and start a pipeline run through the selected phases",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args pipelineRunInput) (*mcp.CallToolResult, pipelineRunOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "pipeline_run")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "pipeline_run")
			s.metrics.RecordInvocation(ctx, "pipeline_run", time.Since(start), toolErr)
		}()

		ind, err := classifier.ParseIndicators(args.Scope, args.Knowledge, args.Risk, args.Dependency, args.ExactInstructions)
		if err != nil {
			toolErr = err
			return nil, pipelineRunOutput{}, err
		}

		run, err := s.runs.Submit(ctx, args.Description, ind)
		if err != nil {
			toolErr = fmt.Errorf("pipeline run failed: %w", err)
			return nil, pipelineRunOutput{}, toolErr
		}

		result := pipelineRunOutput{
			RunID:  run.ID,
			Mode:   string(run.Task.Mode),
			Score:  run.Task.Score,
			Status: string(run.Status),
		}
		for _, p := range run.Phases {
			result.Phases = append(result.Phases, string(p.Name))
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Run %s started in %s mode (score %d)", run.ID, run.Task.Mode, run.Task.Score)},
			},
		}, result, nil
	})

	// pipeline_status
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_status",
		Description: "Report the phase-by-phase state of a pipeline run",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args pipelineStatusInput) (*mcp.CallToolResult, pipelineStatusOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "pipeline_status")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "pipeline_status")
			s.metrics.RecordInvocation(ctx, "pipeline_status", time.Since(start), toolErr)
		}()

		run, err := s.runs.Get(ctx, args.RunID)
		if err != nil {
			toolErr = fmt.Errorf("pipeline status failed: %w", err)
			return nil, pipelineStatusOutput{}, toolErr
		}

		result := pipelineStatusOutput{
			RunID:       run.ID,
			Description: s.scrubber.Scrub(run.Task.Description).Scrubbed,
			Mode:        string(run.Task.Mode),
			Score:       run.Task.Score,
			Status:      string(run.Status),
			StartedAt:   fmtTime(run.StartedAt),
			EndedAt:     fmtTime(run.EndedAt),
		}
		for _, p := range run.Phases {
			result.Phases = append(result.Phases, phaseStatus{
				Phase:      string(p.Name),
				Status:     string(p.Status),
				Grade:      p.Grade,
				RetryCount: p.RetryCount,
				Artifact:   p.OutputRef,
			})
		}
		for _, e := range run.Errors {
			result.Errors = append(result.Errors, s.scrubber.Scrub(e).Scrubbed)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Run %s is %s", run.ID, run.Status)},
			},
		}, result, nil
	})

	// pipeline_list
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_list",
		Description: "List pipeline runs, optionally filtered by status",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args pipelineListInput) (*mcp.CallToolResult, pipelineListOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "pipeline_list")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "pipeline_list")
			s.metrics.RecordInvocation(ctx, "pipeline_list", time.Since(start), toolErr)
		}()

		runs, err := s.runs.List(ctx)
		if err != nil {
			toolErr = fmt.Errorf("pipeline list failed: %w", err)
			return nil, pipelineListOutput{}, toolErr
		}

		rows := make([]pipelineListRow, 0, len(runs))
		for _, run := range runs {
			if args.Status != "" && string(run.Status) != args.Status {
				continue
			}
			current := ""
			for _, p := range run.Phases {
				if p.Status == pipeline.StatusCompleted || p.Status == pipeline.StatusSkipped {
					continue
				}
				current = string(p.Name)
				break
			}
			rows = append(rows, pipelineListRow{
				RunID:        run.ID,
				Description:  s.scrubber.Scrub(run.Task.Description).Scrubbed,
				Mode:         string(run.Task.Mode),
				Status:       string(run.Status),
				CurrentPhase: current,
			})
		}

		output := pipelineListOutput{
			Runs:  rows,
			Count: len(rows),
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Found %d runs", output.Count)},
			},
		}, output, nil
	})

	// pipeline_abort
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_abort",
		Description: "Abort an active pipeline run",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args pipelineAbortInput) (*mcp.CallToolResult, pipelineAbortOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "pipeline_abort")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "pipeline_abort")
			s.metrics.RecordInvocation(ctx, "pipeline_abort", time.Since(start), toolErr)
		}()

		if err := s.runs.Abort(args.RunID); err != nil {
			toolErr = fmt.Errorf("pipeline abort failed: %w", err)
			return nil, pipelineAbortOutput{}, toolErr
		}

		result := pipelineAbortOutput{
			RunID:  args.RunID,
			Status: "aborting",
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Abort requested for run %s", args.RunID)},
			},
		}, result, nil
	})
}

// ===== CHECKPOINT TOOLS =====

type checkpointSaveInput struct {
	RunID string `json:"run_id" jsonschema:"required,Pipeline run ID"`
	Name  string `json:"name" jsonschema:"required,Checkpoint name, unique among the run's live checkpoints"`
	Phase string `json:"phase" jsonschema:"required,Phase the run resumes from when this checkpoint is restored"`
}

type checkpointSaveOutput struct {
	ID      string `json:"id" jsonschema:"Checkpoint ID"`
	RunID   string `json:"run_id" jsonschema:"Pipeline run ID"`
	Name    string `json:"name" jsonschema:"Checkpoint name"`
	Phase   string `json:"phase" jsonschema:"Resume phase"`
	Stashed bool   `json:"stashed" jsonschema:"True when the workspace snapshot succeeded"`
}

type checkpointListInput struct {
	RunID string `json:"run_id" jsonschema:"required,Pipeline run ID"`
}

type checkpointInfo struct {
	ID          string `json:"id" jsonschema:"Checkpoint ID"`
	Name        string `json:"name" jsonschema:"Checkpoint name"`
	Phase       string `json:"phase" jsonschema:"Resume phase"`
	AutoCreated bool   `json:"auto_created" jsonschema:"True when the sequencer took this checkpoint itself"`
	Stashed     bool   `json:"stashed" jsonschema:"True when the workspace snapshot succeeded"`
	Discarded   bool   `json:"discarded" jsonschema:"True when the checkpoint was released"`
	CreatedAt   string `json:"created_at" jsonschema:"Creation time (RFC 3339)"`
}

type checkpointListOutput struct {
	RunID       string           `json:"run_id" jsonschema:"Pipeline run ID"`
	Checkpoints []checkpointInfo `json:"checkpoints" jsonschema:"Checkpoints in creation order"`
	Count       int              `json:"count" jsonschema:"Number of checkpoints returned"`
}

type checkpointRestoreInput struct {
	RunID string `json:"run_id" jsonschema:"required,Pipeline run ID"`
	Name  string `json:"name" jsonschema:"required,Checkpoint name to restore"`
}

type checkpointRestoreOutput struct {
	RunID       string `json:"run_id" jsonschema:"Pipeline run ID"`
	Name        string `json:"name" jsonschema:"Checkpoint name"`
	ResumePhase string `json:"resume_phase" jsonschema:"Phase execution rolls back to"`
	Stashed     bool   `json:"stashed" jsonschema:"True when a workspace snapshot exists for this checkpoint"`
}

type checkpointDiscardInput struct {
	RunID string `json:"run_id" jsonschema:"required,Pipeline run ID"`
	Name  string `json:"name" jsonschema:"required,Checkpoint name to discard"`
}

type checkpointDiscardOutput struct {
	RunID  string `json:"run_id" jsonschema:"Pipeline run ID"`
	Name   string `json:"name" jsonschema:"Checkpoint name"`
	Status string `json:"status" jsonschema:"Discard status"`
}

func (s *Server) registerCheckpointTools() {
	// checkpoint_save
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "checkpoint_save",
		Description: "Save a named checkpoint of a run for later rollback",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args checkpointSaveInput) (*mcp.CallToolResult, checkpointSaveOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "checkpoint_save")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "checkpoint_save")
			s.metrics.RecordInvocation(ctx, "checkpoint_save", time.Since(start), toolErr)
		}()

		cp, err := s.checkpoints.Create(ctx, checkpoint.CreateRequest{
			RunID:     args.RunID,
			Name:      args.Name,
			PhaseName: args.Phase,
		})
		if err != nil {
			toolErr = fmt.Errorf("checkpoint save failed: %w", err)
			return nil, checkpointSaveOutput{}, toolErr
		}

		result := checkpointSaveOutput{
			ID:      cp.ID,
			RunID:   cp.RunID,
			Name:    cp.Name,
			Phase:   cp.PhaseName,
			Stashed: cp.Stashed,
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Checkpoint saved: %s", result.Name)},
			},
		}, result, nil
	})

	// checkpoint_list
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "checkpoint_list",
		Description: "List checkpoints for a pipeline run",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args checkpointListInput) (*mcp.CallToolResult, checkpointListOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "checkpoint_list")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "checkpoint_list")
			s.metrics.RecordInvocation(ctx, "checkpoint_list", time.Since(start), toolErr)
		}()

		checkpoints, err := s.checkpoints.List(ctx, args.RunID)
		if err != nil {
			toolErr = fmt.Errorf("checkpoint list failed: %w", err)
			return nil, checkpointListOutput{}, toolErr
		}

		results := make([]checkpointInfo, 0, len(checkpoints))
		for _, cp := range checkpoints {
			results = append(results, checkpointInfo{
				ID:          cp.ID,
				Name:        cp.Name,
				Phase:       cp.PhaseName,
				AutoCreated: cp.AutoCreated,
				Stashed:     cp.Stashed,
				Discarded:   cp.Discarded,
				CreatedAt:   fmtTime(cp.CreatedAt),
			})
		}

		output := checkpointListOutput{
			RunID:       args.RunID,
			Checkpoints: results,
			Count:       len(results),
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Found %d checkpoints", output.Count)},
			},
		}, output, nil
	})

	// checkpoint_restore
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "checkpoint_restore",
		Description: "Restore a checkpoint and report the phase execution rolls back to",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args checkpointRestoreInput) (*mcp.CallToolResult, checkpointRestoreOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "checkpoint_restore")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "checkpoint_restore")
			s.metrics.RecordInvocation(ctx, "checkpoint_restore", time.Since(start), toolErr)
		}()

		res, err := s.checkpoints.Restore(ctx, args.RunID, args.Name)
		if err != nil {
			toolErr = fmt.Errorf("checkpoint restore failed: %w", err)
			return nil, checkpointRestoreOutput{}, toolErr
		}

		result := checkpointRestoreOutput{
			RunID:       args.RunID,
			Name:        res.Checkpoint.Name,
			ResumePhase: res.ResumePhase,
			Stashed:     res.Checkpoint.Stashed,
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Checkpoint %q restored; resume from %s", result.Name, result.ResumePhase)},
			},
		}, result, nil
	})

	// checkpoint_discard
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "checkpoint_discard",
		Description: "Discard a checkpoint, releasing its name for reuse",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args checkpointDiscardInput) (*mcp.CallToolResult, checkpointDiscardOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "checkpoint_discard")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "checkpoint_discard")
			s.metrics.RecordInvocation(ctx, "checkpoint_discard", time.Since(start), toolErr)
		}()

		if err := s.checkpoints.Discard(ctx, args.RunID, args.Name); err != nil {
			toolErr = fmt.Errorf("checkpoint discard failed: %w", err)
			return nil, checkpointDiscardOutput{}, toolErr
		}

		result := checkpointDiscardOutput{
			RunID:  args.RunID,
			Name:   args.Name,
			Status: "discarded",
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Checkpoint %q discarded", args.Name)},
			},
		}, result, nil
	})
}

// ===== ESCALATION TOOLS =====

type escalationListInput struct{}

type escalationListOutput struct {
	Pending []string `json:"pending" jsonschema:"Run IDs awaiting a decision"`
	Count   int      `json:"count" jsonschema:"Number of pending escalations"`
}

type escalationReportInput struct {
	RunID string `json:"run_id" jsonschema:"required,Pipeline run ID"`
}

type escalationOption struct {
	Action      string `json:"action" jsonschema:"Resolution action"`
	Description string `json:"description" jsonschema:"What choosing this action does"`
}

type escalationReportOutput struct {
	RunID        string             `json:"run_id" jsonschema:"Pipeline run ID"`
	Task         string             `json:"task" jsonschema:"Task description"`
	Mode         string             `json:"mode" jsonschema:"Pipeline mode"`
	FailingPhase string             `json:"failing_phase" jsonschema:"Phase that exhausted its retries"`
	Reason       string             `json:"reason,omitempty" jsonschema:"Last recorded run error"`
	RootCause    string             `json:"root_cause,omitempty" jsonschema:"Root cause hypothesis"`
	Checkpoint   string             `json:"checkpoint,omitempty" jsonschema:"Active checkpoint available for rollback"`
	Options      []escalationOption `json:"options" jsonschema:"Available resolution choices"`
	IssueURL     string             `json:"issue_url,omitempty" jsonschema:"Tracker issue filed for this escalation"`
}

type escalationResolveInput struct {
	RunID   string `json:"run_id" jsonschema:"required,Pipeline run ID"`
	Action  string `json:"action" jsonschema:"required,Resolution action: rollback keep or escalate"`
	Comment string `json:"comment,omitempty" jsonschema:"Free-form note recorded with the decision"`
}

type escalationResolveOutput struct {
	RunID  string `json:"run_id" jsonschema:"Pipeline run ID"`
	Action string `json:"action" jsonschema:"Applied action"`
	Status string `json:"status" jsonschema:"Resolution status"`
}

func (s *Server) registerEscalationTools() {
	// escalation_list
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "escalation_list",
		Description: "List runs waiting on a human decision",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args escalationListInput) (*mcp.CallToolResult, escalationListOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "escalation_list")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "escalation_list")
			s.metrics.RecordInvocation(ctx, "escalation_list", time.Since(start), toolErr)
		}()

		pending := s.escalations.Pending()

		output := escalationListOutput{
			Pending: pending,
			Count:   len(pending),
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("%d escalations pending", output.Count)},
			},
		}, output, nil
	})

	// escalation_report
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "escalation_report",
		Description: "Fetch the escalation report for a run, including resolution options",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args escalationReportInput) (*mcp.CallToolResult, escalationReportOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "escalation_report")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "escalation_report")
			s.metrics.RecordInvocation(ctx, "escalation_report", time.Since(start), toolErr)
		}()

		rep, ok := s.escalations.Get(args.RunID)
		if !ok {
			toolErr = fmt.Errorf("no escalation report for run %s", args.RunID)
			return nil, escalationReportOutput{}, toolErr
		}

		result := escalationReportOutput{
			RunID:        rep.RunID,
			Task:         s.scrubber.Scrub(rep.Task).Scrubbed,
			Mode:         rep.Mode,
			FailingPhase: rep.FailingPhase,
			Reason:       s.scrubber.Scrub(rep.Reason).Scrubbed,
			RootCause:    rep.RootCause,
			Checkpoint:   rep.Checkpoint,
			IssueURL:     rep.IssueURL,
		}
		for _, opt := range rep.Options {
			result.Options = append(result.Options, escalationOption{
				Action:      string(opt.Action),
				Description: opt.Description,
			})
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Run %s escalated at phase %s", rep.RunID, rep.FailingPhase)},
			},
		}, result, nil
	})

	// escalation_resolve
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "escalation_resolve",
		Description: "Apply a human decision (rollback, keep, or escalate) to a pending escalation",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args escalationResolveInput) (*mcp.CallToolResult, escalationResolveOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "escalation_resolve")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "escalation_resolve")
			s.metrics.RecordInvocation(ctx, "escalation_resolve", time.Since(start), toolErr)
		}()

		action := escalation.Action(args.Action)
		if !action.Valid() {
			toolErr = pipeline.NewError(pipeline.CodeValidation, "unknown escalation action %q", args.Action)
			return nil, escalationResolveOutput{}, toolErr
		}

		err := s.escalations.Resolve(ctx, escalation.Resolution{
			RunID:   args.RunID,
			Action:  action,
			Comment: args.Comment,
			Source:  "mcp",
		})
		if err != nil {
			toolErr = fmt.Errorf("escalation resolve failed: %w", err)
			return nil, escalationResolveOutput{}, toolErr
		}

		result := escalationResolveOutput{
			RunID:  args.RunID,
			Action: args.Action,
			Status: "resolved",
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Escalation for run %s resolved: %s", args.RunID, args.Action)},
			},
		}, result, nil
	})
}
