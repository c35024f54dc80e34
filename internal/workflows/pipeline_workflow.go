package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/taskforge/internal/gate"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// PipelineWorkflow drives one pipeline run durably.
//
// The task is classified first, then each phase of the selected mode
// runs an execute/review cycle. A review below the gate threshold
// consumes one attempt and feeds the reviewer's notes into the next
// execution; an activity error after Temporal's own retries consumes
// the rest of the budget. When a phase exhausts its budget the
// workflow completes with an escalated result instead of failing, so
// the trajectory survives for the escalation desk.
func PipelineWorkflow(ctx workflow.Context, config PipelineWorkflowConfig) (*PipelineWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting pipeline run",
		"run_id", config.RunID,
		"task", config.Description,
	)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	result := &PipelineWorkflowResult{
		RunID:     config.RunID,
		Status:    string(pipeline.RunRunning),
		StartTime: workflow.Now(ctx),
	}

	classifyCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
	var classified ClassifyTaskResult
	err := workflow.ExecuteActivity(classifyCtx, ClassifyTaskActivity, ClassifyTaskInput{
		Scope:             config.Scope,
		Knowledge:         config.Knowledge,
		Risk:              config.Risk,
		Dependency:        config.Dependency,
		ExactInstructions: config.ExactInstructions,
	}).Get(ctx, &classified)
	if err != nil {
		result.Status = string(pipeline.RunFailed)
		result.Errors = append(result.Errors, fmt.Sprintf("classification failed: %v", err))
		return result, err
	}
	result.Mode = classified.Mode
	result.Score = classified.Score
	logger.Info("Task classified",
		"run_id", config.RunID,
		"mode", classified.Mode,
		"score", classified.Score,
		"phases", len(classified.Phases),
	)

	evaluator := gate.NewEvaluator(gate.Config{Threshold: config.GateThreshold})
	limits := pipeline.DefaultRetryLimits()
	timeouts := pipeline.DefaultTimeouts()

	var a *Activities
	prior := ""

	for _, name := range classified.Phases {
		phase := pipeline.PhaseName(name)
		budget := limits[phase]
		hard := timeouts[phase].Hard
		if hard <= 0 {
			hard = 30 * time.Minute
		}

		phaseCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: hard,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:    time.Second,
				BackoffCoefficient: 2.0,
				MaximumInterval:    time.Minute,
				MaximumAttempts:    int32(budget) + 1,
			},
		})

		rec := PhaseRecord{Phase: name, Status: string(pipeline.StatusInProgress)}
		feedback := ""
		passed := false
		var lastErr string

		for attempt := 1; attempt <= budget+1; attempt++ {
			rec.Attempts = attempt

			var out ExecutePhaseResult
			err := workflow.ExecuteActivity(phaseCtx, a.ExecutePhase, ExecutePhaseInput{
				RunID:           config.RunID,
				TaskID:          config.TaskID,
				TaskDescription: config.Description,
				Phase:           name,
				Attempt:         attempt,
				PriorOutput:     prior,
				Feedback:        feedback,
			}).Get(ctx, &out)
			if err != nil {
				// Temporal already retried infrastructure faults up to
				// the phase budget, so the attempt loop stops here.
				lastErr = fmt.Sprintf("phase %s failed: %v", name, err)
				break
			}

			var rev ReviewOutputResult
			if out.RawGrade != nil {
				rev.Grade = *out.RawGrade
			} else {
				err = workflow.ExecuteActivity(phaseCtx, a.ReviewOutput, ReviewOutputInput{
					RunID:           config.RunID,
					TaskDescription: config.Description,
					Phase:           name,
					Artifact:        out.Output,
				}).Get(ctx, &rev)
				if err != nil {
					lastErr = fmt.Sprintf("phase %s review failed: %v", name, err)
					break
				}
			}

			gres := evaluator.Evaluate(phase, rev.Grade)
			rec.Grades = append(rec.Grades, gres.Grade)
			if gres.Passed {
				prior = out.Output
				passed = true
				break
			}

			feedback = rev.Feedback
			logger.Info("Quality gate failed",
				"run_id", config.RunID,
				"phase", name,
				"grade", gres.Grade,
				"threshold", gres.Threshold,
				"attempt", attempt,
			)
		}

		if passed {
			rec.Status = string(pipeline.StatusCompleted)
			result.Phases = append(result.Phases, rec)
			continue
		}

		rec.Status = string(pipeline.StatusFailed)
		result.Phases = append(result.Phases, rec)
		result.Status = string(pipeline.RunEscalated)
		result.FailingPhase = name
		if lastErr == "" {
			lastErr = fmt.Sprintf("phase %s exhausted its retry budget", name)
		}
		result.Errors = append(result.Errors, lastErr)
		result.EndTime = workflow.Now(ctx)
		result.Duration = result.EndTime.Sub(result.StartTime)

		logger.Info("Pipeline run escalated",
			"run_id", config.RunID,
			"phase", name,
			"attempts", rec.Attempts,
		)
		return result, nil
	}

	result.Status = string(pipeline.RunPassed)
	result.FinalOutput = prior
	result.EndTime = workflow.Now(ctx)
	result.Duration = result.EndTime.Sub(result.StartTime)

	logger.Info("Pipeline run passed",
		"run_id", config.RunID,
		"mode", result.Mode,
		"phases", len(result.Phases),
		"duration", result.Duration,
	)
	return result, nil
}
