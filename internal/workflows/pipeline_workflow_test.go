package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

func fastTrackPhases() []string {
	return []string{"planning", "implementation", "validation", "post_mortem", "documentation"}
}

// TestPipelineWorkflow exercises the durable pipeline workflow with
// mocked activities.
func TestPipelineWorkflow(t *testing.T) {
	t.Run("fast track run passes through five phases", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		env.RegisterWorkflow(PipelineWorkflow)

		// Mock activities
		env.OnActivity(ClassifyTaskActivity, mock.Anything, mock.Anything).Return(&ClassifyTaskResult{
			Score:  3,
			Mode:   string(pipeline.ModeFastTrack),
			Phases: fastTrackPhases(),
		}, nil)

		var acts *Activities
		env.OnActivity(acts.ExecutePhase, mock.Anything, mock.Anything).Return(&ExecutePhaseResult{Output: "artifact"}, nil)
		env.OnActivity(acts.ReviewOutput, mock.Anything, mock.Anything).Return(&ReviewOutputResult{Grade: 92, Feedback: "solid"}, nil)

		// Execute workflow
		config := PipelineWorkflowConfig{
			RunID:       "run-1",
			Description: "add retry backoff to the fetcher",
			Scope:       "few_files",
			Knowledge:   "approximate",
			Risk:        "none",
			Dependency:  "established",
		}
		env.ExecuteWorkflow(PipelineWorkflow, config)

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result PipelineWorkflowResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, "run-1", result.RunID)
		assert.Equal(t, string(pipeline.RunPassed), result.Status)
		assert.Equal(t, string(pipeline.ModeFastTrack), result.Mode)
		assert.Equal(t, 3, result.Score)
		assert.Equal(t, "artifact", result.FinalOutput)
		assert.Empty(t, result.Errors)
		require.Len(t, result.Phases, 5)
		for _, rec := range result.Phases {
			assert.Equal(t, string(pipeline.StatusCompleted), rec.Status)
			assert.Equal(t, 1, rec.Attempts)
			assert.Equal(t, []int{92}, rec.Grades)
		}
	})

	t.Run("gate failure retries with reviewer feedback", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		env.RegisterWorkflow(PipelineWorkflow)

		env.OnActivity(ClassifyTaskActivity, mock.Anything, mock.Anything).Return(&ClassifyTaskResult{
			Score:  0,
			Mode:   string(pipeline.ModeInstant),
			Phases: []string{"implementation"},
		}, nil)

		// Capture the feedback each attempt receives.
		var acts *Activities
		var feedbacks []string
		env.OnActivity(acts.ExecutePhase, mock.Anything, mock.Anything).Return(
			func(ctx context.Context, input ExecutePhaseInput) (*ExecutePhaseResult, error) {
				feedbacks = append(feedbacks, input.Feedback)
				return &ExecutePhaseResult{Output: "patch"}, nil
			})
		env.OnActivity(acts.ReviewOutput, mock.Anything, mock.Anything).
			Return(&ReviewOutputResult{Grade: 70, Feedback: "needs error handling"}, nil).Once()
		env.OnActivity(acts.ReviewOutput, mock.Anything, mock.Anything).
			Return(&ReviewOutputResult{Grade: 88}, nil).Once()

		config := PipelineWorkflowConfig{RunID: "run-2", Description: "fix the nil check"}
		env.ExecuteWorkflow(PipelineWorkflow, config)

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result PipelineWorkflowResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, string(pipeline.RunPassed), result.Status)
		require.Len(t, result.Phases, 1)
		assert.Equal(t, 2, result.Phases[0].Attempts)
		assert.Equal(t, []int{70, 88}, result.Phases[0].Grades)
		assert.Equal(t, []string{"", "needs error handling"}, feedbacks)
	})

	t.Run("escalates when the retry budget is exhausted", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		env.RegisterWorkflow(PipelineWorkflow)

		env.OnActivity(ClassifyTaskActivity, mock.Anything, mock.Anything).Return(&ClassifyTaskResult{
			Score:  0,
			Mode:   string(pipeline.ModeInstant),
			Phases: []string{"implementation"},
		}, nil)

		var acts *Activities
		env.OnActivity(acts.ExecutePhase, mock.Anything, mock.Anything).Return(&ExecutePhaseResult{Output: "patch"}, nil)
		env.OnActivity(acts.ReviewOutput, mock.Anything, mock.Anything).Return(&ReviewOutputResult{Grade: 60, Feedback: "rework"}, nil)

		config := PipelineWorkflowConfig{RunID: "run-3", Description: "rewrite the scheduler"}
		env.ExecuteWorkflow(PipelineWorkflow, config)

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result PipelineWorkflowResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, string(pipeline.RunEscalated), result.Status)
		assert.Equal(t, "implementation", result.FailingPhase)
		require.Len(t, result.Phases, 1)
		assert.Equal(t, string(pipeline.StatusFailed), result.Phases[0].Status)
		// Implementation gets three retries, so four attempts total.
		assert.Equal(t, 4, result.Phases[0].Attempts)
		assert.Equal(t, []int{60, 60, 60, 60}, result.Phases[0].Grades)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "exhausted its retry budget")
	})

	t.Run("executor fault surfaces as escalation", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		env.RegisterWorkflow(PipelineWorkflow)

		env.OnActivity(ClassifyTaskActivity, mock.Anything, mock.Anything).Return(&ClassifyTaskResult{
			Score:  0,
			Mode:   string(pipeline.ModeInstant),
			Phases: []string{"implementation"},
		}, nil)

		var acts *Activities
		env.OnActivity(acts.ExecutePhase, mock.Anything, mock.Anything).Return(nil, errors.New("executor unreachable"))

		config := PipelineWorkflowConfig{RunID: "run-4", Description: "patch the handler"}
		env.ExecuteWorkflow(PipelineWorkflow, config)

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result PipelineWorkflowResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, string(pipeline.RunEscalated), result.Status)
		assert.Equal(t, "implementation", result.FailingPhase)
		require.Len(t, result.Phases, 1)
		assert.Equal(t, string(pipeline.StatusFailed), result.Phases[0].Status)
		assert.Empty(t, result.Phases[0].Grades)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "executor unreachable")
	})

	t.Run("rejects config without a run id", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		env.RegisterWorkflow(PipelineWorkflow)

		env.ExecuteWorkflow(PipelineWorkflow, PipelineWorkflowConfig{Description: "missing run id"})

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RunID is required")
	})
}

func TestPipelineWorkflowConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  PipelineWorkflowConfig
		wantErr string
	}{
		{
			name:   "valid config",
			config: PipelineWorkflowConfig{RunID: "run-1", Description: "do the thing"},
		},
		{
			name:    "missing run id",
			config:  PipelineWorkflowConfig{Description: "do the thing"},
			wantErr: "RunID is required",
		},
		{
			name:    "missing description",
			config:  PipelineWorkflowConfig{RunID: "run-1"},
			wantErr: "Description is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStartOptions(t *testing.T) {
	opts := StartOptions("run-9")
	assert.Equal(t, "pipeline-run-9", opts.ID)
	assert.Equal(t, TaskQueue, opts.TaskQueue)
	assert.Equal(t, pipeline.DefaultRunTimeout, opts.WorkflowRunTimeout)
	assert.Equal(t, 4*time.Hour, opts.WorkflowRunTimeout)
}
