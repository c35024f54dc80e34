package workflows

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// TaskQueue is the queue pipeline workers and starters share.
const TaskQueue = "taskforge-pipeline"

// Register wires the pipeline workflow and its activities onto a
// worker. Struct registration exposes ExecutePhase and ReviewOutput
// under their method names, which is how the workflow refers to them.
func Register(w worker.Worker, acts *Activities) {
	w.RegisterWorkflow(PipelineWorkflow)
	w.RegisterActivity(ClassifyTaskActivity)
	w.RegisterActivity(acts)
}

// StartOptions returns the workflow options for a run. The workflow
// ID embeds the run ID so resubmitting the same run is idempotent,
// and the run timeout matches the pipeline-wide deadline.
func StartOptions(runID string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:                 fmt.Sprintf("pipeline-%s", runID),
		TaskQueue:          TaskQueue,
		WorkflowRunTimeout: pipeline.DefaultRunTimeout,
	}
}
