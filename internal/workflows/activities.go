package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/classifier"
	"github.com/fyrsmithlabs/taskforge/internal/executor"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// ClassifyTaskActivity scores the complexity indicators and resolves
// the phase sequence for the selected mode. Pure computation, so its
// retry policy never needs more than one attempt.
func ClassifyTaskActivity(ctx context.Context, input ClassifyTaskInput) (*ClassifyTaskResult, error) {
	ind, err := classifier.ParseIndicators(input.Scope, input.Knowledge, input.Risk, input.Dependency, input.ExactInstructions)
	if err != nil {
		return nil, err
	}
	res := classifier.Classify(ind)

	out := &ClassifyTaskResult{Score: res.Score, Mode: string(res.Mode)}
	for _, p := range pipeline.PhasesForMode(res.Mode) {
		out.Phases = append(out.Phases, string(p))
	}
	return out, nil
}

// Activities bundles the worker-scoped dependencies for phase
// execution. The backend owns HTTP clients and circuit breakers with
// their own lifecycle, so it is built once per worker rather than per
// activity call.
type Activities struct {
	backend executor.Backend
	logger  *zap.Logger
}

// NewActivities returns activities backed by the given executor.
func NewActivities(backend executor.Backend, logger *zap.Logger) (*Activities, error) {
	if backend == nil {
		return nil, fmt.Errorf("executor backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{backend: backend, logger: logger}, nil
}

// ExecutePhase runs one phase attempt against the backend.
func (a *Activities) ExecutePhase(ctx context.Context, input ExecutePhaseInput) (*ExecutePhaseResult, error) {
	start := time.Now()
	res, err := a.backend.Execute(ctx, executor.Request{
		RunID:           input.RunID,
		TaskID:          input.TaskID,
		TaskDescription: input.TaskDescription,
		Phase:           pipeline.PhaseName(input.Phase),
		Attempt:         input.Attempt,
		PriorOutput:     input.PriorOutput,
		Feedback:        input.Feedback,
	})

	phaseExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", input.Phase),
	))
	activityDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("activity", "ExecutePhase"),
		attribute.String("phase", input.Phase),
	))
	if err != nil {
		activityErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("activity", "ExecutePhase"),
			attribute.String("phase", input.Phase),
		))
		return nil, fmt.Errorf("execute %s attempt %d: %w", input.Phase, input.Attempt, err)
	}

	a.logger.Debug("phase attempt executed",
		zap.String("run_id", input.RunID),
		zap.String("phase", input.Phase),
		zap.Int("attempt", input.Attempt),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("build_broken", res.BuildBroken))

	return &ExecutePhaseResult{Output: res.Output, RawGrade: res.RawGrade, BuildBroken: res.BuildBroken}, nil
}

// ReviewOutput grades a phase artifact through the backend reviewer.
func (a *Activities) ReviewOutput(ctx context.Context, input ReviewOutputInput) (*ReviewOutputResult, error) {
	start := time.Now()
	rev, err := a.backend.Review(ctx, executor.ReviewRequest{
		RunID:           input.RunID,
		TaskDescription: input.TaskDescription,
		Phase:           pipeline.PhaseName(input.Phase),
		Artifact:        input.Artifact,
	})

	activityDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("activity", "ReviewOutput"),
		attribute.String("phase", input.Phase),
	))
	if err != nil {
		activityErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("activity", "ReviewOutput"),
			attribute.String("phase", input.Phase),
		))
		return nil, fmt.Errorf("review %s: %w", input.Phase, err)
	}

	reviewGrades.Record(ctx, int64(rev.Grade), metric.WithAttributes(
		attribute.String("phase", input.Phase),
	))
	a.logger.Debug("phase artifact reviewed",
		zap.String("run_id", input.RunID),
		zap.String("phase", input.Phase),
		zap.Int("grade", rev.Grade))

	return &ReviewOutputResult{Grade: rev.Grade, Feedback: rev.Feedback}, nil
}
