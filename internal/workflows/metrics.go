package workflows

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/taskforge/internal/workflows"

// Metrics for the durable pipeline workflow. Recorded from activity
// code only; workflow code must stay deterministic across replays.
var (
	phaseExecutions  metric.Int64Counter
	reviewGrades     metric.Int64Histogram
	activityDuration metric.Float64Histogram
	activityErrors   metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for workflows.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	phaseExecutions, err = meter.Int64Counter(
		"taskforge.workflows.phase.executions_total",
		metric.WithDescription("Phase attempts dispatched by pipeline workers"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create phase executions counter: %v", err))
	}

	reviewGrades, err = meter.Int64Histogram(
		"taskforge.workflows.review.grade",
		metric.WithDescription("Grades returned by phase reviews"),
		metric.WithUnit("{grade}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create review grade histogram: %v", err))
	}

	activityDuration, err = meter.Float64Histogram(
		"taskforge.workflows.activity.duration",
		metric.WithDescription("Duration of workflow activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrors, err = meter.Int64Counter(
		"taskforge.workflows.activity.errors_total",
		metric.WithDescription("Number of activity execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}
}

func init() {
	initMetrics()
}
