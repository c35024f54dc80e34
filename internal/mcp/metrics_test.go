package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

func TestMetricsRecordInvocation(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	ctx := context.Background()
	m.IncrementActive(ctx, "pipeline_run")
	m.RecordInvocation(ctx, "pipeline_run", 25*time.Millisecond, nil)
	m.DecrementActive(ctx, "pipeline_run")

	m.IncrementActive(ctx, "pipeline_status")
	m.RecordInvocation(ctx, "pipeline_status", 5*time.Millisecond,
		pipeline.NewError(pipeline.CodeGateFailure, "grade 70 below threshold"))
	m.DecrementActive(ctx, "pipeline_status")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	foundInvocations := false
	foundDuration := false
	foundErrors := false
	foundActive := false

	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			switch met.Name {
			case "taskforge.mcp.tool.invocations_total":
				foundInvocations = true
				if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
					total := int64(0)
					for _, dp := range sum.DataPoints {
						total += dp.Value
					}
					if total != 2 {
						t.Errorf("expected 2 invocations, got %d", total)
					}
				}
			case "taskforge.mcp.tool.duration_seconds":
				foundDuration = true
				if hist, ok := met.Data.(metricdata.Histogram[float64]); ok {
					total := uint64(0)
					for _, dp := range hist.DataPoints {
						total += dp.Count
					}
					if total != 2 {
						t.Errorf("expected 2 duration recordings, got %d", total)
					}
				}
			case "taskforge.mcp.tool.errors_total":
				foundErrors = true
				if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
					total := int64(0)
					reasons := map[string]bool{}
					for _, dp := range sum.DataPoints {
						total += dp.Value
						if v, ok := dp.Attributes.Value("reason"); ok {
							reasons[v.AsString()] = true
						}
					}
					if total != 1 {
						t.Errorf("expected 1 error, got %d", total)
					}
					if !reasons["gate_failure"] {
						t.Errorf("expected reason gate_failure, got %v", reasons)
					}
				}
			case "taskforge.mcp.tool.active_requests":
				foundActive = true
				if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
					total := int64(0)
					for _, dp := range sum.DataPoints {
						total += dp.Value
					}
					if total != 0 {
						t.Errorf("expected active requests to net to 0, got %d", total)
					}
				}
			}
		}
	}

	if !foundInvocations {
		t.Error("invocations counter not found")
	}
	if !foundDuration {
		t.Error("duration histogram not found")
	}
	if !foundErrors {
		t.Error("errors counter not found")
	}
	if !foundActive {
		t.Error("active requests gauge not found")
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation code", pipeline.NewError(pipeline.CodeValidation, "task description is required"), "validation"},
		{"gate failure code", pipeline.NewError(pipeline.CodeGateFailure, "grade 60 below threshold"), "gate_failure"},
		{"timeout code", pipeline.NewError(pipeline.CodeTimeout, "run exceeded 4h"), "timeout"},
		{"wrapped code survives", fmt.Errorf("pipeline abort failed: %w", pipeline.NewError(pipeline.CodeAborted, "operator abort")), "aborted"},
		{"not found text", errors.New("run abc-123 not found"), "not_found"},
		{"invalid text", errors.New("invalid checkpoint name"), "validation"},
		{"deadline text", errors.New("context deadline exceeded"), "timeout"},
		{"checkpoint text", errors.New("checkpoint stash failed"), "checkpoint_error"},
		{"unclassified", errors.New("boom"), "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := categorizeError(tt.err); got != tt.want {
				t.Errorf("categorizeError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
