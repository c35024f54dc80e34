package runmetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/hooks"
)

const instrumentationName = "github.com/fyrsmithlabs/taskforge/internal/runmetrics"

// ReportWriter persists finished reports. The run store satisfies this.
type ReportWriter interface {
	WriteReport(ctx context.Context, name string, data []byte) (string, error)
}

// Recorder accumulates run metrics from lifecycle hooks.
type Recorder struct {
	writer ReportWriter
	logger *zap.Logger
	meter  metric.Meter

	runsCounter    metric.Int64Counter
	retriesCounter metric.Int64Counter
	runDuration    metric.Float64Histogram
	phaseGrades    metric.Int64Histogram

	mu   sync.Mutex
	runs map[string]*accumulator
}

// accumulator is the in-flight state for one run.
type accumulator struct {
	taskID      string
	description string
	startTime   time.Time
	order       []string
	agents      map[string]*AgentEntry
	errors      []string
}

// NewRecorder creates a metrics recorder. A nil writer disables report
// files but keeps the instruments.
func NewRecorder(writer ReportWriter, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		writer: writer,
		logger: logger,
		meter:  otel.Meter(instrumentationName),
		runs:   make(map[string]*accumulator),
	}

	if err := r.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return r, nil
}

func (r *Recorder) initMetrics() error {
	var err error

	r.runsCounter, err = r.meter.Int64Counter(
		"taskforge.pipeline.runs_total",
		metric.WithDescription("Total number of finished pipeline runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return fmt.Errorf("create runs counter: %w", err)
	}

	r.retriesCounter, err = r.meter.Int64Counter(
		"taskforge.pipeline.phase_retries_total",
		metric.WithDescription("Total number of phase retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return fmt.Errorf("create retries counter: %w", err)
	}

	r.runDuration, err = r.meter.Float64Histogram(
		"taskforge.pipeline.run_duration_seconds",
		metric.WithDescription("Wall-clock duration of pipeline runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create duration histogram: %w", err)
	}

	r.phaseGrades, err = r.meter.Int64Histogram(
		"taskforge.pipeline.phase_grade",
		metric.WithDescription("Quality gate grades per phase attempt"),
		metric.WithUnit("{grade}"),
	)
	if err != nil {
		return fmt.Errorf("create grade histogram: %w", err)
	}

	return nil
}

// Register subscribes the recorder to every lifecycle hook.
func (r *Recorder) Register(hm *hooks.HookManager) {
	hm.RegisterAll(r.Handle)
}

// Handle consumes one lifecycle event. Implements hooks.HookHandler.
func (r *Recorder) Handle(ctx context.Context, event hooks.Event) error {
	switch event.Type {
	case hooks.HookRunStarted:
		r.runStarted(event)
	case hooks.HookPhaseStarted:
		r.phaseStarted(event)
	case hooks.HookGateEvaluated:
		r.gateEvaluated(ctx, event)
	case hooks.HookPhaseCompleted:
		r.phaseCompleted(ctx, event)
	case hooks.HookRunCompleted:
		return r.runCompleted(ctx, event)
	}
	return nil
}

func (r *Recorder) runStarted(event hooks.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[event.RunID] = &accumulator{
		taskID:      event.TaskID,
		description: event.TaskDescription,
		startTime:   event.At,
		agents:      make(map[string]*AgentEntry),
	}
}

// acc returns the accumulator for a run, creating one from the event
// when the run.started hook was missed. Callers hold r.mu.
func (r *Recorder) acc(event hooks.Event) *accumulator {
	a, ok := r.runs[event.RunID]
	if !ok {
		a = &accumulator{
			taskID:      event.TaskID,
			description: event.TaskDescription,
			startTime:   event.At,
			agents:      make(map[string]*AgentEntry),
		}
		r.runs[event.RunID] = a
	}
	return a
}

func (r *Recorder) phaseStarted(event hooks.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.acc(event)
	entry, ok := a.agents[event.Phase]
	if !ok {
		entry = &AgentEntry{Name: event.Phase, StartTime: event.At}
		a.agents[event.Phase] = entry
		a.order = append(a.order, event.Phase)
	}
	entry.Status = event.Status
	if event.Attempt > 1 {
		entry.Retries = event.Attempt - 1
	}
}

func (r *Recorder) gateEvaluated(ctx context.Context, event hooks.Event) {
	if event.Grade != nil {
		r.phaseGrades.Record(ctx, int64(*event.Grade), metric.WithAttributes(
			attribute.String("phase", event.Phase),
			attribute.Bool("passed", event.Passed),
		))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.acc(event)
	if entry, ok := a.agents[event.Phase]; ok && event.Grade != nil {
		grade := *event.Grade
		entry.Grade = &grade
	}
}

func (r *Recorder) phaseCompleted(ctx context.Context, event hooks.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.acc(event)
	entry, ok := a.agents[event.Phase]
	if !ok {
		entry = &AgentEntry{Name: event.Phase, StartTime: event.At}
		a.agents[event.Phase] = entry
		a.order = append(a.order, event.Phase)
	}
	entry.Status = event.Status
	entry.EndTime = event.At
	if !entry.StartTime.IsZero() {
		entry.Duration = event.At.Sub(entry.StartTime).Milliseconds()
	}
	if event.Attempt > 1 {
		retries := event.Attempt - 1
		if retries > entry.Retries {
			r.retriesCounter.Add(ctx, int64(retries-entry.Retries), metric.WithAttributes(
				attribute.String("phase", event.Phase),
			))
			entry.Retries = retries
		}
	}
	if event.Grade != nil {
		grade := *event.Grade
		entry.Grade = &grade
	}
	if event.Reason != "" && event.Status == "failed" {
		a.errors = append(a.errors, fmt.Sprintf("%s: %s", event.Phase, event.Reason))
	}
}

func (r *Recorder) runCompleted(ctx context.Context, event hooks.Event) error {
	r.mu.Lock()
	a := r.acc(event)
	delete(r.runs, event.RunID)
	r.mu.Unlock()

	report := r.buildReport(a, event)

	r.runsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", report.Status),
		attribute.String("mode", event.Mode),
	))
	r.runDuration.Record(ctx, float64(report.Duration)/1000, metric.WithAttributes(
		attribute.String("status", report.Status),
	))

	if r.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report for run %s: %w", event.RunID, err)
	}

	name := ReportFileName(report.StartTime, a.description)
	path, err := r.writer.WriteReport(ctx, name, data)
	if err != nil {
		return fmt.Errorf("write report for run %s: %w", event.RunID, err)
	}

	r.logger.Info("pipeline report written",
		zap.String("run_id", event.RunID),
		zap.String("path", path),
		zap.String("status", report.Status))
	return nil
}

func (r *Recorder) buildReport(a *accumulator, event hooks.Event) *Report {
	report := &Report{
		TaskID:    a.taskID,
		Date:      a.startTime.UTC().Format(reportDateLayout),
		StartTime: a.startTime,
		EndTime:   event.At,
		Duration:  event.At.Sub(a.startTime).Milliseconds(),
		Agents:    make([]AgentEntry, 0, len(a.order)),
		Status:    event.Status,
		Errors:    append([]string{}, a.errors...),
	}
	if event.Reason != "" {
		report.Errors = append(report.Errors, event.Reason)
	}
	for _, name := range a.order {
		report.Agents = append(report.Agents, *a.agents[name])
	}
	return report
}
