package runmetrics

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskforge/internal/hooks"
)

type fakeWriter struct {
	mu      sync.Mutex
	reports map[string][]byte
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{reports: make(map[string][]byte)}
}

func (f *fakeWriter) WriteReport(_ context.Context, name string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[name] = data
	return "/metrics/" + name, nil
}

func intPtr(v int) *int { return &v }

func TestReportFileName(t *testing.T) {
	start := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	name := ReportFileName(start, "Fix login bug")
	assert.Equal(t, "pipeline_2025-01-15_fix_login_bug.json", name)
}

func TestRecorder_FullRun(t *testing.T) {
	writer := newFakeWriter()
	rec, err := NewRecorder(writer, nil)
	require.NoError(t, err)

	hm := hooks.NewHookManager()
	rec.Register(hm)

	ctx := context.Background()
	start := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	fire := func(e hooks.Event) {
		t.Helper()
		require.NoError(t, hm.Execute(ctx, e))
	}

	fire(hooks.Event{
		Type: hooks.HookRunStarted, RunID: "run-1", TaskID: "task-1",
		TaskDescription: "Fix login bug", Mode: "fast_track", At: start,
	})
	fire(hooks.Event{
		Type: hooks.HookPhaseStarted, RunID: "run-1", Phase: "planning",
		Status: "in_progress", Attempt: 1, At: start.Add(time.Second),
	})
	fire(hooks.Event{
		Type: hooks.HookGateEvaluated, RunID: "run-1", Phase: "planning",
		Grade: intPtr(85), Passed: true, At: start.Add(2 * time.Minute),
	})
	fire(hooks.Event{
		Type: hooks.HookPhaseCompleted, RunID: "run-1", Phase: "planning",
		Status: "completed", Attempt: 1, Grade: intPtr(85), At: start.Add(2 * time.Minute),
	})
	fire(hooks.Event{
		Type: hooks.HookPhaseStarted, RunID: "run-1", Phase: "implementation",
		Status: "in_progress", Attempt: 1, At: start.Add(2 * time.Minute),
	})
	fire(hooks.Event{
		Type: hooks.HookPhaseCompleted, RunID: "run-1", Phase: "implementation",
		Status: "completed", Attempt: 2, Grade: intPtr(90), At: start.Add(30 * time.Minute),
	})
	fire(hooks.Event{
		Type: hooks.HookRunCompleted, RunID: "run-1", Status: "passed",
		At: start.Add(31 * time.Minute),
	})

	writer.mu.Lock()
	data, ok := writer.reports["pipeline_2025-01-15_fix_login_bug.json"]
	writer.mu.Unlock()
	require.True(t, ok, "report should be written on run.completed")

	var report Report
	require.NoError(t, json.Unmarshal(data, &report))

	assert.Equal(t, "task-1", report.TaskID)
	assert.Equal(t, "2025-01-15", report.Date)
	assert.Equal(t, "passed", report.Status)
	assert.Equal(t, int64(31*60*1000), report.Duration)
	assert.Empty(t, report.Errors)

	require.Len(t, report.Agents, 2)
	assert.Equal(t, "planning", report.Agents[0].Name)
	assert.Equal(t, "completed", report.Agents[0].Status)
	require.NotNil(t, report.Agents[0].Grade)
	assert.Equal(t, 85, *report.Agents[0].Grade)
	assert.Equal(t, 0, report.Agents[0].Retries)

	assert.Equal(t, "implementation", report.Agents[1].Name)
	assert.Equal(t, 1, report.Agents[1].Retries, "attempt 2 means one retry")
	require.NotNil(t, report.Agents[1].Grade)
	assert.Equal(t, 90, *report.Agents[1].Grade)
}

func TestRecorder_WireFormat(t *testing.T) {
	// The report schema is consumed by external tooling; key names are
	// locked.
	writer := newFakeWriter()
	rec, err := NewRecorder(writer, nil)
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, rec.Handle(ctx, hooks.Event{
		Type: hooks.HookRunStarted, RunID: "r", TaskID: "t",
		TaskDescription: "wire check", At: start,
	}))
	require.NoError(t, rec.Handle(ctx, hooks.Event{
		Type: hooks.HookPhaseStarted, RunID: "r", Phase: "implementation",
		Status: "in_progress", Attempt: 1, At: start,
	}))
	require.NoError(t, rec.Handle(ctx, hooks.Event{
		Type: hooks.HookPhaseCompleted, RunID: "r", Phase: "implementation",
		Status: "completed", Attempt: 1, At: start.Add(time.Minute),
	}))
	require.NoError(t, rec.Handle(ctx, hooks.Event{
		Type: hooks.HookRunCompleted, RunID: "r", Status: "passed",
		At: start.Add(time.Minute),
	}))

	writer.mu.Lock()
	data := writer.reports["pipeline_2025-02-01_wire_check.json"]
	writer.mu.Unlock()
	require.NotNil(t, data)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"taskId", "date", "startTime", "endTime", "duration", "agents", "status", "errors"} {
		assert.Contains(t, raw, key)
	}

	agents, ok := raw["agents"].([]any)
	require.True(t, ok)
	require.Len(t, agents, 1)
	agent, ok := agents[0].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"agent", "status", "retries", "duration"} {
		assert.Contains(t, agent, key)
	}
}

func TestRecorder_FailedRunCollectsErrors(t *testing.T) {
	writer := newFakeWriter()
	rec, err := NewRecorder(writer, nil)
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, rec.Handle(ctx, hooks.Event{
		Type: hooks.HookRunStarted, RunID: "r", TaskID: "t",
		TaskDescription: "flaky deploy", At: start,
	}))
	require.NoError(t, rec.Handle(ctx, hooks.Event{
		Type: hooks.HookPhaseStarted, RunID: "r", Phase: "implementation",
		Status: "in_progress", Attempt: 1, At: start,
	}))
	require.NoError(t, rec.Handle(ctx, hooks.Event{
		Type: hooks.HookPhaseCompleted, RunID: "r", Phase: "implementation",
		Status: "failed", Attempt: 4, Reason: "retries exhausted", At: start.Add(time.Hour),
	}))
	require.NoError(t, rec.Handle(ctx, hooks.Event{
		Type: hooks.HookRunCompleted, RunID: "r", Status: "escalated",
		Reason: "no checkpoint available", At: start.Add(time.Hour),
	}))

	writer.mu.Lock()
	data := writer.reports["pipeline_2025-03-01_flaky_deploy.json"]
	writer.mu.Unlock()
	require.NotNil(t, data)

	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "escalated", report.Status)
	assert.Contains(t, report.Errors, "implementation: retries exhausted")
	assert.Contains(t, report.Errors, "no checkpoint available")
	require.Len(t, report.Agents, 1)
	assert.Equal(t, 3, report.Agents[0].Retries)
	assert.Equal(t, "failed", report.Agents[0].Status)
}

func TestRecorder_MissedStartRecovers(t *testing.T) {
	// Events for an unknown run still produce a report.
	writer := newFakeWriter()
	rec, err := NewRecorder(writer, nil)
	require.NoError(t, err)

	ctx := context.Background()
	at := time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, rec.Handle(ctx, hooks.Event{
		Type: hooks.HookRunCompleted, RunID: "orphan", TaskID: "t",
		TaskDescription: "orphan run", Status: "passed", At: at,
	}))

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Len(t, writer.reports, 1)
}

func TestRecorder_NilWriterSkipsReport(t *testing.T) {
	rec, err := NewRecorder(nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rec.Handle(ctx, hooks.Event{
		Type: hooks.HookRunStarted, RunID: "r", At: time.Now().UTC(),
	}))
	require.NoError(t, rec.Handle(ctx, hooks.Event{
		Type: hooks.HookRunCompleted, RunID: "r", Status: "passed", At: time.Now().UTC(),
	}))
}

func TestRecorder_ParallelRunsIsolated(t *testing.T) {
	writer := newFakeWriter()
	rec, err := NewRecorder(writer, nil)
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	descriptions := []string{"task alpha", "task beta", "task gamma"}
	for _, desc := range descriptions {
		wg.Add(1)
		go func(desc string) {
			defer wg.Done()
			runID := desc
			require.NoError(t, rec.Handle(ctx, hooks.Event{
				Type: hooks.HookRunStarted, RunID: runID, TaskID: runID,
				TaskDescription: desc, At: start,
			}))
			require.NoError(t, rec.Handle(ctx, hooks.Event{
				Type: hooks.HookPhaseStarted, RunID: runID, Phase: "implementation",
				Status: "in_progress", Attempt: 1, At: start,
			}))
			require.NoError(t, rec.Handle(ctx, hooks.Event{
				Type: hooks.HookPhaseCompleted, RunID: runID, Phase: "implementation",
				Status: "completed", Attempt: 1, At: start.Add(time.Minute),
			}))
			require.NoError(t, rec.Handle(ctx, hooks.Event{
				Type: hooks.HookRunCompleted, RunID: runID, Status: "passed",
				At: start.Add(time.Minute),
			}))
		}(desc)
	}
	wg.Wait()

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Len(t, writer.reports, 3)
}
