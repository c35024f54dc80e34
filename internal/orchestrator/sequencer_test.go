package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/executor"
	"github.com/fyrsmithlabs/taskforge/internal/gate"
	"github.com/fyrsmithlabs/taskforge/internal/hooks"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
	"github.com/fyrsmithlabs/taskforge/internal/secrets"
	"github.com/fyrsmithlabs/taskforge/internal/store"
)

// eventRecorder captures every hook event for ordering assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []hooks.Event
}

func (r *eventRecorder) handle(_ context.Context, e hooks.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) types() []hooks.HookType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]hooks.HookType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) byType(t hooks.HookType) []hooks.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []hooks.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type seqFixture struct {
	seq     *Sequencer
	backend *executor.Scripted
	cps     checkpoint.Service
	store   *store.Store
	events  *eventRecorder
}

func newSeqFixture(t *testing.T, mutate func(*Config)) *seqFixture {
	t.Helper()

	st, err := store.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	cps, err := checkpoint.NewService(checkpoint.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cps.Close() })

	backend := executor.NewScripted()
	rec := &eventRecorder{}
	hm := hooks.NewHookManager()
	hm.RegisterAll(rec.handle)

	cfg := Config{
		Executor:    backend,
		Reviewer:    backend,
		Checkpoints: cps,
		Store:       st,
		Hooks:       hm,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	seq, err := NewSequencer(cfg)
	require.NoError(t, err)

	return &seqFixture{seq: seq, backend: backend, cps: cps, store: st, events: rec}
}

func testRun(mode pipeline.Mode, description string) *pipeline.PipelineRun {
	score := map[pipeline.Mode]int{
		pipeline.ModeInstant:   0,
		pipeline.ModeFastTrack: 3,
		pipeline.ModeFull:      6,
	}[mode]
	return pipeline.NewRun(pipeline.NewTask(description, score, mode))
}

// start lays out the run in the store and drives it.
func (f *seqFixture) start(t *testing.T, ctx context.Context, run *pipeline.PipelineRun) error {
	t.Helper()
	require.NoError(t, f.store.CreateRun(context.Background(), run))
	return f.seq.Run(ctx, run)
}

func decisionsOf(events []hooks.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}

func TestNewSequencer_RequiredFields(t *testing.T) {
	st, err := store.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	cps, err := checkpoint.NewService(checkpoint.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cps.Close() })
	backend := executor.NewScripted()

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing executor", func(c *Config) { c.Executor = nil }, "executor is required"},
		{"missing reviewer", func(c *Config) { c.Reviewer = nil }, "reviewer is required"},
		{"missing checkpoints", func(c *Config) { c.Checkpoints = nil }, "checkpoint service is required"},
		{"missing store", func(c *Config) { c.Store = nil }, "run store is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Executor: backend, Reviewer: backend, Checkpoints: cps, Store: st}
			tt.mutate(&cfg)
			_, err := NewSequencer(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSequencer_Run_InstantModePasses(t *testing.T) {
	f := newSeqFixture(t, nil)
	run := testRun(pipeline.ModeInstant, "fix typo in readme")

	err := f.start(t, context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunPassed, run.Status)
	assert.False(t, run.EndedAt.IsZero())
	require.Len(t, run.Phases, 1)

	phase := run.Phases[0]
	assert.Equal(t, pipeline.PhaseImplementation, phase.Name)
	assert.Equal(t, pipeline.StatusCompleted, phase.Status)
	assert.Equal(t, 0, phase.RetryCount)
	require.NotNil(t, phase.Grade)
	assert.Equal(t, 95, *phase.Grade)
	assert.True(t, strings.HasPrefix(phase.OutputRef, "implementation_"))

	// Instant tasks never take the automatic checkpoint.
	cps, err := f.cps.List(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Empty(t, cps)

	assert.Len(t, f.backend.Calls(), 1)
	assert.Equal(t, []hooks.HookType{
		hooks.HookRunStarted,
		hooks.HookPhaseStarted,
		hooks.HookGateEvaluated,
		hooks.HookPhaseCompleted,
		hooks.HookRunCompleted,
	}, f.events.types())
}

func TestSequencer_Run_FullModeChainsPhaseOutputs(t *testing.T) {
	f := newSeqFixture(t, nil)
	f.backend.QueueResult(pipeline.PhaseResearch, executor.ScriptedResult{
		Output: "# Research\n\nThe handler lives in internal/fetch.\n",
	})
	run := testRun(pipeline.ModeFull, "add retry flag to fetch command")

	err := f.start(t, context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunPassed, run.Status)
	require.Len(t, run.Phases, 6)
	for _, p := range run.Phases {
		assert.Equal(t, pipeline.StatusCompleted, p.Status, "phase %s", p.Name)
	}

	calls := f.backend.Calls()
	require.Len(t, calls, 6)
	assert.Equal(t, pipeline.PhaseResearch, calls[0].Phase)
	assert.Empty(t, calls[0].PriorOutput)
	assert.Equal(t, "# Research\n\nThe handler lives in internal/fetch.\n", calls[1].PriorOutput)

	// The automatic checkpoint lands before implementation and is
	// discarded once the run passes.
	created := f.events.byType(hooks.HookCheckpointCreated)
	require.NotEmpty(t, created)
	assert.Equal(t, string(pipeline.PhaseImplementation), created[0].Phase)
	assert.True(t, strings.HasPrefix(created[0].Checkpoint, "pipeline-checkpoint-"))

	cps, err := f.cps.List(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, cps)
	for _, cp := range cps {
		assert.True(t, cp.Discarded)
	}
}

func TestSequencer_Run_RetryThenPass(t *testing.T) {
	f := newSeqFixture(t, nil)
	f.backend.QueueReview(pipeline.PhaseImplementation,
		executor.ScriptedReview{Grade: 65, Feedback: "tighten error handling"},
		executor.ScriptedReview{Grade: 68, Feedback: "missing edge case"},
		executor.ScriptedReview{Grade: 85},
	)
	run := testRun(pipeline.ModeFull, "harden config loader")

	err := f.start(t, context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunPassed, run.Status)
	impl := run.Phase(pipeline.PhaseImplementation)
	require.NotNil(t, impl)
	assert.Equal(t, pipeline.StatusCompleted, impl.Status)
	assert.Equal(t, 2, impl.RetryCount)
	assert.Equal(t, []int{65, 68, 85}, impl.GradeHistory)

	decisions := f.events.byType(hooks.HookDecisionMade)
	assert.Equal(t, []string{"retry", "retry"}, decisionsOf(decisions))

	var implCalls []executor.Request
	for _, c := range f.backend.Calls() {
		if c.Phase == pipeline.PhaseImplementation {
			implCalls = append(implCalls, c)
		}
	}
	require.Len(t, implCalls, 3)
	assert.Equal(t, 1, implCalls[0].Attempt)
	assert.Empty(t, implCalls[0].Feedback)
	assert.Equal(t, 2, implCalls[1].Attempt)
	assert.Equal(t, "tighten error handling", implCalls[1].Feedback)
	assert.Equal(t, 3, implCalls[2].Attempt)
	assert.Equal(t, "missing edge case", implCalls[2].Feedback)
}

func TestSequencer_Run_SevereNoCheckpointExhaustsThenEscalates(t *testing.T) {
	f := newSeqFixture(t, nil)
	f.backend.QueueReview(pipeline.PhaseImplementation,
		executor.ScriptedReview{Grade: 55},
		executor.ScriptedReview{Grade: 55},
		executor.ScriptedReview{Grade: 55},
	)
	run := testRun(pipeline.ModeInstant, "swap sort order")

	err := f.start(t, context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, pipeline.CodeEscalation, pipeline.CodeOf(err))

	assert.Equal(t, pipeline.RunEscalated, run.Status)
	impl := run.Phase(pipeline.PhaseImplementation)
	assert.Equal(t, pipeline.StatusFailed, impl.Status)
	assert.Equal(t, 3, impl.RetryCount)
	assert.Equal(t, []int{55, 55, 55}, impl.GradeHistory)

	// The executor is never invoked past the retry bound.
	assert.Len(t, f.backend.Calls(), 3)

	decisions := f.events.byType(hooks.HookDecisionMade)
	assert.Equal(t, []string{"retry", "retry", "escalate"}, decisionsOf(decisions))

	escalated := f.events.byType(hooks.HookRunEscalated)
	require.Len(t, escalated, 1)
	assert.Equal(t, string(pipeline.PhaseImplementation), escalated[0].Phase)

	completed := f.events.byType(hooks.HookRunCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, string(pipeline.RunEscalated), completed[0].Status)
}

func TestSequencer_Run_SevereWithCheckpointRollsBack(t *testing.T) {
	f := newSeqFixture(t, nil)
	f.backend.QueueReview(pipeline.PhaseImplementation,
		executor.ScriptedReview{Grade: 55, Feedback: "wrong approach"},
		executor.ScriptedReview{Grade: 90},
	)
	run := testRun(pipeline.ModeFastTrack, "migrate settings store")

	err := f.start(t, context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunPassed, run.Status)
	impl := run.Phase(pipeline.PhaseImplementation)
	assert.Equal(t, pipeline.StatusCompleted, impl.Status)

	// Rollback reset the phase, so the passing attempt ran on a fresh
	// retry counter. The grade history survives for reporting.
	assert.Equal(t, 0, impl.RetryCount)
	assert.Equal(t, []int{55, 90}, impl.GradeHistory)

	// Only the implementation phase was reset; planning kept its state.
	planning := run.Phase(pipeline.PhasePlanning)
	assert.Equal(t, pipeline.StatusCompleted, planning.Status)
	assert.Equal(t, 0, planning.RetryCount)

	decisions := f.events.byType(hooks.HookDecisionMade)
	assert.Equal(t, []string{"rollback"}, decisionsOf(decisions))

	var implCalls int
	for _, c := range f.backend.Calls() {
		if c.Phase == pipeline.PhaseImplementation {
			implCalls++
		}
	}
	assert.Equal(t, 2, implCalls)

	cps, err := f.cps.List(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, cps)
	for _, cp := range cps {
		assert.True(t, cp.Discarded)
	}
}

func TestSequencer_Run_RollbackBudgetEscalates(t *testing.T) {
	f := newSeqFixture(t, nil)
	f.backend.QueueReview(pipeline.PhaseImplementation,
		executor.ScriptedReview{Grade: 55},
		executor.ScriptedReview{Grade: 55},
		executor.ScriptedReview{Grade: 55},
	)
	run := testRun(pipeline.ModeFastTrack, "rework queue draining")

	err := f.start(t, context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, pipeline.CodeEscalation, pipeline.CodeOf(err))
	assert.Equal(t, pipeline.RunEscalated, run.Status)

	decisions := f.events.byType(hooks.HookDecisionMade)
	assert.Equal(t, []string{"rollback", "rollback", "escalate"}, decisionsOf(decisions))
	assert.Contains(t, decisions[2].Reason, "rollback attempted 2 times")

	var implCalls int
	for _, c := range f.backend.Calls() {
		if c.Phase == pipeline.PhaseImplementation {
			implCalls++
		}
	}
	assert.Equal(t, 3, implCalls)
}

func TestSequencer_Run_BuildBrokenEscalatesImmediately(t *testing.T) {
	f := newSeqFixture(t, nil)
	f.backend.QueueResult(pipeline.PhaseValidation, executor.ScriptedResult{
		Output:      "# Validation\n\nBUILD: broken\n",
		BuildBroken: true,
	})
	f.backend.QueueReview(pipeline.PhaseValidation, executor.ScriptedReview{Grade: 50})
	run := testRun(pipeline.ModeFastTrack, "introduce cache layer")

	err := f.start(t, context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, pipeline.RunEscalated, run.Status)

	val := run.Phase(pipeline.PhaseValidation)
	assert.Equal(t, pipeline.StatusFailed, val.Status)
	assert.Equal(t, 1, val.RetryCount)

	// Phases the run never reached are marked skipped, not left
	// not-started.
	assert.Equal(t, pipeline.StatusSkipped, run.Phase(pipeline.PhasePostMortem).Status)
	assert.Equal(t, pipeline.StatusSkipped, run.Phase(pipeline.PhaseDocumentation).Status)

	decisions := f.events.byType(hooks.HookDecisionMade)
	require.Len(t, decisions, 1)
	assert.Equal(t, "escalate", decisions[0].Action)
	assert.Contains(t, decisions[0].Reason, "critical")
}

func TestSequencer_Run_ExecutorFaultRetries(t *testing.T) {
	f := newSeqFixture(t, nil)
	f.backend.QueueResult(pipeline.PhaseImplementation,
		executor.ScriptedResult{Err: errors.New("backend crashed")},
	)
	run := testRun(pipeline.ModeInstant, "bump dependency")

	err := f.start(t, context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunPassed, run.Status)
	impl := run.Phase(pipeline.PhaseImplementation)
	assert.Equal(t, 1, impl.RetryCount)
	assert.Equal(t, []int{95}, impl.GradeHistory)
	require.NotEmpty(t, run.Errors)
	assert.Contains(t, run.Errors[0], "execution fault")

	decisions := f.events.byType(hooks.HookDecisionMade)
	require.Len(t, decisions, 1)
	assert.Equal(t, "retry", decisions[0].Action)
}

// delayedExecutor stalls Execute calls so timeout paths can fire.
type delayedExecutor struct {
	inner *executor.Scripted
	delay time.Duration

	// slowOnce limits the stall to the first call.
	slowOnce bool
	calls    atomic.Int32
}

func (d *delayedExecutor) Execute(ctx context.Context, req executor.Request) (*executor.Result, error) {
	n := d.calls.Add(1)
	if !d.slowOnce || n == 1 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.inner.Execute(ctx, req)
}

func TestSequencer_Run_PhaseTimeoutRetries(t *testing.T) {
	f := newSeqFixture(t, func(c *Config) {
		c.Executor = &delayedExecutor{inner: c.Executor.(*executor.Scripted), delay: 200 * time.Millisecond, slowOnce: true}
		c.Timeouts = map[pipeline.PhaseName]pipeline.Timeouts{
			pipeline.PhaseImplementation: {Warning: 10 * time.Millisecond, Hard: 40 * time.Millisecond},
		}
	})
	run := testRun(pipeline.ModeInstant, "trim log noise")

	err := f.start(t, context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunPassed, run.Status)
	impl := run.Phase(pipeline.PhaseImplementation)
	assert.Equal(t, 1, impl.RetryCount)
	require.NotEmpty(t, run.Errors)
	assert.Contains(t, run.Errors[0], "hard limit")

	decisions := f.events.byType(hooks.HookDecisionMade)
	require.Len(t, decisions, 1)
	assert.Equal(t, "retry", decisions[0].Action)
	assert.Contains(t, decisions[0].Reason, "timeout")
}

func TestSequencer_Run_RunTimeoutEmergencyCheckpointAndEscalate(t *testing.T) {
	f := newSeqFixture(t, func(c *Config) {
		c.Executor = &delayedExecutor{inner: c.Executor.(*executor.Scripted), delay: 400 * time.Millisecond}
		c.RunTimeout = 50 * time.Millisecond
	})
	run := testRun(pipeline.ModeInstant, "port smoke tests")

	err := f.start(t, context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, pipeline.CodeEscalation, pipeline.CodeOf(err))
	assert.Equal(t, pipeline.RunEscalated, run.Status)
	require.NotEmpty(t, run.Errors)
	assert.Contains(t, run.Errors[len(run.Errors)-1], "pipeline limit")

	// The pipeline-level timeout forces an emergency checkpoint before
	// halting.
	cps, err := f.cps.List(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.True(t, strings.HasPrefix(cps[0].Name, "emergency-"))
	assert.True(t, cps[0].AutoCreated)

	assert.Len(t, f.events.byType(hooks.HookRunEscalated), 1)
}

func TestSequencer_Run_AbortMidRun(t *testing.T) {
	f := newSeqFixture(t, func(c *Config) {
		c.Executor = &delayedExecutor{inner: c.Executor.(*executor.Scripted), delay: time.Second}
	})
	run := testRun(pipeline.ModeInstant, "rename service package")

	ctx, cancel := context.WithCancelCause(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, func() { cancel(pipeline.ErrAborted) })
	defer timer.Stop()
	defer cancel(nil)

	err := f.start(t, ctx, run)
	require.Error(t, err)
	assert.Equal(t, pipeline.CodeAborted, pipeline.CodeOf(err))
	assert.ErrorIs(t, err, pipeline.ErrAborted)
	assert.Equal(t, pipeline.RunAborted, run.Status)
	assert.Equal(t, pipeline.StatusFailed, run.Phase(pipeline.PhaseImplementation).Status)

	completed := f.events.byType(hooks.HookRunCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, string(pipeline.RunAborted), completed[0].Status)
}

// redactingScrubber stands in for the gitleaks-backed scrubber.
type redactingScrubber struct{}

func (redactingScrubber) Scrub(content string) *secrets.Result {
	scrubbed := strings.ReplaceAll(content, "hunter2", "[REDACTED]")
	res := &secrets.Result{Original: content, Scrubbed: scrubbed}
	if scrubbed != content {
		res.TotalFindings = 1
	}
	return res
}

func (redactingScrubber) Check(content string) *secrets.Result {
	res := &secrets.Result{Original: content, Scrubbed: content}
	if strings.Contains(content, "hunter2") {
		res.TotalFindings = 1
	}
	return res
}

func (redactingScrubber) IsEnabled() bool { return true }

func TestSequencer_Run_ScrubsArtifactsBeforePersisting(t *testing.T) {
	f := newSeqFixture(t, func(c *Config) {
		c.Scrubber = redactingScrubber{}
	})
	f.backend.QueueResult(pipeline.PhasePlanning, executor.ScriptedResult{
		Output: "# Plan\n\nuse password hunter2 for staging\n",
	})
	run := testRun(pipeline.ModeFastTrack, "rotate staging credentials")

	err := f.start(t, context.Background(), run)
	require.NoError(t, err)

	planning := run.Phase(pipeline.PhasePlanning)
	require.NotEmpty(t, planning.OutputRef)
	data, err := f.store.ReadArtifact(context.Background(), run.ID, planning.OutputRef)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.Contains(t, string(data), "[REDACTED]")

	// The next phase sees the scrubbed text, not the raw output.
	calls := f.backend.Calls()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Contains(t, calls[1].PriorOutput, "[REDACTED]")
	assert.NotContains(t, calls[1].PriorOutput, "hunter2")
}

func TestSequencer_Run_AnomalousGradeClamped(t *testing.T) {
	t.Run("above range passes clamped", func(t *testing.T) {
		f := newSeqFixture(t, nil)
		f.backend.QueueReview(pipeline.PhaseImplementation, executor.ScriptedReview{Grade: 150})
		run := testRun(pipeline.ModeInstant, "tidy imports")

		err := f.start(t, context.Background(), run)
		require.NoError(t, err)

		impl := run.Phase(pipeline.PhaseImplementation)
		require.NotNil(t, impl.Grade)
		assert.Equal(t, 100, *impl.Grade)

		gates := f.events.byType(hooks.HookGateEvaluated)
		require.Len(t, gates, 1)
		assert.True(t, gates[0].Anomalous)
		assert.True(t, gates[0].Passed)

		grade, err := f.store.ReadArtifact(context.Background(), run.ID, store.GradeFileName(impl.OutputRef))
		require.NoError(t, err)
		assert.Contains(t, string(grade), "Raw grade: 150")
	})

	t.Run("below range fails severe and retries", func(t *testing.T) {
		f := newSeqFixture(t, nil)
		f.backend.QueueReview(pipeline.PhaseImplementation,
			executor.ScriptedReview{Grade: -5},
			executor.ScriptedReview{Grade: 90},
		)
		run := testRun(pipeline.ModeInstant, "tidy imports")

		err := f.start(t, context.Background(), run)
		require.NoError(t, err)

		impl := run.Phase(pipeline.PhaseImplementation)
		assert.Equal(t, []int{0, 90}, impl.GradeHistory)
		assert.Equal(t, 1, impl.RetryCount)
	})
}

func TestSequencer_Run_SelfReportedGradeSkipsReviewer(t *testing.T) {
	f := newSeqFixture(t, nil)
	grade := 88
	f.backend.QueueResult(pipeline.PhaseImplementation, executor.ScriptedResult{
		Output:   "# Patch\n\nApplied exactly as instructed.\n",
		RawGrade: &grade,
	})
	run := testRun(pipeline.ModeInstant, "bump dependency pin")

	err := f.start(t, context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunPassed, run.Status)
	impl := run.Phase(pipeline.PhaseImplementation)
	require.NotNil(t, impl.Grade)
	assert.Equal(t, 88, *impl.Grade)
	assert.Equal(t, []int{88}, impl.GradeHistory)

	// The reviewer is never consulted for self-graded output, so no
	// reviewed artifact exists; the gate record still does.
	assert.Empty(t, f.backend.ReviewCalls())
	names, err := f.store.ListArtifacts(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, names, 2)
	for _, name := range names {
		assert.NotContains(t, name, "-reviewed")
	}
	_, err = f.store.ReadArtifact(context.Background(), run.ID, store.GradeFileName(impl.OutputRef))
	require.NoError(t, err)
}

func TestSequencer_Run_WritesArtifactTrioPerPhase(t *testing.T) {
	f := newSeqFixture(t, nil)
	f.backend.QueueResult(pipeline.PhasePlanning, executor.ScriptedResult{
		Output: "# Plan\n\nDo the thing.\n",
	})
	run := testRun(pipeline.ModeFastTrack, "add health endpoint")

	err := f.start(t, context.Background(), run)
	require.NoError(t, err)

	names, err := f.store.ListArtifacts(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, names, len(run.Phases)*3)

	planning := run.Phase(pipeline.PhasePlanning)
	require.NotEmpty(t, planning.OutputRef)

	artifact, err := f.store.ReadArtifact(context.Background(), run.ID, planning.OutputRef)
	require.NoError(t, err)
	assert.Equal(t, "# Plan\n\nDo the thing.\n", string(artifact))

	reviewed, err := f.store.ReadArtifact(context.Background(), run.ID, store.ReviewedFileName(planning.OutputRef))
	require.NoError(t, err)
	assert.Equal(t, "# Plan\n\nDo the thing.\n\n\nGRADE: 95\n", string(reviewed))

	grade, err := f.store.ReadArtifact(context.Background(), run.ID, store.GradeFileName(planning.OutputRef))
	require.NoError(t, err)
	assert.Contains(t, string(grade), "- Grade: 95")
	assert.Contains(t, string(grade), "- Passed: true")
}

func TestSequencer_Run_TerminalRunRejected(t *testing.T) {
	f := newSeqFixture(t, nil)
	run := testRun(pipeline.ModeInstant, "noop")
	run.Status = pipeline.RunPassed

	err := f.seq.Run(context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, pipeline.CodeValidation, pipeline.CodeOf(err))
	assert.Len(t, f.backend.Calls(), 0)
}

func TestRenderGradeReport(t *testing.T) {
	res := gate.Result{
		PhaseName: pipeline.PhasePlanning,
		Grade:     88,
		Raw:       88,
		Threshold: 80,
		Passed:    true,
	}
	out := renderGradeReport(res, "solid work")
	assert.Contains(t, out, "# Gate result: planning")
	assert.Contains(t, out, "- Grade: 88")
	assert.Contains(t, out, "- Threshold: 80")
	assert.Contains(t, out, "- Passed: true")
	assert.Contains(t, out, "## Reviewer feedback")
	assert.Contains(t, out, "solid work")
	assert.NotContains(t, out, "Raw grade")
}
