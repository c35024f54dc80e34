package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/executor"
	"github.com/fyrsmithlabs/taskforge/internal/gate"
	"github.com/fyrsmithlabs/taskforge/internal/hooks"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
	"github.com/fyrsmithlabs/taskforge/internal/recovery"
	"github.com/fyrsmithlabs/taskforge/internal/sanitize"
	"github.com/fyrsmithlabs/taskforge/internal/secrets"
	"github.com/fyrsmithlabs/taskforge/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/taskforge/internal/orchestrator"

// RunStore is the slice of run storage the orchestrator needs. The
// filesystem store satisfies it.
type RunStore interface {
	CreateRun(ctx context.Context, run *pipeline.PipelineRun) error
	SaveRun(ctx context.Context, run *pipeline.PipelineRun) error
	LoadRun(ctx context.Context, runID string) (*pipeline.PipelineRun, error)
	ListRuns(ctx context.Context) ([]*pipeline.PipelineRun, error)
	WriteArtifact(ctx context.Context, runID, name string, content []byte) (string, error)
}

// Config holds sequencer configuration.
type Config struct {
	// Executor runs phase attempts. Required.
	Executor executor.PhaseExecutor

	// Reviewer grades phase artifacts. Required.
	Reviewer executor.Reviewer

	// Checkpoints manages recovery points. Required.
	Checkpoints checkpoint.Service

	// Store persists run state and artifacts. Required.
	Store RunStore

	// Gate evaluates grades (optional, defaults to threshold 80).
	Gate *gate.Evaluator

	// Recovery decides retry/rollback/escalate (optional).
	Recovery *recovery.Controller

	// Scrubber redacts secrets from artifacts before they touch disk
	// (optional, defaults to no-op).
	Scrubber secrets.Scrubber

	// Hooks receives lifecycle events (optional).
	Hooks *hooks.HookManager

	// RetryLimits overrides the per-phase retry budget (optional).
	RetryLimits map[pipeline.PhaseName]int

	// Timeouts overrides the per-phase timeout table (optional).
	Timeouts map[pipeline.PhaseName]pipeline.Timeouts

	// RunTimeout is the pipeline-level hard limit (optional, defaults
	// to pipeline.DefaultRunTimeout).
	RunTimeout time.Duration

	// Logger for structured logging (optional, defaults to no-op).
	Logger *zap.Logger
}

// Sequencer drives one pipeline run at a time through its phases. It
// is the single writer of phase state; collaborators only observe.
type Sequencer struct {
	executor    executor.PhaseExecutor
	reviewer    executor.Reviewer
	checkpoints checkpoint.Service
	store       RunStore
	gate        *gate.Evaluator
	recovery    *recovery.Controller
	scrubber    secrets.Scrubber
	hooks       *hooks.HookManager
	logger      *zap.Logger
	tracer      trace.Tracer
	meter       metric.Meter

	retryLimits map[pipeline.PhaseName]int
	timeouts    map[pipeline.PhaseName]pipeline.Timeouts
	runTimeout  time.Duration

	runCounter        metric.Int64Counter
	attemptCounter    metric.Int64Counter
	rollbackCounter   metric.Int64Counter
	escalationCounter metric.Int64Counter
}

// NewSequencer creates a sequencer.
func NewSequencer(cfg Config) (*Sequencer, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Reviewer == nil {
		return nil, fmt.Errorf("reviewer is required")
	}
	if cfg.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint service is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("run store is required")
	}
	if cfg.Gate == nil {
		cfg.Gate = gate.NewEvaluator(gate.Config{})
	}
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewController(recovery.Config{})
	}
	if cfg.Scrubber == nil {
		cfg.Scrubber = &secrets.NoopScrubber{}
	}
	if cfg.Hooks == nil {
		cfg.Hooks = hooks.NewHookManager()
	}
	if cfg.RetryLimits == nil {
		cfg.RetryLimits = pipeline.DefaultRetryLimits()
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = pipeline.DefaultTimeouts()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = pipeline.DefaultRunTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Sequencer{
		executor:    cfg.Executor,
		reviewer:    cfg.Reviewer,
		checkpoints: cfg.Checkpoints,
		store:       cfg.Store,
		gate:        cfg.Gate,
		recovery:    cfg.Recovery,
		scrubber:    cfg.Scrubber,
		hooks:       cfg.Hooks,
		logger:      cfg.Logger,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
		retryLimits: cfg.RetryLimits,
		timeouts:    cfg.Timeouts,
		runTimeout:  cfg.RunTimeout,
	}

	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return s, nil
}

func (s *Sequencer) initMetrics() error {
	var err error

	s.runCounter, err = s.meter.Int64Counter(
		"taskforge.orchestrator.runs_total",
		metric.WithDescription("Total number of pipeline runs by terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return fmt.Errorf("create runs counter: %w", err)
	}

	s.attemptCounter, err = s.meter.Int64Counter(
		"taskforge.orchestrator.phase_attempts_total",
		metric.WithDescription("Total number of phase attempts by phase and result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return fmt.Errorf("create attempts counter: %w", err)
	}

	s.rollbackCounter, err = s.meter.Int64Counter(
		"taskforge.orchestrator.rollbacks_total",
		metric.WithDescription("Total number of checkpoint rollbacks"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		return fmt.Errorf("create rollbacks counter: %w", err)
	}

	s.escalationCounter, err = s.meter.Int64Counter(
		"taskforge.orchestrator.escalations_total",
		metric.WithDescription("Total number of runs escalated to a human"),
		metric.WithUnit("{escalation}"),
	)
	if err != nil {
		return fmt.Errorf("create escalations counter: %w", err)
	}

	return nil
}

// runState is loop-local bookkeeping for one Run invocation. Outputs
// chain phase artifacts forward; feedback carries reviewer notes into
// retries; rollbacks tallies per-phase rollback use for the recovery
// controller.
type runState struct {
	outputs   map[pipeline.PhaseName]string
	feedback  map[pipeline.PhaseName]string
	rollbacks map[pipeline.PhaseName]int
}

func newRunState() *runState {
	return &runState{
		outputs:   make(map[pipeline.PhaseName]string),
		feedback:  make(map[pipeline.PhaseName]string),
		rollbacks: make(map[pipeline.PhaseName]int),
	}
}

// priorOutput returns the artifact of the nearest completed phase
// before idx, so each phase sees its predecessor's reviewed work.
func (st *runState) priorOutput(run *pipeline.PipelineRun, idx int) string {
	for i := idx - 1; i >= 0; i-- {
		p := run.Phases[i]
		if p.Status != pipeline.StatusCompleted {
			continue
		}
		if out, ok := st.outputs[p.Name]; ok {
			return out
		}
	}
	return ""
}

// attemptResult is the outcome of one pass through attempt().
type attemptResult struct {
	attempt  int
	executed bool
	passed   bool

	// interrupted is set when the run context died mid-attempt; the
	// caller decides between abort and pipeline-timeout escalation.
	interrupted error

	trigger  recovery.Trigger
	severity recovery.Severity
	grade    *int
	feedback string
	failure  string
	elapsed  time.Duration
}

// Run drives the run to a terminal status. It returns nil when the run
// passes; otherwise the error carries the escalation, gate-failure, or
// abort code. The run is mutated in place and persisted at every
// transition.
func (s *Sequencer) Run(ctx context.Context, run *pipeline.PipelineRun) (err error) {
	if run == nil || len(run.Phases) == 0 {
		return pipeline.NewError(pipeline.CodeValidation, "run has no phases")
	}
	if run.Terminal() {
		return pipeline.NewError(pipeline.CodeValidation, "run %s is already %s", run.ID, run.Status)
	}

	ctx, span := s.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("task.id", run.Task.ID),
			attribute.String("run.mode", string(run.Task.Mode)),
		))
	defer span.End()
	defer func() {
		s.runCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(run.Status)),
		))
		span.SetAttributes(attribute.String("run.status", string(run.Status)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(run.Status))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	run.Status = pipeline.RunRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	s.save(ctx, run)
	s.fire(ctx, hooks.Event{
		Type:            hooks.HookRunStarted,
		RunID:           run.ID,
		TaskID:          run.Task.ID,
		TaskDescription: run.Task.Description,
		Mode:            string(run.Task.Mode),
	})
	s.logger.Info("pipeline run started",
		zap.String("run_id", run.ID),
		zap.String("task_id", run.Task.ID),
		zap.String("mode", string(run.Task.Mode)),
		zap.Int("phases", len(run.Phases)))

	st := newRunState()

	for i := 0; i < len(run.Phases); {
		phase := run.Phases[i]
		if phase.Status == pipeline.StatusCompleted || phase.Status == pipeline.StatusSkipped {
			i++
			continue
		}

		if runCtx.Err() != nil {
			return s.interrupted(ctx, runCtx, run, phase)
		}

		// Instant tasks are single-file and zero-risk by definition, so
		// they run without rollback protection.
		if phase.Name == pipeline.PhaseImplementation &&
			phase.Status == pipeline.StatusNotStarted &&
			run.Task.Mode != pipeline.ModeInstant {
			s.autoCheckpoint(runCtx, run, phase.Name)
		}

		att := s.attempt(runCtx, run, i, st)

		if att.interrupted != nil {
			return s.interrupted(ctx, runCtx, run, phase)
		}

		if att.passed {
			phase.Status = pipeline.StatusCompleted
			phase.CompletedAt = time.Now().UTC()
			s.attemptCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("phase", string(phase.Name)),
				attribute.String("result", "passed"),
			))
			s.save(ctx, run)
			s.fire(runCtx, hooks.Event{
				Type:         hooks.HookPhaseCompleted,
				RunID:        run.ID,
				TaskID:       run.Task.ID,
				Phase:        string(phase.Name),
				Status:       string(pipeline.StatusCompleted),
				Attempt:      att.attempt,
				Grade:        att.grade,
				ArtifactPath: phase.OutputRef,
			})
			s.logger.Info("phase completed",
				zap.String("run_id", run.ID),
				zap.String("phase", string(phase.Name)),
				zap.Int("attempt", att.attempt),
				zap.Intp("grade", att.grade),
				zap.Duration("elapsed", att.elapsed))
			i++
			continue
		}

		phase.Status = pipeline.StatusFailed
		if att.executed {
			phase.RetryCount++
			s.attemptCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("phase", string(phase.Name)),
				attribute.String("result", "failed"),
			))
			s.fire(runCtx, hooks.Event{
				Type:    hooks.HookPhaseCompleted,
				RunID:   run.ID,
				TaskID:  run.Task.ID,
				Phase:   string(phase.Name),
				Status:  string(pipeline.StatusFailed),
				Attempt: att.attempt,
				Grade:   att.grade,
				Reason:  att.failure,
			})
		}
		run.RecordError(att.failure)
		s.save(ctx, run)

		dec := s.decide(runCtx, run, phase, att, st)
		s.fire(runCtx, hooks.Event{
			Type:   hooks.HookDecisionMade,
			RunID:  run.ID,
			TaskID: run.Task.ID,
			Phase:  string(phase.Name),
			Action: string(dec.Action),
			Reason: dec.Reason,
		})

		switch dec.Action {
		case recovery.ActionRetry:
			st.feedback[phase.Name] = att.feedback
			s.logger.Info("retrying phase",
				zap.String("run_id", run.ID),
				zap.String("phase", string(phase.Name)),
				zap.Int("retry_count", phase.RetryCount),
				zap.String("reason", dec.Reason))
		case recovery.ActionRollback:
			next, ok := s.rollback(runCtx, run, phase, st)
			if !ok {
				return s.escalate(ctx, run, phase, "rollback failed: "+dec.Reason)
			}
			i = next
		case recovery.ActionEscalate:
			return s.escalate(ctx, run, phase, dec.Reason)
		default:
			// Proceed: move past the failed phase. The run can no
			// longer pass, but later phases may still produce output.
			i++
		}
	}

	run.Status = pipeline.RunPassed
	for _, p := range run.Phases {
		if p.Status == pipeline.StatusFailed {
			run.Status = pipeline.RunFailed
			break
		}
	}
	run.EndedAt = time.Now().UTC()
	if run.Status == pipeline.RunPassed {
		s.discardCheckpoints(ctx, run)
	}
	s.save(ctx, run)
	s.fire(ctx, hooks.Event{
		Type:   hooks.HookRunCompleted,
		RunID:  run.ID,
		TaskID: run.Task.ID,
		Status: string(run.Status),
	})
	if run.Status != pipeline.RunPassed {
		s.logger.Warn("pipeline run failed", zap.String("run_id", run.ID))
		return pipeline.NewError(pipeline.CodeGateFailure, "run %s finished with failed phases", run.ID)
	}
	s.logger.Info("pipeline run passed",
		zap.String("run_id", run.ID),
		zap.Duration("elapsed", run.EndedAt.Sub(run.StartedAt)))
	return nil
}

// attempt executes one pass at the current phase: run the executor,
// persist the artifact, obtain a review, and evaluate the gate. A
// phase whose retry budget is already spent is not executed again; the
// result goes straight to the recovery controller.
func (s *Sequencer) attempt(runCtx context.Context, run *pipeline.PipelineRun, idx int, st *runState) attemptResult {
	phase := run.Phases[idx]
	out := attemptResult{attempt: phase.RetryCount + 1}

	if phase.Status == pipeline.StatusFailed && phase.RetryCount >= s.retryFor(phase.Name) {
		out.trigger = recovery.TriggerGateFailure
		out.severity = s.exhaustedSeverity(phase)
		out.failure = fmt.Sprintf("phase %s retry budget (%d) exhausted", phase.Name, s.retryFor(phase.Name))
		return out
	}

	out.executed = true
	phase.Status = pipeline.StatusInProgress
	if phase.StartedAt.IsZero() {
		phase.StartedAt = time.Now().UTC()
	}
	s.save(runCtx, run)
	s.fire(runCtx, hooks.Event{
		Type:    hooks.HookPhaseStarted,
		RunID:   run.ID,
		TaskID:  run.Task.ID,
		Phase:   string(phase.Name),
		Attempt: out.attempt,
	})

	limits := s.timeoutsFor(phase.Name)
	phaseCtx, cancel := context.WithTimeout(runCtx, limits.Hard)
	defer cancel()

	if limits.Warning > 0 && limits.Warning < limits.Hard {
		warn := time.AfterFunc(limits.Warning, func() {
			s.logger.Warn("phase running past warning threshold",
				zap.String("run_id", run.ID),
				zap.String("phase", string(phase.Name)),
				zap.Duration("warning", limits.Warning),
				zap.Duration("hard", limits.Hard))
		})
		defer warn.Stop()
	}

	ctx, span := s.tracer.Start(phaseCtx, "orchestrator.phase",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("phase.name", string(phase.Name)),
			attribute.Int("phase.attempt", out.attempt),
		))
	defer span.End()

	started := time.Now()
	res, err := s.executor.Execute(ctx, executor.Request{
		RunID:           run.ID,
		TaskID:          run.Task.ID,
		TaskDescription: run.Task.Description,
		Phase:           phase.Name,
		Attempt:         out.attempt,
		PriorOutput:     st.priorOutput(run, idx),
		Feedback:        st.feedback[phase.Name],
	})
	out.elapsed = time.Since(started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		s.classifyFault(runCtx, phase, &out, limits, "execution", err)
		return out
	}

	artifact := s.scrubber.Scrub(res.Output).Scrubbed
	name := store.ArtifactFileName(phase.Name, run.Task.Description, time.Now())
	if _, werr := s.store.WriteArtifact(runCtx, run.ID, name, []byte(artifact)); werr != nil {
		s.logger.Warn("artifact write failed",
			zap.String("run_id", run.ID),
			zap.String("artifact", name),
			zap.Error(werr))
	} else {
		phase.OutputRef = name
	}

	// Self-graded output skips the reviewer; the gate still clamps.
	rawGrade := res.RawGrade
	var feedback string
	if rawGrade == nil {
		rres, rerr := s.reviewer.Review(ctx, executor.ReviewRequest{
			RunID:           run.ID,
			TaskDescription: run.Task.Description,
			Phase:           phase.Name,
			Artifact:        artifact,
		})
		out.elapsed = time.Since(started)
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, "review failed")
			s.classifyFault(runCtx, phase, &out, limits, "review", rerr)
			return out
		}

		reviewed := s.scrubber.Scrub(rres.Reviewed).Scrubbed
		if _, werr := s.store.WriteArtifact(runCtx, run.ID, store.ReviewedFileName(name), []byte(reviewed)); werr != nil {
			s.logger.Warn("reviewed artifact write failed",
				zap.String("run_id", run.ID),
				zap.String("artifact", name),
				zap.Error(werr))
		}
		rawGrade = &rres.Grade
		feedback = rres.Feedback
	}

	gres := s.gate.Evaluate(phase.Name, *rawGrade)
	g := gres.Grade
	phase.Grade = &g
	phase.GradeHistory = append(phase.GradeHistory, g)
	out.grade = &g

	if _, werr := s.store.WriteArtifact(runCtx, run.ID, store.GradeFileName(name), []byte(renderGradeReport(gres, feedback))); werr != nil {
		s.logger.Warn("grade artifact write failed",
			zap.String("run_id", run.ID),
			zap.String("artifact", name),
			zap.Error(werr))
	}

	span.SetAttributes(
		attribute.Int("gate.grade", g),
		attribute.Bool("gate.passed", gres.Passed),
	)
	s.fire(runCtx, hooks.Event{
		Type:         hooks.HookGateEvaluated,
		RunID:        run.ID,
		TaskID:       run.Task.ID,
		Phase:        string(phase.Name),
		Attempt:      out.attempt,
		Grade:        &g,
		Passed:       gres.Passed,
		Anomalous:    gres.Anomalous,
		ArtifactPath: name,
	})
	if gres.Anomalous {
		s.logger.Warn("anomalous grade clamped",
			zap.String("run_id", run.ID),
			zap.String("phase", string(phase.Name)),
			zap.Int("raw", gres.Raw),
			zap.Int("grade", g))
	}

	if gres.Passed {
		out.passed = true
		st.outputs[phase.Name] = artifact
		return out
	}

	out.trigger = recovery.TriggerGateFailure
	out.severity = s.recovery.SeverityForGrade(g, res.BuildBroken)
	out.feedback = feedback
	out.failure = fmt.Sprintf("phase %s attempt %d failed the quality gate with grade %d", phase.Name, out.attempt, g)
	if res.BuildBroken {
		out.failure += " (build broken)"
	}
	return out
}

// classifyFault buckets an executor or reviewer error. Interruption of
// the whole run is routed back to the caller; a phase deadline becomes
// a timeout trigger; anything else is an infrastructure fault, treated
// as severe.
func (s *Sequencer) classifyFault(runCtx context.Context, phase *pipeline.Phase, out *attemptResult, limits pipeline.Timeouts, stage string, err error) {
	if runCtx.Err() != nil {
		out.interrupted = err
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		out.trigger = recovery.TriggerTimeout
		out.severity = s.recovery.SeverityForTimeout(out.elapsed, limits.Hard)
		out.failure = fmt.Sprintf("phase %s attempt %d hit the %s hard limit during %s",
			phase.Name, out.attempt, limits.Hard, stage)
		return
	}
	out.trigger = recovery.TriggerExecutorFault
	out.severity = recovery.SeveritySevere
	out.failure = fmt.Sprintf("phase %s attempt %d %s fault: %v", phase.Name, out.attempt, stage, err)
}

// exhaustedSeverity reclassifies a phase whose budget is spent from
// its last recorded grade, so the rollback-or-escalate choice matches
// how the phase was actually failing.
func (s *Sequencer) exhaustedSeverity(phase *pipeline.Phase) recovery.Severity {
	if n := len(phase.GradeHistory); n > 0 {
		return s.recovery.SeverityForGrade(phase.GradeHistory[n-1], false)
	}
	return recovery.SeveritySevere
}

// decide consults the recovery controller for a failed attempt.
func (s *Sequencer) decide(ctx context.Context, run *pipeline.PipelineRun, phase *pipeline.Phase, att attemptResult, st *runState) recovery.Decision {
	available := false
	if active, err := s.checkpoints.Active(ctx, run.ID); err == nil && active != nil {
		available = true
	}

	dec := s.recovery.Decide(recovery.Request{
		Phase:               phase.Name,
		Trigger:             att.trigger,
		Severity:            att.severity,
		RetryCount:          phase.RetryCount,
		MaxRetries:          s.retryFor(phase.Name),
		RollbacksForPhase:   st.rollbacks[phase.Name],
		CheckpointAvailable: available,
	})
	s.logger.Info("recovery decision",
		zap.String("run_id", run.ID),
		zap.String("phase", string(phase.Name)),
		zap.String("action", string(dec.Action)),
		zap.String("severity", string(dec.Severity)),
		zap.String("reason", dec.Reason))
	return dec
}

// rollback restores the active checkpoint and resets the phase it
// points at: status back to not-started, retry count to zero, nothing
// else. Returns the loop index to resume from.
func (s *Sequencer) rollback(ctx context.Context, run *pipeline.PipelineRun, failed *pipeline.Phase, st *runState) (int, bool) {
	active, err := s.checkpoints.Active(ctx, run.ID)
	if err != nil || active == nil {
		s.logger.Warn("rollback without active checkpoint",
			zap.String("run_id", run.ID), zap.Error(err))
		return 0, false
	}
	res, err := s.checkpoints.Restore(ctx, run.ID, active.Name)
	if err != nil {
		s.logger.Warn("checkpoint restore failed",
			zap.String("run_id", run.ID),
			zap.String("checkpoint", active.Name),
			zap.Error(err))
		return 0, false
	}

	resume := pipeline.PhaseName(res.ResumePhase)
	idx := -1
	for i, p := range run.Phases {
		if p.Name == resume {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.logger.Warn("checkpoint resume phase not in run",
			zap.String("run_id", run.ID),
			zap.String("resume_phase", string(resume)))
		return 0, false
	}

	target := run.Phases[idx]
	target.Status = pipeline.StatusNotStarted
	target.RetryCount = 0
	target.CompletedAt = time.Time{}
	delete(st.feedback, target.Name)
	delete(st.outputs, target.Name)

	st.rollbacks[failed.Name]++
	s.rollbackCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", string(failed.Name)),
	))
	s.save(ctx, run)
	s.logger.Info("rolled back to checkpoint",
		zap.String("run_id", run.ID),
		zap.String("checkpoint", active.Name),
		zap.String("failed_phase", string(failed.Name)),
		zap.String("resume_phase", string(resume)),
		zap.Int("rollbacks_for_phase", st.rollbacks[failed.Name]))
	return idx, true
}

// autoCheckpoint snapshots the run before the implementation phase.
// Failures warn; the run proceeds without rollback protection.
func (s *Sequencer) autoCheckpoint(ctx context.Context, run *pipeline.PipelineRun, phase pipeline.PhaseName) {
	name := checkpoint.AutoName(sanitize.Identifier(run.Task.Description), time.Now())
	cp, err := s.checkpoints.Create(ctx, checkpoint.CreateRequest{
		RunID:       run.ID,
		PhaseName:   string(phase),
		Name:        name,
		AutoCreated: true,
	})
	if err != nil {
		if errors.Is(err, checkpoint.ErrDuplicateName) {
			s.logger.Debug("auto checkpoint name already active",
				zap.String("run_id", run.ID), zap.String("name", name))
			return
		}
		s.logger.Warn("auto checkpoint failed",
			zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	s.fire(ctx, hooks.Event{
		Type:       hooks.HookCheckpointCreated,
		RunID:      run.ID,
		TaskID:     run.Task.ID,
		Phase:      string(phase),
		Checkpoint: cp.Name,
	})
}

// interrupted handles a dead run context: a deadline means the
// pipeline-level hard limit fired, anything else is an abort.
func (s *Sequencer) interrupted(ctx context.Context, runCtx context.Context, run *pipeline.PipelineRun, phase *pipeline.Phase) error {
	cause := context.Cause(runCtx)
	if errors.Is(cause, context.DeadlineExceeded) {
		return s.timeoutEscalate(ctx, run, phase)
	}
	return s.abort(ctx, run, phase, cause)
}

// timeoutEscalate handles the pipeline-level hard limit: an emergency
// checkpoint is attempted, then the run escalates unconditionally. A
// failed checkpoint never blocks the escalation.
func (s *Sequencer) timeoutEscalate(ctx context.Context, run *pipeline.PipelineRun, phase *pipeline.Phase) error {
	name := checkpoint.EmergencyName(sanitize.Identifier(run.Task.Description), time.Now())
	cp, err := s.checkpoints.Create(ctx, checkpoint.CreateRequest{
		RunID:       run.ID,
		PhaseName:   string(phase.Name),
		Name:        name,
		AutoCreated: true,
	})
	if err != nil {
		s.logger.Warn("emergency checkpoint failed",
			zap.String("run_id", run.ID), zap.Error(err))
	} else {
		s.fire(ctx, hooks.Event{
			Type:       hooks.HookCheckpointCreated,
			RunID:      run.ID,
			TaskID:     run.Task.ID,
			Phase:      string(phase.Name),
			Checkpoint: cp.Name,
		})
	}

	reason := fmt.Sprintf("run exceeded the %s pipeline limit during phase %s", s.runTimeout, phase.Name)
	run.RecordError(reason)
	return s.escalate(ctx, run, phase, reason)
}

// haltRemaining finalizes phase statuses when the loop stops early: the
// phase it stopped on records failed, and phases after it that never
// started record skipped, so reports list untouched phases explicitly.
func haltRemaining(run *pipeline.PipelineRun, current *pipeline.Phase) {
	halted := false
	for _, p := range run.Phases {
		if p == current {
			halted = true
			if p.Status != pipeline.StatusCompleted {
				p.Status = pipeline.StatusFailed
			}
			continue
		}
		if halted && p.Status == pipeline.StatusNotStarted {
			p.Status = pipeline.StatusSkipped
		}
	}
}

// escalate moves the run to its escalated terminal state and halts the
// loop. The caller surfaces the returned error to the operator.
func (s *Sequencer) escalate(ctx context.Context, run *pipeline.PipelineRun, phase *pipeline.Phase, reason string) error {
	run.Status = pipeline.RunEscalated
	run.EndedAt = time.Now().UTC()
	haltRemaining(run, phase)
	s.save(ctx, run)

	s.escalationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", string(phase.Name)),
	))
	s.fire(ctx, hooks.Event{
		Type:   hooks.HookRunEscalated,
		RunID:  run.ID,
		TaskID: run.Task.ID,
		Phase:  string(phase.Name),
		Reason: reason,
	})
	s.fire(ctx, hooks.Event{
		Type:   hooks.HookRunCompleted,
		RunID:  run.ID,
		TaskID: run.Task.ID,
		Status: string(pipeline.RunEscalated),
		Phase:  string(phase.Name),
		Reason: reason,
	})
	s.logger.Error("pipeline run escalated",
		zap.String("run_id", run.ID),
		zap.String("phase", string(phase.Name)),
		zap.String("reason", reason))
	return pipeline.NewError(pipeline.CodeEscalation, "run %s escalated at phase %s: %s", run.ID, phase.Name, reason)
}

// abort moves the run to its aborted terminal state.
func (s *Sequencer) abort(ctx context.Context, run *pipeline.PipelineRun, phase *pipeline.Phase, cause error) error {
	run.Status = pipeline.RunAborted
	run.EndedAt = time.Now().UTC()
	run.RecordError(fmt.Sprintf("run aborted during phase %s", phase.Name))
	haltRemaining(run, phase)
	s.save(ctx, run)

	s.fire(ctx, hooks.Event{
		Type:   hooks.HookRunCompleted,
		RunID:  run.ID,
		TaskID: run.Task.ID,
		Status: string(pipeline.RunAborted),
		Phase:  string(phase.Name),
	})
	s.logger.Warn("pipeline run aborted",
		zap.String("run_id", run.ID),
		zap.String("phase", string(phase.Name)))

	perr := pipeline.NewError(pipeline.CodeAborted, "run %s aborted during phase %s", run.ID, phase.Name)
	if cause != nil {
		return perr.WithCause(cause)
	}
	return perr
}

// discardCheckpoints releases every live checkpoint of a passed run.
// Cleanup is advisory; failures only log.
func (s *Sequencer) discardCheckpoints(ctx context.Context, run *pipeline.PipelineRun) {
	cps, err := s.checkpoints.List(ctx, run.ID)
	if err != nil {
		s.logger.Warn("checkpoint cleanup list failed",
			zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	for _, cp := range cps {
		if cp.Discarded {
			continue
		}
		if err := s.checkpoints.Discard(ctx, run.ID, cp.Name); err != nil {
			s.logger.Warn("checkpoint cleanup discard failed",
				zap.String("run_id", run.ID),
				zap.String("name", cp.Name),
				zap.Error(err))
		}
	}
}

func (s *Sequencer) fire(ctx context.Context, event hooks.Event) {
	if err := s.hooks.Execute(ctx, event); err != nil {
		s.logger.Warn("hook execution failed",
			zap.String("hook", string(event.Type)),
			zap.String("run_id", event.RunID),
			zap.Error(err))
	}
}

func (s *Sequencer) save(ctx context.Context, run *pipeline.PipelineRun) {
	if err := s.store.SaveRun(ctx, run); err != nil {
		s.logger.Warn("run state save failed",
			zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *Sequencer) retryFor(name pipeline.PhaseName) int {
	if n, ok := s.retryLimits[name]; ok && n > 0 {
		return n
	}
	return 1
}

func (s *Sequencer) timeoutsFor(name pipeline.PhaseName) pipeline.Timeouts {
	if t, ok := s.timeouts[name]; ok && t.Hard > 0 {
		return t
	}
	return pipeline.Timeouts{Warning: 10 * time.Minute, Hard: 20 * time.Minute}
}

// renderGradeReport formats the gate outcome as the -grade.md
// artifact.
func renderGradeReport(res gate.Result, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Gate result: %s\n\n", res.PhaseName)
	fmt.Fprintf(&b, "- Grade: %d\n", res.Grade)
	if res.Anomalous {
		fmt.Fprintf(&b, "- Raw grade: %d (clamped)\n", res.Raw)
	}
	fmt.Fprintf(&b, "- Threshold: %d\n", res.Threshold)
	fmt.Fprintf(&b, "- Passed: %t\n", res.Passed)
	if feedback != "" {
		fmt.Fprintf(&b, "\n## Reviewer feedback\n\n%s\n", feedback)
	}
	return b.String()
}
