package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/classifier"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// defaultMaxConcurrent bounds simultaneously executing runs. Runs own
// disjoint state, so they parallelize safely; the cap exists to keep
// executor backends from being hammered.
const defaultMaxConcurrent = 4

// EscalationReporter produces the structured report for a run that
// ended escalated.
type EscalationReporter interface {
	Report(ctx context.Context, run *pipeline.PipelineRun) error
}

// ManagerConfig holds manager configuration.
type ManagerConfig struct {
	// Sequencer drives accepted runs. Required.
	Sequencer *Sequencer

	// Store persists runs. Required.
	Store RunStore

	// Reporter builds escalation reports (optional).
	Reporter EscalationReporter

	// MaxConcurrent caps simultaneously executing runs (optional).
	MaxConcurrent int

	// Logger for structured logging (optional, defaults to no-op).
	Logger *zap.Logger
}

// Manager accepts tasks, drives their runs in the background, and
// routes aborts. Observers read persisted snapshots through Get and
// List rather than touching live run state.
type Manager struct {
	seq      *Sequencer
	store    RunStore
	reporter EscalationReporter
	logger   *zap.Logger
	sem      chan struct{}

	mu     sync.RWMutex
	runs   map[string]*managedRun
	closed bool
	wg     sync.WaitGroup
}

type managedRun struct {
	run    *pipeline.PipelineRun
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Sequencer == nil {
		return nil, fmt.Errorf("sequencer is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("run store is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Manager{
		seq:      cfg.Sequencer,
		store:    cfg.Store,
		reporter: cfg.Reporter,
		logger:   cfg.Logger,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		runs:     make(map[string]*managedRun),
	}, nil
}

// Submit classifies the task, creates its run, and starts driving it
// in the background. The returned run is a snapshot taken before
// execution begins; poll Get for progress.
func (m *Manager) Submit(ctx context.Context, description string, ind classifier.Indicators) (*pipeline.PipelineRun, error) {
	if strings.TrimSpace(description) == "" {
		return nil, pipeline.NewError(pipeline.CodeValidation, "task description is required")
	}
	res := classifier.Classify(ind)
	task := pipeline.NewTask(description, res.Score, res.Mode)
	return m.start(ctx, task)
}

// StartTask runs a pre-classified task.
func (m *Manager) StartTask(ctx context.Context, task pipeline.Task) (*pipeline.PipelineRun, error) {
	if strings.TrimSpace(task.Description) == "" {
		return nil, pipeline.NewError(pipeline.CodeValidation, "task description is required")
	}
	if !task.Mode.Valid() {
		return nil, pipeline.NewError(pipeline.CodeValidation, "unknown pipeline mode %q", task.Mode)
	}
	if task.ID == "" {
		task = pipeline.NewTask(task.Description, task.Score, task.Mode)
	}
	return m.start(ctx, task)
}

func (m *Manager) start(ctx context.Context, task pipeline.Task) (*pipeline.PipelineRun, error) {
	run := pipeline.NewRun(task)
	if err := m.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("orchestrator manager is closed")
	}
	runCtx, cancel := context.WithCancelCause(context.Background())
	mr := &managedRun{run: run, cancel: cancel, done: make(chan struct{})}
	m.runs[run.ID] = mr
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("run accepted",
		zap.String("run_id", run.ID),
		zap.String("task_id", task.ID),
		zap.String("mode", string(task.Mode)),
		zap.Int("score", task.Score))

	snapshot := run.Clone()
	go m.drive(runCtx, mr)
	return snapshot, nil
}

// drive executes one run under the concurrency cap and tears down its
// registry entry when it finishes.
func (m *Manager) drive(ctx context.Context, mr *managedRun) {
	defer m.wg.Done()
	defer close(mr.done)
	defer func() {
		m.mu.Lock()
		delete(m.runs, mr.run.ID)
		m.mu.Unlock()
	}()

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		// Aborted while queued; the run never reached the sequencer.
		mr.run.Status = pipeline.RunAborted
		mr.run.EndedAt = time.Now().UTC()
		mr.run.RecordError("run aborted before execution started")
		if err := m.store.SaveRun(context.Background(), mr.run); err != nil {
			m.logger.Warn("queued run save failed",
				zap.String("run_id", mr.run.ID), zap.Error(err))
		}
		m.logger.Warn("run aborted while queued", zap.String("run_id", mr.run.ID))
		return
	}
	defer func() { <-m.sem }()

	if err := m.seq.Run(ctx, mr.run); err != nil {
		m.logger.Warn("run finished with failure",
			zap.String("run_id", mr.run.ID),
			zap.String("status", string(mr.run.Status)),
			zap.Error(err))
	}

	if mr.run.Status == pipeline.RunEscalated && m.reporter != nil {
		if err := m.reporter.Report(context.Background(), mr.run.Clone()); err != nil {
			m.logger.Warn("escalation report failed",
				zap.String("run_id", mr.run.ID), zap.Error(err))
		}
	}
}

// Abort cancels a live run. The run transitions to aborted once the
// sequencer observes the cancellation; runs that already finished are
// not live and report a validation error.
func (m *Manager) Abort(runID string) error {
	m.mu.RLock()
	mr, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return pipeline.NewError(pipeline.CodeValidation, "run %s is not active", runID)
	}
	mr.cancel(pipeline.ErrAborted)
	m.logger.Info("abort requested", zap.String("run_id", runID))
	return nil
}

// Get returns the persisted state of a run.
func (m *Manager) Get(ctx context.Context, runID string) (*pipeline.PipelineRun, error) {
	return m.store.LoadRun(ctx, runID)
}

// List returns all persisted runs.
func (m *Manager) List(ctx context.Context) ([]*pipeline.PipelineRun, error) {
	return m.store.ListRuns(ctx)
}

// Active returns the IDs of runs currently executing or queued.
func (m *Manager) Active() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until the run finishes or ctx expires. Unknown runs are
// treated as already finished.
func (m *Manager) Wait(ctx context.Context, runID string) error {
	m.mu.RLock()
	mr, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case <-mr.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close aborts all live runs, waits for them to wind down, and rejects
// further submissions.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, mr := range m.runs {
		mr.cancel(pipeline.ErrAborted)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Debug("orchestrator manager closed")
	return nil
}
