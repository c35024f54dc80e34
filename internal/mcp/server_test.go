package mcp

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/classifier"
	"github.com/fyrsmithlabs/taskforge/internal/escalation"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
	"github.com/fyrsmithlabs/taskforge/internal/secrets"
)

// fakeRunManager implements RunManager over an in-memory run map.
type fakeRunManager struct {
	mu     sync.Mutex
	runs   map[string]*pipeline.PipelineRun
	active []string
}

func newFakeRunManager() *fakeRunManager {
	return &fakeRunManager{runs: make(map[string]*pipeline.PipelineRun)}
}

func (f *fakeRunManager) Submit(_ context.Context, description string, ind classifier.Indicators) (*pipeline.PipelineRun, error) {
	if description == "" {
		return nil, pipeline.NewError(pipeline.CodeValidation, "task description is required")
	}
	res := classifier.Classify(ind)
	run := pipeline.NewRun(pipeline.NewTask(description, res.Score, res.Mode))
	f.mu.Lock()
	f.runs[run.ID] = run
	f.mu.Unlock()
	return run, nil
}

func (f *fakeRunManager) Abort(runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.active {
		if id == runID {
			return nil
		}
	}
	return pipeline.NewError(pipeline.CodeValidation, "run %s is not active", runID)
}

func (f *fakeRunManager) Get(_ context.Context, runID string) (*pipeline.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return run, nil
}

func (f *fakeRunManager) List(_ context.Context) ([]*pipeline.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*pipeline.PipelineRun, 0, len(f.runs))
	for _, run := range f.runs {
		out = append(out, run)
	}
	return out, nil
}

func (f *fakeRunManager) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.active...)
}

func (f *fakeRunManager) Close() error { return nil }

// fakeDesk implements EscalationDesk over a map of pending reports.
type fakeDesk struct {
	mu      sync.Mutex
	pending map[string]*escalation.Report
}

func newFakeDesk() *fakeDesk {
	return &fakeDesk{pending: make(map[string]*escalation.Report)}
}

func (f *fakeDesk) Pending() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.pending))
	for id := range f.pending {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeDesk) Get(runID string) (*escalation.Report, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rep, ok := f.pending[runID]
	return rep, ok
}

func (f *fakeDesk) Resolve(_ context.Context, res escalation.Resolution) error {
	if !res.Action.Valid() {
		return pipeline.NewError(pipeline.CodeValidation, "unknown escalation action %q", res.Action)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[res.RunID]; !ok {
		return pipeline.NewError(pipeline.CodeValidation, "no pending escalation for run %s", res.RunID)
	}
	delete(f.pending, res.RunID)
	return nil
}

func (f *fakeDesk) Close() error { return nil }

func TestNewServer(t *testing.T) {
	logger := zap.NewNop()

	runs := newFakeRunManager()
	desk := newFakeDesk()
	checkpointSvc, err := checkpoint.NewService(checkpoint.Config{})
	require.NoError(t, err)
	scrubber := secrets.MustNew(secrets.DefaultConfig())

	t.Run("successful creation", func(t *testing.T) {
		cfg := &Config{
			Name:    "test-server",
			Version: "1.0.0",
			Logger:  logger,
		}

		server, err := NewServer(cfg, runs, checkpointSvc, desk, scrubber)
		require.NoError(t, err)
		require.NotNil(t, server)
		require.NotNil(t, server.mcp)
		require.Equal(t, "test-server", cfg.Name)
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		server, err := NewServer(nil, runs, checkpointSvc, desk, scrubber)
		require.NoError(t, err)
		require.NotNil(t, server)
		require.NotNil(t, server.logger)
	})

	t.Run("missing run manager", func(t *testing.T) {
		cfg := DefaultConfig()
		_, err := NewServer(cfg, nil, checkpointSvc, desk, scrubber)
		require.Error(t, err)
		require.Contains(t, err.Error(), "run manager is required")
	})

	t.Run("missing checkpoint service", func(t *testing.T) {
		cfg := DefaultConfig()
		_, err := NewServer(cfg, runs, nil, desk, scrubber)
		require.Error(t, err)
		require.Contains(t, err.Error(), "checkpoint service is required")
	})

	t.Run("missing escalation desk", func(t *testing.T) {
		cfg := DefaultConfig()
		_, err := NewServer(cfg, runs, checkpointSvc, nil, scrubber)
		require.Error(t, err)
		require.Contains(t, err.Error(), "escalation desk is required")
	})

	t.Run("missing scrubber", func(t *testing.T) {
		cfg := DefaultConfig()
		_, err := NewServer(cfg, runs, checkpointSvc, desk, nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "scrubber is required")
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)
	require.Equal(t, "taskforge", cfg.Name)
	require.Equal(t, "dev", cfg.Version)
	require.NotNil(t, cfg.Logger)
}

func TestServerClose(t *testing.T) {
	runs := newFakeRunManager()
	desk := newFakeDesk()
	checkpointSvc, err := checkpoint.NewService(checkpoint.Config{})
	require.NoError(t, err)
	scrubber := secrets.MustNew(secrets.DefaultConfig())

	server, err := NewServer(nil, runs, checkpointSvc, desk, scrubber)
	require.NoError(t, err)

	// Close should succeed
	err = server.Close()
	require.NoError(t, err)

	// Second close should also succeed (idempotent)
	err = server.Close()
	require.NoError(t, err)
}
