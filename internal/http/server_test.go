package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/classifier"
	"github.com/fyrsmithlabs/taskforge/internal/escalation"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
	"github.com/fyrsmithlabs/taskforge/internal/store"
)

// fakeManager implements RunManager over an in-memory run map.
type fakeManager struct {
	mu        sync.Mutex
	runs      map[string]*pipeline.PipelineRun
	active    []string
	submitErr error
	listErr   error
}

func newFakeManager() *fakeManager {
	return &fakeManager{runs: make(map[string]*pipeline.PipelineRun)}
}

func (f *fakeManager) Submit(_ context.Context, description string, ind classifier.Indicators) (*pipeline.PipelineRun, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	res := classifier.Classify(ind)
	run := pipeline.NewRun(pipeline.NewTask(description, res.Score, res.Mode))
	f.mu.Lock()
	f.runs[run.ID] = run
	f.mu.Unlock()
	return run, nil
}

func (f *fakeManager) Abort(runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.active {
		if id == runID {
			return nil
		}
	}
	return pipeline.NewError(pipeline.CodeValidation, "run %s is not active", runID)
}

func (f *fakeManager) Get(_ context.Context, runID string) (*pipeline.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("load run %s: %w", runID, store.ErrRunNotFound)
	}
	return run, nil
}

func (f *fakeManager) List(_ context.Context) ([]*pipeline.PipelineRun, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*pipeline.PipelineRun, 0, len(f.runs))
	for _, run := range f.runs {
		out = append(out, run)
	}
	return out, nil
}

func (f *fakeManager) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.active...)
}

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

type testServer struct {
	*Server
	manager     *fakeManager
	desk        *fakeDesk
	checkpoints checkpoint.Service
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	manager := newFakeManager()
	desk := newFakeDesk()
	cps, err := checkpoint.NewService(checkpoint.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cps.Close() })

	server, err := NewServer(manager, cps, desk, zap.NewNop(), nil)
	require.NoError(t, err)

	return &testServer{Server: server, manager: manager, desk: desk, checkpoints: cps}
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	manager := newFakeManager()
	desk := newFakeDesk()
	cps, err := checkpoint.NewService(checkpoint.Config{})
	require.NoError(t, err)
	defer cps.Close()

	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{Host: "localhost", Port: 8400}
		server, err := NewServer(manager, cps, desk, zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(manager, cps, desk, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 8400, server.config.Port)
	})

	t.Run("returns error when manager is nil", func(t *testing.T) {
		_, err := NewServer(nil, cps, desk, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "run manager cannot be nil")
	})

	t.Run("returns error when checkpoint service is nil", func(t *testing.T) {
		_, err := NewServer(manager, nil, desk, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "checkpoint service cannot be nil")
	})

	t.Run("returns error when escalation desk is nil", func(t *testing.T) {
		_, err := NewServer(manager, cps, nil, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "escalation desk cannot be nil")
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(manager, cps, desk, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleStatus(t *testing.T) {
	ts := setupTestServer(t)
	ts.Server.config.Version = "1.2.3"
	ts.manager.active = []string{"r1", "r2"}
	ts.desk.pending["r2"] = &escalation.Report{RunID: "r2"}
	_, err := ts.manager.Submit(context.Background(), "add retry flag", classifier.Indicators{})
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/api/v1/status", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, 2, resp.Counts.ActiveRuns)
	assert.Equal(t, 1, resp.Counts.PendingEscalations)
	assert.Equal(t, 1, resp.Counts.TotalRuns)
}

func TestHandleSubmitRun(t *testing.T) {
	t.Run("classifies and starts a run", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(http.MethodPost, "/api/v1/runs", SubmitRunRequest{
			Description: "migrate user table to new schema",
			Scope:       "many_files",
			Knowledge:   "discovery",
			Risk:        "high",
		})

		assert.Equal(t, http.StatusAccepted, rec.Code)

		var run pipeline.PipelineRun
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, pipeline.ModeFull, run.Task.Mode)
		assert.Equal(t, 6, run.Task.Score)
		assert.Equal(t, pipeline.RunRunning, run.Status)
	})

	t.Run("exact instructions reach instant mode", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(http.MethodPost, "/api/v1/runs", SubmitRunRequest{
			Description:       "fix typo in README",
			Scope:             "single_file",
			Knowledge:         "exact",
			Risk:              "none",
			Dependency:        "established",
			ExactInstructions: true,
		})

		assert.Equal(t, http.StatusAccepted, rec.Code)

		var run pipeline.PipelineRun
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		assert.Equal(t, pipeline.ModeInstant, run.Task.Mode)
		assert.Equal(t, 0, run.Task.Score)
	})

	t.Run("rejects empty description", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(http.MethodPost, "/api/v1/runs", SubmitRunRequest{})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "description field is required")
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		ts := setupTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader([]byte("{not json")))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		ts.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps validation errors to 400", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.manager.submitErr = pipeline.NewError(pipeline.CodeValidation, "task description is required")

		rec := ts.do(http.MethodPost, "/api/v1/runs", SubmitRunRequest{Description: "   "})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleGetRun(t *testing.T) {
	ts := setupTestServer(t)
	run, err := ts.manager.Submit(context.Background(), "add rate limiter", classifier.Indicators{Scope: classifier.ScopeFewFiles})
	require.NoError(t, err)

	t.Run("returns the run", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/runs/"+run.ID, nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var got pipeline.PipelineRun
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, "add rate limiter", got.Task.Description)
	})

	t.Run("unknown run is 404", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/runs/nope", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "not found")
	})
}

func TestHandleListRuns(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var empty ListRunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.Equal(t, 0, empty.Count)
	assert.NotNil(t, empty.Runs)

	_, err := ts.manager.Submit(context.Background(), "first", classifier.Indicators{})
	require.NoError(t, err)
	_, err = ts.manager.Submit(context.Background(), "second", classifier.Indicators{})
	require.NoError(t, err)

	rec = ts.do(http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ListRunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	for _, summary := range resp.Runs {
		assert.Equal(t, string(pipeline.RunRunning), summary.Status)
		assert.Equal(t, string(pipeline.PhasePlanning), summary.CurrentPhase)
		assert.Equal(t, 0, summary.PhasesDone)
		assert.Equal(t, 5, summary.PhasesTotal)
	}
}

func TestHandleAbortRun(t *testing.T) {
	ts := setupTestServer(t)
	ts.manager.active = []string{"run-1"}

	t.Run("aborts an active run", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/runs/run-1/abort", nil)

		assert.Equal(t, http.StatusAccepted, rec.Code)

		var resp AbortResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "run-1", resp.RunID)
		assert.Equal(t, "aborting", resp.Status)
	})

	t.Run("inactive run is 409", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/runs/run-9/abort", nil)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "not active")
	})
}

func TestHandleListCheckpoints(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()

	_, err := ts.checkpoints.Create(ctx, checkpoint.CreateRequest{
		RunID:     "run-1",
		PhaseName: "implementation",
		Name:      "before-refactor",
	})
	require.NoError(t, err)
	_, err = ts.checkpoints.Create(ctx, checkpoint.CreateRequest{
		RunID:       "run-1",
		PhaseName:   "validation",
		Name:        "auto-1",
		AutoCreated: true,
	})
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/api/v1/runs/run-1/checkpoints", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp CheckpointsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "before-refactor", resp.Checkpoints[0].Name)
	assert.True(t, resp.Checkpoints[1].AutoCreated)

	t.Run("run without checkpoints is an empty list", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/runs/run-2/checkpoints", nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp CheckpointsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 0, resp.Count)
	})
}

func TestHandleCreateCheckpoint(t *testing.T) {
	t.Run("creates a checkpoint with an explicit phase", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(http.MethodPost, "/api/v1/runs/run-1/checkpoints", CreateCheckpointRequest{
			Name:  "before-refactor",
			Phase: "implementation",
		})

		assert.Equal(t, http.StatusCreated, rec.Code)

		var cp checkpoint.Checkpoint
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cp))
		assert.NotEmpty(t, cp.ID)
		assert.Equal(t, "run-1", cp.RunID)
		assert.Equal(t, "implementation", cp.PhaseName)
		assert.False(t, cp.AutoCreated)
	})

	t.Run("phase defaults to the run's current phase", func(t *testing.T) {
		ts := setupTestServer(t)
		run, err := ts.manager.Submit(context.Background(), "add rate limiter", classifier.Indicators{})
		require.NoError(t, err)

		rec := ts.do(http.MethodPost, "/api/v1/runs/"+run.ID+"/checkpoints", CreateCheckpointRequest{Name: "manual"})

		assert.Equal(t, http.StatusCreated, rec.Code)

		var cp checkpoint.Checkpoint
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cp))
		assert.Equal(t, string(pipeline.PhasePlanning), cp.PhaseName)
	})

	t.Run("missing name is 400", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(http.MethodPost, "/api/v1/runs/run-1/checkpoints", CreateCheckpointRequest{Phase: "planning"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "name field is required")
	})

	t.Run("duplicate name is 409", func(t *testing.T) {
		ts := setupTestServer(t)

		first := ts.do(http.MethodPost, "/api/v1/runs/run-1/checkpoints", CreateCheckpointRequest{Name: "cp", Phase: "planning"})
		require.Equal(t, http.StatusCreated, first.Code)

		rec := ts.do(http.MethodPost, "/api/v1/runs/run-1/checkpoints", CreateCheckpointRequest{Name: "cp", Phase: "planning"})

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown run without explicit phase is 404", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(http.MethodPost, "/api/v1/runs/nope/checkpoints", CreateCheckpointRequest{Name: "cp"})

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleRestoreCheckpoint(t *testing.T) {
	ts := setupTestServer(t)
	_, err := ts.checkpoints.Create(context.Background(), checkpoint.CreateRequest{
		RunID:     "run-1",
		PhaseName: "validation",
		Name:      "cp",
	})
	require.NoError(t, err)

	t.Run("resolves the resume phase", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/runs/run-1/checkpoints/cp/restore", nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp RestoreCheckpointResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "run-1", resp.RunID)
		assert.Equal(t, "validation", resp.ResumePhase)
		require.NotNil(t, resp.Checkpoint)
		assert.Equal(t, "cp", resp.Checkpoint.Name)
	})

	t.Run("unknown checkpoint is 404", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/runs/run-1/checkpoints/nope/restore", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleDiscardCheckpoint(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()
	_, err := ts.checkpoints.Create(ctx, checkpoint.CreateRequest{
		RunID:     "run-1",
		PhaseName: "implementation",
		Name:      "cp",
	})
	require.NoError(t, err)

	rec := ts.do(http.MethodDelete, "/api/v1/runs/run-1/checkpoints/cp", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp DiscardCheckpointResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "discarded", resp.Status)

	active, err := ts.checkpoints.Active(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	t.Run("unknown name is a no-op", func(t *testing.T) {
		rec := ts.do(http.MethodDelete, "/api/v1/runs/run-1/checkpoints/nope", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHandleEscalation(t *testing.T) {
	t.Run("returns the pending report", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.desk.pending["run-1"] = &escalation.Report{
			RunID:        "run-1",
			Task:         "migrate user table",
			FailingPhase: "validation",
		}

		rec := ts.do(http.MethodGet, "/api/v1/runs/run-1/escalation", nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var rep escalation.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
		assert.Equal(t, "validation", rep.FailingPhase)
	})

	t.Run("missing report is 404", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(http.MethodGet, "/api/v1/runs/run-1/escalation", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("resolves a pending escalation", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.desk.pending["run-1"] = &escalation.Report{RunID: "run-1"}

		rec := ts.do(http.MethodPost, "/api/v1/runs/run-1/escalation", ResolveEscalationRequest{
			Action:  "rollback",
			Comment: "retry from the planning checkpoint",
		})

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp ResolveEscalationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "resolved", resp.Status)
		assert.Empty(t, ts.desk.Pending())
	})

	t.Run("unknown action is 400", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.desk.pending["run-1"] = &escalation.Report{RunID: "run-1"}

		rec := ts.do(http.MethodPost, "/api/v1/runs/run-1/escalation", ResolveEscalationRequest{Action: "shrug"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown escalation action")
		assert.Len(t, ts.desk.Pending(), 1)
	})

	t.Run("no pending escalation is 404", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(http.MethodPost, "/api/v1/runs/run-1/escalation", ResolveEscalationRequest{Action: "keep"})

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("lists pending escalations", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.desk.pending["run-1"] = &escalation.Report{RunID: "run-1"}

		rec := ts.do(http.MethodGet, "/api/v1/escalations", nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp EscalationsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, []string{"run-1"}, resp.Pending)
	})
}

func TestHandleMetrics(t *testing.T) {
	ts := setupTestServer(t)
	ts.manager.active = []string{"r1", "r2", "r3"}
	ts.desk.pending["r3"] = &escalation.Report{RunID: "r3"}

	rec := ts.do(http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taskforge_active_runs 3")
	assert.Contains(t, rec.Body.String(), "taskforge_pending_escalations 1")
}
