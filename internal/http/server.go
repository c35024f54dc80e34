// Package http provides the HTTP API for taskforged.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/classifier"
	"github.com/fyrsmithlabs/taskforge/internal/escalation"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
	"github.com/fyrsmithlabs/taskforge/internal/store"
)

// RunManager drives pipeline runs on behalf of the API. Implemented by
// orchestrator.Manager.
type RunManager interface {
	Submit(ctx context.Context, description string, ind classifier.Indicators) (*pipeline.PipelineRun, error)
	Abort(runID string) error
	Get(ctx context.Context, runID string) (*pipeline.PipelineRun, error)
	List(ctx context.Context) ([]*pipeline.PipelineRun, error)
	Active() []string
}

// EscalationDesk exposes pending escalations and accepts resolutions.
// Implemented by escalation.Service.
type EscalationDesk interface {
	Pending() []string
	Get(runID string) (*escalation.Report, bool)
	Resolve(ctx context.Context, res escalation.Resolution) error
}

// Server provides HTTP endpoints for taskforged.
type Server struct {
	echo        *echo.Echo
	runs        RunManager
	checkpoints checkpoint.Service
	escalations EscalationDesk
	logger      *zap.Logger
	config      *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Version is reported by GET /api/v1/status.
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(runs RunManager, checkpoints checkpoint.Service, escalations EscalationDesk, logger *zap.Logger, cfg *Config) (*Server, error) {
	if runs == nil {
		return nil, fmt.Errorf("run manager cannot be nil")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpoint service cannot be nil")
	}
	if escalations == nil {
		return nil, fmt.Errorf("escalation desk cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8400,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:        e,
		runs:        runs,
		checkpoints: checkpoints,
		escalations: escalations,
		logger:      logger,
		config:      cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.handleHealth)

	// Prometheus scrape endpoint. The registry is per-server so tests
	// can build multiple servers without collector name collisions.
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.newRegistry(), promhttp.HandlerOpts{})))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/runs", s.handleListRuns)
	v1.POST("/runs", s.handleSubmitRun)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/runs/:id/abort", s.handleAbortRun)
	v1.GET("/runs/:id/checkpoints", s.handleListCheckpoints)
	v1.POST("/runs/:id/checkpoints", s.handleCreateCheckpoint)
	v1.POST("/runs/:id/checkpoints/:name/restore", s.handleRestoreCheckpoint)
	v1.DELETE("/runs/:id/checkpoints/:name", s.handleDiscardCheckpoint)
	v1.GET("/runs/:id/escalation", s.handleGetEscalation)
	v1.POST("/runs/:id/escalation", s.handleResolveEscalation)
	v1.GET("/escalations", s.handleListEscalations)
}

// newRegistry builds the prometheus registry served on /metrics:
// process/runtime collectors plus gauges sampled from the manager and
// the escalation desk at scrape time.
func (s *Server) newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "taskforge_active_runs",
			Help: "Number of pipeline runs currently executing or queued.",
		}, func() float64 {
			return float64(len(s.runs.Active()))
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "taskforge_pending_escalations",
			Help: "Number of escalation reports awaiting a human resolution.",
		}, func() float64 {
			return float64(len(s.escalations.Pending()))
		}),
	)
	return reg
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus returns daemon-level counters for dashboards.
func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{
		Status:  "ok",
		Version: s.config.Version,
		Counts: StatusCounts{
			ActiveRuns:         len(s.runs.Active()),
			PendingEscalations: len(s.escalations.Pending()),
		},
	}
	if runs, err := s.runs.List(c.Request().Context()); err == nil {
		resp.Counts.TotalRuns = len(runs)
	} else {
		resp.Counts.TotalRuns = -1
	}
	return c.JSON(http.StatusOK, resp)
}

// handleListRuns returns summaries of all persisted runs.
func (s *Server) handleListRuns(c echo.Context) error {
	runs, err := s.runs.List(c.Request().Context())
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, summarize(run))
	}

	return c.JSON(http.StatusOK, ListRunsResponse{
		Runs:  summaries,
		Count: len(summaries),
	})
}

// handleSubmitRun classifies the submitted task and starts a run.
func (s *Server) handleSubmitRun(c echo.Context) error {
	var req SubmitRunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid submit request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Description == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "description field is required")
	}

	run, err := s.runs.Submit(c.Request().Context(), req.Description, req.indicators())
	if err != nil {
		if pipeline.CodeOf(err) == pipeline.CodeValidation {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("submit failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
	}

	s.logger.Info("run submitted",
		zap.String("run_id", run.ID),
		zap.String("mode", string(run.Task.Mode)),
		zap.Int("score", run.Task.Score),
	)

	return c.JSON(http.StatusAccepted, run)
}

// handleGetRun returns the persisted state of one run.
func (s *Server) handleGetRun(c echo.Context) error {
	id := c.Param("id")
	run, err := s.runs.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		}
		s.logger.Error("get run failed", zap.String("run_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load run")
	}
	return c.JSON(http.StatusOK, run)
}

// handleAbortRun cancels an active run.
func (s *Server) handleAbortRun(c echo.Context) error {
	id := c.Param("id")
	if err := s.runs.Abort(id); err != nil {
		// Abort only rejects runs it is not driving.
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusAccepted, AbortResponse{RunID: id, Status: "aborting"})
}

// handleListCheckpoints returns all checkpoints for a run, discarded
// ones included.
func (s *Server) handleListCheckpoints(c echo.Context) error {
	id := c.Param("id")
	cps, err := s.checkpoints.List(c.Request().Context(), id)
	if err != nil {
		s.logger.Error("list checkpoints failed", zap.String("run_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list checkpoints")
	}
	return c.JSON(http.StatusOK, CheckpointsResponse{
		RunID:       id,
		Checkpoints: cps,
		Count:       len(cps),
	})
}

// handleCreateCheckpoint records a named checkpoint for a run. The
// checkpoint's phase defaults to the run's current phase.
func (s *Server) handleCreateCheckpoint(c echo.Context) error {
	id := c.Param("id")

	var req CreateCheckpointRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid checkpoint request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name field is required")
	}

	phase := req.Phase
	if phase == "" {
		run, err := s.runs.Get(c.Request().Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("run %s not found", id))
			}
			s.logger.Error("get run failed", zap.String("run_id", id), zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to load run")
		}
		phase = summarize(run).CurrentPhase
		if phase == "" && len(run.Phases) > 0 {
			phase = string(run.Phases[len(run.Phases)-1].Name)
		}
	}

	cp, err := s.checkpoints.Create(c.Request().Context(), checkpoint.CreateRequest{
		RunID:     id,
		Name:      req.Name,
		PhaseName: phase,
	})
	if err != nil {
		if errors.Is(err, checkpoint.ErrDuplicateName) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		s.logger.Error("create checkpoint failed", zap.String("run_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create checkpoint")
	}

	return c.JSON(http.StatusCreated, cp)
}

// handleRestoreCheckpoint resolves a named checkpoint into a resume
// target. The checkpoint itself is not mutated.
func (s *Server) handleRestoreCheckpoint(c echo.Context) error {
	id := c.Param("id")
	name := c.Param("name")

	res, err := s.checkpoints.Restore(c.Request().Context(), id, name)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		s.logger.Error("restore checkpoint failed",
			zap.String("run_id", id), zap.String("name", name), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to restore checkpoint")
	}

	return c.JSON(http.StatusOK, RestoreCheckpointResponse{
		RunID:       id,
		Checkpoint:  res.Checkpoint,
		ResumePhase: res.ResumePhase,
	})
}

// handleDiscardCheckpoint releases a checkpoint and its name.
// Discarding an unknown name is a no-op, matching the service.
func (s *Server) handleDiscardCheckpoint(c echo.Context) error {
	id := c.Param("id")
	name := c.Param("name")

	if err := s.checkpoints.Discard(c.Request().Context(), id, name); err != nil {
		s.logger.Error("discard checkpoint failed",
			zap.String("run_id", id), zap.String("name", name), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to discard checkpoint")
	}
	return c.JSON(http.StatusOK, DiscardCheckpointResponse{RunID: id, Name: name, Status: "discarded"})
}

// handleGetEscalation returns a run's escalation report.
func (s *Server) handleGetEscalation(c echo.Context) error {
	id := c.Param("id")
	rep, ok := s.escalations.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no escalation for run %s", id))
	}
	return c.JSON(http.StatusOK, rep)
}

// handleResolveEscalation applies a human decision to a pending
// escalation.
func (s *Server) handleResolveEscalation(c echo.Context) error {
	id := c.Param("id")

	var req ResolveEscalationRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid resolution request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	action := escalation.Action(req.Action)
	if !action.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown escalation action %q", req.Action))
	}

	err := s.escalations.Resolve(c.Request().Context(), escalation.Resolution{
		RunID:   id,
		Action:  action,
		Comment: req.Comment,
		Source:  "api",
	})
	if err != nil {
		// The action was validated above, so a validation error here
		// means no escalation is pending for the run.
		if pipeline.CodeOf(err) == pipeline.CodeValidation {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		s.logger.Error("resolve escalation failed", zap.String("run_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to apply resolution")
	}

	return c.JSON(http.StatusOK, ResolveEscalationResponse{
		RunID:  id,
		Action: req.Action,
		Status: "resolved",
	})
}

// handleListEscalations returns the IDs of runs awaiting a decision.
func (s *Server) handleListEscalations(c echo.Context) error {
	pending := s.escalations.Pending()
	return c.JSON(http.StatusOK, EscalationsResponse{
		Pending: pending,
		Count:   len(pending),
	})
}

// Echo exposes the router for additional route registration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
