package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/classifier"
	"github.com/fyrsmithlabs/taskforge/internal/escalation"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
	"github.com/fyrsmithlabs/taskforge/internal/secrets"
)

// RunManager drives pipeline runs on behalf of the tool server.
// Implemented by orchestrator.Manager.
type RunManager interface {
	Submit(ctx context.Context, description string, ind classifier.Indicators) (*pipeline.PipelineRun, error)
	Abort(runID string) error
	Get(ctx context.Context, runID string) (*pipeline.PipelineRun, error)
	List(ctx context.Context) ([]*pipeline.PipelineRun, error)
	Active() []string
	Close() error
}

// EscalationDesk exposes pending escalations and accepts resolutions.
// Implemented by escalation.Service.
type EscalationDesk interface {
	Pending() []string
	Get(runID string) (*escalation.Report, bool)
	Resolve(ctx context.Context, res escalation.Resolution) error
	Close() error
}

// Server exposes the pipeline as MCP tools over stdio.
type Server struct {
	mcp         *mcp.Server
	runs        RunManager
	checkpoints checkpoint.Service
	escalations EscalationDesk
	scrubber    secrets.Scrubber
	metrics     *Metrics
	logger      *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "taskforge")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "taskforge",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server over the given services.
func NewServer(
	cfg *Config,
	runs RunManager,
	checkpoints checkpoint.Service,
	escalations EscalationDesk,
	scrubber secrets.Scrubber,
) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if runs == nil {
		return nil, fmt.Errorf("run manager is required")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpoint service is required")
	}
	if escalations == nil {
		return nil, fmt.Errorf("escalation desk is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:         mcpServer,
		runs:        runs,
		checkpoints: checkpoints,
		escalations: escalations,
		scrubber:    scrubber,
		metrics:     NewMetrics(cfg.Logger),
		logger:      cfg.Logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Close closes the server and all services.
func (s *Server) Close() error {
	s.logger.Info("closing MCP server and services")

	var errs []error

	if err := s.runs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("run manager close: %w", err))
	}
	if err := s.checkpoints.Close(); err != nil {
		errs = append(errs, fmt.Errorf("checkpoint service close: %w", err))
	}
	if err := s.escalations.Close(); err != nil {
		errs = append(errs, fmt.Errorf("escalation service close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
