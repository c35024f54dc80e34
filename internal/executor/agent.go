package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

const (
	// OutputText treats the agent's stdout as the artifact.
	OutputText = "text"

	// OutputJSON expects a single JSON envelope on stdout, the shape
	// agent CLIs emit with --output-format json.
	OutputJSON = "json"
)

// AgentConfig configures the agent CLI backend.
type AgentConfig struct {
	// Command is the agent binary, resolved through PATH if relative.
	Command string

	// Args are passed before the generated flags, for subcommands or
	// fixed options the binary needs.
	Args []string

	// Model is passed as --model when set.
	Model string

	// SystemPrompt is passed as --system-prompt when set.
	SystemPrompt string

	// WorkDir is the working directory the agent runs in. Empty means
	// the daemon's own directory.
	WorkDir string

	// OutputFormat is OutputText or OutputJSON. Defaults to OutputText.
	OutputFormat string

	Logger *zap.Logger
}

// Agent runs phases by shelling out to an agent CLI, one process per
// attempt. Each process gets its own group so runaway children die with
// it.
type Agent struct {
	cfg    AgentConfig
	logger *zap.Logger
	procs  *ProcessManager
}

// NewAgent creates the agent CLI backend.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("agent command is required")
	}
	switch cfg.OutputFormat {
	case "":
		cfg.OutputFormat = OutputText
	case OutputText, OutputJSON:
	default:
		return nil, fmt.Errorf("unknown output format %q", cfg.OutputFormat)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		cfg:    cfg,
		logger: logger,
		procs:  NewProcessManager(),
	}, nil
}

// Execute runs one phase attempt through the agent CLI.
func (a *Agent) Execute(ctx context.Context, req Request) (*Result, error) {
	a.logger.Info("executing phase via agent",
		zap.String("run_id", req.RunID),
		zap.String("phase", string(req.Phase)),
		zap.Int("attempt", req.Attempt))

	output, err := a.run(ctx, buildPhasePrompt(req))
	if err != nil {
		return nil, err
	}

	res := &Result{Output: output}
	if req.Phase == pipeline.PhaseValidation {
		res.BuildBroken = parseBuildStatus(output)
	}
	return res, nil
}

// Review grades a phase artifact through the agent CLI.
func (a *Agent) Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	review, err := a.run(ctx, buildReviewPrompt(req))
	if err != nil {
		return nil, err
	}
	grade, err := parseGrade(review)
	if err != nil {
		return nil, pipeline.NewError(pipeline.CodeExecutor, "agent review unusable").
			WithRetryable(true).WithCause(err)
	}
	return &ReviewResult{Reviewed: review, Grade: grade, Feedback: review}, nil
}

// Close kills any agent processes still running.
func (a *Agent) Close() error {
	a.procs.KillAll(a.logger)
	return nil
}

// run invokes the CLI once and returns the artifact text.
func (a *Agent) run(ctx context.Context, prompt string) (string, error) {
	cmd := newCommand(ctx, a.cfg.Command, a.buildArgs(prompt)...)
	if a.cfg.WorkDir != "" {
		cmd.Dir = a.cfg.WorkDir
	}

	stdout, stderr, err := runCommand(ctx, cmd, a.procs)
	if err != nil {
		if ctx.Err() != nil {
			// Deadline and abort handling belong to the sequencer.
			return "", ctx.Err()
		}
		return "", pipeline.NewError(pipeline.CodeExecutor, "agent failed: %s", tail(stderr, 512)).
			WithRetryable(true).WithCause(err)
	}

	if a.cfg.OutputFormat == OutputJSON {
		return parseAgentEnvelope(stdout)
	}
	return strings.TrimSpace(stdout), nil
}

// buildArgs assembles the CLI invocation for one prompt.
func (a *Agent) buildArgs(prompt string) []string {
	args := append([]string{}, a.cfg.Args...)
	if a.cfg.Model != "" {
		args = append(args, "--model", a.cfg.Model)
	}
	if a.cfg.SystemPrompt != "" {
		args = append(args, "--system-prompt", a.cfg.SystemPrompt)
	}
	if a.cfg.OutputFormat == OutputJSON {
		args = append(args, "--output-format", OutputJSON)
	}
	return append(args, "-p", prompt)
}

// agentEnvelope is the JSON result object agent CLIs print with
// --output-format json.
type agentEnvelope struct {
	Type    string `json:"type"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

func parseAgentEnvelope(stdout string) (string, error) {
	var env agentEnvelope
	if err := json.Unmarshal([]byte(stdout), &env); err != nil {
		return "", pipeline.NewError(pipeline.CodeExecutor, "agent output is not valid JSON").
			WithRetryable(true).WithCause(err)
	}
	if env.IsError {
		return "", pipeline.NewError(pipeline.CodeExecutor, "agent reported error: %s", tail(env.Result, 512)).
			WithRetryable(true)
	}
	return strings.TrimSpace(env.Result), nil
}

// tail returns the last n bytes of s, for error messages that should
// carry the end of a long agent transcript rather than its start.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

var _ Backend = (*Agent)(nil)
