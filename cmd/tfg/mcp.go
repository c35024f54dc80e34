package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/config"
	"github.com/fyrsmithlabs/taskforge/internal/escalation"
	"github.com/fyrsmithlabs/taskforge/internal/executor"
	"github.com/fyrsmithlabs/taskforge/internal/gate"
	"github.com/fyrsmithlabs/taskforge/internal/hooks"
	mcpserver "github.com/fyrsmithlabs/taskforge/internal/mcp"
	"github.com/fyrsmithlabs/taskforge/internal/orchestrator"
	"github.com/fyrsmithlabs/taskforge/internal/recovery"
	"github.com/fyrsmithlabs/taskforge/internal/runmetrics"
	"github.com/fyrsmithlabs/taskforge/internal/secrets"
	"github.com/fyrsmithlabs/taskforge/internal/store"
	"github.com/fyrsmithlabs/taskforge/internal/vcs"
)

var (
	mcpConfigPath string
	mcpVerbose    bool
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.AddCommand(mcpServeCmd)

	mcpServeCmd.Flags().StringVar(&mcpConfigPath, "config", "", "path to config file (default ~/.config/taskforge/config.yaml)")
	mcpServeCmd.Flags().BoolVar(&mcpVerbose, "verbose", false, "log progress to stderr")
}

// mcpCmd is the parent command for MCP operations
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose the pipeline as MCP tools",
	Long: `Expose pipeline operations as Model Context Protocol tools so agent
harnesses can submit runs, save checkpoints and resolve escalations.

Examples:
  # Serve MCP tools on stdio
  tfg mcp serve`,
}

// mcpServeCmd serves MCP tools on stdio
var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP tools on the stdio transport",
	Long: `Run an MCP server on stdin/stdout. Unlike the other tfg commands this
builds the pipeline in-process instead of calling the daemon, so an
agent harness gets a private orchestrator without taskforged running.

The transport owns stdout; with --verbose, logs go to stderr.

Examples:
  # Serve with defaults
  tfg mcp serve

  # Custom config file
  tfg mcp serve --config /etc/taskforge/config.yaml

  # Log progress to stderr
  tfg mcp serve --verbose`,
	RunE: runMCPServe,
}

// runMCPServe handles the mcp serve command
func runMCPServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, err := mcpLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.LoadWithFile(mcpConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.NewStore(cfg.Storage.BaseDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}

	scrubber, err := secrets.New(&cfg.Secrets)
	if err != nil {
		return fmt.Errorf("failed to create scrubber: %w", err)
	}

	var git *vcs.Git
	if cfg.VCS.Enabled {
		repoPath := cfg.VCS.RepoPath
		if repoPath == "" {
			repoPath = "."
		}
		git, err = vcs.NewGit(repoPath, logger)
		if err != nil {
			return fmt.Errorf("failed to open workspace repository: %w", err)
		}
	}

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	var stasher checkpoint.Stasher
	if git != nil {
		stasher = git
	}
	checkpoints, err := checkpoint.NewService(checkpoint.Config{
		Store:   st,
		Stasher: stasher,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create checkpoint service: %w", err)
	}

	var filer *escalation.IssueFiler
	if cfg.GitHub.Enabled {
		filer, err = escalation.NewIssueFiler(ctx, escalation.IssueConfig{
			Token:  cfg.GitHub.Token.Value(),
			Owner:  cfg.GitHub.Owner,
			Repo:   cfg.GitHub.Repo,
			Labels: cfg.GitHub.Labels,
		})
		if err != nil {
			return fmt.Errorf("failed to create issue filer: %w", err)
		}
	}

	decisionsDir := cfg.Storage.DecisionsDir
	if decisionsDir == "" {
		decisionsDir = filepath.Join(st.BaseDir(), "decisions")
	}
	escalations, err := escalation.NewService(escalation.Config{
		Dir:         decisionsDir,
		Checkpoints: checkpoints,
		Scrubber:    scrubber,
		Filer:       filer,
		OnResolve:   resolveLocally(checkpoints, git, logger),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create escalation service: %w", err)
	}

	hm := hooks.NewHookManager()
	recorder, err := runmetrics.NewRecorder(st, logger)
	if err != nil {
		return fmt.Errorf("failed to create metrics recorder: %w", err)
	}
	recorder.Register(hm)

	seq, err := orchestrator.NewSequencer(orchestrator.Config{
		Executor:    backend,
		Reviewer:    backend,
		Checkpoints: checkpoints,
		Store:       st,
		Gate:        gate.NewEvaluator(gate.Config{Threshold: cfg.Gate.Threshold}),
		Recovery: recovery.NewController(recovery.Config{
			MinorFloor:    cfg.Recovery.MinorFloor,
			ModerateFloor: cfg.Recovery.ModerateFloor,
			MaxRollbacks:  cfg.Recovery.MaxRollbacks,
		}),
		Scrubber:    scrubber,
		Hooks:       hm,
		RetryLimits: cfg.RetryLimits(),
		Timeouts:    cfg.PhaseTimeouts(),
		RunTimeout:  cfg.Orchestrator.RunTimeout.Duration(),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create sequencer: %w", err)
	}

	manager, err := orchestrator.NewManager(orchestrator.ManagerConfig{
		Sequencer:     seq,
		Store:         st,
		Reporter:      escalations,
		MaxConcurrent: cfg.Orchestrator.MaxConcurrentRuns,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create run manager: %w", err)
	}

	srv, err := mcpserver.NewServer(&mcpserver.Config{
		Name:    "taskforge",
		Version: version,
		Logger:  logger,
	}, manager, checkpoints, escalations, scrubber)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	runErr := srv.Run(ctx)
	if closeErr := srv.Close(); closeErr != nil {
		logger.Warn("MCP server close failed", zap.Error(closeErr))
	}
	return runErr
}

// mcpLogger builds the serve logger. The stdio transport owns stdout,
// so logs go to stderr or nowhere.
func mcpLogger() (*zap.Logger, error) {
	if !mcpVerbose {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// buildBackend builds the executor backend selected by executor.kind.
func buildBackend(cfg *config.Config, logger *zap.Logger) (executor.Backend, error) {
	switch cfg.Executor.Kind {
	case "scripted":
		return executor.NewScripted(), nil
	case "agent":
		return executor.NewAgent(executor.AgentConfig{
			Command:      cfg.Executor.Agent.Command,
			Args:         cfg.Executor.Agent.Args,
			Model:        cfg.Executor.Agent.Model,
			SystemPrompt: cfg.Executor.Agent.SystemPrompt,
			WorkDir:      cfg.Executor.Agent.WorkDir,
			OutputFormat: cfg.Executor.Agent.OutputFormat,
			Logger:       logger,
		})
	case "llm":
		llmClient, err := executor.NewClient(executor.ClientConfig{
			BaseURL:           cfg.Executor.LLM.BaseURL,
			APIKey:            cfg.Executor.LLM.APIKey.Value(),
			Model:             cfg.Executor.LLM.Model,
			Timeout:           cfg.Executor.LLM.Timeout.Duration(),
			RequestsPerMinute: cfg.Executor.LLM.RequestsPerMinute,
			Burst:             cfg.Executor.LLM.Burst,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create llm client: %w", err)
		}
		return executor.NewLLM(llmClient, logger), nil
	default:
		return nil, fmt.Errorf("unknown executor kind %q", cfg.Executor.Kind)
	}
}

// resolveLocally applies resolution side effects the same way the
// daemon does: rollback restores the run's active checkpoint and its
// workspace snapshot, keep releases them, escalate changes nothing.
func resolveLocally(checkpoints checkpoint.Service, git *vcs.Git, logger *zap.Logger) escalation.ResolveFunc {
	return func(ctx context.Context, res escalation.Resolution) error {
		switch res.Action {
		case escalation.ActionRollback:
			active, err := checkpoints.Active(ctx, res.RunID)
			if err != nil {
				return fmt.Errorf("look up active checkpoint: %w", err)
			}
			if active == nil {
				return fmt.Errorf("run %s has no checkpoint to roll back to", res.RunID)
			}
			restored, err := checkpoints.Restore(ctx, res.RunID, active.Name)
			if err != nil {
				return fmt.Errorf("restore checkpoint %q: %w", active.Name, err)
			}
			if git != nil {
				if err := restoreLatestSnapshot(ctx, git); err != nil {
					return err
				}
			}
			logger.Info("rollback applied",
				zap.String("run_id", res.RunID),
				zap.String("checkpoint", active.Name),
				zap.String("resume_phase", restored.ResumePhase))

		case escalation.ActionKeep:
			active, err := checkpoints.Active(ctx, res.RunID)
			if err != nil {
				return fmt.Errorf("look up active checkpoint: %w", err)
			}
			if active != nil {
				if err := checkpoints.Discard(ctx, res.RunID, active.Name); err != nil {
					return fmt.Errorf("discard checkpoint %q: %w", active.Name, err)
				}
			}
			if git != nil {
				if err := discardLatestSnapshot(ctx, git); err != nil {
					return err
				}
			}
			logger.Info("failing output kept", zap.String("run_id", res.RunID))

		case escalation.ActionEscalate:
			logger.Info("run handed to human owner", zap.String("run_id", res.RunID))
		}
		return nil
	}
}

// restoreLatestSnapshot restores the most recent workspace snapshot,
// if any exist.
func restoreLatestSnapshot(ctx context.Context, git *vcs.Git) error {
	snaps, err := git.Snapshots()
	if err != nil {
		return fmt.Errorf("list workspace snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return nil
	}
	name := snaps[len(snaps)-1].Name
	if err := git.Restore(ctx, name); err != nil {
		return fmt.Errorf("restore workspace snapshot %s: %w", name, err)
	}
	return nil
}

// discardLatestSnapshot drops the most recent workspace snapshot, if
// any exist.
func discardLatestSnapshot(ctx context.Context, git *vcs.Git) error {
	snaps, err := git.Snapshots()
	if err != nil {
		return fmt.Errorf("list workspace snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return nil
	}
	name := snaps[len(snaps)-1].Name
	if err := git.Discard(ctx, name); err != nil {
		return fmt.Errorf("discard workspace snapshot %s: %w", name, err)
	}
	return nil
}
