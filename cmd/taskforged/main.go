// Taskforged is the pipeline orchestration daemon for agent-driven
// development tasks.
//
// The daemon classifies submitted tasks by complexity, sequences their
// phases through an execution backend, gates every artifact behind a
// graded review, and escalates runs that exhaust their retry budgets.
// Run state persists under ~/.config/taskforge so history and pending
// escalations survive restarts.
//
// Configuration is loaded from ~/.config/taskforge/config.yaml and
// TASKFORGE_-prefixed environment variables. See internal/config for
// details.
//
// Usage:
//
//	# Start the daemon with defaults
//	taskforged
//
//	# Custom config file
//	taskforged -config /etc/taskforge/config.yaml
//
//	# Configure via environment
//	TASKFORGE_SERVER_HTTP_PORT=9400 TASKFORGE_GATE_THRESHOLD=85 taskforged
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/nats-io/nats.go"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/config"
	"github.com/fyrsmithlabs/taskforge/internal/escalation"
	"github.com/fyrsmithlabs/taskforge/internal/events"
	"github.com/fyrsmithlabs/taskforge/internal/executor"
	"github.com/fyrsmithlabs/taskforge/internal/gate"
	"github.com/fyrsmithlabs/taskforge/internal/hooks"
	httpapi "github.com/fyrsmithlabs/taskforge/internal/http"
	"github.com/fyrsmithlabs/taskforge/internal/logging"
	"github.com/fyrsmithlabs/taskforge/internal/orchestrator"
	"github.com/fyrsmithlabs/taskforge/internal/recovery"
	"github.com/fyrsmithlabs/taskforge/internal/runmetrics"
	"github.com/fyrsmithlabs/taskforge/internal/secrets"
	"github.com/fyrsmithlabs/taskforge/internal/services"
	"github.com/fyrsmithlabs/taskforge/internal/store"
	"github.com/fyrsmithlabs/taskforge/internal/telemetry"
	"github.com/fyrsmithlabs/taskforge/internal/vcs"
	"github.com/fyrsmithlabs/taskforge/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/taskforge/config.yaml)")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  taskforged           Start the taskforged daemon\n")
			fmt.Fprintf(os.Stderr, "  taskforged version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("taskforged by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the taskforged daemon and blocks until context is
// cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Opens infrastructure (run store, git snapshots, NATS, executor backend)
//  4. Wires business services (checkpoints, escalation, orchestrator)
//  5. Starts the decision watcher and the HTTP API
//  6. Optionally starts the durable workflow worker
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting taskforged",
		zap.String("version", version),
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("executor", cfg.Executor.Kind),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	// Initialize infrastructure dependencies
	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	// Runs persisted by earlier daemon lifetimes stay readable through
	// the same store the manager writes to.
	prior, err := deps.store.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("load run history: %w", err)
	}

	logger.Info("Dependencies initialized",
		zap.Int("prior_runs", len(prior)),
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.Bool("vcs_snapshots", deps.git != nil))

	// Initialize business services
	reg, err := initServices(ctx, cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer closeServices(reg, logger)

	// Pick up decision files written while the daemon was down, then
	// keep watching for new ones.
	if err := reg.Escalation().Watch(ctx); err != nil {
		return fmt.Errorf("start decision watcher: %w", err)
	}

	logger.Info("Services initialized",
		zap.Int("pending_escalations", len(reg.Escalation().Pending())),
		zap.Int("max_concurrent_runs", cfg.Orchestrator.MaxConcurrentRuns))

	// Create HTTP server
	srv, err := httpapi.NewServer(reg.Manager(), reg.Checkpoint(), reg.Escalation(), logger, &httpapi.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	var (
		temporalClient client.Client
		temporalWorker worker.Worker
	)
	if cfg.Temporal.Enabled {
		temporalClient, temporalWorker, err = initWorker(cfg, deps, logger)
		if err != nil {
			return fmt.Errorf("start workflow worker: %w", err)
		}
		logger.Info("Workflow worker started",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", workflows.TaskQueue))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	// Graceful shutdown: stop accepting API calls first, then the
	// worker, then the deferred service and dependency closers run.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if temporalWorker != nil {
		temporalWorker.Stop()
	}
	if temporalClient != nil {
		temporalClient.Close()
	}
	return nil
}

// dependencies holds all infrastructure handles.
type dependencies struct {
	store    *store.Store
	scrubber secrets.Scrubber
	git      *vcs.Git
	natsConn *nats.Conn
	embedded *events.EmbeddedServer
	backend  executor.Backend
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.backend != nil {
		_ = d.backend.Close()
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.embedded != nil {
		d.embedded.Shutdown()
	}
}

// initDependencies opens infrastructure: the run store, the secret
// scrubber, optional git snapshots, optional NATS (embedded or dialed),
// and the configured executor backend.
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	st, err := store.NewStore(cfg.Storage.BaseDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	scrubber, err := secrets.New(&cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("create secret scrubber: %w", err)
	}

	deps := &dependencies{store: st, scrubber: scrubber}

	if cfg.VCS.Enabled {
		repoPath := cfg.VCS.RepoPath
		if repoPath == "" {
			repoPath = "."
		}
		git, err := vcs.NewGit(repoPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open git repository: %w", err)
		}
		deps.git = git
		logger.Info("Workspace snapshots enabled", zap.String("repo", repoPath))
	}

	if cfg.NATS.Enabled {
		natsURL := cfg.NATS.URL
		if cfg.NATS.Embedded {
			host, port, err := natsListenAddr(cfg.NATS.URL)
			if err != nil {
				return nil, fmt.Errorf("parse nats url %q: %w", cfg.NATS.URL, err)
			}
			embedded, err := events.StartEmbedded(host, port, logger)
			if err != nil {
				return nil, err
			}
			deps.embedded = embedded
			natsURL = embedded.ClientURL()
		}
		nc, err := events.Connect(natsURL, logger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("connect to NATS at %s: %w", natsURL, err)
		}
		deps.natsConn = nc
	}

	backend, err := initBackend(cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.backend = backend

	return deps, nil
}

// initBackend builds the executor backend selected by executor.kind.
func initBackend(cfg *config.Config, logger *zap.Logger) (executor.Backend, error) {
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
			return nil, fmt.Errorf("create llm client: %w", err)
		}
		return executor.NewLLM(llmClient, logger), nil
	default:
		return nil, fmt.Errorf("unknown executor kind %q", cfg.Executor.Kind)
	}
}

// initServices wires business services over the infrastructure and
// returns them as a registry.
func initServices(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) (services.Registry, error) {
	var stasher checkpoint.Stasher
	if deps.git != nil {
		stasher = deps.git
	}
	checkpoints, err := checkpoint.NewService(checkpoint.Config{
		Store:   deps.store,
		Stasher: stasher,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkpoint service: %w", err)
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
			return nil, fmt.Errorf("create issue filer: %w", err)
		}
		logger.Info("Escalation issue filing enabled",
			zap.String("repo", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo))
	}

	decisionsDir := cfg.Storage.DecisionsDir
	if decisionsDir == "" {
		decisionsDir = filepath.Join(deps.store.BaseDir(), "decisions")
	}
	escalations, err := escalation.NewService(escalation.Config{
		Dir:         decisionsDir,
		Checkpoints: checkpoints,
		Scrubber:    deps.scrubber,
		Filer:       filer,
		Conn:        deps.natsConn,
		OnResolve:   applyResolution(checkpoints, deps.git, logger),
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create escalation service: %w", err)
	}

	evaluator := gate.NewEvaluator(gate.Config{Threshold: cfg.Gate.Threshold})
	controller := recovery.NewController(recovery.Config{
		MinorFloor:    cfg.Recovery.MinorFloor,
		ModerateFloor: cfg.Recovery.ModerateFloor,
		MaxRollbacks:  cfg.Recovery.MaxRollbacks,
	})

	hm := hooks.NewHookManager()
	publisher := events.NewPublisher(deps.natsConn, logger)
	publisher.Register(hm)

	recorder, err := runmetrics.NewRecorder(deps.store, logger)
	if err != nil {
		return nil, fmt.Errorf("create metrics recorder: %w", err)
	}
	recorder.Register(hm)

	seq, err := orchestrator.NewSequencer(orchestrator.Config{
		Executor:    deps.backend,
		Reviewer:    deps.backend,
		Checkpoints: checkpoints,
		Store:       deps.store,
		Gate:        evaluator,
		Recovery:    controller,
		Scrubber:    deps.scrubber,
		Hooks:       hm,
		RetryLimits: cfg.RetryLimits(),
		Timeouts:    cfg.PhaseTimeouts(),
		RunTimeout:  cfg.Orchestrator.RunTimeout.Duration(),
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create sequencer: %w", err)
	}

	manager, err := orchestrator.NewManager(orchestrator.ManagerConfig{
		Sequencer:     seq,
		Store:         deps.store,
		Reporter:      escalations,
		MaxConcurrent: cfg.Orchestrator.MaxConcurrentRuns,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create run manager: %w", err)
	}

	return services.NewRegistry(services.Options{
		Manager:    manager,
		Checkpoint: checkpoints,
		Escalation: escalations,
		Store:      deps.store,
		Metrics:    recorder,
		Gate:       evaluator,
		VCS:        deps.git,
		Scrubber:   deps.scrubber,
		Events:     publisher,
	}), nil
}

// closeServices winds down business services in dependency order: the
// manager first so no run is mid-flight while its collaborators close.
func closeServices(reg services.Registry, logger *zap.Logger) {
	if err := reg.Manager().Close(); err != nil {
		logger.Warn("Manager close failed", zap.Error(err))
	}
	if err := reg.Escalation().Close(); err != nil {
		logger.Warn("Escalation close failed", zap.Error(err))
	}
	if err := reg.Checkpoint().Close(); err != nil {
		logger.Warn("Checkpoint close failed", zap.Error(err))
	}
}

// initWorker dials Temporal and starts a worker polling the pipeline
// task queue with the same backend the in-process orchestrator uses.
func initWorker(cfg *config.Config, deps *dependencies, logger *zap.Logger) (client.Client, worker.Worker, error) {
	c, err := client.Dial(client.Options{HostPort: cfg.Temporal.HostPort})
	if err != nil {
		return nil, nil, fmt.Errorf("dial temporal at %s: %w", cfg.Temporal.HostPort, err)
	}

	acts, err := workflows.NewActivities(deps.backend, logger)
	if err != nil {
		c.Close()
		return nil, nil, err
	}

	w := worker.New(c, workflows.TaskQueue, worker.Options{})
	workflows.Register(w, acts)

	if err := w.Start(); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("start worker: %w", err)
	}
	return c, w, nil
}

// initLogger builds the structured logger, bridging log records to the
// OTLP exporter when telemetry is enabled.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*zap.Logger, error) {
	lcfg := logging.NewDefaultConfig()
	lcfg.Level = cfg.Logging.Level
	lcfg.Encoding = cfg.Logging.Encoding
	lcfg.Output.OTEL = tel.IsEnabled()
	return logging.New(lcfg, tel.LoggerProvider())
}

// telemetryConfig maps daemon settings onto the telemetry package
// defaults.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.ServiceName = cfg.Telemetry.ServiceName
	tcfg.ServiceVersion = version
	tcfg.Endpoint = cfg.Telemetry.Endpoint
	tcfg.Insecure = cfg.Telemetry.Insecure
	tcfg.SampleRate = cfg.Telemetry.SampleRate
	return tcfg
}

// applyResolution turns a human decision into side effects. Rollback
// restores the run's active checkpoint and its workspace snapshot,
// keep releases them and leaves the failing output in place, escalate
// changes nothing because the task moves to a human owner.
func applyResolution(checkpoints checkpoint.Service, git *vcs.Git, logger *zap.Logger) escalation.ResolveFunc {
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
				name, err := latestSnapshot(git)
				if err != nil {
					return fmt.Errorf("list workspace snapshots: %w", err)
				}
				if name != "" {
					if err := git.Restore(ctx, name); err != nil {
						return fmt.Errorf("restore workspace snapshot %s: %w", name, err)
					}
				}
			}
			logger.Info("Rollback applied",
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
				name, err := latestSnapshot(git)
				if err != nil {
					return fmt.Errorf("list workspace snapshots: %w", err)
				}
				if name != "" {
					if err := git.Discard(ctx, name); err != nil {
						return fmt.Errorf("discard workspace snapshot %s: %w", name, err)
					}
				}
			}
			logger.Info("Failing output kept", zap.String("run_id", res.RunID))

		case escalation.ActionEscalate:
			logger.Info("Run handed to human owner", zap.String("run_id", res.RunID))
		}
		return nil
	}
}

// latestSnapshot returns the name of the most recent workspace
// snapshot, or "" when none exist.
func latestSnapshot(git *vcs.Git) (string, error) {
	snaps, err := git.Snapshots()
	if err != nil {
		return "", err
	}
	if len(snaps) == 0 {
		return "", nil
	}
	return snaps[len(snaps)-1].Name, nil
}

// natsListenAddr extracts the host and port an embedded broker should
// listen on from a nats:// URL.
func natsListenAddr(rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, err
	}
	host := u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port := 4222
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid port %q: %w", p, err)
		}
	}
	return host, port, nil
}
