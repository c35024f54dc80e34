package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/taskforge/internal/gate"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
	"github.com/fyrsmithlabs/taskforge/internal/secrets"
)

// Config is the root configuration for the taskforge daemon.
type Config struct {
	Server       ServerConfig
	Orchestrator OrchestratorConfig
	Gate         GateConfig
	Recovery     RecoveryConfig
	Phases       PhasesConfig
	Executor     ExecutorConfig
	Storage      StorageConfig
	VCS          VCSConfig
	NATS         NATSConfig
	GitHub       GitHubConfig
	Temporal     TemporalConfig
	Secrets      secrets.Config
	Telemetry    TelemetryConfig
	Logging      LoggingConfig
}

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// OrchestratorConfig bounds the run manager.
type OrchestratorConfig struct {
	MaxConcurrentRuns int      `koanf:"max_concurrent_runs"`
	RunTimeout        Duration `koanf:"run_timeout"`
}

// GateConfig tunes the quality gate.
type GateConfig struct {
	Threshold int `koanf:"threshold"`
}

// RecoveryConfig tunes failure severity bands and the rollback budget.
type RecoveryConfig struct {
	MinorFloor    int `koanf:"minor_floor"`
	ModerateFloor int `koanf:"moderate_floor"`
	MaxRollbacks  int `koanf:"max_rollbacks"`
}

// PhaseConfig overrides the built-in limits for one phase. Zero values
// keep the defaults.
type PhaseConfig struct {
	Warning    Duration `koanf:"warning"`
	Hard       Duration `koanf:"hard"`
	MaxRetries int      `koanf:"max_retries"`
}

// PhasesConfig maps phase names (research, planning, implementation,
// validation, post_mortem, documentation) to their overrides.
type PhasesConfig map[string]PhaseConfig

// ExecutorConfig selects and tunes the phase execution backend.
type ExecutorConfig struct {
	// Kind is one of "scripted", "agent" or "llm".
	Kind  string              `koanf:"kind"`
	Agent AgentExecutorConfig `koanf:"agent"`
	LLM   LLMExecutorConfig   `koanf:"llm"`
}

// AgentExecutorConfig configures the subprocess agent backend.
type AgentExecutorConfig struct {
	Command      string   `koanf:"command"`
	Args         []string `koanf:"args"`
	Model        string   `koanf:"model"`
	SystemPrompt string   `koanf:"system_prompt"`
	WorkDir      string   `koanf:"work_dir"`
	OutputFormat string   `koanf:"output_format"`
}

// LLMExecutorConfig configures the OpenAI-compatible API backend.
type LLMExecutorConfig struct {
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	Model             string   `koanf:"model"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerMinute float64  `koanf:"requests_per_minute"`
	Burst             int      `koanf:"burst"`
}

// StorageConfig locates run state on disk. Empty values resolve under
// ~/.config/taskforge at startup.
type StorageConfig struct {
	BaseDir      string `koanf:"base_dir"`
	DecisionsDir string `koanf:"decisions_dir"`
}

// VCSConfig controls git snapshot capture for checkpoints.
type VCSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	RepoPath string `koanf:"repo_path"`
}

// NATSConfig controls run event publishing. With Embedded set the
// daemon runs its own broker instead of dialing an external one.
type NATSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
}

// GitHubConfig controls escalation issue filing.
type GitHubConfig struct {
	Enabled bool     `koanf:"enabled"`
	Token   Secret   `koanf:"token"`
	Owner   string   `koanf:"owner"`
	Repo    string   `koanf:"repo"`
	Labels  []string `koanf:"labels"`
}

// TemporalConfig controls the optional durable-workflow worker. When
// enabled the daemon connects to a Temporal server and polls the
// pipeline task queue alongside the in-process orchestrator.
type TemporalConfig struct {
	Enabled  bool   `koanf:"enabled"`
	HostPort string `koanf:"host_port"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Endpoint    string  `koanf:"otlp_endpoint"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Encoding string `koanf:"encoding"`
}

// applyDefaults sets default values for fields the file and environment
// left unset.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8400
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Orchestrator.MaxConcurrentRuns == 0 {
		cfg.Orchestrator.MaxConcurrentRuns = 4
	}
	if cfg.Orchestrator.RunTimeout == 0 {
		cfg.Orchestrator.RunTimeout = Duration(pipeline.DefaultRunTimeout)
	}

	if cfg.Gate.Threshold == 0 {
		cfg.Gate.Threshold = gate.DefaultThreshold
	}

	if cfg.Recovery.MinorFloor == 0 {
		cfg.Recovery.MinorFloor = 70
	}
	if cfg.Recovery.ModerateFloor == 0 {
		cfg.Recovery.ModerateFloor = 60
	}
	if cfg.Recovery.MaxRollbacks == 0 {
		cfg.Recovery.MaxRollbacks = 2
	}

	if cfg.Executor.Kind == "" {
		cfg.Executor.Kind = "scripted"
	}
	if cfg.Executor.LLM.Timeout == 0 {
		cfg.Executor.LLM.Timeout = Duration(2 * time.Minute)
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "127.0.0.1:7233"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "taskforged"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Encoding == "" {
		cfg.Logging.Encoding = "json"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown timeout must be positive: %v", c.Server.ShutdownTimeout.Duration())
	}

	if c.Orchestrator.MaxConcurrentRuns < 1 {
		return fmt.Errorf("max_concurrent_runs must be at least 1, got %d", c.Orchestrator.MaxConcurrentRuns)
	}
	if c.Orchestrator.RunTimeout.Duration() <= 0 {
		return fmt.Errorf("run timeout must be positive: %v", c.Orchestrator.RunTimeout.Duration())
	}

	if c.Gate.Threshold < 1 || c.Gate.Threshold > 100 {
		return fmt.Errorf("gate threshold must be 1-100, got %d", c.Gate.Threshold)
	}

	if c.Recovery.ModerateFloor < 1 || c.Recovery.MinorFloor > 100 {
		return fmt.Errorf("recovery floors must stay within 1-100 (minor %d, moderate %d)",
			c.Recovery.MinorFloor, c.Recovery.ModerateFloor)
	}
	if c.Recovery.ModerateFloor >= c.Recovery.MinorFloor {
		return fmt.Errorf("moderate_floor (%d) must be below minor_floor (%d)",
			c.Recovery.ModerateFloor, c.Recovery.MinorFloor)
	}
	if c.Recovery.MaxRollbacks < 1 {
		return fmt.Errorf("max_rollbacks must be at least 1, got %d", c.Recovery.MaxRollbacks)
	}

	for name, pc := range c.Phases {
		if !knownPhase(name) {
			return fmt.Errorf("unknown phase %q in phases section", name)
		}
		if pc.Warning.Duration() > 0 && pc.Hard.Duration() > 0 &&
			pc.Warning.Duration() >= pc.Hard.Duration() {
			return fmt.Errorf("phase %s: warning threshold %v must be below hard limit %v",
				name, pc.Warning.Duration(), pc.Hard.Duration())
		}
		if pc.MaxRetries < 0 {
			return fmt.Errorf("phase %s: max_retries cannot be negative", name)
		}
	}

	switch c.Executor.Kind {
	case "scripted":
	case "agent":
		if c.Executor.Agent.Command == "" {
			return fmt.Errorf("agent executor requires a command")
		}
	case "llm":
		if c.Executor.LLM.BaseURL == "" {
			return fmt.Errorf("llm executor requires base_url")
		}
		if c.Executor.LLM.Model == "" {
			return fmt.Errorf("llm executor requires a model")
		}
	default:
		return fmt.Errorf("unknown executor kind %q (want scripted, agent or llm)", c.Executor.Kind)
	}

	if c.GitHub.Enabled {
		if !c.GitHub.Token.IsSet() {
			return fmt.Errorf("github.token is required when github is enabled")
		}
		if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
			return fmt.Errorf("github.owner and github.repo are required when github is enabled")
		}
	}

	if c.Temporal.Enabled && c.Temporal.HostPort == "" {
		return fmt.Errorf("temporal.host_port is required when temporal is enabled")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return fmt.Errorf("telemetry.service_name is required when telemetry is enabled")
		}
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is enabled")
		}
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log encoding %q (want json or console)", c.Logging.Encoding)
	}

	return nil
}

// PhaseTimeouts returns the per-phase limits with configured overrides
// applied on top of the defaults.
func (c *Config) PhaseTimeouts() map[pipeline.PhaseName]pipeline.Timeouts {
	limits := pipeline.DefaultTimeouts()
	for name, pc := range c.Phases {
		phase := pipeline.PhaseName(name)
		t := limits[phase]
		if pc.Warning.Duration() > 0 {
			t.Warning = pc.Warning.Duration()
		}
		if pc.Hard.Duration() > 0 {
			t.Hard = pc.Hard.Duration()
		}
		limits[phase] = t
	}
	return limits
}

// RetryLimits returns the per-phase retry budgets with configured
// overrides applied on top of the defaults.
func (c *Config) RetryLimits() map[pipeline.PhaseName]int {
	limits := pipeline.DefaultRetryLimits()
	for name, pc := range c.Phases {
		if pc.MaxRetries > 0 {
			limits[pipeline.PhaseName(name)] = pc.MaxRetries
		}
	}
	return limits
}

func knownPhase(name string) bool {
	for _, p := range pipeline.PhasesForMode(pipeline.ModeFull) {
		if pipeline.PhaseName(name) == p {
			return true
		}
	}
	return false
}
