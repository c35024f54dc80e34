package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/events"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
	"github.com/fyrsmithlabs/taskforge/internal/secrets"
)

const instrumentationName = "github.com/fyrsmithlabs/taskforge/internal/escalation"

const (
	reportPrefix   = "escalation_"
	decisionPrefix = "decision_"
)

// ReportFileName returns the report file name for a run.
func ReportFileName(runID string) string {
	return reportPrefix + runID + ".json"
}

// DecisionFileName returns the decision file name a human writes to
// resolve a run's escalation.
func DecisionFileName(runID string) string {
	return decisionPrefix + runID + ".json"
}

// ResolveFunc receives validated resolutions. The daemon wires it to
// act on the answer (rerun after rollback, close the run, reassign).
type ResolveFunc func(ctx context.Context, res Resolution) error

// Config holds escalation service configuration.
type Config struct {
	// Dir is the decisions directory where reports land and decision
	// files are watched. Required.
	Dir string

	// Checkpoints names the rollback target in reports (optional).
	Checkpoints checkpoint.Service

	// Scrubber redacts reports before they are persisted or leave the
	// host (optional, defaults to no-op).
	Scrubber secrets.Scrubber

	// Filer files GitHub issues for new reports (optional).
	Filer *IssueFiler

	// Conn publishes reports on NATS (optional).
	Conn *nats.Conn

	// OnResolve receives validated resolutions (optional).
	OnResolve ResolveFunc

	// Logger for structured logging (optional, defaults to no-op).
	Logger *zap.Logger
}

// Service builds, persists, and resolves escalation reports.
type Service struct {
	dir         string
	checkpoints checkpoint.Service
	scrubber    secrets.Scrubber
	filer       *IssueFiler
	conn        *nats.Conn
	onResolve   ResolveFunc
	logger      *zap.Logger
	tracer      trace.Tracer
	meter       metric.Meter

	mu      sync.Mutex
	pending map[string]*Report
	stop    chan struct{}
	stopped bool

	reportCounter     metric.Int64Counter
	resolutionCounter metric.Int64Counter
}

// NewService creates the service and reloads unresolved reports from
// the decisions directory, so pending escalations survive restarts.
func NewService(cfg Config) (*Service, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("decisions directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create decisions directory: %w", err)
	}
	if cfg.Scrubber == nil {
		cfg.Scrubber = &secrets.NoopScrubber{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Service{
		dir:         cfg.Dir,
		checkpoints: cfg.Checkpoints,
		scrubber:    cfg.Scrubber,
		filer:       cfg.Filer,
		conn:        cfg.Conn,
		onResolve:   cfg.OnResolve,
		logger:      cfg.Logger,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
		pending:     make(map[string]*Report),
		stop:        make(chan struct{}),
	}
	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	if err := s.loadPending(); err != nil {
		return nil, fmt.Errorf("load pending escalations: %w", err)
	}
	return s, nil
}

func (s *Service) initMetrics() error {
	var err error

	s.reportCounter, err = s.meter.Int64Counter(
		"taskforge.escalation.reports_total",
		metric.WithDescription("Total number of escalation reports produced"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return fmt.Errorf("create reports counter: %w", err)
	}

	s.resolutionCounter, err = s.meter.Int64Counter(
		"taskforge.escalation.resolutions_total",
		metric.WithDescription("Total number of escalations resolved by action"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return fmt.Errorf("create resolutions counter: %w", err)
	}

	return nil
}

// loadPending scans the decisions directory for reports without a
// recorded resolution.
func (s *Service) loadPending() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, reportPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("unreadable escalation report", zap.String("file", name), zap.Error(err))
			continue
		}
		var rep Report
		if err := json.Unmarshal(data, &rep); err != nil {
			s.logger.Warn("corrupt escalation report", zap.String("file", name), zap.Error(err))
			continue
		}
		if rep.Resolution == nil && rep.RunID != "" {
			s.pending[rep.RunID] = &rep
		}
	}
	return nil
}

// Report builds and persists the escalation report for a run. It is
// the manager's EscalationReporter. Filing the GitHub issue and the
// NATS publish are best effort; only a persistence failure errors.
func (s *Service) Report(ctx context.Context, run *pipeline.PipelineRun) error {
	if run == nil {
		return pipeline.NewError(pipeline.CodeValidation, "escalation report needs a run")
	}

	ctx, span := s.tracer.Start(ctx, "escalation.report",
		trace.WithAttributes(attribute.String("run.id", run.ID)))
	defer span.End()

	active := ""
	if s.checkpoints != nil {
		if cp, err := s.checkpoints.Active(ctx, run.ID); err == nil && cp != nil {
			active = cp.Name
		}
	}
	rep := BuildReport(run, active)

	if s.filer != nil {
		title := issueTitle(rep)
		body := s.scrubber.Scrub(renderIssueBody(rep)).Scrubbed
		url, err := s.filer.File(ctx, title, body)
		if err != nil {
			s.logger.Warn("escalation issue filing failed",
				zap.String("run_id", run.ID), zap.Error(err))
		} else {
			rep.IssueURL = url
			s.logger.Info("escalation issue filed",
				zap.String("run_id", run.ID), zap.String("issue", url))
		}
	}

	if err := s.persist(rep); err != nil {
		return fmt.Errorf("persist escalation report: %w", err)
	}

	s.mu.Lock()
	s.pending[run.ID] = rep
	s.mu.Unlock()
	s.reportCounter.Add(ctx, 1)

	if s.conn != nil {
		subject := fmt.Sprintf("%s.%s.escalation", events.SubjectRoot, run.ID)
		if data, err := json.Marshal(rep); err == nil {
			payload := []byte(s.scrubber.Scrub(string(data)).Scrubbed)
			if err := s.conn.Publish(subject, payload); err != nil {
				s.logger.Warn("escalation publish failed",
					zap.String("run_id", run.ID), zap.Error(err))
			}
		}
	}

	s.logger.Info("escalation report written",
		zap.String("run_id", run.ID),
		zap.String("failing_phase", rep.FailingPhase),
		zap.String("file", ReportFileName(run.ID)))
	return nil
}

// persist scrubs and atomically writes the report file.
func (s *Service) persist(rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	scrubbed := []byte(s.scrubber.Scrub(string(data)).Scrubbed)
	return atomicWrite(filepath.Join(s.dir, ReportFileName(rep.RunID)), scrubbed)
}

// Resolve records a human answer for a pending escalation and hands it
// to the configured callback.
func (s *Service) Resolve(ctx context.Context, res Resolution) error {
	ctx, span := s.tracer.Start(ctx, "escalation.resolve",
		trace.WithAttributes(
			attribute.String("run.id", res.RunID),
			attribute.String("action", string(res.Action)),
		))
	defer span.End()

	if !res.Action.Valid() {
		return pipeline.NewError(pipeline.CodeValidation, "unknown escalation action %q", res.Action)
	}

	s.mu.Lock()
	rep, ok := s.pending[res.RunID]
	if !ok {
		s.mu.Unlock()
		return pipeline.NewError(pipeline.CodeValidation, "no pending escalation for run %s", res.RunID)
	}
	if res.At.IsZero() {
		res.At = time.Now().UTC()
	}
	rep.Resolution = &res
	delete(s.pending, res.RunID)
	s.mu.Unlock()

	if err := s.persist(rep); err != nil {
		s.logger.Warn("resolved report write failed",
			zap.String("run_id", res.RunID), zap.Error(err))
	}
	s.resolutionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(res.Action)),
	))
	s.logger.Info("escalation resolved",
		zap.String("run_id", res.RunID),
		zap.String("action", string(res.Action)),
		zap.String("source", res.Source))

	if s.onResolve != nil {
		if err := s.onResolve(ctx, res); err != nil {
			return fmt.Errorf("apply resolution for run %s: %w", res.RunID, err)
		}
	}
	return nil
}

// Pending returns the IDs of unresolved escalations, sorted.
func (s *Service) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the pending report for a run, if one exists.
func (s *Service) Get(runID string) (*Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.pending[runID]
	return rep, ok
}

// Close stops the decision watcher, if running.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.stop)
	return nil
}

// atomicWrite writes via a temp file and rename so readers never see a
// partial report.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
