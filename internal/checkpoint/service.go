package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/taskforge/internal/checkpoint"

// maxNameLen bounds checkpoint names so they stay usable in artifact
// paths and stash messages.
const maxNameLen = 128

// Store mirrors checkpoint records into durable run storage. Memory is
// the source of truth; mirror failures are logged, not fatal.
type Store interface {
	SaveCheckpoints(ctx context.Context, runID string, checkpoints []*Checkpoint) error
}

// Stasher snapshots the workspace when a checkpoint is created. The
// version-control collaborator satisfies this.
type Stasher interface {
	Stash(ctx context.Context, message string) error
}

// Service manages checkpoints for pipeline runs.
type Service interface {
	// Create records a named checkpoint for a run. Returns
	// ErrDuplicateName when the name is held by an undiscarded
	// checkpoint of the same run.
	Create(ctx context.Context, req CreateRequest) (*Checkpoint, error)

	// List returns all checkpoints for a run in creation order,
	// discarded ones included.
	List(ctx context.Context, runID string) ([]*Checkpoint, error)

	// Restore resolves the named undiscarded checkpoint and reports the
	// phase execution should resume from. It does not mutate state.
	Restore(ctx context.Context, runID, name string) (*RestoreResult, error)

	// Discard releases a checkpoint and its name. Discarding a name
	// that is absent or already discarded is a no-op.
	Discard(ctx context.Context, runID, name string) error

	// Active returns the most recently created undiscarded checkpoint
	// for a run, or nil when the run has none.
	Active(ctx context.Context, runID string) (*Checkpoint, error)

	// Close releases resources and rejects further operations.
	Close() error
}

// Config holds checkpoint service configuration.
type Config struct {
	// Store optionally mirrors records into durable storage.
	Store Store

	// Stasher optionally snapshots the workspace on create.
	Stasher Stasher

	// Logger for structured logging (optional, defaults to no-op).
	Logger *zap.Logger
}

type service struct {
	store   Store
	stasher Stasher
	logger  *zap.Logger
	tracer  trace.Tracer
	meter   metric.Meter

	createCounter  metric.Int64Counter
	restoreCounter metric.Int64Counter
	discardCounter metric.Int64Counter

	mu     sync.RWMutex
	byRun  map[string][]*Checkpoint
	closed bool
}

// NewService creates a checkpoint service.
func NewService(cfg Config) (Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &service{
		store:   cfg.Store,
		stasher: cfg.Stasher,
		logger:  cfg.Logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
		byRun:   make(map[string][]*Checkpoint),
	}

	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return s, nil
}

func (s *service) initMetrics() error {
	var err error

	s.createCounter, err = s.meter.Int64Counter(
		"taskforge.checkpoint.creates_total",
		metric.WithDescription("Total number of checkpoints created"),
		metric.WithUnit("{create}"),
	)
	if err != nil {
		return fmt.Errorf("create creates counter: %w", err)
	}

	s.restoreCounter, err = s.meter.Int64Counter(
		"taskforge.checkpoint.restores_total",
		metric.WithDescription("Total number of checkpoint restores"),
		metric.WithUnit("{restore}"),
	)
	if err != nil {
		return fmt.Errorf("create restores counter: %w", err)
	}

	s.discardCounter, err = s.meter.Int64Counter(
		"taskforge.checkpoint.discards_total",
		metric.WithDescription("Total number of checkpoints discarded"),
		metric.WithUnit("{discard}"),
	)
	if err != nil {
		return fmt.Errorf("create discards counter: %w", err)
	}

	return nil
}

// Create records a named checkpoint for a run.
func (s *service) Create(ctx context.Context, req CreateRequest) (*Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.create",
		trace.WithAttributes(
			attribute.String("checkpoint.run_id", req.RunID),
			attribute.String("checkpoint.name", req.Name),
			attribute.String("checkpoint.phase", req.PhaseName),
			attribute.Bool("checkpoint.auto", req.AutoCreated),
		))
	defer span.End()

	if err := validateCreate(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid create request")
		return nil, err
	}

	cp := &Checkpoint{
		ID:          uuid.New().String(),
		RunID:       req.RunID,
		Name:        req.Name,
		PhaseName:   req.PhaseName,
		AutoCreated: req.AutoCreated,
		CreatedAt:   time.Now().UTC(),
	}

	// Snapshot the workspace before taking the name. A failed stash
	// still yields a usable record; it just cannot restore files.
	if s.stasher != nil {
		msg := fmt.Sprintf("taskforge checkpoint %s (run %s)", req.Name, req.RunID)
		if err := s.stasher.Stash(ctx, msg); err != nil {
			s.logger.Warn("checkpoint stash failed",
				zap.String("run_id", req.RunID),
				zap.String("name", req.Name),
				zap.Error(err))
		} else {
			cp.Stashed = true
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		err := fmt.Errorf("checkpoint service is closed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "service closed")
		return nil, err
	}
	for _, existing := range s.byRun[req.RunID] {
		if !existing.Discarded && existing.Name == req.Name {
			s.mu.Unlock()
			err := fmt.Errorf("create checkpoint %q for run %q: %w", req.Name, req.RunID, ErrDuplicateName)
			span.RecordError(err)
			span.SetStatus(codes.Error, "duplicate name")
			return nil, err
		}
	}
	s.byRun[req.RunID] = append(s.byRun[req.RunID], cp)
	snapshot := copyAll(s.byRun[req.RunID])
	s.mu.Unlock()

	s.mirror(ctx, req.RunID, snapshot)

	s.createCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("auto", req.AutoCreated),
	))
	span.SetAttributes(attribute.String("checkpoint.id", cp.ID))

	s.logger.Info("checkpoint created",
		zap.String("checkpoint_id", cp.ID),
		zap.String("run_id", cp.RunID),
		zap.String("name", cp.Name),
		zap.String("phase", cp.PhaseName),
		zap.Bool("auto", cp.AutoCreated),
		zap.Bool("stashed", cp.Stashed))

	out := *cp
	return &out, nil
}

// List returns all checkpoints for a run in creation order.
func (s *service) List(ctx context.Context, runID string) ([]*Checkpoint, error) {
	_, span := s.tracer.Start(ctx, "checkpoint.list",
		trace.WithAttributes(attribute.String("checkpoint.run_id", runID)))
	defer span.End()

	if runID == "" {
		err := fmt.Errorf("run ID is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing run ID")
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		err := fmt.Errorf("checkpoint service is closed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "service closed")
		return nil, err
	}

	out := copyAll(s.byRun[runID])
	span.SetAttributes(attribute.Int("checkpoint.count", len(out)))
	return out, nil
}

// Restore resolves a named checkpoint into a resume target.
func (s *service) Restore(ctx context.Context, runID, name string) (*RestoreResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.restore",
		trace.WithAttributes(
			attribute.String("checkpoint.run_id", runID),
			attribute.String("checkpoint.name", name),
		))
	defer span.End()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		err := fmt.Errorf("checkpoint service is closed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "service closed")
		return nil, err
	}
	cp := findUndiscarded(s.byRun[runID], name)
	s.mu.RUnlock()

	if cp == nil {
		err := fmt.Errorf("restore checkpoint %q for run %q: %w", name, runID, ErrNotFound)
		span.RecordError(err)
		span.SetStatus(codes.Error, "not found")
		return nil, err
	}

	s.restoreCounter.Add(ctx, 1)
	span.SetAttributes(attribute.String("checkpoint.id", cp.ID))

	s.logger.Info("checkpoint restored",
		zap.String("checkpoint_id", cp.ID),
		zap.String("run_id", runID),
		zap.String("name", name),
		zap.String("resume_phase", cp.PhaseName))

	out := *cp
	return &RestoreResult{Checkpoint: &out, ResumePhase: cp.PhaseName}, nil
}

// Discard releases a checkpoint. Unknown or already-discarded names are
// logged and ignored.
func (s *service) Discard(ctx context.Context, runID, name string) error {
	ctx, span := s.tracer.Start(ctx, "checkpoint.discard",
		trace.WithAttributes(
			attribute.String("checkpoint.run_id", runID),
			attribute.String("checkpoint.name", name),
		))
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		err := fmt.Errorf("checkpoint service is closed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "service closed")
		return err
	}
	cp := findUndiscarded(s.byRun[runID], name)
	if cp == nil {
		s.mu.Unlock()
		span.SetAttributes(attribute.Bool("checkpoint.noop", true))
		s.logger.Debug("discard of unknown checkpoint ignored",
			zap.String("run_id", runID),
			zap.String("name", name))
		return nil
	}
	now := time.Now().UTC()
	cp.Discarded = true
	cp.DiscardedAt = &now
	snapshot := copyAll(s.byRun[runID])
	s.mu.Unlock()

	s.mirror(ctx, runID, snapshot)

	s.discardCounter.Add(ctx, 1)
	span.SetAttributes(attribute.String("checkpoint.id", cp.ID))

	s.logger.Info("checkpoint discarded",
		zap.String("checkpoint_id", cp.ID),
		zap.String("run_id", runID),
		zap.String("name", name))
	return nil
}

// Active returns the most recent undiscarded checkpoint for a run.
func (s *service) Active(ctx context.Context, runID string) (*Checkpoint, error) {
	_, span := s.tracer.Start(ctx, "checkpoint.active",
		trace.WithAttributes(attribute.String("checkpoint.run_id", runID)))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		err := fmt.Errorf("checkpoint service is closed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "service closed")
		return nil, err
	}

	cps := s.byRun[runID]
	for i := len(cps) - 1; i >= 0; i-- {
		if !cps[i].Discarded {
			out := *cps[i]
			span.SetAttributes(attribute.String("checkpoint.id", out.ID))
			return &out, nil
		}
	}
	return nil, nil
}

// Close releases resources and rejects further operations.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.byRun = nil
	s.logger.Debug("checkpoint service closed")
	return nil
}

// mirror pushes the run's records to the store. Memory stays the
// source of truth, so failures only warn.
func (s *service) mirror(ctx context.Context, runID string, cps []*Checkpoint) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveCheckpoints(ctx, runID, cps); err != nil {
		s.logger.Warn("checkpoint mirror failed",
			zap.String("run_id", runID),
			zap.Error(err))
	}
}

func validateCreate(req CreateRequest) error {
	if req.RunID == "" {
		return fmt.Errorf("run ID is required")
	}
	if req.Name == "" {
		return fmt.Errorf("checkpoint name is required")
	}
	if len(req.Name) > maxNameLen {
		return fmt.Errorf("checkpoint name exceeds %d characters", maxNameLen)
	}
	if req.PhaseName == "" {
		return fmt.Errorf("phase name is required")
	}
	return nil
}

func findUndiscarded(cps []*Checkpoint, name string) *Checkpoint {
	for _, cp := range cps {
		if !cp.Discarded && cp.Name == name {
			return cp
		}
	}
	return nil
}

func copyAll(cps []*Checkpoint) []*Checkpoint {
	out := make([]*Checkpoint, len(cps))
	for i, cp := range cps {
		c := *cp
		out[i] = &c
	}
	return out
}
