package services

import (
	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/escalation"
	"github.com/fyrsmithlabs/taskforge/internal/events"
	"github.com/fyrsmithlabs/taskforge/internal/gate"
	"github.com/fyrsmithlabs/taskforge/internal/orchestrator"
	"github.com/fyrsmithlabs/taskforge/internal/runmetrics"
	"github.com/fyrsmithlabs/taskforge/internal/secrets"
	"github.com/fyrsmithlabs/taskforge/internal/store"
	"github.com/fyrsmithlabs/taskforge/internal/vcs"
)

// Registry provides access to all taskforge services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Manager() *orchestrator.Manager
	Checkpoint() checkpoint.Service
	Escalation() *escalation.Service
	Store() *store.Store
	Metrics() *runmetrics.Recorder
	Gate() *gate.Evaluator
	VCS() *vcs.Git
	Scrubber() secrets.Scrubber
	Events() *events.Publisher
}

// Options configures the registry with service instances.
type Options struct {
	Manager    *orchestrator.Manager
	Checkpoint checkpoint.Service
	Escalation *escalation.Service
	Store      *store.Store
	Metrics    *runmetrics.Recorder
	Gate       *gate.Evaluator
	VCS        *vcs.Git
	Scrubber   secrets.Scrubber
	Events     *events.Publisher
}

// registry is the concrete implementation of Registry.
type registry struct {
	manager    *orchestrator.Manager
	checkpoint checkpoint.Service
	escalation *escalation.Service
	store      *store.Store
	metrics    *runmetrics.Recorder
	gate       *gate.Evaluator
	vcs        *vcs.Git
	scrubber   secrets.Scrubber
	events     *events.Publisher
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		manager:    opts.Manager,
		checkpoint: opts.Checkpoint,
		escalation: opts.Escalation,
		store:      opts.Store,
		metrics:    opts.Metrics,
		gate:       opts.Gate,
		vcs:        opts.VCS,
		scrubber:   opts.Scrubber,
		events:     opts.Events,
	}
}

func (r *registry) Manager() *orchestrator.Manager    { return r.manager }
func (r *registry) Checkpoint() checkpoint.Service    { return r.checkpoint }
func (r *registry) Escalation() *escalation.Service   { return r.escalation }
func (r *registry) Store() *store.Store               { return r.store }
func (r *registry) Metrics() *runmetrics.Recorder     { return r.metrics }
func (r *registry) Gate() *gate.Evaluator             { return r.gate }
func (r *registry) VCS() *vcs.Git                     { return r.vcs }
func (r *registry) Scrubber() secrets.Scrubber        { return r.scrubber }
func (r *registry) Events() *events.Publisher         { return r.events }
