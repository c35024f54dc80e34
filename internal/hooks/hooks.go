package hooks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HookType represents different pipeline lifecycle hooks.
type HookType string

const (
	// HookRunStarted fires when a run begins executing.
	HookRunStarted HookType = "run.started"

	// HookPhaseStarted fires when a phase attempt begins.
	HookPhaseStarted HookType = "phase.started"

	// HookPhaseCompleted fires when a phase attempt finishes, pass or
	// fail.
	HookPhaseCompleted HookType = "phase.completed"

	// HookGateEvaluated fires after the quality gate grades an attempt.
	HookGateEvaluated HookType = "gate.evaluated"

	// HookDecisionMade fires when the recovery controller picks an
	// action for a failed attempt.
	HookDecisionMade HookType = "decision.made"

	// HookCheckpointCreated fires when a checkpoint is recorded.
	HookCheckpointCreated HookType = "checkpoint.created"

	// HookRunEscalated fires when a run halts for human intervention.
	HookRunEscalated HookType = "run.escalated"

	// HookRunCompleted fires when a run reaches any terminal status.
	HookRunCompleted HookType = "run.completed"
)

// Event is the flat payload delivered to handlers. Fields are set
// according to the hook type; unset fields are zero.
type Event struct {
	Type HookType `json:"type"`

	RunID           string `json:"run_id"`
	TaskID          string `json:"task_id"`
	TaskDescription string `json:"task_description,omitempty"`
	Mode            string `json:"mode,omitempty"`

	// Phase-scoped fields.
	Phase   string `json:"phase,omitempty"`
	Status  string `json:"status,omitempty"`
	Attempt int    `json:"attempt,omitempty"`

	// Gate fields.
	Grade     *int `json:"grade,omitempty"`
	Passed    bool `json:"passed,omitempty"`
	Anomalous bool `json:"anomalous,omitempty"`

	// Recovery fields.
	Action string `json:"action,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Checkpoint fields.
	Checkpoint string `json:"checkpoint,omitempty"`

	// Artifact produced by the attempt, if any.
	ArtifactPath string `json:"artifact_path,omitempty"`

	At time.Time `json:"at"`
}

// HookHandler is a function that handles a hook event.
type HookHandler func(ctx context.Context, event Event) error

// HookManager dispatches lifecycle events to registered handlers.
type HookManager struct {
	handlers map[HookType][]HookHandler
}

// NewHookManager creates a new hook manager.
func NewHookManager() *HookManager {
	return &HookManager{
		handlers: make(map[HookType][]HookHandler),
	}
}

// RegisterHandler registers a handler for a hook type. Must complete
// before runs start.
func (h *HookManager) RegisterHandler(hookType HookType, handler HookHandler) {
	h.handlers[hookType] = append(h.handlers[hookType], handler)
}

// RegisterAll registers one handler for every hook type.
func (h *HookManager) RegisterAll(handler HookHandler) {
	for _, hookType := range []HookType{
		HookRunStarted,
		HookPhaseStarted,
		HookPhaseCompleted,
		HookGateEvaluated,
		HookDecisionMade,
		HookCheckpointCreated,
		HookRunEscalated,
		HookRunCompleted,
	} {
		h.RegisterHandler(hookType, handler)
	}
}

// Execute runs all handlers for the event's type in registration
// order. A failing handler does not stop later handlers; all failures
// are joined into the returned error.
func (h *HookManager) Execute(ctx context.Context, event Event) error {
	handlers, ok := h.handlers[event.Type]
	if !ok {
		return nil
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("hook %s: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}
