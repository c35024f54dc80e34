package checkpoint

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateName is returned when a checkpoint name is already in
	// use by an undiscarded checkpoint of the same run.
	ErrDuplicateName = errors.New("checkpoint name already in use")

	// ErrNotFound is returned when no undiscarded checkpoint matches the
	// requested name for the run.
	ErrNotFound = errors.New("checkpoint not found")
)

// Checkpoint represents a saved recovery point for a pipeline run.
type Checkpoint struct {
	// ID is the unique identifier for this checkpoint.
	ID string `json:"id"`

	// RunID is the pipeline run this checkpoint belongs to.
	RunID string `json:"run_id"`

	// Name is the caller-visible name, unique among the run's
	// undiscarded checkpoints.
	Name string `json:"name"`

	// PhaseName is the phase the run was entering when the checkpoint
	// was taken. Restoring resumes from this phase.
	PhaseName string `json:"phase_name"`

	// AutoCreated indicates the sequencer took this checkpoint itself
	// rather than an operator requesting it.
	AutoCreated bool `json:"auto_created"`

	// Stashed indicates the workspace snapshot succeeded.
	Stashed bool `json:"stashed"`

	// Discarded marks the checkpoint as released. Discarded checkpoints
	// stay listed for audit but cannot be restored, and their name may
	// be reused.
	Discarded bool `json:"discarded"`

	// CreatedAt is when this checkpoint was created.
	CreatedAt time.Time `json:"created_at"`

	// DiscardedAt is when this checkpoint was discarded, if it was.
	DiscardedAt *time.Time `json:"discarded_at,omitempty"`
}

// CreateRequest represents parameters for creating a checkpoint.
type CreateRequest struct {
	RunID       string
	PhaseName   string
	Name        string
	AutoCreated bool
}

// RestoreResult reports where a restored run should resume.
type RestoreResult struct {
	Checkpoint *Checkpoint

	// ResumePhase is the phase name execution rolls back to.
	ResumePhase string
}

// AutoName builds the conventional name for sequencer-created
// checkpoints: pipeline-checkpoint-{timestamp}-{task}.
func AutoName(taskSlug string, now time.Time) string {
	return fmt.Sprintf("pipeline-checkpoint-%s-%s", now.UTC().Format("20060102T150405Z"), taskSlug)
}

// EmergencyName builds the name for the checkpoint forced by a
// pipeline-level timeout, just before the run escalates.
func EmergencyName(taskSlug string, now time.Time) string {
	return fmt.Sprintf("emergency-%s-%s", now.UTC().Format("20060102T150405Z"), taskSlug)
}
