// Package gate evaluates phase output grades against the quality
// threshold that decides whether a run may advance.
package gate

import (
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// DefaultThreshold is the minimum passing grade.
const DefaultThreshold = 80

// Grade bounds. Grades outside this range are clamped, never rejected,
// so malformed upstream grading cannot wedge a run.
const (
	MinGrade = 0
	MaxGrade = 100
)

// Result is the outcome of one gate evaluation. Ephemeral: consumed
// immediately by the sequencer and recovery controller, never stored.
type Result struct {
	PhaseName pipeline.PhaseName `json:"phase_name"`
	Grade     int                `json:"grade"`
	Raw       int                `json:"raw"`
	Threshold int                `json:"threshold"`
	Passed    bool               `json:"passed"`

	// Anomalous is set when the raw grade fell outside [0,100] and was
	// clamped to the nearest bound.
	Anomalous bool `json:"anomalous,omitempty"`
}

// Evaluator applies the pass threshold to phase grades.
type Evaluator struct {
	threshold int
}

// Config configures an Evaluator.
type Config struct {
	// Threshold is the minimum passing grade. Zero or negative values
	// fall back to DefaultThreshold.
	Threshold int
}

// NewEvaluator creates an evaluator with the configured threshold.
func NewEvaluator(cfg Config) *Evaluator {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Evaluator{threshold: threshold}
}

// Threshold returns the configured passing grade.
func (e *Evaluator) Threshold() int {
	return e.threshold
}

// Evaluate clamps the grade into [0,100] and decides pass/fail.
// Out-of-range grades are flagged anomalous rather than rejected.
func (e *Evaluator) Evaluate(phase pipeline.PhaseName, grade int) Result {
	res := Result{
		PhaseName: phase,
		Grade:     grade,
		Raw:       grade,
		Threshold: e.threshold,
	}

	if grade < MinGrade {
		res.Grade = MinGrade
		res.Anomalous = true
	} else if grade > MaxGrade {
		res.Grade = MaxGrade
		res.Anomalous = true
	}

	res.Passed = res.Grade >= e.threshold
	return res
}
