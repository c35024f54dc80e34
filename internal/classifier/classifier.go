// Package classifier scores task complexity and selects the pipeline
// mode. Classification is a total, pure function over a fixed
// indicator table: four categories, each contributing 0-2 points, with
// the sum banded into instant, fast-track, or full mode.
package classifier

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// Scope describes how many files the change is expected to touch.
type Scope string

const (
	ScopeSingleFile Scope = "single_file" // one known file
	ScopeFewFiles   Scope = "few_files"   // two or three files
	ScopeManyFiles  Scope = "many_files"  // four or more, or unknown
)

// Knowledge describes how well the change location is known.
type Knowledge string

const (
	KnowledgeExact       Knowledge = "exact"       // location known exactly
	KnowledgeApproximate Knowledge = "approximate" // rough area known
	KnowledgeDiscovery   Knowledge = "discovery"   // requires exploration
)

// Risk describes the blast radius of the change.
type Risk string

const (
	RiskNone     Risk = "none"     // isolated change
	RiskModerate Risk = "moderate" // shared code paths
	RiskHigh     Risk = "high"     // public contracts, data migration
)

// Dependency describes the novelty of the approach.
type Dependency string

const (
	DependencyEstablished Dependency = "established" // known approach
	DependencyVariation   Dependency = "variation"   // variation of a known approach
	DependencyNovel       Dependency = "novel"       // new approach or external dependency
)

// Indicators is the structured input to classification. The zero value
// scores 0 and maps to fast-track mode.
type Indicators struct {
	Scope      Scope      `json:"scope,omitempty"`
	Knowledge  Knowledge  `json:"knowledge,omitempty"`
	Risk       Risk       `json:"risk,omitempty"`
	Dependency Dependency `json:"dependency,omitempty"`

	// ExactInstructions is the explicit single-file, zero-risk
	// affirmation required for instant mode. A zero score without it
	// still classifies fast-track, never instant.
	ExactInstructions bool `json:"exact_instructions,omitempty"`
}

// Result is the classification outcome.
type Result struct {
	Score int           `json:"score"`
	Mode  pipeline.Mode `json:"mode"`
}

// Static point tables. Unknown or empty values score zero, keeping
// classification total over the input domain.
var (
	scopePoints = map[Scope]int{
		ScopeSingleFile: 0,
		ScopeFewFiles:   1,
		ScopeManyFiles:  2,
	}
	knowledgePoints = map[Knowledge]int{
		KnowledgeExact:       0,
		KnowledgeApproximate: 1,
		KnowledgeDiscovery:   2,
	}
	riskPoints = map[Risk]int{
		RiskNone:     0,
		RiskModerate: 1,
		RiskHigh:     2,
	}
	dependencyPoints = map[Dependency]int{
		DependencyEstablished: 0,
		DependencyVariation:   1,
		DependencyNovel:       2,
	}
)

// Classify sums the indicator points and derives the pipeline mode.
func Classify(ind Indicators) Result {
	score := scopePoints[ind.Scope] +
		knowledgePoints[ind.Knowledge] +
		riskPoints[ind.Risk] +
		dependencyPoints[ind.Dependency]

	return Result{
		Score: score,
		Mode:  ModeForScore(score, ind.ExactInstructions),
	}
}

// ModeForScore bands a score into a mode. Instant requires both a zero
// score and the exact-instructions affirmation; five points and above
// force the full pipeline.
func ModeForScore(score int, exactInstructions bool) pipeline.Mode {
	switch {
	case score >= 5:
		return pipeline.ModeFull
	case score == 0 && exactInstructions:
		return pipeline.ModeInstant
	default:
		return pipeline.ModeFastTrack
	}
}

// ParseIndicators builds Indicators from string inputs, as supplied by
// CLI flags or API payloads. Empty strings keep the zero value; any
// other unknown value is a validation error.
func ParseIndicators(scope, knowledge, risk, dependency string, exactInstructions bool) (Indicators, error) {
	ind := Indicators{ExactInstructions: exactInstructions}

	if scope != "" {
		s := Scope(strings.ToLower(scope))
		if _, ok := scopePoints[s]; !ok {
			return Indicators{}, pipeline.NewError(pipeline.CodeValidation,
				"unknown scope %q (want %s)", scope, oneOf(scopePoints))
		}
		ind.Scope = s
	}
	if knowledge != "" {
		k := Knowledge(strings.ToLower(knowledge))
		if _, ok := knowledgePoints[k]; !ok {
			return Indicators{}, pipeline.NewError(pipeline.CodeValidation,
				"unknown knowledge %q (want %s)", knowledge, oneOf(knowledgePoints))
		}
		ind.Knowledge = k
	}
	if risk != "" {
		r := Risk(strings.ToLower(risk))
		if _, ok := riskPoints[r]; !ok {
			return Indicators{}, pipeline.NewError(pipeline.CodeValidation,
				"unknown risk %q (want %s)", risk, oneOf(riskPoints))
		}
		ind.Risk = r
	}
	if dependency != "" {
		d := Dependency(strings.ToLower(dependency))
		if _, ok := dependencyPoints[d]; !ok {
			return Indicators{}, pipeline.NewError(pipeline.CodeValidation,
				"unknown dependency %q (want %s)", dependency, oneOf(dependencyPoints))
		}
		ind.Dependency = d
	}

	return ind, nil
}

// oneOf renders the valid values of a point table for error messages.
func oneOf[K ~string](table map[K]int) string {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, string(k))
	}
	// Stable order for error text
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return strings.Join(keys, "|")
}
