package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// phaseInstructions is the per-phase work order prepended to every
// execute prompt. Wording changes here change agent behavior; keep the
// BUILD marker contract in the validation entry in sync with
// parseBuildStatus.
var phaseInstructions = map[pipeline.PhaseName]string{
	pipeline.PhaseResearch: "Research the task. Survey the relevant code, prior art, and " +
		"constraints. Produce a markdown research report listing findings, open questions, " +
		"and recommended approaches.",
	pipeline.PhasePlanning: "Plan the task. Break it into ordered steps with file-level " +
		"detail, call out risks, and state the acceptance criteria. Produce a markdown plan.",
	pipeline.PhaseImplementation: "Implement the task according to the plan. Apply the " +
		"changes in the working directory. Produce a markdown report of what was changed " +
		"and why, with file paths.",
	pipeline.PhaseValidation: "Validate the implementation. Run the build and the tests, " +
		"check the acceptance criteria, and report results in markdown. Include a line of " +
		"the exact form 'BUILD: ok' or 'BUILD: broken'.",
	pipeline.PhasePostMortem: "Write a post-mortem for the task: what went well, what did " +
		"not, and what should change next time. Markdown, concise.",
	pipeline.PhaseDocumentation: "Update the documentation affected by the task and " +
		"produce a markdown summary of the doc changes.",
}

// buildPhasePrompt assembles the full prompt for one phase attempt.
func buildPhasePrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Phase: %s\n\n", req.Phase)
	b.WriteString(phaseInstructions[req.Phase])
	fmt.Fprintf(&b, "\n\n## Task\n\n%s\n", req.TaskDescription)
	if req.PriorOutput != "" {
		fmt.Fprintf(&b, "\n## Output of the previous phase\n\n%s\n", req.PriorOutput)
	}
	if req.Feedback != "" {
		fmt.Fprintf(&b, "\n## Reviewer feedback on attempt %d\n\nThe previous attempt "+
			"was rejected. Address every point below.\n\n%s\n", req.Attempt-1, req.Feedback)
	}
	return b.String()
}

// buildReviewPrompt assembles the grading prompt for a phase artifact.
func buildReviewPrompt(req ReviewRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Review: %s phase\n\n", req.Phase)
	b.WriteString("Review the artifact below against the task. Note every defect, gap, " +
		"and deviation. Then assign an integer grade from 0 to 100 where 80 is the " +
		"minimum passing quality. End your review with a line of the exact form " +
		"'GRADE: <number>'.\n")
	fmt.Fprintf(&b, "\n## Task\n\n%s\n", req.TaskDescription)
	fmt.Fprintf(&b, "\n## Artifact\n\n%s\n", req.Artifact)
	return b.String()
}

// gradeLine matches a GRADE marker on its own line. Inline mentions of
// the word do not count; reviewers are told to end with the marker.
var gradeLine = regexp.MustCompile(`(?mi)^\s*GRADE:\s*(-?\d+)\s*$`)

// parseGrade extracts the grade from a review.  The last marker wins so
// a reviewer quoting earlier grades does not confuse parsing. A review
// with no marker is an executor fault, not a zero grade.
func parseGrade(review string) (int, error) {
	matches := gradeLine.FindAllStringSubmatch(review, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("review contains no GRADE line")
	}
	raw := matches[len(matches)-1][1]
	grade, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse grade %q: %w", raw, err)
	}
	return grade, nil
}

var buildLine = regexp.MustCompile(`(?mi)^\s*BUILD:\s*(ok|broken)\s*$`)

// parseBuildStatus reports whether a validation artifact declares the
// build broken. A missing marker reads as not broken; the reviewer
// grade catches validation reports that skip it.
func parseBuildStatus(output string) bool {
	matches := buildLine.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return false
	}
	return strings.EqualFold(matches[len(matches)-1][1], "broken")
}
