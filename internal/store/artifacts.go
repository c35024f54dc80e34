package store

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
	"github.com/fyrsmithlabs/taskforge/internal/sanitize"
)

// artifactTimeLayout timestamps artifact names; second precision keeps
// retry attempts distinct.
const artifactTimeLayout = "20060102T150405Z"

const markdownExt = ".md"

// ArtifactFileName builds the primary artifact name for a phase
// attempt: {stage}_{topic}_{timestamp}.md.
func ArtifactFileName(stage pipeline.PhaseName, topic string, at time.Time) string {
	stem := sanitize.FileStem(
		string(stage),
		sanitize.Identifier(topic),
		at.UTC().Format(artifactTimeLayout),
	)
	return stem + markdownExt
}

// ReviewedFileName derives the reviewer-annotated artifact name:
// {stage}_{topic}_{timestamp}-reviewed.md.
func ReviewedFileName(artifact string) string {
	return strings.TrimSuffix(artifact, markdownExt) + "-reviewed" + markdownExt
}

// GradeFileName derives the grade report name:
// {stage}_{topic}_{timestamp}-grade.md.
func GradeFileName(artifact string) string {
	return strings.TrimSuffix(artifact, markdownExt) + "-grade" + markdownExt
}
