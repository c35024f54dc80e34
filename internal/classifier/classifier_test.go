package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

func TestClassify_EmptyIndicators(t *testing.T) {
	res := Classify(Indicators{})

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, pipeline.ModeFastTrack, res.Mode)
}

func TestClassify_ZeroScoreWithExactInstructions(t *testing.T) {
	res := Classify(Indicators{
		Scope:             ScopeSingleFile,
		Knowledge:         KnowledgeExact,
		Risk:              RiskNone,
		Dependency:        DependencyEstablished,
		ExactInstructions: true,
	})

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, pipeline.ModeInstant, res.Mode)
}

func TestClassify_ZeroScoreWithoutExactInstructions(t *testing.T) {
	// A zero score alone must never select instant mode.
	res := Classify(Indicators{
		Scope:     ScopeSingleFile,
		Knowledge: KnowledgeExact,
	})

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, pipeline.ModeFastTrack, res.Mode)
}

func TestClassify_MaximumScore(t *testing.T) {
	res := Classify(Indicators{
		Scope:      ScopeManyFiles,
		Knowledge:  KnowledgeDiscovery,
		Risk:       RiskHigh,
		Dependency: DependencyNovel,
	})

	assert.Equal(t, 8, res.Score)
	assert.Equal(t, pipeline.ModeFull, res.Mode)
}

func TestModeForScore_Banding(t *testing.T) {
	tests := []struct {
		name  string
		score int
		exact bool
		want  pipeline.Mode
	}{
		{"zero with exact instructions", 0, true, pipeline.ModeInstant},
		{"zero without exact instructions", 0, false, pipeline.ModeFastTrack},
		{"one", 1, false, pipeline.ModeFastTrack},
		{"four", 4, false, pipeline.ModeFastTrack},
		{"four with exact instructions stays fast-track", 4, true, pipeline.ModeFastTrack},
		{"five", 5, false, pipeline.ModeFull},
		{"five with exact instructions stays full", 5, true, pipeline.ModeFull},
		{"eight", 8, false, pipeline.ModeFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ModeForScore(tt.score, tt.exact))
		})
	}
}

func TestClassify_Monotonicity(t *testing.T) {
	// Adding indicators to a set must never decrease the score.
	base := Indicators{Scope: ScopeFewFiles}
	baseScore := Classify(base).Score

	additions := []Indicators{
		{Scope: ScopeFewFiles, Knowledge: KnowledgeApproximate},
		{Scope: ScopeFewFiles, Risk: RiskModerate},
		{Scope: ScopeFewFiles, Dependency: DependencyNovel},
		{Scope: ScopeFewFiles, Knowledge: KnowledgeDiscovery, Risk: RiskHigh},
	}

	for _, ind := range additions {
		assert.GreaterOrEqual(t, Classify(ind).Score, baseScore)
	}
}

func TestClassify_EachCategoryContributes(t *testing.T) {
	assert.Equal(t, 2, Classify(Indicators{Scope: ScopeManyFiles}).Score)
	assert.Equal(t, 2, Classify(Indicators{Knowledge: KnowledgeDiscovery}).Score)
	assert.Equal(t, 2, Classify(Indicators{Risk: RiskHigh}).Score)
	assert.Equal(t, 2, Classify(Indicators{Dependency: DependencyNovel}).Score)
}

func TestParseIndicators_Valid(t *testing.T) {
	ind, err := ParseIndicators("few_files", "approximate", "high", "novel", true)

	require.NoError(t, err)
	assert.Equal(t, ScopeFewFiles, ind.Scope)
	assert.Equal(t, KnowledgeApproximate, ind.Knowledge)
	assert.Equal(t, RiskHigh, ind.Risk)
	assert.Equal(t, DependencyNovel, ind.Dependency)
	assert.True(t, ind.ExactInstructions)
}

func TestParseIndicators_EmptyKeepsZeroValues(t *testing.T) {
	ind, err := ParseIndicators("", "", "", "", false)

	require.NoError(t, err)
	assert.Equal(t, Indicators{}, ind)
}

func TestParseIndicators_UppercaseAccepted(t *testing.T) {
	ind, err := ParseIndicators("MANY_FILES", "", "", "", false)

	require.NoError(t, err)
	assert.Equal(t, ScopeManyFiles, ind.Scope)
}

func TestParseIndicators_UnknownValue(t *testing.T) {
	_, err := ParseIndicators("gigantic", "", "", "", false)

	require.Error(t, err)
	assert.Equal(t, pipeline.CodeValidation, pipeline.CodeOf(err))
	assert.Contains(t, err.Error(), "gigantic")
}
