package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

func TestScripted_ReplaysQueuedResults(t *testing.T) {
	s := NewScripted()
	s.QueueResult(pipeline.PhaseImplementation,
		ScriptedResult{Output: "first attempt"},
		ScriptedResult{Output: "second attempt"},
	)

	ctx := context.Background()
	res, err := s.Execute(ctx, Request{Phase: pipeline.PhaseImplementation, Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, "first attempt", res.Output)

	res, err = s.Execute(ctx, Request{Phase: pipeline.PhaseImplementation, Attempt: 2})
	require.NoError(t, err)
	assert.Equal(t, "second attempt", res.Output)
}

func TestScripted_QueuesArePerPhase(t *testing.T) {
	s := NewScripted()
	s.QueueResult(pipeline.PhasePlanning, ScriptedResult{Output: "plan"})
	s.QueueResult(pipeline.PhaseResearch, ScriptedResult{Output: "research"})

	ctx := context.Background()
	res, err := s.Execute(ctx, Request{Phase: pipeline.PhaseResearch})
	require.NoError(t, err)
	assert.Equal(t, "research", res.Output)

	res, err = s.Execute(ctx, Request{Phase: pipeline.PhasePlanning})
	require.NoError(t, err)
	assert.Equal(t, "plan", res.Output)
}

func TestScripted_DefaultsWhenQueueEmpty(t *testing.T) {
	s := NewScripted()
	ctx := context.Background()

	res, err := s.Execute(ctx, Request{Phase: pipeline.PhasePlanning, TaskID: "t-1", Attempt: 1})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "t-1")

	rev, err := s.Review(ctx, ReviewRequest{Phase: pipeline.PhasePlanning, Artifact: "body"})
	require.NoError(t, err)
	assert.Equal(t, 95, rev.Grade)
	assert.Contains(t, rev.Reviewed, "GRADE: 95")
}

func TestScripted_QueuedError(t *testing.T) {
	s := NewScripted()
	boom := errors.New("backend down")
	s.QueueResult(pipeline.PhaseImplementation,
		ScriptedResult{Err: boom},
		ScriptedResult{Output: "recovered"},
	)

	ctx := context.Background()
	_, err := s.Execute(ctx, Request{Phase: pipeline.PhaseImplementation})
	assert.ErrorIs(t, err, boom)

	res, err := s.Execute(ctx, Request{Phase: pipeline.PhaseImplementation})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Output)
}

func TestScripted_QueuedReviewGrades(t *testing.T) {
	s := NewScripted()
	s.QueueReview(pipeline.PhaseImplementation,
		ScriptedReview{Grade: 55, Feedback: "missing error handling"},
		ScriptedReview{Grade: 90},
	)

	ctx := context.Background()
	rev, err := s.Review(ctx, ReviewRequest{Phase: pipeline.PhaseImplementation})
	require.NoError(t, err)
	assert.Equal(t, 55, rev.Grade)
	assert.Equal(t, "missing error handling", rev.Feedback)

	rev, err = s.Review(ctx, ReviewRequest{Phase: pipeline.PhaseImplementation})
	require.NoError(t, err)
	assert.Equal(t, 90, rev.Grade)
}

func TestScripted_RecordsCalls(t *testing.T) {
	s := NewScripted()
	ctx := context.Background()

	_, err := s.Execute(ctx, Request{RunID: "r1", Phase: pipeline.PhasePlanning, Attempt: 1})
	require.NoError(t, err)
	_, err = s.Review(ctx, ReviewRequest{RunID: "r1", Phase: pipeline.PhasePlanning})
	require.NoError(t, err)

	calls := s.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, pipeline.PhasePlanning, calls[0].Phase)

	reviews := s.ReviewCalls()
	require.Len(t, reviews, 1)
	assert.Equal(t, "r1", reviews[0].RunID)
}

func TestScripted_HonorsContext(t *testing.T) {
	s := NewScripted()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Execute(ctx, Request{Phase: pipeline.PhasePlanning})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Review(ctx, ReviewRequest{Phase: pipeline.PhasePlanning})
	assert.ErrorIs(t, err, context.Canceled)
}
