package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// ScriptedResult is one queued Execute outcome.
type ScriptedResult struct {
	Output      string
	RawGrade    *int
	BuildBroken bool
	Err         error
}

// ScriptedReview is one queued Review outcome.
type ScriptedReview struct {
	Grade    int
	Feedback string
	Err      error
}

// Scripted is an in-memory backend that replays queued outcomes in
// order, per phase. With nothing queued it succeeds with a generated
// artifact and a passing grade, so it doubles as the daemon's dev-mode
// backend. Safe for concurrent use.
type Scripted struct {
	mu      sync.Mutex
	results map[pipeline.PhaseName][]ScriptedResult
	reviews map[pipeline.PhaseName][]ScriptedReview

	calls       []Request
	reviewCalls []ReviewRequest
}

// NewScripted creates an empty scripted backend.
func NewScripted() *Scripted {
	return &Scripted{
		results: make(map[pipeline.PhaseName][]ScriptedResult),
		reviews: make(map[pipeline.PhaseName][]ScriptedReview),
	}
}

// QueueResult appends Execute outcomes for a phase, consumed one per
// attempt.
func (s *Scripted) QueueResult(phase pipeline.PhaseName, results ...ScriptedResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[phase] = append(s.results[phase], results...)
}

// QueueReview appends Review outcomes for a phase, consumed one per
// review.
func (s *Scripted) QueueReview(phase pipeline.PhaseName, reviews ...ScriptedReview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[phase] = append(s.reviews[phase], reviews...)
}

// Execute pops the next queued result for the phase, or fabricates a
// passing one.
func (s *Scripted) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	queue := s.results[req.Phase]
	var next ScriptedResult
	if len(queue) > 0 {
		next = queue[0]
		s.results[req.Phase] = queue[1:]
	} else {
		next = ScriptedResult{Output: fmt.Sprintf("# %s\n\nscripted output for task %s, attempt %d\n",
			req.Phase, req.TaskID, req.Attempt)}
	}
	s.mu.Unlock()

	if next.Err != nil {
		return nil, next.Err
	}
	return &Result{Output: next.Output, RawGrade: next.RawGrade, BuildBroken: next.BuildBroken}, nil
}

// Review pops the next queued review for the phase, or grades 95.
func (s *Scripted) Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.reviewCalls = append(s.reviewCalls, req)
	queue := s.reviews[req.Phase]
	var next ScriptedReview
	if len(queue) > 0 {
		next = queue[0]
		s.reviews[req.Phase] = queue[1:]
	} else {
		next = ScriptedReview{Grade: 95}
	}
	s.mu.Unlock()

	if next.Err != nil {
		return nil, next.Err
	}
	feedback := next.Feedback
	if feedback == "" {
		feedback = fmt.Sprintf("grade %d", next.Grade)
	}
	return &ReviewResult{
		Reviewed: fmt.Sprintf("%s\n\nGRADE: %d\n", req.Artifact, next.Grade),
		Grade:    next.Grade,
		Feedback: feedback,
	}, nil
}

// Close satisfies Backend.
func (s *Scripted) Close() error {
	return nil
}

// Calls returns a copy of every Execute request seen, in order.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// ReviewCalls returns a copy of every Review request seen, in order.
func (s *Scripted) ReviewCalls() []ReviewRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReviewRequest, len(s.reviewCalls))
	copy(out, s.reviewCalls)
	return out
}

var _ Backend = (*Scripted)(nil)
