package planner

import (
	"context"
	"fmt"
	"sync"
)

// StaticPlanSource replays a fixed script of Plans, one per call, in order.
// It is the fixed-script test double named in the boundary tests: a
// deterministic stand-in for a real LLM backend so orchestrator behavior can
// be asserted without network access.
type StaticPlanSource struct {
	mu     sync.Mutex
	script []Plan
	next   int
}

// NewStaticPlanSource builds a plan source that returns each of script in
// order, one per Plan call, then errors once exhausted.
func NewStaticPlanSource(script ...Plan) *StaticPlanSource {
	return &StaticPlanSource{script: script}
}

// Plan returns the next scripted Plan, ignoring its inputs entirely.
func (s *StaticPlanSource) Plan(ctx context.Context, sessionID string, history []HistoryMessage, prompt string) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.script) {
		return Plan{}, fmt.Errorf("planner: static script exhausted after %d calls", s.next)
	}
	p := s.script[s.next]
	s.next++
	return p, nil
}

// Calls reports how many Plan calls have been served, for tests that assert
// the orchestrator drove exactly one cycle.
func (s *StaticPlanSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
