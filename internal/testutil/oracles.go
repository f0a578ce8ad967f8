package testutil

import (
	"context"
	"sync"

	"github.com/koopa0/canvas/internal/artifact"
	"github.com/koopa0/canvas/internal/oracle"
	"github.com/koopa0/canvas/internal/resolve"
)

// ScriptedExecution is an oracle.Execution that replays canned verdicts in
// order, repeating the last one when the script runs out.
type ScriptedExecution struct {
	mu       sync.Mutex
	Verdicts []*oracle.RenderVerdict
	Err      error
	Rendered []*artifact.Artifact // every artifact seen, in order
	calls    int
}

func (s *ScriptedExecution) Render(_ context.Context, a *artifact.Artifact) (*oracle.RenderVerdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Rendered = append(s.Rendered, a)
	if s.Err != nil {
		return nil, s.Err
	}
	i := s.calls
	s.calls++
	if len(s.Verdicts) == 0 {
		return &oracle.RenderVerdict{Success: true}, nil
	}
	if i >= len(s.Verdicts) {
		i = len(s.Verdicts) - 1
	}
	return s.Verdicts[i], nil
}

// Calls reports how many render attempts were made.
func (s *ScriptedExecution) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ScriptedRepair is a resolve.Repair returning one fixed outcome.
type ScriptedRepair struct {
	mu      sync.Mutex
	Outcome *resolve.Outcome
	Err     error
	calls   int
}

func (s *ScriptedRepair) Repair(context.Context, resolve.Request) (*resolve.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Outcome, nil
}

func (s *ScriptedRepair) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
