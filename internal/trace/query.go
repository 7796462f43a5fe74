package trace

import (
	"sort"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
)

// ListRuns returns the most recent runs, newest first, bounded by limit.
func (s *Store) ListRuns(limit int) []*domain.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*domain.Run, 0, len(s.sessions))
	for _, sess := range s.sessions {
		runs = append(runs, cloneRun(sess.run))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt > runs[j].StartedAt })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}

// GetRun returns one run by id.
func (s *Store) GetRun(runID string) (*domain.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[runID]
	if !ok {
		return nil, false
	}
	return cloneRun(sess.run), true
}

// Agents returns a run's agents in registration order.
func (s *Store) Agents(runID string) ([]*domain.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[runID]
	if !ok {
		return nil, false
	}
	agents := make([]*domain.Agent, 0, len(sess.agentOrder))
	for _, id := range sess.agentOrder {
		agents = append(agents, cloneAgent(sess.agents[id]))
	}
	return agents, true
}

// GetAgent returns one agent of a run.
func (s *Store) GetAgent(runID, agentID string) (*domain.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[runID]
	if !ok {
		return nil, false
	}
	agent, ok := sess.agents[agentID]
	if !ok {
		return nil, false
	}
	return cloneAgent(agent), true
}

// Spans returns a run's spans in start order. sinceMs, when positive,
// keeps only spans starting at or after that unix-ms timestamp.
func (s *Store) Spans(runID string, sinceMs int64) ([]*domain.Span, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[runID]
	if !ok {
		return nil, false
	}
	spans := make([]*domain.Span, 0, len(sess.spans))
	for _, span := range sess.spans {
		if sinceMs > 0 && span.StartedAt < sinceMs {
			continue
		}
		spans = append(spans, cloneSpan(span))
	}
	return spans, true
}

// SessionCount reports how many sessions are held in memory.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
