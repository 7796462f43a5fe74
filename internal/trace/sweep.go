package trace

import (
	"log"
	"time"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
)

// sweepLoop periodically evicts idle state until Close is called.
func (s *Store) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.stop:
			return
		}
	}
}

// sweep removes non-running sessions idle past the TTL from memory (they
// stay recoverable from disk) and drops stale pending-span entries of the
// same age, bounding memory under producers that never terminate an
// operation.
func (s *Store) sweep(now time.Time) {
	s.mu.Lock()

	var evicted []string
	for id, sess := range s.sessions {
		if sess.run.Status == domain.RunStatusRunning || now.Sub(sess.touched) < s.ttl {
			continue
		}
		for spanID := range sess.active {
			delete(s.pending, spanID)
		}
		delete(s.sessions, id)
		evicted = append(evicted, id)
	}

	cutoff := now.Add(-s.ttl).UnixMilli()
	stale := 0
	for spanID, runID := range s.pending {
		sess, ok := s.sessions[runID]
		if !ok {
			delete(s.pending, spanID)
			stale++
			continue
		}
		if span, ok := sess.active[spanID]; ok && span.StartedAt < cutoff {
			delete(s.pending, spanID)
			stale++
		}
	}
	s.mu.Unlock()

	for _, id := range evicted {
		if s.log != nil {
			s.log.Release(id)
		}
	}
	if len(evicted) > 0 || stale > 0 {
		log.Printf("INFO: sweep evicted %d session(s), dropped %d stale pending span(s)", len(evicted), stale)
	}
}
