// Package trace owns the live session/agent/span state. Every ingested
// event is applied as one atomic state transition; the store drives
// persistence and emits a delta for every mutation.
package trace

import (
	"log"
	"sync"
	"time"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
	"github.com/Rperry2174/agent-runtime-observability/internal/index"
	"github.com/Rperry2174/agent-runtime-observability/internal/wal"
)

// Publisher receives deltas after a mutation commits. Delivery must not
// block the mutation path.
type Publisher interface {
	Publish(update domain.TraceUpdate)
}

// session is the per-session state: the run, its agent registry, the
// ordered span list and the map of currently running spans.
type session struct {
	run        *domain.Run
	agents     map[string]*domain.Agent
	agentOrder []string
	spans      []*domain.Span
	active     map[string]*domain.Span
	touched    time.Time
}

// Store is the correlation engine.
type Store struct {
	log     *wal.Log
	catalog *index.Catalog
	pub     Publisher

	ttl           time.Duration
	sweepInterval time.Duration

	// applyMu serializes transitions end to end, including the
	// persistence append. mu guards the registries so read queries
	// never wait on disk.
	applyMu sync.Mutex
	mu      sync.RWMutex

	sessions map[string]*session
	// pending indexes running spans by id across all sessions, purely
	// to correlate a later end/failure event with its start.
	pending map[string]string // span id -> session id

	stop chan struct{}
	done chan struct{}
}

// Options tune the store's background behavior.
type Options struct {
	SessionTTL    time.Duration
	SweepInterval time.Duration
	ReplayLimit   int
}

// New builds a store and replays the most recent session logs to rebuild
// the registries. catalog and pub may be nil.
func New(walLog *wal.Log, catalog *index.Catalog, pub Publisher, opts Options) *Store {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.ReplayLimit <= 0 {
		opts.ReplayLimit = 50
	}

	s := &Store{
		log:           walLog,
		catalog:       catalog,
		pub:           pub,
		ttl:           opts.SessionTTL,
		sweepInterval: opts.SweepInterval,
		sessions:      make(map[string]*session),
		pending:       make(map[string]string),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	s.replay(opts.ReplayLimit)
	go s.sweepLoop()
	return s
}

// Close stops the eviction sweeper.
func (s *Store) Close() {
	close(s.stop)
	<-s.done
}

// replay folds the recent session logs back into the registries.
func (s *Store) replay(limit int) {
	if s.log == nil {
		return
	}
	states, err := s.log.ReplayRecent(limit)
	if err != nil {
		log.Printf("WARN: replay failed: %v", err)
		return
	}
	now := time.Now()
	for _, state := range states {
		sess := &session{
			run:     state.Run,
			agents:  make(map[string]*domain.Agent),
			active:  make(map[string]*domain.Span),
			spans:   state.Spans,
			touched: now,
		}
		for _, a := range state.Agents {
			sess.agents[a.AgentID] = a
			sess.agentOrder = append(sess.agentOrder, a.AgentID)
		}
		for _, sp := range state.Spans {
			if sp.Status == domain.SpanStatusRunning {
				sess.active[sp.SpanID] = sp
				s.pending[sp.SpanID] = state.Run.RunID
			}
		}
		s.sessions[state.Run.RunID] = sess
	}
	if len(states) > 0 {
		log.Printf("INFO: replayed %d session(s) from %s", len(states), s.log.Dir())
	}
}

// Apply applies one normalized event as an atomic state transition.
// Unresolvable or unknown events are logged and ignored; Apply never
// fails the producer.
func (s *Store) Apply(ev *domain.Event) {
	if ev == nil || ev.SessionID == "" {
		return
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	switch ev.Kind {
	case domain.EventSessionStart:
		s.applySessionStart(ev)
	case domain.EventSessionEnd, domain.EventStop:
		s.applySessionEnd(ev)
	case domain.EventToolStart, domain.EventShellStart, domain.EventMCPStart,
		domain.EventFileEditStart, domain.EventTabFileStart:
		s.applyToolStart(ev)
	case domain.EventToolEnd, domain.EventShellEnd, domain.EventMCPEnd,
		domain.EventFileEditEnd, domain.EventTabFileEnd:
		s.applyToolEnd(ev)
	case domain.EventToolFailure:
		s.applyToolFailure(ev)
	case domain.EventSubagentStart:
		s.applySubagentStart(ev)
	case domain.EventSubagentStop:
		s.applySubagentStop(ev)
	case domain.EventThinkingStart:
		s.applyThinkingStart(ev)
	case domain.EventThinkingEnd:
		s.applyThinkingEnd(ev)
	case domain.EventContextCompact:
		s.applyContextCompact(ev)
	case domain.EventBeforeSubmitPrompt:
		s.applyPromptSubmit(ev)
	case domain.EventAgentResponse:
		// Informational only, no state change.
	default:
		log.Printf("WARN: unknown event kind %q for session %s", ev.Kind, ev.SessionID)
	}
}

// publish hands a delta to the broadcaster. Fire and forget.
func (s *Store) publish(update domain.TraceUpdate) {
	if s.pub != nil {
		s.pub.Publish(update)
	}
}

// persistRun appends a run snapshot and refreshes the catalog entry.
// Persistence is best effort: a failed append is logged and in-memory
// state still advances.
func (s *Store) persistRun(sess *session) {
	if s.log != nil {
		if err := s.log.AppendRun(sess.run.RunID, sess.run); err != nil {
			log.Printf("ERROR: failed to persist run %s: %v", sess.run.RunID, err)
		}
	}
	if s.catalog != nil {
		entry := index.Entry{
			RunID:      sess.run.RunID,
			Source:     sess.run.Source,
			Status:     string(sess.run.Status),
			StartedAt:  sess.run.StartedAt,
			EndedAt:    sess.run.EndedAt,
			AgentCount: len(sess.agents),
			SpanCount:  len(sess.spans),
		}
		if s.log != nil {
			entry.LogPath = s.log.Path(sess.run.RunID)
		}
		if err := s.catalog.Upsert(entry); err != nil {
			log.Printf("ERROR: failed to update session catalog for %s: %v", sess.run.RunID, err)
		}
	}
}

func (s *Store) persistAgent(runID string, agent *domain.Agent) {
	if s.log == nil {
		return
	}
	if err := s.log.AppendAgent(runID, agent); err != nil {
		log.Printf("ERROR: failed to persist agent %s: %v", agent.AgentID, err)
	}
}

func (s *Store) persistSpan(runID string, span *domain.Span) {
	if s.log == nil {
		return
	}
	if err := s.log.AppendSpan(runID, span); err != nil {
		log.Printf("ERROR: failed to persist span %s: %v", span.SpanID, err)
	}
}

func cloneRun(r *domain.Run) *domain.Run {
	c := *r
	return &c
}

func cloneAgent(a *domain.Agent) *domain.Agent {
	c := *a
	return &c
}

func cloneSpan(sp *domain.Span) *domain.Span {
	c := *sp
	if sp.Files != nil {
		c.Files = append([]string(nil), sp.Files...)
	}
	return &c
}
