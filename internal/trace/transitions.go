package trace

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
	"github.com/Rperry2174/agent-runtime-observability/internal/sanitize"
)

// getOrCreateSession returns the session for an id, creating the run and
// its main agent when unseen. The main agent's id equals the run id.
// Caller holds applyMu.
func (s *Store) getOrCreateSession(ev *domain.Event) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[ev.SessionID]; ok {
		sess.touched = time.Now()
		return sess, false
	}

	run := &domain.Run{
		RunID:          ev.SessionID,
		Source:         ev.Source,
		Status:         domain.RunStatusRunning,
		StartedAt:      ev.Ts,
		ProjectRoot:    ev.ProjectRoot,
		TranscriptPath: ev.TranscriptPath,
		InitialPrompt:  ev.Prompt,
	}
	main := &domain.Agent{
		AgentID:        ev.SessionID,
		RunID:          ev.SessionID,
		Name:           "main",
		Model:          ev.Model,
		TranscriptPath: ev.TranscriptPath,
		StartedAt:      ev.Ts,
	}
	sess := &session{
		run:        run,
		agents:     map[string]*domain.Agent{main.AgentID: main},
		agentOrder: []string{main.AgentID},
		active:     make(map[string]*domain.Span),
		touched:    time.Now(),
	}
	s.sessions[ev.SessionID] = sess
	return sess, true
}

func (s *Store) applySessionStart(ev *domain.Event) {
	sess, created := s.getOrCreateSession(ev)
	if created {
		s.persistRun(sess)
		s.persistAgent(sess.run.RunID, sess.agents[sess.run.RunID])
		s.publish(domain.TraceUpdate{Type: domain.UpdateRunStart, RunID: sess.run.RunID, Ts: ev.Ts, Run: cloneRun(sess.run)})
		s.publish(domain.TraceUpdate{Type: domain.UpdateAgentStart, RunID: sess.run.RunID, Ts: ev.Ts, Agent: cloneAgent(sess.agents[sess.run.RunID])})
		return
	}

	s.mu.Lock()
	// Late metadata: a session-start replayed with paths the original
	// creation lacked.
	changed := false
	if sess.run.TranscriptPath == "" && ev.TranscriptPath != "" {
		sess.run.TranscriptPath = ev.TranscriptPath
		changed = true
	}
	if sess.run.ProjectRoot == "" && ev.ProjectRoot != "" {
		sess.run.ProjectRoot = ev.ProjectRoot
		changed = true
	}
	if sess.run.InitialPrompt == "" && ev.Prompt != "" {
		sess.run.InitialPrompt = ev.Prompt
		changed = true
	}

	// An agent announcing itself after the session already exists joins
	// it. Replaying the same session-start for a known agent is a no-op.
	var joined *domain.Agent
	if ev.AgentID != "" && ev.AgentID != sess.run.RunID {
		if _, known := sess.agents[ev.AgentID]; !known {
			joined = &domain.Agent{
				AgentID:        ev.AgentID,
				RunID:          sess.run.RunID,
				Name:           agentDisplayName(ev, ev.AgentID),
				ParentAgentID:  parentOrMain(ev, sess.run.RunID),
				Model:          ev.Model,
				AgentType:      ev.AgentType,
				TranscriptPath: ev.TranscriptPath,
				StartedAt:      ev.Ts,
			}
			sess.agents[joined.AgentID] = joined
			sess.agentOrder = append(sess.agentOrder, joined.AgentID)
		}
	}
	s.mu.Unlock()

	if changed {
		s.persistRun(sess)
		s.publish(domain.TraceUpdate{Type: domain.UpdateRunUpdate, RunID: sess.run.RunID, Ts: ev.Ts, Run: cloneRun(sess.run)})
	}
	if joined != nil {
		s.persistAgent(sess.run.RunID, joined)
		s.publish(domain.TraceUpdate{Type: domain.UpdateAgentStart, RunID: sess.run.RunID, Ts: ev.Ts, Agent: cloneAgent(joined)})
	}
}

func (s *Store) applySessionEnd(ev *domain.Event) {
	s.mu.Lock()
	sess, ok := s.sessions[ev.SessionID]
	if !ok {
		s.mu.Unlock()
		log.Printf("WARN: session end for unknown session %s", ev.SessionID)
		return
	}
	sess.touched = time.Now()

	end := ev.Ts
	sess.run.EndedAt = &end
	sess.run.Status = mapRunStatus(ev.Status)

	forcedStatus := domain.SpanStatusOK
	if sess.run.Status == domain.RunStatusError {
		forcedStatus = domain.SpanStatusAborted
	}

	var closedSpans []*domain.Span
	for id, span := range sess.active {
		closeSpan(span, end, forcedStatus, nil)
		delete(sess.active, id)
		delete(s.pending, id)
		closedSpans = append(closedSpans, span)
	}

	var endedAgents []*domain.Agent
	for _, id := range sess.agentOrder {
		agent := sess.agents[id]
		if agent.EndedAt == nil {
			agent.EndedAt = &end
			endedAgents = append(endedAgents, agent)
		}
	}
	s.mu.Unlock()

	for _, span := range closedSpans {
		s.persistSpan(sess.run.RunID, span)
		s.publish(domain.TraceUpdate{Type: domain.UpdateSpanEnd, RunID: sess.run.RunID, Ts: end, Span: cloneSpan(span)})
	}
	for _, agent := range endedAgents {
		s.persistAgent(sess.run.RunID, agent)
		s.publish(domain.TraceUpdate{Type: domain.UpdateAgentEnd, RunID: sess.run.RunID, Ts: end, Agent: cloneAgent(agent)})
	}
	s.persistRun(sess)
	s.publish(domain.TraceUpdate{Type: domain.UpdateRunEnd, RunID: sess.run.RunID, Ts: end, Run: cloneRun(sess.run)})
}

func (s *Store) applyToolStart(ev *domain.Event) {
	// A start may legitimately arrive before its session-start under
	// reordering, so the session is created lazily.
	sess, created := s.getOrCreateSession(ev)
	if created {
		s.persistRun(sess)
		s.persistAgent(sess.run.RunID, sess.agents[sess.run.RunID])
		s.publish(domain.TraceUpdate{Type: domain.UpdateRunStart, RunID: sess.run.RunID, Ts: ev.Ts, Run: cloneRun(sess.run)})
		s.publish(domain.TraceUpdate{Type: domain.UpdateAgentStart, RunID: sess.run.RunID, Ts: ev.Ts, Agent: cloneAgent(sess.agents[sess.run.RunID])})
	}

	spanID := ev.SpanID
	if spanID == "" {
		spanID = "span_" + uuid.New().String()[:8]
	}

	s.mu.Lock()
	// An explicit agent id we have not seen yet registers the agent
	// lazily; its own subagent-start may still be in flight.
	var joined *domain.Agent
	if ev.AgentID != "" && ev.AgentID != sess.run.RunID && ev.Tool != domain.ToolTask {
		if _, known := sess.agents[ev.AgentID]; !known {
			joined = &domain.Agent{
				AgentID:       ev.AgentID,
				RunID:         sess.run.RunID,
				Name:          agentDisplayName(ev, ev.AgentID),
				ParentAgentID: parentOrMain(ev, sess.run.RunID),
				StartedAt:     ev.Ts,
			}
			sess.agents[joined.AgentID] = joined
			sess.agentOrder = append(sess.agentOrder, joined.AgentID)
		}
	}
	if runID, dup := s.pending[spanID]; dup {
		// Duplicate start: keep the original tool name and identity, a
		// replayed start must never reclassify an in-flight span.
		if owner, ok := s.sessions[runID]; ok {
			if existing, ok := owner.active[spanID]; ok && existing.InputPreview == "" && ev.ToolInput != nil {
				existing.InputPreview = sanitize.Preview(ev.ToolInput)
			}
		}
		s.mu.Unlock()
		return
	}

	span := &domain.Span{
		SpanID:       spanID,
		AgentID:      s.resolveAgentLocked(sess, ev),
		ParentSpanID: ev.ParentSpanID,
		Tool:         ev.Tool,
		HookName:     ev.HookName,
		TurnID:       ev.TurnID,
		StartedAt:    ev.Ts,
		Status:       domain.SpanStatusRunning,
		InputPreview: sanitize.Preview(ev.ToolInput),
		Files:        sanitize.FilePaths(ev.ToolInput),
	}
	sess.spans = append(sess.spans, span)
	sess.active[spanID] = span
	s.pending[spanID] = sess.run.RunID
	s.mu.Unlock()

	if joined != nil {
		s.persistAgent(sess.run.RunID, joined)
		s.publish(domain.TraceUpdate{Type: domain.UpdateAgentStart, RunID: sess.run.RunID, Ts: ev.Ts, Agent: cloneAgent(joined)})
	}
	s.persistSpan(sess.run.RunID, span)
	s.publish(domain.TraceUpdate{Type: domain.UpdateSpanStart, RunID: sess.run.RunID, Ts: ev.Ts, Span: cloneSpan(span)})
}

func (s *Store) applyToolEnd(ev *domain.Event) {
	s.resolveAndClose(ev, domain.SpanStatusOK, "")
}

func (s *Store) applyToolFailure(ev *domain.Event) {
	s.resolveAndClose(ev, mapFailureStatus(ev.ErrorKind), ev.ErrorMessage)
}

// resolveAndClose finds the span a terminating event belongs to and
// closes it. Resolution is exact id lookup in the pending index first;
// producers that omit the id on the terminating event fall back to the
// most recently started still-running span in the session whose tool
// name matches, else any running span. No candidate means no mutation.
func (s *Store) resolveAndClose(ev *domain.Event, status domain.SpanStatus, errMsg string) {
	s.mu.Lock()
	sess, span := s.resolveSpanLocked(ev)
	if span == nil {
		s.mu.Unlock()
		log.Printf("WARN: no matching span for %s event (session=%s span=%s tool=%s)", ev.Kind, ev.SessionID, ev.SpanID, ev.Tool)
		return
	}
	sess.touched = time.Now()

	closeSpan(span, ev.Ts, status, ev.DurationMs)
	if ev.ToolOutput != nil {
		span.OutputPreview = sanitize.Preview(ev.ToolOutput)
	}
	if errMsg != "" {
		span.ErrorMessage = sanitize.Truncate(sanitize.Redact(errMsg))
	}
	delete(sess.active, span.SpanID)
	delete(s.pending, span.SpanID)
	s.mu.Unlock()

	s.persistSpan(sess.run.RunID, span)
	s.publish(domain.TraceUpdate{Type: domain.UpdateSpanEnd, RunID: sess.run.RunID, Ts: ev.Ts, Span: cloneSpan(span)})
}

// resolveSpanLocked implements the correlation rule. Caller holds s.mu.
func (s *Store) resolveSpanLocked(ev *domain.Event) (*session, *domain.Span) {
	if ev.SpanID != "" {
		if runID, ok := s.pending[ev.SpanID]; ok {
			if sess, ok := s.sessions[runID]; ok {
				if span, ok := sess.active[ev.SpanID]; ok {
					return sess, span
				}
			}
		}
	}

	sess, ok := s.sessions[ev.SessionID]
	if !ok {
		return nil, nil
	}

	var toolMatch, anyMatch *domain.Span
	for _, span := range sess.active {
		if anyMatch == nil || span.StartedAt > anyMatch.StartedAt {
			anyMatch = span
		}
		if ev.Tool != "" && span.Tool == ev.Tool {
			if toolMatch == nil || span.StartedAt > toolMatch.StartedAt {
				toolMatch = span
			}
		}
	}
	best := toolMatch
	if best == nil {
		best = anyMatch
	}
	if best == nil {
		return nil, nil
	}
	return sess, best
}

func (s *Store) applySubagentStart(ev *domain.Event) {
	sess, created := s.getOrCreateSession(ev)
	if created {
		s.persistRun(sess)
		s.persistAgent(sess.run.RunID, sess.agents[sess.run.RunID])
		s.publish(domain.TraceUpdate{Type: domain.UpdateRunStart, RunID: sess.run.RunID, Ts: ev.Ts, Run: cloneRun(sess.run)})
		s.publish(domain.TraceUpdate{Type: domain.UpdateAgentStart, RunID: sess.run.RunID, Ts: ev.Ts, Agent: cloneAgent(sess.agents[sess.run.RunID])})
	}

	agentID := ev.AgentID
	if agentID == "" {
		agentID = "agent_" + uuid.New().String()[:8]
	}

	s.mu.Lock()
	agent, known := sess.agents[agentID]
	if known {
		// Merge: a caller-supplied display name or late metadata wins
		// over placeholders, identity fields stay put.
		if ev.AgentName != "" {
			agent.Name = ev.AgentName
		}
		if agent.Model == "" {
			agent.Model = ev.Model
		}
		if agent.AgentType == "" {
			agent.AgentType = ev.AgentType
		}
		if agent.TranscriptPath == "" {
			agent.TranscriptPath = ev.TranscriptPath
		}
	} else {
		agent = &domain.Agent{
			AgentID:        agentID,
			RunID:          sess.run.RunID,
			Name:           agentDisplayName(ev, agentID),
			ParentAgentID:  parentOrMain(ev, sess.run.RunID),
			Model:          ev.Model,
			AgentType:      ev.AgentType,
			TranscriptPath: ev.TranscriptPath,
			StartedAt:      ev.Ts,
		}
		sess.agents[agentID] = agent
		sess.agentOrder = append(sess.agentOrder, agentID)
	}
	s.mu.Unlock()

	s.persistAgent(sess.run.RunID, agent)
	s.publish(domain.TraceUpdate{Type: domain.UpdateAgentStart, RunID: sess.run.RunID, Ts: ev.Ts, Agent: cloneAgent(agent)})
}

func (s *Store) applySubagentStop(ev *domain.Event) {
	s.mu.Lock()
	sess, ok := s.sessions[ev.SessionID]
	if !ok {
		s.mu.Unlock()
		log.Printf("WARN: subagent stop for unknown session %s", ev.SessionID)
		return
	}
	agent, ok := sess.agents[ev.AgentID]
	if !ok {
		s.mu.Unlock()
		log.Printf("WARN: subagent stop for unknown agent %s in session %s", ev.AgentID, ev.SessionID)
		return
	}
	sess.touched = time.Now()

	end := ev.Ts
	agent.EndedAt = &end
	if agent.TranscriptPath == "" && ev.TranscriptPath != "" {
		agent.TranscriptPath = ev.TranscriptPath
	}

	// Scoped force-close: only this agent's spans; other agents' open
	// spans stay untouched.
	var closed []*domain.Span
	for id, span := range sess.active {
		if span.AgentID != agent.AgentID {
			continue
		}
		closeSpan(span, end, domain.SpanStatusOK, nil)
		delete(sess.active, id)
		delete(s.pending, id)
		closed = append(closed, span)
	}
	s.mu.Unlock()

	for _, span := range closed {
		s.persistSpan(sess.run.RunID, span)
		s.publish(domain.TraceUpdate{Type: domain.UpdateSpanEnd, RunID: sess.run.RunID, Ts: end, Span: cloneSpan(span)})
	}
	s.persistAgent(sess.run.RunID, agent)
	s.publish(domain.TraceUpdate{Type: domain.UpdateAgentEnd, RunID: sess.run.RunID, Ts: end, Agent: cloneAgent(agent)})
}

func (s *Store) applyThinkingStart(ev *domain.Event) {
	synth := *ev
	synth.Tool = domain.ToolThinking
	if synth.Thinking != "" && synth.ToolInput == nil {
		synth.ToolInput = map[string]any{"thinking": synth.Thinking}
	}
	s.applyToolStart(&synth)
}

// applyThinkingEnd closes the one running thinking span belonging to the
// same agent. Matched by agent, not by span id: producers do not carry
// the id across the thinking window.
func (s *Store) applyThinkingEnd(ev *domain.Event) {
	s.mu.Lock()
	sess, ok := s.sessions[ev.SessionID]
	if !ok {
		s.mu.Unlock()
		log.Printf("WARN: thinking end for unknown session %s", ev.SessionID)
		return
	}
	agentID := s.resolveAgentLocked(sess, ev)

	var span *domain.Span
	for _, candidate := range sess.active {
		if candidate.Tool == domain.ToolThinking && candidate.AgentID == agentID {
			span = candidate
			break
		}
	}
	if span == nil {
		s.mu.Unlock()
		log.Printf("WARN: no running thinking span for agent %s in session %s", agentID, ev.SessionID)
		return
	}
	sess.touched = time.Now()

	closeSpan(span, ev.Ts, domain.SpanStatusOK, ev.DurationMs)
	if ev.Thinking != "" {
		span.OutputPreview = sanitize.Preview(ev.Thinking)
	}
	delete(sess.active, span.SpanID)
	delete(s.pending, span.SpanID)
	s.mu.Unlock()

	s.persistSpan(sess.run.RunID, span)
	s.publish(domain.TraceUpdate{Type: domain.UpdateSpanEnd, RunID: sess.run.RunID, Ts: ev.Ts, Span: cloneSpan(span)})
}

// applyContextCompact records an instantaneous synthetic span: there is
// no asynchronous window, so start and end are emitted together.
func (s *Store) applyContextCompact(ev *domain.Event) {
	sess, created := s.getOrCreateSession(ev)
	if created {
		s.persistRun(sess)
		s.persistAgent(sess.run.RunID, sess.agents[sess.run.RunID])
		s.publish(domain.TraceUpdate{Type: domain.UpdateRunStart, RunID: sess.run.RunID, Ts: ev.Ts, Run: cloneRun(sess.run)})
		s.publish(domain.TraceUpdate{Type: domain.UpdateAgentStart, RunID: sess.run.RunID, Ts: ev.Ts, Agent: cloneAgent(sess.agents[sess.run.RunID])})
	}

	end := ev.Ts
	zero := int64(0)
	s.mu.Lock()
	span := &domain.Span{
		SpanID:       "span_" + uuid.New().String()[:8],
		AgentID:      s.resolveAgentLocked(sess, ev),
		Tool:         domain.ToolCompact,
		HookName:     ev.HookName,
		StartedAt:    ev.Ts,
		EndedAt:      &end,
		DurationMs:   &zero,
		Status:       domain.SpanStatusOK,
		InputPreview: fmt.Sprintf("usage %.1f%%, %d tokens, %d messages", ev.UsagePercent, ev.TokenCount, ev.MessageCount),
	}
	sess.spans = append(sess.spans, span)
	s.mu.Unlock()

	s.persistSpan(sess.run.RunID, span)
	s.publish(domain.TraceUpdate{Type: domain.UpdateSpanStart, RunID: sess.run.RunID, Ts: ev.Ts, Span: cloneSpan(span)})
	s.publish(domain.TraceUpdate{Type: domain.UpdateSpanEnd, RunID: sess.run.RunID, Ts: ev.Ts, Span: cloneSpan(span)})
}

// applyPromptSubmit produces no span; it only backfills the run's
// initial prompt when unset.
func (s *Store) applyPromptSubmit(ev *domain.Event) {
	if ev.Prompt == "" {
		return
	}
	s.mu.Lock()
	sess, ok := s.sessions[ev.SessionID]
	if !ok || sess.run.InitialPrompt != "" {
		s.mu.Unlock()
		return
	}
	sess.run.InitialPrompt = sanitize.Truncate(ev.Prompt)
	sess.touched = time.Now()
	s.mu.Unlock()

	s.persistRun(sess)
	s.publish(domain.TraceUpdate{Type: domain.UpdateRunUpdate, RunID: sess.run.RunID, Ts: ev.Ts, Run: cloneRun(sess.run)})
}

// resolveAgentLocked attributes an event to an agent. A Task start
// always belongs to the calling agent, never to a currently active
// subagent. Events without an explicit agent id go to the most recently
// started still-active subagent, else to the main agent. Caller holds
// s.mu.
func (s *Store) resolveAgentLocked(sess *session, ev *domain.Event) string {
	if ev.AgentID != "" {
		if _, known := sess.agents[ev.AgentID]; known && (ev.Tool != domain.ToolTask || ev.AgentID == sess.run.RunID) {
			return ev.AgentID
		}
	}
	if ev.Tool == domain.ToolTask {
		return sess.run.RunID
	}
	var latest *domain.Agent
	for _, id := range sess.agentOrder {
		agent := sess.agents[id]
		if agent.AgentID == sess.run.RunID || agent.EndedAt != nil {
			continue
		}
		if latest == nil || agent.StartedAt > latest.StartedAt {
			latest = agent
		}
	}
	if latest != nil {
		return latest.AgentID
	}
	return sess.run.RunID
}

// closeSpan moves a span to a terminal state. EndedAt and DurationMs are
// always set afterwards; an explicit duration wins over the computed one.
func closeSpan(span *domain.Span, end int64, status domain.SpanStatus, explicitMs *int64) {
	if end < span.StartedAt {
		end = span.StartedAt
	}
	span.EndedAt = &end
	span.Status = status
	if explicitMs != nil {
		span.DurationMs = explicitMs
	} else {
		d := end - span.StartedAt
		span.DurationMs = &d
	}
}

func mapRunStatus(status string) domain.RunStatus {
	switch status {
	case "aborted", "cancelled", "canceled":
		return domain.RunStatusAborted
	case "error", "failed":
		return domain.RunStatusError
	default:
		return domain.RunStatusCompleted
	}
}

func mapFailureStatus(kind string) domain.SpanStatus {
	switch kind {
	case "timeout":
		return domain.SpanStatusTimeout
	case "permission_denied", "permissionDenied":
		return domain.SpanStatusPermissionDenied
	default:
		return domain.SpanStatusError
	}
}

func agentDisplayName(ev *domain.Event, fallback string) string {
	if ev.AgentName != "" {
		return ev.AgentName
	}
	if ev.AgentType != "" {
		return ev.AgentType
	}
	return fallback
}

func parentOrMain(ev *domain.Event, mainID string) string {
	if ev.ParentAgentID != "" {
		return ev.ParentAgentID
	}
	return mainID
}
