// Package wal is the append-only persistence log: one JSONL record
// stream per session, replayed at startup to rebuild in-memory state.
// The log is the ground truth; the trace store's registries are a
// deterministic projection of it.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
)

// RecordKind identifies what a log record snapshots.
type RecordKind string

const (
	RecordRun   RecordKind = "run"
	RecordAgent RecordKind = "agent"
	RecordSpan  RecordKind = "span"
)

// Record is one self-describing log line. On replay, later records of
// the same kind and id supersede earlier ones.
type Record struct {
	Kind RecordKind      `json:"kind"`
	Ts   int64           `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// SessionState is the result of folding one session's log.
type SessionState struct {
	Run    *domain.Run
	Agents []*domain.Agent
	Spans  []*domain.Span
}

// Log appends records to per-session JSONL files, opened lazily on the
// session's first record.
type Log struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// New creates the log directory if needed.
func New(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	return &Log{dir: dir, files: make(map[string]*os.File)}, nil
}

// Dir returns the log directory.
func (l *Log) Dir() string { return l.dir }

// Path returns the log file path for a session id.
func (l *Log) Path(sessionID string) string {
	return filepath.Join(l.dir, fileNameFor(sessionID))
}

// AppendRun appends a run snapshot to the session's log.
func (l *Log) AppendRun(sessionID string, run *domain.Run) error {
	return l.append(sessionID, RecordRun, run)
}

// AppendAgent appends an agent snapshot to the session's log.
func (l *Log) AppendAgent(sessionID string, agent *domain.Agent) error {
	return l.append(sessionID, RecordAgent, agent)
}

// AppendSpan appends a span snapshot to the session's log.
func (l *Log) AppendSpan(sessionID string, span *domain.Span) error {
	return l.append(sessionID, RecordSpan, span)
}

func (l *Log) append(sessionID string, kind RecordKind, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", kind, err)
	}
	line, err := json.Marshal(Record{Kind: kind, Ts: time.Now().UnixMilli(), Data: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.file(sessionID)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

// file returns the session's open append handle, opening it lazily.
// Caller holds l.mu.
func (l *Log) file(sessionID string) (*os.File, error) {
	if f, ok := l.files[sessionID]; ok {
		return f, nil
	}
	f, err := os.OpenFile(l.Path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	l.files[sessionID] = f
	return f, nil
}

// Release closes the open handle for a session, if any. Used when the
// session is evicted from memory; the file stays on disk for replay.
func (l *Log) Release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.files[sessionID]; ok {
		f.Close()
		delete(l.files, sessionID)
	}
}

// Close closes all open session logs.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, f := range l.files {
		f.Close()
		delete(l.files, id)
	}
	return nil
}

// ReplayRecent folds the most recently modified session logs, newest
// first, up to limit files. Corrupt files are skipped, not fatal.
func (l *Log) ReplayRecent(limit int) ([]*SessionState, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read log dir: %w", err)
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(l.dir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	var states []*SessionState
	for _, c := range candidates {
		state, err := ReplayFile(c.path)
		if err != nil || state.Run == nil {
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

// ReplayFile folds one session log. Later records of the same kind and
// id win. Malformed or partially written lines are skipped individually
// so a crash mid-append never loses the rest of the file.
func ReplayFile(path string) (*SessionState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	defer f.Close()

	state := &SessionState{}
	agents := make(map[string]int)
	spans := make(map[string]int)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		switch rec.Kind {
		case RecordRun:
			var run domain.Run
			if err := json.Unmarshal(rec.Data, &run); err != nil || run.RunID == "" {
				continue
			}
			state.Run = &run
		case RecordAgent:
			var agent domain.Agent
			if err := json.Unmarshal(rec.Data, &agent); err != nil || agent.AgentID == "" {
				continue
			}
			if i, ok := agents[agent.AgentID]; ok {
				state.Agents[i] = &agent
			} else {
				agents[agent.AgentID] = len(state.Agents)
				state.Agents = append(state.Agents, &agent)
			}
		case RecordSpan:
			var span domain.Span
			if err := json.Unmarshal(rec.Data, &span); err != nil || span.SpanID == "" {
				continue
			}
			if i, ok := spans[span.SpanID]; ok {
				state.Spans[i] = &span
			} else {
				spans[span.SpanID] = len(state.Spans)
				state.Spans = append(state.Spans, &span)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return state, nil // trailing garbage; keep what we folded
	}
	return state, nil
}

// fileNameFor maps a session id to a safe file name.
func fileNameFor(sessionID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, sessionID)
	return safe + ".jsonl"
}
