// Package domain defines the core domain models for the observability service.
package domain

// RunStatus represents the status of a run (one agent conversation).
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
	RunStatusError     RunStatus = "error"
)

// SpanStatus represents the status of a span (one tool execution).
// A span is created running and moves to exactly one terminal state.
type SpanStatus string

const (
	SpanStatusRunning          SpanStatus = "running"
	SpanStatusOK               SpanStatus = "ok"
	SpanStatusError            SpanStatus = "error"
	SpanStatusTimeout          SpanStatus = "timeout"
	SpanStatusPermissionDenied SpanStatus = "permission_denied"
	SpanStatusAborted          SpanStatus = "aborted"
)

// IsTerminal reports whether the status is a terminal span state.
func (s SpanStatus) IsTerminal() bool {
	return s != "" && s != SpanStatusRunning
}

// EventKind identifies the canonical kind of an ingested event.
type EventKind string

const (
	EventSessionStart       EventKind = "sessionStart"
	EventSessionEnd         EventKind = "sessionEnd"
	EventToolStart          EventKind = "toolStart"
	EventToolEnd            EventKind = "toolEnd"
	EventToolFailure        EventKind = "toolFailure"
	EventSubagentStart      EventKind = "subagentStart"
	EventSubagentStop       EventKind = "subagentStop"
	EventStop               EventKind = "stop"
	EventThinkingStart      EventKind = "thinkingStart"
	EventThinkingEnd        EventKind = "thinkingEnd"
	EventContextCompact     EventKind = "contextCompact"
	EventAgentResponse      EventKind = "agentResponse"
	EventBeforeSubmitPrompt EventKind = "beforeSubmitPrompt"

	// Execution-specific variants. They route through the same
	// toolStart/toolEnd/toolFailure transitions in the trace store.
	EventShellStart    EventKind = "shellStart"
	EventShellEnd      EventKind = "shellEnd"
	EventMCPStart      EventKind = "mcpStart"
	EventMCPEnd        EventKind = "mcpEnd"
	EventFileEditStart EventKind = "fileEditStart"
	EventFileEditEnd   EventKind = "fileEditEnd"
	EventTabFileStart  EventKind = "tabFileStart"
	EventTabFileEnd    EventKind = "tabFileEnd"
)

// Tool name sentinels for synthetic spans.
const (
	ToolTask     = "Task"
	ToolThinking = "Thinking"
	ToolCompact  = "Compact"
	ToolShell    = "Shell"
	ToolMCP      = "MCP"
)

// Run represents a single agent conversation.
type Run struct {
	RunID          string    `json:"runId"`
	Source         string    `json:"source,omitempty"`
	Status         RunStatus `json:"status"`
	StartedAt      int64     `json:"startedAt"` // Unix milliseconds
	EndedAt        *int64    `json:"endedAt,omitempty"`
	ProjectRoot    string    `json:"projectRoot,omitempty"`
	TranscriptPath string    `json:"transcriptPath,omitempty"`
	InitialPrompt  string    `json:"initialPrompt,omitempty"`
}

// Agent represents a participant within a run: the main agent or a
// subagent spawned via the Task tool. The main agent's id equals the
// run id by convention.
type Agent struct {
	AgentID        string `json:"agentId"`
	RunID          string `json:"runId"`
	Name           string `json:"name"`
	ParentAgentID  string `json:"parentAgentId,omitempty"`
	Model          string `json:"model,omitempty"`
	AgentType      string `json:"agentType,omitempty"`
	TranscriptPath string `json:"transcriptPath,omitempty"`
	StartedAt      int64  `json:"startedAt"`
	EndedAt        *int64 `json:"endedAt,omitempty"`
}

// Span represents one tool execution. Once the status is terminal,
// EndedAt and DurationMs are always set.
type Span struct {
	SpanID        string     `json:"spanId"`
	AgentID       string     `json:"agentId"`
	ParentSpanID  string     `json:"parentSpanId,omitempty"`
	Tool          string     `json:"tool"`
	HookName      string     `json:"hookName,omitempty"`
	TurnID        string     `json:"turnId,omitempty"`
	StartedAt     int64      `json:"startedAt"`
	EndedAt       *int64     `json:"endedAt,omitempty"`
	DurationMs    *int64     `json:"durationMs,omitempty"`
	Status        SpanStatus `json:"status"`
	InputPreview  string     `json:"inputPreview,omitempty"`
	OutputPreview string     `json:"outputPreview,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	Files         []string   `json:"files,omitempty"`
}

// UpdateType identifies the kind of state change a TraceUpdate carries.
type UpdateType string

const (
	UpdateSpanStart  UpdateType = "spanStart"
	UpdateSpanEnd    UpdateType = "spanEnd"
	UpdateAgentStart UpdateType = "agentStart"
	UpdateAgentEnd   UpdateType = "agentEnd"
	UpdateRunStart   UpdateType = "runStart"
	UpdateRunEnd     UpdateType = "runEnd"
	UpdateRunUpdate  UpdateType = "runUpdate"
)

// TraceUpdate is an immutable delta describing one state change. It
// carries the affected run id and the full updated entity.
type TraceUpdate struct {
	Type  UpdateType `json:"type"`
	RunID string     `json:"runId"`
	Ts    int64      `json:"ts"`
	Run   *Run       `json:"run,omitempty"`
	Agent *Agent     `json:"agent,omitempty"`
	Span  *Span      `json:"span,omitempty"`
}

// Event is the canonical normalized form of an ingested producer payload.
// Every field is optional on the wire; the normalizer fills what it can.
type Event struct {
	Kind           EventKind      `json:"kind,omitempty"`
	Ts             int64          `json:"ts,omitempty"` // Unix milliseconds
	SessionID      string         `json:"sessionId,omitempty"`
	AgentID        string         `json:"agentId,omitempty"`
	ParentAgentID  string         `json:"parentAgentId,omitempty"`
	SpanID         string         `json:"spanId,omitempty"`
	ParentSpanID   string         `json:"parentSpanId,omitempty"`
	Tool           string         `json:"tool,omitempty"`
	ToolInput      map[string]any `json:"toolInput,omitempty"`
	ToolOutput     any            `json:"toolOutput,omitempty"`
	HookName       string         `json:"hookName,omitempty"`
	TurnID         string         `json:"turnId,omitempty"`
	Model          string         `json:"model,omitempty"`
	AgentType      string         `json:"agentType,omitempty"`
	AgentName      string         `json:"agentName,omitempty"`
	Source         string         `json:"source,omitempty"`
	DurationMs     *int64         `json:"durationMs,omitempty"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	ErrorKind      string         `json:"errorKind,omitempty"`
	Status         string         `json:"status,omitempty"`
	ProjectRoot    string         `json:"projectRoot,omitempty"`
	TranscriptPath string         `json:"transcriptPath,omitempty"`
	Attachments    []string       `json:"attachments,omitempty"`
	Prompt         string         `json:"prompt,omitempty"`
	Response       string         `json:"response,omitempty"`
	Thinking       string         `json:"thinking,omitempty"`

	// Compaction metadata, only set for contextCompact events.
	UsagePercent float64 `json:"usagePercent,omitempty"`
	TokenCount   int64   `json:"tokenCount,omitempty"`
	MessageCount int64   `json:"messageCount,omitempty"`
}
