// Package normalize maps arbitrary producer payloads into the canonical
// event shape. Producers disagree on field names and often omit the event
// kind or tool name, so each canonical field has an ordered alias list and
// missing values are inferred from the hook name or from which other
// fields are present. Normalization never fails hard: the worst outcome
// for a payload is a drop signal.
package normalize

import (
	"strings"
	"time"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
)

// Alias tables, first non-null value wins. The order within each list is
// part of the contract: an explicit field beats a conversation-id-style
// field beats a session-id-style field.
var (
	kindAliases          = []string{"kind", "eventType", "event", "type"}
	tsAliases            = []string{"ts", "timestamp", "time"}
	sessionIDAliases     = []string{"sessionId", "conversationId", "conversation_id", "session_id"}
	agentIDAliases       = []string{"agentId", "agent_id", "subagentId", "subagent_id"}
	parentAgentIDAliases = []string{"parentAgentId", "parent_agent_id"}
	spanIDAliases        = []string{"spanId", "toolUseId", "tool_use_id", "span_id", "callId", "call_id"}
	parentSpanIDAliases  = []string{"parentSpanId", "parent_span_id", "parentToolUseId"}
	toolAliases          = []string{"tool", "toolName", "tool_name"}
	toolInputAliases     = []string{"toolInput", "tool_input", "input", "args"}
	toolOutputAliases    = []string{"toolOutput", "tool_output", "toolResponse", "tool_response", "output", "result"}
	hookNameAliases      = []string{"hookName", "hook_name", "hookEventName", "hook_event_name", "hook"}
	turnIDAliases        = []string{"turnId", "turn_id", "generationId", "generation_id"}
	modelAliases         = []string{"model", "modelName", "model_name"}
	agentTypeAliases     = []string{"agentType", "agent_type", "subagentType", "subagent_type"}
	agentNameAliases     = []string{"agentName", "agent_name", "description"}
	sourceAliases        = []string{"source", "producer"}
	durationAliases      = []string{"durationMs", "duration_ms", "duration"}
	errorMsgAliases      = []string{"error", "errorMessage", "error_message"}
	errorKindAliases     = []string{"errorKind", "error_kind", "failureKind", "failure_kind"}
	statusAliases        = []string{"status", "stopReason", "stop_reason"}
	projectRootAliases   = []string{"projectRoot", "project_root", "workspaceRoot", "workspace_root", "cwd"}
	transcriptAliases    = []string{"transcriptPath", "transcript_path"}
	promptAliases        = []string{"prompt", "userPrompt", "user_prompt"}
	responseAliases      = []string{"response", "finalResponse", "final_response", "text"}
	thinkingAliases      = []string{"thinking", "thought"}
	usagePctAliases      = []string{"usagePercent", "usage_percent", "contextUsagePercent"}
	tokenCountAliases    = []string{"tokenCount", "token_count", "tokens"}
	messageCountAliases  = []string{"messageCount", "message_count"}
)

// hookRule maps a hook-name substring to behavior. Rules are evaluated in
// order against the lowercased, separator-stripped hook name; the first
// rule to supply a kind and the first to supply a tool win independently,
// so "afterShellExecution" resolves the Shell tool from one rule and the
// end kind from another. A rule with noTool set marks hooks that never
// represent a user-visible tool call and must not produce a span.
type hookRule struct {
	pattern string
	kind    domain.EventKind
	tool    string
	noTool  bool
}

// Ordering note: the subagent patterns sit ahead of the bare "stop"
// substring so a subagent-stop hook is not swallowed by the stop rule.
var hookRules = []hookRule{
	{pattern: "sessionstart", kind: domain.EventSessionStart},
	{pattern: "sessionend", kind: domain.EventSessionEnd},
	{pattern: "subagentstart", kind: domain.EventSubagentStart},
	{pattern: "subagentstop", kind: domain.EventSubagentStop},
	{pattern: "stop", kind: domain.EventStop},
	{pattern: "compact", kind: domain.EventContextCompact, noTool: true},
	{pattern: "promptsubmit", kind: domain.EventBeforeSubmitPrompt, noTool: true},
	{pattern: "userprompt", kind: domain.EventBeforeSubmitPrompt, noTool: true},
	{pattern: "thinkingstart", kind: domain.EventThinkingStart, noTool: true},
	{pattern: "thinkingend", kind: domain.EventThinkingEnd, noTool: true},
	{pattern: "thought", kind: domain.EventThinkingEnd, noTool: true},
	{pattern: "response", kind: domain.EventAgentResponse, noTool: true},
	{pattern: "filevisib", kind: domain.EventAgentResponse, noTool: true},
	{pattern: "contextfile", kind: domain.EventAgentResponse, noTool: true},
	{pattern: "shellexec", tool: domain.ToolShell},
	{pattern: "mcpexec", tool: domain.ToolMCP},
	{pattern: "failure", kind: domain.EventToolFailure},
	{pattern: "errored", kind: domain.EventToolFailure},
	{pattern: "pre", kind: domain.EventToolStart},
	{pattern: "before", kind: domain.EventToolStart},
	{pattern: "post", kind: domain.EventToolEnd},
	{pattern: "after", kind: domain.EventToolEnd},
}

// Normalize converts a raw producer payload into a canonical event. The
// second return value is false when the payload cannot be made useful
// (no session id, or no event kind even after inference) and should be
// dropped. It never panics on malformed input.
func Normalize(raw map[string]any) (*domain.Event, bool) {
	if raw == nil {
		return nil, false
	}

	ev := &domain.Event{
		SessionID:      CleanID(firstString(raw, sessionIDAliases)),
		AgentID:        CleanID(firstString(raw, agentIDAliases)),
		ParentAgentID:  CleanID(firstString(raw, parentAgentIDAliases)),
		SpanID:         CleanID(firstString(raw, spanIDAliases)),
		ParentSpanID:   CleanID(firstString(raw, parentSpanIDAliases)),
		Tool:           firstString(raw, toolAliases),
		HookName:       firstString(raw, hookNameAliases),
		TurnID:         firstString(raw, turnIDAliases),
		Model:          firstString(raw, modelAliases),
		AgentType:      firstString(raw, agentTypeAliases),
		AgentName:      firstString(raw, agentNameAliases),
		Source:         firstString(raw, sourceAliases),
		ErrorMessage:   firstString(raw, errorMsgAliases),
		ErrorKind:      firstString(raw, errorKindAliases),
		Status:         firstString(raw, statusAliases),
		ProjectRoot:    firstString(raw, projectRootAliases),
		TranscriptPath: firstString(raw, transcriptAliases),
		Prompt:         firstString(raw, promptAliases),
		Response:       firstString(raw, responseAliases),
		Thinking:       firstString(raw, thinkingAliases),
		UsagePercent:   firstFloat(raw, usagePctAliases),
	}

	ev.Kind = domain.EventKind(firstString(raw, kindAliases))
	ev.Ts = firstTimestamp(raw, tsAliases)
	if ev.Ts == 0 {
		ev.Ts = time.Now().UnixMilli()
	}
	if v, ok := firstInt64(raw, durationAliases); ok {
		ev.DurationMs = &v
	}
	if v, ok := firstInt64(raw, tokenCountAliases); ok {
		ev.TokenCount = v
	}
	if v, ok := firstInt64(raw, messageCountAliases); ok {
		ev.MessageCount = v
	}
	if in, ok := firstValue(raw, toolInputAliases); ok {
		if m, ok := in.(map[string]any); ok {
			ev.ToolInput = m
		} else {
			ev.ToolInput = map[string]any{"value": in}
		}
	}
	if out, ok := firstValue(raw, toolOutputAliases); ok {
		ev.ToolOutput = out
	}
	if atts, ok := firstValue(raw, []string{"attachments"}); ok {
		if list, ok := atts.([]any); ok {
			for _, a := range list {
				if s, ok := a.(string); ok {
					ev.Attachments = append(ev.Attachments, s)
				}
			}
		}
	}

	hookKind, hookTool, noTool := matchHook(ev.HookName)
	if ev.Kind == "" {
		ev.Kind = hookKind
	}
	if ev.Kind == "" {
		ev.Kind = inferKindFromFields(ev)
	}
	if ev.Tool == "" && !noTool {
		ev.Tool = hookTool
	}
	if noTool {
		ev.Tool = ""
	}
	if ev.Source == "" {
		ev.Source = inferSource(raw)
	}

	if ev.SessionID == "" || ev.Kind == "" {
		return nil, false
	}
	return ev, true
}

// CleanID strips embedded line-break characters from an identifier. A
// known producer emits ids with a trailing newline, so the same logical
// id can arrive both with and without the defect; stripping here keeps
// the two correlating to the same session or span.
func CleanID(id string) string {
	if !strings.ContainsAny(id, "\n\r") {
		return id
	}
	id = strings.ReplaceAll(id, "\n", "")
	return strings.ReplaceAll(id, "\r", "")
}

// matchHook resolves hook-name driven behavior via the ordered rule table.
func matchHook(hookName string) (kind domain.EventKind, tool string, noTool bool) {
	if hookName == "" {
		return "", "", false
	}
	needle := foldHookName(hookName)
	for _, r := range hookRules {
		if !strings.Contains(needle, r.pattern) {
			continue
		}
		if kind == "" {
			kind = r.kind
		}
		if tool == "" {
			tool = r.tool
		}
		noTool = noTool || r.noTool
		if kind != "" {
			break
		}
	}
	return kind, tool, noTool
}

// inferKindFromFields guesses the event kind from which fields are
// present, the last resort when neither the producer nor the hook name
// says what happened.
func inferKindFromFields(ev *domain.Event) domain.EventKind {
	switch {
	case ev.ErrorMessage != "" || ev.ErrorKind != "":
		return domain.EventToolFailure
	case ev.ToolOutput != nil || ev.DurationMs != nil:
		return domain.EventToolEnd
	case ev.Tool != "":
		return domain.EventToolStart
	}
	return ""
}

// inferSource guesses the producer from which id-style field carried the
// session id.
func inferSource(raw map[string]any) string {
	for _, key := range []string{"conversationId", "conversation_id"} {
		if s, ok := raw[key].(string); ok && s != "" {
			return "cursor"
		}
	}
	if s, ok := raw["session_id"].(string); ok && s != "" {
		return "claude-code"
	}
	return "unknown"
}

func foldHookName(name string) string {
	name = strings.ToLower(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', '.', ' ', ':':
			return -1
		}
		return r
	}, name)
}

func firstValue(raw map[string]any, aliases []string) (any, bool) {
	for _, key := range aliases {
		if v, ok := raw[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(raw map[string]any, aliases []string) string {
	for _, key := range aliases {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func firstInt64(raw map[string]any, aliases []string) (int64, bool) {
	for _, key := range aliases {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int64(n), true
		case int64:
			return n, true
		case int:
			return int64(n), true
		}
	}
	return 0, false
}

func firstFloat(raw map[string]any, aliases []string) float64 {
	for _, key := range aliases {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return 0
}

// firstTimestamp accepts unix milliseconds (number) or RFC3339 strings.
func firstTimestamp(raw map[string]any, aliases []string) int64 {
	for _, key := range aliases {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return int64(t)
		case int64:
			return t
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return parsed.UnixMilli()
			}
		}
	}
	return 0
}
