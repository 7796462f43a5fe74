// Package policy evaluates an OPA/rego policy against each normalized
// event before it reaches the trace store. The policy can drop an event
// outright or force its previews to be redacted (sensitive tools).
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
)

// Decisions a policy can return.
const (
	DecisionAllow  = "allow"
	DecisionDrop   = "drop"
	DecisionRedact = "redact"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.ingest_policy.decision"),
		rego.Module("ingest_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the ingest policy for one event.
// Returns one of DecisionAllow, DecisionDrop, DecisionRedact.
func (e *Engine) Evaluate(ctx context.Context, ev *domain.Event) (string, error) {
	input := map[string]any{
		"kind":     string(ev.Kind),
		"tool":     ev.Tool,
		"source":   ev.Source,
		"hookName": ev.HookName,
		"agentId":  ev.AgentID,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionAllow, nil
}

// DefaultPolicy is the default policy content: everything is allowed,
// credential-handling tools get their previews forced to the redaction
// marker.
const DefaultPolicy = `
package ingest_policy

default decision = "allow"

# Force-redact previews for credential-handling tools.
decision = "redact" {
	sensitive_tools := {"Keychain", "CredentialRead", "SecretFetch"}
	sensitive_tools[input.tool]
}
`
