package policy

import (
	"context"
	"testing"

	"github.com/Rperry2174/agent-runtime-observability/internal/domain"
)

func TestDefaultPolicyAllows(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	decision, err := engine.Evaluate(ctx, &domain.Event{Kind: domain.EventToolStart, Tool: "Read", SessionID: "s1"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision != DecisionAllow {
		t.Fatalf("expected allow, got %s", decision)
	}
}

func TestDefaultPolicyRedactsSensitiveTools(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	for _, tool := range []string{"Keychain", "CredentialRead", "SecretFetch"} {
		decision, err := engine.Evaluate(ctx, &domain.Event{Kind: domain.EventToolStart, Tool: tool, SessionID: "s1"})
		if err != nil {
			t.Fatalf("evaluate %s: %v", tool, err)
		}
		if decision != DecisionRedact {
			t.Fatalf("tool %s: expected redact, got %s", tool, decision)
		}
	}
}

func TestCustomDropPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package ingest_policy

default decision = "allow"

decision = "drop" {
	input.source == "untrusted"
}
`)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	decision, err := engine.Evaluate(ctx, &domain.Event{Kind: domain.EventToolStart, Tool: "Read", Source: "untrusted"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision != DecisionDrop {
		t.Fatalf("expected drop, got %s", decision)
	}
}

func TestInvalidPolicyRejected(t *testing.T) {
	if _, err := NewEngine(context.Background(), "this is not rego"); err == nil {
		t.Fatalf("expected error for invalid policy")
	}
}
