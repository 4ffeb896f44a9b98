package understand

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stellarlinkco/querypilot/internal/session"
)

func TestRefineResolvesPronoun(t *testing.T) {
	r := NewRefiner(nil)
	selected := Context{Turns: []session.Turn{
		{Role: session.RoleUser, Text: "I just installed TensorFlow."},
	}}

	got := r.Refine(context.Background(), "How does it perform?", selected, nil)
	if got.Query != "How does TensorFlow perform?" {
		t.Errorf("got %q", got.Query)
	}
	if !got.Applied {
		t.Error("applied flag should be set")
	}
	if got.LightUsed {
		t.Error("rule resolution must not use the model")
	}
}

func TestRefineResolvesEveryPronoun(t *testing.T) {
	r := NewRefiner(nil)
	selected := Context{Turns: []session.Turn{
		{Role: session.RoleUser, Text: "We are evaluating Kafka."},
	}}

	got := r.Refine(context.Background(), "Is it stable and does it scale?", selected, nil)
	if got.Query != "Is Kafka stable and does Kafka scale?" {
		t.Errorf("every pronoun should be substituted, got %q", got.Query)
	}
	if got.LightUsed {
		t.Error("fully resolved query must skip the polish pass")
	}
}

func TestRefinePossessivePronoun(t *testing.T) {
	r := NewRefiner(nil)
	selected := Context{Turns: []session.Turn{
		{Role: session.RoleUser, Text: "We settled on Postgres."},
	}}

	got := r.Refine(context.Background(), "What about its replication?", selected, nil)
	if got.Query != "What about Postgres's replication?" {
		t.Errorf("got %q", got.Query)
	}
}

func TestRefineFillsPlaceholder(t *testing.T) {
	r := NewRefiner(nil)
	mem := &session.Memory{
		KeyFacts: []string{"chosen framework is Django"},
	}

	got := r.Refine(context.Background(), "Show the [framework] config", Context{}, mem)
	if strings.Contains(got.Query, "[") {
		t.Errorf("placeholder should be filled, got %q", got.Query)
	}
	if !strings.Contains(got.Query, "Django") {
		t.Errorf("fill should come from memory, got %q", got.Query)
	}
}

func TestRefineLeavesAmbiguousPlaceholder(t *testing.T) {
	r := NewRefiner(nil)
	mem := &session.Memory{
		KeyFacts: []string{"framework candidate is Django", "framework candidate is Flask"},
	}

	query := "Show the [framework] config"
	got := r.Refine(context.Background(), query, Context{}, mem)
	if !strings.Contains(got.Query, "[framework]") {
		t.Errorf("ambiguous slot must stay untouched, got %q", got.Query)
	}
}

func TestRefineNoOpForSelfContainedQuery(t *testing.T) {
	r := NewRefiner(nil)
	query := "How fast is Redis?"

	got := r.Refine(context.Background(), query, Context{}, nil)
	if got.Query != query {
		t.Errorf("self-contained query should pass through, got %q", got.Query)
	}
	if got.Applied || got.LightUsed {
		t.Errorf("no flags expected: %+v", got)
	}
}

func TestRefinePolishesLeftovers(t *testing.T) {
	mock := &mockCompleter{reply: "How does the caching layer behave under load?"}
	r := NewRefiner(mock)

	// No entity anywhere, so the pronoun survives the rule pass.
	got := r.Refine(context.Background(), "how does it behave under load?", Context{}, nil)
	if mock.calls != 1 {
		t.Fatalf("expected one polish call, got %d", mock.calls)
	}
	if got.Query != "How does the caching layer behave under load?" {
		t.Errorf("got %q", got.Query)
	}
	if !got.LightUsed || !got.Applied {
		t.Errorf("polish flags wrong: %+v", got)
	}
}

func TestRefinePolishFailureKeepsRuleOutput(t *testing.T) {
	mock := &mockCompleter{err: errors.New("model offline")}
	r := NewRefiner(mock)

	query := "how does it behave under load?"
	got := r.Refine(context.Background(), query, Context{}, nil)
	if got.Query != query {
		t.Errorf("failed polish should keep rule output, got %q", got.Query)
	}
	if got.LightUsed {
		t.Error("failed polish must not claim model usage")
	}
}
