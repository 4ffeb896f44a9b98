package understand

import (
	"strings"
	"testing"

	"github.com/stellarlinkco/querypilot/internal/session"
)

func historyOf(texts ...string) []session.Turn {
	turns := make([]session.Turn, len(texts))
	for i, text := range texts {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		turns[i] = session.Turn{Role: role, Text: text}
	}
	return turns
}

func TestSelectNarrowWindowByDefault(t *testing.T) {
	s := NewSelector(3)
	history := historyOf(
		"tell me about storage options",
		"there are several approaches",
		"what about speed",
		"depends on the workload",
		"and reliability",
		"also depends",
	)

	got := s.Select("how much does storage cost?", nil, nil, nil, history)
	if got.Expanded {
		t.Error("plain query should not expand the window")
	}
	if len(got.Turns) != 2 {
		t.Errorf("expected 1 turn pair, got %d turns", len(got.Turns))
	}
	if got.Turns[1].Text != "also depends" {
		t.Errorf("window should hold the most recent turns, got %v", got.Turns)
	}
}

func TestSelectExpandsOnPronounSignal(t *testing.T) {
	s := NewSelector(3)
	history := historyOf(
		"a", "b", "c", "d", "e", "f", "g", "h",
	)
	signals := []Signal{{Kind: SignalUnresolvedPronoun, Span: "it"}}

	got := s.Select("how does it work?", signals, nil, nil, history)
	if !got.Expanded {
		t.Fatal("pronoun signal should expand the window")
	}
	if len(got.Turns) != 6 {
		t.Errorf("expected 3 turn pairs, got %d turns", len(got.Turns))
	}
}

func TestSelectExpandsOnContrastMarker(t *testing.T) {
	s := NewSelector(3)
	got := s.Select("however, what about cost?", nil, nil, nil, historyOf("a", "b", "c", "d"))
	if !got.Expanded {
		t.Error("contrast marker should expand the window")
	}
}

func TestSelectExpandsOnMultipleRecentEntities(t *testing.T) {
	s := NewSelector(3)
	history := historyOf(
		"old turn",
		"comparing Redis with Postgres for this",
	)
	got := s.Select("what do you recommend for caching?", nil, nil, nil, history)
	if !got.Expanded {
		t.Error("several entities in play should expand the window")
	}
}

func TestSelectRendersMemoryFields(t *testing.T) {
	s := NewSelector(3)
	mem := &session.Memory{
		Profile:  session.Profile{Preferences: []string{"prefers Go"}},
		KeyFacts: []string{"building a CLI tool"},
	}

	got := s.Select("what next?", nil, nil, mem, nil)
	if len(got.FieldsUsed) != 2 {
		t.Errorf("fields_used should list only rendered fields, got %v", got.FieldsUsed)
	}
	if got.FieldsUsed[0] != "preferences" || got.FieldsUsed[1] != "key_facts" {
		t.Errorf("fields_used order wrong: %v", got.FieldsUsed)
	}
	if _, ok := got.Fields["decisions"]; ok {
		t.Error("empty decisions should not be rendered")
	}
	if !strings.Contains(got.Text, "prefers Go") {
		t.Errorf("context text should include preferences, got %q", got.Text)
	}
	if !strings.Contains(got.Text, "building a CLI tool") {
		t.Errorf("context text should include key facts, got %q", got.Text)
	}
}

func TestSelectNoFieldsWithoutMemory(t *testing.T) {
	s := NewSelector(3)

	got := s.Select("what next?", nil, nil, nil, nil)
	if len(got.FieldsUsed) != 0 {
		t.Errorf("nothing rendered means nothing used, got %v", got.FieldsUsed)
	}
	if len(got.Fields) != 0 {
		t.Errorf("no memory means no fields, got %v", got.Fields)
	}
}

func TestSelectIncludesOpenQuestionsOnPronoun(t *testing.T) {
	s := NewSelector(3)
	mem := &session.Memory{
		KeyFacts:      []string{"evaluating caching layers"},
		OpenQuestions: []string{"which cache eviction policy to use"},
	}
	signals := []Signal{{Kind: SignalUnresolvedPronoun, Span: "it"}}

	got := s.Select("how does it work?", signals, nil, mem, nil)
	if _, ok := got.Fields["open_questions"]; !ok {
		t.Fatalf("pronoun signal should pull in open_questions, got %v", got.FieldsUsed)
	}
	if !strings.Contains(got.Text, "eviction policy") {
		t.Errorf("context text should include the open question, got %q", got.Text)
	}

	// Without the pronoun signal the same memory stays out.
	got = s.Select("how does caching work?", nil, nil, mem, nil)
	if _, ok := got.Fields["open_questions"]; ok {
		t.Error("open_questions should not render without a pronoun signal")
	}
}

func TestSelectRequestedFieldsOverride(t *testing.T) {
	s := NewSelector(3)
	mem := &session.Memory{
		Profile: session.Profile{Preferences: []string{"prefers Go"}},
		Todos:   []string{"benchmark the new index"},
	}

	got := s.Select("what is left to do?", nil, []string{"todos"}, mem, nil)
	if len(got.FieldsUsed) != 1 || got.FieldsUsed[0] != "todos" {
		t.Fatalf("override should replace the policy, got %v", got.FieldsUsed)
	}
	if _, ok := got.Fields["preferences"]; ok {
		t.Error("override must exclude non-requested fields")
	}
	if !strings.Contains(got.Text, "benchmark the new index") {
		t.Errorf("context text should include todos, got %q", got.Text)
	}

	// Unknown names in the override are ignored rather than rendered.
	got = s.Select("what is left to do?", nil, []string{"todos", "secrets"}, mem, nil)
	if len(got.FieldsUsed) != 1 {
		t.Errorf("unknown field names should be dropped, got %v", got.FieldsUsed)
	}
}
