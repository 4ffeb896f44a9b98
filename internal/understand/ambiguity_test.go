package understand

import (
	"context"
	"errors"
	"testing"

	"github.com/stellarlinkco/querypilot/internal/llm"
	"github.com/stellarlinkco/querypilot/internal/session"
)

type mockCompleter struct {
	reply   string
	err     error
	calls   int
	lastReq llm.Request
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.calls++
	m.lastReq = req
	return m.reply, m.err
}

func TestDetectSignals(t *testing.T) {
	cases := []struct {
		query string
		kinds []SignalKind
	}{
		{"How does Redis handle persistence?", nil},
		{"it?", []SignalKind{SignalUnresolvedPronoun, SignalShortQuestion}},
		{"What should I choose?", []SignalKind{SignalUnderspecifiedSelection}},
		{"Which approach is better?", []SignalKind{SignalAnaphoricComparison}},
		{"use the same settings", []SignalKind{SignalAnaphoricComparison}},
		{"fix now please", []SignalKind{SignalShortQuestion}},
		{"I like Go", nil},
		{"Is Go faster than Python?", nil},
		{"Should I pick Redis or Postgres?", nil},
	}
	for _, tc := range cases {
		signals := DetectSignals(tc.query)
		if len(signals) != len(tc.kinds) {
			t.Errorf("DetectSignals(%q) = %v, want kinds %v", tc.query, signals, tc.kinds)
			continue
		}
		for i, kind := range tc.kinds {
			if signals[i].Kind != kind {
				t.Errorf("DetectSignals(%q)[%d] = %s, want %s", tc.query, i, signals[i].Kind, kind)
			}
		}
	}
}

func TestDetectClearQuery(t *testing.T) {
	mock := &mockCompleter{}
	c := NewClassifier(mock)

	cls := c.Detect(context.Background(), "How does Redis handle persistence?", nil)
	if cls.Verdict != VerdictClear {
		t.Errorf("verdict = %s, want clear", cls.Verdict)
	}
	if cls.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", cls.Confidence)
	}
	if cls.HeavyUsed {
		t.Error("clear verdict must not touch the model")
	}
	if mock.calls != 0 {
		t.Errorf("model called %d times", mock.calls)
	}
}

func TestDetectSingleSignalStaysLocal(t *testing.T) {
	mock := &mockCompleter{}
	c := NewClassifier(mock)

	cls := c.Detect(context.Background(), "What should I choose?", nil)
	if cls.Verdict != VerdictAmbiguous {
		t.Errorf("verdict = %s, want ambiguous", cls.Verdict)
	}
	if cls.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", cls.Confidence)
	}
	if cls.HeavyUsed || mock.calls != 0 {
		t.Error("single signal must not escalate")
	}
}

func TestDetectMultipleSignalsEscalate(t *testing.T) {
	mock := &mockCompleter{reply: `{"verdict": "clear", "confidence": 0.9, "reason": "refers to the prior topic"}`}
	c := NewClassifier(mock)

	cls := c.Detect(context.Background(), "it?", nil)
	if mock.calls != 1 {
		t.Fatalf("expected 1 escalation call, got %d", mock.calls)
	}
	if !mock.lastReq.JSONMode {
		t.Error("escalation should request json output")
	}
	if cls.Verdict != VerdictClear {
		t.Errorf("escalated verdict should be adopted, got %s", cls.Verdict)
	}
	if cls.Confidence != 0.80 {
		t.Errorf("escalated confidence must be capped at 0.80, got %v", cls.Confidence)
	}
	if !cls.HeavyUsed {
		t.Error("escalation must be recorded")
	}
}

func TestDetectEscalationFailureFallsBack(t *testing.T) {
	mock := &mockCompleter{err: errors.New("backend down")}
	c := NewClassifier(mock)

	cls := c.Detect(context.Background(), "it?", nil)
	if cls.Verdict != VerdictAmbiguous {
		t.Errorf("fallback verdict = %s, want ambiguous", cls.Verdict)
	}
	if cls.Confidence != 0.70 {
		t.Errorf("fallback confidence = %v, want 0.70", cls.Confidence)
	}
	if !cls.HeavyUsed {
		t.Error("failed escalation still counts as heavy usage")
	}
}

func TestDetectContradictionEscalates(t *testing.T) {
	mock := &mockCompleter{reply: `{"verdict": "clear", "confidence": 0.75, "reason": "pronoun binds to TensorFlow"}`}
	c := NewClassifier(mock)

	history := []session.Turn{
		{Role: session.RoleUser, Text: "I just installed TensorFlow yesterday."},
	}
	cls := c.Detect(context.Background(), "How does it perform?", history)
	if mock.calls != 1 {
		t.Fatalf("pronoun against a single prior entity should escalate, calls = %d", mock.calls)
	}
	if cls.Verdict != VerdictClear {
		t.Errorf("verdict = %s, want clear", cls.Verdict)
	}
	if cls.Confidence != 0.80 {
		t.Errorf("escalated confidence is fixed, got %v want 0.80", cls.Confidence)
	}
}

func TestCapitalizedEntities(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"I just installed TensorFlow yesterday.", 1},
		{"Should I pick Redis or Postgres?", 2},
		{"the quick brown fox", 0},
		{"Visiting New York next week", 1},
	}
	for _, tc := range cases {
		got := capitalizedEntities(tc.text)
		if len(got) != tc.want {
			t.Errorf("capitalizedEntities(%q) = %v, want %d entities", tc.text, got, tc.want)
		}
	}
}
