package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stellarlinkco/querypilot/internal/config"
	"github.com/stellarlinkco/querypilot/internal/llm"
	"github.com/stellarlinkco/querypilot/internal/metrics"
	"github.com/stellarlinkco/querypilot/internal/session"
	"github.com/stellarlinkco/querypilot/internal/understand"
)

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		QueryUnderstanding:  true,
		MaxContextTokens:    10000,
		KeepRecentTurns:     5,
		MaxContextTurnPairs: 3,
		SimilarityWindow:    10,
		SimilarityThreshold: 0.75,
		MaxResponseTokens:   500,
		ResponseTemperature: 0.5,
		SummaryRetries:      2,
	}
}

// routedCompleter answers extraction requests with canned memory JSON and
// everything else with a fixed reply, mirroring one backend serving both.
type routedCompleter struct {
	answer string
	err    error
	mu     sync.Mutex
	calls  int
}

func (r *routedCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	if req.System == extractionSystemPrompt {
		return extractionReply, nil
	}
	return r.answer, nil
}

func TestProcessClearQuery(t *testing.T) {
	store := newTestStore(t)
	mock := &routedCompleter{answer: "Redis persists with RDB snapshots and AOF logs."}
	orch := New(testPipelineConfig(), store, mock, nil, nil, metrics.New())

	result, err := orch.Process(context.Background(), "s1", "How does Redis handle persistence?", nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Classification.Verdict != understand.VerdictClear {
		t.Errorf("verdict = %s, want clear", result.Classification.Verdict)
	}
	if result.Answer == "" {
		t.Fatal("clear query should produce an answer")
	}
	if len(result.ClarifyingQuestions) != 0 {
		t.Errorf("no clarification expected, got %v", result.ClarifyingQuestions)
	}
	if len(result.FieldsUsed) != 0 {
		t.Errorf("no memory exists yet, so no fields should report as used, got %v", result.FieldsUsed)
	}

	turns, err := store.Turns("s1")
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected user + assistant turns, got %d", len(turns))
	}
	if turns[0].Role != session.RoleUser || turns[1].Role != session.RoleAssistant {
		t.Errorf("turn roles wrong: %v", turns)
	}
	if turns[1].Text != result.Answer {
		t.Errorf("assistant turn should hold the answer, got %q", turns[1].Text)
	}

	stats := orch.Usage()
	if stats.TotalQueries != 1 || stats.HeavyCalls != 0 {
		t.Errorf("usage = %+v, want 1 query and 0 heavy calls", stats)
	}
}

func TestProcessAmbiguousQueryAsksClarification(t *testing.T) {
	store := newTestStore(t)
	// Plain-text reply makes the clarifier fall back to static questions.
	mock := &routedCompleter{answer: "not json"}
	orch := New(testPipelineConfig(), store, mock, nil, nil, metrics.New())

	result, err := orch.Process(context.Background(), "s1", "What should I choose?", nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Answer != "" {
		t.Errorf("ambiguous query must not get an answer, got %q", result.Answer)
	}
	if len(result.ClarifyingQuestions) == 0 || len(result.ClarifyingQuestions) > 3 {
		t.Fatalf("expected 1-3 clarifying questions, got %v", result.ClarifyingQuestions)
	}
	if !result.Metadata.ClarificationAsked {
		t.Error("metadata should record the clarification")
	}
	if result.Metadata.AmbiguityEscalated {
		t.Error("single signal must not escalate")
	}

	turns, err := store.Turns("s1")
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("clarifying questions should be logged as the assistant turn, got %d turns", len(turns))
	}
	if !strings.Contains(turns[1].Text, result.ClarifyingQuestions[0]) {
		t.Errorf("assistant turn %q should hold the questions", turns[1].Text)
	}
}

func TestProcessRejectsEmptyQuery(t *testing.T) {
	store := newTestStore(t)
	orch := New(testPipelineConfig(), store, &routedCompleter{}, nil, nil, metrics.New())

	if _, err := orch.Process(context.Background(), "s1", "   ", nil); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := orch.Process(context.Background(), "", "hello", nil); err == nil {
		t.Error("empty session id should be rejected")
	}
}

func TestProcessTriggersSummarization(t *testing.T) {
	store := newTestStore(t)
	mock := &routedCompleter{answer: "Here is the answer."}
	orch := New(testPipelineConfig(), store, mock, nil, nil, metrics.New())

	// Enough prior history to blow the 10000 token budget on the next query.
	seedTurns(t, store, "s1", 25, 450)

	result, err := orch.Process(context.Background(), "s1", "How does Redis handle persistence?", nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Metadata.SummarizationTriggered {
		t.Fatal("over-budget session should compact during processing")
	}

	mem, err := store.Memory("s1")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if mem == nil {
		t.Fatal("memory should exist")
	}
	// 26 turns at compaction time, keeping the last 5.
	if mem.SummarizedRange.To != 20 {
		t.Errorf("summarized range To = %d, want 20", mem.SummarizedRange.To)
	}

	turns, err := store.Turns("s1")
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(turns) != 27 {
		t.Errorf("expected 25 seeded + user + assistant turns, got %d", len(turns))
	}
}

func TestProcessRefinesAgainstHistory(t *testing.T) {
	store := newTestStore(t)
	mock := &routedCompleter{answer: "It is fast on GPU workloads."}
	orch := New(testPipelineConfig(), store, mock, nil, nil, metrics.New())

	if _, err := orch.Process(context.Background(), "s1", "Tell me about TensorFlow", nil); err != nil {
		t.Fatalf("first query: %v", err)
	}

	result, err := orch.Process(context.Background(), "s1", "How does it perform?", nil)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	// The pronoun escalates on the contradiction check; the routed reply is
	// not valid JSON, so the classifier falls back to ambiguous.
	if !result.Metadata.AmbiguityEscalated {
		t.Error("pronoun against one prior entity should escalate")
	}

	stats := orch.Usage()
	if stats.TotalQueries != 2 || stats.HeavyCalls != 1 {
		t.Errorf("usage = %+v, want 2 queries and 1 heavy call", stats)
	}
	if stats.UsagePercentage != 50 {
		t.Errorf("usage percentage = %v, want 50", stats.UsagePercentage)
	}
}

func TestUsageCounter(t *testing.T) {
	c := NewUsageCounter()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(heavy bool) {
			defer wg.Done()
			c.Record(heavy)
		}(i%4 == 0)
	}
	wg.Wait()

	stats := c.Stats()
	if stats.TotalQueries != 100 {
		t.Errorf("total = %d, want 100", stats.TotalQueries)
	}
	if stats.HeavyCalls != 25 {
		t.Errorf("heavy = %d, want 25", stats.HeavyCalls)
	}
	if stats.UsagePercentage != 25 {
		t.Errorf("percentage = %v, want 25", stats.UsagePercentage)
	}
}

func TestMetadataHeavyUsed(t *testing.T) {
	if (Metadata{}).HeavyUsed() {
		t.Error("fresh metadata should not report heavy usage")
	}
	if !(Metadata{AmbiguityEscalated: true}).HeavyUsed() {
		t.Error("escalation should report heavy usage")
	}
}
