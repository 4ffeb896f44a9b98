package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/stellarlinkco/querypilot/internal/config"
	"github.com/stellarlinkco/querypilot/internal/llm"
	"github.com/stellarlinkco/querypilot/internal/metrics"
	"github.com/stellarlinkco/querypilot/internal/session"
	"github.com/stellarlinkco/querypilot/internal/understand"
)

var ErrEmptyQuery = errors.New("pipeline: empty query")

// Result is everything the pipeline decided for one query. When the query
// stayed ambiguous, ClarifyingQuestions is set and Answer is empty.
type Result struct {
	SessionID           string                    `json:"session_id"`
	Answer              string                    `json:"answer,omitempty"`
	ClarifyingQuestions []string                  `json:"clarifying_questions,omitempty"`
	NormalizedQuery     string                    `json:"normalized_query"`
	RefinedQuery        string                    `json:"refined_query"`
	ContextText         string                    `json:"context_text,omitempty"`
	FieldsUsed          []string                  `json:"fields_used,omitempty"`
	Classification      understand.Classification `json:"classification"`
	Answerability       understand.Answerability  `json:"answerability"`
	Metadata            Metadata                  `json:"metadata"`
}

// Orchestrator wires the understanding stages, the summarizer and the answer
// call into one Process entry point. All model traffic goes through it.
type Orchestrator struct {
	cfg   config.PipelineConfig
	store session.Store
	heavy llm.TextCompleter

	normalizer *understand.Normalizer
	classifier *understand.Classifier
	gate       *understand.Gate
	selector   *understand.Selector
	refiner    *understand.Refiner
	summarizer *Summarizer
	clarifier  *Clarifier

	usage   *UsageCounter
	metrics *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an orchestrator. heavy answers and escalates, light handles
// refinement polish, embedder may be nil.
func New(cfg config.PipelineConfig, store session.Store, heavy, light llm.TextCompleter, embedder llm.Embedder, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		heavy:      heavy,
		normalizer: understand.NewNormalizer(),
		classifier: understand.NewClassifier(heavy),
		gate:       understand.NewGate(embedder, cfg.SimilarityThreshold, cfg.SimilarityWindow),
		selector:   understand.NewSelector(cfg.MaxContextTurnPairs),
		refiner:    understand.NewRefiner(light),
		summarizer: NewSummarizer(store, heavy, cfg.MaxContextTokens, cfg.KeepRecentTurns, cfg.SummaryRetries),
		clarifier:  NewClarifier(heavy),
		usage:      NewUsageCounter(),
		metrics:    m,
	}
}

// Usage exposes the escalation counter for the stats endpoint.
func (o *Orchestrator) Usage() UsageStats {
	return o.usage.Stats()
}

// EscalationTarget is the configured ceiling on the escalated fraction of
// queries. Reported alongside usage so operators can compare; never enforced.
func (o *Orchestrator) EscalationTarget() float64 {
	return o.cfg.EscalationTarget
}

// Process runs one query through the full pipeline. requestedFields, when
// non-empty, overrides the memory-field policy for context selection.
// Per-session locking keeps the turn log and memory consistent under
// concurrent callers; different sessions proceed in parallel.
func (o *Orchestrator) Process(ctx context.Context, sessionID, query string, requestedFields []string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if sessionID == "" {
		return nil, fmt.Errorf("pipeline: empty session id")
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	result := &Result{SessionID: sessionID}

	history, err := o.store.Turns(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if err := o.store.AppendTurn(sessionID, session.NewTurn(session.RoleUser, query)); err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}
	if triggered := o.summarize(ctx, sessionID); triggered {
		result.Metadata.SummarizationTriggered = true
	}

	mem, err := o.store.Memory(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}

	var answer string
	if o.cfg.QueryUnderstanding {
		answer = o.understand(ctx, query, requestedFields, history, mem, result)
	} else {
		result.NormalizedQuery = query
		result.RefinedQuery = query
		selected := o.selector.Select(query, nil, requestedFields, mem, history)
		result.ContextText = selected.Text
		result.FieldsUsed = selected.FieldsUsed
		answer, err = o.generate(ctx, query, selected)
		if err != nil {
			return nil, err
		}
		result.Answer = answer
	}

	reply := answer
	if len(result.ClarifyingQuestions) > 0 {
		reply = strings.Join(result.ClarifyingQuestions, "\n")
	}
	if reply != "" {
		if err := o.store.AppendTurn(sessionID, session.NewTurn(session.RoleAssistant, reply)); err != nil {
			return nil, fmt.Errorf("append assistant turn: %w", err)
		}
		if triggered := o.summarize(ctx, sessionID); triggered {
			result.Metadata.SummarizationTriggered = true
		}
	}

	o.usage.Record(result.Metadata.HeavyUsed())
	if o.metrics != nil {
		o.metrics.Queries.Inc()
		if result.Metadata.AmbiguityEscalated {
			o.metrics.Escalations.Inc()
			o.metrics.StageHeavy.WithLabelValues("ambiguity").Inc()
		}
		if result.Metadata.RefinementLightUsed {
			o.metrics.StageHeavy.WithLabelValues("refiner").Inc()
		}
		if len(result.ClarifyingQuestions) > 0 {
			o.metrics.Clarifications.Inc()
		}
	}
	return result, nil
}

// understand runs the five-stage query path and returns the answer, or empty
// when clarification was asked instead.
func (o *Orchestrator) understand(ctx context.Context, query string, requestedFields []string, history []session.Turn, mem *session.Memory, result *Result) string {
	normalized, corrected := o.normalizer.Normalize(query)
	result.NormalizedQuery = normalized
	result.Metadata.SpellingCorrected = corrected

	cls := o.classifier.Detect(ctx, normalized, history)
	result.Classification = cls
	result.Metadata.AmbiguityEscalated = cls.HeavyUsed

	gated := o.gate.Check(ctx, normalized, cls, mem, history)
	result.Answerability = gated

	selected := o.selector.Select(normalized, cls.Signals, requestedFields, mem, history)
	result.ContextText = selected.Text
	result.FieldsUsed = selected.FieldsUsed
	result.Metadata.ContextExpanded = selected.Expanded

	if cls.Verdict == understand.VerdictAmbiguous {
		result.RefinedQuery = normalized
		result.ClarifyingQuestions = o.clarifier.Questions(ctx, normalized, cls)
		result.Metadata.ClarificationAsked = true
		return ""
	}

	refined := o.refiner.Refine(ctx, normalized, selected, mem)
	result.RefinedQuery = refined.Query
	result.Metadata.RefinementApplied = refined.Applied
	result.Metadata.RefinementLightUsed = refined.LightUsed

	answer, err := o.generate(ctx, refined.Query, selected)
	if err != nil {
		log.Printf("[pipeline] answer generation failed: %v", err)
		result.Answer = ""
		result.ClarifyingQuestions = []string{"Something went wrong answering that. Could you try rephrasing?"}
		return ""
	}
	result.Answer = answer
	return answer
}

func (o *Orchestrator) generate(ctx context.Context, query string, selected understand.Context) (string, error) {
	var b strings.Builder
	if selected.Text != "" {
		b.WriteString("session context:\n")
		b.WriteString(selected.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("query: ")
	b.WriteString(query)

	answer, err := o.heavy.Complete(ctx, llm.Request{
		System:      answerSystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   o.cfg.MaxResponseTokens,
		Temperature: o.cfg.ResponseTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func (o *Orchestrator) summarize(ctx context.Context, sessionID string) bool {
	triggered, err := o.summarizer.MaybeSummarize(ctx, sessionID)
	if err != nil {
		log.Printf("[pipeline] summarization error for session %s: %v", sessionID, err)
		return false
	}
	if triggered && o.metrics != nil {
		o.metrics.Summarizations.Inc()
	}
	return triggered
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.locks == nil {
		o.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := o.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[sessionID] = lock
	}
	return lock
}
