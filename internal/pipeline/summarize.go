package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/querypilot/internal/llm"
	"github.com/stellarlinkco/querypilot/internal/session"
)

// Summarizer compacts the uncovered tail of a session's turn log into
// structured memory once it outgrows the token budget.
type Summarizer struct {
	store      session.Store
	completer  llm.TextCompleter
	maxTokens  int
	keepRecent int
	retries    int
}

func NewSummarizer(store session.Store, completer llm.TextCompleter, maxTokens, keepRecent, retries int) *Summarizer {
	return &Summarizer{
		store:      store,
		completer:  completer,
		maxTokens:  maxTokens,
		keepRecent: keepRecent,
		retries:    retries,
	}
}

type extractedPayload struct {
	Profile struct {
		Preferences []string `json:"preferences"`
		Constraints []string `json:"constraints"`
	} `json:"profile"`
	KeyFacts      []string `json:"key_facts"`
	Decisions     []string `json:"decisions"`
	OpenQuestions []string `json:"open_questions"`
	Todos         []string `json:"todos"`
}

// MaybeSummarize compacts the session if its uncovered turns exceed the
// budget. Extraction failure postpones compaction rather than failing the
// query: turns are never dropped, so the next trigger simply retries.
func (s *Summarizer) MaybeSummarize(ctx context.Context, sessionID string) (bool, error) {
	turns, err := s.store.Turns(sessionID)
	if err != nil {
		return false, fmt.Errorf("load turns: %w", err)
	}
	mem, err := s.store.Memory(sessionID)
	if err != nil {
		return false, fmt.Errorf("load memory: %w", err)
	}

	from := mem.UncoveredFrom()
	if from >= len(turns) {
		return false, nil
	}
	pending := turns[from:]
	if session.TotalTokens(pending) <= s.maxTokens {
		return false, nil
	}

	// Recent turns stay verbatim; only the older tail gets compacted.
	windowEnd := len(turns) - s.keepRecent
	if windowEnd <= from {
		return false, nil
	}
	window := turns[from:windowEnd]

	extracted, err := s.extract(ctx, window)
	if err != nil {
		log.Printf("[summarizer] extraction failed for session %s, postponing: %v", sessionID, err)
		return false, nil
	}

	now := time.Now().UTC()
	if mem == nil {
		mem = &session.Memory{CreatedAt: now}
		mem.SummarizedRange = session.TurnRange{From: from, To: windowEnd - 1}
	} else {
		mem.SummarizedRange.To = windowEnd - 1
	}
	mem.Merge(*extracted)
	mem.UpdatedAt = now

	if err := s.store.SaveMemory(sessionID, mem); err != nil {
		return false, fmt.Errorf("save memory: %w", err)
	}
	log.Printf("[summarizer] compacted session %s turns %d-%d", sessionID, from, windowEnd-1)
	return true, nil
}

// extract runs the extraction prompt, retrying with a corrective instruction
// when the reply is not the required JSON shape.
func (s *Summarizer) extract(ctx context.Context, window []session.Turn) (*session.Memory, error) {
	transcript := renderTranscript(window)

	prompt := transcript
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		raw, err := s.completer.Complete(ctx, llm.Request{
			System:      extractionSystemPrompt,
			Prompt:      prompt,
			MaxTokens:   800,
			Temperature: 0.1,
			JSONMode:    true,
		})
		if err != nil {
			return nil, err
		}

		payload, err := decodeExtraction(raw)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		prompt = transcript + "\n\n" + extractionRetryPrompt
	}
	return nil, lastErr
}

func decodeExtraction(raw string) (*session.Memory, error) {
	cleaned, err := llm.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var payload extractedPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformed, err)
	}

	mem := &session.Memory{
		Profile: session.Profile{
			Preferences: payload.Profile.Preferences,
			Constraints: payload.Profile.Constraints,
		},
		KeyFacts:      payload.KeyFacts,
		Decisions:     payload.Decisions,
		OpenQuestions: payload.OpenQuestions,
		Todos:         payload.Todos,
	}
	return mem, nil
}

func renderTranscript(turns []session.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	return b.String()
}
