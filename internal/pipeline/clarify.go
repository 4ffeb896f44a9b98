package pipeline

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/stellarlinkco/querypilot/internal/llm"
	"github.com/stellarlinkco/querypilot/internal/understand"
)

// Clarifier produces the questions returned instead of an answer when a
// query stays ambiguous. Model-generated when possible, with static
// per-signal fallbacks so the caller always gets something usable.
type Clarifier struct {
	completer llm.TextCompleter
}

func NewClarifier(completer llm.TextCompleter) *Clarifier {
	return &Clarifier{completer: completer}
}

type clarifyReply struct {
	Questions []string `json:"questions"`
}

// Questions returns one to three clarifying questions for the query.
func (c *Clarifier) Questions(ctx context.Context, query string, cls understand.Classification) []string {
	if c.completer != nil {
		if questions := c.generate(ctx, query, cls); len(questions) > 0 {
			return questions
		}
	}
	return staticQuestions(cls)
}

func (c *Clarifier) generate(ctx context.Context, query string, cls understand.Classification) []string {
	var b strings.Builder
	b.WriteString("query: ")
	b.WriteString(query)
	b.WriteString("\nwhy it is ambiguous: ")
	b.WriteString(cls.Reason)

	raw, err := c.completer.Complete(ctx, llm.Request{
		System:      clarifySystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   150,
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		log.Printf("[clarifier] generation failed, using static questions: %v", err)
		return nil
	}

	cleaned, err := llm.ExtractJSON(raw)
	if err != nil {
		log.Printf("[clarifier] reply was not json: %v", err)
		return nil
	}
	var reply clarifyReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		log.Printf("[clarifier] decode failed: %v", err)
		return nil
	}

	questions := make([]string, 0, 3)
	for _, q := range reply.Questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		questions = append(questions, q)
		if len(questions) == 3 {
			break
		}
	}
	return questions
}

func staticQuestions(cls understand.Classification) []string {
	for _, sig := range cls.Signals {
		switch sig.Kind {
		case understand.SignalUnresolvedPronoun:
			return []string{"What does \"" + sig.Span + "\" refer to?"}
		case understand.SignalAnaphoricComparison:
			return []string{"What are you comparing it against?"}
		case understand.SignalUnderspecifiedSelection:
			return []string{"Which options are you choosing between?"}
		}
	}
	return []string{"Could you add more detail about what you are asking?"}
}
