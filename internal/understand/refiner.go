package understand

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/stellarlinkco/querypilot/internal/llm"
	"github.com/stellarlinkco/querypilot/internal/session"
)

var placeholderPattern = regexp.MustCompile(`\[([a-zA-Z_][a-zA-Z0-9_ -]*)\]`)

// Pronouns the refiner will substitute. Demonstratives are excluded; swapping
// "this" for an entity mangles determiner phrases too often.
var substitutablePronouns = map[string]struct{}{
	"it": {}, "its": {}, "they": {}, "them": {}, "their": {},
}

// Refiner rewrites a query into a self-contained form. Two rule passes do the
// bulk of the work; a small model pass runs only when rules leave references
// dangling.
type Refiner struct {
	light llm.TextCompleter
}

func NewRefiner(light llm.TextCompleter) *Refiner {
	return &Refiner{light: light}
}

// Refinement is the rewrite outcome.
type Refinement struct {
	Query     string `json:"query"`
	Applied   bool   `json:"applied"`
	LightUsed bool   `json:"light_used"`
}

// Refine resolves pronouns against recent turns, fills bracketed placeholders
// from memory, and polishes leftovers with the lightweight tier. The original
// query is returned untouched when nothing needs resolving.
func (r *Refiner) Refine(ctx context.Context, query string, selected Context, mem *session.Memory) Refinement {
	refined := r.resolvePronouns(query, selected.Turns)
	refined = r.fillPlaceholders(refined, mem)

	if !needsPolish(refined) {
		return Refinement{Query: refined, Applied: refined != query}
	}
	polished, ok := r.polish(ctx, refined, selected)
	if !ok {
		return Refinement{Query: refined, Applied: refined != query}
	}
	return Refinement{Query: polished, Applied: true, LightUsed: true}
}

// resolvePronouns swaps every substitutable pronoun for the most recently
// mentioned entity in the selected turns. Scanning newest-first matches how
// people actually refer back.
func (r *Refiner) resolvePronouns(query string, turns []session.Turn) string {
	entity := ""
	for i := len(turns) - 1; i >= 0; i-- {
		if entities := capitalizedEntities(turns[i].Text); len(entities) > 0 {
			entity = entities[len(entities)-1]
			break
		}
	}
	if entity == "" {
		return query
	}

	tokens := strings.Fields(query)
	replaced := false
	for i, tok := range tokens {
		prefix, core, suffix := splitPunct(tok)
		lower := strings.ToLower(core)
		if _, ok := substitutablePronouns[lower]; !ok {
			continue
		}
		substitute := entity
		if lower == "its" || lower == "their" {
			substitute = entity + "'s"
		}
		tokens[i] = prefix + substitute + suffix
		replaced = true
	}
	if !replaced {
		return query
	}
	return strings.Join(tokens, " ")
}

// fillPlaceholders replaces bracketed slots like [framework] when exactly one
// memory entry mentions the slot name. Ambiguous slots are left alone.
func (r *Refiner) fillPlaceholders(query string, mem *session.Memory) string {
	if mem == nil || !placeholderPattern.MatchString(query) {
		return query
	}
	entries := allMemoryEntries(mem)
	return placeholderPattern.ReplaceAllStringFunc(query, func(match string) string {
		slot := strings.ToLower(strings.Trim(match, "[]"))
		found := ""
		for _, entry := range entries {
			if !strings.Contains(strings.ToLower(entry), slot) {
				continue
			}
			if found != "" {
				return match
			}
			found = entry
		}
		if found == "" {
			return match
		}
		return found
	})
}

func allMemoryEntries(mem *session.Memory) []string {
	var out []string
	out = append(out, mem.Profile.Preferences...)
	out = append(out, mem.Profile.Constraints...)
	out = append(out, mem.KeyFacts...)
	out = append(out, mem.Decisions...)
	return out
}

// needsPolish reports whether rule passes left unresolved material behind:
// an unfilled placeholder or a pronoun that found no entity to bind to.
func needsPolish(query string) bool {
	if placeholderPattern.MatchString(query) {
		return true
	}
	for _, tok := range strings.Fields(query) {
		if _, ok := substitutablePronouns[wordCore(tok)]; ok {
			return true
		}
	}
	return false
}

const polishSystemPrompt = `Rewrite the user query so it stands alone without the conversation.
Keep the user's intent and wording where possible. Reply with the rewritten query only, no explanation.`

func (r *Refiner) polish(ctx context.Context, query string, selected Context) (string, bool) {
	if r.light == nil {
		return "", false
	}
	var b strings.Builder
	if selected.Text != "" {
		b.WriteString("context:\n")
		b.WriteString(selected.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("query: ")
	b.WriteString(query)

	raw, err := r.light.Complete(ctx, llm.Request{
		System:      polishSystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   120,
		Temperature: 0.2,
	})
	if err != nil {
		log.Printf("[refiner] polish failed, keeping rule output: %v", err)
		return "", false
	}
	polished := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"`))
	if polished == "" || len(strings.Fields(polished)) > 4*len(strings.Fields(query))+8 {
		return "", false
	}
	return polished, true
}
