package understand

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode"

	"github.com/stellarlinkco/querypilot/internal/llm"
	"github.com/stellarlinkco/querypilot/internal/session"
)

// SignalKind identifies one rule-detected ambiguity cue.
type SignalKind string

const (
	SignalUnresolvedPronoun       SignalKind = "unresolved_pronoun"
	SignalAnaphoricComparison     SignalKind = "anaphoric_comparison"
	SignalUnderspecifiedSelection SignalKind = "underspecified_selection"
	SignalShortQuestion           SignalKind = "short_question"
	SignalUnclearIntent           SignalKind = "unclear_intent"
)

// Signal is one detected cue with the text span that triggered it.
type Signal struct {
	Kind SignalKind `json:"kind"`
	Span string     `json:"span"`
}

const (
	VerdictClear     = "clear"
	VerdictAmbiguous = "ambiguous"
)

// Classification is the ambiguity verdict for a query.
type Classification struct {
	Verdict    string   `json:"verdict"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	Signals    []Signal `json:"signals"`
	HeavyUsed  bool     `json:"heavy_used"`
}

// Rule confidences. Escalated verdicts report a fixed value below the
// single-signal rule confidence so a model opinion never outranks an agreed
// rule outcome.
const (
	confClear        = 0.95
	confSingleSignal = 0.85
	confEscalatedCap = 0.80
	confEscalateFail = 0.70
)

var pronounWords = map[string]struct{}{
	"it": {}, "its": {}, "they": {}, "them": {}, "their": {}, "theirs": {},
	"he": {}, "him": {}, "his": {}, "she": {}, "her": {}, "hers": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "one": {}, "ones": {},
}

var comparativeWords = map[string]struct{}{
	"better": {}, "worse": {}, "faster": {}, "slower": {}, "cheaper": {},
	"easier": {}, "harder": {}, "bigger": {}, "smaller": {}, "newer": {},
	"older": {}, "stronger": {}, "weaker": {}, "simpler": {},
}

// Anaphor words that compare against something unnamed ("the same settings",
// "something like that"). Only suspicious when no entity names the target.
var anaphorWords = map[string]struct{}{
	"same": {}, "similar": {}, "like": {}, "compared": {},
}

// Interrogative and auxiliary words. A short query carrying none of these
// reads as a fragment rather than a question or command.
var interrogativeWords = map[string]struct{}{
	"what": {}, "which": {}, "when": {}, "where": {}, "who": {}, "whom": {},
	"whose": {}, "why": {}, "how": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "am": {}, "be": {},
	"do": {}, "does": {}, "did": {}, "have": {}, "has": {}, "had": {},
	"can": {}, "could": {}, "should": {}, "would": {}, "will": {},
	"may": {}, "might": {},
}

var selectionWords = map[string]struct{}{
	"choose": {}, "pick": {}, "select": {}, "recommend": {}, "prefer": {},
	"suggest": {},
}

// Classifier runs the rule passes and, only when rules disagree or stack up,
// asks the heavy backend for a verdict.
type Classifier struct {
	heavy llm.TextCompleter
}

func NewClassifier(heavy llm.TextCompleter) *Classifier {
	return &Classifier{heavy: heavy}
}

// DetectSignals runs every rule over the query and returns all cues found.
// Rules only look at the query itself; history is consulted separately when
// deciding whether the cues contradict each other.
func DetectSignals(query string) []Signal {
	var signals []Signal
	tokens := strings.Fields(query)
	lowered := make([]string, len(tokens))
	for i, tok := range tokens {
		lowered[i] = wordCore(tok)
	}
	hasEntity := len(capitalizedEntities(query)) > 0

	// Pronouns with no named entity alongside them to bind to.
	if !hasEntity {
		for i, word := range lowered {
			if _, ok := pronounWords[word]; !ok {
				continue
			}
			// Demonstratives followed by a noun ("this library") are
			// determiners, not dangling references.
			if isDemonstrative(word) && i+1 < len(lowered) && lowered[i+1] != "" {
				continue
			}
			signals = append(signals, Signal{Kind: SignalUnresolvedPronoun, Span: tokens[i]})
			break
		}
	}

	// Comparatives with no "than X" target, and anaphor words pointing at an
	// unnamed comparison target.
	if !containsWord(lowered, "than") {
		for i, word := range lowered {
			if _, ok := comparativeWords[word]; ok {
				signals = append(signals, Signal{Kind: SignalAnaphoricComparison, Span: tokens[i]})
				break
			}
			if _, ok := anaphorWords[word]; ok && !hasEntity {
				// "I like Go" is a verb, not an anaphor.
				if word == "like" && i > 0 && isSubjectPronoun(lowered[i-1]) {
					continue
				}
				signals = append(signals, Signal{Kind: SignalAnaphoricComparison, Span: tokens[i]})
				break
			}
		}
	}

	// Selection verbs with nothing enumerated to select from.
	if !enumeratesOptions(query, lowered) {
		for i, word := range lowered {
			if _, ok := selectionWords[word]; ok {
				signals = append(signals, Signal{Kind: SignalUnderspecifiedSelection, Span: tokens[i]})
				break
			}
		}
	}

	// Short fragments with no interrogative or auxiliary word and no named
	// referent rarely carry enough context on their own. A "?" is not
	// required.
	if len(tokens) > 0 && len(tokens) < 4 && !hasEntity && !containsInterrogative(lowered) {
		signals = append(signals, Signal{Kind: SignalShortQuestion, Span: strings.TrimSpace(query)})
	}

	// No question form and no verb-like content at all.
	if len(tokens) > 0 && len(tokens) <= 2 && !strings.HasSuffix(strings.TrimSpace(query), "?") &&
		!hasEntity && allStopwords(lowered) {
		signals = append(signals, Signal{Kind: SignalUnclearIntent, Span: strings.TrimSpace(query)})
	}

	return signals
}

// Detect classifies the query. History is used for the contradiction check
// and as grounding for an escalated model call.
func (c *Classifier) Detect(ctx context.Context, query string, history []session.Turn) Classification {
	signals := DetectSignals(query)

	if len(signals) == 0 {
		return Classification{
			Verdict:    VerdictClear,
			Confidence: confClear,
			Reason:     "no ambiguity signals detected",
		}
	}

	contradiction := signalsContradict(signals, history)
	if len(signals) == 1 && !contradiction {
		sig := signals[0]
		return Classification{
			Verdict:    VerdictAmbiguous,
			Confidence: confSingleSignal,
			Reason:     fmt.Sprintf("single signal: %s (%q)", sig.Kind, sig.Span),
			Signals:    signals,
		}
	}

	return c.escalate(ctx, query, history, signals, contradiction)
}

// signalsContradict reports the one case where rule output is suspect: the
// query dangles a pronoun but the turn right before it names exactly one
// entity, so the reference is very likely resolvable after all.
func signalsContradict(signals []Signal, history []session.Turn) bool {
	hasPronoun := false
	for _, sig := range signals {
		if sig.Kind == SignalUnresolvedPronoun {
			hasPronoun = true
			break
		}
	}
	if !hasPronoun || len(history) == 0 {
		return false
	}
	return len(capitalizedEntities(history[len(history)-1].Text)) == 1
}

type escalationReply struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

const escalationSystemPrompt = `You judge whether a user query is ambiguous given recent conversation context.
Respond with JSON only: {"verdict": "clear" or "ambiguous", "confidence": 0.0-1.0, "reason": "short explanation"}.`

func (c *Classifier) escalate(ctx context.Context, query string, history []session.Turn, signals []Signal, contradiction bool) Classification {
	fallback := Classification{
		Verdict:    VerdictAmbiguous,
		Confidence: confEscalateFail,
		Reason:     fmt.Sprintf("%d signals, escalation unavailable", len(signals)),
		Signals:    signals,
		HeavyUsed:  true,
	}
	if c.heavy == nil {
		return fallback
	}

	var b strings.Builder
	for _, turn := range recentTurns(history, 2) {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
	}
	fmt.Fprintf(&b, "query: %s\n", query)
	if contradiction {
		b.WriteString("note: the query uses a pronoun and the previous turn names a single entity\n")
	}

	raw, err := c.heavy.Complete(ctx, llm.Request{
		System:      escalationSystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   100,
		Temperature: 0.2,
		JSONMode:    true,
	})
	if err != nil {
		log.Printf("[ambiguity] escalation failed: %v", err)
		return fallback
	}

	extracted, err := llm.ExtractJSON(raw)
	if err != nil {
		log.Printf("[ambiguity] escalation returned no json: %v", err)
		return fallback
	}
	var reply escalationReply
	if err := json.Unmarshal([]byte(extracted), &reply); err != nil {
		log.Printf("[ambiguity] escalation decode failed: %v", err)
		return fallback
	}
	if reply.Verdict != VerdictClear && reply.Verdict != VerdictAmbiguous {
		log.Printf("[ambiguity] escalation returned unknown verdict %q", reply.Verdict)
		return fallback
	}

	reason := reply.Reason
	if reason == "" {
		reason = "escalated verdict"
	}
	// Escalated verdicts always report the fixed 0.80, regardless of the
	// backend's own confidence estimate.
	return Classification{
		Verdict:    reply.Verdict,
		Confidence: confEscalatedCap,
		Reason:     reason,
		Signals:    signals,
		HeavyUsed:  true,
	}
}

// capitalizedEntities extracts capitalized words that are not sentence-leading,
// treating runs like "New York" as a single entity.
func capitalizedEntities(text string) []string {
	tokens := strings.Fields(text)
	var entities []string
	var run []string
	flush := func() {
		if len(run) > 0 {
			entities = append(entities, strings.Join(run, " "))
			run = nil
		}
	}
	for i, tok := range tokens {
		_, core, suffix := splitPunct(tok)
		if core == "" {
			flush()
			continue
		}
		first := []rune(core)[0]
		leading := i == 0 || endsSentence(tokens[i-1])
		if unicode.IsUpper(first) && !leading && !isTitleStopword(core) {
			run = append(run, core)
			if suffix != "" {
				flush()
			}
			continue
		}
		flush()
	}
	flush()
	return entities
}

func endsSentence(tok string) bool {
	return strings.HasSuffix(tok, ".") || strings.HasSuffix(tok, "!") || strings.HasSuffix(tok, "?")
}

func isTitleStopword(word string) bool {
	switch strings.ToLower(word) {
	case "i", "i'm", "i'll", "i've", "i'd":
		return true
	}
	return false
}

func isDemonstrative(word string) bool {
	switch word {
	case "this", "that", "these", "those":
		return true
	}
	return false
}

func containsWord(lowered []string, word string) bool {
	for _, w := range lowered {
		if w == word {
			return true
		}
	}
	return false
}

func containsInterrogative(lowered []string) bool {
	for _, w := range lowered {
		if _, ok := interrogativeWords[w]; ok {
			return true
		}
	}
	return false
}

func isSubjectPronoun(word string) bool {
	switch word {
	case "i", "we", "you", "they", "he", "she":
		return true
	}
	return false
}

// enumeratesOptions reports whether the query itself lists choices, either as
// "A or B" or with multiple named entities.
func enumeratesOptions(query string, lowered []string) bool {
	if containsWord(lowered, "or") {
		return true
	}
	return len(capitalizedEntities(query)) >= 2
}

func allStopwords(lowered []string) bool {
	for _, w := range lowered {
		if w == "" {
			continue
		}
		if _, ok := pronounWords[w]; ok {
			continue
		}
		switch w {
		case "the", "a", "an", "and", "but", "so", "ok", "okay", "yes", "no", "hmm", "well":
			continue
		}
		return false
	}
	return true
}

func recentTurns(history []session.Turn, n int) []session.Turn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
