package understand

import (
	"strings"

	"github.com/stellarlinkco/querypilot/internal/session"
)

// Context is the prompt-ready slice of session state chosen for a query.
type Context struct {
	Text       string            `json:"text"`
	Turns      []session.Turn    `json:"turns"`
	Fields     map[string]string `json:"fields"`
	FieldsUsed []string          `json:"fields_used"`
	Expanded   bool              `json:"expanded"`
}

// Memory fields consulted for every query, in render order.
var defaultFieldPolicy = []string{"preferences", "key_facts", "decisions"}

var contrastMarkers = map[string]struct{}{
	"but": {}, "however": {}, "instead": {}, "rather": {}, "although": {},
}

// Selector assembles context from memory fields and recent turns. It widens
// the turn window only when the query shows referential pressure, keeping
// prompt size flat for simple queries.
type Selector struct {
	maxPairs int
}

func NewSelector(maxPairs int) *Selector {
	if maxPairs < 1 {
		maxPairs = 1
	}
	return &Selector{maxPairs: maxPairs}
}

// Select builds the context for a query. The signal list comes from the
// classifier so pronoun detection is not run twice. A non-empty requested
// list overrides the field policy entirely, which is how callers pull in
// todos; otherwise open_questions joins the default fields when a pronoun
// signal fired. FieldsUsed reports only the fields actually rendered.
func (s *Selector) Select(query string, signals []Signal, requested []string, mem *session.Memory, history []session.Turn) Context {
	expanded := s.shouldExpand(query, signals, history)
	pairs := 1
	if expanded {
		pairs = s.maxPairs
	}
	turns := recentTurns(history, pairs*2)

	policy := s.fieldPolicy(signals, requested)
	fields := make(map[string]string)
	var used []string

	var b strings.Builder
	for _, name := range policy {
		value := renderField(mem, name)
		if value == "" {
			continue
		}
		fields[name] = value
		used = append(used, name)
		b.WriteString(name)
		b.WriteString(":\n")
		b.WriteString(value)
		b.WriteString("\n")
	}
	for _, turn := range turns {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}

	return Context{
		Text:       strings.TrimRight(b.String(), "\n"),
		Turns:      turns,
		Fields:     fields,
		FieldsUsed: used,
		Expanded:   expanded,
	}
}

func (s *Selector) fieldPolicy(signals []Signal, requested []string) []string {
	if len(requested) > 0 {
		policy := make([]string, 0, len(requested))
		for _, name := range requested {
			name = strings.ToLower(strings.TrimSpace(name))
			if renderableField(name) {
				policy = append(policy, name)
			}
		}
		return policy
	}

	policy := append([]string(nil), defaultFieldPolicy...)
	for _, sig := range signals {
		if sig.Kind == SignalUnresolvedPronoun {
			// The dangling reference may point at an unresolved thread.
			policy = append(policy, "open_questions")
			break
		}
	}
	return policy
}

func renderableField(name string) bool {
	switch name {
	case "preferences", "constraints", "key_facts", "decisions", "open_questions", "todos":
		return true
	}
	return false
}

// shouldExpand widens the window when the query leans on earlier turns: a
// dangling pronoun, a contrast marker, or several entities in play recently.
func (s *Selector) shouldExpand(query string, signals []Signal, history []session.Turn) bool {
	for _, sig := range signals {
		if sig.Kind == SignalUnresolvedPronoun {
			return true
		}
	}
	for _, tok := range strings.Fields(query) {
		if _, ok := contrastMarkers[wordCore(tok)]; ok {
			return true
		}
	}

	entities := make(map[string]struct{})
	for _, turn := range recentTurns(history, 2) {
		for _, entity := range capitalizedEntities(turn.Text) {
			entities[strings.ToLower(entity)] = struct{}{}
		}
	}
	return len(entities) > 1
}

func renderField(mem *session.Memory, name string) string {
	if mem == nil {
		return ""
	}
	var entries []string
	switch name {
	case "preferences":
		entries = mem.Profile.Preferences
	case "constraints":
		entries = mem.Profile.Constraints
	case "key_facts":
		entries = mem.KeyFacts
	case "decisions":
		entries = mem.Decisions
	case "open_questions":
		entries = mem.OpenQuestions
	case "todos":
		entries = mem.Todos
	}
	if len(entries) == 0 {
		return ""
	}
	return "- " + strings.Join(entries, "\n- ")
}
