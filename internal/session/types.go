package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one immutable entry in a session's append-only conversation log.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn stamps a turn with its id, token estimate and creation time.
func NewTurn(role, text string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Tokens:    TurnTokens(role, text),
		CreatedAt: time.Now().UTC(),
	}
}

// Profile holds durable per-user attributes extracted from conversation.
type Profile struct {
	Preferences []string `json:"preferences"`
	Constraints []string `json:"constraints"`
}

// TurnRange is the inclusive index range of turns already compacted.
type TurnRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Memory is the structured summary owned by a session. It is created lazily
// on first summarization and mutated in place thereafter.
type Memory struct {
	Profile         Profile   `json:"profile"`
	KeyFacts        []string  `json:"key_facts"`
	Decisions       []string  `json:"decisions"`
	OpenQuestions   []string  `json:"open_questions"`
	Todos           []string  `json:"todos"`
	SummarizedRange TurnRange `json:"summarized_range"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UncoveredFrom returns the index of the first turn not yet covered by the
// summarized range. A nil memory means nothing is covered.
func (m *Memory) UncoveredFrom() int {
	if m == nil {
		return 0
	}
	return m.SummarizedRange.To + 1
}

// Merge unions extracted entries into the memory, de-duplicating by
// normalized text. Existing entries are never dropped or replaced.
func (m *Memory) Merge(extracted Memory) {
	m.Profile.Preferences = mergeEntries(m.Profile.Preferences, extracted.Profile.Preferences)
	m.Profile.Constraints = mergeEntries(m.Profile.Constraints, extracted.Profile.Constraints)
	m.KeyFacts = mergeEntries(m.KeyFacts, extracted.KeyFacts)
	m.Decisions = mergeEntries(m.Decisions, extracted.Decisions)
	m.OpenQuestions = mergeEntries(m.OpenQuestions, extracted.OpenQuestions)
	m.Todos = mergeEntries(m.Todos, extracted.Todos)
}

func mergeEntries(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, entry := range existing {
		seen[NormalizeEntry(entry)] = struct{}{}
	}
	merged := existing
	for _, entry := range incoming {
		key := NormalizeEntry(entry)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, strings.TrimSpace(entry))
	}
	return merged
}

// NormalizeEntry is the de-duplication key for memory entries: case-folded,
// whitespace-collapsed, trailing punctuation stripped. Semantic similarity is
// deliberately not attempted.
func NormalizeEntry(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".!?,;:")
}
