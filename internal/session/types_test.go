package session

import (
	"testing"
)

func TestMergeDeduplicates(t *testing.T) {
	mem := &Memory{
		KeyFacts: []string{"User works with TensorFlow."},
	}
	mem.Merge(Memory{
		KeyFacts:  []string{"user works with  tensorflow", "Project targets mobile devices."},
		Decisions: []string{"Chose SQLite for storage."},
	})

	if len(mem.KeyFacts) != 2 {
		t.Fatalf("expected 2 key facts after merge, got %d: %v", len(mem.KeyFacts), mem.KeyFacts)
	}
	if mem.KeyFacts[0] != "User works with TensorFlow." {
		t.Errorf("existing entry should survive unchanged, got %q", mem.KeyFacts[0])
	}
	if len(mem.Decisions) != 1 {
		t.Errorf("expected 1 decision, got %v", mem.Decisions)
	}
}

func TestMergeSkipsEmptyEntries(t *testing.T) {
	mem := &Memory{}
	mem.Merge(Memory{KeyFacts: []string{"", "  ", "real fact"}})
	if len(mem.KeyFacts) != 1 || mem.KeyFacts[0] != "real fact" {
		t.Fatalf("expected only the real fact, got %v", mem.KeyFacts)
	}
}

func TestNormalizeEntry(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"User prefers Go.", "user prefers go"},
		{"  User   prefers Go ", "user prefers go"},
		{"USER PREFERS GO!!", "user prefers go"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeEntry(tc.in); got != tc.want {
			t.Errorf("NormalizeEntry(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUncoveredFrom(t *testing.T) {
	var nilMem *Memory
	if got := nilMem.UncoveredFrom(); got != 0 {
		t.Errorf("nil memory should start at 0, got %d", got)
	}
	mem := &Memory{SummarizedRange: TurnRange{From: 0, To: 14}}
	if got := mem.UncoveredFrom(); got != 15 {
		t.Errorf("expected 15, got %d", got)
	}
}

func TestNewTurnStampsFields(t *testing.T) {
	turn := NewTurn(RoleUser, "hello there")
	if turn.ID == "" {
		t.Error("turn id should be set")
	}
	if turn.Tokens <= 0 {
		t.Error("turn should carry a token estimate")
	}
	if turn.CreatedAt.IsZero() {
		t.Error("turn should carry a timestamp")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty text should be 0 tokens, got %d", got)
	}
	if got := EstimateTokens("hi"); got < 1 {
		t.Errorf("non-empty text should be at least 1 token, got %d", got)
	}
	long := EstimateTokens("this is a considerably longer sentence with many words in it")
	short := EstimateTokens("short one")
	if long <= short {
		t.Errorf("longer text should estimate more tokens: long=%d short=%d", long, short)
	}
}

func TestTotalTokens(t *testing.T) {
	turns := []Turn{{Tokens: 10}, {Tokens: 25}, {Tokens: 5}}
	if got := TotalTokens(turns); got != 40 {
		t.Errorf("expected 40, got %d", got)
	}
}
