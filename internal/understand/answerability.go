package understand

import (
	"context"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/stellarlinkco/querypilot/internal/llm"
	"github.com/stellarlinkco/querypilot/internal/session"
)

// Answerability is the gate's judgement on whether the session holds enough
// context to answer the query directly.
type Answerability struct {
	Answerable bool     `json:"answerable"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	Matches    []string `json:"matches,omitempty"`
}

const (
	// Confidence when nothing in the session resembles the query.
	confNoContext = 0.60
	// Confidence when the query lines up with a recorded open question.
	confOpenQuestion = 0.75
	// Floor for counting an open-question alignment at all.
	openQuestionFloor = 0.5
)

// Gate scores the query against session memory and recent turns. With an
// embedder it uses cosine similarity; without one it degrades to lexical
// overlap. Never calls the heavy backend.
type Gate struct {
	embedder  llm.Embedder
	threshold float64
	window    int
	vectors   *gocache.Cache
}

func NewGate(embedder llm.Embedder, threshold float64, window int) *Gate {
	return &Gate{
		embedder:  embedder,
		threshold: threshold,
		window:    window,
		vectors:   gocache.New(30*time.Minute, 10*time.Minute),
	}
}

type scoredMatch struct {
	text         string
	score        float64
	openQuestion bool
}

// Check gates the query. An ambiguous classification short-circuits: there is
// no point scoring similarity for a query whose referents are unknown.
func (g *Gate) Check(ctx context.Context, query string, cls Classification, mem *session.Memory, history []session.Turn) Answerability {
	if cls.Verdict == VerdictAmbiguous {
		return Answerability{
			Answerable: false,
			Confidence: cls.Confidence,
			Reason:     "unresolved ambiguity",
		}
	}

	// A clear query stands on its own; missing context only lowers the
	// confidence that prior session state backs the answer.
	candidates := g.candidates(mem, history)
	if len(candidates) == 0 {
		return Answerability{
			Answerable: true,
			Confidence: confNoContext,
			Reason:     "clear intent with no supporting session context",
		}
	}

	scored := g.score(ctx, query, candidates)
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	best := scored[0]
	if best.score > g.threshold {
		matches := make([]string, 0, 3)
		for _, m := range scored {
			if m.score > g.threshold && len(matches) < 3 {
				matches = append(matches, m.text)
			}
		}
		return Answerability{
			Answerable: true,
			Confidence: best.score,
			Reason:     "query matches existing session context",
			Matches:    matches,
		}
	}

	for _, m := range scored {
		if m.openQuestion && m.score > openQuestionFloor {
			return Answerability{
				Answerable: true,
				Confidence: confOpenQuestion,
				Reason:     "query continues a recorded open question",
				Matches:    []string{m.text},
			}
		}
	}

	return Answerability{
		Answerable: true,
		Confidence: confNoContext,
		Reason:     "clear intent with no sufficiently similar context",
	}
}

type candidate struct {
	text         string
	openQuestion bool
}

func (g *Gate) candidates(mem *session.Memory, history []session.Turn) []candidate {
	var out []candidate
	if mem != nil {
		for _, entry := range mem.KeyFacts {
			out = append(out, candidate{text: entry})
		}
		for _, entry := range mem.Decisions {
			out = append(out, candidate{text: entry})
		}
		for _, entry := range mem.Profile.Preferences {
			out = append(out, candidate{text: entry})
		}
		for _, entry := range mem.Profile.Constraints {
			out = append(out, candidate{text: entry})
		}
		for _, entry := range mem.OpenQuestions {
			out = append(out, candidate{text: entry, openQuestion: true})
		}
	}
	for _, turn := range recentTurns(history, g.window) {
		out = append(out, candidate{text: turn.Text})
	}
	return out
}

func (g *Gate) score(ctx context.Context, query string, candidates []candidate) []scoredMatch {
	scored := make([]scoredMatch, 0, len(candidates))

	queryVec := g.embed(ctx, query)
	for _, cand := range candidates {
		var score float64
		if queryVec != nil {
			if candVec := g.embed(ctx, cand.text); candVec != nil {
				score = cosine(queryVec, candVec)
			} else {
				score = lexicalOverlap(query, cand.text)
			}
		} else {
			score = lexicalOverlap(query, cand.text)
		}
		scored = append(scored, scoredMatch{text: cand.text, score: score, openQuestion: cand.openQuestion})
	}
	return scored
}

// embed fetches the vector for a text, caching results so repeated gating of
// the same memory entries costs one call each.
func (g *Gate) embed(ctx context.Context, text string) []float32 {
	if g.embedder == nil {
		return nil
	}
	if cached, ok := g.vectors.Get(text); ok {
		return cached.([]float32)
	}
	vec, err := g.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("[gate] embedding failed, falling back to lexical overlap: %v", err)
		return nil
	}
	g.vectors.SetDefault(text, vec)
	return vec
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// lexicalOverlap is Jaccard similarity over lowercased word sets.
func lexicalOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(text) {
		if core := wordCore(tok); core != "" {
			set[core] = struct{}{}
		}
	}
	return set
}
