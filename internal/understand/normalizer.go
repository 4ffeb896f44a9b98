package understand

import (
	"strings"
	"unicode"
)

// maxCorrectedFraction bounds how much of a query the normalizer may rewrite.
// Queries noisier than this are passed through untouched rather than guessed at.
const maxCorrectedFraction = 0.3

// Normalizer fixes obvious typos and collapses stutter duplicates without any
// model call. Corrections are conservative: a token is rewritten only when it
// sits at edit distance one from exactly one lexicon word.
type Normalizer struct {
	lexicon   map[string]struct{}
	protected map[string]struct{}
}

// Common query vocabulary. Kept small on purpose; the point is catching typos
// in frequent words, not general spell checking.
var defaultLexicon = []string{
	"the", "this", "that", "these", "those", "what", "which", "when", "where",
	"who", "whom", "whose", "why", "how", "does", "do", "did", "is", "are",
	"was", "were", "will", "would", "could", "should", "can", "may", "might",
	"have", "has", "had", "be", "been", "being", "not", "and", "but", "for",
	"with", "without", "about", "between", "difference", "compare", "compared",
	"comparison", "better", "best", "worse", "worst", "faster", "slower",
	"performance", "perform", "performs", "work", "works", "working", "use",
	"used", "using", "choose", "chose", "chosen", "option", "options",
	"recommend", "recommended", "explain", "explained", "describe", "show",
	"tell", "give", "make", "need", "want", "mean", "means", "example",
	"examples", "install", "installed", "configure", "configured", "error",
	"errors", "problem", "problems", "issue", "issues", "question", "answer",
	"because", "instead", "rather", "although", "however", "their", "there",
	"they", "them", "then", "than", "your", "you", "our", "ours", "more",
	"most", "less", "least", "very", "really", "please", "thanks", "help",
}

// Domain terms the normalizer must never "correct", even when they sit close
// to a lexicon word.
var defaultProtected = []string{
	"go", "rust", "python", "java", "javascript", "typescript", "kubernetes",
	"docker", "redis", "sqlite", "postgres", "mysql", "tensorflow", "pytorch",
	"react", "vue", "node", "linux", "macos", "windows", "grpc", "http",
	"https", "json", "yaml", "api", "sdk", "cli", "gpu", "cpu", "ram", "llm",
	"ai", "ml", "nlp", "aws", "gcp", "azure", "git", "github", "gitlab",
}

func NewNormalizer() *Normalizer {
	n := &Normalizer{
		lexicon:   make(map[string]struct{}, len(defaultLexicon)),
		protected: make(map[string]struct{}, len(defaultProtected)),
	}
	for _, w := range defaultLexicon {
		n.lexicon[w] = struct{}{}
	}
	for _, w := range defaultProtected {
		n.protected[w] = struct{}{}
	}
	return n
}

// Normalize returns the cleaned query and whether anything changed. The
// operation is idempotent: corrected output always normalizes to itself.
func (n *Normalizer) Normalize(query string) (string, bool) {
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return query, false
	}

	collapsed := n.collapseDuplicates(tokens)
	corrected, count := n.correctTokens(collapsed)

	if float64(count)/float64(len(tokens)) > maxCorrectedFraction {
		// Too garbled to trust rule corrections.
		out := strings.Join(collapsed, " ")
		return out, out != query
	}

	out := strings.Join(corrected, " ")
	return out, out != query
}

// collapseDuplicates drops immediately repeated words ("the the" -> "the"),
// comparing case-insensitively on the letter core so trailing punctuation on
// the survivor is kept.
func (n *Normalizer) collapseDuplicates(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(out) > 0 {
			prev := wordCore(out[len(out)-1])
			cur := wordCore(tok)
			if prev != "" && prev == cur {
				// Keep the later token so sentence punctuation survives.
				out[len(out)-1] = tok
				continue
			}
		}
		out = append(out, tok)
	}
	return out
}

func (n *Normalizer) correctTokens(tokens []string) ([]string, int) {
	out := make([]string, len(tokens))
	count := 0
	for i, tok := range tokens {
		prefix, core, suffix := splitPunct(tok)
		lower := strings.ToLower(core)
		if core == "" || n.known(lower) {
			out[i] = tok
			continue
		}
		replacement, ok := n.uniqueCandidate(lower)
		if !ok {
			out[i] = tok
			continue
		}
		out[i] = prefix + matchCase(core, replacement) + suffix
		count++
	}
	return out, count
}

func (n *Normalizer) known(lower string) bool {
	if _, ok := n.protected[lower]; ok {
		return true
	}
	_, ok := n.lexicon[lower]
	return ok
}

// uniqueCandidate finds the single lexicon word within edit distance one of
// the token. Zero or multiple candidates means no correction.
func (n *Normalizer) uniqueCandidate(lower string) (string, bool) {
	if len(lower) < 3 {
		return "", false
	}
	found := ""
	for word := range n.lexicon {
		if abs(len(word)-len(lower)) > 1 {
			continue
		}
		if !withinDistanceOne(lower, word) {
			continue
		}
		if found != "" {
			return "", false
		}
		found = word
	}
	return found, found != ""
}

// withinDistanceOne reports whether a and b differ by at most one edit
// (substitution, insertion or deletion).
func withinDistanceOne(a, b string) bool {
	if a == b {
		return true
	}
	la, lb := len(a), len(b)
	if la == lb {
		diff := 0
		for i := 0; i < la; i++ {
			if a[i] != b[i] {
				diff++
				if diff > 1 {
					return false
				}
			}
		}
		return diff == 1
	}
	if la > lb {
		a, b = b, a
		la, lb = lb, la
	}
	if lb-la != 1 {
		return false
	}
	// a is the shorter string; allow one skipped byte in b.
	i, j, skipped := 0, 0, false
	for i < la && j < lb {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		if skipped {
			return false
		}
		skipped = true
		j++
	}
	return true
}

func wordCore(tok string) string {
	_, core, _ := splitPunct(tok)
	return strings.ToLower(core)
}

// splitPunct peels leading and trailing punctuation off a token so
// corrections never disturb it.
func splitPunct(tok string) (prefix, core, suffix string) {
	runes := []rune(tok)
	start := 0
	for start < len(runes) && !unicode.IsLetter(runes[start]) && !unicode.IsDigit(runes[start]) {
		start++
	}
	end := len(runes)
	for end > start && !unicode.IsLetter(runes[end-1]) && !unicode.IsDigit(runes[end-1]) {
		end--
	}
	return string(runes[:start]), string(runes[start:end]), string(runes[end:])
}

// matchCase carries the original token's leading capitalization over to the
// replacement.
func matchCase(original, replacement string) string {
	if original == "" || replacement == "" {
		return replacement
	}
	first := []rune(original)[0]
	if unicode.IsUpper(first) {
		r := []rune(replacement)
		r[0] = unicode.ToUpper(r[0])
		return string(r)
	}
	return replacement
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
