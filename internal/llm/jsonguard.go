package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON object out of a completion that may wrap it in
// markdown fences or surrounding prose.
func ExtractJSON(text string) (string, error) {
	cleaned := strings.TrimSpace(text)
	if strings.Contains(cleaned, "```") {
		cleaned = strings.ReplaceAll(cleaned, "```json", "```")
		parts := strings.Split(cleaned, "```")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
				cleaned = trimmed
				break
			}
		}
	}

	start := strings.IndexAny(cleaned, "{[")
	if start >= 0 {
		var end int
		if cleaned[start] == '{' {
			end = strings.LastIndex(cleaned, "}")
		} else {
			end = strings.LastIndex(cleaned, "]")
		}
		if end > start {
			candidate := cleaned[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}

	if json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}
	return "", fmt.Errorf("%w: no json value in %q", ErrMalformed, truncate(text, 120))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
