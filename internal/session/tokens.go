package session

import "strings"

// Per-turn formatting overhead added on top of the text estimate.
const turnOverheadTokens = 4

// EstimateTokens approximates the token count of a text without a tokenizer
// dependency. CJK characters weigh heavier than whitespace-separated words.
func EstimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	cjk := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			cjk++
		}
	}
	words := len(strings.Fields(text))
	estimate := int(float64(cjk)*1.5 + float64(words)*0.75)
	if estimate < 1 {
		return 1
	}
	return estimate
}

// TurnTokens is the cost a turn contributes to the summarization budget.
func TurnTokens(role, text string) int {
	return EstimateTokens(role) + EstimateTokens(text) + turnOverheadTokens
}

// TotalTokens sums the recorded token counts of the given turns.
func TotalTokens(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += t.Tokens
	}
	return total
}
