package pipeline

import "sync"

// Metadata records what each stage actually did for one query, so callers
// and metrics can see where model spend went.
type Metadata struct {
	SpellingCorrected      bool `json:"spelling_corrected"`
	AmbiguityEscalated     bool `json:"ambiguity_escalated"`
	ContextExpanded        bool `json:"context_expanded"`
	RefinementApplied      bool `json:"refinement_applied"`
	RefinementLightUsed    bool `json:"refinement_light_used"`
	SummarizationTriggered bool `json:"summarization_triggered"`
	ClarificationAsked     bool `json:"clarification_asked"`
}

// HeavyUsed reports whether any stage beyond the final answer touched the
// heavy backend.
func (m Metadata) HeavyUsed() bool {
	return m.AmbiguityEscalated
}

// UsageStats is a running picture of how often queries escalate.
type UsageStats struct {
	TotalQueries    int     `json:"total_queries"`
	HeavyCalls      int     `json:"heavy_calls"`
	UsagePercentage float64 `json:"usage_percentage"`
}

// UsageCounter tracks escalation frequency. It is an explicit dependency of
// the orchestrator rather than package state so tests stay isolated.
type UsageCounter struct {
	mu      sync.Mutex
	queries int
	heavy   int
}

func NewUsageCounter() *UsageCounter {
	return &UsageCounter{}
}

func (c *UsageCounter) Record(heavyUsed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries++
	if heavyUsed {
		c.heavy++
	}
}

func (c *UsageCounter) Stats() UsageStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := UsageStats{TotalQueries: c.queries, HeavyCalls: c.heavy}
	if c.queries > 0 {
		stats.UsagePercentage = float64(c.heavy) / float64(c.queries) * 100
	}
	return stats
}
