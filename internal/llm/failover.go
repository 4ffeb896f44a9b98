package llm

import (
	"context"
	"log"
)

// Failover tries the primary completer and falls back once on any classified
// or generic failure. Tier selection stays explicit: the caller always knows
// it is talking to the primary/fallback pair, never a dynamically swapped one.
type Failover struct {
	primary  TextCompleter
	fallback TextCompleter
}

func NewFailover(primary, fallback TextCompleter) *Failover {
	return &Failover{primary: primary, fallback: fallback}
}

func (f *Failover) Complete(ctx context.Context, req Request) (string, error) {
	out, err := f.primary.Complete(ctx, req)
	if err == nil {
		return out, nil
	}
	if f.fallback == nil {
		return "", err
	}
	log.Printf("[llm] primary completion failed, trying fallback: %v", err)
	out, fbErr := f.fallback.Complete(ctx, req)
	if fbErr != nil {
		// Surface the primary error, not the fallback's.
		return "", err
	}
	return out, nil
}
