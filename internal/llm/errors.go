package llm

import "errors"

// Classified backend failures. Callers branch with errors.Is; anything else is
// treated as a generic backend failure.
var (
	ErrTimeout   = errors.New("llm: request timed out")
	ErrQuota     = errors.New("llm: quota exhausted")
	ErrMalformed = errors.New("llm: malformed response")
)
