package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/querypilot/internal/config"
)

// Store is the durable session repository: an append-only turn log plus one
// Memory per session. Implementations are safe for concurrent use across
// sessions; the pipeline serializes access within a session.
type Store interface {
	Turns(sessionID string) ([]Turn, error)
	AppendTurn(sessionID string, turn Turn) error
	// Memory returns (nil, nil) when the session has never been summarized.
	Memory(sessionID string) (*Memory, error)
	SaveMemory(sessionID string, mem *Memory) error
	SessionIDs() ([]string, error)
	LastActive(sessionID string) (time.Time, error)
	DeleteSession(sessionID string) error
	Close() error
}

func NewStore(cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "sqlite":
		return NewSQLiteStore(cfg.DBPath)
	case "redis":
		return NewRedisStore(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
