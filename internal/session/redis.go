package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionsKey = "sessions"

// RedisStore keeps sessions in Redis, for deployments where the engine runs
// on more than one host. Turns live in a list, memory in a single key.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func turnsKey(sessionID string) string  { return "session:" + sessionID + ":turns" }
func memoryKey(sessionID string) string { return "session:" + sessionID + ":memory" }
func activeKey(sessionID string) string { return "session:" + sessionID + ":last_active" }

func (s *RedisStore) Turns(sessionID string) ([]Turn, error) {
	ctx := context.Background()
	raw, err := s.client.LRange(ctx, turnsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange turns: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, entry := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(entry), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *RedisStore) AppendTurn(sessionID string, turn Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	ctx := context.Background()
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, turnsKey(sessionID), payload)
	pipe.SAdd(ctx, sessionsKey, sessionID)
	pipe.Set(ctx, activeKey(sessionID), turn.CreatedAt.Format(time.RFC3339Nano), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *RedisStore) Memory(sessionID string) (*Memory, error) {
	ctx := context.Background()
	payload, err := s.client.Get(ctx, memoryKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}

	var mem Memory
	if err := json.Unmarshal([]byte(payload), &mem); err != nil {
		return nil, fmt.Errorf("decode memory: %w", err)
	}
	return &mem, nil
}

func (s *RedisStore) SaveMemory(sessionID string, mem *Memory) error {
	payload, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	ctx := context.Background()
	if err := s.client.Set(ctx, memoryKey(sessionID), payload, 0).Err(); err != nil {
		return fmt.Errorf("set memory: %w", err)
	}
	return nil
}

func (s *RedisStore) SessionIDs() ([]string, error) {
	ctx := context.Background()
	ids, err := s.client.SMembers(ctx, sessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers sessions: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) LastActive(sessionID string) (time.Time, error) {
	ctx := context.Background()
	stamp, err := s.client.Get(ctx, activeKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last active: %w", err)
	}
	last, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last active: %w", err)
	}
	return last, nil
}

func (s *RedisStore) DeleteSession(sessionID string) error {
	ctx := context.Background()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, turnsKey(sessionID), memoryKey(sessionID), activeKey(sessionID))
	pipe.SRem(ctx, sessionsKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
