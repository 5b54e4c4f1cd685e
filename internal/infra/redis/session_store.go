package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"testpass-service/internal/domain"
)

const activeKey = "testpass:session:active"

// SessionStore mirrors the live session into Redis as JSON so an attempt
// survives a reload. Writes are write-through: the engine calls Save on every
// answer or navigation. A separate pointer key records which test's attempt is
// active, for the navigation guard.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Save(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(session.TestID), data, s.ttl)
	pipe.Set(ctx, activeKey, session.TestID, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SessionStore) Load(ctx context.Context, testID string) (domain.Session, bool, error) {
	raw, err := s.client.Get(ctx, s.key(testID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, false, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, true, nil
}

func (s *SessionStore) Clear(ctx context.Context, testID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(testID))
	// Drop the active pointer only if it still points at this test.
	current, err := s.client.Get(ctx, activeKey).Result()
	if err == nil && current == testID {
		pipe.Del(ctx, activeKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *SessionStore) Active(ctx context.Context) (domain.Session, bool, error) {
	testID, err := s.client.Get(ctx, activeKey).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("active session: %w", err)
	}
	return s.Load(ctx, testID)
}

func (s *SessionStore) key(testID string) string {
	return "testpass:session:" + testID
}
