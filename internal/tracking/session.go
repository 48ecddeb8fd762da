package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TobiSchelling/newssite/internal/warehouse"
)

// Sessions is server-side per-visitor state keyed by user id.
type Sessions interface {
	// CountHits increments the visitor's hit counter and returns the new value.
	CountHits(ctx context.Context, userID string) (int64, error)
	// SaveFeed remembers the articles rendered for the visitor.
	SaveFeed(ctx context.Context, userID string, feed []warehouse.FeedArticle) error
	// LoadFeed returns the last saved feed, or nil if there is none.
	LoadFeed(ctx context.Context, userID string) ([]warehouse.FeedArticle, error)
}

// RedisSessions stores sessions in a Redis hash per user.
type RedisSessions struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisSessions creates a Redis-backed session store. A zero ttl keeps
// sessions forever.
func NewRedisSessions(client *redis.Client, ttl time.Duration) *RedisSessions {
	return &RedisSessions{redis: client, ttl: ttl}
}

func sessionKey(userID string) string {
	return "newssite:session:" + userID
}

func (s *RedisSessions) touch(ctx context.Context, key string) error {
	if s.ttl <= 0 {
		return nil
	}
	return s.redis.Expire(ctx, key, s.ttl).Err()
}

// CountHits implements Sessions.
func (s *RedisSessions) CountHits(ctx context.Context, userID string) (int64, error) {
	key := sessionKey(userID)
	hits, err := s.redis.HIncrBy(ctx, key, "hits", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count hits: %w", err)
	}
	if err := s.touch(ctx, key); err != nil {
		return 0, fmt.Errorf("failed to refresh session ttl: %w", err)
	}
	return hits, nil
}

// SaveFeed implements Sessions.
func (s *RedisSessions) SaveFeed(ctx context.Context, userID string, feed []warehouse.FeedArticle) error {
	data, err := json.Marshal(feed)
	if err != nil {
		return fmt.Errorf("failed to marshal feed: %w", err)
	}
	key := sessionKey(userID)
	if err := s.redis.HSet(ctx, key, "feed", data).Err(); err != nil {
		return fmt.Errorf("failed to save feed: %w", err)
	}
	return s.touch(ctx, key)
}

// LoadFeed implements Sessions.
func (s *RedisSessions) LoadFeed(ctx context.Context, userID string) ([]warehouse.FeedArticle, error) {
	data, err := s.redis.HGet(ctx, sessionKey(userID), "feed").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load feed: %w", err)
	}
	var feed []warehouse.FeedArticle
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feed: %w", err)
	}
	return feed, nil
}

type memSession struct {
	hits int64
	feed []warehouse.FeedArticle
}

// MemorySessions keeps sessions in process memory. It is used when no Redis
// URL is configured.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]*memSession
}

// NewMemorySessions creates an empty in-memory store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]*memSession)}
}

func (m *MemorySessions) get(userID string) *memSession {
	s, ok := m.sessions[userID]
	if !ok {
		s = &memSession{}
		m.sessions[userID] = s
	}
	return s
}

// CountHits implements Sessions.
func (m *MemorySessions) CountHits(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(userID)
	s.hits++
	return s.hits, nil
}

// SaveFeed implements Sessions.
func (m *MemorySessions) SaveFeed(_ context.Context, userID string, feed []warehouse.FeedArticle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(userID).feed = append([]warehouse.FeedArticle(nil), feed...)
	return nil
}

// LoadFeed implements Sessions.
func (m *MemorySessions) LoadFeed(_ context.Context, userID string) ([]warehouse.FeedArticle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	return append([]warehouse.FeedArticle(nil), s.feed...), nil
}
