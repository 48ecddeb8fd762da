package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisSessions_CountHits(t *testing.T) {
	_, client := setupTestRedis(t)
	s := NewRedisSessions(client, time.Hour)
	ctx := context.Background()

	first, err := s.CountHits(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	second, err := s.CountHits(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), second)

	other, err := s.CountHits(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func TestRedisSessions_FeedRoundTrip(t *testing.T) {
	_, client := setupTestRedis(t)
	s := NewRedisSessions(client, time.Hour)
	ctx := context.Background()

	feed, err := s.LoadFeed(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, feed)

	require.NoError(t, s.SaveFeed(ctx, "u1", testFeed()))
	feed, err = s.LoadFeed(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, "https://example.com/2", feed[1].URL)

	// Saving again replaces the previous render.
	require.NoError(t, s.SaveFeed(ctx, "u1", testFeed()[:1]))
	feed, err = s.LoadFeed(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, feed, 1)
}

func TestRedisSessions_Expiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	s := NewRedisSessions(client, time.Minute)
	ctx := context.Background()

	_, err := s.CountHits(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, s.SaveFeed(ctx, "u1", testFeed()))

	mr.FastForward(2 * time.Minute)

	hits, err := s.CountHits(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits, "expired session should start over")

	feed, err := s.LoadFeed(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, feed)
}

func TestRedisSessions_Unavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	s := NewRedisSessions(client, time.Hour)
	mr.Close()

	_, err := s.CountHits(context.Background(), "u1")
	assert.Error(t, err)
}
