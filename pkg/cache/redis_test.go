package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCacheWithClient(client, "test:"), mr
}

func TestRedisCache_SetGetJSON(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.Set(ctx, "k", payload{Name: "captain"}, time.Minute))
	assert.True(t, mr.Exists("test:k"))

	var got payload
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "captain", got.Name)
}

func TestRedisCache_GetStringMiss(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.GetString(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_DeleteAndExists(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetString(ctx, "k", "v", 0))
	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "k"))
	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_PublishSubscribe(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	sub := c.Subscribe(ctx, "events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "events", map[string]string{"event": "notification"}))

	select {
	case msg := <-sub.Channel():
		assert.JSONEq(t, `{"event":"notification"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
