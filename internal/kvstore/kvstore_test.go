package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	r := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	t.Cleanup(func() { _ = r.Close() })

	return r, mr
}

func TestRedis_SetGetRemove(t *testing.T) {
	r, _ := newTestRedis(t, time.Hour)
	ctx := context.Background()

	_, ok, err := r.GetItem(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetItem(ctx, "k", "v"))

	value, ok, err := r.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)

	require.NoError(t, r.RemoveItem(ctx, "k"))

	_, ok, err = r.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_RemoveMissingKey(t *testing.T) {
	r, _ := newTestRedis(t, 0)
	assert.NoError(t, r.RemoveItem(context.Background(), "never-set"))
}

func TestRedis_TTL(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, r.SetItem(ctx, "k", "v"))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)

	_, ok, err := r.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "key should expire after ttl")
}

func TestRedis_NoTTL(t *testing.T) {
	r, mr := newTestRedis(t, 0)

	require.NoError(t, r.SetItem(context.Background(), "k", "v"))
	assert.Equal(t, time.Duration(0), mr.TTL("k"))
}

func TestScope_IsolatesContexts(t *testing.T) {
	r, mr := newTestRedis(t, time.Hour)
	ctx := context.Background()

	a := r.Scope(ContextPrefix("a"))
	b := r.Scope(ContextPrefix("b"))

	require.NoError(t, a.SetItem(ctx, "pending_tenant", "from-a"))

	_, ok, err := b.GetItem(ctx, "pending_tenant")
	require.NoError(t, err)
	assert.False(t, ok, "scope b must not see scope a's keys")

	value, ok, err := a.GetItem(ctx, "pending_tenant")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-a", value)

	got, err := mr.Get("menuboard:ctx:a:pending_tenant")
	require.NoError(t, err)
	assert.Equal(t, "from-a", got)

	require.NoError(t, b.RemoveItem(ctx, "pending_tenant"))
	assert.True(t, mr.Exists("menuboard:ctx:a:pending_tenant"))
}

func TestRedis_ConnectionError(t *testing.T) {
	r, mr := newTestRedis(t, 0)
	mr.Close()

	_, _, err := r.GetItem(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, r.Ping(context.Background()))
}

func TestNewRedis_InvalidURL(t *testing.T) {
	_, err := NewRedis("http://localhost:6379", 0)
	assert.Error(t, err)
}
