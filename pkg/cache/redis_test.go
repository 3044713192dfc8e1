package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, ttl, observability.NewMetrics(prometheus.NewRegistry())), mr
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestRedis_GetSet(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t, time.Minute)

	epoch, err := c.Epoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), epoch)

	var dest []int64
	hit, err := c.Get(ctx, epoch, "scope:3", &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, epoch, "scope:3", []int64{10, 11}))
	assert.True(t, mr.Exists("docvault:rbac:0:scope:3"))
	assert.Equal(t, time.Minute, mr.TTL("docvault:rbac:0:scope:3"))

	hit, err = c.Get(ctx, epoch, "scope:3", &dest)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []int64{10, 11}, dest)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.CacheHitsTotal.WithLabelValues("scope")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.CacheMissesTotal.WithLabelValues("scope")))
}

func TestRedis_InvalidateAdvancesEpoch(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t, time.Minute)

	require.NoError(t, c.Set(ctx, 0, "roles:1", []int64{1}))
	require.NoError(t, c.Invalidate(ctx))

	epoch, err := c.Epoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch)

	var dest []int64
	hit, err := c.Get(ctx, epoch, "roles:1", &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("docvault:rbac:0:roles:1"))
}

func TestRedis_SharedAcrossClients(t *testing.T) {
	ctx := context.Background()
	first, mr := newTestRedis(t, time.Minute)
	second := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute, nil)

	require.NoError(t, first.Set(ctx, 0, "permissions:2", []string{"documents:view"}))
	require.NoError(t, second.Invalidate(ctx))

	_, err := Fetch(ctx, first, "permissions:2", func(context.Context) ([]string, error) {
		return []string{}, nil
	})
	require.NoError(t, err)

	epoch, err := first.Epoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch)
}

func TestRedis_Unavailable(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t, time.Minute)
	mr.Close()

	_, err := c.Epoch(ctx)
	assert.Error(t, err)
	assert.Error(t, c.Invalidate(ctx))
}
