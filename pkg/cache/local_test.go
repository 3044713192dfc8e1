package cache

import (
	"context"
	"testing"
	"time"

	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_GetSet(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c := NewLocal(32, time.Minute, metrics)

	epoch, err := c.Epoch(ctx)
	require.NoError(t, err)

	var dest []string
	hit, err := c.Get(ctx, epoch, "permissions:1", &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, epoch, "permissions:1", []string{"documents:view"}))
	hit, err = c.Get(ctx, epoch, "permissions:1", &dest)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"documents:view"}, dest)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("permissions")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("permissions")))
}

func TestLocal_InvalidateAdvancesEpoch(t *testing.T) {
	ctx := context.Background()
	c := NewLocal(32, time.Minute, nil)

	require.NoError(t, c.Set(ctx, 0, "scope:1", []int64{5}))
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Invalidate(ctx))
	assert.Equal(t, 0, c.Len())

	epoch, err := c.Epoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch)

	// writes tagged with the retired epoch are dropped
	require.NoError(t, c.Set(ctx, 0, "scope:1", []int64{5}))
	assert.Equal(t, 0, c.Len())
}

func TestLocal_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewLocal(32, 20*time.Millisecond, nil)

	require.NoError(t, c.Set(ctx, 0, "roles:9", []int64{1}))
	time.Sleep(60 * time.Millisecond)

	var dest []int64
	hit, err := c.Get(ctx, 0, "roles:9", &dest)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestLocal_DecodeFailureEvicts(t *testing.T) {
	ctx := context.Background()
	c := NewLocal(32, time.Minute, nil)

	require.NoError(t, c.Set(ctx, 0, "roles:1", "not a list"))
	var dest []int64
	hit, err := c.Get(ctx, 0, "roles:1", &dest)
	require.Error(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0, c.Len())
}
