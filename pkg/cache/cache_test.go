package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCache struct {
	invalidated int
}

func (f *failingCache) Epoch(ctx context.Context) (int64, error) {
	return 0, errors.New("unavailable")
}

func (f *failingCache) Get(ctx context.Context, epoch int64, key string, dest interface{}) (bool, error) {
	return false, errors.New("unavailable")
}

func (f *failingCache) Set(ctx context.Context, epoch int64, key string, value interface{}) error {
	return errors.New("unavailable")
}

func (f *failingCache) Invalidate(ctx context.Context) error {
	f.invalidated++
	return errors.New("unavailable")
}

func TestUserKey(t *testing.T) {
	assert.Equal(t, "roles:42", UserKey(KindRoles, 42))
	assert.Equal(t, "scope:7", UserKey(KindScope, 7))
}

func TestFetch_CachesLoadedValue(t *testing.T) {
	ctx := context.Background()
	c := NewLocal(32, time.Minute, nil)

	calls := 0
	load := func(context.Context) ([]int64, error) {
		calls++
		return []int64{1, 2}, nil
	}

	got, err := Fetch(ctx, c, UserKey(KindRoles, 1), load)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, got)

	got, err = Fetch(ctx, c, UserKey(KindRoles, 1), load)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, got)
	assert.Equal(t, 1, calls)
}

func TestFetch_DoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	c := NewLocal(32, time.Minute, nil)

	calls := 0
	load := func(context.Context) ([]int64, error) {
		calls++
		return nil, errors.New("db down")
	}

	_, err := Fetch(ctx, c, "roles:1", load)
	require.Error(t, err)
	_, err = Fetch(ctx, c, "roles:1", load)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, c.Len())
}

func TestFetch_DegradesWhenCacheFails(t *testing.T) {
	got, err := Fetch(context.Background(), &failingCache{}, "roles:1", func(context.Context) ([]int64, error) {
		return []int64{3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, got)
}

func TestFetch_NilCache(t *testing.T) {
	got, err := Fetch(context.Background(), nil, "roles:1", func(context.Context) (string, error) {
		return "direct", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "direct", got)
}

func TestFetch_StaleLoadIsNotPublished(t *testing.T) {
	ctx := context.Background()
	c := NewLocal(32, time.Minute, nil)

	// A mutation lands while the first lookup is still reading the database.
	_, err := Fetch(ctx, c, "roles:1", func(ctx context.Context) ([]int64, error) {
		require.NoError(t, c.Invalidate(ctx))
		return []int64{1}, nil
	})
	require.NoError(t, err)

	got, err := Fetch(ctx, c, "roles:1", func(context.Context) ([]int64, error) {
		return []int64{1, 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, got)
}

func TestBust_SwallowsErrors(t *testing.T) {
	f := &failingCache{}
	Bust(context.Background(), f)
	Bust(context.Background(), nil)
	assert.Equal(t, 1, f.invalidated)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	c := NewNoop()

	require.NoError(t, c.Set(ctx, 0, "roles:1", []int64{1}))
	var dest []int64
	hit, err := c.Get(ctx, 0, "roles:1", &dest)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, c.Invalidate(ctx))
}
