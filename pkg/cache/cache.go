// Package cache is the optional resolver cache placed in front of role,
// permission and scope lookups. Every grant or role-graph mutation calls
// Invalidate, which retires all entries at once.
package cache

import (
	"context"
	"fmt"

	"github.com/gaspipe/docvault/pkg/observability"
)

// Cache stores JSON-encodable resolver results under a generation number.
// Invalidate advances the generation; a value loaded under an older
// generation is written where no reader will look for it, so a lookup
// racing a mutation can never re-publish pre-mutation data.
type Cache interface {
	// Epoch returns the current generation
	Epoch(ctx context.Context) (int64, error)

	// Get decodes the value stored under key for epoch into dest and reports whether it was found
	Get(ctx context.Context, epoch int64, key string, dest interface{}) (bool, error)

	// Set stores value under key for epoch
	Set(ctx context.Context, epoch int64, key string, value interface{}) error

	// Invalidate advances the generation, dropping every entry
	Invalidate(ctx context.Context) error
}

// Key kinds used by the resolver and the scope gate
const (
	KindRoles       = "roles"
	KindPermissions = "permissions"
	KindScope       = "scope"
)

// UserKey builds the key for one kind of per-user result
func UserKey(kind string, userID int64) string {
	return fmt.Sprintf("%s:%d", kind, userID)
}

// Fetch returns the cached value for key or calls load and caches its
// result. Cache failures degrade to calling load; load errors are never cached.
func Fetch[T any](ctx context.Context, c Cache, key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}

	logger := observability.FromContext(ctx).WithField("cache_key", key)

	epoch, err := c.Epoch(ctx)
	if err != nil {
		logger.WithError(err).Warn("resolver cache unavailable")
		return load(ctx)
	}

	var cached T
	hit, err := c.Get(ctx, epoch, key, &cached)
	if err != nil {
		logger.WithError(err).Warn("resolver cache read failed")
	} else if hit {
		return cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if err := c.Set(ctx, epoch, key, value); err != nil {
		logger.WithError(err).Warn("resolver cache write failed")
	}
	return value, nil
}

// Bust invalidates c after a committed mutation. A failure is logged rather
// than returned because the mutation itself already succeeded; entries then
// expire through their TTL.
func Bust(ctx context.Context, c Cache) {
	if c == nil {
		return
	}
	if err := c.Invalidate(ctx); err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to invalidate resolver cache")
	}
}

// NewNoop returns a cache that never stores anything
func NewNoop() Cache {
	return noop{}
}

type noop struct{}

func (noop) Epoch(ctx context.Context) (int64, error) { return 0, nil }

func (noop) Get(ctx context.Context, epoch int64, key string, dest interface{}) (bool, error) {
	return false, nil
}

func (noop) Set(ctx context.Context, epoch int64, key string, value interface{}) error { return nil }

func (noop) Invalidate(ctx context.Context) error { return nil }
