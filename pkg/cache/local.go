package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gaspipe/docvault/pkg/observability"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Local is a per-process LRU cache with TTL expiry. It is only coherent for
// a single docvault instance; use Redis when running replicas.
type Local struct {
	entries *lru.LRU[string, []byte]
	epoch   atomic.Int64
	metrics *observability.Metrics
}

// NewLocal creates an in-process cache holding at most size entries
func NewLocal(size int, ttl time.Duration, metrics *observability.Metrics) *Local {
	if size < 16 {
		size = 16
	}
	return &Local{
		entries: lru.NewLRU[string, []byte](size, nil, ttl),
		metrics: metrics,
	}
}

func (c *Local) Epoch(ctx context.Context) (int64, error) {
	return c.epoch.Load(), nil
}

func (c *Local) Get(ctx context.Context, epoch int64, key string, dest interface{}) (bool, error) {
	fullKey := epochKey(epoch, key)
	data, ok := c.entries.Get(fullKey)
	if !ok {
		recordMiss(c.metrics, key)
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.entries.Remove(fullKey)
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	recordHit(c.metrics, key)
	return true, nil
}

func (c *Local) Set(ctx context.Context, epoch int64, key string, value interface{}) error {
	if epoch != c.epoch.Load() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	c.entries.Add(epochKey(epoch, key), data)
	return nil
}

func (c *Local) Invalidate(ctx context.Context) error {
	c.epoch.Add(1)
	c.entries.Purge()
	return nil
}

// Len returns the number of live entries
func (c *Local) Len() int {
	return c.entries.Len()
}

func epochKey(epoch int64, key string) string {
	return fmt.Sprintf("%d:%s", epoch, key)
}

func kindOf(key string) string {
	kind, _, _ := strings.Cut(key, ":")
	return kind
}

func recordHit(m *observability.Metrics, key string) {
	if m != nil {
		m.CacheHitsTotal.WithLabelValues(kindOf(key)).Inc()
	}
}

func recordMiss(m *observability.Metrics, key string) {
	if m != nil {
		m.CacheMissesTotal.WithLabelValues(kindOf(key)).Inc()
	}
}
