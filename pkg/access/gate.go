// Package access turns a user's service and UMG grants into a service
// scope and answers every scoped question about documents and objects.
//
// A document or object is visible when one of its service grants with
// can_view names a service in the caller's scope. An empty scope sees
// nothing and never reaches the database.
package access

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/gaspipe/docvault/pkg/cache"
	"github.com/gaspipe/docvault/pkg/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Policy decides how UMG grants contribute to a user's scope
type Policy string

const (
	// ScopeDirect uses direct service grants only
	ScopeDirect Policy = "direct"
	// ScopeIncludeUmg also includes every service under a granted UMG
	ScopeIncludeUmg Policy = "umg"
)

// ParsePolicy validates a configured policy name
func ParsePolicy(name string) (Policy, error) {
	switch p := Policy(name); p {
	case ScopeDirect, ScopeIncludeUmg:
		return p, nil
	}
	return "", fmt.Errorf("unknown scope policy %q", name)
}

// GrantSource reads a user's direct grants
type GrantSource interface {
	GetUserServiceAccess(ctx context.Context, userID int64) ([]int64, error)
	GetUserUmgAccess(ctx context.Context, userID int64) ([]int64, error)
	ServiceIDsByUmgs(ctx context.Context, umgIDs []int64) ([]int64, error)
}

// Gate resolves service scope and runs scoped queries
type Gate struct {
	db      *sql.DB
	grants  GrantSource
	policy  Policy
	cache   cache.Cache
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewGate creates a gate. c and metrics may be nil.
func NewGate(db *sql.DB, grants GrantSource, policy Policy, c cache.Cache, metrics *observability.Metrics) *Gate {
	if c == nil {
		c = cache.NewNoop()
	}
	if policy == "" {
		policy = ScopeIncludeUmg
	}
	return &Gate{
		db:      db,
		grants:  grants,
		policy:  policy,
		cache:   c,
		metrics: metrics,
		tracer:  otel.Tracer("github.com/gaspipe/docvault/pkg/access"),
	}
}

// Policy returns the scope policy in effect
func (g *Gate) Policy() Policy {
	return g.policy
}

// VisibleServiceIDs returns the sorted set of services whose documents and
// objects the user may see
func (g *Gate) VisibleServiceIDs(ctx context.Context, userID int64) ([]int64, error) {
	ctx, span := g.tracer.Start(ctx, "access.VisibleServiceIDs", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("scope.policy", string(g.policy)),
	))
	defer span.End()

	scope, err := cache.Fetch(ctx, g.cache, cache.UserKey(cache.KindScope, userID), func(ctx context.Context) ([]int64, error) {
		return g.loadScope(ctx, userID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scope resolution failed")
		g.record("error")
		return nil, err
	}

	span.SetAttributes(attribute.Int("scope.services", len(scope)))
	if len(scope) == 0 {
		g.record("empty")
	} else {
		g.record("scoped")
	}
	return scope, nil
}

func (g *Gate) loadScope(ctx context.Context, userID int64) ([]int64, error) {
	direct, err := g.grants.GetUserServiceAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	if g.policy != ScopeIncludeUmg {
		return union(direct), nil
	}

	umgs, err := g.grants.GetUserUmgAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(umgs) == 0 {
		return union(direct), nil
	}
	viaUmg, err := g.grants.ServiceIDsByUmgs(ctx, umgs)
	if err != nil {
		return nil, err
	}
	return union(direct, viaUmg), nil
}

func (g *Gate) record(outcome string) {
	if g.metrics != nil {
		g.metrics.ScopeResolutionsTotal.WithLabelValues(outcome).Inc()
	}
}

// union merges id sets into one sorted, duplicate-free slice
func union(sets ...[]int64) []int64 {
	seen := make(map[int64]struct{})
	out := make([]int64, 0)
	for _, set := range sets {
		for _, id := range set {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
