package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gaspipe/docvault/pkg/access"
	"github.com/gaspipe/docvault/pkg/audit"
	"github.com/gaspipe/docvault/pkg/cache"
	"github.com/gaspipe/docvault/pkg/config"
	"github.com/gaspipe/docvault/pkg/documents"
	"github.com/gaspipe/docvault/pkg/httputil"
	"github.com/gaspipe/docvault/pkg/identity"
	"github.com/gaspipe/docvault/pkg/middleware"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/gaspipe/docvault/pkg/orgs"
	"github.com/gaspipe/docvault/pkg/rbac"
	"github.com/gaspipe/docvault/pkg/search"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Dependencies are the shared resources the server is built from
type Dependencies struct {
	DB       *sql.DB
	Config   *config.Config
	Logger   *observability.Logger
	Registry *rbac.Registry
	// Optional
	Metrics *observability.Metrics
	Cache   cache.Cache
	Redis   *redis.Client
}

// Server is the DocVault HTTP API
type Server struct {
	cfg     *config.Config
	logger  *observability.Logger
	router  *mux.Router
	handler http.Handler

	Users     *identity.Store
	Roles     *rbac.Store
	Resolver  *rbac.Resolver
	Orgs      *orgs.Store
	Documents *documents.Store
	Gate      *access.Gate
	Search    *search.Service
	Audit     *audit.DBLogger
}

// NewServer wires every store and handler set. ctx bounds background
// work such as rate limiter cleanup.
func NewServer(ctx context.Context, deps Dependencies) (*Server, error) {
	if deps.DB == nil || deps.Config == nil || deps.Registry == nil {
		return nil, errors.New("api: database, config and registry are required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewNoop()
	}
	cfg := deps.Config

	policy, err := access.ParsePolicy(cfg.Access.ScopePolicy)
	if err != nil {
		return nil, err
	}
	dbAudit, err := audit.NewDBLogger(deps.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		logger:    deps.Logger,
		router:    mux.NewRouter(),
		Users:     identity.NewStore(deps.DB, deps.Cache),
		Roles:     rbac.NewStore(deps.DB, deps.Registry, deps.Cache),
		Resolver:  rbac.NewResolver(deps.DB, deps.Cache, deps.Metrics),
		Orgs:      orgs.NewStore(deps.DB, deps.Cache),
		Documents: documents.NewStore(deps.DB),
		Audit:     dbAudit,
	}
	s.Gate = access.NewGate(deps.DB, s.Orgs, policy, deps.Cache, deps.Metrics)
	s.Search = search.NewService(deps.DB, s.Gate, search.ConfigFrom(cfg.Search), deps.Metrics)

	recorder := audit.NewRecorder(
		audit.NewMultiLogger(dbAudit, audit.NewStreamLogger(deps.Logger)),
		deps.Metrics, deps.Logger)
	tokens := identity.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	guard := rbac.NewPermissionMiddleware(s.Resolver, deps.Registry)

	identityHandlers := identity.NewHandlers(s.Users, identity.NewAuthenticator(s.Users, tokens), recorder)

	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	loginLimit, apiLimit := s.rateLimiters(ctx, deps)

	public := s.router.NewRoute().Subrouter()
	if loginLimit != nil {
		public.Use(loginLimit.Handler)
	}
	identityHandlers.RegisterPublicRoutes(public)

	authed := s.router.NewRoute().Subrouter()
	authed.Use(identity.NewAuthMiddleware(tokens, s.Users).Handler)
	if apiLimit != nil {
		authed.Use(apiLimit.Handler)
	}

	// Search before the document routes so /api/documents/search is never
	// read as a document id.
	search.NewHandlers(s.Search).RegisterRoutes(authed, guard)
	identityHandlers.RegisterRoutes(authed, guard)
	rbac.NewHandlers(s.Roles, s.Resolver, deps.Registry, s.Users, recorder).RegisterRoutes(authed, guard)
	orgs.NewHandlers(s.Orgs, recorder).RegisterRoutes(authed, guard)
	access.NewHandlers(s.Gate).RegisterRoutes(authed, guard)
	documents.NewHandlers(s.Documents, s.Gate, recorder).RegisterRoutes(authed, guard)
	audit.NewHandlers(dbAudit).RegisterRoutes(authed, guard)

	chain := httputil.Chain(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware,
		audit.ClientInfoMiddleware,
		requestLogger(deps.Logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)
	s.handler = otelhttp.NewHandler(chain(s.router), "docvault-api")
	return s, nil
}

func (s *Server) rateLimiters(ctx context.Context, deps Dependencies) (login, api *middleware.RateLimitMiddleware) {
	rl := deps.Config.RateLimit
	if !rl.Enabled {
		return nil, nil
	}
	loginCfg := &middleware.RateLimitConfig{RequestsPerWindow: rl.LoginPerMinute, WindowDuration: time.Minute, BurstSize: rl.LoginBurst}
	apiCfg := &middleware.RateLimitConfig{RequestsPerWindow: rl.APIPerMinute, WindowDuration: time.Minute, BurstSize: rl.APIBurst}

	var loginLimiter, apiLimiter middleware.Limiter
	if deps.Redis != nil {
		loginLimiter = middleware.NewDistributedRateLimiter(deps.Redis, loginCfg, "docvault:ratelimit:login")
		apiLimiter = middleware.NewDistributedRateLimiter(deps.Redis, apiCfg, "docvault:ratelimit:api")
	} else {
		local := middleware.NewRateLimiter(loginCfg)
		local.StartCleanup(ctx)
		loginLimiter = local
		local = middleware.NewRateLimiter(apiCfg)
		local.StartCleanup(ctx)
		apiLimiter = local
	}
	return middleware.NewRateLimitMiddleware("login", loginLimiter, middleware.ByClientIP, deps.Metrics),
		middleware.NewRateLimitMiddleware("api", apiLimiter, middleware.ByPrincipal, deps.Metrics)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// requestLogger places the logger on the request context and logs each
// completed request
func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := httputil.NewStatusRecorder(w)
			ctx := observability.WithLogger(r.Context(), observability.WithTraceContext(r.Context(), logger))

			next.ServeHTTP(rec, r.WithContext(ctx))

			observability.FromContext(ctx).WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.Status,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("request completed")
		})
	}
}
