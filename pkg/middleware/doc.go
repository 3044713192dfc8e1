// Package middleware provides request throttling for the HTTP API.
//
// # Overview
//
// Two budgets are applied. Login attempts are charged to the caller's
// address to slow password guessing, and authenticated requests are
// charged to the user.
//
//	login := middleware.NewRateLimitMiddleware("login",
//		middleware.NewRateLimiter(middleware.LoginRateLimitConfig()), middleware.ByClientIP, metrics)
//	router.Handle("/api/auth/login", login.Handler(loginHandler))
//
// # Backends
//
// RateLimiter keeps token buckets in process. DistributedRateLimiter keeps
// fixed-window counters in Redis and is used when several instances share
// one Redis. A failing limiter never blocks a request.
//
// # Rate Limiting
//
// Login: 10 req/min, 5 burst, per address
// API: 600 req/min, 60 burst, per user
package middleware
