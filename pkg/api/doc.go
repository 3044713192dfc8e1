// Package api assembles the DocVault HTTP API.
//
// # Overview
//
// NewServer builds every store and handler set from one Dependencies value
// and mounts them on a gorilla/mux router:
//
//   - Identity: login, logout and user management
//   - RBAC: roles, permissions, capabilities and /api/auth/me
//   - Organization: UMGs, services, departments and user grants
//   - Documents: categories, documents, pipeline objects and QR lookup
//   - Access: scoped document and object listings
//   - Search: scoped full-text document search
//   - Audit: the audit trail viewer
//
// # Request Pipeline
//
// Every request passes panic recovery, request ID assignment, client info
// capture and the body size limit. Only POST /api/auth/login is reachable
// without a bearer token, and it is throttled per client address. Every
// other route requires a token for an active account, is throttled per
// user and is guarded by one module:action capability.
//
// # Usage
//
//	srv, err := api.NewServer(ctx, api.Dependencies{DB: db, Config: cfg, Logger: logger, Registry: registry})
//	if err != nil {
//		return err
//	}
//	if err := srv.Bootstrap(ctx); err != nil {
//		return err
//	}
//	http.ListenAndServe(":8080", srv)
package api
