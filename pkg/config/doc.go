// Package config loads docvault configuration from environment variables.
//
// Required:
//
//	DOCVAULT_POSTGRES_URL="postgres://docvault@localhost/docvault?sslmode=disable"
//	DOCVAULT_JWT_SECRET="<at least 32 bytes>"
//
// Access control:
//
//	DOCVAULT_SCOPE_POLICY="umg"            # direct, umg
//	DOCVAULT_CAPABILITIES_FILE="caps.yaml" # optional capability registry extension
//
// Resolver cache (disabled by default):
//
//	DOCVAULT_RBAC_CACHE="off"              # off, local, redis
//	DOCVAULT_REDIS_URL="redis://localhost:6379/0"
//
// Search:
//
//	DOCVAULT_SEARCH_LANGUAGE="russian"
//	DOCVAULT_SEARCH_SIMILARITY="0.3"
package config
