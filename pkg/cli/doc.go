// Package cli implements docvault-admin, the operator command line for a
// DocVault database.
//
// Commands:
//
//	migrate        apply schema migrations
//	seed-roles     create or refresh the admin and viewer roles
//	create-user    create an account, optionally with a role
//	assign-role    give an existing account a role
//	grant-scope    grant an account a service or UMG
//	capabilities   list the registered module:action pairs
//
// Each database command opens its own connection through Env.Open and
// closes it before returning.
package cli
