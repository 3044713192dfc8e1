// Package orgs manages the organizational structure that scopes document
// visibility: UMGs (regional units), the services under each UMG, and the
// department tree inside each service. It also holds the per-user grants
// that the access gate resolves into a visible service set.
//
// Departments form a forest per service. A department's parent must belong
// to the same service, and moves that would create a cycle fail with
// ErrCycle. Level is the depth from the root and is recomputed on moves.
//
// Deletes are validated before they run: a UMG with services, objects,
// documents or grants, a service with departments, document or object
// bindings or grants, and a department with children all fail with
// ErrResourceInUse.
package orgs
