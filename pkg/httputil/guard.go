package httputil

import "net/http"

// Guard wraps handlers with an authorization check for one capability.
// Route registration functions accept it so packages can protect their
// routes without depending on the permission resolver directly.
type Guard interface {
	Require(module, action string) func(http.Handler) http.Handler
}

// Protect applies guard to h for the given capability
func Protect(guard Guard, module, action string, h http.HandlerFunc) http.Handler {
	return guard.Require(module, action)(h)
}
