// Package middleware implements the onion-model chain the registry composes
// around every dispatch: logging and rate limiting live here as the two
// cross-cutting concerns the teacher shipped. Timeout enforcement moved to
// the session package, since it races the handler against a per-message
// deadline rather than wrapping it in the usual sense — see SPEC_FULL.md
// §4.6.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Dispatch:  A.before → B.before → C.before → handler
//	Return:    handler → C.after → B.after → A.after
//
// Each middleware can do pre-processing, call next to descend, do
// post-processing, or short-circuit by returning without calling next (as
// rate limiting does).
package middleware

import "rpcmux/registry"

// HandlerFunc and Middleware are aliases onto the registry package's
// definitions, so a Middleware built here plugs directly into
// Registry.UseGlobal / Registry.UseForPattern without adapters.
type (
	HandlerFunc = registry.HandlerFunc
	Middleware  = registry.Middleware
)

// Chain composes middlewares into a single Middleware, first-in-list
// outermost: Chain(A, B)(h) runs A.before, then B.before, then h, then
// B.after, then A.after.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
