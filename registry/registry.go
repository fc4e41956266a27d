// Package registry holds the mapping from string pattern to handler for the
// two dispatch namespaces (request, event), plus the global and per-pattern
// middleware lists the session composes around each dispatch.
//
// This package used to be the teacher's etcd-backed service-discovery
// client ("how does a client find a server instance"). That concern is out
// of scope for a pattern-multiplexing RPC core — see SPEC_FULL.md — so the
// package is repurposed to the concern the core actually needs: a local,
// read-after-construction map from pattern to handler.
package registry

import (
	"context"
	"time"

	"rpcmux/message"
)

// Handler is a business handler: it receives the decoded request or event
// payload and returns a result (for requests) or an error. Events ignore
// the result.
type Handler func(ctx context.Context, data any) (any, error)

// HandlerFunc is the pipeline-level signature middleware operates on — it
// sees the whole envelope, not just its Data, so it can read trace context
// or other envelope fields. The innermost HandlerFunc in any chain invokes
// the terminal Handler against msg.Data.
type HandlerFunc func(ctx context.Context, msg *message.RPCMessage) (any, error)

// Middleware wraps a HandlerFunc to add cross-cutting behavior. It may
// decline to call next, in which case its own return value becomes the
// dispatch result (short-circuit).
type Middleware func(next HandlerFunc) HandlerFunc

// Registry holds pattern->handler maps for requests and events, and the
// middleware lists the session consults per dispatch. It is built up
// before Serve is called and is treated as read-only once serving begins —
// there is no internal locking, matching the "no concurrent mutation
// contract" in SPEC_FULL.md §3.
type Registry struct {
	requestHandlers  map[string]Handler
	eventHandlers    map[string]Handler
	globalMiddleware []Middleware
	patternMiddlware map[string][]Middleware

	startedAt time.Time
}

// New returns an empty Registry with the reserved __health__ request
// pattern already installed. Because registration is last-write-wins,
// external code registering under __health__ afterward silently overrides
// it — that is an accepted, documented quirk of the registration contract,
// not something New needs to guard against.
func New() *Registry {
	r := &Registry{
		requestHandlers:  make(map[string]Handler),
		eventHandlers:    make(map[string]Handler),
		patternMiddlware: make(map[string][]Middleware),
		startedAt:        time.Now(),
	}
	r.RegisterRequest(message.HealthPattern, r.health)
	return r
}

func (r *Registry) health(_ context.Context, _ any) (any, error) {
	return map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
		"uptime":    int64(time.Since(r.startedAt).Seconds()),
	}, nil
}

// RegisterRequest installs h under pattern in the request namespace.
// Last registration for a given pattern wins.
func (r *Registry) RegisterRequest(pattern string, h Handler) {
	r.requestHandlers[pattern] = h
}

// RegisterEvent installs h under pattern in the event namespace.
// Last registration for a given pattern wins.
func (r *Registry) RegisterEvent(pattern string, h Handler) {
	r.eventHandlers[pattern] = h
}

// UseGlobal appends middleware to the global chain, run before any
// per-pattern middleware for every dispatch.
func (r *Registry) UseGlobal(mw ...Middleware) {
	r.globalMiddleware = append(r.globalMiddleware, mw...)
}

// UseForPattern replaces (not appends) the per-pattern middleware list for
// pattern. Calling it twice for the same pattern overwrites the first list.
func (r *Registry) UseForPattern(pattern string, mw ...Middleware) {
	r.patternMiddlware[pattern] = mw
}

// Lookup returns the handler registered for (pattern, kind), or false if
// none is registered.
func (r *Registry) Lookup(pattern string, kind message.PatternType) (Handler, bool) {
	switch kind {
	case message.Request:
		h, ok := r.requestHandlers[pattern]
		return h, ok
	case message.Event:
		h, ok := r.eventHandlers[pattern]
		return h, ok
	default:
		return nil, false
	}
}

// MiddlewareFor returns the ordered middleware chain for pattern: the
// global list followed by that pattern's own list.
func (r *Registry) MiddlewareFor(pattern string) []Middleware {
	per := r.patternMiddlware[pattern]
	out := make([]Middleware, 0, len(r.globalMiddleware)+len(per))
	out = append(out, r.globalMiddleware...)
	out = append(out, per...)
	return out
}

// Merge copies every entry of other's request and event handler maps into
// r, last-write-wins on collision. It does not transfer other's global or
// per-pattern middleware — see SPEC_FULL.md Open Question 2.
func (r *Registry) Merge(other *Registry) {
	for pattern, h := range other.requestHandlers {
		r.requestHandlers[pattern] = h
	}
	for pattern, h := range other.eventHandlers {
		r.eventHandlers[pattern] = h
	}
}
