package rpcserver

import (
	"crypto/tls"
	"log/slog"
	"time"

	"rpcmux/registry"
)

// Option configures a Server at construction time.
type Option func(*Server)

// WithTLS enables TLS using the given config. Absent this option, the
// server listens on plain TCP.
func WithTLS(config *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = config }
}

// WithLogger sets the logger used for session and lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithShutdownTimeout overrides how long Shutdown waits for active sessions
// to drain before force-closing them.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = timeout }
}

// WithRegistry sets the Registry the server dispatches against. Without
// this option, New installs an empty Registry (still answering __health__).
func WithRegistry(reg *registry.Registry) Option {
	return func(s *Server) { s.registry = reg }
}
