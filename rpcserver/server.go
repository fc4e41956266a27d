// Package rpcserver is the transport/listener layer: bind a TCP (optionally
// TLS) listener, accept connections, hand each one to a session, track the
// active set, and drive graceful shutdown with a bounded drain.
//
// It descends from the teacher's server.Server, minus the etcd
// registration dance (advertiseAddr, registry.Register/Deregister) that
// belonged to client-side service discovery — out of scope here, see
// SPEC_FULL.md — and with handleConn/handleRequest's per-request goroutine
// fan-out replaced by one session per connection (package session).
package rpcserver

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"rpcmux/codec"
	"rpcmux/registry"
	"rpcmux/session"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for in-flight
// sessions to drain before force-closing them.
const DefaultShutdownTimeout = 5 * time.Second

// ErrAlreadyServing is returned by ListenAndServe if called more than once
// on the same Server.
var ErrAlreadyServing = errors.New("rpcserver: already serving")

// Server accepts connections and dispatches each against a Registry. Safe
// for concurrent use once ListenAndServe has been started.
type Server struct {
	addr            string
	tlsConfig       *tls.Config
	logger          *slog.Logger
	shutdownTimeout time.Duration
	registry        *registry.Registry
	codec           *codec.Codec

	mu           sync.Mutex
	listener     net.Listener
	sessions     map[*session.Session]struct{}
	serving      bool
	shuttingDown bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Server listening on addr once ListenAndServe is called.
// Defaults: no TLS, a discard logger, a 5s shutdown drain, and an empty
// Registry (still answering __health__).
func New(addr string, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:            addr,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		shutdownTimeout: DefaultShutdownTimeout,
		registry:        registry.New(),
		codec:           codec.New(),
		sessions:        make(map[*session.Session]struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the Registry this server dispatches against, so callers
// can register handlers before calling ListenAndServe. The registry is
// treated as read-only once serving begins.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// ListenAndServe binds the listener and runs the accept loop until the
// server is shut down or a fatal accept error occurs. It returns nil on a
// shutdown-triggered close, and the underlying error otherwise.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	s.serving = true
	s.mu.Unlock()

	var ln net.Listener
	var err error
	if s.tlsConfig != nil {
		ln, err = tls.Listen("tcp", s.addr, s.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.spawn(conn)
	}
}

func (s *Server) spawn(conn net.Conn) {
	sess := session.New(s.ctx, conn, s.registry, s.codec, s.logger)

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess)
			s.mu.Unlock()
		}()
		if err := sess.Run(); err != nil {
			s.logger.DebugContext(s.ctx, "session ended", "remote", conn.RemoteAddr(), "error", err)
		}
	}()
}

// Shutdown fires the abort token so the accept loop exits, closes the
// listener, waits up to the configured shutdown timeout for active
// sessions to finish, and force-closes whatever remains. A second call
// while a shutdown is already in progress is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return nil
	}
	s.shuttingDown = true
	ln := s.listener
	s.mu.Unlock()

	s.cancel()
	if ln != nil {
		_ = ln.Close()
	}

	drained := make(chan struct{})
	go func() {
		for _, sess := range s.activeSessions() {
			<-sess.Done()
		}
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(s.shutdownTimeout):
	case <-ctx.Done():
	}

	for _, sess := range s.activeSessions() {
		sess.Close()
	}
	return nil
}

func (s *Server) activeSessions() []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session.Session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}
