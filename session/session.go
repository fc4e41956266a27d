// Package session implements the per-connection state machine: decode one
// message, dispatch it, write a reply if one is owed, repeat. It is the
// direct descendant of the teacher's handleConn/handleRequest pair, reshaped
// around the spec's serial-FIFO contract instead of the teacher's
// one-goroutine-per-request model — see SPEC_FULL.md's session component
// notes for why requests can no longer run in parallel on one connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"rpcmux/codec"
	"rpcmux/frame"
	"rpcmux/message"
	"rpcmux/middleware"
	"rpcmux/registry"
	"rpcmux/tracing"
)

// DefaultTimeout is the per-request deadline used when a request carries no
// timeoutMs of its own.
const DefaultTimeout = 5 * time.Second

// Session owns one accepted connection from ACCEPTING through CLOSED. It
// reads, dispatches, and writes one message at a time — requests reply in
// the order they were received; events may run detached.
type Session struct {
	conn   net.Conn
	reader *frame.Reader
	writer *frame.Writer
	codec  *codec.Codec
	reg    *registry.Registry
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	eventWG sync.WaitGroup
	done    chan struct{}
}

// New builds a Session over conn. parent is the server-wide cancellation
// context; closing it (or calling Close) tears this session down.
func New(parent context.Context, conn net.Conn, reg *registry.Registry, c *codec.Codec, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		conn:   conn,
		reader: frame.NewReader(conn),
		writer: frame.NewWriter(conn),
		codec:  c,
		reg:    reg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Done is closed once Run has returned and every detached event this
// session spawned has completed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close cancels the session and force-closes the underlying connection. It
// is safe to call more than once and from a goroutine other than Run's.
func (s *Session) Close() {
	s.cancel()
	_ = s.conn.Close()
}

// Run drives the session loop until the peer closes the connection, a
// framing error occurs, or the session is cancelled. It always closes the
// connection before returning.
func (s *Session) Run() error {
	defer func() {
		s.cancel()
		_ = s.conn.Close()
		s.eventWG.Wait()
		close(s.done)
	}()

	for {
		payload, err := s.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("session: read frame: %w", err)
		}

		var msg message.RPCMessage
		if err := s.codec.Decode(payload, &msg); err != nil {
			return fmt.Errorf("session: decode message: %w", err)
		}

		switch msg.PatternType {
		case message.Request:
			if err := s.dispatchRequest(&msg); err != nil {
				return err
			}
		case message.Event:
			s.dispatchEvent(&msg)
		}

		if s.ctx.Err() != nil {
			return nil
		}
	}
}

type dispatchResult struct {
	result any
	err    error
}

// dispatchRequest looks up and runs the handler for msg, races it against
// the effective timeout and session cancellation, and writes exactly one
// reply frame unless the session is cancelled first.
func (s *Session) dispatchRequest(msg *message.RPCMessage) error {
	handler, ok := s.reg.Lookup(msg.Pattern, message.Request)
	if !ok {
		s.logger.WarnContext(s.ctx, "no handler registered for pattern", "pattern", msg.Pattern)
		return nil
	}

	ctx, span := tracing.StartDispatchSpan(s.ctx, msg)
	if dm, ok := msg.DataMap(); ok {
		tracing.Inject(ctx, dm)
	}
	h := s.compose(msg.Pattern, handler)

	timeout := DefaultTimeout
	if msg.TimeoutMs > 0 {
		timeout = time.Duration(msg.TimeoutMs) * time.Millisecond
	}
	dctx, dcancel := context.WithTimeout(ctx, timeout)
	defer dcancel()

	resultCh := make(chan dispatchResult, 1)
	go func() {
		result, err := h(dctx, msg)
		resultCh <- dispatchResult{result, err}
	}()

	var reply *message.RPCMessage
	select {
	case res := <-resultCh:
		tracing.RecordError(span, res.err)
		if res.err != nil {
			reply = message.NewErrorReply(msg.ID, res.err.Error())
		} else {
			reply = message.NewReply(msg.ID, res.result)
		}
	case <-dctx.Done():
		if s.ctx.Err() != nil {
			span.End()
			return nil // session cancelled: drop the reply, exit the loop
		}
		timeoutErr := fmt.Errorf("Timeout after %dms", timeout.Milliseconds())
		tracing.RecordError(span, timeoutErr)
		reply = message.NewErrorReply(msg.ID, timeoutErr.Error())
	}
	span.End()

	if err := s.writeReply(reply); err != nil {
		if isBrokenPipe(err) {
			s.cancel()
			return nil
		}
		return err
	}
	return nil
}

// dispatchEvent looks up and runs the handler for msg with no reply and no
// per-message timeout, detached from the read loop so a slow event handler
// cannot stall subsequent reads.
func (s *Session) dispatchEvent(msg *message.RPCMessage) {
	handler, ok := s.reg.Lookup(msg.Pattern, message.Event)
	if !ok {
		s.logger.WarnContext(s.ctx, "no handler registered for pattern", "pattern", msg.Pattern)
		return
	}

	ctx, span := tracing.StartDispatchSpan(s.ctx, msg)
	if dm, ok := msg.DataMap(); ok {
		tracing.Inject(ctx, dm)
	}
	h := s.compose(msg.Pattern, handler)

	s.eventWG.Add(1)
	go func() {
		defer s.eventWG.Done()
		defer span.End()
		_, err := h(ctx, msg)
		tracing.RecordError(span, err)
		if err != nil {
			s.logger.ErrorContext(s.ctx, "event handler failed", "pattern", msg.Pattern, "error", err)
		}
	}()
}

// compose wraps handler in the registry's middleware chain for pattern, and
// adapts the business Handler (operating on msg.Data) into the
// pipeline-level HandlerFunc (operating on the whole envelope).
func (s *Session) compose(pattern string, handler registry.Handler) registry.HandlerFunc {
	terminal := func(ctx context.Context, msg *message.RPCMessage) (any, error) {
		return handler(ctx, msg.Data)
	}
	return middleware.Chain(s.reg.MiddlewareFor(pattern)...)(terminal)
}

func (s *Session) writeReply(reply *message.RPCMessage) error {
	out, err := s.codec.Encode(reply)
	if err != nil {
		return fmt.Errorf("session: encode reply: %w", err)
	}
	return s.writer.Write(out)
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, net.ErrClosed)
}
