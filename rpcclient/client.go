// Package rpcclient is a minimal example client for rpcmux: multiplex
// requests and events over a single connection, correlate replies by id.
// It descends from the teacher's transport.ClientTransport, stripped of
// connection pooling, load balancing, and reconnection — all out of scope
// here, see SPEC_FULL.md — and re-keyed from uint32 sequence numbers to the
// wire format's string ids.
package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"rpcmux/codec"
	"rpcmux/frame"
	"rpcmux/message"
)

// ErrClosed is returned by Call and Emit once the client's connection has
// been closed. A Call still pending at that moment fails with an error that
// carries the closing error's message; that error is a plain error value,
// not ErrClosed itself, so errors.Is does not match it.
var ErrClosed = errors.New("rpcclient: connection closed")

// Client manages a single multiplexed TCP connection. Safe for concurrent
// use: multiple goroutines may call Call/Emit on the same Client.
type Client struct {
	conn  net.Conn
	codec *codec.Codec

	writeMu sync.Mutex

	mu     sync.Mutex
	pending map[string]chan *message.RPCMessage
	closed  bool
}

// Dial connects to addr and starts the client's background read loop.
func Dial(network, addr string) (*Client, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial: %w", err)
	}
	return New(conn), nil
}

// New wraps an already-established connection.
func New(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		codec:   codec.New(),
		pending: make(map[string]chan *message.RPCMessage),
	}
	go c.recvLoop()
	return c
}

// Call sends a request under pattern and blocks until the matching reply
// arrives, ctx is done, or the connection closes. timeoutMs, if non-zero,
// is sent to the server as the request's per-message deadline override; it
// does not bound how long Call itself waits — pass a context deadline for
// that. ctx is only consulted after the request frame has been written: a
// write that blocks keeps Call blocked until the write completes or fails.
func (c *Client) Call(ctx context.Context, pattern string, data any, timeoutMs int64) (any, error) {
	id := uuid.NewString()
	respCh := make(chan *message.RPCMessage, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = respCh
	c.mu.Unlock()

	msg := &message.RPCMessage{
		ID:          id,
		Pattern:     pattern,
		Data:        data,
		PatternType: message.Request,
		TimeoutMs:   timeoutMs,
	}
	if err := c.send(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case reply := <-respCh:
		if dm, ok := reply.DataMap(); ok {
			if errMsg, ok := dm["error"].(string); ok {
				return nil, errors.New(errMsg)
			}
		}
		return reply.Data, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Emit sends a fire-and-forget event. It returns once the frame has been
// written; it does not wait for (or expect) any reply.
func (c *Client) Emit(pattern string, data any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.send(&message.RPCMessage{
		Pattern:     pattern,
		Data:        data,
		PatternType: message.Event,
	})
}

func (c *Client) send(msg *message.RPCMessage) error {
	encoded, err := c.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("rpcclient: encode: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return frame.NewWriter(c.conn).Write(encoded)
}

// recvLoop reads reply frames and routes each to the Call goroutine
// awaiting it, keyed by id. It exits (and fails every pending Call) when
// the connection breaks.
func (c *Client) recvLoop() {
	reader := frame.NewReader(c.conn)
	for {
		payload, err := reader.Next()
		if err != nil {
			c.closeWithError(err)
			return
		}

		var reply message.RPCMessage
		if err := c.codec.Decode(payload, &reply); err != nil {
			continue
		}

		c.mu.Lock()
		respCh, ok := c.pending[reply.ID]
		if ok {
			delete(c.pending, reply.ID)
		}
		c.mu.Unlock()

		if ok {
			respCh <- &reply
		}
	}
}

func (c *Client) closeWithError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		ch <- message.NewErrorReply(id, err.Error())
		delete(c.pending, id)
	}
}

// Close closes the underlying connection and fails any pending Call with an
// error carrying ErrClosed's message (see ErrClosed).
func (c *Client) Close() error {
	c.closeWithError(ErrClosed)
	return c.conn.Close()
}
