package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"rpcmux/codec"
	"rpcmux/frame"
	"rpcmux/message"
	"rpcmux/registry"
)

func newTestPair(t *testing.T, reg *registry.Registry) (client net.Conn, runErr chan error) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(context.Background(), serverConn, reg, codec.New(), logger)

	runErr = make(chan error, 1)
	go func() { runErr <- s.Run() }()

	t.Cleanup(func() { clientConn.Close() })
	return clientConn, runErr
}

func sendAndRecv(t *testing.T, conn net.Conn, c *codec.Codec, msg *message.RPCMessage) *message.RPCMessage {
	t.Helper()
	w := frame.NewWriter(conn)
	encoded, err := c.Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := w.Write(encoded); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r := frame.NewReader(conn)
	payload, err := r.Next()
	if err != nil {
		t.Fatalf("read reply failed: %v", err)
	}
	var reply message.RPCMessage
	if err := c.Decode(payload, &reply); err != nil {
		t.Fatalf("decode reply failed: %v", err)
	}
	return &reply
}

func TestDispatchRequestSuccess(t *testing.T) {
	reg := registry.New()
	reg.RegisterRequest("math.add", func(_ context.Context, data any) (any, error) {
		m := data.(map[string]any)
		return m["a"].(int8) + m["b"].(int8), nil
	})

	conn, _ := newTestPair(t, reg)
	c := codec.New()

	reply := sendAndRecv(t, conn, c, &message.RPCMessage{
		ID:          "r1",
		Pattern:     "math.add",
		Data:        map[string]any{"a": int8(2), "b": int8(3)},
		PatternType: message.Request,
	})

	if reply.Pattern != message.ReplyPattern {
		t.Errorf("expected pattern REPLY, got %s", reply.Pattern)
	}
	if reply.ID != "r1" {
		t.Errorf("expected id r1, got %s", reply.ID)
	}
	if n, ok := reply.Data.(int8); !ok || n != 5 {
		t.Errorf("expected data 5, got %v (%T)", reply.Data, reply.Data)
	}
}

func TestDispatchRequestHandlerError(t *testing.T) {
	reg := registry.New()
	reg.RegisterRequest("boom", func(_ context.Context, _ any) (any, error) {
		return nil, errors.New("nope")
	})

	conn, _ := newTestPair(t, reg)
	c := codec.New()

	reply := sendAndRecv(t, conn, c, &message.RPCMessage{
		ID:          "e",
		Pattern:     "boom",
		PatternType: message.Request,
	})

	dm, ok := reply.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected map data, got %T", reply.Data)
	}
	if dm["error"] != "nope" {
		t.Errorf("expected error nope, got %v", dm["error"])
	}
}

func TestDispatchRequestTimeout(t *testing.T) {
	reg := registry.New()
	reg.RegisterRequest("slow", func(ctx context.Context, _ any) (any, error) {
		select {
		case <-time.After(2 * time.Second):
			return "too-late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	conn, _ := newTestPair(t, reg)
	c := codec.New()

	reply := sendAndRecv(t, conn, c, &message.RPCMessage{
		ID:          "t",
		Pattern:     "slow",
		PatternType: message.Request,
		TimeoutMs:   100,
	})

	dm, ok := reply.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected map data, got %T", reply.Data)
	}
	errMsg, _ := dm["error"].(string)
	if errMsg == "" {
		t.Fatalf("expected a timeout error message, got %v", dm["error"])
	}
}

func TestDispatchRequestUnknownPatternSilentlyDropped(t *testing.T) {
	reg := registry.New()
	reg.RegisterRequest("math.add", func(_ context.Context, data any) (any, error) { return data, nil })
	conn, _ := newTestPair(t, reg)
	c := codec.New()

	w := frame.NewWriter(conn)
	encoded, err := c.Encode(&message.RPCMessage{ID: "x", Pattern: "does.not.exist", PatternType: message.Request})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := w.Write(encoded); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Follow with a request the server does know, to prove no reply arrives
	// for the unknown pattern and the connection remains usable.
	reply := sendAndRecv(t, conn, c, &message.RPCMessage{ID: "y", Pattern: "math.add", Data: "ok", PatternType: message.Request})
	if reply.ID != "y" {
		t.Errorf("expected only one reply, for id y, got %s", reply.ID)
	}
}

func TestDispatchEventNoReply(t *testing.T) {
	reg := registry.New()
	invoked := make(chan struct{}, 1)
	reg.RegisterEvent("user.created", func(_ context.Context, _ any) (any, error) {
		invoked <- struct{}{}
		return nil, nil
	})

	conn, _ := newTestPair(t, reg)
	c := codec.New()

	w := frame.NewWriter(conn)
	encoded, err := c.Encode(&message.RPCMessage{Pattern: "user.created", Data: map[string]any{"id": int8(1)}, PatternType: message.Event})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := w.Write(encoded); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case <-invoked:
	case <-time.After(time.Second):
		t.Fatal("expected event handler to run within 1s")
	}

	if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
		t.Fatalf("set read deadline failed: %v", err)
	}
	if _, err := frame.NewReader(conn).Next(); err == nil {
		t.Fatal("expected no reply frame for an event")
	}
}
