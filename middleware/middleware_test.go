package middleware

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"rpcmux/message"
)

func echoHandler(_ context.Context, msg *message.RPCMessage) (any, error) {
	return "ok", nil
}

func failHandler(_ context.Context, msg *message.RPCMessage) (any, error) {
	return nil, errors.New("boom")
}

func TestLoggingPassesThroughResult(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(discard{}, nil))
	handler := LoggingMiddleware(logger)(echoHandler)

	result, err := handler(context.Background(), &message.RPCMessage{Pattern: "math.add"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected ok, got %v", result)
	}
}

func TestLoggingPassesThroughError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(discard{}, nil))
	handler := LoggingMiddleware(logger)(failHandler)

	_, err := handler(context.Background(), &message.RPCMessage{Pattern: "math.add"})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestRateLimitAllowsWithinBurst(t *testing.T) {
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	req := &message.RPCMessage{Pattern: "math.add"}

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), req); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}
}

func TestRateLimitRejectsOverBurst(t *testing.T) {
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	req := &message.RPCMessage{Pattern: "math.add"}

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), req); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}
	if _, err := handler(context.Background(), req); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestChainOrdersOutermostFirst(t *testing.T) {
	var trail []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, msg *message.RPCMessage) (any, error) {
				trail = append(trail, name+":before")
				result, err := next(ctx, msg)
				trail = append(trail, name+":after")
				return result, err
			}
		}
	}

	chained := Chain(mark("A"), mark("B"))
	handler := chained(echoHandler)

	if _, err := handler(context.Background(), &message.RPCMessage{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"A:before", "B:before", "B:after", "A:after"}
	if len(trail) != len(want) {
		t.Fatalf("trail = %v, want %v", trail, want)
	}
	for i := range want {
		if trail[i] != want[i] {
			t.Errorf("trail[%d] = %s, want %s", i, trail[i], want[i])
		}
	}
}

// discard implements io.Writer, dropping everything written to it so tests
// don't spam stdout with log lines.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
