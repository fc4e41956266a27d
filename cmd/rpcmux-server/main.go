// Command rpcmux-server runs a standalone rpcmux server with an example
// math controller mounted, for manual testing and as a reference wiring of
// every ambient package (config, logging, tracing, middleware).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rpcmux/config"
	"rpcmux/controller"
	"rpcmux/message"
	"rpcmux/middleware"
	"rpcmux/rpcserver"
	"rpcmux/tracing"
)

// AppConfig aggregates every ambient config struct this binary needs.
// caarlos0/env recurses into nested structs, so each section keeps its own
// env tags.
type AppConfig struct {
	Server  rpcserver.Config
	Tracing tracing.Config

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RateLimit      float64 `env:"RPC_RATE_LIMIT" envDefault:"0"`
	RateLimitBurst int     `env:"RPC_RATE_LIMIT_BURST" envDefault:"0"`
}

type mathController struct{}

func (m *mathController) Patterns() []controller.MethodSpec {
	return []controller.MethodSpec{
		{Pattern: "math.add", Kind: message.Request, MethodName: "Add"},
		{Pattern: "math.echo_event", Kind: message.Event, MethodName: "EchoEvent"},
	}
}

func (m *mathController) Add(_ context.Context, data any) (any, error) {
	req, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("math.add: expected a map payload, got %T", data)
	}
	a, aok := req["a"].(int8)
	b, bok := req["b"].(int8)
	if !aok || !bok {
		return nil, fmt.Errorf("math.add: expected integer fields a and b")
	}
	return int(a) + int(b), nil
}

func (m *mathController) EchoEvent(ctx context.Context, data any) (any, error) {
	slog.Default().InfoContext(ctx, "math.echo_event received", "data", data)
	return nil, nil
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rpcmux-server",
		Short: "Run an rpcmux server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.MustLoad[AppConfig]()

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	srv, err := rpcserver.NewFromConfig(cfg.Server, rpcserver.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	reg := srv.Registry()
	reg.UseGlobal(middleware.LoggingMiddleware(logger))
	if cfg.RateLimit > 0 {
		reg.UseGlobal(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateLimitBurst))
	}

	mathReg, err := controller.Export(&mathController{})
	if err != nil {
		return fmt.Errorf("export math controller: %w", err)
	}
	reg.Merge(mathReg)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	logger.Info("rpcmux server listening", "addr", cfg.Server.Addr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-serveErr
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
