package middleware

import (
	"context"
	"log/slog"
	"time"

	"rpcmux/message"
)

// LoggingMiddleware records the pattern, duration, and any error for each
// dispatch. It captures the start time before calling next and logs the
// elapsed time after next returns, using the logger passed at construction
// time rather than the default slog logger — so a server can route this
// through whatever handler it configured.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.RPCMessage) (any, error) {
			start := time.Now()

			result, err := next(ctx, msg)

			attrs := []any{
				"pattern", msg.Pattern,
				"patternType", msg.PatternType.String(),
				"duration", time.Since(start),
			}
			if err != nil {
				logger.ErrorContext(ctx, "dispatch failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "dispatch completed", attrs...)
			}
			return result, err
		}
	}
}
