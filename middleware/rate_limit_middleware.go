package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"rpcmux/message"
)

// ErrRateLimited is returned by the handler chain when the middleware's
// bucket has no tokens left. The session translates it into an error reply the
// same way it would any other handler error.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware enforces a token-bucket limit shared across every
// dispatch that passes through it. The limiter is built once, in the outer
// closure — building it per-dispatch would hand every request a fresh full
// bucket and defeat the purpose.
//
// r is the refill rate in tokens per second, burst the bucket size.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.RPCMessage) (any, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, msg)
		}
	}
}
