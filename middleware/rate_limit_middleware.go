package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"dubbo-exchange/message"
)

// RateLimit rejects invocations once the shared token bucket is empty,
// adapted from the teacher's RateLimitMiddleware. The limiter is built
// once per middleware instance, not per request, so the bucket state
// persists across calls.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *message.Invocation) *message.Response {
			if !limiter.Allow() {
				return message.NewErrorResponse(0, message.ServerError, "middleware: rate limit exceeded")
			}
			return next(ctx, inv)
		}
	}
}
