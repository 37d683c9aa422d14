package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/message"
)

// Retry re-runs the handler on a SERVER_TIMEOUT/CLIENT_TIMEOUT status
// with exponential backoff, adapted from the teacher's RetryMiddleware.
// BizError results (spec §7: "never triggers... retry at this layer")
// are never retried — only the two timeout statuses are, since those
// are the only ones this layer recognizes as possibly transient.
func Retry(maxAttempts int, baseDelay time.Duration, log *zap.SugaredLogger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *message.Invocation) *message.Response {
			resp := next(ctx, inv)
			for attempt := 1; attempt < maxAttempts; attempt++ {
				if !isRetryable(resp.Status) {
					return resp
				}
				log.Warnw("retrying invocation", "method", inv.Method, "attempt", attempt, "status", resp.Status)
				time.Sleep(baseDelay * (1 << (attempt - 1)))
				resp = next(ctx, inv)
			}
			return resp
		}
	}
}

func isRetryable(status message.Status) bool {
	return status == message.ServerTimeout || status == message.ClientTimeout
}
