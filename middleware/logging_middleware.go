package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/message"
)

// Logging records method, duration, and status for every dispatched
// invocation, adapted from the teacher's LoggingMiddleware but through
// the structured logger the rest of this core uses.
func Logging(log *zap.SugaredLogger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *message.Invocation) *message.Response {
			start := time.Now()
			resp := next(ctx, inv)
			fields := []any{"method", inv.Method, "duration", time.Since(start)}
			if resp.Status != message.OK {
				log.Warnw("invocation failed", append(fields, "status", resp.Status, "error", resp.ErrorMessage)...)
			} else {
				log.Debugw("invocation handled", fields...)
			}
			return resp
		}
	}
}
