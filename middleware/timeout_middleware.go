package middleware

import (
	"context"
	"time"

	"dubbo-exchange/message"
)

// Timeout bounds how long the wrapped handler may run before the caller
// gives up, adapted from the teacher's TimeOutMiddleware. The handler
// goroutine is not cancelled on timeout — only the wait is abandoned —
// matching the teacher's own caveat.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *message.Invocation) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() { done <- next(ctx, inv) }()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.NewErrorResponse(0, message.ServerTimeout, "middleware: handler exceeded timeout")
			}
		}
	}
}
