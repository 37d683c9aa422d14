// Package middleware implements the onion-model chain the teacher uses
// for cross-cutting concerns, retargeted from RPCMessage to the
// Invocation/Response types exchanged by this core. Not a component
// spec.md names directly, but the ambient vehicle for its §7 error
// handling and §6 timeout option.
package middleware

import (
	"context"

	"dubbo-exchange/message"
)

// HandlerFunc answers one invocation, shared by the business dispatcher
// and every middleware-wrapped handler.
type HandlerFunc func(ctx context.Context, inv *message.Invocation) *message.Response

// Middleware wraps a handler with another layer of behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed is outermost:
//
//	Chain(A, B, C)(handler)  ==  A(B(C(handler)))
//	request:  A -> B -> C -> handler
//	response: handler -> C -> B -> A
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
