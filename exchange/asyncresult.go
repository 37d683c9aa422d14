package exchange

import (
	"context"
	"sync"
	"time"

	"dubbo-exchange/message"
)

// AsyncResult is the container named in spec §4.10: an in-flight
// response plus the invocation that produced it, the owning executor,
// and a captured caller context that WhenCompleteWithContext installs
// around the callback.
type AsyncResult struct {
	future     *Future
	invocation *message.Invocation

	mu  sync.Mutex
	ctx context.Context
}

// NewAsyncResult wraps future for invocation, defaulting the captured
// context to context.Background() until a caller installs one.
func NewAsyncResult(future *Future, invocation *message.Invocation) *AsyncResult {
	return &AsyncResult{future: future, invocation: invocation, ctx: context.Background()}
}

// Invocation returns the request payload this result answers.
func (r *AsyncResult) Invocation() *message.Invocation { return r.invocation }

// Future exposes the underlying future directly, for future-style invoke
// callers named in spec §4.10's Recreate rule.
func (r *AsyncResult) Future() *Future { return r.future }

// Get blocks forever for the response.
func (r *AsyncResult) Get() (*message.Response, error) { return r.future.Get(0) }

// GetTimeout blocks up to timeout for the response.
func (r *AsyncResult) GetTimeout(timeout time.Duration) (*message.Response, error) {
	return r.future.Get(timeout)
}

// WhenCompleteWithContext installs ctx as the current context, runs cb
// once the future completes, then restores whatever context was current
// before — the re-entrant rule from spec §4.10.
func (r *AsyncResult) WhenCompleteWithContext(ctx context.Context, cb func(*message.Response, error)) {
	r.mu.Lock()
	prev := r.ctx
	r.ctx = ctx
	r.mu.Unlock()

	run := func() {
		resp, err := r.future.Get(0)
		cb(resp, err)
		r.mu.Lock()
		r.ctx = prev
		r.mu.Unlock()
	}

	if r.future.IsDone() {
		run()
		return
	}
	go run()
}

// Recreate resolves the synchronous-mode value: the response on success,
// or the contained error. Future-style callers should use Future()
// instead of Recreate (spec §4.10: "if future-style, return the future
// itself").
func (r *AsyncResult) Recreate() (*message.Response, error) {
	return r.future.Get(0)
}
