package exchange

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dubbo-exchange/message"
)

// Future is the client-side completion handle for an outstanding
// two-way request — the "PendingCall / default future" of the
// GLOSSARY. Exactly one terminal completion happens per Future: the
// first of {real response, timeout, channel-inactive, cancel} to arrive
// wins, enforced by the completed flag's compare-and-swap.
type Future struct {
	id uint64

	completed atomic.Bool
	done      chan struct{}

	mu       sync.Mutex
	response *message.Response

	executor   Executor
	threadless *ThreadlessExecutor // non-nil iff executor is the thread-less variant
}

func newFuture(id uint64, executor Executor) *Future {
	f := &Future{id: id, done: make(chan struct{}), executor: executor}
	if tl, ok := executor.(*ThreadlessExecutor); ok {
		f.threadless = tl
	}
	return f
}

// ResolvedFuture wraps an already-terminal response as a Future, for
// callers that never touch the network — a local invoker's synchronous
// result (spec §4.9's export/refer path) or a synthesized error that
// needs to flow through the same AsyncResult machinery as a real
// round-trip.
func ResolvedFuture(resp *message.Response) *Future {
	f := newFuture(resp.ID, nil)
	f.complete(resp)
	return f
}

// complete runs the terminal transition exactly once. Returns false if
// the future was already completed by someone else (timeout raced a
// real response, etc).
func (f *Future) complete(resp *message.Response) bool {
	if !f.completed.CompareAndSwap(false, true) {
		return false
	}
	f.mu.Lock()
	f.response = resp
	f.mu.Unlock()
	close(f.done)
	return true
}

// IsDone reports whether the future has a terminal response.
func (f *Future) IsDone() bool { return f.completed.Load() }

// Get blocks until the response arrives or timeout elapses (<=0 means
// forever). When the future was created against a ThreadlessExecutor,
// Get donates the calling goroutine to drain that executor's queue
// instead of purely blocking on a channel receive from an unrelated
// goroutine (spec §5).
func (f *Future) Get(timeout time.Duration) (*message.Response, error) {
	if f.threadless != nil {
		f.threadless.MarkWaiting()
		if timeout <= 0 {
			for !f.completed.Load() {
				f.threadless.Drain()
				if !f.completed.Load() {
					time.Sleep(time.Millisecond)
				}
			}
			return f.result()
		}
		deadline := time.Now().Add(timeout)
		for !f.completed.Load() {
			f.threadless.Drain()
			if f.completed.Load() {
				break
			}
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("exchange: future %d: wait timed out", f.id)
			}
			time.Sleep(time.Millisecond)
		}
		return f.result()
	}

	if timeout <= 0 {
		<-f.done
		return f.result()
	}
	select {
	case <-f.done:
		return f.result()
	case <-time.After(timeout):
		return nil, fmt.Errorf("exchange: future %d: wait timed out", f.id)
	}
}

func (f *Future) result() (*message.Response, error) {
	f.mu.Lock()
	resp := f.response
	f.mu.Unlock()
	if resp.Status != message.OK {
		return resp, fmt.Errorf("exchange: %s: %s", resp.Status, resp.ErrorMessage)
	}
	return resp, nil
}

// Done returns the channel that closes on completion, for callers that
// want to select on it alongside other events.
func (f *Future) Done() <-chan struct{} { return f.done }
