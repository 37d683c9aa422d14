// Package exchange wraps the transport layer as a message-oriented
// request/response channel (spec §2, §4.4, §4.5): request-id
// correlation, per-request timeouts, heartbeats, and graceful close.
//
// The pending-call registry below is the DefaultFuture equivalent named
// in the GLOSSARY. Unlike the teacher's transport/client_transport.go
// (which keys its sync.Map of response channels directly off the
// connection, a per-connection concern), this registry is a single
// process-wide-shaped object carried explicitly through constructors
// per the Design Notes — tests build their own Registry instead of
// reaching for global state.
package exchange

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/message"
	"dubbo-exchange/transport"
)

type pendingCall struct {
	id      uint64
	channel *transport.Channel
	request *message.Request

	timeout   time.Duration
	startTime time.Time
	sentTime  time.Time // zero until Sent() records it

	mu sync.Mutex

	future *Future
	timer  *time.Timer
}

// Registry is the pending-call map plus the id->channel map named in
// spec §4.4, used to fan CHANNEL_INACTIVE out to every call on a
// connection that dies.
type Registry struct {
	log *zap.SugaredLogger

	mu       sync.Mutex
	calls    map[uint64]*pendingCall
	channels map[uint64]*transport.Channel
}

// NewRegistry builds an empty registry. Pass one per exchange.Client
// (or share one across a process if you want teacher-style global
// state — nothing here requires it).
func NewRegistry(log *zap.SugaredLogger) *Registry {
	return &Registry{
		log:      log,
		calls:    make(map[uint64]*pendingCall),
		channels: make(map[uint64]*transport.Channel),
	}
}

// NewCall registers a pending two-way call and arms its timeout timer.
// Mirrors spec §4.4's new-call: insert entries, arm a timer expiring at
// now+timeout, return a future completed asynchronously.
func (r *Registry) NewCall(ch *transport.Channel, req *message.Request, timeout time.Duration, executor Executor) *Future {
	if executor == nil {
		executor = GoExecutor{}
	}
	future := newFuture(req.ID, executor)
	call := &pendingCall{
		id:        req.ID,
		channel:   ch,
		request:   req,
		timeout:   timeout,
		startTime: time.Now(),
		future:    future,
	}

	r.mu.Lock()
	r.calls[req.ID] = call
	r.channels[req.ID] = ch
	r.mu.Unlock()

	call.timer = time.AfterFunc(timeout, func() { r.fireTimeout(call) })
	return future
}

// Sent records the moment a request actually left the send buffer, used
// to distinguish CLIENT_TIMEOUT from SERVER_TIMEOUT when the deadline
// fires (spec §4.4).
func (r *Registry) Sent(ch *transport.Channel, req *message.Request) {
	r.mu.Lock()
	call, ok := r.calls[req.ID]
	r.mu.Unlock()
	if !ok {
		return
	}
	call.mu.Lock()
	call.sentTime = time.Now()
	call.mu.Unlock()
}

// Received looks up id, removes the registry entries, cancels the
// timeout timer, and completes the future on the call's executor (for a
// ThreadlessExecutor, the completion is queued until the caller drains
// it). An id with no matching call
// is logged and dropped, per spec §3's invariant on stray responses.
func (r *Registry) Received(ch *transport.Channel, resp *message.Response, timedOut bool) {
	r.mu.Lock()
	call, ok := r.calls[resp.ID]
	if ok {
		delete(r.calls, resp.ID)
	}
	delete(r.channels, resp.ID) // always removed in the finally step, per spec §4.4
	r.mu.Unlock()

	if !ok {
		r.log.Warnw("dropping response: no pending call for id", "id", resp.ID, "timedOut", timedOut)
		return
	}

	if !timedOut && call.timer != nil {
		call.timer.Stop()
	}

	future := call.future
	if future.executor != nil {
		future.executor.Execute(func() { future.complete(resp) })
		return
	}
	future.complete(resp)
}

func (r *Registry) fireTimeout(call *pendingCall) {
	call.mu.Lock()
	sent := !call.sentTime.IsZero()
	startTime := call.startTime
	sentTime := call.sentTime
	call.mu.Unlock()

	status := message.ClientTimeout
	if sent {
		status = message.ServerTimeout
	}

	elapsed := time.Since(startTime)
	msg := fmt.Sprintf("%s after %s (start=%s", status, elapsed, startTime.Format(time.RFC3339Nano))
	if sent {
		msg += fmt.Sprintf(", sent=%s, since-send=%s", sentTime.Format(time.RFC3339Nano), time.Since(sentTime))
	}
	msg += ")"

	resp := message.NewErrorResponse(call.id, status, msg)
	r.Received(call.channel, resp, true)
}

// CloseChannel completes every pending call routed through ch with a
// synthetic CHANNEL_INACTIVE response, per spec §4.4/§4.5.
func (r *Registry) CloseChannel(ch *transport.Channel) {
	r.mu.Lock()
	var ids []uint64
	for id, c := range r.channels {
		if c == ch {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		resp := message.NewErrorResponse(id, message.ChannelInactive, "channel inactive")
		r.Received(ch, resp, false)
	}
}

// Cancel completes a single in-flight call with CLIENT_ERROR and
// removes its registry entries (spec §5 cancellation).
func (r *Registry) Cancel(id uint64) {
	r.mu.Lock()
	call, ok := r.calls[id]
	if ok {
		delete(r.calls, id)
	}
	delete(r.channels, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	resp := message.NewErrorResponse(id, message.ClientError, "cancelled")
	call.future.complete(resp)
}

// Pending reports how many calls are currently in flight across every
// channel. Graceful close drains per channel via PendingForChannel.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// PendingForChannel reports how many in-flight calls are routed through
// ch, so one connection's graceful close does not wait on unrelated
// connections sharing the same registry (spec §4.5's per-channel close).
func (r *Registry) PendingForChannel(ch *transport.Channel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.channels {
		if c == ch {
			n++
		}
	}
	return n
}
