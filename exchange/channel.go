package exchange

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/codec"
	"dubbo-exchange/message"
	"dubbo-exchange/protocol"
	"dubbo-exchange/transport"
)

// RequestHandler answers incoming two-way invocations, per spec §4.8's
// ExchangeHandler. It is implemented by the protocol layer's server
// dispatcher; a pure consumer channel that never receives callbacks can
// pass a nil handler, in which case any inbound invocation is answered
// with SERVICE_NOT_FOUND.
type RequestHandler interface {
	Reply(ch *Channel, inv *message.Invocation) (*AsyncResult, error)
	Connected(ch *Channel)
	Disconnected(ch *Channel)
}

// Channel wraps one transport.Channel as the message-oriented send +
// request API from spec §4.5: it owns the serializer the wire frames on
// this connection are encoded with, and routes every inbound frame to
// either the pending-call registry (responses) or the RequestHandler
// (invocations), short-circuiting heartbeat/readonly events before
// either sees them.
type Channel struct {
	transport  *transport.Channel
	registry   *Registry
	handler    RequestHandler
	serializer codec.Serializer
	log        *zap.SugaredLogger
}

func newChannel(tc *transport.Channel, registry *Registry, handler RequestHandler, log *zap.SugaredLogger) *Channel {
	ser, err := codec.Serializers.Get(tc.URL().Serialization)
	if err != nil {
		ser, _ = codec.Serializers.Get(string(codec.JSON))
	}
	return &Channel{transport: tc, registry: registry, handler: handler, serializer: ser, log: log}
}

// Transport returns the underlying transport channel, for callers that
// need the raw connection (role, remote address, readonly flag).
func (ch *Channel) Transport() *transport.Channel { return ch.transport }

// Request sends inv as a two-way call and returns an AsyncResult backed
// by a pending-call future (spec §4.5's request()). On send failure the
// pending call is cancelled so no future is left dangling.
func (ch *Channel) Request(inv *message.Invocation, timeout time.Duration, executor Executor) (*AsyncResult, error) {
	req := &message.Request{ID: message.NextRequestID(), TwoWay: true, Data: inv}
	body, err := ch.serializer.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("exchange: marshal invocation: %w", err)
	}

	future := ch.registry.NewCall(ch.transport, req, timeout, executor)
	header := protocol.Header{
		IsRequest:     true,
		TwoWay:        true,
		ID:            req.ID,
		Serialization: protocol.SerializationID(string(ch.serializer.Name())),
	}
	if err := ch.transport.Send(header, body); err != nil {
		ch.registry.Cancel(req.ID)
		return nil, err
	}
	ch.registry.Sent(ch.transport, req)
	return NewAsyncResult(future, inv), nil
}

// Send fires inv as a one-way notification: no PendingCall is created
// and the call never times out, per spec §8's round-trip law.
func (ch *Channel) Send(inv *message.Invocation) error {
	body, err := ch.serializer.Marshal(inv)
	if err != nil {
		return fmt.Errorf("exchange: marshal invocation: %w", err)
	}
	header := protocol.Header{
		IsRequest:     true,
		TwoWay:        false,
		ID:            message.NextRequestID(),
		Serialization: protocol.SerializationID(string(ch.serializer.Name())),
	}
	return ch.transport.Send(header, body)
}

// SendHeartbeat issues a two-way event request (spec §4.5's client-side
// heartbeat). The returned future completes when the peer's event
// response arrives, or on the ambient heartbeat-ack timeout.
func (ch *Channel) SendHeartbeat(timeout time.Duration) (*Future, error) {
	req := message.NewEventRequest(true)
	future := ch.registry.NewCall(ch.transport, req, timeout, nil)
	header := protocol.Header{IsRequest: true, TwoWay: true, Event: true, ID: req.ID}
	if err := ch.transport.Send(header, nil); err != nil {
		ch.registry.Cancel(req.ID)
		return nil, err
	}
	ch.registry.Sent(ch.transport, req)
	return future, nil
}

// SendReadonly issues a one-way event request marking this channel
// read-only (spec §4.5's graceful-close notice).
func (ch *Channel) SendReadonly() error {
	body, err := ch.serializer.Marshal(&message.Invocation{Method: message.EventReadonly})
	if err != nil {
		return fmt.Errorf("exchange: marshal readonly event: %w", err)
	}
	header := protocol.Header{IsRequest: true, TwoWay: false, Event: true, ID: message.NextRequestID()}
	return ch.transport.Send(header, body)
}

// Close drains this channel's own in-flight calls (polling every 10ms,
// per spec §4.5) up to timeout, then closes the underlying transport
// channel, which itself fans CHANNEL_INACTIVE out to any stragglers.
func (ch *Channel) Close(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for ch.registry.PendingForChannel(ch.transport) > 0 {
		if timeout > 0 && time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return ch.transport.Close()
}

// received is the shared dispatch entrypoint driven by both Client and
// Server once they have resolved the inbound frame to this Channel.
func (ch *Channel) received(header protocol.Header, body []byte) {
	if !header.IsRequest {
		ch.handleResponse(header, body)
		return
	}
	if header.Event {
		ch.handleEventRequest(header, body)
		return
	}
	ch.handleInvocationRequest(header, body)
}

func (ch *Channel) handleResponse(header protocol.Header, body []byte) {
	resp := &message.Response{ID: header.ID, Status: header.Status, Event: header.Event}
	if len(body) > 0 {
		if err := ch.serializer.Unmarshal(body, resp); err != nil {
			resp.Status = message.BadResponse
			resp.ErrorMessage = fmt.Sprintf("exchange: deserialize response: %v", err)
		}
	}
	ch.registry.Received(ch.transport, resp, false)
}

// handleEventRequest answers heartbeat pings and marks readonly notices,
// bypassing the invocation dispatcher entirely (spec §4.5).
func (ch *Channel) handleEventRequest(header protocol.Header, body []byte) {
	if len(body) > 0 {
		var inv message.Invocation
		if err := ch.serializer.Unmarshal(body, &inv); err == nil && inv.Method == message.EventReadonly {
			ch.transport.MarkReadonly()
		}
	}
	if !header.TwoWay {
		return
	}
	resp := &message.Response{ID: header.ID, Status: message.OK, Event: true}
	if err := ch.sendResponse(resp); err != nil {
		ch.log.Warnw("failed to answer event request", "id", header.ID, "err", err)
	}
}

func (ch *Channel) handleInvocationRequest(header protocol.Header, body []byte) {
	inv := &message.Invocation{}
	if len(body) > 0 {
		if err := ch.serializer.Unmarshal(body, inv); err != nil {
			if header.TwoWay {
				ch.writeError(header.ID, message.BadRequest, err.Error())
			}
			return
		}
	}

	if ch.handler == nil {
		if header.TwoWay {
			ch.writeError(header.ID, message.ServiceNotFound, "exchange: no request handler installed")
		}
		return
	}

	result, err := ch.handler.Reply(ch, inv)
	if !header.TwoWay {
		return // one-way notification: discard the completion, per spec §4.8
	}
	if err != nil {
		ch.writeError(header.ID, message.ServiceNotFound, err.Error())
		return
	}

	result.WhenCompleteWithContext(context.Background(), func(resp *message.Response, callErr error) {
		if resp == nil {
			resp = message.NewErrorResponse(header.ID, message.ServiceError, callErr.Error())
		}
		resp.ID = header.ID
		if sendErr := ch.sendResponse(resp); sendErr != nil {
			ch.log.Warnw("failed to write invocation response", "id", header.ID, "err", sendErr)
		}
	})
}

func (ch *Channel) writeError(id uint64, status message.Status, errMsg string) {
	if err := ch.sendResponse(message.NewErrorResponse(id, status, errMsg)); err != nil {
		ch.log.Warnw("failed to write error response", "id", id, "err", err)
	}
}

func (ch *Channel) sendResponse(resp *message.Response) error {
	body, err := ch.serializer.Marshal(resp)
	if err != nil {
		return fmt.Errorf("exchange: marshal response: %w", err)
	}
	header := protocol.Header{
		IsRequest:     false,
		Event:         resp.Event,
		Status:        resp.Status,
		ID:            resp.ID,
		Serialization: protocol.SerializationID(string(ch.serializer.Name())),
	}
	return ch.transport.Send(header, body)
}
