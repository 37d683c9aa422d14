// Package client is the thin convenience facade named in spec §3.11: a
// single Reference type providing Call/Go sugar atop
// rpcprotocol.Refer, adapted from the teacher's client/client.go Call
// but dispatching through the pool/exchange stack instead of a
// hand-rolled address->transport map.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"dubbo-exchange/exchange"
	"dubbo-exchange/message"
	"dubbo-exchange/rpcprotocol"
	"dubbo-exchange/urlconf"
)

// Reference is a consumer-side handle to one remote service, built by
// referring a URL through a shared rpcprotocol.Protocol (so multiple
// references to the same endpoint reuse the pool's connections per
// spec §4.6).
type Reference struct {
	url     *urlconf.URL
	log     *zap.SugaredLogger
	invoker rpcprotocol.Invoker
}

// Refer builds a Reference to url via protocol's Refer (spec §4.9).
// handler answers any inbound invocation this connection receives
// (callback invocations); pass nil for a pure outbound reference.
func Refer(protocol *rpcprotocol.Protocol, url *urlconf.URL, handler exchange.RequestHandler, log *zap.SugaredLogger) (*Reference, error) {
	invoker, err := protocol.Refer(url, handler)
	if err != nil {
		return nil, err
	}
	return &Reference{url: url, log: log, invoker: invoker}, nil
}

// Call performs a synchronous RPC: Go, then block for the result and
// decode it into reply, mirroring the teacher's
// Call(serviceMethod, args, reply).
func (r *Reference) Call(ctx context.Context, method string, args any, reply any) error {
	result := r.Go(ctx, method, args)
	resp, err := result.Get()
	if err != nil {
		return err
	}
	return bindReply(reply, resp.Result)
}

// Go performs an asynchronous RPC, returning the AsyncResult for
// callers that want to poll, attach a callback, or use future-style
// invocation instead of blocking immediately (spec §4.10's Recreate).
func (r *Reference) Go(ctx context.Context, method string, args any) *exchange.AsyncResult {
	inv := &message.Invocation{Method: method, Arguments: []any{args}}
	return r.invoker.Invoke(ctx, inv)
}

// bindReply decodes result into reply via a JSON round-trip. result may
// already be the concrete reply type (an in-process invoke never left
// the machine) or a generic map decoded off the wire by the JSON
// serializer — both re-encode and re-decode into reply identically.
func bindReply(reply any, result any) error {
	if reply == nil || result == nil {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("client: re-encode result: %w", err)
	}
	if err := json.Unmarshal(raw, reply); err != nil {
		return fmt.Errorf("client: decode result into reply: %w", err)
	}
	return nil
}
