package rpcprotocol

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"dubbo-exchange/exchange"
	"dubbo-exchange/message"
	"dubbo-exchange/transport"
	"dubbo-exchange/urlconf"
)

type remoteAddrKey struct{}

// withRemoteAddr stamps the per-call context with the invoking peer's
// address, per spec §4.8's "set the remote address on a per-call
// context" step.
func withRemoteAddr(ctx context.Context, addr net.Addr) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

// RemoteAddr recovers the address stamped by withRemoteAddr, for
// invoker implementations that need the caller's address (e.g. an
// access-log middleware).
func RemoteAddr(ctx context.Context) (net.Addr, bool) {
	addr, ok := ctx.Value(remoteAddrKey{}).(net.Addr)
	return addr, ok
}

// ServerDispatcher is the ExchangeHandler named in spec §4.8: it
// resolves an inbound invocation to an exported invoker by service-key
// and has no other business logic of its own.
type ServerDispatcher struct {
	log *zap.SugaredLogger

	mu        sync.Mutex
	exporters map[string]*Exporter
}

// NewServerDispatcher builds an empty dispatcher. One dispatcher is
// shared by every exported service on a Protocol instance, per spec
// §3's "exporter map: service-key -> exporter is 1:1" process-wide
// invariant.
func NewServerDispatcher(log *zap.SugaredLogger) *ServerDispatcher {
	return &ServerDispatcher{log: log, exporters: make(map[string]*Exporter)}
}

func (d *ServerDispatcher) export(exp *Exporter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.exporters[exp.ServiceKey]; exists {
		return duplicateExportError(exp.ServiceKey)
	}
	exp.dispatcher = d
	d.exporters[exp.ServiceKey] = exp
	return nil
}

func (d *ServerDispatcher) unexport(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.exporters, key)
}

func (d *ServerDispatcher) lookup(key string) (*Exporter, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.exporters[key]
	return exp, ok
}

// Reply implements exchange.RequestHandler: compute the service-key,
// resolve the exporter, and invoke it (spec §4.8 steps 1-4).
func (d *ServerDispatcher) Reply(ch *exchange.Channel, inv *message.Invocation) (*exchange.AsyncResult, error) {
	key := d.serviceKey(ch, inv)
	exp, ok := d.lookup(key)
	if !ok {
		return nil, fmt.Errorf("rpcprotocol: service not found for key %q", key)
	}

	ctx := withRemoteAddr(context.Background(), ch.Transport().RemoteAddr())
	return exp.Invoker.Invoke(ctx, inv), nil
}

// Connected/Disconnected satisfy exchange.RequestHandler. The
// onconnect/ondisconnect lifecycle dispatch itself happens in
// exchange.Server, which synthesizes a one-way invocation and drives it
// back through Reply (spec §4.8) — these hooks are for a
// business handler that wants the raw connection event instead.
func (d *ServerDispatcher) Connected(ch *exchange.Channel)    {}
func (d *ServerDispatcher) Disconnected(ch *exchange.Channel) {}

// serviceKey implements spec §4.8 step 2, including its two special
// cases: a stub-event invocation keys off the remote port instead of
// the local one, and a callback-invoke channel gets a dotted
// "path.callback-service-id" suffix with is-callback-invoke stamped on
// the attachments.
func (d *ServerDispatcher) serviceKey(ch *exchange.Channel, inv *message.Invocation) string {
	tc := ch.Transport()
	port := tc.LocalPort()

	if inv.Attachment(message.AttachmentStubEvent) == "true" {
		if addr, ok := tc.RemoteAddr().(*net.TCPAddr); ok {
			port = addr.Port
		}
	}

	path := inv.Attachment(message.AttachmentPath)
	group := inv.Attachment(message.AttachmentGroup)
	version := inv.Attachment(message.AttachmentVersion)

	if cbKey := tc.URL().CallbackServiceKey; cbKey != "" && isCallbackChannel(tc) {
		path = path + "." + cbKey
		inv.SetAttachment(message.AttachmentIsCallbackInvoke, true)
	}

	return urlconf.ServiceKey(group, path, version, port)
}

// isCallbackChannel resolves the first Open Question from spec §9
// explicitly rather than inferring it: a channel only counts as the
// client-side leg of a callback connection when its role was stamped
// RoleClient at construction AND its URL's host/port still match the
// live remote address (the original comparison spec.md describes,
// narrowed to a role the transport layer now records directly instead
// of re-deriving).
func isCallbackChannel(tc *transport.Channel) bool {
	if tc.Role() != transport.RoleClient {
		return false
	}
	addr, ok := tc.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return false
	}
	u := tc.URL()
	return u.Host == addr.IP.String() && u.Port == addr.Port
}
