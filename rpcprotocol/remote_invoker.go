package rpcprotocol

import (
	"context"
	"sync/atomic"
	"time"

	"dubbo-exchange/exchange"
	"dubbo-exchange/message"
	"dubbo-exchange/pool"
	"dubbo-exchange/urlconf"
)

// remoteClient is the subset of pool.Client (or pool.LazyClient) a
// remoteInvoker needs, so either kind of consumer-side client can back
// a reference.
type remoteClient interface {
	Request(inv *message.Invocation, timeout time.Duration, executor exchange.Executor) (*exchange.AsyncResult, error)
}

// remoteInvoker is the consumer-side half of spec §4.9's refer(): it
// picks a client round-robin by index (count % len, grounded in the
// teacher's loadbalance/roundrobin.go atomic-counter idiom) and issues
// the call over the exchange layer, returning the resulting AsyncResult
// directly — no extra wrapping, since exchange.Request already returns
// one.
type remoteInvoker struct {
	url     *urlconf.URL
	clients []remoteClient
	counter uint64
}

func newRemoteInvoker(url *urlconf.URL, clients []*pool.Client) *remoteInvoker {
	rc := make([]remoteClient, len(clients))
	for i, c := range clients {
		rc[i] = c
	}
	return &remoteInvoker{url: url, clients: rc}
}

// Invoke stamps the well-known attachments from the reference's URL
// (path/group/version/timeout) when the caller hasn't already set them,
// then dispatches through one of the pooled clients.
func (r *remoteInvoker) Invoke(ctx context.Context, inv *message.Invocation) *exchange.AsyncResult {
	stampAttachments(inv, r.url)

	n := atomic.AddUint64(&r.counter, 1)
	client := r.clients[n%uint64(len(r.clients))]

	timeout := time.Duration(r.url.Timeout) * time.Millisecond
	result, err := client.Request(inv, timeout, nil)
	if err != nil {
		return resolvedError(inv, message.ClientError, err.Error())
	}
	return result
}

func stampAttachments(inv *message.Invocation, url *urlconf.URL) {
	if inv.Attachment(message.AttachmentPath) == "" {
		inv.SetAttachment(message.AttachmentPath, url.Path)
	}
	if inv.Attachment(message.AttachmentGroup) == "" && url.Group != "" {
		inv.SetAttachment(message.AttachmentGroup, url.Group)
	}
	if inv.Attachment(message.AttachmentVersion) == "" && url.Version != "" {
		inv.SetAttachment(message.AttachmentVersion, url.Version)
	}
	if inv.Attachment(message.AttachmentTimeout) == "" {
		inv.SetAttachment(message.AttachmentTimeout, url.Timeout)
	}
}
