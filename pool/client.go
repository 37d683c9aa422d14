// Package pool implements the reference-counted, per-endpoint client
// pool from spec §4.6 and the lazy-connect client from spec §4.7. A
// pool is new territory for the teacher (mini-rpc's client package
// builds one fixed-size slice of transports per address and never
// releases them — see client/client.go's getTransport), so this
// refcounting state machine is grounded directly in spec §4.6 steps
// 1-4 rather than adapted from a teacher file; it reuses the teacher's
// atomic round-robin idiom (loadbalance/roundrobin.go) for selection,
// which lives in the rpcprotocol package that consumes this pool.
package pool

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/exchange"
	"dubbo-exchange/message"
	"dubbo-exchange/urlconf"
)

// Client is a refcounted wrapper over one exchange.Client. Refcount
// starts at zero and is incremented by the pool on every Get; Close
// decrements it and only closes the inner connection at zero (spec
// §4.6 invariant: "refcount never drops below zero; once closed=true
// it stays closed").
type Client struct {
	mu       sync.Mutex
	inner    *exchange.Client
	refcount int
	closed   bool
	log      *zap.SugaredLogger
}

func newClient(url *urlconf.URL, handler exchange.RequestHandler, log *zap.SugaredLogger) (*Client, error) {
	inner, err := exchange.Dial(url, handler, log)
	if err != nil {
		return nil, err
	}
	return &Client{inner: inner, log: log}, nil
}

func (c *Client) incref() {
	c.mu.Lock()
	c.refcount++
	c.mu.Unlock()
}

// IsHealthy reports whether this wrapper is still usable: not closed
// and holding a live inner client (spec §4.6 step 1's health check).
func (c *Client) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.inner != nil
}

// Close decrements refcount; only the last releasing consumer actually
// closes the underlying connection. After real close, any later use
// errors instead of silently reconnecting, per spec §4.6's "replaces
// its inner client with a lazy reconnect stub so any later use throws
// channel closed."
func (c *Client) Close(timeout time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.refcount > 0 {
		c.refcount--
	}
	if c.refcount > 0 {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	inner := c.inner
	c.inner = nil
	c.mu.Unlock()

	if inner != nil {
		return inner.Close(timeout)
	}
	return nil
}

// Request forwards to the live inner client.
func (c *Client) Request(inv *message.Invocation, timeout time.Duration, executor exchange.Executor) (*exchange.AsyncResult, error) {
	inner, err := c.live()
	if err != nil {
		return nil, err
	}
	return inner.Request(inv, timeout, executor)
}

// Send forwards to the live inner client.
func (c *Client) Send(inv *message.Invocation) error {
	inner, err := c.live()
	if err != nil {
		return err
	}
	return inner.Send(inv)
}

func (c *Client) live() (*exchange.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.inner == nil {
		return nil, fmt.Errorf("pool: channel closed")
	}
	return c.inner, nil
}
