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

// LazyClient wraps an exchange.Client that is not dialed until the
// first Send/Request (spec §4.7). Connection establishment is guarded
// by a lock, so concurrent callers on the same lazy client serialize
// behind the single dial attempt instead of racing to connect twice.
type LazyClient struct {
	url     *urlconf.URL
	handler exchange.RequestHandler
	log     *zap.SugaredLogger

	// EnqueueWithoutConnect mirrors the "initial-state" flag from spec
	// §4.7: when true, Request does not block the caller on the dial —
	// it kicks off a connection attempt in the background and reports
	// "not yet connected" immediately rather than serializing behind
	// it. No constructor in this repo turns it on (the default,
	// synchronous-first-call path is what every caller needs); it is
	// kept so the documented flag has a real implementation to flip.
	EnqueueWithoutConnect bool

	mu      sync.Mutex
	inner   *exchange.Client
	closed  bool
	dialing bool
}

// NewLazyClient builds a client that defers dialing to first use.
func NewLazyClient(url *urlconf.URL, handler exchange.RequestHandler, log *zap.SugaredLogger) *LazyClient {
	return &LazyClient{url: url, handler: handler, log: log}
}

func (l *LazyClient) ensureConnected() (*exchange.Client, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, fmt.Errorf("pool: lazy client closed")
	}
	if l.inner != nil {
		inner := l.inner
		l.mu.Unlock()
		return inner, nil
	}

	if l.EnqueueWithoutConnect {
		if !l.dialing {
			l.dialing = true
			go l.dialInBackground()
		}
		l.mu.Unlock()
		return nil, fmt.Errorf("pool: lazy client not yet connected")
	}
	l.mu.Unlock()

	return l.dial()
}

func (l *LazyClient) dial() (*exchange.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("pool: lazy client closed")
	}
	if l.inner != nil {
		return l.inner, nil
	}
	inner, err := exchange.Dial(l.url, l.handler, l.log)
	if err != nil {
		return nil, err
	}
	l.inner = inner
	return inner, nil
}

func (l *LazyClient) dialInBackground() {
	inner, err := exchange.Dial(l.url, l.handler, l.log)
	l.mu.Lock()
	l.dialing = false
	if err == nil && !l.closed {
		l.inner = inner
	}
	l.mu.Unlock()
	if err != nil {
		l.log.Warnw("lazy client background dial failed", "addr", l.url.Address(), "err", err)
	} else if l.closed {
		inner.Close(0)
	}
}

// Request connects (if needed) and delegates to the inner client.
func (l *LazyClient) Request(inv *message.Invocation, timeout time.Duration, executor exchange.Executor) (*exchange.AsyncResult, error) {
	inner, err := l.ensureConnected()
	if err != nil {
		return nil, err
	}
	return inner.Request(inv, timeout, executor)
}

// Send connects (if needed) and delegates to the inner client.
func (l *LazyClient) Send(inv *message.Invocation) error {
	inner, err := l.ensureConnected()
	if err != nil {
		return err
	}
	return inner.Send(inv)
}

// Close marks the client closed; any live inner connection is closed
// too, and any later use errors instead of reconnecting.
func (l *LazyClient) Close(timeout time.Duration) error {
	l.mu.Lock()
	l.closed = true
	inner := l.inner
	l.inner = nil
	l.mu.Unlock()
	if inner != nil {
		return inner.Close(timeout)
	}
	return nil
}

// IsAvailable reports whether this lazy client can still be used (it
// may not be connected yet — that is the point).
func (l *LazyClient) IsAvailable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}
