package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"dubbo-exchange/urlconf"
)

// Client owns one outbound connection, reconnecting in the background
// when it drops. Adapted from the teacher's ClientTransport, but the
// response-correlation responsibility (the teacher's sync.Map of
// pending channels) moves up to the exchange layer; this layer only
// knows about frames and liveness.
//
// Reconnect is rate-limited with golang.org/x/time/rate, grounded in
// the teacher's RateLimitMiddleware token-bucket idiom and directly
// required by spec §4.3: "reconnect attempts are rate-limited and
// logged at warn after a configurable error window."
type Client struct {
	url     *urlconf.URL
	handler Handler
	log     *zap.SugaredLogger

	mu      sync.Mutex
	channel *Channel

	limiter *rate.Limiter

	closed atomic.Bool
	stop   chan struct{}
}

// Dial connects to url.Address() and starts the background reconnect
// watchdog. The reconnect interval floors at 2s per spec §4.3 ("no more
// often than that").
func Dial(url *urlconf.URL, handler Handler, log *zap.SugaredLogger) (*Client, error) {
	interval := url.ReconnectInterval
	if interval < 2000 {
		interval = 2000
	}

	c := &Client{
		url:     url,
		handler: handler,
		log:     log,
		limiter: rate.NewLimiter(rate.Every(time.Duration(interval)*time.Millisecond), 1),
		stop:    make(chan struct{}),
	}

	ch, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.channel = ch
	c.handler.Connected(ch)
	go c.watch(ch)
	go c.reconnectLoop()
	return c, nil
}

func (c *Client) dial() (*Channel, error) {
	conn, err := net.Dial("tcp", c.url.Address())
	if err != nil {
		return nil, &RemotingError{Addr: c.url.Address(), Cause: err}
	}
	ch := NewChannel(conn, c.url, RoleClient)
	return ch, nil
}

func (c *Client) watch(ch *Channel) {
	ch.recvLoop(c.handler)
	c.handler.Disconnected(ch)
}

// reconnectLoop is the background reconnect task named in spec §4.3: it
// wakes periodically, and if the current channel is dead and the
// client hasn't been closed, attempts a rate-limited reconnect.
func (c *Client) reconnectLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			dead := c.channel == nil || c.channel.IsClosed()
			c.mu.Unlock()
			if !dead || c.closed.Load() {
				continue
			}
			if !c.limiter.Allow() {
				continue
			}
			c.reconnect()
		}
	}
}

func (c *Client) reconnect() {
	ch, err := c.dial()
	if err != nil {
		c.log.Warnw("reconnect failed", "addr", c.url.Address(), "err", err)
		return
	}
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
	c.handler.Connected(ch)
	go c.watch(ch)
}

// Reconnect forces an immediate reconnect attempt, bypassing the rate
// limiter's wait (but not its token bucket — a caller-triggered
// reconnect still consumes a token so it cannot be used to defeat
// rate limiting under a retry storm).
func (c *Client) Reconnect() error {
	if !c.limiter.Allow() {
		return fmt.Errorf("transport: reconnect rate-limited")
	}
	ch, err := c.dial()
	if err != nil {
		return err
	}
	c.mu.Lock()
	old := c.channel
	c.channel = ch
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	c.handler.Connected(ch)
	go c.watch(ch)
	return nil
}

// Send writes a frame on the current channel.
func (c *Client) Send(fn func(ch *Channel) error) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil || ch.IsClosed() {
		return fmt.Errorf("transport: no live channel")
	}
	return fn(ch)
}

// Channel returns the current underlying channel, or nil if none is
// connected.
func (c *Client) Channel() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// IsAvailable reports whether the client has a live, non-readonly
// channel to send on.
func (c *Client) IsAvailable() bool {
	ch := c.Channel()
	return ch != nil && !ch.IsClosed() && !ch.IsReadonly()
}

// Close stops the reconnect loop and closes the underlying channel
// immediately.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stop)
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch != nil {
		return ch.Close()
	}
	return nil
}

// CloseTimeout closes gracefully: it simply delegates to Close since,
// at the transport layer, there is nothing left to drain once the
// exchange layer above has finished waiting on pending calls (exchange
// owns the graceful drain per spec §4.5).
func (c *Client) CloseTimeout(_ time.Duration) error {
	return c.Close()
}
