package exchange

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/message"
	"dubbo-exchange/protocol"
	"dubbo-exchange/transport"
	"dubbo-exchange/urlconf"
)

var errNoLiveChannel = fmt.Errorf("exchange: no live channel")

const defaultHeartbeatTick = 20 * time.Second

// Client is the exchange-level wrapping of a single transport.Client
// connection (spec §4.5): Request/Send on top of correlated futures,
// a heartbeat watcher, and graceful close. It implements
// transport.Handler directly so transport.Dial can drive it.
type Client struct {
	url     *urlconf.URL
	handler RequestHandler
	log     *zap.SugaredLogger

	registry  *Registry
	transport *transport.Client

	mu      sync.Mutex
	channel *Channel

	closed atomic.Bool
	stop   chan struct{}
}

// Dial connects to url and starts the background heartbeat watcher
// described in spec §4.5. handler may be nil for a pure caller that
// never answers inbound invocations.
func Dial(url *urlconf.URL, handler RequestHandler, log *zap.SugaredLogger) (*Client, error) {
	c := &Client{
		url:      url,
		handler:  handler,
		log:      log,
		registry: NewRegistry(log),
		stop:     make(chan struct{}),
	}
	tc, err := transport.Dial(url, c, log)
	if err != nil {
		return nil, err
	}
	c.transport = tc
	go c.heartbeatLoop()
	return c, nil
}

// Connected implements transport.Handler.
func (c *Client) Connected(tch *transport.Channel) {
	ch := newChannel(tch, c.registry, c.handler, c.log)
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
	if c.handler != nil {
		c.handler.Connected(ch)
	}
}

// Disconnected implements transport.Handler.
func (c *Client) Disconnected(tch *transport.Channel) {
	c.registry.CloseChannel(tch)
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if c.handler != nil && ch != nil {
		c.handler.Disconnected(ch)
	}
}

// Received implements transport.Handler, routing the frame through the
// exchange Channel bound to this connection.
func (c *Client) Received(tch *transport.Channel, header protocol.Header, body []byte) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return
	}
	ch.received(header, body)
}

// Channel returns the current exchange channel, or nil while
// disconnected/reconnecting.
func (c *Client) Channel() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Request delegates to the current channel's Request, per spec §4.5.
func (c *Client) Request(inv *message.Invocation, timeout time.Duration, executor Executor) (*AsyncResult, error) {
	ch := c.Channel()
	if ch == nil {
		return nil, errNoLiveChannel
	}
	return ch.Request(inv, timeout, executor)
}

// Send delegates to the current channel's Send.
func (c *Client) Send(inv *message.Invocation) error {
	ch := c.Channel()
	if ch == nil {
		return errNoLiveChannel
	}
	return ch.Send(inv)
}

// IsAvailable reports whether the client has a live, non-readonly
// channel to send on.
func (c *Client) IsAvailable() bool {
	ch := c.Channel()
	return ch != nil && !ch.transport.IsClosed() && !ch.transport.IsReadonly()
}

// heartbeatLoop wakes at heartbeat/3 and sends a ping whenever the
// connection has been write-idle for at least one full heartbeat
// interval, per spec §4.5's client rule.
func (c *Client) heartbeatLoop() {
	interval := tickInterval(c.url.Heartbeat)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ch := c.Channel()
			if ch == nil || ch.transport.IsClosed() {
				continue
			}
			idle := time.Since(ch.transport.LastWrite())
			if idle < time.Duration(c.url.Heartbeat)*time.Millisecond {
				continue
			}
			if _, err := ch.SendHeartbeat(time.Duration(c.url.Timeout) * time.Millisecond); err != nil {
				c.log.Warnw("heartbeat send failed", "addr", c.url.Address(), "err", err)
			}
		}
	}
}

// Close drains the current channel's pending calls up to timeout, then
// closes the transport client (spec §4.5).
func (c *Client) Close(timeout time.Duration) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stop)
	ch := c.Channel()
	if ch != nil {
		ch.Close(timeout)
	}
	return c.transport.Close()
}

func tickInterval(heartbeatMillis int) time.Duration {
	if heartbeatMillis <= 0 {
		return defaultHeartbeatTick
	}
	d := time.Duration(heartbeatMillis) * time.Millisecond / 3
	if d <= 0 {
		return defaultHeartbeatTick
	}
	return d
}
