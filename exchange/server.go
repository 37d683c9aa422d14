package exchange

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/message"
	"dubbo-exchange/protocol"
	"dubbo-exchange/transport"
	"dubbo-exchange/urlconf"
)

// Server is the exchange-level wrapping of a transport.Server: per-
// connection dispatch, a heartbeat watcher that closes idle channels,
// readonly-event broadcast on graceful close, and onconnect/ondisconnect
// lifecycle dispatch (spec §4.5, §4.8).
type Server struct {
	url     *urlconf.URL
	handler RequestHandler
	log     *zap.SugaredLogger

	registry  *Registry
	transport *transport.Server

	mu       sync.Mutex
	channels map[*transport.Channel]*Channel

	stop   chan struct{}
	closed atomic.Bool
}

// Bind opens a listening socket at url and starts the heartbeat
// watcher. handler answers inbound invocations and lifecycle events.
func Bind(url *urlconf.URL, handler RequestHandler, log *zap.SugaredLogger) (*Server, error) {
	s := &Server{
		url:      url,
		handler:  handler,
		log:      log,
		registry: NewRegistry(log),
		channels: make(map[*transport.Channel]*Channel),
		stop:     make(chan struct{}),
	}
	ts, err := transport.Bind(url, s, log)
	if err != nil {
		return nil, err
	}
	s.transport = ts
	go s.heartbeatLoop()
	return s, nil
}

// Connected implements transport.Handler.
func (s *Server) Connected(tch *transport.Channel) {
	ch := newChannel(tch, s.registry, s.handler, s.log)
	s.mu.Lock()
	s.channels[tch] = ch
	s.mu.Unlock()

	if s.handler != nil {
		s.handler.Connected(ch)
	}
	if s.url.OnConnectMethod != "" {
		s.dispatchLifecycle(ch, s.url.OnConnectMethod)
	}
}

// Disconnected implements transport.Handler.
func (s *Server) Disconnected(tch *transport.Channel) {
	s.registry.CloseChannel(tch)

	s.mu.Lock()
	ch := s.channels[tch]
	delete(s.channels, tch)
	s.mu.Unlock()

	if ch == nil {
		return
	}
	if s.handler != nil {
		s.handler.Disconnected(ch)
	}
	if s.url.OnDisconnectMethod != "" {
		s.dispatchLifecycle(ch, s.url.OnDisconnectMethod)
	}
}

// Received implements transport.Handler.
func (s *Server) Received(tch *transport.Channel, header protocol.Header, body []byte) {
	s.mu.Lock()
	ch := s.channels[tch]
	s.mu.Unlock()
	if ch == nil {
		return
	}
	ch.received(header, body)
}

// dispatchLifecycle synthesizes a one-way invocation for the configured
// onconnect/ondisconnect method and delivers it straight to the
// handler, discarding the completion per spec §4.8.
func (s *Server) dispatchLifecycle(ch *Channel, method string) {
	if s.handler == nil {
		return
	}
	if _, err := s.handler.Reply(ch, &message.Invocation{Method: method}); err != nil {
		s.log.Warnw("lifecycle dispatch failed", "method", method, "err", err)
	}
}

// ListenAddr returns the address the underlying listener actually bound
// to, useful when the URL requested an ephemeral port (":0").
func (s *Server) ListenAddr() string { return s.transport.ListenAddr() }

// Channels returns a snapshot of currently active exchange channels.
func (s *Server) Channels() []*Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// heartbeatLoop wakes at heartbeat/3 and closes any channel that has
// gone silent for heartbeat*3, per spec §4.5's server rule.
func (s *Server) heartbeatLoop() {
	interval := tickInterval(s.url.Heartbeat)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.Duration(s.url.Heartbeat) * 3 * time.Millisecond

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for _, ch := range s.Channels() {
				if time.Since(ch.transport.LastRead()) >= deadline {
					s.log.Warnw("heartbeat missed, closing channel", "remote", ch.transport.RemoteAddr())
					ch.transport.Close()
				}
			}
		}
	}
}

// Close broadcasts a readonly event to every connected channel (if
// configured, spec §6's channel.readonly.sent) and then performs the
// transport layer's drain-then-force close.
func (s *Server) Close(timeout time.Duration) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stop)

	if s.url.ChannelReadonly {
		for _, ch := range s.Channels() {
			if err := ch.SendReadonly(); err != nil {
				s.log.Warnw("readonly broadcast failed", "remote", ch.transport.RemoteAddr(), "err", err)
			}
		}
	}
	return s.transport.Close(timeout)
}
