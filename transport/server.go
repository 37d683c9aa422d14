package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/protocol"
	"dubbo-exchange/urlconf"
)

// RemotingError surfaces transport-layer failures (bind, connect, send,
// decode) to the caller, per spec §7.
type RemotingError struct {
	Addr  string
	Cause error
}

func (e *RemotingError) Error() string {
	return fmt.Sprintf("remoting error at %s: %v", e.Addr, e.Cause)
}

func (e *RemotingError) Unwrap() error { return e.Cause }

// Server listens for inbound connections and hands decoded frames to a
// Handler, bounded by an accept limit and a worker pool (spec §4.2).
type Server struct {
	url     *urlconf.URL
	handler Handler

	listener net.Listener
	pool     *WorkerPool
	log      *zap.SugaredLogger

	mu       sync.Mutex
	channels map[*Channel]struct{}
	accepts  atomic.Int64

	closing atomic.Bool
	closed  atomic.Bool
}

// Bind opens a listening socket at url's bind address (spec §4.2:
// anyhost/bind-ip fallback to 0.0.0.0) and starts the accept loop on a
// background goroutine. The worker pool is bounded to url.Accepts, the
// same limit Reset applies; Accepts <= 0 leaves it unbounded like the
// teacher.
func Bind(url *urlconf.URL, handler Handler, log *zap.SugaredLogger) (*Server, error) {
	listener, err := net.Listen("tcp", url.BindAddress())
	if err != nil {
		return nil, &RemotingError{Addr: url.BindAddress(), Cause: err}
	}
	s := &Server{
		url:      url,
		handler:  handler,
		listener: listener,
		pool:     NewWorkerPool(url.Accepts),
		log:      log,
		channels: make(map[*Channel]struct{}),
	}
	s.accepts.Store(int64(url.Accepts))
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() || s.closed.Load() {
				return
			}
			s.log.Warnw("accept failed", "err", err)
			return
		}
		ch := NewChannel(conn, s.url, RoleServer)
		s.connected(ch)
	}
}

// connected enforces the accept-limit and closing/closed checks from
// spec §4.2 before handing the channel to the handler.
func (s *Server) connected(ch *Channel) {
	limit := s.accepts.Load()

	s.mu.Lock()
	if s.closing.Load() || s.closed.Load() || (limit > 0 && int64(len(s.channels)) >= limit) {
		s.mu.Unlock()
		s.log.Warnw("rejecting channel: server closing or over accept limit",
			"remote", ch.RemoteAddr(), "limit", limit)
		ch.Close()
		return
	}
	s.channels[ch] = struct{}{}
	s.mu.Unlock()

	s.pool.Submit(func() {
		s.handler.Connected(ch)
		ch.recvLoop(&serverHandlerAdapter{s: s, inner: s.handler})
	})
}

// serverHandlerAdapter removes a channel from the server's bookkeeping
// on disconnect, then delegates to the real handler.
type serverHandlerAdapter struct {
	s     *Server
	inner Handler
}

func (a *serverHandlerAdapter) Connected(ch *Channel) { a.inner.Connected(ch) }

func (a *serverHandlerAdapter) Disconnected(ch *Channel) {
	a.s.mu.Lock()
	delete(a.s.channels, ch)
	a.s.mu.Unlock()
	a.inner.Disconnected(ch)
}

func (a *serverHandlerAdapter) Received(ch *Channel, header protocol.Header, body []byte) {
	a.inner.Received(ch, header, body)
}

// Send broadcasts a pre-built frame to every active channel, used for
// the readonly shutdown notice (spec §4.2, §4.5).
func (s *Server) Send(fn func(ch *Channel) error) {
	s.mu.Lock()
	channels := make([]*Channel, 0, len(s.channels))
	for ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		if err := fn(ch); err != nil {
			s.log.Warnw("broadcast send failed", "remote", ch.RemoteAddr(), "err", err)
		}
	}
}

// Reset updates the accept limit and worker-pool sizing in place,
// without closing the listener (spec §4.2). The worker pool is bounded
// to the same limit as accepted connections, so raising or lowering
// Accepts also raises or lowers how many channels can be served
// concurrently.
func (s *Server) Reset(url *urlconf.URL) {
	s.accepts.Store(int64(url.Accepts))
	s.pool.Resize(url.Accepts)
}

// ListenAddr returns the address the listener actually bound, useful
// when the URL requested an ephemeral port (":0").
func (s *Server) ListenAddr() string { return s.listener.Addr().String() }

// Channels returns a snapshot of currently active channels.
func (s *Server) Channels() []*Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Channel, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// Close performs the single "drain, then force" operation the redesign
// flag in spec §9 asks for: if timeout > 0, stop accepting, wait up to
// timeout for the worker pool to drain, then force-close everything
// that is still open; timeout <= 0 closes immediately.
func (s *Server) Close(timeout time.Duration) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	s.listener.Close()

	if timeout > 0 {
		drained := make(chan struct{})
		go func() {
			s.pool.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(timeout):
			s.log.Warnw("worker pool did not drain in time, forcing close", "timeout", timeout)
		}
	}

	s.closed.Store(true)
	s.mu.Lock()
	channels := make([]*Channel, 0, len(s.channels))
	for ch := range s.channels {
		channels = append(channels, ch)
	}
	s.channels = make(map[*Channel]struct{})
	s.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	return nil
}
