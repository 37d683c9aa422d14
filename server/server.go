// Package server is the thin convenience facade named in spec §3.11: a
// single type that bundles a rpcprotocol.Protocol, a middleware chain,
// and the exporters created by Register, so an application does not
// have to wire rpcprotocol, exchange, and transport by hand for the
// common case of "export some services on one address."
package server

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/middleware"
	"dubbo-exchange/rpcprotocol"
	"dubbo-exchange/urlconf"
)

// Server exports Go structs as dubbo-style services at url, applying
// any registered middleware to every dispatched invocation.
type Server struct {
	url      *urlconf.URL
	log      *zap.SugaredLogger
	protocol *rpcprotocol.Protocol

	mu        sync.Mutex
	mws       []middleware.Middleware
	exporters []*rpcprotocol.Exporter

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a server bound to url once the first Register call
// creates its listener (Register triggers the actual bind, via
// rpcprotocol.Protocol.Export's double-checked server map).
func New(url *urlconf.URL, log *zap.SugaredLogger) *Server {
	return &Server{
		url:      url,
		log:      log,
		protocol: rpcprotocol.NewProtocol(log),
		stop:     make(chan struct{}),
	}
}

// Use appends middleware to the chain every registered service's
// invocations pass through. Must be called before Register for a given
// service to take effect on it.
func (s *Server) Use(mw ...middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mws = append(s.mws, mw...)
}

// Register exports rcvr's RPC-compatible methods (spec §4.9's export),
// wrapped in whatever middleware chain Use has accumulated so far.
func (s *Server) Register(rcvr any) error {
	invoker, err := rpcprotocol.NewInvoker(rcvr, s.log)
	if err != nil {
		return err
	}

	s.mu.Lock()
	mws := append([]middleware.Middleware(nil), s.mws...)
	s.mu.Unlock()

	if len(mws) > 0 {
		invoker = rpcprotocol.WithMiddleware(invoker, middleware.Chain(mws...))
	}

	exp, err := s.protocol.Export(invoker, s.url)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.exporters = append(s.exporters, exp)
	s.mu.Unlock()
	return nil
}

// Addr reports the real listen address once at least one service has
// been registered (Register is what actually binds the listener).
func (s *Server) Addr() (string, bool) {
	return s.protocol.ListenAddr(s.url)
}

// Serve blocks until Shutdown is called. Binding and accepting happen
// as a side effect of Register, not of Serve itself — this just gives
// callers something to block the main goroutine on, the way the
// teacher's accept loop does.
func (s *Server) Serve() error {
	<-s.stop
	return nil
}

// Shutdown performs the single "drain, then force" operation described
// in spec §9's redesign flag, as one call rather than two sequential
// ones: unexport every service, then close the bound server(s) and
// client pools with the given timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	exporters := s.exporters
	s.exporters = nil
	s.mu.Unlock()

	for _, exp := range exporters {
		exp.Unexport()
	}
	s.protocol.Destroy(timeout)

	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
