package rpcprotocol

import (
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/exchange"
	"dubbo-exchange/pool"
	"dubbo-exchange/urlconf"
)

// Protocol ties together the server-side dispatcher, the server map
// (one listening exchange.Server per bind address), and the consumer-
// side client pool manager, implementing export/refer/destroy exactly
// as spec §4.9 describes. Carried explicitly through NewProtocol rather
// than a package-level singleton, per the Design Notes' "process-wide
// singletons... expose as explicit context carried through
// constructors."
type Protocol struct {
	log        *zap.SugaredLogger
	dispatcher *ServerDispatcher

	mu      sync.Mutex
	servers map[string]*exchange.Server // bind address -> server
	pools   map[string]*pool.Manager    // remote address -> client pool
}

// NewProtocol builds an empty protocol instance.
func NewProtocol(log *zap.SugaredLogger) *Protocol {
	return &Protocol{
		log:        log,
		dispatcher: NewServerDispatcher(log),
		servers:    make(map[string]*exchange.Server),
		pools:      make(map[string]*pool.Manager),
	}
}

// Export registers invoker under url's service-key and ensures a
// listening server exists at url's bind address, double-checked so two
// exports landing on the same address share one server (spec §4.9).
func (p *Protocol) Export(invoker Invoker, url *urlconf.URL) (*Exporter, error) {
	optimizeSerializer(url)

	s, err := p.ensureServer(url)
	if err != nil {
		return nil, err
	}

	// An ephemeral ":0" export is keyed by the port the listener actually
	// bound, which is the local port the dispatcher sees on inbound calls.
	key := url.ServiceKey()
	if url.Port == 0 {
		if _, portStr, splitErr := net.SplitHostPort(s.ListenAddr()); splitErr == nil {
			if port, convErr := strconv.Atoi(portStr); convErr == nil {
				key = urlconf.ServiceKey(url.Group, url.Path, url.Version, port)
			}
		}
	}

	exp := &Exporter{ServiceKey: key, Invoker: invoker}
	if err := p.dispatcher.export(exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// ListenAddr reports the real listen address of the server bound at
// url's bind address (useful for ephemeral ":0" ports in tests), and
// whether one has been created yet.
func (p *Protocol) ListenAddr(url *urlconf.URL) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.servers[url.BindAddress()]
	if !ok {
		return "", false
	}
	return s.ListenAddr(), true
}

func (p *Protocol) ensureServer(url *urlconf.URL) (*exchange.Server, error) {
	addr := url.BindAddress()

	p.mu.Lock()
	if s, ok := p.servers[addr]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	s, err := exchange.Bind(url, p.dispatcher, p.log)
	if err != nil {
		return nil, err
	}

	// Double-checked: another goroutine may have bound the same address
	// while we were outside the lock. Keep whichever was installed
	// first and close our redundant attempt.
	p.mu.Lock()
	if existing, ok := p.servers[addr]; ok {
		p.mu.Unlock()
		s.Close(0)
		return existing, nil
	}
	p.servers[addr] = s
	p.mu.Unlock()
	return s, nil
}

// Refer builds a round-robin invoker over the shared (or dedicated)
// clients for url's endpoint, per spec §4.9. handler answers any
// inbound invocation this connection receives (callback invocations);
// pass nil for a pure outbound reference.
func (p *Protocol) Refer(url *urlconf.URL, handler exchange.RequestHandler) (Invoker, error) {
	optimizeSerializer(url)

	clients, err := p.getClients(url, handler)
	if err != nil {
		return nil, err
	}
	return newRemoteInvoker(url, clients), nil
}

func (p *Protocol) getClients(url *urlconf.URL, handler exchange.RequestHandler) ([]*pool.Client, error) {
	addr := url.Address()

	p.mu.Lock()
	mgr, ok := p.pools[addr]
	if !ok {
		mgr = pool.NewManager(p.log)
		p.pools[addr] = mgr
	}
	p.mu.Unlock()

	return mgr.Get(url, handler)
}

// Destroy closes every bound server (with shutdownTimeout for the
// drain-then-force close) and every pooled client, then drops all
// bookkeeping (spec §4.9).
func (p *Protocol) Destroy(shutdownTimeout time.Duration) {
	p.mu.Lock()
	servers := make([]*exchange.Server, 0, len(p.servers))
	for _, s := range p.servers {
		servers = append(servers, s)
	}
	pools := make([]*pool.Manager, 0, len(p.pools))
	for _, m := range p.pools {
		pools = append(pools, m)
	}
	p.servers = make(map[string]*exchange.Server)
	p.pools = make(map[string]*pool.Manager)
	p.mu.Unlock()

	for _, s := range servers {
		if err := s.Close(shutdownTimeout); err != nil {
			p.log.Warnw("rpcprotocol: server close failed", "err", err)
		}
	}
	for _, m := range pools {
		m.CloseAll(shutdownTimeout)
	}
}

// optimizeSerializer is the best-effort "serializer optimization (class
// pre-registration)" step named in spec §4.9. No serializer in this
// corpus needs ahead-of-time class registration (JSON and the binary
// serializer both work from runtime-provided types), so this is a
// deliberate no-op kept as a named extension point rather than invented
// machinery.
func optimizeSerializer(url *urlconf.URL) {}
