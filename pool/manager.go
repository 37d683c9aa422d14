package pool

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/exchange"
	"dubbo-exchange/urlconf"
)

// endpointState is one entry of the per-endpoint map described in spec
// §4.6: either the "pending" sentinel (another goroutine is building or
// repairing the list) or a ready list of refcounted clients.
type endpointState struct {
	pending bool
	clients []*Client
}

// Manager is the reference-counted client pool keyed by endpoint
// host:port (spec §4.6). One Manager instance is meant to live for the
// lifetime of a protocol/consumer process; tests build their own rather
// than reaching for a package-level singleton.
type Manager struct {
	log *zap.SugaredLogger

	mu    sync.Mutex
	cond  *sync.Cond
	state map[string]*endpointState
}

// NewManager builds an empty pool manager.
func NewManager(log *zap.SugaredLogger) *Manager {
	m := &Manager{log: log, state: make(map[string]*endpointState)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Get returns the shared client list for url's endpoint, building or
// repairing it as needed (spec §4.6 steps 1-4). If url.Connections > 0
// the caller gets its own dedicated, non-shared clients instead (N =
// Connections, refcount irrelevant since nobody else can observe them).
func (m *Manager) Get(url *urlconf.URL, handler exchange.RequestHandler) ([]*Client, error) {
	if url.Connections > 0 {
		return m.buildDedicated(url, handler, url.Connections)
	}

	n := shareSize(url)
	key := url.Address()

	prev, ready := m.claim(key)
	if ready {
		return prev, nil
	}

	built, err := m.rebuild(url, handler, n, prev)
	m.publish(key, built, err)
	if err != nil {
		return nil, err
	}
	for _, c := range built {
		c.incref()
	}
	return append([]*Client(nil), built...), nil
}

// claim blocks out any concurrent rebuild of the same endpoint (step 4:
// wait on the condition variable while pending), then either returns a
// refcount-bumped ready list (ready=true) or publishes the pending
// sentinel and hands back the previous list to repair (ready=false).
func (m *Manager) claim(key string) ([]*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		st, ok := m.state[key]
		if !ok {
			m.state[key] = &endpointState{pending: true}
			return nil, false
		}
		if st.pending {
			m.cond.Wait()
			continue
		}
		if allHealthy(st.clients) {
			for _, c := range st.clients {
				c.incref()
			}
			return append([]*Client(nil), st.clients...), true
		}
		prev := st.clients
		m.state[key] = &endpointState{pending: true}
		return prev, false
	}
}

// publish re-enters the lock, installs the rebuilt list (or removes the
// entry entirely on failure so the next caller retries from scratch),
// and wakes every waiter (step 3).
func (m *Manager) publish(key string, built []*Client, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.state, key)
	} else {
		m.state[key] = &endpointState{clients: built}
	}
	m.cond.Broadcast()
}

// rebuild produces a healthy list of size n: a fresh build if prev is
// empty, or a repair that keeps every still-healthy entry and replaces
// the rest (spec §4.6 step 2).
func (m *Manager) rebuild(url *urlconf.URL, handler exchange.RequestHandler, n int, prev []*Client) ([]*Client, error) {
	if len(prev) == 0 {
		out := make([]*Client, 0, n)
		for i := 0; i < n; i++ {
			c, err := newClient(url, handler, m.log)
			if err != nil {
				for _, built := range out {
					built.Close(0)
				}
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}

	out := make([]*Client, len(prev))
	copy(out, prev)
	for i, c := range out {
		if c != nil && c.IsHealthy() {
			continue
		}
		fresh, err := newClient(url, handler, m.log)
		if err != nil {
			return nil, err
		}
		out[i] = fresh
	}
	return out, nil
}

func (m *Manager) buildDedicated(url *urlconf.URL, handler exchange.RequestHandler, n int) ([]*Client, error) {
	out := make([]*Client, 0, n)
	for i := 0; i < n; i++ {
		c, err := newClient(url, handler, m.log)
		if err != nil {
			for _, built := range out {
				built.Close(0)
			}
			return nil, err
		}
		c.incref() // sole owner; this consumer's Close(...) is the real close
		out = append(out, c)
	}
	return out, nil
}

// CloseAll empties the shared pool and calls Close once on every shared
// client it held. Each Close is one refcount release, so a client still
// referenced by other consumers stays open. Dedicated clients built for
// url.Connections > 0 are not tracked here and are not closed.
func (m *Manager) CloseAll(timeout time.Duration) {
	m.mu.Lock()
	var all []*Client
	for _, st := range m.state {
		all = append(all, st.clients...)
	}
	m.state = make(map[string]*endpointState)
	m.mu.Unlock()

	for _, c := range all {
		c.Close(timeout)
	}
}

func allHealthy(clients []*Client) bool {
	if len(clients) == 0 {
		return false
	}
	for _, c := range clients {
		if !c.IsHealthy() {
			return false
		}
	}
	return true
}

func shareSize(url *urlconf.URL) int {
	if url.ShareConnections > 0 {
		return url.ShareConnections
	}
	return urlconf.DefaultShareConnections
}
