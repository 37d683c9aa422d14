package pool

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/exchange"
	"dubbo-exchange/message"
	"dubbo-exchange/urlconf"
)

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

type nopHandler struct{}

func (nopHandler) Reply(ch *exchange.Channel, inv *message.Invocation) (*exchange.AsyncResult, error) {
	return exchange.NewAsyncResult(exchange.ResolvedFuture(&message.Response{Status: message.OK}), inv), nil
}
func (nopHandler) Connected(ch *exchange.Channel)    {}
func (nopHandler) Disconnected(ch *exchange.Channel) {}

func startEchoServer(t *testing.T) *exchange.Server {
	t.Helper()
	url := urlconf.New("127.0.0.1", 0, "Echo")
	srv, err := exchange.Bind(url, nopHandler{}, testLogger())
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	t.Cleanup(func() { srv.Close(0) })
	return srv
}

// serverAddr reports the real bound address through exchange.Server's
// exported ListenAddr, since the server's transport is not exported
// outside the exchange package.
func serverAddr(t *testing.T, srv *exchange.Server) string {
	t.Helper()
	return srv.ListenAddr()
}

func TestManagerSharesConnectionsUpToLimit(t *testing.T) {
	srv := startEchoServer(t)
	addr := serverAddr(t, srv)

	url, err := urlconf.Parse("dubbo://" + addr + "/Echo")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	url.ShareConnections = 2

	mgr := NewManager(testLogger())
	defer mgr.CloseAll(0)

	a, err := mgr.Get(url, nil)
	if err != nil {
		t.Fatalf("Get (a): %v", err)
	}
	b, err := mgr.Get(url, nil)
	if err != nil {
		t.Fatalf("Get (b): %v", err)
	}
	c, err := mgr.Get(url, nil)
	if err != nil {
		t.Fatalf("Get (c): %v", err)
	}

	if len(a) != 2 || len(b) != 2 || len(c) != 2 {
		t.Fatalf("expected share-connections=2 clients per Get, got %d/%d/%d", len(a), len(b), len(c))
	}
	for i := range a {
		if a[i] != b[i] || b[i] != c[i] {
			t.Fatalf("expected all three consumers to share the same underlying clients")
		}
	}

	if a[0].refcount != 3 {
		t.Fatalf("expected refcount 3 after three Get calls, got %d", a[0].refcount)
	}

	if err := c[0].Close(0); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a[0].refcount != 2 {
		t.Fatalf("expected refcount 2 after one release, got %d", a[0].refcount)
	}
	if a[0].closed {
		t.Fatalf("client should still be open while refcount > 0")
	}
}

func TestManagerDedicatedConnectionsAreNotShared(t *testing.T) {
	srv := startEchoServer(t)
	addr := serverAddr(t, srv)

	url, _ := urlconf.Parse("dubbo://" + addr + "/Echo")
	url.Connections = 2

	mgr := NewManager(testLogger())
	defer mgr.CloseAll(0)

	a, err := mgr.Get(url, nil)
	if err != nil {
		t.Fatalf("Get (a): %v", err)
	}
	b, err := mgr.Get(url, nil)
	if err != nil {
		t.Fatalf("Get (b): %v", err)
	}
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("expected 2 dedicated clients per Get, got %d/%d", len(a), len(b))
	}
	if a[0] == b[0] {
		t.Fatalf("dedicated connections must not be shared across Get calls")
	}
}

func TestClientRefcountNeverDropsBelowZero(t *testing.T) {
	srv := startEchoServer(t)
	addr := serverAddr(t, srv)
	url, _ := urlconf.Parse("dubbo://" + addr + "/Echo")

	mgr := NewManager(testLogger())
	got, err := mgr.Get(url, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c := got[0]
	c.Close(time.Second)
	c.Close(time.Second) // extra release beyond the single Get
	if c.refcount < 0 {
		t.Fatalf("refcount must never go negative, got %d", c.refcount)
	}
	if !c.closed {
		t.Fatalf("expected client closed after refcount reached zero")
	}
}
