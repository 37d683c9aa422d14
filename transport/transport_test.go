package transport

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"dubbo-exchange/protocol"
	"dubbo-exchange/urlconf"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

type recordingHandler struct {
	mu        sync.Mutex
	connected int
	disconn   int
	received  []protocol.Header
}

func (h *recordingHandler) Connected(ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected++
}

func (h *recordingHandler) Disconnected(ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconn++
}

func (h *recordingHandler) Received(ch *Channel, header protocol.Header, body []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, header)
}

func (h *recordingHandler) count() (connected, disconn, received int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected, h.disconn, len(h.received)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestServerClientRoundTrip(t *testing.T) {
	serverHandler := &recordingHandler{}
	url := urlconf.New("127.0.0.1", 0, "Echo")
	srv, err := Bind(url, serverHandler, testLogger())
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer srv.Close(0)

	addr := srv.listener.Addr().String()
	clientURL, _ := urlconf.Parse("dubbo://" + addr + "/Echo")

	clientHandler := &recordingHandler{}
	cli, err := Dial(clientURL, clientHandler, testLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()

	waitFor(t, time.Second, func() bool {
		c, _, _ := serverHandler.count()
		return c == 1
	})

	err = cli.Send(func(ch *Channel) error {
		return ch.Send(protocol.Header{IsRequest: true, ID: 1}, []byte("ping"))
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, _, r := serverHandler.count()
		return r == 1
	})
}

func TestServerRejectsOverAcceptLimit(t *testing.T) {
	serverHandler := &recordingHandler{}
	url := urlconf.New("127.0.0.1", 0, "Echo")
	url.Accepts = 1
	srv, err := Bind(url, serverHandler, testLogger())
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer srv.Close(0)

	addr := srv.listener.Addr().String()
	clientURL, _ := urlconf.Parse("dubbo://" + addr + "/Echo")

	cli1, err := Dial(clientURL, &recordingHandler{}, testLogger())
	if err != nil {
		t.Fatalf("Dial 1: %v", err)
	}
	defer cli1.Close()

	waitFor(t, time.Second, func() bool {
		c, _, _ := serverHandler.count()
		return c == 1
	})

	cli2, err := Dial(clientURL, &recordingHandler{}, testLogger())
	if err != nil {
		t.Fatalf("Dial 2: %v", err)
	}
	defer cli2.Close()

	waitFor(t, time.Second, func() bool {
		return !cli2.IsAvailable() || cli2.Channel().IsClosed()
	})
}

func TestWorkerPoolBounds(t *testing.T) {
	pool := NewWorkerPool(2)
	var mu sync.Mutex
	running := 0
	maxRunning := 0

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
		})
	}
	wg.Wait()
	pool.Wait()

	if maxRunning > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", maxRunning)
	}
}
