package pool

import (
	"testing"
	"time"

	"dubbo-exchange/exchange"
	"dubbo-exchange/message"
	"dubbo-exchange/urlconf"
)

func TestLazyClientDefersDialUntilFirstUse(t *testing.T) {
	srv := startEchoServer(t)
	addr := serverAddr(t, srv)
	url, err := urlconf.Parse("dubbo://" + addr + "/Echo")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	lc := NewLazyClient(url, nil, testLogger())
	if !lc.IsAvailable() {
		t.Fatalf("expected available before first use")
	}

	lc.mu.Lock()
	dialed := lc.inner != nil
	lc.mu.Unlock()
	if dialed {
		t.Fatalf("expected no dial before first use")
	}

	result, err := lc.Request(&message.Invocation{Method: "Echo"}, time.Second, exchange.GoExecutor{})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := result.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}

	lc.mu.Lock()
	dialed = lc.inner != nil
	lc.mu.Unlock()
	if !dialed {
		t.Fatalf("expected dial after first use")
	}
}

func TestLazyClientConcurrentCallersShareSingleDial(t *testing.T) {
	srv := startEchoServer(t)
	addr := serverAddr(t, srv)
	url, _ := urlconf.Parse("dubbo://" + addr + "/Echo")

	lc := NewLazyClient(url, nil, testLogger())

	const n = 8
	results := make(chan *exchange.Client, n)
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			inner, err := lc.ensureConnected()
			if err != nil {
				t.Errorf("ensureConnected: %v", err)
			}
			results <- inner
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	close(results)

	var first *exchange.Client
	for c := range results {
		if first == nil {
			first = c
			continue
		}
		if c != first {
			t.Fatalf("expected every concurrent caller to observe the same dialed client")
		}
	}
}

func TestLazyClientUseAfterCloseErrors(t *testing.T) {
	srv := startEchoServer(t)
	addr := serverAddr(t, srv)
	url, _ := urlconf.Parse("dubbo://" + addr + "/Echo")

	lc := NewLazyClient(url, nil, testLogger())
	if err := lc.Close(0); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if lc.IsAvailable() {
		t.Fatalf("expected unavailable after Close")
	}
	if _, err := lc.Request(&message.Invocation{Method: "Echo"}, time.Second, exchange.GoExecutor{}); err == nil {
		t.Fatalf("expected error using a closed lazy client")
	}
}

func TestLazyClientCloseAfterConnectClosesInner(t *testing.T) {
	srv := startEchoServer(t)
	addr := serverAddr(t, srv)
	url, _ := urlconf.Parse("dubbo://" + addr + "/Echo")

	lc := NewLazyClient(url, nil, testLogger())
	if _, err := lc.ensureConnected(); err != nil {
		t.Fatalf("ensureConnected: %v", err)
	}
	if err := lc.Close(time.Second); err != nil {
		t.Fatalf("Close: %v", err)
	}
	lc.mu.Lock()
	inner := lc.inner
	lc.mu.Unlock()
	if inner != nil {
		t.Fatalf("expected inner cleared after Close")
	}
}
