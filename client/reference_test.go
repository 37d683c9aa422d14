package client

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"dubbo-exchange/rpcprotocol"
	"dubbo-exchange/urlconf"
)

type pingArgs struct{ N int }
type pingReply struct{ N int }

type pingService struct{}

func (pingService) Ping(ctx context.Context, args *pingArgs) (*pingReply, error) {
	return &pingReply{N: args.N + 1}, nil
}

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func newReferenceFixture(t *testing.T) (*rpcprotocol.Protocol, string) {
	t.Helper()
	log := testLogger()
	proto := rpcprotocol.NewProtocol(log)
	t.Cleanup(func() { proto.Destroy(0) })

	svcURL := urlconf.New("127.0.0.1", 0, "Ping")
	invoker, err := rpcprotocol.NewInvoker(&pingService{}, log)
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}
	if _, err := proto.Export(invoker, svcURL); err != nil {
		t.Fatalf("Export: %v", err)
	}
	addr, ok := proto.ListenAddr(svcURL)
	if !ok {
		t.Fatalf("server not bound")
	}
	return proto, addr
}

func TestReferenceCallRoundTrips(t *testing.T) {
	proto, addr := newReferenceFixture(t)
	log := testLogger()

	clientURL, err := urlconf.Parse("dubbo://" + addr + "/Ping")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ref, err := Refer(proto, clientURL, nil, log)
	if err != nil {
		t.Fatalf("Refer: %v", err)
	}

	var reply pingReply
	if err := ref.Call(context.Background(), "Ping", &pingArgs{N: 41}, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.N != 42 {
		t.Fatalf("expected 42, got %d", reply.N)
	}
}

func TestReferenceGoReturnsAsyncResult(t *testing.T) {
	proto, addr := newReferenceFixture(t)
	log := testLogger()

	clientURL, _ := urlconf.Parse("dubbo://" + addr + "/Ping")
	ref, err := Refer(proto, clientURL, nil, log)
	if err != nil {
		t.Fatalf("Refer: %v", err)
	}

	result := ref.Go(context.Background(), "Ping", &pingArgs{N: 1})
	resp, err := result.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	var reply pingReply
	if err := bindReply(&reply, resp.Result); err != nil {
		t.Fatalf("bindReply: %v", err)
	}
	if reply.N != 2 {
		t.Fatalf("expected 2, got %d", reply.N)
	}
}

func TestReferenceCallUnknownMethodErrors(t *testing.T) {
	proto, addr := newReferenceFixture(t)
	log := testLogger()

	clientURL, _ := urlconf.Parse("dubbo://" + addr + "/Ping")
	ref, err := Refer(proto, clientURL, nil, log)
	if err != nil {
		t.Fatalf("Refer: %v", err)
	}

	var reply pingReply
	if err := ref.Call(context.Background(), "NoSuchMethod", &pingArgs{N: 1}, &reply); err == nil {
		t.Fatalf("expected error calling an unregistered method")
	}
}
