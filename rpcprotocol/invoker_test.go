package rpcprotocol

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"dubbo-exchange/message"
)

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

type addArgs struct{ A, B int }
type addReply struct{ Sum int }

type arith struct{}

func (arith) Add(ctx context.Context, args *addArgs) (*addReply, error) {
	return &addReply{Sum: args.A + args.B}, nil
}

func (arith) Fail(ctx context.Context, args *addArgs) (*addReply, error) {
	return nil, fmt.Errorf("boom")
}

// NotExported has the wrong signature and must be skipped by the scan.
func (arith) NotExported(args *addArgs) *addReply { return nil }

func TestInvokerDispatchesRegisteredMethod(t *testing.T) {
	inv, err := NewInvoker(&arith{}, testLogger())
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}

	result := inv.Invoke(context.Background(), &message.Invocation{
		Method:    "Add",
		Arguments: []any{&addArgs{A: 2, B: 3}},
	})
	resp, err := result.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	reply, ok := resp.Result.(*addReply)
	if !ok || reply.Sum != 5 {
		t.Fatalf("expected sum 5, got %#v", resp.Result)
	}
}

func TestInvokerUnknownMethodIsServiceNotFound(t *testing.T) {
	inv, _ := NewInvoker(&arith{}, testLogger())
	result := inv.Invoke(context.Background(), &message.Invocation{Method: "Missing"})
	resp, err := result.Get()
	if err == nil {
		t.Fatalf("expected error for unknown method")
	}
	if resp.Status != message.ServiceNotFound {
		t.Fatalf("expected SERVICE_NOT_FOUND, got %v", resp.Status)
	}
}

func TestInvokerMethodErrorIsServiceError(t *testing.T) {
	inv, _ := NewInvoker(&arith{}, testLogger())
	result := inv.Invoke(context.Background(), &message.Invocation{
		Method:    "Fail",
		Arguments: []any{&addArgs{}},
	})
	resp, err := result.Get()
	if err == nil {
		t.Fatalf("expected error from failing method")
	}
	if resp.Status != message.ServiceError {
		t.Fatalf("expected SERVICE_ERROR, got %v", resp.Status)
	}
}

func TestInvokerBindsJSONDecodedArguments(t *testing.T) {
	inv, _ := NewInvoker(&arith{}, testLogger())
	// Simulate an argument that arrived over the wire as a generic map,
	// the shape a JSON-backed serializer hands back without static types.
	result := inv.Invoke(context.Background(), &message.Invocation{
		Method:    "Add",
		Arguments: []any{map[string]any{"A": float64(4), "B": float64(5)}},
	})
	resp, err := result.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	reply, ok := resp.Result.(*addReply)
	if !ok || reply.Sum != 9 {
		t.Fatalf("expected sum 9, got %#v", resp.Result)
	}
}

func TestNewInvokerRejectsNonPointer(t *testing.T) {
	if _, err := NewInvoker(arith{}, testLogger()); err == nil {
		t.Fatalf("expected error for non-pointer receiver")
	}
}
