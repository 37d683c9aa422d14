// Package rpcprotocol implements the dubbo-style protocol layer: server-
// side dispatch of an inbound invocation to an exported invoker by
// service-key, and the consumer-side exporter/invoker pair that turns a
// refer() call into outbound exchange requests (spec §4.8, §4.9).
//
// Invoker is adapted from the teacher's server/service.go reflect scan,
// but the method signature convention is generalized to idiomatic Go —
// func(ctx, *Args) (*Reply, error) — instead of the teacher's
// func(args, reply *Reply) error out-param style.
package rpcprotocol

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"dubbo-exchange/exchange"
	"dubbo-exchange/message"
)

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	ctxType   = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Invoker is the opaque callable every exporter and reference invoker
// implements, named in the GLOSSARY.
type Invoker interface {
	Invoke(ctx context.Context, inv *message.Invocation) *exchange.AsyncResult
}

// methodType is the reflection metadata for one registered RPC method,
// mirroring the teacher's methodType but recording the reply type from
// an output position instead of an input pointer.
type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// structInvoker is a local Invoker built by reflecting over a Go
// struct's exported methods, adapted from the teacher's service/Call.
type structInvoker struct {
	name    string
	rcvr    reflect.Value
	typ     reflect.Type
	methods map[string]*methodType
	log     *zap.SugaredLogger
}

// NewInvoker scans rcvr (a pointer to a struct) for methods matching
//
//	func (receiver) MethodName(ctx context.Context, args *ArgsType) (*ReplyType, error)
//
// and returns an Invoker that dispatches Invocation.Method to them.
// Methods that do not match the signature are silently skipped, exactly
// as the teacher's RegisterMethods does.
func NewInvoker(rcvr any, log *zap.SugaredLogger) (Invoker, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpcprotocol: receiver must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpcprotocol: receiver must point to a struct, got %s", typ.Elem().Kind())
	}

	inv := &structInvoker{
		name:    typ.Elem().Name(),
		rcvr:    reflect.ValueOf(rcvr),
		typ:     typ,
		methods: make(map[string]*methodType),
		log:     log,
	}
	inv.scanMethods()
	if len(inv.methods) == 0 {
		return nil, fmt.Errorf("rpcprotocol: %s exposes no RPC-compatible methods", inv.name)
	}
	return inv, nil
}

func (s *structInvoker) scanMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		m := s.typ.Method(i)
		mt := m.Type

		// receiver + ctx + *Args in, *Reply + error out.
		if mt.NumIn() != 3 || mt.NumOut() != 2 {
			continue
		}
		if !mt.In(1).Implements(ctxType) {
			continue
		}
		if mt.In(2).Kind() != reflect.Ptr {
			continue
		}
		if mt.Out(0).Kind() != reflect.Ptr {
			continue
		}
		if mt.Out(1) != errorType {
			continue
		}

		s.methods[m.Name] = &methodType{
			method:    m,
			ArgType:   mt.In(2).Elem(),
			ReplyType: mt.Out(0).Elem(),
		}
	}
}

// Invoke dispatches inv.Method through reflection and returns an
// already-resolved AsyncResult — there is no network hop on the
// exporter side of a local call, so the result is always done by the
// time Invoke returns.
func (s *structInvoker) Invoke(ctx context.Context, inv *message.Invocation) *exchange.AsyncResult {
	mt, ok := s.methods[inv.Method]
	if !ok {
		return resolvedError(inv, message.ServiceNotFound,
			fmt.Sprintf("rpcprotocol: %s has no method %q", s.name, inv.Method))
	}

	argv := reflect.New(mt.ArgType)
	if len(inv.Arguments) > 0 {
		if err := bindArgument(argv, inv.Arguments[0]); err != nil {
			return resolvedError(inv, message.BadRequest, err.Error())
		}
	}

	results := mt.method.Func.Call([]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv})
	if errVal := results[1]; !errVal.IsNil() {
		return resolvedError(inv, message.ServiceError, errVal.Interface().(error).Error())
	}

	resp := &message.Response{Status: message.OK, Result: results[0].Interface()}
	return exchange.NewAsyncResult(exchange.ResolvedFuture(resp), inv)
}

// bindArgument assigns arg into *dst, going through a JSON round-trip
// when arg's runtime type (e.g. a map[string]any decoded off the wire)
// is not already assignable — the same bridging an encoding/json-backed
// codec needs whether the call originated locally or over the network.
func bindArgument(dst reflect.Value, arg any) error {
	if arg == nil {
		return nil
	}
	av := reflect.ValueOf(arg)
	target := dst.Elem().Type()
	if av.Type().AssignableTo(target) {
		dst.Elem().Set(av)
		return nil
	}
	if av.Kind() == reflect.Ptr && !av.IsNil() && av.Type().Elem().AssignableTo(target) {
		dst.Elem().Set(av.Elem())
		return nil
	}
	raw, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("rpcprotocol: re-encode argument: %w", err)
	}
	if err := json.Unmarshal(raw, dst.Interface()); err != nil {
		return fmt.Errorf("rpcprotocol: bind argument: %w", err)
	}
	return nil
}

func resolvedError(inv *message.Invocation, status message.Status, msg string) *exchange.AsyncResult {
	resp := message.NewErrorResponse(0, status, msg)
	return exchange.NewAsyncResult(exchange.ResolvedFuture(resp), inv)
}
