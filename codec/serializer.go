// Package codec provides the pluggable serializer consumed by the
// protocol frame codec (spec §4.1: "the core accepts a pluggable
// codec"). It mirrors the teacher's Strategy-pattern Codec interface
// (codec/codec.go) with two implementations: a JSON serializer (the
// DefaultSerialization name is "hessian2" per spec §6, but no hessian2
// implementation exists anywhere in the corpus, so JSON stands in as the
// default wire-compatible-in-spirit serializer — see DESIGN.md) and a
// compact binary serializer adapted from the teacher's BinaryCodec.
package codec

import (
	"dubbo-exchange/extension"
)

// Name identifies a registered serializer, stored as the serialization-id
// bits in the protocol frame header.
type Name string

const (
	JSON   Name = "json"
	Binary Name = "binary"
)

// Serializer marshals/unmarshals the Invocation or Response payload
// carried inside a Request/Response body. Implementing this interface
// lets a new wire format (e.g. a real hessian2, or protobuf) be added
// without touching the transport or exchange layers.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() Name
}

// Serializers is the process-wide extension registry for serializer
// selection by name, per the Design Notes' "capability set {serialize,
// deserialize} for serializer — select by name string."
var Serializers = extension.NewRegistry[Serializer]("serializer")

func init() {
	Serializers.Register(string(JSON), func() Serializer { return &jsonSerializer{} })
	Serializers.Register(string(Binary), func() Serializer { return &binarySerializer{} })
	Serializers.Register("hessian2", func() Serializer { return &jsonSerializer{} })
}
