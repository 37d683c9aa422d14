package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"dubbo-exchange/message"
)

// binarySerializer is a compact binary format adapted from the teacher's
// BinaryCodec (codec/binary_codec.go): envelope fields (method name,
// status, error message) are packed with explicit length prefixes the
// same way the teacher packs ServiceMethod/Payload/Error. The
// arbitrary-typed argument/result/attachment values are still
// JSON-encoded inside those length-prefixed slots — exactly the
// teacher's own tradeoff (its doc comment: "the payload itself is still
// JSON-encoded... the performance gain comes from encoding the outer
// fields in binary instead of JSON").
type binarySerializer struct{}

func (s *binarySerializer) Name() Name { return Binary }

func (s *binarySerializer) Marshal(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *message.Invocation:
		return marshalInvocation(msg)
	case *message.Response:
		return marshalResponse(msg)
	default:
		return nil, fmt.Errorf("codec: binary serializer does not support %T", v)
	}
}

func (s *binarySerializer) Unmarshal(data []byte, v any) error {
	switch msg := v.(type) {
	case *message.Invocation:
		return unmarshalInvocation(data, msg)
	case *message.Response:
		return unmarshalResponse(data, msg)
	default:
		return fmt.Errorf("codec: binary serializer does not support %T", v)
	}
}

func marshalInvocation(inv *message.Invocation) ([]byte, error) {
	argsJSON, err := json.Marshal(inv.Arguments)
	if err != nil {
		return nil, fmt.Errorf("codec: encode arguments: %w", err)
	}
	attachJSON, err := json.Marshal(inv.Attachments)
	if err != nil {
		return nil, fmt.Errorf("codec: encode attachments: %w", err)
	}

	method := []byte(inv.Method)
	total := 2 + len(method) + 4 + len(argsJSON) + 4 + len(attachJSON)
	buf := make([]byte, total)
	offset := 0

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(method)))
	offset += 2
	offset += copy(buf[offset:], method)

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(argsJSON)))
	offset += 4
	offset += copy(buf[offset:], argsJSON)

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(attachJSON)))
	offset += 4
	offset += copy(buf[offset:], attachJSON)

	return buf, nil
}

func unmarshalInvocation(data []byte, inv *message.Invocation) error {
	if len(data) < 2 {
		return fmt.Errorf("codec: truncated invocation header")
	}
	offset := 0
	methodLen := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2
	inv.Method = string(data[offset : offset+methodLen])
	offset += methodLen

	argsLen := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if argsLen > 0 {
		if err := json.Unmarshal(data[offset:offset+argsLen], &inv.Arguments); err != nil {
			return fmt.Errorf("codec: decode arguments: %w", err)
		}
	}
	offset += argsLen

	attachLen := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if attachLen > 0 {
		if err := json.Unmarshal(data[offset:offset+attachLen], &inv.Attachments); err != nil {
			return fmt.Errorf("codec: decode attachments: %w", err)
		}
	}
	return nil
}

func marshalResponse(resp *message.Response) ([]byte, error) {
	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("codec: encode result: %w", err)
	}
	errMsg := []byte(resp.ErrorMessage)

	total := 1 + 2 + len(errMsg) + 4 + len(resultJSON)
	buf := make([]byte, total)
	offset := 0

	buf[offset] = byte(resp.Status)
	offset++

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(errMsg)))
	offset += 2
	offset += copy(buf[offset:], errMsg)

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(resultJSON)))
	offset += 4
	offset += copy(buf[offset:], resultJSON)

	return buf, nil
}

func unmarshalResponse(data []byte, resp *message.Response) error {
	offset := 0
	resp.Status = message.Status(data[offset])
	offset++

	errLen := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2
	resp.ErrorMessage = string(data[offset : offset+errLen])
	offset += errLen

	resultLen := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if resultLen > 0 {
		var result any
		if err := json.Unmarshal(data[offset:offset+resultLen], &result); err != nil {
			return fmt.Errorf("codec: decode result: %w", err)
		}
		resp.Result = result
	}
	return nil
}
