package protocol

import (
	"bytes"
	"errors"
	"testing"

	"dubbo-exchange/message"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		IsRequest:     true,
		TwoWay:        true,
		Serialization: SerializationBinary,
		ID:            12345,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, h, body, 0); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	gotHeader, gotBody, err := Decode(&buf, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if gotHeader.IsRequest != h.IsRequest || gotHeader.TwoWay != h.TwoWay || gotHeader.ID != h.ID {
		t.Fatalf("header mismatch: %+v", gotHeader)
	}
	if gotHeader.Serialization != SerializationBinary {
		t.Fatalf("serialization mismatch: %d", gotHeader.Serialization)
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatalf("body mismatch: %s", gotBody)
	}
}

func TestEncodeRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, Header{IsRequest: true}, make([]byte, 100), 10)
	if !errors.Is(err, ErrExceedPayloadLimit) {
		t.Fatalf("expected ErrExceedPayloadLimit, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected fail-fast with nothing written, wrote %d bytes", buf.Len())
	}
}

func TestDecodeRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, Header{IsRequest: true}, make([]byte, 100), 0); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, _, err := Decode(&buf, 10)
	if !errors.Is(err, ErrExceedPayloadLimit) {
		t.Fatalf("expected ErrExceedPayloadLimit, got %v", err)
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	_, _, err := Decode(buf, 0)
	if !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestResponseStatusRoundTrip(t *testing.T) {
	h := Header{Status: message.ServerTimeout, ID: 7}
	var buf bytes.Buffer
	if err := Encode(&buf, h, nil, 0); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, body, err := Decode(&buf, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Status != message.ServerTimeout {
		t.Fatalf("status mismatch: %v", got.Status)
	}
	if body != nil {
		t.Fatalf("expected nil body for empty frame, got %v", body)
	}
}
