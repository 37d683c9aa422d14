// Package protocol implements the length-prefixed frame codec described in
// spec §4.1: a 16-byte dubbo-compatible header (2-byte magic, 1 flags
// byte, 1 status byte, 8-byte request id, 4-byte body length) followed by
// a serialized body. It is the compatibility target named in spec §6 for
// interoperating with existing dubbo peers.
//
// Adapted from the teacher's protocol/protocol.go (magic-prefixed,
// length-prefixed frame over io.Reader/io.Writer, solving the TCP sticky
// packet problem with io.ReadFull), retargeted from the teacher's 14-byte
// ad hoc layout to the dubbo-compatible 16-byte layout and generalized
// from a fixed request/response/heartbeat trichotomy to the full flag set
// (two-way, event, serialization id) spec §4.1 requires.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"dubbo-exchange/message"
)

// Magic bytes identifying a dubbo-exchange frame, rejecting stray
// connections the same way the teacher's 3-byte "mrp" magic does.
const (
	MagicHigh byte = 0xda
	MagicLow  byte = 0xbb

	HeaderSize = 16 // 2 magic + 1 flags + 1 status + 8 id + 4 bodyLen
)

// Flag bit layout within the single flags byte.
const (
	flagRequest = 1 << 7 // set: request frame; unset: response frame
	flagTwoWay  = 1 << 6
	flagEvent   = 1 << 5
	serialMask  = 0x1F // low 5 bits: serialization id, 0-31
)

// ErrExceedPayloadLimit is returned by Decode when the declared body
// length exceeds the channel's configured payload bound, and by Encode
// when the caller attempts to write an over-sized body — both fail fast
// per spec §4.1.
var ErrExceedPayloadLimit = errors.New("protocol: body exceeds payload limit")

// ErrInvalidMagic flags a non-protocol peer (e.g. an HTTP client hitting
// the RPC port), mirroring the teacher's magic-number check.
var ErrInvalidMagic = errors.New("protocol: invalid magic number")

// Header is the fixed 16-byte frame header.
type Header struct {
	IsRequest     bool
	TwoWay        bool
	Event         bool
	Serialization byte // low 5 bits of the flags byte
	Status        message.Status
	ID            uint64
	BodyLen       uint32
}

func (h Header) flagsByte() byte {
	var b byte
	if h.IsRequest {
		b |= flagRequest
	}
	if h.TwoWay {
		b |= flagTwoWay
	}
	if h.Event {
		b |= flagEvent
	}
	b |= h.Serialization & serialMask
	return b
}

// Encode writes the header and body as one frame to w. payloadLimit <= 0
// means unlimited, matching spec §6's "payload (default 8 MiB)... 0 or
// negative = unlimited" convention used throughout this core.
func Encode(w io.Writer, h Header, body []byte, payloadLimit int) error {
	if payloadLimit > 0 && len(body) > payloadLimit {
		return ErrExceedPayloadLimit
	}

	buf := make([]byte, HeaderSize)
	buf[0] = MagicHigh
	buf[1] = MagicLow
	buf[2] = h.flagsByte()
	buf[3] = byte(h.Status)
	binary.BigEndian.PutUint64(buf[4:12], h.ID)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(body)))

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write header: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("protocol: write body: %w", err)
	}
	return nil
}

// Decode reads one complete frame from r, enforcing payloadLimit on the
// body-length field before the body is read (spec §4.1: the bound is
// enforced "after the length field" is known, not after the whole body
// has been buffered).
func Decode(r io.Reader, payloadLimit int) (Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return Header{}, nil, err
	}

	if headerBuf[0] != MagicHigh || headerBuf[1] != MagicLow {
		return Header{}, nil, fmt.Errorf("%w: got %x%x", ErrInvalidMagic, headerBuf[0], headerBuf[1])
	}

	flags := headerBuf[2]
	h := Header{
		IsRequest:     flags&flagRequest != 0,
		TwoWay:        flags&flagTwoWay != 0,
		Event:         flags&flagEvent != 0,
		Serialization: flags & serialMask,
		Status:        message.Status(headerBuf[3]),
		ID:            binary.BigEndian.Uint64(headerBuf[4:12]),
		BodyLen:       binary.BigEndian.Uint32(headerBuf[12:16]),
	}

	if payloadLimit > 0 && int(h.BodyLen) > payloadLimit {
		return h, nil, ErrExceedPayloadLimit
	}

	if h.BodyLen == 0 {
		return h, nil, nil
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Header{}, nil, fmt.Errorf("protocol: read body: %w", err)
	}
	return h, body, nil
}

// Serialization ids assigned on the wire. The exchange layer writes them
// via SerializationID; on receipt, bodies are decoded with the channel's
// URL-configured serializer and the id in the header is not consulted.
const (
	SerializationJSON   byte = 0
	SerializationBinary byte = 1
)

// SerializationName maps a wire id to the codec package's registry name.
func SerializationName(id byte) string {
	if id == SerializationBinary {
		return "binary"
	}
	return "json"
}

// SerializationID maps a codec package registry name to its wire id,
// defaulting to JSON for anything unrecognized (including "hessian2",
// which has no implementation in this core — see DESIGN.md).
func SerializationID(name string) byte {
	if name == "binary" {
		return SerializationBinary
	}
	return SerializationJSON
}
