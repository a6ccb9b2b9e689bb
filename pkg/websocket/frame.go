package websocket

import (
	"encoding/binary"
	"errors"
)

// Opcode is the low nibble of a frame's first byte.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether op is close, ping or pong.
func (op Opcode) IsControl() bool { return op&0x8 != 0 }

// Close status codes used by the engine.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseProtocolError = 1002
	CloseTooBig        = 1009
)

var (
	// ErrIncomplete means more bytes are needed before the frame can be read.
	ErrIncomplete = errors.New("websocket: incomplete frame")
	// ErrUnmasked is returned for client frames without the mask bit.
	ErrUnmasked = errors.New("websocket: frame is not masked")
	// ErrTooLarge is returned when a 64 bit length does not fit in memory.
	ErrTooLarge = errors.New("websocket: frame too large")
)

// Frame is one decoded RFC 6455 frame. Payload is always unmasked.
type Frame struct {
	Payload []byte
	Mask    [4]byte
	Opcode  Opcode
	Fin     bool
	Masked  bool
}

// EncodeFrame serializes f. When f.Masked is set the payload is XORed with
// f.Mask on the wire (client to server); otherwise it is sent as is.
func EncodeFrame(f Frame) []byte {
	n := len(f.Payload)

	header := 2
	switch {
	case n > 0xFFFF:
		header += 8
	case n > 125:
		header += 2
	}
	if f.Masked {
		header += 4
	}

	out := make([]byte, header+n)
	out[0] = byte(f.Opcode) & 0x0F
	if f.Fin {
		out[0] |= 0x80
	}

	var maskBit byte
	if f.Masked {
		maskBit = 0x80
	}

	i := 2
	switch {
	case n > 0xFFFF:
		out[1] = maskBit | 127
		binary.BigEndian.PutUint64(out[2:], uint64(n))
		i += 8
	case n > 125:
		out[1] = maskBit | 126
		binary.BigEndian.PutUint16(out[2:], uint16(n))
		i += 2
	default:
		out[1] = maskBit | byte(n)
	}

	if f.Masked {
		copy(out[i:], f.Mask[:])
		i += 4
		for j, b := range f.Payload {
			out[i+j] = b ^ f.Mask[j%4]
		}
		return out
	}
	copy(out[i:], f.Payload)
	return out
}

// frameSize reads the header of buf and returns the header length
// (including the mask key) and the payload length.
func frameSize(buf []byte) (header int, length uint64, err error) {
	if len(buf) < 2 {
		return 0, 0, ErrIncomplete
	}

	header = 2
	switch l := buf[1] & 0x7F; l {
	case 126:
		if len(buf) < 4 {
			return 0, 0, ErrIncomplete
		}
		length = uint64(binary.BigEndian.Uint16(buf[2:4]))
		header = 4
	case 127:
		if len(buf) < 10 {
			return 0, 0, ErrIncomplete
		}
		length = binary.BigEndian.Uint64(buf[2:10])
		header = 10
	default:
		length = uint64(l)
	}

	if buf[1]&0x80 != 0 {
		header += 4
	}
	if length > uint64(maxInt-header) {
		return 0, 0, ErrTooLarge
	}
	return header, length, nil
}

const maxInt = int(^uint(0) >> 1)

// DecodeFrame reads one frame from the start of buf and returns it with the
// number of bytes consumed. ErrIncomplete means buf holds a partial frame.
func DecodeFrame(buf []byte) (Frame, int, error) {
	header, length, err := frameSize(buf)
	if err != nil {
		return Frame{}, 0, err
	}
	total := header + int(length)
	if len(buf) < total {
		return Frame{}, 0, ErrIncomplete
	}

	f := Frame{
		Fin:    buf[0]&0x80 != 0,
		Opcode: Opcode(buf[0] & 0x0F),
		Masked: buf[1]&0x80 != 0,
	}

	payload := make([]byte, length)
	copy(payload, buf[header:total])
	if f.Masked {
		copy(f.Mask[:], buf[header-4:header])
		for i := range payload {
			payload[i] ^= f.Mask[i%4]
		}
	}
	f.Payload = payload
	return f, total, nil
}

// closePayload builds the body of a close frame.
func closePayload(code int, reason string) []byte {
	if code <= 0 {
		code = CloseNormal
	}
	// control frame payloads are capped at 125 bytes
	if len(reason) > 123 {
		reason = reason[:123]
	}
	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p, uint16(code))
	copy(p[2:], reason)
	return p
}

// ParseClose splits a close payload into code and reason.
func ParseClose(payload []byte) (int, string) {
	if len(payload) < 2 {
		return CloseNormal, ""
	}
	return int(binary.BigEndian.Uint16(payload)), string(payload[2:])
}
