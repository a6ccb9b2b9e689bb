package websocket_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/pkg/websocket"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	sizes := []int{0, 1, 125, 126, 127, 1000, 0xFFFF, 0x10000, 70000}
	for _, size := range sizes {
		for _, masked := range []bool{false, true} {
			payload := bytes.Repeat([]byte{'a', 'b', 'c'}, size/3+1)[:size]
			in := websocket.Frame{
				Fin:     true,
				Opcode:  websocket.OpBinary,
				Payload: payload,
				Masked:  masked,
				Mask:    [4]byte{1, 2, 3, 4},
			}

			wire := websocket.EncodeFrame(in)
			out, n, err := websocket.DecodeFrame(wire)
			require.NoError(t, err, "size %d masked %v", size, masked)
			assert.Equal(t, len(wire), n)
			assert.Equal(t, in.Opcode, out.Opcode)
			assert.Equal(t, in.Fin, out.Fin)
			assert.Equal(t, masked, out.Masked)
			assert.True(t, bytes.Equal(payload, out.Payload), "size %d masked %v", size, masked)
		}
	}
}

func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	t.Run("partial header", func(t *testing.T) {
		t.Parallel()
		_, _, err := websocket.DecodeFrame([]byte{0x81})
		require.ErrorIs(t, err, websocket.ErrIncomplete)
	})

	t.Run("partial payload", func(t *testing.T) {
		t.Parallel()
		wire := websocket.EncodeFrame(websocket.Frame{Fin: true, Opcode: websocket.OpText, Payload: []byte("hello"), Masked: true})
		_, _, err := websocket.DecodeFrame(wire[:len(wire)-1])
		require.ErrorIs(t, err, websocket.ErrIncomplete)
	})

	t.Run("batched frames", func(t *testing.T) {
		t.Parallel()
		a := websocket.EncodeFrame(websocket.Frame{Fin: true, Opcode: websocket.OpText, Payload: []byte("one"), Masked: true})
		b := websocket.EncodeFrame(websocket.Frame{Fin: true, Opcode: websocket.OpPing, Masked: true})
		buf := append(a, b...)

		f, n, err := websocket.DecodeFrame(buf)
		require.NoError(t, err)
		assert.Equal(t, "one", string(f.Payload))

		f, _, err = websocket.DecodeFrame(buf[n:])
		require.NoError(t, err)
		assert.Equal(t, websocket.OpPing, f.Opcode)
		assert.True(t, f.Opcode.IsControl())
	})
}

func TestParseClose(t *testing.T) {
	t.Parallel()

	code, reason := websocket.ParseClose(nil)
	assert.Equal(t, websocket.CloseNormal, code)
	assert.Empty(t, reason)

	code, reason = websocket.ParseClose([]byte{0x03, 0xF1, 'b', 'y', 'e'})
	assert.Equal(t, websocket.CloseTooBig, code)
	assert.Equal(t, "bye", reason)
}
