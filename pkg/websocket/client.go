package websocket

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Type selects how a client's messages are decoded and encoded.
type Type int

const (
	TypeBinary Type = 1
	TypeText   Type = 2
	TypeJSON   Type = 3
)

// ErrMaxLength is reported when a client's receive buffer exceeds the limit.
var ErrMaxLength = errors.New("Maximum request length exceeded.")

const writeTimeout = 10 * time.Second

// Client is one accepted WebSocket connection. It is created by
// Container.Accept and owned by its container until it closes.
type Client struct {
	request   *http.Request
	conn      net.Conn
	reader    io.Reader
	container *Container

	// User is set by the authorization step, if any.
	User any

	id   string
	ip   string
	typ  Type
	buf  []byte
	frag []byte
	// opcode of the fragmented message being assembled
	fragOp Opcode

	alive    atomic.Bool
	closed   atomic.Bool
	errors   atomic.Int32
	release  sync.Once
	wmu      sync.Mutex
	maxBytes int
}

func (c *Client) ID() string             { return c.id }
func (c *Client) IP() string             { return c.ip }
func (c *Client) Type() Type             { return c.typ }
func (c *Client) Request() *http.Request { return c.request }
func (c *Client) Query() url.Values      { return c.request.URL.Query() }
func (c *Client) Container() *Container  { return c.container }
func (c *Client) Errors() int            { return int(c.errors.Load()) }
func (c *Client) Closed() bool           { return c.closed.Load() }

// Alive reports whether the client answered the last ping.
func (c *Client) Alive() bool { return c.alive.Load() }

// Protocols returns the sub-protocols the client requested.
func (c *Client) Protocols() []string { return RequestedProtocols(c.request) }

// Cookie returns the value of a request cookie, or "".
func (c *Client) Cookie(name string) string {
	ck, err := c.request.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

// Send writes message using the client's type: JSON clients get it
// marshaled, text clients its string form, binary clients raw bytes.
func (c *Client) Send(message any) error {
	data, op, err := c.container.encode(message, c.typ)
	if err != nil {
		return err
	}
	return c.writeMessage(op, data)
}

// SendRaw writes pre-serialized data as a text frame, or a binary frame for
// binary clients.
func (c *Client) SendRaw(data []byte) error {
	op := OpText
	if c.typ == TypeBinary {
		op = OpBinary
	} else if c.container.opts.encodeDecode {
		data = []byte(encodeURIComponent(string(data)))
	}
	return c.writeMessage(op, data)
}

func (c *Client) writeMessage(op Opcode, data []byte) error {
	if err := c.write(Frame{Fin: true, Opcode: op, Payload: data}); err != nil {
		return err
	}
	c.container.sent()
	return nil
}

// Ping sends a ping and marks the client as not alive until it answers.
func (c *Client) Ping() error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	c.alive.Store(false)
	return c.write(Frame{Fin: true, Opcode: OpPing})
}

// Close sends a close frame and ends the connection. A zero code means 1000.
func (c *Client) Close(message string, code int) error {
	if c.closed.Swap(true) {
		return nil
	}
	if message != "" {
		message = encodeURIComponent(message)
	}
	c.wmu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(EncodeFrame(Frame{Fin: true, Opcode: OpClose, Payload: closePayload(code, message)}))
	c.wmu.Unlock()
	_ = c.conn.Close()
	return err
}

func (c *Client) write(f Frame) error {
	return c.writeRaw(EncodeFrame(f))
}

func (c *Client) writeRaw(frame []byte) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(frame)
	return err
}

// serve reads until the connection fails, then releases the client.
func (c *Client) serve() {
	defer c.finish()

	chunk := make([]byte, 4096)
	for {
		n, err := c.reader.Read(chunk)
		if n > 0 {
			c.ondata(chunk[:n])
		}
		if err != nil || c.closed.Load() {
			return
		}
	}
}

func (c *Client) finish() {
	c.release.Do(func() {
		c.closed.Store(true)
		_ = c.conn.Close()
		c.container.remove(c)
	})
}

// ondata appends a chunk and processes every complete frame it finishes.
func (c *Client) ondata(data []byte) {
	c.buf = append(c.buf, data...)
	if len(c.buf) > c.maxBytes {
		c.errors.Add(1)
		c.buf = nil
		c.container.emitError(c, ErrMaxLength)
		_ = c.Close("", CloseTooBig)
		return
	}

	for len(c.buf) >= 2 && !c.closed.Load() {
		f, n, err := DecodeFrame(c.buf)
		if errors.Is(err, ErrIncomplete) {
			return
		}
		if err == nil && !f.Masked {
			err = ErrUnmasked
		}
		if err != nil {
			c.errors.Add(1)
			c.container.emitError(c, err)
			_ = c.Close("", CloseProtocolError)
			return
		}
		c.buf = c.buf[n:]
		if len(c.buf) == 0 {
			c.buf = nil
		}
		c.handle(f)
	}
}

func (c *Client) handle(f Frame) {
	switch f.Opcode {
	case OpText, OpBinary:
		if !f.Fin {
			c.fragOp = f.Opcode
			c.frag = append(c.frag[:0], f.Payload...)
			return
		}
		c.deliver(f.Opcode, f.Payload)
	case OpContinuation:
		if c.fragOp == OpContinuation {
			return
		}
		c.frag = append(c.frag, f.Payload...)
		if len(c.frag) > c.maxBytes {
			c.errors.Add(1)
			c.frag, c.fragOp = nil, OpContinuation
			c.container.emitError(c, ErrMaxLength)
			_ = c.Close("", CloseTooBig)
			return
		}
		if f.Fin {
			op, payload := c.fragOp, c.frag
			c.frag, c.fragOp = nil, OpContinuation
			c.deliver(op, payload)
		}
	case OpClose:
		_ = c.Close("", CloseNormal)
	case OpPing:
		c.alive.Store(true)
		_ = c.write(Frame{Fin: true, Opcode: OpPong, Payload: f.Payload})
	case OpPong:
		c.alive.Store(true)
	}
}

// deliver decodes a complete message for the client's type. Frames of the
// other family (text to a binary client and vice versa) are dropped.
func (c *Client) deliver(op Opcode, payload []byte) {
	c.alive.Store(true)

	if c.typ == TypeBinary {
		if op == OpBinary {
			c.container.emitMessage(c, payload)
		}
		return
	}
	if op != OpText {
		return
	}

	text := string(payload)
	if c.container.opts.encodeDecode {
		if decoded, err := url.PathUnescape(text); err == nil {
			text = decoded
		}
	}

	if c.typ != TypeJSON {
		c.container.emitMessage(c, text)
		return
	}
	if !looksLikeJSON(text) {
		return
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		if c.container.opts.debug {
			c.errors.Add(1)
			c.container.emitError(c, errors.Join(errors.New("JSON parser"), err))
		}
		return
	}
	c.container.emitMessage(c, v)
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']') || (first == '"' && last == '"')
}

func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// newClient wires a hijacked connection. rw may carry bytes the HTTP server
// already buffered.
func newClient(c *Container, conn net.Conn, rw *bufio.ReadWriter, r *http.Request, id, ip string) *Client {
	var reader io.Reader = conn
	if rw != nil && rw.Reader.Buffered() > 0 {
		reader = io.MultiReader(io.LimitReader(rw.Reader, int64(rw.Reader.Buffered())), conn)
	}
	cl := &Client{
		request:   r,
		conn:      conn,
		reader:    reader,
		container: c,
		id:        id,
		ip:        ip,
		typ:       c.opts.typ,
		maxBytes:  c.opts.maxLength,
	}
	cl.alive.Store(true)
	return cl
}
