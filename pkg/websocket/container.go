package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ndtt/trellis/pkg/id"
)

// ErrDestroyed is returned by Accept on a destroyed container.
var ErrDestroyed = errors.New("websocket: container destroyed")

// DefaultAutoDestroy is the idle grace period before an empty container with
// auto-destroy enabled is destroyed.
const DefaultAutoDestroy = 5 * time.Second

// Observer receives connection and message counts.
// *metrics.Stats satisfies it.
type Observer interface {
	Online(endpoint string, n int)
	MessageIn()
	MessageOut()
}

type nopObserver struct{}

func (nopObserver) Online(string, int) {}
func (nopObserver) MessageIn()         {}
func (nopObserver) MessageOut()        {}

// Filter selects clients for Send and Close. A nil Filter matches nothing
// when used as exclude and everything when used as include.
type Filter func(c *Client) bool

// IDs matches clients by id.
func IDs(ids ...string) Filter {
	return func(c *Client) bool { return slices.Contains(ids, c.ID()) }
}

// Match matches clients for which fn returns true.
func Match(fn func(id string, c *Client) bool) Filter {
	return func(c *Client) bool { return fn(c.ID(), c) }
}

func (f Filter) selects(c *Client, fallback bool) bool {
	if f == nil {
		return fallback
	}
	return f(c)
}

// Option configures a Container.
type Option func(*containerOptions)

type containerOptions struct {
	logger       *slog.Logger
	observer     Observer
	policy       Policy
	maxLength    int
	typ          Type
	encodeDecode bool
	debug        bool
}

// WithMaxLength caps the receive buffer of each client. Default: 2 MiB.
func WithMaxLength(n int) Option {
	return func(o *containerOptions) {
		if n > 0 {
			o.maxLength = n
		}
	}
}

// WithType sets how client messages are decoded. Default: TypeText.
func WithType(t Type) Option {
	return func(o *containerOptions) {
		if t >= TypeBinary && t <= TypeJSON {
			o.typ = t
		}
	}
}

// WithEncodeDecode percent-decodes incoming text and encodes outgoing text.
func WithEncodeDecode(on bool) Option {
	return func(o *containerOptions) { o.encodeDecode = on }
}

// WithDebug reports JSON parse failures as error events.
func WithDebug(on bool) Option {
	return func(o *containerOptions) { o.debug = on }
}

// WithPolicy restricts accepted handshakes.
func WithPolicy(p Policy) Option {
	return func(o *containerOptions) { o.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *containerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *containerOptions) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// Container owns the clients connected to one WebSocket endpoint.
type Container struct {
	opts     containerOptions
	clients  map[string]*Client
	id       string
	path     string
	onOpen   []func(*Client)
	onClose  []func(*Client)
	onMsg    []func(*Client, any)
	onError  []func(*Client, error)
	onGone   []func()
	idle     *time.Timer
	grace    time.Duration
	mu       sync.RWMutex
	hmu      sync.RWMutex
	destroyd bool
}

// NewContainer creates a container for the endpoint path.
func NewContainer(path string, opts ...Option) *Container {
	o := containerOptions{
		logger:    slog.Default(),
		observer:  nopObserver{},
		maxLength: 2 << 20,
		typ:       TypeText,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Container{
		opts:    o,
		clients: make(map[string]*Client),
		id:      uuid.NewString(),
		path:    path,
	}
}

func (c *Container) ID() string   { return c.id }
func (c *Container) Path() string { return c.path }

// Online returns the number of connected clients.
func (c *Container) Online() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

func (c *Container) OnOpen(fn func(*Client)) {
	c.hmu.Lock()
	c.onOpen = append(c.onOpen, fn)
	c.hmu.Unlock()
}

func (c *Container) OnClose(fn func(*Client)) {
	c.hmu.Lock()
	c.onClose = append(c.onClose, fn)
	c.hmu.Unlock()
}

// OnMessage receives []byte for binary, string for text and the decoded
// value for JSON containers.
func (c *Container) OnMessage(fn func(*Client, any)) {
	c.hmu.Lock()
	c.onMsg = append(c.onMsg, fn)
	c.hmu.Unlock()
}

func (c *Container) OnError(fn func(*Client, error)) {
	c.hmu.Lock()
	c.onError = append(c.onError, fn)
	c.hmu.Unlock()
}

func (c *Container) OnDestroy(fn func()) {
	c.hmu.Lock()
	c.onGone = append(c.onGone, fn)
	c.hmu.Unlock()
}

// AutoDestroy destroys the container once it has been empty for the grace
// period (DefaultAutoDestroy when zero). fn, if set, runs on destroy.
func (c *Container) AutoDestroy(grace time.Duration, fn func()) {
	if grace <= 0 {
		grace = DefaultAutoDestroy
	}
	if fn != nil {
		c.OnDestroy(fn)
	}
	c.mu.Lock()
	c.grace = grace
	empty := len(c.clients) == 0
	c.mu.Unlock()
	if empty {
		c.armIdle()
	}
}

// Accept completes the handshake for r, hijacks the connection and starts
// reading. On a policy failure the 403 reject response is written and the
// connection closed.
func (c *Container) Accept(w http.ResponseWriter, r *http.Request, user any) (*Client, error) {
	if c.isDestroyed() {
		return nil, ErrDestroyed
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, fmt.Errorf("%w: response does not support hijacking", ErrUpgrade)
	}
	checkErr := c.opts.policy.Check(r)
	if !IsUpgrade(r) {
		checkErr = ErrUpgrade
	}

	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, fmt.Errorf("websocket: hijack: %w", err)
	}

	if checkErr != nil {
		_, _ = conn.Write([]byte(RejectResponse))
		_ = conn.Close()
		return nil, checkErr
	}

	if _, err := conn.Write(SwitchingProtocols(r.Header.Get("Sec-WebSocket-Key"), c.opts.policy.Protocol(r))); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("websocket: write handshake: %w", err)
	}

	ip := remoteIP(r)
	cl := newClient(c, conn, rw, r, id.Connection(ip), ip)
	cl.User = user
	c.add(cl)
	go cl.serve()
	return cl, nil
}

// Find returns the client with the given id.
func (c *Container) Find(id string) (*Client, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.clients[id]
	return cl, ok
}

// FindFunc returns the first client for which fn returns true.
func (c *Container) FindFunc(fn func(*Client) bool) (*Client, bool) {
	for _, cl := range c.All() {
		if fn(cl) {
			return cl, true
		}
	}
	return nil, false
}

// All returns the connected clients.
func (c *Container) All() []*Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Collect(maps.Values(c.clients))
}

// Send delivers message to every client selected by include and not by
// exclude. The payload is encoded once. It returns how many clients got it.
func (c *Container) Send(message any, include, exclude Filter) (int, error) {
	data, op, err := c.encode(message, c.opts.typ)
	if err != nil {
		return 0, err
	}

	frame := EncodeFrame(Frame{Fin: true, Opcode: op, Payload: data})
	n := 0
	for _, cl := range c.All() {
		if !include.selects(cl, true) || exclude.selects(cl, false) {
			continue
		}
		if err := cl.writeRaw(frame); err != nil {
			continue
		}
		c.sent()
		n++
	}
	return n, nil
}

// Ping pings every client; Check closes the ones that did not answer.
func (c *Container) Ping() {
	for _, cl := range c.All() {
		_ = cl.Ping()
	}
}

// Check closes clients that did not answer the last ping.
func (c *Container) Check() int {
	n := 0
	for _, cl := range c.All() {
		if !cl.Alive() {
			_ = cl.Close("", CloseGoingAway)
			cl.finish()
			n++
		}
	}
	return n
}

// Cycle runs Check then Ping; call it on the ping interval.
func (c *Container) Cycle() {
	c.Check()
	c.Ping()
}

// Close closes the selected clients (all for a nil filter).
func (c *Container) Close(filter Filter, message string, code int) int {
	n := 0
	for _, cl := range c.All() {
		if !filter.selects(cl, true) {
			continue
		}
		_ = cl.Close(message, code)
		cl.finish()
		n++
	}
	return n
}

// Destroy closes all clients and fires the destroy event once.
func (c *Container) Destroy() {
	c.mu.Lock()
	if c.destroyd {
		c.mu.Unlock()
		return
	}
	c.destroyd = true
	if c.idle != nil {
		c.idle.Stop()
	}
	c.mu.Unlock()

	c.Close(nil, "", CloseGoingAway)

	c.hmu.RLock()
	fns := slices.Clone(c.onGone)
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn()
	}
	c.opts.logger.Debug("websocket container destroyed", slog.String("path", c.path))
}

// Destroyed reports whether Destroy has run.
func (c *Container) Destroyed() bool { return c.isDestroyed() }

func (c *Container) isDestroyed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.destroyd
}

func (c *Container) add(cl *Client) {
	c.mu.Lock()
	c.clients[cl.ID()] = cl
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
	n := len(c.clients)
	c.mu.Unlock()

	c.opts.observer.Online(c.path, n)
	c.hmu.RLock()
	fns := slices.Clone(c.onOpen)
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn(cl)
	}
}

func (c *Container) remove(cl *Client) {
	c.mu.Lock()
	if cur, ok := c.clients[cl.ID()]; !ok || cur != cl {
		c.mu.Unlock()
		return
	}
	delete(c.clients, cl.ID())
	n := len(c.clients)
	c.mu.Unlock()

	c.opts.observer.Online(c.path, n)
	c.hmu.RLock()
	fns := slices.Clone(c.onClose)
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn(cl)
	}
	if n == 0 {
		c.armIdle()
	}
}

func (c *Container) armIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.grace == 0 || c.destroyd || len(c.clients) > 0 {
		return
	}
	if c.idle != nil {
		c.idle.Stop()
	}
	c.idle = time.AfterFunc(c.grace, func() {
		if c.Online() == 0 {
			c.Destroy()
		}
	})
}

func (c *Container) emitMessage(cl *Client, msg any) {
	c.opts.observer.MessageIn()
	c.hmu.RLock()
	fns := slices.Clone(c.onMsg)
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn(cl, msg)
	}
}

func (c *Container) emitError(cl *Client, err error) {
	c.opts.logger.Debug("websocket client error",
		slog.String("path", c.path),
		slog.String("client", cl.ID()),
		slog.String("error", err.Error()))
	c.hmu.RLock()
	fns := slices.Clone(c.onError)
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn(cl, err)
	}
}

func (c *Container) sent() { c.opts.observer.MessageOut() }

// encode serializes message for clients of type t.
func (c *Container) encode(message any, t Type) ([]byte, Opcode, error) {
	if t == TypeBinary {
		switch v := message.(type) {
		case []byte:
			return v, OpBinary, nil
		case string:
			return []byte(v), OpBinary, nil
		default:
			return nil, 0, fmt.Errorf("websocket: binary client cannot send %T", message)
		}
	}

	var text string
	switch v := message.(type) {
	case string:
		text = v
		if t == TypeJSON {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, 0, err
			}
			text = string(b)
		}
	case []byte:
		text = string(v)
	case json.RawMessage:
		text = string(v)
	default:
		if t != TypeJSON {
			text = fmt.Sprint(v)
			break
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, 0, fmt.Errorf("websocket: encode message: %w", err)
		}
		text = string(b)
	}

	if c.opts.encodeDecode {
		text = encodeURIComponent(text)
	}
	return []byte(text), OpText, nil
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeHTTP accepts every upgrade into c without a user.
func (c *Container) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, err := c.Accept(w, r, nil); err != nil {
		c.opts.logger.Debug("websocket handshake rejected",
			slog.String("path", c.path),
			slog.String("error", err.Error()))
	}
}

var _ http.Handler = (*Container)(nil)
