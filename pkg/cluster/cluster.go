// Package cluster carries process control messages between the processes
// that serve one application: reconfigure, reset, stop and friends. Each
// process keeps its own state; the bus only delivers signals.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Kind names a control message.
type Kind string

const (
	Reconnect   Kind = "reconnect"
	Reconfigure Kind = "reconfigure"
	Reset       Kind = "reset"
	Stop        Kind = "stop"
	Exit        Kind = "exit"
	Debugging   Kind = "debugging"
)

var (
	ErrClosed      = errors.New("cluster: bus closed")
	ErrUnknownKind = errors.New("cluster: unknown message kind")
	ErrDecode      = errors.New("cluster: failed to decode message")
)

// Valid reports whether k is one of the recognized kinds.
func (k Kind) Valid() bool {
	switch k {
	case Reconnect, Reconfigure, Reset, Stop, Exit, Debugging:
		return true
	}
	return false
}

// Message is one control signal.
type Message struct {
	Kind   Kind            `json:"kind"`
	Origin string          `json:"origin,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Sent   time.Time       `json:"sent"`
}

// Encode serializes m for the wire.
func (m Message) Encode() ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, ErrUnknownKind
	}
	if m.Sent.IsZero() {
		m.Sent = time.Now()
	}
	return json.Marshal(m)
}

// Decode parses and validates a wire message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return m, errors.Join(ErrDecode, err)
	}
	if !m.Kind.Valid() {
		return m, ErrUnknownKind
	}
	return m, nil
}

// Handler receives delivered messages.
type Handler func(ctx context.Context, m Message)

// Bus publishes control messages to every subscribed process.
type Bus interface {
	Publish(ctx context.Context, m Message) error
	// Subscribe registers h and returns a func that removes it.
	Subscribe(h Handler) (func(), error)
	Close() error
}

// Local is an in-process Bus. Handlers run synchronously in Publish.
type Local struct {
	handlers map[int]Handler
	next     int
	closed   bool
	mu       sync.RWMutex
}

// NewLocal creates an in-process bus.
func NewLocal() *Local {
	return &Local{handlers: make(map[int]Handler)}
}

func (l *Local) Publish(ctx context.Context, m Message) error {
	if !m.Kind.Valid() {
		return ErrUnknownKind
	}
	if m.Sent.IsZero() {
		m.Sent = time.Now()
	}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	hs := make([]Handler, 0, len(l.handlers))
	for _, h := range l.handlers {
		hs = append(hs, h)
	}
	l.mu.RUnlock()

	for _, h := range hs {
		h(ctx, m)
	}
	return nil
}

func (l *Local) Subscribe(h Handler) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	id := l.next
	l.next++
	l.handlers[id] = h
	return func() {
		l.mu.Lock()
		delete(l.handlers, id)
		l.mu.Unlock()
	}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.handlers = map[int]Handler{}
	l.mu.Unlock()
	return nil
}

var _ Bus = (*Local)(nil)
