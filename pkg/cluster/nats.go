package cluster

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSOption configures NewNATS.
type NATSOption func(*natsConfig)

type natsConfig struct {
	subject string
	name    string
	logger  *slog.Logger
	opts    []nats.Option
}

// WithSubject sets the subject messages travel on. Default "trellis.process".
func WithSubject(subject string) NATSOption {
	return func(c *natsConfig) {
		if subject != "" {
			c.subject = subject
		}
	}
}

// WithName sets the connection name shown by the server.
func WithName(name string) NATSOption {
	return func(c *natsConfig) { c.name = name }
}

// WithLogger sets the logger for connection events and bad messages.
func WithLogger(l *slog.Logger) NATSOption {
	return func(c *natsConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNATSOptions passes raw client options through.
func WithNATSOptions(opts ...nats.Option) NATSOption {
	return func(c *natsConfig) { c.opts = append(c.opts, opts...) }
}

// NATS is a Bus over a NATS subject, for processes on several hosts.
type NATS struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATS connects to url. The connection reconnects forever.
func NewNATS(url string, opts ...NATSOption) (*NATS, error) {
	cfg := &natsConfig{subject: "trellis.process", name: "trellis", logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.logger
	nopts := append([]nats.Option{
		nats.Name(cfg.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	}, cfg.opts...)

	conn, err := nats.Connect(url, nopts...)
	if err != nil {
		return nil, err
	}
	return &NATS{conn: conn, subject: cfg.subject, logger: logger}, nil
}

func (n *NATS) Publish(_ context.Context, m Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (n *NATS) Subscribe(h Handler) (func(), error) {
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		m, err := Decode(msg.Data)
		if err != nil {
			n.logger.Warn("dropping control message", slog.Any("error", err))
			return
		}
		h(context.Background(), m)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Healthcheck reports whether the connection is up.
func (n *NATS) Healthcheck(context.Context) error {
	if !n.conn.IsConnected() {
		return errors.New("cluster: nats not connected")
	}
	return nil
}

func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		n.conn.Close()
		return err
	}
	return nil
}

var _ Bus = (*NATS)(nil)
