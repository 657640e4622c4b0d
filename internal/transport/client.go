// Package transport maintains a resilient websocket connection to a
// remote peer, reconnecting with exponential backoff and surfacing
// decoded wire messages through a typed event channel.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
	"github.com/libaice/orderbooktrade-yellow-app/internal/logging"
	"github.com/libaice/orderbooktrade-yellow-app/internal/wire"
)

// EventKind discriminates client events.
type EventKind string

const (
	EventConnected        EventKind = "connected"
	EventMessage          EventKind = "message"
	EventDisconnected     EventKind = "disconnected"
	EventDecodeError      EventKind = "decode_error"
	EventPermanentFailure EventKind = "permanent_failure"
)

// Event is delivered on the client's event channel. Message is set
// only for EventMessage; Err is set for decode errors, disconnects
// and permanent failures.
type Event struct {
	Kind    EventKind
	Message *wire.Message
	Err     error
}

// Config controls client behavior.
type Config struct {
	URL          string
	MaxAttempts  int // consecutive failed connects before giving up
	WriteTimeout time.Duration
}

// Client is a reconnecting websocket client. Events arrive on
// Events(); Send is safe for concurrent use.
type Client struct {
	cfg    Config
	log    *zap.Logger
	events chan Event

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient builds a client. Run must be called to start it.
func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		log:    logging.Named("transport"),
		events: make(chan Event, 64),
	}
}

// Events returns the client's event channel.
func (c *Client) Events() <-chan Event { return c.events }

// Run connects and reads until ctx is cancelled or the reconnect
// budget is exhausted. It closes the event channel on return.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			attempt++
			if attempt >= c.cfg.MaxAttempts {
				failure := errors.Wrapf(domain.ErrConnection, "gave up after %d attempts: %v", attempt, err)
				c.emit(ctx, Event{Kind: EventPermanentFailure, Err: failure})
				return failure
			}
			delay := reconnectDelay(attempt - 1)
			c.log.Warn("dial failed, retrying",
				zap.String("url", c.cfg.URL),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.setConn(conn)
		c.emit(ctx, Event{Kind: EventConnected})

		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.emit(ctx, Event{Kind: EventDisconnected, Err: err})
		c.log.Warn("connection lost", zap.Error(err))
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := wire.Decode(data)
		if err != nil {
			c.emit(ctx, Event{Kind: EventDecodeError, Err: err})
			continue
		}
		c.emit(ctx, Event{Kind: EventMessage, Message: msg})
	}
}

// Send frames and writes a payload on the current connection.
func (c *Client) Send(t wire.MessageType, payload any) error {
	data, err := wire.Encode(t, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.Wrap(domain.ErrConnection, "not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(domain.ErrConnection, err.Error())
	}
	return nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
