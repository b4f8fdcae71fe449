package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/rs/zerolog"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	URL              string
	SessionID        string
	Target           Target
	Clock            lipsync.AudioClock
	OutputLatency    float64
	HandshakeTimeout time.Duration
	Logger           zerolog.Logger
	Bus              *bus.EventBus
}

// Client reads the speech service's WebSocket and dispatches to a Target.
// It does not reconnect; Run returns when the connection ends.
type Client struct {
	url        string
	sessionID  string
	dispatcher *Dispatcher
	dialer     websocket.Dialer
	logger     zerolog.Logger
	bus        *bus.EventBus

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
}

// NewClient creates a client. A nil Clock defaults to a fresh SystemClock.
func NewClient(opts ClientOptions) *Client {
	clock := opts.Clock
	if clock == nil {
		clock = lipsync.NewSystemClock()
	}
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger := opts.Logger.With().Str("component", "ingest-client").Str("session", opts.SessionID).Logger()
	return &Client{
		url:        opts.URL,
		sessionID:  opts.SessionID,
		dispatcher: NewDispatcher(opts.Target, clock, opts.OutputLatency, logger),
		dialer:     websocket.Dialer{HandshakeTimeout: timeout},
		logger:     logger,
		bus:        opts.Bus,
	}
}

// IsConnected returns connection status.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Run dials and reads until ctx is cancelled or the connection fails.
// Cancellation returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info().Str("url", c.url).Msg("Connecting to word-timing WebSocket")

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.bus.Publish(bus.Event{Type: bus.EventTypeConnected, SessionID: c.sessionID, Data: map[string]any{"url": c.url}})
	c.logger.Info().Msg("Connected to word-timing WebSocket")

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
		conn.Close()
		c.bus.Publish(bus.Event{Type: bus.EventTypeDisconnected, SessionID: c.sessionID})
	}()

	msgs := make(chan []byte, 256)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				close(msgs)
				return
			}
			select {
			case msgs <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()

		case data, ok := <-msgs:
			if !ok {
				err := <-readErr
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Info().Msg("Word-timing WebSocket closed")
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
			c.handle(data)
			c.drain(msgs)
			c.dispatcher.Flush()
		}
	}
}

// drain handles every message already read so a burst of word timings is
// delivered as one batch.
func (c *Client) drain(msgs <-chan []byte) {
	for {
		select {
		case data, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(data)
		default:
			return
		}
	}
}

func (c *Client) handle(data []byte) {
	msg, err := Decode(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse message")
		return
	}
	c.dispatcher.Handle(msg)
}
