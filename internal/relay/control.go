// Package relay implements the WebSocket clients that connect a phone to
// the relay server: the control channel for call signaling and the
// discovery channel for peer session negotiation.
//
// Both channels follow the same connection discipline: dial, authenticate
// by sending the API key as the first text frame, then exchange JSON
// messages until the connection drops, and reconnect after a fixed delay.
// Messages produced while disconnected are dropped; the protocol is
// edge-triggered and resynchronises on the next hook or join event.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/bellwetherlabs/ringdown/internal/observe"
)

// dialTimeout bounds a single connection attempt.
const dialTimeout = 5 * time.Second

// ControlConfig configures a [ControlClient].
type ControlConfig struct {
	// URL is the ws:// or wss:// control endpoint.
	URL string

	// APIKey is sent as the first frame after connecting.
	APIKey string

	// ReconnectDelay is the fixed wait between connection attempts.
	ReconnectDelay time.Duration

	// Outgoing supplies messages to send to the relay.
	Outgoing <-chan ControlMessage

	// Incoming receives validated messages from the relay. Delivery never
	// blocks; messages are dropped when the channel is full.
	Incoming chan<- ControlMessage

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// ControlClient maintains the control-channel connection to the relay
// server, forwarding hook and dial reports upstream and ring, mute, and
// sound commands downstream.
type ControlClient struct {
	cfg     ControlConfig
	log     *slog.Logger
	metrics *observe.Metrics
}

// NewControlClient creates a control client. It does not connect until
// [ControlClient.Run] is called.
func NewControlClient(cfg ControlConfig) *ControlClient {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &ControlClient{
		cfg:     cfg,
		log:     cfg.Logger.With("channel", "control"),
		metrics: cfg.Metrics,
	}
}

// Run connects and reconnects until ctx is cancelled. Each session failure
// is logged and retried after the configured delay.
func (c *ControlClient) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("disconnected, reconnecting",
			"err", err, "delay", c.cfg.ReconnectDelay)
		c.metrics.RecordRelayReconnect(ctx, "control")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection from dial to failure.
func (c *ControlClient) session(ctx context.Context) error {
	conn, err := dialAndAuth(ctx, c.cfg.URL, c.cfg.APIKey)
	if err != nil {
		return err
	}
	defer conn.CloseNow()
	c.log.Info("connected", "url", c.cfg.URL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx, conn) })
	g.Go(func() error { return c.writeLoop(gctx, conn) })
	return g.Wait()
}

// readLoop decodes inbound frames and hands valid messages to the
// controller. A full Incoming channel drops the message.
func (c *ControlClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("dropping undecodable frame", "err", err)
			continue
		}
		if err := msg.Validate(); err != nil {
			c.log.Warn("dropping invalid message", "err", err)
			continue
		}

		select {
		case c.cfg.Incoming <- msg:
		default:
			c.log.Warn("incoming queue full, dropping message", "type", msg.Type)
		}
	}
}

// writeLoop encodes outbound messages onto the connection.
func (c *ControlClient) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.cfg.Outgoing:
			if err := writeJSON(ctx, conn, msg); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

// dialAndAuth dials a relay endpoint and sends the API key as the first
// frame, the shape both relay channels expect.
func dialAndAuth(ctx context.Context, url, apiKey string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if err := conn.Write(dialCtx, websocket.MessageText, []byte(apiKey)); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return conn, nil
}

// writeJSON marshals v and writes it as a text frame.
func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
