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

// leaveTimeout bounds the best-effort Leave announcement during shutdown.
const leaveTimeout = time.Second

// DiscoveryConfig configures a [DiscoveryClient].
type DiscoveryConfig struct {
	// URL is the ws:// or wss:// discovery endpoint.
	URL string

	// APIKey is sent as the first frame after connecting.
	APIKey string

	// NodeID uniquely identifies this phone on the discovery channel.
	NodeID string

	// ReconnectDelay is the fixed wait between connection attempts.
	ReconnectDelay time.Duration

	// Outgoing supplies handshake messages from the session negotiator.
	// The client stamps From with NodeID before sending.
	Outgoing <-chan SignalingMessage

	// Incoming receives filtered peer messages for the session negotiator.
	// Delivery never blocks; messages are dropped when the channel is full.
	Incoming chan<- SignalingMessage

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// DiscoveryClient maintains the discovery-channel connection. It announces
// this node with Join on every (re)connect, acknowledges peers that join
// later, relays handshake traffic for the session negotiator, and says
// Leave on shutdown.
//
// Self-addressed traffic is filtered here so the negotiator only ever sees
// messages from the peer: the relay fans every frame out to all members,
// including the sender.
type DiscoveryClient struct {
	cfg     DiscoveryConfig
	log     *slog.Logger
	metrics *observe.Metrics

	// replies queues JoinAcks generated by the read loop for the write
	// loop, keeping the connection single-writer.
	replies chan SignalingMessage
}

// NewDiscoveryClient creates a discovery client. It does not connect until
// [DiscoveryClient.Run] is called.
func NewDiscoveryClient(cfg DiscoveryConfig) *DiscoveryClient {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &DiscoveryClient{
		cfg:     cfg,
		log:     cfg.Logger.With("channel", "discovery", "node_id", cfg.NodeID),
		metrics: cfg.Metrics,
		replies: make(chan SignalingMessage, 4),
	}
}

// Run connects and reconnects until ctx is cancelled, announcing Leave on
// the way out when a connection is still healthy.
func (d *DiscoveryClient) Run(ctx context.Context) error {
	for {
		err := d.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.log.Warn("disconnected, reconnecting",
			"err", err, "delay", d.cfg.ReconnectDelay)
		d.metrics.RecordRelayReconnect(ctx, "discovery")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection from dial to failure. Join is the first
// message after authentication; Leave is sent best-effort when the session
// ends because of shutdown rather than a transport error.
func (d *DiscoveryClient) session(ctx context.Context) error {
	conn, err := dialAndAuth(ctx, d.cfg.URL, d.cfg.APIKey)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	if err := writeJSON(ctx, conn, SignalingMessage{Type: SignalJoin, From: d.cfg.NodeID}); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	d.log.Info("connected and joined", "url", d.cfg.URL)

	// The read loop blocks on the connection itself; the write loop owns
	// shutdown so Leave can go out before the socket closes. Cancelling a
	// read context would close the connection under the farewell write.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.readLoop(conn) })
	g.Go(func() error { return d.writeLoop(ctx, gctx, conn) })
	return g.Wait()
}

// leave announces departure and closes the connection cleanly, best effort.
func (d *DiscoveryClient) leave(conn *websocket.Conn) {
	leaveCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := writeJSON(leaveCtx, conn, SignalingMessage{Type: SignalLeave, From: d.cfg.NodeID}); err == nil {
		conn.Close(websocket.StatusNormalClosure, "leaving")
	}
}

// readLoop decodes inbound frames, filters out our own fan-out echo and
// traffic addressed to other nodes, acknowledges Joins, and forwards the
// rest to the negotiator. It exits when the connection closes.
func (d *DiscoveryClient) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg SignalingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			d.log.Warn("dropping undecodable frame", "err", err)
			continue
		}
		if err := msg.Validate(); err != nil {
			d.log.Warn("dropping invalid message", "err", err)
			continue
		}
		if msg.From == d.cfg.NodeID {
			continue
		}
		if msg.To != "" && msg.To != d.cfg.NodeID {
			continue
		}

		if msg.Type == SignalJoin {
			select {
			case d.replies <- SignalingMessage{Type: SignalJoinAck, From: d.cfg.NodeID, To: msg.From}:
			default:
			}
		}

		select {
		case d.cfg.Incoming <- msg:
		default:
			d.log.Warn("incoming queue full, dropping message", "type", msg.Type)
		}
	}
}

// writeLoop sends negotiator traffic and read-loop replies, stamping every
// outbound message with our node ID. On shutdown (outer ctx cancelled) it
// says Leave first; either way it closes the connection to unblock the
// read loop.
func (d *DiscoveryClient) writeLoop(ctx, gctx context.Context, conn *websocket.Conn) error {
	send := func(msg SignalingMessage) error {
		msg.From = d.cfg.NodeID
		if err := writeJSON(gctx, conn, msg); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		return nil
	}

	for {
		select {
		case <-gctx.Done():
			if ctx.Err() != nil {
				d.leave(conn)
			}
			conn.CloseNow()
			return gctx.Err()
		case msg := <-d.replies:
			if err := send(msg); err != nil {
				return err
			}
		case msg := <-d.cfg.Outgoing:
			if err := send(msg); err != nil {
				return err
			}
		}
	}
}
