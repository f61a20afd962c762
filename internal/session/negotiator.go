package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bellwetherlabs/ringdown/internal/config"
	"github.com/bellwetherlabs/ringdown/internal/observe"
	"github.com/bellwetherlabs/ringdown/internal/relay"
	"github.com/bellwetherlabs/ringdown/pkg/audio"
)

// handshake is one in-flight negotiation attempt. Implementations consume
// targeted PeerAddress messages and deliver a ready Transport.
type handshake interface {
	handle(msg relay.SignalingMessage) error
	ready() <-chan Transport
	abort()
}

var (
	errPeerLeft       = errors.New("session: peer left")
	errConnectTimeout = errors.New("session: handshake timed out")
	errShuttingDown   = errors.New("session: shutting down")
)

// NegotiatorConfig configures a [Negotiator].
type NegotiatorConfig struct {
	// NodeID is this phone's discovery identity.
	NodeID string

	// Strategy selects the transport negotiation mechanism.
	Strategy config.Strategy

	// STUNServers are handed to the WebRTC strategy.
	STUNServers []string

	// AdvertiseHost overrides the auto-detected host in the direct
	// strategy's endpoint announcements.
	AdvertiseHost string

	// ConnectTimeout bounds a handshake; an attempt that has not produced
	// a transport by then is abandoned and retried on the next discovery
	// event.
	ConnectTimeout time.Duration

	// SampleRate is the Opus decode rate for inbound voice.
	SampleRate int

	// Mixer receives one channel per established session.
	Mixer *audio.Mixer

	// Incoming delivers filtered signaling messages from the discovery
	// client.
	Incoming <-chan relay.SignalingMessage

	// Outgoing carries handshake messages back to the discovery client.
	Outgoing chan<- relay.SignalingMessage

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// link pairs a session with the handshake producing its transport.
type link struct {
	session *Session
	hs      handshake
}

// Negotiator turns discovery events into voice sessions.
//
// Join and JoinAck events make a phone offer itself to the peer — its
// endpoint address under the direct strategy, an SDP offer (JoinAck side
// only) under WebRTC. A peer's address or offer arriving in a PeerAddress
// then starts the session: if one is already established with that peer it
// is closed first, so a phone that rebooted mid-call can renegotiate,
// while duplicates during an in-flight handshake are absorbed.
type Negotiator struct {
	cfg      NegotiatorConfig
	log      *slog.Logger
	metrics  *observe.Metrics
	endpoint *Endpoint // direct strategy only

	mu    sync.Mutex
	links map[string]*link
}

// NewNegotiator creates a negotiator. Under the direct strategy the voice
// endpoint is bound here; a bind failure is fatal for the voice plane and
// is returned rather than retried.
func NewNegotiator(cfg NegotiatorConfig) (*Negotiator, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	n := &Negotiator{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "negotiator"),
		metrics: cfg.Metrics,
		links:   make(map[string]*link),
	}

	if cfg.Strategy == config.StrategyDirect {
		endpoint, err := OpenEndpoint(cfg.AdvertiseHost, n.log)
		if err != nil {
			return nil, err
		}
		n.endpoint = endpoint
	}
	return n, nil
}

// Run consumes discovery events until ctx is cancelled, then tears down
// every session and the endpoint.
func (n *Negotiator) Run(ctx context.Context) error {
	defer n.closeAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-n.cfg.Incoming:
			n.dispatch(ctx, msg)
		}
	}
}

// Send queues one encoded frame to every established session.
func (n *Negotiator) Send(packet []byte) {
	n.mu.Lock()
	sessions := make([]*Session, 0, len(n.links))
	for _, l := range n.links {
		sessions = append(sessions, l.session)
	}
	n.mu.Unlock()

	for _, s := range sessions {
		s.Send(packet)
	}
}

// dispatch routes one signaling message.
func (n *Negotiator) dispatch(ctx context.Context, msg relay.SignalingMessage) {
	switch msg.Type {
	case relay.SignalJoin:
		if n.cfg.Strategy == config.StrategyDirect {
			n.announce(msg.From)
		}
		// Under WebRTC the Join side answers; nothing to send yet.

	case relay.SignalJoinAck:
		if n.hasLiveLink(msg.From) {
			// A JoinAck for a peer we already talk to is a relay
			// reconnect, not a new phone; re-offering would tear down a
			// healthy call.
			n.log.Debug("ignoring join ack for live session", "peer", msg.From)
			return
		}
		if n.cfg.Strategy == config.StrategyDirect {
			n.announce(msg.From)
		} else {
			n.startHandshake(ctx, msg.From, true, nil)
		}

	case relay.SignalLeave:
		n.closePeer(msg.From, errPeerLeft)

	case relay.SignalPeerAddress:
		n.handleAddress(ctx, msg)
	}
}

// hasLiveLink reports whether a connecting or established session for peer
// exists.
func (n *Negotiator) hasLiveLink(peer string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	l := n.links[peer]
	return l != nil && l.session.Phase() != Closed
}

// announce sends this phone's endpoint address to peer.
func (n *Negotiator) announce(peer string) {
	msg := relay.SignalingMessage{
		Type:   relay.SignalPeerAddress,
		To:     peer,
		NodeID: n.endpoint.Addr(),
	}
	select {
	case n.cfg.Outgoing <- msg:
	default:
		n.log.Warn("discovery channel backlogged, dropping announcement", "peer", peer)
	}
}

// handleAddress consumes one targeted PeerAddress. Addresses and SDP
// offers start (or supersede into) a new handshake; answers and trickled
// candidates feed the handshake already in flight.
func (n *Negotiator) handleAddress(ctx context.Context, msg relay.SignalingMessage) {
	if n.cfg.Strategy == config.StrategyDirect {
		if msg.NodeID == "" {
			return
		}
		remote, err := net.ResolveUDPAddr("udp", msg.NodeID)
		if err != nil {
			n.log.Warn("unusable peer address", "peer", msg.From, "addr", msg.NodeID, "err", err)
			return
		}
		n.startHandshake(ctx, msg.From, false, func() (handshake, error) {
			return newDirectPending(n.endpoint.connect(remote)), nil
		})
		return
	}

	if sdpIsOffer(msg.Offer) {
		l := n.startHandshake(ctx, msg.From, false, nil)
		if l == nil {
			return
		}
		if err := l.hs.handle(msg); err != nil {
			n.log.Warn("offer rejected", "peer", msg.From, "err", err)
		}
		return
	}

	// Answer or candidate: belongs to the handshake in flight.
	n.mu.Lock()
	l := n.links[msg.From]
	n.mu.Unlock()
	if l == nil || l.hs == nil {
		return
	}
	if err := l.hs.handle(msg); err != nil {
		n.log.Warn("handshake message rejected", "peer", msg.From, "err", err)
	}
}

// startHandshake begins negotiating with peer. An in-flight handshake
// absorbs the duplicate; an established (or dead) session is superseded.
// build overrides the strategy-default handshake constructor.
func (n *Negotiator) startHandshake(ctx context.Context, peer string, offerer bool, build func() (handshake, error)) *link {
	n.mu.Lock()
	if existing := n.links[peer]; existing != nil {
		if existing.session.Phase() == Connecting {
			n.mu.Unlock()
			return existing
		}
		delete(n.links, peer)
		n.mu.Unlock()
		existing.hs.abort()
		existing.session.close(errSuperseded)
	} else {
		n.mu.Unlock()
	}

	decoder, err := audio.NewDecoder(n.cfg.SampleRate)
	if err != nil {
		n.log.Error("cannot create decoder", "err", err)
		return nil
	}
	sess := newSession(peer, n.cfg.Mixer, decoder, n.log, n.metrics)

	var hs handshake
	if build != nil {
		hs, err = build()
	} else {
		hs, err = newWebRTCHandshake(peer, offerer, n.cfg.STUNServers, n.cfg.SampleRate, n.cfg.Outgoing, sess.log)
	}
	if err != nil {
		n.log.Error("cannot start handshake", "peer", peer, "err", err)
		return nil
	}

	l := &link{session: sess, hs: hs}
	n.mu.Lock()
	n.links[peer] = l
	n.mu.Unlock()

	n.log.Info("negotiating session",
		"peer", peer, "strategy", n.cfg.Strategy, "offerer", offerer)
	go n.await(ctx, peer, l)
	return l
}

// await resolves one handshake: transport ready, timeout, or shutdown.
func (n *Negotiator) await(ctx context.Context, peer string, l *link) {
	timer := time.NewTimer(n.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case t := <-l.hs.ready():
		l.session.establish(ctx, t)

	case <-timer.C:
		n.log.Warn("handshake timed out", "peer", peer, "timeout", n.cfg.ConnectTimeout)
		n.drop(peer, l)
		l.hs.abort()
		l.session.close(errConnectTimeout)

	case <-ctx.Done():
		l.hs.abort()
	}
}

// drop removes the link for peer if it is still the current one.
func (n *Negotiator) drop(peer string, l *link) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links[peer] == l {
		delete(n.links, peer)
	}
}

// closePeer tears down the link for peer, if any.
func (n *Negotiator) closePeer(peer string, reason error) {
	n.mu.Lock()
	l := n.links[peer]
	delete(n.links, peer)
	n.mu.Unlock()

	if l != nil {
		l.hs.abort()
		l.session.close(reason)
	}
}

// closeAll tears down every link and, under the direct strategy, the
// shared endpoint.
func (n *Negotiator) closeAll() {
	n.mu.Lock()
	links := n.links
	n.links = make(map[string]*link)
	n.mu.Unlock()

	for _, l := range links {
		l.hs.abort()
		l.session.close(errShuttingDown)
	}
	if n.endpoint != nil {
		n.endpoint.Close()
	}
}

// directPending adapts a connecting direct transport to the handshake
// interface; address exchange already happened, so there is nothing left
// to handle.
type directPending struct {
	t       *directTransport
	readyCh chan Transport
}

var _ handshake = (*directPending)(nil)

func newDirectPending(t *directTransport) *directPending {
	p := &directPending{t: t, readyCh: make(chan Transport, 1)}
	go func() {
		select {
		case <-t.established:
			p.readyCh <- t
		case <-t.closed:
		}
	}()
	return p
}

func (p *directPending) handle(relay.SignalingMessage) error { return nil }

func (p *directPending) ready() <-chan Transport { return p.readyCh }

func (p *directPending) abort() { p.t.Close() }
