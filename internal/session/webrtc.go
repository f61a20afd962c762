package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/bellwetherlabs/ringdown/internal/relay"
)

// webrtcHandshake runs the offer/answer exchange over the discovery
// channel. The side that learns about the peer through a JoinAck offers;
// the side that saw the Join answers. SDP and trickled ICE candidates
// travel in targeted PeerAddress messages.
type webrtcHandshake struct {
	peer string
	out  chan<- relay.SignalingMessage
	log  *slog.Logger

	pc      *webrtc.PeerConnection
	readyCh chan Transport

	mu         sync.Mutex
	transport  *webrtcTransport
	remoteSet  bool
	candidates []webrtc.ICECandidateInit
	done       bool
}

var _ handshake = (*webrtcHandshake)(nil)

// newWebRTCHandshake builds the peer connection, attaches the outgoing
// Opus track, and, when offerer is set, sends the initial offer.
func newWebRTCHandshake(peer string, offerer bool, stunServers []string, sampleRate int, out chan<- relay.SignalingMessage, log *slog.Logger) (*webrtcHandshake, error) {
	cfg := webrtc.Configuration{}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("session: peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: uint32(sampleRate),
			Channels:  1,
		},
		"audio", "ringdown",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("session: local track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("session: add track: %w", err)
	}

	h := &webrtcHandshake{
		peer:    peer,
		out:     out,
		log:     log,
		pc:      pc,
		readyCh: make(chan Transport, 1),
	}
	h.transport = newWebRTCTransport(pc, track)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		h.signal(relay.SignalingMessage{
			Type:      relay.SignalPeerAddress,
			To:        peer,
			Candidate: payload,
		})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		h.log.Info("remote audio track received", "codec", remote.Codec().MimeType)
		go h.transport.readTrack(remote)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		h.log.Info("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			h.deliver()
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			h.transport.Close()
		}
	})

	if offerer {
		if err := h.sendOffer(); err != nil {
			pc.Close()
			return nil, err
		}
	}
	return h, nil
}

// sendOffer creates and publishes the local offer.
func (h *webrtcHandshake) sendOffer() error {
	offer, err := h.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("session: create offer: %w", err)
	}
	if err := h.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("session: set local description: %w", err)
	}
	payload, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("session: marshal offer: %w", err)
	}
	h.signal(relay.SignalingMessage{
		Type:  relay.SignalPeerAddress,
		To:    h.peer,
		Offer: payload,
	})
	return nil
}

// handle applies one PeerAddress message: an SDP description (offer or
// answer, distinguished by its embedded type) or a trickled candidate.
func (h *webrtcHandshake) handle(msg relay.SignalingMessage) error {
	if msg.Type != relay.SignalPeerAddress {
		return nil
	}

	if len(msg.Offer) > 0 {
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(msg.Offer, &desc); err != nil {
			return fmt.Errorf("session: unmarshal description: %w", err)
		}
		return h.applyDescription(desc)
	}

	if len(msg.Candidate) > 0 {
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Candidate, &candidate); err != nil {
			return fmt.Errorf("session: unmarshal candidate: %w", err)
		}
		return h.addCandidate(candidate)
	}
	return nil
}

// applyDescription sets the remote description and, for an offer, replies
// with an answer. Candidates that trickled in early are flushed after.
func (h *webrtcHandshake) applyDescription(desc webrtc.SessionDescription) error {
	if err := h.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("session: set remote description: %w", err)
	}

	if desc.Type == webrtc.SDPTypeOffer {
		answer, err := h.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("session: create answer: %w", err)
		}
		if err := h.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("session: set local description: %w", err)
		}
		payload, err := json.Marshal(answer)
		if err != nil {
			return fmt.Errorf("session: marshal answer: %w", err)
		}
		h.signal(relay.SignalingMessage{
			Type:  relay.SignalPeerAddress,
			To:    h.peer,
			Offer: payload,
		})
	}

	h.mu.Lock()
	h.remoteSet = true
	pending := h.candidates
	h.candidates = nil
	h.mu.Unlock()

	for _, c := range pending {
		if err := h.pc.AddICECandidate(c); err != nil {
			h.log.Warn("dropping queued candidate", "err", err)
		}
	}
	return nil
}

// addCandidate applies a trickled candidate, queueing it when the remote
// description has not arrived yet.
func (h *webrtcHandshake) addCandidate(candidate webrtc.ICECandidateInit) error {
	h.mu.Lock()
	if !h.remoteSet {
		h.candidates = append(h.candidates, candidate)
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	if err := h.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("session: add candidate: %w", err)
	}
	return nil
}

// deliver hands the transport to the negotiator exactly once.
func (h *webrtcHandshake) deliver() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.readyCh <- h.transport
}

// ready delivers the transport once the peer connection is connected.
func (h *webrtcHandshake) ready() <-chan Transport {
	return h.readyCh
}

// abort closes the peer connection.
func (h *webrtcHandshake) abort() {
	h.transport.Close()
}

// signal sends a handshake message without blocking; a backlogged
// discovery channel fails the handshake by timeout instead of deadlock.
func (h *webrtcHandshake) signal(msg relay.SignalingMessage) {
	select {
	case h.out <- msg:
	default:
		h.log.Warn("discovery channel backlogged, dropping handshake message")
	}
}

// webrtcTransport moves voice frames over the negotiated peer connection:
// outbound on the local Opus track, inbound from the remote track's RTP
// stream, whose header supplies the sequence numbers.
type webrtcTransport struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample

	in        chan inboundFrame
	closed    chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*webrtcTransport)(nil)

func newWebRTCTransport(pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticSample) *webrtcTransport {
	return &webrtcTransport{
		pc:     pc,
		track:  track,
		in:     make(chan inboundFrame, inboundQueueCap),
		closed: make(chan struct{}),
	}
}

// readTrack pumps the remote track into the inbound queue.
func (t *webrtcTransport) readTrack(remote *webrtc.TrackRemote) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			t.Close()
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		frame := inboundFrame{seq: uint32(pkt.SequenceNumber), packet: pkt.Payload}
		select {
		case t.in <- frame:
		case <-t.closed:
			return
		default:
			select {
			case <-t.in:
			default:
			}
			select {
			case t.in <- frame:
			default:
			}
		}
	}
}

// Send implements [Transport]. The sample duration is recovered from the
// Opus TOC byte so the track keeps honest RTP timestamps across the mixed
// frame classes.
func (t *webrtcTransport) Send(_ context.Context, _ uint32, packet []byte) error {
	select {
	case <-t.closed:
		return net.ErrClosed
	default:
	}
	return t.track.WriteSample(media.Sample{
		Data:     packet,
		Duration: opusPacketDuration(packet),
	})
}

// Receive implements [Transport].
func (t *webrtcTransport) Receive(ctx context.Context) (uint32, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-t.closed:
		return 0, nil, net.ErrClosed
	case frame := <-t.in:
		return frame.seq, frame.packet, nil
	}
}

// Close implements [Transport].
func (t *webrtcTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.pc.Close()
	})
	return nil
}

// sdpIsOffer reports whether raw decodes to an SDP description of type
// offer. Answers and undecodable payloads return false.
func sdpIsOffer(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return false
	}
	return desc.Type == webrtc.SDPTypeOffer
}

// opusFrameDurations maps the TOC configuration number (RFC 6716 §3.1) to
// the duration of a single frame.
var opusFrameDurations = [32]time.Duration{
	// SILK NB / MB / WB: 10, 20, 40, 60 ms.
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
	// Hybrid SWB / FB: 10, 20 ms.
	10 * time.Millisecond, 20 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond,
	// CELT NB / WB / SWB / FB: 2.5, 5, 10, 20 ms.
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
}

// opusPacketDuration derives a packet's duration from its TOC byte and
// frame count code. Unparseable packets fall back to 20 ms.
func opusPacketDuration(packet []byte) time.Duration {
	if len(packet) == 0 {
		return 20 * time.Millisecond
	}
	frame := opusFrameDurations[packet[0]>>3]

	switch packet[0] & 0x3 {
	case 0:
		return frame
	case 1, 2:
		return 2 * frame
	default:
		if len(packet) < 2 {
			return frame
		}
		return time.Duration(packet[1]&0x3F) * frame
	}
}
