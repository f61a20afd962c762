// Package session negotiates and runs peer-to-peer voice sessions. The
// discovery channel carries the handshake; voice frames then flow directly
// between the two phones over the configured transport strategy, either
// plain UDP datagrams or a WebRTC peer connection.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bellwetherlabs/ringdown/internal/observe"
	"github.com/bellwetherlabs/ringdown/pkg/audio"
)

// Datagram direction attributes, hoisted to avoid per-frame allocation.
var (
	datagramIn  = metric.WithAttributes(attribute.String("direction", "in"))
	datagramOut = metric.WithAttributes(attribute.String("direction", "out"))
)

// Phase is the lifecycle stage of a session.
type Phase int

const (
	// Connecting: handshake in progress, no voice flowing yet.
	Connecting Phase = iota

	// Established: transport ready, voice loops running.
	Established

	// Closed: torn down; terminal.
	Closed
)

// String returns the phase name for logs.
func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Established:
		return "established"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport moves encoded voice frames between the two peers once a
// handshake completes. Each frame travels with a sequence number so the
// receiver can detect gaps; how the number rides the wire is up to the
// transport (explicit header for UDP, the RTP header for WebRTC).
// Implementations are single-reader, single-writer.
type Transport interface {
	// Send transmits one frame. Errors are terminal for the session.
	Send(ctx context.Context, seq uint32, packet []byte) error

	// Receive blocks for the next frame.
	Receive(ctx context.Context) (seq uint32, packet []byte, err error)

	// Close releases the transport.
	Close() error
}

// outboundQueueCap bounds per-session outbound frames. Voice is realtime;
// when the transport stalls, old frames are worthless.
const outboundQueueCap = 32

// errSuperseded marks teardown caused by a replacement handshake.
var errSuperseded = errors.New("session: superseded by new handshake")

// Session is one voice link to a peer. It owns a mixer channel for the
// peer's decoded audio and a send queue for locally encoded frames.
type Session struct {
	id      string
	peer    string
	mixer   *audio.Mixer
	decoder *audio.Decoder
	log     *slog.Logger
	metrics *observe.Metrics

	outbound chan []byte
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	phase     Phase
	transport Transport
	channel   *audio.MixerChannel
	seq       uint32
	started   time.Time
}

// newSession creates a session in the Connecting phase.
func newSession(peer string, mixer *audio.Mixer, decoder *audio.Decoder, log *slog.Logger, metrics *observe.Metrics) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		peer:     peer,
		mixer:    mixer,
		decoder:  decoder,
		log:      log.With("session_id", id, "peer", peer),
		metrics:  metrics,
		outbound: make(chan []byte, outboundQueueCap),
		done:     make(chan struct{}),
		phase:    Connecting,
		started:  time.Now(),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Peer returns the peer node ID.
func (s *Session) Peer() string { return s.peer }

// Phase returns the current lifecycle stage.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// establish attaches the ready transport, opens the peer's mixer channel,
// and starts the voice loops. It is a no-op if the session was closed while
// the handshake was still running.
func (s *Session) establish(ctx context.Context, transport Transport) {
	s.mu.Lock()
	if s.phase != Connecting {
		s.mu.Unlock()
		transport.Close()
		return
	}
	s.phase = Established
	s.transport = transport
	s.channel = s.mixer.OpenChannel()
	started := s.started
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(ctx, 1)
	s.metrics.MixerChannels.Add(ctx, 1)
	s.metrics.SessionConnectDuration.Record(ctx, time.Since(started).Seconds())
	s.log.Info("session established", "took", time.Since(started))

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(loopCtx, transport)
}

// run drives both voice loops and tears the session down when either ends.
func (s *Session) run(ctx context.Context, transport Transport) {
	defer close(s.done)

	errc := make(chan error, 2)
	go func() { errc <- s.sendLoop(ctx, transport) }()
	go func() { errc <- s.receiveLoop(ctx, transport) }()

	err := <-errc
	if err != nil && ctx.Err() == nil {
		s.log.Warn("session transport failed", "err", err)
	}
	s.teardown()
	<-errc
}

// sendLoop numbers each queued frame and hands it to the transport.
func (s *Session) sendLoop(ctx context.Context, transport Transport) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case packet := <-s.outbound:
			s.mu.Lock()
			seq := s.seq
			s.seq++
			s.mu.Unlock()

			if err := transport.Send(ctx, seq, packet); err != nil {
				return err
			}
			s.metrics.Datagrams.Add(ctx, 1, datagramOut)
		}
	}
}

// receiveLoop decodes inbound payloads and pushes the PCM onto the peer's
// mixer channel. Undecodable payloads are dropped.
func (s *Session) receiveLoop(ctx context.Context, transport Transport) error {
	for {
		seq, packet, err := transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.metrics.Datagrams.Add(ctx, 1, datagramIn)

		samples, err := s.decoder.Decode(packet)
		if err != nil {
			s.log.Warn("dropping undecodable frame", "err", err)
			s.metrics.RecordFrameDropped(ctx, "decode")
			continue
		}

		s.mu.Lock()
		ch := s.channel
		s.mu.Unlock()
		if ch != nil {
			ch.Push(seq, samples)
		}
	}
}

// Send queues one encoded frame for the peer. It never blocks; when the
// queue is full the oldest frame is dropped to keep latency bounded.
func (s *Session) Send(packet []byte) {
	s.mu.Lock()
	established := s.phase == Established
	s.mu.Unlock()
	if !established {
		return
	}

	for {
		select {
		case s.outbound <- packet:
			return
		default:
			select {
			case <-s.outbound:
				s.metrics.RecordFrameDropped(context.Background(), "transport")
			default:
			}
		}
	}
}

// close tears the session down from outside (supersession, peer Leave, or
// handshake timeout). Safe to call in any phase, more than once.
func (s *Session) close(reason error) {
	s.mu.Lock()
	if s.phase == Closed {
		s.mu.Unlock()
		return
	}
	wasEstablished := s.phase == Established
	s.phase = Closed
	cancel := s.cancel
	s.mu.Unlock()

	s.log.Info("closing session", "reason", reason, "was_established", wasEstablished)
	if cancel != nil {
		cancel()
		<-s.done
	}
}

// teardown releases transport and mixer resources after the loops stop.
// It only ever runs for sessions that reached Established.
func (s *Session) teardown() {
	s.mu.Lock()
	transport := s.transport
	channel := s.channel
	s.transport = nil
	s.channel = nil
	s.phase = Closed
	s.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
	if channel != nil {
		s.mixer.CloseChannel(channel)
	}
	ctx := context.Background()
	s.metrics.ActiveSessions.Add(ctx, -1)
	if channel != nil {
		s.metrics.MixerChannels.Add(ctx, -1)
	}
}
