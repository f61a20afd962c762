package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// Datagram type tags for the direct UDP transport.
const (
	dgHello    byte = 0x01 // sent every helloInterval until the peer is heard
	dgHelloAck byte = 0x02 // reply to a hello; never acknowledged itself
	dgVoice    byte = 0x03 // [tag][4-byte big-endian seq][opus packet]
)

const (
	helloInterval = time.Second
	maxDatagram   = 1500
	voiceHeader   = 5 // tag + seq

	// inboundQueueCap bounds buffered inbound frames; the session's receive
	// loop normally keeps up, so depth here only absorbs scheduling jitter.
	inboundQueueCap = 64
)

// inboundFrame is one received voice frame with its wire sequence number.
type inboundFrame struct {
	seq    uint32
	packet []byte
}

// Endpoint is the single UDP socket a phone uses for direct voice
// transport. It is bound once at startup; its advertised address travels
// to peers in targeted PeerAddress messages. At most one transport is
// active at a time — connecting to a new remote replaces the old one.
type Endpoint struct {
	conn *net.UDPConn
	addr string
	log  *slog.Logger

	mu     sync.Mutex
	active *directTransport
	closed bool
}

// OpenEndpoint binds the voice socket on an ephemeral port. advertiseHost
// overrides the auto-detected local IP in the advertised address.
func OpenEndpoint(advertiseHost string, log *slog.Logger) (*Endpoint, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("session: bind voice socket: %w", err)
	}

	host := advertiseHost
	if host == "" {
		host = localIP()
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port

	e := &Endpoint{
		conn: conn,
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		log:  log,
	}
	go e.readLoop()

	log.Info("voice endpoint bound", "addr", e.addr)
	return e, nil
}

// Addr returns the advertised host:port.
func (e *Endpoint) Addr() string { return e.addr }

// connect starts the hello exchange toward remote and returns the pending
// transport. Any previously active transport is closed first. One side's
// hellos play the connect role, the other side's pending reads play
// accept; whichever datagram lands first settles the race for its
// receiver.
func (e *Endpoint) connect(remote *net.UDPAddr) *directTransport {
	t := &directTransport{
		endpoint:    e,
		remote:      remote,
		in:          make(chan inboundFrame, inboundQueueCap),
		established: make(chan struct{}),
		closed:      make(chan struct{}),
	}

	e.mu.Lock()
	old := e.active
	e.active = t
	e.mu.Unlock()
	if old != nil {
		old.Close()
	}

	go t.helloLoop()
	return t
}

// detach unregisters t if it is still the active transport.
func (e *Endpoint) detach(t *directTransport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == t {
		e.active = nil
	}
}

// readLoop routes inbound datagrams to the active transport. Traffic from
// any other source, or with no active transport, is dropped. The first
// datagram from the expected remote, of any type, completes the handshake.
func (e *Endpoint) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}

		e.mu.Lock()
		t := e.active
		e.mu.Unlock()
		if t == nil || !addr.IP.Equal(t.remote.IP) || addr.Port != t.remote.Port {
			continue
		}

		t.estOnce.Do(func() { close(t.established) })

		switch buf[0] {
		case dgHello:
			// Acks are never themselves acknowledged, so the exchange
			// terminates once both sides have heard something.
			e.conn.WriteToUDP([]byte{dgHelloAck}, t.remote)

		case dgVoice:
			if n < voiceHeader {
				continue
			}
			t.push(inboundFrame{
				seq:    binary.BigEndian.Uint32(buf[1:voiceHeader]),
				packet: append([]byte(nil), buf[voiceHeader:n]...),
			})
		}
	}
}

// Close releases the socket and the active transport.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	t := e.active
	e.active = nil
	e.mu.Unlock()

	if t != nil {
		t.Close()
	}
	return e.conn.Close()
}

// directTransport exchanges voice datagrams with one fixed remote over the
// shared endpoint socket.
type directTransport struct {
	endpoint *Endpoint
	remote   *net.UDPAddr

	in          chan inboundFrame
	established chan struct{}
	closed      chan struct{}

	estOnce   sync.Once
	closeOnce sync.Once
}

var _ Transport = (*directTransport)(nil)

// push queues an inbound frame, shedding the oldest when full.
func (t *directTransport) push(frame inboundFrame) {
	for {
		select {
		case t.in <- frame:
			return
		default:
			select {
			case <-t.in:
			default:
			}
		}
	}
}

// helloLoop announces our presence until the peer is heard.
func (t *directTransport) helloLoop() {
	ticker := time.NewTicker(helloInterval)
	defer ticker.Stop()

	for {
		if _, err := t.endpoint.conn.WriteToUDP([]byte{dgHello}, t.remote); err != nil {
			return
		}
		select {
		case <-t.established:
			return
		case <-t.closed:
			return
		case <-ticker.C:
		}
	}
}

// Send implements [Transport].
func (t *directTransport) Send(_ context.Context, seq uint32, packet []byte) error {
	select {
	case <-t.closed:
		return net.ErrClosed
	default:
	}

	datagram := make([]byte, voiceHeader+len(packet))
	datagram[0] = dgVoice
	binary.BigEndian.PutUint32(datagram[1:], seq)
	copy(datagram[voiceHeader:], packet)

	if _, err := t.endpoint.conn.WriteToUDP(datagram, t.remote); err != nil {
		return fmt.Errorf("session: send datagram: %w", err)
	}
	return nil
}

// Receive implements [Transport].
func (t *directTransport) Receive(ctx context.Context) (uint32, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-t.closed:
		return 0, nil, net.ErrClosed
	case frame := <-t.in:
		return frame.seq, frame.packet, nil
	}
}

// Close implements [Transport]. The shared socket stays open for the next
// session.
func (t *directTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.endpoint.detach(t)
	})
	return nil
}

// localIP discovers the preferred outbound interface address. The dial
// never sends a packet; it only resolves routing.
func localIP() string {
	conn, err := net.Dial("udp", "192.0.2.1:9")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
