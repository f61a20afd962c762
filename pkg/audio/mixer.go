package audio

import "sync"

// perChannelQueueCap bounds how many decoded sample runs a channel may hold
// before the writer starts displacing the oldest. Keeps a stalled playback
// path from growing memory without limit.
const perChannelQueueCap = 64

// MixerChannel is the per-remote-source queue of decoded PCM awaiting
// playback. Exactly one goroutine (the session's receive loop) writes a
// given channel; the mixer's single consumer drains all of them.
type MixerChannel struct {
	id    int
	mixer *Mixer

	mu      sync.Mutex
	lastSeq uint32
	queue   [][]float32
	closed  bool
}

// ID returns the arena index assigned to this channel.
func (c *MixerChannel) ID() int { return c.id }

// Push queues a run of decoded samples. seq is the sender's sequence
// number; it is recorded but playback order is arrival order — frames are
// forwarded unordered. Reordering across jitter would need a jitter buffer
// here, which is deliberately not implemented.
//
// Push never blocks: when the queue is full the oldest run is dropped, as
// voice favours recency over completeness.
func (c *MixerChannel) Push(seq uint32, samples []float32) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.lastSeq = seq
	if len(c.queue) >= perChannelQueueCap {
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, samples)
	c.mu.Unlock()

	c.mixer.wake()
}

// LastSeq returns the most recent sequence number pushed.
func (c *MixerChannel) LastSeq() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// pop removes the oldest queued run, or nil when empty.
func (c *MixerChannel) pop() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	run := c.queue[0]
	c.queue = c.queue[1:]
	return run
}

// Mixer owns the set of per-peer playback channels. Channels open when a
// source first delivers audio and close with the source's session; their
// indices come from an arena so a long-lived process does not grow an
// unbounded counter.
//
// The current policy concatenates channel output in arrival order; additive
// mixing across simultaneously active channels is a future extension.
type Mixer struct {
	mu       sync.Mutex
	channels map[int]*MixerChannel
	free     []int // reclaimed arena indices, reused LIFO
	next     int

	notify chan struct{}
}

// NewMixer creates an empty mixer.
func NewMixer() *Mixer {
	return &Mixer{
		channels: make(map[int]*MixerChannel),
		notify:   make(chan struct{}, 1),
	}
}

// OpenChannel allocates a playback channel for a new remote source.
func (m *Mixer) OpenChannel() *MixerChannel {
	m.mu.Lock()
	defer m.mu.Unlock()

	var id int
	if n := len(m.free); n > 0 {
		id = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		id = m.next
		m.next++
	}
	ch := &MixerChannel{id: id, mixer: m}
	m.channels[id] = ch
	return ch
}

// CloseChannel releases a channel and returns its index to the arena.
// Queued samples are discarded. Closing an already-closed channel is a
// no-op.
func (m *Mixer) CloseChannel(ch *MixerChannel) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	ch.queue = nil
	ch.mu.Unlock()

	m.mu.Lock()
	delete(m.channels, ch.id)
	m.free = append(m.free, ch.id)
	m.mu.Unlock()
}

// ChannelCount returns the number of open channels.
func (m *Mixer) ChannelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Next returns the oldest queued sample run across all channels, scanning
// in channel-id order. Returns nil when every queue is empty. Only the
// single mixing consumer may call Next.
func (m *Mixer) Next() []float32 {
	m.mu.Lock()
	chans := make([]*MixerChannel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.mu.Unlock()

	// Stable order keeps one noisy channel from starving another.
	for i := 1; i < len(chans); i++ {
		for j := i; j > 0 && chans[j].id < chans[j-1].id; j-- {
			chans[j], chans[j-1] = chans[j-1], chans[j]
		}
	}
	for _, ch := range chans {
		if run := ch.pop(); run != nil {
			return run
		}
	}
	return nil
}

// Wait returns a channel signalled whenever samples are pushed. Consumers
// block on it between [Mixer.Next] sweeps.
func (m *Mixer) Wait() <-chan struct{} { return m.notify }

func (m *Mixer) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
