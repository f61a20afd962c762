package audio

import "sync"

// MuteSwitch is the process-wide mute flag: one writer (the call
// controller), many readers (encode and decode paths). Readers either poll
// [MuteSwitch.Muted] at the point of sample production or receive change
// notifications through [MuteSwitch.Subscribe].
//
// Muting zeroes samples; it never tears down device streams or the peer
// session, so flipping it back is glitch-free and needs no renegotiation.
type MuteSwitch struct {
	mu    sync.Mutex
	muted bool
	subs  []chan bool
}

// NewMuteSwitch creates a switch in the muted state — the phone starts
// idle, so nothing should be on the air until a call begins.
func NewMuteSwitch() *MuteSwitch {
	return &MuteSwitch{muted: true}
}

// Muted returns the current flag.
func (m *MuteSwitch) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Set updates the flag and notifies all subscribers. Notification is
// coalescing: a subscriber that has not consumed the previous value only
// sees the latest one.
func (m *MuteSwitch) Set(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.muted == muted {
		return
	}
	m.muted = muted
	for _, ch := range m.subs {
		select {
		case <-ch: // drop the stale value
		default:
		}
		ch <- muted
	}
}

// Subscribe returns a channel carrying mute changes. The channel has a
// one-value buffer and is never closed; receivers must also watch their own
// shutdown signal.
func (m *MuteSwitch) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan bool, 1)
	m.subs = append(m.subs, ch)
	return ch
}

// ZeroIfMuted replaces samples with silence in place when the switch is
// muted, returning the same slice either way.
func (m *MuteSwitch) ZeroIfMuted(samples []float32) []float32 {
	if !m.Muted() {
		return samples
	}
	for i := range samples {
		samples[i] = 0
	}
	return samples
}
