package hardware

import (
	"sync"
	"time"
)

// Compile-time interface assertion.
var _ Phone = (*Emulated)(nil)

// Emulated is an in-memory [Phone] with no lines behind it. Tests (and
// desktop runs without GPIO) inject hook changes and dialed digits
// directly and observe the bell through [Emulated.Ringing].
//
// Injection methods are safe to call from any goroutine; the Phone methods
// follow the usual single-goroutine contract.
type Emulated struct {
	mu        sync.Mutex
	hook      bool
	pending   string // digits injected but not yet picked up by Update
	digits    string
	dialingOn bool
	ringing   bool
}

// NewEmulated creates an emulated phone with the handset on the cradle.
func NewEmulated() *Emulated {
	return &Emulated{hook: true}
}

// SetHookClosed simulates placing (true) or lifting (false) the handset.
func (e *Emulated) SetHookClosed(closed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hook = closed
}

// Dial simulates a completed pulse train for each digit in digits. Digits
// land on the next Update, mirroring the latch-release flush of the real
// decoder, and are discarded while dialing is disabled.
func (e *Emulated) Dial(digits string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending += digits
}

// Ringing reports whether the bell is currently being driven.
func (e *Emulated) Ringing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ringing
}

// Update implements [Phone].
func (e *Emulated) Update(time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != "" {
		if e.dialingOn {
			e.digits += e.pending
		}
		e.pending = ""
	}
}

// Ring implements [Phone].
func (e *Emulated) Ring(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ringing = enabled
}

// EnableDialing implements [Phone].
func (e *Emulated) EnableDialing(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dialingOn = enabled
}

// DialedNumber implements [Phone].
func (e *Emulated) DialedNumber() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.digits
}

// SetDialedNumber implements [Phone].
func (e *Emulated) SetDialedNumber(digits string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.digits = digits
}

// ClearDialed implements [Phone].
func (e *Emulated) ClearDialed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.digits = ""
}

// HookClosed implements [Phone].
func (e *Emulated) HookClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hook
}
