package hardware

import (
	"strconv"
	"time"
)

// bellHalfPeriod is how long the bell solenoid holds each level while
// ringing: toggling every 50 ms strikes the bell at 10 Hz.
const bellHalfPeriod = 50 * time.Millisecond

// Compile-time interface assertion.
var _ Phone = (*Decoder)(nil)

// Decoder is the line-backed [Phone]: it debounces the three input lines,
// counts dial pulses while the dial latch is closed, flushes a digit when
// the latch releases, and toggles the bell line while ringing.
type Decoder struct {
	hookLine  InputLine
	latchLine InputLine
	pulseLine InputLine
	bellLine  OutputLine

	hook  *Debouncer
	latch *Debouncer
	pulse *Debouncer

	lastPulse  bool // previous stable pulse level, for edge detection
	pulseCount int
	digits     string
	dialingOn  bool

	ringing    bool
	bellLevel  bool
	bellToggle time.Time
	lastUpdate time.Time
}

// Lines bundles the decoder's GPIO boundary.
type Lines struct {
	Hook      InputLine
	DialLatch InputLine
	DialPulse InputLine
	Bell      OutputLine
}

// NewDecoder creates a decoder with the given debounce depth. The hook
// debouncer starts closed (handset down) to match the idle phone.
func NewDecoder(lines Lines, debounceDepth int) *Decoder {
	return &Decoder{
		hookLine:  lines.Hook,
		latchLine: lines.DialLatch,
		pulseLine: lines.DialPulse,
		bellLine:  lines.Bell,
		hook:      NewDebouncer(debounceDepth, true),
		latch:     NewDebouncer(debounceDepth, false),
		pulse:     NewDebouncer(debounceDepth, false),
	}
}

// Update implements [Phone].
func (d *Decoder) Update(now time.Time) {
	d.updateBell(now)

	d.hook.Sample(d.hookLine.Read())
	latchClosed := d.latch.Sample(d.latchLine.Read())
	pulseHigh := d.pulse.Sample(d.pulseLine.Read())

	if latchClosed {
		// Dial is wound and returning: count stable rising edges.
		if pulseHigh && !d.lastPulse {
			d.pulseCount++
		}
	} else if d.pulseCount > 0 {
		d.flushDigit()
	}
	d.lastPulse = pulseHigh
}

// flushDigit converts a finished pulse train to a digit. Ten pulses encode
// zero. The count always resets, even when dialing is disabled and the
// digit is discarded.
func (d *Decoder) flushDigit() {
	if d.dialingOn {
		if d.pulseCount >= 10 {
			d.digits += "0"
		} else {
			d.digits += strconv.Itoa(d.pulseCount)
		}
	}
	d.pulseCount = 0
}

func (d *Decoder) updateBell(now time.Time) {
	if d.lastUpdate.IsZero() {
		d.lastUpdate = now
		d.bellToggle = now
	}
	d.lastUpdate = now

	if now.Sub(d.bellToggle) >= bellHalfPeriod {
		d.bellToggle = now
		d.bellLevel = !d.bellLevel && d.ringing
		d.bellLine.Write(d.bellLevel)
	}
	if !d.ringing && d.bellLevel {
		d.bellLevel = false
		d.bellLine.Write(false)
	}
}

// Ring implements [Phone].
func (d *Decoder) Ring(enabled bool) { d.ringing = enabled }

// EnableDialing implements [Phone].
func (d *Decoder) EnableDialing(enabled bool) { d.dialingOn = enabled }

// DialedNumber implements [Phone].
func (d *Decoder) DialedNumber() string { return d.digits }

// SetDialedNumber implements [Phone].
func (d *Decoder) SetDialedNumber(digits string) { d.digits = digits }

// ClearDialed implements [Phone].
func (d *Decoder) ClearDialed() { d.digits = "" }

// HookClosed implements [Phone].
func (d *Decoder) HookClosed() bool { return d.hook.Stable() }
