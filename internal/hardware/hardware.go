// Package hardware decodes the rotary phone's electromechanical inputs —
// hook switch, dial latch, dial pulse — into a debounced hook state and a
// string of dialed digits, and drives the bell solenoid.
//
// The package defines the capability interface ([Phone]) the call
// controller depends on, a line-backed implementation for real GPIO, and
// an emulated implementation for headless testing. Actual GPIO driver
// bindings live outside this module; they are injected as [InputLine] and
// [OutputLine] values.
package hardware

import "time"

// PollInterval is the fixed period of the hardware sampling loop. Short
// enough that a single ~10 ms rotary pulse spans many samples.
const PollInterval = time.Millisecond

// InputLine reads one digital input at the GPIO driver boundary.
// Implementations must be non-blocking; Read is called from the poll loop
// every millisecond.
type InputLine interface {
	Read() bool
}

// OutputLine drives one digital output at the GPIO driver boundary.
type OutputLine interface {
	Write(level bool)
}

// Phone is the capability surface the call controller works against. All
// methods are called from the controller's poll goroutine only; an
// implementation does not need to be safe for concurrent use.
type Phone interface {
	// Update advances the decoder by one poll tick: samples lines,
	// debounces, counts pulses, flushes finished digits, drives the bell.
	Update(now time.Time)

	// Ring starts or stops the bell.
	Ring(enabled bool)

	// EnableDialing gates digit accumulation. Pulses are still counted
	// while disabled but finished trains flush to nothing.
	EnableDialing(enabled bool)

	// DialedNumber returns the digits accumulated so far.
	DialedNumber() string

	// SetDialedNumber replaces the accumulated digits. Used by the
	// controller to coerce an unmatchable dial to the operator sentinel.
	SetDialedNumber(digits string)

	// ClearDialed empties the accumulated digits.
	ClearDialed()

	// HookClosed reports the debounced hook switch state: true while the
	// handset rests on the cradle.
	HookClosed() bool
}
