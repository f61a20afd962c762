// Package audio provides the PCM primitives shared by the Ringdown voice
// path: fixed-duration frames, the rolling capture buffer that produces
// them, Opus codec wrappers, the process-wide mute switch, and the
// per-peer playback mixer.
//
// All PCM flowing through this package is mono float32 in [-1, 1]. The
// sample rate is fixed per process and supplied by configuration; nothing
// in this package resamples.
package audio

import "time"

// FrameClass is one of the fixed Opus frame durations. Opus only accepts
// these six sizes, so the capture buffer always drains into one of them.
type FrameClass time.Duration

const (
	Frame2p5ms FrameClass = FrameClass(2500 * time.Microsecond)
	Frame5ms   FrameClass = FrameClass(5 * time.Millisecond)
	Frame10ms  FrameClass = FrameClass(10 * time.Millisecond)
	Frame20ms  FrameClass = FrameClass(20 * time.Millisecond)
	Frame40ms  FrameClass = FrameClass(40 * time.Millisecond)
	Frame60ms  FrameClass = FrameClass(60 * time.Millisecond)
)

// FrameClasses lists every valid frame duration, largest first. The order
// matters: the capture buffer drains greedily so that small, low-latency
// frames are only produced when there is not enough buffered audio for a
// larger, more bandwidth-efficient one.
var FrameClasses = [...]FrameClass{
	Frame60ms, Frame40ms, Frame20ms, Frame10ms, Frame5ms, Frame2p5ms,
}

// Duration returns the frame class as a time.Duration.
func (c FrameClass) Duration() time.Duration { return time.Duration(c) }

// Samples returns the number of mono PCM samples a frame of this class
// holds at the given sample rate.
func (c FrameClass) Samples(sampleRate int) int {
	return int(time.Duration(sampleRate) * time.Duration(c) / time.Second)
}

// Frame is a single fixed-duration chunk of mono PCM audio — the unit the
// codec encodes and the transport ships.
type Frame struct {
	// Data holds Class.Samples(rate) mono samples.
	Data []float32

	// Class is the duration class the frame was cut to.
	Class FrameClass
}

// Silence reports whether every sample in the frame is zero.
func (f Frame) Silence() bool {
	for _, s := range f.Data {
		if s != 0 {
			return false
		}
	}
	return true
}
