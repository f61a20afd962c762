package voice

import (
	"math"
	"sync"
	"time"

	"github.com/bellwetherlabs/ringdown/internal/relay"
)

// toneAmplitude keeps call-progress tones well under full scale so they
// stay comfortable in the earpiece.
const toneAmplitude = 0.3

// toneSpec describes one call-progress tone: the sine components and the
// on/off cadence. A zero cadence means the tone is continuous.
type toneSpec struct {
	freqs []float64
	on    time.Duration
	off   time.Duration
}

// Frequencies and cadences follow the North American precise tone plan.
var toneSpecs = map[relay.Sound]toneSpec{
	relay.SoundDialtone: {freqs: []float64{350, 440}},
	relay.SoundRingback: {freqs: []float64{440, 480}, on: 2 * time.Second, off: 4 * time.Second},
	relay.SoundHangup:   {freqs: []float64{480, 620}, on: 500 * time.Millisecond, off: 500 * time.Millisecond},
}

// ToneGenerator synthesizes the local call-progress tones the controller
// selects (dialtone while idle off-hook, ringback while a call is placed,
// hangup after the far end drops). It is the playback loop's fallback
// source: it produces samples only while a sound other than None is
// selected, so it never competes with live call audio.
type ToneGenerator struct {
	sampleRate int

	mu    sync.Mutex
	sound relay.Sound
	pos   int // sample offset into the current cadence cycle
}

// NewToneGenerator creates a generator that starts silent.
func NewToneGenerator(sampleRate int) *ToneGenerator {
	return &ToneGenerator{sampleRate: sampleRate, sound: relay.SoundNone}
}

// Play switches the active sound. Selecting the already-active sound does
// not restart its cadence.
func (g *ToneGenerator) Play(sound relay.Sound) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sound == sound {
		return
	}
	g.sound = sound
	g.pos = 0
}

// Current returns the active sound.
func (g *ToneGenerator) Current() relay.Sound {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sound
}

// NextChunk synthesizes the next n samples of the active tone, continuing
// phase and cadence from the previous call. Returns nil while the active
// sound is None.
func (g *ToneGenerator) NextChunk(n int) []float32 {
	g.mu.Lock()
	defer g.mu.Unlock()

	spec, ok := toneSpecs[g.sound]
	if !ok {
		return nil
	}

	onSamples := int(time.Duration(g.sampleRate) * spec.on / time.Second)
	cycle := onSamples + int(time.Duration(g.sampleRate)*spec.off/time.Second)
	// All tone frequencies are whole hertz, so one second is a whole number
	// of periods and wrapping there keeps the phase continuous.
	wrap := cycle
	if wrap == 0 {
		wrap = g.sampleRate
	}

	out := make([]float32, n)
	for i := range out {
		if cycle == 0 || g.pos < onSamples {
			var s float64
			for _, f := range spec.freqs {
				s += math.Sin(2 * math.Pi * f * float64(g.pos) / float64(g.sampleRate))
			}
			out[i] = float32(s * toneAmplitude / float64(len(spec.freqs)))
		}
		g.pos++
		if g.pos == wrap {
			g.pos = 0
		}
	}
	return out
}
