// Package mock provides an in-memory implementation of [audio.Device] for
// use in unit tests and headless runs.
//
// The mock is safe for concurrent use. Tests inject capture samples with
// [Device.InjectCapture] and inspect what the pipeline played with
// [Device.Played]; open failures are simulated by setting the exported
// error fields.
package mock

import (
	"sync"

	"github.com/bellwetherlabs/ringdown/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// Device is a mock [audio.Device] backed by channels and slices.
type Device struct {
	mu sync.Mutex

	// OpenCaptureError, when non-nil, is returned by OpenCapture.
	OpenCaptureError error

	// OpenPlaybackError, when non-nil, is returned by OpenPlayback.
	OpenPlaybackError error

	// SampleFormat is the device's native PCM representation, returned
	// by Format and used to encode injected capture samples. The zero
	// value is f32.
	SampleFormat audio.SampleFormat

	// CallCountOpenCapture records how many times OpenCapture was called.
	CallCountOpenCapture int

	// CallCountOpenPlayback records how many times OpenPlayback was called.
	CallCountOpenPlayback int

	captureCh chan []byte
	played    []float32
}

// captureBufferLen matches what a driver would use: deep enough to absorb
// scheduling hiccups, small enough that overflow drops instead of growing.
const captureBufferLen = 256

// OpenCapture implements [audio.Device].
func (d *Device) OpenCapture() (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenCapture++
	if d.OpenCaptureError != nil {
		return nil, d.OpenCaptureError
	}
	if d.captureCh == nil {
		d.captureCh = make(chan []byte, captureBufferLen)
	}
	return &captureStream{device: d}, nil
}

// OpenPlayback implements [audio.Device].
func (d *Device) OpenPlayback() (audio.PlaybackStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenPlayback++
	if d.OpenPlaybackError != nil {
		return nil, d.OpenPlaybackError
	}
	return &playbackStream{device: d}, nil
}

// Format implements [audio.Device].
func (d *Device) Format() audio.SampleFormat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.SampleFormat
}

// InjectCapture makes samples available to the next capture read, as if
// the microphone delivered them, encoded in the device's native format.
// Drops on overflow like a real driver callback would.
func (d *Device) InjectCapture(samples []float32) {
	d.mu.Lock()
	ch := d.captureCh
	if ch == nil {
		ch = make(chan []byte, captureBufferLen)
		d.captureCh = ch
	}
	format := d.SampleFormat
	d.mu.Unlock()

	raw, err := audio.EncodeSamples(format, samples)
	if err != nil {
		return
	}
	select {
	case ch <- raw:
	default:
	}
}

// Played returns a copy of every sample written to playback so far.
func (d *Device) Played() []float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float32, len(d.played))
	copy(out, d.played)
	return out
}

type captureStream struct {
	device *Device
}

func (s *captureStream) Samples() <-chan []byte {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.device.captureCh
}

func (s *captureStream) Close() error { return nil }

type playbackStream struct {
	device *Device
}

func (s *playbackStream) Write(raw []byte) error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	samples, err := audio.DecodeSamples(s.device.SampleFormat, raw)
	if err != nil {
		return err
	}
	s.device.played = append(s.device.played, samples...)
	return nil
}

func (s *playbackStream) Close() error { return nil }
