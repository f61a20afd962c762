package audio

import (
	"log/slog"
	"sync"
	"time"
)

// The device driver boundary. Concrete drivers (ALSA bindings on the
// phone, the in-memory device in devicetest) live outside this module's
// scope; the pipeline only sees these interfaces.

// CaptureStream is an open input stream. The driver pushes raw PCM
// batches, in its native [SampleFormat], on Samples from its own (possibly
// real-time priority) callback thread; the send must never block, so
// drivers use buffered channels and drop on overflow.
type CaptureStream interface {
	Samples() <-chan []byte
	Close() error
}

// PlaybackStream is an open output stream taking raw PCM in the device's
// native [SampleFormat]. Write hands samples to the driver best-effort; on
// underrun the driver substitutes silence rather than stalling its
// callback.
type PlaybackStream interface {
	Write(raw []byte) error
	Close() error
}

// Device opens capture and playback streams against the local audio
// hardware. Open calls may fail transiently (device unplugged, busy); the
// pipeline retries on a cooldown instead of treating that as fatal.
type Device interface {
	OpenCapture() (CaptureStream, error)
	OpenPlayback() (PlaybackStream, error)
	Format() SampleFormat
}

// defaultOpenCooldown is how long [Duplex] waits after a failed open
// before trying that side again.
const defaultOpenCooldown = 2 * time.Second

// Duplex manages the two independent streams of a [Device], opening each
// lazily on first use and re-opening after failure once the cooldown has
// passed. A missing stream degrades to silence/no-op — audio trouble must
// never take the call down. Duplex converts between the device's native
// sample format and the float32 PCM the rest of the pipeline works in.
type Duplex struct {
	device   Device
	format   SampleFormat
	cooldown time.Duration
	log      *slog.Logger

	mu         sync.Mutex
	capture    CaptureStream
	playback   PlaybackStream
	captureAt  time.Time // earliest next capture open attempt
	playbackAt time.Time
}

// NewDuplex wraps a device. logger may be nil.
func NewDuplex(device Device, logger *slog.Logger) *Duplex {
	if logger == nil {
		logger = slog.Default()
	}
	return &Duplex{
		device:   device,
		format:   device.Format(),
		cooldown: defaultOpenCooldown,
		log:      logger,
	}
}

// ReadCaptured returns every sample batch currently available from the
// capture stream without blocking. Returns nil when the stream is not open
// (and could not be opened yet) or no samples are pending.
func (d *Duplex) ReadCaptured() []float32 {
	stream := d.ensureCapture()
	if stream == nil {
		return nil
	}
	var samples []float32
	for {
		select {
		case batch, ok := <-stream.Samples():
			if !ok {
				d.dropCapture(stream)
				return samples
			}
			decoded, err := DecodeSamples(d.format, batch)
			if err != nil {
				d.log.Warn("dropping malformed capture batch", "err", err)
				continue
			}
			samples = append(samples, decoded...)
		default:
			return samples
		}
	}
}

// Play writes samples to the playback stream. A closed or unopenable
// stream makes Play a silent no-op.
func (d *Duplex) Play(samples []float32) {
	stream := d.ensurePlayback()
	if stream == nil {
		return
	}
	raw, err := EncodeSamples(d.format, samples)
	if err != nil {
		d.log.Warn("cannot encode playback samples", "err", err)
		return
	}
	if err := stream.Write(raw); err != nil {
		d.log.Warn("playback write failed, reopening stream", "err", err)
		d.dropPlayback(stream)
	}
}

// Close tears down whichever streams are open.
func (d *Duplex) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capture != nil {
		_ = d.capture.Close()
		d.capture = nil
	}
	if d.playback != nil {
		_ = d.playback.Close()
		d.playback = nil
	}
	return nil
}

func (d *Duplex) ensureCapture() CaptureStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capture != nil {
		return d.capture
	}
	if time.Now().Before(d.captureAt) {
		return nil
	}
	stream, err := d.device.OpenCapture()
	if err != nil {
		d.captureAt = time.Now().Add(d.cooldown)
		d.log.Warn("capture open failed, will retry", "err", err, "cooldown", d.cooldown)
		return nil
	}
	d.capture = stream
	return stream
}

func (d *Duplex) ensurePlayback() PlaybackStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playback != nil {
		return d.playback
	}
	if time.Now().Before(d.playbackAt) {
		return nil
	}
	stream, err := d.device.OpenPlayback()
	if err != nil {
		d.playbackAt = time.Now().Add(d.cooldown)
		d.log.Warn("playback open failed, will retry", "err", err, "cooldown", d.cooldown)
		return nil
	}
	d.playback = stream
	return stream
}

func (d *Duplex) dropCapture(stream CaptureStream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capture == stream {
		_ = stream.Close()
		d.capture = nil
		d.captureAt = time.Now().Add(d.cooldown)
	}
}

func (d *Duplex) dropPlayback(stream PlaybackStream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playback == stream {
		_ = stream.Close()
		d.playback = nil
		d.playbackAt = time.Now().Add(d.cooldown)
	}
}
