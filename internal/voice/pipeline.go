// Package voice runs the audio pipeline between the local device and the
// peer transport: capture → frame cutting → mute gate → Opus encode →
// send, and mixer → playback with locally synthesized call-progress tones
// as the fallback source.
//
// The pipeline degrades rather than fails: a device that cannot be opened
// leaves the call running silent and is retried on a cooldown, and an
// encode error skips that frame only.
package voice

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bellwetherlabs/ringdown/internal/observe"
	"github.com/bellwetherlabs/ringdown/pkg/audio"
)

// captureInterval is how often the capture loop drains the device. Well
// under the smallest frame class so buffered audio never waits long.
const captureInterval = 10 * time.Millisecond

// toneChunk is the synthesis granularity for call-progress tones.
const toneChunk = 20 * time.Millisecond

// Sender delivers one encoded voice packet to every established peer
// session. Implemented by the session negotiator.
type Sender interface {
	Send(packet []byte)
}

// Config assembles a [Pipeline].
type Config struct {
	// Device is the local audio hardware.
	Device audio.Device

	// SampleRate for capture, playback and the codec.
	SampleRate int

	// Mute gates outgoing audio. Muted capture is zeroed, not dropped,
	// so the encoder's state and the packet cadence stay intact.
	Mute *audio.MuteSwitch

	// Mixer supplies decoded remote audio for playback.
	Mixer *audio.Mixer

	// Tones supplies call-progress audio when no remote audio plays.
	Tones *ToneGenerator

	// Sender receives encoded packets.
	Sender Sender

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Pipeline owns the capture and playback loops.
type Pipeline struct {
	sampleRate int

	duplex  *audio.Duplex
	buffer  *audio.CaptureBuffer
	encoder *audio.Encoder
	mute    *audio.MuteSwitch
	mixer   *audio.Mixer
	tones   *ToneGenerator
	sender  Sender
	log     *slog.Logger
	metrics *observe.Metrics
}

// New builds a pipeline. The encoder is created here; failure is fatal
// for the voice plane and returned to the caller.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	encoder, err := audio.NewEncoder(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger.With("component", "voice")
	return &Pipeline{
		sampleRate: cfg.SampleRate,

		duplex:  audio.NewDuplex(cfg.Device, log),
		buffer:  audio.NewCaptureBuffer(cfg.SampleRate),
		encoder: encoder,
		mute:    cfg.Mute,
		mixer:   cfg.Mixer,
		tones:   cfg.Tones,
		sender:  cfg.Sender,
		log:     log,
		metrics: cfg.Metrics,
	}, nil
}

// Run drives both loops until ctx is cancelled, then closes the device
// streams.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.duplex.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.captureLoop(gctx) })
	g.Go(func() error { return p.playbackLoop(gctx) })
	return g.Wait()
}

// captureLoop drains the capture stream, cuts frames, applies the mute
// gate, encodes and sends. Muting clears the rolling buffer so a later
// unmute does not replay stale audio.
func (p *Pipeline) captureLoop(ctx context.Context) error {
	ticker := time.NewTicker(captureInterval)
	defer ticker.Stop()
	muteCh := p.mute.Subscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case muted := <-muteCh:
			if muted {
				p.buffer.Clear()
			}
		case <-ticker.C:
			samples := p.duplex.ReadCaptured()
			if len(samples) == 0 {
				continue
			}
			p.buffer.Push(samples)
			for _, frame := range p.buffer.ReadNextFrames() {
				p.encodeAndSend(ctx, frame)
			}
		}
	}
}

func (p *Pipeline) encodeAndSend(ctx context.Context, frame audio.Frame) {
	p.mute.ZeroIfMuted(frame.Data)

	start := time.Now()
	packet, err := p.encoder.Encode(frame)
	if err != nil {
		p.log.Warn("encode failed, frame skipped",
			"class", frame.Class.Duration(), "err", err)
		p.metrics.RecordFrameDropped(ctx, "encode")
		return
	}
	p.metrics.EncodeDuration.Record(ctx, time.Since(start).Seconds())
	p.metrics.RecordFrameEncoded(ctx, frame.Class.Duration().String())

	p.sender.Send(packet)
}

// playbackLoop forwards decoded remote audio to the device and fills the
// gaps with the active call-progress tone. The mute gate applies to remote
// audio just as it does to capture; tones are exempt, so the dialtone still
// plays on an idle handset.
func (p *Pipeline) playbackLoop(ctx context.Context) error {
	ticker := time.NewTicker(toneChunk)
	defer ticker.Stop()
	chunkSamples := audio.FrameClass(toneChunk).Samples(p.sampleRate)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.mixer.Wait():
			for run := p.mixer.Next(); run != nil; run = p.mixer.Next() {
				p.duplex.Play(p.mute.ZeroIfMuted(run))
			}
		case <-ticker.C:
			if chunk := p.tones.NextChunk(chunkSamples); chunk != nil {
				p.duplex.Play(chunk)
			}
		}
	}
}
