// Package app wires the Ringdown subsystems into a running phone.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run supervises their loops under one errgroup until the
// context is cancelled.
//
// For testing, inject doubles via functional options (WithPhone,
// WithDevice). When an option is not provided, New creates the default
// implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bellwetherlabs/ringdown/internal/call"
	"github.com/bellwetherlabs/ringdown/internal/config"
	"github.com/bellwetherlabs/ringdown/internal/hardware"
	"github.com/bellwetherlabs/ringdown/internal/relay"
	"github.com/bellwetherlabs/ringdown/internal/session"
	"github.com/bellwetherlabs/ringdown/internal/voice"
	"github.com/bellwetherlabs/ringdown/pkg/audio"
	"github.com/bellwetherlabs/ringdown/pkg/audio/mock"
)

// queueCap sizes the channels between subsystems. Producers never block;
// a full queue drops, and the edge-triggered protocol resynchronises.
const queueCap = 16

// App owns all subsystem lifetimes.
type App struct {
	cfg    *config.Config
	log    *slog.Logger
	nodeID string

	phone  hardware.Phone
	device audio.Device

	mute  *audio.MuteSwitch
	mixer *audio.Mixer
	tones *voice.ToneGenerator

	controller *call.Controller
	control    *relay.ControlClient
	discovery  *relay.DiscoveryClient
	negotiator *session.Negotiator
	pipeline   *voice.Pipeline

	// voiceErr records why the voice plane is down. Control and signaling
	// keep running without it.
	voiceErr error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPhone injects a phone implementation instead of the default.
func WithPhone(p hardware.Phone) Option {
	return func(a *App) { a.phone = p }
}

// WithDevice injects an audio device instead of the default.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithNodeID fixes the discovery identity instead of generating one.
func WithNodeID(id string) Option {
	return func(a *App) { a.nodeID = id }
}

// New wires all subsystems together. The voice plane (endpoint, codec,
// device pipeline) may fail to initialise; that is recorded and the phone
// still runs its control and signaling planes.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, log: logger}
	for _, o := range opts {
		o(a)
	}
	if a.nodeID == "" {
		a.nodeID = uuid.NewString()
	}
	if a.phone == nil {
		// GPIO driver bindings are injected by the platform build; without
		// them the phone runs emulated.
		a.phone = hardware.NewEmulated()
		a.log.Info("no GPIO lines wired, using emulated phone")
	}
	if a.device == nil {
		a.device = &mock.Device{}
		a.log.Info("no audio device wired, using in-memory device")
	}

	a.mute = audio.NewMuteSwitch()
	a.mixer = audio.NewMixer()
	a.tones = voice.NewToneGenerator(cfg.Audio.SampleRate)

	controlOut := make(chan relay.ControlMessage, queueCap)
	controlIn := make(chan relay.ControlMessage, queueCap)
	signalingOut := make(chan relay.SignalingMessage, queueCap)
	signalingIn := make(chan relay.SignalingMessage, queueCap)

	a.controller = call.New(call.Config{
		Phone:    a.phone,
		Numbers:  call.NewNumbers(cfg.Numbers),
		Mute:     a.mute,
		Sounds:   a.tones,
		Outgoing: controlOut,
		Incoming: controlIn,
		Logger:   a.log,
	})

	a.control = relay.NewControlClient(relay.ControlConfig{
		URL:            cfg.Relay.ControlURL,
		APIKey:         cfg.Relay.APIKey,
		ReconnectDelay: cfg.Relay.ReconnectDelay,
		Outgoing:       controlOut,
		Incoming:       controlIn,
		Logger:         a.log,
	})

	a.discovery = relay.NewDiscoveryClient(relay.DiscoveryConfig{
		URL:            cfg.Relay.DiscoveryURL,
		APIKey:         cfg.Relay.APIKey,
		NodeID:         a.nodeID,
		ReconnectDelay: cfg.Relay.ReconnectDelay,
		Outgoing:       signalingOut,
		Incoming:       signalingIn,
		Logger:         a.log,
	})

	a.initVoice(signalingIn, signalingOut)
	return a, nil
}

// initVoice builds the negotiator and audio pipeline. Failure leaves the
// voice plane down without touching the planes already wired.
func (a *App) initVoice(signalingIn <-chan relay.SignalingMessage, signalingOut chan<- relay.SignalingMessage) {
	negotiator, err := session.NewNegotiator(session.NegotiatorConfig{
		NodeID:         a.nodeID,
		Strategy:       a.cfg.Session.Strategy,
		STUNServers:    a.cfg.Session.STUNServers,
		AdvertiseHost:  a.cfg.Session.AdvertiseHost,
		ConnectTimeout: a.cfg.Session.ConnectTimeout,
		SampleRate:     a.cfg.Audio.SampleRate,
		Mixer:          a.mixer,
		Incoming:       signalingIn,
		Outgoing:       signalingOut,
		Logger:         a.log,
	})
	if err != nil {
		a.voiceErr = fmt.Errorf("app: init negotiator: %w", err)
		return
	}

	pipeline, err := voice.New(voice.Config{
		Device:     a.device,
		SampleRate: a.cfg.Audio.SampleRate,
		Mute:       a.mute,
		Mixer:      a.mixer,
		Tones:      a.tones,
		Sender:     negotiator,
		Logger:     a.log,
	})
	if err != nil {
		a.voiceErr = fmt.Errorf("app: init voice pipeline: %w", err)
		return
	}

	a.negotiator = negotiator
	a.pipeline = pipeline
}

// NodeID returns the discovery identity of this phone.
func (a *App) NodeID() string { return a.nodeID }

// VoiceErr reports why the voice plane is disabled, or nil.
func (a *App) VoiceErr() error { return a.voiceErr }

// Run supervises every subsystem loop until ctx is cancelled. The first
// task failure cancels the rest.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.controller.Run(gctx) })
	g.Go(func() error { return a.control.Run(gctx) })
	g.Go(func() error { return a.discovery.Run(gctx) })

	if a.voiceErr != nil {
		a.log.Error("voice plane disabled", "err", a.voiceErr)
	} else {
		g.Go(func() error { return a.negotiator.Run(gctx) })
		g.Go(func() error { return a.pipeline.Run(gctx) })
	}

	if a.cfg.Server.MetricsAddr != "" {
		g.Go(func() error { return a.serveMetrics(gctx) })
	}

	a.log.Info("phone running",
		"side", a.cfg.Side,
		"node_id", a.nodeID,
		"strategy", a.cfg.Session.Strategy,
		"voice", a.voiceErr == nil,
	)
	return g.Wait()
}

// Compile-time interface assertion: the negotiator is the pipeline's
// packet sink.
var _ voice.Sender = (*session.Negotiator)(nil)
