package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/bellwetherlabs/ringdown/internal/hardware"
	"github.com/bellwetherlabs/ringdown/internal/observe"
	"github.com/bellwetherlabs/ringdown/internal/relay"
	"github.com/bellwetherlabs/ringdown/pkg/audio"
)

// SoundPlayer plays locally generated call-progress tones into the handset.
// Play replaces whatever is currently playing; [relay.SoundNone] stops
// playback.
type SoundPlayer interface {
	Play(sound relay.Sound)
}

// State is a snapshot of the controller's call state.
type State struct {
	// HookClosed reports whether the handset is on the cradle.
	HookClosed bool

	// InCall reports whether a call has been placed or answered and not yet
	// torn down.
	InCall bool

	// Ringing reports whether the bell is currently being driven.
	Ringing bool

	// Muted mirrors the microphone mute switch.
	Muted bool
}

// Config carries the collaborators a [Controller] reconciles on every tick.
type Config struct {
	// Phone is the debounced hardware view the controller reads and drives.
	Phone hardware.Phone

	// Numbers is the dial plan used to classify dialed digits.
	Numbers *Numbers

	// Mute is the shared microphone mute switch for the audio pipeline.
	Mute *audio.MuteSwitch

	// Sounds plays call-progress tones into the handset. Optional; when nil
	// no tones are played.
	Sounds SoundPlayer

	// Outgoing receives control messages for the relay. Sends never block;
	// messages are dropped when the channel is full.
	Outgoing chan<- relay.ControlMessage

	// Incoming delivers control messages from the relay.
	Incoming <-chan relay.ControlMessage

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Controller reconciles phone hardware state with relay control traffic. It
// owns the call lifecycle: collecting dialed digits, placing calls, ringing,
// answering, and tearing down when the handset goes back on the cradle.
//
// Controller is not safe for concurrent use; all interaction goes through
// [Controller.Run] (or tick-by-tick in tests).
type Controller struct {
	phone   hardware.Phone
	numbers *Numbers
	mute    *audio.MuteSwitch
	sounds  SoundPlayer
	out     chan<- relay.ControlMessage
	in      <-chan relay.ControlMessage
	log     *slog.Logger
	metrics *observe.Metrics

	state      State
	lastDialed string
}

// noSounds is the fallback SoundPlayer when none is configured.
type noSounds struct{}

func (noSounds) Play(relay.Sound) {}

// New creates a Controller. The phone starts on-hook with the bell off,
// dialing enabled, and the microphone muted.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Sounds == nil {
		cfg.Sounds = noSounds{}
	}

	c := &Controller{
		phone:   cfg.Phone,
		numbers: cfg.Numbers,
		mute:    cfg.Mute,
		sounds:  cfg.Sounds,
		out:     cfg.Outgoing,
		in:      cfg.Incoming,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}

	c.phone.Ring(false)
	c.phone.EnableDialing(true)
	c.mute.Set(true)
	c.state = State{HookClosed: true, Muted: true}

	return c
}

// State returns a snapshot of the current call state.
func (c *Controller) State() State {
	return c.state
}

// Run drives the reconciliation loop at [hardware.PollInterval] until ctx is
// cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(hardware.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

// tick performs one reconciliation pass: sample the hardware, react to newly
// dialed digits, react to hook edges, then apply pending relay messages.
func (c *Controller) tick(now time.Time) {
	c.phone.Update(now)
	c.reconcileDialed()
	c.reconcileHook()
	c.applyIncoming()
}

// reconcileDialed reacts to changes in the dial buffer. During a call every
// committed digit is forwarded immediately; otherwise the buffer is matched
// against the dial plan once it stops being a viable prefix.
func (c *Controller) reconcileDialed() {
	dialed := c.phone.DialedNumber()
	if dialed == c.lastDialed {
		return
	}
	if dialed == "" {
		c.lastDialed = ""
		return
	}

	if c.state.InCall {
		// In-call digits are touch-tone style commands for the far side.
		digit := dialed[len(dialed)-1:]
		c.send(relay.Dial(digit))
		c.phone.ClearDialed()
		c.lastDialed = ""
		return
	}

	switch c.numbers.Match(dialed) {
	case MatchPrefix:
		c.lastDialed = dialed

	case MatchNone:
		c.log.Info("unknown number dialed, coercing to operator",
			"dialed", dialed, "operator", Sentinel)
		c.metrics.DialsCoerced.Add(context.Background(), 1)
		c.phone.SetDialedNumber(Sentinel)
		c.lastDialed = Sentinel

	case MatchExact:
		c.lastDialed = dialed
		c.placeCall(dialed)
	}
}

// placeCall transitions to in_call: dialing is disabled, the microphone is
// unmuted, and the number is announced to the relay. When the handset is
// still on the cradle the local bell rings until the call is answered.
func (c *Controller) placeCall(number string) {
	c.log.Info("placing call", "number", number)
	c.metrics.RecordCallPlaced(context.Background(), number)

	c.phone.EnableDialing(false)
	c.state.InCall = true
	c.setMuted(false)
	c.sounds.Play(relay.SoundNone)
	c.send(relay.Dial(number))

	if c.state.HookClosed {
		c.phone.Ring(true)
		c.state.Ringing = true
	}
}

// reconcileHook reacts to hook edges. Every edge is reported to the relay;
// going on-hook tears down any call, going off-hook answers a ringing call
// or, when idle, starts the dialtone.
func (c *Controller) reconcileHook() {
	hookClosed := c.phone.HookClosed()
	if hookClosed == c.state.HookClosed {
		return
	}
	c.state.HookClosed = hookClosed
	c.send(relay.Hook(hookClosed))

	if hookClosed {
		if c.state.InCall || c.state.Ringing {
			c.endCall()
		}
		c.sounds.Play(relay.SoundNone)
		return
	}

	if c.state.Ringing {
		c.answer()
		return
	}
	if !c.state.InCall {
		c.sounds.Play(relay.SoundDialtone)
	}
}

// endCall returns the phone to idle: bell off, microphone muted, dial buffer
// cleared, dialing re-enabled. Safe to call when already idle.
func (c *Controller) endCall() {
	c.log.Info("call ended")

	c.state.InCall = false
	c.state.Ringing = false
	c.phone.Ring(false)
	c.setMuted(true)
	c.phone.ClearDialed()
	c.phone.EnableDialing(true)
	c.lastDialed = ""
}

// answer accepts a ringing call: bell off, microphone open, dial buffer
// cleared so in-call digits start fresh.
func (c *Controller) answer() {
	c.log.Info("call answered")

	c.state.Ringing = false
	c.state.InCall = true
	c.phone.Ring(false)
	c.setMuted(false)
	c.phone.ClearDialed()
	c.phone.EnableDialing(true)
	c.lastDialed = ""
	c.sounds.Play(relay.SoundNone)
}

// applyIncoming drains pending relay messages without blocking. Malformed
// messages and outbound-only types are dropped with a log line.
func (c *Controller) applyIncoming() {
	for {
		select {
		case msg := <-c.in:
			if err := msg.Validate(); err != nil {
				c.log.Warn("dropping malformed control message", "err", err)
				continue
			}
			c.apply(msg)
		default:
			return
		}
	}
}

// apply executes a single validated relay message.
func (c *Controller) apply(msg relay.ControlMessage) {
	switch msg.Type {
	case relay.ControlRing:
		c.phone.Ring(*msg.State)
		c.state.Ringing = *msg.State

	case relay.ControlClearDial:
		c.phone.ClearDialed()
		c.phone.EnableDialing(true)
		c.lastDialed = ""

	case relay.ControlPlaySound:
		c.sounds.Play(msg.Sound)
		if msg.Sound == relay.SoundNone {
			c.phone.EnableDialing(true)
		}

	case relay.ControlMute:
		c.setMuted(*msg.State)

	default:
		c.log.Warn("dropping unexpected control message", "type", msg.Type)
	}
}

// setMuted updates the shared mute switch and the mirrored state bit.
func (c *Controller) setMuted(muted bool) {
	c.mute.Set(muted)
	c.state.Muted = muted
}

// send forwards a control message to the relay without blocking. A full
// channel drops the message; the relay resynchronises on hook edges.
func (c *Controller) send(msg relay.ControlMessage) {
	select {
	case c.out <- msg:
	default:
		c.log.Warn("control channel backlogged, dropping message", "type", msg.Type)
	}
}
