package call

import (
	"log/slog"
	"testing"
	"time"

	"github.com/bellwetherlabs/ringdown/internal/hardware"
	"github.com/bellwetherlabs/ringdown/internal/relay"
	"github.com/bellwetherlabs/ringdown/pkg/audio"
)

var testNumbers = []string{"0", "349", "4225", "34643664"}

// recordingSounds remembers every tone it was asked to play.
type recordingSounds struct {
	played []relay.Sound
}

func (s *recordingSounds) Play(sound relay.Sound) {
	s.played = append(s.played, sound)
}

func (s *recordingSounds) last() relay.Sound {
	if len(s.played) == 0 {
		return relay.SoundNone
	}
	return s.played[len(s.played)-1]
}

type rig struct {
	phone  *hardware.Emulated
	mute   *audio.MuteSwitch
	sounds *recordingSounds
	out    chan relay.ControlMessage
	in     chan relay.ControlMessage
	ctrl   *Controller
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		phone:  hardware.NewEmulated(),
		mute:   audio.NewMuteSwitch(),
		sounds: &recordingSounds{},
		out:    make(chan relay.ControlMessage, 16),
		in:     make(chan relay.ControlMessage, 16),
	}
	r.ctrl = New(Config{
		Phone:    r.phone,
		Numbers:  NewNumbers(testNumbers),
		Mute:     r.mute,
		Sounds:   r.sounds,
		Outgoing: r.out,
		Incoming: r.in,
		Logger:   slog.Default(),
	})
	return r
}

// tick runs n reconciliation passes.
func (r *rig) tick(n int) {
	for range n {
		r.ctrl.tick(time.Now())
	}
}

// sent drains and returns every message sent to the relay so far.
func (r *rig) sent() []relay.ControlMessage {
	var msgs []relay.ControlMessage
	for {
		select {
		case m := <-r.out:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func dials(msgs []relay.ControlMessage) []relay.ControlMessage {
	var out []relay.ControlMessage
	for _, m := range msgs {
		if m.Type == relay.ControlDial {
			out = append(out, m)
		}
	}
	return out
}

func TestDialKnownNumber_PlacesOneCall(t *testing.T) {
	r := newRig(t)

	for _, d := range []string{"3", "4", "9"} {
		r.phone.Dial(d)
		r.tick(1)
	}

	got := dials(r.sent())
	if len(got) != 1 {
		t.Fatalf("Dial messages = %d, want 1", len(got))
	}
	if got[0].Number != "349" {
		t.Errorf("dialed number = %q, want %q", got[0].Number, "349")
	}

	st := r.ctrl.State()
	if !st.InCall {
		t.Error("controller not in call after exact match")
	}
	if st.Muted || r.mute.Muted() {
		t.Error("microphone still muted after placing call")
	}
	if !r.phone.Ringing() {
		t.Error("bell not ringing while calling on-hook")
	}

	// Normal-mode dialing is disabled: further digits are discarded.
	r.phone.Dial("1")
	r.tick(1)
	if got := r.phone.DialedNumber(); got != "349" {
		t.Errorf("dial buffer after disabled dial = %q, want %q", got, "349")
	}
	if extra := dials(r.sent()); len(extra) != 0 {
		t.Errorf("extra Dial messages = %d, want 0", len(extra))
	}
}

func TestDialUnknownNumber_CoercedToOperator(t *testing.T) {
	r := newRig(t)

	r.phone.Dial("9")
	r.tick(3)

	if got := r.phone.DialedNumber(); got != Sentinel {
		t.Errorf("dial buffer = %q, want sentinel %q", got, Sentinel)
	}
	if got := dials(r.sent()); len(got) != 0 {
		t.Fatalf("Dial messages = %d, want 0 after coercion", len(got))
	}
	if r.ctrl.State().InCall {
		t.Error("coercion must not place a call")
	}
}

func TestDialPrefix_KeepsWaiting(t *testing.T) {
	r := newRig(t)

	r.phone.Dial("3")
	r.tick(1)
	r.phone.Dial("4")
	r.tick(1)

	if got := r.phone.DialedNumber(); got != "34" {
		t.Errorf("dial buffer = %q, want %q", got, "34")
	}
	if got := dials(r.sent()); len(got) != 0 {
		t.Errorf("Dial messages = %d, want 0 while prefix pending", len(got))
	}
}

func TestOffHookIdle_DialtoneAndHookReport(t *testing.T) {
	r := newRig(t)

	r.phone.SetHookClosed(false)
	r.tick(1)

	msgs := r.sent()
	if len(msgs) != 1 || msgs[0].Type != relay.ControlHook {
		t.Fatalf("messages = %+v, want single Hook", msgs)
	}
	if *msgs[0].State != false {
		t.Error("Hook state = true, want false (off-hook)")
	}
	if r.sounds.last() != relay.SoundDialtone {
		t.Errorf("sound = %q, want dialtone", r.sounds.last())
	}
}

func TestOnHook_EndsCallIdempotently(t *testing.T) {
	r := newRig(t)

	// Place a call, then answer it by lifting the handset.
	r.phone.Dial("349")
	r.tick(1)
	r.phone.SetHookClosed(false)
	r.tick(1)

	st := r.ctrl.State()
	if !st.InCall || st.Ringing || r.phone.Ringing() {
		t.Fatalf("state after answer = %+v, ringing=%v", st, r.phone.Ringing())
	}
	r.sent() // drain

	// Hang up.
	r.phone.SetHookClosed(true)
	r.tick(1)

	msgs := r.sent()
	if len(msgs) != 1 || msgs[0].Type != relay.ControlHook || *msgs[0].State != true {
		t.Fatalf("messages = %+v, want single Hook{true}", msgs)
	}

	st = r.ctrl.State()
	if st.InCall || st.Ringing {
		t.Errorf("state after hangup = %+v, want idle", st)
	}
	if !r.mute.Muted() {
		t.Error("microphone not muted after hangup")
	}
	if r.phone.DialedNumber() != "" {
		t.Errorf("dial buffer = %q, want empty", r.phone.DialedNumber())
	}

	// Dialing works again.
	r.phone.Dial("3")
	r.tick(1)
	if r.phone.DialedNumber() != "3" {
		t.Error("dialing not re-enabled after hangup")
	}

	// A second on-hook tick changes nothing.
	r.tick(1)
	for _, m := range r.sent() {
		if m.Type == relay.ControlHook {
			t.Error("duplicate Hook message on steady hook state")
		}
	}
}

func TestIncomingRing_AnswerStopsBellAndUnmutes(t *testing.T) {
	r := newRig(t)

	r.in <- relay.Ring(true)
	r.tick(1)

	if !r.phone.Ringing() {
		t.Fatal("bell not ringing after Ring{true}")
	}

	r.phone.SetHookClosed(false)
	r.tick(1)

	st := r.ctrl.State()
	if r.phone.Ringing() || st.Ringing {
		t.Error("bell still ringing after answer")
	}
	if !st.InCall {
		t.Error("not in call after answering")
	}
	if r.mute.Muted() {
		t.Error("microphone still muted after answering")
	}

	var hooks int
	for _, m := range r.sent() {
		if m.Type == relay.ControlHook {
			hooks++
		}
	}
	if hooks != 1 {
		t.Errorf("Hook messages = %d, want 1", hooks)
	}
}

func TestInCallDigits_ForwardedIndividually(t *testing.T) {
	r := newRig(t)

	// Get into a call.
	r.in <- relay.Ring(true)
	r.tick(1)
	r.phone.SetHookClosed(false)
	r.tick(1)
	r.sent()

	r.phone.Dial("5")
	r.tick(1)
	r.phone.Dial("7")
	r.tick(1)

	got := dials(r.sent())
	if len(got) != 2 {
		t.Fatalf("Dial messages = %d, want 2", len(got))
	}
	if got[0].Number != "5" || got[1].Number != "7" {
		t.Errorf("forwarded digits = %q, %q, want 5, 7", got[0].Number, got[1].Number)
	}
	if r.phone.DialedNumber() != "" {
		t.Errorf("dial buffer = %q, want cleared after forwarding", r.phone.DialedNumber())
	}
}

func TestIncomingMute_RoundTrip(t *testing.T) {
	r := newRig(t)
	before := r.ctrl.State()

	r.in <- relay.Mute(false)
	r.tick(1)
	if r.mute.Muted() {
		t.Error("mute switch still on after Mute{false}")
	}

	r.in <- relay.Mute(true)
	r.tick(1)
	if !r.mute.Muted() {
		t.Error("mute switch off after Mute{true}")
	}

	after := r.ctrl.State()
	before.Muted, after.Muted = false, false
	if before != after {
		t.Errorf("mute round trip changed unrelated state: before %+v, after %+v", before, after)
	}
}

func TestIncomingClearDial_ResetsBuffer(t *testing.T) {
	r := newRig(t)

	r.phone.Dial("34")
	r.tick(1)

	r.in <- relay.ClearDial()
	r.tick(1)

	if r.phone.DialedNumber() != "" {
		t.Errorf("dial buffer = %q, want empty after ClearDial", r.phone.DialedNumber())
	}
}

func TestIncomingPlaySoundNone_ReenablesDialing(t *testing.T) {
	r := newRig(t)

	r.phone.Dial("349")
	r.tick(1) // call placed, dialing disabled

	r.in <- relay.PlaySound(relay.SoundHangup)
	r.tick(1)
	if r.sounds.last() != relay.SoundHangup {
		t.Errorf("sound = %q, want hangup", r.sounds.last())
	}

	r.in <- relay.ClearDial()
	r.in <- relay.PlaySound(relay.SoundNone)
	r.tick(1)
	r.sent()

	// Dialing accepts digits again; in-call they are forwarded immediately.
	r.phone.Dial("4")
	r.tick(1)
	got := dials(r.sent())
	if len(got) != 1 || got[0].Number != "4" {
		t.Errorf("forwarded digits = %+v, want single Dial{4}", got)
	}
}

func TestMalformedIncoming_Dropped(t *testing.T) {
	r := newRig(t)

	r.in <- relay.ControlMessage{Type: relay.ControlRing} // missing state
	r.in <- relay.ControlMessage{Type: "Bogus"}
	r.tick(1)

	if r.phone.Ringing() {
		t.Error("malformed Ring message was applied")
	}
	if st := r.ctrl.State(); st.InCall || st.Ringing {
		t.Errorf("state changed by malformed messages: %+v", st)
	}
}
