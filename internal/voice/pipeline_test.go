package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bellwetherlabs/ringdown/internal/relay"
	"github.com/bellwetherlabs/ringdown/pkg/audio"
	"github.com/bellwetherlabs/ringdown/pkg/audio/mock"
)

const pipelineRate = 48000

// sendRecorder collects packets handed to the transport side.
type sendRecorder struct {
	mu      sync.Mutex
	packets [][]byte
}

func (s *sendRecorder) Send(packet []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, packet)
}

func (s *sendRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

func (s *sendRecorder) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.packets) == 0 {
		return nil
	}
	return s.packets[len(s.packets)-1]
}

type pipelineRig struct {
	device *mock.Device
	mute   *audio.MuteSwitch
	mixer  *audio.Mixer
	tones  *ToneGenerator
	sender *sendRecorder
	p      *Pipeline
	cancel context.CancelFunc
}

func startPipeline(t *testing.T, device *mock.Device) *pipelineRig {
	t.Helper()
	r := &pipelineRig{
		device: device,
		mute:   audio.NewMuteSwitch(),
		mixer:  audio.NewMixer(),
		tones:  NewToneGenerator(pipelineRate),
		sender: &sendRecorder{},
	}
	p, err := New(Config{
		Device:     device,
		SampleRate: pipelineRate,
		Mute:       r.mute,
		Mixer:      r.mixer,
		Tones:      r.tones,
		Sender:     r.sender,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.p = p

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	t.Cleanup(cancel)
	go p.Run(ctx)
	return r
}

func eventually(t *testing.T, within time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v: %s", within, what)
}

func TestPipeline_CaptureEncodesAndSends(t *testing.T) {
	r := startPipeline(t, &mock.Device{})
	r.mute.Set(false)

	samples := make([]float32, audio.Frame60ms.Samples(pipelineRate))
	for i := range samples {
		samples[i] = 0.5
	}
	r.device.InjectCapture(samples)

	eventually(t, 2*time.Second, "encoded packet sent", func() bool {
		return r.sender.count() >= 1
	})
	if packet := r.sender.last(); len(packet) == 0 {
		t.Error("sent packet is empty")
	}
}

func TestPipeline_MutedCaptureSendsSilence(t *testing.T) {
	r := startPipeline(t, &mock.Device{})
	// The switch starts muted: frames still flow, zeroed.

	loud := make([]float32, audio.Frame60ms.Samples(pipelineRate))
	for i := range loud {
		loud[i] = 0.9
	}
	r.device.InjectCapture(loud)

	eventually(t, 2*time.Second, "muted packet sent", func() bool {
		return r.sender.count() >= 1
	})

	decoder, err := audio.NewDecoder(pipelineRate)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	pcm, err := decoder.Decode(r.sender.last())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if peak := maxAbs(pcm); peak > 0.01 {
		t.Errorf("muted frame peaks at %v, want near silence", peak)
	}
}

func TestPipeline_PlaybackForwardsMixerRuns(t *testing.T) {
	r := startPipeline(t, &mock.Device{})
	r.mute.Set(false)

	ch := r.mixer.OpenChannel()
	defer r.mixer.CloseChannel(ch)
	run := []float32{0.1, 0.2, 0.3, 0.4}
	ch.Push(1, run)

	eventually(t, 2*time.Second, "mixer run played", func() bool {
		return len(r.device.Played()) >= len(run)
	})
	played := r.device.Played()
	for i, want := range run {
		if played[i] != want {
			t.Fatalf("played[%d] = %v, want %v", i, played[i], want)
		}
	}
}

func TestPipeline_MutedPlaybackIsSilence(t *testing.T) {
	r := startPipeline(t, &mock.Device{})
	// The switch starts muted: remote audio plays zeroed, same as capture.

	ch := r.mixer.OpenChannel()
	defer r.mixer.CloseChannel(ch)
	run := []float32{0.5, -0.5, 0.5, -0.5}
	ch.Push(1, run)

	eventually(t, 2*time.Second, "mixer run played", func() bool {
		return len(r.device.Played()) >= len(run)
	})
	for i, got := range r.device.Played()[:len(run)] {
		if got != 0 {
			t.Fatalf("played[%d] = %v, want 0 while muted", i, got)
		}
	}
}

func TestPipeline_TonesFillPlayback(t *testing.T) {
	r := startPipeline(t, &mock.Device{})
	r.tones.Play(relay.SoundDialtone)

	eventually(t, 2*time.Second, "tone samples played", func() bool {
		played := r.device.Played()
		return len(played) > 0 && maxAbs(played) > 0.05
	})
}

func TestPipeline_DeviceFailureDegradesSilent(t *testing.T) {
	device := &mock.Device{
		OpenCaptureError:  errors.New("device busy"),
		OpenPlaybackError: errors.New("device busy"),
	}
	r := startPipeline(t, device)
	r.tones.Play(relay.SoundDialtone)

	time.Sleep(100 * time.Millisecond)
	if got := r.sender.count(); got != 0 {
		t.Errorf("packets sent with no capture stream = %d, want 0", got)
	}
	if played := r.device.Played(); len(played) != 0 {
		t.Errorf("samples played with no playback stream = %d, want 0", len(played))
	}
}

func TestPipeline_MuteClearsPendingCapture(t *testing.T) {
	r := startPipeline(t, &mock.Device{})
	r.mute.Set(false)

	// Less than the smallest frame stays buffered.
	partial := make([]float32, audio.Frame2p5ms.Samples(pipelineRate)-1)
	for i := range partial {
		partial[i] = 0.5
	}
	r.device.InjectCapture(partial)
	time.Sleep(50 * time.Millisecond)

	r.mute.Set(true)
	r.mute.Set(false)
	time.Sleep(50 * time.Millisecond)

	// Nothing was ever a full frame, and the mute cleared the remainder.
	if got := r.sender.count(); got != 0 {
		t.Errorf("packets after mute cleared buffer = %d, want 0", got)
	}
}
