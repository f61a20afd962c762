package audio_test

import (
	"testing"

	"github.com/bellwetherlabs/ringdown/pkg/audio"
)

func TestMixer_ArenaReusesIndices(t *testing.T) {
	m := audio.NewMixer()

	a := m.OpenChannel()
	b := m.OpenChannel()
	if a.ID() == b.ID() {
		t.Fatalf("two open channels share id %d", a.ID())
	}

	m.CloseChannel(a)
	c := m.OpenChannel()
	if c.ID() != a.ID() {
		t.Errorf("reopened channel id = %d, want reclaimed %d", c.ID(), a.ID())
	}
	if m.ChannelCount() != 2 {
		t.Errorf("ChannelCount = %d, want 2", m.ChannelCount())
	}
}

func TestMixer_NextForwardsVerbatim(t *testing.T) {
	m := audio.NewMixer()
	ch := m.OpenChannel()

	ch.Push(1, []float32{0.1, 0.2})
	ch.Push(2, []float32{0.3})

	if got := m.Next(); len(got) != 2 || got[0] != 0.1 || got[1] != 0.2 {
		t.Fatalf("first Next = %v, want [0.1 0.2]", got)
	}
	if got := m.Next(); len(got) != 1 || got[0] != 0.3 {
		t.Fatalf("second Next = %v, want [0.3]", got)
	}
	if got := m.Next(); got != nil {
		t.Fatalf("drained mixer returned %v", got)
	}
	if ch.LastSeq() != 2 {
		t.Errorf("LastSeq = %d, want 2", ch.LastSeq())
	}
}

func TestMixer_PushAfterCloseIsDropped(t *testing.T) {
	m := audio.NewMixer()
	ch := m.OpenChannel()
	m.CloseChannel(ch)

	ch.Push(1, []float32{0.5})
	if got := m.Next(); got != nil {
		t.Fatalf("Next after close = %v, want nil", got)
	}

	// Closing twice must not double-free the arena index.
	m.CloseChannel(ch)
	a := m.OpenChannel()
	b := m.OpenChannel()
	if a.ID() == b.ID() {
		t.Fatalf("double close leaked duplicate index %d", a.ID())
	}
}

func TestMixer_BoundedQueueDropsOldest(t *testing.T) {
	m := audio.NewMixer()
	ch := m.OpenChannel()

	// Push one more run than the queue holds; the first must be displaced.
	for i := 0; i < 65; i++ {
		ch.Push(uint32(i), []float32{float32(i)})
	}
	got := m.Next()
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("oldest surviving run = %v, want [1]", got)
	}
}

func TestMixer_WakeSignalsConsumer(t *testing.T) {
	m := audio.NewMixer()
	ch := m.OpenChannel()

	select {
	case <-m.Wait():
		t.Fatal("Wait signalled before any Push")
	default:
	}

	ch.Push(1, []float32{0})
	select {
	case <-m.Wait():
	default:
		t.Fatal("Wait not signalled after Push")
	}
}
