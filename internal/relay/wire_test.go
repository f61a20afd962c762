package relay_test

import (
	"encoding/json"
	"testing"

	"github.com/bellwetherlabs/ringdown/internal/relay"
)

func TestControlMessage_Validate(t *testing.T) {
	on := true
	tests := []struct {
		name    string
		msg     relay.ControlMessage
		wantErr bool
	}{
		{"dial with number", relay.Dial("349"), false},
		{"dial without number", relay.ControlMessage{Type: relay.ControlDial}, true},
		{"hook with state", relay.Hook(true), false},
		{"ring without state", relay.ControlMessage{Type: relay.ControlRing}, true},
		{"mute with state", relay.ControlMessage{Type: relay.ControlMute, State: &on}, false},
		{"clear dial", relay.ClearDial(), false},
		{"play known sound", relay.PlaySound(relay.SoundRingback), false},
		{"play unknown sound", relay.ControlMessage{Type: relay.ControlPlaySound, Sound: "kazoo"}, true},
		{"unknown type", relay.ControlMessage{Type: "Reboot"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestControlMessage_StatePointerSurvivesJSON(t *testing.T) {
	data, err := json.Marshal(relay.Hook(false))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got relay.ControlMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.State == nil {
		t.Fatal("state = nil after round trip, want explicit false")
	}
	if *got.State {
		t.Error("state = true, want false")
	}
}

func TestSignalingMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     relay.SignalingMessage
		wantErr bool
	}{
		{"join", relay.SignalingMessage{Type: relay.SignalJoin, From: "a"}, false},
		{"join without from", relay.SignalingMessage{Type: relay.SignalJoin}, true},
		{"leave", relay.SignalingMessage{Type: relay.SignalLeave, From: "a"}, false},
		{"peer address with endpoint", relay.SignalingMessage{
			Type: relay.SignalPeerAddress, From: "a", To: "b", NodeID: "10.0.0.1:4000",
		}, false},
		{"peer address with offer", relay.SignalingMessage{
			Type: relay.SignalPeerAddress, From: "a", To: "b",
			Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		}, false},
		{"peer address without to", relay.SignalingMessage{
			Type: relay.SignalPeerAddress, From: "a", NodeID: "x",
		}, true},
		{"peer address without payload", relay.SignalingMessage{
			Type: relay.SignalPeerAddress, From: "a", To: "b",
		}, true},
		{"unknown type", relay.SignalingMessage{Type: "Gossip", From: "a"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
