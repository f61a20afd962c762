// Package relay implements the two websocket clients the phone keeps open
// to the signaling relay: the per-side control channel carrying call
// control messages, and the shared discovery channel peers use to find
// each other and exchange session parameters.
//
// Both clients reconnect forever with a fixed delay; messages are
// fire-and-forget and never replayed (at-most-once).
package relay

import (
	"encoding/json"
	"fmt"
)

// ControlType tags a control-channel message.
type ControlType string

const (
	// Outbound (phone → relay).
	ControlDial ControlType = "Dial"
	ControlHook ControlType = "Hook"

	// Inbound (relay → phone).
	ControlRing      ControlType = "Ring"
	ControlClearDial ControlType = "ClearDial"
	ControlPlaySound ControlType = "PlaySound"
	ControlMute      ControlType = "Mute"
)

// Sound names a local sound-effect loop.
type Sound string

const (
	SoundNone     Sound = "None"
	SoundDialtone Sound = "Dialtone"
	SoundRingback Sound = "Ringback"
	SoundHangup   Sound = "Hangup"
)

// IsValid reports whether s is a recognised sound.
func (s Sound) IsValid() bool {
	switch s {
	case SoundNone, SoundDialtone, SoundRingback, SoundHangup:
		return true
	}
	return false
}

// ControlMessage is the wire form of a control-channel message, a tagged
// union over Type. Only the fields of the tagged variant are populated:
//
//	{"type":"Dial","number":"349"}
//	{"type":"Hook","state":true}
//	{"type":"Ring","state":false}
//	{"type":"ClearDial"}
//	{"type":"PlaySound","sound":"Dialtone"}
//	{"type":"Mute","state":true}
type ControlMessage struct {
	Type   ControlType `json:"type"`
	Number string      `json:"number,omitempty"`
	State  *bool       `json:"state,omitempty"`
	Sound  Sound       `json:"sound,omitempty"`
}

// Dial builds an outbound dial message.
func Dial(number string) ControlMessage {
	return ControlMessage{Type: ControlDial, Number: number}
}

// Hook builds an outbound hook-state message. state is true when the
// handset is on the cradle.
func Hook(state bool) ControlMessage {
	return ControlMessage{Type: ControlHook, State: &state}
}

// Ring builds an inbound ring message. Exported for tests and the relay
// side of the wire.
func Ring(state bool) ControlMessage {
	return ControlMessage{Type: ControlRing, State: &state}
}

// Mute builds an inbound mute message.
func Mute(state bool) ControlMessage {
	return ControlMessage{Type: ControlMute, State: &state}
}

// PlaySound builds an inbound play-sound message.
func PlaySound(sound Sound) ControlMessage {
	return ControlMessage{Type: ControlPlaySound, Sound: sound}
}

// ClearDial builds an inbound clear-dial message.
func ClearDial() ControlMessage {
	return ControlMessage{Type: ControlClearDial}
}

// Validate checks that a decoded message carries the fields its tag
// requires. Malformed messages are dropped by the receiving loop.
func (m ControlMessage) Validate() error {
	switch m.Type {
	case ControlDial:
		if m.Number == "" {
			return fmt.Errorf("relay: %s message without number", m.Type)
		}
	case ControlHook, ControlRing, ControlMute:
		if m.State == nil {
			return fmt.Errorf("relay: %s message without state", m.Type)
		}
	case ControlClearDial:
	case ControlPlaySound:
		if !m.Sound.IsValid() {
			return fmt.Errorf("relay: PlaySound with unknown sound %q", m.Sound)
		}
	default:
		return fmt.Errorf("relay: unknown control message type %q", m.Type)
	}
	return nil
}

// SignalingType tags a discovery-channel message.
type SignalingType string

const (
	SignalJoin        SignalingType = "Join"
	SignalJoinAck     SignalingType = "JoinAck"
	SignalPeerAddress SignalingType = "PeerAddress"
	SignalLeave       SignalingType = "Leave"
)

// SignalingMessage is a discovery-channel message. PeerAddress carries
// exactly one payload: an opaque endpoint address in NodeID (direct
// strategy), or an SDP description in Offer / an ICE candidate in
// Candidate (webrtc strategy). SDP descriptions embed their own
// offer/answer type, so one field covers both directions.
type SignalingMessage struct {
	Type      SignalingType   `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	NodeID    string          `json:"node_id,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Validate checks structural requirements; unknown types are dropped.
func (m SignalingMessage) Validate() error {
	if m.From == "" {
		return fmt.Errorf("relay: %s message without from", m.Type)
	}
	switch m.Type {
	case SignalJoin, SignalJoinAck, SignalLeave:
	case SignalPeerAddress:
		if m.To == "" {
			return fmt.Errorf("relay: PeerAddress without to")
		}
		if m.NodeID == "" && len(m.Offer) == 0 && len(m.Candidate) == 0 {
			return fmt.Errorf("relay: PeerAddress without payload")
		}
	default:
		return fmt.Errorf("relay: unknown signaling message type %q", m.Type)
	}
	return nil
}
