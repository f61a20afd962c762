package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Voice on the wire is mono Opus at the configured sample rate. One encoder
// and one decoder exist per peer session so codec state survives across
// consecutive frames.

// Encoder wraps a gopus Opus encoder for the outgoing voice stream.
type Encoder struct {
	enc        *gopus.Encoder
	sampleRate int
}

// NewEncoder creates a mono Opus encoder tuned for voice.
func NewEncoder(sampleRate int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &Encoder{enc: enc, sampleRate: sampleRate}, nil
}

// maxPacketBytes is the output allocation per encoded frame. Opus voice
// packets stay far below this even at 60 ms.
const maxPacketBytes = 1024

// Encode encodes one fixed-duration frame into an Opus packet.
func (e *Encoder) Encode(frame Frame) ([]byte, error) {
	pcm := float32sToInt16s(frame.Data)
	packet, err := e.enc.Encode(pcm, len(pcm), maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode %v frame: %w", frame.Class.Duration(), err)
	}
	return packet, nil
}

// Decoder wraps a gopus Opus decoder for one remote voice stream.
type Decoder struct {
	dec        *gopus.Decoder
	sampleRate int
}

// NewDecoder creates a mono Opus decoder.
func NewDecoder(sampleRate int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &Decoder{dec: dec, sampleRate: sampleRate}, nil
}

// Decode decodes one Opus packet into mono PCM samples. The packet may be
// any of the six frame classes; the decoder sizes the output from the
// packet itself.
func (d *Decoder) Decode(packet []byte) ([]float32, error) {
	// Capacity for the largest legal frame; gopus trims to the actual size.
	capacity := Frame60ms.Samples(d.sampleRate)
	pcm, err := d.dec.Decode(packet, capacity, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return int16sToFloat32s(pcm), nil
}

// float32sToInt16s converts [-1, 1] float samples to int16 PCM, clamping
// out-of-range input instead of wrapping.
func float32sToInt16s(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		switch {
		case s >= 1:
			out[i] = 32767
		case s <= -1:
			out[i] = -32768
		default:
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// int16sToFloat32s converts int16 PCM to [-1, 1] float samples.
func int16sToFloat32s(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / 32768
	}
	return out
}
