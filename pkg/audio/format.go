package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleFormat identifies the numeric representation an audio device uses
// for raw PCM. The device layer reports its native format at stream-open
// time; Decode/EncodeSamples convert between that representation and the
// float32 PCM the rest of the pipeline works in.
//
// One runtime-dispatched conversion pair replaces per-format stream
// builders: adding a format means one table entry, not another copy of the
// open-stream path.
type SampleFormat int

const (
	// FormatF32 is the pipeline's working representation, and so the
	// zero value.
	FormatF32 SampleFormat = iota
	FormatU8
	FormatI16
	FormatI32
	FormatF64
)

// String returns the conventional short name for the format.
func (f SampleFormat) String() string {
	switch f {
	case FormatU8:
		return "u8"
	case FormatI16:
		return "i16"
	case FormatI32:
		return "i32"
	case FormatF32:
		return "f32"
	case FormatF64:
		return "f64"
	default:
		return fmt.Sprintf("SampleFormat(%d)", int(f))
	}
}

// Width returns the size of one sample in bytes.
func (f SampleFormat) Width() int {
	switch f {
	case FormatU8:
		return 1
	case FormatI16:
		return 2
	case FormatI32, FormatF32:
		return 4
	case FormatF64:
		return 8
	default:
		return 0
	}
}

// DecodeSamples converts little-endian raw device PCM in the given format
// to float32 samples in [-1, 1]. The raw length must be a multiple of the
// sample width.
func DecodeSamples(f SampleFormat, raw []byte) ([]float32, error) {
	w := f.Width()
	if w == 0 {
		return nil, fmt.Errorf("audio: unknown sample format %v", f)
	}
	if len(raw)%w != 0 {
		return nil, fmt.Errorf("audio: %d raw bytes not a multiple of %v width %d", len(raw), f, w)
	}
	n := len(raw) / w
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		chunk := raw[i*w:]
		switch f {
		case FormatU8:
			out[i] = (float32(chunk[0]) - 128) / 128
		case FormatI16:
			out[i] = float32(int16(binary.LittleEndian.Uint16(chunk))) / 32768
		case FormatI32:
			out[i] = float32(int32(binary.LittleEndian.Uint32(chunk))) / 2147483648
		case FormatF32:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(chunk))
		case FormatF64:
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(chunk)))
		}
	}
	return out, nil
}

// EncodeSamples converts float32 samples to little-endian raw PCM in the
// given format, clamping out-of-range values.
func EncodeSamples(f SampleFormat, samples []float32) ([]byte, error) {
	w := f.Width()
	if w == 0 {
		return nil, fmt.Errorf("audio: unknown sample format %v", f)
	}
	out := make([]byte, len(samples)*w)
	for i, s := range samples {
		s = clamp1(s)
		chunk := out[i*w:]
		switch f {
		case FormatU8:
			chunk[0] = uint8(s*127 + 128)
		case FormatI16:
			binary.LittleEndian.PutUint16(chunk, uint16(int16(s*32767)))
		case FormatI32:
			binary.LittleEndian.PutUint32(chunk, uint32(int32(s*2147483647)))
		case FormatF32:
			binary.LittleEndian.PutUint32(chunk, math.Float32bits(s))
		case FormatF64:
			binary.LittleEndian.PutUint64(chunk, math.Float64bits(float64(s)))
		}
	}
	return out, nil
}

func clamp1(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
